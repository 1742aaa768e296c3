package server

import (
	"fmt"
	"net/http"
	"strings"

	"optionsvault/native/options"
	"optionsvault/services/vaultd/api"
)

type timeRequest struct {
	// Set moves the clock to this unix time; Advance moves it forward.
	Set     int64 `json:"set,omitempty"`
	Advance int64 `json:"advance,omitempty"`
}

type priceRequest struct {
	Asset string `json:"asset"`
	// Expiry selects the settlement price of a series; zero sets the live
	// price.
	Expiry uint64 `json:"expiry,omitempty"`
	Price  string `json:"price"`
}

type faucetRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type instrumentRequest struct {
	Underlying      string `json:"underlying"`
	StrikeAsset     string `json:"strikeAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Strike          string `json:"strike"`
	Expiry          uint64 `json:"expiry"`
	IsPut           bool   `json:"isPut"`
}

func (s *Server) devnetTime(w http.ResponseWriter, r *http.Request) {
	var req timeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	var err error
	switch {
	case req.Set != 0 && req.Advance != 0:
		badRequest(w, fmt.Errorf("set and advance are exclusive"))
		return
	case req.Set != 0:
		err = s.node.SetTime(req.Set)
	default:
		err = s.node.AdvanceTime(req.Advance)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"time": s.node.Clock().Now()})
}

func (s *Server) devnetPrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	price, err := api.ParseAmount(req.Price)
	if err != nil {
		badRequest(w, fmt.Errorf("price: %w", err))
		return
	}
	asset := strings.TrimSpace(req.Asset)
	if err := s.node.PublishPrice(r.Context(), callerOf(r), asset, req.Expiry, price); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) devnetFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	to := callerOf(r)
	if strings.TrimSpace(req.Address) != "" {
		addr, err := api.ParseAddress(req.Address)
		if err != nil {
			badRequest(w, fmt.Errorf("address: %w", err))
			return
		}
		to = addr
	}
	amount, err := api.ParseAmount(req.Amount)
	if err != nil {
		badRequest(w, fmt.Errorf("amount: %w", err))
		return
	}
	asset := strings.TrimSpace(req.Asset)
	if asset == "" {
		asset = s.node.Vault().Asset()
	}
	if err := s.node.Faucet(r.Context(), to, asset, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": api.FormatAddress(to),
		"asset":   asset,
		"amount":  amount.String(),
	})
}

func (s *Server) devnetInstrument(w http.ResponseWriter, r *http.Request) {
	var req instrumentRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	strike, err := api.ParseAmount(req.Strike)
	if err != nil {
		badRequest(w, fmt.Errorf("strike: %w", err))
		return
	}
	inst, err := s.node.CreateInstrument(r.Context(), options.InstrumentParams{
		Underlying:      strings.TrimSpace(req.Underlying),
		StrikeAsset:     strings.TrimSpace(req.StrikeAsset),
		CollateralAsset: strings.TrimSpace(req.CollateralAsset),
		Strike:          strike,
		Expiry:          req.Expiry,
		IsPut:           req.IsPut,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newInstrumentView(inst))
}
