package server

import (
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"optionsvault/native/action"
	"optionsvault/native/options"
	"optionsvault/native/venue"
	"optionsvault/services/vaultd/api"
)

type actionView struct {
	Name             string   `json:"name"`
	Address          string   `json:"address"`
	Asset            string   `json:"asset"`
	State            string   `json:"state"`
	CommittedOption  string   `json:"committedOption,omitempty"`
	CommitTimestamp  uint64   `json:"commitTimestamp,omitempty"`
	ActiveOption     string   `json:"activeOption,omitempty"`
	LockedCollateral string   `json:"lockedCollateral"`
	CurrentValue     string   `json:"currentValue"`
	PositionID       uint64   `json:"positionId,omitempty"`
	ActivatedAt      uint64   `json:"activatedAt,omitempty"`
	OpenAuctions     []uint64 `json:"openAuctions"`
	Rollovers        uint64   `json:"rollovers"`
}

type tradeView struct {
	Kind             string `json:"kind"`
	Collateral       string `json:"collateral"`
	Minted           string `json:"minted"`
	Sold             string `json:"sold"`
	Premium          string `json:"premium"`
	AuctionID        uint64 `json:"auctionId,omitempty"`
	LockedCollateral string `json:"lockedCollateral"`
}

type instrumentView struct {
	ID              string `json:"id"`
	Underlying      string `json:"underlying"`
	StrikeAsset     string `json:"strikeAsset"`
	CollateralAsset string `json:"collateralAsset"`
	Strike          string `json:"strike"`
	Expiry          uint64 `json:"expiry"`
	IsPut           bool   `json:"isPut"`
}

type auctionView struct {
	ID              uint64 `json:"id"`
	Seller          string `json:"seller"`
	AuctioningToken string `json:"auctioningToken"`
	BiddingToken    string `json:"biddingToken"`
	SellAmount      string `json:"sellAmount"`
	MinBuyAmount    string `json:"minBuyAmount"`
	Deadline        uint64 `json:"deadline"`
	Bids            int    `json:"bids"`
	Settled         bool   `json:"settled"`
	Sold            string `json:"sold"`
	Proceeds        string `json:"proceeds"`
}

func newTradeView(res *action.TradeResult) tradeView {
	return tradeView{
		Kind:             res.Kind,
		Collateral:       api.FormatAmount(res.Collateral),
		Minted:           api.FormatAmount(res.Minted),
		Sold:             api.FormatAmount(res.Sold),
		Premium:          api.FormatAmount(res.Premium),
		AuctionID:        res.AuctionID,
		LockedCollateral: api.FormatAmount(res.LockedCollateral),
	}
}

func newInstrumentView(inst *options.Instrument) instrumentView {
	return instrumentView{
		ID:              inst.ID,
		Underlying:      inst.Underlying,
		StrikeAsset:     inst.StrikeAsset,
		CollateralAsset: inst.CollateralAsset,
		Strike:          api.FormatAmount(inst.Strike),
		Expiry:          inst.Expiry,
		IsPut:           inst.IsPut,
	}
}

func newAuctionView(a *venue.Auction) auctionView {
	return auctionView{
		ID:              a.ID,
		Seller:          api.FormatAddress(a.Seller),
		AuctioningToken: a.AuctioningToken,
		BiddingToken:    a.BiddingToken,
		SellAmount:      api.FormatAmount(a.SellAmount),
		MinBuyAmount:    api.FormatAmount(a.MinBuyAmount),
		Deadline:        a.Deadline,
		Bids:            len(a.Bids),
		Settled:         a.Settled,
		Sold:            api.FormatAmount(a.Sold),
		Proceeds:        api.FormatAmount(a.Proceeds),
	}
}

// actionViewOf reads engine inside a view.
func (s *Server) actionViewOf(engine *action.Engine) (actionView, error) {
	rec, err := engine.Record()
	if err != nil {
		return actionView{}, err
	}
	value, err := engine.CurrentValue()
	if err != nil {
		return actionView{}, err
	}
	cfg := engine.Config()
	return actionView{
		Name:             s.node.ActionName(cfg.Address),
		Address:          api.FormatAddress(cfg.Address),
		Asset:            cfg.Asset,
		State:            action.State(rec.State).String(),
		CommittedOption:  rec.CommittedOption,
		CommitTimestamp:  rec.CommitTimestamp,
		ActiveOption:     rec.ActiveOption,
		LockedCollateral: api.FormatAmount(rec.LockedCollateral),
		CurrentValue:     api.FormatAmount(value),
		PositionID:       rec.PositionID,
		ActivatedAt:      rec.ActivatedAt,
		OpenAuctions:     append([]uint64{}, rec.OpenAuctions...),
		Rollovers:        rec.Rollovers,
	}, nil
}

func (s *Server) listActions(w http.ResponseWriter, r *http.Request) {
	var out []actionView
	err := s.node.View(func() error {
		for _, engine := range s.node.Actions() {
			view, err := s.actionViewOf(engine)
			if err != nil {
				return err
			}
			out = append(out, view)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// actionFor resolves the {addr} route parameter, writing the error response
// when it fails.
func (s *Server) actionFor(w http.ResponseWriter, r *http.Request) (*action.Engine, bool) {
	addr, err := addrParam(r, "addr")
	if err != nil {
		badRequest(w, err)
		return nil, false
	}
	engine, ok := s.node.Action(addr)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: fmt.Sprintf("unknown action %s", api.FormatAddress(addr))})
		return nil, false
	}
	return engine, true
}

func (s *Server) actionInfo(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.actionFor(w, r)
	if !ok {
		return
	}
	var view actionView
	err := s.node.View(func() error {
		var err error
		view, err = s.actionViewOf(engine)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) listInstruments(w http.ResponseWriter, r *http.Request) {
	var out []instrumentView
	err := s.node.View(func() error {
		list, err := s.node.Protocol().Instruments()
		if err != nil {
			return err
		}
		out = make([]instrumentView, 0, len(list))
		for _, inst := range list {
			out = append(out, newInstrumentView(inst))
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) auctionInfo(w http.ResponseWriter, r *http.Request) {
	id, err := uintParam(r, "id")
	if err != nil {
		badRequest(w, err)
		return
	}
	var auction *venue.Auction
	err = s.node.View(func() error {
		var err error
		auction, err = s.node.AuctionVenue().Auction(id)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(auction))
}

func (s *Server) balances(w http.ResponseWriter, r *http.Request) {
	addr, err := addrParam(r, "addr")
	if err != nil {
		badRequest(w, err)
		return
	}
	assets := r.URL.Query()["asset"]
	if len(assets) == 0 {
		assets = []string{s.node.Vault().Asset()}
	}
	out := make(map[string]string, len(assets))
	err = s.node.View(func() error {
		for _, asset := range assets {
			asset = strings.TrimSpace(asset)
			balance, err := s.node.Bank().BalanceOf(asset, addr)
			if err != nil {
				return err
			}
			out[asset] = balance.String()
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type commitRequest struct {
	Instrument string `json:"instrument"`
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.actionFor(w, r)
	if !ok {
		return
	}
	var req commitRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	caller := callerOf(r)
	err := s.node.Execute(r.Context(), "action.commit", func() error {
		return engine.CommitOToken(caller, strings.TrimSpace(req.Instrument))
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.actionInfo(w, r)
}

// mintRequest carries the collateral to post and the amount to mint ahead of
// a trade.
type mintRequest struct {
	Collateral string `json:"collateral"`
	MintAmount string `json:"mintAmount"`
	MinPremium string `json:"minPremium"`
}

func (m mintRequest) amounts() (collateral, mint, minPremium *big.Int, err error) {
	if collateral, err = api.ParseAmount(m.Collateral); err != nil {
		return nil, nil, nil, fmt.Errorf("collateral: %w", err)
	}
	if mint, err = api.ParseAmount(m.MintAmount); err != nil {
		return nil, nil, nil, fmt.Errorf("mintAmount: %w", err)
	}
	if minPremium, err = api.ParseAmount(m.MinPremium); err != nil {
		return nil, nil, nil, fmt.Errorf("minPremium: %w", err)
	}
	return collateral, mint, minPremium, nil
}

type signedTradeRequest struct {
	mintRequest
	Order api.SignedOrder `json:"order"`
}

type limitTradeRequest struct {
	mintRequest
	TakerAmount string         `json:"takerAmount"`
	ProtocolFee string         `json:"protocolFee,omitempty"`
	Order       api.LimitOrder `json:"order"`
}

type auctionRequest struct {
	mintRequest
	SellAmount string `json:"sellAmount"`
	Deadline   uint64 `json:"deadline"`
}

type settleRequest struct {
	AuctionID uint64 `json:"auctionId"`
}

// trade runs fn as one operation and writes the trade result.
func (s *Server) trade(w http.ResponseWriter, r *http.Request, op string, fn func() (*action.TradeResult, error)) {
	var res *action.TradeResult
	err := s.node.Execute(r.Context(), op, func() error {
		var err error
		res, err = fn()
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newTradeView(res))
}

func (s *Server) tradeSigned(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.actionFor(w, r)
	if !ok {
		return
	}
	var req signedTradeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	collateral, mint, minPremium, err := req.amounts()
	if err != nil {
		badRequest(w, err)
		return
	}
	order, err := req.Order.Order()
	if err != nil {
		badRequest(w, fmt.Errorf("order: %w", err))
		return
	}
	caller := callerOf(r)
	s.trade(w, r, "action.trade_signed", func() (*action.TradeResult, error) {
		return engine.MintAndSellSigned(caller, collateral, mint, order, minPremium)
	})
}

func (s *Server) decodeLimit(w http.ResponseWriter, r *http.Request) (*limitTradeRequest, *venue.LimitOrder, bool) {
	var req limitTradeRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return nil, nil, false
	}
	order, err := req.Order.Order()
	if err != nil {
		badRequest(w, fmt.Errorf("order: %w", err))
		return nil, nil, false
	}
	return &req, order, true
}

func (s *Server) tradeLimit(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.actionFor(w, r)
	if !ok {
		return
	}
	req, order, ok := s.decodeLimit(w, r)
	if !ok {
		return
	}
	collateral, mint, minPremium, err := req.amounts()
	if err != nil {
		badRequest(w, err)
		return
	}
	taker, err := api.ParseAmount(req.TakerAmount)
	if err != nil {
		badRequest(w, fmt.Errorf("takerAmount: %w", err))
		return
	}
	fee, err := api.ParseAmount(req.ProtocolFee)
	if err != nil {
		badRequest(w, fmt.Errorf("protocolFee: %w", err))
		return
	}
	caller := callerOf(r)
	s.trade(w, r, "action.trade_limit", func() (*action.TradeResult, error) {
		return engine.MintAndFillLimit(caller, collateral, mint, order, taker, fee, minPremium)
	})
}

func (s *Server) tradeRFQ(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.actionFor(w, r)
	if !ok {
		return
	}
	req, order, ok := s.decodeLimit(w, r)
	if !ok {
		return
	}
	collateral, mint, minPremium, err := req.amounts()
	if err != nil {
		badRequest(w, err)
		return
	}
	taker, err := api.ParseAmount(req.TakerAmount)
	if err != nil {
		badRequest(w, fmt.Errorf("takerAmount: %w", err))
		return
	}
	caller := callerOf(r)
	s.trade(w, r, "action.trade_rfq", func() (*action.TradeResult, error) {
		return engine.MintAndFillRFQ(caller, collateral, mint, order, taker, minPremium)
	})
}

func (s *Server) startAuction(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.actionFor(w, r)
	if !ok {
		return
	}
	var req auctionRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	collateral, mint, minPremium, err := req.amounts()
	if err != nil {
		badRequest(w, err)
		return
	}
	sell, err := api.ParseAmount(req.SellAmount)
	if err != nil {
		badRequest(w, fmt.Errorf("sellAmount: %w", err))
		return
	}
	caller := callerOf(r)
	s.trade(w, r, "action.auction", func() (*action.TradeResult, error) {
		return engine.MintAndStartAuction(caller, collateral, mint, sell, minPremium, req.Deadline)
	})
}

func (s *Server) settleAuction(w http.ResponseWriter, r *http.Request) {
	engine, ok := s.actionFor(w, r)
	if !ok {
		return
	}
	var req settleRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	caller := callerOf(r)
	var auction *venue.Auction
	err := s.node.Execute(r.Context(), "action.auction_settle", func() error {
		var err error
		auction, err = engine.SettleAuction(caller, req.AuctionID)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuctionView(auction))
}
