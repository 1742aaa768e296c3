package server

import (
	"fmt"
	"math/big"
	"net/http"

	"optionsvault/native/vault"
	"optionsvault/services/vaultd/api"
)

type paramsView struct {
	Cap                string `json:"cap"`
	WithdrawFeeBps     uint32 `json:"withdrawFeeBps"`
	PerformanceFeeBps  uint32 `json:"performanceFeeBps"`
	WithdrawReserveBps uint32 `json:"withdrawReserveBps"`
	FeeRecipient       string `json:"feeRecipient"`
}

type vaultView struct {
	Address             string     `json:"address"`
	Asset               string     `json:"asset"`
	State               string     `json:"state"`
	Round               uint64     `json:"round"`
	TotalAsset          string     `json:"totalAsset"`
	TotalSupply         string     `json:"totalSupply"`
	PricePerShare       string     `json:"pricePerShare"`
	PendingDeposit      string     `json:"pendingDeposit"`
	WithdrawQueueAmount string     `json:"withdrawQueueAmount"`
	VaultBalance        string     `json:"vaultBalance"`
	Actions             []string   `json:"actions"`
	Allocation          []uint32   `json:"allocation"`
	Params              paramsView `json:"params"`
}

type pendingView struct {
	Kind   string `json:"kind"`
	Round  uint64 `json:"round"`
	Amount string `json:"amount"`
}

type accountView struct {
	Address string        `json:"address"`
	Shares  string        `json:"shares"`
	Value   string        `json:"value"`
	Balance string        `json:"balance"`
	Pending []pendingView `json:"pending"`
}

type roundView struct {
	Round                uint64 `json:"round"`
	TotalAsset           string `json:"totalAsset"`
	TotalShares          string `json:"totalShares"`
	Profit               string `json:"profit"`
	Loss                 string `json:"loss"`
	PerformanceFee       string `json:"performanceFee"`
	PendingDeposit       string `json:"pendingDeposit"`
	DepositShares        string `json:"depositShares"`
	QueuedWithdrawShares string `json:"queuedWithdrawShares"`
	WithdrawReserve      string `json:"withdrawReserve"`
	ClosedAt             uint64 `json:"closedAt"`
}

func newParamsView(p *vault.Params) paramsView {
	if p == nil {
		return paramsView{Cap: "0"}
	}
	return paramsView{
		Cap:                api.FormatAmount(p.Cap),
		WithdrawFeeBps:     p.WithdrawFeeBps,
		PerformanceFeeBps:  p.PerformanceFeeBps,
		WithdrawReserveBps: p.WithdrawReserveBps,
		FeeRecipient:       api.FormatAddress(p.FeeRecipient),
	}
}

func newRoundView(rec *vault.RoundRecord) roundView {
	return roundView{
		Round:                rec.Round,
		TotalAsset:           api.FormatAmount(rec.TotalAsset),
		TotalShares:          api.FormatAmount(rec.TotalShares),
		Profit:               api.FormatAmount(rec.Profit),
		Loss:                 api.FormatAmount(rec.Loss),
		PerformanceFee:       api.FormatAmount(rec.PerformanceFee),
		PendingDeposit:       api.FormatAmount(rec.PendingDeposit),
		DepositShares:        api.FormatAmount(rec.DepositShares),
		QueuedWithdrawShares: api.FormatAmount(rec.QueuedWithdrawShares),
		WithdrawReserve:      api.FormatAmount(rec.WithdrawReserve),
		ClosedAt:             rec.ClosedAt,
	}
}

func (s *Server) loadVaultView() (*vaultView, error) {
	var view *vaultView
	err := s.node.View(func() error {
		engine := s.node.Vault()
		info, err := engine.Info()
		if err != nil {
			return err
		}
		actions := engine.Actions()
		addrs := make([]string, 0, len(actions))
		for _, addr := range actions {
			addrs = append(addrs, api.FormatAddress(addr))
		}
		view = &vaultView{
			Address:             api.FormatAddress(engine.Address()),
			Asset:               engine.Asset(),
			State:               info.State.String(),
			Round:               info.Round,
			TotalAsset:          api.FormatAmount(info.TotalAsset),
			TotalSupply:         api.FormatAmount(info.TotalSupply),
			PricePerShare:       api.FormatAmount(info.PricePerShare),
			PendingDeposit:      api.FormatAmount(info.PendingDeposit),
			WithdrawQueueAmount: api.FormatAmount(info.WithdrawQueueAmount),
			VaultBalance:        api.FormatAmount(info.VaultBalance),
			Actions:             addrs,
			Allocation:          append([]uint32{}, info.Allocation...),
			Params:              newParamsView(info.Params),
		}
		return nil
	})
	return view, err
}

func (s *Server) vaultInfo(w http.ResponseWriter, r *http.Request) {
	view, err := s.loadVaultView()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) vaultAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := addrParam(r, "addr")
	if err != nil {
		badRequest(w, err)
		return
	}
	view := accountView{Address: api.FormatAddress(addr)}
	err = s.node.View(func() error {
		engine := s.node.Vault()
		shares, err := engine.BalanceOf(addr)
		if err != nil {
			return err
		}
		price, err := engine.PricePerShare()
		if err != nil {
			return err
		}
		balance, err := s.node.Bank().BalanceOf(engine.Asset(), addr)
		if err != nil {
			return err
		}
		entries, err := engine.PendingEntries(addr)
		if err != nil {
			return err
		}
		view.Shares = shares.String()
		view.Value = new(big.Int).Div(new(big.Int).Mul(shares, price), vault.PriceScale).String()
		view.Balance = balance.String()
		view.Pending = make([]pendingView, 0, len(entries))
		for _, entry := range entries {
			view.Pending = append(view.Pending, pendingView{
				Kind:   entry.Kind.String(),
				Round:  entry.Round,
				Amount: api.FormatAmount(entry.Amount),
			})
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) vaultRound(w http.ResponseWriter, r *http.Request) {
	round, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, err)
		return
	}
	var rec *vault.RoundRecord
	err = s.node.View(func() error {
		var err error
		rec, err = s.node.Vault().RoundRecord(round)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoundView(rec))
}

type amountRequest struct {
	Amount string `json:"amount"`
	// Native pays with the native coin, wrapped on the way in.
	Native bool `json:"native,omitempty"`
}

type sharesRequest struct {
	Shares string `json:"shares"`
}

type roundRequest struct {
	Round uint64 `json:"round"`
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	amount, err := api.ParseAmount(req.Amount)
	if err != nil {
		badRequest(w, err)
		return
	}
	caller := callerOf(r)
	var shares *big.Int
	err = s.node.Execute(r.Context(), "vault.deposit", func() error {
		var err error
		if req.Native {
			shares, err = s.node.Vault().DepositNative(caller, amount)
		} else {
			shares, err = s.node.Vault().Deposit(caller, amount)
		}
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": shares.String()})
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req sharesRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	shares, err := api.ParseAmount(req.Shares)
	if err != nil {
		badRequest(w, err)
		return
	}
	caller := callerOf(r)
	var amount *big.Int
	err = s.node.Execute(r.Context(), "vault.withdraw", func() error {
		var err error
		amount, err = s.node.Vault().Withdraw(caller, shares)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) registerDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	amount, err := api.ParseAmount(req.Amount)
	if err != nil {
		badRequest(w, err)
		return
	}
	caller := callerOf(r)
	err = s.node.Execute(r.Context(), "vault.register_deposit", func() error {
		if req.Native {
			return s.node.Vault().RegisterDepositNative(caller, amount)
		}
		return s.node.Vault().RegisterDeposit(caller, amount)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) registerWithdraw(w http.ResponseWriter, r *http.Request) {
	var req sharesRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	shares, err := api.ParseAmount(req.Shares)
	if err != nil {
		badRequest(w, err)
		return
	}
	caller := callerOf(r)
	err = s.node.Execute(r.Context(), "vault.register_withdraw", func() error {
		return s.node.Vault().RegisterWithdraw(caller, shares)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) claim(w http.ResponseWriter, r *http.Request) {
	var req roundRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	caller := callerOf(r)
	var shares *big.Int
	err := s.node.Execute(r.Context(), "vault.claim", func() error {
		var err error
		shares, err = s.node.Vault().ClaimShares(caller, req.Round)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"shares": shares.String()})
}

func (s *Server) withdrawQueue(w http.ResponseWriter, r *http.Request) {
	var req roundRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	caller := callerOf(r)
	var amount *big.Int
	err := s.node.Execute(r.Context(), "vault.withdraw_queue", func() error {
		var err error
		amount, err = s.node.Vault().WithdrawFromQueue(caller, req.Round)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

type rolloverRequest struct {
	// Allocation holds one weight in basis points per action, in vault order.
	Allocation []uint32 `json:"allocation"`
}

func (s *Server) rollover(w http.ResponseWriter, r *http.Request) {
	var req rolloverRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	caller := callerOf(r)
	err := s.node.Execute(r.Context(), "vault.rollover", func() error {
		alloc, err := s.node.Vault().NewAllocation(req.Allocation)
		if err != nil {
			return err
		}
		return s.node.Vault().RollOver(caller, alloc)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.vaultInfo(w, r)
}

func (s *Server) closeRound(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	var rec *vault.RoundRecord
	err := s.node.Execute(r.Context(), "vault.close", func() error {
		var err error
		rec, err = s.node.Vault().ClosePositions(caller)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRoundView(rec))
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	err := s.node.Execute(r.Context(), "vault.pause", func() error {
		return s.node.Vault().EmergencyPause(caller)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.vaultInfo(w, r)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	caller := callerOf(r)
	err := s.node.Execute(r.Context(), "vault.resume", func() error {
		return s.node.Vault().ResumeFromPause(caller)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.vaultInfo(w, r)
}

// paramsRequest updates the fields that are set.
type paramsRequest struct {
	Cap                *string `json:"cap,omitempty"`
	WithdrawReserveBps *uint32 `json:"withdrawReserveBps,omitempty"`
	WithdrawFeeBps     *uint32 `json:"withdrawFeeBps,omitempty"`
	PerformanceFeeBps  *uint32 `json:"performanceFeeBps,omitempty"`
	FeeRecipient       *string `json:"feeRecipient,omitempty"`
}

func (s *Server) updateParams(w http.ResponseWriter, r *http.Request) {
	var req paramsRequest
	if err := decode(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	var limit *big.Int
	if req.Cap != nil {
		var err error
		if limit, err = api.ParseAmount(*req.Cap); err != nil {
			badRequest(w, err)
			return
		}
	}
	var recipient *[20]byte
	if req.FeeRecipient != nil {
		addr, err := api.ParseAddress(*req.FeeRecipient)
		if err != nil {
			badRequest(w, fmt.Errorf("feeRecipient: %w", err))
			return
		}
		recipient = &addr
	}
	if (req.WithdrawFeeBps == nil) != (req.PerformanceFeeBps == nil) {
		badRequest(w, fmt.Errorf("withdrawFeeBps and performanceFeeBps must be set together"))
		return
	}
	caller := callerOf(r)
	engine := s.node.Vault()
	err := s.node.Execute(r.Context(), "vault.params", func() error {
		if limit != nil {
			if err := engine.SetCap(caller, limit); err != nil {
				return err
			}
		}
		if req.WithdrawReserveBps != nil {
			if err := engine.SetWithdrawReserve(caller, *req.WithdrawReserveBps); err != nil {
				return err
			}
		}
		if req.WithdrawFeeBps != nil {
			if err := engine.SetFees(caller, *req.WithdrawFeeBps, *req.PerformanceFeeBps); err != nil {
				return err
			}
		}
		if recipient != nil {
			return engine.SetFeeRecipient(caller, *recipient)
		}
		return nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.vaultInfo(w, r)
}
