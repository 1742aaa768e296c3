package server

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"optionsvault/services/vaultd/api"
	"optionsvault/services/vaultd/indexer"
)

type historyEventView struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Account    string            `json:"account,omitempty"`
	Round      *uint64           `json:"round,omitempty"`
	Attributes map[string]string `json:"attributes"`
	EmittedAt  time.Time         `json:"emittedAt"`
}

type historyRoundView struct {
	Round           uint64    `json:"round"`
	TotalAsset      string    `json:"totalAsset"`
	TotalShares     string    `json:"totalShares"`
	Profit          string    `json:"profit"`
	Loss            string    `json:"loss"`
	PerformanceFee  string    `json:"performanceFee"`
	PendingDeposit  string    `json:"pendingDeposit"`
	DepositShares   string    `json:"depositShares"`
	WithdrawReserve string    `json:"withdrawReserve"`
	ClosedAt        time.Time `json:"closedAt"`
}

func newHistoryRoundView(r indexer.Round) historyRoundView {
	return historyRoundView{
		Round:           r.Round,
		TotalAsset:      r.TotalAsset,
		TotalShares:     r.TotalShares,
		Profit:          r.Profit,
		Loss:            r.Loss,
		PerformanceFee:  r.PerformanceFee,
		PendingDeposit:  r.PendingDeposit,
		DepositShares:   r.DepositShares,
		WithdrawReserve: r.WithdrawReserve,
		ClosedAt:        r.ClosedAt,
	}
}

// indexed writes 503 when the daemon runs without an indexer.
func (s *Server) indexed(w http.ResponseWriter) bool {
	if s.index == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "history indexer disabled"})
		return false
	}
	return true
}

func (s *Server) historyEvents(w http.ResponseWriter, r *http.Request) {
	if !s.indexed(w) {
		return
	}
	filter, err := eventFilter(r)
	if err != nil {
		badRequest(w, err)
		return
	}
	events, err := s.index.Events(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]historyEventView, 0, len(events))
	for _, evt := range events {
		out = append(out, historyEventView{
			Sequence:   evt.Sequence,
			Type:       evt.Type,
			Account:    evt.Account,
			Round:      evt.Round,
			Attributes: evt.Attrs(),
			EmittedAt:  evt.EmittedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func eventFilter(r *http.Request) (indexer.EventFilter, error) {
	q := r.URL.Query()
	filter := indexer.EventFilter{
		Type:   strings.TrimSpace(q.Get("type")),
		Module: strings.TrimSpace(q.Get("module")),
	}
	if raw := strings.TrimSpace(q.Get("account")); raw != "" {
		addr, err := api.ParseAddress(raw)
		if err != nil {
			return filter, fmt.Errorf("account: %w", err)
		}
		filter.Account = hex.EncodeToString(addr[:])
	}
	if raw := strings.TrimSpace(q.Get("round")); raw != "" {
		round, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid round")
		}
		filter.Round = &round
	}
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid after")
		}
		filter.After = time.Unix(ts, 0)
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		return filter, err
	}
	filter.Limit = limit
	return filter, nil
}

func (s *Server) historyRounds(w http.ResponseWriter, r *http.Request) {
	if !s.indexed(w) {
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		badRequest(w, err)
		return
	}
	rounds, err := s.index.Rounds(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]historyRoundView, 0, len(rounds))
	for _, round := range rounds {
		out = append(out, newHistoryRoundView(round))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) historyRound(w http.ResponseWriter, r *http.Request) {
	if !s.indexed(w) {
		return
	}
	n, err := uintParam(r, "round")
	if err != nil {
		badRequest(w, err)
		return
	}
	round, err := s.index.Round(r.Context(), n)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newHistoryRoundView(*round))
}
