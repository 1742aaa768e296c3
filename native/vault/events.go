package vault

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"optionsvault/core/types"
)

const (
	EventTypeDeposit            = "vault.deposit"
	EventTypeWithdraw           = "vault.withdraw"
	EventTypeDepositRegistered  = "vault.deposit.registered"
	EventTypeWithdrawRegistered = "vault.withdraw.registered"
	EventTypeRollover           = "vault.rollover"
	EventTypeRoundClosed        = "vault.round.closed"
	EventTypeSharesClaimed      = "vault.shares.claimed"
	EventTypeDepositRefunded    = "vault.deposit.refunded"
	EventTypeQueueWithdrawn     = "vault.queue.withdrawn"
	EventTypePaused             = "vault.paused"
	EventTypeResumed            = "vault.resumed"
	EventTypeParamsUpdated      = "vault.params.updated"
)

type vaultEvent struct {
	evt *types.Event
}

func (e vaultEvent) EventType() string { return e.evt.EventType() }

func (e vaultEvent) Event() *types.Event { return e.evt }

func hexAddr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func newAccountEvent(kind string, account [20]byte, round uint64, amount, shares, fee *big.Int) *types.Event {
	attrs := map[string]string{
		"account": hexAddr(account),
		"round":   strconv.FormatUint(round, 10),
		"amount":  cloneBig(amount).String(),
		"shares":  cloneBig(shares).String(),
	}
	if fee != nil {
		attrs["fee"] = fee.String()
	}
	return &types.Event{Type: kind, Attributes: attrs}
}

func newRolloverEvent(round uint64, distributed *big.Int, alloc Allocation, amounts []*big.Int) *types.Event {
	attrs := map[string]string{
		"round":       strconv.FormatUint(round, 10),
		"distributed": distributed.String(),
	}
	for i, share := range alloc.shares {
		attrs["action."+hexAddr(share.Action)] = amounts[i].String()
	}
	return &types.Event{Type: EventTypeRollover, Attributes: attrs}
}

func newRoundClosedEvent(rec *RoundRecord) *types.Event {
	return &types.Event{Type: EventTypeRoundClosed, Attributes: map[string]string{
		"round":           strconv.FormatUint(rec.Round, 10),
		"totalAsset":      rec.TotalAsset.String(),
		"totalShares":     rec.TotalShares.String(),
		"profit":          rec.Profit.String(),
		"loss":            rec.Loss.String(),
		"performanceFee":  rec.PerformanceFee.String(),
		"pendingDeposit":  rec.PendingDeposit.String(),
		"depositShares":   rec.DepositShares.String(),
		"withdrawReserve": rec.WithdrawReserve.String(),
	}}
}

func newStateEvent(kind string, from, to State) *types.Event {
	return &types.Event{Type: kind, Attributes: map[string]string{
		"from": from.String(),
		"to":   to.String(),
	}}
}

func newParamsEvent(p *Params) *types.Event {
	return &types.Event{Type: EventTypeParamsUpdated, Attributes: map[string]string{
		"cap":                cloneBig(p.Cap).String(),
		"withdrawFeeBps":     strconv.FormatUint(uint64(p.WithdrawFeeBps), 10),
		"performanceFeeBps":  strconv.FormatUint(uint64(p.PerformanceFeeBps), 10),
		"withdrawReserveBps": strconv.FormatUint(uint64(p.WithdrawReserveBps), 10),
		"feeRecipient":       hexAddr(p.FeeRecipient),
	}}
}
