package action

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"optionsvault/core/types"
)

const (
	EventTypeCommitted      = "action.committed"
	EventTypeActivated      = "action.activated"
	EventTypeTraded         = "action.traded"
	EventTypeAuctionSettled = "action.auction.settled"
	EventTypeClosed         = "action.closed"
)

type actionEvent struct {
	evt *types.Event
}

func (e actionEvent) EventType() string { return e.evt.EventType() }

func (e actionEvent) Event() *types.Event { return e.evt }

func baseAttrs(addr [20]byte, rec *Record) map[string]string {
	return map[string]string{
		"action":           hex.EncodeToString(addr[:]),
		"state":            rec.phase().String(),
		"lockedCollateral": cloneBig(rec.LockedCollateral).String(),
	}
}

func newCommittedEvent(addr [20]byte, rec *Record) *types.Event {
	attrs := baseAttrs(addr, rec)
	attrs["instrument"] = rec.CommittedOption
	attrs["commitTimestamp"] = strconv.FormatUint(rec.CommitTimestamp, 10)
	return &types.Event{Type: EventTypeCommitted, Attributes: attrs}
}

func newActivatedEvent(addr [20]byte, rec *Record) *types.Event {
	attrs := baseAttrs(addr, rec)
	attrs["instrument"] = rec.ActiveOption
	attrs["position"] = strconv.FormatUint(rec.PositionID, 10)
	return &types.Event{Type: EventTypeActivated, Attributes: attrs}
}

func newTradedEvent(addr [20]byte, rec *Record, res *TradeResult) *types.Event {
	attrs := baseAttrs(addr, rec)
	attrs["instrument"] = rec.ActiveOption
	attrs["kind"] = res.Kind
	attrs["collateral"] = res.Collateral.String()
	attrs["minted"] = res.Minted.String()
	attrs["sold"] = res.Sold.String()
	attrs["premium"] = res.Premium.String()
	if res.AuctionID != 0 {
		attrs["auction"] = strconv.FormatUint(res.AuctionID, 10)
	}
	return &types.Event{Type: EventTypeTraded, Attributes: attrs}
}

func newAuctionSettledEvent(addr [20]byte, rec *Record, id uint64, sold, proceeds *big.Int) *types.Event {
	attrs := baseAttrs(addr, rec)
	attrs["auction"] = strconv.FormatUint(id, 10)
	attrs["sold"] = sold.String()
	attrs["proceeds"] = proceeds.String()
	return &types.Event{Type: EventTypeAuctionSettled, Attributes: attrs}
}

func newClosedEvent(addr [20]byte, rec *Record, instrument string, swept *big.Int) *types.Event {
	attrs := baseAttrs(addr, rec)
	attrs["instrument"] = instrument
	attrs["swept"] = swept.String()
	return &types.Event{Type: EventTypeClosed, Attributes: attrs}
}
