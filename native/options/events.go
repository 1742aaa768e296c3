package options

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"optionsvault/core/types"
)

const (
	EventTypeInstrumentCreated   = "options.instrument.created"
	EventTypePositionOpened      = "options.position.opened"
	EventTypeCollateralDeposited = "options.collateral.deposited"
	EventTypeCollateralWithdrawn = "options.collateral.withdrawn"
	EventTypeMinted              = "options.minted"
	EventTypeSettled             = "options.settled"
	EventTypeRedeemed            = "options.redeemed"
	EventTypeLivePrice           = "options.price.live"
	EventTypeExpiryPrice         = "options.price.expiry"
)

type optionsEvent struct {
	evt *types.Event
}

func (e optionsEvent) EventType() string { return e.evt.EventType() }

func (e optionsEvent) Event() *types.Event { return e.evt }

func newInstrumentEvent(inst *Instrument) *types.Event {
	return &types.Event{Type: EventTypeInstrumentCreated, Attributes: map[string]string{
		"instrument": inst.ID,
		"underlying": inst.Underlying,
		"collateral": inst.CollateralAsset,
		"strike":     inst.Strike.String(),
		"expiry":     strconv.FormatUint(inst.Expiry, 10),
		"isPut":      strconv.FormatBool(inst.IsPut),
	}}
}

func newPositionEvent(kind string, pos *Position, amount *big.Int) *types.Event {
	attrs := map[string]string{
		"owner":      hex.EncodeToString(pos.Owner[:]),
		"position":   strconv.FormatUint(pos.ID, 10),
		"collateral": pos.Collateral.String(),
		"minted":     pos.Minted.String(),
	}
	if pos.Instrument != "" {
		attrs["instrument"] = pos.Instrument
	}
	if amount != nil {
		attrs["amount"] = amount.String()
	}
	return &types.Event{Type: kind, Attributes: attrs}
}

func newRedeemedEvent(holder [20]byte, instrument string, amount, payout *big.Int) *types.Event {
	return &types.Event{Type: EventTypeRedeemed, Attributes: map[string]string{
		"holder":     hex.EncodeToString(holder[:]),
		"instrument": instrument,
		"amount":     amount.String(),
		"payout":     payout.String(),
	}}
}

func newPriceEvent(kind, asset string, expiry uint64, price *big.Int) *types.Event {
	attrs := map[string]string{"asset": asset, "price": price.String()}
	if expiry > 0 {
		attrs["expiry"] = strconv.FormatUint(expiry, 10)
	}
	return &types.Event{Type: kind, Attributes: attrs}
}
