package venue

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"optionsvault/native/bank"
	"optionsvault/native/common"
)

// LimitVenue fills resting limit orders and RFQ quotes. Limit fills charge a
// flat protocol fee in the native asset; RFQ fills are free but bound to the
// originating account.
type LimitVenue struct {
	base
	protocolFee  *big.Int
	feeCollector [20]byte
}

// NewLimitVenue constructs the limit/RFQ venue.
func NewLimitVenue(state common.IndexedStorage, ledger Ledger) *LimitVenue {
	return &LimitVenue{
		base:         newBase("venue.limit", state, ledger),
		protocolFee:  big.NewInt(0),
		feeCollector: common.ModuleAddress("venue", "limit", "fees"),
	}
}

// SetProtocolFee configures the native fee charged per limit fill.
func (v *LimitVenue) SetProtocolFee(fee *big.Int) {
	if fee == nil || fee.Sign() < 0 {
		v.protocolFee = big.NewInt(0)
		return
	}
	v.protocolFee = new(big.Int).Set(fee)
}

// ProtocolFee returns the native fee charged per limit fill.
func (v *LimitVenue) ProtocolFee() *big.Int { return new(big.Int).Set(v.protocolFee) }

// FeeCollector returns the address receiving protocol fees.
func (v *LimitVenue) FeeCollector() [20]byte { return v.feeCollector }

func filledKey(hash [32]byte) []byte {
	return []byte("venue/limit/filled/" + hex.EncodeToString(hash[:]))
}

// Filled returns the taker amount already filled for an order hash.
func (v *LimitVenue) Filled(hash [32]byte) (*big.Int, error) {
	if v.state == nil {
		return nil, errNilState
	}
	filled := new(big.Int)
	ok, err := v.state.KVGet(filledKey(hash), filled)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return filled, nil
}

// Cancel marks an order as fully filled. Only the maker may cancel.
func (v *LimitVenue) Cancel(caller [20]byte, order *LimitOrder, kind OrderKind) error {
	if err := v.ready(); err != nil {
		return err
	}
	if order == nil || order.Maker != caller {
		return ErrWrongSender
	}
	hash := order.Hash(kind)
	if err := v.state.KVPut(filledKey(hash), nonNil(order.TakerAmount)); err != nil {
		return err
	}
	v.emit(newFillEvent(EventTypeLimitOrderCancel, hash, order.Maker, caller,
		order.MakerToken, big.NewInt(0), order.TakerToken, big.NewInt(0)))
	return nil
}

// FillLimit fills up to takerAmount of a limit order for taker. feePayer pays
// the protocol fee in the native asset and maxFee caps what it is willing to
// pay.
func (v *LimitVenue) FillLimit(taker, feePayer [20]byte, order *LimitOrder, takerAmount, maxFee *big.Int) (*FillResult, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if maxFee == nil || maxFee.Cmp(v.protocolFee) < 0 {
		return nil, fmt.Errorf("%w: need %s", ErrInsufficientProtocolFee, v.protocolFee)
	}
	result, err := v.fill(KindLimit, taker, order, takerAmount)
	if err != nil {
		return nil, err
	}
	if v.protocolFee.Sign() > 0 {
		if err := v.ledger.Transfer(bank.NativeAsset, feePayer, v.feeCollector, v.protocolFee); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInsufficientProtocolFee, err)
		}
	}
	result.ProtocolFee = new(big.Int).Set(v.protocolFee)
	v.emit(newFillEvent(EventTypeLimitFill, result.Hash, order.Maker, taker,
		order.MakerToken, result.MakerFilled, order.TakerToken, result.TakerFilled))
	return result, nil
}

// FillRFQ fills an RFQ quote. origin must match the quote's TxOrigin.
func (v *LimitVenue) FillRFQ(taker, origin [20]byte, order *LimitOrder, takerAmount *big.Int) (*FillResult, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	if order == nil {
		return nil, ErrInvalidOrder
	}
	if order.TxOrigin == ([20]byte{}) || order.TxOrigin != origin {
		return nil, ErrWrongOrigin
	}
	result, err := v.fill(KindRFQ, taker, order, takerAmount)
	if err != nil {
		return nil, err
	}
	result.ProtocolFee = big.NewInt(0)
	v.emit(newFillEvent(EventTypeRFQFill, result.Hash, order.Maker, taker,
		order.MakerToken, result.MakerFilled, order.TakerToken, result.TakerFilled))
	return result, nil
}

func (v *LimitVenue) fill(kind OrderKind, taker [20]byte, order *LimitOrder, takerAmount *big.Int) (*FillResult, error) {
	if order == nil {
		return nil, ErrInvalidOrder
	}
	if order.MakerAmount == nil || order.MakerAmount.Sign() <= 0 ||
		order.TakerAmount == nil || order.TakerAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amounts must be positive", ErrInvalidOrder)
	}
	if takerAmount == nil || takerAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	makerToken, err := bank.NormalizeAsset(order.MakerToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	takerToken, err := bank.NormalizeAsset(order.TakerToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if order.Expiry <= v.now() {
		return nil, ErrOrderExpired
	}
	if order.Taker != ([20]byte{}) && order.Taker != taker {
		return nil, ErrWrongSender
	}
	hash := order.Hash(kind)
	if err := verifySignature(hash, order.Signature, order.Maker); err != nil {
		return nil, err
	}
	filled, err := v.Filled(hash)
	if err != nil {
		return nil, err
	}
	remaining := new(big.Int).Sub(order.TakerAmount, filled)
	if remaining.Sign() <= 0 {
		return nil, ErrOrderFilled
	}
	fill := new(big.Int).Set(takerAmount)
	if fill.Cmp(remaining) > 0 {
		fill.Set(remaining)
	}
	makerFill := new(big.Int).Mul(fill, order.MakerAmount)
	makerFill.Quo(makerFill, order.TakerAmount)
	if makerFill.Sign() == 0 {
		return nil, fmt.Errorf("%w: fill rounds to zero", ErrInvalidAmount)
	}
	if err := v.state.KVPut(filledKey(hash), new(big.Int).Add(filled, fill)); err != nil {
		return nil, err
	}
	if err := v.ledger.Transfer(takerToken, taker, order.Maker, fill); err != nil {
		return nil, err
	}
	if err := v.ledger.Transfer(makerToken, order.Maker, taker, makerFill); err != nil {
		return nil, err
	}
	return &FillResult{
		Hash:         hash,
		TakerFilled:  fill,
		MakerFilled:  makerFill,
		RemainingTkr: remaining.Sub(remaining, fill),
	}, nil
}
