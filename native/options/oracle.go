package options

import (
	"fmt"
	"math/big"
	"strconv"

	"optionsvault/native/bank"
	"optionsvault/native/common"
)

var ErrPriceAlreadySet = common.NewError(common.ClassPhase, "options: expiry price already set")

func livePriceKey(asset string) []byte { return []byte("options/price/live/" + asset) }

func expiryPriceKey(asset string, expiry uint64) []byte {
	return []byte("options/price/expiry/" + asset + "/" + strconv.FormatUint(expiry, 10))
}

func (p *Protocol) checkPricer(caller [20]byte) error {
	if !p.pricers.Allows(caller) {
		return ErrUnauthorized
	}
	return nil
}

// SetLivePrice publishes the current price of asset, scaled by StrikeScale.
func (p *Protocol) SetLivePrice(caller [20]byte, asset string, price *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := p.checkPricer(caller); err != nil {
		return err
	}
	normalized, err := bank.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := p.state.KVPut(livePriceKey(normalized), price); err != nil {
		return err
	}
	p.emit(newPriceEvent(EventTypeLivePrice, normalized, 0, price))
	return nil
}

// LivePrice returns the latest published price of asset.
func (p *Protocol) LivePrice(asset string) (*big.Int, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	normalized, err := bank.NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	price := new(big.Int)
	ok, err := p.state.KVGet(livePriceKey(normalized), price)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLivePriceNil, normalized)
	}
	return price, nil
}

// SetExpiryPrice records the settlement price of asset for an expiry. It can
// only be set once the expiry has passed and never overwritten.
func (p *Protocol) SetExpiryPrice(caller [20]byte, asset string, expiry uint64, price *big.Int) error {
	if err := p.ready(); err != nil {
		return err
	}
	if err := p.checkPricer(caller); err != nil {
		return err
	}
	normalized, err := bank.NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if p.now() < expiry {
		return fmt.Errorf("%w: expiry %d", ErrNotExpired, expiry)
	}
	ok, err := p.state.KVGet(expiryPriceKey(normalized, expiry), nil)
	if err != nil {
		return err
	}
	if ok {
		return ErrPriceAlreadySet
	}
	if err := p.state.KVPut(expiryPriceKey(normalized, expiry), price); err != nil {
		return err
	}
	p.emit(newPriceEvent(EventTypeExpiryPrice, normalized, expiry, price))
	return nil
}

// ExpiryPrice returns the settlement price of asset for expiry, if set.
func (p *Protocol) ExpiryPrice(asset string, expiry uint64) (*big.Int, bool, error) {
	if p == nil || p.state == nil {
		return nil, false, errNilState
	}
	normalized, err := bank.NormalizeAsset(asset)
	if err != nil {
		return nil, false, err
	}
	price := new(big.Int)
	ok, err := p.state.KVGet(expiryPriceKey(normalized, expiry), price)
	if err != nil || !ok {
		return nil, false, err
	}
	return price, true, nil
}
