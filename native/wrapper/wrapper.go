package wrapper

import (
	"fmt"
	"math/big"

	"optionsvault/native/bank"
	"optionsvault/native/common"
)

var ErrInvalidAmount = common.NewError(common.ClassValidation, "wrapper: invalid amount")

// Ledger is the subset of the bank the wrapper moves funds through.
type Ledger interface {
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
	Mint(asset string, to [20]byte, amount *big.Int) error
	Burn(asset string, from [20]byte, amount *big.Int) error
}

// Wrapper converts the native asset into a fungible token one to one. Native
// units are held at the wrapper's module address while the token circulates.
type Wrapper struct {
	ledger  Ledger
	token   string
	address [20]byte
}

// New constructs a wrapper minting token.
func New(ledger Ledger, token string) (*Wrapper, error) {
	normalized, err := bank.NormalizeAsset(token)
	if err != nil {
		return nil, err
	}
	if normalized == bank.NativeAsset {
		return nil, fmt.Errorf("wrapper: token must differ from %s", bank.NativeAsset)
	}
	return &Wrapper{ledger: ledger, token: normalized, address: common.ModuleAddress("wrapper", normalized)}, nil
}

// Token returns the wrapped asset identifier.
func (w *Wrapper) Token() string { return w.token }

// Address returns the custody address of the native reserve.
func (w *Wrapper) Address() [20]byte { return w.address }

// Wrap locks amount of native asset from owner and mints the same amount of
// token to owner.
func (w *Wrapper) Wrap(owner [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := w.ledger.Transfer(bank.NativeAsset, owner, w.address, amount); err != nil {
		return fmt.Errorf("wrapper: lock native: %w", err)
	}
	return w.ledger.Mint(w.token, owner, amount)
}

// Unwrap burns amount of token from owner and releases the native asset.
func (w *Wrapper) Unwrap(owner [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if err := w.ledger.Burn(w.token, owner, amount); err != nil {
		return fmt.Errorf("wrapper: burn token: %w", err)
	}
	return w.ledger.Transfer(bank.NativeAsset, w.address, owner, amount)
}
