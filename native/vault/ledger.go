package vault

import (
	"encoding/hex"
	"fmt"
	"math/big"

	nativecommon "optionsvault/native/common"
)

var supplyKey = []byte("vault/supply")

func sharesKey(addr [20]byte) []byte {
	return []byte("vault/shares/" + hex.EncodeToString(addr[:]))
}

// ShareLedger maps accounts to share balances. It knows nothing about rounds
// or actions.
type ShareLedger struct {
	state nativecommon.Storage
}

// NewShareLedger returns a ledger over state.
func NewShareLedger(state nativecommon.Storage) *ShareLedger {
	return &ShareLedger{state: state}
}

func (l *ShareLedger) load(key []byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNotConfigured
	}
	value := new(big.Int)
	ok, err := l.state.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (l *ShareLedger) store(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		return l.state.KVDelete(key)
	}
	return l.state.KVPut(key, value)
}

// BalanceOf returns the shares held by addr.
func (l *ShareLedger) BalanceOf(addr [20]byte) (*big.Int, error) {
	return l.load(sharesKey(addr))
}

// TotalSupply returns the outstanding shares.
func (l *ShareLedger) TotalSupply() (*big.Int, error) {
	return l.load(supplyKey)
}

// Mint credits shares to addr.
func (l *ShareLedger) Mint(addr [20]byte, shares *big.Int) error {
	if shares == nil || shares.Sign() < 0 {
		return ErrInvalidAmount
	}
	if shares.Sign() == 0 {
		return nil
	}
	bal, err := l.BalanceOf(addr)
	if err != nil {
		return err
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if err := l.store(sharesKey(addr), bal.Add(bal, shares)); err != nil {
		return err
	}
	return l.store(supplyKey, supply.Add(supply, shares))
}

// Burn removes shares from addr.
func (l *ShareLedger) Burn(addr [20]byte, shares *big.Int) error {
	if shares == nil || shares.Sign() < 0 {
		return ErrInvalidAmount
	}
	if shares.Sign() == 0 {
		return nil
	}
	bal, err := l.BalanceOf(addr)
	if err != nil {
		return err
	}
	if bal.Cmp(shares) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientShares, bal, shares)
	}
	supply, err := l.TotalSupply()
	if err != nil {
		return err
	}
	if supply.Cmp(shares) < 0 {
		return fmt.Errorf("%w: supply %s below burn %s", ErrArithmetic, supply, shares)
	}
	if err := l.store(sharesKey(addr), bal.Sub(bal, shares)); err != nil {
		return err
	}
	return l.store(supplyKey, supply.Sub(supply, shares))
}

// Transfer moves shares between accounts.
func (l *ShareLedger) Transfer(from, to [20]byte, shares *big.Int) error {
	if shares == nil || shares.Sign() < 0 {
		return ErrInvalidAmount
	}
	if shares.Sign() == 0 || from == to {
		return nil
	}
	fromBal, err := l.BalanceOf(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(shares) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientShares, fromBal, shares)
	}
	toBal, err := l.BalanceOf(to)
	if err != nil {
		return err
	}
	if err := l.store(sharesKey(from), fromBal.Sub(fromBal, shares)); err != nil {
		return err
	}
	return l.store(sharesKey(to), toBal.Add(toBal, shares))
}
