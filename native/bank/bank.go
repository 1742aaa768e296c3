package bank

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"optionsvault/core/events"
	"optionsvault/core/types"
	"optionsvault/native/common"
)

// NativeAsset is the asset callers pay protocol fees with. The wrapper
// converts it to an ERC20-style token the vault can hold.
const NativeAsset = "NATIVE"

var (
	ErrInsufficientBalance = common.NewError(common.ClassValidation, "bank: insufficient balance")
	ErrInvalidAmount       = common.NewError(common.ClassValidation, "bank: invalid amount")
	ErrInvalidAsset        = common.NewError(common.ClassValidation, "bank: invalid asset")
	errNilState            = common.NewError(common.ClassExternal, "bank: state not configured")
)

const (
	EventTypeTransfer = "bank.transfer"
	EventTypeMint     = "bank.mint"
	EventTypeBurn     = "bank.burn"
)

type bankEvent struct {
	evt *types.Event
}

func (e bankEvent) EventType() string { return e.evt.EventType() }

func (e bankEvent) Event() *types.Event { return e.evt }

// Bank is the multi-asset ledger every custody balance lives in. Vault and
// action balances are always read from here, never cached.
type Bank struct {
	state   common.Storage
	emitter events.Emitter
}

// New constructs a bank over the supplied storage.
func New(state common.Storage) *Bank {
	return &Bank{state: state, emitter: events.NoopEmitter{}}
}

// SetState configures the storage backend.
func (b *Bank) SetState(state common.Storage) { b.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (b *Bank) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		b.emitter = events.NoopEmitter{}
		return
	}
	b.emitter = emitter
}

// NormalizeAsset validates an asset identifier and returns its canonical
// upper-case form.
func NormalizeAsset(asset string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(asset))
	if trimmed == "" || strings.ContainsAny(trimmed, "/ ") {
		return "", fmt.Errorf("%w: %q", ErrInvalidAsset, asset)
	}
	return trimmed, nil
}

func balanceKey(asset string, addr [20]byte) []byte {
	return []byte("bank/" + asset + "/" + hex.EncodeToString(addr[:]))
}

func supplyKey(asset string) []byte {
	return []byte("bank/supply/" + asset)
}

func (b *Bank) load(key []byte) (*big.Int, error) {
	if b == nil || b.state == nil {
		return nil, errNilState
	}
	value := new(big.Int)
	ok, err := b.state.KVGet(key, value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return value, nil
}

func (b *Bank) store(key []byte, value *big.Int) error {
	if value.Sign() == 0 {
		return b.state.KVDelete(key)
	}
	return b.state.KVPut(key, value)
}

// BalanceOf returns the balance of addr in asset.
func (b *Bank) BalanceOf(asset string, addr [20]byte) (*big.Int, error) {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return b.load(balanceKey(normalized, addr))
}

// TotalSupply returns the minted supply of asset.
func (b *Bank) TotalSupply(asset string) (*big.Int, error) {
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return nil, err
	}
	return b.load(supplyKey(normalized))
}

func checkAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Transfer moves amount of asset between two accounts. Zero transfers are
// no-ops.
func (b *Bank) Transfer(asset string, from, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBal, err := b.load(balanceKey(normalized, from))
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientBalance,
			hex.EncodeToString(from[:]), fromBal, normalized, amount)
	}
	toBal, err := b.load(balanceKey(normalized, to))
	if err != nil {
		return err
	}
	if err := b.store(balanceKey(normalized, from), new(big.Int).Sub(fromBal, amount)); err != nil {
		return err
	}
	if err := b.store(balanceKey(normalized, to), new(big.Int).Add(toBal, amount)); err != nil {
		return err
	}
	b.emit(EventTypeTransfer, normalized, amount, map[string]string{
		"from": hex.EncodeToString(from[:]),
		"to":   hex.EncodeToString(to[:]),
	})
	return nil
}

// Mint credits newly created supply of asset to addr.
func (b *Bank) Mint(asset string, to [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	bal, err := b.load(balanceKey(normalized, to))
	if err != nil {
		return err
	}
	supply, err := b.load(supplyKey(normalized))
	if err != nil {
		return err
	}
	if err := b.store(balanceKey(normalized, to), bal.Add(bal, amount)); err != nil {
		return err
	}
	if err := b.store(supplyKey(normalized), supply.Add(supply, amount)); err != nil {
		return err
	}
	b.emit(EventTypeMint, normalized, amount, map[string]string{"to": hex.EncodeToString(to[:])})
	return nil
}

// Burn destroys amount of asset held by from.
func (b *Bank) Burn(asset string, from [20]byte, amount *big.Int) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	normalized, err := NormalizeAsset(asset)
	if err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	bal, err := b.load(balanceKey(normalized, from))
	if err != nil {
		return err
	}
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: burn %s %s", ErrInsufficientBalance, amount, normalized)
	}
	supply, err := b.load(supplyKey(normalized))
	if err != nil {
		return err
	}
	if err := b.store(balanceKey(normalized, from), bal.Sub(bal, amount)); err != nil {
		return err
	}
	if supply.Cmp(amount) < 0 {
		supply.SetInt64(0)
	} else {
		supply.Sub(supply, amount)
	}
	if err := b.store(supplyKey(normalized), supply); err != nil {
		return err
	}
	b.emit(EventTypeBurn, normalized, amount, map[string]string{"from": hex.EncodeToString(from[:])})
	return nil
}

func (b *Bank) emit(kind, asset string, amount *big.Int, attrs map[string]string) {
	if b == nil || b.emitter == nil {
		return
	}
	attrs["asset"] = asset
	attrs["amount"] = amount.String()
	b.emitter.Emit(bankEvent{evt: &types.Event{Type: kind, Attributes: attrs}})
}
