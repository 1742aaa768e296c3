package vault

import (
	"fmt"
	"math/big"
	"strings"

	nativecommon "optionsvault/native/common"
)

// State is the vault's round phase.
type State uint8

const (
	// StateUnlocked holds capital in the vault; deposits and withdrawals are
	// instant.
	StateUnlocked State = iota
	// StateLocked has capital deployed into actions; deposits and
	// withdrawals are queued until the round closes.
	StateLocked
	// StateEmergency freezes every depositor and round operation.
	StateEmergency
)

func (s State) String() string {
	switch s {
	case StateUnlocked:
		return "unlocked"
	case StateLocked:
		return "locked"
	case StateEmergency:
		return "emergency"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ParseState parses the textual form of a state.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "unlocked":
		return StateUnlocked, nil
	case "locked":
		return StateLocked, nil
	case "emergency":
		return StateEmergency, nil
	default:
		return 0, fmt.Errorf("vault: unknown state %q", raw)
	}
}

// MaxPerformanceFeeBps caps the performance fee the owner may configure.
const MaxPerformanceFeeBps = 5_000

// PriceScale is the fixed-point scale of PricePerShare.
var PriceScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Config is the genesis definition of a vault. Address, Asset, Owners and
// Actions are fixed for the vault's lifetime; the remaining fields seed the
// owner-adjustable parameters.
type Config struct {
	Address [20]byte
	Asset   string
	Owners  nativecommon.Authority
	Actions [][20]byte

	FeeRecipient       [20]byte
	Cap                *big.Int
	WithdrawFeeBps     uint32
	PerformanceFeeBps  uint32
	WithdrawReserveBps uint32
}

// Params are the owner-adjustable settings persisted under vault/config.
type Params struct {
	Cap                *big.Int
	WithdrawFeeBps     uint32
	PerformanceFeeBps  uint32
	WithdrawReserveBps uint32
	FeeRecipient       [20]byte
}

// Clone returns a deep copy of the params.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Cap = cloneBig(p.Cap)
	return &clone
}

// Validate checks parameter bounds.
func (p *Params) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: params required", ErrInvalidConfig)
	}
	if p.Cap == nil || p.Cap.Sign() <= 0 {
		return fmt.Errorf("%w: cap must be positive", ErrInvalidConfig)
	}
	if p.WithdrawFeeBps > MaxBps {
		return fmt.Errorf("%w: withdraw fee %d bps", ErrInvalidFee, p.WithdrawFeeBps)
	}
	if p.PerformanceFeeBps > MaxPerformanceFeeBps {
		return fmt.Errorf("%w: performance fee %d bps exceeds %d", ErrInvalidFee, p.PerformanceFeeBps, MaxPerformanceFeeBps)
	}
	if p.WithdrawReserveBps > MaxBps {
		return fmt.Errorf("%w: withdraw reserve %d bps", ErrInvalidAllocation, p.WithdrawReserveBps)
	}
	if p.FeeRecipient == ([20]byte{}) {
		return fmt.Errorf("%w: fee recipient required", ErrInvalidConfig)
	}
	return nil
}

func (c Config) params() *Params {
	return &Params{
		Cap:                cloneBig(c.Cap),
		WithdrawFeeBps:     c.WithdrawFeeBps,
		PerformanceFeeBps:  c.PerformanceFeeBps,
		WithdrawReserveBps: c.WithdrawReserveBps,
		FeeRecipient:       c.FeeRecipient,
	}
}

// Validate reports configuration errors. The action list must be non-empty,
// free of zero addresses and duplicates.
func (c Config) Validate() error {
	if c.Address == ([20]byte{}) {
		return fmt.Errorf("%w: address required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Asset) == "" {
		return fmt.Errorf("%w: asset required", ErrInvalidConfig)
	}
	if c.Owners.Empty() {
		return fmt.Errorf("%w: owner required", ErrInvalidConfig)
	}
	if len(c.Actions) == 0 {
		return fmt.Errorf("%w: at least one action required", ErrInvalidConfig)
	}
	seen := make(map[[20]byte]struct{}, len(c.Actions))
	for _, addr := range c.Actions {
		if addr == ([20]byte{}) {
			return fmt.Errorf("%w: zero action address", ErrInvalidConfig)
		}
		if addr == c.Address {
			return fmt.Errorf("%w: action address equals vault", ErrInvalidConfig)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("%w: duplicate action %x", ErrInvalidConfig, addr)
		}
		seen[addr] = struct{}{}
	}
	if err := c.params().Validate(); err != nil {
		return err
	}
	_, err := NewAllocation(c.Actions, make([]uint32, len(c.Actions)), c.WithdrawReserveBps)
	return err
}

// vaultState is the persisted round bookkeeping under vault/state.
type vaultState struct {
	State                uint8
	PrevState            uint8
	Round                uint64
	PendingDeposit       *big.Int
	WithdrawQueueAmount  *big.Int
	QueuedWithdrawShares *big.Int
	RoundStartAsset      *big.Int
	Allocation           []uint32
	LockedAt             uint64
}

func (s *vaultState) phase() State { return State(s.State) }

func (s *vaultState) normalize() {
	if s.PendingDeposit == nil {
		s.PendingDeposit = big.NewInt(0)
	}
	if s.WithdrawQueueAmount == nil {
		s.WithdrawQueueAmount = big.NewInt(0)
	}
	if s.QueuedWithdrawShares == nil {
		s.QueuedWithdrawShares = big.NewInt(0)
	}
	if s.RoundStartAsset == nil {
		s.RoundStartAsset = big.NewInt(0)
	}
	if s.Allocation == nil {
		s.Allocation = []uint32{}
	}
}

// Info is a point-in-time view of the vault.
type Info struct {
	State               State
	Round               uint64
	TotalAsset          *big.Int
	TotalSupply         *big.Int
	PricePerShare       *big.Int
	PendingDeposit      *big.Int
	WithdrawQueueAmount *big.Int
	VaultBalance        *big.Int
	Allocation          []uint32
	Params              *Params
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
