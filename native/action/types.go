package action

import (
	"fmt"
	"math/big"
	"strings"

	nativecommon "optionsvault/native/common"
)

// State is the custody phase of an action.
type State uint8

const (
	// StateIdle holds no collateral and no option custody.
	StateIdle State = iota
	// StateCommitted has nominated an instrument and waits out the commit
	// period.
	StateCommitted
	// StateActivated holds a live custody position and may trade.
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCommitted:
		return "committed"
	case StateActivated:
		return "activated"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ParseState parses the textual form of a state.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "idle":
		return StateIdle, nil
	case "committed":
		return StateCommitted, nil
	case "activated":
		return StateActivated, nil
	default:
		return 0, fmt.Errorf("action: unknown state %q", raw)
	}
}

const (
	// DefaultMinCommitPeriod is the cooldown between commit and rollover.
	DefaultMinCommitPeriod uint64 = 18 * 3600
	// DefaultCloseGracePeriod is how long an action without posted collateral
	// stays activated before the vault may close it.
	DefaultCloseGracePeriod uint64 = 24 * 3600
)

// Config is the immutable definition of an action.
type Config struct {
	// Address is the custody address of the action.
	Address [20]byte
	// Vault is the only caller allowed to roll over and close positions.
	Vault [20]byte
	// Asset is the vault asset the action is collateralised in.
	Asset string
	IsPut bool
	// Authority lists the owner and operators allowed to commit and trade.
	Authority nativecommon.Authority

	MinCommitPeriod      uint64
	CloseGracePeriod     uint64
	MaxStrikeDistanceBps uint32
	MinTimeToExpiry      uint64
	MaxTimeToExpiry      uint64
}

func (c Config) withDefaults() Config {
	if c.MinCommitPeriod == 0 {
		c.MinCommitPeriod = DefaultMinCommitPeriod
	}
	if c.CloseGracePeriod == 0 {
		c.CloseGracePeriod = DefaultCloseGracePeriod
	}
	c.Asset = strings.ToUpper(strings.TrimSpace(c.Asset))
	c.Authority = c.Authority.Clone()
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if c.Address == ([20]byte{}) {
		return fmt.Errorf("action: address required")
	}
	if c.Vault == ([20]byte{}) {
		return fmt.Errorf("action: vault address required")
	}
	if c.Address == c.Vault {
		return fmt.Errorf("action: address must differ from vault")
	}
	if strings.TrimSpace(c.Asset) == "" {
		return fmt.Errorf("action: asset required")
	}
	if c.Authority.Empty() {
		return fmt.Errorf("action: authority requires at least one address")
	}
	if c.MaxStrikeDistanceBps > 10_000 {
		return fmt.Errorf("action: strike distance %d exceeds 10000 bps", c.MaxStrikeDistanceBps)
	}
	return nil
}

// Record is the persisted per-action state.
type Record struct {
	State            uint8
	CommittedOption  string
	CommitTimestamp  uint64
	ActiveOption     string
	LockedCollateral *big.Int
	PositionID       uint64
	ActivatedAt      uint64
	OpenAuctions     []uint64
	Rollovers        uint64
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.LockedCollateral = cloneBig(r.LockedCollateral)
	clone.OpenAuctions = append([]uint64{}, r.OpenAuctions...)
	return &clone
}

func (r *Record) phase() State { return State(r.State) }

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// TradeResult summarises a completed trade call.
type TradeResult struct {
	Kind             string
	Collateral       *big.Int
	Minted           *big.Int
	Sold             *big.Int
	Premium          *big.Int
	AuctionID        uint64
	LockedCollateral *big.Int
}
