package options

import (
	"fmt"
	"math/big"
	"strings"
)

// StrikeScale is the fixed-point scale strikes and oracle prices are quoted
// in: 1e8 units of the strike asset per unit of underlying.
var StrikeScale = big.NewInt(100_000_000)

// ExpiryHourUTC is the hour of day every instrument expires at.
const ExpiryHourUTC = 8

// VaultType selects the margin model of a custody position.
type VaultType uint8

const (
	// VaultTypeFullyCollateralized requires collateral for the maximum payout.
	VaultTypeFullyCollateralized VaultType = 0
)

// InstrumentParams describes an option series.
type InstrumentParams struct {
	Underlying      string
	StrikeAsset     string
	CollateralAsset string
	// Strike is scaled by StrikeScale.
	Strike *big.Int
	Expiry uint64
	IsPut  bool
}

// Instrument is a created option series. Its ID doubles as the bank asset the
// minted supply is held in.
type Instrument struct {
	ID              string
	Underlying      string
	StrikeAsset     string
	CollateralAsset string
	Strike          *big.Int
	Expiry          uint64
	IsPut           bool
	CreatedAt       uint64
}

// Clone returns a deep copy of the instrument.
func (i *Instrument) Clone() *Instrument {
	if i == nil {
		return nil
	}
	clone := *i
	clone.Strike = cloneBig(i.Strike)
	return &clone
}

// Params returns the creation parameters of the instrument.
func (i *Instrument) Params() InstrumentParams {
	return InstrumentParams{
		Underlying:      i.Underlying,
		StrikeAsset:     i.StrikeAsset,
		CollateralAsset: i.CollateralAsset,
		Strike:          cloneBig(i.Strike),
		Expiry:          i.Expiry,
		IsPut:           i.IsPut,
	}
}

// InstrumentID derives the canonical identifier of a series, for example
// OWETHUSDC-1792742400-300000000000C.
func InstrumentID(p InstrumentParams) string {
	kind := "C"
	if p.IsPut {
		kind = "P"
	}
	strike := "0"
	if p.Strike != nil {
		strike = p.Strike.String()
	}
	return strings.ToUpper(fmt.Sprintf("O%s%s-%d-%s%s", p.Underlying, p.StrikeAsset, p.Expiry, strike, kind))
}

// Position is a custody (margin) vault owned by an account.
type Position struct {
	Owner           [20]byte
	ID              uint64
	VaultType       uint8
	CollateralAsset string
	Collateral      *big.Int
	Instrument      string
	Minted          *big.Int
	Settled         bool
	OpenedAt        uint64
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Collateral = cloneBig(p.Collateral)
	clone.Minted = cloneBig(p.Minted)
	return &clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
