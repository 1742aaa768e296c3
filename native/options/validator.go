package options

import (
	"fmt"
	"math/big"

	"optionsvault/native/bank"
)

var basisPoints = big.NewInt(10_000)

// Policy captures the constraints an action places on the series it commits
// to. Zero bounds disable the corresponding check.
type Policy struct {
	CollateralAsset string
	IsPut           bool
	// MaxStrikeDistanceBps bounds how far out of the money the strike may sit
	// relative to the live price. In the money strikes are always rejected
	// when set.
	MaxStrikeDistanceBps uint32
	MinTimeToExpiry      uint64
	MaxTimeToExpiry      uint64
}

// Validate checks that instrument exists, is unexpired and satisfies policy.
func (p *Protocol) Validate(instrument string, policy Policy) (*Instrument, error) {
	inst, err := p.InstrumentParams(instrument)
	if err != nil {
		return nil, err
	}
	collateral, err := bank.NormalizeAsset(policy.CollateralAsset)
	if err != nil {
		return nil, err
	}
	if inst.CollateralAsset != collateral {
		return nil, fmt.Errorf("%w: %s collateralised in %s", ErrCollateralMismatch, inst.ID, inst.CollateralAsset)
	}
	if inst.IsPut != policy.IsPut {
		return nil, fmt.Errorf("%w: %s", ErrOptionTypeMismatch, inst.ID)
	}
	now := p.now()
	if now >= inst.Expiry {
		return nil, fmt.Errorf("%w: %s", ErrInstrumentExpired, inst.ID)
	}
	remaining := inst.Expiry - now
	if policy.MinTimeToExpiry > 0 && remaining < policy.MinTimeToExpiry {
		return nil, fmt.Errorf("%w: %ds left", ErrExpiryOutOfRange, remaining)
	}
	if policy.MaxTimeToExpiry > 0 && remaining > policy.MaxTimeToExpiry {
		return nil, fmt.Errorf("%w: %ds left", ErrExpiryOutOfRange, remaining)
	}
	if policy.MaxStrikeDistanceBps > 0 {
		live, err := p.LivePrice(inst.Underlying)
		if err != nil {
			return nil, err
		}
		if err := checkStrikeDistance(inst, live, policy.MaxStrikeDistanceBps); err != nil {
			return nil, err
		}
	}
	return inst, nil
}

func checkStrikeDistance(inst *Instrument, live *big.Int, maxBps uint32) error {
	var diff *big.Int
	if inst.IsPut {
		diff = new(big.Int).Sub(live, inst.Strike)
	} else {
		diff = new(big.Int).Sub(inst.Strike, live)
	}
	if diff.Sign() < 0 {
		return fmt.Errorf("%w: strike %s is in the money at %s", ErrStrikeOutOfRange, inst.Strike, live)
	}
	limit := new(big.Int).Mul(live, big.NewInt(int64(maxBps)))
	limit.Quo(limit, basisPoints)
	if diff.Cmp(limit) > 0 {
		return fmt.Errorf("%w: strike %s more than %d bps from %s", ErrStrikeOutOfRange, inst.Strike, maxBps, live)
	}
	return nil
}
