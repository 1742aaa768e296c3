package vault

import (
	"fmt"
	"math/big"
)

// MaxBps is the basis point denominator.
const MaxBps = 10_000

// Share is the slice of the distributable balance sent to one action.
type Share struct {
	Action [20]byte
	Bps    uint32
}

// Allocation is a validated split of the distributable balance across the
// vault's actions. Build it with NewAllocation.
type Allocation struct {
	shares []Share
	total  uint32
}

// NewAllocation validates bps against the action list and withdraw reserve:
// one entry per action, in order, summing to at most 10000 with the reserve.
func NewAllocation(actions [][20]byte, bps []uint32, reserveBps uint32) (Allocation, error) {
	if len(bps) != len(actions) {
		return Allocation{}, fmt.Errorf("%w: %d entries for %d actions", ErrInvalidAllocation, len(bps), len(actions))
	}
	total := uint64(reserveBps)
	shares := make([]Share, len(bps))
	for i, value := range bps {
		total += uint64(value)
		shares[i] = Share{Action: actions[i], Bps: value}
	}
	if total > MaxBps {
		return Allocation{}, fmt.Errorf("%w: %d bps including reserve", ErrInvalidAllocation, total)
	}
	return Allocation{shares: shares, total: uint32(total - uint64(reserveBps))}, nil
}

// Shares returns a copy of the per-action split.
func (a Allocation) Shares() []Share {
	return append([]Share(nil), a.shares...)
}

// TotalBps is the sum of the per-action split, excluding the reserve.
func (a Allocation) TotalBps() uint32 { return a.total }

// Len reports how many actions the allocation covers.
func (a Allocation) Len() int { return len(a.shares) }

// BpsList returns the raw split in action order.
func (a Allocation) BpsList() []uint32 {
	out := make([]uint32, len(a.shares))
	for i, share := range a.shares {
		out[i] = share.Bps
	}
	return out
}

func (a Allocation) amounts(distributable *big.Int) ([]*big.Int, error) {
	out := make([]*big.Int, len(a.shares))
	for i, share := range a.shares {
		amount, err := bpsOf(distributable, share.Bps)
		if err != nil {
			return nil, err
		}
		out[i] = amount
	}
	return out, nil
}
