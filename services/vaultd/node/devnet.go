package node

import (
	"context"
	"math/big"

	nativecommon "optionsvault/native/common"
	"optionsvault/native/options"
)

// ErrDevnetDisabled is returned by devnet helpers on production genesis files.
var ErrDevnetDisabled = nativecommon.NewError(nativecommon.ClassAuth, "node: devnet operations disabled")

// Devnet reports whether devnet helpers are enabled.
func (n *Node) Devnet() bool { return n.genesis.Devnet }

// SetTime moves the engine clock to ts.
func (n *Node) SetTime(ts int64) error {
	if !n.Devnet() {
		return ErrDevnetDisabled
	}
	n.clock.Set(ts)
	return nil
}

// AdvanceTime moves the engine clock forward by secs.
func (n *Node) AdvanceTime(secs int64) error {
	if !n.Devnet() {
		return ErrDevnetDisabled
	}
	if secs < 0 {
		return options.ErrInvalidAmount
	}
	n.clock.Advance(secs)
	return nil
}

// Faucet mints amount of asset to addr, subject to the genesis faucet quota
// of addr.
func (n *Node) Faucet(ctx context.Context, addr [20]byte, asset string, amount *big.Int) error {
	if !n.Devnet() {
		return ErrDevnetDisabled
	}
	if amount == nil || amount.Sign() <= 0 {
		return options.ErrInvalidAmount
	}
	limits := n.genesis.Faucet
	quota := nativecommon.Quota{
		MaxRequestsPerEpoch: limits.MaxRequestsPerEpoch,
		MaxAmountPerEpoch:   limits.MaxAmountPerEpoch,
		EpochSeconds:        limits.EpochSeconds,
	}
	var units uint64
	if amount.IsUint64() {
		units = amount.Uint64()
	} else if quota.MaxAmountPerEpoch > 0 {
		return nativecommon.ErrQuotaAmountExceeded
	}

	n.faucetMu.Lock()
	defer n.faucetMu.Unlock()
	next, err := nativecommon.CheckQuota(quota, quota.Epoch(n.clock.Now()), n.faucetUsage[addr], 1, units)
	if err != nil {
		return err
	}
	if err := n.Execute(ctx, "devnet.faucet", func() error {
		return n.bank.Mint(asset, addr, amount)
	}); err != nil {
		return err
	}
	n.faucetUsage[addr] = next
	return nil
}

// PublishPrice records a live price, or the settlement price of expiry when it
// is non-zero. The caller must be a configured pricer.
func (n *Node) PublishPrice(ctx context.Context, caller [20]byte, asset string, expiry uint64, price *big.Int) error {
	if !n.Devnet() {
		return ErrDevnetDisabled
	}
	return n.Execute(ctx, "devnet.price", func() error {
		if expiry == 0 {
			return n.protocol.SetLivePrice(caller, asset, price)
		}
		return n.protocol.SetExpiryPrice(caller, asset, expiry, price)
	})
}

// CreateInstrument registers a new option series.
func (n *Node) CreateInstrument(ctx context.Context, params options.InstrumentParams) (*options.Instrument, error) {
	if !n.Devnet() {
		return nil, ErrDevnetDisabled
	}
	var inst *options.Instrument
	err := n.Execute(ctx, "devnet.instrument", func() error {
		var err error
		inst, err = n.protocol.CreateInstrument(params)
		return err
	})
	return inst, err
}
