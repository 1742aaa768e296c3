package node

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"optionsvault/config"
	"optionsvault/crypto"
	"optionsvault/native/action"
	nativecommon "optionsvault/native/common"
	"optionsvault/native/options"
	"optionsvault/native/vault"
	"optionsvault/native/venue"
)

const (
	hour = 3600
	day  = 24 * hour
)

var testExpiry = uint64(20000*day + options.ExpiryHourUTC*hour)

func addrString(addr [20]byte) string { return crypto.AddressFromRaw(addr).String() }

type testNet struct {
	t     *testing.T
	ctx   context.Context
	node  *Node
	clock *Clock
	owner [20]byte
	alice [20]byte
	fees  [20]byte
}

func testGenesis(owner, alice, fees [20]byte) *config.Config {
	return &config.Config{
		Network: "test",
		Devnet:  true,
		Vault: config.Vault{
			Name:              "e2e",
			Asset:             "WETH",
			WrappedNative:     "WETH",
			Owners:            []string{addrString(owner)},
			FeeRecipient:      addrString(fees),
			Cap:               "1000000",
			PerformanceFeeBps: 1000,
		},
		Actions: []config.Action{{Name: "call", Operators: []string{addrString(owner)}}},
		Options: config.Options{Pricers: []string{addrString(owner)}},
		Instruments: []config.Instrument{{
			Underlying:      "WETH",
			StrikeAsset:     "USDC",
			CollateralAsset: "WETH",
			Strike:          "300000000000",
			Expiry:          testExpiry,
		}},
		Balances: []config.Balance{{Address: addrString(alice), Asset: "WETH", Amount: "100"}},
	}
}

func newTestNet(t *testing.T, mutate func(*config.Config)) *testNet {
	t.Helper()
	start := int64(testExpiry) - 7*day
	net := &testNet{
		t:     t,
		ctx:   context.Background(),
		clock: NewClock(func() int64 { return start }),
		owner: [20]byte{0x01},
		alice: [20]byte{0x02},
		fees:  [20]byte{0xfe},
	}
	genesis := testGenesis(net.owner, net.alice, net.fees)
	if mutate != nil {
		mutate(genesis)
	}
	n, err := New(net.ctx, genesis, WithClock(net.clock))
	require.NoError(t, err)
	t.Cleanup(n.Close)
	net.node = n
	return net
}

func (net *testNet) exec(fn func() error) {
	net.t.Helper()
	require.NoError(net.t, net.node.Execute(net.ctx, "test", fn))
}

func (net *testNet) balance(asset string, addr [20]byte) string {
	net.t.Helper()
	var out *big.Int
	require.NoError(net.t, net.node.View(func() error {
		var err error
		out, err = net.node.Bank().BalanceOf(asset, addr)
		return err
	}))
	return out.String()
}

func (net *testNet) info() *vault.Info {
	net.t.Helper()
	var info *vault.Info
	require.NoError(net.t, net.node.View(func() error {
		var err error
		info, err = net.node.Vault().Info()
		return err
	}))
	return info
}

func (net *testNet) instrument() string {
	net.t.Helper()
	var list []*options.Instrument
	require.NoError(net.t, net.node.View(func() error {
		var err error
		list, err = net.node.Protocol().Instruments()
		return err
	}))
	require.Len(net.t, list, 1)
	return list[0].ID
}

func TestRoundLifecycleAcrossEngines(t *testing.T) {
	net := newTestNet(t, nil)
	n := net.node
	require.Equal(t, "100", net.balance("WETH", net.alice))
	require.Len(t, n.Actions(), 1)
	act := n.Actions()[0]
	require.Equal(t, "call", n.ActionName(act.Address()))

	net.exec(func() error {
		_, err := n.Vault().Deposit(net.alice, big.NewInt(100))
		return err
	})
	inst := net.instrument()

	net.exec(func() error { return act.CommitOToken(net.owner, inst) })
	err := n.Execute(net.ctx, "rollover", func() error {
		alloc, err := n.Vault().NewAllocation([]uint32{vault.MaxBps})
		if err != nil {
			return err
		}
		return n.Vault().RollOver(net.owner, alloc)
	})
	require.ErrorIs(t, err, action.ErrCommitPhaseNotOver)
	require.Equal(t, vault.StateUnlocked, net.info().State)

	require.NoError(t, n.AdvanceTime(int64(action.DefaultMinCommitPeriod)))
	net.exec(func() error {
		alloc, err := n.Vault().NewAllocation([]uint32{vault.MaxBps})
		if err != nil {
			return err
		}
		return n.Vault().RollOver(net.owner, alloc)
	})
	require.Equal(t, vault.StateLocked, net.info().State)
	require.Equal(t, "100", net.balance("WETH", act.Address()))

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	buyer := key.PubKey().Address().Raw()
	require.NoError(t, n.Faucet(net.ctx, buyer, "WETH", big.NewInt(50)))
	order := &venue.SignedOrder{
		Nonce:        1,
		Expiry:       uint64(net.clock.Now() + hour),
		SignerToken:  "WETH",
		SignerAmount: big.NewInt(20),
		Sender:       act.Address(),
		SenderToken:  inst,
		SenderAmount: big.NewInt(10),
	}
	require.NoError(t, order.Sign(key))
	net.exec(func() error {
		_, err := act.MintAndSellSigned(net.owner, big.NewInt(10), big.NewInt(10), order, big.NewInt(20))
		return err
	})
	require.Equal(t, "110", net.balance("WETH", act.Address()))
	require.Equal(t, "10", net.balance(inst, buyer))

	require.NoError(t, n.SetTime(int64(testExpiry)+hour))
	price := new(big.Int).Mul(big.NewInt(2500), options.StrikeScale)
	require.NoError(t, n.PublishPrice(net.ctx, net.owner, "WETH", testExpiry, price))

	var rec *vault.RoundRecord
	net.exec(func() error {
		var err error
		rec, err = n.Vault().ClosePositions(net.owner)
		return err
	})
	require.Equal(t, uint64(0), rec.Round)
	require.Equal(t, "20", rec.Profit.String())
	require.Equal(t, "2", rec.PerformanceFee.String())
	require.Equal(t, "118", rec.TotalAsset.String())
	require.Equal(t, "2", net.balance("WETH", net.fees))
	require.Equal(t, "0", net.balance("WETH", act.Address()))

	info := net.info()
	require.Equal(t, vault.StateUnlocked, info.State)
	require.Equal(t, uint64(1), info.Round)

	net.exec(func() error {
		_, err := n.Vault().Withdraw(net.alice, big.NewInt(100))
		return err
	})
	require.Equal(t, "118", net.balance("WETH", net.alice))

	updates, cancel, backlog := n.Feed().Subscribe(net.ctx, "")
	defer cancel()
	require.NotNil(t, updates)
	types := make(map[string]bool, len(backlog))
	for _, entry := range backlog {
		types[entry.Type] = true
	}
	require.True(t, types[vault.EventTypeRoundClosed])
	require.True(t, types[action.EventTypeClosed])
}

func TestGenesisAppliedOnceAcrossRestarts(t *testing.T) {
	dir := t.TempDir()
	owner, alice, fees := [20]byte{0x01}, [20]byte{0x02}, [20]byte{0xfe}
	clock := NewClock(func() int64 { return int64(testExpiry) - 7*day })
	ctx := context.Background()

	genesis := testGenesis(owner, alice, fees)
	genesis.DataDir = dir
	first, err := New(ctx, genesis, WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, first.Execute(ctx, "deposit", func() error {
		_, err := first.Vault().Deposit(alice, big.NewInt(40))
		return err
	}))
	_, height := first.Root()
	first.Close()

	second, err := New(ctx, genesis, WithClock(clock))
	require.NoError(t, err)
	defer second.Close()
	_, reopened := second.Root()
	require.Equal(t, height, reopened)

	var balance, shares *big.Int
	require.NoError(t, second.View(func() error {
		var err error
		if balance, err = second.Bank().BalanceOf("WETH", alice); err != nil {
			return err
		}
		shares, err = second.Vault().BalanceOf(alice)
		return err
	}))
	require.Equal(t, "60", balance.String())
	require.Equal(t, "40", shares.String())
}

func TestDevnetHelpersRequireDevnetGenesis(t *testing.T) {
	net := newTestNet(t, func(cfg *config.Config) { cfg.Devnet = false })
	n := net.node
	require.False(t, n.Devnet())
	require.ErrorIs(t, n.Faucet(net.ctx, net.alice, "WETH", big.NewInt(1)), ErrDevnetDisabled)
	require.ErrorIs(t, n.SetTime(1), ErrDevnetDisabled)
	require.ErrorIs(t, n.AdvanceTime(1), ErrDevnetDisabled)
	_, err := n.CreateInstrument(net.ctx, options.InstrumentParams{})
	require.ErrorIs(t, err, ErrDevnetDisabled)
}

func TestDevnetPriceRequiresPricer(t *testing.T) {
	net := newTestNet(t, nil)
	price := big.NewInt(1)
	err := net.node.PublishPrice(net.ctx, net.alice, "WETH", 0, price)
	require.ErrorIs(t, err, options.ErrUnauthorized)
	require.NoError(t, net.node.PublishPrice(net.ctx, net.owner, "WETH", 0, price))

	before := net.clock.Now()
	require.NoError(t, net.node.AdvanceTime(60))
	require.Equal(t, before+60, net.clock.Now())
	require.Error(t, net.node.AdvanceTime(-1))
}

func TestFaucetQuota(t *testing.T) {
	net := newTestNet(t, func(cfg *config.Config) {
		cfg.Faucet = config.Faucet{MaxRequestsPerEpoch: 2, MaxAmountPerEpoch: 50, EpochSeconds: hour}
	})
	n := net.node
	require.NoError(t, n.Faucet(net.ctx, net.alice, "WETH", big.NewInt(30)))
	require.ErrorIs(t, n.Faucet(net.ctx, net.alice, "WETH", big.NewInt(30)), nativecommon.ErrQuotaAmountExceeded)
	require.NoError(t, n.Faucet(net.ctx, net.alice, "WETH", big.NewInt(20)))
	require.ErrorIs(t, n.Faucet(net.ctx, net.alice, "WETH", big.NewInt(1)), nativecommon.ErrQuotaRequestsExceeded)
	require.Equal(t, "150", net.balance("WETH", net.alice))

	// Quotas are tracked per address and reset with the epoch.
	require.NoError(t, n.Faucet(net.ctx, net.owner, "WETH", big.NewInt(1)))
	require.NoError(t, n.AdvanceTime(hour))
	require.NoError(t, n.Faucet(net.ctx, net.alice, "WETH", big.NewInt(1)))
}

func TestNewRejectsBadGenesis(t *testing.T) {
	genesis := testGenesis([20]byte{0x01}, [20]byte{0x02}, [20]byte{0xfe})
	genesis.Instruments[0].Expiry = 1
	_, err := New(context.Background(), genesis)
	require.Error(t, err)

	_, err = New(context.Background(), nil)
	require.Error(t, err)
}
