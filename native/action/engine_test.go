package action

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"optionsvault/core"
	"optionsvault/core/events"
	"optionsvault/core/state"
	"optionsvault/crypto"
	"optionsvault/native/bank"
	nativecommon "optionsvault/native/common"
	"optionsvault/native/options"
	"optionsvault/native/venue"
	"optionsvault/storage"
)

const (
	hour = 3600
	day  = 24 * hour
)

var testExpiry = uint64(20000*day + options.ExpiryHourUTC*hour)

type recorder struct{ types []string }

func (r *recorder) Emit(evt events.Event) { r.types = append(r.types, evt.EventType()) }

type fixture struct {
	t        *testing.T
	rt       *core.Runtime
	sink     *recorder
	bank     *bank.Bank
	protocol *options.Protocol
	signed   *venue.SignedVenue
	limit    *venue.LimitVenue
	auction  *venue.AuctionVenue
	engine   *Engine
	now      int64

	addr     [20]byte
	vault    [20]byte
	operator [20]byte
	pricer   [20]byte
	inst     *options.Instrument
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB())
	require.NoError(t, err)
	sink := &recorder{}
	rt, err := core.NewRuntime(mgr, core.WithSink(sink))
	require.NoError(t, err)

	f := &fixture{
		t:        t,
		rt:       rt,
		sink:     sink,
		now:      int64(testExpiry) - 7*day,
		addr:     [20]byte{0xa1},
		vault:    [20]byte{0x0f},
		operator: [20]byte{0x0e},
		pricer:   [20]byte{0xee},
	}
	clock := func() int64 { return f.now }

	f.bank = bank.New(mgr)
	f.protocol = options.NewProtocol(mgr, f.bank)
	f.protocol.SetNowFunc(clock)
	f.protocol.SetPricers(nativecommon.NewAuthority(f.pricer))
	f.signed = venue.NewSignedVenue(mgr, f.bank)
	f.signed.SetNowFunc(clock)
	f.limit = venue.NewLimitVenue(mgr, f.bank)
	f.limit.SetNowFunc(clock)
	f.auction = venue.NewAuctionVenue(mgr, f.bank)
	f.auction.SetNowFunc(clock)

	f.engine, err = NewEngine(Config{
		Address:   f.addr,
		Vault:     f.vault,
		Asset:     "weth",
		Authority: nativecommon.NewAuthority(f.operator),
	})
	require.NoError(t, err)
	f.engine.SetState(mgr)
	f.engine.SetBank(f.bank)
	f.engine.SetProtocol(f.protocol)
	f.engine.SetVenues(Venues{Signed: f.signed, Limit: f.limit, Auction: f.auction})
	f.engine.SetNowFunc(clock)
	f.engine.SetEmitter(rt.Emitter())

	f.exec(func() error {
		f.inst, err = f.protocol.CreateInstrument(options.InstrumentParams{
			Underlying:      "WETH",
			StrikeAsset:     "USDC",
			CollateralAsset: "WETH",
			Strike:          new(big.Int).Mul(big.NewInt(3000), options.StrikeScale),
			Expiry:          testExpiry,
		})
		if err != nil {
			return err
		}
		return f.bank.Mint("WETH", f.addr, big.NewInt(100))
	})
	return f
}

func (f *fixture) exec(fn func() error) {
	f.t.Helper()
	require.NoError(f.t, f.run(fn))
}

func (f *fixture) run(fn func() error) error {
	return f.rt.Execute(context.Background(), "test", fn)
}

func (f *fixture) balance(asset string, addr [20]byte) int64 {
	f.t.Helper()
	var out *big.Int
	require.NoError(f.t, f.rt.View(func() error {
		var err error
		out, err = f.bank.BalanceOf(asset, addr)
		return err
	}))
	return out.Int64()
}

func (f *fixture) record() *Record {
	f.t.Helper()
	var rec *Record
	require.NoError(f.t, f.rt.View(func() error {
		var err error
		rec, err = f.engine.Record()
		return err
	}))
	return rec
}

func (f *fixture) activate() {
	f.t.Helper()
	f.exec(func() error { return f.engine.CommitOToken(f.operator, f.inst.ID) })
	f.now += int64(DefaultMinCommitPeriod)
	f.exec(func() error { return f.engine.RolloverPosition(f.vault) })
}

func (f *fixture) settleExpiry(price int64) {
	f.t.Helper()
	f.now = int64(testExpiry) + hour
	f.exec(func() error {
		return f.protocol.SetExpiryPrice(f.pricer, "WETH", testExpiry, new(big.Int).Mul(big.NewInt(price), options.StrikeScale))
	})
}

func newBuyer(t *testing.T) (*crypto.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key, key.PubKey().Address().Raw()
}

func TestCommitAndRolloverRespectCommitPeriod(t *testing.T) {
	f := newFixture(t)

	err := f.run(func() error { return f.engine.CommitOToken([20]byte{0x99}, f.inst.ID) })
	require.ErrorIs(t, err, ErrUnauthorized)

	f.exec(func() error { return f.engine.CommitOToken(f.operator, f.inst.ID) })
	rec := f.record()
	require.Equal(t, StateCommitted, State(rec.State))
	require.Equal(t, f.inst.ID, rec.CommittedOption)
	require.Equal(t, uint64(f.now), rec.CommitTimestamp)

	err = f.run(func() error { return f.engine.RolloverPosition(f.operator) })
	require.ErrorIs(t, err, ErrNotVault)
	err = f.run(func() error { return f.engine.RolloverPosition(f.vault) })
	require.ErrorIs(t, err, ErrCommitPhaseNotOver)
	require.Equal(t, StateCommitted, State(f.record().State))

	f.now += int64(DefaultMinCommitPeriod)
	f.exec(func() error { return f.engine.RolloverPosition(f.vault) })
	rec = f.record()
	require.Equal(t, StateActivated, State(rec.State))
	require.Equal(t, f.inst.ID, rec.ActiveOption)
	require.Empty(t, rec.CommittedOption)
	require.NotZero(t, rec.PositionID)
	require.Zero(t, rec.LockedCollateral.Sign())

	err = f.run(func() error { return f.engine.CommitOToken(f.operator, f.inst.ID) })
	require.ErrorIs(t, err, ErrInvalidState)
	require.Contains(t, f.sink.types, EventTypeCommitted)
	require.Contains(t, f.sink.types, EventTypeActivated)
}

func TestCommitValidatesInstrument(t *testing.T) {
	f := newFixture(t)
	var put *options.Instrument
	f.exec(func() error {
		var err error
		put, err = f.protocol.CreateInstrument(options.InstrumentParams{
			Underlying:      "WETH",
			StrikeAsset:     "USDC",
			CollateralAsset: "USDC",
			Strike:          new(big.Int).Mul(big.NewInt(2000), options.StrikeScale),
			Expiry:          testExpiry,
			IsPut:           true,
		})
		return err
	})
	err := f.run(func() error { return f.engine.CommitOToken(f.operator, put.ID) })
	require.ErrorIs(t, err, options.ErrCollateralMismatch)
	err = f.run(func() error { return f.engine.CommitOToken(f.operator, "OMISSING") })
	require.ErrorIs(t, err, options.ErrInstrumentNotFound)
	require.Equal(t, StateIdle, State(f.record().State))
}

func TestTradeRejectsWrongInstrumentBeforeTransfers(t *testing.T) {
	f := newFixture(t)
	f.activate()
	key, buyer := newBuyer(t)
	f.exec(func() error { return f.bank.Mint("WETH", buyer, big.NewInt(50)) })

	order := &venue.SignedOrder{
		Nonce: 1, Expiry: uint64(f.now + hour),
		SignerToken: "WETH", SignerAmount: big.NewInt(5),
		Sender: f.addr, SenderToken: "OTHER", SenderAmount: big.NewInt(10),
	}
	require.NoError(t, order.Sign(key))
	_, err := f.engine.MintAndSellSigned(f.operator, big.NewInt(10), big.NewInt(10), order, big.NewInt(5))
	require.ErrorIs(t, err, ErrWrongInstrument)
	require.Zero(t, f.record().LockedCollateral.Sign())
	require.Equal(t, int64(100), f.balance("WETH", f.addr))

	order.SenderToken = f.inst.ID
	order.SignerToken = "USDC"
	_, err = f.engine.MintAndSellSigned(f.operator, big.NewInt(10), big.NewInt(10), order, big.NewInt(5))
	require.ErrorIs(t, err, ErrWrongAsset)

	order.SignerToken = "WETH"
	_, err = f.engine.MintAndSellSigned(f.operator, big.NewInt(10), big.NewInt(10), order, big.NewInt(6))
	require.ErrorIs(t, err, ErrPremiumTooLow)

	_, err = f.engine.MintAndSellSigned(buyer, big.NewInt(10), big.NewInt(10), order, big.NewInt(5))
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Zero(t, f.record().LockedCollateral.Sign())
}

func TestSignedTradeAndCloseReturnsFundsToVault(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.MintAndSellSigned(f.operator, big.NewInt(1), big.NewInt(1), nil, big.NewInt(0))
	require.ErrorIs(t, err, ErrInvalidState)

	f.activate()
	key, buyer := newBuyer(t)
	f.exec(func() error { return f.bank.Mint("WETH", buyer, big.NewInt(50)) })
	order := &venue.SignedOrder{
		Nonce: 1, Expiry: uint64(f.now + hour),
		SignerToken: "WETH", SignerAmount: big.NewInt(5),
		Sender: f.addr, SenderToken: f.inst.ID, SenderAmount: big.NewInt(10),
	}
	require.NoError(t, order.Sign(key))

	var res *TradeResult
	f.exec(func() error {
		var err error
		res, err = f.engine.MintAndSellSigned(f.operator, big.NewInt(10), big.NewInt(10), order, big.NewInt(5))
		return err
	})
	require.Equal(t, KindSignedOrder, res.Kind)
	require.Equal(t, "5", res.Premium.String())
	require.Equal(t, "10", res.LockedCollateral.String())
	require.Equal(t, int64(95), f.balance("WETH", f.addr))
	require.Equal(t, int64(10), f.balance(f.inst.ID, buyer))

	var value *big.Int
	require.NoError(t, f.rt.View(func() error {
		var err error
		value, err = f.engine.CurrentValue()
		return err
	}))
	require.Equal(t, "105", value.String())

	// Closing before expiry fails inside the protocol and leaves the action
	// untouched.
	err = f.run(func() error { return f.engine.ClosePosition(f.vault) })
	require.ErrorIs(t, err, options.ErrNotExpired)
	require.Equal(t, StateActivated, State(f.record().State))
	require.Equal(t, "10", f.record().LockedCollateral.String())

	err = f.run(func() error { return f.engine.ClosePosition(f.operator) })
	require.ErrorIs(t, err, ErrNotVault)

	f.settleExpiry(2500)
	f.exec(func() error { return f.engine.ClosePosition(f.vault) })
	rec := f.record()
	require.Equal(t, StateIdle, State(rec.State))
	require.Zero(t, rec.LockedCollateral.Sign())
	require.Empty(t, rec.ActiveOption)
	require.Equal(t, int64(0), f.balance("WETH", f.addr))
	require.Equal(t, int64(105), f.balance("WETH", f.vault))
	require.Contains(t, f.sink.types, EventTypeClosed)

	err = f.run(func() error { return f.engine.ClosePosition(f.vault) })
	require.ErrorIs(t, err, ErrInvalidState)
}

// callbackVenue calls back into the action from inside a fill.
type callbackVenue struct {
	callback func() error
	errs     []error
}

func (v *callbackVenue) Fill(sender [20]byte, order *venue.SignedOrder) error {
	err := v.callback()
	v.errs = append(v.errs, err)
	return err
}

func TestVenueCallbackIsRejectedAsReentrant(t *testing.T) {
	f := newFixture(t)
	f.activate()

	order := &venue.SignedOrder{
		Nonce: 1, Expiry: uint64(f.now + hour),
		SignerToken: "WETH", SignerAmount: big.NewInt(5),
		Sender: f.addr, SenderToken: f.inst.ID, SenderAmount: big.NewInt(10),
	}
	cases := []struct {
		name     string
		callback func() error
	}{
		{
			name:     "close",
			callback: func() error { return f.engine.ClosePosition(f.vault) },
		},
		{
			name: "trade",
			callback: func() error {
				_, err := f.engine.MintAndSellSigned(f.operator, nil, nil, order, big.NewInt(5))
				return err
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &callbackVenue{callback: tc.callback}
			f.engine.SetVenues(Venues{Signed: stub})
			err := f.run(func() error {
				_, err := f.engine.MintAndSellSigned(f.operator, big.NewInt(10), big.NewInt(10), order, big.NewInt(5))
				return err
			})
			require.ErrorIs(t, err, nativecommon.ErrReentrant)
			require.Len(t, stub.errs, 1)
			require.ErrorIs(t, stub.errs[0], nativecommon.ErrReentrant)
			require.Equal(t, StateActivated, State(f.record().State))
			require.Zero(t, f.record().LockedCollateral.Sign())
			require.Equal(t, int64(100), f.balance("WETH", f.addr))
		})
	}

	// The guard is released once the failed trade returns.
	f.engine.SetVenues(Venues{Signed: f.signed})
	err := f.run(func() error { return f.engine.ClosePosition(f.vault) })
	require.ErrorIs(t, err, ErrCloseTooEarly)
}

func TestCloseWithoutCollateralWaitsForGracePeriod(t *testing.T) {
	f := newFixture(t)
	f.activate()

	err := f.run(func() error { return f.engine.ClosePosition(f.vault) })
	require.ErrorIs(t, err, ErrCloseTooEarly)

	f.now += int64(DefaultCloseGracePeriod)
	f.exec(func() error { return f.engine.ClosePosition(f.vault) })
	require.Equal(t, StateIdle, State(f.record().State))
	require.Equal(t, int64(100), f.balance("WETH", f.vault))

	var locked *big.Int
	require.NoError(t, f.rt.View(func() error {
		var err error
		locked, err = f.engine.LockedAsset()
		return err
	}))
	require.Zero(t, locked.Sign())
}

func TestLimitAndRFQFills(t *testing.T) {
	f := newFixture(t)
	f.activate()
	key, maker := newBuyer(t)
	f.limit.SetProtocolFee(big.NewInt(1))
	f.exec(func() error {
		if err := f.bank.Mint("WETH", maker, big.NewInt(50)); err != nil {
			return err
		}
		return f.bank.Mint(bank.NativeAsset, f.operator, big.NewInt(1))
	})

	order := &venue.LimitOrder{
		Maker: maker, MakerToken: "WETH", MakerAmount: big.NewInt(6),
		TakerToken: f.inst.ID, TakerAmount: big.NewInt(10),
		Salt: 1, Expiry: uint64(f.now + hour),
	}
	require.NoError(t, order.Sign(key, venue.KindLimit))

	_, err := f.engine.MintAndFillLimit(f.operator, big.NewInt(10), big.NewInt(10), order, big.NewInt(5), big.NewInt(1), big.NewInt(4))
	require.ErrorIs(t, err, ErrPremiumTooLow)

	var res *TradeResult
	f.exec(func() error {
		var err error
		res, err = f.engine.MintAndFillLimit(f.operator, big.NewInt(10), big.NewInt(10), order, big.NewInt(5), big.NewInt(1), big.NewInt(3))
		return err
	})
	require.Equal(t, "5", res.Sold.String())
	require.Equal(t, "3", res.Premium.String())
	require.Equal(t, int64(0), f.balance(bank.NativeAsset, f.operator))
	require.Equal(t, int64(1), f.balance(bank.NativeAsset, f.limit.FeeCollector()))
	require.Equal(t, int64(5), f.balance(f.inst.ID, f.addr))

	quote := &venue.LimitOrder{
		Maker: maker, TxOrigin: [20]byte{0x77}, MakerToken: "WETH", MakerAmount: big.NewInt(4),
		TakerToken: f.inst.ID, TakerAmount: big.NewInt(5),
		Salt: 2, Expiry: uint64(f.now + hour),
	}
	require.NoError(t, quote.Sign(key, venue.KindRFQ))
	err = f.run(func() error {
		_, err := f.engine.MintAndFillRFQ(f.operator, nil, nil, quote, big.NewInt(5), big.NewInt(4))
		return err
	})
	require.ErrorIs(t, err, venue.ErrWrongOrigin)

	quote.TxOrigin = f.operator
	require.NoError(t, quote.Sign(key, venue.KindRFQ))
	f.exec(func() error {
		_, err := f.engine.MintAndFillRFQ(f.operator, nil, nil, quote, big.NewInt(5), big.NewInt(4))
		return err
	})
	require.Equal(t, int64(0), f.balance(f.inst.ID, f.addr))
	require.Equal(t, int64(10), f.balance(f.inst.ID, maker))
	// 100 - 10 collateral + 3 + 4 premium
	require.Equal(t, int64(97), f.balance("WETH", f.addr))
	require.Equal(t, "10", f.record().LockedCollateral.String())
}

func TestAuctionLifecycle(t *testing.T) {
	f := newFixture(t)
	f.activate()
	_, bidder := newBuyer(t)
	f.exec(func() error { return f.bank.Mint("WETH", bidder, big.NewInt(100)) })

	_, err := f.engine.MintAndStartAuction(f.operator, big.NewInt(10), big.NewInt(10), big.NewInt(10), big.NewInt(0), uint64(f.now+hour))
	require.ErrorIs(t, err, ErrPremiumTooLow)

	var first *TradeResult
	f.exec(func() error {
		var err error
		first, err = f.engine.MintAndStartAuction(f.operator, big.NewInt(10), big.NewInt(10), big.NewInt(10), big.NewInt(20), uint64(f.now+hour))
		return err
	})
	require.NotZero(t, first.AuctionID)
	require.Equal(t, []uint64{first.AuctionID}, f.record().OpenAuctions)

	// Nobody bids; the lot comes back to the action.
	f.now += 2 * hour
	f.exec(func() error {
		_, err := f.engine.SettleAuction(f.operator, first.AuctionID)
		return err
	})
	require.Equal(t, int64(10), f.balance(f.inst.ID, f.addr))
	require.Empty(t, f.record().OpenAuctions)

	err = f.run(func() error {
		_, err := f.engine.SettleAuction(f.operator, first.AuctionID)
		return err
	})
	require.ErrorIs(t, err, ErrUnknownAuction)

	// Re-auction the unsold supply without posting or minting.
	var second *TradeResult
	f.exec(func() error {
		var err error
		second, err = f.engine.MintAndStartAuction(f.operator, nil, nil, big.NewInt(10), big.NewInt(20), uint64(f.now+hour))
		return err
	})
	f.exec(func() error {
		_, err := f.auction.PlaceSellOrders(second.AuctionID, bidder, []venue.BidRequest{
			{BuyAmount: big.NewInt(10), SellAmount: big.NewInt(30)},
		})
		return err
	})

	f.settleExpiry(2500)
	// The close settles the finished auction before settling the position.
	f.exec(func() error { return f.engine.ClosePosition(f.vault) })
	require.Equal(t, int64(10), f.balance(f.inst.ID, bidder))
	// 90 left after collateral, 30 proceeds, 10 collateral back out of the money.
	require.Equal(t, int64(130), f.balance("WETH", f.vault))
	require.Contains(t, f.sink.types, EventTypeAuctionSettled)
}

func TestCloseRejectsRunningAuction(t *testing.T) {
	f := newFixture(t)
	f.activate()
	f.exec(func() error {
		_, err := f.engine.MintAndStartAuction(f.operator, big.NewInt(10), big.NewInt(10), big.NewInt(10), big.NewInt(20), testExpiry+day)
		return err
	})
	f.settleExpiry(2500)
	err := f.run(func() error { return f.engine.ClosePosition(f.vault) })
	require.ErrorIs(t, err, ErrAuctionNotSettled)
	require.Equal(t, StateActivated, State(f.record().State))
}

func TestPausedActionRejectsCalls(t *testing.T) {
	f := newFixture(t)
	f.engine.SetPauses(nativecommon.NewStaticPauses([]string{"action"}))
	err := f.run(func() error { return f.engine.CommitOToken(f.operator, f.inst.ID) })
	require.ErrorIs(t, err, nativecommon.ErrModulePaused)
}

func TestConfigValidation(t *testing.T) {
	_, err := NewEngine(Config{Address: [20]byte{1}, Vault: [20]byte{1}, Asset: "WETH", Authority: nativecommon.NewAuthority([20]byte{2})})
	require.Error(t, err)
	_, err = NewEngine(Config{Address: [20]byte{1}, Vault: [20]byte{2}, Asset: "WETH"})
	require.Error(t, err)

	e, err := NewEngine(Config{Address: [20]byte{1}, Vault: [20]byte{2}, Asset: "weth", Authority: nativecommon.NewAuthority([20]byte{3})})
	require.NoError(t, err)
	cfg := e.Config()
	require.Equal(t, "WETH", cfg.Asset)
	require.Equal(t, DefaultMinCommitPeriod, cfg.MinCommitPeriod)
	require.Equal(t, DefaultCloseGracePeriod, cfg.CloseGracePeriod)

	state, err := ParseState("Activated")
	require.NoError(t, err)
	require.Equal(t, StateActivated, state)
}
