package venue

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"optionsvault/core/state"
	"optionsvault/crypto"
	"optionsvault/native/bank"
	"optionsvault/storage"
)

const testNow = int64(1_700_000_000)

func newLedger(t *testing.T) (*state.Manager, *bank.Bank) {
	t.Helper()
	mgr, err := state.NewManager(storage.NewMemDB())
	require.NoError(t, err)
	return mgr, bank.New(mgr)
}

func newKey(t *testing.T) (*crypto.PrivateKey, [20]byte) {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key, key.PubKey().Address().Raw()
}

func balance(t *testing.T, b *bank.Bank, asset string, addr [20]byte) string {
	t.Helper()
	bal, err := b.BalanceOf(asset, addr)
	require.NoError(t, err)
	return bal.String()
}

func TestSignedVenueFillAndReplay(t *testing.T) {
	mgr, ledger := newLedger(t)
	venue := NewSignedVenue(mgr, ledger)
	venue.SetNowFunc(func() int64 { return testNow })

	key, buyer := newKey(t)
	seller := [20]byte{0xaa}
	require.NoError(t, ledger.Mint("USDC", buyer, big.NewInt(50)))
	require.NoError(t, ledger.Mint("OTOKEN", seller, big.NewInt(10)))

	order := &SignedOrder{
		Nonce: 1, Expiry: uint64(testNow + 60),
		SignerToken: "USDC", SignerAmount: big.NewInt(50),
		Sender: seller, SenderToken: "OTOKEN", SenderAmount: big.NewInt(10),
	}
	require.NoError(t, order.Sign(key))

	require.ErrorIs(t, venue.Fill([20]byte{0xbb}, order), ErrWrongSender)
	require.NoError(t, venue.Fill(seller, order))
	require.Equal(t, "50", balance(t, ledger, "USDC", seller))
	require.Equal(t, "10", balance(t, ledger, "OTOKEN", buyer))
	require.ErrorIs(t, venue.Fill(seller, order), ErrNonceUsed)

	tampered := *order
	tampered.Nonce = 2
	tampered.SignerAmount = big.NewInt(1)
	require.ErrorIs(t, venue.Fill(seller, &tampered), ErrBadSignature)

	expired := *order
	expired.Expiry = uint64(testNow)
	require.ErrorIs(t, venue.Fill(seller, &expired), ErrOrderExpired)
}

func TestLimitVenuePartialFillsAndFee(t *testing.T) {
	mgr, ledger := newLedger(t)
	venue := NewLimitVenue(mgr, ledger)
	venue.SetNowFunc(func() int64 { return testNow })
	venue.SetProtocolFee(big.NewInt(3))

	key, maker := newKey(t)
	taker, payer := [20]byte{0x01}, [20]byte{0x02}
	require.NoError(t, ledger.Mint("USDC", maker, big.NewInt(100)))
	require.NoError(t, ledger.Mint("OTOKEN", taker, big.NewInt(20)))
	require.NoError(t, ledger.Mint(bank.NativeAsset, payer, big.NewInt(10)))

	order := &LimitOrder{
		MakerToken: "USDC", MakerAmount: big.NewInt(100),
		TakerToken: "OTOKEN", TakerAmount: big.NewInt(10),
		Salt: 7, Expiry: uint64(testNow + 60),
	}
	require.NoError(t, order.Sign(key, KindLimit))

	_, err := venue.FillLimit(taker, payer, order, big.NewInt(4), big.NewInt(2))
	require.ErrorIs(t, err, ErrInsufficientProtocolFee)

	res, err := venue.FillLimit(taker, payer, order, big.NewInt(4), big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, "40", res.MakerFilled.String())
	require.Equal(t, "6", res.RemainingTkr.String())

	res, err = venue.FillLimit(taker, payer, order, big.NewInt(20), big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, "6", res.TakerFilled.String())
	require.Equal(t, "60", res.MakerFilled.String())

	_, err = venue.FillLimit(taker, payer, order, big.NewInt(1), big.NewInt(3))
	require.ErrorIs(t, err, ErrOrderFilled)

	require.Equal(t, "100", balance(t, ledger, "USDC", taker))
	require.Equal(t, "4", balance(t, ledger, bank.NativeAsset, payer))
	require.Equal(t, "6", balance(t, ledger, bank.NativeAsset, venue.FeeCollector()))
}

func TestRFQRequiresOrigin(t *testing.T) {
	mgr, ledger := newLedger(t)
	venue := NewLimitVenue(mgr, ledger)
	venue.SetNowFunc(func() int64 { return testNow })
	venue.SetProtocolFee(big.NewInt(5))

	key, maker := newKey(t)
	taker, origin := [20]byte{0x01}, [20]byte{0x09}
	require.NoError(t, ledger.Mint("USDC", maker, big.NewInt(30)))
	require.NoError(t, ledger.Mint("OTOKEN", taker, big.NewInt(3)))

	order := &LimitOrder{
		TxOrigin:   origin,
		MakerToken: "USDC", MakerAmount: big.NewInt(30),
		TakerToken: "OTOKEN", TakerAmount: big.NewInt(3),
		Expiry: uint64(testNow + 60),
	}
	require.NoError(t, order.Sign(key, KindRFQ))

	_, err := venue.FillRFQ(taker, taker, order, big.NewInt(3))
	require.ErrorIs(t, err, ErrWrongOrigin)

	res, err := venue.FillRFQ(taker, origin, order, big.NewInt(3))
	require.NoError(t, err)
	require.Zero(t, res.ProtocolFee.Sign())
	require.Equal(t, "30", balance(t, ledger, "USDC", taker))

	// A quote signed for RFQ cannot be replayed as a limit order.
	_, err = venue.FillLimit(taker, taker, order, big.NewInt(1), big.NewInt(5))
	require.ErrorIs(t, err, ErrBadSignature)
}

func TestAuctionUniformClearing(t *testing.T) {
	mgr, ledger := newLedger(t)
	venue := NewAuctionVenue(mgr, ledger)
	now := testNow
	venue.SetNowFunc(func() int64 { return now })

	seller := [20]byte{0x0a}
	alice, bob, carol := [20]byte{0x01}, [20]byte{0x02}, [20]byte{0x03}
	require.NoError(t, ledger.Mint("OTOKEN", seller, big.NewInt(10)))
	for _, who := range [][20]byte{alice, bob, carol} {
		require.NoError(t, ledger.Mint("USDC", who, big.NewInt(1000)))
	}

	// Minimum 2 USDC per option.
	id, err := venue.InitiateAuction(seller, "OTOKEN", "USDC", big.NewInt(10), big.NewInt(20), uint64(now+100))
	require.NoError(t, err)

	_, err = venue.PlaceSellOrders(id, alice, []BidRequest{{BuyAmount: big.NewInt(5), SellAmount: big.NewInt(9)}})
	require.ErrorIs(t, err, ErrBidBelowMinimum)

	_, err = venue.PlaceSellOrders(id, alice, []BidRequest{{BuyAmount: big.NewInt(6), SellAmount: big.NewInt(30)}})
	require.NoError(t, err)
	_, err = venue.PlaceSellOrders(id, bob, []BidRequest{{BuyAmount: big.NewInt(6), SellAmount: big.NewInt(24)}})
	require.NoError(t, err)
	_, err = venue.PlaceSellOrders(id, carol, []BidRequest{{BuyAmount: big.NewInt(5), SellAmount: big.NewInt(10)}})
	require.NoError(t, err)

	_, err = venue.SettleAuction(id)
	require.ErrorIs(t, err, ErrAuctionOpen)

	now += 100
	settled, err := venue.SettleAuction(id)
	require.NoError(t, err)
	// Alice (5/unit) fills 6, Bob (4/unit) is marginal and fills 4 at 4/unit.
	require.Equal(t, "10", settled.Sold.String())
	require.Equal(t, "40", settled.Proceeds.String())
	require.Equal(t, "40", balance(t, ledger, "USDC", seller))
	require.Equal(t, "6", balance(t, ledger, "OTOKEN", alice))
	require.Equal(t, "976", balance(t, ledger, "USDC", alice))
	require.Equal(t, "4", balance(t, ledger, "OTOKEN", bob))
	require.Equal(t, "984", balance(t, ledger, "USDC", bob))
	require.Equal(t, "0", balance(t, ledger, "OTOKEN", carol))
	require.Equal(t, "1000", balance(t, ledger, "USDC", carol))

	_, err = venue.SettleAuction(id)
	require.ErrorIs(t, err, ErrAuctionSettled)
}

func TestAuctionUndersubscribedReturnsSupply(t *testing.T) {
	mgr, ledger := newLedger(t)
	venue := NewAuctionVenue(mgr, ledger)
	now := testNow
	venue.SetNowFunc(func() int64 { return now })

	seller, bidder := [20]byte{0x0a}, [20]byte{0x01}
	require.NoError(t, ledger.Mint("OTOKEN", seller, big.NewInt(10)))
	require.NoError(t, ledger.Mint("USDC", bidder, big.NewInt(100)))

	id, err := venue.InitiateAuction(seller, "OTOKEN", "USDC", big.NewInt(10), big.NewInt(20), uint64(now+10))
	require.NoError(t, err)
	_, err = venue.PlaceSellOrders(id, bidder, []BidRequest{{BuyAmount: big.NewInt(3), SellAmount: big.NewInt(9)}})
	require.NoError(t, err)

	now += 10
	_, err = venue.PlaceSellOrders(id, bidder, []BidRequest{{BuyAmount: big.NewInt(1), SellAmount: big.NewInt(9)}})
	require.ErrorIs(t, err, ErrAuctionClosed)

	settled, err := venue.SettleAuction(id)
	require.NoError(t, err)
	require.Equal(t, "3", settled.Sold.String())
	require.Equal(t, "6", settled.Proceeds.String())
	require.Equal(t, "7", balance(t, ledger, "OTOKEN", seller))
	// 3 units at the 2 USDC minimum, 3 USDC of the 9 bid refunded.
	require.Equal(t, "94", balance(t, ledger, "USDC", bidder))
}
