package action

import (
	"fmt"
	"math/big"
	"strings"

	"optionsvault/native/venue"
)

// SignedVenue fills fully specified signed swaps.
type SignedVenue interface {
	Fill(sender [20]byte, order *venue.SignedOrder) error
}

// LimitVenue fills limit orders and RFQ quotes.
type LimitVenue interface {
	FillLimit(taker, feePayer [20]byte, order *venue.LimitOrder, takerAmount, maxFee *big.Int) (*venue.FillResult, error)
	FillRFQ(taker, origin [20]byte, order *venue.LimitOrder, takerAmount *big.Int) (*venue.FillResult, error)
}

// AuctionVenue runs sealed-bid batch auctions.
type AuctionVenue interface {
	InitiateAuction(seller [20]byte, auctioningToken, biddingToken string, sellAmount, minBuyAmount *big.Int, deadline uint64) (uint64, error)
	SettleAuction(id uint64) (*venue.Auction, error)
	Auction(id uint64) (*venue.Auction, error)
}

// Venues groups the trading venues an action may execute against. Nil
// members disable the corresponding trade calls.
type Venues struct {
	Signed  SignedVenue
	Limit   LimitVenue
	Auction AuctionVenue
}

// Execution is what a trade executor reports once the venue call returned.
type Execution struct {
	Sold      *big.Int
	Premium   *big.Int
	AuctionID uint64
}

// Trade identifies who trades what. Action is the seller of record, Caller
// the operator that submitted the trade.
type Trade struct {
	Action     [20]byte
	Caller     [20]byte
	Asset      string
	Instrument string
}

// TradeExecutor is one way of selling the active option. Check runs before
// any collateral or instrument moves; Execute performs the venue call on
// behalf of the action.
type TradeExecutor interface {
	Kind() string
	Check(asset, instrument string) error
	Execute(trade Trade, venues Venues) (*Execution, error)
}

const (
	KindSignedOrder  = "signed"
	KindLimitOrder   = "limit"
	KindRFQOrder     = "rfq"
	KindBatchAuction = "auction"
)

func sameAsset(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func checkPremium(premium, minPremium *big.Int) error {
	if minPremium == nil || minPremium.Sign() < 0 {
		return ErrInvalidAmount
	}
	if premium == nil || premium.Cmp(minPremium) < 0 {
		return fmt.Errorf("%w: %s < %s", ErrPremiumTooLow, valueOrZero(premium), minPremium)
	}
	return nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// SignedOrderExecutor sells through a counterparty-signed swap. The signer
// pays the premium in the vault asset and receives the instrument.
type SignedOrderExecutor struct {
	Order      *venue.SignedOrder
	MinPremium *big.Int
}

func (x SignedOrderExecutor) Kind() string { return KindSignedOrder }

func (x SignedOrderExecutor) Check(asset, instrument string) error {
	if x.Order == nil {
		return fmt.Errorf("%w: order required", ErrInvalidAmount)
	}
	if !sameAsset(x.Order.SignerToken, asset) {
		return fmt.Errorf("%w: signer pays %s", ErrWrongAsset, x.Order.SignerToken)
	}
	if !sameAsset(x.Order.SenderToken, instrument) {
		return fmt.Errorf("%w: order buys %s", ErrWrongInstrument, x.Order.SenderToken)
	}
	return checkPremium(x.Order.SignerAmount, x.MinPremium)
}

func (x SignedOrderExecutor) Execute(trade Trade, venues Venues) (*Execution, error) {
	if venues.Signed == nil {
		return nil, ErrNotConfigured
	}
	if err := venues.Signed.Fill(trade.Action, x.Order); err != nil {
		return nil, err
	}
	return &Execution{
		Sold:    new(big.Int).Set(x.Order.SenderAmount),
		Premium: new(big.Int).Set(x.Order.SignerAmount),
	}, nil
}

// LimitOrderExecutor fills a resting limit order whose maker buys the
// instrument. The protocol fee is charged to the caller's native balance.
type LimitOrderExecutor struct {
	Order       *venue.LimitOrder
	TakerAmount *big.Int
	ProtocolFee *big.Int
	MinPremium  *big.Int
}

func (x LimitOrderExecutor) Kind() string { return KindLimitOrder }

func (x LimitOrderExecutor) Check(asset, instrument string) error {
	return checkLimitOrder(x.Order, x.TakerAmount, x.MinPremium, asset, instrument)
}

func (x LimitOrderExecutor) Execute(trade Trade, venues Venues) (*Execution, error) {
	if venues.Limit == nil {
		return nil, ErrNotConfigured
	}
	res, err := venues.Limit.FillLimit(trade.Action, trade.Caller, x.Order, x.TakerAmount, valueOrZero(x.ProtocolFee))
	if err != nil {
		return nil, err
	}
	// Partial fills may leave less premium than quoted.
	if err := checkPremium(res.MakerFilled, x.MinPremium); err != nil {
		return nil, err
	}
	return &Execution{Sold: res.TakerFilled, Premium: res.MakerFilled}, nil
}

// RFQExecutor fills a quote bound to the caller as transaction origin.
type RFQExecutor struct {
	Order       *venue.LimitOrder
	TakerAmount *big.Int
	MinPremium  *big.Int
}

func (x RFQExecutor) Kind() string { return KindRFQOrder }

func (x RFQExecutor) Check(asset, instrument string) error {
	return checkLimitOrder(x.Order, x.TakerAmount, x.MinPremium, asset, instrument)
}

func (x RFQExecutor) Execute(trade Trade, venues Venues) (*Execution, error) {
	if venues.Limit == nil {
		return nil, ErrNotConfigured
	}
	res, err := venues.Limit.FillRFQ(trade.Action, trade.Caller, x.Order, x.TakerAmount)
	if err != nil {
		return nil, err
	}
	if err := checkPremium(res.MakerFilled, x.MinPremium); err != nil {
		return nil, err
	}
	return &Execution{Sold: res.TakerFilled, Premium: res.MakerFilled}, nil
}

func checkLimitOrder(order *venue.LimitOrder, takerAmount, minPremium *big.Int, asset, instrument string) error {
	if order == nil || order.TakerAmount == nil || order.TakerAmount.Sign() <= 0 {
		return fmt.Errorf("%w: order required", ErrInvalidAmount)
	}
	if takerAmount == nil || takerAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !sameAsset(order.MakerToken, asset) {
		return fmt.Errorf("%w: maker pays %s", ErrWrongAsset, order.MakerToken)
	}
	if !sameAsset(order.TakerToken, instrument) {
		return fmt.Errorf("%w: order buys %s", ErrWrongInstrument, order.TakerToken)
	}
	fill := new(big.Int).Set(takerAmount)
	if fill.Cmp(order.TakerAmount) > 0 {
		fill.Set(order.TakerAmount)
	}
	quoted := new(big.Int).Mul(fill, valueOrZero(order.MakerAmount))
	quoted.Quo(quoted, order.TakerAmount)
	return checkPremium(quoted, minPremium)
}

// BatchAuctionExecutor auctions SellAmount of the active option from the
// action's balance. MinPremium is the least total the action accepts for the
// whole lot.
type BatchAuctionExecutor struct {
	SellAmount *big.Int
	MinPremium *big.Int
	Deadline   uint64
}

func (x BatchAuctionExecutor) Kind() string { return KindBatchAuction }

func (x BatchAuctionExecutor) Check(_, _ string) error {
	if x.SellAmount == nil || x.SellAmount.Sign() <= 0 {
		return fmt.Errorf("%w: sell amount must be positive", ErrInvalidAmount)
	}
	if x.MinPremium == nil || x.MinPremium.Sign() <= 0 {
		return fmt.Errorf("%w: minimum premium must be positive", ErrPremiumTooLow)
	}
	return nil
}

// Execute starts the auction. Premium is only known once it settles.
func (x BatchAuctionExecutor) Execute(trade Trade, venues Venues) (*Execution, error) {
	if venues.Auction == nil {
		return nil, ErrNotConfigured
	}
	id, err := venues.Auction.InitiateAuction(trade.Action, trade.Instrument, trade.Asset, x.SellAmount, x.MinPremium, x.Deadline)
	if err != nil {
		return nil, err
	}
	return &Execution{Sold: big.NewInt(0), Premium: big.NewInt(0), AuctionID: id}, nil
}
