package venue

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"optionsvault/native/bank"
	"optionsvault/native/common"
)

var auctionCountKey = []byte("venue/auction/count")

// Bid offers SellAmount of the bidding token for BuyAmount of the auctioned
// token. Its limit price is SellAmount/BuyAmount.
type Bid struct {
	ID         uint64
	Bidder     [20]byte
	BuyAmount  *big.Int
	SellAmount *big.Int
}

// BidRequest is a bid before it is assigned an identifier.
type BidRequest struct {
	BuyAmount  *big.Int
	SellAmount *big.Int
}

// Auction is a sealed-bid batch auction settling at a uniform price.
type Auction struct {
	ID              uint64
	Seller          [20]byte
	AuctioningToken string
	BiddingToken    string
	SellAmount      *big.Int
	// MinBuyAmount is the minimum total the seller accepts for SellAmount.
	MinBuyAmount *big.Int
	Deadline     uint64
	Bids         []Bid
	NextBidID    uint64
	Settled      bool
	Sold         *big.Int
	Proceeds     *big.Int
	ClearingNum  *big.Int
	ClearingDen  *big.Int
}

// Clone returns a deep copy of the auction.
func (a *Auction) Clone() *Auction {
	if a == nil {
		return nil
	}
	clone := *a
	clone.SellAmount = cloneBig(a.SellAmount)
	clone.MinBuyAmount = cloneBig(a.MinBuyAmount)
	clone.Sold = cloneBig(a.Sold)
	clone.Proceeds = cloneBig(a.Proceeds)
	clone.ClearingNum = cloneBig(a.ClearingNum)
	clone.ClearingDen = cloneBig(a.ClearingDen)
	clone.Bids = make([]Bid, len(a.Bids))
	for i, bid := range a.Bids {
		clone.Bids[i] = Bid{ID: bid.ID, Bidder: bid.Bidder, BuyAmount: cloneBig(bid.BuyAmount), SellAmount: cloneBig(bid.SellAmount)}
	}
	return &clone
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// AuctionVenue runs batch auctions. Auctioned supply and bids are escrowed at
// the venue address until settlement.
type AuctionVenue struct {
	base
	escrow [20]byte
}

// NewAuctionVenue constructs the batch auction venue.
func NewAuctionVenue(state common.IndexedStorage, ledger Ledger) *AuctionVenue {
	return &AuctionVenue{
		base:   newBase("venue.auction", state, ledger),
		escrow: common.ModuleAddress("venue", "auction"),
	}
}

// EscrowAddress returns the address holding auctioned supply and bids.
func (v *AuctionVenue) EscrowAddress() [20]byte { return v.escrow }

func auctionKey(id uint64) []byte {
	return []byte("venue/auction/" + strconv.FormatUint(id, 10))
}

// Auction returns a stored auction.
func (v *AuctionVenue) Auction(id uint64) (*Auction, error) {
	if v.state == nil {
		return nil, errNilState
	}
	auction := new(Auction)
	ok, err := v.state.KVGet(auctionKey(id), auction)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrAuctionNotFound, id)
	}
	return auction, nil
}

func (v *AuctionVenue) store(a *Auction) error {
	return v.state.KVPut(auctionKey(a.ID), a)
}

// InitiateAuction escrows sellAmount of auctioningToken from seller and
// opens an auction accepting bids until deadline.
func (v *AuctionVenue) InitiateAuction(seller [20]byte, auctioningToken, biddingToken string, sellAmount, minBuyAmount *big.Int, deadline uint64) (uint64, error) {
	if err := v.ready(); err != nil {
		return 0, err
	}
	if sellAmount == nil || sellAmount.Sign() <= 0 || minBuyAmount == nil || minBuyAmount.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	auctioning, err := bank.NormalizeAsset(auctioningToken)
	if err != nil {
		return 0, err
	}
	bidding, err := bank.NormalizeAsset(biddingToken)
	if err != nil {
		return 0, err
	}
	if deadline <= v.now() {
		return 0, ErrAuctionClosed
	}
	var count uint64
	if _, err := v.state.KVGet(auctionCountKey, &count); err != nil {
		return 0, err
	}
	count++
	auction := &Auction{
		ID:              count,
		Seller:          seller,
		AuctioningToken: auctioning,
		BiddingToken:    bidding,
		SellAmount:      new(big.Int).Set(sellAmount),
		MinBuyAmount:    new(big.Int).Set(minBuyAmount),
		Deadline:        deadline,
		Bids:            []Bid{},
		NextBidID:       1,
		Sold:            big.NewInt(0),
		Proceeds:        big.NewInt(0),
		ClearingNum:     big.NewInt(0),
		ClearingDen:     big.NewInt(0),
	}
	if err := v.state.KVPut(auctionCountKey, count); err != nil {
		return 0, err
	}
	if err := v.store(auction); err != nil {
		return 0, err
	}
	if err := v.ledger.Transfer(auctioning, seller, v.escrow, sellAmount); err != nil {
		return 0, err
	}
	v.emit(newAuctionEvent(EventTypeAuctionStarted, auction))
	return auction.ID, nil
}

// PlaceSellOrders places bids on an open auction, escrowing the bidding
// tokens offered.
func (v *AuctionVenue) PlaceSellOrders(id uint64, bidder [20]byte, bids []BidRequest) ([]uint64, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	auction, err := v.Auction(id)
	if err != nil {
		return nil, err
	}
	if auction.Settled {
		return nil, ErrAuctionSettled
	}
	if v.now() >= auction.Deadline {
		return nil, ErrAuctionClosed
	}
	if len(bids) == 0 {
		return nil, ErrInvalidAmount
	}
	total := big.NewInt(0)
	ids := make([]uint64, 0, len(bids))
	placed := make([]Bid, 0, len(bids))
	for _, req := range bids {
		if req.BuyAmount == nil || req.BuyAmount.Sign() <= 0 || req.SellAmount == nil || req.SellAmount.Sign() <= 0 {
			return nil, ErrInvalidAmount
		}
		// SellAmount/BuyAmount >= MinBuyAmount/auction.SellAmount
		lhs := new(big.Int).Mul(req.SellAmount, auction.SellAmount)
		rhs := new(big.Int).Mul(auction.MinBuyAmount, req.BuyAmount)
		if lhs.Cmp(rhs) < 0 {
			return nil, ErrBidBelowMinimum
		}
		bid := Bid{
			ID:         auction.NextBidID,
			Bidder:     bidder,
			BuyAmount:  new(big.Int).Set(req.BuyAmount),
			SellAmount: new(big.Int).Set(req.SellAmount),
		}
		auction.NextBidID++
		auction.Bids = append(auction.Bids, bid)
		placed = append(placed, bid)
		ids = append(ids, bid.ID)
		total.Add(total, req.SellAmount)
	}
	if err := v.store(auction); err != nil {
		return nil, err
	}
	if err := v.ledger.Transfer(auction.BiddingToken, bidder, v.escrow, total); err != nil {
		return nil, err
	}
	for i := range placed {
		v.emit(newBidEvent(auction, &placed[i]))
	}
	return ids, nil
}

// SettleAuction clears a finished auction at a uniform price. Winning bids
// receive the auctioned token and a refund of any overpayment, losing bids
// are refunded in full, and unsold supply plus proceeds go to the seller.
func (v *AuctionVenue) SettleAuction(id uint64) (*Auction, error) {
	if err := v.ready(); err != nil {
		return nil, err
	}
	auction, err := v.Auction(id)
	if err != nil {
		return nil, err
	}
	if auction.Settled {
		return nil, ErrAuctionSettled
	}
	if v.now() < auction.Deadline {
		return nil, ErrAuctionOpen
	}

	order := make([]int, len(auction.Bids))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := auction.Bids[order[i]], auction.Bids[order[j]]
		// higher SellAmount/BuyAmount first
		lhs := new(big.Int).Mul(a.SellAmount, b.BuyAmount)
		rhs := new(big.Int).Mul(b.SellAmount, a.BuyAmount)
		if cmp := lhs.Cmp(rhs); cmp != 0 {
			return cmp > 0
		}
		return a.ID < b.ID
	})

	// Determine the clearing price: the marginal bid's limit when demand
	// covers supply, the seller's minimum otherwise.
	num, den := new(big.Int).Set(auction.MinBuyAmount), new(big.Int).Set(auction.SellAmount)
	demand := big.NewInt(0)
	for _, idx := range order {
		bid := auction.Bids[idx]
		demand.Add(demand, bid.BuyAmount)
		if demand.Cmp(auction.SellAmount) >= 0 {
			num.Set(bid.SellAmount)
			den.Set(bid.BuyAmount)
			break
		}
	}

	remaining := new(big.Int).Set(auction.SellAmount)
	proceeds := big.NewInt(0)
	type payout struct {
		bidder [20]byte
		tokens *big.Int
		refund *big.Int
	}
	payouts := make([]payout, 0, len(auction.Bids))
	for _, idx := range order {
		bid := auction.Bids[idx]
		qty := big.NewInt(0)
		// Bids priced strictly below clearing lose.
		if remaining.Sign() > 0 && new(big.Int).Mul(bid.SellAmount, den).Cmp(new(big.Int).Mul(num, bid.BuyAmount)) >= 0 {
			qty.Set(bid.BuyAmount)
			if qty.Cmp(remaining) > 0 {
				qty.Set(remaining)
			}
		}
		paid := new(big.Int).Mul(qty, num)
		paid.Quo(paid, den)
		if paid.Cmp(bid.SellAmount) > 0 {
			paid.Set(bid.SellAmount)
		}
		remaining.Sub(remaining, qty)
		proceeds.Add(proceeds, paid)
		payouts = append(payouts, payout{bidder: bid.Bidder, tokens: qty, refund: new(big.Int).Sub(bid.SellAmount, paid)})
	}

	auction.Settled = true
	auction.Sold = new(big.Int).Sub(auction.SellAmount, remaining)
	auction.Proceeds = proceeds
	auction.ClearingNum = num
	auction.ClearingDen = den
	if err := v.store(auction); err != nil {
		return nil, err
	}
	for _, p := range payouts {
		if err := v.ledger.Transfer(auction.AuctioningToken, v.escrow, p.bidder, p.tokens); err != nil {
			return nil, err
		}
		if err := v.ledger.Transfer(auction.BiddingToken, v.escrow, p.bidder, p.refund); err != nil {
			return nil, err
		}
	}
	if err := v.ledger.Transfer(auction.AuctioningToken, v.escrow, auction.Seller, remaining); err != nil {
		return nil, err
	}
	if err := v.ledger.Transfer(auction.BiddingToken, v.escrow, auction.Seller, proceeds); err != nil {
		return nil, err
	}
	v.emit(newAuctionEvent(EventTypeAuctionSettled, auction))
	return auction.Clone(), nil
}
