package venue

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"optionsvault/core/types"
)

const (
	EventTypeSignedFill       = "venue.signed.filled"
	EventTypeLimitFill        = "venue.limit.filled"
	EventTypeRFQFill          = "venue.rfq.filled"
	EventTypeAuctionStarted   = "venue.auction.started"
	EventTypeAuctionBid       = "venue.auction.bid"
	EventTypeAuctionSettled   = "venue.auction.settled"
	EventTypeLimitOrderCancel = "venue.limit.cancelled"
)

type venueEvent struct {
	evt *types.Event
}

func (e venueEvent) EventType() string { return e.evt.EventType() }

func (e venueEvent) Event() *types.Event { return e.evt }

func hexAddr(addr [20]byte) string { return hex.EncodeToString(addr[:]) }

func newFillEvent(kind string, hash [32]byte, maker, taker [20]byte, makerToken string, makerAmount *big.Int, takerToken string, takerAmount *big.Int) *types.Event {
	return &types.Event{Type: kind, Attributes: map[string]string{
		"order":       hex.EncodeToString(hash[:]),
		"maker":       hexAddr(maker),
		"taker":       hexAddr(taker),
		"makerToken":  makerToken,
		"makerAmount": makerAmount.String(),
		"takerToken":  takerToken,
		"takerAmount": takerAmount.String(),
	}}
}

func newAuctionEvent(kind string, a *Auction) *types.Event {
	attrs := map[string]string{
		"auction":    strconv.FormatUint(a.ID, 10),
		"seller":     hexAddr(a.Seller),
		"auctioning": a.AuctioningToken,
		"bidding":    a.BiddingToken,
		"sellAmount": a.SellAmount.String(),
		"minBuy":     a.MinBuyAmount.String(),
		"deadline":   strconv.FormatUint(a.Deadline, 10),
	}
	if a.Settled {
		attrs["sold"] = a.Sold.String()
		attrs["proceeds"] = a.Proceeds.String()
		attrs["clearingNum"] = a.ClearingNum.String()
		attrs["clearingDen"] = a.ClearingDen.String()
	}
	return &types.Event{Type: kind, Attributes: attrs}
}

func newBidEvent(a *Auction, bid *Bid) *types.Event {
	return &types.Event{Type: EventTypeAuctionBid, Attributes: map[string]string{
		"auction":   strconv.FormatUint(a.ID, 10),
		"bid":       strconv.FormatUint(bid.ID, 10),
		"bidder":    hexAddr(bid.Bidder),
		"buyAmount": bid.BuyAmount.String(),
		"payAmount": bid.SellAmount.String(),
	}}
}
