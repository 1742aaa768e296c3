package venue

import (
	"errors"

	"optionsvault/native/common"
)

var (
	ErrInvalidOrder            = common.NewError(common.ClassValidation, "venue: invalid order")
	ErrBadSignature            = common.NewError(common.ClassValidation, "venue: signature does not match signer")
	ErrOrderExpired            = common.NewError(common.ClassValidation, "venue: order expired")
	ErrNonceUsed               = common.NewError(common.ClassValidation, "venue: nonce already used")
	ErrWrongSender             = common.NewError(common.ClassAuth, "venue: order restricted to another sender")
	ErrWrongOrigin             = common.NewError(common.ClassAuth, "venue: rfq order restricted to another origin")
	ErrOrderFilled             = common.NewError(common.ClassValidation, "venue: order already filled")
	ErrInsufficientProtocolFee = common.NewError(common.ClassValidation, "venue: insufficient protocol fee")
	ErrAuctionNotFound         = common.NewError(common.ClassValidation, "venue: auction not found")
	ErrAuctionClosed           = common.NewError(common.ClassPhase, "venue: auction deadline passed")
	ErrAuctionOpen             = common.NewError(common.ClassPhase, "venue: auction still open")
	ErrAuctionSettled          = common.NewError(common.ClassPhase, "venue: auction already settled")
	ErrBidBelowMinimum         = common.NewError(common.ClassValidation, "venue: bid below minimum price")
	ErrInvalidAmount           = common.NewError(common.ClassValidation, "venue: invalid amount")

	errNilState = errors.New("venue engine: state not configured")
)
