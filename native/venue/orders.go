package venue

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"optionsvault/crypto"
)

// OrderKind separates the signing domains of the venues.
type OrderKind uint8

const (
	KindSigned OrderKind = iota + 1
	KindLimit
	KindRFQ
)

var domainTag = []byte("optionsvault/venue/v1")

// SignedOrder is a fully specified peer-to-peer swap. The signer gives
// SignerAmount of SignerToken and receives SenderAmount of SenderToken from
// the sender that submits it.
type SignedOrder struct {
	Nonce        uint64
	Expiry       uint64
	Signer       [20]byte
	SignerToken  string
	SignerAmount *big.Int
	// Sender may be zero to allow any submitter.
	Sender       [20]byte
	SenderToken  string
	SenderAmount *big.Int
	Signature    []byte
}

type signedOrderPayload struct {
	Kind         uint8
	Nonce        uint64
	Expiry       uint64
	Signer       [20]byte
	SignerToken  string
	SignerAmount *big.Int
	Sender       [20]byte
	SenderToken  string
	SenderAmount *big.Int
}

// Hash returns the digest the signer signs.
func (o *SignedOrder) Hash() [32]byte {
	payload, err := rlp.EncodeToBytes(signedOrderPayload{
		Kind:         uint8(KindSigned),
		Nonce:        o.Nonce,
		Expiry:       o.Expiry,
		Signer:       o.Signer,
		SignerToken:  o.SignerToken,
		SignerAmount: nonNil(o.SignerAmount),
		Sender:       o.Sender,
		SenderToken:  o.SenderToken,
		SenderAmount: nonNil(o.SenderAmount),
	})
	if err != nil {
		panic(fmt.Sprintf("venue: encode signed order: %v", err))
	}
	return crypto.Keccak256(domainTag, payload)
}

// Sign sets the order signature using key. The signer field is overwritten
// with the key's address.
func (o *SignedOrder) Sign(key *crypto.PrivateKey) error {
	o.Signer = key.PubKey().Address().Raw()
	sig, err := key.Sign(o.Hash())
	if err != nil {
		return err
	}
	o.Signature = sig
	return nil
}

// LimitOrder is a resting maker order that can be partially filled. For RFQ
// orders TxOrigin pins the account allowed to originate the fill.
type LimitOrder struct {
	Maker [20]byte
	// Taker may be zero to allow any taker.
	Taker       [20]byte
	TxOrigin    [20]byte
	MakerToken  string
	MakerAmount *big.Int
	TakerToken  string
	TakerAmount *big.Int
	Salt        uint64
	Expiry      uint64
	Signature   []byte
}

type limitOrderPayload struct {
	Kind        uint8
	Maker       [20]byte
	Taker       [20]byte
	TxOrigin    [20]byte
	MakerToken  string
	MakerAmount *big.Int
	TakerToken  string
	TakerAmount *big.Int
	Salt        uint64
	Expiry      uint64
}

// Hash returns the digest the maker signs for the given order kind.
func (o *LimitOrder) Hash(kind OrderKind) [32]byte {
	payload, err := rlp.EncodeToBytes(limitOrderPayload{
		Kind:        uint8(kind),
		Maker:       o.Maker,
		Taker:       o.Taker,
		TxOrigin:    o.TxOrigin,
		MakerToken:  o.MakerToken,
		MakerAmount: nonNil(o.MakerAmount),
		TakerToken:  o.TakerToken,
		TakerAmount: nonNil(o.TakerAmount),
		Salt:        o.Salt,
		Expiry:      o.Expiry,
	})
	if err != nil {
		panic(fmt.Sprintf("venue: encode limit order: %v", err))
	}
	return crypto.Keccak256(domainTag, payload)
}

// Sign sets the maker and signature of the order for kind.
func (o *LimitOrder) Sign(key *crypto.PrivateKey, kind OrderKind) error {
	o.Maker = key.PubKey().Address().Raw()
	sig, err := key.Sign(o.Hash(kind))
	if err != nil {
		return err
	}
	o.Signature = sig
	return nil
}

// FillResult reports the amounts exchanged by a limit or RFQ fill.
type FillResult struct {
	Hash         [32]byte
	TakerFilled  *big.Int
	MakerFilled  *big.Int
	ProtocolFee  *big.Int
	RemainingTkr *big.Int
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func verifySignature(digest [32]byte, sig []byte, expected [20]byte) error {
	signer, err := crypto.RecoverSigner(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if signer != expected {
		return ErrBadSignature
	}
	return nil
}
