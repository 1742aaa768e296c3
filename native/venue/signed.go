package venue

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"optionsvault/native/bank"
	"optionsvault/native/common"
)

// SignedVenue settles fully specified signed swaps atomically.
type SignedVenue struct {
	base
}

// NewSignedVenue constructs the signed order venue.
func NewSignedVenue(state common.IndexedStorage, ledger Ledger) *SignedVenue {
	return &SignedVenue{base: newBase("venue.signed", state, ledger)}
}

func nonceKey(signer [20]byte, nonce uint64) []byte {
	return []byte("venue/signed/nonce/" + hex.EncodeToString(signer[:]) + "/" + strconv.FormatUint(nonce, 10))
}

// NonceUsed reports whether the signer already consumed nonce.
func (v *SignedVenue) NonceUsed(signer [20]byte, nonce uint64) (bool, error) {
	if v.state == nil {
		return false, errNilState
	}
	return v.state.KVGet(nonceKey(signer, nonce), nil)
}

// Fill executes order on behalf of sender.
func (v *SignedVenue) Fill(sender [20]byte, order *SignedOrder) error {
	if err := v.ready(); err != nil {
		return err
	}
	if order == nil {
		return ErrInvalidOrder
	}
	if order.SignerAmount == nil || order.SignerAmount.Sign() <= 0 ||
		order.SenderAmount == nil || order.SenderAmount.Sign() <= 0 {
		return fmt.Errorf("%w: amounts must be positive", ErrInvalidOrder)
	}
	signerToken, err := bank.NormalizeAsset(order.SignerToken)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	senderToken, err := bank.NormalizeAsset(order.SenderToken)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if order.Expiry <= v.now() {
		return ErrOrderExpired
	}
	if order.Sender != ([20]byte{}) && order.Sender != sender {
		return ErrWrongSender
	}
	hash := order.Hash()
	if err := verifySignature(hash, order.Signature, order.Signer); err != nil {
		return err
	}
	used, err := v.NonceUsed(order.Signer, order.Nonce)
	if err != nil {
		return err
	}
	if used {
		return ErrNonceUsed
	}
	if err := v.state.KVPut(nonceKey(order.Signer, order.Nonce), true); err != nil {
		return err
	}
	if err := v.ledger.Transfer(senderToken, sender, order.Signer, order.SenderAmount); err != nil {
		return err
	}
	if err := v.ledger.Transfer(signerToken, order.Signer, sender, order.SignerAmount); err != nil {
		return err
	}
	v.emit(newFillEvent(EventTypeSignedFill, hash, order.Signer, sender,
		signerToken, order.SignerAmount, senderToken, order.SenderAmount))
	return nil
}
