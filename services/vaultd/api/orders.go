// Package api holds the JSON forms shared by vaultd and vaultctl. Amounts are
// base-unit decimal strings and addresses use the vault bech32 form.
package api

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"optionsvault/crypto"
	"optionsvault/native/venue"
)

// SignedOrder is the wire form of venue.SignedOrder.
type SignedOrder struct {
	Nonce        uint64 `json:"nonce"`
	Expiry       uint64 `json:"expiry"`
	Signer       string `json:"signer"`
	SignerToken  string `json:"signerToken"`
	SignerAmount string `json:"signerAmount"`
	Sender       string `json:"sender,omitempty"`
	SenderToken  string `json:"senderToken"`
	SenderAmount string `json:"senderAmount"`
	Signature    string `json:"signature"`
}

// FromSignedOrder converts order to its wire form.
func FromSignedOrder(order *venue.SignedOrder) SignedOrder {
	return SignedOrder{
		Nonce:        order.Nonce,
		Expiry:       order.Expiry,
		Signer:       FormatAddress(order.Signer),
		SignerToken:  order.SignerToken,
		SignerAmount: FormatAmount(order.SignerAmount),
		Sender:       formatOptional(order.Sender),
		SenderToken:  order.SenderToken,
		SenderAmount: FormatAmount(order.SenderAmount),
		Signature:    hex.EncodeToString(order.Signature),
	}
}

// Order decodes the wire form.
func (o SignedOrder) Order() (*venue.SignedOrder, error) {
	signer, err := ParseAddress(o.Signer)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	sender, err := parseOptional(o.Sender)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	signerAmount, err := ParseAmount(o.SignerAmount)
	if err != nil {
		return nil, fmt.Errorf("signerAmount: %w", err)
	}
	senderAmount, err := ParseAmount(o.SenderAmount)
	if err != nil {
		return nil, fmt.Errorf("senderAmount: %w", err)
	}
	sig, err := parseSignature(o.Signature)
	if err != nil {
		return nil, err
	}
	return &venue.SignedOrder{
		Nonce:        o.Nonce,
		Expiry:       o.Expiry,
		Signer:       signer,
		SignerToken:  o.SignerToken,
		SignerAmount: signerAmount,
		Sender:       sender,
		SenderToken:  o.SenderToken,
		SenderAmount: senderAmount,
		Signature:    sig,
	}, nil
}

// LimitOrder is the wire form of venue.LimitOrder, used for limit and RFQ
// fills.
type LimitOrder struct {
	Maker       string `json:"maker"`
	Taker       string `json:"taker,omitempty"`
	TxOrigin    string `json:"txOrigin,omitempty"`
	MakerToken  string `json:"makerToken"`
	MakerAmount string `json:"makerAmount"`
	TakerToken  string `json:"takerToken"`
	TakerAmount string `json:"takerAmount"`
	Salt        uint64 `json:"salt"`
	Expiry      uint64 `json:"expiry"`
	Signature   string `json:"signature"`
}

// FromLimitOrder converts order to its wire form.
func FromLimitOrder(order *venue.LimitOrder) LimitOrder {
	return LimitOrder{
		Maker:       FormatAddress(order.Maker),
		Taker:       formatOptional(order.Taker),
		TxOrigin:    formatOptional(order.TxOrigin),
		MakerToken:  order.MakerToken,
		MakerAmount: FormatAmount(order.MakerAmount),
		TakerToken:  order.TakerToken,
		TakerAmount: FormatAmount(order.TakerAmount),
		Salt:        order.Salt,
		Expiry:      order.Expiry,
		Signature:   hex.EncodeToString(order.Signature),
	}
}

// Order decodes the wire form.
func (o LimitOrder) Order() (*venue.LimitOrder, error) {
	maker, err := ParseAddress(o.Maker)
	if err != nil {
		return nil, fmt.Errorf("maker: %w", err)
	}
	taker, err := parseOptional(o.Taker)
	if err != nil {
		return nil, fmt.Errorf("taker: %w", err)
	}
	origin, err := parseOptional(o.TxOrigin)
	if err != nil {
		return nil, fmt.Errorf("txOrigin: %w", err)
	}
	makerAmount, err := ParseAmount(o.MakerAmount)
	if err != nil {
		return nil, fmt.Errorf("makerAmount: %w", err)
	}
	takerAmount, err := ParseAmount(o.TakerAmount)
	if err != nil {
		return nil, fmt.Errorf("takerAmount: %w", err)
	}
	sig, err := parseSignature(o.Signature)
	if err != nil {
		return nil, err
	}
	return &venue.LimitOrder{
		Maker:       maker,
		Taker:       taker,
		TxOrigin:    origin,
		MakerToken:  o.MakerToken,
		MakerAmount: makerAmount,
		TakerToken:  o.TakerToken,
		TakerAmount: takerAmount,
		Salt:        o.Salt,
		Expiry:      o.Expiry,
		Signature:   sig,
	}, nil
}

// ParseAddress decodes a vault bech32 address.
func ParseAddress(raw string) ([20]byte, error) {
	return crypto.ParseVaultAddress(strings.TrimSpace(raw))
}

// FormatAddress encodes addr in the vault bech32 form.
func FormatAddress(addr [20]byte) string {
	return crypto.AddressFromRaw(addr).String()
}

// ParseAmount decodes a non-negative base-unit amount. Empty means zero.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return amount, nil
}

// FormatAmount renders amount, treating nil as zero.
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func formatOptional(addr [20]byte) string {
	if addr == ([20]byte{}) {
		return ""
	}
	return FormatAddress(addr)
}

func parseOptional(raw string) ([20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		return [20]byte{}, nil
	}
	return ParseAddress(raw)
}

func parseSignature(raw string) ([]byte, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}
	return sig, nil
}
