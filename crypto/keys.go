package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the human-readable part used for bech32 addresses.
type AddressPrefix string

// VaultPrefix is the prefix for every account, vault and action address.
const VaultPrefix AddressPrefix = "ovlt"

var (
	ErrInvalidSignature = errors.New("crypto: invalid signature")
	ErrWrongPrefix      = errors.New("crypto: unexpected address prefix")
)

// Address represents a 20-byte account address with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

// AddressFromRaw wraps a raw engine address with the vault prefix.
func AddressFromRaw(raw [20]byte) Address {
	return NewAddress(VaultPrefix, raw[:])
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Raw returns the address as the fixed-size array engines key state by.
func (a Address) Raw() [20]byte {
	var out [20]byte
	copy(out[:], a.bytes)
	return out
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("invalid address length %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// ParseVaultAddress decodes a bech32 string and requires the vault prefix.
func ParseVaultAddress(addrStr string) ([20]byte, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return [20]byte{}, err
	}
	if addr.Prefix() != VaultPrefix {
		return [20]byte{}, fmt.Errorf("%w: %s", ErrWrongPrefix, addr.Prefix())
	}
	return addr.Raw(), nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a 65-byte recoverable signature over a 32-byte digest.
func (k *PrivateKey) Sign(digest [32]byte) ([]byte, error) {
	return crypto.Sign(digest[:], k.PrivateKey)
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(VaultPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Keccak256 hashes the concatenation of the supplied byte slices.
func Keccak256(data ...[]byte) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak256(data...))
	return out
}

// RecoverSigner returns the raw address that produced sig over digest.
func RecoverSigner(digest [32]byte, sig []byte) ([20]byte, error) {
	if len(sig) != crypto.SignatureLength {
		return [20]byte{}, ErrInvalidSignature
	}
	pub, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return [20]byte{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	var out [20]byte
	copy(out[:], crypto.PubkeyToAddress(*pub).Bytes())
	return out, nil
}
