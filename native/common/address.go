package common

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ModuleAddress derives the deterministic custody address of a module
// account, e.g. ModuleAddress("vault", "escrow").
func ModuleAddress(parts ...string) [20]byte {
	seed := "optionsvault/module/" + strings.ToLower(strings.Join(parts, "/"))
	var out [20]byte
	copy(out[:], ethcrypto.Keccak256([]byte(seed))[12:])
	return out
}
