package crypto

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

// KeystoreParams selects the scrypt cost used when encrypting a key.
type KeystoreParams struct {
	N int
	P int
}

var (
	// StandardKeystore matches the cost used by production wallets.
	StandardKeystore = KeystoreParams{N: keystore.StandardScryptN, P: keystore.StandardScryptP}
	// LightKeystore is suitable for devnet operators and tests.
	LightKeystore = KeystoreParams{N: keystore.LightScryptN, P: keystore.LightScryptP}
)

// SaveToKeystore writes key to an Ethereum v3 keystore file at path using the
// standard scrypt cost and returns the vault address it controls.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) (Address, error) {
	return SaveToKeystoreWithParams(path, key, passphrase, StandardKeystore)
}

// SaveToKeystoreWithParams is SaveToKeystore with an explicit scrypt cost.
// Missing parent directories are created with 0700 permissions.
func SaveToKeystoreWithParams(path string, key *PrivateKey, passphrase string, params KeystoreParams) (Address, error) {
	if key == nil {
		return Address{}, errors.New("crypto: nil private key")
	}
	if path == "" {
		return Address{}, errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Address{}, err
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return Address{}, err
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, params.N, params.P)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return Address{}, err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return Address{}, err
	}
	if len(entries) == 0 {
		return Address{}, errors.New("crypto: failed to create keystore file")
	}

	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Address{}, err
	}
	if err := os.Rename(src, path); err != nil {
		return Address{}, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return Address{}, err
	}
	return key.PubKey().Address(), nil
}

// LoadFromKeystore decrypts an Ethereum v3 keystore file using the supplied passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}

	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}

	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
