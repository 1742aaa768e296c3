package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	addr := key.PubKey().Address()
	require.Equal(t, VaultPrefix, addr.Prefix())

	encoded := addr.String()
	require.Contains(t, encoded, "ovlt1")
	raw, err := ParseVaultAddress(encoded)
	require.NoError(t, err)
	require.Equal(t, addr.Raw(), raw)
	require.Equal(t, encoded, AddressFromRaw(raw).String())
}

func TestParseVaultAddressRejectsForeignPrefix(t *testing.T) {
	foreign := NewAddress("other", make([]byte, 20)).String()
	_, err := ParseVaultAddress(foreign)
	require.ErrorIs(t, err, ErrWrongPrefix)

	_, err = ParseVaultAddress("not-bech32")
	require.Error(t, err)
}

func TestSignAndRecover(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	digest := Keccak256([]byte("order"), []byte{1})
	sig, err := key.Sign(digest)
	require.NoError(t, err)

	signer, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Raw(), signer)

	_, err = RecoverSigner(digest, sig[:10])
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestKeystoreRoundTrip(t *testing.T) {
	key, err := GeneratePrivateKey()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "keys", "operator.json")
	addr, err := SaveToKeystoreWithParams(path, key, "correct horse", LightKeystore)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Raw(), addr.Raw())

	loaded, err := LoadFromKeystore(path, "correct horse")
	require.NoError(t, err)
	require.Equal(t, key.Bytes(), loaded.Bytes())

	_, err = LoadFromKeystore(path, "wrong")
	require.Error(t, err)
}
