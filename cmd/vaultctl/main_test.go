package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"optionsvault/crypto"
	"optionsvault/native/venue"
	"optionsvault/services/vaultd/api"
)

func newKeystore(t *testing.T) (string, string) {
	t.Helper()
	t.Setenv(defaultPassEnv, "")
	path := filepath.Join(t.TempDir(), "maker.keystore")
	var out bytes.Buffer
	require.NoError(t, run([]string{"keygen", "-light", "-out", path}, &out))
	addr := strings.TrimSpace(out.String())
	_, err := crypto.ParseVaultAddress(addr)
	require.NoError(t, err)
	return path, addr
}

func TestKeygenAndAddress(t *testing.T) {
	path, addr := newKeystore(t)

	var out bytes.Buffer
	require.NoError(t, run([]string{"address", "-empty-pass", "-keystore", path}, &out))
	require.Equal(t, addr, strings.TrimSpace(out.String()))

	err := run([]string{"keygen", "-light", "-out", path}, &out)
	require.ErrorContains(t, err, "already exists")
}

func TestSignOrderProducesRecoverableOrder(t *testing.T) {
	path, addr := newKeystore(t)

	var out bytes.Buffer
	require.NoError(t, run([]string{
		"sign-order", "-kind", "signed", "-empty-pass", "-keystore", path,
		"-pay-token", "WETH", "-pay-amount", "5",
		"-buy-token", "oCALL", "-buy-amount", "10",
		"-nonce", "7", "-expiry", "1900000000",
	}, &out))

	var wire api.SignedOrder
	require.NoError(t, json.Unmarshal(out.Bytes(), &wire))
	require.Equal(t, addr, wire.Signer)
	order, err := wire.Order()
	require.NoError(t, err)
	require.Equal(t, uint64(7), order.Nonce)
	signer, err := crypto.RecoverSigner(order.Hash(), order.Signature)
	require.NoError(t, err)
	require.Equal(t, order.Signer, signer)
}

func TestSignLimitOrder(t *testing.T) {
	path, addr := newKeystore(t)

	var out bytes.Buffer
	require.NoError(t, run([]string{
		"sign-order", "-kind", "limit", "-empty-pass", "-keystore", path,
		"-pay-token", "WETH", "-pay-amount", "5",
		"-buy-token", "oCALL", "-buy-amount", "10",
	}, &out))

	var wire api.LimitOrder
	require.NoError(t, json.Unmarshal(out.Bytes(), &wire))
	order, err := wire.Order()
	require.NoError(t, err)
	signer, err := crypto.RecoverSigner(order.Hash(venue.KindLimit), order.Signature)
	require.NoError(t, err)
	require.Equal(t, addr, api.FormatAddress(signer))

	err = run([]string{"sign-order", "-kind", "rfq", "-empty-pass", "-keystore", path}, &out)
	require.ErrorContains(t, err, "tx-origin")

	err = run([]string{"sign-order", "-kind", "swap", "-empty-pass", "-keystore", path}, &out)
	require.ErrorContains(t, err, "unknown order kind")
}

func TestTokenRequiresSecret(t *testing.T) {
	t.Setenv(defaultSecretEnv, "")
	var out bytes.Buffer
	require.Error(t, run([]string{"token", "-sub", "alice"}, &out))

	t.Setenv(defaultSecretEnv, "test-secret")
	require.NoError(t, run([]string{"token", "-sub", "alice", "-scopes", "vault:write", "-ttl", "1m"}, &out))
	require.Len(t, strings.Split(strings.TrimSpace(out.String()), "."), 3)
}

func TestUnknownCommand(t *testing.T) {
	var out bytes.Buffer
	require.Error(t, run(nil, &out))
	require.Error(t, run([]string{"launch"}, &out))
}
