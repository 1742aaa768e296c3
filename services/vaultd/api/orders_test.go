package api

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"optionsvault/crypto"
	"optionsvault/native/venue"
)

func TestSignedOrderWireFormKeepsSignature(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	order := &venue.SignedOrder{
		Nonce:        7,
		Expiry:       1000,
		SignerToken:  "WETH",
		SignerAmount: big.NewInt(20),
		SenderToken:  "OWETHUSDC-1-1C",
		SenderAmount: big.NewInt(10),
	}
	require.NoError(t, order.Sign(key))

	wire := FromSignedOrder(order)
	require.Empty(t, wire.Sender)
	decoded, err := wire.Order()
	require.NoError(t, err)
	require.Equal(t, order.Hash(), decoded.Hash())

	signer, err := crypto.RecoverSigner(decoded.Hash(), decoded.Signature)
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().Raw(), signer)
}

func TestLimitOrderRejectsBadFields(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	maker := FormatAddress(key.PubKey().Address().Raw())

	_, err = LimitOrder{Maker: "nope"}.Order()
	require.Error(t, err)
	_, err = LimitOrder{Maker: maker, MakerAmount: "-1"}.Order()
	require.Error(t, err)
	_, err = LimitOrder{Maker: maker, Signature: "zz"}.Order()
	require.Error(t, err)

	decoded, err := LimitOrder{Maker: maker, MakerAmount: "5", TakerAmount: "9", Signature: "0x0102"}.Order()
	require.NoError(t, err)
	require.Equal(t, "5", decoded.MakerAmount.String())
	require.Equal(t, []byte{1, 2}, decoded.Signature)
	require.Equal(t, [20]byte{}, decoded.Taker)
}
