package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" authorization = Bearer x ,bad, =skip,tenant=vault")
	require.Equal(t, map[string]string{"authorization": "Bearer x", "tenant": "vault"}, got)
}

func TestInitDisabledIsNoop(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "vaultd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
