package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"optionsvault/crypto"
	nativecommon "optionsvault/native/common"
)

var (
	testOwner    = crypto.AddressFromRaw([20]byte{0x01}).String()
	testOperator = crypto.AddressFromRaw([20]byte{0x02}).String()
	testFees     = crypto.AddressFromRaw([20]byte{0x03}).String()
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vault.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func validGenesis() string {
	return fmt.Sprintf(`DataDir = "./data"
Devnet = true
Pauses = ["venue.auction"]

[Vault]
Name = "ETH-Covered-Call"
Asset = "weth"
Owners = [%q]
FeeRecipient = %q
Cap = "1000"
PerformanceFeeBps = 1000
WithdrawReserveBps = 1000

[[Actions]]
Name = "call"
Operators = [%q]
MaxStrikeDistanceBps = 2000

[[Actions]]
Name = "put"
IsPut = true
Operators = [%q]
MinCommitPeriodSecs = 600

[Options]
Pricers = [%q]

[Venues]
LimitProtocolFee = "5"

[[Instruments]]
Underlying = "WETH"
StrikeAsset = "USDC"
CollateralAsset = "WETH"
Strike = "300000000000"
Expiry = 1700035200

[[Balances]]
Address = %q
Asset = "weth"
Amount = "500"
`, testOwner, testFees, testOperator, testOperator, testOwner, testOperator)
}

func TestLoadBuildsEngineConfigs(t *testing.T) {
	cfg, err := Load(writeConfig(t, validGenesis()))
	require.NoError(t, err)
	require.Equal(t, DefaultNetwork, cfg.Network)
	require.Equal(t, "WETH", cfg.Vault.Asset)
	require.Equal(t, "WETH", cfg.Balances[0].Asset)

	vcfg, err := cfg.VaultConfig()
	require.NoError(t, err)
	require.Equal(t, nativecommon.ModuleAddress("vault", "eth-covered-call"), vcfg.Address)
	require.Equal(t, "1000", vcfg.Cap.String())
	require.Len(t, vcfg.Actions, 2)
	require.Equal(t, uint32(1000), vcfg.PerformanceFeeBps)

	put, err := cfg.ActionConfig(1)
	require.NoError(t, err)
	require.True(t, put.IsPut)
	require.Equal(t, vcfg.Actions[1], put.Address)
	require.Equal(t, vcfg.Address, put.Vault)
	require.Equal(t, uint64(600), put.MinCommitPeriod)
	require.True(t, put.Authority.Allows([20]byte{0x02}))

	params, err := cfg.Instruments[0].Params()
	require.NoError(t, err)
	require.Equal(t, "300000000000", params.Strike.String())
}

func TestLoadRejectsInvalidGenesis(t *testing.T) {
	cases := map[string]string{
		"unknown key":       validGenesis() + "\nBogus = 1\n",
		"bad owner":         `[Vault]` + "\nName = \"v\"\nAsset = \"WETH\"\nOwners = [\"nope\"]\n",
		"no actions":        fmt.Sprintf("[Vault]\nName = \"v\"\nAsset = \"WETH\"\nOwners = [%q]\nFeeRecipient = %q\nCap = \"1\"\n", testOwner, testFees),
		"negative cap":      fmt.Sprintf("[Vault]\nName = \"v\"\nAsset = \"WETH\"\nOwners = [%q]\nFeeRecipient = %q\nCap = \"-1\"\n", testOwner, testFees),
		"perf fee too high": fmt.Sprintf("[Vault]\nName = \"v\"\nAsset = \"WETH\"\nOwners = [%q]\nFeeRecipient = %q\nCap = \"1\"\nPerformanceFeeBps = 6000\n[[Actions]]\nName = \"a\"\nOperators = [%q]\n", testOwner, testFees, testOperator),
		"duplicate action":  fmt.Sprintf("[Vault]\nName = \"v\"\nAsset = \"WETH\"\nOwners = [%q]\nFeeRecipient = %q\nCap = \"1\"\n[[Actions]]\nName = \"a\"\nOperators = [%q]\n[[Actions]]\nName = \"A\"\nOperators = [%q]\n", testOwner, testFees, testOperator, testOperator),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadCreatesDefaultGenesis(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vault.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.True(t, cfg.Devnet)
	require.FileExists(t, path)
	require.FileExists(t, cfg.OwnerKeystorePath)

	key, err := crypto.LoadFromKeystore(cfg.OwnerKeystorePath, "")
	require.NoError(t, err)
	require.Equal(t, key.PubKey().Address().String(), cfg.Vault.Owners[0])

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Vault, reloaded.Vault)
	require.Len(t, reloaded.Actions, 1)
}

func TestParseAmount(t *testing.T) {
	v, err := ParseAmount(" ")
	require.NoError(t, err)
	require.Zero(t, v.Sign())
	_, err = ParseAmount("1e18")
	require.Error(t, err)
	_, err = ParseAmount("-5")
	require.Error(t, err)
}
