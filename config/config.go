package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"optionsvault/crypto"
)

// DefaultNetwork names a locally generated genesis.
const DefaultNetwork = "vault-devnet"

// Config is the genesis of a vault deployment: the vault, its actions, the
// simulated options protocol and venues, and seed balances.
type Config struct {
	DataDir           string       `toml:"DataDir"`
	Network           string       `toml:"Network"`
	Devnet            bool         `toml:"Devnet"`
	OwnerKeystorePath string       `toml:"OwnerKeystorePath"`
	Pauses            []string     `toml:"Pauses"`
	Vault             Vault        `toml:"Vault"`
	Actions           []Action     `toml:"Actions"`
	Options           Options      `toml:"Options"`
	Venues            Venues       `toml:"Venues"`
	Instruments       []Instrument `toml:"Instruments"`
	Balances          []Balance    `toml:"Balances"`
	Faucet            Faucet       `toml:"Faucet"`
}

// Load reads the genesis at path. A missing file is replaced by a devnet
// genesis controlled by a freshly generated owner key.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %s", path, undecoded[0].String())
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.DataDir = strings.TrimSpace(c.DataDir)
	if strings.TrimSpace(c.Network) == "" {
		c.Network = DefaultNetwork
	}
	if c.Pauses == nil {
		c.Pauses = []string{}
	}
	c.Vault.Asset = strings.ToUpper(strings.TrimSpace(c.Vault.Asset))
	c.Vault.WrappedNative = strings.ToUpper(strings.TrimSpace(c.Vault.WrappedNative))
	for i := range c.Balances {
		c.Balances[i].Asset = strings.ToUpper(strings.TrimSpace(c.Balances[i].Asset))
	}
}

// createDefault writes a single-action covered call devnet genesis whose
// owner, operator, fee recipient and pricer are one generated key.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := filepath.Join(filepath.Dir(path), "owner.keystore")
	owner, err := crypto.SaveToKeystoreWithParams(keystorePath, key, "", crypto.LightKeystore)
	if err != nil {
		return nil, err
	}
	ownerStr := owner.String()

	cfg := &Config{
		DataDir:           "./vault-data",
		Network:           DefaultNetwork,
		Devnet:            true,
		OwnerKeystorePath: keystorePath,
		Pauses:            []string{},
		Vault: Vault{
			Name:               "weth-covered-call",
			Asset:              "WETH",
			WrappedNative:      "WETH",
			Owners:             []string{ownerStr},
			FeeRecipient:       ownerStr,
			Cap:                "1000000000000000000000",
			WithdrawFeeBps:     50,
			PerformanceFeeBps:  1000,
			WithdrawReserveBps: 1000,
		},
		Actions: []Action{{
			Name:                 "call",
			Operators:            []string{ownerStr},
			MinCommitPeriodSecs:  18 * 3600,
			CloseGracePeriodSecs: 24 * 3600,
			MaxStrikeDistanceBps: 5000,
		}},
		Options: Options{Pricers: []string{ownerStr}},
		Venues:  Venues{LimitProtocolFee: "0"},
		Faucet:  Faucet{MaxRequestsPerEpoch: 10, EpochSeconds: 3600},
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
