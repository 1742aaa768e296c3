package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"optionsvault/crypto"
	"optionsvault/native/action"
	nativecommon "optionsvault/native/common"
	"optionsvault/native/options"
	"optionsvault/native/vault"
)

// Validate checks the genesis is internally consistent. Engine level checks
// run again when the engine configs are built.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Vault.Name) == "" && strings.TrimSpace(c.Vault.Address) == "" {
		return errors.New("vault: Name or Address required")
	}
	if _, err := c.VaultConfig(); err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	if len(c.Actions) == 0 {
		return errors.New("actions: at least one action required")
	}
	names := make(map[string]struct{}, len(c.Actions))
	for i := range c.Actions {
		name := strings.ToLower(strings.TrimSpace(c.Actions[i].Name))
		if _, dup := names[name]; dup {
			return fmt.Errorf("actions[%d]: duplicate name %q", i, c.Actions[i].Name)
		}
		names[name] = struct{}{}
		if _, err := c.ActionConfig(i); err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
	}
	if _, err := ParseAuthority(c.Options.Pricers); err != nil {
		return fmt.Errorf("options.Pricers: %w", err)
	}
	if _, err := ParseAmount(c.Venues.LimitProtocolFee); err != nil {
		return fmt.Errorf("venues.LimitProtocolFee: %w", err)
	}
	for i := range c.Instruments {
		if _, err := c.Instruments[i].Params(); err != nil {
			return fmt.Errorf("instruments[%d]: %w", i, err)
		}
	}
	for i, bal := range c.Balances {
		if _, err := crypto.ParseVaultAddress(bal.Address); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
		if bal.Asset == "" {
			return fmt.Errorf("balances[%d]: asset required", i)
		}
		if _, err := ParseAmount(bal.Amount); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
	}
	return nil
}

// VaultAddress returns the configured vault address or the one derived from
// its name.
func (c *Config) VaultAddress() ([20]byte, error) {
	if raw := strings.TrimSpace(c.Vault.Address); raw != "" {
		return crypto.ParseVaultAddress(raw)
	}
	return nativecommon.ModuleAddress("vault", strings.ToLower(strings.TrimSpace(c.Vault.Name))), nil
}

// ActionAddress returns the address of action i.
func (c *Config) ActionAddress(i int) ([20]byte, error) {
	if i < 0 || i >= len(c.Actions) {
		return [20]byte{}, fmt.Errorf("action index %d out of range", i)
	}
	if raw := strings.TrimSpace(c.Actions[i].Address); raw != "" {
		return crypto.ParseVaultAddress(raw)
	}
	return nativecommon.ModuleAddress("action",
		strings.ToLower(strings.TrimSpace(c.Vault.Name)),
		strings.ToLower(strings.TrimSpace(c.Actions[i].Name))), nil
}

// VaultConfig builds the vault engine configuration.
func (c *Config) VaultConfig() (vault.Config, error) {
	addr, err := c.VaultAddress()
	if err != nil {
		return vault.Config{}, err
	}
	owners, err := ParseAuthority(c.Vault.Owners)
	if err != nil {
		return vault.Config{}, fmt.Errorf("owners: %w", err)
	}
	recipient, err := crypto.ParseVaultAddress(c.Vault.FeeRecipient)
	if err != nil {
		return vault.Config{}, fmt.Errorf("fee recipient: %w", err)
	}
	limit, err := ParseAmount(c.Vault.Cap)
	if err != nil {
		return vault.Config{}, fmt.Errorf("cap: %w", err)
	}
	actions := make([][20]byte, len(c.Actions))
	for i := range c.Actions {
		if actions[i], err = c.ActionAddress(i); err != nil {
			return vault.Config{}, err
		}
	}
	cfg := vault.Config{
		Address:            addr,
		Asset:              c.Vault.Asset,
		Owners:             owners,
		Actions:            actions,
		FeeRecipient:       recipient,
		Cap:                limit,
		WithdrawFeeBps:     c.Vault.WithdrawFeeBps,
		PerformanceFeeBps:  c.Vault.PerformanceFeeBps,
		WithdrawReserveBps: c.Vault.WithdrawReserveBps,
	}
	if len(actions) > 0 {
		if err := cfg.Validate(); err != nil {
			return vault.Config{}, err
		}
	}
	return cfg, nil
}

// ActionConfig builds the engine configuration of action i.
func (c *Config) ActionConfig(i int) (action.Config, error) {
	addr, err := c.ActionAddress(i)
	if err != nil {
		return action.Config{}, err
	}
	vaultAddr, err := c.VaultAddress()
	if err != nil {
		return action.Config{}, err
	}
	entry := c.Actions[i]
	operators, err := ParseAuthority(entry.Operators)
	if err != nil {
		return action.Config{}, fmt.Errorf("operators: %w", err)
	}
	cfg := action.Config{
		Address:              addr,
		Vault:                vaultAddr,
		Asset:                c.Vault.Asset,
		IsPut:                entry.IsPut,
		Authority:            operators,
		MinCommitPeriod:      entry.MinCommitPeriodSecs,
		CloseGracePeriod:     entry.CloseGracePeriodSecs,
		MaxStrikeDistanceBps: entry.MaxStrikeDistanceBps,
		MinTimeToExpiry:      entry.MinTimeToExpirySecs,
		MaxTimeToExpiry:      entry.MaxTimeToExpirySecs,
	}
	if _, err := action.NewEngine(cfg); err != nil {
		return action.Config{}, err
	}
	return cfg, nil
}

// Params converts the seed into protocol instrument parameters.
func (i Instrument) Params() (options.InstrumentParams, error) {
	strike, err := ParseAmount(i.Strike)
	if err != nil {
		return options.InstrumentParams{}, fmt.Errorf("strike: %w", err)
	}
	if strike.Sign() == 0 {
		return options.InstrumentParams{}, errors.New("strike must be positive")
	}
	if i.Expiry == 0 {
		return options.InstrumentParams{}, errors.New("expiry required")
	}
	return options.InstrumentParams{
		Underlying:      i.Underlying,
		StrikeAsset:     i.StrikeAsset,
		CollateralAsset: i.CollateralAsset,
		Strike:          strike,
		Expiry:          i.Expiry,
		IsPut:           i.IsPut,
	}, nil
}

// ParseAuthority decodes a list of bech32 addresses.
func ParseAuthority(values []string) (nativecommon.Authority, error) {
	addrs := make([][20]byte, 0, len(values))
	for _, raw := range values {
		addr, err := crypto.ParseVaultAddress(strings.TrimSpace(raw))
		if err != nil {
			return nativecommon.Authority{}, err
		}
		addrs = append(addrs, addr)
	}
	return nativecommon.NewAuthority(addrs...), nil
}

// ParseAmount parses a non-negative base-10 integer. Empty means zero.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", value)
	}
	return amount, nil
}
