package config

// Vault configures the vault engine. Amounts are decimal strings in base
// units.
type Vault struct {
	Name string `toml:"Name"`
	// Address overrides the address derived from Name.
	Address string `toml:"Address,omitempty"`
	Asset   string `toml:"Asset"`
	// WrappedNative enables native deposits when it names the vault asset.
	WrappedNative      string   `toml:"WrappedNative,omitempty"`
	Owners             []string `toml:"Owners"`
	FeeRecipient       string   `toml:"FeeRecipient"`
	Cap                string   `toml:"Cap"`
	WithdrawFeeBps     uint32   `toml:"WithdrawFeeBps"`
	PerformanceFeeBps  uint32   `toml:"PerformanceFeeBps"`
	WithdrawReserveBps uint32   `toml:"WithdrawReserveBps"`
}

// Action configures one action of the vault, in allocation order.
type Action struct {
	Name                 string   `toml:"Name"`
	Address              string   `toml:"Address,omitempty"`
	IsPut                bool     `toml:"IsPut"`
	Operators            []string `toml:"Operators"`
	MinCommitPeriodSecs  uint64   `toml:"MinCommitPeriodSecs"`
	CloseGracePeriodSecs uint64   `toml:"CloseGracePeriodSecs"`
	MaxStrikeDistanceBps uint32   `toml:"MaxStrikeDistanceBps"`
	MinTimeToExpirySecs  uint64   `toml:"MinTimeToExpirySecs"`
	MaxTimeToExpirySecs  uint64   `toml:"MaxTimeToExpirySecs"`
}

// Options configures the options protocol.
type Options struct {
	// Pricers may publish live and expiry prices.
	Pricers []string `toml:"Pricers"`
}

// Venues configures the trading venues.
type Venues struct {
	// LimitProtocolFee is charged in the native asset per limit fill.
	LimitProtocolFee string `toml:"LimitProtocolFee"`
}

// Instrument seeds an option series at genesis.
type Instrument struct {
	Underlying      string `toml:"Underlying"`
	StrikeAsset     string `toml:"StrikeAsset"`
	CollateralAsset string `toml:"CollateralAsset"`
	// Strike is scaled by the options strike scale (1e8).
	Strike string `toml:"Strike"`
	Expiry uint64 `toml:"Expiry"`
	IsPut  bool   `toml:"IsPut"`
}

// Balance mints Amount of Asset to Address at genesis.
type Balance struct {
	Address string `toml:"Address"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

// Faucet limits devnet faucet mints per address. Zero disables a limit.
type Faucet struct {
	MaxRequestsPerEpoch uint32 `toml:"MaxRequestsPerEpoch"`
	MaxAmountPerEpoch   uint64 `toml:"MaxAmountPerEpoch"`
	EpochSeconds        uint32 `toml:"EpochSeconds"`
}
