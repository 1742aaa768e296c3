package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen     = ":8090"
	defaultGenesis    = "vault.toml"
	defaultIndexerDSN = "file:vaultd-index.db?cache=shared"
)

// Config captures the runtime settings of the vault daemon. The vault itself
// is described by the TOML genesis referenced by GenesisPath.
type Config struct {
	ListenAddress string           `yaml:"listen"`
	GenesisPath   string           `yaml:"genesis"`
	Environment   string           `yaml:"env"`
	Log           LogConfig        `yaml:"log"`
	Auth          AuthConfig       `yaml:"auth"`
	CORS          CORSConfig       `yaml:"cors"`
	RateLimits    map[string]Limit `yaml:"rate_limits"`
	Indexer       IndexerConfig    `yaml:"indexer"`
	Reports       ReportConfig     `yaml:"reports"`
	Telemetry     TelemetryConfig  `yaml:"telemetry"`
	Timeouts      TimeoutConfig    `yaml:"timeouts"`
}

// LogConfig selects the log level and optional rotated file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Enabled        bool          `yaml:"enabled"`
	HMACSecret     string        `yaml:"hmac_secret"`
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	ScopeClaim     string        `yaml:"scope_claim"`
	OptionalPaths  []string      `yaml:"optional_paths"`
	AllowAnonymous bool          `yaml:"allow_anonymous"`
	ClockSkew      time.Duration `yaml:"clock_skew"`
}

// CORSConfig lists the browser origins allowed to call the API.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Limit is a token bucket applied per client to a route group.
type Limit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// IndexerConfig selects the database backing the event history.
type IndexerConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ReportConfig controls per-round CSV and parquet reports. An empty Dir
// disables them.
type ReportConfig struct {
	Dir string `yaml:"dir"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint string            `yaml:"endpoint"`
	Insecure bool              `yaml:"insecure"`
	Headers  map[string]string `yaml:"headers"`
	Metrics  bool              `yaml:"metrics"`
	Traces   bool              `yaml:"traces"`
}

// TimeoutConfig bounds HTTP server reads and writes.
type TimeoutConfig struct {
	Read     time.Duration `yaml:"read"`
	Write    time.Duration `yaml:"write"`
	Shutdown time.Duration `yaml:"shutdown"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	cfg := Config{
		ListenAddress: defaultListen,
		GenesisPath:   defaultGenesis,
		Indexer:       IndexerConfig{Driver: "sqlite", DSN: defaultIndexerDSN},
	}
	cfg.normalize()
	return cfg
}

// Load reads the YAML configuration from disk, applies environment overrides
// and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.ApplyEnv(os.Getenv)
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides file settings with VAULTD_* and OTEL_* variables.
func (cfg *Config) ApplyEnv(getenv func(string) string) {
	if getenv == nil {
		return
	}
	set := func(key string, dst *string) {
		if value := strings.TrimSpace(getenv(key)); value != "" {
			*dst = value
		}
	}
	set("VAULTD_LISTEN", &cfg.ListenAddress)
	set("VAULTD_GENESIS", &cfg.GenesisPath)
	set("VAULTD_ENV", &cfg.Environment)
	set("VAULTD_LOG_LEVEL", &cfg.Log.Level)
	set("VAULTD_AUTH_SECRET", &cfg.Auth.HMACSecret)
	set("VAULTD_INDEXER_DRIVER", &cfg.Indexer.Driver)
	set("VAULTD_INDEXER_DSN", &cfg.Indexer.DSN)
	set("VAULTD_REPORT_DIR", &cfg.Reports.Dir)
	set("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	if value := strings.TrimSpace(getenv("VAULTD_AUTH_ENABLED")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Auth.Enabled = parsed
		}
	}
	if value := strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			cfg.Telemetry.Insecure = parsed
		}
	}
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.GenesisPath = strings.TrimSpace(cfg.GenesisPath)
	if cfg.GenesisPath == "" {
		cfg.GenesisPath = defaultGenesis
	}
	cfg.Environment = strings.ToLower(strings.TrimSpace(cfg.Environment))
	cfg.Indexer.Driver = strings.ToLower(strings.TrimSpace(cfg.Indexer.Driver))
	if cfg.Indexer.Driver == "" {
		cfg.Indexer.Driver = "sqlite"
	}
	cfg.Indexer.DSN = strings.TrimSpace(cfg.Indexer.DSN)
	cfg.Reports.Dir = strings.TrimSpace(cfg.Reports.Dir)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	paths := make([]string, 0, len(cfg.Auth.OptionalPaths))
	for _, path := range cfg.Auth.OptionalPaths {
		if trimmed := strings.TrimSpace(path); trimmed != "" {
			paths = append(paths, trimmed)
		}
	}
	cfg.Auth.OptionalPaths = paths
	if cfg.RateLimits == nil {
		cfg.RateLimits = map[string]Limit{}
	}
	if _, ok := cfg.RateLimits["read"]; !ok {
		cfg.RateLimits["read"] = Limit{RequestsPerMinute: 600, Burst: 60}
	}
	if _, ok := cfg.RateLimits["write"]; !ok {
		cfg.RateLimits["write"] = Limit{RequestsPerMinute: 120, Burst: 20}
	}
	if cfg.Timeouts.Read <= 0 {
		cfg.Timeouts.Read = 15 * time.Second
	}
	if cfg.Timeouts.Write <= 0 {
		cfg.Timeouts.Write = 30 * time.Second
	}
	if cfg.Timeouts.Shutdown <= 0 {
		cfg.Timeouts.Shutdown = 5 * time.Second
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret required when auth is enabled")
	}
	switch cfg.Indexer.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("indexer: unsupported driver %q", cfg.Indexer.Driver)
	}
	if cfg.Indexer.DSN == "" {
		return fmt.Errorf("indexer: dsn required")
	}
	for name, limit := range cfg.RateLimits {
		if limit.RequestsPerMinute < 0 || limit.Burst < 0 {
			return fmt.Errorf("rate_limits.%s: values must not be negative", name)
		}
	}
	return nil
}

// Production reports whether the daemon runs outside a dev environment.
func (cfg Config) Production() bool {
	switch cfg.Environment {
	case "", "dev", "devnet", "local", "test":
		return false
	default:
		return true
	}
}
