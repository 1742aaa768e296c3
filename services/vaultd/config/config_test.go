package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vaultd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
listen: " 127.0.0.1:9000 "
env: Dev
auth:
  enabled: true
  hmac_secret: secret
  optional_paths: ["/healthz", " "]
rate_limits:
  write:
    requests_per_minute: 30
    burst: 5
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.Equal(t, "dev", cfg.Environment)
	require.False(t, cfg.Production())
	require.Equal(t, []string{"/healthz"}, cfg.Auth.OptionalPaths)
	require.Equal(t, "sqlite", cfg.Indexer.Driver)
	require.Equal(t, defaultIndexerDSN, cfg.Indexer.DSN)
	require.Equal(t, Limit{RequestsPerMinute: 30, Burst: 5}, cfg.RateLimits["write"])
	require.Equal(t, Limit{RequestsPerMinute: 600, Burst: 60}, cfg.RateLimits["read"])
	require.Equal(t, 15*time.Second, cfg.Timeouts.Read)
	require.Equal(t, defaultGenesis, cfg.GenesisPath)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	cases := map[string]string{
		"missing secret": "auth:\n  enabled: true\n",
		"bad driver":     "indexer:\n  driver: mysql\n  dsn: x\n",
		"unknown field":  "listen: \":1\"\nbogus: true\n",
		"negative burst": "rate_limits:\n  read:\n    burst: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}

	_, err := Load("")
	require.Error(t, err)
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"VAULTD_LISTEN":               ":7000",
		"VAULTD_INDEXER_DRIVER":       "postgres",
		"VAULTD_INDEXER_DSN":          "postgres://vault@localhost/vault",
		"VAULTD_AUTH_ENABLED":         "true",
		"VAULTD_AUTH_SECRET":          "s3cret",
		"OTEL_EXPORTER_OTLP_INSECURE": "false",
		"VAULTD_ENV":                  "prod",
	}
	cfg.ApplyEnv(func(key string) string { return env[key] })
	cfg.normalize()
	require.NoError(t, cfg.validate())
	require.Equal(t, ":7000", cfg.ListenAddress)
	require.Equal(t, "postgres", cfg.Indexer.Driver)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "s3cret", cfg.Auth.HMACSecret)
	require.False(t, cfg.Telemetry.Insecure)
	require.True(t, cfg.Production())
}
