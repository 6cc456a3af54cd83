package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "deribit-pnl/internal/errors"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"DERIBIT_CLIENT_ID", "DERIBIT_CLIENT_SECRET", "DERIBIT_URL", "PNL_STORE_DSN"} {
		t.Setenv(k, "")
	}
}

func TestLoad_CreatesTemplatesAndUsesDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(dir, "config.toml"))
	info, err := os.Stat(filepath.Join(dir, "credentials.toml"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, filepath.Join(dir, "pnl.db"), cfg.Store.Path)
	assert.Equal(t, 20, cfg.Pricing.BatchSize)
	assert.Equal(t, time.Second, cfg.Pricing.BatchPause)
	assert.Equal(t, 14*24*time.Hour, cfg.PnL.Lookback)
	assert.Equal(t, []string{"BTC", "ETH"}, cfg.PnL.Currencies)
	assert.False(t, cfg.HasCredentials())
}

func TestLoad_TemplateRoundTrips(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	first, err := Load(dir)
	require.NoError(t, err)
	// The second load reads the template written by the first.
	second, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, first.Pricing, second.Pricing)
	assert.Equal(t, first.PnL, second.PnL)
	assert.Equal(t, 52*7*24*time.Hour, second.PnL.SyncLookback)
}

func TestLoad_ReadsFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(`
[pricing]
batch_size = 5
batch_pause = "250ms"

[pnl]
currencies = ["ETH"]
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "credentials.toml"), []byte(`
[deribit]
client_id = "abc"
client_secret = "xyz"
`), 0600))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Pricing.BatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Pricing.BatchPause)
	assert.Equal(t, 3, cfg.Pricing.MaxAttempts)
	assert.Equal(t, []string{"ETH"}, cfg.PnL.Currencies)
	assert.Equal(t, "abc", cfg.Credentials.Deribit.ClientID)
	assert.True(t, cfg.HasCredentials())
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DERIBIT_CLIENT_ID", "env-id")
	t.Setenv("DERIBIT_CLIENT_SECRET", "env-secret")
	t.Setenv("DERIBIT_URL", "wss://example.invalid/ws")
	t.Setenv("PNL_STORE_DSN", "postgres://u:p@localhost/pnl")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "env-id", cfg.Credentials.Deribit.ClientID)
	assert.Equal(t, "wss://example.invalid/ws", cfg.DeribitURL())
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://u:p@localhost/pnl", cfg.Store.DSN)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad driver", func(c *Config) { c.Store.Driver = "mysql" }, "store.driver"},
		{"postgres without dsn", func(c *Config) { c.Store.Driver = "postgres" }, "store.dsn"},
		{"zero batch", func(c *Config) { c.Pricing.BatchSize = 0 }, "pricing.batch_size"},
		{"negative pause", func(c *Config) { c.Pricing.BatchPause = -time.Second }, "pricing.batch_pause"},
		{"no attempts", func(c *Config) { c.Pricing.MaxAttempts = 0 }, "pricing.max_attempts"},
		{"no currencies", func(c *Config) { c.PnL.Currencies = nil }, "pnl.currencies"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, apperrors.ErrConfigInvalid)
			var ve *apperrors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestDeribitURL_Testnet(t *testing.T) {
	cfg := Default(t.TempDir())
	assert.Equal(t, "wss://www.deribit.com/ws/api/v2", cfg.DeribitURL())

	cfg.Deribit.Testnet = true
	assert.Equal(t, "wss://test.deribit.com/ws/api/v2", cfg.DeribitURL())
}
