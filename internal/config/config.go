// Package config provides configuration management for the PnL application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "deribit-pnl/internal/errors"
)

// Config holds all application configuration.
type Config struct {
	Deribit     DeribitConfig `mapstructure:"deribit"`
	Store       StoreConfig   `mapstructure:"store"`
	Pricing     PricingConfig `mapstructure:"pricing"`
	PnL         PnLConfig     `mapstructure:"pnl"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	UI          UIConfig      `mapstructure:"ui"`
	Credentials Credentials   `mapstructure:"-"` // Loaded separately
}

// DeribitConfig holds exchange connection configuration.
type DeribitConfig struct {
	URL            string        `mapstructure:"url"`
	Testnet        bool          `mapstructure:"testnet"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	PageSize       int           `mapstructure:"page_size"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres
	Path   string `mapstructure:"path"`   // sqlite database file
	DSN    string `mapstructure:"dsn"`    // postgres connection string
}

// PricingConfig holds quote fetching configuration.
type PricingConfig struct {
	BatchSize      int           `mapstructure:"batch_size"`
	BatchPause     time.Duration `mapstructure:"batch_pause"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// PnLConfig holds computation defaults.
type PnLConfig struct {
	Currencies   []string      `mapstructure:"currencies"`
	Lookback     time.Duration `mapstructure:"lookback"`
	SyncLookback time.Duration `mapstructure:"sync_lookback"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// MetricsConfig holds Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// UIConfig holds UI-related configuration.
type UIConfig struct {
	ColorEnabled bool   `mapstructure:"color_enabled"`
	DateFormat   string `mapstructure:"date_format"`
	TimeFormat   string `mapstructure:"time_format"`
}

// Credentials holds API credentials.
type Credentials struct {
	Deribit DeribitCredentials `mapstructure:"deribit"`
}

// DeribitCredentials holds a Deribit API key pair.
type DeribitCredentials struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/deribit-pnl"
	}
	return filepath.Join(home, ".config", "deribit-pnl")
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("deribit.url", "wss://www.deribit.com/ws/api/v2")
	v.SetDefault("deribit.testnet", false)
	v.SetDefault("deribit.request_timeout", 10*time.Second)
	v.SetDefault("deribit.page_size", 1000)

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", filepath.Join(configDir, "pnl.db"))
	v.SetDefault("store.dsn", "")

	v.SetDefault("pricing.batch_size", 20)
	v.SetDefault("pricing.batch_pause", time.Second)
	v.SetDefault("pricing.request_timeout", 10*time.Second)
	v.SetDefault("pricing.max_attempts", 3)
	v.SetDefault("pricing.initial_backoff", 200*time.Millisecond)
	v.SetDefault("pricing.max_backoff", 5*time.Second)

	v.SetDefault("pnl.currencies", []string{"BTC", "ETH"})
	v.SetDefault("pnl.lookback", 14*24*time.Hour)
	v.SetDefault("pnl.sync_lookback", 52*7*24*time.Hour)
	v.SetDefault("pnl.stale_after", time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.file_path", filepath.Join(configDir, "logs", "pnl.log"))
	v.SetDefault("logging.max_size", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")

	v.SetDefault("ui.color_enabled", true)
	v.SetDefault("ui.date_format", "2006-01-02")
	v.SetDefault("ui.time_format", "15:04:05")
}

// Default returns the configuration used when no file overrides it.
func Default(configDir string) *Config {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	v := viper.New()
	setDefaults(v, configDir)

	cfg := &Config{}
	// Defaults alone always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are replaced with commented templates and defaults apply.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplateConfig(configDir); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		return createTemplateCredentials(configDir)
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DERIBIT_CLIENT_ID"); v != "" {
		cfg.Credentials.Deribit.ClientID = v
	}
	if v := os.Getenv("DERIBIT_CLIENT_SECRET"); v != "" {
		cfg.Credentials.Deribit.ClientSecret = v
	}
	if v := os.Getenv("DERIBIT_URL"); v != "" {
		cfg.Deribit.URL = v
	}
	if v := os.Getenv("PNL_STORE_DSN"); v != "" {
		cfg.Store.Driver = "postgres"
		cfg.Store.DSN = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return apperrors.NewValidationError("store.path", c.Store.Path, "required for the sqlite driver")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return apperrors.NewValidationError("store.dsn", c.Store.DSN, "required for the postgres driver")
		}
	default:
		return apperrors.NewValidationError("store.driver", c.Store.Driver, "must be 'sqlite' or 'postgres'")
	}

	if c.Pricing.BatchSize < 1 {
		return apperrors.NewValidationError("pricing.batch_size", c.Pricing.BatchSize, "must be at least 1")
	}
	if c.Pricing.BatchPause < 0 {
		return apperrors.NewValidationError("pricing.batch_pause", c.Pricing.BatchPause, "must be non-negative")
	}
	if c.Pricing.MaxAttempts < 1 {
		return apperrors.NewValidationError("pricing.max_attempts", c.Pricing.MaxAttempts, "must be at least 1")
	}
	if c.Pricing.MaxBackoff < c.Pricing.InitialBackoff {
		return apperrors.NewValidationError("pricing.max_backoff", c.Pricing.MaxBackoff, "must not be below initial_backoff")
	}

	if len(c.PnL.Currencies) == 0 {
		return apperrors.NewValidationError("pnl.currencies", c.PnL.Currencies, "at least one currency is required")
	}
	if c.PnL.Lookback <= 0 {
		return apperrors.NewValidationError("pnl.lookback", c.PnL.Lookback, "must be positive")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return apperrors.NewValidationError("logging.level", c.Logging.Level, "must be debug, info, warn or error")
	}

	if c.Deribit.PageSize < 1 {
		return apperrors.NewValidationError("deribit.page_size", c.Deribit.PageSize, "must be at least 1")
	}

	return nil
}

// DeribitURL returns the WebSocket endpoint to connect to.
func (c *Config) DeribitURL() string {
	if c.Deribit.Testnet && (c.Deribit.URL == "" || strings.Contains(c.Deribit.URL, "www.deribit.com")) {
		return "wss://test.deribit.com/ws/api/v2"
	}
	return c.Deribit.URL
}

// HasCredentials reports whether private API calls can be made.
func (c *Config) HasCredentials() bool {
	return c.Credentials.Deribit.ClientID != "" && c.Credentials.Deribit.ClientSecret != ""
}
