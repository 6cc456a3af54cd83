package cli

import (
	"net/url"

	"github.com/spf13/cobra"

	"deribit-pnl/internal/config"
)

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			cfg := redacted(app.Config)
			if output.IsJSON() {
				return output.JSON(cfg)
			}
			showConfig(output, cfg)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.configDir)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path, "dir": app.configDir})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{
					"valid":           true,
					"has_credentials": app.Config.HasCredentials(),
				})
			}
			output.Success("✓ Configuration is valid")
			if !app.Config.HasCredentials() {
				output.Warning("No API credentials: 'sync' will not work until credentials.toml is filled in")
			}
			return nil
		},
	})

	return cmd
}

// redacted returns a copy of cfg with the client secret and any DSN password masked.
func redacted(cfg *config.Config) *config.Config {
	c := *cfg
	if c.Credentials.Deribit.ClientSecret != "" {
		c.Credentials.Deribit.ClientSecret = "********"
	}
	if u, err := url.Parse(c.Store.DSN); err == nil && u.User != nil {
		c.Store.DSN = u.Redacted()
	}
	return &c
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Deribit")
	output.Printf("  URL:             %s\n", cfg.DeribitURL())
	output.Printf("  Request timeout: %s\n", cfg.Deribit.RequestTimeout)
	output.Printf("  Client ID:       %s\n", orNone(cfg.Credentials.Deribit.ClientID))
	output.Println()

	output.Bold("Store")
	output.Printf("  Driver:          %s\n", cfg.Store.Driver)
	if cfg.Store.Driver == "postgres" {
		output.Printf("  DSN:             %s\n", orNone(cfg.Store.DSN))
	} else {
		output.Printf("  Path:            %s\n", cfg.Store.Path)
	}
	output.Println()

	output.Bold("Pricing")
	output.Printf("  Batch size:      %d\n", cfg.Pricing.BatchSize)
	output.Printf("  Batch pause:     %s\n", cfg.Pricing.BatchPause)
	output.Printf("  Max attempts:    %d\n", cfg.Pricing.MaxAttempts)
	output.Println()

	output.Bold("PnL")
	output.Printf("  Currencies:      %v\n", cfg.PnL.Currencies)
	output.Printf("  Lookback:        %s\n", cfg.PnL.Lookback)
	output.Printf("  Sync lookback:   %s\n", cfg.PnL.SyncLookback)
	output.Println()

	output.Bold("Logging")
	output.Printf("  Level:           %s\n", cfg.Logging.Level)
	if cfg.Logging.File {
		output.Printf("  File:            %s\n", cfg.Logging.FilePath)
	}
	output.Printf("  Metrics:         %v (%s)\n", cfg.Metrics.Enabled, cfg.Metrics.Addr)
}

func orNone(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}
