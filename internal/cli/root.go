// Package cli provides the command-line interface for the PnL application.
package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"deribit-pnl/internal/broker"
	"deribit-pnl/internal/config"
	apperrors "deribit-pnl/internal/errors"
	"deribit-pnl/internal/logging"
	"deribit-pnl/internal/metrics"
	"deribit-pnl/internal/pricing"
	"deribit-pnl/internal/store"
	"deribit-pnl/pkg/utils"
)

// Version information
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
)

// App holds the application dependencies. Exchange client and store are
// opened on first use so that commands like version and config never dial out.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	configDir     string
	client        *broker.DeribitClient
	store         store.TransactionStore
	metricsServer *metrics.Server
	now           func() time.Time
}

// NewApp creates an App. Commands fill in configuration and logger in
// their pre-run when cfg is nil.
func NewApp(cfg *config.Config, logger zerolog.Logger, configDir string) *App {
	return &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.New(),
		configDir: configDir,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// NewRootCmd creates the root command for the CLI. Configuration is loaded
// in the persistent pre-run so --config-dir is honored.
func NewRootCmd() *cobra.Command {
	cmd, _ := newRootCmd()
	return cmd
}

func newRootCmd() (*cobra.Command, *App) {
	app := NewApp(nil, zerolog.Nop(), "")

	rootCmd := &cobra.Command{
		Use:   "deribit-pnl",
		Short: "Deribit position and PnL accounting",
		Long: `deribit-pnl syncs your Deribit transaction log into a local store and
values it: per-trade mark-to-market PnL and per-instrument realized and
unrealized PnL in USD.

Run 'deribit-pnl sync' first, then 'positions', 'trades' or 'summary'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config-dir", "", "config directory (default: ~/.config/deribit-pnl)")
	flags.Bool("json", false, "output in JSON format")
	flags.Bool("no-color", false, "disable colored output")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	flags.StringSlice("currency", nil, "currencies to include (default: from config)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newSyncCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newSummaryCmd(app))

	return rootCmd, app
}

// Execute runs the root command and renders errors the way users need them.
func Execute(ctx context.Context) int {
	cmd, app := newRootCmd()
	// Post-run hooks are skipped when a command fails.
	defer app.Close()

	if err := cmd.ExecuteContext(ctx); err != nil {
		out := newOutput(cmd.ErrOrStderr(), false, isTerminal())
		out.Error("Error: %s", describeError(err))
		return 1
	}
	return 0
}

// describeError names the failing price for quote and snapshot errors.
func describeError(err error) string {
	var qe *apperrors.QuoteFetchError
	if errors.As(err, &qe) {
		return fmt.Sprintf("could not fetch %s price for %s: %v", qe.Kind, qe.Key, qe.Err)
	}
	var me *apperrors.MissingPriceError
	if errors.As(err, &me) {
		return fmt.Sprintf("no %s price for %s", me.Kind, me.Key)
	}
	if errors.Is(err, apperrors.ErrNotAuthenticated) {
		return err.Error() + " (set client_id/client_secret in credentials.toml or DERIBIT_CLIENT_ID/DERIBIT_CLIENT_SECRET)"
	}
	return err.Error()
}

func (a *App) setup(cmd *cobra.Command) error {
	configDir, _ := cmd.Flags().GetString("config-dir")
	if configDir == "" {
		configDir = config.DefaultConfigDir()
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultLogConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.File = cfg.Logging.File
	logCfg.FilePath = cfg.Logging.FilePath
	logCfg.MaxSize = cfg.Logging.MaxSize
	logCfg.MaxBackups = cfg.Logging.MaxBackups
	logCfg.MaxAge = cfg.Logging.MaxAge
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	}

	a.Config = cfg
	a.Logger = logging.NewLoggerWithConfig(logCfg)
	a.configDir = configDir

	addr, _ := cmd.Flags().GetString("metrics-addr")
	if addr == "" && cfg.Metrics.Enabled {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		a.metricsServer = metrics.NewServer(addr, a.Metrics, a.Logger)
		a.metricsServer.Start()
	}

	a.Logger.Debug().Str("config_dir", configDir).Str("store", cfg.Store.Driver).Msg("Configuration loaded")
	return nil
}

// Close releases the exchange connection, the store and the metrics server.
func (a *App) Close() error {
	var errs []error
	if a.client != nil {
		errs = append(errs, a.client.Close())
		a.client = nil
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, a.metricsServer.Stop(ctx))
		cancel()
		a.metricsServer = nil
	}
	return errors.Join(errs...)
}

// Client returns the Deribit client, creating it on first use.
func (a *App) Client() *broker.DeribitClient {
	if a.client == nil {
		a.client = broker.NewDeribitClient(broker.DeribitConfig{
			URL:            a.Config.DeribitURL(),
			ClientID:       a.Config.Credentials.Deribit.ClientID,
			ClientSecret:   a.Config.Credentials.Deribit.ClientSecret,
			RequestTimeout: a.Config.Deribit.RequestTimeout,
			PageSize:       a.Config.Deribit.PageSize,
		}, a.Logger)
	}
	return a.client
}

// Store opens the configured transaction store on first use.
func (a *App) Store(ctx context.Context) (store.TransactionStore, error) {
	if a.store != nil {
		return a.store, nil
	}

	var (
		s   store.TransactionStore
		err error
	)
	switch a.Config.Store.Driver {
	case "postgres":
		s, err = store.NewPostgresStore(ctx, a.Config.Store.DSN)
	default:
		s, err = store.NewSQLiteStore(a.Config.Store.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", a.Config.Store.Driver, err)
	}
	a.store = s
	return s, nil
}

// QuoteSource returns the live client, or a static source when
// --offline-quotes names a JSON file.
func (a *App) QuoteSource(cmd *cobra.Command) (broker.QuoteSource, error) {
	path, _ := cmd.Flags().GetString("offline-quotes")
	if path == "" {
		return a.Client(), nil
	}
	quotes, err := broker.LoadStaticQuotes(path)
	if err != nil {
		return nil, err
	}
	a.Logger.Debug().Str("path", path).Msg("Using offline quotes")
	return quotes, nil
}

// Resolver builds a snapshot resolver from the pricing configuration.
func (a *App) Resolver(source broker.QuoteSource) *pricing.Resolver {
	pc := a.Config.Pricing
	return pricing.NewResolver(source, pricing.Config{
		BatchSize:      pc.BatchSize,
		BatchPause:     pc.BatchPause,
		RequestTimeout: pc.RequestTimeout,
		Retry: utils.RetryConfig{
			MaxAttempts:   pc.MaxAttempts,
			InitialDelay:  pc.InitialBackoff,
			MaxDelay:      pc.MaxBackoff,
			BackoffFactor: 2.0,
			Permanent:     broker.IsPermanent,
		},
	}, a.Logger, pricing.WithMetrics(a.Metrics))
}

// Currencies returns the --currency flag or the configured currencies.
func (a *App) Currencies(cmd *cobra.Command) []string {
	flagged, _ := cmd.Flags().GetStringSlice("currency")
	if c := NormalizeCurrencies(flagged); len(c) > 0 {
		return c
	}
	return NormalizeCurrencies(a.Config.PnL.Currencies)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// No config or logger needed.
		PersistentPreRunE:  func(cmd *cobra.Command, args []string) error { return nil },
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("deribit-pnl v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}
