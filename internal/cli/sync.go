package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	apperrors "deribit-pnl/internal/errors"
	"deribit-pnl/internal/store"
	"deribit-pnl/pkg/utils"
)

func newSyncCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Download the transaction log into the local store",
		Long: `Download the Deribit transaction log of each currency into the local store.

The first sync of a currency reaches back pnl.sync_lookback (52 weeks by
default); later syncs continue from the previous one. Records are stored
once per (id, currency), so re-running is safe.`,
		Example: `  deribit-pnl sync
  deribit-pnl sync --currency ETH
  deribit-pnl sync status`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			if !app.Config.HasCredentials() {
				return fmt.Errorf("sync needs an API key: %w", apperrors.ErrNotAuthenticated)
			}

			syncer, err := app.syncer(cmd)
			if err != nil {
				return err
			}

			currencies := app.Currencies(cmd)
			results, err := syncer.Sync(cmd.Context(), currencies)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(results)
			}

			table := NewTable(output, "Currency", "From", "To", "Fetched", "New").AlignRight(3, 4)
			total := 0
			for _, r := range results {
				table.AddRow(r.Currency, FormatTimestamp(r.From), FormatTimestamp(r.To),
					fmt.Sprint(r.Fetched), fmt.Sprint(r.Saved))
				total += r.Saved
			}
			table.Render()
			output.Println()
			output.Success("✓ Synced %d currencies, %d new records", len(results), total)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show when each currency was last synced",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			syncer, err := app.syncer(cmd)
			if err != nil {
				return err
			}
			statuses, err := syncer.Status(cmd.Context(), app.Currencies(cmd))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(statuses)
			}

			table := NewTable(output, "Currency", "Last Sync", "Age", "State")
			for _, st := range statuses {
				age, state := "-", output.Yellow("never synced")
				if !st.LastSync.IsZero() {
					age = utils.FormatDuration(st.Age)
					state = output.Green("fresh")
					if st.IsStale {
						state = output.Yellow("stale")
					}
				}
				table.AddRow(st.Currency, FormatTimestamp(st.LastSync), age, state)
			}
			table.Render()
			return nil
		},
	})

	return cmd
}

func (a *App) syncer(cmd *cobra.Command) (*store.Syncer, error) {
	st, err := a.Store(cmd.Context())
	if err != nil {
		return nil, err
	}
	return store.NewSyncer(a.Client(), st, store.SyncConfig{
		Lookback:   a.Config.PnL.SyncLookback,
		StaleAfter: a.Config.PnL.StaleAfter,
	}, a.Logger, a.Metrics), nil
}
