package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"deribit-pnl/internal/models"
	"deribit-pnl/internal/pnl"
	"deribit-pnl/pkg/utils"
)

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("from", "", "range start (RFC3339, YYYY-MM-DD, unix ms or age like 7d; default: pnl.lookback before --to)")
	cmd.Flags().String("to", "", "range end (default: --as-of)")
	cmd.Flags().String("as-of", "", "valuation time (default: now)")
	cmd.Flags().String("offline-quotes", "", "JSON file with mark/index/settlement prices instead of the live API")
}

// runPnL loads stored transactions for the flagged range and values them.
func (a *App) runPnL(cmd *cobra.Command) (*pnl.Result, error) {
	ref := a.now()

	asOf, err := a.timeFlag(cmd, "as-of", ref)
	if err != nil {
		return nil, err
	}
	if asOf.IsZero() {
		asOf = ref
	}
	from, err := a.timeFlag(cmd, "from", asOf)
	if err != nil {
		return nil, err
	}
	to, err := a.timeFlag(cmd, "to", asOf)
	if err != nil {
		return nil, err
	}

	st, err := a.Store(cmd.Context())
	if err != nil {
		return nil, err
	}
	source, err := a.QuoteSource(cmd)
	if err != nil {
		return nil, err
	}

	currencies := a.Currencies(cmd)
	a.warnStale(cmd, currencies)

	calc := pnl.NewCalculator(st, a.Resolver(source), a.Logger, a.Metrics)
	return calc.Run(cmd.Context(), pnl.Request{
		Currencies: currencies,
		From:       from,
		To:         to,
		AsOf:       asOf,
		Lookback:   a.Config.PnL.Lookback,
	})
}

func (a *App) timeFlag(cmd *cobra.Command, name string, ref time.Time) (time.Time, error) {
	value, _ := cmd.Flags().GetString(name)
	t, err := ParseTimeFlag(value, ref)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s: %w", name, err)
	}
	return t, nil
}

// warnStale tells the user on stderr when stored data may be behind.
func (a *App) warnStale(cmd *cobra.Command, currencies []string) {
	syncer, err := a.syncer(cmd)
	if err != nil {
		return
	}
	statuses, err := syncer.Status(cmd.Context(), currencies)
	if err != nil {
		a.Logger.Debug().Err(err).Msg("Sync status unavailable")
		return
	}

	errOut := newOutput(cmd.ErrOrStderr(), false, isTerminal())
	for _, st := range statuses {
		switch {
		case st.LastSync.IsZero():
			errOut.Warning("⚠ %s has never been synced; run 'deribit-pnl sync'", st.Currency)
		case st.IsStale:
			errOut.Warning("⚠ %s last synced %s ago", st.Currency, utils.FormatDuration(st.Age))
		}
	}
}

type positionsReport struct {
	RunID        string               `json:"run_id"`
	AsOf         time.Time            `json:"as_of"`
	From         time.Time            `json:"from"`
	To           time.Time            `json:"to"`
	Positions    []models.PositionRow `json:"positions"`
	RealizedPL   float64              `json:"realized_pl"`
	UnrealizedPL float64              `json:"unrealized_pl"`
}

func newPositionsCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Show realized and unrealized PnL per instrument",
		Example: `  deribit-pnl positions
  deribit-pnl positions --from 2023-10-01 --currency BTC
  deribit-pnl positions --as-of 2023-10-05T12:00:00Z --offline-quotes quotes.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			res, err := app.runPnL(cmd)
			if err != nil {
				return err
			}
			realized, unrealized := res.Totals()

			if output.IsJSON() {
				return output.JSON(positionsReport{
					RunID:        res.RunID,
					AsOf:         res.AsOf,
					From:         res.Range.Start,
					To:           res.Range.End,
					Positions:    res.Positions,
					RealizedPL:   realized,
					UnrealizedPL: unrealized,
				})
			}

			printRunHeader(output, res)
			if len(res.Positions) == 0 {
				output.Dim("No trades in range")
				return nil
			}

			table := NewTable(output, "Instrument", "Type", "Expiry", "Side", "Trades",
				"Bought", "Sold", "Avg Long", "Avg Short", "Live", "Realized", "Unrealized").
				AlignRight(4, 5, 6, 7, 8, 9, 10, 11)
			for _, p := range res.Positions {
				table.AddRow(
					p.InstrumentName,
					string(p.TradeType),
					FormatExpiry(p.Expiry),
					string(p.Side),
					fmt.Sprint(p.Trades),
					utils.FormatAmount(p.BuyAmount),
					utils.FormatAmount(p.SellAmount),
					FormatAvg(p.AvgLongPrice, p.BuyAmount),
					FormatAvg(p.AvgShortPrice, p.SellAmount),
					utils.FormatPrice(p.LivePrice),
					output.FormatPnL(p.RealizedPL),
					output.FormatPnL(p.UnrealizedPL),
				)
			}
			table.Render()

			output.Println()
			output.Printf("Realized:   %s\n", output.FormatPnL(realized))
			output.Printf("Unrealized: %s\n", output.FormatPnL(unrealized))
			output.Printf("Total:      %s\n", output.FormatPnL(realized+unrealized))
			return nil
		},
	}
	addRunFlags(cmd)
	return cmd
}

type tradesReport struct {
	RunID       string            `json:"run_id"`
	AsOf        time.Time         `json:"as_of"`
	From        time.Time         `json:"from"`
	To          time.Time         `json:"to"`
	Trades      []models.TradePnL `json:"trades"`
	SkippedSpot int               `json:"skipped_spot"`
}

func newTradesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show mark-to-market PnL of each fill",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			res, err := app.runPnL(cmd)
			if err != nil {
				return err
			}

			instrument, _ := cmd.Flags().GetString("instrument")
			trades := filterTrades(res.Trades, instrument)

			if output.IsJSON() {
				return output.JSON(tradesReport{
					RunID:       res.RunID,
					AsOf:        res.AsOf,
					From:        res.Range.Start,
					To:          res.Range.End,
					Trades:      trades,
					SkippedSpot: res.SkippedSpot,
				})
			}

			printRunHeader(output, res)
			if len(trades) == 0 {
				output.Dim("No trades in range")
				return nil
			}

			table := NewTable(output, "Time", "Instrument", "Dir", "Price", "Amount", "PnL", "Fees", "Net").
				AlignRight(3, 4, 5, 6, 7)
			var pnlSum, feeSum float64
			for _, t := range trades {
				table.AddRow(
					FormatTimestamp(t.Datetime),
					t.InstrumentName,
					string(t.Direction),
					utils.FormatPrice(t.Price),
					utils.FormatAmount(t.Amount),
					output.FormatPnL(t.USDPnL),
					utils.FormatUSD(t.USDFees),
					output.FormatPnL(t.USDPnLIncludingFees),
				)
				pnlSum += t.USDPnL
				feeSum += t.USDFees
			}
			table.Render()

			output.Println()
			output.Printf("%d trades  PnL %s  fees %s  net %s\n",
				len(trades), output.FormatPnL(pnlSum), utils.FormatUSD(feeSum), output.FormatPnL(pnlSum-feeSum))
			if res.SkippedSpot > 0 {
				output.Warning("%d spot trades have no trade-level PnL", res.SkippedSpot)
			}
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("instrument", "", "only show fills of this instrument")
	return cmd
}

func filterTrades(trades []models.TradePnL, instrument string) []models.TradePnL {
	if instrument == "" {
		return trades
	}
	out := make([]models.TradePnL, 0, len(trades))
	for _, t := range trades {
		if strings.EqualFold(t.InstrumentName, instrument) {
			out = append(out, t)
		}
	}
	return out
}

type summaryReport struct {
	RunID        string            `json:"run_id"`
	AsOf         time.Time         `json:"as_of"`
	Window       *models.TimeRange `json:"window,omitempty"`
	Summary      pnl.Summary       `json:"summary"`
	RealizedPL   float64           `json:"realized_pl"`
	UnrealizedPL float64           `json:"unrealized_pl"`
}

// summaryWindow narrows the pivots to a sub-range of the loaded trades.
// It is nil when neither bound is flagged; a missing bound takes the run's.
func (a *App) summaryWindow(cmd *cobra.Command, res *pnl.Result) (*models.TimeRange, error) {
	from, err := a.timeFlag(cmd, "window-from", res.AsOf)
	if err != nil {
		return nil, err
	}
	to, err := a.timeFlag(cmd, "window-to", res.AsOf)
	if err != nil {
		return nil, err
	}
	if from.IsZero() && to.IsZero() {
		return nil, nil
	}

	window := &models.TimeRange{Start: res.Range.Start, End: res.Range.End}
	if !from.IsZero() {
		window.Start = from
	}
	if !to.IsZero() {
		window.End = to
	}
	if window.Start.After(window.End) {
		return nil, fmt.Errorf("--window-from %s is after --window-to %s",
			FormatTimestamp(window.Start), FormatTimestamp(window.End))
	}
	return window, nil
}

func newSummaryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize trade PnL by currency and instrument",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			res, err := app.runPnL(cmd)
			if err != nil {
				return err
			}
			window, err := app.summaryWindow(cmd, res)
			if err != nil {
				return err
			}
			sum := pnl.Summarize(res.Trades, window)
			realized, unrealized := res.Totals()

			if output.IsJSON() {
				return output.JSON(summaryReport{
					RunID:        res.RunID,
					AsOf:         res.AsOf,
					Window:       window,
					Summary:      sum,
					RealizedPL:   realized,
					UnrealizedPL: unrealized,
				})
			}

			printRunHeader(output, res)
			if window != nil {
				output.Dim("Trades between %s and %s", FormatTimestamp(window.Start), FormatTimestamp(window.End))
				output.Println()
			}

			output.Bold("By currency")
			byCcy := NewTable(output, "Currency", "Trades", "PnL", "Fees", "Net").AlignRight(1, 2, 3, 4)
			for _, c := range append(sum.ByCurrency, sum.Total) {
				byCcy.AddRow(c.Currency, fmt.Sprint(c.Trades), output.FormatPnL(c.USDPnL),
					utils.FormatUSD(c.USDFees), output.FormatPnL(c.USDPnLIncludingFees))
			}
			byCcy.Render()
			output.Println()

			output.Bold("By instrument")
			byInst := NewTable(output, "Instrument", "Currency", "Trades", "PnL").AlignRight(2, 3)
			for _, i := range sum.ByInstrument {
				byInst.AddRow(i.InstrumentName, i.Currency, fmt.Sprint(i.Trades), output.FormatPnL(i.USDPnL))
			}
			byInst.Render()
			output.Println()

			output.Printf("Positions realized %s  unrealized %s\n",
				output.FormatPnL(realized), output.FormatPnL(unrealized))
			return nil
		},
	}
	addRunFlags(cmd)
	cmd.Flags().String("window-from", "", "only summarize trades at or after this time (same formats as --from)")
	cmd.Flags().String("window-to", "", "only summarize trades at or before this time")
	return cmd
}

func printRunHeader(output *Output, res *pnl.Result) {
	output.Dim("As of %s  range %s .. %s  run %s",
		FormatTimestamp(res.AsOf), FormatTimestamp(res.Range.Start), FormatTimestamp(res.Range.End), res.RunID)
	output.Println()
}
