package pnl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"deribit-pnl/internal/logging"
	"deribit-pnl/internal/metrics"
	"deribit-pnl/internal/models"
	"deribit-pnl/internal/normalize"
	"deribit-pnl/internal/pricing"
	"deribit-pnl/internal/store"
)

// TransactionSource loads stored transaction records.
type TransactionSource interface {
	GetTransactions(ctx context.Context, filter store.TransactionFilter) ([]models.TransactionRecord, error)
}

// SnapshotResolver prices the instruments and currencies of a trade set.
type SnapshotResolver interface {
	Resolve(ctx context.Context, trades []models.NormalizedTrade, asOf time.Time) (*pricing.Snapshot, error)
}

// Request describes one PnL computation.
type Request struct {
	Currencies []string
	From       time.Time // zero: To minus Lookback
	To         time.Time // zero: AsOf
	AsOf       time.Time // zero: now
	Lookback   time.Duration
}

// Result is the outcome of a successful run.
type Result struct {
	RunID       string               `json:"run_id"`
	AsOf        time.Time            `json:"as_of"`
	Range       models.TimeRange     `json:"-"`
	Snapshot    *pricing.Snapshot    `json:"snapshot"`
	Trades      []models.TradePnL    `json:"trades"`
	Positions   []models.PositionRow `json:"positions"`
	Records     int                  `json:"records"`
	SkippedSpot int                  `json:"skipped_spot"`
	Duration    time.Duration        `json:"duration"`
}

// Totals sums realized and unrealized PnL over all positions.
func (r *Result) Totals() (realized, unrealized float64) {
	for _, p := range r.Positions {
		realized += p.RealizedPL
		unrealized += p.UnrealizedPL
	}
	return realized, unrealized
}

// Calculator runs PnL computations and keeps the latest successful result.
type Calculator struct {
	source   TransactionSource
	resolver SnapshotResolver
	logger   zerolog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.RWMutex
	latest *Result
}

// NewCalculator creates a calculator. m may be nil.
func NewCalculator(source TransactionSource, resolver SnapshotResolver, logger zerolog.Logger, m *metrics.Metrics) *Calculator {
	return &Calculator{
		source:   source,
		resolver: resolver,
		logger:   logging.WithComponent(logger, "pnl"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Latest returns the most recent successful result, or nil.
func (c *Calculator) Latest() *Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Run loads, normalizes, prices and values the trades selected by req.
// On failure the previous result is kept.
func (c *Calculator) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	logger := logging.WithRun(c.logger, runID)

	res, err := c.run(ctx, req, runID, logger)
	elapsed := time.Since(start)

	if err != nil {
		c.metrics.ObserveRun(elapsed, 0, 0, err)
		logger.Error().Err(err).Dur("duration", elapsed).Msg("PnL run failed")
		return nil, err
	}

	res.Duration = elapsed
	c.metrics.ObserveRun(elapsed, len(res.Trades), len(res.Positions), nil)
	realized, unrealized := res.Totals()
	logging.LogRun(logger, len(res.Trades), len(res.Positions), realized, unrealized, elapsed)

	c.mu.Lock()
	c.latest = res
	c.mu.Unlock()

	return res, nil
}

func (c *Calculator) run(ctx context.Context, req Request, runID string, logger zerolog.Logger) (*Result, error) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = c.now()
	}
	rng := models.ResolveTimeRange(req.From, req.To, asOf, req.Lookback)
	if rng.End.Before(rng.Start) {
		return nil, fmt.Errorf("invalid time range: %s is before %s", rng.End.Format(time.RFC3339), rng.Start.Format(time.RFC3339))
	}

	records, err := c.source.GetTransactions(ctx, store.TransactionFilter{
		Currencies: req.Currencies,
		Start:      rng.Start,
		End:        rng.End,
	})
	if err != nil {
		return nil, fmt.Errorf("loading transactions: %w", err)
	}

	trades, err := normalize.Normalize(records)
	if err != nil {
		return nil, err
	}
	trades = normalize.SortByTimestamp(trades)

	logger.Debug().
		Int("records", len(records)).
		Int("fills", len(trades)).
		Time("from", rng.Start).
		Time("to", rng.End).
		Msg("Trades loaded")

	snap, err := c.resolver.Resolve(ctx, trades, asOf)
	if err != nil {
		return nil, err
	}
	if err := snap.Validate(trades); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:    runID,
		AsOf:     asOf,
		Range:    rng,
		Snapshot: snap,
		Records:  len(records),
		Trades:   make([]models.TradePnL, 0, len(trades)),
	}

	for _, t := range trades {
		if t.TradeType() == models.TradeTypeSpot {
			res.SkippedSpot++
			continue
		}
		tp, err := TradePnL(t, snap)
		if err != nil {
			return nil, err
		}
		res.Trades = append(res.Trades, tp)
	}
	if res.SkippedSpot > 0 {
		logger.Warn().Int("count", res.SkippedSpot).Msg("Spot trades have no trade-level PnL")
	}

	res.Positions, err = Positions(trades, snap)
	if err != nil {
		return nil, err
	}
	return res, nil
}
