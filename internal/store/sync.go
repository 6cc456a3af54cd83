package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"deribit-pnl/internal/broker"
	"deribit-pnl/internal/logging"
	"deribit-pnl/internal/metrics"
)

// SyncConfig holds configuration for the syncer.
type SyncConfig struct {
	// Lookback is how far back the first sync of a currency reaches.
	Lookback time.Duration
	// StaleAfter is the age after which a currency's data counts as stale.
	StaleAfter time.Duration
}

// DefaultSyncConfig returns default sync configuration.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Lookback:   52 * 7 * 24 * time.Hour,
		StaleAfter: time.Hour,
	}
}

// SyncResult describes one currency's sync.
type SyncResult struct {
	Currency string    `json:"currency"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	Fetched  int       `json:"fetched"`
	Saved    int       `json:"saved"`
}

// SyncStatus represents the sync state of one currency.
type SyncStatus struct {
	Currency string        `json:"currency"`
	LastSync time.Time     `json:"last_sync"`
	IsStale  bool          `json:"is_stale"`
	Age      time.Duration `json:"age"`
}

// Syncer copies the exchange transaction log into a TransactionStore.
type Syncer struct {
	feed    broker.TradeFeed
	store   TransactionStore
	config  SyncConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu             sync.RWMutex
	onSyncComplete func(SyncResult)
}

// NewSyncer creates a syncer. m may be nil.
func NewSyncer(feed broker.TradeFeed, store TransactionStore, config SyncConfig, logger zerolog.Logger, m *metrics.Metrics) *Syncer {
	if config.Lookback <= 0 {
		config.Lookback = DefaultSyncConfig().Lookback
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultSyncConfig().StaleAfter
	}
	return &Syncer{
		feed:    feed,
		store:   store,
		config:  config,
		logger:  logging.WithComponent(logger, "sync"),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetSyncCompleteCallback sets the callback run after each currency syncs.
func (s *Syncer) SetSyncCompleteCallback(fn func(SyncResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSyncComplete = fn
}

// Sync syncs all currencies concurrently. Results are in input order.
func (s *Syncer) Sync(ctx context.Context, currencies []string) ([]SyncResult, error) {
	results := make([]SyncResult, len(currencies))

	g, gctx := errgroup.WithContext(ctx)
	for i, ccy := range currencies {
		i, ccy := i, ccy
		g.Go(func() error {
			res, err := s.SyncCurrency(gctx, ccy)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// SyncCurrency pulls the transaction log of currency since its last sync,
// or over the lookback window on first use, and stores it.
func (s *Syncer) SyncCurrency(ctx context.Context, currency string) (SyncResult, error) {
	logger := logging.WithCurrency(s.logger, currency)
	key := SyncKey(currency)

	last, err := s.store.GetLastSync(ctx, key)
	if err != nil {
		return SyncResult{}, err
	}

	to := s.now()
	from := last
	if from.IsZero() {
		from = to.Add(-s.config.Lookback)
	}

	records, err := s.feed.TransactionLog(ctx, currency, from, to)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync %s: %w", currency, err)
	}

	saved, err := s.store.SaveTransactions(ctx, records)
	if err != nil {
		return SyncResult{}, fmt.Errorf("sync %s: %w", currency, err)
	}

	if err := s.store.SetLastSync(ctx, key, to); err != nil {
		return SyncResult{}, err
	}

	res := SyncResult{Currency: currency, From: from, To: to, Fetched: len(records), Saved: saved}
	s.metrics.ObserveSync(currency, saved)
	logger.Info().
		Time("from", from).
		Time("to", to).
		Int("fetched", res.Fetched).
		Int("saved", res.Saved).
		Msg("Transaction log synced")

	s.mu.RLock()
	callback := s.onSyncComplete
	s.mu.RUnlock()
	if callback != nil {
		callback(res)
	}

	return res, nil
}

// Status returns the sync status of each currency.
func (s *Syncer) Status(ctx context.Context, currencies []string) ([]SyncStatus, error) {
	now := s.now()
	statuses := make([]SyncStatus, 0, len(currencies))
	for _, ccy := range currencies {
		last, err := s.store.GetLastSync(ctx, SyncKey(ccy))
		if err != nil {
			return nil, err
		}
		st := SyncStatus{Currency: ccy, LastSync: last, IsStale: true}
		if !last.IsZero() {
			st.Age = now.Sub(last)
			st.IsStale = st.Age > s.config.StaleAfter
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
