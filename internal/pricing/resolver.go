package pricing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"deribit-pnl/internal/broker"
	apperrors "deribit-pnl/internal/errors"
	"deribit-pnl/internal/instrument"
	"deribit-pnl/internal/logging"
	"deribit-pnl/internal/metrics"
	"deribit-pnl/internal/models"
	"deribit-pnl/pkg/utils"
)

// Quote kinds, as reported in QuoteFetchError and metrics.
const (
	KindMark       = "mark"
	KindIndex      = "index"
	KindSettlement = "settlement"
)

// Config controls how quotes are fetched.
type Config struct {
	// BatchSize is the number of instruments fetched concurrently.
	BatchSize int
	// BatchPause is the cool-down between instrument batches.
	BatchPause time.Duration
	// RequestTimeout bounds a single quote request. Zero disables it.
	RequestTimeout time.Duration
	Retry          utils.RetryConfig
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      20,
		BatchPause:     time.Second,
		RequestTimeout: 10 * time.Second,
		Retry:          utils.DefaultRetryConfig(),
	}
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Option customizes a Resolver.
type Option func(*Resolver)

// WithMetrics records quote fetches on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithSleeper replaces the inter-batch pause implementation.
func WithSleeper(s Sleeper) Option {
	return func(r *Resolver) { r.sleep = s }
}

// WithBatchObserver is called with each instrument batch before it is dispatched.
func WithBatchObserver(fn func(batch []string)) Option {
	return func(r *Resolver) { r.onBatch = fn }
}

// Resolver builds price snapshots from a QuoteSource.
type Resolver struct {
	source  broker.QuoteSource
	cfg     Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	sleep   Sleeper
	onBatch func(batch []string)
}

// NewResolver creates a resolver.
func NewResolver(source broker.QuoteSource, cfg Config, logger zerolog.Logger, opts ...Option) *Resolver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	r := &Resolver{
		source: source,
		cfg:    cfg,
		logger: logging.WithComponent(logger, "pricing"),
		sleep:  utils.Sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve fetches a price for every distinct instrument and currency in
// trades. Expired instruments are valued at their settlement price; all
// others at the live mark. Any failure aborts the whole snapshot.
func (r *Resolver) Resolve(ctx context.Context, trades []models.NormalizedTrade, asOf time.Time) (*Snapshot, error) {
	instruments, currencies := distinctKeys(trades)

	instPrices := make(map[string]float64, len(instruments))
	settlements := &settlementCache{prices: make(map[string]float64)}

	for start := 0; start < len(instruments); start += r.cfg.BatchSize {
		end := start + r.cfg.BatchSize
		if end > len(instruments) {
			end = len(instruments)
		}
		batch := instruments[start:end]

		if r.onBatch != nil {
			names := make([]string, len(batch))
			for i, inst := range batch {
				names[i] = inst.Name
			}
			r.onBatch(names)
		}
		r.metrics.ObserveBatch(len(batch))

		prices := make([]float64, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, inst := range batch {
			i, inst := i, inst
			g.Go(func() error {
				p, err := r.instrumentPrice(gctx, inst, asOf, settlements)
				if err != nil {
					return err
				}
				prices[i] = p
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for i, inst := range batch {
			instPrices[inst.Name] = prices[i]
		}

		if end < len(instruments) {
			r.metrics.ObservePause()
			if err := r.sleep(ctx, r.cfg.BatchPause); err != nil {
				return nil, err
			}
		}
	}

	ccyPrices := make([]float64, len(currencies))
	g, gctx := errgroup.WithContext(ctx)
	for i, ccy := range currencies {
		i, ccy := i, ccy
		g.Go(func() error {
			p, err := r.fetch(gctx, KindIndex, ccy, func(ctx context.Context) (float64, error) {
				return r.source.IndexPrice(ctx, ccy)
			})
			if err != nil {
				return err
			}
			ccyPrices[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ccyMap := make(map[string]float64, len(currencies))
	for i, ccy := range currencies {
		ccyMap[ccy] = ccyPrices[i]
	}

	r.logger.Debug().
		Int("instruments", len(instPrices)).
		Int("currencies", len(ccyMap)).
		Time("as_of", asOf).
		Msg("Snapshot resolved")

	return NewSnapshot(asOf, instPrices, ccyMap), nil
}

func (r *Resolver) instrumentPrice(ctx context.Context, inst models.Instrument, asOf time.Time, cache *settlementCache) (float64, error) {
	if !inst.Expiry.ExpiredAt(asOf) {
		return r.fetch(ctx, KindMark, inst.Name, func(ctx context.Context) (float64, error) {
			return r.source.MarkPrice(ctx, inst.Name)
		})
	}

	expiry, _ := inst.Expiry.Date()
	offset := int(asOf.Sub(expiry) / (24 * time.Hour))
	index := instrument.SettlementIndex(inst.Name)
	instLogger := logging.WithInstrument(r.logger, inst.Name)
	instLogger.Debug().
		Str("index", index).
		Int("offset_days", offset).
		Msg("Instrument expired, valuing at settlement")

	s, err := cache.get(index, offset, func() (float64, error) {
		return r.fetch(ctx, KindSettlement, index, func(ctx context.Context) (float64, error) {
			return r.source.SettlementPrice(ctx, index, offset)
		})
	})
	if err != nil {
		return 0, err
	}
	return SettlementValue(inst, s)
}

// fetch runs one quote request with timeout and retry, and reports it.
func (r *Resolver) fetch(ctx context.Context, kind, key string, fn func(ctx context.Context) (float64, error)) (float64, error) {
	start := time.Now()
	price, err := utils.RetryWithResult(ctx, r.cfg.Retry, func(ctx context.Context) (float64, error) {
		if r.cfg.RequestTimeout <= 0 {
			return fn(ctx)
		}
		rctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
		return fn(rctx)
	})
	elapsed := time.Since(start)

	r.metrics.ObserveQuote(kind, elapsed, err)
	logging.LogQuoteFetch(r.logger, kind, key, price, elapsed, err)

	if err != nil {
		return 0, apperrors.NewQuoteFetchError(kind, key, err)
	}
	return price, nil
}

// SettlementValue converts a settlement index price into the value of an
// expired instrument: the price itself for futures, intrinsic value in
// units of the underlying for options.
func SettlementValue(inst models.Instrument, settlement float64) (float64, error) {
	switch inst.Type {
	case models.TradeTypeFuture:
		return settlement, nil
	case models.TradeTypeOption:
		if inst.Option == nil {
			return 0, apperrors.NewClassificationError(inst.Name, "option without strike", nil)
		}
		if settlement <= 0 {
			return 0, fmt.Errorf("settlement price for %s must be positive, got %v", inst.Name, settlement)
		}
		strike := float64(inst.Option.Strike)
		if inst.Option.Right == models.OptionPut {
			return math.Max(0, strike-settlement) / settlement, nil
		}
		return math.Max(0, settlement-strike) / settlement, nil
	default:
		return 0, apperrors.NewUnsupportedTradeTypeError(inst.Name, string(inst.Type), "settlement pricing")
	}
}

// distinctKeys returns instruments and currencies in first-appearance order.
func distinctKeys(trades []models.NormalizedTrade) ([]models.Instrument, []string) {
	var (
		instruments []models.Instrument
		currencies  []string
		seenInst    = make(map[string]bool)
		seenCcy     = make(map[string]bool)
	)
	for _, t := range trades {
		if !seenInst[t.InstrumentName()] {
			seenInst[t.InstrumentName()] = true
			instruments = append(instruments, t.Instrument)
		}
		if !seenCcy[t.Currency] {
			seenCcy[t.Currency] = true
			currencies = append(currencies, t.Currency)
		}
	}
	return instruments, currencies
}

// settlementCache shares settlement lookups between instruments of one
// resolve that settle on the same index and day.
type settlementCache struct {
	group  singleflight.Group
	mu     sync.Mutex
	prices map[string]float64
}

func (c *settlementCache) get(index string, offset int, fetch func() (float64, error)) (float64, error) {
	key := fmt.Sprintf("%s/%d", index, offset)

	c.mu.Lock()
	p, ok := c.prices[key]
	c.mu.Unlock()
	if ok {
		return p, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		p, err := fetch()
		if err != nil {
			return 0.0, err
		}
		c.mu.Lock()
		c.prices[key] = p
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}
