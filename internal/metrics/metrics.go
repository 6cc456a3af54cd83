// Package metrics provides Prometheus metrics for quote fetching and PnL runs.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "deribit_pnl"

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	registry *prometheus.Registry

	// Pricing metrics
	QuoteFetches      *prometheus.CounterVec   // labels: kind, outcome
	QuoteFetchLatency *prometheus.HistogramVec // labels: kind
	QuoteBatchSize    prometheus.Histogram
	QuoteBatchPauses  prometheus.Counter

	// Run metrics
	RunsTotal       *prometheus.CounterVec // labels: outcome
	RunDuration     prometheus.Histogram
	TradesProcessed prometheus.Counter
	PositionsOpen   prometheus.Gauge

	// Sync metrics
	RecordsSynced *prometheus.CounterVec // labels: currency
}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		QuoteFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "quote_fetches_total",
			Help:      "Quote fetches by kind (mark, index, settlement) and outcome",
		}, []string{"kind", "outcome"}),
		QuoteFetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "quote_fetch_duration_seconds",
			Help:      "Quote fetch latency including retries",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		QuoteBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "instrument_batch_size",
			Help:      "Instruments dispatched per quote batch",
			Buckets:   []float64{1, 5, 10, 15, 20, 25, 50},
		}),
		QuoteBatchPauses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "batch_pauses_total",
			Help:      "Cool-down pauses inserted between instrument batches",
		}),

		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pnl",
			Name:      "runs_total",
			Help:      "PnL computations by outcome",
		}, []string{"outcome"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pnl",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a full PnL computation",
			Buckets:   prometheus.DefBuckets,
		}),
		TradesProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pnl",
			Name:      "trades_processed_total",
			Help:      "Normalized trades fed into PnL computations",
		}),
		PositionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pnl",
			Name:      "positions",
			Help:      "Instruments in the latest position table",
		}),

		RecordsSynced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_saved_total",
			Help:      "New transaction records saved per currency",
		}, []string{"currency"}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveQuote records one quote fetch.
func (m *Metrics) ObserveQuote(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.QuoteFetches.WithLabelValues(kind, outcome).Inc()
	m.QuoteFetchLatency.WithLabelValues(kind).Observe(d.Seconds())
}

// ObserveBatch records the size of a dispatched instrument batch.
func (m *Metrics) ObserveBatch(size int) {
	if m == nil {
		return
	}
	m.QuoteBatchSize.Observe(float64(size))
}

// ObservePause records an inter-batch pause.
func (m *Metrics) ObservePause() {
	if m == nil {
		return
	}
	m.QuoteBatchPauses.Inc()
}

// ObserveRun records a completed or failed PnL computation.
func (m *Metrics) ObserveRun(d time.Duration, trades, positions int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.RunsTotal.WithLabelValues("ok").Inc()
	m.RunDuration.Observe(d.Seconds())
	m.TradesProcessed.Add(float64(trades))
	m.PositionsOpen.Set(float64(positions))
}

// ObserveSync records records saved for a currency.
func (m *Metrics) ObserveSync(currency string, saved int) {
	if m == nil {
		return
	}
	m.RecordsSynced.WithLabelValues(currency).Add(float64(saved))
}

// Server exposes /metrics over HTTP.
type Server struct {
	srv    *http.Server
	logger zerolog.Logger
}

// NewServer creates a metrics HTTP server on addr.
func NewServer(addr string, m *Metrics, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.srv.Addr).Msg("Metrics server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
