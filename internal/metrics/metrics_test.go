package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveQuote(t *testing.T) {
	m := New()
	m.ObserveQuote("mark", 10*time.Millisecond, nil)
	m.ObserveQuote("mark", 10*time.Millisecond, errors.New("boom"))
	m.ObserveQuote("index", time.Millisecond, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuoteFetches.WithLabelValues("mark", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuoteFetches.WithLabelValues("mark", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QuoteFetches.WithLabelValues("index", "ok")))
}

func TestObserveRun(t *testing.T) {
	m := New()
	m.ObserveRun(time.Second, 12, 3, nil)
	m.ObserveRun(time.Second, 0, 0, errors.New("quote failed"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsTotal.WithLabelValues("error")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.TradesProcessed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PositionsOpen))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.ObserveQuote("mark", time.Millisecond, nil)
	m.ObserveBatch(20)
	m.ObservePause()
	m.ObserveRun(time.Second, 1, 1, nil)
	m.ObserveSync("BTC", 1)
}

func TestNewIsolatedRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a, b := New(), New()
	a.ObservePause()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.QuoteBatchPauses))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.QuoteBatchPauses))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveSync("BTC", 5)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `deribit_pnl_sync_records_saved_total{currency="BTC"} 5`))
}
