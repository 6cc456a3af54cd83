package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"deribit-pnl/internal/models"
)

// StaticQuotes is a QuoteSource backed by fixed prices. It serves offline
// runs and tests.
type StaticQuotes struct {
	Marks       map[string]float64 `json:"marks"`
	Indexes     map[string]float64 `json:"indexes"`
	Settlements map[string]float64 `json:"settlements"`

	mu    sync.Mutex
	calls map[string]int
}

// NewStaticQuotes creates an empty static quote source.
func NewStaticQuotes() *StaticQuotes {
	return &StaticQuotes{
		Marks:       make(map[string]float64),
		Indexes:     make(map[string]float64),
		Settlements: make(map[string]float64),
	}
}

// LoadStaticQuotes reads a JSON quote file of the form
// {"marks": {...}, "indexes": {...}, "settlements": {...}}. Settlement keys
// are an index name, optionally suffixed with "/offset".
func LoadStaticQuotes(path string) (*StaticQuotes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading quotes file: %w", err)
	}

	q := NewStaticQuotes()
	if err := json.Unmarshal(data, q); err != nil {
		return nil, fmt.Errorf("parsing quotes file %s: %w", path, err)
	}

	loaded := q.Indexes
	q.Indexes = make(map[string]float64, len(loaded))
	for k, v := range loaded {
		q.SetIndex(k, v)
	}
	loaded = q.Settlements
	q.Settlements = make(map[string]float64, len(loaded))
	for k, v := range loaded {
		q.SetSettlement(k, v)
	}
	if q.Marks == nil {
		q.Marks = make(map[string]float64)
	}
	return q, nil
}

// SetMark sets the mark price of an instrument.
func (q *StaticQuotes) SetMark(instrument string, price float64) *StaticQuotes {
	q.Marks[instrument] = price
	return q
}

// SetIndex sets the USD index price of a currency.
func (q *StaticQuotes) SetIndex(currency string, price float64) *StaticQuotes {
	q.Indexes[strings.ToUpper(currency)] = price
	return q
}

// SetSettlement sets the delivery price of a settlement index for any
// offset. Keys of the form "index/offset" are kept per offset.
func (q *StaticQuotes) SetSettlement(index string, price float64) *StaticQuotes {
	q.Settlements[strings.ToLower(index)] = price
	return q
}

// SetSettlementAt sets the delivery price of an index a given number of
// days back. It takes precedence over the offset-free price.
func (q *StaticQuotes) SetSettlementAt(index string, offset int, price float64) *StaticQuotes {
	return q.SetSettlement(settlementKey(index, offset), price)
}

func settlementKey(index string, offset int) string {
	return fmt.Sprintf("%s/%d", strings.ToLower(index), offset)
}

// Calls returns how many times a key was requested, keyed "kind:key".
func (q *StaticQuotes) Calls(kind, key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls[kind+":"+key]
}

func (q *StaticQuotes) record(kind, key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.calls == nil {
		q.calls = make(map[string]int)
	}
	q.calls[kind+":"+key]++
}

// MarkPrice implements QuoteSource.
func (q *StaticQuotes) MarkPrice(_ context.Context, instrument string) (float64, error) {
	q.record("mark", instrument)
	p, ok := q.Marks[instrument]
	if !ok {
		return 0, fmt.Errorf("no mark price for %s", instrument)
	}
	return p, nil
}

// IndexPrice implements QuoteSource.
func (q *StaticQuotes) IndexPrice(_ context.Context, currency string) (float64, error) {
	key := strings.ToUpper(currency)
	q.record("index", key)
	p, ok := q.Indexes[key]
	if !ok {
		return 0, fmt.Errorf("no index price for %s", currency)
	}
	return p, nil
}

// SettlementPrice implements QuoteSource. A price set for the exact offset
// wins over one set for the index alone.
func (q *StaticQuotes) SettlementPrice(_ context.Context, index string, offset int) (float64, error) {
	key := strings.ToLower(index)
	q.record("settlement", key)
	if p, ok := q.Settlements[settlementKey(key, offset)]; ok {
		return p, nil
	}
	p, ok := q.Settlements[key]
	if !ok {
		return 0, fmt.Errorf("no settlement price for %s (offset %d)", index, offset)
	}
	return p, nil
}

// StaticFeed is a TradeFeed backed by an in-memory record list.
type StaticFeed struct {
	Records []models.TransactionRecord
}

// TransactionLog implements TradeFeed.
func (f *StaticFeed) TransactionLog(_ context.Context, currency string, from, to time.Time) ([]models.TransactionRecord, error) {
	lo, hi := from.UnixMilli(), to.UnixMilli()
	var out []models.TransactionRecord
	for _, r := range f.Records {
		if r.Currency == currency && r.Timestamp >= lo && r.Timestamp <= hi {
			out = append(out, r)
		}
	}
	return out, nil
}
