// Package pricing resolves the mark and index prices a PnL run is valued at.
package pricing

import (
	"encoding/json"
	"sort"
	"time"

	apperrors "deribit-pnl/internal/errors"
	"deribit-pnl/internal/models"
)

// Snapshot is an immutable set of prices captured at one instant.
// Instrument prices are in the instrument's quote unit: USD for futures,
// the underlying currency for options. Currency prices are USD index values.
type Snapshot struct {
	asOf        time.Time
	instruments map[string]float64
	currencies  map[string]float64
}

// NewSnapshot copies the given price maps into a new snapshot.
func NewSnapshot(asOf time.Time, instruments, currencies map[string]float64) *Snapshot {
	s := &Snapshot{
		asOf:        asOf,
		instruments: make(map[string]float64, len(instruments)),
		currencies:  make(map[string]float64, len(currencies)),
	}
	for k, v := range instruments {
		s.instruments[k] = v
	}
	for k, v := range currencies {
		s.currencies[k] = v
	}
	return s
}

// AsOf returns the valuation instant.
func (s *Snapshot) AsOf() time.Time {
	return s.asOf
}

// InstrumentPrice returns the price of an instrument.
func (s *Snapshot) InstrumentPrice(name string) (float64, bool) {
	p, ok := s.instruments[name]
	return p, ok
}

// CurrencyPrice returns the USD index price of a currency.
func (s *Snapshot) CurrencyPrice(currency string) (float64, bool) {
	p, ok := s.currencies[currency]
	return p, ok
}

// Instruments returns the priced instrument names, sorted.
func (s *Snapshot) Instruments() []string {
	return sortedKeys(s.instruments)
}

// Currencies returns the priced currencies, sorted.
func (s *Snapshot) Currencies() []string {
	return sortedKeys(s.currencies)
}

// Validate checks that every instrument and currency referenced by trades
// has a price, failing on the first gap.
func (s *Snapshot) Validate(trades []models.NormalizedTrade) error {
	for _, t := range trades {
		if _, ok := s.instruments[t.InstrumentName()]; !ok {
			return apperrors.NewMissingPriceError("instrument", t.InstrumentName())
		}
		if _, ok := s.currencies[t.Currency]; !ok {
			return apperrors.NewMissingPriceError("currency", t.Currency)
		}
	}
	return nil
}

// Equal reports whether two snapshots hold the same prices. The as-of
// instant is not compared.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if s == nil || other == nil {
		return s == other
	}
	return mapsEqual(s.instruments, other.instruments) && mapsEqual(s.currencies, other.currencies)
}

// MarshalJSON renders the snapshot for --json output.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		AsOf        time.Time          `json:"as_of"`
		Instruments map[string]float64 `json:"instruments"`
		Currencies  map[string]float64 `json:"currencies"`
	}{s.asOf, s.instruments, s.currencies})
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func mapsEqual(a, b map[string]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}
