package pnl

import (
	"sort"

	"deribit-pnl/internal/models"
)

// Summary pivots trade PnL by currency and by instrument.
type Summary struct {
	ByCurrency   []models.CurrencySummary   `json:"by_currency"`
	ByInstrument []models.InstrumentSummary `json:"by_instrument"`
	Total        models.CurrencySummary     `json:"total"`
}

// Summarize totals trade PnL. When window is non-nil only trades whose
// datetime falls inside it are counted. Rows are sorted by currency, then
// instrument name.
func Summarize(trades []models.TradePnL, window *models.TimeRange) Summary {
	byCcy := make(map[string]*models.CurrencySummary)
	type instKey struct{ name, currency string }
	byInst := make(map[instKey]*models.InstrumentSummary)

	sum := Summary{Total: models.CurrencySummary{Currency: "TOTAL"}}

	for _, t := range trades {
		if window != nil && !window.Contains(t.Datetime) {
			continue
		}

		cs, ok := byCcy[t.Currency]
		if !ok {
			cs = &models.CurrencySummary{Currency: t.Currency}
			byCcy[t.Currency] = cs
		}
		cs.Trades++
		cs.USDPnL += t.USDPnL
		cs.USDPnLIncludingFees += t.USDPnLIncludingFees
		cs.USDFees += t.USDFees

		k := instKey{t.InstrumentName, t.Currency}
		is, ok := byInst[k]
		if !ok {
			is = &models.InstrumentSummary{InstrumentName: t.InstrumentName, Currency: t.Currency}
			byInst[k] = is
		}
		is.Trades++
		is.USDPnL += t.USDPnL

		sum.Total.Trades++
		sum.Total.USDPnL += t.USDPnL
		sum.Total.USDPnLIncludingFees += t.USDPnLIncludingFees
		sum.Total.USDFees += t.USDFees
	}

	for _, cs := range byCcy {
		sum.ByCurrency = append(sum.ByCurrency, *cs)
	}
	sort.Slice(sum.ByCurrency, func(i, j int) bool {
		return sum.ByCurrency[i].Currency < sum.ByCurrency[j].Currency
	})

	for _, is := range byInst {
		sum.ByInstrument = append(sum.ByInstrument, *is)
	}
	sort.Slice(sum.ByInstrument, func(i, j int) bool {
		a, b := sum.ByInstrument[i], sum.ByInstrument[j]
		if a.Currency != b.Currency {
			return a.Currency < b.Currency
		}
		return a.InstrumentName < b.InstrumentName
	})

	return sum
}
