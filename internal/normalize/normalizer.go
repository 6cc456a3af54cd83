// Package normalize turns raw transaction log records into typed trades.
package normalize

import (
	"sort"
	"strings"
	"time"

	apperrors "deribit-pnl/internal/errors"
	"deribit-pnl/internal/instrument"
	"deribit-pnl/internal/models"
)

// comboSeparator marks combo and strategy instruments, which are booked
// differently and are not replayed.
const comboSeparator = "_"

// Normalize keeps the trade fills among records and classifies them.
// The first malformed record aborts the batch. Records are never modified.
func Normalize(records []models.TransactionRecord) ([]models.NormalizedTrade, error) {
	trades := make([]models.NormalizedTrade, 0, len(records))
	classified := make(map[string]models.Instrument)

	for _, rec := range records {
		if !IsFill(rec) {
			continue
		}

		inst, ok := classified[rec.InstrumentName]
		if !ok {
			var err error
			inst, err = instrument.Classify(rec.InstrumentName)
			if err != nil {
				return nil, apperrors.Wrapf(err, "record %d", rec.ID)
			}
			classified[rec.InstrumentName] = inst
		}

		direction, err := ParseDirection(rec.Side)
		if err != nil {
			return nil, apperrors.NewDirectionError(rec.ID, rec.Side)
		}

		amount, err := CoinAmount(inst, rec)
		if err != nil {
			return nil, apperrors.Wrapf(err, "record %d", rec.ID)
		}

		trades = append(trades, models.NormalizedTrade{
			RecordID:   rec.ID,
			Instrument: inst,
			Direction:  direction,
			Timestamp:  rec.Timestamp,
			Datetime:   time.UnixMilli(rec.Timestamp).UTC(),
			Price:      rec.Price,
			Amount:     amount,
			Currency:   rec.Currency,
			IndexPrice: rec.IndexPrice,
			Commission: rec.Commission,
		})
	}

	return trades, nil
}

// CoinAmount returns the fill size in units of the underlying. Futures and
// perpetuals are sized in USD on the feed and are divided by the index
// price at the fill; option amounts are already in coin.
func CoinAmount(inst models.Instrument, rec models.TransactionRecord) (float64, error) {
	if !inst.IsFuture() {
		return rec.Amount, nil
	}
	if rec.IndexPrice <= 0 {
		return 0, apperrors.NewMissingPriceError("index", inst.Name)
	}
	return rec.Amount / rec.IndexPrice, nil
}

// IsFill reports whether a record is a single-leg trade fill.
func IsFill(rec models.TransactionRecord) bool {
	return rec.Type == models.TransactionTypeTrade && !strings.Contains(rec.InstrumentName, comboSeparator)
}

// ParseDirection extracts the direction token from a side such as
// "open buy" or "close sell".
func ParseDirection(side string) (models.Direction, error) {
	fields := strings.Fields(side)
	if len(fields) < 2 {
		return "", apperrors.ErrDirection
	}
	switch models.Direction(fields[1]) {
	case models.DirectionBuy:
		return models.DirectionBuy, nil
	case models.DirectionSell:
		return models.DirectionSell, nil
	default:
		return "", apperrors.ErrDirection
	}
}

// SortByTimestamp returns a copy of trades in ascending timestamp order.
// Trades sharing a timestamp keep their feed order.
func SortByTimestamp(trades []models.NormalizedTrade) []models.NormalizedTrade {
	sorted := make([]models.NormalizedTrade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})
	return sorted
}
