// Package store provides persistence for exchange transaction logs.
package store

import (
	"context"
	"time"

	"deribit-pnl/internal/models"
)

// TransactionStore persists transaction log records.
type TransactionStore interface {
	// SaveTransactions inserts records, skipping any whose (id, currency)
	// is already stored. It returns the number of rows inserted.
	SaveTransactions(ctx context.Context, records []models.TransactionRecord) (int, error)
	// GetTransactions returns matching records in ascending timestamp order.
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]models.TransactionRecord, error)

	// Sync bookkeeping, keyed by an arbitrary name such as the currency.
	GetLastSync(ctx context.Context, key string) (time.Time, error)
	SetLastSync(ctx context.Context, key string, t time.Time) error

	Close() error
}

// TransactionFilter selects transaction records. Zero values do not filter.
type TransactionFilter struct {
	Currencies []string
	Types      []string
	Start      time.Time // inclusive
	End        time.Time // inclusive
	Limit      int
}

// Matches reports whether rec passes the filter, ignoring Limit.
func (f TransactionFilter) Matches(rec models.TransactionRecord) bool {
	if len(f.Currencies) > 0 && !contains(f.Currencies, rec.Currency) {
		return false
	}
	if len(f.Types) > 0 && !contains(f.Types, rec.Type) {
		return false
	}
	if !f.Start.IsZero() && rec.Timestamp < f.Start.UnixMilli() {
		return false
	}
	if !f.End.IsZero() && rec.Timestamp > f.End.UnixMilli() {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// SyncKey returns the sync bookkeeping key of a currency's transaction log.
func SyncKey(currency string) string {
	return "transaction_log:" + currency
}
