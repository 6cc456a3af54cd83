// Package broker provides exchange integration interfaces and implementations.
package broker

import (
	"context"
	"time"

	"deribit-pnl/internal/models"
)

// QuoteSource supplies the prices the PnL engine marks positions against.
type QuoteSource interface {
	// MarkPrice returns the current mark price of a live instrument.
	MarkPrice(ctx context.Context, instrument string) (float64, error)
	// IndexPrice returns the current USD index price of a currency.
	IndexPrice(ctx context.Context, currency string) (float64, error)
	// SettlementPrice returns the delivery price of an index offsetDays back.
	SettlementPrice(ctx context.Context, index string, offsetDays int) (float64, error)
}

// TradeFeed supplies raw transaction log records.
type TradeFeed interface {
	// TransactionLog returns the records of a currency between from and to, inclusive.
	TransactionLog(ctx context.Context, currency string, from, to time.Time) ([]models.TransactionRecord, error)
}
