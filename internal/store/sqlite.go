package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"deribit-pnl/internal/models"
)

// SQLiteStore implements TransactionStore using SQLite.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

var _ TransactionStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) a SQLite database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS transaction_logs (
		id INTEGER NOT NULL,
		currency TEXT NOT NULL,
		user_seq INTEGER NOT NULL DEFAULT 0,
		type TEXT NOT NULL,
		trade_id TEXT NOT NULL DEFAULT '',
		order_id TEXT NOT NULL DEFAULT '',
		instrument_name TEXT NOT NULL DEFAULT '',
		side TEXT NOT NULL DEFAULT '',
		timestamp INTEGER NOT NULL,
		price REAL NOT NULL DEFAULT 0,
		price_currency TEXT NOT NULL DEFAULT '',
		amount REAL NOT NULL DEFAULT 0,
		position REAL NOT NULL DEFAULT 0,
		mark_price REAL NOT NULL DEFAULT 0,
		index_price REAL NOT NULL DEFAULT 0,
		commission REAL NOT NULL DEFAULT 0,
		cashflow REAL NOT NULL DEFAULT 0,
		change REAL NOT NULL DEFAULT 0,
		balance REAL NOT NULL DEFAULT 0,
		equity REAL NOT NULL DEFAULT 0,
		info TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, currency)
	);

	CREATE INDEX IF NOT EXISTS idx_transaction_logs_currency_ts ON transaction_logs(currency, timestamp);
	CREATE INDEX IF NOT EXISTS idx_transaction_logs_instrument ON transaction_logs(instrument_name);

	CREATE TABLE IF NOT EXISTS sync_status (
		sync_key TEXT PRIMARY KEY,
		last_sync INTEGER NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTransactions inserts records, ignoring ones already stored.
func (s *SQLiteStore) SaveTransactions(ctx context.Context, records []models.TransactionRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transaction_logs (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for _, r := range records {
		res, err := stmt.ExecContext(ctx, recordArgs(r)...)
		if err != nil {
			return 0, fmt.Errorf("failed to insert record %d: %w", r.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to read rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return inserted, nil
}

// GetTransactions retrieves records matching filter.
func (s *SQLiteStore) GetTransactions(ctx context.Context, filter TransactionFilter) ([]models.TransactionRecord, error) {
	query, args := buildTransactionQuery(filter, questionMark)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var records []models.TransactionRecord
	for rows.Next() {
		var r models.TransactionRecord
		if err := rows.Scan(recordDest(&r)...); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}

	return records, nil
}

// GetLastSync returns the last sync time for key, or the zero time.
func (s *SQLiteStore) GetLastSync(ctx context.Context, key string) (time.Time, error) {
	s.mu.RLock()
	if t, ok := s.syncTimes[key]; ok {
		s.mu.RUnlock()
		return t, nil
	}
	s.mu.RUnlock()

	var ms int64
	err := s.db.QueryRowContext(ctx, `
		SELECT last_sync FROM sync_status WHERE sync_key = ?
	`, key).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get last sync: %w", err)
	}

	lastSync := time.UnixMilli(ms).UTC()
	s.mu.Lock()
	s.syncTimes[key] = lastSync
	s.mu.Unlock()

	return lastSync, nil
}

// SetLastSync records the last sync time for key.
func (s *SQLiteStore) SetLastSync(ctx context.Context, key string, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sync_status (sync_key, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, key, t.UnixMilli(), time.Now())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[key] = time.UnixMilli(t.UnixMilli()).UTC()
	s.mu.Unlock()

	return nil
}

// recordArgs returns the insert arguments of r in transactionColumns order.
func recordArgs(r models.TransactionRecord) []interface{} {
	return []interface{}{
		r.ID, r.Currency, r.UserSeq, r.Type, r.TradeID, r.OrderID, r.InstrumentName, r.Side,
		r.Timestamp, r.Price, r.PriceCurrency, r.Amount, r.Position, r.MarkPrice, r.IndexPrice,
		r.Commission, r.Cashflow, r.Change, r.Balance, r.Equity, r.Info,
	}
}

// recordDest returns scan destinations of r in transactionColumns order.
func recordDest(r *models.TransactionRecord) []interface{} {
	return []interface{}{
		&r.ID, &r.Currency, &r.UserSeq, &r.Type, &r.TradeID, &r.OrderID, &r.InstrumentName, &r.Side,
		&r.Timestamp, &r.Price, &r.PriceCurrency, &r.Amount, &r.Position, &r.MarkPrice, &r.IndexPrice,
		&r.Commission, &r.Cashflow, &r.Change, &r.Balance, &r.Equity, &r.Info,
	}
}
