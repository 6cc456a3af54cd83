package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"deribit-pnl/internal/models"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// PostgresStore implements TransactionStore using PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ TransactionStore = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn and applies the schema migrations.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// migrate applies the embedded migrations in file name order. Every
// migration is idempotent.
func (s *PostgresStore) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(postgresMigrations, "migrations/postgres")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		sql, err := postgresMigrations.ReadFile("migrations/postgres/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// SaveTransactions inserts records in one batch, ignoring ones already stored.
func (s *PostgresStore) SaveTransactions(ctx context.Context, records []models.TransactionRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO transaction_logs (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (id, currency) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(query, recordArgs(r)...)
	}

	results := tx.SendBatch(ctx, batch)
	inserted := 0
	for _, r := range records {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("insert record %d: %w", r.ID, err)
		}
		inserted += int(tag.RowsAffected())
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

// GetTransactions retrieves records matching filter.
func (s *PostgresStore) GetTransactions(ctx context.Context, filter TransactionFilter) ([]models.TransactionRecord, error) {
	query, args := buildTransactionQuery(filter, dollar)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var records []models.TransactionRecord
	for rows.Next() {
		var r models.TransactionRecord
		if err := rows.Scan(recordDest(&r)...); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return records, nil
}

// GetLastSync returns the last sync time for key, or the zero time.
func (s *PostgresStore) GetLastSync(ctx context.Context, key string) (time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT last_sync FROM sync_status WHERE sync_key = $1`, key).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last sync: %w", err)
	}
	return t.UTC(), nil
}

// SetLastSync records the last sync time for key.
func (s *PostgresStore) SetLastSync(ctx context.Context, key string, t time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sync_status (sync_key, last_sync, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (sync_key) DO UPDATE SET last_sync = EXCLUDED.last_sync, updated_at = NOW()
	`, key, t)
	if err != nil {
		return fmt.Errorf("set last sync: %w", err)
	}
	return nil
}
