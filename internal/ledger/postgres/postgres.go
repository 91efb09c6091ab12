package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/ILYESS24/AiEditor/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// PoolConfig tunes the database/sql pool. Zero values keep the driver defaults.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// New opens a PostgreSQL-backed ledger store using dsn.
func New(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	}
	if pool.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.MaxIdleTime)
	}
	return NewWithDB(db)
}

// NewWithDB wraps an open database handle and applies the schema. The store
// owns db afterwards.
func NewWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS token_usage (
	id BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	tokens BIGINT NOT NULL CHECK(tokens > 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_token_usage_provider_created ON token_usage(provider, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_token_usage_created ON token_usage(created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Record inserts a usage entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := ledger.Validate(&entry); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO token_usage(session_id, provider, model, tokens, created_at)
VALUES($1, $2, $3, $4, $5)`,
		entry.SessionID,
		entry.Provider,
		entry.Model,
		entry.Tokens,
		entry.CreatedAt,
	)
	return err
}

// Summary returns aggregated usage for provider.
func (s *Store) Summary(ctx context.Context, provider string) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(tokens), 0)
FROM token_usage
WHERE ($1 = '' OR provider = $1)`, provider)

	summary := ledger.Summary{Provider: provider}
	if err := row.Scan(&summary.Requests, &summary.TotalTokens); err != nil {
		return ledger.Summary{}, err
	}
	return summary, nil
}

// ListRecent returns the latest entries, newest first.
func (s *Store) ListRecent(ctx context.Context, provider string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, session_id, provider, model, tokens, created_at
FROM token_usage
WHERE ($1 = '' OR provider = $1)
ORDER BY created_at DESC, id DESC
LIMIT $2`, provider, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Provider, &e.Model, &e.Tokens, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
