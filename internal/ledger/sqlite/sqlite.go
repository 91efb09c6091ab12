package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/ILYESS24/AiEditor/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	tokens INTEGER NOT NULL CHECK(tokens > 0),
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_token_usage_provider_created ON token_usage(provider, created_at DESC);
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
VALUES(?, ?, ?, ?, ?)`,
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
WHERE (? = '' OR provider = ?)`, provider, provider)

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
WHERE (? = '' OR provider = ?)
ORDER BY created_at DESC, id DESC
LIMIT ?`, provider, provider, limit)
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
