package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ILYESS24/AiEditor/internal/hooks"
)

// Entry is one provider usage report.
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id,omitempty"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Tokens    int64     `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary aggregates usage for one provider, or for all when Provider is "".
type Summary struct {
	Provider    string `json:"provider"`
	Requests    int64  `json:"requests"`
	TotalTokens int64  `json:"total_tokens"`
}

// Store defines persistence behaviour for the ledger. An empty provider
// argument selects every provider.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, provider string) (Summary, error)
	ListRecent(ctx context.Context, provider string, limit int) ([]Entry, error)
	Close() error
}

// Pinger is implemented by stores that can verify their backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefaultListLimit applies when ListRecent gets a non-positive limit.
const DefaultListLimit = 50

// Validate checks the fields every backend requires and stamps CreatedAt.
func Validate(entry *Entry) error {
	if entry.Provider == "" {
		return errors.New("ledger record requires provider")
	}
	if entry.Tokens <= 0 {
		return errors.New("ledger record requires positive tokens")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return nil
}

// HookHandler records EventTokensConsumed events and ignores the rest.
// Registered on a hooks.Dispatcher it is how usage reaches a store.
func HookHandler(store Store) hooks.Handler {
	return func(ctx context.Context, evt hooks.Event) error {
		if evt.Type != hooks.EventTokensConsumed {
			return nil
		}
		return store.Record(ctx, Entry{
			SessionID: evt.SessionID,
			Provider:  evt.Provider,
			Model:     evt.Model,
			Tokens:    int64(evt.Tokens),
			CreatedAt: evt.OccurredAt,
		})
	}
}
