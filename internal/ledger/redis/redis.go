// Package redis keeps token usage counters in Redis: a hash per provider
// with running totals plus capped lists of recent entries.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ILYESS24/AiEditor/internal/ledger"
)

const (
	defaultPrefix      = "aichat:usage"
	defaultRecentLimit = 1000
)

// Options configures the store.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key. Defaults to "aichat:usage".
	Prefix string
	// RecentLimit caps the recent entry lists. Defaults to 1000.
	RecentLimit int
	DialTimeout time.Duration
}

// Store implements ledger.Store on top of Redis.
type Store struct {
	client      *goredis.Client
	prefix      string
	recentLimit int64
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis ledger: addr required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ledger: connect %s: %w", opts.Addr, err)
	}
	return NewWithClient(client, opts), nil
}

// NewWithClient wraps an existing client. The store owns client afterwards.
func NewWithClient(client *goredis.Client, opts Options) *Store {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	limit := opts.RecentLimit
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	return &Store{client: client, prefix: prefix, recentLimit: int64(limit)}
}

func (s *Store) totalsKey(provider string) string { return s.prefix + ":totals:" + provider }
func (s *Store) providersKey() string             { return s.prefix + ":providers" }
func (s *Store) seqKey() string                   { return s.prefix + ":seq" }

func (s *Store) recentKey(provider string) string {
	if provider == "" {
		return s.prefix + ":recent"
	}
	return s.prefix + ":recent:" + provider
}

// Record increments the provider counters and pushes the entry onto the
// recent lists in one transaction.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := ledger.Validate(&entry); err != nil {
		return err
	}
	id, err := s.client.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis ledger: next id: %w", err)
	}
	entry.ID = id
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("redis ledger: marshal entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		totals := s.totalsKey(entry.Provider)
		pipe.HIncrBy(ctx, totals, "requests", 1)
		pipe.HIncrBy(ctx, totals, "tokens", entry.Tokens)
		pipe.SAdd(ctx, s.providersKey(), entry.Provider)
		for _, key := range []string{s.recentKey(""), s.recentKey(entry.Provider)} {
			pipe.LPush(ctx, key, payload)
			pipe.LTrim(ctx, key, 0, s.recentLimit-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis ledger: record: %w", err)
	}
	return nil
}

// Summary reads the counters of provider, or sums every provider when
// provider is "".
func (s *Store) Summary(ctx context.Context, provider string) (ledger.Summary, error) {
	providers := []string{provider}
	if provider == "" {
		var err error
		providers, err = s.client.SMembers(ctx, s.providersKey()).Result()
		if err != nil {
			return ledger.Summary{}, fmt.Errorf("redis ledger: list providers: %w", err)
		}
	}

	summary := ledger.Summary{Provider: provider}
	for _, p := range providers {
		vals, err := s.client.HMGet(ctx, s.totalsKey(p), "requests", "tokens").Result()
		if err != nil {
			return ledger.Summary{}, fmt.Errorf("redis ledger: read totals: %w", err)
		}
		requests, err := parseCounter(vals[0])
		if err != nil {
			return ledger.Summary{}, err
		}
		tokens, err := parseCounter(vals[1])
		if err != nil {
			return ledger.Summary{}, err
		}
		summary.Requests += requests
		summary.TotalTokens += tokens
	}
	return summary, nil
}

// ListRecent returns up to limit entries, newest first.
func (s *Store) ListRecent(ctx context.Context, provider string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = ledger.DefaultListLimit
	}
	raw, err := s.client.LRange(ctx, s.recentKey(provider), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis ledger: list recent: %w", err)
	}
	entries := make([]ledger.Entry, 0, len(raw))
	for _, item := range raw {
		var e ledger.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("redis ledger: decode entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func parseCounter(v any) (int64, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		var n int64
		if _, err := fmt.Sscan(val, &n); err != nil {
			return 0, fmt.Errorf("redis ledger: bad counter %q: %w", val, err)
		}
		return n, nil
	case int64:
		return val, nil
	default:
		return 0, fmt.Errorf("redis ledger: unexpected counter type %T", v)
	}
}
