package async

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ILYESS24/AiEditor/internal/ledger"
)

type memStore struct {
	mu      sync.Mutex
	entries []ledger.Entry
	closed  bool
	block   chan struct{}
}

func (m *memStore) Record(ctx context.Context, e ledger.Entry) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memStore) Summary(ctx context.Context, provider string) (ledger.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := ledger.Summary{Provider: provider}
	for _, e := range m.entries {
		if provider == "" || e.Provider == provider {
			s.Requests++
			s.TotalTokens += e.Tokens
		}
	}
	return s, nil
}

func (m *memStore) ListRecent(ctx context.Context, provider string, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Entry(nil), m.entries...), nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func TestCloseFlushesAllWorkers(t *testing.T) {
	mem := &memStore{}
	store := New(mem, Config{BatchSize: 10, FlushInterval: time.Hour, NumWorkers: 4})

	ctx := context.Background()
	for i := 0; i < 25; i++ {
		if err := store.Record(ctx, ledger.Entry{Provider: "openai", Tokens: 2}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	summary, _ := mem.Summary(ctx, "openai")
	if summary.Requests != 25 || summary.TotalTokens != 50 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if !mem.closed {
		t.Fatal("underlying store not closed")
	}
	if err := store.Record(ctx, ledger.Entry{Provider: "openai", Tokens: 1}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Record after Close error = %v, want ErrClosed", err)
	}
}

func TestTickerFlush(t *testing.T) {
	mem := &memStore{}
	store := New(mem, Config{BatchSize: 100, FlushInterval: 20 * time.Millisecond})
	defer store.Close()

	if err := store.Record(context.Background(), ledger.Entry{Provider: "ollama", Tokens: 9}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s, _ := store.Summary(context.Background(), "ollama"); s.TotalTokens == 9 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("entry was not flushed by the ticker")
}

func TestQueueFullAndValidation(t *testing.T) {
	mem := &memStore{block: make(chan struct{})}
	store := New(mem, Config{BatchSize: 1, ChannelBuffer: 1})
	ctx := context.Background()

	if err := store.Record(ctx, ledger.Entry{Provider: "p"}); err == nil {
		t.Fatal("expected validation error for zero tokens")
	}

	var full bool
	for i := 0; i < 10; i++ {
		if err := store.Record(ctx, ledger.Entry{Provider: "p", Tokens: 1}); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	close(mem.block)
	_ = store.Close()
	if !full {
		t.Fatal("expected ErrQueueFull with a blocked writer")
	}
}

type pingStore struct {
	memStore
	err error
}

func (p *pingStore) Ping(context.Context) error { return p.err }

func TestPingForwards(t *testing.T) {
	down := errors.New("down")
	s := New(&pingStore{err: down}, Config{})
	defer s.Close()
	if err := s.Ping(context.Background()); !errors.Is(err, down) {
		t.Fatalf("Ping = %v, want %v", err, down)
	}

	plain := New(&memStore{}, Config{})
	defer plain.Close()
	if err := plain.Ping(context.Background()); err != nil {
		t.Fatalf("Ping without pinger = %v", err)
	}
}
