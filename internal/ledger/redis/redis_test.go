package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ILYESS24/AiEditor/internal/ledger"
)

func TestNewUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := New(ctx, Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond}); err == nil {
		t.Fatal("expected connection error")
	}
	if _, err := New(ctx, Options{}); err == nil {
		t.Fatal("expected error without addr")
	}
}

func TestKeys(t *testing.T) {
	s := NewWithClient(goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"}), Options{Prefix: "test"})
	defer s.Close()
	tests := map[string]string{
		s.totalsKey("claude"): "test:totals:claude",
		s.recentKey(""):       "test:recent",
		s.recentKey("claude"): "test:recent:claude",
		s.providersKey():      "test:providers",
	}
	for got, want := range tests {
		if got != want {
			t.Errorf("key = %q, want %q", got, want)
		}
	}
}

func TestParseCounter(t *testing.T) {
	tests := []struct {
		in      any
		want    int64
		wantErr bool
	}{
		{in: nil, want: 0},
		{in: "42", want: 42},
		{in: int64(7), want: 7},
		{in: "x", wantErr: true},
		{in: 3.5, wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseCounter(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseCounter(%v) = %d, %v", tt.in, got, err)
		}
	}
}

// TestStoreAgainstServer runs when AICHAT_TEST_REDIS_ADDR points at a
// disposable Redis instance.
func TestStoreAgainstServer(t *testing.T) {
	addr := os.Getenv("AICHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AICHAT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	prefix := "aichat-test:" + time.Now().Format("150405.000000")
	store, err := New(ctx, Options{Addr: addr, Prefix: prefix, RecentLimit: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer store.Close()

	for _, e := range []ledger.Entry{
		{Provider: "openrouter", Model: "m1", Tokens: 42},
		{Provider: "openrouter", Model: "m1", Tokens: 8},
		{Provider: "claude", Tokens: 10},
	} {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := store.Summary(ctx, "openrouter")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Requests != 2 || sum.TotalTokens != 50 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	all, err := store.Summary(ctx, "")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if all.Requests != 3 || all.TotalTokens != 60 {
		t.Fatalf("unexpected total %+v", all)
	}
	recent, err := store.ListRecent(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 || recent[0].Provider != "claude" {
		t.Fatalf("unexpected recent %#v", recent)
	}
}
