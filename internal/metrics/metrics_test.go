package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	c.SessionStarted("openai")
	c.SessionStarted("openai")
	if got := testutil.ToFloat64(c.inProgress.WithLabelValues("openai")); got != 2 {
		t.Errorf("in progress = %v, want 2", got)
	}

	c.TokensConsumed("openai", 42)
	c.TokensConsumed("openai", 0)
	c.TokensConsumed("openai", -3)
	c.DecodeError("openai")
	c.SessionFinished("openai", OutcomeCompleted, 1500*time.Millisecond)
	c.SessionFinished("openai", OutcomeCancelled, time.Second)

	if got := testutil.ToFloat64(c.tokens.WithLabelValues("openai")); got != 42 {
		t.Errorf("tokens = %v, want 42", got)
	}
	if got := testutil.ToFloat64(c.sessions.WithLabelValues("openai", OutcomeCompleted)); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.inProgress.WithLabelValues("openai")); got != 0 {
		t.Errorf("in progress = %v, want 0", got)
	}
	if got := testutil.ToFloat64(c.decodeErrors.WithLabelValues("openai")); got != 1 {
		t.Errorf("decode errors = %v, want 1", got)
	}
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	c.SessionStarted("x")
	c.SessionFinished("x", OutcomeFailed, time.Second)
	c.TokensConsumed("x", 1)
	c.DecodeError("x")
	if c.Registry() != nil {
		t.Error("nil collector returned a registry")
	}
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.TokensConsumed("claude", 7)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `aichat_tokens_total{provider="claude"} 7`) {
		t.Errorf("metrics output missing token counter:\n%s", body)
	}
}
