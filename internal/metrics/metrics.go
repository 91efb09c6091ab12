package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for finished sessions.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Collector records chat session metrics in its own Prometheus registry.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	sessions     *prometheus.CounterVec
	inProgress   *prometheus.GaugeVec
	tokens       *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	decodeErrors *prometheus.CounterVec
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aichat_sessions_total",
			Help: "Chat sessions by provider and outcome.",
		}, []string{"provider", "outcome"}),
		inProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "aichat_sessions_in_progress",
			Help: "Chat sessions currently streaming.",
		}, []string{"provider"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aichat_tokens_total",
			Help: "Tokens reported by providers.",
		}, []string{"provider"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aichat_session_duration_seconds",
			Help:    "Time from request to terminal state.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"provider"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aichat_decode_errors_total",
			Help: "Stream frames that could not be decoded.",
		}, []string{"provider"}),
	}
	c.registry.MustRegister(c.sessions, c.inProgress, c.tokens, c.duration, c.decodeErrors)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// SessionStarted marks a session as in flight.
func (c *Collector) SessionStarted(provider string) {
	if c == nil {
		return
	}
	c.inProgress.WithLabelValues(provider).Inc()
}

// SessionFinished records the terminal outcome of a session started with
// SessionStarted.
func (c *Collector) SessionFinished(provider, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.inProgress.WithLabelValues(provider).Dec()
	c.sessions.WithLabelValues(provider, outcome).Inc()
	c.duration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// TokensConsumed adds a usage report.
func (c *Collector) TokensConsumed(provider string, tokens int) {
	if c == nil || tokens <= 0 {
		return
	}
	c.tokens.WithLabelValues(provider).Add(float64(tokens))
}

// DecodeError counts a malformed frame.
func (c *Collector) DecodeError(provider string) {
	if c == nil {
		return
	}
	c.decodeErrors.WithLabelValues(provider).Inc()
}
