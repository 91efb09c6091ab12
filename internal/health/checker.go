package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Probe kinds.
const (
	TypeLedger   = "ledger"
	TypeProvider = "provider"
)

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component is the outcome of one probe.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"`
	CheckResult
}

// Probe checks one dependency. A failing critical probe makes the whole
// status unhealthy; other failures only degrade it.
type Probe struct {
	Name     string
	Type     string
	Critical bool
	Check    func(ctx context.Context) error
}

// HealthStatus represents the overall health of the client.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Config holds checker settings.
type Config struct {
	// Timeout bounds each probe. Defaults to 5s.
	Timeout time.Duration
	// MaxLatency marks slower successful probes as degraded. Defaults to 1s.
	MaxLatency time.Duration
}

// Checker runs probes concurrently.
type Checker struct {
	timeout    time.Duration
	maxLatency time.Duration

	mu         sync.RWMutex
	probes     []Probe
	components []Component
}

// New creates a checker without probes.
func New(cfg Config) *Checker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxLatency <= 0 {
		cfg.MaxLatency = time.Second
	}
	return &Checker{timeout: cfg.Timeout, maxLatency: cfg.MaxLatency}
}

// Add registers a probe. Probes with a nil Check are ignored.
func (c *Checker) Add(p Probe) {
	if p.Check == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, p)
}

// Check runs every probe and returns the overall status. Components keep
// the order the probes were added in.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	probes := append([]Probe(nil), c.probes...)
	c.mu.RUnlock()

	components := make([]Component, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		i, p := i, p
		wg.Add(1)
		go func() {
			defer wg.Done()
			components[i] = c.run(ctx, p)
		}()
	}
	wg.Wait()

	c.mu.Lock()
	c.components = components
	c.mu.Unlock()
	return overall(probes, components)
}

func (c *Checker) run(ctx context.Context, p Probe) Component {
	comp := Component{Name: p.Name, Type: p.Type, CheckResult: CheckResult{Timestamp: time.Now()}}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := p.Check(ctx)
	comp.Latency = time.Since(start)
	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "unreachable"
	case comp.Latency > c.maxLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("high latency: %v", comp.Latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "ok"
	}
	return comp
}

func overall(probes []Probe, components []Component) HealthStatus {
	status := StatusHealthy
	for i, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if probes[i].Critical {
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return HealthStatus{Status: status, Timestamp: time.Now(), Components: components}
}

// LastStatus returns the components of the last Check without probing.
func (c *Checker) LastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.components) == 0 {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now()}
	}
	return overall(c.probes[:len(c.components)], c.components)
}

// Handler runs the probes on every request and answers 503 when unhealthy.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := c.Check(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if st.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(st)
	})
}

// HTTPCheck reports whether url answers at all. Any HTTP status counts as
// reachable.
func HTTPCheck(client *http.Client, url string) func(ctx context.Context) error {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}
