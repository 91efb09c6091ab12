package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ILYESS24/AiEditor/internal/adapter"
)

// EventType names the events the chat client exports.
type EventType string

const (
	// EventTokensConsumed is emitted for every usage report a provider sends.
	EventTokensConsumed EventType = "aichat.tokens.consumed"
	// EventSessionFinished is emitted once a chat session reaches a terminal state.
	EventSessionFinished EventType = "aichat.session.finished"
)

// Event envelopes the payload broadcast to hook listeners.
type Event struct {
	ID         string
	Type       EventType
	OccurredAt time.Time
	SessionID  string
	Provider   string
	Model      string
	Tokens     int
	Outcome    string
	Metadata   map[string]any
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(t EventType) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: time.Now().UTC()}
}

// Handler reacts to an Event. Implementations should be idempotent.
type Handler func(context.Context, Event) error

// Dispatcher fans events out to handlers. The zero value is ready to use.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *zap.Logger
	timeout  time.Duration
}

// NewDispatcher returns a dispatcher that logs handler failures of
// Consume. timeout bounds each Consume fan-out; zero means none.
func NewDispatcher(logger *zap.Logger, timeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger.Named("hooks"), timeout: timeout}
}

// Register adds a handler. Handlers fire sequentially in registration order.
func (d *Dispatcher) Register(h Handler) {
	if h == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Emit delivers an event to all registered handlers and joins their errors.
func (d *Dispatcher) Emit(ctx context.Context, event Event) error {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Consume emits EventTokensConsumed. Its signature matches
// adapter.TokenConsumer so a dispatcher can be installed as the
// process-wide token hook.
func (d *Dispatcher) Consume(provider string, cfg adapter.Config, tokens int) {
	if tokens <= 0 {
		return
	}
	evt := NewEvent(EventTokensConsumed)
	evt.Provider = provider
	evt.Model = cfg.Model
	evt.Tokens = tokens

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := d.Emit(ctx, evt); err != nil && d.logger != nil {
		d.logger.Warn("token hook failed", zap.String("provider", provider), zap.Int("tokens", tokens), zap.Error(err))
	}
}

var _ adapter.TokenConsumer = (*Dispatcher)(nil).Consume

// ScriptConfig describes how to invoke an external command when events fire.
type ScriptConfig struct {
	Command string            // executable (absolute or PATH lookup)
	Args    []string          // static arguments passed to the executable
	Env     map[string]string // optional environment overrides
	Timeout time.Duration     // optional max execution time
}

// MarshalEvent converts an Event into the wire format presented to scripts.
var MarshalEvent = JSONMarshaler

// NewScriptHandler returns a Handler that pipes the marshalled event to a
// configured executable via STDIN.
func NewScriptHandler(cfg ScriptConfig) Handler {
	return func(parentCtx context.Context, evt Event) error {
		if cfg.Command == "" {
			return fmt.Errorf("hooks: command not configured")
		}

		payload, err := MarshalEvent(evt)
		if err != nil {
			return fmt.Errorf("hooks: marshal event: %w", err)
		}

		ctx := parentCtx
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(parentCtx, cfg.Timeout)
			defer cancel()
		}

		cmd := exec.CommandContext(ctx, cfg.Command, cfg.Args...)
		if len(cfg.Env) > 0 {
			env := cmd.Environ()
			for key, val := range cfg.Env {
				env = append(env, fmt.Sprintf("%s=%s", key, val))
			}
			cmd.Env = env
		}

		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("hooks: stdin pipe: %w", err)
		}

		go func() {
			defer stdin.Close()
			_, _ = stdin.Write(payload)
		}()

		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("hooks: command failed: %w: %s", err, out)
		}
		return nil
	}
}

// JSONMarshaler serialises the event into a stable JSON envelope.
func JSONMarshaler(evt Event) ([]byte, error) {
	envelope := struct {
		ID         string         `json:"id"`
		Type       EventType      `json:"type"`
		OccurredAt time.Time      `json:"occurred_at"`
		SessionID  string         `json:"session_id,omitempty"`
		Provider   string         `json:"provider"`
		Model      string         `json:"model,omitempty"`
		Tokens     int            `json:"tokens"`
		Outcome    string         `json:"outcome,omitempty"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		ID:         evt.ID,
		Type:       evt.Type,
		OccurredAt: evt.OccurredAt,
		SessionID:  evt.SessionID,
		Provider:   evt.Provider,
		Model:      evt.Model,
		Tokens:     evt.Tokens,
		Outcome:    evt.Outcome,
		Metadata:   evt.Metadata,
	}
	return json.Marshal(envelope)
}
