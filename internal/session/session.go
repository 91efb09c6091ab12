// Package session runs chat requests end to end: it resolves the provider,
// builds the request, streams the response and drives a Sink through the
// session lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ILYESS24/AiEditor/internal/adapter"
	"github.com/ILYESS24/AiEditor/internal/metrics"
	"github.com/ILYESS24/AiEditor/internal/transport"
)

// ErrCancelled is the result of a session stopped through Cancel or its
// context.
var ErrCancelled = errors.New("session: cancelled")

const doneSentinel = "[DONE]"

// ContentPlaceholder is replaced by the selected text in prompt templates.
const ContentPlaceholder = "{content}"

// State is the lifecycle position of a session.
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateFailed
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Sink receives session callbacks. All callbacks of one session run on the
// same goroutine, in order. OnStop and OnError are mutually exclusive.
type Sink interface {
	OnStart(s *Session)
	OnMessage(msg adapter.Message)
	OnStop()
	OnError(err error)
}

// SinkFuncs adapts functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	Start   func(s *Session)
	Message func(msg adapter.Message)
	Stop    func()
	Error   func(err error)
}

func (f SinkFuncs) OnStart(s *Session) {
	if f.Start != nil {
		f.Start(s)
	}
}

func (f SinkFuncs) OnMessage(msg adapter.Message) {
	if f.Message != nil {
		f.Message(msg)
	}
}

func (f SinkFuncs) OnStop() {
	if f.Stop != nil {
		f.Stop()
	}
}

func (f SinkFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// ChatRequest is one chat invocation.
type ChatRequest struct {
	// Model is a provider name, or "" / "auto" for the first provider.
	Model          string
	SelectedText   string
	PromptTemplate string
}

// RenderPrompt substitutes every placeholder in template with content. An
// empty template yields content unchanged.
func RenderPrompt(template, content string) string {
	if template == "" {
		return content
	}
	return strings.ReplaceAll(template, ContentPlaceholder, content)
}

// Session is one in-flight chat.
type Session struct {
	id       string
	provider string
	service  *Service
	adapter  *adapter.Adapter
	request  *adapter.Request
	sink     Sink
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
	start  time.Time
	done   chan struct{}

	// mu is held while the streaming goroutine handles a frame; inCallback is
	// set while a sink callback runs.
	mu         sync.Mutex
	inCallback atomic.Bool

	// owned by the streaming goroutine until done is closed
	err        error
	messages   int
	tokens     int
	decodeErrs []error
	// draining is set once Finished was delivered; trailing frames are then
	// read for usage reports only.
	draining   bool
	drainTimer *time.Timer
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Provider returns the name of the resolved provider.
func (s *Session) Provider() string { return s.provider }

// Request returns the request the session sent.
func (s *Session) Request() *adapter.Request { return s.request }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed when the session reached a terminal state and its
// goroutine exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error once Done is closed: nil after completion,
// ErrCancelled after cancellation.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Wait blocks until the session ends and returns Err.
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Cancel stops the session. No callback starts after Cancel returns; content
// already delivered stays delivered. When Cancel is called while a callback
// runs, that callback completes. Cancelling a completed session only stops
// reading trailing usage frames.
func (s *Session) Cancel() {
	if !s.transition(StateCancelled, StateRequesting, StateStreaming) {
		if s.State() == StateCompleted {
			s.cancel()
		}
		return
	}
	s.logger.Debug("session cancelled")
	s.cancel()
	if !s.inCallback.Load() {
		// wait out a frame whose state check ran before the transition
		s.mu.Lock()
		s.mu.Unlock()
	}
}

// guarded runs fn on the streaming goroutine, serialized against Cancel.
func (s *Session) guarded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *Session) callback(fn func()) {
	s.inCallback.Store(true)
	defer s.inCallback.Store(false)
	fn()
}

func (s *Session) transition(to State, from ...State) bool {
	for _, f := range from {
		if s.state.CompareAndSwap(int32(f), int32(to)) {
			return true
		}
	}
	return false
}

func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()

	s.service.metrics.SessionStarted(s.provider)
	hooks := transport.Hooks{
		OnStart: func(*transport.Handle) {
			s.guarded(func() {
				if s.transition(StateStreaming, StateRequesting) {
					s.callback(func() { s.sink.OnStart(s) })
				}
			})
		},
		OnMessage: func(frame string) {
			s.guarded(func() { s.handleFrame(frame) })
		},
	}
	err := s.service.transport.Stream(s.ctx, s.request, hooks)
	if s.drainTimer != nil {
		s.drainTimer.Stop()
	}
	s.guarded(func() { s.finish(err) })

	outcome := metrics.OutcomeCompleted
	switch s.State() {
	case StateFailed:
		outcome = metrics.OutcomeFailed
	case StateCancelled:
		outcome = metrics.OutcomeCancelled
	}
	elapsed := time.Since(s.start)
	s.service.metrics.SessionFinished(s.provider, outcome, elapsed)
	s.logger.Info("session finished",
		zap.String("outcome", outcome),
		zap.Int("messages", s.messages),
		zap.Int("tokens", s.tokens),
		zap.Int("decode_errors", len(s.decodeErrs)),
		zap.Duration("elapsed", elapsed))
	if s.service.onFinish != nil {
		s.service.onFinish(Summary{
			SessionID: s.id,
			Provider:  s.provider,
			Model:     s.request.Config.Model,
			State:     s.State(),
			Messages:  s.messages,
			Tokens:    s.tokens,
			Elapsed:   elapsed,
			Err:       s.err,
		})
	}
}

func (s *Session) handleFrame(frame string) {
	if s.draining {
		s.drain(frame)
		return
	}
	if s.State() != StateStreaming {
		return
	}
	out := adapter.EmitterFuncs{
		OnMessage: s.deliver,
		OnUsage:   s.consume,
	}
	err := s.adapter.DecodeStreamChunk([]byte(frame), out)
	if err == nil {
		return
	}
	var vendorErr *adapter.VendorError
	if errors.As(err, &vendorErr) {
		s.fail(err)
		return
	}
	s.decodeErrs = append(s.decodeErrs, err)
	s.service.metrics.DecodeError(s.provider)
	s.logger.Warn("skipping malformed frame", zap.Error(err))
}

func (s *Session) consume(tokens int) {
	if s.State() != StateStreaming && !s.draining {
		return
	}
	s.tokens += tokens
	s.service.consumeTokens(s.provider, s.request.Config, tokens)
}

func (s *Session) deliver(msg adapter.Message) {
	if s.State() != StateStreaming {
		return
	}
	s.messages++
	s.callback(func() { s.sink.OnMessage(msg) })
	if msg.Status == adapter.StatusFinished && s.transition(StateCompleted, StateStreaming) {
		s.callback(s.sink.OnStop)
		s.draining = true
		s.drainTimer = time.AfterFunc(s.service.drainTimeout, s.cancel)
	}
}

// drain reads a frame that arrived after Finished. Only usage is kept; the
// [DONE] sentinel or a vendor error ends the stream.
func (s *Session) drain(frame string) {
	if strings.TrimSpace(frame) == doneSentinel {
		s.cancel()
		return
	}
	err := s.adapter.DecodeStreamChunk([]byte(frame), adapter.UsageOnly(adapter.EmitterFuncs{OnUsage: s.consume}))
	var vendorErr *adapter.VendorError
	if errors.As(err, &vendorErr) {
		s.logger.Warn("vendor error after finish", zap.Error(err))
		s.cancel()
	}
}

func (s *Session) fail(err error) {
	if s.transition(StateFailed, StateRequesting, StateStreaming) {
		s.err = err
		s.callback(func() { s.sink.OnError(err) })
		s.cancel()
	}
}

func (s *Session) finish(err error) {
	switch {
	case s.State() == StateCompleted:
	case s.State() == StateFailed:
	case s.State() == StateCancelled:
	case errors.Is(err, transport.ErrCancelled):
		s.transition(StateCancelled, StateRequesting, StateStreaming)
	case err != nil:
		s.fail(err)
	case s.messages == 0 && len(s.decodeErrs) > 0:
		s.fail(s.decodeErrs[len(s.decodeErrs)-1])
	default:
		if s.transition(StateCompleted, StateRequesting, StateStreaming) {
			s.callback(s.sink.OnStop)
		}
	}
	if s.State() == StateCancelled {
		s.err = ErrCancelled
	}
}
