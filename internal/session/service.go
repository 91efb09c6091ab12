package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ILYESS24/AiEditor/internal/adapter"
	"github.com/ILYESS24/AiEditor/internal/metrics"
	"github.com/ILYESS24/AiEditor/internal/registry"
	"github.com/ILYESS24/AiEditor/internal/transport"
)

// Streamer performs the HTTP exchange. *transport.Client implements it.
type Streamer interface {
	Stream(ctx context.Context, req *adapter.Request, hooks transport.Hooks) error
}

// Summary describes a session that reached a terminal state.
type Summary struct {
	SessionID string
	Provider  string
	Model     string
	State     State
	Messages  int
	Tokens    int
	Elapsed   time.Duration
	Err       error
}

// Config wires a Service.
type Config struct {
	Registry *registry.Registry
	// Transport defaults to a transport.Client with default settings.
	Transport Streamer
	// TokenConsumer receives every positive usage report.
	TokenConsumer adapter.TokenConsumer
	// OnFinish runs on the session goroutine after the terminal callback.
	OnFinish func(Summary)
	// DrainTimeout bounds how long trailing usage frames are read after the
	// finished message. Defaults to 10s.
	DrainTimeout time.Duration
	Metrics      *metrics.Collector
	Logger       *zap.Logger
}

const defaultDrainTimeout = 10 * time.Second

// Service starts chat sessions against the providers of a registry.
type Service struct {
	registry      *registry.Registry
	transport     Streamer
	tokenConsumer adapter.TokenConsumer
	onFinish      func(Summary)
	drainTimeout  time.Duration
	metrics       *metrics.Collector
	logger        *zap.Logger
}

// New creates a Service.
func New(cfg Config) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("session: registry is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	streamer := cfg.Transport
	if streamer == nil {
		streamer = transport.New(transport.Config{Logger: logger})
	}
	drain := cfg.DrainTimeout
	if drain <= 0 {
		drain = defaultDrainTimeout
	}
	return &Service{
		registry:      cfg.Registry,
		transport:     streamer,
		tokenConsumer: cfg.TokenConsumer,
		onFinish:      cfg.OnFinish,
		drainTimeout:  drain,
		metrics:       cfg.Metrics,
		logger:        logger.Named("session"),
	}, nil
}

// Chat starts a session. Provider resolution and request building happen
// before Chat returns, so their errors (registry.ErrNotFound,
// registry.ErrEmpty, *adapter.ConfigError) come back directly and no
// callback runs. Streaming continues on a separate goroutine.
func (s *Service) Chat(ctx context.Context, req ChatRequest, sink Sink) (*Session, error) {
	if sink == nil {
		return nil, errors.New("session: sink is required")
	}
	prompt := RenderPrompt(req.PromptTemplate, req.SelectedText)

	a, err := s.registry.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	httpReq, err := a.BuildRequest(prompt)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		id:       uuid.NewString(),
		provider: a.Name(),
		service:  s,
		adapter:  a,
		request:  httpReq,
		sink:     sink,
		ctx:      ctx,
		cancel:   cancel,
		start:    time.Now(),
		done:     make(chan struct{}),
	}
	sess.logger = s.logger.With(zap.String("session_id", sess.id), zap.String("provider", sess.provider))
	sess.state.Store(int32(StateRequesting))
	sess.logger.Debug("session requesting", zap.String("model", httpReq.Config.Model), zap.Int("prompt_bytes", len(prompt)))

	go sess.run()
	return sess, nil
}

func (s *Service) consumeTokens(provider string, cfg adapter.Config, tokens int) {
	if tokens <= 0 {
		return
	}
	s.metrics.TokensConsumed(provider, tokens)
	if s.tokenConsumer != nil {
		s.tokenConsumer(provider, cfg.Clone(), tokens)
	}
}
