package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ILYESS24/AiEditor/internal/config"
	"github.com/ILYESS24/AiEditor/internal/health"
	"github.com/ILYESS24/AiEditor/internal/hooks"
	"github.com/ILYESS24/AiEditor/internal/ledger"
	ledgerasync "github.com/ILYESS24/AiEditor/internal/ledger/async"
	ledgerpostgres "github.com/ILYESS24/AiEditor/internal/ledger/postgres"
	ledgerredis "github.com/ILYESS24/AiEditor/internal/ledger/redis"
	ledgersqlite "github.com/ILYESS24/AiEditor/internal/ledger/sqlite"
	"github.com/ILYESS24/AiEditor/internal/logging"
	"github.com/ILYESS24/AiEditor/internal/metrics"
	"github.com/ILYESS24/AiEditor/internal/registry"
	"github.com/ILYESS24/AiEditor/internal/session"
	"github.com/ILYESS24/AiEditor/internal/transport"
)

// app holds the wired components shared by the subcommands.
type app struct {
	cfg        config.Config
	logger     *zap.Logger
	closeLog   func() error
	store      ledger.Store
	dispatcher *hooks.Dispatcher
	metrics    *metrics.Collector
	metricsSrv *http.Server
	health     *health.Checker
	registry   *registry.Registry
	service    *session.Service
}

type appOptions struct {
	root string
	// withProviders loads the providers file into the registry.
	withProviders bool
	// withLedger opens the configured ledger backend.
	withLedger bool
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(opts.root)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, closeLog, err := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile, MaxBytes: cfg.LogMaxBytes})
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:        cfg,
		logger:     logger,
		closeLog:   closeLog,
		dispatcher: hooks.NewDispatcher(logger, cfg.Hooks.Timeout),
		metrics:    metrics.NewCollector(),
		health:     health.New(health.Config{}),
		registry:   registry.New(nil),
	}

	if opts.withLedger {
		store, err := openLedger(ctx, cfg.Ledger, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.store = store
		if store != nil {
			a.dispatcher.Register(ledger.HookHandler(store))
			if p, ok := store.(ledger.Pinger); ok {
				a.health.Add(health.Probe{Name: cfg.Ledger.Backend + "_ledger", Type: health.TypeLedger, Critical: true, Check: p.Ping})
			}
		}
	}
	if h := cfg.Hooks.BuildScriptHandler(); h != nil {
		a.dispatcher.Register(h)
	}

	if opts.withProviders {
		providers, err := config.LoadProviders(cfg.ProvidersFile)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("%w (run `aichat init` to scaffold one)", err)
		}
		if err := a.registry.Init(providers); err != nil {
			a.close()
			return nil, err
		}
	}

	a.service, err = session.New(session.Config{
		Registry: a.registry,
		Transport: transport.New(transport.Config{
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			Logger:                logger,
		}),
		TokenConsumer: a.dispatcher.Consume,
		OnFinish:      a.sessionFinished,
		Metrics:       a.metrics,
		Logger:        logger,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	if cfg.MetricsAddress != "" {
		if err := a.metrics.RegisterRuntime(); err != nil {
			logger.Warn("register runtime metrics", zap.Error(err))
		}
		a.serveMetrics(cfg.MetricsAddress)
	}
	return a, nil
}

func openLedger(ctx context.Context, cfg config.LedgerConfig, logger *zap.Logger) (ledger.Store, error) {
	var (
		store ledger.Store
		err   error
	)
	switch cfg.Backend {
	case config.LedgerNone:
		return nil, nil
	case config.LedgerSQLite:
		store, err = ledgersqlite.New(cfg.Path)
	case config.LedgerPostgres:
		store, err = ledgerpostgres.New(cfg.DSN, ledgerpostgres.PoolConfig{MaxOpen: 4, MaxIdle: 2, MaxLifetime: 30 * time.Minute})
	case config.LedgerRedis:
		store, err = ledgerredis.New(ctx, ledgerredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s ledger: %w", cfg.Backend, err)
	}
	if cfg.Async {
		store = ledgerasync.New(store, ledgerasync.Config{Logger: logger})
	}
	return store, nil
}

func (a *app) sessionFinished(s session.Summary) {
	evt := hooks.NewEvent(hooks.EventSessionFinished)
	evt.SessionID = s.SessionID
	evt.Provider = s.Provider
	evt.Model = s.Model
	evt.Tokens = s.Tokens
	evt.Outcome = s.State.String()
	evt.Metadata = map[string]any{
		"messages":   s.Messages,
		"elapsed_ms": s.Elapsed.Milliseconds(),
	}
	if s.Err != nil {
		evt.Metadata["error"] = s.Err.Error()
	}
	ctx := context.Background()
	if a.cfg.Hooks.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Hooks.Timeout)
		defer cancel()
	}
	if err := a.dispatcher.Emit(ctx, evt); err != nil {
		a.logger.Warn("session hook failed", zap.String("session_id", s.SessionID), zap.Error(err))
	}
}

func (a *app) serveMetrics(addr string) {
	r := chi.NewRouter()
	r.Handle("/metrics", a.metrics.Handler())
	r.Handle("/healthz", a.health.Handler())
	a.metricsSrv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server listening", zap.String("address", addr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", zap.Error(err))
		}
	}()
}

func (a *app) close() {
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.metricsSrv.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics shutdown failed", zap.Error(err))
		}
		cancel()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close ledger", zap.Error(err))
		}
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}
