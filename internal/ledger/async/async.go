package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ILYESS24/AiEditor/internal/ledger"
)

var (
	// ErrQueueFull is returned when the buffer is full; the entry is dropped.
	ErrQueueFull = errors.New("async ledger: queue full, entry dropped")
	// ErrClosed is returned by Record after Close.
	ErrClosed = errors.New("async ledger: closed")
)

// Store wraps a ledger.Store with asynchronous batch writes.
// Entries are queued in memory and written in batches; entries still queued
// when the process dies are lost.
type Store struct {
	underlying    ledger.Store
	entryChan     chan ledger.Entry
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration
	wg            sync.WaitGroup
	logger        *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// Config configures the async ledger behavior.
type Config struct {
	BatchSize     int           // maximum entries per batch (default 100)
	FlushInterval time.Duration // maximum time between flushes (default 1s)
	ChannelBuffer int           // queue size (default 10000)
	NumWorkers    int           // parallel batch writers (default 1)
	WriteTimeout  time.Duration // per entry write deadline (default 5s)
	Logger        *zap.Logger
}

// New wraps an existing ledger store with async batch writing.
func New(underlying ledger.Store, cfg Config) *Store {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 10000
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		underlying:    underlying,
		entryChan:     make(chan ledger.Entry, cfg.ChannelBuffer),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		writeTimeout:  cfg.WriteTimeout,
		logger:        logger.Named("async-ledger"),
	}
	for i := 0; i < cfg.NumWorkers; i++ {
		s.wg.Add(1)
		go s.batchWriter(i)
	}
	s.logger.Debug("started",
		zap.Int("workers", cfg.NumWorkers),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Duration("flush_interval", cfg.FlushInterval),
		zap.Int("buffer", cfg.ChannelBuffer))
	return s
}

// batchWriter drains the queue until it is closed, writing in batches.
func (s *Store) batchWriter(workerID int) {
	defer s.wg.Done()

	batch := make([]ledger.Entry, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		written := 0
		for _, entry := range batch {
			ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
			err := s.underlying.Record(ctx, entry)
			cancel()
			if err != nil {
				s.logger.Warn("write entry failed", zap.Int("worker", workerID), zap.String("provider", entry.Provider), zap.Error(err))
				continue
			}
			written++
		}
		s.logger.Debug("flushed",
			zap.Int("worker", workerID),
			zap.Int("written", written),
			zap.Int("batch", len(batch)),
			zap.Duration("elapsed", time.Since(start)))
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-s.entryChan:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// Record validates and queues an entry without blocking.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := ledger.Validate(&entry); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.entryChan <- entry:
		return nil
	default:
		return ErrQueueFull
	}
}

// Summary delegates to the underlying store. Queued entries are not counted
// until flushed.
func (s *Store) Summary(ctx context.Context, provider string) (ledger.Summary, error) {
	return s.underlying.Summary(ctx, provider)
}

// ListRecent delegates to the underlying store.
func (s *Store) ListRecent(ctx context.Context, provider string, limit int) ([]ledger.Entry, error) {
	return s.underlying.ListRecent(ctx, provider, limit)
}

// Ping forwards to the wrapped store when it supports ledger.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	if p, ok := s.underlying.(ledger.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close flushes queued entries and closes the underlying store.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.entryChan)
	s.mu.Unlock()

	s.wg.Wait()
	return s.underlying.Close()
}
