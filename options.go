package kegsync

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Station.
type Option func(*Station) error

// Storer is the minimal store interface held by the Station. It covers
// lifecycle operations only; the entity stores are reached through
// store.Store in the layers above.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for background components with a
// start/stop lifecycle (worker pool, retry scheduler).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// extensionEmitter is an internal interface for extension lifecycle events.
type extensionEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Station is the per-process coordinator: configuration, logger, store and
// the background runners attached by engine.Build.
type Station struct {
	config     Config
	logger     *slog.Logger
	store      Storer
	guard      *Guard
	extensions extensionEmitter
	runners    []runner

	started bool
}

// New creates a Station with the given options.
func New(opts ...Option) (*Station, error) {
	s := &Station{
		config: DefaultConfig(),
		logger: slog.Default(),
		guard:  NewGuard(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the station's logger.
func (s *Station) Logger() *slog.Logger { return s.logger }

// Store returns the station's store.
func (s *Station) Store() Storer { return s.store }

// Config returns a copy of the station's configuration.
func (s *Station) Config() Config { return s.config }

// Guard returns the process-wide critical section.
func (s *Station) Guard() *Guard { return s.guard }

// AddRunner attaches a background runner (called by the engine package).
// Runners start in order and stop in reverse order.
func (s *Station) AddRunner(r runner) { s.runners = append(s.runners, r) }

// SetExtensions sets the extension emitter (called by the engine package).
func (s *Station) SetExtensions(e extensionEmitter) { s.extensions = e }

// Start launches all attached runners.
func (s *Station) Start(ctx context.Context) error {
	if s.store == nil {
		return ErrNoStore
	}
	if s.started {
		return ErrAlreadyStarted
	}
	for _, r := range s.runners {
		if err := r.Start(ctx); err != nil {
			return err
		}
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the runners, emits the shutdown hook and
// closes the store.
func (s *Station) Stop(ctx context.Context) error {
	if s.started {
		for i := len(s.runners) - 1; i >= 0; i-- {
			if err := s.runners[i].Stop(ctx); err != nil {
				s.logger.Error("runner stop error", "error", err)
			}
		}
		s.started = false
	}
	if s.extensions != nil {
		s.extensions.EmitShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithConcurrency sets the number of batches processed in parallel.
func WithConcurrency(n int) Option {
	return func(s *Station) error {
		s.config.Concurrency = n
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(s *Station) error {
		s.config = cfg
		return nil
	}
}

// WithRetryInterval sets the retry scheduler tick.
func WithRetryInterval(d time.Duration) Option {
	return func(s *Station) error {
		s.config.RetryInterval = d
		return nil
	}
}

// WithDuplicatePolicy selects how duplicate pallets are handled.
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(s *Station) error {
		s.config.DuplicatePolicy = p
		return nil
	}
}

// WithLogger sets the structured logger for the station.
func WithLogger(l *slog.Logger) Option {
	return func(s *Station) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. It is typically a store.Store,
// which embeds all entity store interfaces.
func WithStore(st Storer) Option {
	return func(s *Station) error {
		s.store = st
		return nil
	}
}
