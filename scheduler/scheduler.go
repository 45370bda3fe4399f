package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/delivery"
	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/ext"
	"github.com/xraph/kegsync/lifecycle"
	"github.com/xraph/kegsync/retryq"
)

// Client is the subset of the delivery client the scheduler uses.
type Client interface {
	Submit(ctx context.Context, payload json.RawMessage) delivery.Result
	Probe(ctx context.Context) bool
}

// DrainReport summarizes one drain.
type DrainReport struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	Exhausted int `json:"exhausted"`
	Dropped   int `json:"dropped"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the drain tick.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithBatchSize sets the maximum number of entries drained per tick.
func WithBatchSize(n int) Option {
	return func(s *Scheduler) { s.batchSize = n }
}

// WithRate limits submissions to perSecond. Zero or less disables pacing.
func WithRate(perSecond float64) Option {
	return func(s *Scheduler) {
		if perSecond <= 0 {
			s.limiter = nil
			return
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// WithNetworkCheck sets the probe interval. Zero disables gating.
func WithNetworkCheck(d time.Duration) Option {
	return func(s *Scheduler) { s.networkInterval = d }
}

// WithRetention sets how long exhausted entries are kept.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) { s.retention = d }
}

// WithNetworkAlertTTL sets the age after which maintenance resolves
// network_offline alerts.
func WithNetworkAlertTTL(d time.Duration) Option {
	return func(s *Scheduler) { s.alertTTL = d }
}

// WithMaintenance overrides the cron specs of the sweep and the integrity
// check. Empty strings keep the defaults.
func WithMaintenance(sweepSpec, integritySpec string) Option {
	return func(s *Scheduler) {
		if sweepSpec != "" {
			s.sweepSpec = sweepSpec
		}
		if integritySpec != "" {
			s.integritySpec = integritySpec
		}
	}
}

// WithExtensions sets the registry notified of network changes and
// retry exhaustion.
func WithExtensions(r *ext.Registry) Option {
	return func(s *Scheduler) { s.exts = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler drains the retry queue.
type Scheduler struct {
	lifecycle *lifecycle.Service
	retries   *retryq.Service
	alerts    *alert.Service
	events    *event.Log
	client    Client
	exts      *ext.Registry
	logger    *slog.Logger

	interval        time.Duration
	batchSize       int
	networkInterval time.Duration
	retention       time.Duration
	alertTTL        time.Duration
	sweepSpec       string
	integritySpec   string
	limiter         *rate.Limiter

	netMu  sync.Mutex
	online bool
	probed bool

	inflightMu sync.Mutex
	inflight   map[string]struct{}

	drainMu sync.Mutex
	kick    chan struct{}

	cron    *cronlib.Cron
	cancel  context.CancelFunc
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// New creates a Scheduler.
func New(
	lc *lifecycle.Service,
	retries *retryq.Service,
	alerts *alert.Service,
	events *event.Log,
	client Client,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		lifecycle:       lc,
		retries:         retries,
		alerts:          alerts,
		events:          events,
		client:          client,
		logger:          slog.Default(),
		interval:        60 * time.Second,
		batchSize:       5,
		networkInterval: 30 * time.Second,
		retention:       7 * 24 * time.Hour,
		alertTTL:        time.Hour,
		sweepSpec:       "@hourly",
		integritySpec:   "@daily",
		limiter:         rate.NewLimiter(rate.Limit(1), 1),
		online:          true,
		inflight:        make(map[string]struct{}),
		kick:            make(chan struct{}, 1),
		stopCh:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.exts == nil {
		s.exts = ext.NewRegistry(s.logger)
	}
	return s
}

// Start probes the network once, then launches the drain loop and the
// maintenance cron.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return kegsync.ErrAlreadyStarted
	}

	c := cronlib.New(cronlib.WithLocation(time.UTC))
	if _, err := c.AddFunc(s.sweepSpec, func() { s.Maintain(context.Background()) }); err != nil {
		return fmt.Errorf("scheduler: sweep schedule %q: %w", s.sweepSpec, err)
	}
	if _, err := c.AddFunc(s.integritySpec, func() { s.CheckIntegrity(context.Background()) }); err != nil {
		return fmt.Errorf("scheduler: integrity schedule %q: %w", s.integritySpec, err)
	}
	s.cron = c

	if s.networkInterval > 0 {
		s.CheckNetwork(ctx)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	s.cron.Start()
	s.wg.Add(1)
	go s.loop(runCtx)

	s.logger.Info("retry scheduler started",
		slog.Duration("interval", s.interval),
		slog.Int("batch_size", s.batchSize),
		slog.Duration("network_check", s.networkInterval),
	)
	return nil
}

// Stop ends the loop and waits for any running maintenance job.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-s.cron.Stop().Done()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("retry scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a drain outside the regular tick.
func (s *Scheduler) Trigger() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Online reports the last known network state.
func (s *Scheduler) Online() bool {
	s.netMu.Lock()
	defer s.netMu.Unlock()
	return s.online
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var probe <-chan time.Time
	if s.networkInterval > 0 {
		t := time.NewTicker(s.networkInterval)
		defer t.Stop()
		probe = t.C
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.drainLogged(ctx)
		case <-s.kick:
			s.drainLogged(ctx)
		case <-probe:
			s.CheckNetwork(ctx)
		}
	}
}

func (s *Scheduler) drainLogged(ctx context.Context) {
	if _, err := s.Drain(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("retry drain failed", slog.String("error", err.Error()))
	}
}

// Drain submits up to the batch size of due entries. It does nothing
// while the network is known to be offline.
func (s *Scheduler) Drain(ctx context.Context) (DrainReport, error) {
	var report DrainReport
	if !s.Online() {
		s.logger.Debug("network offline, skipping retry drain")
		return report, nil
	}

	s.drainMu.Lock()
	defer s.drainMu.Unlock()

	due, err := s.retries.Due(ctx, s.batchSize)
	if err != nil {
		return report, fmt.Errorf("scheduler: list due: %w", err)
	}

	for _, e := range due {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}
		out, err := s.attempt(ctx, e)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			s.logger.Error("retry attempt failed",
				slog.String("session_id", e.SessionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		report.add(out)
	}

	if report.Attempted > 0 {
		s.events.Record(context.WithoutCancel(ctx), event.TypeRetryDrained,
			fmt.Sprintf("retry drain: %d sent, %d failed", report.Sent, report.Failed), report)
	}
	return report, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSent
	outcomeFailed
	outcomeExhausted
	outcomeDropped
)

func (r *DrainReport) add(o outcome) {
	switch o {
	case outcomeSent:
		r.Attempted++
		r.Sent++
	case outcomeFailed:
		r.Attempted++
		r.Failed++
	case outcomeExhausted:
		r.Attempted++
		r.Failed++
		r.Exhausted++
	case outcomeDropped:
		r.Dropped++
	}
}

// attempt delivers one queued entry.
func (s *Scheduler) attempt(ctx context.Context, e *retryq.Entry) (outcome, error) {
	if !s.acquire(e.SessionID) {
		return outcomeSkipped, nil
	}
	defer s.release(e.SessionID)

	if _, err := s.lifecycle.Requeue(ctx, e.SessionID); err != nil {
		return s.dropIfSettled(ctx, e.SessionID, err)
	}

	start := time.Now()
	res := s.client.Submit(ctx, e.Payload)
	if !res.OK && ctx.Err() != nil {
		// Shutdown interrupted the attempt; leave the entry for next start.
		return outcomeSkipped, ctx.Err()
	}
	ctx = context.WithoutCancel(ctx)

	if res.OK {
		if _, err := s.lifecycle.MarkSent(ctx, e.SessionID, res.Body, res.PalletID, time.Since(start)); err != nil {
			return outcomeSkipped, err
		}
		if err := s.retries.Remove(ctx, e.SessionID); err != nil {
			return outcomeSent, err
		}
		s.logger.Info("queued batch delivered",
			slog.String("session_id", e.SessionID),
			slog.String("pallet_id", res.PalletID),
			slog.Int("queue_attempts", e.Attempts),
		)
		return outcomeSent, nil
	}

	cause := res.Err
	if cause == nil {
		cause = kegsync.ErrDeliveryFailed
	}
	updated, err := s.retries.RecordFailure(ctx, e.SessionID, cause)
	if err != nil {
		return outcomeSkipped, err
	}

	if !updated.Exhausted() {
		if _, err := s.lifecycle.MarkFailed(ctx, e.SessionID, cause, lifecycle.FailOpts{}); err != nil {
			return outcomeFailed, err
		}
		s.logger.Warn("queued delivery failed",
			slog.String("session_id", e.SessionID),
			slog.Int("attempts", updated.Attempts),
			slog.Time("next_retry_at", updated.NextRetryAt),
			slog.String("error", cause.Error()),
		)
		return outcomeFailed, nil
	}

	reason := fmt.Sprintf("Retry exhausted after %d attempts", updated.Attempts)
	if _, err := s.lifecycle.MarkFailed(ctx, e.SessionID, cause, lifecycle.FailOpts{Reason: reason, Terminal: true}); err != nil {
		return outcomeExhausted, err
	}
	if _, _, err := s.alerts.RaiseOnce(ctx, alert.TypeRetryExhausted, e.SessionID, alert.SeverityCritical,
		fmt.Sprintf("%s: %s", reason, cause.Error())); err != nil {
		s.logger.Error("failed to raise alert",
			slog.String("session_id", e.SessionID),
			slog.String("error", err.Error()),
		)
	}
	s.exts.EmitRetryExhausted(ctx, updated, cause)
	s.logger.Error("retry budget exhausted",
		slog.String("session_id", e.SessionID),
		slog.Int("attempts", updated.Attempts),
		slog.String("error", cause.Error()),
	)
	return outcomeExhausted, nil
}

// dropIfSettled removes the entry of a batch that no longer needs
// delivery (sent, resolved, held as duplicate or deleted).
func (s *Scheduler) dropIfSettled(ctx context.Context, sessionID string, requeueErr error) (outcome, error) {
	b, err := s.lifecycle.Get(ctx, sessionID)
	switch {
	case errors.Is(err, kegsync.ErrBatchNotFound):
	case err != nil:
		return outcomeSkipped, err
	case b.Status.Terminal() || b.Status == batch.StatusDuplicate:
	default:
		return outcomeSkipped, requeueErr
	}

	if err := s.retries.Remove(ctx, sessionID); err != nil {
		return outcomeSkipped, err
	}
	s.logger.Info("dropped retry entry for settled batch", slog.String("session_id", sessionID))
	return outcomeDropped, nil
}

// RetryNow delivers a failed batch immediately, bypassing timing and
// network gating. A failure re-queues the payload with the next backoff
// step. A batch still in API_PENDING yields kegsync.ErrDeliveryInFlight.
func (s *Scheduler) RetryNow(ctx context.Context, sessionID string) (bool, error) {
	b, err := s.lifecycle.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if len(b.Payload) == 0 {
		return false, fmt.Errorf("scheduler: retry %s: %w", sessionID, kegsync.ErrNoPayload)
	}
	if !s.acquire(sessionID) {
		return false, fmt.Errorf("scheduler: retry %s: %w", sessionID, kegsync.ErrDeliveryInFlight)
	}
	defer s.release(sessionID)

	if _, err := s.lifecycle.BeginRetry(ctx, sessionID); err != nil {
		return false, err
	}
	s.events.Record(ctx, event.TypeManualRetry, "manual retry requested", map[string]string{"session_id": sessionID})
	s.logger.Info("manual retry requested", slog.String("session_id", sessionID))

	start := time.Now()
	res := s.client.Submit(ctx, b.Payload)
	ctx = context.WithoutCancel(ctx)

	if res.OK {
		if _, err := s.lifecycle.MarkSent(ctx, sessionID, res.Body, res.PalletID, time.Since(start)); err != nil {
			return false, err
		}
		return true, s.retries.Remove(ctx, sessionID)
	}

	cause := res.Err
	if cause == nil {
		cause = kegsync.ErrDeliveryFailed
	}
	if _, err := s.lifecycle.MarkFailed(ctx, sessionID, cause, lifecycle.FailOpts{}); err != nil {
		return false, err
	}
	if _, err := s.retries.Enqueue(ctx, sessionID, b.Payload, "Manual retry failed: "+cause.Error()); err != nil {
		return false, err
	}
	s.logger.Warn("manual retry failed",
		slog.String("session_id", sessionID),
		slog.String("error", cause.Error()),
	)
	return false, nil
}

func (s *Scheduler) acquire(sessionID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, busy := s.inflight[sessionID]; busy {
		return false
	}
	s.inflight[sessionID] = struct{}{}
	return true
}

func (s *Scheduler) release(sessionID string) {
	s.inflightMu.Lock()
	delete(s.inflight, sessionID)
	s.inflightMu.Unlock()
}
