// Package recovery reconciles state left by an unclean shutdown. Run is
// called once at startup, before the worker pool and the retry scheduler
// start.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/lifecycle"
	"github.com/xraph/kegsync/retryq"
)

// Recovery reasons.
const (
	ReasonStuck       = "Stuck during system restart"
	ReasonInterrupted = "Interrupted by system restart"
	ReasonRequeue     = "System recovery"
)

// errCrash is recorded as the last error of a stuck batch.
var errCrash = errors.New("System crash/recovery")

// Report summarizes one recovery run.
type Report struct {
	Stuck          int   `json:"stuck"`
	Interrupted    int   `json:"interrupted"`
	Requeued       int   `json:"requeued"`
	Swept          int64 `json:"swept"`
	ResolvedAlerts int64 `json:"resolved_alerts"`
	Orphans        int64 `json:"orphans"`
	Incomplete     int   `json:"incomplete"`
}

// Option configures a Manager.
type Option func(*Manager)

// WithStaleAfter sets the age after which an in-flight batch is stuck.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Manager) { m.staleAfter = d }
}

// WithRequeueWindow bounds how old an unattempted payload may be.
func WithRequeueWindow(d time.Duration) Option {
	return func(m *Manager) { m.requeueWindow = d }
}

// WithRetention sets the age after which exhausted retry entries go.
func WithRetention(d time.Duration) Option {
	return func(m *Manager) { m.retention = d }
}

// WithNetworkAlertTTL sets the age after which network_offline alerts
// are resolved.
func WithNetworkAlertTTL(d time.Duration) Option {
	return func(m *Manager) { m.alertTTL = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// Manager performs startup recovery.
type Manager struct {
	lifecycle *lifecycle.Service
	batches   batch.Store
	retries   *retryq.Service
	alerts    *alert.Service
	events    *event.Log
	logger    *slog.Logger
	now       func() time.Time

	staleAfter    time.Duration
	requeueWindow time.Duration
	retention     time.Duration
	alertTTL      time.Duration
}

// NewManager creates a Manager.
func NewManager(
	lc *lifecycle.Service,
	batches batch.Store,
	retries *retryq.Service,
	alerts *alert.Service,
	events *event.Log,
	opts ...Option,
) *Manager {
	m := &Manager{
		lifecycle:     lc,
		batches:       batches,
		retries:       retries,
		alerts:        alerts,
		events:        events,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		staleAfter:    10 * time.Minute,
		requeueWindow: 24 * time.Hour,
		retention:     7 * 24 * time.Hour,
		alertTTL:      time.Hour,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run reconciles batches and the retry queue. It never deletes a batch
// and is idempotent: a second run finds nothing stuck.
//
// No worker runs before Run returns, so every PROCESSING or API_PENDING
// batch is orphaned. Those older than the stale threshold are reported as
// stuck; younger ones as interrupted. Both end API_FAILED with attention
// raised and their payload queued, except never-attempted payloads, which
// are requeued as they are.
func (m *Manager) Run(ctx context.Context) (Report, error) {
	var r Report
	now := m.now()
	m.logger.Info("system recovery started")

	inFlight := []batch.Status{batch.StatusProcessing, batch.StatusAPIPending}
	stale, err := m.batches.ListStale(ctx, inFlight, now.Add(-m.staleAfter))
	if err != nil {
		return r, fmt.Errorf("recovery: list stale: %w", err)
	}
	// Every candidate set is read before anything is changed so that each
	// batch is evaluated once.
	unattempted, err := m.batches.ListUnattempted(ctx, now.Add(-m.requeueWindow))
	if err != nil {
		return r, fmt.Errorf("recovery: list unattempted: %w", err)
	}
	orphaned, err := m.batches.ListBatches(ctx, batch.ListOpts{Statuses: inFlight})
	if err != nil {
		return r, fmt.Errorf("recovery: list in-flight: %w", err)
	}

	handled := make(map[string]struct{}, len(orphaned))
	for _, b := range stale {
		handled[b.SessionID] = struct{}{}
		if err := m.recoverStuck(ctx, b, ReasonStuck, &r); err != nil {
			return r, err
		}
		r.Stuck++
	}

	for _, b := range unattempted {
		if _, ok := handled[b.SessionID]; ok {
			continue
		}
		handled[b.SessionID] = struct{}{}
		if err := m.requeue(ctx, b, &r); err != nil {
			return r, err
		}
	}

	for _, b := range orphaned {
		if _, ok := handled[b.SessionID]; ok {
			continue
		}
		if err := m.recoverStuck(ctx, b, ReasonInterrupted, &r); err != nil {
			return r, err
		}
		r.Interrupted++
	}

	if r.Swept, err = m.retries.Sweep(ctx, m.retention); err != nil {
		return r, fmt.Errorf("recovery: sweep retries: %w", err)
	}
	if r.ResolvedAlerts, err = m.alerts.Expire(ctx, alert.TypeNetworkOffline, m.alertTTL); err != nil {
		return r, fmt.Errorf("recovery: expire network alerts: %w", err)
	}
	if r.Orphans, err = m.retries.DeleteOrphans(ctx); err != nil {
		return r, fmt.Errorf("recovery: delete orphans: %w", err)
	}

	if err := m.flagIncomplete(ctx, &r); err != nil {
		return r, err
	}

	msg := fmt.Sprintf("Recovery complete: %d requeued, %d stuck, %d interrupted", r.Requeued, r.Stuck, r.Interrupted)
	m.events.Record(ctx, event.TypeRecovery, msg, r)
	m.logger.Info("system recovery complete",
		slog.Int("stuck", r.Stuck),
		slog.Int("interrupted", r.Interrupted),
		slog.Int("requeued", r.Requeued),
		slog.Int64("swept", r.Swept),
		slog.Int64("orphans", r.Orphans),
		slog.Int("incomplete", r.Incomplete),
	)
	return r, nil
}

func (m *Manager) recoverStuck(ctx context.Context, b *batch.Batch, reason string, r *Report) error {
	m.logger.Warn("batch orphaned across restart",
		slog.String("session_id", b.SessionID),
		slog.String("status", string(b.Status)),
		slog.String("reason", reason),
		slog.Time("updated_at", b.UpdatedAt),
	)
	if _, err := m.lifecycle.MarkFailed(ctx, b.SessionID, errCrash, lifecycle.FailOpts{
		Reason:    reason,
		AlertType: alert.TypeStuckBatch,
	}); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	m.events.Record(ctx, event.TypeStuckBatch,
		fmt.Sprintf("%s marked as failed after system restart", b.SessionID),
		map[string]string{"session_id": b.SessionID, "status": string(b.Status)})

	if len(b.Payload) == 0 {
		return nil
	}
	return m.requeue(ctx, b, r)
}

func (m *Manager) requeue(ctx context.Context, b *batch.Batch, r *Report) error {
	_, created, err := m.retries.EnqueueNow(ctx, b.SessionID, b.Payload, ReasonRequeue)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	if created {
		r.Requeued++
		m.logger.Info("added batch to retry queue", slog.String("session_id", b.SessionID))
		m.events.Record(ctx, event.TypeRequeued, b.SessionID+" added to retry queue",
			map[string]string{"session_id": b.SessionID})
	}
	return nil
}

// flagIncomplete raises attention on settled batches that decoded fewer
// codes than their target. Captured batches are still waiting for a
// worker and are left alone.
func (m *Manager) flagIncomplete(ctx context.Context, r *Report) error {
	incomplete, err := m.batches.ListIncomplete(ctx)
	if err != nil {
		return fmt.Errorf("recovery: list incomplete: %w", err)
	}
	for _, b := range incomplete {
		if b.RequiresAttention || b.Status == batch.StatusCaptured || b.Status == batch.StatusProcessing {
			continue
		}
		if _, err := m.lifecycle.RaiseAttention(ctx, b.SessionID, batch.ReasonBatchMiss, ""); err != nil {
			return fmt.Errorf("recovery: %w", err)
		}
		r.Incomplete++
	}
	return nil
}
