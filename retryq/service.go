package retryq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/backoff"
)

// Service provides queue operations over a Store.
type Service struct {
	store        Store
	guard        *kegsync.Guard
	enqueueDelay backoff.Strategy
	drainDelay   backoff.Strategy
	maxAttempts  int
	now          func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithEnqueueBackoff sets the delay schedule used by Enqueue.
func WithEnqueueBackoff(s backoff.Strategy) ServiceOption {
	return func(svc *Service) { svc.enqueueDelay = s }
}

// WithDrainBackoff sets the delay schedule used by RecordFailure.
func WithDrainBackoff(s backoff.Strategy) ServiceOption {
	return func(svc *Service) { svc.drainDelay = s }
}

// WithMaxAttempts sets max_attempts for new entries.
func WithMaxAttempts(n int) ServiceOption {
	return func(svc *Service) { svc.maxAttempts = n }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

// NewService creates a retry queue service.
func NewService(store Store, guard *kegsync.Guard, opts ...ServiceOption) *Service {
	s := &Service{
		store: store,
		guard: guard,
		enqueueDelay: backoff.NewSteps(
			1*time.Minute, 2*time.Minute, 4*time.Minute, 8*time.Minute, 16*time.Minute,
		),
		drainDelay:  backoff.Queued(time.Minute, 24*time.Hour),
		maxAttempts: 3,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue adds a batch to the queue, or bumps the attempt count of its
// existing entry, and schedules the next attempt.
func (s *Service) Enqueue(ctx context.Context, sessionID string, payload json.RawMessage, lastErr string) (*Entry, error) {
	var out *Entry
	err := s.guard.Do(func() error {
		now := s.now()
		e, err := s.store.GetRetry(ctx, sessionID)
		switch {
		case errors.Is(err, kegsync.ErrRetryNotFound):
			e = &Entry{
				SessionID:   sessionID,
				MaxAttempts: s.maxAttempts,
				CreatedAt:   now,
			}
		case err != nil:
			return err
		}

		e.Attempts++
		e.Payload = slices.Clone(payload)
		e.LastError = lastErr
		e.LastAttemptAt = &now
		e.NextRetryAt = now.Add(s.enqueueDelay.Delay(e.Attempts))
		e.UpdatedAt = now
		if err := s.store.UpsertRetry(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retryq: enqueue %s: %w", sessionID, err)
	}
	return out, nil
}

// EnqueueNow makes a never-attempted payload immediately eligible. An
// existing entry is left untouched and returned with created=false.
func (s *Service) EnqueueNow(ctx context.Context, sessionID string, payload json.RawMessage, reason string) (*Entry, bool, error) {
	var (
		out     *Entry
		created bool
	)
	err := s.guard.Do(func() error {
		existing, err := s.store.GetRetry(ctx, sessionID)
		if err == nil {
			out = existing
			return nil
		}
		if !errors.Is(err, kegsync.ErrRetryNotFound) {
			return err
		}

		now := s.now()
		e := &Entry{
			SessionID:   sessionID,
			Payload:     slices.Clone(payload),
			MaxAttempts: s.maxAttempts,
			NextRetryAt: now,
			LastError:   reason,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.store.UpsertRetry(ctx, e); err != nil {
			return err
		}
		out, created = e, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("retryq: enqueue now %s: %w", sessionID, err)
	}
	return out, created, nil
}

// RecordFailure counts a failed scheduler attempt and reschedules the
// entry at now + 2^attempts units. The returned entry reports Exhausted
// once the budget is used up.
func (s *Service) RecordFailure(ctx context.Context, sessionID string, cause error) (*Entry, error) {
	var out *Entry
	err := s.guard.Do(func() error {
		e, err := s.store.GetRetry(ctx, sessionID)
		if err != nil {
			return err
		}
		now := s.now()
		e.Attempts++
		e.LastAttemptAt = &now
		if cause != nil {
			e.LastError = cause.Error()
		}
		e.NextRetryAt = now.Add(s.drainDelay.Delay(e.Attempts))
		e.UpdatedAt = now
		if err := s.store.UpdateRetry(ctx, e); err != nil {
			return err
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retryq: record failure %s: %w", sessionID, err)
	}
	return out, nil
}

// Remove deletes the entry after a successful send. A missing entry is
// not an error.
func (s *Service) Remove(ctx context.Context, sessionID string) error {
	err := s.store.DeleteRetry(ctx, sessionID)
	if err != nil && !errors.Is(err, kegsync.ErrRetryNotFound) {
		return fmt.Errorf("retryq: remove %s: %w", sessionID, err)
	}
	return nil
}

// Due returns up to limit entries eligible now.
func (s *Service) Due(ctx context.Context, limit int) ([]*Entry, error) {
	return s.store.ListDue(ctx, s.now(), limit)
}

// Sweep removes exhausted entries older than retention.
func (s *Service) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	return s.store.SweepRetries(ctx, s.now().Add(-retention))
}

// DeleteOrphans removes entries whose batch no longer exists.
func (s *Service) DeleteOrphans(ctx context.Context) (int64, error) {
	return s.store.DeleteOrphanRetries(ctx)
}

// Store returns the underlying store for list and count operations.
func (s *Service) Store() Store { return s.store }
