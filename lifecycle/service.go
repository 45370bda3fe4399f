// Package lifecycle is the single place where batches change status.
//
// Every method loads the batch, validates the transition and writes it
// back inside the station Guard, so a worker and the retry scheduler can
// never interleave partial updates of the same row. Alerts, events and
// extension hooks are emitted after the write, outside the Guard.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/ext"
)

// Capture is the operator/device input that opens a batch.
type Capture struct {
	ImageRef    string    `json:"image_ref"`
	TargetCount int       `json:"target_count"`
	BeerType    string    `json:"beer_type"`
	Label       string    `json:"label"`
	FilledAt    time.Time `json:"filled_at"`
}

// FailOpts tunes MarkFailed.
type FailOpts struct {
	// Reason is the attention reason. Defaults to "API failure: <cause>".
	Reason string
	// AlertType overrides the alert written for the failure. Defaults to
	// alert.TypeAPIFailure.
	AlertType alert.Type
	// Terminal suppresses the failure alert; the caller writes its own
	// (retry exhaustion).
	Terminal bool
}

// Service performs batch transitions.
type Service struct {
	batches batch.Store
	guard   *kegsync.Guard
	alerts  *alert.Service
	events  *event.Log
	exts    *ext.Registry
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithExtensions sets the extension registry notified of transitions.
func WithExtensions(r *ext.Registry) Option {
	return func(s *Service) { s.exts = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a lifecycle service.
func NewService(batches batch.Store, guard *kegsync.Guard, alerts *alert.Service, events *event.Log, opts ...Option) *Service {
	s := &Service{
		batches: batches,
		guard:   guard,
		alerts:  alerts,
		events:  events,
		logger:  slog.Default(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.exts == nil {
		s.exts = ext.NewRegistry(s.logger)
	}
	return s
}

// Get returns a batch by session id.
func (s *Service) Get(ctx context.Context, sessionID string) (*batch.Batch, error) {
	return s.batches.GetBatch(ctx, sessionID)
}

// Open persists a new CAPTURED batch with the next session id.
func (s *Service) Open(ctx context.Context, c Capture) (*batch.Batch, error) {
	if c.TargetCount <= 0 {
		return nil, fmt.Errorf("%w: target count must be positive", kegsync.ErrInvalidCapture)
	}

	var out *batch.Batch
	err := s.guard.Do(func() error {
		seq, err := s.batches.NextSeq(ctx)
		if err != nil {
			return err
		}
		now := s.now()
		filled := c.FilledAt
		if filled.IsZero() {
			filled = now
		}
		b := &batch.Batch{
			SessionID:   batch.SessionID(seq),
			Seq:         seq,
			TargetCount: c.TargetCount,
			ImageRef:    c.ImageRef,
			Codes:       []string{},
			BeerType:    c.BeerType,
			Label:       c.Label,
			FilledAt:    filled,
			Status:      batch.StatusCaptured,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.batches.CreateBatch(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: open: %w", err)
	}

	s.exts.EmitBatchCaptured(ctx, out)
	return out, nil
}

// Claim moves a CAPTURED batch to PROCESSING.
func (s *Service) Claim(ctx context.Context, sessionID string) (*batch.Batch, error) {
	b, err := s.transition(ctx, sessionID, batch.StatusProcessing, nil)
	if err != nil {
		return nil, err
	}
	s.exts.EmitBatchProcessing(ctx, b)
	return b, nil
}

// ClaimNext claims the oldest CAPTURED batch. It returns (nil, nil) when
// there is nothing to claim.
func (s *Service) ClaimNext(ctx context.Context) (*batch.Batch, error) {
	var out *batch.Batch
	err := s.guard.Do(func() error {
		pending, err := s.batches.ListBatches(ctx, batch.ListOpts{
			Statuses: []batch.Status{batch.StatusCaptured},
			Limit:    1,
		})
		if err != nil || len(pending) == 0 {
			return err
		}
		b := pending[0]
		if err := batch.Validate(b.Status, batch.StatusProcessing); err != nil {
			return err
		}
		b.Status = batch.StatusProcessing
		b.UpdatedAt = s.now()
		if err := s.batches.UpdateBatch(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: claim next: %w", err)
	}
	if out != nil {
		s.exts.EmitBatchProcessing(ctx, out)
	}
	return out, nil
}

// Update applies fn to a batch without changing its status. fn must not
// touch Status.
func (s *Service) Update(ctx context.Context, sessionID string, fn func(*batch.Batch)) (*batch.Batch, error) {
	var out *batch.Batch
	err := s.guard.Do(func() error {
		b, err := s.batches.GetBatch(ctx, sessionID)
		if err != nil {
			return err
		}
		status := b.Status
		fn(b)
		b.Status = status
		b.UpdatedAt = s.now()
		if err := s.batches.UpdateBatch(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: update %s: %w", sessionID, err)
	}
	return out, nil
}

// MarkPending stores the payload and moves the batch to API_PENDING.
func (s *Service) MarkPending(ctx context.Context, sessionID string, payload json.RawMessage) (*batch.Batch, error) {
	return s.transition(ctx, sessionID, batch.StatusAPIPending, func(b *batch.Batch) {
		b.Payload = slices.Clone(payload)
	})
}

// MarkSent records a confirmed delivery. Attention is cleared.
func (s *Service) MarkSent(ctx context.Context, sessionID, response, palletID string, elapsed time.Duration) (*batch.Batch, error) {
	b, err := s.transition(ctx, sessionID, batch.StatusAPISent, func(b *batch.Batch) {
		now := s.now()
		b.Response = response
		b.PalletID = palletID
		b.LastError = ""
		b.LastAttemptAt = &now
		b.ClearAttention()
	})
	if err != nil {
		return nil, err
	}
	s.exts.EmitBatchSent(ctx, b, elapsed)
	return b, nil
}

// MarkFailed moves the batch to API_FAILED, counts the attempt, raises
// attention and, unless opts.Terminal, writes one alert. A batch already
// in API_FAILED is updated in place.
func (s *Service) MarkFailed(ctx context.Context, sessionID string, cause error, opts FailOpts) (*batch.Batch, error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	reason := opts.Reason
	if reason == "" {
		reason = "API failure: " + msg
	}

	var out *batch.Batch
	err := s.guard.Do(func() error {
		b, err := s.batches.GetBatch(ctx, sessionID)
		if err != nil {
			return err
		}
		if b.Status != batch.StatusAPIFailed {
			if err := batch.Validate(b.Status, batch.StatusAPIFailed); err != nil {
				return err
			}
		}
		now := s.now()
		b.Status = batch.StatusAPIFailed
		b.Attempts++
		b.LastAttemptAt = &now
		b.LastError = msg
		b.RaiseAttention(reason)
		b.UpdatedAt = now
		if err := s.batches.UpdateBatch(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: mark failed %s: %w", sessionID, err)
	}

	if !opts.Terminal {
		typ := opts.AlertType
		if typ == "" {
			typ = alert.TypeAPIFailure
		}
		alertMsg := reason
		if opts.Reason != "" {
			alertMsg = fmt.Sprintf("%s: %s", reason, msg)
		}
		s.raiseOnce(ctx, typ, sessionID, alert.SeverityError, alertMsg)
	}
	s.exts.EmitBatchFailed(ctx, out, cause)
	s.exts.EmitAttentionRaised(ctx, out, reason)
	return out, nil
}

// MarkDuplicate moves the batch to DUPLICATE with attention and a
// duplicate_pallet alert. No delivery happens afterwards.
func (s *Service) MarkDuplicate(ctx context.Context, sessionID, existingPallet, reason string) (*batch.Batch, error) {
	b, err := s.transition(ctx, sessionID, batch.StatusDuplicate, func(b *batch.Batch) {
		b.Note = "Duplicate of " + existingPallet
		b.RaiseAttention(reason)
	})
	if err != nil {
		return nil, err
	}
	s.raiseOnce(ctx, alert.TypeDuplicate, sessionID, alert.SeverityWarning, reason)
	s.events.Record(ctx, event.TypeDuplicate, reason, map[string]string{
		"session_id": sessionID,
		"pallet_id":  existingPallet,
		"policy":     string(kegsync.DuplicateBlock),
	})
	s.exts.EmitBatchDuplicate(ctx, b, existingPallet)
	s.exts.EmitAttentionRaised(ctx, b, b.AttentionReason)
	return b, nil
}

// NoteDuplicate records an advisory duplicate: a note, an alert and an
// event, without changing status or attention.
func (s *Service) NoteDuplicate(ctx context.Context, sessionID, existingPallet, reason string) (*batch.Batch, error) {
	b, err := s.Update(ctx, sessionID, func(b *batch.Batch) {
		b.Note = "Duplicate of " + existingPallet
	})
	if err != nil {
		return nil, err
	}
	s.raiseOnce(ctx, alert.TypeDuplicate, sessionID, alert.SeverityWarning, reason)
	s.events.Record(ctx, event.TypeDuplicate, reason, map[string]string{
		"session_id": sessionID,
		"pallet_id":  existingPallet,
		"policy":     string(kegsync.DuplicateAdvisory),
	})
	s.exts.EmitBatchDuplicate(ctx, b, existingPallet)
	return b, nil
}

// BeginRetry moves a failed batch back to API_PENDING for an operator
// retry. A batch already in API_PENDING is being delivered and yields
// kegsync.ErrDeliveryInFlight.
func (s *Service) BeginRetry(ctx context.Context, sessionID string) (*batch.Batch, error) {
	var out *batch.Batch
	err := s.guard.Do(func() error {
		b, err := s.batches.GetBatch(ctx, sessionID)
		if err != nil {
			return err
		}
		if b.Status == batch.StatusAPIPending {
			return kegsync.ErrDeliveryInFlight
		}
		if err := batch.Validate(b.Status, batch.StatusAPIPending); err != nil {
			return err
		}
		b.Status = batch.StatusAPIPending
		b.UpdatedAt = s.now()
		if err := s.batches.UpdateBatch(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: begin retry %s: %w", sessionID, err)
	}
	return out, nil
}

// Requeue moves an API_FAILED batch back to API_PENDING before another
// delivery attempt. A batch already API_PENDING is returned unchanged.
func (s *Service) Requeue(ctx context.Context, sessionID string) (*batch.Batch, error) {
	var out *batch.Batch
	err := s.guard.Do(func() error {
		b, err := s.batches.GetBatch(ctx, sessionID)
		if err != nil {
			return err
		}
		if b.Status == batch.StatusAPIPending {
			out = b
			return nil
		}
		if err := batch.Validate(b.Status, batch.StatusAPIPending); err != nil {
			return err
		}
		b.Status = batch.StatusAPIPending
		b.UpdatedAt = s.now()
		if err := s.batches.UpdateBatch(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: requeue %s: %w", sessionID, err)
	}
	return out, nil
}

// Resolve closes a batch by operator decision. Attention is cleared in the
// same write and the batch's open alerts are resolved.
func (s *Service) Resolve(ctx context.Context, sessionID, note string) (*batch.Batch, error) {
	if note == "" {
		note = "Manually resolved"
	}
	b, err := s.transition(ctx, sessionID, batch.StatusManualResolved, func(b *batch.Batch) {
		b.Note = note
		b.ClearAttention()
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.alerts.ResolveSession(ctx, sessionID); err != nil {
		s.logger.Warn("resolve session alerts failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
	s.events.Record(ctx, event.TypeManualResolve, "batch resolved by operator", map[string]string{
		"session_id": sessionID,
		"note":       note,
	})
	s.exts.EmitBatchResolved(ctx, b)
	return b, nil
}

// RaiseAttention flags a batch without changing its status. When typ is
// non-empty an alert of that type is written unless one is already open.
func (s *Service) RaiseAttention(ctx context.Context, sessionID, reason string, typ alert.Type) (*batch.Batch, error) {
	b, err := s.Update(ctx, sessionID, func(b *batch.Batch) {
		b.RaiseAttention(reason)
	})
	if err != nil {
		return nil, err
	}
	if typ != "" {
		s.raiseOnce(ctx, typ, sessionID, alert.SeverityWarning, b.AttentionReason)
	}
	s.exts.EmitAttentionRaised(ctx, b, b.AttentionReason)
	return b, nil
}

func (s *Service) transition(ctx context.Context, sessionID string, to batch.Status, mutate func(*batch.Batch)) (*batch.Batch, error) {
	var out *batch.Batch
	err := s.guard.Do(func() error {
		b, err := s.batches.GetBatch(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := batch.Validate(b.Status, to); err != nil {
			return err
		}
		if mutate != nil {
			mutate(b)
		}
		b.Status = to
		b.UpdatedAt = s.now()
		if err := s.batches.UpdateBatch(ctx, b); err != nil {
			return err
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: %s -> %s: %w", sessionID, to, err)
	}
	return out, nil
}

func (s *Service) raiseOnce(ctx context.Context, typ alert.Type, sessionID string, sev alert.Severity, msg string) {
	if _, _, err := s.alerts.RaiseOnce(ctx, typ, sessionID, sev, msg); err != nil {
		s.logger.Error("failed to raise alert",
			slog.String("type", string(typ)),
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}
