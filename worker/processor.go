package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/xraph/kegsync"
	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/delivery"
	"github.com/xraph/kegsync/detect"
	"github.com/xraph/kegsync/fingerprint"
	"github.com/xraph/kegsync/lifecycle"
	"github.com/xraph/kegsync/pallet"
	"github.com/xraph/kegsync/retryq"
)

// Attention reasons written by the pipeline.
const (
	ReasonEmptyBatch     = "Empty batch - not sent"
	ReasonDetection      = "Detection error"
	ReasonDuplicate      = "Duplicate pallet"
	ReasonDeliveryFailed = "API send failure"
)

// errEmptyBatch is recorded when no code could be decoded.
var errEmptyBatch = errors.New("no QR codes decoded")

// Deliverer submits a payload to the cloud.
type Deliverer interface {
	Submit(ctx context.Context, payload json.RawMessage) delivery.Result
}

// ProcessorConfig holds the pipeline settings.
type ProcessorConfig struct {
	MacID           string
	DuplicatePolicy kegsync.DuplicatePolicy
	PurgeImages     bool
}

// Processor takes a claimed batch through detection, deduplication and
// delivery.
type Processor struct {
	lifecycle *lifecycle.Service
	pallets   *pallet.Registry
	retries   *retryq.Service
	detector  detect.Detector
	client    Deliverer
	cfg       ProcessorConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewProcessor creates a Processor.
func NewProcessor(
	lc *lifecycle.Service,
	pallets *pallet.Registry,
	retries *retryq.Service,
	detector detect.Detector,
	client Deliverer,
	cfg ProcessorConfig,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		lifecycle: lc,
		pallets:   pallets,
		retries:   retries,
		detector:  detector,
		client:    client,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process runs the pipeline for b, which must be in PROCESSING. Delivery
// failures are not errors: the batch is left API_FAILED with a retry entry
// and Process returns nil. An error means the pipeline itself broke.
func (p *Processor) Process(ctx context.Context, b *batch.Batch) error {
	start := time.Now()
	if p.detector == nil {
		return kegsync.ErrNoDetector
	}

	codes, detections, method, enhanced, err := p.decode(ctx, b)
	if err != nil {
		p.failDetection(ctx, b.SessionID, err)
		return fmt.Errorf("detect %s: %w", b.SessionID, err)
	}

	b, err = p.lifecycle.Update(ctx, b.SessionID, func(b *batch.Batch) {
		b.Codes = codes
		b.Detections = detections
		b.Method = method
		b.EnhancedFound = enhanced
		b.ProcessingTime = time.Since(start)
	})
	if err != nil {
		return err
	}

	if len(codes) == 0 {
		p.logger.Warn("skipping delivery: empty batch", slog.String("session_id", b.SessionID))
		_, err := p.lifecycle.MarkFailed(ctx, b.SessionID, errEmptyBatch, lifecycle.FailOpts{
			Reason:    ReasonEmptyBatch,
			AlertType: alert.TypeBatchMiss,
		})
		return err
	}

	if !b.Complete() {
		p.logger.Warn("batch miss",
			slog.String("session_id", b.SessionID),
			slog.Int("decoded", len(codes)),
			slog.Int("target", b.TargetCount),
		)
		if _, err := p.lifecycle.RaiseAttention(ctx, b.SessionID, batch.ReasonBatchMiss, alert.TypeBatchMiss); err != nil {
			return err
		}
	}

	blocked, err := p.checkDuplicate(ctx, b)
	if err != nil || blocked {
		return err
	}

	doc, err := delivery.BuildPayload(b, p.cfg.MacID, p.now()).Encode()
	if err != nil {
		return err
	}
	if b, err = p.lifecycle.MarkPending(ctx, b.SessionID, doc); err != nil {
		return err
	}

	return p.deliver(ctx, b, doc, start)
}

// decode runs the standard pass and, when it falls short of the target,
// the enhanced pass. An enhanced failure keeps the standard result.
func (p *Processor) decode(ctx context.Context, b *batch.Batch) ([]string, int, batch.Method, int, error) {
	raw, detections, err := p.detector.Detect(ctx, b.ImageRef, detect.ModeStandard)
	if err != nil {
		return nil, 0, "", 0, err
	}
	codes := fingerprint.Normalize(raw)
	if len(codes) >= b.TargetCount {
		return codes, max(detections, len(codes)), batch.MethodStandard, 0, nil
	}

	p.logger.Info("standard pass short of target, running enhanced detection",
		slog.String("session_id", b.SessionID),
		slog.Int("found", len(codes)),
		slog.Int("target", b.TargetCount),
	)
	extra, extraDetections, err := p.detector.Detect(ctx, b.ImageRef, detect.ModeEnhanced)
	if err != nil {
		p.logger.Warn("enhanced detection failed",
			slog.String("session_id", b.SessionID),
			slog.String("error", err.Error()),
		)
		return codes, max(detections, len(codes)), batch.MethodStandard, 0, nil
	}
	merged := fingerprint.Normalize(slices.Concat(codes, extra))
	return merged, max(detections, extraDetections, len(merged)), batch.MethodEnhanced, len(merged) - len(codes), nil
}

// checkDuplicate registers the pallet fingerprint. It reports blocked when
// the duplicate policy stops delivery.
func (p *Processor) checkDuplicate(ctx context.Context, b *batch.Batch) (bool, error) {
	fp, ok := fingerprint.Compute(b.Codes, b.TargetCount)
	if !ok {
		return false, nil
	}
	res, err := p.pallets.Register(ctx, fp, b.SessionID, b.BeerType, len(b.Codes))
	if err != nil {
		return false, err
	}
	if res.Created {
		return false, nil
	}

	existing := res.PalletID.String()
	reason := fmt.Sprintf("%s: matches %s (%s, %s)", ReasonDuplicate, existing, res.ExistingSession, res.ExistingStatus)
	p.logger.Warn("duplicate pallet detected",
		slog.String("session_id", b.SessionID),
		slog.String("existing_pallet", existing),
		slog.String("existing_session", res.ExistingSession),
		slog.String("policy", string(p.cfg.DuplicatePolicy)),
	)

	if p.cfg.DuplicatePolicy == kegsync.DuplicateBlock {
		_, err := p.lifecycle.MarkDuplicate(ctx, b.SessionID, existing, reason)
		return true, err
	}
	_, err = p.lifecycle.NoteDuplicate(ctx, b.SessionID, existing, reason)
	return false, err
}

// deliver submits detached from the run context: once the payload is
// persisted the send runs to completion, bounded only by the client's
// per-attempt timeout.
func (p *Processor) deliver(ctx context.Context, b *batch.Batch, doc json.RawMessage, start time.Time) error {
	ctx = context.WithoutCancel(ctx)
	res := p.client.Submit(ctx, doc)

	if res.OK {
		if _, err := p.lifecycle.MarkSent(ctx, b.SessionID, res.Body, res.PalletID, time.Since(start)); err != nil {
			return err
		}
		if err := p.retries.Remove(ctx, b.SessionID); err != nil {
			p.logger.Warn("failed to remove retry entry",
				slog.String("session_id", b.SessionID),
				slog.String("error", err.Error()),
			)
		}
		p.purge(b)
		p.logger.Info("batch delivered",
			slog.String("session_id", b.SessionID),
			slog.String("pallet_id", res.PalletID),
			slog.Int("attempts", res.Attempts),
		)
		return nil
	}

	cause := res.Err
	if cause == nil {
		cause = kegsync.ErrDeliveryFailed
	}
	if res.Terminal {
		p.logger.Error("delivery aborted",
			slog.String("session_id", b.SessionID),
			slog.String("error", cause.Error()),
		)
	}
	if _, err := p.lifecycle.MarkFailed(ctx, b.SessionID, cause, lifecycle.FailOpts{Reason: ReasonDeliveryFailed}); err != nil {
		return err
	}
	if _, err := p.retries.Enqueue(ctx, b.SessionID, doc, cause.Error()); err != nil {
		return err
	}
	return nil
}

func (p *Processor) failDetection(ctx context.Context, sessionID string, cause error) {
	_, err := p.lifecycle.MarkFailed(context.WithoutCancel(ctx), sessionID, cause, lifecycle.FailOpts{
		Reason:    ReasonDetection,
		AlertType: alert.TypeDetectionError,
	})
	if err != nil {
		p.logger.Error("failed to record detection error",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Processor) purge(b *batch.Batch) {
	if !p.cfg.PurgeImages || b.ImageRef == "" {
		return
	}
	if err := os.Remove(b.ImageRef); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to purge image",
			slog.String("session_id", b.SessionID),
			slog.String("image", b.ImageRef),
			slog.String("error", err.Error()),
		)
	}
}
