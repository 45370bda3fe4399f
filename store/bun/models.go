package bunstore

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
	"github.com/xraph/kegsync/event"
	"github.com/xraph/kegsync/fingerprint"
	"github.com/xraph/kegsync/id"
	"github.com/xraph/kegsync/pallet"
	"github.com/xraph/kegsync/retryq"
)

// ──────────────────────────────────────────────────
// Batch model
// ──────────────────────────────────────────────────

type batchModel struct {
	bun.BaseModel `bun:"table:kegsync_batches"`

	SessionID         string     `bun:"session_id,pk"`
	Seq               int64      `bun:"seq,notnull"`
	TargetCount       int        `bun:"target_count,notnull"`
	ImageRef          string     `bun:"image_ref,notnull"`
	Codes             string     `bun:"codes,notnull"`
	CodeCount         int        `bun:"code_count,notnull"`
	Detections        int        `bun:"detections,notnull"`
	Method            string     `bun:"method,notnull"`
	EnhancedFound     int        `bun:"enhanced_found,notnull"`
	BeerType          string     `bun:"beer_type,notnull"`
	Label             string     `bun:"label,notnull"`
	FilledAt          *time.Time `bun:"filled_at"`
	ProcessingTime    int64      `bun:"processing_time,notnull"`
	Status            string     `bun:"status,notnull"`
	Attempts          int        `bun:"attempts,notnull"`
	LastAttemptAt     *time.Time `bun:"last_attempt_at"`
	LastError         string     `bun:"last_error,notnull"`
	Payload           string     `bun:"payload,nullzero"`
	Response          string     `bun:"response,notnull"`
	PalletID          string     `bun:"pallet_id,notnull"`
	Note              string     `bun:"note,notnull"`
	RequiresAttention bool       `bun:"requires_attention,notnull"`
	AttentionReason   string     `bun:"attention_reason,notnull"`
	CreatedAt         time.Time  `bun:"created_at,notnull"`
	UpdatedAt         time.Time  `bun:"updated_at,notnull"`
}

func toBatchModel(b *batch.Batch) *batchModel {
	codes, _ := json.Marshal(nonNil(b.Codes)) //nolint:errcheck // []string always marshals
	var filled *time.Time
	if !b.FilledAt.IsZero() {
		filled = utcPtr(&b.FilledAt)
	}
	return &batchModel{
		SessionID:         b.SessionID,
		Seq:               b.Seq,
		TargetCount:       b.TargetCount,
		ImageRef:          b.ImageRef,
		Codes:             string(codes),
		CodeCount:         len(b.Codes),
		Detections:        b.Detections,
		Method:            string(b.Method),
		EnhancedFound:     b.EnhancedFound,
		BeerType:          b.BeerType,
		Label:             b.Label,
		FilledAt:          filled,
		ProcessingTime:    int64(b.ProcessingTime),
		Status:            string(b.Status),
		Attempts:          b.Attempts,
		LastAttemptAt:     utcPtr(b.LastAttemptAt),
		LastError:         b.LastError,
		Payload:           string(b.Payload),
		Response:          b.Response,
		PalletID:          b.PalletID,
		Note:              b.Note,
		RequiresAttention: b.RequiresAttention,
		AttentionReason:   b.AttentionReason,
		CreatedAt:         utc(b.CreatedAt),
		UpdatedAt:         utc(b.UpdatedAt),
	}
}

func fromBatchModel(m *batchModel, logger *slog.Logger) *batch.Batch {
	codes := []string{}
	if m.Codes != "" {
		if err := json.Unmarshal([]byte(m.Codes), &codes); err != nil {
			logger.Warn("unreadable batch codes, treating as empty",
				slog.String("session_id", m.SessionID),
				slog.String("error", err.Error()),
			)
			codes = []string{}
		}
	}
	b := &batch.Batch{
		SessionID:         m.SessionID,
		Seq:               m.Seq,
		TargetCount:       m.TargetCount,
		ImageRef:          m.ImageRef,
		Codes:             codes,
		Detections:        m.Detections,
		Method:            batch.Method(m.Method),
		EnhancedFound:     m.EnhancedFound,
		BeerType:          m.BeerType,
		Label:             m.Label,
		ProcessingTime:    time.Duration(m.ProcessingTime),
		Status:            batch.Status(m.Status),
		Attempts:          m.Attempts,
		LastAttemptAt:     utcPtr(m.LastAttemptAt),
		LastError:         m.LastError,
		Response:          m.Response,
		PalletID:          m.PalletID,
		Note:              m.Note,
		RequiresAttention: m.RequiresAttention,
		AttentionReason:   m.AttentionReason,
		CreatedAt:         utc(m.CreatedAt),
		UpdatedAt:         utc(m.UpdatedAt),
	}
	if m.FilledAt != nil {
		b.FilledAt = m.FilledAt.UTC()
	}
	if m.Payload != "" {
		b.Payload = json.RawMessage(m.Payload)
	}
	return b
}

func nonNil(codes []string) []string {
	if codes == nil {
		return []string{}
	}
	return codes
}

// ──────────────────────────────────────────────────
// Pallet model
// ──────────────────────────────────────────────────

type palletModel struct {
	bun.BaseModel `bun:"table:kegsync_pallets"`

	ID          string     `bun:"id,pk"`
	Fingerprint string     `bun:"fingerprint,notnull"`
	SessionID   string     `bun:"session_id,notnull"`
	KegType     string     `bun:"keg_type,notnull"`
	KegCount    int        `bun:"keg_count,notnull"`
	Status      string     `bun:"status,notnull"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	ShippedAt   *time.Time `bun:"shipped_at"`
	UpdatedAt   time.Time  `bun:"updated_at,notnull"`
}

func toPalletModel(p *pallet.Pallet) *palletModel {
	return &palletModel{
		ID:          p.ID.String(),
		Fingerprint: string(p.Fingerprint),
		SessionID:   p.SessionID,
		KegType:     p.KegType,
		KegCount:    p.KegCount,
		Status:      string(p.Status),
		CreatedAt:   utc(p.CreatedAt),
		ShippedAt:   utcPtr(p.ShippedAt),
		UpdatedAt:   utc(p.UpdatedAt),
	}
}

func fromPalletModel(m *palletModel) (*pallet.Pallet, error) {
	palletID, err := id.ParsePalletID(m.ID)
	if err != nil {
		return nil, err
	}
	return &pallet.Pallet{
		ID:          palletID,
		Fingerprint: fingerprint.Fingerprint(m.Fingerprint),
		SessionID:   m.SessionID,
		KegType:     m.KegType,
		KegCount:    m.KegCount,
		Status:      pallet.Status(m.Status),
		CreatedAt:   utc(m.CreatedAt),
		ShippedAt:   utcPtr(m.ShippedAt),
		UpdatedAt:   utc(m.UpdatedAt),
	}, nil
}

// ──────────────────────────────────────────────────
// Retry model
// ──────────────────────────────────────────────────

type retryModel struct {
	bun.BaseModel `bun:"table:kegsync_retries"`

	SessionID     string     `bun:"session_id,pk"`
	Payload       string     `bun:"payload,notnull"`
	Attempts      int        `bun:"attempts,notnull"`
	MaxAttempts   int        `bun:"max_attempts,notnull"`
	NextRetryAt   time.Time  `bun:"next_retry_at,notnull"`
	LastAttemptAt *time.Time `bun:"last_attempt_at"`
	LastError     string     `bun:"last_error,notnull"`
	CreatedAt     time.Time  `bun:"created_at,notnull"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull"`
}

func toRetryModel(e *retryq.Entry) *retryModel {
	return &retryModel{
		SessionID:     e.SessionID,
		Payload:       string(e.Payload),
		Attempts:      e.Attempts,
		MaxAttempts:   e.MaxAttempts,
		NextRetryAt:   utc(e.NextRetryAt),
		LastAttemptAt: utcPtr(e.LastAttemptAt),
		LastError:     e.LastError,
		CreatedAt:     utc(e.CreatedAt),
		UpdatedAt:     utc(e.UpdatedAt),
	}
}

func fromRetryModel(m *retryModel) *retryq.Entry {
	return &retryq.Entry{
		SessionID:     m.SessionID,
		Payload:       json.RawMessage(m.Payload),
		Attempts:      m.Attempts,
		MaxAttempts:   m.MaxAttempts,
		NextRetryAt:   utc(m.NextRetryAt),
		LastAttemptAt: utcPtr(m.LastAttemptAt),
		LastError:     m.LastError,
		CreatedAt:     utc(m.CreatedAt),
		UpdatedAt:     utc(m.UpdatedAt),
	}
}

// ──────────────────────────────────────────────────
// Alert model
// ──────────────────────────────────────────────────

type alertModel struct {
	bun.BaseModel `bun:"table:kegsync_alerts"`

	Seq        int64      `bun:"seq,scanonly"`
	ID         string     `bun:"id,pk"`
	Type       string     `bun:"type,notnull"`
	SessionID  string     `bun:"session_id,notnull"`
	Message    string     `bun:"message,notnull"`
	Severity   string     `bun:"severity,notnull"`
	Resolved   bool       `bun:"resolved,notnull"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
	ResolvedAt *time.Time `bun:"resolved_at"`
}

func toAlertModel(a *alert.Alert) *alertModel {
	return &alertModel{
		ID:         a.ID.String(),
		Type:       string(a.Type),
		SessionID:  a.SessionID,
		Message:    a.Message,
		Severity:   string(a.Severity),
		Resolved:   a.Resolved,
		CreatedAt:  utc(a.CreatedAt),
		ResolvedAt: utcPtr(a.ResolvedAt),
	}
}

func fromAlertModel(m *alertModel) (*alert.Alert, error) {
	alertID, err := id.ParseAlertID(m.ID)
	if err != nil {
		return nil, err
	}
	return &alert.Alert{
		ID:         alertID,
		Type:       alert.Type(m.Type),
		SessionID:  m.SessionID,
		Message:    m.Message,
		Severity:   alert.Severity(m.Severity),
		Resolved:   m.Resolved,
		CreatedAt:  utc(m.CreatedAt),
		ResolvedAt: utcPtr(m.ResolvedAt),
	}, nil
}

// ──────────────────────────────────────────────────
// Event model
// ──────────────────────────────────────────────────

type eventModel struct {
	bun.BaseModel `bun:"table:kegsync_events"`

	Seq       int64     `bun:"seq,scanonly"`
	ID        string    `bun:"id,pk"`
	Type      string    `bun:"type,notnull"`
	Message   string    `bun:"message,notnull"`
	Details   string    `bun:"details,nullzero"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:        evt.ID.String(),
		Type:      string(evt.Type),
		Message:   evt.Message,
		Details:   string(evt.Details),
		CreatedAt: utc(evt.CreatedAt),
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	eventID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	evt := &event.Event{
		ID:        eventID,
		Type:      event.Type(m.Type),
		Message:   m.Message,
		CreatedAt: utc(m.CreatedAt),
	}
	if m.Details != "" {
		evt.Details = json.RawMessage(m.Details)
	}
	return evt, nil
}
