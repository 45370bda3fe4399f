// Package batch defines the capture-to-delivery unit of work and its
// lifecycle state machine.
//
// A Batch is opened when a capture is submitted and is never deleted; the
// table is the audit trail of every pallet the station has seen. Status
// changes go through Validate so that transition rules live in one place.
package batch

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Method records which detector mode produced the decoded codes.
type Method string

const (
	// MethodStandard is the fast single-pass detector mode.
	MethodStandard Method = "standard"
	// MethodEnhanced is the slower tiled/upscaled mode used when the
	// standard pass falls short of the target count.
	MethodEnhanced Method = "enhanced"
)

// DefaultAttentionReason is used when attention is raised without a reason.
const DefaultAttentionReason = "Requires operator review"

// ReasonBatchMiss flags a batch that decoded fewer codes than its target.
const ReasonBatchMiss = "Batch miss - incomplete QRs"

// Batch is one physical capture event.
type Batch struct {
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`

	TargetCount    int           `json:"target_count"`
	ImageRef       string        `json:"image_ref,omitempty"`
	Codes          []string      `json:"codes"`
	Detections     int           `json:"detections"`
	Method         Method        `json:"method,omitempty"`
	EnhancedFound  int           `json:"enhanced_found,omitempty"`
	BeerType       string        `json:"beer_type"`
	Label          string        `json:"label"`
	FilledAt       time.Time     `json:"filled_at"`
	ProcessingTime time.Duration `json:"processing_time,omitempty"`

	Status        Status          `json:"status"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Response      string          `json:"response,omitempty"`
	PalletID      string          `json:"pallet_id,omitempty"`
	Note          string          `json:"note,omitempty"`

	// RequiresAttention and AttentionReason are always changed together
	// through RaiseAttention and ClearAttention.
	RequiresAttention bool   `json:"requires_attention"`
	AttentionReason   string `json:"attention_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionID formats the human-readable session id for a sequence number.
func SessionID(seq int64) string {
	return fmt.Sprintf("BATCH_%04d", seq)
}

// RaiseAttention flags the batch for operator review.
func (b *Batch) RaiseAttention(reason string) {
	if reason == "" {
		reason = DefaultAttentionReason
	}
	b.RequiresAttention = true
	b.AttentionReason = reason
}

// ClearAttention removes the flag and its reason.
func (b *Batch) ClearAttention() {
	b.RequiresAttention = false
	b.AttentionReason = ""
}

// Complete reports whether the decoded code count reached the target.
func (b *Batch) Complete() bool {
	return len(b.Codes) >= b.TargetCount
}

// Clone returns a deep copy of the batch.
func (b *Batch) Clone() *Batch {
	cp := *b
	cp.Codes = slices.Clone(b.Codes)
	cp.Payload = slices.Clone(b.Payload)
	if b.LastAttemptAt != nil {
		t := *b.LastAttemptAt
		cp.LastAttemptAt = &t
	}
	return &cp
}
