// Package stream fans station lifecycle events out to live subscribers.
// The Broker is registered as an extension and publishes each hook onto
// topics that the HTTP API serves as server-sent events.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Batch events.
	EventBatchCaptured   EventType = "batch.captured"
	EventBatchProcessing EventType = "batch.processing"
	EventBatchSent       EventType = "batch.sent"
	EventBatchFailed     EventType = "batch.failed"
	EventBatchDuplicate  EventType = "batch.duplicate"
	EventBatchAttention  EventType = "batch.attention"
	EventBatchResolved   EventType = "batch.resolved"

	// Retry queue events.
	EventRetryExhausted EventType = "retry.exhausted"

	// Connectivity events.
	EventNetworkChanged EventType = "network.changed"
)

// Event is the envelope sent to subscribers.
type Event struct {
	// Seq increases by one per published event.
	Seq int64 `json:"seq"`

	Type      EventType `json:"type"`
	Timestamp time.Time `json:"ts"`

	// Topic is the entity topic, e.g. batch:BATCH_0001. Empty for events
	// that only reach the group topics.
	Topic string `json:"topic,omitempty"`

	Data json.RawMessage `json:"data"`
}

// BatchEventData is the payload of batch events.
type BatchEventData struct {
	SessionID      string `json:"session_id"`
	Status         string `json:"status"`
	Label          string `json:"label,omitempty"`
	CodeCount      int    `json:"code_count"`
	TargetCount    int    `json:"target_count"`
	PalletID       string `json:"pallet_id,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`
	Error          string `json:"error,omitempty"`
	Reason         string `json:"reason,omitempty"`
	ExistingPallet string `json:"existing_pallet,omitempty"`
}

// RetryEventData is the payload of retry events.
type RetryEventData struct {
	SessionID   string `json:"session_id"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	Error       string `json:"error,omitempty"`
}

// NetworkEventData is the payload of connectivity events.
type NetworkEventData struct {
	Online bool `json:"online"`
}
