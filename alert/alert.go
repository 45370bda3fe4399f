// Package alert holds operator-facing alerts. An alert is written whenever
// a batch is flagged for attention or the station notices a condition an
// operator should see; alerts are not part of delivery correctness.
package alert

import (
	"time"

	"github.com/xraph/kegsync/id"
)

// Type classifies an alert.
type Type string

const (
	TypeAPIFailure     Type = "api_failure"
	TypeStuckBatch     Type = "stuck_batch"
	TypeBatchMiss      Type = "batch_miss"
	TypeDuplicate      Type = "duplicate_pallet"
	TypeRetryExhausted Type = "retry_exhausted"
	TypeNetworkOffline Type = "network_offline"
	TypeDetectionError Type = "detection_error"
	TypeProcessing     Type = "processing_error"
)

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Alert is one operator notification.
type Alert struct {
	ID         id.AlertID `json:"id"`
	Type       Type       `json:"type"`
	SessionID  string     `json:"session_id,omitempty"`
	Message    string     `json:"message"`
	Severity   Severity   `json:"severity"`
	Resolved   bool       `json:"resolved"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}
