// Package event is the append-only system event log: recovery runs,
// sweeps, network transitions and operator actions. It complements the
// per-batch audit trail with station-wide history.
package event

import (
	"encoding/json"
	"time"

	"github.com/xraph/kegsync/id"
)

// Type names the kind of event.
type Type string

// Event types written by the station.
const (
	TypeRecovery      Type = "recovery"
	TypeStuckBatch    Type = "stuck_batch"
	TypeRequeued      Type = "requeued"
	TypeSweep         Type = "sweep"
	TypeIntegrity     Type = "integrity"
	TypeNetworkOnline Type = "network_online"
	TypeNetworkDown   Type = "network_offline"
	TypeDuplicate     Type = "duplicate_pallet"
	TypeManualResolve Type = "manual_resolve"
	TypeManualRetry   Type = "manual_retry"
	TypeRetryDrained  Type = "retry_drained"
	TypeStartup       Type = "startup"
	TypeShutdown      Type = "shutdown"
)

// Event is one system log record.
type Event struct {
	ID        id.EventID      `json:"id"`
	Type      Type            `json:"type"`
	Message   string          `json:"message"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
