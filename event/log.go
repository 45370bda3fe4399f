package event

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/xraph/kegsync/id"
)

// Log records events to a Store. Recording is best effort: a failed write
// is logged and never interrupts the caller's operation.
type Log struct {
	store  Store
	logger *slog.Logger
}

// NewLog creates an event log backed by store.
func NewLog(store Store, logger *slog.Logger) *Log {
	return &Log{store: store, logger: logger}
}

// Record appends an event. details may be nil or any JSON-encodable value.
func (l *Log) Record(ctx context.Context, typ Type, message string, details any) *Event {
	evt := &Event{
		ID:        id.NewEventID(),
		Type:      typ,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if details != nil {
		data, err := json.Marshal(details)
		if err != nil {
			l.logger.Warn("event details not encodable",
				slog.String("type", string(typ)),
				slog.String("error", err.Error()),
			)
		} else {
			evt.Details = data
		}
	}
	if err := l.store.AppendEvent(ctx, evt); err != nil {
		l.logger.Error("failed to record event",
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
	return evt
}

// Store returns the underlying event store.
func (l *Log) Store() Store { return l.store }
