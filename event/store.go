package event

import "context"

// ListOpts controls pagination and filtering for event list queries.
type ListOpts struct {
	// Type filters by event type. Empty means all.
	Type Type
	// Limit is the maximum number of events to return. Zero means no limit.
	Limit int
	// Offset is the number of events to skip.
	Offset int
}

// Store defines the persistence contract for system events.
type Store interface {
	// AppendEvent persists a new event.
	AppendEvent(ctx context.Context, evt *Event) error

	// ListEvents returns events matching the options, newest first.
	ListEvents(ctx context.Context, opts ListOpts) ([]*Event, error)
}
