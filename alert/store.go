package alert

import (
	"context"
	"time"

	"github.com/xraph/kegsync/id"
)

// ListOpts controls pagination and filtering for alert list queries.
type ListOpts struct {
	// Type filters by alert type. Empty means all.
	Type Type
	// SessionID filters by related batch. Empty means all.
	SessionID string
	// Unresolved limits the result to open alerts.
	Unresolved bool
	// Limit is the maximum number of alerts to return. Zero means no limit.
	Limit int
	// Offset is the number of alerts to skip.
	Offset int
}

// Store defines the persistence contract for alerts.
type Store interface {
	// CreateAlert persists a new alert.
	CreateAlert(ctx context.Context, a *Alert) error

	// GetAlert retrieves an alert by ID.
	GetAlert(ctx context.Context, alertID id.AlertID) (*Alert, error)

	// ListAlerts returns alerts matching the options, newest first.
	ListAlerts(ctx context.Context, opts ListOpts) ([]*Alert, error)

	// ResolveAlert marks one alert resolved at the given time.
	ResolveAlert(ctx context.Context, alertID id.AlertID, at time.Time) error

	// ResolveAlertsBefore resolves open alerts of the given type created
	// before the cutoff and returns how many were resolved.
	ResolveAlertsBefore(ctx context.Context, typ Type, before, at time.Time) (int64, error)

	// CountAlerts returns the number of alerts matching the options.
	CountAlerts(ctx context.Context, opts ListOpts) (int64, error)
}
