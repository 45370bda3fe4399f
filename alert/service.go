package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/kegsync/id"
)

// Service provides alert operations over a Store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates an alert service.
func NewService(store Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Raise writes a new open alert.
func (s *Service) Raise(ctx context.Context, typ Type, sessionID string, sev Severity, message string) (*Alert, error) {
	a := &Alert{
		ID:        id.NewAlertID(),
		Type:      typ,
		SessionID: sessionID,
		Message:   message,
		Severity:  sev,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("alert: raise %s: %w", typ, err)
	}
	return a, nil
}

// RaiseOnce writes an alert unless an open alert of the same type for the
// same session already exists. It reports whether a new alert was written.
func (s *Service) RaiseOnce(ctx context.Context, typ Type, sessionID string, sev Severity, message string) (*Alert, bool, error) {
	open, err := s.store.ListAlerts(ctx, ListOpts{Type: typ, SessionID: sessionID, Unresolved: true, Limit: 1})
	if err != nil {
		return nil, false, fmt.Errorf("alert: raise once %s: %w", typ, err)
	}
	if len(open) > 0 {
		return open[0], false, nil
	}
	a, err := s.Raise(ctx, typ, sessionID, sev, message)
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// Resolve closes one alert.
func (s *Service) Resolve(ctx context.Context, alertID id.AlertID) error {
	return s.store.ResolveAlert(ctx, alertID, s.now())
}

// ResolveSession closes every open alert of a batch and returns how many
// were closed.
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (int, error) {
	open, err := s.store.ListAlerts(ctx, ListOpts{SessionID: sessionID, Unresolved: true})
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, a := range open {
		if err := s.store.ResolveAlert(ctx, a.ID, now); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

// ResolveType closes every open alert of typ.
func (s *Service) ResolveType(ctx context.Context, typ Type) (int, error) {
	open, err := s.store.ListAlerts(ctx, ListOpts{Type: typ, Unresolved: true})
	if err != nil {
		return 0, err
	}
	now := s.now()
	for _, a := range open {
		if err := s.store.ResolveAlert(ctx, a.ID, now); err != nil {
			return 0, err
		}
	}
	return len(open), nil
}

// Expire resolves open alerts of typ older than ttl.
func (s *Service) Expire(ctx context.Context, typ Type, ttl time.Duration) (int64, error) {
	now := s.now()
	return s.store.ResolveAlertsBefore(ctx, typ, now.Add(-ttl), now)
}

// Store returns the underlying alert store.
func (s *Service) Store() Store { return s.store }
