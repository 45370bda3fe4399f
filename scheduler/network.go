package scheduler

import (
	"context"
	"log/slog"

	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/event"
)

// CheckNetwork probes the endpoint and records a transition when the
// state changed. Coming back online resolves open network_offline alerts
// and triggers a drain.
func (s *Scheduler) CheckNetwork(ctx context.Context) bool {
	online := s.client.Probe(ctx)

	s.netMu.Lock()
	changed := !s.probed || s.online != online
	first := !s.probed
	s.online = online
	s.probed = true
	s.netMu.Unlock()

	if !changed || (first && online) {
		return online
	}

	s.exts.EmitNetworkChanged(ctx, online)

	if !online {
		s.logger.Warn("network offline, pausing retry drain")
		if _, _, err := s.alerts.RaiseOnce(ctx, alert.TypeNetworkOffline, "", alert.SeverityWarning,
			"Network offline: delivery endpoint unreachable"); err != nil {
			s.logger.Error("failed to raise alert", slog.String("error", err.Error()))
		}
		s.events.Record(ctx, event.TypeNetworkDown, "delivery endpoint unreachable", nil)
		return online
	}

	s.logger.Info("network back online, draining retry queue")
	if _, err := s.alerts.ResolveType(ctx, alert.TypeNetworkOffline); err != nil {
		s.logger.Error("failed to resolve network alerts", slog.String("error", err.Error()))
	}
	s.events.Record(ctx, event.TypeNetworkOnline, "delivery endpoint reachable", nil)
	s.Trigger()
	return online
}
