package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/event"
)

// MaintenanceReport counts what a housekeeping run removed or resolved.
type MaintenanceReport struct {
	Swept          int64 `json:"swept"`
	ResolvedAlerts int64 `json:"resolved_alerts"`
	Orphans        int64 `json:"orphans"`
}

// Maintain sweeps exhausted entries past retention and resolves
// network_offline alerts past their TTL. Batch rows are never touched.
func (s *Scheduler) Maintain(ctx context.Context) MaintenanceReport {
	var r MaintenanceReport

	swept, err := s.retries.Sweep(ctx, s.retention)
	if err != nil {
		s.logger.Error("retry sweep failed", slog.String("error", err.Error()))
	}
	r.Swept = swept

	resolved, err := s.alerts.Expire(ctx, alert.TypeNetworkOffline, s.alertTTL)
	if err != nil {
		s.logger.Error("network alert expiry failed", slog.String("error", err.Error()))
	}
	r.ResolvedAlerts = resolved

	if r.Swept > 0 || r.ResolvedAlerts > 0 {
		s.events.Record(ctx, event.TypeSweep,
			fmt.Sprintf("swept %d retry entries, resolved %d network alerts", r.Swept, r.ResolvedAlerts), r)
	}
	return r
}

// CheckIntegrity removes retry entries whose batch no longer exists.
func (s *Scheduler) CheckIntegrity(ctx context.Context) MaintenanceReport {
	var r MaintenanceReport
	orphans, err := s.retries.DeleteOrphans(ctx)
	if err != nil {
		s.logger.Error("integrity check failed", slog.String("error", err.Error()))
		return r
	}
	r.Orphans = orphans
	if orphans > 0 {
		s.logger.Warn("removed orphan retry entries", slog.Int64("count", orphans))
		s.events.Record(ctx, event.TypeIntegrity, fmt.Sprintf("removed %d orphan retry entries", orphans), r)
	}
	return r
}
