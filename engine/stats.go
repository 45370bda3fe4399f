package engine

import (
	"context"
	"fmt"

	"github.com/xraph/kegsync/alert"
	"github.com/xraph/kegsync/batch"
)

// Stats is a point-in-time snapshot of the station.
type Stats struct {
	Batches     map[batch.Status]int64 `json:"batches"`
	Total       int64                  `json:"total"`
	Attention   int64                  `json:"attention"`
	RetryQueue  int64                  `json:"retry_queue"`
	Exhausted   int                    `json:"exhausted"`
	OpenAlerts  int64                  `json:"open_alerts"`
	ActiveTasks int                    `json:"active_tasks"`
	MaxWorkers  int                    `json:"max_workers"`
	Online      bool                   `json:"online"`
}

// Stats counts batches per status and summarizes the retry queue, alerts
// and worker pool.
func (eng *Engine) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		Batches:     make(map[batch.Status]int64, len(batch.Statuses)),
		ActiveTasks: eng.pool.Active(),
		MaxWorkers:  eng.st.Config().Concurrency,
		Online:      eng.scheduler.Online(),
	}
	for _, status := range batch.Statuses {
		n, err := eng.store.CountBatches(ctx, batch.CountOpts{Status: status})
		if err != nil {
			return Stats{}, fmt.Errorf("kegsync: stats: %w", err)
		}
		st.Batches[status] = n
		st.Total += n
	}

	var err error
	if st.Attention, err = eng.store.CountBatches(ctx, batch.CountOpts{Attention: true}); err != nil {
		return Stats{}, fmt.Errorf("kegsync: stats: %w", err)
	}
	if st.RetryQueue, err = eng.store.CountRetries(ctx); err != nil {
		return Stats{}, fmt.Errorf("kegsync: stats: %w", err)
	}
	exhausted, err := eng.store.ListExhausted(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("kegsync: stats: %w", err)
	}
	st.Exhausted = len(exhausted)
	if st.OpenAlerts, err = eng.store.CountAlerts(ctx, alert.ListOpts{Unresolved: true}); err != nil {
		return Stats{}, fmt.Errorf("kegsync: stats: %w", err)
	}
	return st, nil
}
