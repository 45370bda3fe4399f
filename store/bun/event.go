package bunstore

import (
	"context"
	"fmt"

	"github.com/xraph/kegsync/event"
)

// AppendEvent persists a new event.
func (s *Store) AppendEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.db.NewInsert().Model(toEventModel(evt)).Exec(ctx)
	if err != nil {
		return fmt.Errorf("kegsync/bun: append event: %w", err)
	}
	return nil
}

// ListEvents returns events newest first.
func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	q := s.db.NewSelect().Model((*eventModel)(nil))
	if opts.Type != "" {
		q = q.Where("type = ?", string(opts.Type))
	}
	q = paginate(q.Order("seq DESC"), opts.Offset, opts.Limit)

	var models []eventModel
	if err := q.Scan(ctx, &models); err != nil {
		return nil, fmt.Errorf("kegsync/bun: list events: %w", err)
	}
	out := make([]*event.Event, 0, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, fmt.Errorf("kegsync/bun: list events: %w", err)
		}
		out = append(out, evt)
	}
	return out, nil
}
