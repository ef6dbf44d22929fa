package store

import (
	"context"
	"time"

	"OrderSettlement/internal/models"
)

func (s *Store) FetchPendingEvents(ctx context.Context, limit int) ([]models.Event, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT event_id, event_type, aggregate_id, payload, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY created_at, event_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.EventID, &ev.Type, &ev.AggregateID, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *Store) MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.Pool.Exec(ctx, `
		UPDATE outbox_events SET published_at=$2
		WHERE event_id = ANY($1) AND published_at IS NULL
	`, ids, at)
	return err
}
