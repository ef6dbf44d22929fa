package events

import (
	"context"
	"log/slog"
	"time"

	"OrderSettlement/internal/models"
)

type Outbox interface {
	FetchPendingEvents(ctx context.Context, limit int) ([]models.Event, error)
	MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error
}

// Relay moves committed outbox rows to the publisher. Delivery is at least
// once: a batch that fails to publish stays pending and is retried whole.
type Relay struct {
	Outbox    Outbox
	Publisher Publisher
	BatchSize int
	Logger    *slog.Logger
}

func (r Relay) log() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// RelayOnce publishes one batch and returns how many events went out.
func (r Relay) RelayOnce(ctx context.Context) (int, error) {
	limit := r.BatchSize
	if limit <= 0 {
		limit = 100
	}
	pending, err := r.Outbox.FetchPendingEvents(ctx, limit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := r.Publisher.Publish(ctx, pending); err != nil {
		return 0, err
	}
	ids := make([]string, 0, len(pending))
	for _, ev := range pending {
		ids = append(ids, ev.EventID)
	}
	if err := r.Outbox.MarkEventsPublished(ctx, ids, time.Now().UTC()); err != nil {
		return 0, err
	}
	return len(pending), nil
}

// Run drains the outbox every interval until ctx ends. Full batches are
// followed immediately by another one.
func (r Relay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log().Error("outbox relay failed", "err", err)
				}
				break
			}
			if n > 0 {
				r.log().Debug("outbox relayed", "events", n)
			}
			if n == 0 || (r.BatchSize > 0 && n < r.BatchSize) {
				break
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
