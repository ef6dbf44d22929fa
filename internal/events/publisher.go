// Package events ships outbox rows to the notification and audit consumers.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"OrderSettlement/internal/models"
)

type Publisher interface {
	Publish(ctx context.Context, events []models.Event) error
	Close() error
}

// Message is the wire envelope every broker receives.
type Message struct {
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   time.Time       `json:"created_at"`
}

func Encode(ev models.Event) ([]byte, error) {
	payload := ev.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return json.Marshal(Message{
		EventID:     ev.EventID,
		Type:        string(ev.Type),
		AggregateID: ev.AggregateID,
		Payload:     payload,
		CreatedAt:   ev.CreatedAt,
	})
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	Logger *slog.Logger
}

func (p LogPublisher) Publish(_ context.Context, events []models.Event) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, ev := range events {
		logger.Info("event", "event_id", ev.EventID, "type", ev.Type, "aggregate_id", ev.AggregateID, "payload", string(ev.Payload))
	}
	return nil
}

func (LogPublisher) Close() error { return nil }
