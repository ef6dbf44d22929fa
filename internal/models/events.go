package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventOrderCreated          EventType = "order_created"
	EventOrderConfirmed        EventType = "order_confirmed"
	EventOrderShipped          EventType = "order_shipped"
	EventOrderCancelled        EventType = "order_cancelled"
	EventPaymentFailed         EventType = "payment_failed"
	EventDeliveryAssigned      EventType = "delivery_assigned"
	EventDeliveryProofRecorded EventType = "delivery_proof_recorded"
	EventDeliveryConfirmed     EventType = "delivery_confirmed"
	EventRewardRedeemed        EventType = "reward_redeemed"
	EventPointsAccrued         EventType = "points_accrued"
	EventCommissionPaid        EventType = "commission_paid"
)

// Event is an outbox row. Payload is JSON.
type Event struct {
	EventID     string
	Type        EventType
	AggregateID string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

func NewEvent(typ EventType, aggregateID string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte("{}")
	}
	return Event{
		EventID:     uuid.NewString(),
		Type:        typ,
		AggregateID: aggregateID,
		Payload:     data,
		CreatedAt:   time.Now().UTC(),
	}
}
