// Package provider talks to the mobile-money payment provider. It only opens
// payments and reports their status; retry and reconciliation policy live in
// the settlement package.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"OrderSettlement/internal/models"
)

type Payer struct {
	Name  string
	Email string
	Phone string
}

type InitiateRequest struct {
	// Reference is our payment id. It doubles as the idempotency key.
	Reference string
	Amount    int64
	Reason    string
	Method    string
	Payer     Payer
}

type Status struct {
	ProviderPaymentID string
	Status            models.PaymentStatus
	TransactionID     string
	FailureReason     string
	CompletedAt       time.Time
}

type Gateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (string, error)
	QueryStatus(ctx context.Context, providerPaymentID string) (Status, error)
}

// statusPayload is the provider's JSON shape for a payment status, shared by
// the status endpoint, the event stream and the callback.
type statusPayload struct {
	PaymentID     string `json:"payment_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	FailureReason string `json:"failure_reason"`
	CompletedAt   string `json:"completed_at"`
}

func (p statusPayload) parse() (Status, error) {
	st, ok := models.ParsePaymentStatus(strings.ToLower(strings.TrimSpace(p.Status)))
	if !ok {
		return Status{}, fmt.Errorf("unknown provider status %q", p.Status)
	}
	out := Status{
		ProviderPaymentID: p.PaymentID,
		Status:            st,
		TransactionID:     p.TransactionID,
		FailureReason:     p.FailureReason,
	}
	if p.CompletedAt != "" {
		if ts, err := time.Parse(time.RFC3339, p.CompletedAt); err == nil {
			out.CompletedAt = ts.UTC()
		}
	}
	return out, nil
}

// ParseStatus decodes a provider status document, as delivered to the callback
// endpoint.
func ParseStatus(body []byte) (Status, error) {
	var p statusPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Status{}, err
	}
	if p.PaymentID == "" {
		return Status{}, fmt.Errorf("status document without payment_id")
	}
	return p.parse()
}
