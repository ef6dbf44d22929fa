package store

import (
	"context"
	"errors"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OrderUpdate collects the side effects persisted together with a mutated order.
type OrderUpdate struct {
	Proof             *models.DeliveryProof
	Accrual           *models.LoyaltyAccrual
	ReleaseCoupon     bool
	// NoPaymentInFlight makes the write fail with errs.ErrConflict when the
	// order still has a pending or processing payment. The check runs under
	// the order lock, which CreatePayment takes as well.
	NoPaymentInFlight bool
	Events            []models.Event
}

// OrderMutator receives the locked order and mutates it in place.
// A nil update with a nil error leaves the row untouched.
type OrderMutator func(o *models.Order) (*OrderUpdate, error)

type Settlement struct {
	PaymentID     string
	TransactionID string
	CompletedAt   time.Time
	Commissions   []models.Commission
	Events        []models.Event
}

type SettlementResult struct {
	// Settled is true only for the call that moved the order to confirmed.
	Settled bool
	// Conflict is set when the payment completed but the order had already left pending.
	Conflict bool
	Order    *models.Order
	Payment  *models.Payment
}

type CommissionFilter struct {
	VendorID string
	Status   models.CommissionStatus
	Limit    int
}

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginFunc(ctx, s.Pool, fn)
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errors.Join(errs.ErrConflict, err)
	}
	return err
}

func insertEvents(ctx context.Context, q querier, events []models.Event) error {
	for _, ev := range events {
		_, err := q.Exec(ctx, `
			INSERT INTO outbox_events (event_id, event_type, aggregate_id, payload, created_at)
			VALUES ($1,$2,$3,$4,$5)
		`, ev.EventID, ev.Type, ev.AggregateID, ev.Payload, ev.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}
