package store

import (
	"context"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"

	"github.com/jackc/pgx/v5"
)

const paymentColumns = `
	payment_id, order_id, user_id, amount, payment_method, phone_number,
	status, provider_payment_id, transaction_id, failure_reason,
	completed_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(
		&p.PaymentID,
		&p.OrderID,
		&p.UserID,
		&p.Amount,
		&p.PaymentMethod,
		&p.PhoneNumber,
		&p.Status,
		&p.ProviderPaymentID,
		&p.TransactionID,
		&p.FailureReason,
		&p.CompletedAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func scanPayments(rows pgx.Rows) ([]models.Payment, error) {
	defer rows.Close()
	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// CreatePayment fails with errs.ErrConflict when the order already has a
// pending, processing or completed payment, and with errs.ErrInvalidTransition
// once the order has left pending. The order row is locked for the insert so a
// concurrent cancel either sees the payment or wins before it exists.
func (s *Store) CreatePayment(ctx context.Context, p *models.Payment) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var status models.OrderStatus
		err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE order_id=$1 FOR UPDATE`, p.OrderID).Scan(&status)
		if err != nil {
			return mapErr(err)
		}
		if status != models.OrderPending {
			return errs.InvalidTransition(string(status), "payment")
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO payments (
				payment_id, order_id, user_id, amount, payment_method, phone_number,
				status, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		`, p.PaymentID, p.OrderID, p.UserID, p.Amount, p.PaymentMethod, p.PhoneNumber, p.Status, p.CreatedAt)
		return mapErr(err)
	})
}

func (s *Store) GetPayment(ctx context.Context, paymentID string) (*models.Payment, error) {
	return scanPayment(s.Pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id=$1`, paymentID))
}

func (s *Store) GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error) {
	return scanPayment(s.Pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE provider_payment_id=$1`, providerPaymentID))
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE order_id=$1 ORDER BY created_at DESC
	`, orderID)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

// ListStalePayments returns non-terminal payments untouched since before the cutoff.
func (s *Store) ListStalePayments(ctx context.Context, before time.Time, limit int) ([]models.Payment, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+paymentColumns+` FROM payments
		WHERE status IN ('pending','processing') AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, before, limit)
	if err != nil {
		return nil, err
	}
	return scanPayments(rows)
}

// MarkPaymentProcessing records the provider's id once the request was accepted.
func (s *Store) MarkPaymentProcessing(ctx context.Context, paymentID, providerPaymentID string) (bool, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE payments
		SET status='processing', provider_payment_id=$2, updated_at=now()
		WHERE payment_id=$1 AND status='pending'
	`, paymentID, providerPaymentID)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

// TouchPayment bumps updated_at so the sweeper does not pick the row up again immediately.
func (s *Store) TouchPayment(ctx context.Context, paymentID string) error {
	_, err := s.Pool.Exec(ctx, `
		UPDATE payments SET updated_at=now()
		WHERE payment_id=$1 AND status IN ('pending','processing')
	`, paymentID)
	return err
}

// FailPayment moves a non-terminal payment to failed or cancelled.
func (s *Store) FailPayment(ctx context.Context, paymentID string, status models.PaymentStatus, reason string, events []models.Event) (bool, error) {
	var moved bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE payments
			SET status=$2, failure_reason=$3, updated_at=now()
			WHERE payment_id=$1 AND status IN ('pending','processing')
		`, paymentID, status, reason)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		moved = true
		return insertEvents(ctx, tx, events)
	})
	return moved, err
}

// SettlePayment applies a completed provider status. The payment and order
// rows are locked in that order, so concurrent callers for the same payment
// serialise and only the first one observes a pending order.
func (s *Store) SettlePayment(ctx context.Context, st Settlement) (*SettlementResult, error) {
	res := &SettlementResult{}
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		payment, err := scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id=$1 FOR UPDATE`, st.PaymentID))
		if err != nil {
			return err
		}
		order, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1 FOR UPDATE`, payment.OrderID))
		if err != nil {
			return err
		}
		res.Payment, res.Order = payment, order

		if payment.Status.IsTerminal() {
			return nil
		}

		completedAt := st.CompletedAt
		err = tx.QueryRow(ctx, `
			UPDATE payments
			SET status='completed', transaction_id=$2, completed_at=$3, updated_at=now()
			WHERE payment_id=$1
			RETURNING updated_at
		`, payment.PaymentID, st.TransactionID, completedAt).Scan(&payment.UpdatedAt)
		if err != nil {
			return mapErr(err)
		}
		payment.Status = models.PaymentCompleted
		payment.TransactionID = &st.TransactionID
		payment.CompletedAt = &completedAt

		if order.Status != models.OrderPending {
			res.Conflict = true
			return nil
		}

		ref := st.TransactionID
		err = tx.QueryRow(ctx, `
			UPDATE orders SET status='confirmed', payment_reference=$2, updated_at=now()
			WHERE order_id=$1
			RETURNING updated_at
		`, order.OrderID, ref).Scan(&order.UpdatedAt)
		if err != nil {
			return err
		}
		order.Status = models.OrderConfirmed
		order.PaymentReference = &ref

		if order.CouponCode != nil {
			if _, err := tx.Exec(ctx, `
				UPDATE loyalty_rewards SET is_used=true, used_order_id=$2, used_at=$3
				WHERE coupon_code=$1 AND NOT is_used
			`, *order.CouponCode, order.OrderID, completedAt); err != nil {
				return err
			}
		}

		for _, c := range st.Commissions {
			if _, err := tx.Exec(ctx, `
				INSERT INTO commissions (
					commission_id, order_id, order_item_id, vendor_id, sale_amount,
					commission_rate, commission_amount, status, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
				ON CONFLICT (order_item_id) DO NOTHING
			`, c.CommissionID, c.OrderID, c.OrderItemID, c.VendorID, c.SaleAmount,
				c.CommissionRate, c.CommissionAmount, c.Status, c.CreatedAt); err != nil {
				return err
			}
		}

		res.Settled = true
		return insertEvents(ctx, tx, st.Events)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
