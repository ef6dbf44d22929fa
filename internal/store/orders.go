package store

import (
	"context"
	"errors"
	"fmt"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"

	"github.com/jackc/pgx/v5"
)

const orderColumns = `
	order_id, user_id, subtotal, discount_amount, total_amount, coupon_code,
	status, shipping_address, phone, payment_method, payment_reference,
	delivery_user_id, delivery_received_at, delivery_delivered_at,
	customer_confirmed_at, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.OrderID,
		&o.UserID,
		&o.Subtotal,
		&o.DiscountAmount,
		&o.TotalAmount,
		&o.CouponCode,
		&o.Status,
		&o.ShippingAddress,
		&o.Phone,
		&o.PaymentMethod,
		&o.PaymentReference,
		&o.DeliveryUserID,
		&o.DeliveryReceivedAt,
		&o.DeliveryDeliveredAt,
		&o.CustomerConfirmedAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

// CreateOrder inserts the order, its item snapshots and, when a coupon applies,
// consumes one use of it. All of it commits or none of it does.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem, redemption *models.CouponRedemption, events []models.Event) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO orders (
				order_id, user_id, subtotal, discount_amount, total_amount, coupon_code,
				status, shipping_address, phone, payment_method, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		`,
			order.OrderID,
			order.UserID,
			order.Subtotal,
			order.DiscountAmount,
			order.TotalAmount,
			order.CouponCode,
			order.Status,
			order.ShippingAddress,
			order.Phone,
			order.PaymentMethod,
			order.CreatedAt,
		)
		if err != nil {
			return mapErr(err)
		}

		for _, it := range items {
			_, err := tx.Exec(ctx, `
				INSERT INTO order_items (
					item_id, order_id, product_id, vendor_id, product_name,
					unit_price, quantity, total, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, it.ItemID, it.OrderID, it.ProductID, it.VendorID, it.ProductName,
				it.UnitPrice, it.Quantity, it.Total, it.CreatedAt)
			if err != nil {
				return err
			}
		}

		if redemption != nil {
			// The row lock taken by this UPDATE serialises concurrent checkouts
			// of the same coupon; the loser re-evaluates the guard and matches nothing.
			tag, err := tx.Exec(ctx, `
				UPDATE coupons SET used_count = used_count + 1
				WHERE coupon_id=$1 AND is_active
					AND (max_uses IS NULL OR used_count < max_uses)
					AND (valid_from IS NULL OR valid_from <= $2)
					AND (valid_until IS NULL OR valid_until > $2)
					AND min_order_amount <= $3
			`, redemption.CouponID, order.CreatedAt, order.Subtotal)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return errs.InvalidCoupon("coupon is no longer available")
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO coupon_redemptions (
					redemption_id, coupon_id, user_id, order_id, discount_amount, created_at
				) VALUES ($1,$2,$3,$4,$5,$6)
			`, redemption.RedemptionID, redemption.CouponID, redemption.UserID,
				redemption.OrderID, redemption.DiscountAmount, redemption.CreatedAt)
			if err != nil {
				return mapErr(err)
			}
		}

		return insertEvents(ctx, tx, events)
	})
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return scanOrder(s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, orderID))
}

func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT item_id, order_id, product_id, vendor_id, product_name,
			unit_price, quantity, total, created_at
		FROM order_items WHERE order_id=$1
		ORDER BY created_at, item_id
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(
			&it.ItemID, &it.OrderID, &it.ProductID, &it.VendorID, &it.ProductName,
			&it.UnitPrice, &it.Quantity, &it.Total, &it.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE user_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

// UpdateOrder locks the order row, hands it to fn and persists the result
// together with every side effect fn asked for. The bool reports whether
// anything was written.
func (s *Store) UpdateOrder(ctx context.Context, orderID string, fn OrderMutator) (*models.Order, bool, error) {
	var (
		out     *models.Order
		changed bool
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		order, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1 FOR UPDATE`, orderID))
		if err != nil {
			return err
		}
		upd, err := fn(order)
		if err != nil {
			return err
		}
		out = order
		if upd == nil {
			return nil
		}
		if upd.NoPaymentInFlight {
			var paymentID string
			err := tx.QueryRow(ctx, `
				SELECT payment_id FROM payments
				WHERE order_id=$1 AND status IN ('pending','processing')
				LIMIT 1
			`, orderID).Scan(&paymentID)
			if err == nil {
				return fmt.Errorf("%w: payment %s is still in progress", errs.ErrConflict, paymentID)
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
		}
		changed = true

		err = tx.QueryRow(ctx, `
			UPDATE orders SET
				status=$2, payment_reference=$3, delivery_user_id=$4,
				delivery_received_at=$5, delivery_delivered_at=$6,
				customer_confirmed_at=$7, updated_at=now()
			WHERE order_id=$1
			RETURNING updated_at
		`,
			order.OrderID,
			order.Status,
			order.PaymentReference,
			order.DeliveryUserID,
			order.DeliveryReceivedAt,
			order.DeliveryDeliveredAt,
			order.CustomerConfirmedAt,
		).Scan(&order.UpdatedAt)
		if err != nil {
			return err
		}

		if p := upd.Proof; p != nil {
			_, err := tx.Exec(ctx, `
				INSERT INTO delivery_proofs (
					proof_id, order_id, delivery_user_id, proof_type, photo_url,
					signature_url, latitude, longitude, note, created_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			`, p.ProofID, p.OrderID, p.DeliveryUserID, p.ProofType, p.PhotoURL,
				p.SignatureURL, p.Latitude, p.Longitude, p.Note, p.CreatedAt)
			if err != nil {
				return err
			}
		}

		if upd.Accrual != nil {
			if _, err := recordAccrual(ctx, tx, upd.Accrual); err != nil {
				return err
			}
		}

		if upd.ReleaseCoupon {
			if err := releaseCoupons(ctx, tx, order.OrderID); err != nil {
				return err
			}
		}

		return insertEvents(ctx, tx, upd.Events)
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

func (s *Store) ListDeliveryProofs(ctx context.Context, orderID string) ([]models.DeliveryProof, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT proof_id, order_id, delivery_user_id, proof_type, photo_url,
			signature_url, latitude, longitude, note, created_at
		FROM delivery_proofs WHERE order_id=$1
		ORDER BY created_at
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var proofs []models.DeliveryProof
	for rows.Next() {
		var p models.DeliveryProof
		if err := rows.Scan(
			&p.ProofID, &p.OrderID, &p.DeliveryUserID, &p.ProofType, &p.PhotoURL,
			&p.SignatureURL, &p.Latitude, &p.Longitude, &p.Note, &p.CreatedAt,
		); err != nil {
			return nil, err
		}
		proofs = append(proofs, p)
	}
	return proofs, rows.Err()
}

// releaseCoupons gives back every coupon use still held by the order.
func releaseCoupons(ctx context.Context, tx pgx.Tx, orderID string) error {
	rows, err := tx.Query(ctx, `
		UPDATE coupon_redemptions SET released_at=now()
		WHERE order_id=$1 AND released_at IS NULL
		RETURNING coupon_id
	`, orderID)
	if err != nil {
		return err
	}
	var couponIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		couponIDs = append(couponIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, id := range couponIDs {
		if _, err := tx.Exec(ctx, `
			UPDATE coupons SET used_count = used_count - 1
			WHERE coupon_id=$1 AND used_count > 0
		`, id); err != nil {
			return err
		}
	}
	return nil
}
