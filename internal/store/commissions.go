package store

import (
	"context"
	"strconv"
	"strings"
	"time"

	"OrderSettlement/internal/models"

	"github.com/jackc/pgx/v5"
)

const commissionColumns = `
	commission_id, order_id, order_item_id, vendor_id, sale_amount,
	commission_rate, commission_amount, status, paid_at, created_at`

func scanCommission(row pgx.Row) (*models.Commission, error) {
	var c models.Commission
	err := row.Scan(
		&c.CommissionID,
		&c.OrderID,
		&c.OrderItemID,
		&c.VendorID,
		&c.SaleAmount,
		&c.CommissionRate,
		&c.CommissionAmount,
		&c.Status,
		&c.PaidAt,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) ListCommissions(ctx context.Context, f CommissionFilter) ([]models.Commission, error) {
	var (
		where []string
		args  []any
	)
	if f.VendorID != "" {
		args = append(args, f.VendorID)
		where = append(where, "vendor_id=$"+strconv.Itoa(len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, "status=$"+strconv.Itoa(len(args)))
	}
	q := `SELECT ` + commissionColumns + ` FROM commissions`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	q += ` ORDER BY created_at DESC, commission_id LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Commission
	for rows.Next() {
		c, err := scanCommission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// MarkCommissionPaid flips a pending commission to paid. The bool is false
// when the commission had already been paid.
func (s *Store) MarkCommissionPaid(ctx context.Context, commissionID string, paidAt time.Time, events []models.Event) (*models.Commission, bool, error) {
	var (
		out   *models.Commission
		moved bool
	)
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		c, err := scanCommission(tx.QueryRow(ctx, `SELECT `+commissionColumns+` FROM commissions WHERE commission_id=$1 FOR UPDATE`, commissionID))
		if err != nil {
			return err
		}
		out = c
		if c.Status == models.CommissionPaid {
			return nil
		}
		if _, err := tx.Exec(ctx, `
			UPDATE commissions SET status='paid', paid_at=$2 WHERE commission_id=$1
		`, commissionID, paidAt); err != nil {
			return err
		}
		c.Status = models.CommissionPaid
		c.PaidAt = &paidAt
		moved = true
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		return nil, false, err
	}
	return out, moved, nil
}
