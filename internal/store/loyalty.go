package store

import (
	"context"
	"errors"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"

	"github.com/jackc/pgx/v5"
)

const rewardColumns = `
	reward_id, user_id, reward_type, points_spent, coupon_code, is_used,
	used_order_id, used_at, expires_at, created_at`

func scanReward(row pgx.Row) (*models.LoyaltyReward, error) {
	var r models.LoyaltyReward
	err := row.Scan(
		&r.RewardID,
		&r.UserID,
		&r.RewardType,
		&r.PointsSpent,
		&r.CouponCode,
		&r.IsUsed,
		&r.UsedOrderID,
		&r.UsedAt,
		&r.ExpiresAt,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &r, nil
}

func scanRewards(rows pgx.Rows) ([]models.LoyaltyReward, error) {
	defer rows.Close()
	var out []models.LoyaltyReward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *Store) GetLoyaltyBalance(ctx context.Context, userID string) (*models.LoyaltyBalance, error) {
	b := models.LoyaltyBalance{UserID: userID}
	err := s.Pool.QueryRow(ctx, `
		SELECT earned, spent FROM loyalty_balances WHERE user_id=$1
	`, userID).Scan(&b.Earned, &b.Spent)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return &b, nil
}

// RedeemPoints debits the reward cost and issues the reward with its single-use
// coupon. The debit is conditional on the available balance, so two concurrent
// redemptions can never take the balance below zero.
func (s *Store) RedeemPoints(ctx context.Context, reward *models.LoyaltyReward, coupon *models.Coupon, events []models.Event) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE loyalty_balances
			SET spent = spent + $2, updated_at=now()
			WHERE user_id=$1 AND earned - spent >= $2
		`, reward.UserID, reward.PointsSpent)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrInsufficientPoints
		}

		if err := insertCoupon(ctx, tx, coupon); err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO loyalty_rewards (
				reward_id, user_id, reward_type, points_spent, coupon_code,
				is_used, expires_at, created_at
			) VALUES ($1,$2,$3,$4,$5,false,$6,$7)
		`, reward.RewardID, reward.UserID, reward.RewardType, reward.PointsSpent,
			reward.CouponCode, reward.ExpiresAt, reward.CreatedAt)
		if err != nil {
			return mapErr(err)
		}
		return insertEvents(ctx, tx, events)
	})
}

func (s *Store) GetAccrual(ctx context.Context, orderID string) (*models.LoyaltyAccrual, error) {
	var a models.LoyaltyAccrual
	err := s.Pool.QueryRow(ctx, `
		SELECT order_id, user_id, points, created_at
		FROM loyalty_accruals WHERE order_id=$1
	`, orderID).Scan(&a.OrderID, &a.UserID, &a.Points, &a.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &a, nil
}

func recordAccrual(ctx context.Context, tx pgx.Tx, a *models.LoyaltyAccrual) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO loyalty_accruals (order_id, user_id, points, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (order_id) DO NOTHING
	`, a.OrderID, a.UserID, a.Points, a.CreatedAt)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO loyalty_balances (user_id, earned, spent, updated_at)
		VALUES ($1,$2,0,now())
		ON CONFLICT (user_id) DO UPDATE
		SET earned = loyalty_balances.earned + EXCLUDED.earned, updated_at=now()
	`, a.UserID, a.Points)
	if err != nil {
		return false, err
	}
	ev := models.NewEvent(models.EventPointsAccrued, a.OrderID, a)
	return true, insertEvents(ctx, tx, []models.Event{ev})
}
