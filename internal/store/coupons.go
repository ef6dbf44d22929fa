package store

import (
	"context"
	"time"

	"OrderSettlement/internal/models"

	"github.com/jackc/pgx/v5"
)

const couponColumns = `
	coupon_id, code, source, discount_amount, discount_percent, min_order_amount,
	max_uses, used_count, valid_from, valid_until, is_active, created_at`

func scanCoupon(row pgx.Row) (*models.Coupon, error) {
	var c models.Coupon
	err := row.Scan(
		&c.CouponID,
		&c.Code,
		&c.Source,
		&c.DiscountAmount,
		&c.DiscountPercent,
		&c.MinOrderAmount,
		&c.MaxUses,
		&c.UsedCount,
		&c.ValidFrom,
		&c.ValidUntil,
		&c.IsActive,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func insertCoupon(ctx context.Context, q querier, c *models.Coupon) error {
	_, err := q.Exec(ctx, `
		INSERT INTO coupons (
			coupon_id, code, source, discount_amount, discount_percent, min_order_amount,
			max_uses, used_count, valid_from, valid_until, is_active, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, c.CouponID, c.Code, c.Source, c.DiscountAmount, c.DiscountPercent, c.MinOrderAmount,
		c.MaxUses, c.UsedCount, c.ValidFrom, c.ValidUntil, c.IsActive, c.CreatedAt)
	return mapErr(err)
}

func (s *Store) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	return insertCoupon(ctx, s.Pool, c)
}

func (s *Store) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return scanCoupon(s.Pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE code=$1`, code))
}

func (s *Store) SetCouponActive(ctx context.Context, code string, active bool) error {
	tag, err := s.Pool.Exec(ctx, `UPDATE coupons SET is_active=$2 WHERE code=$1`, code, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows)
	}
	return nil
}

// ListUnusedRewards returns the user's rewards that are neither used nor
// expired at now, most recently issued first.
func (s *Store) ListUnusedRewards(ctx context.Context, userID string, now time.Time) ([]models.LoyaltyReward, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+rewardColumns+`
		FROM loyalty_rewards
		WHERE user_id=$1 AND NOT is_used AND expires_at > $2
		ORDER BY created_at DESC, reward_id DESC
	`, userID, now)
	if err != nil {
		return nil, err
	}
	return scanRewards(rows)
}

func (s *Store) ListRewards(ctx context.Context, userID string) ([]models.LoyaltyReward, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+rewardColumns+`
		FROM loyalty_rewards WHERE user_id=$1
		ORDER BY created_at DESC, reward_id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanRewards(rows)
}

func (s *Store) GetRewardByCode(ctx context.Context, code string) (*models.LoyaltyReward, error) {
	return scanReward(s.Pool.QueryRow(ctx, `SELECT `+rewardColumns+` FROM loyalty_rewards WHERE coupon_code=$1`, code))
}
