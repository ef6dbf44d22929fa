// Package loyalty credits points for delivered orders and turns points into
// single-use reward coupons.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"OrderSettlement/internal/config"
	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const codeAttempts = 3

type Store interface {
	GetLoyaltyBalance(ctx context.Context, userID string) (*models.LoyaltyBalance, error)
	RedeemPoints(ctx context.Context, reward *models.LoyaltyReward, coupon *models.Coupon, events []models.Event) error
	ListRewards(ctx context.Context, userID string) ([]models.LoyaltyReward, error)
}

// RewardType is a redeemable catalog entry. Exactly one of DiscountAmount and
// DiscountPercent is set.
type RewardType struct {
	Type            string          `json:"type"`
	PointsCost      int64           `json:"pointsCost"`
	DiscountAmount  int64           `json:"discountAmount,omitempty"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	MinOrderAmount  int64           `json:"minOrderAmount,omitempty"`
}

func RewardsFromConfig(rs []config.RewardConfig) map[string]RewardType {
	out := make(map[string]RewardType, len(rs))
	for _, r := range rs {
		out[r.Type] = RewardType{
			Type:            r.Type,
			PointsCost:      r.PointsCost,
			DiscountAmount:  r.DiscountAmount,
			DiscountPercent: decimal.NewFromFloat(r.DiscountPercent),
			MinOrderAmount:  r.MinOrderAmount,
		}
	}
	return out
}

type Ledger struct {
	Store         Store
	Codes         CodeGenerator
	Rewards       map[string]RewardType
	PointsDivisor int64
	RewardExpiry  time.Duration
	Logger        *slog.Logger
	Now           func() time.Time
}

func (l Ledger) now() time.Time {
	if l.Now != nil {
		return l.Now()
	}
	return time.Now().UTC()
}

func (l Ledger) log() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// PointsFor returns floor(total / divisor).
func (l Ledger) PointsFor(total int64) int64 {
	if total <= 0 || l.PointsDivisor <= 0 {
		return 0
	}
	return total / l.PointsDivisor
}

// AccrualFor builds the accrual marker for a delivered order.
func (l Ledger) AccrualFor(o *models.Order) *models.LoyaltyAccrual {
	return &models.LoyaltyAccrual{
		OrderID:   o.OrderID,
		UserID:    o.UserID,
		Points:    l.PointsFor(o.TotalAmount),
		CreatedAt: l.now(),
	}
}

func (l Ledger) Balance(ctx context.Context, userID string) (*models.LoyaltyBalance, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}
	return l.Store.GetLoyaltyBalance(ctx, userID)
}

func (l Ledger) ListRewards(ctx context.Context, userID string) ([]models.LoyaltyReward, error) {
	return l.Store.ListRewards(ctx, userID)
}

// Catalog lists the redeemable reward types ordered by cost.
func (l Ledger) Catalog() []RewardType {
	out := make([]RewardType, 0, len(l.Rewards))
	for _, r := range l.Rewards {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PointsCost == out[j].PointsCost {
			return out[i].Type < out[j].Type
		}
		return out[i].PointsCost < out[j].PointsCost
	})
	return out
}

// Redeem spends pointsCost points on rewardType and issues a single-use coupon.
// The reward stays unused until an order carrying its code settles.
func (l Ledger) Redeem(ctx context.Context, userID, rewardType string, pointsCost int64) (*models.LoyaltyReward, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}
	rt, ok := l.Rewards[rewardType]
	if !ok {
		return nil, errs.Validation("unknown reward type %q", rewardType)
	}
	if pointsCost != rt.PointsCost {
		return nil, errs.Validation("reward %s costs %d points", rt.Type, rt.PointsCost)
	}

	now := l.now()
	expires := now.Add(l.RewardExpiry)
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code, err := l.Codes.Generate()
		if err != nil {
			return nil, err
		}
		reward := &models.LoyaltyReward{
			RewardID:    uuid.NewString(),
			UserID:      userID,
			RewardType:  rt.Type,
			PointsSpent: rt.PointsCost,
			CouponCode:  code,
			ExpiresAt:   expires,
			CreatedAt:   now,
		}
		ev := models.NewEvent(models.EventRewardRedeemed, reward.RewardID, map[string]any{
			"user_id":      userID,
			"reward_type":  rt.Type,
			"points_spent": rt.PointsCost,
			"coupon_code":  code,
		})

		err = l.Store.RedeemPoints(ctx, reward, rewardCoupon(rt, code, now, expires), []models.Event{ev})
		if errors.Is(err, errs.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		l.log().Info("loyalty reward redeemed", "user_id", userID, "reward_type", rt.Type, "points", rt.PointsCost)
		return reward, nil
	}
	return nil, fmt.Errorf("%w: could not allocate a unique reward code", errs.ErrConflict)
}

func rewardCoupon(rt RewardType, code string, now, expires time.Time) *models.Coupon {
	one := 1
	c := &models.Coupon{
		CouponID:       uuid.NewString(),
		Code:           code,
		Source:         models.CouponLoyalty,
		MinOrderAmount: rt.MinOrderAmount,
		MaxUses:        &one,
		ValidUntil:     &expires,
		IsActive:       true,
		CreatedAt:      now,
	}
	if rt.DiscountAmount > 0 {
		amount := rt.DiscountAmount
		c.DiscountAmount = &amount
	} else {
		c.DiscountPercent = decimal.NewNullDecimal(rt.DiscountPercent)
	}
	return c
}
