// Package discount decides which single discount, if any, applies to a checkout.
package discount

import (
	"context"
	"errors"
	"strings"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"
)

type Source string

const (
	SourceNone    Source = "none"
	SourceCoupon  Source = "coupon"
	SourceLoyalty Source = "loyalty"
)

// Repository is the read side the resolver needs. Resolution never writes.
type Repository interface {
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	GetRewardByCode(ctx context.Context, code string) (*models.LoyaltyReward, error)
	ListUnusedRewards(ctx context.Context, userID string, now time.Time) ([]models.LoyaltyReward, error)
}

type Result struct {
	DiscountAmount int64
	Source         Source
	Coupon         *models.Coupon
}

// Code returns the applied coupon code, nil when no discount applies.
func (r Result) Code() *string {
	if r.Coupon == nil {
		return nil
	}
	code := r.Coupon.Code
	return &code
}

// CodeChecker validates codes from a namespace whose codes carry a checksum.
type CodeChecker interface {
	Owns(code string) bool
	Check(code string) error
}

type Resolver struct {
	repo  Repository
	codes CodeChecker
	now   func() time.Time
}

func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: func() time.Time { return time.Now().UTC() }}
}

// WithRewardCodes makes explicit codes in the checker's namespace fail their
// checksum before any lookup.
func (r *Resolver) WithRewardCodes(c CodeChecker) *Resolver {
	r.codes = c
	return r
}

// Resolve picks the discount for a cart. An explicit code is validated strictly
// and fails with errs.ErrInvalidCoupon. Without one, the user's unused loyalty
// rewards are tried most recent first and the first that validates is applied.
func (r *Resolver) Resolve(ctx context.Context, userID string, subtotal int64, explicitCode string) (Result, error) {
	if subtotal < 0 {
		return Result{}, errs.Validation("subtotal must not be negative")
	}
	now := r.now()

	if code := strings.TrimSpace(explicitCode); code != "" {
		if r.codes != nil && r.codes.Owns(code) && r.codes.Check(code) != nil {
			return Result{}, errs.InvalidCoupon("coupon_not_found")
		}
		c, err := r.repo.GetCouponByCode(ctx, code)
		if errors.Is(err, errs.ErrNotFound) {
			return Result{}, errs.InvalidCoupon("coupon_not_found")
		}
		if err != nil {
			return Result{}, err
		}
		if c.Source == models.CouponLoyalty {
			reward, err := r.repo.GetRewardByCode(ctx, c.Code)
			if err != nil && !errors.Is(err, errs.ErrNotFound) {
				return Result{}, err
			}
			if reward == nil || reward.UserID != userID {
				return Result{}, errs.InvalidCoupon("coupon_not_owned")
			}
			if reward.IsUsed {
				return Result{}, errs.InvalidCoupon("usage_limit_reached")
			}
		}
		amount, err := Evaluate(c, subtotal, now)
		if err != nil {
			return Result{}, err
		}
		return Result{DiscountAmount: amount, Source: SourceCoupon, Coupon: c}, nil
	}

	rewards, err := r.repo.ListUnusedRewards(ctx, userID, now)
	if err != nil {
		return Result{}, err
	}
	for _, reward := range rewards {
		c, err := r.repo.GetCouponByCode(ctx, reward.CouponCode)
		if errors.Is(err, errs.ErrNotFound) {
			continue
		}
		if err != nil {
			return Result{}, err
		}
		amount, err := Evaluate(c, subtotal, now)
		if err != nil {
			continue
		}
		return Result{DiscountAmount: amount, Source: SourceLoyalty, Coupon: c}, nil
	}
	return Result{Source: SourceNone}, nil
}

// Evaluate checks c against the subtotal at the given instant and returns the
// discount, capped at the subtotal.
func Evaluate(c *models.Coupon, subtotal int64, at time.Time) (int64, error) {
	switch {
	case !c.IsActive:
		return 0, errs.InvalidCoupon("coupon_inactive")
	case c.ValidFrom != nil && at.Before(*c.ValidFrom):
		return 0, errs.InvalidCoupon("not_in_valid_window")
	case c.ValidUntil != nil && !at.Before(*c.ValidUntil):
		return 0, errs.InvalidCoupon("coupon_expired")
	case subtotal < c.MinOrderAmount:
		return 0, errs.InvalidCoupon("min_order_value_not_met")
	case c.MaxUses != nil && c.UsedCount >= *c.MaxUses:
		return 0, errs.InvalidCoupon("usage_limit_reached")
	}

	var amount int64
	switch {
	case c.DiscountAmount != nil:
		amount = *c.DiscountAmount
	case c.DiscountPercent.Valid:
		amount = models.PercentOf(subtotal, c.DiscountPercent.Decimal)
	default:
		return 0, errs.InvalidCoupon("coupon_has_no_discount")
	}
	if amount < 0 {
		amount = 0
	}
	if amount > subtotal {
		amount = subtotal
	}
	return amount, nil
}
