package discount

import (
	"context"
	"strings"
	"testing"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/loyalty"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/store"
	"OrderSettlement/internal/store/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func newResolver(repo Repository) *Resolver {
	r := NewResolver(repo)
	r.now = func() time.Time { return now }
	return r
}

func promo10() *models.Coupon {
	return &models.Coupon{
		CouponID:        uuid.NewString(),
		Code:            "PROMO10",
		Source:          models.CouponPromo,
		DiscountPercent: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		MinOrderAmount:  5000,
		MaxUses:         ptr(100),
		IsActive:        true,
	}
}

func TestResolver_Resolve_PercentCoupon(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.CreateCoupon(context.Background(), promo10()))

	res, err := newResolver(s).Resolve(context.Background(), "u1", 10000, "PROMO10")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.DiscountAmount)
	assert.Equal(t, SourceCoupon, res.Source)
	assert.Equal(t, "PROMO10", *res.Code())
}

func TestEvaluate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *models.Coupon)
		total  int64
		reason string
	}{
		{"inactive", func(c *models.Coupon) { c.IsActive = false }, 10000, "coupon_inactive"},
		{"not yet valid", func(c *models.Coupon) { c.ValidFrom = ptr(now.Add(time.Hour)) }, 10000, "not_in_valid_window"},
		{"expired", func(c *models.Coupon) { c.ValidUntil = ptr(now) }, 10000, "coupon_expired"},
		{"below minimum", func(c *models.Coupon) {}, 4999, "min_order_value_not_met"},
		{"exhausted", func(c *models.Coupon) { c.UsedCount = 100 }, 10000, "usage_limit_reached"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := promo10()
			tc.mutate(c)
			_, err := Evaluate(c, tc.total, now)
			require.ErrorIs(t, err, errs.ErrInvalidCoupon)
			assert.Contains(t, err.Error(), tc.reason)
		})
	}
}

func TestEvaluate_FixedAmountCappedAtSubtotal(t *testing.T) {
	c := &models.Coupon{Code: "BIG", DiscountAmount: ptr(int64(5000)), IsActive: true}
	amount, err := Evaluate(c, 1200, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), amount)
}

// lookupCounter counts coupon lookups that reach the store.
type lookupCounter struct {
	Repository
	lookups int
}

func (c *lookupCounter) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	c.lookups++
	return c.Repository.GetCouponByCode(ctx, code)
}

func TestResolver_Resolve_RewardCodeChecksum(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	codes := loyalty.CodeGenerator{Prefix: "LOY"}
	good, err := codes.Generate()
	require.NoError(t, err)
	seedReward(t, s, "u1", good, 700, 0, now)

	repo := &lookupCounter{Repository: s}
	r := newResolver(repo).WithRewardCodes(codes)

	last := "1"
	if strings.HasSuffix(good, "1") {
		last = "2"
	}
	tampered := good[:len(good)-1] + last
	_, err = r.Resolve(ctx, "u1", 10000, tampered)
	assert.ErrorIs(t, err, errs.ErrInvalidCoupon)
	assert.Zero(t, repo.lookups, "malformed reward code must not reach the store")

	res, err := r.Resolve(ctx, "u1", 10000, good)
	require.NoError(t, err)
	assert.Equal(t, int64(700), res.DiscountAmount)
	assert.Equal(t, 1, repo.lookups)

	require.NoError(t, s.CreateCoupon(ctx, promo10()))
	_, err = r.Resolve(ctx, "u1", 10000, "PROMO10")
	require.NoError(t, err, "codes outside the reward namespace skip the checksum")
}

func TestResolver_Resolve_UnknownCode(t *testing.T) {
	_, err := newResolver(memory.New()).Resolve(context.Background(), "u1", 10000, "NOPE")
	assert.ErrorIs(t, err, errs.ErrInvalidCoupon)
}

// creditPoints credits points through the accrual of a throwaway order.
func creditPoints(t *testing.T, s *memory.Store, userID string, points int64) {
	t.Helper()
	ctx := context.Background()
	o := &models.Order{OrderID: uuid.NewString(), UserID: userID, Status: models.OrderPending, CreatedAt: time.Now().UTC()}
	require.NoError(t, s.CreateOrder(ctx, o, nil, nil, nil))
	_, _, err := s.UpdateOrder(ctx, o.OrderID, func(o *models.Order) (*store.OrderUpdate, error) {
		return &store.OrderUpdate{Accrual: &models.LoyaltyAccrual{OrderID: o.OrderID, UserID: userID, Points: points, CreatedAt: o.CreatedAt}}, nil
	})
	require.NoError(t, err)
}

func seedReward(t *testing.T, s *memory.Store, userID, code string, amount, minOrder int64, createdAt time.Time) {
	t.Helper()
	ctx := context.Background()
	creditPoints(t, s, userID, 100)
	err := s.RedeemPoints(ctx,
		&models.LoyaltyReward{
			RewardID: uuid.NewString(), UserID: userID, RewardType: "voucher", PointsSpent: 10,
			CouponCode: code, ExpiresAt: now.Add(24 * time.Hour), CreatedAt: createdAt,
		},
		&models.Coupon{
			CouponID: uuid.NewString(), Code: code, Source: models.CouponLoyalty,
			DiscountAmount: ptr(amount), MinOrderAmount: minOrder, MaxUses: ptr(1),
			ValidUntil: ptr(now.Add(24 * time.Hour)), IsActive: true, CreatedAt: createdAt,
		},
		nil,
	)
	require.NoError(t, err)
}

func TestResolver_Resolve_AutoAppliesMostRecentValidReward(t *testing.T) {
	s := memory.New()
	seedReward(t, s, "u1", "LOYOLD", 300, 0, now.Add(-2*time.Hour))
	seedReward(t, s, "u1", "LOYNEW", 900, 50000, now.Add(-time.Hour))

	// The newest reward needs a larger cart, so the older one wins.
	res, err := newResolver(s).Resolve(context.Background(), "u1", 10000, "")
	require.NoError(t, err)
	assert.Equal(t, SourceLoyalty, res.Source)
	assert.Equal(t, "LOYOLD", res.Coupon.Code)
	assert.Equal(t, int64(300), res.DiscountAmount)

	res, err = newResolver(s).Resolve(context.Background(), "u1", 60000, "")
	require.NoError(t, err)
	assert.Equal(t, "LOYNEW", res.Coupon.Code)
}

func TestResolver_Resolve_ExplicitCodeNeverStacks(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.CreateCoupon(context.Background(), promo10()))
	seedReward(t, s, "u1", "LOYA", 500, 0, now.Add(-time.Hour))

	res, err := newResolver(s).Resolve(context.Background(), "u1", 10000, "PROMO10")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), res.DiscountAmount)
	assert.Equal(t, "PROMO10", res.Coupon.Code)
}

func TestResolver_Resolve_LoyaltyCodeOfAnotherUser(t *testing.T) {
	s := memory.New()
	seedReward(t, s, "owner", "LOYX", 500, 0, now.Add(-time.Hour))

	_, err := newResolver(s).Resolve(context.Background(), "thief", 10000, "LOYX")
	assert.ErrorIs(t, err, errs.ErrInvalidCoupon)
}

func TestResolver_Resolve_NoDiscount(t *testing.T) {
	res, err := newResolver(memory.New()).Resolve(context.Background(), "u1", 10000, "")
	require.NoError(t, err)
	assert.Equal(t, SourceNone, res.Source)
	assert.Zero(t, res.DiscountAmount)
	assert.Nil(t, res.Code())
}
