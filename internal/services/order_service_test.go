package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"OrderSettlement/internal/cart"
	"OrderSettlement/internal/catalog"
	"OrderSettlement/internal/discount"
	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/loyalty"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/provider"
	"OrderSettlement/internal/settlement"
	"OrderSettlement/internal/store"
	"OrderSettlement/internal/store/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog map[string]catalog.Product

func (c fakeCatalog) Products(_ context.Context, ids []string) (map[string]catalog.Product, error) {
	out := map[string]catalog.Product{}
	for _, id := range ids {
		if p, ok := c[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

var products = fakeCatalog{
	"p1": {ProductID: "p1", VendorID: "v1", Name: "Coffee beans", Price: 5000, Available: true},
	"p2": {ProductID: "p2", VendorID: "v2", Name: "Tea", Price: 25000, Available: true},
	"p3": {ProductID: "p3", VendorID: "v1", Name: "Retired mug", Price: 800, Available: false},
}

// stubPayments opens a pending payment without talking to a provider.
type stubPayments struct {
	store     *memory.Store
	initiated int32
}

func (p *stubPayments) Initiate(ctx context.Context, order *models.Order, payer provider.Payer) (*models.Payment, error) {
	atomic.AddInt32(&p.initiated, 1)
	pay := &models.Payment{
		PaymentID:     uuid.NewString(),
		OrderID:       order.OrderID,
		UserID:        order.UserID,
		Amount:        order.TotalAmount,
		PaymentMethod: order.PaymentMethod,
		PhoneNumber:   payer.Phone,
		Status:        models.PaymentPending,
		CreatedAt:     time.Now().UTC(),
	}
	if err := p.store.CreatePayment(ctx, pay); err != nil {
		return nil, err
	}
	return pay, nil
}

func (p *stubPayments) Await(ctx context.Context, paymentID string) (*models.Payment, error) {
	pay, err := p.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	return pay, errs.ErrPaymentTimeout
}

type completingGateway struct{}

func (completingGateway) Initiate(_ context.Context, req provider.InitiateRequest) (string, error) {
	return "prov-" + req.Reference, nil
}

func (completingGateway) QueryStatus(_ context.Context, id string) (provider.Status, error) {
	return provider.Status{ProviderPaymentID: id, Status: models.PaymentCompleted, TransactionID: "TX-" + id}, nil
}

type noCommissions struct{}

func (noCommissions) Derive(context.Context, []models.OrderItem) ([]models.Commission, error) {
	return nil, nil
}

type env struct {
	store *memory.Store
	cart  *cart.MemoryCart
	svc   OrderService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	st := memory.New()
	e := &env{store: st, cart: cart.NewMemoryCart()}
	e.svc = OrderService{
		Store:     st,
		Cart:      e.cart,
		Catalog:   products,
		Discounts: discount.NewResolver(st),
		Payments:  &stubPayments{store: st},
		Loyalty:   loyalty.Ledger{Store: st, PointsDivisor: 1000},
	}
	return e
}

// withReconciler swaps the stub for a real reconciler whose provider completes
// every payment on the first poll.
func (e *env) withReconciler(t *testing.T) {
	rec := settlement.New(e.store, completingGateway{}, e.cart, noCommissions{}, nil, settlement.Config{
		PollInterval: 5 * time.Millisecond,
		Timeout:      2 * time.Second,
	})
	t.Cleanup(rec.Close)
	e.svc.Payments = rec
}

func (e *env) fillCart(t *testing.T, userID string, items ...cart.Item) {
	t.Helper()
	for _, it := range items {
		require.NoError(t, e.cart.SetItem(context.Background(), userID, it))
	}
}

func checkoutReq(code string) CheckoutRequest {
	return CheckoutRequest{
		OrderDetails: OrderDetails{ShippingAddress: "12 Market St", Phone: "+250788000000", PaymentMethod: "mobile_money"},
		CouponCode:   code,
	}
}

func promo10() *models.Coupon {
	maxUses := 100
	return &models.Coupon{
		CouponID:        uuid.NewString(),
		Code:            "PROMO10",
		Source:          models.CouponPromo,
		DiscountPercent: decimal.NewNullDecimal(decimal.NewFromInt(10)),
		MinOrderAmount:  5000,
		MaxUses:         &maxUses,
		IsActive:        true,
	}
}

func TestCheckout_PromoCouponSettles(t *testing.T) {
	e := newEnv(t)
	e.withReconciler(t)
	ctx := context.Background()
	require.NoError(t, e.store.CreateCoupon(ctx, promo10()))
	e.fillCart(t, "u1", cart.Item{ProductID: "p1", Quantity: 2})

	req := checkoutReq("PROMO10")
	req.Wait = time.Second
	res, err := e.svc.Checkout(ctx, "u1", req)
	require.NoError(t, err)

	assert.Equal(t, int64(10000), res.Order.Subtotal)
	assert.Equal(t, int64(1000), res.Order.DiscountAmount)
	assert.Equal(t, int64(9000), res.Order.TotalAmount)
	assert.Equal(t, models.OrderConfirmed, res.Order.Status)
	assert.Equal(t, models.PaymentCompleted, res.Payment.Status)
	assert.Equal(t, int64(9000), res.Payment.Amount)

	c, err := e.store.GetCouponByCode(ctx, "PROMO10")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)

	items, _ := e.cart.GetItems(ctx, "u1")
	assert.Empty(t, items)
}

func TestCheckout_PendingConfirmationKeepsCart(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fillCart(t, "u1", cart.Item{ProductID: "p1", Quantity: 1})

	req := checkoutReq("")
	req.Wait = 10 * time.Millisecond
	res, err := e.svc.Checkout(ctx, "u1", req)
	assert.True(t, IsPendingConfirmation(err))
	require.NotNil(t, res)
	assert.Equal(t, models.OrderPending, res.Order.Status)

	items, _ := e.cart.GetItems(ctx, "u1")
	assert.Len(t, items, 1)
}

func TestCheckout_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Checkout(ctx, "u1", checkoutReq(""))
	assert.ErrorIs(t, err, errs.ErrValidation, "empty cart")

	e.fillCart(t, "u1", cart.Item{ProductID: "p1", Quantity: 1})
	bad := checkoutReq("")
	bad.Phone = "07-88"
	_, err = e.svc.Checkout(ctx, "u1", bad)
	assert.ErrorIs(t, err, errs.ErrValidation)

	bad = checkoutReq("")
	bad.ShippingAddress = " "
	_, err = e.svc.Checkout(ctx, "u1", bad)
	assert.ErrorIs(t, err, errs.ErrValidation)

	e.fillCart(t, "u2", cart.Item{ProductID: "p3", Quantity: 1})
	_, err = e.svc.Checkout(ctx, "u2", checkoutReq(""))
	assert.ErrorIs(t, err, errs.ErrValidation, "unavailable product")

	_, err = e.svc.Checkout(ctx, "u1", checkoutReq("NOPE"))
	assert.ErrorIs(t, err, errs.ErrInvalidCoupon)

	orders, err := e.store.ListOrdersByUser(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_SingleUseCouponRace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := promo10()
	one := 1
	c.MaxUses = &one
	require.NoError(t, e.store.CreateCoupon(ctx, c))

	const n = 12
	var (
		wg       sync.WaitGroup
		ok       int32
		rejected int32
	)
	for i := 0; i < n; i++ {
		user := uuid.NewString()
		e.fillCart(t, user, cart.Item{ProductID: "p1", Quantity: 2})
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Checkout(ctx, user, checkoutReq("PROMO10"))
			switch {
			case err == nil:
				atomic.AddInt32(&ok, 1)
			case assert.ErrorIs(t, err, errs.ErrInvalidCoupon):
				atomic.AddInt32(&rejected, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok)
	assert.Equal(t, int32(n-1), rejected)
	got, err := e.store.GetCouponByCode(ctx, "PROMO10")
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsedCount)
}

func TestCheckout_LoyaltyRewardUsedOnlyOnSettlement(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	creditPoints(t, e.store, "u1", 100)

	amount := int64(1500)
	code := "LOY-test"
	require.NoError(t, e.store.RedeemPoints(ctx,
		&models.LoyaltyReward{RewardID: uuid.NewString(), UserID: "u1", RewardType: "free_shipping", PointsSpent: 100, CouponCode: code, ExpiresAt: time.Now().Add(time.Hour)},
		&models.Coupon{CouponID: uuid.NewString(), Code: code, Source: models.CouponLoyalty, DiscountAmount: &amount, IsActive: true},
		nil,
	))
	e.fillCart(t, "u1", cart.Item{ProductID: "p1", Quantity: 1})

	res, err := e.svc.Checkout(ctx, "u1", checkoutReq(""))
	require.NoError(t, err)
	assert.Equal(t, discount.SourceLoyalty, res.Discount.Source)
	assert.Equal(t, int64(3500), res.Order.TotalAmount)

	r, err := e.store.GetRewardByCode(ctx, code)
	require.NoError(t, err)
	assert.False(t, r.IsUsed)

	settle(t, e.store, res.Payment.PaymentID)
	r, err = e.store.GetRewardByCode(ctx, code)
	require.NoError(t, err)
	assert.True(t, r.IsUsed)
	assert.Equal(t, res.Order.OrderID, *r.UsedOrderID)
}

func TestRetryPayment(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.fillCart(t, "u1", cart.Item{ProductID: "p1", Quantity: 1})
	res, err := e.svc.Checkout(ctx, "u1", checkoutReq(""))
	require.NoError(t, err)
	owner := Actor{UserID: "u1", Role: RoleCustomer}

	_, err = e.svc.RetryPayment(ctx, owner, res.Order.OrderID, provider.Payer{})
	assert.ErrorIs(t, err, errs.ErrConflict, "first payment still pending")

	_, err = e.store.FailPayment(ctx, res.Payment.PaymentID, models.PaymentFailed, "declined", nil)
	require.NoError(t, err)

	_, err = e.svc.RetryPayment(ctx, Actor{UserID: "u2", Role: RoleCustomer}, res.Order.OrderID, provider.Payer{})
	assert.ErrorIs(t, err, errs.ErrForbidden)

	p, err := e.svc.RetryPayment(ctx, owner, res.Order.OrderID, provider.Payer{})
	require.NoError(t, err)
	assert.Equal(t, res.Order.Phone, p.PhoneNumber)

	view, err := e.svc.GetOrder(ctx, owner, res.Order.OrderID)
	require.NoError(t, err)
	assert.Len(t, view.Payments, 2)
	assert.Len(t, view.Items, 1)
}

func TestPreviewDiscount_DoesNotReserve(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.store.CreateCoupon(ctx, promo10()))
	e.fillCart(t, "u1", cart.Item{ProductID: "p1", Quantity: 2})

	subtotal, d, err := e.svc.PreviewDiscount(ctx, "u1", "PROMO10")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), subtotal)
	assert.Equal(t, int64(1000), d.DiscountAmount)

	c, _ := e.store.GetCouponByCode(ctx, "PROMO10")
	assert.Zero(t, c.UsedCount)
}

func TestCreateOrder_PricesFromRecomputedLineTotals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	items := []models.OrderItem{{ProductID: "p1", VendorID: "v1", UnitPrice: 9000, Quantity: 2, Total: 1}}
	d := discount.Result{DiscountAmount: 500, Source: discount.SourceCoupon}

	order, saved, err := e.svc.CreateOrder(ctx, "u1", items, d, checkoutReq("").OrderDetails)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, int64(18000), saved[0].Total)
	assert.Equal(t, models.Subtotal(saved), order.Subtotal)
	assert.Equal(t, int64(17500), order.TotalAmount)
	assert.Equal(t, order.Subtotal, order.TotalAmount+order.DiscountAmount)

	pay, err := e.svc.Payments.Initiate(ctx, order, provider.Payer{})
	require.NoError(t, err)
	assert.Equal(t, order.TotalAmount, pay.Amount)

	_, _, err = e.svc.CreateOrder(ctx, "u1", items, discount.Result{DiscountAmount: 18001}, checkoutReq("").OrderDetails)
	assert.ErrorIs(t, err, errs.ErrValidation, "discount bound uses the recomputed subtotal")
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

// settle drives a pending payment to completed straight through the store.
func settle(t *testing.T, st *memory.Store, paymentID string) {
	t.Helper()
	res, err := st.SettlePayment(context.Background(), store.Settlement{
		PaymentID:     paymentID,
		TransactionID: "TX-" + paymentID,
		CompletedAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
	require.True(t, res.Settled)
}
