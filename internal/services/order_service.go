package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"OrderSettlement/internal/cart"
	"OrderSettlement/internal/catalog"
	"OrderSettlement/internal/discount"
	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/provider"
	"OrderSettlement/internal/store"

	"github.com/google/uuid"
)

type Catalog interface {
	Products(ctx context.Context, productIDs []string) (map[string]catalog.Product, error)
}

// Payments is the settlement side checkout hands off to.
type Payments interface {
	Initiate(ctx context.Context, order *models.Order, payer provider.Payer) (*models.Payment, error)
	Await(ctx context.Context, paymentID string) (*models.Payment, error)
}

type Accruals interface {
	AccrualFor(o *models.Order) *models.LoyaltyAccrual
}

type OrderService struct {
	Store     store.Repository
	Cart      cart.Cart
	Catalog   Catalog
	Discounts *discount.Resolver
	Payments  Payments
	Loyalty   Accruals
	Logger    *slog.Logger
	Now       func() time.Time
}

func (s OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s OrderService) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

type OrderDetails struct {
	ShippingAddress string
	Phone           string
	PaymentMethod   string
}

type CheckoutRequest struct {
	OrderDetails
	CouponCode string
	PayerName  string
	PayerEmail string
	// Wait bounds how long checkout blocks for the payment to settle. Zero returns right after initiation.
	Wait time.Duration
}

type CheckoutResult struct {
	Order    *models.Order
	Items    []models.OrderItem
	Payment  *models.Payment
	Discount discount.Result
}

// Checkout turns the user's cart into a pending order and opens a payment for
// it. The order survives payment errors: on errs.ErrPaymentTimeout or
// errs.ErrProvider the result is returned alongside the error so the caller can
// show the pending order and retry the payment.
func (s OrderService) Checkout(ctx context.Context, userID string, req CheckoutRequest) (*CheckoutResult, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}
	if err := validateDetails(req.OrderDetails); err != nil {
		return nil, err
	}

	lines, err := s.Cart.GetItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, errs.Validation("cart is empty")
	}
	items, err := s.snapshotItems(ctx, lines)
	if err != nil {
		return nil, err
	}

	d, err := s.Discounts.Resolve(ctx, userID, models.Subtotal(items), req.CouponCode)
	if err != nil {
		return nil, err
	}

	order, items, err := s.CreateOrder(ctx, userID, items, d, req.OrderDetails)
	if err != nil {
		return nil, err
	}
	res := &CheckoutResult{Order: order, Items: items, Discount: d}

	payer := provider.Payer{Name: req.PayerName, Email: req.PayerEmail, Phone: req.Phone}
	payment, err := s.Payments.Initiate(ctx, order, payer)
	res.Payment = payment
	if err != nil {
		return res, err
	}
	if req.Wait > 0 {
		return s.await(ctx, res, req.Wait)
	}
	return res, nil
}

func (s OrderService) await(ctx context.Context, res *CheckoutResult, wait time.Duration) (*CheckoutResult, error) {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	p, err := s.Payments.Await(waitCtx, res.Payment.PaymentID)
	if p != nil {
		res.Payment = p
	}
	if o, gerr := s.Store.GetOrder(ctx, res.Order.OrderID); gerr == nil {
		res.Order = o
	}
	return res, err
}

// snapshotItems prices the cart lines from the catalog. The snapshot is the
// only price the order will ever use.
func (s OrderService) snapshotItems(ctx context.Context, lines []cart.Item) ([]models.OrderItem, error) {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}
	products, err := s.Catalog.Products(ctx, ids)
	if err != nil {
		return nil, err
	}
	items := make([]models.OrderItem, 0, len(lines))
	for _, l := range lines {
		p, ok := products[l.ProductID]
		if !ok || !p.Available {
			return nil, errs.Validation("product %s is not available", l.ProductID)
		}
		items = append(items, models.OrderItem{
			ProductID:   p.ProductID,
			VendorID:    p.VendorID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    l.Quantity,
			Total:       p.Price * int64(l.Quantity),
		})
	}
	return items, nil
}

// CreateOrder persists a pending order with its item snapshots. When the
// discount came from a coupon, the redemption and the coupon's usage count are
// written in the same transaction as the order.
func (s OrderService) CreateOrder(ctx context.Context, userID string, items []models.OrderItem, d discount.Result, details OrderDetails) (*models.Order, []models.OrderItem, error) {
	if userID == "" {
		return nil, nil, errs.Validation("user id is required")
	}
	if len(items) == 0 {
		return nil, nil, errs.Validation("order needs at least one item")
	}
	for _, it := range items {
		if it.ProductID == "" || it.Quantity <= 0 || it.UnitPrice <= 0 {
			return nil, nil, errs.Validation("item %q needs a positive quantity and price", it.ProductID)
		}
	}
	now := s.now()
	orderID := uuid.NewString()
	out := make([]models.OrderItem, len(items))
	for i, it := range items {
		it.ItemID = uuid.NewString()
		it.OrderID = orderID
		it.Total = it.UnitPrice * int64(it.Quantity)
		it.CreatedAt = now
		out[i] = it
	}
	// Caller-supplied line totals are ignored; the order is priced from the
	// recomputed items only.
	subtotal := models.Subtotal(out)
	if d.DiscountAmount < 0 || d.DiscountAmount > subtotal {
		return nil, nil, errs.Validation("discount %d outside 0..%d", d.DiscountAmount, subtotal)
	}

	order := &models.Order{
		OrderID:         orderID,
		UserID:          userID,
		Subtotal:        subtotal,
		DiscountAmount:  d.DiscountAmount,
		TotalAmount:     subtotal - d.DiscountAmount,
		CouponCode:      d.Code(),
		Status:          models.OrderPending,
		ShippingAddress: strings.TrimSpace(details.ShippingAddress),
		Phone:           strings.TrimSpace(details.Phone),
		PaymentMethod:   details.PaymentMethod,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var redemption *models.CouponRedemption
	if d.Coupon != nil {
		redemption = &models.CouponRedemption{
			RedemptionID:   uuid.NewString(),
			CouponID:       d.Coupon.CouponID,
			UserID:         userID,
			OrderID:        order.OrderID,
			DiscountAmount: d.DiscountAmount,
			CreatedAt:      now,
		}
	}
	ev := models.NewEvent(models.EventOrderCreated, order.OrderID, map[string]any{
		"order_id":        order.OrderID,
		"user_id":         userID,
		"subtotal":        subtotal,
		"discount_amount": d.DiscountAmount,
		"total_amount":    order.TotalAmount,
		"discount_source": d.Source,
	})

	if err := s.Store.CreateOrder(ctx, order, out, redemption, []models.Event{ev}); err != nil {
		return nil, nil, err
	}
	s.log().Info("order created", "order_id", order.OrderID, "user_id", userID, "total", order.TotalAmount, "discount", d.DiscountAmount, "discount_source", d.Source)
	return order, out, nil
}

// RetryPayment opens a fresh payment for a pending order whose earlier
// payments all failed or were cancelled.
func (s OrderService) RetryPayment(ctx context.Context, actor Actor, orderID string, payer provider.Payer) (*models.Payment, error) {
	order, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.owns(order) {
		return nil, errs.ErrForbidden
	}
	if order.Status != models.OrderPending {
		return nil, errs.InvalidTransition(string(order.Status), "payment")
	}
	if payer.Phone == "" {
		payer.Phone = order.Phone
	}
	return s.Payments.Initiate(ctx, order, payer)
}

// PreviewDiscount runs the resolver for the user's current cart without
// reserving anything.
func (s OrderService) PreviewDiscount(ctx context.Context, userID, couponCode string) (int64, discount.Result, error) {
	lines, err := s.Cart.GetItems(ctx, userID)
	if err != nil {
		return 0, discount.Result{}, err
	}
	if len(lines) == 0 {
		return 0, discount.Result{}, errs.Validation("cart is empty")
	}
	items, err := s.snapshotItems(ctx, lines)
	if err != nil {
		return 0, discount.Result{}, err
	}
	subtotal := models.Subtotal(items)
	d, err := s.Discounts.Resolve(ctx, userID, subtotal, couponCode)
	return subtotal, d, err
}

type OrderView struct {
	Order    *models.Order
	Items    []models.OrderItem
	Payments []models.Payment
	Proofs   []models.DeliveryProof
}

func (s OrderService) GetOrder(ctx context.Context, actor Actor, orderID string) (*OrderView, error) {
	order, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.canView(order) {
		return nil, errs.ErrForbidden
	}
	v := &OrderView{Order: order}
	if v.Items, err = s.Store.GetOrderItems(ctx, orderID); err != nil {
		return nil, err
	}
	if v.Payments, err = s.Store.ListPaymentsByOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if v.Proofs, err = s.Store.ListDeliveryProofs(ctx, orderID); err != nil {
		return nil, err
	}
	return v, nil
}

func (s OrderService) ListOrders(ctx context.Context, userID string, limit int) ([]models.Order, error) {
	if userID == "" {
		return nil, errs.Validation("user id is required")
	}
	return s.Store.ListOrdersByUser(ctx, userID, limit)
}

func validateDetails(d OrderDetails) error {
	if strings.TrimSpace(d.ShippingAddress) == "" {
		return errs.Validation("shipping address is required")
	}
	if !validPhone(d.Phone) {
		return errs.Validation("invalid phone number")
	}
	if d.PaymentMethod == "" {
		return errs.Validation("payment method is required")
	}
	return nil
}

func validPhone(p string) bool {
	p = strings.TrimPrefix(strings.TrimSpace(p), "+")
	if len(p) < 9 || len(p) > 15 {
		return false
	}
	for _, r := range p {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsPendingConfirmation reports whether a checkout error means the payment
// outcome is not known yet.
func IsPendingConfirmation(err error) bool {
	return errors.Is(err, errs.ErrPaymentTimeout)
}
