package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"OrderSettlement/internal/cart"
	"OrderSettlement/internal/commission"
	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/loyalty"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/provider"
	"OrderSettlement/internal/services"
	"OrderSettlement/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Settlement interface {
	Await(ctx context.Context, paymentID string) (*models.Payment, error)
	HandleCallback(ctx context.Context, st provider.Status) (*models.Payment, error)
}

type PaymentReader interface {
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
}

type CouponAdmin interface {
	CreateCoupon(ctx context.Context, c *models.Coupon) error
	SetCouponActive(ctx context.Context, code string, active bool) error
}

type Handler struct {
	Orders      services.OrderService
	Settlement  Settlement
	Payments    PaymentReader
	Coupons     CouponAdmin
	Cart        cart.Cart
	Loyalty     loyalty.Ledger
	Commissions commission.Ledger
	Signer      *provider.Signer
	Logger      *slog.Logger
	// MaxWait caps how long a request may block on payment settlement.
	MaxWait time.Duration
}

const pendingMessage = "Payment is not confirmed yet. Check your order history later."

func (h *Handler) waitFor(seconds int) time.Duration {
	d := time.Duration(seconds) * time.Second
	if h.MaxWait > 0 && d > h.MaxWait {
		d = h.MaxWait
	}
	return d
}

// Cart

func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.Cart.GetItems(r.Context(), actorFrom(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) SetCartItem(w http.ResponseWriter, r *http.Request) {
	var req cart.Item
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Cart.SetItem(r.Context(), actorFrom(r).UserID, req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.GetCart(w, r)
}

// Checkout

type checkoutRequest struct {
	CouponCode      string `json:"couponCode" validate:"max=64"`
	ShippingAddress string `json:"shippingAddress" validate:"required,max=500"`
	Phone           string `json:"phone" validate:"required,min=9,max=16"`
	PaymentMethod   string `json:"paymentMethod" validate:"required,max=32"`
	PayerName       string `json:"payerName" validate:"max=120"`
	PayerEmail      string `json:"payerEmail" validate:"omitempty,email"`
	WaitSeconds     int    `json:"waitSeconds" validate:"gte=0,lte=600"`
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	actor := actorFrom(r)
	res, err := h.Orders.Checkout(r.Context(), actor.UserID, services.CheckoutRequest{
		OrderDetails: services.OrderDetails{
			ShippingAddress: req.ShippingAddress,
			Phone:           req.Phone,
			PaymentMethod:   req.PaymentMethod,
		},
		CouponCode: strings.TrimSpace(req.CouponCode),
		PayerName:  req.PayerName,
		PayerEmail: req.PayerEmail,
		Wait:       h.waitFor(req.WaitSeconds),
	})
	if res == nil {
		h.fail(w, r, err)
		return
	}

	resp := checkoutResponse{
		Order:          toOrderResponse(res.Order),
		DiscountSource: string(res.Discount.Source),
	}
	resp.Order.Items = toItems(res.Items)
	if res.Payment != nil {
		p := toPaymentResponse(res.Payment)
		resp.Payment = &p
	}

	status := http.StatusCreated
	switch {
	case err == nil && res.Order.Status == models.OrderConfirmed:
		resp.Status = "confirmed"
	case err == nil:
		resp.Status = "awaiting_payment"
	case services.IsPendingConfirmation(err):
		status = http.StatusAccepted
		resp.Status = "pending_confirmation"
		resp.Message = pendingMessage
	default:
		status = errorStatus(err)
		resp.Status = "payment_failed"
		resp.Message = err.Error()
	}
	writeJSON(w, status, resp)
}

type previewRequest struct {
	CouponCode string `json:"couponCode" validate:"max=64"`
}

func (h *Handler) PreviewDiscount(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	subtotal, d, err := h.Orders.PreviewDiscount(r.Context(), actorFrom(r).UserID, strings.TrimSpace(req.CouponCode))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"subtotal":       subtotal,
		"discountAmount": d.DiscountAmount,
		"totalAmount":    subtotal - d.DiscountAmount,
		"source":         d.Source,
		"couponCode":     d.Code(),
	})
}

// Orders

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	orders, err := h.Orders.ListOrders(r.Context(), actorFrom(r).UserID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for i := range orders {
		out = append(out, toOrderResponse(&orders[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	view, err := h.Orders.GetOrder(r.Context(), actorFrom(r), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderView(view))
}

type transitionRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.Orders.Transition(r.Context(), actorFrom(r), chi.URLParam(r, "orderId"), models.OrderStatus(req.Status))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	o, err := h.Orders.Cancel(r.Context(), actorFrom(r), chi.URLParam(r, "orderId"), req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type retryPaymentRequest struct {
	Phone      string `json:"phone" validate:"omitempty,min=9,max=16"`
	PayerName  string `json:"payerName" validate:"max=120"`
	PayerEmail string `json:"payerEmail" validate:"omitempty,email"`
}

func (h *Handler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	var req retryPaymentRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	p, err := h.Orders.RetryPayment(r.Context(), actorFrom(r), chi.URLParam(r, "orderId"), provider.Payer{
		Name: req.PayerName, Email: req.PayerEmail, Phone: req.Phone,
	})
	if p == nil {
		h.fail(w, r, err)
		return
	}
	resp := map[string]any{"payment": toPaymentResponse(p), "status": "awaiting_payment"}
	if err != nil {
		resp["status"] = "pending_confirmation"
		resp["message"] = pendingMessage
		writeJSON(w, errorStatus(err), resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// Payments

// GetPayment returns a payment, optionally blocking up to ?wait= seconds for
// it to settle.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	p, err := h.Payments.GetPayment(r.Context(), chi.URLParam(r, "paymentId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !actor.IsAdmin() && p.UserID != actor.UserID {
		h.fail(w, r, errs.ErrForbidden)
		return
	}

	wait, _ := strconv.Atoi(r.URL.Query().Get("wait"))
	if wait > 0 && !p.Status.IsTerminal() {
		ctx, cancel := context.WithTimeout(r.Context(), h.waitFor(wait))
		defer cancel()
		latest, err := h.Settlement.Await(ctx, p.PaymentID)
		if latest != nil {
			p = latest
		}
		if err != nil {
			if !services.IsPendingConfirmation(err) {
				h.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"status":  "pending_confirmation",
				"message": pendingMessage,
				"payment": toPaymentResponse(p),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": p.Status, "payment": toPaymentResponse(p)})
}

// ProviderCallback accepts signed status pushes from the payment provider.
func (h *Handler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	if h.Signer == nil {
		writeError(w, http.StatusServiceUnavailable, "callbacks are not configured")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := h.Signer.Verify(body, r.Header.Get(provider.SignatureHeader)); err != nil {
		h.log().Warn("provider callback rejected", "remote", r.RemoteAddr, "err", err)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	st, err := provider.ParseStatus(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := h.Settlement.HandleCallback(r.Context(), st)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paymentId": p.PaymentID, "status": p.Status})
}

// Delivery

type assignRequest struct {
	DeliveryUserID string `json:"deliveryUserId" validate:"required,max=64"`
}

func (h *Handler) AssignDelivery(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o, err := h.Orders.Assign(r.Context(), actorFrom(r), chi.URLParam(r, "orderId"), req.DeliveryUserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type proofRequest struct {
	ProofType    string   `json:"proofType" validate:"required,oneof=pickup delivered"`
	PhotoURL     string   `json:"photoUrl" validate:"omitempty,url"`
	SignatureURL string   `json:"signatureUrl" validate:"omitempty,url"`
	Latitude     *float64 `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude    *float64 `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Note         string   `json:"note" validate:"max=500"`
}

func (h *Handler) RecordProof(w http.ResponseWriter, r *http.Request) {
	var req proofRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	o, proof, err := h.Orders.RecordProof(r.Context(), actorFrom(r), chi.URLParam(r, "orderId"), services.ProofInput{
		Type:         models.ProofType(req.ProofType),
		PhotoURL:     req.PhotoURL,
		SignatureURL: req.SignatureURL,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Note:         req.Note,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"order": toOrderResponse(o), "proofId": proof.ProofID})
}

func (h *Handler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.ConfirmDelivery(r.Context(), actorFrom(r), chi.URLParam(r, "orderId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

// Loyalty

func (h *Handler) LoyaltyBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.Loyalty.Balance(r.Context(), actorFrom(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{
		"earned":    b.Earned,
		"spent":     b.Spent,
		"available": b.Available(),
	})
}

func (h *Handler) LoyaltyRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.Loyalty.ListRewards(r.Context(), actorFrom(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]rewardResponse, 0, len(rewards))
	for _, rw := range rewards {
		out = append(out, toRewardResponse(rw))
	}
	writeJSON(w, http.StatusOK, map[string]any{"rewards": out})
}

func (h *Handler) LoyaltyCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rewards": h.Loyalty.Catalog()})
}

type redeemRequest struct {
	RewardType string `json:"rewardType" validate:"required,max=64"`
	PointsCost int64  `json:"pointsCost" validate:"gt=0"`
}

func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	reward, err := h.Loyalty.Redeem(r.Context(), actorFrom(r).UserID, req.RewardType, req.PointsCost)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRewardResponse(*reward))
}

// Admin

type createCouponRequest struct {
	Code            string     `json:"code" validate:"required,min=3,max=64"`
	DiscountAmount  *int64     `json:"discountAmount" validate:"omitempty,gt=0"`
	DiscountPercent *float64   `json:"discountPercent" validate:"omitempty,gt=0,lte=100"`
	MinOrderAmount  int64      `json:"minOrderAmount" validate:"gte=0"`
	MaxUses         *int       `json:"maxUses" validate:"omitempty,gt=0"`
	ValidFrom       *time.Time `json:"validFrom"`
	ValidUntil      *time.Time `json:"validUntil"`
}

func (h *Handler) CreateCoupon(w http.ResponseWriter, r *http.Request) {
	var req createCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if (req.DiscountAmount == nil) == (req.DiscountPercent == nil) {
		h.fail(w, r, errs.Validation("exactly one of discountAmount and discountPercent is required"))
		return
	}
	if req.ValidFrom != nil && req.ValidUntil != nil && !req.ValidUntil.After(*req.ValidFrom) {
		h.fail(w, r, errs.Validation("validUntil must be after validFrom"))
		return
	}
	code := strings.TrimSpace(req.Code)
	if h.Loyalty.Codes.Owns(code) {
		h.fail(w, r, errs.Validation("prefix %q is reserved for loyalty reward codes", h.Loyalty.Codes.Prefix))
		return
	}
	c := &models.Coupon{
		CouponID:       uuid.NewString(),
		Code:           code,
		Source:         models.CouponPromo,
		DiscountAmount: req.DiscountAmount,
		MinOrderAmount: req.MinOrderAmount,
		MaxUses:        req.MaxUses,
		ValidFrom:      req.ValidFrom,
		ValidUntil:     req.ValidUntil,
		IsActive:       true,
		CreatedAt:      time.Now().UTC(),
	}
	if req.DiscountPercent != nil {
		c.DiscountPercent = decimal.NewNullDecimal(decimal.NewFromFloat(*req.DiscountPercent))
	}
	if err := h.Coupons.CreateCoupon(r.Context(), c); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"couponId": c.CouponID, "code": c.Code})
}

type couponStateRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

func (h *Handler) SetCouponActive(w http.ResponseWriter, r *http.Request) {
	var req couponStateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	code := chi.URLParam(r, "code")
	if err := h.Coupons.SetCouponActive(r.Context(), code, *req.IsActive); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": code, "isActive": *req.IsActive})
}

func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	list, err := h.Commissions.List(r.Context(), store.CommissionFilter{
		VendorID: q.Get("vendorId"),
		Status:   models.CommissionStatus(q.Get("status")),
		Limit:    limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]commissionResponse, 0, len(list))
	for _, c := range list {
		out = append(out, toCommissionResponse(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"commissions": out})
}

func (h *Handler) MarkCommissionPaid(w http.ResponseWriter, r *http.Request) {
	c, err := h.Commissions.MarkPaid(r.Context(), chi.URLParam(r, "commissionId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toCommissionResponse(*c))
}
