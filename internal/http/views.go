package http

import (
	"time"

	"OrderSettlement/internal/models"
	"OrderSettlement/internal/services"
)

type itemResponse struct {
	ItemID      string `json:"itemId"`
	ProductID   string `json:"productId"`
	VendorID    string `json:"vendorId"`
	ProductName string `json:"productName"`
	UnitPrice   int64  `json:"unitPrice"`
	Quantity    int    `json:"quantity"`
	Total       int64  `json:"total"`
}

type paymentResponse struct {
	PaymentID         string  `json:"paymentId"`
	OrderID           string  `json:"orderId"`
	Amount            int64   `json:"amount"`
	PaymentMethod     string  `json:"paymentMethod"`
	Status            string  `json:"status"`
	ProviderPaymentID *string `json:"providerPaymentId,omitempty"`
	TransactionID     *string `json:"transactionId,omitempty"`
	FailureReason     *string `json:"failureReason,omitempty"`
	CompletedAt       string  `json:"completedAt,omitempty"`
	CreatedAt         string  `json:"createdAt"`
}

type proofResponse struct {
	ProofID        string   `json:"proofId"`
	DeliveryUserID string   `json:"deliveryUserId"`
	ProofType      string   `json:"proofType"`
	PhotoURL       string   `json:"photoUrl,omitempty"`
	SignatureURL   string   `json:"signatureUrl,omitempty"`
	Latitude       *float64 `json:"latitude,omitempty"`
	Longitude      *float64 `json:"longitude,omitempty"`
	Note           string   `json:"note,omitempty"`
	CreatedAt      string   `json:"createdAt"`
}

type orderResponse struct {
	OrderID             string            `json:"orderId"`
	UserID              string            `json:"userId"`
	Status              string            `json:"status"`
	Subtotal            int64             `json:"subtotal"`
	DiscountAmount      int64             `json:"discountAmount"`
	TotalAmount         int64             `json:"totalAmount"`
	CouponCode          *string           `json:"couponCode,omitempty"`
	ShippingAddress     string            `json:"shippingAddress"`
	Phone               string            `json:"phone"`
	PaymentMethod       string            `json:"paymentMethod"`
	PaymentReference    *string           `json:"paymentReference,omitempty"`
	DeliveryUserID      *string           `json:"deliveryUserId,omitempty"`
	DeliveryReceivedAt  string            `json:"deliveryReceivedAt,omitempty"`
	DeliveryDeliveredAt string            `json:"deliveryDeliveredAt,omitempty"`
	CustomerConfirmedAt string            `json:"customerConfirmedAt,omitempty"`
	CreatedAt           string            `json:"createdAt"`
	UpdatedAt           string            `json:"updatedAt"`
	Items               []itemResponse    `json:"items,omitempty"`
	Payments            []paymentResponse `json:"payments,omitempty"`
	Proofs              []proofResponse   `json:"proofs,omitempty"`
}

type checkoutResponse struct {
	// Status is "confirmed", "pending_confirmation" or "payment_failed".
	Status         string           `json:"status"`
	Order          orderResponse    `json:"order"`
	Payment        *paymentResponse `json:"payment,omitempty"`
	DiscountSource string           `json:"discountSource"`
	Message        string           `json:"message,omitempty"`
}

type rewardResponse struct {
	RewardID    string `json:"rewardId"`
	RewardType  string `json:"rewardType"`
	PointsSpent int64  `json:"pointsSpent"`
	CouponCode  string `json:"couponCode"`
	IsUsed      bool   `json:"isUsed"`
	ExpiresAt   string `json:"expiresAt"`
	CreatedAt   string `json:"createdAt"`
}

type commissionResponse struct {
	CommissionID     string `json:"commissionId"`
	OrderID          string `json:"orderId"`
	OrderItemID      string `json:"orderItemId"`
	VendorID         string `json:"vendorId"`
	SaleAmount       int64  `json:"saleAmount"`
	CommissionRate   string `json:"commissionRate"`
	CommissionAmount int64  `json:"commissionAmount"`
	Status           string `json:"status"`
	PaidAt           string `json:"paidAt,omitempty"`
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func toOrderResponse(o *models.Order) orderResponse {
	return orderResponse{
		OrderID:             o.OrderID,
		UserID:              o.UserID,
		Status:              string(o.Status),
		Subtotal:            o.Subtotal,
		DiscountAmount:      o.DiscountAmount,
		TotalAmount:         o.TotalAmount,
		CouponCode:          o.CouponCode,
		ShippingAddress:     o.ShippingAddress,
		Phone:               o.Phone,
		PaymentMethod:       o.PaymentMethod,
		PaymentReference:    o.PaymentReference,
		DeliveryUserID:      o.DeliveryUserID,
		DeliveryReceivedAt:  formatTime(o.DeliveryReceivedAt),
		DeliveryDeliveredAt: formatTime(o.DeliveryDeliveredAt),
		CustomerConfirmedAt: formatTime(o.CustomerConfirmedAt),
		CreatedAt:           formatTime(&o.CreatedAt),
		UpdatedAt:           formatTime(&o.UpdatedAt),
	}
}

func toItems(items []models.OrderItem) []itemResponse {
	out := make([]itemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, itemResponse{
			ItemID:      it.ItemID,
			ProductID:   it.ProductID,
			VendorID:    it.VendorID,
			ProductName: it.ProductName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			Total:       it.Total,
		})
	}
	return out
}

func toPaymentResponse(p *models.Payment) paymentResponse {
	return paymentResponse{
		PaymentID:         p.PaymentID,
		OrderID:           p.OrderID,
		Amount:            p.Amount,
		PaymentMethod:     p.PaymentMethod,
		Status:            string(p.Status),
		ProviderPaymentID: p.ProviderPaymentID,
		TransactionID:     p.TransactionID,
		FailureReason:     p.FailureReason,
		CompletedAt:       formatTime(p.CompletedAt),
		CreatedAt:         formatTime(&p.CreatedAt),
	}
}

func toOrderView(v *services.OrderView) orderResponse {
	resp := toOrderResponse(v.Order)
	resp.Items = toItems(v.Items)
	for i := range v.Payments {
		resp.Payments = append(resp.Payments, toPaymentResponse(&v.Payments[i]))
	}
	for _, p := range v.Proofs {
		resp.Proofs = append(resp.Proofs, proofResponse{
			ProofID:        p.ProofID,
			DeliveryUserID: p.DeliveryUserID,
			ProofType:      string(p.ProofType),
			PhotoURL:       p.PhotoURL,
			SignatureURL:   p.SignatureURL,
			Latitude:       p.Latitude,
			Longitude:      p.Longitude,
			Note:           p.Note,
			CreatedAt:      formatTime(&p.CreatedAt),
		})
	}
	return resp
}

func toRewardResponse(r models.LoyaltyReward) rewardResponse {
	return rewardResponse{
		RewardID:    r.RewardID,
		RewardType:  r.RewardType,
		PointsSpent: r.PointsSpent,
		CouponCode:  r.CouponCode,
		IsUsed:      r.IsUsed,
		ExpiresAt:   formatTime(&r.ExpiresAt),
		CreatedAt:   formatTime(&r.CreatedAt),
	}
}

func toCommissionResponse(c models.Commission) commissionResponse {
	return commissionResponse{
		CommissionID:     c.CommissionID,
		OrderID:          c.OrderID,
		OrderItemID:      c.OrderItemID,
		VendorID:         c.VendorID,
		SaleAmount:       c.SaleAmount,
		CommissionRate:   c.CommissionRate.String(),
		CommissionAmount: c.CommissionAmount,
		Status:           string(c.Status),
		PaidAt:           formatTime(c.PaidAt),
	}
}
