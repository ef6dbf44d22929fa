package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Amounts are int64 minor units of the shop currency.

type Order struct {
	OrderID             string
	UserID              string
	Subtotal            int64
	DiscountAmount      int64
	TotalAmount         int64
	CouponCode          *string
	Status              OrderStatus
	ShippingAddress     string
	Phone               string
	PaymentMethod       string
	PaymentReference    *string
	DeliveryUserID      *string
	DeliveryReceivedAt  *time.Time
	DeliveryDeliveredAt *time.Time
	CustomerConfirmedAt *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// OrderItem is a purchase-time snapshot; it is never recomputed from the live product.
type OrderItem struct {
	ItemID      string
	OrderID     string
	ProductID   string
	VendorID    string
	ProductName string
	UnitPrice   int64
	Quantity    int
	Total       int64
	CreatedAt   time.Time
}

type Payment struct {
	PaymentID         string
	OrderID           string
	UserID            string
	Amount            int64
	PaymentMethod     string
	PhoneNumber       string
	Status            PaymentStatus
	ProviderPaymentID *string
	TransactionID     *string
	FailureReason     *string
	CompletedAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type CouponSource string

const (
	CouponPromo   CouponSource = "promo"
	CouponLoyalty CouponSource = "loyalty"
)

// Coupon carries either a fixed DiscountAmount or a DiscountPercent (0-100).
type Coupon struct {
	CouponID        string
	Code            string
	Source          CouponSource
	DiscountAmount  *int64
	DiscountPercent decimal.NullDecimal
	MinOrderAmount  int64
	MaxUses         *int
	UsedCount       int
	ValidFrom       *time.Time
	ValidUntil      *time.Time
	IsActive        bool
	CreatedAt       time.Time
}

type CouponRedemption struct {
	RedemptionID   string
	CouponID       string
	UserID         string
	OrderID        string
	DiscountAmount int64
	CreatedAt      time.Time
	ReleasedAt     *time.Time
}

type LoyaltyReward struct {
	RewardID    string
	UserID      string
	RewardType  string
	PointsSpent int64
	CouponCode  string
	IsUsed      bool
	UsedOrderID *string
	UsedAt      *time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// LoyaltyAccrual is the per-order accrual marker.
type LoyaltyAccrual struct {
	OrderID   string
	UserID    string
	Points    int64
	CreatedAt time.Time
}

type LoyaltyBalance struct {
	UserID string
	Earned int64
	Spent  int64
}

func (b LoyaltyBalance) Available() int64 {
	return b.Earned - b.Spent
}

type CommissionStatus string

const (
	CommissionPending CommissionStatus = "pending"
	CommissionPaid    CommissionStatus = "paid"
)

type Commission struct {
	CommissionID     string
	OrderID          string
	OrderItemID      string
	VendorID         string
	SaleAmount       int64
	CommissionRate   decimal.Decimal
	CommissionAmount int64
	Status           CommissionStatus
	PaidAt           *time.Time
	CreatedAt        time.Time
}

type ProofType string

const (
	ProofPickup    ProofType = "pickup"
	ProofDelivered ProofType = "delivered"
)

type DeliveryProof struct {
	ProofID        string
	OrderID        string
	DeliveryUserID string
	ProofType      ProofType
	PhotoURL       string
	SignatureURL   string
	Latitude       *float64
	Longitude      *float64
	Note           string
	CreatedAt      time.Time
}
