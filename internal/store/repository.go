package store

import (
	"context"
	"time"

	"OrderSettlement/internal/models"
)

// Repository is the persistence contract shared by the Postgres store and the
// in-memory store. Every method is atomic on its own.
type Repository interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem, redemption *models.CouponRedemption, events []models.Event) error
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	ListOrdersByUser(ctx context.Context, userID string, limit int) ([]models.Order, error)
	UpdateOrder(ctx context.Context, orderID string, fn OrderMutator) (*models.Order, bool, error)
	ListDeliveryProofs(ctx context.Context, orderID string) ([]models.DeliveryProof, error)

	CreatePayment(ctx context.Context, p *models.Payment) error
	GetPayment(ctx context.Context, paymentID string) (*models.Payment, error)
	GetPaymentByProviderID(ctx context.Context, providerPaymentID string) (*models.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error)
	ListStalePayments(ctx context.Context, before time.Time, limit int) ([]models.Payment, error)
	MarkPaymentProcessing(ctx context.Context, paymentID, providerPaymentID string) (bool, error)
	TouchPayment(ctx context.Context, paymentID string) error
	FailPayment(ctx context.Context, paymentID string, status models.PaymentStatus, reason string, events []models.Event) (bool, error)
	SettlePayment(ctx context.Context, st Settlement) (*SettlementResult, error)

	CreateCoupon(ctx context.Context, c *models.Coupon) error
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	SetCouponActive(ctx context.Context, code string, active bool) error

	ListUnusedRewards(ctx context.Context, userID string, now time.Time) ([]models.LoyaltyReward, error)
	ListRewards(ctx context.Context, userID string) ([]models.LoyaltyReward, error)
	GetRewardByCode(ctx context.Context, code string) (*models.LoyaltyReward, error)
	GetLoyaltyBalance(ctx context.Context, userID string) (*models.LoyaltyBalance, error)
	RedeemPoints(ctx context.Context, reward *models.LoyaltyReward, coupon *models.Coupon, events []models.Event) error
	GetAccrual(ctx context.Context, orderID string) (*models.LoyaltyAccrual, error)

	ListCommissions(ctx context.Context, f CommissionFilter) ([]models.Commission, error)
	MarkCommissionPaid(ctx context.Context, commissionID string, paidAt time.Time, events []models.Event) (*models.Commission, bool, error)

	FetchPendingEvents(ctx context.Context, limit int) ([]models.Event, error)
	MarkEventsPublished(ctx context.Context, ids []string, at time.Time) error
}

var _ Repository = (*Store)(nil)
