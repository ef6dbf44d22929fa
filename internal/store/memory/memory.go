// Package memory is an in-process store.Repository. A single mutex stands in
// for the row locks and transactions of the Postgres store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/store"
)

type Store struct {
	mu sync.Mutex

	orders      map[string]*models.Order
	items       map[string][]models.OrderItem
	proofs      map[string][]models.DeliveryProof
	payments    map[string]*models.Payment
	coupons     map[string]*models.Coupon
	couponCodes map[string]string
	redemptions []*models.CouponRedemption
	rewards     map[string]*models.LoyaltyReward
	accruals    map[string]models.LoyaltyAccrual
	balances    map[string]*models.LoyaltyBalance
	commissions map[string]*models.Commission
	events      []*models.Event
}

var _ store.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		orders:      make(map[string]*models.Order),
		items:       make(map[string][]models.OrderItem),
		proofs:      make(map[string][]models.DeliveryProof),
		payments:    make(map[string]*models.Payment),
		coupons:     make(map[string]*models.Coupon),
		couponCodes: make(map[string]string),
		rewards:     make(map[string]*models.LoyaltyReward),
		accruals:    make(map[string]models.LoyaltyAccrual),
		balances:    make(map[string]*models.LoyaltyBalance),
		commissions: make(map[string]*models.Commission),
	}
}

func (s *Store) appendEvents(events []models.Event) {
	for i := range events {
		ev := events[i]
		s.events = append(s.events, &ev)
	}
}

// Orders

func (s *Store) CreateOrder(_ context.Context, order *models.Order, items []models.OrderItem, redemption *models.CouponRedemption, events []models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.OrderID]; ok {
		return errs.ErrConflict
	}
	if redemption != nil {
		c, ok := s.coupons[redemption.CouponID]
		if !ok || !couponUsable(c, order.CreatedAt, order.Subtotal) {
			return errs.InvalidCoupon("coupon is no longer available")
		}
		c.UsedCount++
		r := *redemption
		s.redemptions = append(s.redemptions, &r)
	}

	o := *order
	o.UpdatedAt = o.CreatedAt
	s.orders[o.OrderID] = &o
	s.items[o.OrderID] = append([]models.OrderItem(nil), items...)
	s.appendEvents(events)
	return nil
}

func couponUsable(c *models.Coupon, at time.Time, subtotal int64) bool {
	if !c.IsActive {
		return false
	}
	if c.MaxUses != nil && c.UsedCount >= *c.MaxUses {
		return false
	}
	if c.ValidFrom != nil && c.ValidFrom.After(at) {
		return false
	}
	if c.ValidUntil != nil && !c.ValidUntil.After(at) {
		return false
	}
	return c.MinOrderAmount <= subtotal
}

func (s *Store) GetOrder(_ context.Context, orderID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *Store) GetOrderItems(_ context.Context, orderID string) ([]models.OrderItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OrderItem(nil), s.items[orderID]...), nil
}

func (s *Store) ListOrdersByUser(_ context.Context, userID string, limit int) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}
	var out []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateOrder(_ context.Context, orderID string, fn store.OrderMutator) (*models.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[orderID]
	if !ok {
		return nil, false, errs.ErrNotFound
	}
	o := *cur
	upd, err := fn(&o)
	if err != nil {
		return nil, false, err
	}
	if upd == nil {
		return &o, false, nil
	}
	if upd.NoPaymentInFlight {
		for _, p := range s.payments {
			if p.OrderID == orderID && !p.Status.IsTerminal() {
				return nil, false, fmt.Errorf("%w: payment %s is still in progress", errs.ErrConflict, p.PaymentID)
			}
		}
	}
	o.UpdatedAt = time.Now().UTC()
	s.orders[orderID] = &o

	if upd.Proof != nil {
		s.proofs[orderID] = append(s.proofs[orderID], *upd.Proof)
	}
	if upd.Accrual != nil {
		s.recordAccrual(upd.Accrual)
	}
	if upd.ReleaseCoupon {
		now := time.Now().UTC()
		for _, r := range s.redemptions {
			if r.OrderID != orderID || r.ReleasedAt != nil {
				continue
			}
			r.ReleasedAt = &now
			if c, ok := s.coupons[r.CouponID]; ok && c.UsedCount > 0 {
				c.UsedCount--
			}
		}
	}
	s.appendEvents(upd.Events)

	out := o
	return &out, true, nil
}

func (s *Store) ListDeliveryProofs(_ context.Context, orderID string) ([]models.DeliveryProof, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.DeliveryProof(nil), s.proofs[orderID]...), nil
}

// Payments

func activePayment(p *models.Payment) bool {
	return p.Status == models.PaymentPending || p.Status == models.PaymentProcessing || p.Status == models.PaymentCompleted
}

func (s *Store) CreatePayment(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[p.OrderID]
	if !ok {
		return errs.ErrNotFound
	}
	if o.Status != models.OrderPending {
		return errs.InvalidTransition(string(o.Status), "payment")
	}
	if _, ok := s.payments[p.PaymentID]; ok {
		return errs.ErrConflict
	}
	for _, existing := range s.payments {
		if existing.OrderID == p.OrderID && activePayment(existing) {
			return errs.ErrConflict
		}
	}
	cp := *p
	cp.UpdatedAt = cp.CreatedAt
	s.payments[p.PaymentID] = &cp
	return nil
}

func (s *Store) GetPayment(_ context.Context, paymentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *Store) GetPaymentByProviderID(_ context.Context, providerPaymentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ProviderPaymentID != nil && *p.ProviderPaymentID == providerPaymentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (s *Store) ListPaymentsByOrder(_ context.Context, orderID string) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListStalePayments(_ context.Context, before time.Time, limit int) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if !p.Status.IsTerminal() && p.UpdatedAt.Before(before) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkPaymentProcessing(_ context.Context, paymentID, providerPaymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok || p.Status != models.PaymentPending {
		return false, nil
	}
	for _, other := range s.payments {
		if other.ProviderPaymentID != nil && *other.ProviderPaymentID == providerPaymentID {
			return false, errs.ErrConflict
		}
	}
	id := providerPaymentID
	p.Status = models.PaymentProcessing
	p.ProviderPaymentID = &id
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *Store) TouchPayment(_ context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[paymentID]; ok && !p.Status.IsTerminal() {
		p.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) FailPayment(_ context.Context, paymentID string, status models.PaymentStatus, reason string, events []models.Event) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentID]
	if !ok || p.Status.IsTerminal() {
		return false, nil
	}
	r := reason
	p.Status = status
	p.FailureReason = &r
	p.UpdatedAt = time.Now().UTC()
	s.appendEvents(events)
	return true, nil
}

func (s *Store) SettlePayment(_ context.Context, st store.Settlement) (*store.SettlementResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[st.PaymentID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	o, ok := s.orders[p.OrderID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	res := &store.SettlementResult{}
	if p.Status.IsTerminal() {
		pc, oc := *p, *o
		res.Payment, res.Order = &pc, &oc
		return res, nil
	}

	now := time.Now().UTC()
	txID, completedAt := st.TransactionID, st.CompletedAt
	p.Status = models.PaymentCompleted
	p.TransactionID = &txID
	p.CompletedAt = &completedAt
	p.UpdatedAt = now

	if o.Status != models.OrderPending {
		res.Conflict = true
		pc, oc := *p, *o
		res.Payment, res.Order = &pc, &oc
		return res, nil
	}

	ref := st.TransactionID
	o.Status = models.OrderConfirmed
	o.PaymentReference = &ref
	o.UpdatedAt = now

	if o.CouponCode != nil {
		if r, ok := s.rewards[*o.CouponCode]; ok && !r.IsUsed {
			orderID, usedAt := o.OrderID, completedAt
			r.IsUsed = true
			r.UsedOrderID = &orderID
			r.UsedAt = &usedAt
		}
	}

	for _, c := range st.Commissions {
		if s.hasCommissionForItem(c.OrderItemID) {
			continue
		}
		cp := c
		s.commissions[c.CommissionID] = &cp
	}
	s.appendEvents(st.Events)

	res.Settled = true
	pc, oc := *p, *o
	res.Payment, res.Order = &pc, &oc
	return res, nil
}

func (s *Store) hasCommissionForItem(itemID string) bool {
	for _, c := range s.commissions {
		if c.OrderItemID == itemID {
			return true
		}
	}
	return false
}

// Coupons and rewards

func (s *Store) CreateCoupon(_ context.Context, c *models.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertCoupon(c)
}

func (s *Store) insertCoupon(c *models.Coupon) error {
	if _, ok := s.couponCodes[c.Code]; ok {
		return errs.ErrConflict
	}
	cp := *c
	s.coupons[c.CouponID] = &cp
	s.couponCodes[c.Code] = c.CouponID
	return nil
}

func (s *Store) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.couponCodes[code]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *s.coupons[id]
	return &cp, nil
}

func (s *Store) SetCouponActive(_ context.Context, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.couponCodes[code]
	if !ok {
		return errs.ErrNotFound
	}
	s.coupons[id].IsActive = active
	return nil
}

func (s *Store) userRewards(userID string, keep func(*models.LoyaltyReward) bool) []models.LoyaltyReward {
	var out []models.LoyaltyReward
	for _, r := range s.rewards {
		if r.UserID == userID && keep(r) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].RewardID > out[j].RewardID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) ListUnusedRewards(_ context.Context, userID string, now time.Time) ([]models.LoyaltyReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userRewards(userID, func(r *models.LoyaltyReward) bool {
		return !r.IsUsed && r.ExpiresAt.After(now)
	}), nil
}

func (s *Store) ListRewards(_ context.Context, userID string) ([]models.LoyaltyReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userRewards(userID, func(*models.LoyaltyReward) bool { return true }), nil
}

func (s *Store) GetRewardByCode(_ context.Context, code string) (*models.LoyaltyReward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rewards[code]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// Loyalty

func (s *Store) GetLoyaltyBalance(_ context.Context, userID string) (*models.LoyaltyBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[userID]; ok {
		cp := *b
		return &cp, nil
	}
	return &models.LoyaltyBalance{UserID: userID}, nil
}

func (s *Store) RedeemPoints(_ context.Context, reward *models.LoyaltyReward, coupon *models.Coupon, events []models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.balances[reward.UserID]
	if !ok || b.Available() < reward.PointsSpent {
		return errs.ErrInsufficientPoints
	}
	if _, ok := s.rewards[reward.CouponCode]; ok {
		return errs.ErrConflict
	}
	if err := s.insertCoupon(coupon); err != nil {
		return err
	}
	b.Spent += reward.PointsSpent
	r := *reward
	r.IsUsed = false
	s.rewards[r.CouponCode] = &r
	s.appendEvents(events)
	return nil
}

func (s *Store) recordAccrual(a *models.LoyaltyAccrual) {
	if _, ok := s.accruals[a.OrderID]; ok {
		return
	}
	s.accruals[a.OrderID] = *a
	b, ok := s.balances[a.UserID]
	if !ok {
		b = &models.LoyaltyBalance{UserID: a.UserID}
		s.balances[a.UserID] = b
	}
	b.Earned += a.Points
	s.appendEvents([]models.Event{models.NewEvent(models.EventPointsAccrued, a.OrderID, a)})
}

func (s *Store) GetAccrual(_ context.Context, orderID string) (*models.LoyaltyAccrual, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accruals[orderID]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return &a, nil
}

// Commissions

func (s *Store) ListCommissions(_ context.Context, f store.CommissionFilter) ([]models.Commission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Commission
	for _, c := range s.commissions {
		if f.VendorID != "" && c.VendorID != f.VendorID {
			continue
		}
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CommissionID < out[j].CommissionID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkCommissionPaid(_ context.Context, commissionID string, paidAt time.Time, events []models.Event) (*models.Commission, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commissions[commissionID]
	if !ok {
		return nil, false, errs.ErrNotFound
	}
	if c.Status == models.CommissionPaid {
		cp := *c
		return &cp, false, nil
	}
	at := paidAt
	c.Status = models.CommissionPaid
	c.PaidAt = &at
	s.appendEvents(events)
	cp := *c
	return &cp, true, nil
}

// Outbox

func (s *Store) FetchPendingEvents(_ context.Context, limit int) ([]models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Event
	for _, ev := range s.events {
		if ev.PublishedAt != nil {
			continue
		}
		out = append(out, *ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkEventsPublished(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for _, ev := range s.events {
		if want[ev.EventID] && ev.PublishedAt == nil {
			t := at
			ev.PublishedAt = &t
		}
	}
	return nil
}
