package services

import (
	"context"
	"errors"
	"fmt"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/store"
)

// Transition moves an order along the coarse state machine. Confirmation is
// owned by settlement and is not reachable from here.
func (s OrderService) Transition(ctx context.Context, actor Actor, orderID string, to models.OrderStatus) (*models.Order, error) {
	if !to.Valid() {
		return nil, errs.Validation("unknown order status %q", to)
	}
	if to == models.OrderCancelled {
		return s.Cancel(ctx, actor, orderID, "")
	}

	order, _, err := s.Store.UpdateOrder(ctx, orderID, func(o *models.Order) (*store.OrderUpdate, error) {
		if err := s.checkTransition(actor, o, to); err != nil {
			return nil, err
		}
		now := s.now()
		o.Status = to
		upd := &store.OrderUpdate{}
		switch to {
		case models.OrderShipped:
			upd.Events = append(upd.Events, models.NewEvent(models.EventOrderShipped, o.OrderID, map[string]any{
				"order_id": o.OrderID,
				"by":       actor.UserID,
			}))
		case models.OrderDelivered:
			upd.Accrual = s.accrualFor(o)
			upd.Events = append(upd.Events, models.NewEvent(models.EventDeliveryConfirmed, o.OrderID, map[string]any{
				"order_id":     o.OrderID,
				"by":           actor.UserID,
				"delivered_at": o.DeliveryDeliveredAt,
				"at":           now,
			}))
		}
		return upd, nil
	})
	if err != nil {
		s.logRejected(err, orderID, to, actor)
		return nil, err
	}
	s.log().Info("order status changed", "order_id", orderID, "status", to, "actor", actor.UserID)
	return order, nil
}

func (s OrderService) checkTransition(actor Actor, o *models.Order, to models.OrderStatus) error {
	if !models.CanTransition(o.Status, to) {
		return errs.InvalidTransition(string(o.Status), string(to))
	}
	switch to {
	case models.OrderConfirmed:
		return fmt.Errorf("%w: orders are confirmed by payment settlement", errs.ErrInvalidTransition)
	case models.OrderShipped:
		if !actor.IsAdmin() {
			return errs.ErrForbidden
		}
	case models.OrderDelivered:
		if !actor.assignedTo(o) {
			return errs.ErrForbidden
		}
		if o.DeliveryDeliveredAt == nil {
			return fmt.Errorf("%w: no delivery proof recorded", errs.ErrInvalidTransition)
		}
	}
	return nil
}

// Cancel cancels a non-terminal order. A pending order with a payment still in
// flight is rejected with errs.ErrConflict. Cancelling before shipment releases
// the order's coupon usage.
func (s OrderService) Cancel(ctx context.Context, actor Actor, orderID, reason string) (*models.Order, error) {
	order, _, err := s.Store.UpdateOrder(ctx, orderID, func(o *models.Order) (*store.OrderUpdate, error) {
		if !actor.owns(o) {
			return nil, errs.ErrForbidden
		}
		if !models.CanTransition(o.Status, models.OrderCancelled) {
			return nil, errs.InvalidTransition(string(o.Status), string(models.OrderCancelled))
		}
		if o.Status == models.OrderShipped && !actor.IsAdmin() {
			return nil, errs.ErrForbidden
		}
		release := o.Status == models.OrderPending || o.Status == models.OrderConfirmed
		prev := o.Status
		o.Status = models.OrderCancelled
		return &store.OrderUpdate{
			ReleaseCoupon:     release && o.CouponCode != nil,
			NoPaymentInFlight: prev == models.OrderPending,
			Events: []models.Event{models.NewEvent(models.EventOrderCancelled, o.OrderID, map[string]any{
				"order_id": o.OrderID,
				"from":     prev,
				"by":       actor.UserID,
				"reason":   reason,
			})},
		}, nil
	})
	if err != nil {
		s.logRejected(err, orderID, models.OrderCancelled, actor)
		return nil, err
	}
	s.log().Info("order cancelled", "order_id", orderID, "actor", actor.UserID, "reason", reason)
	return order, nil
}

func (s OrderService) accrualFor(o *models.Order) *models.LoyaltyAccrual {
	if s.Loyalty == nil {
		return nil
	}
	return s.Loyalty.AccrualFor(o)
}

func (s OrderService) logRejected(err error, orderID string, to models.OrderStatus, actor Actor) {
	if errors.Is(err, errs.ErrInvalidTransition) {
		s.log().Warn("invalid order transition", "order_id", orderID, "to", to, "actor", actor.UserID, "err", err)
	}
}
