package services

import (
	"context"
	"fmt"

	"OrderSettlement/internal/errs"
	"OrderSettlement/internal/models"
	"OrderSettlement/internal/store"

	"github.com/google/uuid"
)

// Assign hands a confirmed order to a delivery agent and ships it.
func (s OrderService) Assign(ctx context.Context, actor Actor, orderID, deliveryUserID string) (*models.Order, error) {
	if !actor.IsAdmin() {
		return nil, errs.ErrForbidden
	}
	if deliveryUserID == "" {
		return nil, errs.Validation("delivery user id is required")
	}
	order, _, err := s.Store.UpdateOrder(ctx, orderID, func(o *models.Order) (*store.OrderUpdate, error) {
		if o.Status != models.OrderConfirmed {
			return nil, errs.InvalidTransition(string(o.Status), string(models.OrderShipped))
		}
		if o.DeliveryUserID != nil {
			return nil, fmt.Errorf("%w: order already assigned to %s", errs.ErrInvalidTransition, *o.DeliveryUserID)
		}
		agent := deliveryUserID
		o.DeliveryUserID = &agent
		o.Status = models.OrderShipped
		return &store.OrderUpdate{Events: []models.Event{
			models.NewEvent(models.EventDeliveryAssigned, o.OrderID, map[string]any{
				"order_id":         o.OrderID,
				"delivery_user_id": agent,
			}),
		}}, nil
	})
	if err != nil {
		s.logRejected(err, orderID, models.OrderShipped, actor)
		return nil, err
	}
	s.log().Info("delivery assigned", "order_id", orderID, "delivery_user_id", deliveryUserID)
	return order, nil
}

type ProofInput struct {
	Type         models.ProofType
	PhotoURL     string
	SignatureURL string
	Latitude     *float64
	Longitude    *float64
	Note         string
}

// RecordProof appends a proof of pickup or delivery. The first proof of each
// kind stamps the matching delivery milestone; later ones are kept as extra
// evidence.
func (s OrderService) RecordProof(ctx context.Context, actor Actor, orderID string, in ProofInput) (*models.Order, *models.DeliveryProof, error) {
	if in.Type != models.ProofPickup && in.Type != models.ProofDelivered {
		return nil, nil, errs.Validation("proof type must be pickup or delivered")
	}
	if in.Type == models.ProofDelivered && in.PhotoURL == "" && in.SignatureURL == "" {
		return nil, nil, errs.Validation("delivery proof needs a photo or a signature")
	}

	var proof *models.DeliveryProof
	order, _, err := s.Store.UpdateOrder(ctx, orderID, func(o *models.Order) (*store.OrderUpdate, error) {
		if !actor.assignedTo(o) {
			return nil, errs.ErrForbidden
		}
		if o.Status != models.OrderShipped {
			return nil, fmt.Errorf("%w: proofs are recorded on shipped orders, order is %s", errs.ErrInvalidTransition, o.Status)
		}
		now := s.now()
		switch in.Type {
		case models.ProofPickup:
			if o.DeliveryReceivedAt == nil {
				o.DeliveryReceivedAt = &now
			}
		case models.ProofDelivered:
			if o.DeliveryReceivedAt == nil {
				o.DeliveryReceivedAt = &now
			}
			if o.DeliveryDeliveredAt == nil {
				o.DeliveryDeliveredAt = &now
			}
		}
		proof = &models.DeliveryProof{
			ProofID:        uuid.NewString(),
			OrderID:        o.OrderID,
			DeliveryUserID: *o.DeliveryUserID,
			ProofType:      in.Type,
			PhotoURL:       in.PhotoURL,
			SignatureURL:   in.SignatureURL,
			Latitude:       in.Latitude,
			Longitude:      in.Longitude,
			Note:           in.Note,
			CreatedAt:      now,
		}
		return &store.OrderUpdate{
			Proof: proof,
			Events: []models.Event{models.NewEvent(models.EventDeliveryProofRecorded, o.OrderID, map[string]any{
				"order_id":   o.OrderID,
				"proof_id":   proof.ProofID,
				"proof_type": in.Type,
			})},
		}, nil
	})
	if err != nil {
		s.logRejected(err, orderID, models.OrderShipped, actor)
		return nil, nil, err
	}
	s.log().Info("delivery proof recorded", "order_id", orderID, "proof_type", in.Type, "proof_id", proof.ProofID)
	return order, proof, nil
}

// ConfirmDelivery is the customer's acknowledgement. It finalizes the order as
// delivered and credits loyalty points. Confirming an already confirmed order
// returns it unchanged.
func (s OrderService) ConfirmDelivery(ctx context.Context, actor Actor, orderID string) (*models.Order, error) {
	order, changed, err := s.Store.UpdateOrder(ctx, orderID, func(o *models.Order) (*store.OrderUpdate, error) {
		if !actor.owns(o) {
			return nil, errs.ErrForbidden
		}
		if o.CustomerConfirmedAt != nil {
			return nil, nil
		}
		if o.Status != models.OrderShipped && o.Status != models.OrderDelivered {
			return nil, errs.InvalidTransition(string(o.Status), string(models.OrderDelivered))
		}
		if o.DeliveryDeliveredAt == nil {
			return nil, fmt.Errorf("%w: order has not been delivered yet", errs.ErrInvalidTransition)
		}
		now := s.now()
		o.CustomerConfirmedAt = &now
		o.Status = models.OrderDelivered
		return &store.OrderUpdate{
			Accrual: s.accrualFor(o),
			Events: []models.Event{models.NewEvent(models.EventDeliveryConfirmed, o.OrderID, map[string]any{
				"order_id":     o.OrderID,
				"user_id":      o.UserID,
				"confirmed_at": now,
			})},
		}, nil
	})
	if err != nil {
		s.logRejected(err, orderID, models.OrderDelivered, actor)
		return nil, err
	}
	if changed {
		s.log().Info("delivery confirmed", "order_id", orderID, "user_id", order.UserID)
	}
	return order, nil
}
