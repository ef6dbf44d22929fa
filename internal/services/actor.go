package services

import "OrderSettlement/internal/models"

type Role string

const (
	RoleCustomer Role = "customer"
	RoleDelivery Role = "delivery"
	RoleAdmin    Role = "admin"
)

func ParseRole(v string) (Role, bool) {
	switch r := Role(v); r {
	case RoleCustomer, RoleDelivery, RoleAdmin:
		return r, true
	case "":
		return RoleCustomer, true
	}
	return "", false
}

// Actor is the authenticated caller of an order operation.
type Actor struct {
	UserID string
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

func (a Actor) owns(o *models.Order) bool {
	return a.IsAdmin() || o.UserID == a.UserID
}

func (a Actor) assignedTo(o *models.Order) bool {
	return a.IsAdmin() || (a.Role == RoleDelivery && o.DeliveryUserID != nil && *o.DeliveryUserID == a.UserID)
}

func (a Actor) canView(o *models.Order) bool {
	return a.owns(o) || a.assignedTo(o)
}
