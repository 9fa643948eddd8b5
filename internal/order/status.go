package order

import (
	"ms-orders/internal/apperr"
	"ms-orders/internal/models"
)

// forward lists the single legal successor of every non-terminal status.
// cancelled is reachable from any of them.
var forward = map[models.OrderStatus]models.OrderStatus{
	models.OrderPending:    models.OrderConfirmed,
	models.OrderConfirmed:  models.OrderProduction,
	models.OrderProduction: models.OrderShipped,
	models.OrderShipped:    models.OrderDelivered,
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s models.OrderStatus) bool {
	return s == models.OrderDelivered || s == models.OrderCancelled
}

// CanTransition → nil when from -> to is a legal step, a TransitionError otherwise
func CanTransition(from, to models.OrderStatus) error {
	if !to.Valid() {
		return apperr.Validation("unknown order status %q", to)
	}
	if IsTerminal(from) {
		return &apperr.TransitionError{From: string(from), To: string(to)}
	}
	if to == models.OrderCancelled || forward[from] == to {
		return nil
	}
	return &apperr.TransitionError{From: string(from), To: string(to)}
}

// StatusEmail returns the lifecycle email sent when an order enters s.
func StatusEmail(s models.OrderStatus) (models.EmailType, bool) {
	switch s {
	case models.OrderProduction:
		return models.EmailProduction, true
	case models.OrderShipped:
		return models.EmailShipped, true
	case models.OrderDelivered:
		return models.EmailDelivered, true
	}
	return "", false
}
