package storage

import (
	"context"

	"ms-orders/internal/models"
)

type Store interface {
	// SavePayment inserts an append-only payment row. inserted is false when
	// a succeeded payment for the same intent already exists.
	SavePayment(ctx context.Context, payment *models.Payment) (inserted bool, err error)
	GetSucceededByIntent(ctx context.Context, intentID string) (*models.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error)

	HealthCheck(ctx context.Context) error
}
