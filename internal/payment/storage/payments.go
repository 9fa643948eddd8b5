package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"

	"ms-orders/internal/logger"
	"ms-orders/internal/models"
)

// PaymentStore keeps payment records in the relational store through bun.
type PaymentStore struct {
	db  *bun.DB
	log *logger.Logger
}

func NewPaymentStore(db *bun.DB, log *logger.Logger) *PaymentStore {
	return &PaymentStore{db: db, log: log}
}

// SavePayment saves a payment to the database
func (s *PaymentStore) SavePayment(ctx context.Context, payment *models.Payment) (bool, error) {
	res, err := s.db.NewInsert().
		Model(payment).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		s.log.Error("DATABASE", fmt.Sprintf("Failed to save payment %s: %v", payment.ID, err))
		return false, fmt.Errorf("failed to save payment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		s.log.LogDatabase("SKIP", "payments", fmt.Sprintf("Succeeded payment for intent %s already recorded", payment.PaymentIntentID))
		return false, nil
	}
	s.log.LogDatabase("INSERT", "payments", fmt.Sprintf("Payment %s (%s) saved for order %q", payment.ID, payment.Status, payment.OrderID))
	return true, nil
}

// GetSucceededByIntent returns sql.ErrNoRows when the intent has no succeeded payment.
func (s *PaymentStore) GetSucceededByIntent(ctx context.Context, intentID string) (*models.Payment, error) {
	payment := new(models.Payment)
	err := s.db.NewSelect().
		Model(payment).
		Where("payment_intent_id = ?", intentID).
		Where("status = ?", models.PaymentSucceeded).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// ListPaymentsByOrder retrieves payments for a specific order
func (s *PaymentStore) ListPaymentsByOrder(ctx context.Context, orderID string) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.NewSelect().
		Model(&payments).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	return payments, nil
}

func (s *PaymentStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
