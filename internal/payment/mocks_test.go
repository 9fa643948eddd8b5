package payment_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"ms-orders/internal/models"
	"ms-orders/internal/voucher"
)

// Mock implementations
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentIntent), args.Error(1)
}

func (m *MockGateway) CancelPaymentIntent(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

type MockRedeemer struct {
	mock.Mock
}

func (m *MockRedeemer) RecordRedemption(ctx context.Context, r voucher.Redemption) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

// countingNotifier records which orders received lifecycle emails.
type countingNotifier struct {
	mu     sync.Mutex
	orders []string
}

func (n *countingNotifier) SendLifecycleEmails(_ context.Context, order *models.Order) models.EmailsSent {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, order.ID)
	return models.EmailsSent{
		models.EmailConfirmation: {Sent: true, Attempts: 1},
		models.EmailReceipt:      {Sent: true, Attempts: 1},
	}
}

func (n *countingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.orders)
}

type recordingEvents struct {
	mu       sync.Mutex
	orders   []models.OrderEvent
	payments []models.PaymentEvent
}

func (r *recordingEvents) PublishOrderEvent(_ context.Context, event models.OrderEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orders = append(r.orders, event)
	return nil
}

func (r *recordingEvents) PublishPaymentEvent(_ context.Context, event models.PaymentEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments = append(r.payments, event)
	return nil
}
