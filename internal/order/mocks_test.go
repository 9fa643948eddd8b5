package order_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"ms-orders/internal/models"
	"ms-orders/internal/voucher"
)

// Mock implementations
type MockVouchers struct {
	mock.Mock
}

func (m *MockVouchers) Validate(ctx context.Context, code string, amount int64, email string) (*voucher.Result, error) {
	args := m.Called(ctx, code, amount, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*voucher.Result), args.Error(1)
}

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreatePaymentIntent(ctx context.Context, req models.IntentRequest) (*models.PaymentIntent, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PaymentIntent), args.Error(1)
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

type MockConfirmer struct {
	mock.Mock
}

func (m *MockConfirmer) ConfirmFree(ctx context.Context, orderID string) (*models.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendStatusEmail(ctx context.Context, o *models.Order, emailType models.EmailType) models.EmailRecord {
	args := m.Called(ctx, o, emailType)
	return args.Get(0).(models.EmailRecord)
}

// recordingPublisher collects events for both the Kafka and SSE seams.
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.OrderEvent
}

func (p *recordingPublisher) PublishOrderEvent(_ context.Context, e models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Broadcast(e models.OrderEvent) {
	_ = p.PublishOrderEvent(context.Background(), e)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}
