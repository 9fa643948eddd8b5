package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-orders/internal/apperr"
	"ms-orders/internal/logger"
	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
	"ms-orders/internal/order/db"
	"ms-orders/internal/utils"
)

const (
	maxOrderNumberAttempts = 5
	maxStatusRetries       = 3
	defaultListLimit       = 50
)

// ErrDuplicatePayment is returned by Create when another order already
// carries the same payment intent id.
var ErrDuplicatePayment = errors.New("order already exists for payment intent")

type DBLayer interface {
	InsertOrder(ctx context.Context, order *models.Order) (bool, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*models.Order, error)
	GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error)
	UpdateOrderColumns(ctx context.Context, order *models.Order, columns ...string) error
	UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus, extra models.StatusExtra, now time.Time) (bool, error)
	ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]models.Order, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Order, error)
	RecordEmail(ctx context.Context, id string, emailType models.EmailType, record models.EmailRecord, now time.Time) (*models.Order, error)
	SaveShippingAddress(ctx context.Context, userID string, addr models.Address, now time.Time) error
	ListShippingAddresses(ctx context.Context, userID string) ([]models.ShippingAddress, error)
}

// Ledger is the durable record of orders and the only writer of their status.
type Ledger struct {
	DB     DBLayer
	Logger *logger.Logger
	now    func() time.Time
}

func NewLedger(dbl DBLayer, log *logger.Logger) *Ledger {
	return &Ledger{DB: dbl, Logger: log, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func validateNewOrder(in models.NewOrder) error {
	var missing []string
	if strings.TrimSpace(in.CustomerName) == "" {
		missing = append(missing, "customer_name")
	}
	if strings.TrimSpace(in.Email) == "" {
		missing = append(missing, "email")
	}
	addr := in.ShippingAddress
	for _, f := range []struct{ name, value string }{
		{"shipping_address.line1", addr.Line1},
		{"shipping_address.city", addr.City},
		{"shipping_address.postal_code", addr.PostalCode},
		{"shipping_address.country", addr.Country},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return apperr.Validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	if in.Status != "" && in.Status != models.OrderPending && in.Status != models.OrderConfirmed {
		return apperr.Validation("orders are created as pending or confirmed, not %s", in.Status)
	}
	if in.Pricing.Subtotal < 0 || in.Pricing.Total < 0 {
		return apperr.Validation("order subtotal and total cannot be negative")
	}
	return nil
}

// Create → validate and insert a new order with a fresh order number
func (l *Ledger) Create(ctx context.Context, in models.NewOrder) (*models.Order, error) {
	if err := validateNewOrder(in); err != nil {
		return nil, err
	}

	now := l.now()
	order := &models.Order{
		ID:              uuid.NewString(),
		UserID:          in.UserID,
		Status:          in.Status,
		CustomerName:    strings.TrimSpace(in.CustomerName),
		Email:           strings.ToLower(strings.TrimSpace(in.Email)),
		Phone:           in.Phone,
		CardConfig:      in.CardConfig,
		ShippingAddress: in.ShippingAddress,
		Pricing:         in.Pricing,
		PaymentMethod:   in.PaymentMethod,
		PaymentID:       in.PaymentID,
		VoucherCode:     in.VoucherCode,
		VoucherDiscount: in.VoucherDiscount,
		EmailsSent:      models.EmailsSent{},
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if order.Status == "" {
		order.Status = models.OrderPending
	}

	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		number, err := utils.GenerateOrderNumber(now)
		if err != nil {
			return nil, fmt.Errorf("generate order number: %w", err)
		}
		order.OrderNumber = number

		inserted, err := l.DB.InsertOrder(ctx, order)
		if err != nil {
			return nil, fmt.Errorf("insert order: %w", err)
		}
		if inserted {
			l.Logger.LogOrder("CREATED", order.ID, fmt.Sprintf("%s status=%s total=%d %s", order.OrderNumber, order.Status, order.Pricing.Total, order.Pricing.Currency))
			return order, nil
		}

		if order.PaymentID != "" {
			if _, err := l.DB.GetOrderByPaymentID(ctx, order.PaymentID); err == nil {
				return nil, fmt.Errorf("%w: %w", apperr.ErrConflict, ErrDuplicatePayment)
			} else if !db.IsNotFound(err) {
				return nil, fmt.Errorf("check payment id: %w", err)
			}
		}
		l.Logger.Warn("ORDER", fmt.Sprintf("Order number %s collided, regenerating", number))
	}
	return nil, fmt.Errorf("could not allocate a unique order number after %d attempts", maxOrderNumberAttempts)
}

func (l *Ledger) lookup(ctx context.Context, what, key string, fn func(context.Context, string) (*models.Order, error)) (*models.Order, error) {
	order, err := fn(ctx, key)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("order %s %s", what, key)
		}
		return nil, fmt.Errorf("get order by %s: %w", what, err)
	}
	return order, nil
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.Order, error) {
	return l.lookup(ctx, "id", id, l.DB.GetOrderByID)
}

func (l *Ledger) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	return l.lookup(ctx, "number", strings.ToUpper(strings.TrimSpace(number)), l.DB.GetOrderByNumber)
}

func (l *Ledger) GetByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error) {
	return l.lookup(ctx, "payment intent", intentID, l.DB.GetOrderByPaymentID)
}

func (l *Ledger) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.Order, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return l.DB.ListOrdersByUser(ctx, userID, limit, offset)
}

// ListStalePending → pending orders older than the given age
func (l *Ledger) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return l.DB.ListStalePending(ctx, l.now().Add(-olderThan), limit)
}

// Update → merge the non-nil fields of patch; status and order number are untouchable here
func (l *Ledger) Update(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error) {
	order, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var columns []string
	if patch.CustomerName != nil {
		if strings.TrimSpace(*patch.CustomerName) == "" {
			return nil, apperr.Validation("customer_name cannot be empty")
		}
		order.CustomerName = strings.TrimSpace(*patch.CustomerName)
		columns = append(columns, "customer_name")
	}
	if patch.Email != nil {
		if strings.TrimSpace(*patch.Email) == "" {
			return nil, apperr.Validation("email cannot be empty")
		}
		order.Email = strings.ToLower(strings.TrimSpace(*patch.Email))
		columns = append(columns, "email")
	}
	if patch.Phone != nil {
		order.Phone = *patch.Phone
		columns = append(columns, "phone")
	}
	if patch.CardConfig != nil {
		order.CardConfig = patch.CardConfig
		columns = append(columns, "card_config")
	}
	if patch.ShippingAddress != nil {
		order.ShippingAddress = *patch.ShippingAddress
		columns = append(columns, "shipping_address")
	}
	if patch.PaymentMethod != nil {
		order.PaymentMethod = *patch.PaymentMethod
		columns = append(columns, "payment_method")
	}
	if patch.PaymentID != nil {
		order.PaymentID = *patch.PaymentID
		columns = append(columns, "payment_id")
	}
	if patch.EstimatedDelivery != nil {
		t := patch.EstimatedDelivery.UTC()
		order.EstimatedDelivery = &t
		columns = append(columns, "estimated_delivery")
	}
	if patch.Notes != nil {
		order.Notes = *patch.Notes
		columns = append(columns, "notes")
	}
	if len(columns) == 0 {
		return order, nil
	}

	order.UpdatedAt = l.now()
	if err := l.DB.UpdateOrderColumns(ctx, order, columns...); err != nil {
		return nil, fmt.Errorf("update order %s: %w", id, err)
	}
	return order, nil
}

// UpdateStatus → apply a transition; changed is false when the order already had the status
func (l *Ledger) UpdateStatus(ctx context.Context, id string, to models.OrderStatus, extra models.StatusExtra) (*models.Order, bool, error) {
	for attempt := 0; attempt < maxStatusRetries; attempt++ {
		order, err := l.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if order.Status == to {
			return order, false, nil
		}
		if err := CanTransition(order.Status, to); err != nil {
			return order, false, err
		}

		ok, err := l.DB.UpdateStatus(ctx, id, order.Status, to, extra, l.now())
		if err != nil {
			return nil, false, fmt.Errorf("update status of order %s: %w", id, err)
		}
		if ok {
			updated, err := l.Get(ctx, id)
			if err != nil {
				return nil, false, err
			}
			metrics.OrderTransitionsTotal.WithLabelValues(string(to)).Inc()
			l.Logger.LogOrder("STATUS", id, fmt.Sprintf("%s -> %s", order.Status, to))
			return updated, true, nil
		}
		// Someone else moved the row between our read and write; re-read and re-judge.
	}
	return nil, false, fmt.Errorf("%w: order %s changed concurrently", apperr.ErrConflict, id)
}

// RecordEmail → durably note the outcome of one lifecycle email
func (l *Ledger) RecordEmail(ctx context.Context, id string, emailType models.EmailType, record models.EmailRecord) (*models.Order, error) {
	if !emailType.Valid() {
		return nil, apperr.Validation("unknown email type %q", emailType)
	}
	order, err := l.DB.RecordEmail(ctx, id, emailType, record, l.now())
	if err != nil {
		if db.IsNotFound(err) {
			return nil, apperr.NotFound("order id %s", id)
		}
		return nil, fmt.Errorf("record %s email for order %s: %w", emailType, id, err)
	}
	return order, nil
}

// SaveShippingAddress → remember the order's address on the customer's profile
func (l *Ledger) SaveShippingAddress(ctx context.Context, order *models.Order) error {
	if order.UserID == "" {
		return nil
	}
	return l.DB.SaveShippingAddress(ctx, order.UserID, order.ShippingAddress, l.now())
}

// ShippingAddresses → addresses remembered for a customer, newest first
func (l *Ledger) ShippingAddresses(ctx context.Context, userID string) ([]models.ShippingAddress, error) {
	addrs, err := l.DB.ListShippingAddresses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list shipping addresses for %s: %w", userID, err)
	}
	return addrs, nil
}
