package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ms-orders/internal/apperr"
	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/voucher"
)

const (
	maxLineItems = 50
	maxItemQty   = 100
	janitorBatch = 100

	// maxUnitPrice keeps maxLineItems*maxItemQty*maxUnitPrice well inside int64.
	maxUnitPrice int64 = 100_000_000
	maxSubtotal  int64 = 1_000_000_000
)

type VoucherValidator interface {
	Validate(ctx context.Context, code string, orderAmount int64, userEmail string) (*voucher.Result, error)
}

type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req models.IntentRequest) (*models.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
}

// Confirmer finalizes zero-total orders without a processor round trip.
type Confirmer interface {
	ConfirmFree(ctx context.Context, orderID string) (*models.Order, error)
}

type IdempotencyStore interface {
	Reserve(ctx context.Context, scope, key string) (orderID string, reserved bool, err error)
	Complete(ctx context.Context, scope, key, orderID string) error
	Release(ctx context.Context, scope, key string) error
}

type KafkaPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
}

type Broadcaster interface {
	Broadcast(event models.OrderEvent)
}

type StatusNotifier interface {
	SendStatusEmail(ctx context.Context, order *models.Order, emailType models.EmailType) models.EmailRecord
}

type OrderService struct {
	Ledger   *Ledger
	Vouchers VoucherValidator
	Payments PaymentGateway
	Config   config.CheckoutConfig
	Currency string
	Logger   *logger.Logger

	// Optional collaborators; nil disables the feature.
	Confirmer   Confirmer
	Idempotency IdempotencyStore
	Kafka       KafkaPublisher
	Events      Broadcaster
	Notifier    StatusNotifier
}

func NewOrderService(ledger *Ledger, vouchers VoucherValidator, payments PaymentGateway, cfg config.CheckoutConfig, currency string, log *logger.Logger) *OrderService {
	if currency == "" {
		currency = "usd"
	}
	return &OrderService{
		Ledger:   ledger,
		Vouchers: vouchers,
		Payments: payments,
		Config:   cfg,
		Currency: currency,
		Logger:   log,
	}
}

// ---------------- CHECKOUT ----------------

type LineItem struct {
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

type CheckoutRequest struct {
	CustomerName    string                 `json:"customer_name"`
	Email           string                 `json:"email"`
	Phone           string                 `json:"phone,omitempty"`
	ShippingAddress models.Address         `json:"shipping_address"`
	CardConfig      map[string]interface{} `json:"card_config,omitempty"`
	Items           []LineItem             `json:"items"`
	VoucherCode     string                 `json:"voucher_code,omitempty"`
	Notes           string                 `json:"notes,omitempty"`
}

type CheckoutResult struct {
	Order           *models.Order   `json:"order"`
	ClientSecret    string          `json:"client_secret,omitempty"`
	PaymentIntentID string          `json:"payment_intent_id,omitempty"`
	Voucher         *voucher.Result `json:"voucher,omitempty"`
	Replayed        bool            `json:"replayed,omitempty"`
}

func subtotalOf(items []LineItem) (int64, error) {
	if len(items) == 0 {
		return 0, apperr.Validation("at least one item is required")
	}
	if len(items) > maxLineItems {
		return 0, apperr.Validation("at most %d items per order", maxLineItems)
	}
	var subtotal int64
	for i, it := range items {
		if it.Quantity < 1 || it.Quantity > maxItemQty {
			return 0, apperr.Validation("items[%d].quantity must be between 1 and %d", i, maxItemQty)
		}
		if it.UnitPrice < 0 || it.UnitPrice > maxUnitPrice {
			return 0, apperr.Validation("items[%d].unit_price must be between 0 and %d", i, maxUnitPrice)
		}
		subtotal += int64(it.Quantity) * it.UnitPrice
	}
	if subtotal > maxSubtotal {
		return 0, apperr.Validation("order subtotal cannot exceed %d", maxSubtotal)
	}
	return subtotal, nil
}

// Price → pricing for a subtotal after a voucher discount, with flat shipping and tax in basis points
func (s *OrderService) Price(subtotal, discount int64) models.Pricing {
	taxable := subtotal - discount
	if taxable < 0 {
		taxable = 0
	}
	tax := decimal.NewFromInt(taxable).
		Mul(decimal.NewFromInt(s.Config.TaxRateBasisPts)).
		Div(decimal.NewFromInt(10000)).
		Round(0).
		IntPart()

	return models.Pricing{
		Subtotal: subtotal,
		Shipping: s.Config.ShippingFee,
		Tax:      tax,
		Total:    taxable + tax + s.Config.ShippingFee,
		Currency: s.Currency,
	}
}

// Checkout → price the cart, create the pending order and its payment intent
func (s *OrderService) Checkout(ctx context.Context, sess *models.Session, req CheckoutRequest, idemKey string) (res *CheckoutResult, err error) {
	if sess == nil {
		return nil, apperr.ErrUnauthorized
	}
	subtotal, err := subtotalOf(req.Items)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Email) == "" {
		req.Email = sess.Email
	}

	idemKey = strings.TrimSpace(idemKey)
	if idemKey != "" && s.Idempotency != nil {
		existingID, reserved, rErr := s.Idempotency.Reserve(ctx, sess.UserID, idemKey)
		if rErr != nil {
			// Redis trouble must not block checkout; proceed without replay protection.
			s.Logger.Warn("ORDER", fmt.Sprintf("Idempotency store unavailable: %v", rErr))
		} else if !reserved {
			if existingID == "" {
				return nil, fmt.Errorf("%w: a checkout with this Idempotency-Key is in progress", apperr.ErrConflict)
			}
			return s.replay(ctx, existingID)
		} else {
			defer func() {
				if err != nil {
					if relErr := s.Idempotency.Release(context.WithoutCancel(ctx), sess.UserID, idemKey); relErr != nil {
						s.Logger.Warn("ORDER", fmt.Sprintf("Failed to release idempotency key: %v", relErr))
					}
					return
				}
				if cErr := s.Idempotency.Complete(context.WithoutCancel(ctx), sess.UserID, idemKey, res.Order.ID); cErr != nil {
					s.Logger.Warn("ORDER", fmt.Sprintf("Failed to bind idempotency key to order %s: %v", res.Order.ID, cErr))
				}
			}()
		}
	}

	var (
		discount int64
		vres     *voucher.Result
	)
	if code := voucher.NormalizeCode(req.VoucherCode); code != "" {
		vres, err = s.Vouchers.Validate(ctx, code, subtotal, req.Email)
		if err != nil {
			return nil, err
		}
		if !vres.Valid {
			return nil, apperr.Validation("voucher %s: %s", code, vres.Reason)
		}
		discount = vres.DiscountAmount
		req.VoucherCode = code
	}

	cardConfig := make(map[string]interface{}, len(req.CardConfig)+1)
	for k, v := range req.CardConfig {
		cardConfig[k] = v
	}
	cardConfig["items"] = req.Items

	order, err := s.Ledger.Create(ctx, models.NewOrder{
		UserID:          sess.UserID,
		Status:          models.OrderPending,
		CustomerName:    req.CustomerName,
		Email:           req.Email,
		Phone:           req.Phone,
		CardConfig:      cardConfig,
		ShippingAddress: req.ShippingAddress,
		Pricing:         s.Price(subtotal, discount),
		VoucherCode:     req.VoucherCode,
		VoucherDiscount: discount,
		Notes:           req.Notes,
	})
	if err != nil {
		return nil, err
	}

	if order.Pricing.Total == 0 {
		if s.Confirmer == nil {
			return nil, errors.New("free order confirmation is not configured")
		}
		confirmed, err := s.Confirmer.ConfirmFree(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("confirm free order %s: %w", order.ID, err)
		}
		return &CheckoutResult{Order: confirmed, Voucher: vres}, nil
	}

	pi, err := s.Payments.CreatePaymentIntent(ctx, models.IntentRequest{
		Amount:         order.Pricing.Total,
		Currency:       order.Pricing.Currency,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		Email:          order.Email,
		IdempotencyKey: "checkout-" + order.ID,
		Metadata: map[string]string{
			"user_id":      order.UserID,
			"voucher_code": order.VoucherCode,
		},
	})
	if err != nil {
		s.Logger.LogPayment("INTENT_FAILED", order.ID, err.Error())
		if _, _, cErr := s.Ledger.UpdateStatus(context.WithoutCancel(ctx), order.ID, models.OrderCancelled, models.StatusExtra{Note: "payment intent creation failed"}); cErr != nil {
			s.Logger.Error("ORDER", fmt.Sprintf("Failed to cancel order %s after intent failure: %v", order.ID, cErr))
		}
		return nil, apperr.External("stripe", err)
	}

	order, err = s.Ledger.Update(ctx, order.ID, models.OrderPatch{PaymentID: &pi.ID})
	if err != nil {
		return nil, fmt.Errorf("attach payment intent %s: %w", pi.ID, err)
	}

	s.publish(ctx, "order.created", order, "")
	return &CheckoutResult{
		Order:           order,
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
		Voucher:         vres,
	}, nil
}

// replay answers a repeated checkout with the order the first attempt created.
func (s *OrderService) replay(ctx context.Context, orderID string) (*CheckoutResult, error) {
	order, err := s.Ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	res := &CheckoutResult{Order: order, PaymentIntentID: order.PaymentID, Replayed: true}
	if order.Status == models.OrderPending && order.PaymentID != "" {
		pi, err := s.Payments.GetPaymentIntent(ctx, order.PaymentID)
		if err != nil {
			return nil, apperr.External("stripe", err)
		}
		res.ClientSecret = pi.ClientSecret
	}
	return res, nil
}

// ---------------- READS ----------------

// CanView reports whether the session may see the order.
func CanView(sess *models.Session, order *models.Order) bool {
	switch {
	case sess == nil || order == nil:
		return false
	case sess.IsAdmin():
		return true
	case order.UserID != "":
		return order.UserID == sess.UserID
	default:
		return sess.Email != "" && strings.EqualFold(order.Email, sess.Email)
	}
}

// GetForSession → fetch an order the caller may view; others' orders look missing
func (s *OrderService) GetForSession(ctx context.Context, sess *models.Session, id string) (*models.Order, error) {
	order, err := s.Ledger.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(sess, order) {
		return nil, apperr.NotFound("order id %s", id)
	}
	return order, nil
}

func (s *OrderService) GetByNumberForSession(ctx context.Context, sess *models.Session, number string) (*models.Order, error) {
	order, err := s.Ledger.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if !CanView(sess, order) {
		return nil, apperr.NotFound("order number %s", number)
	}
	return order, nil
}

func (s *OrderService) ListForSession(ctx context.Context, sess *models.Session, limit, offset int) ([]models.Order, error) {
	return s.Ledger.ListByUser(ctx, sess.UserID, limit, offset)
}

// ---------------- STATUS ----------------

// AdvanceStatus → move an order along the fulfillment lifecycle on behalf of actor
func (s *OrderService) AdvanceStatus(ctx context.Context, id string, to models.OrderStatus, extra models.StatusExtra, actor string) (*models.Order, bool, error) {
	if to == models.OrderConfirmed || to == models.OrderPending {
		return nil, false, apperr.Validation("orders become %s through payment, not manually", to)
	}

	current, err := s.Ledger.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if to == models.OrderCancelled && current.Status == models.OrderPending && current.PaymentID != "" {
		if err := s.Payments.CancelPaymentIntent(ctx, current.PaymentID); err != nil {
			return nil, false, apperr.External("stripe", err)
		}
	}

	order, changed, err := s.Ledger.UpdateStatus(ctx, id, to, extra)
	if err != nil {
		return nil, false, err
	}
	if !changed {
		return order, false, nil
	}

	s.Logger.LogOrder("ADVANCED", order.ID, fmt.Sprintf("%s -> %s by %s", current.Status, to, actor))
	if emailType, ok := StatusEmail(to); ok && s.Notifier != nil {
		s.Notifier.SendStatusEmail(ctx, order, emailType)
	}
	s.publish(ctx, "order.status_changed", order, current.Status)
	return order, true, nil
}

// ApplyFulfillmentUpdate → apply a status report consumed from the fulfillment topic
func (s *OrderService) ApplyFulfillmentUpdate(ctx context.Context, u models.FulfillmentUpdate) error {
	_, _, err := s.AdvanceStatus(ctx, u.OrderID, u.Status, models.StatusExtra{
		TrackingNumber:    u.TrackingNumber,
		TrackingURL:       u.TrackingURL,
		EstimatedDelivery: u.EstimatedDelivery,
		Note:              u.Note,
	}, "fulfillment")
	return err
}

// ExpireStalePending → cancel pending orders nobody paid for; the intent is cancelled first
func (s *OrderService) ExpireStalePending(ctx context.Context, olderThan time.Duration) (int, error) {
	stale, err := s.Ledger.ListStalePending(ctx, olderThan, janitorBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale pending orders: %w", err)
	}

	expired := 0
	for i := range stale {
		o := &stale[i]
		if o.PaymentID != "" {
			pi, err := s.Payments.GetPaymentIntent(ctx, o.PaymentID)
			if err != nil {
				s.Logger.Warn("JANITOR", fmt.Sprintf("Skipping order %s, cannot read intent %s: %v", o.ID, o.PaymentID, err))
				continue
			}
			if pi.Status == models.IntentSucceeded || pi.Status == models.IntentProcessing {
				s.Logger.Warn("JANITOR", fmt.Sprintf("Order %s intent is %s, leaving it for reconciliation", o.ID, pi.Status))
				continue
			}
			if pi.Status != models.IntentCanceled {
				if err := s.Payments.CancelPaymentIntent(ctx, o.PaymentID); err != nil {
					s.Logger.Warn("JANITOR", fmt.Sprintf("Skipping order %s, cannot cancel intent %s: %v", o.ID, o.PaymentID, err))
					continue
				}
			}
		}

		updated, changed, err := s.Ledger.UpdateStatus(ctx, o.ID, models.OrderCancelled, models.StatusExtra{
			Note: fmt.Sprintf("expired: no payment within %s", olderThan),
		})
		if err != nil {
			s.Logger.Warn("JANITOR", fmt.Sprintf("Could not cancel order %s: %v", o.ID, err))
			continue
		}
		if changed {
			expired++
			s.publish(ctx, "order.expired", updated, models.OrderPending)
		}
	}

	if expired > 0 {
		s.Logger.Info("JANITOR", fmt.Sprintf("Expired %d stale pending orders", expired))
	}
	return expired, nil
}

// RunJanitor expires stale pending orders every interval until ctx is done.
func (s *OrderService) RunJanitor(ctx context.Context, interval, olderThan time.Duration) {
	if interval <= 0 || olderThan <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStalePending(ctx, olderThan); err != nil {
				s.Logger.Error("JANITOR", err.Error())
			}
		}
	}
}

// ---------------- EVENTS ----------------

func NewEvent(eventType string, order *models.Order, previous models.OrderStatus) models.OrderEvent {
	return models.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Previous:    previous,
		Total:       order.Pricing.Total,
		Currency:    order.Pricing.Currency,
		Timestamp:   order.UpdatedAt,
	}
}

func (s *OrderService) publish(ctx context.Context, eventType string, order *models.Order, previous models.OrderStatus) {
	event := NewEvent(eventType, order, previous)
	if s.Kafka != nil {
		if err := s.Kafka.PublishOrderEvent(ctx, event); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Publish %s for order %s failed: %v", eventType, order.ID, err))
		}
	}
	if s.Events != nil {
		s.Events.Broadcast(event)
	}
}
