package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-orders/internal/apperr"
	"ms-orders/internal/logger"
	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
	"ms-orders/internal/payment/storage"
	"ms-orders/internal/voucher"
)

// ErrPaymentNotComplete is returned to a client that confirms before the
// processor has captured the payment.
var ErrPaymentNotComplete = errors.New("payment not completed")

type OrderLedger interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	GetByPaymentIntent(ctx context.Context, intentID string) (*models.Order, error)
	Create(ctx context.Context, in models.NewOrder) (*models.Order, error)
	Update(ctx context.Context, id string, patch models.OrderPatch) (*models.Order, error)
	UpdateStatus(ctx context.Context, id string, to models.OrderStatus, extra models.StatusExtra) (*models.Order, bool, error)
	SaveShippingAddress(ctx context.Context, order *models.Order) error
}

type Gateway interface {
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	CancelPaymentIntent(ctx context.Context, id string) error
}

type VoucherRedeemer interface {
	RecordRedemption(ctx context.Context, r voucher.Redemption) error
}

type LifecycleNotifier interface {
	SendLifecycleEmails(ctx context.Context, order *models.Order) models.EmailsSent
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event models.OrderEvent) error
	PublishPaymentEvent(ctx context.Context, event models.PaymentEvent) error
}

type Broadcaster interface {
	Broadcast(event models.OrderEvent)
}

// Result is the state a finalization event left behind.
type Result struct {
	Order   *models.Order   `json:"order,omitempty"`
	Payment *models.Payment `json:"payment,omitempty"`
	// Changed is true only for the call that moved the order into confirmed
	// (or created it confirmed). Side effects run for that call alone.
	Changed bool `json:"changed"`
	// IntentStatus is set when a client confirmation arrives while the
	// intent is still processing.
	IntentStatus string `json:"intent_status,omitempty"`
}

// Reconciler is the single place where payment outcomes reach the order ledger.
type Reconciler struct {
	Ledger   OrderLedger
	Payments storage.Store
	Gateway  Gateway
	Vouchers VoucherRedeemer
	Logger   *logger.Logger

	// Optional collaborators.
	Notifier LifecycleNotifier
	Kafka    EventPublisher
	Events   Broadcaster
}

func NewReconciler(ledger OrderLedger, payments storage.Store, gateway Gateway, vouchers VoucherRedeemer, log *logger.Logger) *Reconciler {
	return &Reconciler{
		Ledger:   ledger,
		Payments: payments,
		Gateway:  gateway,
		Vouchers: vouchers,
		Logger:   log,
	}
}

// Reconcile → dispatch one finalization event
func (r *Reconciler) Reconcile(ctx context.Context, ev Event) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch e := ev.(type) {
	case ClientConfirmed:
		res, err = r.confirmFromClient(ctx, e)
	case WebhookConfirmed:
		res, err = r.RecordSuccess(ctx, e.Source(), "", e.Intent)
	case WebhookFailed:
		res, err = r.RecordFailure(ctx, e.Intent)
	default:
		return nil, fmt.Errorf("unknown finalization event %T", ev)
	}

	metrics.OrderFinalizationsTotal.WithLabelValues(ev.Source(), outcome(ev, res, err)).Inc()
	return res, err
}

func outcome(ev Event, res *Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case res == nil:
		return "ignored"
	case res.IntentStatus != "":
		return "processing"
	}
	if _, failed := ev.(WebhookFailed); failed {
		return "failed"
	}
	if res.Changed {
		return "confirmed"
	}
	return "noop"
}

// confirmFromClient trusts the client only after the processor reports the
// intent succeeded for this very order.
func (r *Reconciler) confirmFromClient(ctx context.Context, e ClientConfirmed) (*Result, error) {
	order, err := r.Ledger.Get(ctx, e.OrderID)
	if err != nil {
		return nil, err
	}

	intentID := e.PaymentIntentID
	if intentID == "" {
		intentID = order.PaymentID
	}
	if intentID == "" {
		if order.Status != models.OrderPending {
			return &Result{Order: order}, nil
		}
		return nil, apperr.Validation("order %s has no payment intent", order.OrderNumber)
	}

	pi, err := r.Gateway.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, apperr.External("stripe", err)
	}
	if pi.OrderID() != order.ID {
		r.Logger.LogSecurity("INTENT_MISMATCH", fmt.Sprintf("intent %s belongs to order %q, confirm was for %s", pi.ID, pi.OrderID(), order.ID))
		return nil, apperr.Validation("payment intent %s does not belong to order %s", pi.ID, order.OrderNumber)
	}

	switch pi.Status {
	case models.IntentSucceeded:
		return r.RecordSuccess(ctx, ClientConfirmed{}.Source(), order.ID, pi)
	case models.IntentProcessing:
		return &Result{Order: order, IntentStatus: pi.Status}, nil
	default:
		return nil, fmt.Errorf("%w: %w (intent status %s)", apperr.ErrValidation, ErrPaymentNotComplete, pi.Status)
	}
}

// correlate finds the order a payment belongs to: by order id, then by intent id.
func (r *Reconciler) correlate(ctx context.Context, orderID, intentID string) (*models.Order, error) {
	if orderID != "" {
		order, err := r.Ledger.Get(ctx, orderID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		r.Logger.Warn("PAYMENT", fmt.Sprintf("Intent %s names unknown order %s, trying intent lookup", intentID, orderID))
	}
	if intentID == "" {
		return nil, nil
	}
	order, err := r.Ledger.GetByPaymentIntent(ctx, intentID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return order, err
}

// RecordSuccess → make sure exactly one confirmed order exists for the intent and record the payment
func (r *Reconciler) RecordSuccess(ctx context.Context, source, orderID string, pi *models.PaymentIntent) (*Result, error) {
	if pi == nil || pi.ID == "" {
		return nil, apperr.Validation("payment intent is required")
	}
	if orderID == "" {
		orderID = pi.OrderID()
	}

	order, err := r.correlate(ctx, orderID, pi.ID)
	if err != nil {
		return nil, err
	}

	created := false
	if order == nil {
		order, created, err = r.createFromIntent(ctx, pi)
		if err != nil {
			return nil, err
		}
		if order == nil {
			// Nothing to attach the money to; keep the audit trail.
			payment, err := r.savePayment(ctx, source, nil, pi, models.PaymentSucceeded, "")
			if err != nil {
				return nil, err
			}
			return &Result{Payment: payment}, nil
		}
	}

	if order.PaymentID == "" {
		if order, err = r.Ledger.Update(ctx, order.ID, models.OrderPatch{PaymentID: &pi.ID}); err != nil {
			return nil, fmt.Errorf("attach intent %s to order %s: %w", pi.ID, orderID, err)
		}
	} else if order.PaymentID != pi.ID {
		r.Logger.Warn("PAYMENT", fmt.Sprintf("Order %s carries intent %s but %s succeeded for it", order.ID, order.PaymentID, pi.ID))
	}

	if pi.Amount < order.Pricing.Total || !strings.EqualFold(pi.Currency, order.Pricing.Currency) {
		r.Logger.LogSecurity("AMOUNT_MISMATCH", fmt.Sprintf("order %s expects %d %s, intent %s captured %d %s",
			order.ID, order.Pricing.Total, order.Pricing.Currency, pi.ID, pi.Amount, pi.Currency))
		payment, err := r.savePayment(ctx, source, order, pi, models.PaymentSucceeded, "")
		if err != nil {
			return nil, err
		}
		return &Result{Order: order, Payment: payment}, fmt.Errorf("%w: captured amount does not match order %s", apperr.ErrConflict, order.OrderNumber)
	}

	changed := created
	if !created {
		updated, ok, err := r.Ledger.UpdateStatus(ctx, order.ID, models.OrderConfirmed, models.StatusExtra{PaymentMethod: pi.PaymentMethod})
		switch {
		case errors.Is(err, apperr.ErrInvalidTransition) && updated != nil && updated.Status != models.OrderCancelled:
			// Already past confirmed; the order moved on without us.
			order = updated
		case errors.Is(err, apperr.ErrInvalidTransition) && updated != nil:
			r.Logger.Error("PAYMENT", fmt.Sprintf("Payment %s succeeded for cancelled order %s, refund required", pi.ID, order.ID))
			payment, saveErr := r.savePayment(ctx, source, updated, pi, models.PaymentSucceeded, "")
			if saveErr != nil {
				return nil, saveErr
			}
			return &Result{Order: updated, Payment: payment}, fmt.Errorf("%w: order %s is cancelled", apperr.ErrConflict, order.OrderNumber)
		case err != nil:
			return nil, err
		default:
			order, changed = updated, ok
		}
	}

	payment, err := r.savePayment(ctx, source, order, pi, models.PaymentSucceeded, "")
	if err != nil {
		// The order is confirmed either way; a missing audit row does not undo that.
		r.Logger.Error("PAYMENT", fmt.Sprintf("Failed to record payment for order %s: %v", order.ID, err))
	}

	if changed {
		r.Logger.LogOrder("CONFIRMED", order.ID, fmt.Sprintf("%s via %s (intent %s)", order.OrderNumber, source, pi.ID))
		r.afterConfirm(ctx, order, payment, models.OrderPending)
	}
	return &Result{Order: order, Payment: payment, Changed: changed}, nil
}

// createFromIntent builds a confirmed order out of an intent no order knows
// about. A nil order means the metadata was not enough to build one.
func (r *Reconciler) createFromIntent(ctx context.Context, pi *models.PaymentIntent) (*models.Order, bool, error) {
	md := pi.Metadata
	in := models.NewOrder{
		UserID:        md["user_id"],
		Status:        models.OrderConfirmed,
		CustomerName:  md["customer_name"],
		Email:         md["email"],
		Phone:         md["phone"],
		PaymentMethod: pi.PaymentMethod,
		PaymentID:     pi.ID,
		VoucherCode:   voucher.NormalizeCode(md["voucher_code"]),
		Pricing: models.Pricing{
			Subtotal: pi.Amount,
			Total:    pi.Amount,
			Currency: pi.Currency,
		},
		Notes: "created from payment webhook",
	}
	if in.Email == "" {
		in.Email = pi.ReceiptEmail
	}
	if pi.Shipping != nil {
		in.ShippingAddress = *pi.Shipping
		if in.CustomerName == "" {
			in.CustomerName = pi.Shipping.Name
		}
	}
	if d, err := strconv.ParseInt(md["voucher_discount"], 10, 64); err == nil {
		in.VoucherDiscount = d
	}

	order, err := r.Ledger.Create(ctx, in)
	switch {
	case err == nil:
		return order, true, nil
	case errors.Is(err, apperr.ErrConflict):
		// A concurrent delivery of the same event created it first.
		existing, getErr := r.Ledger.GetByPaymentIntent(ctx, pi.ID)
		return existing, false, getErr
	case errors.Is(err, apperr.ErrValidation):
		r.Logger.Error("PAYMENT", fmt.Sprintf("Orphan payment %s: cannot build an order from its metadata: %v", pi.ID, err))
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// RecordFailure → record a failed attempt; a correlated pending order is cancelled
func (r *Reconciler) RecordFailure(ctx context.Context, pi *models.PaymentIntent) (*Result, error) {
	if pi == nil || pi.ID == "" {
		return nil, apperr.Validation("payment intent is required")
	}

	order, err := r.correlate(ctx, pi.OrderID(), pi.ID)
	if err != nil {
		return nil, err
	}

	reason := pi.LastError
	if reason == "" {
		reason = "payment failed"
	}
	payment, err := r.savePayment(ctx, WebhookFailed{}.Source(), order, pi, models.PaymentFailed, reason)
	if err != nil {
		return nil, err
	}
	if order == nil {
		r.Logger.LogPayment("FAILED_STANDALONE", pi.ID, reason)
		return &Result{Payment: payment}, nil
	}

	if order.Status != models.OrderPending {
		r.Logger.Warn("PAYMENT", fmt.Sprintf("Failure for order %s ignored, order is %s", order.ID, order.Status))
		return &Result{Order: order, Payment: payment}, nil
	}

	// Close the intent so a later retry on it cannot succeed for a cancelled order.
	if err := r.Gateway.CancelPaymentIntent(ctx, pi.ID); err != nil {
		r.Logger.Warn("PAYMENT", fmt.Sprintf("Could not cancel failed intent %s: %v", pi.ID, err))
	}

	updated, changed, err := r.Ledger.UpdateStatus(ctx, order.ID, models.OrderCancelled, models.StatusExtra{
		Note: "payment failed: " + reason,
	})
	if errors.Is(err, apperr.ErrInvalidTransition) {
		// Confirmed by a concurrent success in the meantime.
		return &Result{Order: updated, Payment: payment}, nil
	}
	if err != nil {
		return nil, err
	}
	if changed {
		r.publishOrder(ctx, "order.cancelled", updated, models.OrderPending)
	}
	return &Result{Order: updated, Payment: payment, Changed: changed}, nil
}

// ConfirmFree → confirm a zero-total order without a processor round trip
func (r *Reconciler) ConfirmFree(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := r.Ledger.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Pricing.Total != 0 {
		return nil, apperr.Validation("order %s is not free", order.OrderNumber)
	}

	updated, changed, err := r.Ledger.UpdateStatus(ctx, orderID, models.OrderConfirmed, models.StatusExtra{PaymentMethod: "free"})
	if err != nil {
		return nil, err
	}
	if !changed {
		return updated, nil
	}

	payment, err := r.savePayment(ctx, "free", updated, &models.PaymentIntent{Currency: updated.Pricing.Currency, PaymentMethod: "free"}, models.PaymentSucceeded, "")
	if err != nil {
		r.Logger.Error("PAYMENT", fmt.Sprintf("Failed to record free payment for order %s: %v", orderID, err))
	}
	r.Logger.LogOrder("CONFIRMED", updated.ID, updated.OrderNumber+" (free)")
	r.afterConfirm(ctx, updated, payment, models.OrderPending)
	metrics.OrderFinalizationsTotal.WithLabelValues("free", "confirmed").Inc()
	return updated, nil
}

func (r *Reconciler) savePayment(ctx context.Context, source string, order *models.Order, pi *models.PaymentIntent, status models.PaymentStatus, reason string) (*models.Payment, error) {
	metadata := make(map[string]string, len(pi.Metadata)+1)
	for k, v := range pi.Metadata {
		metadata[k] = v
	}
	metadata["source"] = source

	payment := &models.Payment{
		ID:              uuid.NewString(),
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
		Status:          status,
		PaymentMethod:   pi.PaymentMethod,
		FailureReason:   reason,
		Metadata:        metadata,
		CreatedAt:       time.Now().UTC(),
	}
	if order != nil {
		payment.OrderID = order.ID
	}

	inserted, err := r.Payments.SavePayment(ctx, payment)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := r.Payments.GetSucceededByIntent(ctx, pi.ID)
		if err != nil {
			return nil, fmt.Errorf("load recorded payment for intent %s: %w", pi.ID, err)
		}
		return existing, nil
	}
	r.Logger.LogPayment("RECORDED", pi.ID, fmt.Sprintf("%s %d %s order=%q", status, pi.Amount, pi.Currency, payment.OrderID))
	return payment, nil
}

// afterConfirm runs the side effects owed to the single transition into confirmed.
// Each is best effort: the order stays confirmed whatever happens here.
func (r *Reconciler) afterConfirm(ctx context.Context, order *models.Order, payment *models.Payment, previous models.OrderStatus) {
	if order.VoucherCode != "" && r.Vouchers != nil {
		err := r.Vouchers.RecordRedemption(ctx, voucher.Redemption{
			Code:           order.VoucherCode,
			UserID:         order.UserID,
			Email:          order.Email,
			OrderID:        order.ID,
			DiscountAmount: order.VoucherDiscount,
		})
		if err != nil {
			r.Logger.Error("VOUCHER", fmt.Sprintf("Redemption of %s for order %s failed: %v", order.VoucherCode, order.ID, err))
		}
	}

	if err := r.Ledger.SaveShippingAddress(ctx, order); err != nil {
		r.Logger.Warn("ORDER", fmt.Sprintf("Could not save shipping address of order %s: %v", order.ID, err))
	}

	if r.Notifier != nil {
		sent := r.Notifier.SendLifecycleEmails(ctx, order)
		order.EmailsSent = sent
	}

	if r.Kafka != nil && payment != nil {
		event := models.PaymentEvent{
			Type:            "payment.succeeded",
			PaymentID:       payment.ID,
			OrderID:         order.ID,
			PaymentIntentID: payment.PaymentIntentID,
			Status:          payment.Status,
			Amount:          payment.Amount,
			Currency:        payment.Currency,
			Timestamp:       payment.CreatedAt,
		}
		if err := r.Kafka.PublishPaymentEvent(ctx, event); err != nil {
			r.Logger.Warn("KAFKA", fmt.Sprintf("Publish payment.succeeded for order %s failed: %v", order.ID, err))
		}
	}
	r.publishOrder(ctx, "order.confirmed", order, previous)
}

func (r *Reconciler) publishOrder(ctx context.Context, eventType string, order *models.Order, previous models.OrderStatus) {
	event := models.OrderEvent{
		Type:        eventType,
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      order.Status,
		Previous:    previous,
		Total:       order.Pricing.Total,
		Currency:    order.Pricing.Currency,
		Timestamp:   order.UpdatedAt,
	}
	if r.Kafka != nil {
		if err := r.Kafka.PublishOrderEvent(ctx, event); err != nil {
			r.Logger.Warn("KAFKA", fmt.Sprintf("Publish %s for order %s failed: %v", eventType, order.ID, err))
		}
	}
	if r.Events != nil {
		r.Events.Broadcast(event)
	}
}
