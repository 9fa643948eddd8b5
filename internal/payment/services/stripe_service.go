package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
	"ms-orders/internal/utils"
)

var (
	ErrStripeAPIError         = errors.New("stripe API error")
	ErrStripeClientInitFailed = errors.New("failed to initialize Stripe client")
)

// StripeService is the payment gateway backed by Stripe payment intents.
type StripeService struct {
	Client        *client.API
	WebhookSecret string
	Logger        *logger.Logger
}

// NewStripeService creates a new instance of StripeService
func NewStripeService(cfg config.StripeConfig, log *logger.Logger) (*StripeService, error) {
	if cfg.SecretKey == "" {
		log.Error("STRIPE", "STRIPE_SECRET_KEY environment variable not set")
		return nil, ErrStripeClientInitFailed
	}

	sc := client.New(cfg.SecretKey, nil)
	if sc == nil {
		log.Error("STRIPE", "Failed to initialize Stripe client")
		return nil, ErrStripeClientInitFailed
	}
	if cfg.WebhookSecret == "" {
		log.Warn("STRIPE", "STRIPE_WEBHOOK_SECRET not set, webhooks will be rejected")
	}

	log.Info("STRIPE", "Stripe client initialized successfully")
	return &StripeService{
		Client:        sc,
		WebhookSecret: cfg.WebhookSecret,
		Logger:        log,
	}, nil
}

// CreatePaymentIntent → new intent for an order; the order id travels in metadata
func (s *StripeService) CreatePaymentIntent(ctx context.Context, req models.IntentRequest) (*models.PaymentIntent, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("invalid payment amount: %d", req.Amount)
	}

	metadata := map[string]string{
		"order_id":     req.OrderID,
		"order_number": req.OrderNumber,
	}
	for k, v := range req.Metadata {
		if v != "" {
			metadata[k] = v
		}
	}

	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String("Order " + req.OrderNumber),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.Email != "" {
		params.ReceiptEmail = stripe.String(req.Email)
	}
	params.Metadata = metadata
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := s.Client.PaymentIntents.New(params)
	if err != nil {
		s.Logger.Error("STRIPE", fmt.Sprintf("Failed to create payment intent for order %s: %v", req.OrderID, err))
		return nil, fmt.Errorf("%w: %v", ErrStripeAPIError, err)
	}
	s.Logger.LogPayment("INTENT_CREATED", pi.ID, fmt.Sprintf("order %s amount %d %s", req.OrderID, req.Amount, req.Currency))
	return ToPaymentIntent(pi), nil
}

// GetPaymentIntent → current state of an intent as Stripe reports it
func (s *StripeService) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	params.AddExpand("payment_method")

	pi, err := s.Client.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("%w: get intent %s: %v", ErrStripeAPIError, id, err)
	}
	return ToPaymentIntent(pi), nil
}

// CancelPaymentIntent → cancel an unpaid intent; an already cancelled intent is not an error
func (s *StripeService) CancelPaymentIntent(ctx context.Context, id string) error {
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx

	_, err := s.Client.PaymentIntents.Cancel(id, params)
	if err == nil {
		s.Logger.LogPayment("INTENT_CANCELLED", id, "abandoned")
		return nil
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
		current, getErr := s.GetPaymentIntent(ctx, id)
		if getErr == nil && current.Status == models.IntentCanceled {
			return nil
		}
	}
	s.Logger.Error("STRIPE", fmt.Sprintf("Failed to cancel payment intent %s: %v", id, err))
	return fmt.Errorf("%w: cancel intent %s: %v", ErrStripeAPIError, id, err)
}

// ToPaymentIntent copies the fields the service uses out of a Stripe intent.
func ToPaymentIntent(pi *stripe.PaymentIntent) *models.PaymentIntent {
	out := &models.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
		ReceiptEmail: pi.ReceiptEmail,
		Metadata:     pi.Metadata,
		Created:      utils.FromUnix(pi.Created),
	}
	if pi.PaymentMethod != nil {
		out.PaymentMethod = string(pi.PaymentMethod.Type)
		if out.PaymentMethod == "" {
			out.PaymentMethod = pi.PaymentMethod.ID
		}
	}
	if pi.LastPaymentError != nil {
		out.LastError = pi.LastPaymentError.Msg
	}
	if pi.Shipping != nil && pi.Shipping.Address != nil {
		out.Shipping = &models.Address{
			Name:       pi.Shipping.Name,
			Line1:      pi.Shipping.Address.Line1,
			Line2:      pi.Shipping.Address.Line2,
			City:       pi.Shipping.Address.City,
			State:      pi.Shipping.Address.State,
			PostalCode: pi.Shipping.Address.PostalCode,
			Country:    pi.Shipping.Address.Country,
		}
	}
	return out
}

// WebhookError carries both the message safe to return to Stripe and the
// detail that goes to the logs.
type WebhookError struct {
	Category      string
	StatusCode    int
	PublicError   string
	InternalError string
	OriginalErr   error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

func (e *WebhookError) Unwrap() error {
	return e.OriginalErr
}

// WebhookEvent is a verified Stripe event about a payment intent.
type WebhookEvent struct {
	ID     string
	Type   string
	Intent *models.PaymentIntent
}

const (
	EventIntentSucceeded = "payment_intent.succeeded"
	EventIntentFailed    = "payment_intent.payment_failed"
)

// ParseWebhook → verify the signature and decode the intent carried by the event.
// Intent is nil for event types the service does not handle.
func (s *StripeService) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if s.WebhookSecret == "" {
		return nil, &WebhookError{
			Category:      "configuration",
			StatusCode:    500,
			PublicError:   "webhook not configured",
			InternalError: "STRIPE_WEBHOOK_SECRET is not set",
		}
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, &WebhookError{
			Category:      "validation",
			StatusCode:    400,
			PublicError:   "invalid signature",
			InternalError: fmt.Sprintf("webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	switch out.Type {
	case EventIntentSucceeded, EventIntentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, &WebhookError{
				Category:      "processing",
				StatusCode:    400,
				PublicError:   "malformed event payload",
				InternalError: fmt.Sprintf("decode payment intent of event %s: %v", event.ID, err),
				OriginalErr:   err,
			}
		}
		out.Intent = ToPaymentIntent(&pi)
	default:
		s.Logger.Debug("STRIPE", fmt.Sprintf("Unhandled event type: %s", out.Type))
	}
	return out, nil
}
