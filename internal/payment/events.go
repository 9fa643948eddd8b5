package payment

import "ms-orders/internal/models"

// Event is a purchase finalization trigger. Exactly one of ClientConfirmed,
// WebhookConfirmed or WebhookFailed.
type Event interface {
	Source() string
}

// ClientConfirmed is the buyer's own post-payment confirmation call.
type ClientConfirmed struct {
	OrderID         string
	PaymentIntentID string
}

// WebhookConfirmed is a verified payment_intent.succeeded delivery.
type WebhookConfirmed struct {
	EventID string
	Intent  *models.PaymentIntent
}

// WebhookFailed is a verified payment_intent.payment_failed delivery.
type WebhookFailed struct {
	EventID string
	Intent  *models.PaymentIntent
}

func (ClientConfirmed) Source() string  { return "client" }
func (WebhookConfirmed) Source() string { return "webhook" }
func (WebhookFailed) Source() string    { return "webhook" }
