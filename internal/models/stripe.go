package models

import "time"

// Payment intent statuses the reconciler acts on.
const (
	IntentSucceeded             = "succeeded"
	IntentProcessing            = "processing"
	IntentRequiresPaymentMethod = "requires_payment_method"
	IntentCanceled              = "canceled"
)

// PaymentIntent is the part of a processor payment intent the service reads.
type PaymentIntent struct {
	ID            string            `json:"id"`
	ClientSecret  string            `json:"-"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	PaymentMethod string            `json:"payment_method,omitempty"`
	ReceiptEmail  string            `json:"receipt_email,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Shipping      *Address          `json:"shipping,omitempty"`
	LastError     string            `json:"last_error,omitempty"`
	Created       time.Time         `json:"created"`
}

// OrderID is the order the intent was created for, empty when the intent
// was created outside checkout.
func (pi *PaymentIntent) OrderID() string {
	if pi == nil || pi.Metadata == nil {
		return ""
	}
	return pi.Metadata["order_id"]
}

// IntentRequest asks the processor for a new payment intent.
type IntentRequest struct {
	Amount         int64
	Currency       string
	OrderID        string
	OrderNumber    string
	Email          string
	IdempotencyKey string
	Metadata       map[string]string
}
