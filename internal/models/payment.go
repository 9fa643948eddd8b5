package models

import (
	"time"

	"github.com/uptrace/bun"
)

type PaymentStatus string

const (
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is an immutable record of one observed payment attempt.
type Payment struct {
	bun.BaseModel `bun:"table:payments"`

	ID              string            `bun:"id,pk" json:"id"`
	OrderID         string            `bun:"order_id,nullzero" json:"order_id,omitempty"`
	PaymentIntentID string            `bun:"payment_intent_id,nullzero" json:"payment_intent_id,omitempty"`
	Amount          int64             `bun:"amount,notnull" json:"amount"`
	Currency        string            `bun:"currency,notnull" json:"currency"`
	Status          PaymentStatus     `bun:"status,notnull" json:"status"`
	PaymentMethod   string            `bun:"payment_method,nullzero" json:"payment_method,omitempty"`
	FailureReason   string            `bun:"failure_reason,nullzero" json:"failure_reason,omitempty"`
	Metadata        map[string]string `bun:"metadata,type:jsonb" json:"metadata,omitempty"`
	CreatedAt       time.Time         `bun:"created_at,notnull" json:"created_at"`
}

// PaymentEvent is published to Kafka when a payment attempt is recorded.
type PaymentEvent struct {
	Type            string        `json:"type"`
	PaymentID       string        `json:"payment_id"`
	OrderID         string        `json:"order_id,omitempty"`
	PaymentIntentID string        `json:"payment_intent_id,omitempty"`
	Status          PaymentStatus `json:"status"`
	Amount          int64         `json:"amount"`
	Currency        string        `json:"currency"`
	Timestamp       time.Time     `json:"timestamp"`
}
