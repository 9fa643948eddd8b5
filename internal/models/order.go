package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProduction OrderStatus = "production"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderProduction, OrderShipped, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// Pricing amounts are minor currency units.
type Pricing struct {
	Subtotal int64  `bun:"subtotal,notnull" json:"subtotal"`
	Shipping int64  `bun:"shipping,notnull" json:"shipping"`
	Tax      int64  `bun:"tax,notnull" json:"tax"`
	Total    int64  `bun:"total,notnull" json:"total"`
	Currency string `bun:"currency,notnull" json:"currency"`
}

type EmailType string

const (
	EmailConfirmation EmailType = "confirmation"
	EmailReceipt      EmailType = "receipt"
	EmailProduction   EmailType = "production"
	EmailShipped      EmailType = "shipped"
	EmailDelivered    EmailType = "delivered"
)

func (t EmailType) Valid() bool {
	switch t {
	case EmailConfirmation, EmailReceipt, EmailProduction, EmailShipped, EmailDelivered:
		return true
	}
	return false
}

// EmailRecord is the durable trace of one lifecycle email attempt.
type EmailRecord struct {
	Sent      bool      `json:"sent"`
	Timestamp time.Time `json:"timestamp"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	Attempts  int       `json:"attempts"`
}

type EmailsSent map[EmailType]EmailRecord

type Order struct {
	bun.BaseModel `bun:"table:orders"`

	ID                string                 `bun:"id,pk" json:"id"`
	OrderNumber       string                 `bun:"order_number,unique,notnull" json:"order_number"`
	UserID            string                 `bun:"user_id,nullzero" json:"user_id,omitempty"`
	Status            OrderStatus            `bun:"status,notnull" json:"status"`
	CustomerName      string                 `bun:"customer_name,notnull" json:"customer_name"`
	Email             string                 `bun:"email,notnull" json:"email"`
	Phone             string                 `bun:"phone,nullzero" json:"phone,omitempty"`
	CardConfig        map[string]interface{} `bun:"card_config,type:jsonb" json:"card_config,omitempty"`
	ShippingAddress   Address                `bun:"shipping_address,type:jsonb" json:"shipping_address"`
	Pricing           Pricing                `bun:"embed:pricing_" json:"pricing"`
	PaymentMethod     string                 `bun:"payment_method,nullzero" json:"payment_method,omitempty"`
	PaymentID         string                 `bun:"payment_id,unique,nullzero" json:"payment_id,omitempty"`
	VoucherCode       string                 `bun:"voucher_code,nullzero" json:"voucher_code,omitempty"`
	VoucherDiscount   int64                  `bun:"voucher_discount,notnull,default:0" json:"voucher_discount"`
	EstimatedDelivery *time.Time             `bun:"estimated_delivery,nullzero" json:"estimated_delivery,omitempty"`
	TrackingNumber    string                 `bun:"tracking_number,nullzero" json:"tracking_number,omitempty"`
	TrackingURL       string                 `bun:"tracking_url,nullzero" json:"tracking_url,omitempty"`
	EmailsSent        EmailsSent             `bun:"emails_sent,type:jsonb" json:"emails_sent"`
	Notes             string                 `bun:"notes,nullzero" json:"notes,omitempty"`
	CreatedAt         time.Time              `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt         time.Time              `bun:"updated_at,notnull" json:"updated_at"`
}

// NewOrder carries the fields a caller supplies when an order is created.
// ID, order number and timestamps are assigned by the ledger.
type NewOrder struct {
	UserID          string
	Status          OrderStatus
	CustomerName    string
	Email           string
	Phone           string
	CardConfig      map[string]interface{}
	ShippingAddress Address
	Pricing         Pricing
	PaymentMethod   string
	PaymentID       string
	VoucherCode     string
	VoucherDiscount int64
	Notes           string
}

// OrderPatch merges into an existing order; nil fields are left alone.
type OrderPatch struct {
	CustomerName      *string
	Email             *string
	Phone             *string
	CardConfig        map[string]interface{}
	ShippingAddress   *Address
	PaymentMethod     *string
	PaymentID         *string
	EstimatedDelivery *time.Time
	Notes             *string
}

// StatusExtra holds the optional fields that accompany a status change.
type StatusExtra struct {
	TrackingNumber    string
	TrackingURL       string
	EstimatedDelivery *time.Time
	Note              string
	PaymentMethod     string
}

type ShippingAddress struct {
	bun.BaseModel `bun:"table:shipping_addresses"`

	ID         string    `bun:"id,pk" json:"id"`
	UserID     string    `bun:"user_id,notnull" json:"user_id"`
	Name       string    `bun:"name,notnull" json:"name"`
	Line1      string    `bun:"line1,notnull" json:"line1"`
	Line2      string    `bun:"line2,nullzero" json:"line2,omitempty"`
	City       string    `bun:"city,notnull" json:"city"`
	State      string    `bun:"state,nullzero" json:"state,omitempty"`
	PostalCode string    `bun:"postal_code,notnull" json:"postal_code"`
	Country    string    `bun:"country,notnull" json:"country"`
	CreatedAt  time.Time `bun:"created_at,notnull" json:"created_at"`
}

// OrderEvent is published to Kafka and streamed to clients over SSE.
type OrderEvent struct {
	Type        string      `json:"type"`
	OrderID     string      `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	Status      OrderStatus `json:"status"`
	Previous    OrderStatus `json:"previous_status,omitempty"`
	Total       int64       `json:"total"`
	Currency    string      `json:"currency"`
	Timestamp   time.Time   `json:"timestamp"`
}

// FulfillmentUpdate is a status report from the fulfillment partner.
type FulfillmentUpdate struct {
	OrderID           string      `json:"order_id"`
	OrderNumber       string      `json:"order_number,omitempty"`
	Status            OrderStatus `json:"status"`
	TrackingNumber    string      `json:"tracking_number,omitempty"`
	TrackingURL       string      `json:"tracking_url,omitempty"`
	EstimatedDelivery *time.Time  `json:"estimated_delivery,omitempty"`
	Note              string      `json:"note,omitempty"`
}
