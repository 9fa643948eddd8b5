package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Voucher amounts are minor currency units. DiscountValue is a percent for
// percentage vouchers and a minor-unit amount for fixed ones.
type Voucher struct {
	bun.BaseModel `bun:"table:vouchers"`

	ID                string          `bun:"id,pk" json:"id"`
	Code              string          `bun:"code,unique,notnull" json:"code"`
	DiscountType      DiscountType    `bun:"discount_type,notnull" json:"discount_type"`
	DiscountValue     decimal.Decimal `bun:"discount_value,type:numeric(12,4),notnull" json:"discount_value"`
	MinOrderValue     int64           `bun:"min_order_value,notnull,default:0" json:"min_order_value"`
	MaxDiscountAmount *int64          `bun:"max_discount_amount" json:"max_discount_amount,omitempty"`
	UsageLimit        *int            `bun:"usage_limit" json:"usage_limit,omitempty"`
	UsedCount         int             `bun:"used_count,notnull,default:0" json:"used_count"`
	UserLimit         *int            `bun:"user_limit" json:"user_limit,omitempty"`
	ValidFrom         time.Time       `bun:"valid_from,notnull" json:"valid_from"`
	ValidUntil        *time.Time      `bun:"valid_until" json:"valid_until,omitempty"`
	IsActive          bool            `bun:"is_active,notnull" json:"is_active"`
	CreatedAt         time.Time       `bun:"created_at,notnull" json:"created_at"`
}

// VoucherUsage is one redemption, kept both as an audit trail and for
// per-user limit checks.
type VoucherUsage struct {
	bun.BaseModel `bun:"table:voucher_usages"`

	ID             string    `bun:"id,pk" json:"id"`
	VoucherID      string    `bun:"voucher_id,notnull" json:"voucher_id"`
	UserID         string    `bun:"user_id,nullzero" json:"user_id,omitempty"`
	UserEmail      string    `bun:"user_email,nullzero" json:"user_email,omitempty"`
	OrderID        string    `bun:"order_id,notnull" json:"order_id"`
	DiscountAmount int64     `bun:"discount_amount,notnull" json:"discount_amount"`
	CreatedAt      time.Time `bun:"created_at,notnull" json:"created_at"`
}
