// Package voucher validates discount codes and records their redemption.
package voucher

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ms-orders/internal/apperr"
	"ms-orders/internal/logger"
	"ms-orders/internal/metrics"
	"ms-orders/internal/models"
	vdb "ms-orders/internal/voucher/db"
)

// Rejection reasons returned to customers.
const (
	ReasonNotFound     = "Voucher not found"
	ReasonInactive     = "Voucher is not active"
	ReasonNotYetValid  = "Voucher not yet valid"
	ReasonExpired      = "Voucher expired"
	ReasonUsageLimit   = "Usage limit exceeded"
	ReasonMinimumOrder = "Minimum order value not met"
	ReasonUserLimit    = "User limit exceeded"
)

type DBLayer interface {
	GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error)
	CreateVoucher(ctx context.Context, v *models.Voucher) error
	CountUserUsages(ctx context.Context, voucherID, email string) (int, error)
	RecordRedemption(ctx context.Context, usage *models.VoucherUsage, userLimit *int) (bool, error)
	ListUsages(ctx context.Context, voucherID string) ([]models.VoucherUsage, error)
}

type Service struct {
	DB     DBLayer
	Logger *logger.Logger
	now    func() time.Time
}

func NewService(db DBLayer, log *logger.Logger) *Service {
	return &Service{DB: db, Logger: log, now: time.Now}
}

// WithClock swaps the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Result is the outcome of validating a voucher against an order amount.
// Amounts are minor currency units.
type Result struct {
	Valid          bool                `json:"valid"`
	Code           string              `json:"code"`
	VoucherID      string              `json:"voucher_id,omitempty"`
	DiscountType   models.DiscountType `json:"discount_type,omitempty"`
	DiscountAmount int64               `json:"discount_amount"`
	FinalAmount    int64               `json:"final_amount"`
	Reason         string              `json:"reason,omitempty"`
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks, in order: existence, active flag, validity window, usage
// limit, minimum order value and per-user limit. A rejected voucher is a
// Result with Valid=false and a Reason, not an error.
func (s *Service) Validate(ctx context.Context, code string, orderAmount int64, userEmail string) (*Result, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, apperr.Validation("voucher code is required")
	}
	if orderAmount < 0 {
		return nil, apperr.Validation("order amount must not be negative")
	}

	result := &Result{Code: code, FinalAmount: orderAmount}

	v, err := s.DB.GetVoucherByCode(ctx, code)
	if vdb.IsNotFound(err) {
		result.Reason = ReasonNotFound
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load voucher %s: %w", code, err)
	}
	result.VoucherID = v.ID
	result.DiscountType = v.DiscountType

	now := s.now()
	switch {
	case !v.IsActive:
		result.Reason = ReasonInactive
	case now.Before(v.ValidFrom):
		result.Reason = ReasonNotYetValid
	case v.ValidUntil != nil && !now.Before(*v.ValidUntil):
		result.Reason = ReasonExpired
	case v.UsageLimit != nil && v.UsedCount >= *v.UsageLimit:
		result.Reason = ReasonUsageLimit
	case orderAmount < v.MinOrderValue:
		result.Reason = ReasonMinimumOrder
	}
	if result.Reason != "" {
		return result, nil
	}

	if v.UserLimit != nil && userEmail != "" {
		used, err := s.DB.CountUserUsages(ctx, v.ID, userEmail)
		if err != nil {
			return nil, fmt.Errorf("count voucher usages: %w", err)
		}
		if used >= *v.UserLimit {
			result.Reason = ReasonUserLimit
			return result, nil
		}
	}

	result.Valid = true
	result.DiscountAmount = Discount(v, orderAmount)
	result.FinalAmount = orderAmount - result.DiscountAmount
	return result, nil
}

// Discount computes the discount in minor units: percentage of the amount
// (rounded half up) or the fixed value, clamped to MaxDiscountAmount and then
// to the amount itself.
func Discount(v *models.Voucher, amount int64) int64 {
	if amount <= 0 {
		return 0
	}

	var d decimal.Decimal
	switch v.DiscountType {
	case models.DiscountPercentage:
		d = decimal.NewFromInt(amount).Mul(v.DiscountValue).Div(decimal.NewFromInt(100))
	case models.DiscountFixed:
		d = v.DiscountValue
	default:
		return 0
	}
	discount := d.Round(0).IntPart()

	if v.MaxDiscountAmount != nil && discount > *v.MaxDiscountAmount {
		discount = *v.MaxDiscountAmount
	}
	if discount > amount {
		discount = amount
	}
	if discount < 0 {
		discount = 0
	}
	return discount
}

// Redemption identifies one use of a voucher on an order.
type Redemption struct {
	Code           string
	UserID         string
	Email          string
	OrderID        string
	DiscountAmount int64
}

// RecordRedemption increments the voucher's usage and appends a VoucherUsage
// row. Repeating it for the same order is a no-op.
func (s *Service) RecordRedemption(ctx context.Context, r Redemption) error {
	code := NormalizeCode(r.Code)
	v, err := s.DB.GetVoucherByCode(ctx, code)
	if vdb.IsNotFound(err) {
		return apperr.NotFound("voucher %s", code)
	}
	if err != nil {
		return fmt.Errorf("load voucher %s: %w", code, err)
	}

	usage := &models.VoucherUsage{
		ID:             uuid.NewString(),
		VoucherID:      v.ID,
		UserID:         r.UserID,
		UserEmail:      r.Email,
		OrderID:        r.OrderID,
		DiscountAmount: r.DiscountAmount,
		CreatedAt:      s.now().UTC(),
	}

	recorded, err := s.DB.RecordRedemption(ctx, usage, v.UserLimit)
	switch {
	case errors.Is(err, vdb.ErrUsageLimitReached):
		metrics.VoucherRedemptionsTotal.WithLabelValues("usage_limit").Inc()
		return fmt.Errorf("%w: %s", apperr.ErrConflict, ReasonUsageLimit)
	case errors.Is(err, vdb.ErrUserLimitReached):
		metrics.VoucherRedemptionsTotal.WithLabelValues("user_limit").Inc()
		return fmt.Errorf("%w: %s", apperr.ErrConflict, ReasonUserLimit)
	case err != nil:
		metrics.VoucherRedemptionsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("record redemption of %s: %w", code, err)
	case !recorded:
		metrics.VoucherRedemptionsTotal.WithLabelValues("duplicate").Inc()
		return nil
	}

	metrics.VoucherRedemptionsTotal.WithLabelValues("recorded").Inc()
	s.Logger.Info("VOUCHER", fmt.Sprintf("Redeemed %s on order %s for %d", code, r.OrderID, r.DiscountAmount))
	return nil
}

// CreateInput is what an admin supplies for a new voucher.
type CreateInput struct {
	Code              string              `json:"code"`
	DiscountType      models.DiscountType `json:"discount_type"`
	DiscountValue     decimal.Decimal     `json:"discount_value"`
	MinOrderValue     int64               `json:"min_order_value"`
	MaxDiscountAmount *int64              `json:"max_discount_amount,omitempty"`
	UsageLimit        *int                `json:"usage_limit,omitempty"`
	UserLimit         *int                `json:"user_limit,omitempty"`
	ValidFrom         *time.Time          `json:"valid_from,omitempty"`
	ValidUntil        *time.Time          `json:"valid_until,omitempty"`
}

var codePattern = regexp.MustCompile(`^[A-Z0-9_-]{3,32}$`)

func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Voucher, error) {
	code := NormalizeCode(in.Code)
	if !codePattern.MatchString(code) {
		return nil, apperr.Validation("code must be 3-32 characters of A-Z, 0-9, '-' or '_'")
	}
	if !in.DiscountValue.IsPositive() {
		return nil, apperr.Validation("discount_value must be positive")
	}
	switch in.DiscountType {
	case models.DiscountPercentage:
		if in.DiscountValue.GreaterThan(decimal.NewFromInt(100)) {
			return nil, apperr.Validation("percentage discount cannot exceed 100")
		}
	case models.DiscountFixed:
	default:
		return nil, apperr.Validation("discount_type must be percentage or fixed")
	}
	if in.MinOrderValue < 0 {
		return nil, apperr.Validation("min_order_value must not be negative")
	}
	for name, limit := range map[string]*int{"usage_limit": in.UsageLimit, "user_limit": in.UserLimit} {
		if limit != nil && *limit <= 0 {
			return nil, apperr.Validation("%s must be positive", name)
		}
	}

	now := s.now().UTC()
	validFrom := now
	if in.ValidFrom != nil {
		validFrom = in.ValidFrom.UTC()
	}
	var validUntil *time.Time
	if in.ValidUntil != nil {
		u := in.ValidUntil.UTC()
		if !u.After(validFrom) {
			return nil, apperr.Validation("valid_until must be after valid_from")
		}
		validUntil = &u
	}

	v := &models.Voucher{
		ID:                uuid.NewString(),
		Code:              code,
		DiscountType:      in.DiscountType,
		DiscountValue:     in.DiscountValue,
		MinOrderValue:     in.MinOrderValue,
		MaxDiscountAmount: in.MaxDiscountAmount,
		UsageLimit:        in.UsageLimit,
		UserLimit:         in.UserLimit,
		ValidFrom:         validFrom,
		ValidUntil:        validUntil,
		IsActive:          true,
		CreatedAt:         now,
	}
	if err := s.DB.CreateVoucher(ctx, v); err != nil {
		if errors.Is(err, vdb.ErrDuplicateCode) {
			return nil, fmt.Errorf("%w: voucher %s already exists", apperr.ErrConflict, code)
		}
		return nil, fmt.Errorf("create voucher: %w", err)
	}

	s.Logger.Info("VOUCHER", fmt.Sprintf("Created voucher %s (%s %s)", code, v.DiscountType, v.DiscountValue))
	return v, nil
}

// Usages returns the voucher with its redemption history, oldest first.
func (s *Service) Usages(ctx context.Context, code string) (*models.Voucher, []models.VoucherUsage, error) {
	code = NormalizeCode(code)
	v, err := s.DB.GetVoucherByCode(ctx, code)
	if vdb.IsNotFound(err) {
		return nil, nil, apperr.NotFound("voucher %s", code)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load voucher %s: %w", code, err)
	}
	usages, err := s.DB.ListUsages(ctx, v.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("list usages of %s: %w", code, err)
	}
	return v, usages, nil
}
