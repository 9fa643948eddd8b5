package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"

	"ms-orders/internal/models"
)

var (
	ErrUsageLimitReached = errors.New("voucher usage limit reached")
	ErrUserLimitReached  = errors.New("voucher per-user limit reached")
	ErrDuplicateCode     = errors.New("voucher code already exists")

	errAlreadyRedeemed = errors.New("voucher already redeemed for order")
)

type DB struct {
	Bun *bun.DB
}

// GetVoucherByCode → fetch one voucher; sql.ErrNoRows when absent
func (d *DB) GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error) {
	var v models.Voucher
	err := d.Bun.NewSelect().
		Model(&v).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// CreateVoucher → insert a new voucher
func (d *DB) CreateVoucher(ctx context.Context, v *models.Voucher) error {
	res, err := d.Bun.NewInsert().Model(v).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrDuplicateCode
	}
	return nil
}

// CountUserUsages → redemptions of a voucher by one customer email
func (d *DB) CountUserUsages(ctx context.Context, voucherID, email string) (int, error) {
	return countUserUsages(ctx, d.Bun, voucherID, email)
}

func countUserUsages(ctx context.Context, db bun.IDB, voucherID, email string) (int, error) {
	return db.NewSelect().
		Model((*models.VoucherUsage)(nil)).
		Where("voucher_id = ?", voucherID).
		Where("user_email = ?", strings.ToLower(email)).
		Count(ctx)
}

// ListUsages → audit trail of a voucher
func (d *DB) ListUsages(ctx context.Context, voucherID string) ([]models.VoucherUsage, error) {
	var usages []models.VoucherUsage
	err := d.Bun.NewSelect().
		Model(&usages).
		Where("voucher_id = ?", voucherID).
		Order("created_at ASC").
		Scan(ctx)
	return usages, err
}

// RecordRedemption increments used_count and inserts the usage row in one
// transaction. The increment is conditional on the usage limit, so concurrent
// redemptions of the last slot cannot both succeed. It reports false without
// error when the order already redeemed this voucher.
func (d *DB) RecordRedemption(ctx context.Context, usage *models.VoucherUsage, userLimit *int) (bool, error) {
	usage.UserEmail = strings.ToLower(usage.UserEmail)

	exists, err := d.Bun.NewSelect().
		Model((*models.VoucherUsage)(nil)).
		Where("voucher_id = ?", usage.VoucherID).
		Where("order_id = ?", usage.OrderID).
		Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check existing redemption: %w", err)
	}
	if exists {
		return false, nil
	}

	err = d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.Voucher)(nil)).
			Set("used_count = used_count + 1").
			Where("id = ?", usage.VoucherID).
			Where("(usage_limit IS NULL OR used_count < usage_limit)").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("increment used_count: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrUsageLimitReached
		}

		if userLimit != nil && usage.UserEmail != "" {
			count, err := countUserUsages(ctx, tx, usage.VoucherID, usage.UserEmail)
			if err != nil {
				return fmt.Errorf("count user redemptions: %w", err)
			}
			if count >= *userLimit {
				return ErrUserLimitReached
			}
		}

		res, err = tx.NewInsert().Model(usage).On("CONFLICT DO NOTHING").Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert voucher usage: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errAlreadyRedeemed
		}
		return nil
	})
	if errors.Is(err, errAlreadyRedeemed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsNotFound reports whether err is a missing-row error from this package.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
