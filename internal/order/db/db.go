package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"

	"ms-orders/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// ---------------- ORDERS ----------------

// InsertOrder → insert new order; false when the order number or payment id is taken
func (d *DB) InsertOrder(ctx context.Context, order *models.Order) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(order).
		On("CONFLICT DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetOrderByID → fetch one order by its ID
func (d *DB) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	return d.getOrderBy(ctx, "id", id)
}

// GetOrderByNumber → fetch one order by its human readable number
func (d *DB) GetOrderByNumber(ctx context.Context, number string) (*models.Order, error) {
	return d.getOrderBy(ctx, "order_number", number)
}

// GetOrderByPaymentID → fetch the order a payment intent was created for
func (d *DB) GetOrderByPaymentID(ctx context.Context, paymentID string) (*models.Order, error) {
	return d.getOrderBy(ctx, "payment_id", paymentID)
}

func (d *DB) getOrderBy(ctx context.Context, column, value string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderColumns → write the listed columns of order; status and order number are never included
func (d *DB) UpdateOrderColumns(ctx context.Context, order *models.Order, columns ...string) error {
	columns = append(columns, "updated_at")
	_, err := d.Bun.NewUpdate().
		Model(order).
		Column(columns...).
		Where("id = ?", order.ID).
		Exec(ctx)
	return err
}

// UpdateStatus → move an order from one status to another; false when the row was not in `from`
func (d *DB) UpdateStatus(ctx context.Context, id string, from, to models.OrderStatus, extra models.StatusExtra, now time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", to).
		Set("updated_at = ?", now)

	if extra.TrackingNumber != "" {
		q = q.Set("tracking_number = ?", extra.TrackingNumber)
	}
	if extra.TrackingURL != "" {
		q = q.Set("tracking_url = ?", extra.TrackingURL)
	}
	if extra.EstimatedDelivery != nil {
		q = q.Set("estimated_delivery = ?", extra.EstimatedDelivery.UTC())
	}
	if extra.PaymentMethod != "" {
		q = q.Set("payment_method = ?", extra.PaymentMethod)
	}
	if extra.Note != "" {
		q = q.Set("notes = CASE WHEN notes IS NULL OR notes = '' THEN ? ELSE notes || ? END", extra.Note, "\n"+extra.Note)
	}

	res, err := q.
		Where("id = ?", id).
		Where("status = ?", from).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListOrdersByUser → newest first
func (d *DB) ListOrdersByUser(ctx context.Context, userID string, limit, offset int) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	return orders, err
}

// ListStalePending → pending orders created before the cutoff, oldest first
func (d *DB) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Where("status = ?", models.OrderPending).
		Where("created_at < ?", before).
		Order("created_at ASC").
		Limit(limit).
		Scan(ctx)
	return orders, err
}

// RecordEmail → merge one email result into emails_sent under a row lock
func (d *DB) RecordEmail(ctx context.Context, id string, emailType models.EmailType, record models.EmailRecord, now time.Time) (*models.Order, error) {
	var order models.Order
	err := d.Bun.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		q := tx.NewSelect().Model(&order).Where("id = ?", id).Limit(1)
		if d.Bun.Dialect().Name() == dialect.PG {
			q = q.For("UPDATE")
		}
		if err := q.Scan(ctx); err != nil {
			return err
		}

		if order.EmailsSent == nil {
			order.EmailsSent = models.EmailsSent{}
		}
		order.EmailsSent[emailType] = record
		order.UpdatedAt = now

		_, err := tx.NewUpdate().
			Model(&order).
			Column("emails_sent", "updated_at").
			Where("id = ?", id).
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ---------------- SHIPPING ADDRESSES ----------------

// SaveShippingAddress → remember an address for the user; repeats are ignored
func (d *DB) SaveShippingAddress(ctx context.Context, userID string, addr models.Address, now time.Time) error {
	rec := &models.ShippingAddress{
		ID:         uuid.NewString(),
		UserID:     userID,
		Name:       addr.Name,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		CreatedAt:  now,
	}
	_, err := d.Bun.NewInsert().Model(rec).On("CONFLICT DO NOTHING").Exec(ctx)
	return err
}

// ListShippingAddresses → addresses saved for a user, newest first
func (d *DB) ListShippingAddresses(ctx context.Context, userID string) ([]models.ShippingAddress, error) {
	var out []models.ShippingAddress
	err := d.Bun.NewSelect().
		Model(&out).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scan(ctx)
	return out, err
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
