// Package database opens the relational store and owns the bun schema used
// by SQLite development mode and the test suites. Production Postgres is
// migrated with the SQL files under migrations/.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-orders/internal/config"
	"ms-orders/internal/logger"
	"ms-orders/internal/models"
)

// Open connects to Postgres (or SQLite in development) and retries the first
// ping while the database container is still starting.
func Open(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (*bun.DB, error) {
	switch cfg.Driver {
	case "sqlite":
		sqldb, err := sql.Open(sqliteshim.ShimName, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqldb.SetMaxOpenConns(1)
		db := bun.NewDB(sqldb, sqlitedialect.New())
		if err := CreateSchema(ctx, db); err != nil {
			return nil, err
		}
		log.Warn("DATABASE", fmt.Sprintf("Using SQLite at %s, not for production", cfg.SQLitePath))
		return db, nil

	case "postgres", "":
		sqldb, err := sql.Open("postgres", cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
		sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

		const maxRetries = 5
		for i := 1; i <= maxRetries; i++ {
			pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
			err = sqldb.PingContext(pingCtx)
			cancel()
			if err == nil {
				log.Info("DATABASE", fmt.Sprintf("PostgreSQL connected (attempt %d)", i))
				return bun.NewDB(sqldb, pgdialect.New()), nil
			}
			log.Warn("DATABASE", fmt.Sprintf("PostgreSQL ping failed (attempt %d/%d): %v", i, maxRetries, err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(2 * time.Second):
			}
		}
		return nil, fmt.Errorf("postgres unreachable after %d attempts: %w", maxRetries, err)

	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.Driver)
	}
}

var tables = []interface{}{
	(*models.User)(nil),
	(*models.Order)(nil),
	(*models.Payment)(nil),
	(*models.Voucher)(nil),
	(*models.VoucherUsage)(nil),
	(*models.ShippingAddress)(nil),
}

// CreateSchema creates every table and index from the bun models. It mirrors
// migrations/000001_init.up.sql.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, model := range tables {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}

	indexes := []*bun.CreateIndexQuery{
		db.NewCreateIndex().Model((*models.Order)(nil)).Index("orders_user_id_idx").Column("user_id").IfNotExists(),
		db.NewCreateIndex().Model((*models.Order)(nil)).Index("orders_status_created_at_idx").Column("status", "created_at").IfNotExists(),
		db.NewCreateIndex().Model((*models.Payment)(nil)).Index("payments_order_id_idx").Column("order_id").IfNotExists(),
		db.NewCreateIndex().Model((*models.Payment)(nil)).Unique().Index("payments_intent_succeeded_uidx").
			Column("payment_intent_id").Where("status = 'succeeded'").IfNotExists(),
		db.NewCreateIndex().Model((*models.VoucherUsage)(nil)).Unique().Index("voucher_usages_voucher_order_uidx").
			Column("voucher_id", "order_id").IfNotExists(),
		db.NewCreateIndex().Model((*models.VoucherUsage)(nil)).Index("voucher_usages_voucher_email_idx").
			Column("voucher_id", "user_email").IfNotExists(),
		db.NewCreateIndex().Model((*models.ShippingAddress)(nil)).Unique().Index("shipping_addresses_user_addr_uidx").
			Column("user_id", "line1", "postal_code", "country").IfNotExists(),
	}
	for _, q := range indexes {
		if _, err := q.Exec(ctx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}
