// Package users persists the accounts created on first successful login.
package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"ms-orders/internal/apperr"
	"ms-orders/internal/models"
)

type DB struct {
	Bun *bun.DB
	Now func() time.Time
}

func New(db *bun.DB) *DB {
	return &DB{Bun: db, Now: time.Now}
}

// FindOrCreate → look up a user by email or phone, inserting one on first
// login. last_login_at is refreshed either way.
func (d *DB) FindOrCreate(ctx context.Context, email, phone string) (*models.User, error) {
	if email == "" && phone == "" {
		return nil, apperr.Validation("email or phone is required")
	}

	column, value := "email", email
	if email == "" {
		column, value = "phone", phone
	}
	now := d.Now().UTC()

	user, err := d.findBy(ctx, column, value)
	if err == nil {
		return user, d.touch(ctx, user, now)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find user by %s: %w", column, err)
	}

	user = &models.User{
		ID:          uuid.NewString(),
		Email:       email,
		Phone:       phone,
		Role:        models.RoleUser,
		CreatedAt:   now,
		LastLoginAt: &now,
	}
	res, err := d.Bun.NewInsert().Model(user).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return user, nil
	}

	// A concurrent login inserted the same identifier first.
	user, err = d.findBy(ctx, column, value)
	if err != nil {
		return nil, fmt.Errorf("find user by %s after conflict: %w", column, err)
	}
	return user, d.touch(ctx, user, now)
}

// GetByID → fetch one user
func (d *DB) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, err := d.findBy(ctx, "id", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("user %s not found", id)
	}
	return user, err
}

// EnsureAdmin upserts the administrator account used by PIN login.
func (d *DB) EnsureAdmin(ctx context.Context, email string) (*models.User, error) {
	user, err := d.FindOrCreate(ctx, email, "")
	if err != nil {
		return nil, err
	}
	if user.Role == models.RoleAdmin {
		return user, nil
	}
	user.Role = models.RoleAdmin
	if _, err := d.Bun.NewUpdate().Model(user).Column("role").WherePK().Exec(ctx); err != nil {
		return nil, fmt.Errorf("promote admin: %w", err)
	}
	return user, nil
}

func (d *DB) findBy(ctx context.Context, column, value string) (*models.User, error) {
	var user models.User
	err := d.Bun.NewSelect().
		Model(&user).
		Where("? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (d *DB) touch(ctx context.Context, user *models.User, now time.Time) error {
	user.LastLoginAt = &now
	_, err := d.Bun.NewUpdate().Model(user).Column("last_login_at").WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}
