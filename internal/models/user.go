package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID          string     `bun:"id,pk" json:"id"`
	Email       string     `bun:"email,unique,nullzero" json:"email,omitempty"`
	Phone       string     `bun:"phone,unique,nullzero" json:"phone,omitempty"`
	Role        Role       `bun:"role,notnull" json:"role"`
	CreatedAt   time.Time  `bun:"created_at,notnull" json:"created_at"`
	LastLoginAt *time.Time `bun:"last_login_at" json:"last_login_at,omitempty"`
}

// Session is the identity attached to an opaque bearer token.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email,omitempty"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Session) IsAdmin() bool {
	return s != nil && s.Role == RoleAdmin
}
