// Package users manages user accounts and their role assignment.
package users

import (
	"time"

	"github.com/meridianhq/meridian/internal/roles"
)

// User is an account holding at most one role and at most one company.
// A user without a company is a platform-internal account.
type User struct {
	ID           int64
	Email        string
	Name         string
	RoleID       *int64
	CompanyID    *int64
	IsActive     bool
	PasswordHash string `json:"-"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// WithRole bundles a user with its eagerly joined role.
type WithRole struct {
	User
	Role *roles.Role
}

// PlatformInternal reports whether the user belongs to no company and is
// therefore excluded from company-scoped validation paths.
func (u User) PlatformInternal() bool { return u.CompanyID == nil }
