// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"slices"
	"time"

	"github.com/samber/oops"
)

// Role is an account's authorization role. The set is closed and carries no
// hierarchy.
type Role string

// Roles.
const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleUser}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return slices.Contains(Roles, r)
}

// ParseRole converts s into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", oops.Code("AUTH_INVALID_ROLE").With("role", s).Errorf("unknown role %q", s)
	}
	return r, nil
}

// Account is a registered account holder. PasswordHash never leaves the
// service boundary.
type Account struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Role         Role
	Avatar       *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AccountUpdate is a partial update. Nil fields are left unchanged.
type AccountUpdate struct {
	Name         *string
	Avatar       *string
	PasswordHash *string
	Role         *Role
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.Name == nil && u.Avatar == nil && u.PasswordHash == nil && u.Role == nil
}

// AccountFilter narrows ListAccounts.
type AccountFilter struct {
	// Role restricts results to one role when non-empty.
	Role Role
	// ExcludeID omits one account, typically the caller.
	ExcludeID int64
}

// AccountRepository manages account persistence.
type AccountRepository interface {
	// FindByID retrieves an account by ID.
	// Returns ErrNotFound if no account has the given ID.
	FindByID(ctx context.Context, id int64) (*Account, error)

	// FindByEmail retrieves an account by email.
	// Returns ErrNotFound if no account has the given email.
	FindByEmail(ctx context.Context, email string) (*Account, error)

	// Insert stores a new account and fills in its ID and timestamps.
	// Returns ErrDuplicateEmail if the email is already taken.
	Insert(ctx context.Context, account *Account) error

	// Update applies a partial update and returns the stored account.
	// Returns ErrNotFound if no account has the given ID.
	Update(ctx context.Context, id int64, update AccountUpdate) (*Account, error)

	// List returns accounts matching the filter, newest first.
	List(ctx context.Context, filter AccountFilter) ([]*Account, error)
}
