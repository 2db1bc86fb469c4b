// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

const accountColumns = `id, name, email, password_hash, role, avatar, created_at, updated_at`

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	pool Pool
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// FindByID retrieves an account by ID.
func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*auth.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by id").
			With("id", id).
			Wrap(err)
	}
	return account, nil
}

// FindByEmail retrieves an account by email, ignoring case.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE lower(email) = lower($1)
	`, email)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by email").
			Wrap(err)
	}
	return account, nil
}

// Insert stores a new account and fills in its ID and timestamps.
func (r *AccountRepository) Insert(ctx context.Context, account *auth.Account) error {
	err := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO accounts (name, email, password_hash, role, avatar)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`,
		account.Name,
		account.Email,
		account.PasswordHash,
		string(account.Role),
		account.Avatar,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("ACCOUNT_EMAIL_TAKEN").Wrap(auth.ErrDuplicateEmail)
		}
		return oops.Code("ACCOUNT_INSERT_FAILED").
			With("operation", "insert account").
			Wrap(err)
	}
	return nil
}

// Update applies a partial update. Nil fields keep their stored value.
func (r *AccountRepository) Update(ctx context.Context, id int64, update auth.AccountUpdate) (*auth.Account, error) {
	var role *string
	if update.Role != nil {
		s := string(*update.Role)
		role = &s
	}

	row := conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE accounts SET
			name = COALESCE($2, name),
			avatar = COALESCE($3, avatar),
			password_hash = COALESCE($4, password_hash),
			role = COALESCE($5, role),
			updated_at = now()
		WHERE id = $1
		RETURNING `+accountColumns,
		id, update.Name, update.Avatar, update.PasswordHash, role,
	)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("id", id).
			Wrap(err)
	}
	return account, nil
}

// List returns accounts matching the filter, newest first.
func (r *AccountRepository) List(ctx context.Context, filter auth.AccountFilter) ([]*auth.Account, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE ($1::text = '' OR role = $1) AND ($2::bigint = 0 OR id <> $2)
		ORDER BY created_at DESC, id DESC
	`, string(filter.Role), filter.ExcludeID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "list accounts").
			Wrap(err)
	}
	defer rows.Close()

	accounts := make([]*auth.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_SCAN_FAILED").
				With("operation", "scan account row").
				Wrap(err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_ROWS_ERROR").
			With("operation", "iterate account rows").
			Wrap(err)
	}
	return accounts, nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		account auth.Account
		role    string
	)
	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&role,
		&account.Avatar,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // callers add context
	}
	account.Role = auth.Role(role)
	return &account, nil
}
