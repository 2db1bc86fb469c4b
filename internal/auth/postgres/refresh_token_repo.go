// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// RefreshTokenRepository implements auth.RefreshTokenRepository using
// PostgreSQL. Only the SHA-256 digest of a token is stored; the raw token is
// never written to the database.
type RefreshTokenRepository struct {
	pool Pool
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(pool Pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

// HashToken returns the hex SHA-256 digest used as the lookup key for token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Insert stores a new record.
func (r *RefreshTokenRepository) Insert(ctx context.Context, record *auth.RefreshTokenRecord) error {
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO refresh_tokens (token_hash, account_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4)
	`, HashToken(record.Token), record.AccountID, record.ExpiresAt, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			return oops.Code("REFRESH_TOKEN_EXISTS").
				With("account_id", record.AccountID).
				Wrap(err)
		}
		return oops.Code("REFRESH_TOKEN_INSERT_FAILED").
			With("operation", "insert refresh token").
			With("account_id", record.AccountID).
			Wrap(err)
	}
	return nil
}

// FindByToken retrieves the record for a token.
func (r *RefreshTokenRepository) FindByToken(ctx context.Context, token string) (*auth.RefreshTokenRecord, error) {
	rec := &auth.RefreshTokenRecord{Token: token}
	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT account_id, expires_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`, HashToken(token)).Scan(&rec.AccountID, &rec.ExpiresAt, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("REFRESH_TOKEN_GET_FAILED").
			With("operation", "get refresh token").
			Wrap(err)
	}
	return rec, nil
}

// DeleteByToken removes the record for a token. Of two concurrent deletes of
// the same token, the one that loses the row lock sees zero affected rows.
func (r *RefreshTokenRepository) DeleteByToken(ctx context.Context, token string) error {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM refresh_tokens WHERE token_hash = $1
	`, HashToken(token))
	if err != nil {
		return oops.Code("REFRESH_TOKEN_DELETE_FAILED").
			With("operation", "delete refresh token").
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return nil
}

// DeleteExpired removes records expiring at or before now.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := conn(ctx, r.pool).Exec(ctx, `
		DELETE FROM refresh_tokens WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_PURGE_FAILED").
			With("operation", "delete expired refresh tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}
