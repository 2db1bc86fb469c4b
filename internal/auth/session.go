// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"errors"
	"time"

	"github.com/samber/oops"
)

// RefreshTokenRecord is the server-side counterpart of an outstanding
// refresh token. Exactly one record exists per live refresh token.
type RefreshTokenRecord struct {
	Token     string
	AccountID int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IsExpiredAt returns true if the record would be expired at the given time.
func (r *RefreshTokenRecord) IsExpiredAt(t time.Time) bool {
	return !t.Before(r.ExpiresAt)
}

// RefreshTokenRepository manages refresh-token persistence.
type RefreshTokenRepository interface {
	// Insert stores a new record.
	Insert(ctx context.Context, record *RefreshTokenRecord) error

	// FindByToken retrieves the record for a token.
	// Returns ErrNotFound if there is none.
	FindByToken(ctx context.Context, token string) (*RefreshTokenRecord, error)

	// DeleteByToken removes the record for a token.
	// Returns ErrNotFound if nothing was deleted, so that of two concurrent
	// deletes of the same token only one succeeds.
	DeleteByToken(ctx context.Context, token string) error

	// DeleteExpired removes records expiring at or before now and returns
	// the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Transactor runs fn inside a single unit of work. Repository calls made
// with the context passed to fn participate in it. The unit is committed
// when fn returns nil and rolled back otherwise.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// TokenPair is the credential pair handed to a client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AccountLookup resolves the account behind a session.
type AccountLookup interface {
	FindByID(ctx context.Context, id int64) (*Account, error)
}

// SessionRotator owns the lifecycle of refresh-token records.
type SessionRotator struct {
	codec    *TokenCodec
	accounts AccountLookup
	tokens   RefreshTokenRepository
	tx       Transactor
	now      func() time.Time
}

// NewSessionRotator creates a SessionRotator. Rotated pairs are signed with
// the role currently stored for the account, looked up through accounts.
func NewSessionRotator(codec *TokenCodec, accounts AccountLookup, tokens RefreshTokenRepository, tx Transactor) (*SessionRotator, error) {
	if codec == nil {
		return nil, oops.Code("SESSION_ROTATOR_INVALID").Errorf("token codec is required")
	}
	if accounts == nil {
		return nil, oops.Code("SESSION_ROTATOR_INVALID").Errorf("account lookup is required")
	}
	if tokens == nil {
		return nil, oops.Code("SESSION_ROTATOR_INVALID").Errorf("refresh token repository is required")
	}
	if tx == nil {
		return nil, oops.Code("SESSION_ROTATOR_INVALID").Errorf("transactor is required")
	}
	return &SessionRotator{codec: codec, accounts: accounts, tokens: tokens, tx: tx, now: codec.now}, nil
}

// Issue starts a new session: it signs both tokens and persists a record
// whose expiry is the one embedded in the refresh token.
func (r *SessionRotator) Issue(ctx context.Context, accountID int64, role Role) (*TokenPair, error) {
	pair, refresh, err := r.mint(accountID, role, nil)
	if err != nil {
		return nil, err
	}

	record := &RefreshTokenRecord{
		Token:     pair.RefreshToken,
		AccountID: accountID,
		ExpiresAt: refresh.ExpiresAt,
		CreatedAt: r.now(),
	}
	if err := r.tokens.Insert(ctx, record); err != nil {
		return nil, oops.Code("SESSION_ISSUE_FAILED").
			With("operation", "insert refresh token").
			With("account_id", accountID).
			Wrap(err)
	}
	return pair, nil
}

// Rotate exchanges a refresh token for a new pair. The new refresh token
// keeps the original session expiry and both tokens carry the account's
// stored role. The presented token is consumed: a second use, concurrent or
// not, fails with SESSION_NOT_FOUND, as does a session whose account is gone.
func (r *SessionRotator) Rotate(ctx context.Context, presented string) (*TokenPair, error) {
	payload, err := r.codec.VerifyRefresh(presented)
	if err != nil {
		return nil, err
	}

	record, err := r.tokens.FindByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, sessionNotFound()
		}
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "find refresh token").
			Wrap(err)
	}
	if record.AccountID != payload.UserID {
		return nil, oops.Code(CodeInvalidToken).
			With("account_id", record.AccountID).
			With("token_user_id", payload.UserID).
			Errorf("refresh token does not belong to the session owner")
	}

	account, err := r.accounts.FindByID(ctx, record.AccountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, sessionNotFound()
		}
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "find account").
			With("account_id", record.AccountID).
			Wrap(err)
	}

	ceiling := record.ExpiresAt
	pair, refresh, err := r.mint(account.ID, account.Role, &ceiling)
	if err != nil {
		return nil, err
	}

	next := &RefreshTokenRecord{
		Token:     pair.RefreshToken,
		AccountID: record.AccountID,
		ExpiresAt: refresh.ExpiresAt,
		CreatedAt: r.now(),
	}
	err = r.tx.InTransaction(ctx, func(ctx context.Context) error {
		if err := r.tokens.DeleteByToken(ctx, presented); err != nil {
			return err
		}
		return r.tokens.Insert(ctx, next)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, sessionNotFound()
		}
		return nil, oops.Code("SESSION_ROTATE_FAILED").
			With("operation", "replace refresh token").
			With("account_id", record.AccountID).
			Wrap(err)
	}
	return pair, nil
}

// Revoke deletes the record for a refresh token.
func (r *SessionRotator) Revoke(ctx context.Context, token string) error {
	if err := r.tokens.DeleteByToken(ctx, token); err != nil {
		if errors.Is(err, ErrNotFound) {
			return sessionNotFound()
		}
		return oops.Code("SESSION_REVOKE_FAILED").
			With("operation", "delete refresh token").
			Wrap(err)
	}
	return nil
}

// PurgeExpired removes records whose sessions have passed their expiry.
func (r *SessionRotator) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := r.tokens.DeleteExpired(ctx, r.now())
	if err != nil {
		return 0, oops.Code("SESSION_PURGE_FAILED").Wrap(err)
	}
	return n, nil
}

func (r *SessionRotator) mint(accountID int64, role Role, ceiling *time.Time) (*TokenPair, SignedToken, error) {
	payload := TokenPayload{UserID: accountID, Role: role}

	access, err := r.codec.SignAccess(payload)
	if err != nil {
		return nil, SignedToken{}, err
	}
	refresh, err := r.codec.SignRefresh(payload, ceiling)
	if err != nil {
		return nil, SignedToken{}, err
	}

	return &TokenPair{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}, refresh, nil
}
