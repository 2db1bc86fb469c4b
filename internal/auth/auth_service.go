// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
)

// Service orchestrates account and session operations.
type Service struct {
	accounts AccountRepository
	sessions *SessionRotator
	hasher   PasswordHasher
	logger   *slog.Logger
}

// NewAuthService creates a new Service using the default logger.
func NewAuthService(accounts AccountRepository, sessions *SessionRotator, hasher PasswordHasher) (*Service, error) {
	return NewAuthServiceWithLogger(accounts, sessions, hasher, slog.Default())
}

// NewAuthServiceWithLogger creates a new Service with an explicit logger.
func NewAuthServiceWithLogger(accounts AccountRepository, sessions *SessionRotator, hasher PasswordHasher, logger *slog.Logger) (*Service, error) {
	if accounts == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("accounts repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("session rotator is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_SERVICE_INVALID").Errorf("logger is required")
	}
	return &Service{accounts: accounts, sessions: sessions, hasher: hasher, logger: logger}, nil
}

// dummyPasswordHash is verified when no account matches the email so that
// both failure paths of Login do the same work.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Account *Account
	Tokens  *TokenPair
}

// CreateAccount registers a new account with role User. A nil avatar leaves
// the account without one.
func (s *Service) CreateAccount(ctx context.Context, name, email, password string, avatar *string) (*Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	account := &Account{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		Role:         RoleUser,
		Avatar:       avatar,
	}
	if err := s.accounts.Insert(ctx, account); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, oops.Code(CodeDuplicateEmail).
				With(FieldKey, "email").
				Errorf("Email already exists")
		}
		return nil, oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "account created", "account_id", account.ID)
	return account, nil
}

// Login authenticates by email and password and starts a session. An unknown
// email and a wrong password fail with the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	account, lookupErr := s.accounts.FindByEmail(ctx, email)

	targetHash := dummyPasswordHash
	switch {
	case lookupErr == nil:
		targetHash = account.PasswordHash
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "find account by email").
			Wrap(lookupErr)
	}

	// Always verify, even against the dummy hash.
	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if lookupErr != nil {
		return nil, invalidCredentials()
	}
	if verifyErr != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			With("account_id", account.ID).
			Wrap(verifyErr)
	}
	if !valid {
		return nil, invalidCredentials()
	}

	if s.hasher.NeedsUpgrade(account.PasswordHash) {
		s.upgradeHash(ctx, account, password)
	}

	tokens, err := s.sessions.Issue(ctx, account.ID, account.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{Account: account, Tokens: tokens}, nil
}

// upgradeHash rehashes the password with current parameters. Failure does
// not fail the login.
func (s *Service) upgradeHash(ctx context.Context, account *Account, password string) {
	newHash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort password rehash failed",
			"operation", "upgrade_hash",
			"account_id", account.ID,
			"error", err)
		return
	}
	if _, err := s.accounts.Update(ctx, account.ID, AccountUpdate{PasswordHash: &newHash}); err != nil {
		s.logger.WarnContext(ctx, "best-effort password rehash failed",
			"operation", "upgrade_hash",
			"account_id", account.ID,
			"error", err)
		return
	}
	account.PasswordHash = newHash
}

// Logout ends the session a refresh token belongs to.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	return s.sessions.Revoke(ctx, refreshToken)
}

// Refresh rotates a refresh token into a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	return s.sessions.Rotate(ctx, refreshToken)
}

// ChangePassword replaces the password after checking the old one. A wrong
// old password is reported against the oldPassword field.
func (s *Service) ChangePassword(ctx context.Context, accountID int64, oldPassword, newPassword string) (*Account, error) {
	account, err := s.findByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	valid, err := s.hasher.Verify(oldPassword, account.PasswordHash)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CHANGE_PASSWORD_FAILED").
			With("operation", "verify password").
			With("account_id", accountID).
			Wrap(err)
	}
	if !valid {
		return nil, oops.Code(CodeInvalidCredentials).
			With(FieldKey, "oldPassword").
			Errorf("Old password is incorrect")
	}

	return s.setPassword(ctx, accountID, newPassword, "ACCOUNT_CHANGE_PASSWORD_FAILED")
}

// ResetPassword sets a new password for the account with the given email.
// Proof of identity is the caller's responsibility.
func (s *Service) ResetPassword(ctx context.Context, email, newPassword string) (*Account, error) {
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, accountNotFound("email", email)
		}
		return nil, oops.Code("ACCOUNT_RESET_PASSWORD_FAILED").
			With("operation", "find account by email").
			Wrap(err)
	}

	return s.setPassword(ctx, account.ID, newPassword, "ACCOUNT_RESET_PASSWORD_FAILED")
}

func (s *Service) setPassword(ctx context.Context, accountID int64, password, failCode string) (*Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code(failCode).
			With("operation", "hash password").
			With("account_id", accountID).
			Wrap(err)
	}

	updated, err := s.accounts.Update(ctx, accountID, AccountUpdate{PasswordHash: &hash})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, accountNotFound("account_id", accountID)
		}
		return nil, oops.Code(failCode).
			With("operation", "update password").
			With("account_id", accountID).
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "password updated", "account_id", accountID)
	return updated, nil
}

// GetAccount returns the account with the given ID.
func (s *Service) GetAccount(ctx context.Context, accountID int64) (*Account, error) {
	return s.findByID(ctx, accountID)
}

// ProfileUpdate holds the self-service profile fields. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	Name   *string
	Avatar *string
}

// UpdateProfile changes an account's name and avatar.
func (s *Service) UpdateProfile(ctx context.Context, accountID int64, update ProfileUpdate) (*Account, error) {
	if update.Name == nil && update.Avatar == nil {
		return s.findByID(ctx, accountID)
	}

	updated, err := s.accounts.Update(ctx, accountID, AccountUpdate{Name: update.Name, Avatar: update.Avatar})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, accountNotFound("account_id", accountID)
		}
		return nil, oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update profile").
			With("account_id", accountID).
			Wrap(err)
	}
	return updated, nil
}

// ListAccounts returns accounts matching the filter, newest first.
func (s *Service) ListAccounts(ctx context.Context, filter AccountFilter) ([]*Account, error) {
	accounts, err := s.accounts.List(ctx, filter)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "list accounts").
			Wrap(err)
	}
	return accounts, nil
}

// PromoteToAdmin grants the Admin role to the account with the given email.
func (s *Service) PromoteToAdmin(ctx context.Context, email string) (*Account, error) {
	account, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, accountNotFound("email", email)
		}
		return nil, oops.Code("ACCOUNT_PROMOTE_FAILED").
			With("operation", "find account by email").
			Wrap(err)
	}
	if account.Role == RoleAdmin {
		return account, nil
	}

	role := RoleAdmin
	updated, err := s.accounts.Update(ctx, account.ID, AccountUpdate{Role: &role})
	if err != nil {
		return nil, oops.Code("ACCOUNT_PROMOTE_FAILED").
			With("operation", "update role").
			With("account_id", account.ID).
			Wrap(err)
	}
	s.logger.InfoContext(ctx, "account promoted", "account_id", account.ID, "role", string(RoleAdmin))
	return updated, nil
}

func (s *Service) findByID(ctx context.Context, accountID int64) (*Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, accountNotFound("account_id", accountID)
		}
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "find account by id").
			With("account_id", accountID).
			Wrap(err)
	}
	return account, nil
}
