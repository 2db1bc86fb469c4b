// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package memory provides in-process implementations of the auth
// repositories. All state lives in one Store guarded by a single mutex;
// a transaction holds that mutex for its whole duration and restores a
// snapshot when it fails.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Store holds accounts and refresh-token records.
type Store struct {
	mu       sync.Mutex
	now      func() time.Time
	nextID   int64
	accounts map[int64]*auth.Account
	byEmail  map[string]int64
	tokens   map[string]auth.RefreshTokenRecord
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		now:      time.Now,
		accounts: make(map[int64]*auth.Account),
		byEmail:  make(map[string]int64),
		tokens:   make(map[string]auth.RefreshTokenRecord),
	}
}

// Accounts returns the account repository view of the store.
func (s *Store) Accounts() *AccountRepository {
	return &AccountRepository{store: s}
}

// RefreshTokens returns the refresh-token repository view of the store.
func (s *Store) RefreshTokens() *RefreshTokenRepository {
	return &RefreshTokenRepository{store: s}
}

type txKey struct{}

// InTransaction runs fn with the store locked. Changes made by fn are
// discarded if it returns an error.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return oops.Code("TX_NESTED").Errorf("nested transactions are not supported")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

// lock acquires the store mutex unless ctx already runs inside one of this
// store's transactions. The returned func releases it.
func (s *Store) lock(ctx context.Context) func() {
	if owner, ok := ctx.Value(txKey{}).(*Store); ok && owner == s {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	nextID   int64
	accounts map[int64]*auth.Account
	byEmail  map[string]int64
	tokens   map[string]auth.RefreshTokenRecord
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		nextID:   s.nextID,
		accounts: make(map[int64]*auth.Account, len(s.accounts)),
		byEmail:  make(map[string]int64, len(s.byEmail)),
		tokens:   make(map[string]auth.RefreshTokenRecord, len(s.tokens)),
	}
	for id, a := range s.accounts {
		snap.accounts[id] = cloneAccount(a)
	}
	for email, id := range s.byEmail {
		snap.byEmail[email] = id
	}
	for token, rec := range s.tokens {
		snap.tokens[token] = rec
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.nextID = snap.nextID
	s.accounts = snap.accounts
	s.byEmail = snap.byEmail
	s.tokens = snap.tokens
}

func emailKey(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneAccount(a *auth.Account) *auth.Account {
	c := *a
	if a.Avatar != nil {
		avatar := *a.Avatar
		c.Avatar = &avatar
	}
	return &c
}

// AccountRepository implements auth.AccountRepository.
type AccountRepository struct {
	store *Store
}

// FindByID retrieves an account by ID.
func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*auth.Account, error) {
	defer r.store.lock(ctx)()

	a, ok := r.store.accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	return cloneAccount(a), nil
}

// FindByEmail retrieves an account by email, ignoring case.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*auth.Account, error) {
	defer r.store.lock(ctx)()

	id, ok := r.store.byEmail[emailKey(email)]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return cloneAccount(r.store.accounts[id]), nil
}

// Insert stores a new account.
func (r *AccountRepository) Insert(ctx context.Context, account *auth.Account) error {
	defer r.store.lock(ctx)()

	key := emailKey(account.Email)
	if _, taken := r.store.byEmail[key]; taken {
		return oops.Code("ACCOUNT_EMAIL_TAKEN").Wrap(auth.ErrDuplicateEmail)
	}

	r.store.nextID++
	now := r.store.now()
	account.ID = r.store.nextID
	account.CreatedAt = now
	account.UpdatedAt = now

	r.store.accounts[account.ID] = cloneAccount(account)
	r.store.byEmail[key] = account.ID
	return nil
}

// Update applies a partial update.
func (r *AccountRepository) Update(ctx context.Context, id int64, update auth.AccountUpdate) (*auth.Account, error) {
	defer r.store.lock(ctx)()

	a, ok := r.store.accounts[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id).Wrap(auth.ErrNotFound)
	}
	if update.Name != nil {
		a.Name = *update.Name
	}
	if update.Avatar != nil {
		avatar := *update.Avatar
		a.Avatar = &avatar
	}
	if update.PasswordHash != nil {
		a.PasswordHash = *update.PasswordHash
	}
	if update.Role != nil {
		a.Role = *update.Role
	}
	a.UpdatedAt = r.store.now()
	return cloneAccount(a), nil
}

// List returns accounts matching the filter, newest first.
func (r *AccountRepository) List(ctx context.Context, filter auth.AccountFilter) ([]*auth.Account, error) {
	defer r.store.lock(ctx)()

	result := make([]*auth.Account, 0, len(r.store.accounts))
	for _, a := range r.store.accounts {
		if filter.Role != "" && a.Role != filter.Role {
			continue
		}
		if filter.ExcludeID != 0 && a.ID == filter.ExcludeID {
			continue
		}
		result = append(result, cloneAccount(a))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// RefreshTokenRepository implements auth.RefreshTokenRepository.
type RefreshTokenRepository struct {
	store *Store
}

// Insert stores a new record.
func (r *RefreshTokenRepository) Insert(ctx context.Context, record *auth.RefreshTokenRecord) error {
	defer r.store.lock(ctx)()

	if _, exists := r.store.tokens[record.Token]; exists {
		return oops.Code("REFRESH_TOKEN_EXISTS").Errorf("refresh token already stored")
	}
	r.store.tokens[record.Token] = *record
	return nil
}

// FindByToken retrieves the record for a token.
func (r *RefreshTokenRepository) FindByToken(ctx context.Context, token string) (*auth.RefreshTokenRecord, error) {
	defer r.store.lock(ctx)()

	rec, ok := r.store.tokens[token]
	if !ok {
		return nil, oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	return &rec, nil
}

// DeleteByToken removes the record for a token.
func (r *RefreshTokenRepository) DeleteByToken(ctx context.Context, token string) error {
	defer r.store.lock(ctx)()

	if _, ok := r.store.tokens[token]; !ok {
		return oops.Code("REFRESH_TOKEN_NOT_FOUND").Wrap(auth.ErrNotFound)
	}
	delete(r.store.tokens, token)
	return nil
}

// DeleteExpired removes records expiring at or before now.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	defer r.store.lock(ctx)()

	var n int64
	for token, rec := range r.store.tokens {
		if !rec.ExpiresAt.After(now) {
			delete(r.store.tokens, token)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored refresh-token records.
func (r *RefreshTokenRepository) Len() int {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return len(r.store.tokens)
}
