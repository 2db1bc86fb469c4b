// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/memory"
	"github.com/holomush/gatekeeper/internal/auth/mocks"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

func newTestRotator(t *testing.T) (*auth.SessionRotator, *auth.TokenCodec, *memory.Store) {
	t.Helper()
	codec := newTestCodec(t)
	store := memory.NewStore()
	rotator, err := auth.NewSessionRotator(codec, store.Accounts(), store.RefreshTokens(), store)
	require.NoError(t, err)
	return rotator, codec, store
}

// seedAccount stores an account so rotations can resolve its role.
func seedAccount(t *testing.T, store *memory.Store, email string, role auth.Role) *auth.Account {
	t.Helper()
	account := &auth.Account{Name: "Seed", Email: email, PasswordHash: "x", Role: role}
	require.NoError(t, store.Accounts().Insert(context.Background(), account))
	return account
}

func TestNewSessionRotator_NilDependencies(t *testing.T) {
	codec := newTestCodec(t)
	store := memory.NewStore()

	tests := []struct {
		name        string
		codec       *auth.TokenCodec
		accounts    auth.AccountLookup
		tokens      auth.RefreshTokenRepository
		tx          auth.Transactor
		expectError string
	}{
		{"nil codec", nil, store.Accounts(), store.RefreshTokens(), store, "token codec is required"},
		{"nil accounts", codec, nil, store.RefreshTokens(), store, "account lookup is required"},
		{"nil tokens", codec, store.Accounts(), nil, store, "refresh token repository is required"},
		{"nil transactor", codec, store.Accounts(), store.RefreshTokens(), nil, "transactor is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := auth.NewSessionRotator(tt.codec, tt.accounts, tt.tokens, tt.tx)
			require.Error(t, err)
			assert.Nil(t, r)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestSessionRotator_Issue(t *testing.T) {
	ctx := context.Background()
	rotator, codec, store := newTestRotator(t)

	pair, err := rotator.Issue(ctx, 5, auth.RoleUser)
	require.NoError(t, err)

	access, err := codec.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, int64(5), access.UserID)

	refresh, err := codec.VerifyRefresh(pair.RefreshToken)
	require.NoError(t, err)

	rec, err := store.RefreshTokens().FindByToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.AccountID)
	assert.True(t, rec.ExpiresAt.Equal(refresh.ExpiresAt), "record expiry must be the embedded expiry")
	assert.True(t, rec.ExpiresAt.Equal(pair.RefreshExpiresAt))
}

func TestSessionRotator_Rotate(t *testing.T) {
	ctx := context.Background()

	t.Run("consumes the presented token", func(t *testing.T) {
		rotator, _, store := newTestRotator(t)
		account := seedAccount(t, store, "ann@example.com", auth.RoleUser)
		a, err := rotator.Issue(ctx, account.ID, account.Role)
		require.NoError(t, err)

		b, err := rotator.Rotate(ctx, a.RefreshToken)
		require.NoError(t, err)
		assert.NotEqual(t, a.RefreshToken, b.RefreshToken)
		assert.Equal(t, 1, store.RefreshTokens().Len())

		_, err = rotator.Rotate(ctx, a.RefreshToken)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, auth.CodeSessionNotFound)

		_, err = rotator.Rotate(ctx, b.RefreshToken)
		require.NoError(t, err)
	})

	t.Run("chain preserves the original expiry", func(t *testing.T) {
		rotator, codec, store := newTestRotator(t)
		account := seedAccount(t, store, "root@example.com", auth.RoleAdmin)
		pair, err := rotator.Issue(ctx, account.ID, account.Role)
		require.NoError(t, err)
		original := pair.RefreshExpiresAt

		for i := 0; i < 5; i++ {
			pair, err = rotator.Rotate(ctx, pair.RefreshToken)
			require.NoError(t, err)

			payload, err := codec.VerifyRefresh(pair.RefreshToken)
			require.NoError(t, err)
			assert.True(t, original.Equal(payload.ExpiresAt), "rotation %d moved the expiry", i)
			assert.Equal(t, auth.RoleAdmin, payload.Role)
		}
	})

	t.Run("never issued token is not a session", func(t *testing.T) {
		rotator, codec, store := newTestRotator(t)
		account := seedAccount(t, store, "ann@example.com", auth.RoleUser)
		stray, err := codec.SignRefresh(auth.TokenPayload{UserID: account.ID, Role: auth.RoleUser}, nil)
		require.NoError(t, err)

		_, err = rotator.Rotate(ctx, stray.Token)
		errutil.AssertErrorCode(t, err, auth.CodeSessionNotFound)
	})

	t.Run("invalid token fails before lookup", func(t *testing.T) {
		rotator, _, _ := newTestRotator(t)
		pair, err := rotator.Issue(ctx, 1, auth.RoleUser)
		require.NoError(t, err)

		_, err = rotator.Rotate(ctx, tamper(pair.RefreshToken))
		errutil.AssertErrorCode(t, err, auth.CodeInvalidToken)

		_, err = rotator.Rotate(ctx, pair.AccessToken)
		errutil.AssertErrorCode(t, err, auth.CodeInvalidToken)
	})

	t.Run("failed replacement keeps the old record", func(t *testing.T) {
		codec := newTestCodec(t)
		store := memory.NewStore()
		tokens := &failingInsertRepo{RefreshTokenRepository: store.RefreshTokens()}
		rotator, err := auth.NewSessionRotator(codec, store.Accounts(), tokens, store)
		require.NoError(t, err)
		account := seedAccount(t, store, "ann@example.com", auth.RoleUser)

		pair, err := rotator.Issue(ctx, account.ID, account.Role)
		require.NoError(t, err)

		tokens.failInsert = true
		_, err = rotator.Rotate(ctx, pair.RefreshToken)
		require.Error(t, err)
		errutil.AssertErrorCode(t, err, "SESSION_ROTATE_FAILED")

		_, err = store.RefreshTokens().FindByToken(ctx, pair.RefreshToken)
		require.NoError(t, err, "rollback must restore the consumed record")
		assert.Equal(t, 1, store.RefreshTokens().Len())
	})

	t.Run("signs with the stored role not the presented one", func(t *testing.T) {
		rotator, codec, store := newTestRotator(t)
		account := seedAccount(t, store, "ann@example.com", auth.RoleUser)
		pair, err := rotator.Issue(ctx, account.ID, auth.RoleUser)
		require.NoError(t, err)

		admin := auth.RoleAdmin
		_, err = store.Accounts().Update(ctx, account.ID, auth.AccountUpdate{Role: &admin})
		require.NoError(t, err)

		rotated, err := rotator.Rotate(ctx, pair.RefreshToken)
		require.NoError(t, err)
		access, err := codec.VerifyAccess(rotated.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, access.Role)
		refresh, err := codec.VerifyRefresh(rotated.RefreshToken)
		require.NoError(t, err)
		assert.Equal(t, auth.RoleAdmin, refresh.Role)
	})

	t.Run("missing account is not a session", func(t *testing.T) {
		rotator, _, store := newTestRotator(t)
		pair, err := rotator.Issue(ctx, 99, auth.RoleUser)
		require.NoError(t, err)

		_, err = rotator.Rotate(ctx, pair.RefreshToken)
		errutil.AssertErrorCode(t, err, auth.CodeSessionNotFound)
		assert.Equal(t, 1, store.RefreshTokens().Len(), "a failed rotation must not consume the record")
	})

	t.Run("account lookup failure is internal", func(t *testing.T) {
		codec := newTestCodec(t)
		store := memory.NewStore()
		accounts := mocks.NewMockAccountRepository(t)
		accounts.On("FindByID", mock.Anything, int64(7)).Return(nil, errors.New("connection reset"))
		rotator, err := auth.NewSessionRotator(codec, accounts, store.RefreshTokens(), store)
		require.NoError(t, err)

		pair, err := rotator.Issue(ctx, 7, auth.RoleUser)
		require.NoError(t, err)

		_, err = rotator.Rotate(ctx, pair.RefreshToken)
		errutil.AssertErrorCode(t, err, "SESSION_ROTATE_FAILED")
	})
}

func TestService_RefreshAfterPromotion(t *testing.T) {
	ctx := context.Background()
	f := newServiceFixture(t)
	_, err := f.svc.CreateAccount(ctx, "Ann", "ann@example.com", "s3cret", nil)
	require.NoError(t, err)

	login, err := f.svc.Login(ctx, "ann@example.com", "s3cret")
	require.NoError(t, err)
	_, err = f.svc.PromoteToAdmin(ctx, "ann@example.com")
	require.NoError(t, err)

	rotated, err := f.svc.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	access, err := f.codec.VerifyAccess(rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, access.Role)
}

func TestSessionRotator_ConcurrentReplay(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	rotator, _, store := newTestRotator(t)
	account := seedAccount(t, store, "ann@example.com", auth.RoleUser)
	pair, err := rotator.Issue(ctx, account.ID, account.Role)
	require.NoError(t, err)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		notFound  int
	)
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := rotator.Rotate(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case auth.CodeOf(err) == auth.CodeSessionNotFound:
				notFound++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, notFound)
	assert.Equal(t, 1, store.RefreshTokens().Len())
}

func TestSessionRotator_Revoke(t *testing.T) {
	ctx := context.Background()
	rotator, _, store := newTestRotator(t)
	pair, err := rotator.Issue(ctx, 1, auth.RoleUser)
	require.NoError(t, err)

	require.NoError(t, rotator.Revoke(ctx, pair.RefreshToken))
	assert.Equal(t, 0, store.RefreshTokens().Len())

	err = rotator.Revoke(ctx, pair.RefreshToken)
	errutil.AssertErrorCode(t, err, auth.CodeSessionNotFound)

	_, err = rotator.Rotate(ctx, pair.RefreshToken)
	errutil.AssertErrorCode(t, err, auth.CodeSessionNotFound)
}

func TestSessionRotator_PurgeExpired(t *testing.T) {
	ctx := context.Background()
	rotator, _, store := newTestRotator(t)
	_, err := rotator.Issue(ctx, 1, auth.RoleUser)
	require.NoError(t, err)
	require.NoError(t, store.RefreshTokens().Insert(ctx, &auth.RefreshTokenRecord{
		Token: "stale", AccountID: 1, ExpiresAt: time.Now().Add(-time.Hour),
	}))

	n, err := rotator.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.RefreshTokens().Len())
}

// failingInsertRepo fails Insert on demand to exercise rollback.
type failingInsertRepo struct {
	auth.RefreshTokenRepository
	failInsert bool
}

func (r *failingInsertRepo) Insert(ctx context.Context, rec *auth.RefreshTokenRecord) error {
	if r.failInsert {
		return errors.New("insert failed")
	}
	return r.RefreshTokenRepository.Insert(ctx, rec)
}
