// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

//go:build integration

package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/store"
)

// testPool is the shared database pool for integration tests.
var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("gatekeeper_test"),
		tcpostgres.WithUsername("gatekeeper"),
		tcpostgres.WithPassword("gatekeeper"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		panic("failed to start postgres container: " + err.Error())
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to get connection string: " + err.Error())
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to create migrator: " + err.Error())
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		panic("failed to run migrations: " + err.Error())
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, connStr, store.ConnectOptions{})
	if err != nil {
		_ = container.Terminate(ctx)
		panic("failed to connect: " + err.Error())
	}
	testPool = pool

	code := m.Run()

	pool.Close()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func createTestAccount(ctx context.Context, t *testing.T, email string) *auth.Account {
	t.Helper()
	account := &auth.Account{Name: "Test", Email: email, PasswordHash: "testhash", Role: auth.RoleUser}
	require.NoError(t, postgres.NewAccountRepository(testPool).Insert(ctx, account))
	t.Cleanup(func() {
		_, _ = testPool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, account.ID)
	})
	return account
}

func TestAccountRepository_Integration(t *testing.T) {
	ctx := context.Background()
	repo := postgres.NewAccountRepository(testPool)

	account := createTestAccount(ctx, t, "Mixed.Case@Example.com")
	assert.Positive(t, account.ID)
	assert.False(t, account.CreatedAt.IsZero())

	t.Run("email lookup ignores case", func(t *testing.T) {
		got, err := repo.FindByEmail(ctx, "mixed.case@example.com")
		require.NoError(t, err)
		assert.Equal(t, account.ID, got.ID)
	})

	t.Run("duplicate email", func(t *testing.T) {
		err := repo.Insert(ctx, &auth.Account{Name: "Dup", Email: "MIXED.CASE@example.com", PasswordHash: "h", Role: auth.RoleUser})
		assert.ErrorIs(t, err, auth.ErrDuplicateEmail)
	})

	t.Run("partial update keeps other fields", func(t *testing.T) {
		avatar := "https://example.com/a.png"
		updated, err := repo.Update(ctx, account.ID, auth.AccountUpdate{Avatar: &avatar})
		require.NoError(t, err)
		assert.Equal(t, "Test", updated.Name)
		assert.Equal(t, "testhash", updated.PasswordHash)
		require.NotNil(t, updated.Avatar)
		assert.Equal(t, avatar, *updated.Avatar)
	})

	t.Run("missing account", func(t *testing.T) {
		_, err := repo.FindByID(ctx, -1)
		assert.ErrorIs(t, err, auth.ErrNotFound)
		_, err = repo.Update(ctx, -1, auth.AccountUpdate{})
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("list excludes and filters", func(t *testing.T) {
		other := createTestAccount(ctx, t, "other-list@example.com")
		list, err := repo.List(ctx, auth.AccountFilter{Role: auth.RoleUser, ExcludeID: account.ID})
		require.NoError(t, err)

		var ids []int64
		for _, a := range list {
			ids = append(ids, a.ID)
		}
		assert.Contains(t, ids, other.ID)
		assert.NotContains(t, ids, account.ID)
	})
}

func TestSessionRotator_Integration(t *testing.T) {
	ctx := context.Background()
	account := createTestAccount(ctx, t, "rotator@example.com")

	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		AccessSecret:  []byte("integration-access"),
		RefreshSecret: []byte("integration-refresh"),
	})
	require.NoError(t, err)
	rotator, err := auth.NewSessionRotator(codec, postgres.NewAccountRepository(testPool), postgres.NewRefreshTokenRepository(testPool), postgres.NewTransactor(testPool))
	require.NoError(t, err)

	t.Run("stores only the token digest", func(t *testing.T) {
		pair, err := rotator.Issue(ctx, account.ID, account.Role)
		require.NoError(t, err)

		var raw int
		err = testPool.QueryRow(ctx, `SELECT count(*) FROM refresh_tokens WHERE token_hash = $1`, pair.RefreshToken).Scan(&raw)
		require.NoError(t, err)
		assert.Zero(t, raw)

		var hashed int
		err = testPool.QueryRow(ctx, `SELECT count(*) FROM refresh_tokens WHERE token_hash = $1`, postgres.HashToken(pair.RefreshToken)).Scan(&hashed)
		require.NoError(t, err)
		assert.Equal(t, 1, hashed)
	})

	t.Run("rotation chain keeps expiry and consumes tokens", func(t *testing.T) {
		a, err := rotator.Issue(ctx, account.ID, account.Role)
		require.NoError(t, err)
		b, err := rotator.Rotate(ctx, a.RefreshToken)
		require.NoError(t, err)
		assert.True(t, a.RefreshExpiresAt.Equal(b.RefreshExpiresAt))

		_, err = rotator.Rotate(ctx, a.RefreshToken)
		assert.Equal(t, auth.CodeSessionNotFound, auth.CodeOf(err))
	})

	t.Run("concurrent replay has one winner", func(t *testing.T) {
		pair, err := rotator.Issue(ctx, account.ID, account.Role)
		require.NoError(t, err)

		const callers = 8
		results := make([]error, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, results[i] = rotator.Rotate(ctx, pair.RefreshToken)
			}()
		}
		wg.Wait()

		var wins int
		for _, err := range results {
			if err == nil {
				wins++
				continue
			}
			assert.Equal(t, auth.CodeSessionNotFound, auth.CodeOf(err))
		}
		assert.Equal(t, 1, wins)
	})

	t.Run("purge removes expired records", func(t *testing.T) {
		require.NoError(t, postgres.NewRefreshTokenRepository(testPool).Insert(ctx, &auth.RefreshTokenRecord{
			Token: "stale-integration", AccountID: account.ID, ExpiresAt: time.Now().Add(-time.Hour),
		}))
		n, err := rotator.PurgeExpired(ctx)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))
	})

	t.Run("deleting an account cascades to its sessions", func(t *testing.T) {
		doomed := createTestAccount(ctx, t, "cascade@example.com")
		pair, err := rotator.Issue(ctx, doomed.ID, doomed.Role)
		require.NoError(t, err)

		_, err = testPool.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, doomed.ID)
		require.NoError(t, err)

		_, err = rotator.Rotate(ctx, pair.RefreshToken)
		assert.Equal(t, auth.CodeSessionNotFound, auth.CodeOf(err))
	})
}
