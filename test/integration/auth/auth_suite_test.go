// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

//go:build integration

package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/holomush/gatekeeper/internal/auth"
	authpg "github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/store"
	"github.com/holomush/gatekeeper/internal/web"
)

func TestAuth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth End-to-End Suite")
}

// testEnv holds the database and the HTTP API wired onto it.
type testEnv struct {
	ctx       context.Context
	container testcontainers.Container
	pool      *pgxpool.Pool
	service   *auth.Service
	rotator   *auth.SessionRotator
	api       *httptest.Server
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("gatekeeper_test"),
		postgres.WithUsername("gatekeeper"),
		postgres.WithPassword("gatekeeper"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		_ = container.Terminate(ctx)
		return nil, err
	}
	_ = migrator.Close()

	pool, err := store.Connect(ctx, connStr, store.ConnectOptions{})
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		AccessSecret:  []byte("e2e-access-secret"),
		RefreshSecret: []byte("e2e-refresh-secret"),
		Issuer:        "gatekeeper-e2e",
	})
	if err != nil {
		return nil, err
	}
	rotator, err := auth.NewSessionRotator(codec, authpg.NewAccountRepository(pool), authpg.NewRefreshTokenRepository(pool), authpg.NewTransactor(pool))
	if err != nil {
		return nil, err
	}
	hasher, err := auth.NewArgon2idHasherWithParams(auth.Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	if err != nil {
		return nil, err
	}
	service, err := auth.NewAuthServiceWithLogger(authpg.NewAccountRepository(pool), rotator, hasher, logger)
	if err != nil {
		return nil, err
	}
	guard, err := auth.NewAccessGuard(codec)
	if err != nil {
		return nil, err
	}
	server, err := web.NewServer(service, guard, web.Options{Logger: logger})
	if err != nil {
		return nil, err
	}

	return &testEnv{
		ctx:       ctx,
		container: container,
		pool:      pool,
		service:   service,
		rotator:   rotator,
		api:       httptest.NewServer(server.Handler()),
	}, nil
}

func (e *testEnv) cleanup() {
	if e.api != nil {
		e.api.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(e.ctx)
	}
}

// reset empties every table between specs.
func (e *testEnv) reset() {
	_, err := e.pool.Exec(e.ctx, `TRUNCATE refresh_tokens, accounts RESTART IDENTITY CASCADE`)
	Expect(err).NotTo(HaveOccurred())
}

// apiResponse is the JSON envelope every endpoint answers with.
type apiResponse struct {
	Status  int
	Message string           `json:"message"`
	Data    json.RawMessage  `json:"data"`
	Errors  []web.FieldError `json:"errors"`
}

type accountData struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type sessionData struct {
	Account      accountData `json:"account"`
	AccessToken  string      `json:"accessToken"`
	RefreshToken string      `json:"refreshToken"`
}

func call(method, path, token string, body any) apiResponse {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(env.ctx, method, env.api.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := env.api.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer func() { _ = resp.Body.Close() }()

	out := apiResponse{Status: resp.StatusCode}
	Expect(json.NewDecoder(resp.Body).Decode(&out)).To(Succeed())
	return out
}

func register(name, email, password string) accountData {
	resp := call(http.MethodPost, "/auth/register", "", map[string]string{
		"name": name, "email": email, "password": password, "confirmPassword": password,
	})
	Expect(resp.Status).To(Equal(http.StatusOK), resp.Message)
	var account accountData
	Expect(json.Unmarshal(resp.Data, &account)).To(Succeed())
	return account
}

func login(email, password string) sessionData {
	resp := call(http.MethodPost, "/auth/login", "", map[string]string{"email": email, "password": password})
	Expect(resp.Status).To(Equal(http.StatusOK), resp.Message)
	var session sessionData
	Expect(json.Unmarshal(resp.Data, &session)).To(Succeed())
	return session
}
