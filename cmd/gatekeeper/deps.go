// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/auth/memory"
	"github.com/holomush/gatekeeper/internal/auth/postgres"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/logging"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/internal/store"
)

// Deps contains injectable dependencies shared by the commands.
// All fields with nil values will use their default implementations.
type Deps struct {
	// PoolFactory opens a database pool.
	// Default: store.Connect
	PoolFactory func(ctx context.Context, url string, opts store.ConnectOptions) (DBPool, error)

	// MigratorFactory creates a schema migrator.
	// Default: store.NewMigrator
	MigratorFactory func(url string) (Migrator, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer

	// PasswordPrompt reads a password interactively.
	// Default: promptPassword (terminal only)
	PasswordPrompt func(cmd *cobra.Command) (string, error)

	// LogWriter receives structured logs.
	// Default: os.Stderr
	LogWriter io.Writer

	// Ready is called once every serve listener is up.
	Ready func(addrs ServeAddrs)
}

// DBPool is the part of *pgxpool.Pool the commands use.
type DBPool interface {
	postgres.Pool
	Ping(ctx context.Context) error
	Close()
}

// Migrator wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Force(version int) error
	Status() (*store.Status, error)
	Close() error
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.PoolFactory == nil {
		out.PoolFactory = func(ctx context.Context, url string, opts store.ConnectOptions) (DBPool, error) {
			return store.Connect(ctx, url, opts)
		}
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(url string) (Migrator, error) {
			return store.NewMigrator(url)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, logger *slog.Logger) ObservabilityServer {
			return observability.NewServer(addr, ready, logger)
		}
	}
	if out.PasswordPrompt == nil {
		out.PasswordPrompt = promptPassword
	}
	if out.LogWriter == nil {
		out.LogWriter = os.Stderr
	}
	return &out
}

func (d *Deps) logger(cfg *config.Config) *slog.Logger {
	logger := logging.Setup(logging.Options{
		Service: "gatekeeper",
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.Log.Level,
	}, d.LogWriter)
	slog.SetDefault(logger)
	return logger
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd()) //nolint:gosec // stdin descriptor fits in int
	if !term.IsTerminal(fd) {
		return "", oops.Code("PASSWORD_REQUIRED").Errorf("no password given and stdin is not a terminal")
	}
	cmd.Print("Password: ")
	raw, err := term.ReadPassword(fd)
	cmd.Println()
	if err != nil {
		return "", oops.Code("PASSWORD_READ_FAILED").Wrap(err)
	}
	return string(raw), nil
}

// backend is the storage the auth core runs on.
type backend struct {
	accounts auth.AccountRepository
	tokens   auth.RefreshTokenRepository
	tx       auth.Transactor
	ready    observability.ReadinessChecker
	close    func()
}

// openBackend connects the configured store. With autoMigrate set, pending
// migrations are applied first.
func openBackend(ctx context.Context, cfg *config.Config, deps *Deps, logger *slog.Logger, autoMigrate bool) (*backend, error) {
	if cfg.Store == config.StoreMemory {
		mem := memory.NewStore()
		logger.Warn("using in-memory store; accounts and sessions are lost on exit")
		return &backend{
			accounts: mem.Accounts(),
			tokens:   mem.RefreshTokens(),
			tx:       mem,
			ready:    func() bool { return true },
			close:    func() {},
		}, nil
	}

	if autoMigrate {
		if err := migrateUp(cfg.Database.URL, deps); err != nil {
			return nil, err
		}
		logger.Info("database schema up to date")
	}

	pool, err := deps.PoolFactory(ctx, cfg.Database.URL, store.ConnectOptions{Logger: logger, MaxConns: cfg.Database.MaxConns})
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	logger.Info("connected to database")

	return &backend{
		accounts: postgres.NewAccountRepository(pool),
		tokens:   postgres.NewRefreshTokenRepository(pool),
		tx:       postgres.NewTransactor(pool),
		ready: func() bool {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return pool.Ping(ctx) == nil
		},
		close: pool.Close,
	}, nil
}

func migrateUp(url string, deps *Deps) error {
	m, err := deps.MigratorFactory(url)
	if err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "create migrator").Wrap(err)
	}
	defer func() { _ = m.Close() }()
	if err := m.Up(); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
	}
	return nil
}

// authStack is the wired auth core.
type authStack struct {
	service *auth.Service
	rotator *auth.SessionRotator
	guard   *auth.AccessGuard
}

func newAuthStack(cfg *config.Config, b *backend, logger *slog.Logger) (*authStack, error) {
	codec, err := auth.NewTokenCodec(cfg.TokenConfig())
	if err != nil {
		return nil, err
	}
	rotator, err := auth.NewSessionRotator(codec, b.accounts, b.tokens, b.tx)
	if err != nil {
		return nil, err
	}
	service, err := auth.NewAuthServiceWithLogger(b.accounts, rotator, auth.NewArgon2idHasher(), logger)
	if err != nil {
		return nil, err
	}
	guard, err := auth.NewAccessGuard(codec)
	if err != nil {
		return nil, err
	}
	return &authStack{service: service, rotator: rotator, guard: guard}, nil
}
