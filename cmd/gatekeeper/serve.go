// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package main

import (
	"context"
	"log/slog"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/config"
	"github.com/holomush/gatekeeper/internal/grpcauth"
	"github.com/holomush/gatekeeper/internal/observability"
	"github.com/holomush/gatekeeper/internal/web"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

const shutdownTimeout = 15 * time.Second

// ServeAddrs are the bound listener addresses. Empty means disabled.
type ServeAddrs struct {
	HTTP    string
	GRPC    string
	Metrics string
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return newServeCmd(nil)
}

func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, gRPC and metrics servers",
		Long: `Start Gatekeeper: the JSON HTTP API, the gRPC health service behind
token authentication, the metrics and probe endpoints, and the periodic purge
of expired sessions. Stops gracefully on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServeWithDeps(ctx, cfg, deps)
		},
	}
}

// runServeWithDeps runs the servers until ctx is cancelled or one of them
// fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, deps *Deps) error {
	deps = deps.withDefaults()

	if err := cfg.Validate(); err != nil {
		return oops.With("operation", "validate configuration").Wrap(err)
	}
	logger := deps.logger(cfg)
	logger.Info("starting gatekeeper", "store", cfg.Store, "http_addr", cfg.HTTP.Addr)

	b, err := openBackend(ctx, cfg, deps, logger, cfg.Database.AutoMigrate)
	if err != nil {
		return err
	}
	defer b.close()

	stack, err := newAuthStack(cfg, b, logger)
	if err != nil {
		return oops.With("operation", "wire auth core").Wrap(err)
	}

	var (
		addrs   ServeAddrs
		errChs  []<-chan error
		metrics *observability.Metrics
		stops   []func(context.Context) error
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for i := len(stops) - 1; i >= 0; i-- {
			if err := stops[i](shutdownCtx); err != nil {
				errutil.LogError(logger, "shutdown failed", err)
			}
		}
		logger.Info("gatekeeper stopped")
	}()

	if cfg.Metrics.Addr != "" {
		obs := deps.ObservabilityServerFactory(cfg.Metrics.Addr, b.ready, logger)
		errCh, err := obs.Start()
		if err != nil {
			return oops.With("operation", "start observability server").Wrap(err)
		}
		stops = append(stops, obs.Stop)
		errChs = append(errChs, errCh)
		metrics = obs.Metrics()
		addrs.Metrics = obs.Addr()
	}

	httpSrv, err := web.NewServer(stack.service, stack.guard, web.Options{
		Addr:        cfg.HTTP.Addr,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      logger,
		Metrics:     metrics,
	})
	if err != nil {
		return oops.With("operation", "create web server").Wrap(err)
	}
	errCh, err := httpSrv.Start()
	if err != nil {
		return oops.With("operation", "start web server").Wrap(err)
	}
	stops = append(stops, httpSrv.Stop)
	errChs = append(errChs, errCh)
	addrs.HTTP = httpSrv.Addr()

	if cfg.GRPC.Addr != "" {
		grpcAddr, grpcErrCh, grpcStop, err := startGRPC(cfg.GRPC, stack.guard, logger)
		if err != nil {
			return err
		}
		stops = append(stops, grpcStop)
		errChs = append(errChs, grpcErrCh)
		addrs.GRPC = grpcAddr
	}

	if cfg.Auth.PurgeInterval > 0 {
		purgeDone := make(chan struct{})
		purgeCtx, cancelPurge := context.WithCancel(ctx)
		go func() {
			defer close(purgeDone)
			purgeLoop(purgeCtx, stack.rotator, cfg.Auth.PurgeInterval, metrics, logger)
		}()
		stops = append(stops, func(context.Context) error {
			cancelPurge()
			<-purgeDone
			return nil
		})
	}

	if deps.Ready != nil {
		deps.Ready(addrs)
	}

	return waitForShutdown(ctx, errChs, logger)
}

// grpcPolicy builds the interceptor policy from configuration.
func grpcPolicy(cfg config.GRPCConfig) grpcauth.Policy {
	policy := grpcauth.DefaultPolicy()
	if cfg.PrivateHealth {
		policy.Public = nil
	}
	policy.Roles = cfg.RoleMap()
	return policy
}

// startGRPC serves the guarded health service on cfg.Addr.
func startGRPC(cfg config.GRPCConfig, guard grpcauth.Guard, logger *slog.Logger) (string, <-chan error, func(context.Context) error, error) {
	interceptor, err := grpcauth.NewInterceptor(guard, grpcPolicy(cfg), logger)
	if err != nil {
		return "", nil, nil, err
	}
	srv, hs := grpcauth.NewServer(interceptor)

	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return "", nil, nil, oops.Code("GRPC_LISTEN_FAILED").With("addr", cfg.Addr).Wrap(err)
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.Serve(listener); err != nil {
			errCh <- err
		}
	}()
	logger.Info("grpc server started", "addr", listener.Addr().String())

	stop := func(ctx context.Context) error {
		hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		done := make(chan struct{})
		go func() {
			srv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			srv.Stop()
		}
		logger.Info("grpc server stopped")
		return nil
	}
	return listener.Addr().String(), errCh, stop, nil
}

// purgeLoop removes expired sessions every interval until ctx ends.
func purgeLoop(ctx context.Context, rotator *auth.SessionRotator, interval time.Duration, metrics *observability.Metrics, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rotator.PurgeExpired(ctx)
			if err != nil {
				errutil.LogErrorContext(ctx, logger, "purge expired sessions failed", err)
				continue
			}
			metrics.ObservePurge(n)
			if n > 0 {
				logger.InfoContext(ctx, "purged expired sessions", "count", n)
			}
		}
	}
}

// waitForShutdown blocks until ctx is done or a server reports an error.
func waitForShutdown(ctx context.Context, errChs []<-chan error, logger *slog.Logger) error {
	failed := make(chan error, len(errChs))
	for _, ch := range errChs {
		go func() {
			if err, ok := <-ch; ok && err != nil {
				failed <- err
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		return nil
	case err := <-failed:
		return oops.Code("SERVER_FAILED").Wrap(err)
	}
}
