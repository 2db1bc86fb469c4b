// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package grpcauth authenticates gRPC calls with Gatekeeper access tokens.
package grpcauth

import (
	"context"
	"log/slog"
	"strings"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/holomush/gatekeeper/internal/auth"
)

// HealthService is the method prefix of the standard health service.
const HealthService = "/grpc.health.v1.Health/"

// Guard authenticates access tokens and checks roles.
type Guard interface {
	Authenticate(rawAccessToken string) (*auth.Identity, error)
	RequireRole(identity *auth.Identity, allowed ...auth.Role) error
}

// Policy decides which methods need which roles.
type Policy struct {
	// Public lists full method names, or service prefixes ending in "/",
	// that skip authentication.
	Public []string
	// Roles restricts methods to the listed roles. Authenticated methods
	// missing from Roles accept any valid caller.
	Roles map[string][]auth.Role
}

// DefaultPolicy leaves only the health service public.
func DefaultPolicy() Policy {
	return Policy{Public: []string{HealthService}}
}

func (p Policy) isPublic(method string) bool {
	for _, m := range p.Public {
		if m == method || (strings.HasSuffix(m, "/") && strings.HasPrefix(method, m)) {
			return true
		}
	}
	return false
}

// Interceptor authenticates unary and streaming calls.
type Interceptor struct {
	guard  Guard
	policy Policy
	logger *slog.Logger
}

// NewInterceptor creates an Interceptor.
func NewInterceptor(guard Guard, policy Policy, logger *slog.Logger) (*Interceptor, error) {
	if guard == nil {
		return nil, oops.Code("GRPC_AUTH_INVALID").Errorf("guard is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{guard: guard, policy: policy, logger: logger.With("component", "grpcauth")}, nil
}

// authorize returns ctx carrying the caller's identity, or a status error.
func (i *Interceptor) authorize(ctx context.Context, method string) (context.Context, error) {
	if i.policy.isPublic(method) {
		return ctx, nil
	}

	token, ok := bearerFromMetadata(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing access token")
	}

	identity, err := i.guard.Authenticate(token)
	if err != nil {
		i.logger.DebugContext(ctx, "grpc authentication failed", "method", method, "code", auth.CodeOf(err))
		return nil, status.Error(codes.Unauthenticated, "invalid access token")
	}

	if roles, restricted := i.policy.Roles[method]; restricted {
		if err := i.guard.RequireRole(identity, roles...); err != nil {
			return nil, status.Error(codes.PermissionDenied, "forbidden")
		}
	}
	return auth.WithIdentity(ctx, identity), nil
}

// Unary returns the unary server interceptor.
func (i *Interceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := i.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream returns the stream server interceptor.
func (i *Interceptor) Stream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := i.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &identityStream{ServerStream: ss, ctx: ctx})
	}
}

type identityStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *identityStream) Context() context.Context {
	return s.ctx
}

func bearerFromMetadata(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, v := range md.Get("authorization") {
		scheme, token, found := strings.Cut(v, " ")
		if found && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			return strings.TrimSpace(token), true
		}
	}
	return "", false
}

// NewServer builds a gRPC server guarded by the interceptor with the health
// service registered. The health server starts out SERVING.
func NewServer(i *Interceptor, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(i.Unary()),
		grpc.ChainStreamInterceptor(i.Stream()),
	)
	srv := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}
