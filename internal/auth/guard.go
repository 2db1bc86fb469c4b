// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"context"
	"slices"

	"github.com/samber/oops"
)

// Identity is the authenticated caller of a single request.
type Identity struct {
	UserID int64
	Role   Role
}

// AccessGuard authenticates access tokens and enforces role membership.
type AccessGuard struct {
	codec *TokenCodec
}

// NewAccessGuard creates an AccessGuard.
func NewAccessGuard(codec *TokenCodec) (*AccessGuard, error) {
	if codec == nil {
		return nil, oops.Code("ACCESS_GUARD_INVALID").Errorf("token codec is required")
	}
	return &AccessGuard{codec: codec}, nil
}

// Authenticate verifies a raw access token and returns the caller's identity.
func (g *AccessGuard) Authenticate(rawAccessToken string) (*Identity, error) {
	payload, err := g.codec.VerifyAccess(rawAccessToken)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: payload.UserID, Role: payload.Role}, nil
}

// RequireRole fails with AUTH_FORBIDDEN unless the identity's role is one of
// allowed. Roles are compared exactly; Admin does not imply User.
func (g *AccessGuard) RequireRole(identity *Identity, allowed ...Role) error {
	if identity == nil {
		return oops.Code(CodeForbidden).Errorf("no authenticated identity")
	}
	if !slices.Contains(allowed, identity.Role) {
		return oops.Code(CodeForbidden).
			With("role", string(identity.Role)).
			With("allowed", allowed).
			Errorf("role not permitted")
	}
	return nil
}

type identityKey struct{}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity stored by WithIdentity.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}
