// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// TokenType discriminates the two token kinds inside the payload so a token
// of one kind never verifies as the other.
type TokenType string

// Token types.
const (
	AccessToken  TokenType = "AccessToken"
	RefreshToken TokenType = "RefreshToken"
)

// TokenPayload is the typed content of a signed token.
type TokenPayload struct {
	UserID    int64
	Role      Role
	Type      TokenType
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SignedToken is a compact JWT together with the expiry embedded in it.
type SignedToken struct {
	Token     string
	ExpiresAt time.Time
}

type tokenClaims struct {
	UserID    int64     `json:"userId"`
	Role      Role      `json:"role"`
	TokenType TokenType `json:"tokenType"`
	jwt.RegisteredClaims
}

// TokenConfig configures a TokenCodec.
type TokenConfig struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	// Issuer is embedded as the iss claim and required on verification when set.
	Issuer string
}

// TokenCodec signs and verifies HS256 access and refresh tokens, each kind
// with its own secret and lifetime.
type TokenCodec struct {
	cfg TokenConfig
	now func() time.Time
}

// TokenCodecOption customises a TokenCodec.
type TokenCodecOption func(*TokenCodec)

// WithClock overrides the time source used for signing and verification.
func WithClock(now func() time.Time) TokenCodecOption {
	return func(c *TokenCodec) {
		c.now = now
	}
}

// NewTokenCodec creates a TokenCodec. Both secrets are required and must differ.
func NewTokenCodec(cfg TokenConfig, opts ...TokenCodecOption) (*TokenCodec, error) {
	if len(cfg.AccessSecret) == 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("access token secret is required")
	}
	if len(cfg.RefreshSecret) == 0 {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("refresh token secret is required")
	}
	if string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, oops.Code("TOKEN_CONFIG_INVALID").Errorf("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}

	c := &TokenCodec{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SignAccess signs a short-lived access token for the payload's user and role.
func (c *TokenCodec) SignAccess(p TokenPayload) (SignedToken, error) {
	return c.sign(p, AccessToken, c.cfg.AccessSecret, c.now().Add(c.cfg.AccessTTL))
}

// SignRefresh signs a refresh token. When overrideExpiry is non-nil that exact
// expiry is embedded instead of now plus the refresh lifetime.
func (c *TokenCodec) SignRefresh(p TokenPayload, overrideExpiry *time.Time) (SignedToken, error) {
	exp := c.now().Add(c.cfg.RefreshTTL)
	if overrideExpiry != nil {
		exp = *overrideExpiry
	}
	return c.sign(p, RefreshToken, c.cfg.RefreshSecret, exp)
}

// VerifyAccess checks an access token and returns its payload.
func (c *TokenCodec) VerifyAccess(token string) (*TokenPayload, error) {
	return c.verify(token, AccessToken, c.cfg.AccessSecret)
}

// VerifyRefresh checks a refresh token and returns its payload.
func (c *TokenCodec) VerifyRefresh(token string) (*TokenPayload, error) {
	return c.verify(token, RefreshToken, c.cfg.RefreshSecret)
}

func (c *TokenCodec) sign(p TokenPayload, typ TokenType, secret []byte, exp time.Time) (SignedToken, error) {
	if !p.Role.Valid() {
		return SignedToken{}, oops.Code("TOKEN_SIGN_FAILED").With("role", p.Role).Errorf("cannot sign token for unknown role")
	}

	expiresAt := jwt.NewNumericDate(exp)
	claims := tokenClaims{
		UserID:    p.UserID,
		Role:      p.Role,
		TokenType: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(c.now()),
			ExpiresAt: expiresAt,
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return SignedToken{}, oops.Code("TOKEN_SIGN_FAILED").With("token_type", string(typ)).Wrap(err)
	}
	return SignedToken{Token: signed, ExpiresAt: expiresAt.Time}, nil
}

func (c *TokenCodec) verify(token string, typ TokenType, secret []byte) (*TokenPayload, error) {
	if token == "" {
		return nil, oops.Code(CodeInvalidToken).With("token_type", string(typ)).Errorf("token is empty")
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	}
	if c.cfg.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(c.cfg.Issuer))
	}

	var claims tokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, oops.Code(CodeExpiredToken).With("token_type", string(typ)).Wrap(err)
		}
		return nil, oops.Code(CodeInvalidToken).With("token_type", string(typ)).Wrap(err)
	}
	if !parsed.Valid {
		return nil, oops.Code(CodeInvalidToken).With("token_type", string(typ)).Errorf("token is not valid")
	}
	if claims.TokenType != typ {
		return nil, oops.Code(CodeInvalidToken).
			With("token_type", string(typ)).
			With("presented_type", string(claims.TokenType)).
			Errorf("unexpected token type")
	}
	if !claims.Role.Valid() || claims.UserID <= 0 {
		return nil, oops.Code(CodeInvalidToken).With("token_type", string(typ)).Errorf("token payload is incomplete")
	}

	payload := &TokenPayload{
		UserID:    claims.UserID,
		Role:      claims.Role,
		Type:      claims.TokenType,
		ID:        claims.ID,
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if claims.IssuedAt != nil {
		payload.IssuedAt = claims.IssuedAt.Time
	}
	return payload, nil
}
