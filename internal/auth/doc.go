// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package auth provides the authentication core for Gatekeeper.
//
// # Components
//
//   - PasswordHasher - salted one-way hashing with constant-time verification
//   - TokenCodec - HS256 access and refresh tokens with separate secrets
//   - SessionRotator - refresh-token records: issue, single-use rotation, revoke
//   - Service - account creation, login, logout, refresh, password changes
//   - AccessGuard - access-token authentication and role checks
//
// Constructors validate their dependencies and return an error when one is
// missing.
//
// # Repositories
//
// AccountRepository and RefreshTokenRepository are implemented by the
// postgres and memory subpackages. Lookups report absence with ErrNotFound;
// the core turns that into ACCOUNT_NOT_FOUND or SESSION_NOT_FOUND.
//
// # Errors
//
// Every failure is an oops error with a code. KindOf groups codes into auth,
// forbidden, entity, not-found and internal failures; FieldOf names the input
// an entity failure refers to.
package auth
