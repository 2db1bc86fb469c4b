// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// Repository sentinels. Implementations wrap these so the core can translate
// them into domain errors.
var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateEmail is returned when an insert violates email uniqueness.
	ErrDuplicateEmail = errors.New("duplicate email")
)

// Error codes surfaced by the core.
const (
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeInvalidToken       = "AUTH_INVALID_TOKEN"
	CodeExpiredToken       = "AUTH_EXPIRED_TOKEN"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeForbidden          = "AUTH_FORBIDDEN"
	CodeDuplicateEmail     = "ACCOUNT_DUPLICATE_EMAIL"
	CodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
)

// Kind groups error codes by how callers should react to them.
type Kind int

// Error kinds.
const (
	// KindInternal covers repository failures and anything unclassified.
	KindInternal Kind = iota
	// KindAuth covers authentication and session failures.
	KindAuth
	// KindForbidden is an authenticated caller lacking the required role.
	KindForbidden
	// KindEntity is a failure attributable to a specific input field.
	KindEntity
	// KindNotFound is a missing account.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindForbidden:
		return "forbidden"
	case KindEntity:
		return "entity"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// FieldKey is the oops context key holding the input field an error refers to.
const FieldKey = "field"

// CodeOf returns the oops code attached to err, or "" when there is none.
func CodeOf(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := any(oopsErr.Code()).(string)
	return code
}

// FieldOf returns the input field err is scoped to.
func FieldOf(err error) (string, bool) {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return "", false
	}
	field, ok := oopsErr.Context()[FieldKey].(string)
	return field, ok && field != ""
}

// KindOf classifies err. Any error scoped to a field is an entity error,
// including a wrong old password.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if _, ok := FieldOf(err); ok {
		return KindEntity
	}
	switch CodeOf(err) {
	case CodeInvalidCredentials, CodeInvalidToken, CodeExpiredToken, CodeSessionNotFound:
		return KindAuth
	case CodeForbidden:
		return KindForbidden
	case CodeDuplicateEmail:
		return KindEntity
	case CodeAccountNotFound:
		return KindNotFound
	default:
		return KindInternal
	}
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf("invalid email or password")
}

func sessionNotFound() error {
	return oops.Code(CodeSessionNotFound).Errorf("refresh token is not an active session")
}

func accountNotFound(key string, value any) error {
	return oops.Code(CodeAccountNotFound).With(key, value).Errorf("account not found")
}
