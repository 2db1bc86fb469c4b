// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package auth_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"

	"github.com/holomush/gatekeeper/internal/auth"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want auth.Kind
	}{
		{"nil", nil, auth.KindInternal},
		{"plain error", errors.New("boom"), auth.KindInternal},
		{"unknown code", oops.Code("SOMETHING_ELSE").Errorf("x"), auth.KindInternal},
		{"invalid credentials", oops.Code(auth.CodeInvalidCredentials).Errorf("x"), auth.KindAuth},
		{"invalid token", oops.Code(auth.CodeInvalidToken).Errorf("x"), auth.KindAuth},
		{"expired token", oops.Code(auth.CodeExpiredToken).Errorf("x"), auth.KindAuth},
		{"session not found", oops.Code(auth.CodeSessionNotFound).Errorf("x"), auth.KindAuth},
		{"forbidden", oops.Code(auth.CodeForbidden).Errorf("x"), auth.KindForbidden},
		{"duplicate email", oops.Code(auth.CodeDuplicateEmail).Errorf("x"), auth.KindEntity},
		{"account not found", oops.Code(auth.CodeAccountNotFound).Errorf("x"), auth.KindNotFound},
		{"field scoped credentials", oops.Code(auth.CodeInvalidCredentials).With(auth.FieldKey, "oldPassword").Errorf("x"), auth.KindEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, auth.KindOf(tt.err))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Empty(t, auth.CodeOf(errors.New("plain")))
	assert.Equal(t, "X_CODE", auth.CodeOf(oops.Code("X_CODE").Errorf("x")))
}

func TestFieldOf(t *testing.T) {
	_, ok := auth.FieldOf(oops.Code("X").Errorf("x"))
	assert.False(t, ok)

	field, ok := auth.FieldOf(oops.With(auth.FieldKey, "email").Errorf("x"))
	assert.True(t, ok)
	assert.Equal(t, "email", field)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "auth", auth.KindAuth.String())
	assert.Equal(t, "forbidden", auth.KindForbidden.String())
	assert.Equal(t, "entity", auth.KindEntity.String())
	assert.Equal(t, "not_found", auth.KindNotFound.String())
	assert.Equal(t, "internal", auth.KindInternal.String())
}
