// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/pkg/errutil"
)

// envelope is the body of every response.
type envelope struct {
	Message string       `json:"message"`
	Data    any          `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
}

type accountView struct {
	ID     int64   `json:"id"`
	Name   string  `json:"name"`
	Email  string  `json:"email"`
	Role   string  `json:"role"`
	Avatar *string `json:"avatar"`
}

func newAccountView(a *auth.Account) accountView {
	return accountView{
		ID:     a.ID,
		Name:   a.Name,
		Email:  a.Email,
		Role:   string(a.Role),
		Avatar: a.Avatar,
	}
}

type tokenView struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

func newTokenView(p *auth.TokenPair) tokenView {
	return tokenView{
		AccessToken:      p.AccessToken,
		RefreshToken:     p.RefreshToken,
		AccessExpiresAt:  p.AccessExpiresAt,
		RefreshExpiresAt: p.RefreshExpiresAt,
	}
}

type loginView struct {
	Account accountView `json:"account"`
	tokenView
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return oops.Code("RESPONSE_ENCODE_FAILED").Wrap(err)
	}
	return nil
}

func (s *Server) respond(w http.ResponseWriter, r *http.Request, statusCode int, body envelope) {
	if err := writeJSON(w, statusCode, body); err != nil {
		s.logger.WarnContext(r.Context(), "failed to write response", "error", err)
	}
}

func (s *Server) ok(w http.ResponseWriter, r *http.Request, msg string, data any) {
	s.respond(w, r, http.StatusOK, envelope{Message: msg, Data: data})
}

// fail maps err onto a status code. Authentication failures share one
// message per code so token diagnostics never reach the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validationError
	if errors.As(err, &verr) {
		s.respond(w, r, http.StatusUnprocessableEntity, envelope{Message: "Validation failed", Errors: verr.fields})
		return
	}

	switch auth.KindOf(err) {
	case auth.KindAuth:
		msg := "Unauthorized"
		if auth.CodeOf(err) == auth.CodeInvalidCredentials {
			msg = "Invalid email or password"
		}
		s.logger.DebugContext(r.Context(), "authentication failed", "code", auth.CodeOf(err))
		s.respond(w, r, http.StatusUnauthorized, envelope{Message: msg})
	case auth.KindForbidden:
		s.respond(w, r, http.StatusForbidden, envelope{Message: "Forbidden"})
	case auth.KindNotFound:
		s.respond(w, r, http.StatusNotFound, envelope{Message: "Account not found"})
	case auth.KindEntity:
		field, ok := auth.FieldOf(err)
		if !ok {
			field = "body"
		}
		s.respond(w, r, http.StatusUnprocessableEntity, envelope{
			Message: "Validation failed",
			Errors:  []FieldError{{Field: field, Message: err.Error()}},
		})
	default:
		errutil.LogErrorContext(r.Context(), s.logger, "request failed", err)
		s.respond(w, r, http.StatusInternalServerError, envelope{Message: "Internal server error"})
	}
}
