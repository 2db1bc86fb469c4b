// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

package web

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/gatekeeper/internal/auth"
)

// Request bodies. Schemas are reflected from these types; cross-field rules
// live in the handlers.

type registerRequest struct {
	Name            string  `json:"name" jsonschema:"minLength=2,maxLength=256"`
	Email           string  `json:"email" jsonschema:"format=email"`
	Avatar          *string `json:"avatar,omitempty" jsonschema:"format=uri"`
	Password        string  `json:"password" jsonschema:"minLength=6,maxLength=100"`
	ConfirmPassword string  `json:"confirmPassword" jsonschema:"minLength=6,maxLength=100"`
}

type loginRequest struct {
	Email    string `json:"email" jsonschema:"format=email"`
	Password string `json:"password" jsonschema:"minLength=6,maxLength=100"`
}

type forgotPasswordRequest struct {
	Email              string `json:"email" jsonschema:"format=email"`
	NewPassword        string `json:"newPassword" jsonschema:"minLength=6,maxLength=100"`
	ConfirmNewPassword string `json:"confirmNewPassword" jsonschema:"minLength=6,maxLength=100"`
}

type refreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" jsonschema:"minLength=1"`
}

type updateMeRequest struct {
	Name   string  `json:"name" jsonschema:"minLength=2,maxLength=256"`
	Avatar *string `json:"avatar,omitempty" jsonschema:"format=uri"`
}

type changePasswordRequest struct {
	OldPassword     string `json:"oldPassword" jsonschema:"minLength=6,maxLength=100"`
	Password        string `json:"password" jsonschema:"minLength=6,maxLength=100"`
	ConfirmPassword string `json:"confirmPassword" jsonschema:"minLength=6,maxLength=100"`
}

// observe records the outcome of one authentication operation on the
// request span and in metrics.
func (s *Server) observe(ctx context.Context, operation string, err error) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("auth.operation", operation))

	outcome := "success"
	if err != nil {
		outcome = auth.KindOf(err).String()
		span.RecordError(err)
		span.SetAttributes(
			attribute.String("auth.error_code", auth.CodeOf(err)),
			attribute.String("auth.outcome", outcome),
		)
		if auth.KindOf(err) == auth.KindInternal {
			span.SetStatus(codes.Error, auth.CodeOf(err))
		}
	}
	s.metrics.ObserveAuth(operation, outcome)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ConfirmPassword != req.Password {
		s.fail(w, r, fieldError("confirmPassword", "Passwords do not match"))
		return
	}

	account, err := s.accounts.CreateAccount(r.Context(), req.Name, req.Email, req.Password, req.Avatar)
	s.observe(r.Context(), "register", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "Account created", newAccountView(account))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	result, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	s.observe(r.Context(), "login", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "Login successful", loginView{
		Account:   newAccountView(result.Account),
		tokenView: newTokenView(result.Tokens),
	})
}

func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ConfirmNewPassword != req.NewPassword {
		s.fail(w, r, fieldError("confirmNewPassword", "Passwords do not match"))
		return
	}

	account, err := s.accounts.ResetPassword(r.Context(), req.Email, req.NewPassword)
	s.observe(r.Context(), "reset_password", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "Password changed", newAccountView(account))
}

// handleLogout answers 200 even when the session is already gone.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	err := s.accounts.Logout(r.Context(), req.RefreshToken)
	s.observe(r.Context(), "logout", err)
	if err != nil && auth.CodeOf(err) != auth.CodeSessionNotFound {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "Logged out", nil)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshTokenRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	pair, err := s.accounts.Refresh(r.Context(), req.RefreshToken)
	s.observe(r.Context(), "refresh", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "Token refreshed", newTokenView(pair))
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	account, err := s.accounts.GetAccount(r.Context(), identity.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "Account retrieved", newAccountView(account))
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	identity, _ := auth.IdentityFromContext(r.Context())
	account, err := s.accounts.UpdateProfile(r.Context(), identity.UserID, auth.ProfileUpdate{
		Name:   &req.Name,
		Avatar: req.Avatar,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "Account updated", newAccountView(account))
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.ConfirmPassword != req.Password {
		s.fail(w, r, fieldError("confirmPassword", "Passwords do not match"))
		return
	}

	identity, _ := auth.IdentityFromContext(r.Context())
	account, err := s.accounts.ChangePassword(r.Context(), identity.UserID, req.OldPassword, req.Password)
	s.observe(r.Context(), "change_password", err)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.ok(w, r, "Password changed", newAccountView(account))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	s.listAccounts(w, r, auth.AccountFilter{})
}

// handleListOthers lists every account except the caller's.
func (s *Server) handleListOthers(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	s.listAccounts(w, r, auth.AccountFilter{ExcludeID: identity.UserID})
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request, filter auth.AccountFilter) {
	if role := r.URL.Query().Get("role"); role != "" {
		parsed, err := auth.ParseRole(role)
		if err != nil {
			s.fail(w, r, fieldError("role", "must be Admin or User"))
			return
		}
		filter.Role = parsed
	}

	accounts, err := s.accounts.ListAccounts(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, a := range accounts {
		views = append(views, newAccountView(a))
	}
	s.ok(w, r, "Accounts retrieved", views)
}
