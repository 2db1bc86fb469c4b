// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeeper Contributors

// Package web exposes the authentication core over a JSON HTTP API.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/samber/oops"

	"github.com/holomush/gatekeeper/internal/auth"
	"github.com/holomush/gatekeeper/internal/observability"
)

// AccountService is the slice of auth.Service the HTTP API drives.
type AccountService interface {
	CreateAccount(ctx context.Context, name, email, password string, avatar *string) (*auth.Account, error)
	Login(ctx context.Context, email, password string) (*auth.LoginResult, error)
	Logout(ctx context.Context, refreshToken string) error
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error)
	ChangePassword(ctx context.Context, accountID int64, oldPassword, newPassword string) (*auth.Account, error)
	ResetPassword(ctx context.Context, email, newPassword string) (*auth.Account, error)
	GetAccount(ctx context.Context, accountID int64) (*auth.Account, error)
	UpdateProfile(ctx context.Context, accountID int64, update auth.ProfileUpdate) (*auth.Account, error)
	ListAccounts(ctx context.Context, filter auth.AccountFilter) ([]*auth.Account, error)
}

// Guard authenticates bearer tokens and checks roles.
type Guard interface {
	Authenticate(rawAccessToken string) (*auth.Identity, error)
	RequireRole(identity *auth.Identity, allowed ...auth.Role) error
}

// Options configure a Server.
type Options struct {
	Addr        string
	CORSOrigins []string
	Logger      *slog.Logger
	// Metrics is optional.
	Metrics *observability.Metrics
}

// Server serves the account and session API.
type Server struct {
	addr       string
	accounts   AccountService
	guard      Guard
	handler    http.Handler
	metrics    *observability.Metrics
	logger     *slog.Logger
	listener   net.Listener
	httpServer *http.Server
	running    atomic.Bool
}

// NewServer creates a Server.
func NewServer(accounts AccountService, guard Guard, opts Options) (*Server, error) {
	if accounts == nil {
		return nil, oops.Code("WEB_SERVER_INVALID").Errorf("account service is required")
	}
	if guard == nil {
		return nil, oops.Code("WEB_SERVER_INVALID").Errorf("guard is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		addr:     opts.Addr,
		accounts: accounts,
		guard:    guard,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "web"),
	}

	c, err := corsHandler(opts.CORSOrigins)
	if err != nil {
		return nil, err
	}
	s.handler = withRequestID(c.Handler(s.routes()))
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.instrument)

	a := r.PathPrefix("/auth").Subrouter()
	a.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	a.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	a.HandleFunc("/forgot-password", s.handleForgotPassword).Methods(http.MethodPut)

	r.Handle("/accounts/logout", s.authenticated(s.handleLogout)).Methods(http.MethodPost)
	r.HandleFunc("/accounts/refresh-token", s.handleRefresh).Methods(http.MethodPost)
	r.Handle("/accounts/me", s.authenticated(s.handleGetMe)).Methods(http.MethodGet)
	r.Handle("/accounts/me", s.authenticated(s.handleUpdateMe)).Methods(http.MethodPut)
	r.Handle("/accounts/change-password", s.authenticated(s.handleChangePassword)).Methods(http.MethodPut)
	r.Handle("/accounts", s.authorized(s.handleListAccounts, auth.RoleAdmin)).Methods(http.MethodGet)
	r.Handle("/accounts/list", s.authorized(s.handleListOthers, auth.RoleAdmin, auth.RoleUser)).Methods(http.MethodGet)

	return r
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins serving. The returned channel receives a serve error, if any,
// and is closed when the server stops.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("WEB_SERVER_RUNNING").Errorf("web server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("WEB_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	httpSrv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			s.logger.Error("web server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	s.logger.Info("web server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop(ctx context.Context) error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.running.Store(true)
			return oops.With("operation", "shutdown_web_server").Wrap(err)
		}
	}
	s.logger.Info("web server stopped")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
