// Package server provides HTTP server wiring and lifecycle management.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/finsight/costgate/internal/components/authctx"
	"github.com/finsight/costgate/internal/components/costs"
	"github.com/finsight/costgate/internal/components/members"
	"github.com/finsight/costgate/internal/identity"
	"github.com/finsight/costgate/internal/platform/config"
)

var ErrMissingDep = errors.New("missing required dependency")

// Deps holds all server dependencies.
type Deps struct {
	// Required: identity and auth
	Users    identity.UserRepo
	Sessions identity.SessionRepo
	UserAuth *identity.UserAuth

	// Required: cost query surface
	Resolver   *authctx.Resolver
	Gateway    *costs.Gateway
	Aggregator *costs.Aggregator

	// Required: membership workflow
	Members *members.Service
}

func validateDeps(deps *Deps) error {
	if deps == nil || deps.Users == nil || deps.Sessions == nil || deps.UserAuth == nil {
		return ErrMissingDep
	}
	if deps.Resolver == nil || deps.Gateway == nil || deps.Aggregator == nil || deps.Members == nil {
		return ErrMissingDep
	}
	return nil
}

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg            *config.Config
	httpServer     *http.Server
	logger         *slog.Logger
	deps           *Deps
	trustedProxies *TrustedProxies
}

// New creates a new Server. Returns an error if required dependencies are
// missing.
func New(cfg *config.Config, logger *slog.Logger, deps *Deps) (*Server, error) {
	if err := validateDeps(deps); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:            cfg,
		logger:         logger,
		deps:           deps,
		trustedProxies: NewTrustedProxies(cfg.Server.TrustedProxies),
	}

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server. It blocks until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting server",
		"addr", s.cfg.ListenAddr,
		"app_url", s.cfg.AppURL,
		"backend", s.cfg.Backend.BaseURL,
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the root handler. Used in tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
