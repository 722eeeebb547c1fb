// Package api exposes the HTTP surface: login and session endpoints, admin
// user and role management, health and metrics.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tomewiki/tome/pkg/config"
	"github.com/tomewiki/tome/pkg/credentials"
	"github.com/tomewiki/tome/pkg/gate"
	"github.com/tomewiki/tome/pkg/httputil"
	"github.com/tomewiki/tome/pkg/observability"
	"github.com/tomewiki/tome/pkg/roles"
	"github.com/tomewiki/tome/pkg/session"
	"github.com/tomewiki/tome/pkg/users"
)

// Server wires the stores, the gate, and the HTTP handlers
type Server struct {
	router   *mux.Router
	db       *sql.DB
	cfg      config.Config
	logger   *observability.Logger
	metrics  *observability.Metrics
	gate     *gate.Gate
	sessions *session.Store

	authHandlers *AuthHandlers
	userHandlers *UserHandlers
	roleHandlers *RoleHandlers

	httpServer *http.Server
}

// Deps carries the server's constructed collaborators
type Deps struct {
	DB       *sql.DB
	Sessions *session.Store
	Users    *users.Store
	Roles    *roles.Store
	Defaults *roles.Defaults
	Hasher   *credentials.Hasher
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// NewServer creates the API server and registers all routes
func NewServer(cfg config.Config, deps Deps) *Server {
	g := gate.New(gate.Config{
		Sessions:     deps.Sessions,
		Users:        deps.Users,
		Roles:        deps.Roles,
		Defaults:     deps.Defaults,
		APIKeyHeader: cfg.Auth.APIKeyHeader,
		Logger:       deps.Logger,
		Metrics:      deps.Metrics,
	})

	s := &Server{
		router:   mux.NewRouter(),
		db:       deps.DB,
		cfg:      cfg,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
		gate:     g,
		sessions: deps.Sessions,

		authHandlers: NewAuthHandlers(deps.Sessions, deps.Users, deps.Hasher, deps.Logger, deps.Metrics),
		userHandlers: NewUserHandlers(deps.Users, deps.Roles, deps.Defaults, deps.Hasher, deps.Logger),
		roleHandlers: NewRoleHandlers(deps.Roles, deps.Defaults, deps.Logger),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.RecoveryMiddleware(s.logger))
	s.router.Use(httputil.LoggingMiddleware(s.logger))
	if s.cfg.Server.MaxBodyBytes > 0 {
		s.router.Use(httputil.MaxBytesMiddleware(s.cfg.Server.MaxBodyBytes))
	}
	if s.metrics != nil {
		s.router.Use(s.metrics.HTTPMiddleware)
	}

	s.authHandlers.RegisterRoutes(s.router, s.gate)
	s.userHandlers.RegisterRoutes(s.router, s.gate)
	s.roleHandlers.RegisterRoutes(s.router, s.gate)

	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Router returns the configured router, mainly for tests
func (s *Server) Router() *mux.Router {
	return s.router
}

// healthz handles GET /healthz, reporting backing-store reachability
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			httputil.WriteError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}

	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// Start begins serving on the configured address and blocks until the
// listener closes
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Host + ":" + s.cfg.Server.Port,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.logger.WithField("addr", s.httpServer.Addr).Info("http server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
