package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/taskguard/pkg/audit"
	"github.com/platinummonkey/taskguard/pkg/auth"
	"github.com/platinummonkey/taskguard/pkg/httputil"
	"github.com/platinummonkey/taskguard/pkg/middleware"
	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

// defaultMaxBodyBytes caps JSON request bodies.
const defaultMaxBodyBytes = 1 << 20

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// PublicRouteRegistrar is implemented by registrars that also mount
// routes served without authentication.
type PublicRouteRegistrar interface {
	RegisterPublicRoutes(router *mux.Router)
}

type roleGate struct {
	min    auth.Role
	inner  RouteRegistrar
	onDeny []middleware.DenyFunc
}

// RoleGated mounts inner behind a coarse role check. Handlers still run
// their own policy checks.
func RoleGated(min auth.Role, inner RouteRegistrar, onDeny ...middleware.DenyFunc) RouteRegistrar {
	return roleGate{min: min, inner: inner, onDeny: onDeny}
}

func (g roleGate) RegisterRoutes(router *mux.Router) {
	sub := router.NewRoute().Subrouter()
	sub.Use(middleware.RequireRole(g.min, g.onDeny...))
	g.inner.RegisterRoutes(sub)
}

// RecordRoleDenial reports a RoleGated refusal as an access_denied entry
// for check.
func RecordRoleDenial(denials DenialRecorder, resource audit.Resource, check string) middleware.DenyFunc {
	return func(r *http.Request, u *auth.User) {
		denials.RecordDenied(r.Context(), u, resource, "", "", &rbac.DeniedError{Check: check, Reason: rbac.ReasonInsufficientRole})
	}
}

// Config wires a Server. Authn is required; the rest is optional.
type Config struct {
	Authn        *middleware.AuthMiddleware
	Limiter      middleware.Limiter
	CORSOrigins  []string
	MaxBodyBytes int64
	Metrics      *observability.Metrics
	Logger       *observability.Logger

	// Registrars mount under /api behind authentication. Registrars that
	// implement PublicRouteRegistrar also mount their public routes.
	Registrars []RouteRegistrar
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	public  *mux.Router
	api     *mux.Router
	handler http.Handler
	logger  *observability.Logger
}

// NewServer builds the router: request id, access log, panic recovery,
// CORS and client capture on every route, then authentication and rate
// limiting on /api. Public routes skip authentication only.
func NewServer(cfg Config) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	s := &Server{router: mux.NewRouter(), logger: logger}
	s.router.Use(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(logger),
		httputil.RecoveryMiddleware(logger),
		httputil.CORSMiddleware(cfg.CORSOrigins),
		audit.ClientMiddleware,
	)
	if cfg.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}

	// Public routes match first; anything else falls through to s.api.
	s.public = s.router.PathPrefix("/api").Subrouter()
	s.public.Use(httputil.MaxBytesMiddleware(cfg.MaxBodyBytes))
	if cfg.Limiter != nil {
		s.public.Use(middleware.RateLimitMiddleware(cfg.Limiter, logger))
	}

	s.api = s.router.PathPrefix("/api").Subrouter()
	s.api.Use(httputil.MaxBytesMiddleware(cfg.MaxBodyBytes))
	s.api.Use(cfg.Authn.Handler)
	if cfg.Limiter != nil {
		s.api.Use(middleware.RateLimitMiddleware(cfg.Limiter, logger))
	}
	for _, r := range cfg.Registrars {
		s.RegisterRoutes(r)
	}

	s.handler = observability.InstrumentHandler(s.router, "taskguard-api")
	return s
}

// RegisterRoutes mounts registrar under /api.
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	if p, ok := registrar.(PublicRouteRegistrar); ok {
		p.RegisterPublicRoutes(s.public)
	}
	registrar.RegisterRoutes(s.api)
}

// Router returns the root router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
