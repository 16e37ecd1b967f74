package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/flock/pkg/community"
	"github.com/platinummonkey/flock/pkg/communitysync"
	"github.com/platinummonkey/flock/pkg/members"
	"github.com/platinummonkey/flock/pkg/membership"
	"github.com/platinummonkey/flock/pkg/middleware"
	"github.com/platinummonkey/flock/pkg/observability"
	"github.com/platinummonkey/flock/pkg/rbac"
)

// PathPrefix is where every tenant-scoped route is mounted
const PathPrefix = "/api/v1"

// RouteRegistrar is implemented by handler sets mounted under PathPrefix
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// Deps are the services the router adapts to HTTP. RBAC, Guard and Health
// are optional.
type Deps struct {
	Communities  *community.Resolver
	Analytics    *community.Analytics
	Engine       *membership.Engine
	Members      *members.Service
	Orchestrator *communitysync.Orchestrator
	RBAC         *rbac.Manager
	Guard        *rbac.PermissionMiddleware
	Health       *observability.HealthChecker
	Logger       *observability.Logger
	RateLimiter  *middleware.TenantRateLimiter
}

// Server routes HTTP requests to the flock services
type Server struct {
	router *mux.Router
	deps   Deps
	extra  []RouteRegistrar
}

// NewServer creates the router. extra handler sets, such as the audit
// handlers, are mounted under PathPrefix next to the built-in ones.
func NewServer(deps Deps, extra ...RouteRegistrar) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		extra:  extra,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID(s.deps.Logger), middleware.Recovery, middleware.Logging)

	if s.deps.Health != nil {
		s.router.HandleFunc("/health/live", s.deps.Health.Liveness).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.deps.Health.Readiness).Methods(http.MethodGet)
	}

	v1 := s.router.PathPrefix(PathPrefix).Subrouter()
	v1.Use(middleware.TenantContext)
	if s.deps.RateLimiter != nil {
		v1.Use(s.deps.RateLimiter.Handler)
	}

	NewCommunityHandlers(s.deps.Communities, s.deps.Engine).RegisterRoutes(v1)
	NewAnalyticsHandlers(s.deps.Analytics).RegisterRoutes(v1)
	NewMemberHandlers(s.deps.Members, s.deps.Orchestrator).RegisterRoutes(v1)

	if s.deps.RBAC != nil {
		rbac.NewHandlers(s.deps.RBAC).RegisterRoutes(v1, s.deps.Guard)
	}
	for _, r := range s.extra {
		r.RegisterRoutes(v1)
	}
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
