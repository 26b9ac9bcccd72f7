package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/Dominik5397/Team-Task-Manager/pkg/analytics"
	"github.com/Dominik5397/Team-Task-Manager/pkg/audit"
	"github.com/Dominik5397/Team-Task-Manager/pkg/httputil"
	"github.com/Dominik5397/Team-Task-Manager/pkg/observability"
	"github.com/Dominik5397/Team-Task-Manager/pkg/retention"
)

// Deps are the components served by the API. Engine and Retention are
// optional; their routes are not mounted when nil.
type Deps struct {
	Service   *audit.Service
	Engine    *analytics.Engine
	Retention *retention.Manager

	Logger  *observability.Logger
	Metrics *observability.Metrics

	// RequestTimeout bounds every request context; 0 disables it
	RequestTimeout time.Duration
	// MaxConcurrentRequests bounds in-flight requests; 0 disables it
	MaxConcurrentRequests int
}

// Server is the change log API
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates a server with every route and middleware installed
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NewNopLogger()
	}

	s := &Server{router: mux.NewRouter()}
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	s.setupRoutes(deps)

	middlewares := []func(http.Handler) http.Handler{
		httputil.RequestIDMiddleware(deps.Logger),
		httputil.LoggingMiddleware,
		httputil.RecoveryMiddleware,
	}
	if deps.RequestTimeout > 0 {
		middlewares = append(middlewares, httputil.TimeoutMiddleware(deps.RequestTimeout))
	}
	middlewares = append(middlewares,
		httputil.ConcurrencyLimitMiddleware(deps.MaxConcurrentRequests),
		audit.ProvenanceMiddleware,
	)
	s.handler = httputil.Chain(middlewares...)(s.router)
	return s
}

// setupRoutes mounts the route groups
func (s *Server) setupRoutes(deps Deps) {
	if deps.Retention != nil {
		retention.NewHandlers(deps.Retention).RegisterRoutes(s.router)
	}
	audit.NewHandlers(deps.Service).RegisterRoutes(s.router)
	if deps.Engine != nil {
		analytics.NewHandlers(deps.Engine).RegisterRoutes(s.router)
	}
}

// Router exposes the underlying router, e.g. for tracing middleware
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
