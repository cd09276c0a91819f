package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"policyhub-backend/application/mediator"
	"policyhub-backend/interfaces/http/rest/handlers"
	"policyhub-backend/interfaces/http/rest/middleware"
	"policyhub-backend/pkg/auth"
	apperrors "policyhub-backend/pkg/errors"
)

// AdminRole may rebuild projections and run the outbox
const AdminRole = "admin"

// RouterConfig holds the optional parts of the router
type RouterConfig struct {
	CORSOrigins []string
	// Validator checks bearer tokens; nil trusts the tenant headers
	Validator *auth.JWTValidator
	// Limiter applies per tenant; nil disables rate limiting
	Limiter auth.RateLimiter
	// MetricsHandler is served on /metrics when set
	MetricsHandler http.Handler
	Recorder       middleware.RequestRecorder
	Debug          bool
}

// Router creates and configures the HTTP router
type Router struct {
	mediator    mediator.IMediator
	projections handlers.Projections
	outbox      handlers.Outbox
	config      RouterConfig
	logger      *zap.Logger
}

// NewRouter creates a new router instance
func NewRouter(
	m mediator.IMediator,
	projections handlers.Projections,
	outbox handlers.Outbox,
	config RouterConfig,
	logger *zap.Logger,
) *Router {
	return &Router{
		mediator:    m,
		projections: projections,
		outbox:      outbox,
		config:      config,
		logger:      logger,
	}
}

// Setup configures all routes and middleware
func (rt *Router) Setup() http.Handler {
	errs := apperrors.NewErrorHandler(rt.logger, rt.config.Debug)
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestContext)
	router.Use(middleware.Logger(rt.logger, rt.config.Recorder))
	router.Use(errs.Middleware)

	origins := rt.config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept", "Authorization", "Content-Type", "X-Request-ID",
			middleware.HeaderCorrelationID, middleware.HeaderTenantID,
		},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	router.Get("/healthz", rt.healthCheck)
	if rt.config.MetricsHandler != nil {
		router.Handle("/metrics", rt.config.MetricsHandler)
	}

	router.Route("/v1", func(r chi.Router) {
		if rt.config.Validator != nil {
			r.Use(middleware.Authenticate(rt.config.Validator, errs, rt.logger))
		} else {
			r.Use(middleware.TrustHeaders(errs))
		}
		if rt.config.Limiter != nil {
			r.Use(middleware.RateLimit(rt.config.Limiter, errs, rt.logger))
		}

		r.Route("/policies", handlers.NewPolicyHandler(rt.mediator, errs, rt.logger).Routes)
		r.Route("/users", handlers.NewUserHandler(rt.mediator, errs, rt.logger).Routes)

		if rt.projections != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(errs, AdminRole))
				handlers.NewAdminHandler(rt.projections, rt.outbox, errs, rt.logger).Routes(r)
			})
		}
	})

	return router
}

// healthCheck handles health check requests
func (rt *Router) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy"}`))
}
