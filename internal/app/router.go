package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/pulsedash/pulsedash/internal/audit"
	"github.com/pulsedash/pulsedash/internal/auth"
	"github.com/pulsedash/pulsedash/internal/csrf"
	"github.com/pulsedash/pulsedash/internal/observability"
	"github.com/pulsedash/pulsedash/internal/ratelimit"
	"github.com/pulsedash/pulsedash/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger        *slog.Logger
	Config        *Config
	AuthHandler   *auth.Handler
	AuditHandler  *audit.Handler
	Authenticator *auth.Authenticator
	CSRFGuard     *csrf.Guard
	RateLimiter   *ratelimit.Limiter
	Metrics       *observability.Metrics
}

// NewRouter constructs the chi.Router.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	apiLimit := params.RateLimiter.Middleware(ratelimit.Class{
		Name:   "api",
		Max:    params.Config.RateLimitAPIMax,
		Window: params.Config.RateLimitAPIWindow,
	})
	authLimit := params.RateLimiter.Middleware(ratelimit.Class{
		Name:              "auth",
		Max:               params.Config.RateLimitAuthMax,
		Window:            params.Config.RateLimitAuthWindow,
		CountFailuresOnly: true,
	})
	resetLimit := params.RateLimiter.Middleware(ratelimit.Class{
		Name:   "reset",
		Max:    params.Config.RateLimitResetMax,
		Window: params.Config.RateLimitResetWindow,
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.CSRFGuard.Middleware)

		r.Group(func(r chi.Router) {
			r.Use(authLimit)
			params.AuthHandler.MountPublicRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(resetLimit)
			params.AuthHandler.MountResetRoutes(r)
		})

		r.Group(func(r chi.Router) {
			r.Use(apiLimit)
			r.Use(params.Authenticator.Middleware)
			params.AuthHandler.MountProtectedRoutes(r)

			r.Route("/audit", func(r chi.Router) {
				r.Use(auth.RequireRole(shared.RoleAdmin))
				params.AuditHandler.MountRoutes(r)
			})
		})
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
