package routes

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/upb/agent-safe-grid/app"
	"github.com/upb/agent-safe-grid/auth"
	"github.com/upb/agent-safe-grid/handlers"
)

// requestTimeout leaves room for the provider timeout plus audit writes
const requestTimeout = 60 * time.Second

// rateLimit returns the per-tenant limiter, or a pass-through when disabled
func rateLimit(deps *app.Dependencies) func(http.Handler) http.Handler {
	if deps.RateLimitMiddleware == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return deps.RateLimitMiddleware.LimitTenant
}

// SetupRoutes configures all application routes and middleware
func SetupRoutes(deps *app.Dependencies) http.Handler {
	r := chi.NewRouter()
	logger := deps.Logger

	// Core middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	// CORS middleware
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Config.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Country"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoints
	var db *sql.DB
	if deps.DB != nil {
		db = deps.DB.DB
	}
	health := handlers.NewHealthHandler(db, logger)
	if deps.Redis != nil {
		health.WithCheck("redis", func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	r.Get("/healthz", health.HandleHealth)
	r.Get("/readyz", health.HandleReadiness)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	// Provider connectivity check, used before a provider is enabled
	connectivity := handlers.NewConnectivityHandler(deps.Tester, logger)
	r.Post("/api/llm/test-connection", connectivity.HandleTestConnection)

	chat := handlers.NewChatHandler(deps.Gateway, logger)
	policies := handlers.NewPolicyHandler(deps.Policies, logger)
	metering := handlers.NewMeteringHandler(deps.Ledger, deps.Policies, logger)
	audit := handlers.NewAuditHandler(deps.Recorder, logger)
	providers := handlers.NewProviderHandler(deps.Providers, logger)

	// API v1 routes, scoped to the tenant in the token
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(deps.AuthMiddleware.RequireAuth)
		r.Use(deps.AuthMiddleware.ExtractTenant)

		r.With(rateLimit(deps)).Post("/chat", chat.HandleChat)
		r.Get("/providers", providers.HandleList)

		r.Route("/policy", func(r chi.Router) {
			r.Get("/", policies.HandleGetPolicy)
			r.Put("/", policies.HandleSavePolicy)
			r.Put("/flags", policies.HandleSetFlags)
			r.Get("/catalog", policies.HandleCatalog)
		})

		r.Route("/metering", func(r chi.Router) {
			r.Get("/", metering.HandleGetStats)

			// Budget mutations require admin role
			r.Group(func(r chi.Router) {
				r.Use(deps.AuthMiddleware.RequireRole(auth.RoleAdmin))
				r.Put("/budget", metering.HandleSetBudget)
				r.Post("/reset", metering.HandleReset)
			})
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", audit.HandleList)
			r.Get("/export", audit.HandleExport)
			r.Get("/verify", audit.HandleVerifyChain)
			r.Post("/{id}/verify", audit.HandleVerify)
		})
	})

	// 404 handler
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"endpoint not found"}`))
	})

	return r
}
