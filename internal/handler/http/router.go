package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/PaulSamPS/e-commerce-server/internal/auth"
	"github.com/PaulSamPS/e-commerce-server/internal/service"
	"github.com/PaulSamPS/e-commerce-server/pkg/health"
	"github.com/PaulSamPS/e-commerce-server/pkg/middleware"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	ServiceName       string
	Cookies           CookieConfig
	CORS              middleware.CORSConfig
	RateLimit         middleware.RateLimitConfig
	PprofAllowedCIDRs []string
}

// Services bundles what the handlers call into.
type Services struct {
	Accounts *service.AccountService
	Sessions *service.SessionService
	Verifier Verifier
	Health   *health.Handler
}

// NewRouter creates a chi router with all routes registered. ctx bounds
// background work started for the router, such as rate limiter eviction.
func NewRouter(ctx context.Context, cfg RouterConfig, svc Services, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", svc.Health.LivenessHandler())
	r.Get("/health/ready", svc.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	guard := NewGuard(svc.Verifier, svc.Sessions, cfg.Cookies, logger)
	requireAdmin := RequireCapability(auth.CapabilityAdmin, logger)

	authHandler := NewAuthHandler(svc.Accounts, cfg.Cookies, logger)
	userHandler := NewUserHandler(svc.Accounts, logger)
	adminHandler := NewAdminHandler(svc.Sessions, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Public auth endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(ctx, cfg.RateLimit, logger))

			r.Post("/auth/register", authHandler.Register)
			r.Post("/auth/activate", authHandler.Activate)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/reset-password/send-code", authHandler.SendResetCode)
			r.Post("/auth/reset-password", authHandler.ResetPassword)
		})

		// Authenticated endpoints
		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware)

			r.Post("/auth/logout", authHandler.Logout)
			r.Get("/users/me", userHandler.Me)
			r.Get("/users/refresh-token", userHandler.Session)
		})

		// Admin endpoints
		r.Group(func(r chi.Router) {
			r.Use(guard.Middleware)
			r.Use(requireAdmin)

			r.Get("/admin/sessions/{userID}", adminHandler.GetSession)
			r.Delete("/admin/sessions/{userID}", adminHandler.RevokeSession)
		})
	})

	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger, guard.Middleware, requireAdmin)

	return r
}
