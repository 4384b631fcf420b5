package routes

import (
	"github.com/colemarsh/signet/internal/auth"
	"github.com/colemarsh/signet/internal/handlers"
	"github.com/colemarsh/signet/internal/middleware"
	"github.com/colemarsh/signet/internal/security"
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers all application routes. Every route runs behind
// ClientIP so the fishing defense and audit logging always see the real
// client address.
func RegisterRoutes(
	router chi.Router,
	signingHandler *handlers.SigningHandler,
	orderHandler *handlers.OrderHandler,
	blockedIPHandler *handlers.BlockedIPHandler,
	tokenManager *auth.TokenManager,
	blocklist *security.Blocklist,
	failureLimiter *security.FailureLimiter,
	rateLimitConfig middleware.RateLimitConfig,
) {
	// Public signing routes. Order matters: the permanent blocklist and the
	// failure limiter run before the coarse request cap, so blocked
	// attackers get 403 rather than consuming rate budget.
	router.Group(func(r chi.Router) {
		r.Use(middleware.FishingGate(blocklist, failureLimiter))
		r.Use(middleware.RateLimitByIP(rateLimitConfig))
		signingHandler.RegisterRoutes(r)
	})

	// Operator routes, authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(tokenManager))

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleClerk))
			orderHandler.RegisterRoutes(r)
		})

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))
			blockedIPHandler.RegisterRoutes(r)
		})
	})
}
