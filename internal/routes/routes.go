package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/atriumhq/atrium/internal/auth"
	"github.com/atriumhq/atrium/internal/handlers"
	"github.com/atriumhq/atrium/internal/middleware"
	"github.com/atriumhq/atrium/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	sessions *auth.SessionAuthority,
	authHandler *handlers.AuthHandler,
	inviteHandler *handlers.InviteHandler,
	mfaHandler *handlers.MFAHandler,
	resetHandler *handlers.PasswordResetHandler,
) {
	// Per-IP rate limiting on the unauthenticated credential surfaces
	rateLimitConfig := middleware.DefaultAuthRateLimit()

	// Public routes
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/register", authHandler.Register)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/refresh", authHandler.RefreshToken)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/external", authHandler.ExternalSignIn)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/password-reset", resetHandler.Request)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/password-reset/validate", resetHandler.Validate)
	router.With(middleware.RateLimitByIP(rateLimitConfig)).Post("/auth/password-reset/consume", resetHandler.Consume)
	router.Get("/invites/{token}", inviteHandler.Validate)

	// Authenticated routes
	router.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(sessions))

		// Accepts half-authenticated sessions: this is where they elevate
		r.Post("/auth/mfa/verify", authHandler.VerifyMFA)
		r.Post("/auth/logout", authHandler.Logout)

		// Everything else requires a fully verified session
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireMFAVerified())

			r.Post("/auth/logout-all", authHandler.LogoutAll)
			r.Put("/auth/password", authHandler.ChangePassword)
			r.Delete("/auth/external", authHandler.DisconnectExternal)

			r.Post("/invites", inviteHandler.CreateSelfService)

			r.Post("/mfa/setup", mfaHandler.BeginSetup)
			r.Post("/mfa/setup/confirm", mfaHandler.ConfirmSetup)
			r.Delete("/mfa", mfaHandler.Disable)
			r.Post("/mfa/backup-codes", mfaHandler.RegenerateBackupCodes)

			// Admin surface
			r.Group(func(r chi.Router) {
				r.Use(auth.RequireRole(models.RoleAdmin))

				r.Post("/admin/invites", inviteHandler.Create)
				r.Get("/admin/invites", inviteHandler.List)
				r.Delete("/admin/invites/{id}", inviteHandler.Revoke)
			})
		})
	})
}
