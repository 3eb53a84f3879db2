package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// setupRoutes builds the router. Health, login, and the invite info page
// are public; everything else requires a session.
func (s *Server) setupRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/api/healthz", s.handleHealthz)
	r.Post("/api/auth/login", s.handleLogin)
	r.Get("/api/v1/invites/{token}", s.handleInviteInfo)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/api/auth/logout", s.handleLogout)
		r.Post("/api/v1/invites/{token}/accept", s.handleAcceptInvite)

		r.Route("/api/v1/orgs/{orgSlug}", func(r chi.Router) {
			r.Route("/costs", func(r chi.Router) {
				r.Get("/genai", s.handleGenAICosts)
				r.Get("/cloud", s.handleCloudCosts)
				r.Get("/total", s.handleTotalCosts)
				r.Get("/trend", s.handleTrend)
				r.Get("/trend-granular", s.handleGranularTrend)
				r.Get("/by-provider", s.handleByProvider)
				r.Get("/by-service", s.handleByService)
				r.Get("/extended", s.handleExtendedPeriods)
			})

			r.Get("/members", s.handleListMembers)
			r.Delete("/members/{userID}", s.handleRemoveMember)
			r.Put("/members/{userID}/role", s.handleUpdateMemberRole)

			r.Get("/invites", s.handleListInvites)
			r.Post("/invites", s.handleCreateInvite)
			r.Post("/invites/{inviteID}/resend", s.handleResendInvite)
			r.Delete("/invites/{inviteID}", s.handleCancelInvite)
		})
	})

	return r
}
