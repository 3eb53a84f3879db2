package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/finsight/costgate/internal/components/api"
	"github.com/finsight/costgate/internal/platform/appctx"
)

// loggingMiddleware logs request information using slog.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"client_ip", s.trustedProxies.ClientIP(r),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware resolves the session and attaches the user id to the
// request context. Applied only to protected route groups.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractSessionToken(r)
		if token == "" {
			api.WriteUnauthenticated(w, "authentication required")
			return
		}

		session, err := s.deps.Sessions.Get(r.Context(), token)
		if err != nil {
			api.WriteUnauthenticated(w, "session not found or expired")
			return
		}

		if _, err := s.deps.Users.Get(r.Context(), session.UserID); err != nil {
			api.WriteUnauthenticated(w, "session user not found")
			return
		}

		next.ServeHTTP(w, r.WithContext(appctx.WithUserID(r.Context(), session.UserID)))
	})
}

// extractSessionToken gets the session token from the cookie or the
// Authorization header.
func extractSessionToken(r *http.Request) string {
	if cookie, err := r.Cookie("session"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}
