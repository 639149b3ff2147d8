package api

import (
	"net/http"

	"github.com/mattjoyce/macrogw/internal/auth"
)

// authMiddleware rejects requests without the configured shared secret.
// The response never says which part of the credential was wrong.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := auth.Authenticate(r, s.config.KeyHeader, s.config.APIKey); err != nil {
			s.logger.Warn("unauthorized request",
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"reason", err.Error(),
			)
			s.writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}
