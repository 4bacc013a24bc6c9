package api

import (
	"net/http"

	"github.com/HelloWorldSungin/claude-strategist/internal/auth"
)

// authMiddleware requires the configured bearer token. With no token
// configured every protected route is refused.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token == "" {
			s.writeError(w, http.StatusUnauthorized, "API token not configured")
			return
		}
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		if !auth.Equal(token, s.config.Token) {
			s.writeError(w, http.StatusUnauthorized, "invalid API token")
			return
		}
		next.ServeHTTP(w, r)
	})
}
