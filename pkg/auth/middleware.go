package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Middleware guards operator routes with a static bearer token.
type Middleware struct {
	token  string
	logger *zap.Logger
}

// NewMiddleware creates a new auth middleware accepting token.
func NewMiddleware(token string, logger *zap.Logger) *Middleware {
	return &Middleware{
		token:  token,
		logger: logger,
	}
}

// RequireAdmin rejects requests whose Authorization header is not
// "Bearer <admin token>". An unconfigured token rejects everything.
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || m.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(m.token)) != 1 {
			m.logger.Warn("Rejected admin request",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr))
			m.unauthorized(w, "Admin token required")
			return
		}
		next(w, r)
	}
}

// unauthorized returns a 401 response with JSON error body.
func (m *Middleware) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
