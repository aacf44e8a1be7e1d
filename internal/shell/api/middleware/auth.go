// Package middleware provides the HTTP middleware of the JSON:API server.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/artpar/jsonapi-server/internal/core/auth"
	"github.com/artpar/jsonapi-server/internal/shell/api/respond"
)

// =============================================================================
// Auth Configuration
// =============================================================================

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	// SharedSecret, when set, must be sent in X-Gateway-Secret.
	SharedSecret string

	Logger *slog.Logger
}

// =============================================================================
// Auth Middleware
// =============================================================================

// AuthMiddleware stores the caller's auth.Context in the request context.
type AuthMiddleware struct {
	config AuthConfig
}

// NewAuthMiddleware creates a new auth middleware with the given config.
func NewAuthMiddleware(cfg AuthConfig) *AuthMiddleware {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &AuthMiddleware{config: cfg}
}

// Handler returns the middleware handler function. Anonymous requests
// pass through with an unauthenticated context.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.config.SharedSecret != "" && r.Header.Get(auth.HeaderGatewaySecret) != m.config.SharedSecret {
			m.config.Logger.Warn("invalid gateway secret",
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			respond.Error(w, respond.NewError(http.StatusForbidden, "Forbidden", "Invalid gateway secret"), m.config.Logger)
			return
		}

		ctx := auth.ExtractFromRequest(r)
		next.ServeHTTP(w, r.WithContext(auth.WithContext(r.Context(), ctx)))
	})
}

// =============================================================================
// Require Auth Middleware
// =============================================================================

// RequireAuth rejects anonymous requests. Must be used after
// AuthMiddleware.
func RequireAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ok, reason := auth.RequireAuthentication(auth.FromContext(r.Context())); !ok {
				logger.Warn("unauthenticated request to protected endpoint",
					"remote_addr", r.RemoteAddr,
					"path", r.URL.Path,
					"method", r.Method,
				)
				respond.Error(w, respond.NewError(http.StatusUnauthorized, "Unauthorized", reason), logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
