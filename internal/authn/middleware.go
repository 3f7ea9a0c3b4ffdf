package authn

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const userIDContextKey contextKey = "user_id"

// Middleware resolves the caller's user ID from a bearer token, or uses a
// fixed dev user ID when SkipAuth is set (teacher's GatewayConfig.SkipAuth
// escape hatch).
type Middleware struct {
	manager  *Manager
	skipAuth bool
	devUser  string
}

// NewMiddleware builds the middleware. skipAuth bypasses token validation
// entirely, for local development and tests.
func NewMiddleware(manager *Manager, skipAuth bool) *Middleware {
	return &Middleware{manager: manager, skipAuth: skipAuth, devUser: "dev-user"}
}

// HTTPMiddleware wraps a handler, injecting the resolved user ID into the
// request context.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), m.devUser)))
			return
		}

		token := bearerToken(r)
		if token == "" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		userID, err := m.manager.ValidateToken(token)
		if err != nil {
			http.Error(w, `{"error":"invalid bearer token"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	// SSE clients (browser EventSource) cannot set custom headers.
	return r.URL.Query().Get("token")
}

func withUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext returns the authenticated caller's user ID, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDContextKey).(string)
	return v, ok
}
