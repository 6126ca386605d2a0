package services

import (
	"context"
	"net/http"
	"strings"
)

// ErrorWriter writes a service error as an HTTP response
type ErrorWriter func(ctx context.Context, w http.ResponseWriter, err error)

// RequireScope returns middleware that only lets requests carrying a valid
// staff bearer token with scope through. The user is added to the request
// context.
func RequireScope(auth *AuthService, scope string, writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract token from Authorization header
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(r.Context(), w, Unauthorized("authorization header required"))
				return
			}

			// Check Bearer token format
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
				writeError(r.Context(), w, Unauthorized("invalid authorization header format"))
				return
			}

			user, err := auth.Authenticate(r.Context(), strings.TrimSpace(parts[1]), scope)
			if err != nil {
				writeError(r.Context(), w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
