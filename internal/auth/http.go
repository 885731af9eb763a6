// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts the token from the Authorization header or a query parameter

package auth

import (
	"net/http"
	"strings"
)

// extractToken pulls a bearer token from the Authorization header, falling
// back to the "token" query parameter for websocket upgrades, where browser
// clients cannot set headers.
func extractToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header != "" {
		if !strings.HasPrefix(header, "Bearer ") {
			return "", "invalid authorization header format"
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" {
			return "", "empty token"
		}
		return token, ""
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, ""
	}
	return "", "missing credentials"
}

// Middleware returns HTTP middleware that validates the request token and
// attaches the resulting Identity to the request context.
func Middleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractToken(r)
			if errMsg != "" {
				http.Error(w, `{"error":"`+errMsg+`"}`, http.StatusUnauthorized)
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
