// Package middleware provides HTTP middleware for the local bridge.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
)

// Auth requires the bridge token as a bearer header. Paths listed in public
// are served without it; the WebSocket endpoint checks the token in its
// first request instead.
func Auth(token string, public ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if slices.Contains(public, r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				reject(w, r, "Not authenticated")
				return
			}

			scheme, value, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") {
				reject(w, r, "Invalid authorization header")
				return
			}

			if subtle.ConstantTimeCompare([]byte(value), []byte(token)) != 1 {
				reject(w, r, "Invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// reject answers in the backend's error shape so bridge clients parse one
// format.
func reject(w http.ResponseWriter, r *http.Request, detail string) {
	slog.Debug("rejected bridge request", "path", r.URL.Path, "reason", detail)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}
