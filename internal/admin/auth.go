package admin

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/desipipe/desipipe/internal/config"
)

// authMiddleware gates a handler behind either a bearer JWT (HS256,
// signed with cfg.JWTSecret) or a static API key, matching the teacher's
// internal/api/middleware/auth.go. Disabled (cfg.Enabled == false) it's
// a pass-through, since the admin surface is an opt-in local
// observability endpoint, not a public API (spec.md Non-goals: "strong
// security/sandboxing of user code" is explicitly out of scope, but a
// bearer-token gate on an optional HTTP surface is still worth carrying
// from the teacher).
func authMiddleware(cfg config.AuthConfig) func(http.Handler) http.Handler {
	keys := make(map[string]bool, len(cfg.APIKeys))
	for _, k := range cfg.APIKeys {
		keys[k] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			if apiKey := r.Header.Get("X-API-Key"); apiKey != "" {
				if keys[apiKey] {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			authHeader := r.Header.Get("Authorization")
			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if authHeader == "" || tokenString == authHeader {
				http.Error(w, "authorization required", http.StatusUnauthorized)
				return
			}

			token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
				return []byte(cfg.JWTSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
