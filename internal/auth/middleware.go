// Package auth issues and validates access tokens and resolves the actor
// for each request.
package auth

import (
	"net/http"
	"strings"

	"github.com/qrsafety/backend/internal/identity"
)

// ActorMiddleware resolves the request's actor from the Authorization header
// and stores it in the context. Requests without a usable token proceed as
// the anonymous guest; handlers that need a known identity enforce it
// themselves.
func ActorMiddleware(tokenGenerator *TokenGenerator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := identity.Anonymous

			if token := bearerToken(r); token != "" {
				if resolved, err := tokenGenerator.ValidateToken(token); err == nil {
					actor = resolved
				}
			}

			ctx := identity.WithActor(r.Context(), actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireKnownActor rejects requests whose actor has no stable identifier.
func RequireKnownActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !identity.FromContext(r.Context()).Known() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthenticated rejects guests and anonymous requests.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor := identity.FromContext(r.Context())
		if !actor.Known() || actor.Guest {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"a registered account is required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken extracts the token from the Authorization header or cookie
func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		// Expected format: "Bearer <token>"
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && strings.ToLower(parts[0]) == "bearer" {
			return parts[1]
		}
	}

	cookie, err := r.Cookie("access_token")
	if err == nil {
		return cookie.Value
	}

	return ""
}
