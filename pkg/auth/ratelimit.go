package auth

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/Custodia-Systems/timevault/pkg/ratelimit"
)

// RateLimitMiddleware throttles per authenticated identity, falling back
// to the remote address for unauthenticated requests. A nil store
// disables throttling; limiter errors fail open so a degraded limiter
// backend cannot take the API down with it.
func RateLimitMiddleware(store ratelimit.Store, policy ratelimit.Policy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if store == nil {
				next.ServeHTTP(w, r)
				return
			}

			actorID := r.RemoteAddr
			if principal, err := GetPrincipal(r.Context()); err == nil {
				actorID = string(principal.Identity())
			}

			allowed, err := store.Allow(r.Context(), actorID, policy, 1)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				retryAfter := policy.RetryAfterSeconds()
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				w.Header().Set("Content-Type", "application/problem+json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"type":   "https://timevault.custodia.systems/errors/429",
					"title":  "Too Many Requests",
					"status": http.StatusTooManyRequests,
					"detail": "Rate limit exceeded. Retry after the specified interval.",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
