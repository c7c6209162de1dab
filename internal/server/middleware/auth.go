package middleware

import (
	"crypto/subtle"
	"net/http"
)

// WebhookSecret authenticates inbound chat updates with a shared secret
// carried in the X-Webhook-Secret header. The comparison is constant
// time so the secret cannot be probed byte by byte.
func WebhookSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Webhook-Secret")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid webhook secret"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
