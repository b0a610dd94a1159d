package middleware

import (
	"crypto/subtle"
	"net/http"
)

// APISecretHeader carries the shared secret of the front door.
const APISecretHeader = "X-API-Secret"

// RequireSecret rejects requests whose X-API-Secret header does not match secret.
func RequireSecret(secret string) func(http.Handler) http.Handler {
	expected := []byte(secret)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get(APISecretHeader)
			if provided == "" {
				http.Error(w, "missing api secret", http.StatusUnauthorized)
				return
			}

			if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
				http.Error(w, "invalid api secret", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
