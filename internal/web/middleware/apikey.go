// Package middleware holds HTTP middleware shared by the web routes.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/pysugar/m365-mail-nexus/internal/logging"
)

// KeyFunc returns the expected API key. An empty key disables the check.
type KeyFunc func() string

// APIKeyAuth validates the API key from the Authorization header, the
// x-api-key header or the key query parameter.
func APIKeyAuth(expected KeyFunc) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			expectedKey := expected()
			if expectedKey == "" {
				// No API key configured, allow all requests (first-run scenario)
				next.ServeHTTP(w, r)
				return
			}

			if matches(bearer(r), expectedKey) ||
				matches(r.Header.Get("x-api-key"), expectedKey) ||
				matches(r.URL.Query().Get("key"), expectedKey) {
				next.ServeHTTP(w, r)
				return
			}

			logging.FromContext(r.Context()).Warn().Str("path", r.URL.Path).Msg("🔒 Rejected request with invalid API key")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": {"message": "Invalid API key", "type": "authentication_error"}}`))
		})
	}
}

func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(h, "Bearer ")
}

func matches(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
