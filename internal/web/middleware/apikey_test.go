package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAPIKeyAuthAllowsAllWithoutKey(t *testing.T) {
	h := APIKeyAuth(func() string { return "" })(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/refresh", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	h := APIKeyAuth(func() string { return "sk-abc" })(okHandler())

	tests := []struct {
		name string
		set  func(r *http.Request)
		want int
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer sk-abc") }, http.StatusNoContent},
		{"x-api-key", func(r *http.Request) { r.Header.Set("x-api-key", "sk-abc") }, http.StatusNoContent},
		{"query", func(r *http.Request) { r.URL.RawQuery = "key=sk-abc" }, http.StatusNoContent},
		{"wrong bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"basic scheme", func(r *http.Request) { r.Header.Set("Authorization", "Basic sk-abc") }, http.StatusUnauthorized},
		{"missing", func(r *http.Request) {}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
			tt.set(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), "authentication_error")
			}
		})
	}
}
