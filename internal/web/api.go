package web

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/m365-mail-nexus/internal/auth/token"
)

// handleSweep refreshes every token expiring within the window. The window
// can be overridden with ?minutes=.
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	minutes := s.opts.RefreshWindowMinutes
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "minutes must be a positive integer")
			return
		}
		minutes = n
	}

	res := s.tokens.CheckAndRefreshExpiringTokens(r.Context(), minutes)
	body := map[string]any{
		"status":    "ok",
		"attempted": res.Attempted,
		"refreshed": res.Refreshed,
		"skipped":   res.Skipped,
		"failed":    res.Failed,
	}
	if res.Err != nil {
		body["status"] = "partial"
		body["error"] = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRefreshAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.accounts.Get(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}

	res := s.tokens.RefreshToken(r.Context(), id)
	switch res.Status {
	case token.RefreshSucceeded:
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"expires_at": res.Token.ExpiresAt,
		})
	case token.RefreshSkipped:
		writeJSON(w, http.StatusConflict, map[string]string{
			"status":  "skipped",
			"message": "account has no refresh token",
		})
	default:
		s.fail(w, r, res.Err)
	}
}
