package web

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pysugar/m365-mail-nexus/internal/auth/token"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/pysugar/m365-mail-nexus/internal/logging"
)

// handleStart begins the flow of the account's auth type. Authorization code
// accounts are redirected to the identity platform; device code accounts get
// the code to show the user.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email := q.Get("email")
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}
	acc, err := s.accounts.GetByEmail(r.Context(), email)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	if flow := q.Get("flow"); flow != "" {
		want, err := domain.ParseAuthType(flow)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if want != acc.AuthType {
			writeError(w, http.StatusBadRequest, "invalid_request",
				fmt.Sprintf("account %s uses %s, not %s", acc.Email, acc.AuthType, want))
			return
		}
	}

	switch acc.AuthType {
	case domain.AuthTypeAuthorizationCode:
		authURL, _, err := s.tokens.StartAuthorizationCodeFlow(r.Context(), acc.ID, q.Get("scope"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	default:
		dc, err := s.tokens.StartDeviceCodeFlow(r.Context(), acc.ID, q.Get("scope"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"flow":             domain.AuthTypeDeviceCode,
			"account_id":       acc.ID,
			"device_code":      dc.DeviceCode,
			"user_code":        dc.UserCode,
			"verification_uri": dc.VerificationURI,
			"expires_in":       dc.ExpiresIn,
			"interval":         dc.Interval,
			"message":          dc.Message,
		})
	}
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if providerErr := q.Get("error"); providerErr != "" {
		logging.FromContext(r.Context()).Warn().Str("error", providerErr).Msg("Authorization failed at the provider")
		writeError(w, http.StatusBadRequest, providerErr, q.Get("error_description"))
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "code and state are required")
		return
	}

	tok, err := s.tokens.CompleteAuthorizationCodeFlow(r.Context(), code, state, "")
	if err != nil {
		s.fail(w, r, err)
		return
	}

	acc, err := s.accounts.Get(r.Context(), tok.AccountID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"account_id": acc.ID,
		"email":      acc.Email,
		"expires_at": tok.ExpiresAt,
	})
}

// handlePollDevice makes one poll attempt. A pending authorization leaves
// the device code in place so the client can call again.
func (s *Server) handlePollDevice(w http.ResponseWriter, r *http.Request) {
	deviceCode := r.URL.Query().Get("device_code")
	if deviceCode == "" {
		deviceCode = r.FormValue("device_code")
	}
	if deviceCode == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "device_code is required")
		return
	}

	tok, err := s.tokens.PollDeviceCodeFlow(r.Context(), deviceCode, "", token.PollOptions{
		MaxAttempts: 1,
		Interval:    s.opts.PollInterval,
		Resumable:   true,
	})
	if errors.Is(err, domain.ErrPollTimeout) {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "pending"})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"account_id": tok.AccountID,
		"expires_at": tok.ExpiresAt,
	})
}

type statusResponse struct {
	AccountID      string               `json:"account_id"`
	Email          string               `json:"email"`
	DisplayName    string               `json:"display_name"`
	AuthType       domain.AuthType      `json:"auth_type"`
	Status         domain.AccountStatus `json:"status"`
	HasToken       bool                 `json:"has_token"`
	TokenValid     bool                 `json:"token_valid"`
	TokenExpiresAt *time.Time           `json:"token_expires_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	acc, err := s.accounts.GetByEmail(r.Context(), chi.URLParam(r, "email"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	resp := statusResponse{
		AccountID:   acc.ID,
		Email:       acc.Email,
		DisplayName: acc.DisplayName,
		AuthType:    acc.AuthType,
		Status:      acc.Status,
	}
	st, err := s.tokens.TokenStatus(r.Context(), acc.ID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		s.fail(w, r, err)
		return
	default:
		exp := st.DBExpiresAt
		resp.HasToken = true
		resp.TokenValid = !st.DBIsExpired && st.DecryptionError == ""
		resp.TokenExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}
