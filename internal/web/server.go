// Package web serves the browser side of the OAuth flows and a small admin
// API for triggering refreshes.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pysugar/m365-mail-nexus/internal/auth/token"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/pysugar/m365-mail-nexus/internal/logging"
	"github.com/pysugar/m365-mail-nexus/internal/web/middleware"
)

// Accounts looks up registered accounts.
type Accounts interface {
	Get(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
}

// Tokens is the part of the token manager the routes drive.
type Tokens interface {
	StartAuthorizationCodeFlow(ctx context.Context, accountID, scope string) (string, string, error)
	CompleteAuthorizationCodeFlow(ctx context.Context, code, state, scope string) (*domain.Token, error)
	StartDeviceCodeFlow(ctx context.Context, accountID, scope string) (*domain.DeviceCodeResponse, error)
	PollDeviceCodeFlow(ctx context.Context, deviceCode, scope string, opts token.PollOptions) (*domain.Token, error)
	TokenStatus(ctx context.Context, accountID string) (*token.TokenStatus, error)
	RefreshToken(ctx context.Context, accountID string) token.RefreshResult
	CheckAndRefreshExpiringTokens(ctx context.Context, minutes int) token.SweepResult
}

// Options tune the server. Zero values are usable.
type Options struct {
	// APIKey guards /api. Nil or empty disables the check.
	APIKey middleware.KeyFunc
	// RefreshWindowMinutes is the sweep window of POST /api/refresh.
	RefreshWindowMinutes int
	// PollInterval is the wait inside a single device poll request.
	PollInterval time.Duration
}

type Server struct {
	accounts Accounts
	tokens   Tokens
	opts     Options
}

func NewServer(accounts Accounts, tokens Tokens, opts Options) *Server {
	if opts.APIKey == nil {
		opts.APIKey = func() string { return "" }
	}
	if opts.RefreshWindowMinutes <= 0 {
		opts.RefreshWindowMinutes = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Millisecond
	}
	return &Server{accounts: accounts, tokens: tokens, opts: opts}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Middleware)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/start", s.handleStart)
		r.Get("/callback", s.handleCallback)
		r.Get("/poll-device", s.handlePollDevice)
		r.Post("/poll-device", s.handlePollDevice)
		r.Get("/status/{email}", s.handleStatus)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.opts.APIKey))
		r.Post("/refresh", s.handleSweep)
		r.Post("/accounts/{id}/refresh", s.handleRefreshAccount)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func writeError(w http.ResponseWriter, status int, errType, msg string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Message: msg, Type: errType}})
}

// statusFor maps the domain error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidAuthType),
		errors.Is(err, domain.ErrInvalidState):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict, "conflict"
	case errors.Is(err, domain.ErrAuthorizationDenied):
		return http.StatusForbidden, "access_denied"
	case errors.Is(err, domain.ErrDeviceCodeExpired):
		return http.StatusGone, "expired_token"
	case errors.Is(err, domain.ErrProviderTransient):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, domain.ErrProviderRejected), errors.Is(err, domain.ErrRefreshFailed):
		return http.StatusBadGateway, "provider_error"
	}
	return http.StatusInternalServerError, "internal_error"
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, errType := statusFor(err)
	event := logging.FromContext(r.Context()).Warn()
	if status >= http.StatusInternalServerError {
		event = logging.FromContext(r.Context()).Error()
	}
	event.Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, status, errType, err.Error())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
