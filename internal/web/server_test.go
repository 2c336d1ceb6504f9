package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/auth/token"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts map[string]*domain.Account

func (f fakeAccounts) Get(_ context.Context, id string) (*domain.Account, error) {
	for _, a := range f {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f fakeAccounts) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	if a, ok := f[email]; ok {
		return a, nil
	}
	return nil, domain.ErrNotFound
}

type fakeTokens struct {
	completeErr error
	pollErr     error
	pollOpts    token.PollOptions
	status      *token.TokenStatus
	refresh     token.RefreshResult
	sweep       token.SweepResult
	sweepWindow int
}

func (f *fakeTokens) StartAuthorizationCodeFlow(_ context.Context, accountID, _ string) (string, string, error) {
	return "https://login.example/authorize?acc=" + accountID, "state-1", nil
}

func (f *fakeTokens) CompleteAuthorizationCodeFlow(_ context.Context, code, state, _ string) (*domain.Token, error) {
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &domain.Token{AccountID: "a1", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeTokens) StartDeviceCodeFlow(context.Context, string, string) (*domain.DeviceCodeResponse, error) {
	return &domain.DeviceCodeResponse{DeviceCode: "dc-1", UserCode: "ABCD-EFGH", VerificationURI: "https://microsoft.com/devicelogin", ExpiresIn: 900}, nil
}

func (f *fakeTokens) PollDeviceCodeFlow(_ context.Context, deviceCode, _ string, opts token.PollOptions) (*domain.Token, error) {
	f.pollOpts = opts
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	return &domain.Token{AccountID: "a2", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeTokens) TokenStatus(context.Context, string) (*token.TokenStatus, error) {
	if f.status == nil {
		return nil, domain.ErrNotFound
	}
	return f.status, nil
}

func (f *fakeTokens) RefreshToken(context.Context, string) token.RefreshResult {
	return f.refresh
}

func (f *fakeTokens) CheckAndRefreshExpiringTokens(_ context.Context, minutes int) token.SweepResult {
	f.sweepWindow = minutes
	return f.sweep
}

func newTestServer(t *testing.T, tokens *fakeTokens, opts Options) http.Handler {
	t.Helper()
	accounts := fakeAccounts{
		"user@contoso.com": {ID: "a1", Email: "user@contoso.com", AuthType: domain.AuthTypeAuthorizationCode, Status: domain.StatusActive},
		"dev@contoso.com":  {ID: "a2", Email: "dev@contoso.com", AuthType: domain.AuthTypeDeviceCode, Status: domain.StatusInactive},
	}
	return NewServer(accounts, tokens, opts).Routes()
}

func do(h http.Handler, method, target string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestStartRedirectsAuthorizationCodeAccounts(t *testing.T) {
	h := newTestServer(t, &fakeTokens{}, Options{})

	rec := do(h, http.MethodGet, "/auth/start?email=user@contoso.com")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://login.example/authorize?acc=a1", rec.Header().Get("Location"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestStartReturnsDeviceCode(t *testing.T) {
	h := newTestServer(t, &fakeTokens{}, Options{})

	rec := do(h, http.MethodGet, "/auth/start?email=dev@contoso.com&flow=device_code")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ABCD-EFGH", body["user_code"])
	assert.Equal(t, "dc-1", body["device_code"])
}

func TestStartErrors(t *testing.T) {
	h := newTestServer(t, &fakeTokens{}, Options{})

	tests := []struct {
		target string
		want   int
	}{
		{"/auth/start", http.StatusBadRequest},
		{"/auth/start?email=ghost@contoso.com", http.StatusNotFound},
		{"/auth/start?email=user@contoso.com&flow=device_code", http.StatusBadRequest},
		{"/auth/start?email=user@contoso.com&flow=password", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := do(h, http.MethodGet, tt.target)
		assert.Equal(t, tt.want, rec.Code, tt.target)
		assert.Contains(t, rec.Body.String(), `"error"`, tt.target)
	}
}

func TestCallback(t *testing.T) {
	tests := []struct {
		name        string
		target      string
		completeErr error
		want        int
	}{
		{"success", "/auth/callback?code=c&state=s", nil, http.StatusOK},
		{"provider error", "/auth/callback?error=access_denied&error_description=nope", nil, http.StatusBadRequest},
		{"missing state", "/auth/callback?code=c", nil, http.StatusBadRequest},
		{"unknown state", "/auth/callback?code=c&state=s", domain.ErrInvalidState, http.StatusBadRequest},
		{"provider rejected", "/auth/callback?code=c&state=s", fmt.Errorf("exchange: %w", domain.ErrProviderRejected), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakeTokens{completeErr: tt.completeErr}, Options{})
			rec := do(h, http.MethodGet, tt.target)
			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, "user@contoso.com", decode(t, rec)["email"])
			}
		})
	}
}

func TestPollDevice(t *testing.T) {
	tokens := &fakeTokens{pollErr: fmt.Errorf("%w after 1 attempts", domain.ErrPollTimeout)}
	h := newTestServer(t, tokens, Options{})

	rec := do(h, http.MethodGet, "/auth/poll-device?device_code=dc-1")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "pending", decode(t, rec)["status"])
	assert.Equal(t, 1, tokens.pollOpts.MaxAttempts)
	assert.True(t, tokens.pollOpts.Resumable)

	tokens.pollErr = nil
	rec = do(h, http.MethodPost, "/auth/poll-device?device_code=dc-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a2", decode(t, rec)["account_id"])

	tokens.pollErr = fmt.Errorf("poll: %w", domain.ErrAuthorizationDenied)
	assert.Equal(t, http.StatusForbidden, do(h, http.MethodGet, "/auth/poll-device?device_code=dc-1").Code)

	tokens.pollErr = fmt.Errorf("poll: %w", domain.ErrDeviceCodeExpired)
	assert.Equal(t, http.StatusGone, do(h, http.MethodGet, "/auth/poll-device?device_code=dc-1").Code)

	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodGet, "/auth/poll-device").Code)
}

func TestStatus(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tokens := &fakeTokens{}
	h := newTestServer(t, tokens, Options{})

	rec := do(h, http.MethodGet, "/auth/status/dev@contoso.com")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["has_token"])
	assert.Nil(t, body["token_expires_at"])

	tokens.status = &token.TokenStatus{DBExpiresAt: exp}
	body = decode(t, do(h, http.MethodGet, "/auth/status/user@contoso.com"))
	assert.Equal(t, true, body["has_token"])
	assert.Equal(t, true, body["token_valid"])
	assert.Equal(t, "2030-01-01T00:00:00Z", body["token_expires_at"])
	assert.Equal(t, "authorization_code", body["auth_type"])

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/auth/status/ghost@contoso.com").Code)
}

func TestAPIRequiresKey(t *testing.T) {
	tokens := &fakeTokens{sweep: token.SweepResult{Attempted: 2, Refreshed: 1, Failed: 1, Err: errors.New("boom")}}
	h := newTestServer(t, tokens, Options{APIKey: func() string { return "sk-1" }, RefreshWindowMinutes: 7})

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodPost, "/api/refresh").Code)

	rec := do(h, http.MethodPost, "/api/refresh", "Authorization", "Bearer sk-1")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "partial", body["status"])
	assert.EqualValues(t, 2, body["attempted"])
	assert.Equal(t, 7, tokens.sweepWindow)

	do(h, http.MethodPost, "/api/refresh?minutes=30", "x-api-key", "sk-1")
	assert.Equal(t, 30, tokens.sweepWindow)
	assert.Equal(t, http.StatusBadRequest, do(h, http.MethodPost, "/api/refresh?minutes=x", "x-api-key", "sk-1").Code)
}

func TestRefreshAccount(t *testing.T) {
	tokens := &fakeTokens{}
	h := newTestServer(t, tokens, Options{})

	tokens.refresh = token.RefreshResult{Status: token.RefreshSucceeded, Token: &domain.Token{ExpiresAt: time.Now().Add(time.Hour)}}
	assert.Equal(t, http.StatusOK, do(h, http.MethodPost, "/api/accounts/a1/refresh").Code)

	tokens.refresh = token.RefreshResult{Status: token.RefreshSkipped}
	assert.Equal(t, http.StatusConflict, do(h, http.MethodPost, "/api/accounts/a1/refresh").Code)

	tokens.refresh = token.RefreshResult{Status: token.RefreshFailed, Err: fmt.Errorf("%w: invalid_grant", domain.ErrRefreshFailed)}
	assert.Equal(t, http.StatusBadGateway, do(h, http.MethodPost, "/api/accounts/a1/refresh").Code)

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodPost, "/api/accounts/nope/refresh").Code)
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, &fakeTokens{}, Options{})
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz").Code)
}
