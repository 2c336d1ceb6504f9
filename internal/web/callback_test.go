package web

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallbackListenerCompletesOnce(t *testing.T) {
	var gotCode, gotState string
	l, err := StartCallbackListener("http://127.0.0.1:0/auth/callback", func(_ context.Context, code, state string) (*domain.Token, error) {
		gotCode, gotState = code, state
		return &domain.Token{AccountID: "a1"}, nil
	})
	require.NoError(t, err)
	defer l.Close()

	base := "http://" + l.Addr().String() + "/auth/callback"
	resp, err := http.Get(base + "?code=c1&state=s1")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Authentication complete")

	resp, err = http.Get(base + "?code=c2&state=s2")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	tok, err := l.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a1", tok.AccountID)
	assert.Equal(t, "c1", gotCode)
	assert.Equal(t, "s1", gotState)
}

func TestCallbackListenerReportsProviderError(t *testing.T) {
	l, err := StartCallbackListener("http://127.0.0.1:0/cb", func(context.Context, string, string) (*domain.Token, error) {
		t.Fatal("complete must not be called")
		return nil, nil
	})
	require.NoError(t, err)

	resp, err := http.Get("http://" + l.Addr().String() + "/cb?error=access_denied")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, err = l.Wait(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthorizationDenied)
}

func TestCallbackListenerHonoursContext(t *testing.T) {
	l, err := StartCallbackListener("http://127.0.0.1:0/cb", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCallbackListenerRejectsHTTPS(t *testing.T) {
	_, err := StartCallbackListener("https://localhost:5000/cb", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
