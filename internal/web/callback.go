package web

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/rs/zerolog/log"
)

// CallbackTimeout is how long to wait for the OAuth callback.
const CallbackTimeout = 5 * time.Minute

// CompleteFunc redeems the code delivered to the redirect URI.
type CompleteFunc func(ctx context.Context, code, state string) (*domain.Token, error)

// CallbackResult is the outcome of the one callback a listener accepts.
type CallbackResult struct {
	Token *domain.Token
	Err   error
}

// CallbackListener is a temporary HTTP server bound to the host and port of
// a redirect URI. It accepts a single callback.
type CallbackListener struct {
	srv     *http.Server
	addr    net.Addr
	results chan CallbackResult
	once    sync.Once
	handled sync.Once
}

// StartCallbackListener listens on the redirect URI's address and completes
// the flow with the first request to its path.
func StartCallbackListener(redirectURI string, complete CompleteFunc) (*CallbackListener, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parse redirect uri: %w", err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("%w: callback listener needs an http redirect uri, got %q", domain.ErrValidation, redirectURI)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "80")
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	listener, err := net.Listen("tcp", host)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}

	l := &CallbackListener{
		addr:    listener.Addr(),
		results: make(chan CallbackResult, 1),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		accepted := false
		l.handled.Do(func() { accepted = true })
		if !accepted {
			http.Error(w, "Callback already processed", http.StatusBadRequest)
			return
		}

		q := r.URL.Query()
		var res CallbackResult
		switch {
		case q.Get("error") != "":
			res.Err = fmt.Errorf("%w: %s: %s", domain.ErrAuthorizationDenied, q.Get("error"), q.Get("error_description"))
		case q.Get("code") == "" || q.Get("state") == "":
			res.Err = fmt.Errorf("%w: callback without code or state", domain.ErrInvalidState)
		default:
			res.Token, res.Err = complete(r.Context(), q.Get("code"), q.Get("state"))
		}

		if res.Err != nil {
			status, _ := statusFor(res.Err)
			http.Error(w, "Authentication failed: "+res.Err.Error(), status)
		} else {
			fmt.Fprintln(w, "Authentication complete. You can close this window.")
		}
		l.results <- res
	})
	l.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := l.srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Callback server error")
		}
	}()
	log.Info().Str("addr", l.addr.String()).Str("path", path).Msg("Callback server listening")
	return l, nil
}

// Addr is the bound address, useful when the redirect URI asked for port 0.
func (l *CallbackListener) Addr() net.Addr { return l.addr }

// Wait blocks until the callback arrives, ctx is done or CallbackTimeout
// passes, then shuts the server down.
func (l *CallbackListener) Wait(ctx context.Context) (*domain.Token, error) {
	defer l.Close()
	timer := time.NewTimer(CallbackTimeout)
	defer timer.Stop()

	select {
	case res := <-l.results:
		return res.Token, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		log.Warn().Dur("timeout", CallbackTimeout).Msg("OAuth callback timeout")
		return nil, fmt.Errorf("oauth callback timeout after %v", CallbackTimeout)
	}
}

// Close stops the server. It is safe to call more than once.
func (l *CallbackListener) Close() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Error shutting down callback server")
		}
		log.Debug().Msg("Callback server stopped")
	})
}
