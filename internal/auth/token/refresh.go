package token

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// RefreshStatus is the outcome of a refresh attempt.
type RefreshStatus int

const (
	// RefreshSkipped means there was nothing to refresh; no request was made.
	RefreshSkipped RefreshStatus = iota
	RefreshSucceeded
	// RefreshFailed means the attempt failed and the account was marked ERROR.
	RefreshFailed
)

func (s RefreshStatus) String() string {
	switch s {
	case RefreshSucceeded:
		return "refreshed"
	case RefreshFailed:
		return "failed"
	}
	return "skipped"
}

// RefreshResult reports a refresh without raising: failures degrade the
// account instead of propagating.
type RefreshResult struct {
	Status RefreshStatus
	Token  *domain.Token
	// Err explains a skip or failure. Failures wrap domain.ErrRefreshFailed.
	Err error
}

func (r RefreshResult) OK() bool { return r.Status == RefreshSucceeded }

// RefreshToken redeems the account's refresh token. Concurrent refreshes of
// one account run one at a time.
func (m *Manager) RefreshToken(ctx context.Context, accountID string) RefreshResult {
	unlock := m.lockAccount(accountID)
	defer unlock()

	tok, err := m.tokens.GetByAccountID(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return RefreshResult{Status: RefreshSkipped, Err: err}
	}
	if err != nil {
		return m.refreshFailed(ctx, accountID, err)
	}
	if !tok.CanRefresh() {
		return RefreshResult{Status: RefreshSkipped, Err: fmt.Errorf("account %s has no refresh token", accountID)}
	}

	updated, err := m.redeemRefreshToken(ctx, accountID, tok)
	if err != nil {
		return m.refreshFailed(ctx, accountID, err)
	}
	return RefreshResult{Status: RefreshSucceeded, Token: updated}
}

func (m *Manager) redeemRefreshToken(ctx context.Context, accountID string, tok *domain.Token) (*domain.Token, error) {
	acc, err := m.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	cfg, err := m.configs.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}

	refreshToken, err := m.cipher.Decrypt(tok.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypt refresh token: %w", err)
	}

	// Public clients (device code) must not send a secret.
	var secret string
	if ac, ok := cfg.(*domain.AuthCodeConfig); ok {
		secret = ac.ClientSecret
	}

	resp, err := m.graph.RefreshToken(ctx, cfg.Registration(), secret, refreshToken, m.scopeOrDefault(tok.Scope))
	if err != nil {
		return nil, err
	}

	if resp.RefreshToken != "" && resp.RefreshToken != refreshToken {
		log.Debug().Str("account", acc.Email).Msg("🔄 Rotating refresh token")
	}
	updated, err := m.saveToken(ctx, accountID, resp, tok.Scope, tok.RefreshToken)
	if err != nil {
		return nil, err
	}

	if acc.Status == domain.StatusError {
		if err := m.activate(ctx, acc); err != nil {
			return nil, err
		}
	}
	log.Info().Str("account", acc.Email).Time("expires_at", updated.ExpiresAt).Msg("✅ Refreshed token")
	return updated, nil
}

func (m *Manager) refreshFailed(ctx context.Context, accountID string, cause error) RefreshResult {
	log.Error().Err(cause).Str("account_id", accountID).Msg("❌ Refresh token failed")

	if acc, err := m.accounts.GetByID(ctx, accountID); err == nil {
		acc.MarkError()
		if err := m.accounts.Update(ctx, acc); err != nil {
			log.Error().Err(err).Str("account", acc.Email).Msg("failed to mark account as error")
		}
	}
	return RefreshResult{Status: RefreshFailed, Err: fmt.Errorf("%w: %w", domain.ErrRefreshFailed, cause)}
}

// SweepResult summarises one pass of CheckAndRefreshExpiringTokens.
type SweepResult struct {
	Attempted int
	Refreshed int
	Skipped   int
	Failed    int
	// Err aggregates per-account failures and any listing error.
	Err error
}

// CheckAndRefreshExpiringTokens refreshes every token expiring within
// minutes. A failing account never stops the sweep.
func (m *Manager) CheckAndRefreshExpiringTokens(ctx context.Context, minutes int) SweepResult {
	toks, err := m.tokens.ListNearExpiry(ctx, minutes)
	if err != nil {
		return SweepResult{Err: err}
	}

	var (
		mu  sync.Mutex
		res = SweepResult{Attempted: len(toks)}
		g   errgroup.Group
	)
	g.SetLimit(m.sweepConcurrency)

	for _, tok := range toks {
		g.Go(func() error {
			r := m.RefreshToken(ctx, tok.AccountID)
			mu.Lock()
			defer mu.Unlock()
			switch r.Status {
			case RefreshSucceeded:
				res.Refreshed++
			case RefreshFailed:
				res.Failed++
				res.Err = multierr.Append(res.Err, fmt.Errorf("account %s: %w", tok.AccountID, r.Err))
			default:
				res.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()

	if res.Attempted > 0 {
		log.Info().
			Int("attempted", res.Attempted).
			Int("refreshed", res.Refreshed).
			Int("failed", res.Failed).
			Msg("🔄 Token sweep finished")
	}
	return res
}

// ExpiredTokens lists tokens whose stored expiry has already passed. The
// sweep never picks these up.
func (m *Manager) ExpiredTokens(ctx context.Context) ([]*domain.Token, error) {
	return m.tokens.ListExpired(ctx)
}

// accessToken returns a decrypted access token for Graph calls, refreshing
// first when the stored token has expired.
func (m *Manager) accessToken(ctx context.Context, accountID string) (string, error) {
	tok, err := m.tokens.GetByAccountID(ctx, accountID)
	if err != nil {
		return "", err
	}
	if tok.IsExpiredAt(m.now()) {
		r := m.RefreshToken(ctx, accountID)
		if !r.OK() {
			return "", fmt.Errorf("token for %s expired and could not be refreshed: %w", accountID, r.Err)
		}
		tok = r.Token
	}
	return m.cipher.Decrypt(tok.AccessToken)
}

// UserProfile fetches /me for the account.
func (m *Manager) UserProfile(ctx context.Context, accountID string) (*domain.UserProfile, error) {
	at, err := m.accessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return m.graph.UserProfile(ctx, at)
}

// ListMessages reads the account's mailbox without storing anything.
func (m *Manager) ListMessages(ctx context.Context, accountID string, q domain.MessageQuery) ([]domain.Message, error) {
	at, err := m.accessToken(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return m.graph.ListMessages(ctx, at, q)
}
