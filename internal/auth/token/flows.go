package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/auth/microsoft"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	DefaultPollAttempts = 60
	DefaultPollInterval = 5 * time.Second
	slowDownStep        = 5 * time.Second
)

// PollOptions bound a device code poll. The caller's context bounds it too.
type PollOptions struct {
	MaxAttempts int
	Interval    time.Duration
	// Resumable leaves the device code cached when attempts run out, so a
	// later call can continue polling. Denial and expiry still clear it.
	Resumable bool
}

func (o PollOptions) withDefaults() PollOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultPollAttempts
	}
	if o.Interval <= 0 {
		o.Interval = DefaultPollInterval
	}
	return o
}

// newState returns 32 random bytes, URL-safe encoded.
func newState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// StartAuthorizationCodeFlow binds a fresh state to the account and returns
// the URL the user must visit.
func (m *Manager) StartAuthorizationCodeFlow(ctx context.Context, accountID, scope string) (string, string, error) {
	_, cfg, err := m.accountWithConfig(ctx, accountID, domain.AuthTypeAuthorizationCode)
	if err != nil {
		return "", "", err
	}

	state, err := newState()
	if err != nil {
		return "", "", fmt.Errorf("generate state: %w", err)
	}
	if err := m.cache.Set(ctx, stateKeyPrefix+state, accountID, stateTTL); err != nil {
		return "", "", fmt.Errorf("store state: %w", err)
	}

	authURL := m.graph.AuthorizationURL(cfg.(*domain.AuthCodeConfig), m.scopeOrDefault(scope), state)
	log.Info().Str("account_id", accountID).Msg("Authorization code flow started")
	return authURL, state, nil
}

// CompleteAuthorizationCodeFlow redeems code for the account bound to state.
// The state is consumed by the first lookup whatever the outcome.
func (m *Manager) CompleteAuthorizationCodeFlow(ctx context.Context, code, state, scope string) (*domain.Token, error) {
	key := stateKeyPrefix + state
	accountID, found, err := m.cache.Get(ctx, key)
	if err != nil {
		m.clearKey(ctx, key)
		return nil, fmt.Errorf("load state: %w", err)
	}
	consumed, err := m.cache.Delete(context.WithoutCancel(ctx), key)
	if err != nil {
		return nil, fmt.Errorf("consume state: %w", err)
	}
	if !found || !consumed {
		log.Warn().Msg("⚠️ Rejected callback with unknown or expired state")
		return nil, domain.ErrInvalidState
	}

	acc, cfg, err := m.accountWithConfig(ctx, accountID, domain.AuthTypeAuthorizationCode)
	if err != nil {
		return nil, err
	}

	scope = m.scopeOrDefault(scope)
	resp, err := m.graph.ExchangeCode(ctx, cfg.(*domain.AuthCodeConfig), code, scope)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	unlock := m.lockAccount(accountID)
	defer unlock()

	tok, err := m.saveToken(ctx, accountID, resp, scope, "")
	if err != nil {
		return nil, err
	}
	if err := m.activate(ctx, acc); err != nil {
		return nil, err
	}
	log.Info().Str("account", acc.Email).Msg("✅ Authorization code flow completed")
	return tok, nil
}

// StartDeviceCodeFlow requests a device code and binds it to the account
// for as long as the provider says it is valid.
func (m *Manager) StartDeviceCodeFlow(ctx context.Context, accountID, scope string) (*domain.DeviceCodeResponse, error) {
	_, cfg, err := m.accountWithConfig(ctx, accountID, domain.AuthTypeDeviceCode)
	if err != nil {
		return nil, err
	}

	dc, err := m.graph.RequestDeviceCode(ctx, cfg.Registration(), m.scopeOrDefault(scope))
	if err != nil {
		return nil, fmt.Errorf("request device code: %w", err)
	}

	ttl := time.Duration(dc.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = defaultDeviceTTL
		dc.ExpiresIn = int(defaultDeviceTTL / time.Second)
	}
	if err := m.cache.Set(ctx, deviceKeyPrefix+dc.DeviceCode, accountID, ttl); err != nil {
		return nil, fmt.Errorf("store device code: %w", err)
	}

	log.Info().Str("account_id", accountID).Str("user_code", dc.UserCode).Msg("Device code flow started")
	return dc, nil
}

// PollDeviceCodeFlow polls the token endpoint until the user approves,
// denies, the code expires, attempts run out or ctx is done. It blocks; run
// it on its own goroutine when other work must proceed.
func (m *Manager) PollDeviceCodeFlow(ctx context.Context, deviceCode, scope string, opts PollOptions) (*domain.Token, error) {
	opts = opts.withDefaults()
	key := deviceKeyPrefix + deviceCode

	accountID, found, err := m.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load device code: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("device code: %w", domain.ErrInvalidState)
	}

	acc, cfg, err := m.accountWithConfig(ctx, accountID, domain.AuthTypeDeviceCode)
	if err != nil {
		return nil, err
	}

	interval := opts.Interval
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		resp, err := m.graph.PollDeviceCode(ctx, cfg.Registration(), deviceCode)
		if err == nil {
			return m.finishDeviceFlow(ctx, acc, key, resp, m.scopeOrDefault(scope))
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			m.clearKey(ctx, key)
			return nil, ctxErr
		}

		switch microsoft.CodeOf(err) {
		case microsoft.CodeAuthorizationPending:
		case microsoft.CodeSlowDown:
			interval += slowDownStep
		case microsoft.CodeAccessDenied, microsoft.CodeExpiredToken:
			m.clearKey(ctx, key)
			return nil, fmt.Errorf("poll device code: %w", err)
		default:
			if !microsoft.IsTransient(err) {
				m.clearKey(ctx, key)
				return nil, fmt.Errorf("poll device code: %w", err)
			}
			log.Warn().Err(err).Int("attempt", attempt).Str("account", acc.Email).Msg("Transient error while polling device code")
		}

		if attempt == opts.MaxAttempts {
			break
		}
		if err := sleepContext(ctx, interval); err != nil {
			m.clearKey(ctx, key)
			return nil, err
		}
	}

	if !opts.Resumable {
		m.clearKey(ctx, key)
	}
	return nil, fmt.Errorf("%w after %d attempts", domain.ErrPollTimeout, opts.MaxAttempts)
}

func (m *Manager) finishDeviceFlow(ctx context.Context, acc *domain.Account, key string, resp *domain.TokenResponse, scope string) (*domain.Token, error) {
	unlock := m.lockAccount(acc.ID)
	defer unlock()

	tok, err := m.saveToken(ctx, acc.ID, resp, scope, "")
	if err != nil {
		return nil, err
	}
	if err := m.activate(ctx, acc); err != nil {
		return nil, err
	}
	m.clearKey(ctx, key)
	log.Info().Str("account", acc.Email).Msg("✅ Device code flow completed")
	return tok, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
