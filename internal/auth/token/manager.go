// Package token implements the OAuth token lifecycle: acquisition through
// the authorization code and device code flows, refresh, revocation and
// expiry diagnostics.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/auth/microsoft"
	"github.com/pysugar/m365-mail-nexus/internal/cache"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	stateTTL          = 600 * time.Second
	defaultDeviceTTL  = 900 * time.Second
	defaultExpiresIn  = 3600
	stateKeyPrefix    = "auth_state:"
	deviceKeyPrefix   = "device_code:"
	defaultSweepLimit = 1
)

// GraphClient is the subset of the Microsoft client the manager drives.
type GraphClient interface {
	AuthorizationURL(cfg *domain.AuthCodeConfig, scope, state string) string
	RequestDeviceCode(ctx context.Context, reg domain.ClientRegistration, scope string) (*domain.DeviceCodeResponse, error)
	ExchangeCode(ctx context.Context, cfg *domain.AuthCodeConfig, code, scope string) (*domain.TokenResponse, error)
	PollDeviceCode(ctx context.Context, reg domain.ClientRegistration, deviceCode string) (*domain.TokenResponse, error)
	RefreshToken(ctx context.Context, reg domain.ClientRegistration, clientSecret, refreshToken, scope string) (*domain.TokenResponse, error)
	UserProfile(ctx context.Context, accessToken string) (*domain.UserProfile, error)
	ListMessages(ctx context.Context, accessToken string, q domain.MessageQuery) ([]domain.Message, error)
}

type AccountStore interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	Update(ctx context.Context, acc *domain.Account) error
}

type ConfigStore interface {
	Get(ctx context.Context, accountID string) (domain.AuthConfig, error)
}

type TokenStore interface {
	Save(ctx context.Context, t *domain.Token) (*domain.Token, error)
	GetByAccountID(ctx context.Context, accountID string) (*domain.Token, error)
	Delete(ctx context.Context, accountID string) (bool, error)
	ListNearExpiry(ctx context.Context, minutes int) ([]*domain.Token, error)
	ListExpired(ctx context.Context) ([]*domain.Token, error)
}

type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Accounts AccountStore
	Configs  ConfigStore
	Tokens   TokenStore
	Graph    GraphClient
	Cipher   Cipher
	Cache    cache.Store
}

// Manager handles the token lifecycle of every account.
type Manager struct {
	accounts AccountStore
	configs  ConfigStore
	tokens   TokenStore
	graph    GraphClient
	cipher   Cipher
	cache    cache.Store

	defaultScope     string
	sweepConcurrency int

	// locks holds one *sync.Mutex per account id; token writes for an
	// account are serialized on it.
	locks sync.Map
	now   func() time.Time
}

type Option func(*Manager)

// WithDefaultScope sets the scope used when a caller passes none.
func WithDefaultScope(scope string) Option {
	return func(m *Manager) { m.defaultScope = scope }
}

// WithSweepConcurrency bounds how many accounts a sweep refreshes at once.
func WithSweepConcurrency(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sweepConcurrency = n
		}
	}
}

// NewManager creates a token manager.
func NewManager(deps Deps, opts ...Option) *Manager {
	m := &Manager{
		accounts:         deps.Accounts,
		configs:          deps.Configs,
		tokens:           deps.Tokens,
		graph:            deps.Graph,
		cipher:           deps.Cipher,
		cache:            deps.Cache,
		defaultScope:     microsoft.DefaultScope,
		sweepConcurrency: defaultSweepLimit,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// lockAccount acquires the account's mutex and returns its release func.
func (m *Manager) lockAccount(accountID string) func() {
	v, _ := m.locks.LoadOrStore(accountID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (m *Manager) scopeOrDefault(scope string) string {
	if scope == "" {
		return m.defaultScope
	}
	return scope
}

// accountWithConfig loads an account and its config, requiring the given auth type.
func (m *Manager) accountWithConfig(ctx context.Context, accountID string, want domain.AuthType) (*domain.Account, domain.AuthConfig, error) {
	acc, err := m.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if acc.AuthType != want {
		return nil, nil, fmt.Errorf("%w: account %s uses %s, not %s", domain.ErrInvalidAuthType, acc.Email, acc.AuthType, want)
	}
	cfg, err := m.configs.Get(ctx, accountID)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AuthType() != want {
		return nil, nil, fmt.Errorf("%w: stored config of %s is %s", domain.ErrInvalidAuthType, acc.Email, cfg.AuthType())
	}
	return acc, cfg, nil
}

// saveToken encrypts and upserts the provider response. The caller holds the account lock.
func (m *Manager) saveToken(ctx context.Context, accountID string, resp *domain.TokenResponse, scope, keepRefresh string) (*domain.Token, error) {
	access, err := m.cipher.Encrypt(resp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}

	refresh := keepRefresh
	if resp.RefreshToken != "" {
		if refresh, err = m.cipher.Encrypt(resp.RefreshToken); err != nil {
			return nil, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	tokenType := resp.TokenType
	if tokenType == "" {
		tokenType = domain.DefaultTokenType
	}
	if scope == "" {
		scope = resp.Scope
	}

	return m.tokens.Save(ctx, &domain.Token{
		AccountID:    accountID,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    tokenType,
		ExpiresAt:    m.now().Add(time.Duration(expiresIn) * time.Second).UTC(),
		Scope:        scope,
	})
}

// activate moves the account to ACTIVE after a successful flow.
func (m *Manager) activate(ctx context.Context, acc *domain.Account) error {
	acc.Activate()
	if err := m.accounts.Update(ctx, acc); err != nil {
		return fmt.Errorf("activate account %s: %w", acc.Email, err)
	}
	return nil
}

// clearKey deletes a correlation entry even when ctx has been cancelled.
func (m *Manager) clearKey(ctx context.Context, key string) {
	if _, err := m.cache.Delete(context.WithoutCancel(ctx), key); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("failed to clear cache entry")
	}
}

// RevokeToken deletes the account's token and deactivates the account.
// It returns false, not an error, when there was no token.
func (m *Manager) RevokeToken(ctx context.Context, accountID string) (bool, error) {
	unlock := m.lockAccount(accountID)
	defer unlock()

	deleted, err := m.tokens.Delete(ctx, accountID)
	if err != nil || !deleted {
		return false, err
	}

	acc, err := m.accounts.GetByID(ctx, accountID)
	if errors.Is(err, domain.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	acc.Deactivate()
	if err := m.accounts.Update(ctx, acc); err != nil {
		return true, fmt.Errorf("deactivate account %s: %w", acc.Email, err)
	}
	log.Info().Str("account", acc.Email).Msg("🔒 Token revoked, account deactivated")
	return true, nil
}
