// Package account manages registered mailboxes and their OAuth client
// registrations.
package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/rs/zerolog/log"
)

type AccountStore interface {
	Create(ctx context.Context, acc *domain.Account) error
	Update(ctx context.Context, acc *domain.Account) error
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	List(ctx context.Context, offset, limit int) ([]*domain.Account, error)
	ListByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.Account, error)
	ListByAuthType(ctx context.Context, authType domain.AuthType) ([]*domain.Account, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type ConfigStore interface {
	Save(ctx context.Context, cfg domain.AuthConfig) error
	Get(ctx context.Context, accountID string) (domain.AuthConfig, error)
	Delete(ctx context.Context, accountID string) (bool, error)
}

type TokenStore interface {
	Delete(ctx context.Context, accountID string) (bool, error)
}

// Service implements account registration and maintenance.
type Service struct {
	accounts AccountStore
	configs  ConfigStore
	tokens   TokenStore
}

func NewService(accounts AccountStore, configs ConfigStore, tokens TokenStore) *Service {
	return &Service{accounts: accounts, configs: configs, tokens: tokens}
}

// Registration describes a new account. ClientSecret and RedirectURI are
// only used by authorization code accounts.
type Registration struct {
	Email        string
	DisplayName  string
	AuthType     domain.AuthType
	TenantID     string
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Config builds the auth config of the registration's type.
func (r Registration) Config(accountID string) domain.AuthConfig {
	reg := domain.ClientRegistration{AccountID: accountID, ClientID: r.ClientID, TenantID: r.TenantID}
	if r.AuthType == domain.AuthTypeAuthorizationCode {
		return &domain.AuthCodeConfig{ClientRegistration: reg, ClientSecret: r.ClientSecret, RedirectURI: r.RedirectURI}
	}
	return &domain.DeviceCodeConfig{ClientRegistration: reg}
}

// Register creates an INACTIVE account and its auth config.
func (s *Service) Register(ctx context.Context, r Registration) (*domain.Account, error) {
	acc, err := domain.NewAccount(r.Email, r.DisplayName, r.AuthType, r.TenantID)
	if err != nil {
		return nil, err
	}

	if _, err := s.accounts.GetByEmail(ctx, acc.Email); err == nil {
		log.Warn().Str("email", acc.Email).Msg("⚠️ Duplicate account registration")
		return nil, fmt.Errorf("account %s: %w", acc.Email, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	cfg := r.Config(acc.ID)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := s.accounts.Create(ctx, acc); err != nil {
		return nil, err
	}
	if err := s.configs.Save(ctx, cfg); err != nil {
		// Leave no account without a config behind.
		if _, delErr := s.accounts.Delete(ctx, acc.ID); delErr != nil {
			log.Error().Err(delErr).Str("account", acc.Email).Msg("failed to roll back account")
		}
		return nil, fmt.Errorf("save auth config: %w", err)
	}

	log.Info().Str("account", acc.Email).Str("auth_type", string(acc.AuthType)).Msg("✅ Account registered")
	return acc, nil
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Account, error) {
	return s.accounts.GetByID(ctx, id)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return s.accounts.GetByEmail(ctx, email)
}

func (s *Service) List(ctx context.Context, offset, limit int) ([]*domain.Account, error) {
	return s.accounts.List(ctx, offset, limit)
}

func (s *Service) ListActive(ctx context.Context) ([]*domain.Account, error) {
	return s.accounts.ListByStatus(ctx, domain.StatusActive)
}

func (s *Service) ListByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.Account, error) {
	return s.accounts.ListByStatus(ctx, status)
}

func (s *Service) ListByAuthType(ctx context.Context, authType domain.AuthType) ([]*domain.Account, error) {
	return s.accounts.ListByAuthType(ctx, authType)
}

// Update changes the fields that are set. Nil fields are left alone.
type Update struct {
	DisplayName *string
	TenantID    *string
	AuthType    *domain.AuthType
	// Config is required when AuthType changes and must be of the new type.
	Config domain.AuthConfig
}

// Update applies u. Switching the auth type discards the old config and
// token and leaves the account INACTIVE until it authenticates again.
func (s *Service) Update(ctx context.Context, id string, u Update) (*domain.Account, error) {
	acc, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := false
	if u.DisplayName != nil && *u.DisplayName != acc.DisplayName {
		acc.DisplayName = *u.DisplayName
		changed = true
	}
	if u.TenantID != nil && *u.TenantID != acc.TenantID {
		acc.TenantID = *u.TenantID
		changed = true
	}

	if u.AuthType != nil && *u.AuthType != acc.AuthType {
		if err := s.switchAuthType(ctx, acc, *u.AuthType, u.Config); err != nil {
			return nil, err
		}
		changed = true
	}

	if !changed {
		log.Debug().Str("account", acc.Email).Msg("Nothing to update")
		return acc, nil
	}
	if err := s.accounts.Update(ctx, acc); err != nil {
		return nil, err
	}
	log.Info().Str("account", acc.Email).Msg("Account updated")
	return acc, nil
}

func (s *Service) switchAuthType(ctx context.Context, acc *domain.Account, to domain.AuthType, cfg domain.AuthConfig) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown auth type %q", domain.ErrValidation, to)
	}
	if cfg == nil || cfg.AuthType() != to {
		return fmt.Errorf("%w: switching to %s needs a %s config", domain.ErrValidation, to, to)
	}
	if cfg.Registration().AccountID != acc.ID {
		return fmt.Errorf("%w: config belongs to another account", domain.ErrValidation)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Info().Str("account", acc.Email).Str("from", string(acc.AuthType)).Str("to", string(to)).Msg("🔄 Switching auth type")
	if _, err := s.tokens.Delete(ctx, acc.ID); err != nil {
		return fmt.Errorf("delete token: %w", err)
	}
	// Save replaces the config of either variant.
	if err := s.configs.Save(ctx, cfg); err != nil {
		return fmt.Errorf("save auth config: %w", err)
	}

	acc.AuthType = to
	acc.Deactivate()
	acc.LastSyncAt = nil
	return nil
}

func (s *Service) Activate(ctx context.Context, id string) (*domain.Account, error) {
	return s.transition(ctx, id, (*domain.Account).Activate)
}

func (s *Service) Deactivate(ctx context.Context, id string) (*domain.Account, error) {
	return s.transition(ctx, id, (*domain.Account).Deactivate)
}

func (s *Service) MarkError(ctx context.Context, id string) (*domain.Account, error) {
	return s.transition(ctx, id, (*domain.Account).MarkError)
}

func (s *Service) transition(ctx context.Context, id string, apply func(*domain.Account)) (*domain.Account, error) {
	acc, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	apply(acc)
	if err := s.accounts.Update(ctx, acc); err != nil {
		return nil, err
	}
	log.Info().Str("account", acc.Email).Str("status", string(acc.Status)).Msg("Account status changed")
	return acc, nil
}

// Delete removes the account with its token and config. It returns false
// when there was no such account.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.accounts.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		log.Info().Str("account_id", id).Msg("🗑️ Account deleted")
	}
	return deleted, nil
}

func (s *Service) GetAuthConfig(ctx context.Context, id string) (domain.AuthConfig, error) {
	return s.configs.Get(ctx, id)
}
