package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/pysugar/m365-mail-nexus/internal/db/models"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"gorm.io/gorm"
)

// SecretCipher encrypts client secrets before they reach the database.
type SecretCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// AuthConfigRepository persists the per-account OAuth client registration.
// Each account has a row in exactly one of the two config tables.
type AuthConfigRepository struct {
	db     *gorm.DB
	cipher SecretCipher
}

func NewAuthConfigRepository(db *gorm.DB, cipher SecretCipher) *AuthConfigRepository {
	return &AuthConfigRepository{db: db, cipher: cipher}
}

// Save stores cfg, replacing any config of either variant for the account.
func (r *AuthConfigRepository) Save(ctx context.Context, cfg domain.AuthConfig) error {
	reg := cfg.Registration()

	var row any
	switch c := cfg.(type) {
	case *domain.AuthCodeConfig:
		secret, err := r.cipher.Encrypt(c.ClientSecret)
		if err != nil {
			return fmt.Errorf("encrypt client secret: %w", err)
		}
		row = &models.AuthCodeConfig{
			AccountID:    reg.AccountID,
			ClientID:     reg.ClientID,
			ClientSecret: secret,
			RedirectURI:  c.RedirectURI,
			TenantID:     reg.TenantID,
		}
	case *domain.DeviceCodeConfig:
		row = &models.DeviceCodeConfig{
			AccountID: reg.AccountID,
			ClientID:  reg.ClientID,
			TenantID:  reg.TenantID,
		}
	default:
		return fmt.Errorf("%w: unsupported auth config %T", domain.ErrValidation, cfg)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deleteConfigs(tx, reg.AccountID); err != nil {
			return err
		}
		return tx.Create(row).Error
	})
}

// Get returns the config of whichever variant exists for the account.
func (r *AuthConfigRepository) Get(ctx context.Context, accountID string) (domain.AuthConfig, error) {
	db := r.db.WithContext(ctx)

	var ac models.AuthCodeConfig
	err := db.Where("account_id = ?", accountID).First(&ac).Error
	if err == nil {
		secret, err := r.cipher.Decrypt(ac.ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("decrypt client secret: %w", err)
		}
		return &domain.AuthCodeConfig{
			ClientRegistration: domain.ClientRegistration{AccountID: ac.AccountID, ClientID: ac.ClientID, TenantID: ac.TenantID},
			ClientSecret:       secret,
			RedirectURI:        ac.RedirectURI,
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get auth config: %w", err)
	}

	var dc models.DeviceCodeConfig
	err = db.Where("account_id = ?", accountID).First(&dc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("auth config for %s: %w", accountID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get auth config: %w", err)
	}
	return &domain.DeviceCodeConfig{
		ClientRegistration: domain.ClientRegistration{AccountID: dc.AccountID, ClientID: dc.ClientID, TenantID: dc.TenantID},
	}, nil
}

// Delete removes the account's config and reports whether one existed.
func (r *AuthConfigRepository) Delete(ctx context.Context, accountID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&models.AuthCodeConfig{}, &models.DeviceCodeConfig{}} {
			res := tx.Where("account_id = ?", accountID).Delete(m)
			if res.Error != nil {
				return res.Error
			}
			n += res.RowsAffected
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete auth config: %w", err)
	}
	return n > 0, nil
}

func deleteConfigs(tx *gorm.DB, accountID string) error {
	if err := tx.Where("account_id = ?", accountID).Delete(&models.AuthCodeConfig{}).Error; err != nil {
		return err
	}
	return tx.Where("account_id = ?", accountID).Delete(&models.DeviceCodeConfig{}).Error
}
