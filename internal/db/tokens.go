package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/db/models"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"gorm.io/gorm"
)

// TokenRepository persists at most one token row per account.
type TokenRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewTokenRepository(db *gorm.DB) *TokenRepository {
	return &TokenRepository{db: db, now: time.Now}
}

// Save inserts or overwrites the account's token in a single transaction.
// The original created_at survives an overwrite.
func (r *TokenRepository) Save(ctx context.Context, t *domain.Token) (*domain.Token, error) {
	now := r.now().UTC()
	row := toTokenModel(t)
	if row.TokenType == "" {
		row.TokenType = domain.DefaultTokenType
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Token
		err := tx.Where("account_id = ?", t.AccountID).Take(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row.CreatedAt = now
			row.UpdatedAt = now
			return tx.Create(&row).Error
		case err != nil:
			return err
		}
		row.CreatedAt = existing.CreatedAt
		row.UpdatedAt = now
		return tx.Model(&models.Token{}).Where("account_id = ?", t.AccountID).Select("*").Updates(&row).Error
	})
	if err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	return toTokenDomain(row), nil
}

func (r *TokenRepository) GetByAccountID(ctx context.Context, accountID string) (*domain.Token, error) {
	var row models.Token
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("token for %s: %w", accountID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}
	return toTokenDomain(row), nil
}

// Delete removes the account's token and reports whether one existed.
func (r *TokenRepository) Delete(ctx context.Context, accountID string) (bool, error) {
	res := r.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&models.Token{})
	if res.Error != nil {
		return false, fmt.Errorf("delete token: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListNearExpiry returns tokens that are still valid but expire within minutes.
func (r *TokenRepository) ListNearExpiry(ctx context.Context, minutes int) ([]*domain.Token, error) {
	now := r.now().UTC()
	return r.find(r.db.WithContext(ctx).
		Where("expires_at <= ? AND expires_at > ?", now.Add(time.Duration(minutes)*time.Minute), now))
}

// ListExpired returns tokens whose stored expiry has passed.
func (r *TokenRepository) ListExpired(ctx context.Context) ([]*domain.Token, error) {
	return r.find(r.db.WithContext(ctx).Where("expires_at <= ?", r.now().UTC()))
}

func (r *TokenRepository) find(q *gorm.DB) ([]*domain.Token, error) {
	var rows []models.Token
	if err := q.Order("expires_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	out := make([]*domain.Token, 0, len(rows))
	for _, row := range rows {
		out = append(out, toTokenDomain(row))
	}
	return out, nil
}

func toTokenModel(t *domain.Token) models.Token {
	return models.Token{
		AccountID:    t.AccountID,
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		TokenType:    t.TokenType,
		ExpiresAt:    t.ExpiresAt.UTC(),
		Scope:        t.Scope,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func toTokenDomain(m models.Token) *domain.Token {
	return &domain.Token{
		AccountID:    m.AccountID,
		AccessToken:  m.AccessToken,
		RefreshToken: m.RefreshToken,
		TokenType:    m.TokenType,
		ExpiresAt:    m.ExpiresAt.UTC(),
		Scope:        m.Scope,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}
