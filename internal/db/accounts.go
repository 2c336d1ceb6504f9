package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/db/models"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"gorm.io/gorm"
)

// AccountRepository persists accounts.
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) Create(ctx context.Context, acc *domain.Account) error {
	row := toAccountModel(acc)
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("account %s: %w", acc.Email, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (r *AccountRepository) Update(ctx context.Context, acc *domain.Account) error {
	acc.UpdatedAt = time.Now().UTC()
	row := toAccountModel(acc)
	res := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", acc.ID).Select("*").Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("update account: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("account %s: %w", acc.ID, domain.ErrNotFound)
	}
	return nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.first(ctx, "id = ?", id)
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.first(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (r *AccountRepository) first(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var row models.Account
	err := r.db.WithContext(ctx).Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account %v: %w", arg, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	return toAccountDomain(row), nil
}

// List returns accounts ordered by creation time. limit <= 0 means no limit.
func (r *AccountRepository) List(ctx context.Context, offset, limit int) ([]*domain.Account, error) {
	return r.find(r.db.WithContext(ctx).Offset(offset).Limit(limitOrAll(limit)))
}

func (r *AccountRepository) ListByStatus(ctx context.Context, status domain.AccountStatus) ([]*domain.Account, error) {
	return r.find(r.db.WithContext(ctx).Where("status = ?", string(status)))
}

func (r *AccountRepository) ListByAuthType(ctx context.Context, authType domain.AuthType) ([]*domain.Account, error) {
	return r.find(r.db.WithContext(ctx).Where("auth_type = ?", string(authType)))
}

func (r *AccountRepository) find(q *gorm.DB) ([]*domain.Account, error) {
	var rows []models.Account
	if err := q.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]*domain.Account, 0, len(rows))
	for _, row := range rows {
		out = append(out, toAccountDomain(row))
	}
	return out, nil
}

// Delete removes the account together with its token and auth config.
func (r *AccountRepository) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, owned := range []any{&models.Token{}, &models.AuthCodeConfig{}, &models.DeviceCodeConfig{}} {
			if err := tx.Where("account_id = ?", id).Delete(owned).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&models.Account{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete account: %w", err)
	}
	return deleted, nil
}

func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

func toAccountModel(a *domain.Account) models.Account {
	return models.Account{
		ID:          a.ID,
		Email:       a.Email,
		DisplayName: a.DisplayName,
		AuthType:    string(a.AuthType),
		Status:      string(a.Status),
		TenantID:    a.TenantID,
		LastSyncAt:  a.LastSyncAt,
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

func toAccountDomain(m models.Account) *domain.Account {
	return &domain.Account{
		ID:          m.ID,
		Email:       m.Email,
		DisplayName: m.DisplayName,
		AuthType:    domain.AuthType(m.AuthType),
		Status:      domain.AccountStatus(m.Status),
		TenantID:    m.TenantID,
		LastSyncAt:  m.LastSyncAt,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
