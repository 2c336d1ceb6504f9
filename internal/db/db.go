package db

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/pysugar/m365-mail-nexus/internal/db/models"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// allModels lists every table the tool owns, in creation order.
var allModels = []any{
	&models.Account{},
	&models.AuthCodeConfig{},
	&models.DeviceCodeConfig{},
	&models.Token{},
	&models.CacheEntry{},
	&models.Config{},
}

// Open connects to the database named by url and runs migrations.
// "sqlite://path" or a bare path selects SQLite, "postgres://" selects PostgreSQL.
func Open(url string, level logger.LogLevel) (*gorm.DB, error) {
	dialector, err := dialectorFor(url)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

func dialectorFor(url string) (gorm.Dialector, error) {
	switch {
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return postgres.Open(url), nil
	case strings.HasPrefix(url, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(url, "sqlite://")), nil
	case strings.Contains(url, "://"):
		return nil, fmt.Errorf("unsupported database url %q", url)
	default:
		return sqlite.Open(url), nil
	}
}

// Migrate creates or updates all tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Reset drops every table and recreates the schema.
func Reset(db *gorm.DB) error {
	for i := len(allModels) - 1; i >= 0; i-- {
		if err := db.Migrator().DropTable(allModels[i]); err != nil {
			return fmt.Errorf("drop table: %w", err)
		}
	}
	return Migrate(db)
}

// EnsureAPIKey returns the admin API key, generating one on first run.
func EnsureAPIKey(db *gorm.DB) (string, error) {
	var config models.Config
	if err := db.Where("key = ?", "api_key").Limit(1).Find(&config).Error; err != nil {
		return "", err
	}
	if config.Value != "" {
		return config.Value, nil
	}

	apiKey := newAPIKey()
	if err := db.Create(&models.Config{Key: "api_key", Value: apiKey}).Error; err != nil {
		return "", err
	}
	log.Info().Msg("🔑 Generated new admin API key")
	return apiKey, nil
}

// GetAPIKey retrieves the admin API key, empty when none was generated.
func GetAPIKey(db *gorm.DB) string {
	var config models.Config
	db.Where("key = ?", "api_key").Limit(1).Find(&config)
	return config.Value
}

// RegenerateAPIKey replaces the admin API key.
func RegenerateAPIKey(db *gorm.DB) (string, error) {
	apiKey := newAPIKey()
	err := db.Save(&models.Config{Key: "api_key", Value: apiKey}).Error
	if err != nil {
		return "", err
	}
	log.Info().Msg("🔑 Regenerated admin API key")
	return apiKey, nil
}

func newAPIKey() string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	return "sk-" + hex.EncodeToString(keyBytes)
}
