package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Database is a Store kept in the cache_entries table, for deployments
// where the web server and CLI share a database but no Redis.
type Database struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db, now: time.Now}
}

// live loads a non-expired entry, deleting it when it has expired.
func (d *Database) live(tx *gorm.DB, key string) (*models.CacheEntry, error) {
	var e models.CacheEntry
	err := tx.Where("key = ?", key).Take(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if e.ExpiresAt != nil && !d.now().Before(*e.ExpiresAt) {
		if err := tx.Where("key = ?", key).Delete(&models.CacheEntry{}).Error; err != nil {
			return nil, err
		}
		return nil, nil
	}
	return &e, nil
}

func (d *Database) expiry(ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := d.now().Add(ttl).UTC()
	return &t
}

func (d *Database) Get(ctx context.Context, key string) (string, bool, error) {
	e, err := d.live(d.db.WithContext(ctx), key)
	if err != nil {
		return "", false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	if e == nil {
		return "", false, nil
	}
	return e.Value, true, nil
}

func (d *Database) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	e := models.CacheEntry{Key: key, Value: value, ExpiresAt: d.expiry(ttl)}
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
	}).Create(&e).Error
	if err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

func (d *Database) Delete(ctx context.Context, key string) (bool, error) {
	var existed bool
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := d.live(tx, key)
		if err != nil || e == nil {
			return err
		}
		existed = true
		return tx.Where("key = ?", key).Delete(&models.CacheEntry{}).Error
	})
	if err != nil {
		return false, fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return existed, nil
}

func (d *Database) Exists(ctx context.Context, key string) (bool, error) {
	e, err := d.live(d.db.WithContext(ctx), key)
	if err != nil {
		return false, fmt.Errorf("cache: exists %s: %w", key, err)
	}
	return e != nil, nil
}

func (d *Database) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	var n int64
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := d.live(tx, key)
		if err != nil {
			return err
		}
		if e == nil {
			n = delta
			return tx.Create(&models.CacheEntry{Key: key, Value: strconv.FormatInt(n, 10)}).Error
		}
		v, err := strconv.ParseInt(e.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("value is not an integer")
		}
		n = v + delta
		return tx.Model(&models.CacheEntry{}).Where("key = ?", key).Update("value", strconv.FormatInt(n, 10)).Error
	})
	if err != nil {
		return 0, fmt.Errorf("cache: increment %s: %w", key, err)
	}
	return n, nil
}

func (d *Database) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	var existed bool
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		e, err := d.live(tx, key)
		if err != nil || e == nil {
			return err
		}
		existed = true
		if ttl <= 0 {
			return tx.Where("key = ?", key).Delete(&models.CacheEntry{}).Error
		}
		return tx.Model(&models.CacheEntry{}).Where("key = ?", key).Update("expires_at", d.expiry(ttl)).Error
	})
	if err != nil {
		return false, fmt.Errorf("cache: expire %s: %w", key, err)
	}
	return existed, nil
}

func (d *Database) TTL(ctx context.Context, key string) (time.Duration, bool, error) {
	e, err := d.live(d.db.WithContext(ctx), key)
	if err != nil {
		return 0, false, fmt.Errorf("cache: ttl %s: %w", key, err)
	}
	if e == nil {
		return 0, false, nil
	}
	if e.ExpiresAt == nil {
		return NoExpiry, true, nil
	}
	return e.ExpiresAt.Sub(d.now()), true, nil
}

func (d *Database) Ping(ctx context.Context) error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close is a no-op; the connection pool belongs to the caller.
func (d *Database) Close() error { return nil }

// Cleanup deletes every expired entry.
func (d *Database) Cleanup(ctx context.Context) (int64, error) {
	res := d.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", d.now().UTC()).
		Delete(&models.CacheEntry{})
	if res.Error != nil {
		return 0, fmt.Errorf("cache: cleanup: %w", res.Error)
	}
	return res.RowsAffected, nil
}
