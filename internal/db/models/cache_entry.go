package models

import "time"

// CacheEntry backs the database cache store.
type CacheEntry struct {
	Key       string     `gorm:"primaryKey;size:255"`
	Value     string     `gorm:"type:text"`
	ExpiresAt *time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
