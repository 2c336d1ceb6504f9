package models

import "time"

// AuthCodeConfig is the confidential client registration of an
// authorization code account. ClientSecret holds ciphertext.
type AuthCodeConfig struct {
	AccountID    string `gorm:"primaryKey;size:36"`
	ClientID     string `gorm:"index;size:255;not null"`
	ClientSecret string `gorm:"type:text;not null"`
	RedirectURI  string `gorm:"size:500;not null"`
	TenantID     string `gorm:"index;size:255;not null"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeviceCodeConfig is the public client registration of a device code account.
type DeviceCodeConfig struct {
	AccountID string `gorm:"primaryKey;size:36"`
	ClientID  string `gorm:"index;size:255;not null"`
	TenantID  string `gorm:"index;size:255;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
