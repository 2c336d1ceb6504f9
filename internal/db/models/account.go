package models

import "time"

// Account is a registered Microsoft 365 mailbox.
type Account struct {
	ID          string `gorm:"primaryKey;size:36"` // UUID
	Email       string `gorm:"uniqueIndex;size:255;not null"`
	DisplayName string `gorm:"size:255"`
	AuthType    string `gorm:"index;size:50;not null"` // "authorization_code" | "device_code"
	Status      string `gorm:"index;size:50;not null;default:inactive"`
	TenantID    string `gorm:"size:255"`
	LastSyncAt  *time.Time
	CreatedAt   time.Time `gorm:"index"`
	UpdatedAt   time.Time
}
