package models

import "time"

// Token holds the encrypted OAuth tokens of one account.
type Token struct {
	AccountID    string    `gorm:"primaryKey;size:36"`
	AccessToken  string    `gorm:"type:text;not null"`
	RefreshToken string    `gorm:"type:text"`
	TokenType    string    `gorm:"size:50;default:Bearer"`
	ExpiresAt    time.Time `gorm:"index;not null"`
	Scope        string    `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
