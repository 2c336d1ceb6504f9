package domain

import (
	"strings"
	"time"
)

const DefaultTokenType = "Bearer"

// Token is the single token record of an account. AccessToken and
// RefreshToken hold ciphertext; an empty RefreshToken means none was issued.
type Token struct {
	AccountID    string    `json:"account_id"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsExpired reports whether the stored expiry has been reached.
func (t *Token) IsExpired() bool {
	return t.IsExpiredAt(time.Now())
}

func (t *Token) IsExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsNearExpiry reports whether the token expires within the given minutes.
func (t *Token) IsNearExpiry(minutes int) bool {
	return t.IsNearExpiryAt(time.Now(), minutes)
}

func (t *Token) IsNearExpiryAt(now time.Time, minutes int) bool {
	return !now.Add(time.Duration(minutes) * time.Minute).Before(t.ExpiresAt)
}

func (t *Token) CanRefresh() bool {
	return t.RefreshToken != ""
}

// TokenResponse is the provider's answer to any token grant.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// DeviceCodeResponse is the provider's answer to a device authorization request.
type DeviceCodeResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval,omitempty"`
	Message         string `json:"message,omitempty"`
}

// UserProfile is the subset of Graph /me the tool displays.
type UserProfile struct {
	ID                string `json:"id"`
	DisplayName       string `json:"display_name,omitempty"`
	Mail              string `json:"mail,omitempty"`
	UserPrincipalName string `json:"user_principal_name,omitempty"`
	JobTitle          string `json:"job_title,omitempty"`
	OfficeLocation    string `json:"office_location,omitempty"`
}

// Message is a read-only summary of a mailbox message.
type Message struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	From        string     `json:"from,omitempty"`
	ReceivedAt  *time.Time `json:"received_at,omitempty"`
	IsRead      bool       `json:"is_read"`
	BodyPreview string     `json:"body_preview,omitempty"`
}

// DefaultMessageOrder lists newest mail first.
const DefaultMessageOrder = "receivedDateTime desc"

// MessageQuery pages through a mailbox. Zero values fall back to Graph defaults.
type MessageQuery struct {
	Top     int
	Skip    int
	Filter  string
	OrderBy string
}

// LooksEncrypted reports whether the stored access token is ciphertext
// rather than a raw JWT.
func (t *Token) LooksEncrypted() bool {
	return t.AccessToken != "" && strings.Count(t.AccessToken, ".") != 2
}
