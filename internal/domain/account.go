// Package domain holds the entities shared by the token lifecycle manager,
// the repositories and the Graph client.
package domain

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcnijman/go-emailaddress"
)

// AuthType selects which OAuth grant an account authenticates with.
type AuthType string

const (
	AuthTypeAuthorizationCode AuthType = "authorization_code"
	AuthTypeDeviceCode        AuthType = "device_code"
)

// Valid reports whether t is one of the supported grants.
func (t AuthType) Valid() bool {
	return t == AuthTypeAuthorizationCode || t == AuthTypeDeviceCode
}

// ParseAuthType accepts the wire name of a grant.
func ParseAuthType(s string) (AuthType, error) {
	t := AuthType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown auth type %q", ErrValidation, s)
	}
	return t, nil
}

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusError    AccountStatus = "error"
	StatusPending  AccountStatus = "pending"
)

// ParseAccountStatus accepts the wire name of a status.
func ParseAccountStatus(s string) (AccountStatus, error) {
	st := AccountStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case StatusActive, StatusInactive, StatusError, StatusPending:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown account status %q", ErrValidation, s)
}

// Account is a registered Microsoft 365 mailbox.
type Account struct {
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	DisplayName string        `json:"display_name,omitempty"`
	AuthType    AuthType      `json:"auth_type"`
	Status      AccountStatus `json:"status"`
	TenantID    string        `json:"tenant_id,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	LastSyncAt  *time.Time    `json:"last_sync_at,omitempty"`
}

// NewAccount builds an inactive account with a fresh id.
func NewAccount(email, displayName string, authType AuthType, tenantID string) (*Account, error) {
	normalized, err := NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if !authType.Valid() {
		return nil, fmt.Errorf("%w: unknown auth type %q", ErrValidation, authType)
	}
	now := time.Now().UTC()
	return &Account{
		ID:          uuid.New().String(),
		Email:       normalized,
		DisplayName: displayName,
		AuthType:    authType,
		Status:      StatusInactive,
		TenantID:    tenantID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// NormalizeEmail trims and lowercases an address after checking its syntax.
func NormalizeEmail(email string) (string, error) {
	addr, err := emailaddress.Parse(strings.TrimSpace(email))
	if err != nil {
		return "", fmt.Errorf("%w: invalid email %q", ErrValidation, email)
	}
	return strings.ToLower(addr.String()), nil
}

// IsActive reports whether the account can be used for Graph calls.
func (a *Account) IsActive() bool {
	return a.Status == StatusActive
}

func (a *Account) Activate() {
	a.setStatus(StatusActive)
}

func (a *Account) Deactivate() {
	a.setStatus(StatusInactive)
}

func (a *Account) MarkError() {
	a.setStatus(StatusError)
}

func (a *Account) setStatus(s AccountStatus) {
	a.Status = s
	a.UpdatedAt = time.Now().UTC()
}

// ClientRegistration is the part of an OAuth app registration both grants share.
type ClientRegistration struct {
	AccountID string `json:"account_id"`
	ClientID  string `json:"client_id"`
	TenantID  string `json:"tenant_id"`
}

// AuthConfig is the per-account OAuth client registration. Exactly one of
// *AuthCodeConfig or *DeviceCodeConfig exists per account.
type AuthConfig interface {
	Registration() ClientRegistration
	AuthType() AuthType
	Validate() error
}

// AuthCodeConfig registers a confidential client for the authorization code grant.
type AuthCodeConfig struct {
	ClientRegistration
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

func (c *AuthCodeConfig) Registration() ClientRegistration { return c.ClientRegistration }

func (c *AuthCodeConfig) AuthType() AuthType { return AuthTypeAuthorizationCode }

func (c *AuthCodeConfig) Validate() error {
	if err := c.ClientRegistration.validate(); err != nil {
		return err
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("%w: client_secret is required for %s", ErrValidation, AuthTypeAuthorizationCode)
	}
	return ValidateRedirectURI(c.RedirectURI)
}

// DeviceCodeConfig registers a public client for the device code grant.
type DeviceCodeConfig struct {
	ClientRegistration
}

func (c *DeviceCodeConfig) Registration() ClientRegistration { return c.ClientRegistration }

func (c *DeviceCodeConfig) AuthType() AuthType { return AuthTypeDeviceCode }

func (c *DeviceCodeConfig) Validate() error {
	return c.ClientRegistration.validate()
}

func (r ClientRegistration) validate() error {
	if r.ClientID == "" {
		return fmt.Errorf("%w: client_id is required", ErrValidation)
	}
	if r.TenantID == "" {
		return fmt.Errorf("%w: tenant_id is required", ErrValidation)
	}
	return nil
}

// ValidateRedirectURI accepts absolute http and https URLs only.
func ValidateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: redirect_uri must be an http(s) URL, got %q", ErrValidation, raw)
	}
	return nil
}
