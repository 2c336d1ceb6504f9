package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidAuthType = errors.New("auth type does not match flow")

	// ErrInvalidState is returned for an unknown, expired or already consumed OAuth state.
	ErrInvalidState = errors.New("invalid oauth state")

	ErrAuthorizationDenied = errors.New("authorization denied by user")
	ErrDeviceCodeExpired   = errors.New("device code expired")
	ErrPollTimeout         = errors.New("device code polling timed out")

	// ErrProviderRejected marks a terminal rejection by the identity provider.
	ErrProviderRejected = errors.New("provider rejected request")
	// ErrProviderTransient marks a provider failure that may succeed on retry.
	ErrProviderTransient = errors.New("provider temporarily unavailable")

	ErrEncryption    = errors.New("encryption failure")
	ErrRefreshFailed = errors.New("token refresh failed")
)
