package microsoft

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/pysugar/m365-mail-nexus/internal/domain"
)

// ErrorCode is the closed set of OAuth error codes the lifecycle manager
// distinguishes. Anything else maps to CodeOther.
type ErrorCode string

const (
	CodeAuthorizationPending ErrorCode = "authorization_pending"
	CodeSlowDown             ErrorCode = "slow_down"
	CodeAccessDenied         ErrorCode = "access_denied"
	CodeExpiredToken         ErrorCode = "expired_token"
	CodeInvalidGrant         ErrorCode = "invalid_grant"
	CodeOther                ErrorCode = "other"
)

func parseErrorCode(raw string) ErrorCode {
	switch c := ErrorCode(raw); c {
	case CodeAuthorizationPending, CodeSlowDown, CodeAccessDenied, CodeExpiredToken, CodeInvalidGrant:
		return c
	}
	return CodeOther
}

// OAuthError is an error response from the identity platform token endpoints.
type OAuthError struct {
	Code        ErrorCode
	RawCode     string
	Description string
	StatusCode  int
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("microsoft oauth: %s (%d): %s", e.RawCode, e.StatusCode, e.Description)
	}
	return fmt.Sprintf("microsoft oauth: %s (%d)", e.RawCode, e.StatusCode)
}

// Unwrap maps the code onto the domain error taxonomy.
func (e *OAuthError) Unwrap() error {
	switch e.Code {
	case CodeAuthorizationPending, CodeSlowDown:
		return domain.ErrProviderTransient
	case CodeAccessDenied:
		return domain.ErrAuthorizationDenied
	case CodeExpiredToken:
		return domain.ErrDeviceCodeExpired
	case CodeInvalidGrant:
		return domain.ErrProviderRejected
	}
	if retryableStatus(e.StatusCode) {
		return domain.ErrProviderTransient
	}
	return domain.ErrProviderRejected
}

// HTTPError is a non-2xx response without an OAuth error body.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("microsoft: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPError) Unwrap() error {
	if retryableStatus(e.StatusCode) {
		return domain.ErrProviderTransient
	}
	return domain.ErrProviderRejected
}

// CodeOf returns the OAuth error code carried by err, or "" when err is not an OAuthError.
func CodeOf(err error) ErrorCode {
	var oe *OAuthError
	if errors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// IsTransient reports whether a retry may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrProviderTransient)
}

func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// transportError wraps a network failure as transient.
func transportError(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrProviderTransient, err)
}
