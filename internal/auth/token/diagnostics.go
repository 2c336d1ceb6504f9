package token

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	// statusTolerance is how far the JWT exp may drift from the stored
	// expiry before TokenStatus reports a mismatch.
	statusTolerance = 60 * time.Second
	// integrityTolerance is the looser bound used by ValidateTokenIntegrity.
	integrityTolerance = 300 * time.Second

	nearExpiryMinutes = 5
	maskKeep          = 12
)

// TokenStatus is a read-only view of an account's stored token.
type TokenStatus struct {
	AccountID      string    `json:"account_id"`
	TokenType      string    `json:"token_type"`
	Scope          string    `json:"scope"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	DBExpiresAt    time.Time `json:"db_expires_at"`
	IsEncrypted    bool      `json:"is_encrypted"`
	CanRefresh     bool      `json:"can_refresh"`
	DBIsExpired    bool      `json:"db_is_expired"`
	DBIsNearExpiry bool      `json:"db_is_near_expiry"`

	IsJWT           bool           `json:"is_jwt"`
	JWTExpiresAt    *time.Time     `json:"jwt_expires_at,omitempty"`
	JWTIsExpired    *bool          `json:"jwt_is_expired,omitempty"`
	ExpiryDiff      *time.Duration `json:"expiry_time_diff,omitempty"`
	ExpiryMatches   *bool          `json:"expiry_times_match,omitempty"`
	Claims          *domain.Claims `json:"jwt_payload,omitempty"`
	DecryptionError string         `json:"decryption_error,omitempty"`
}

// IntegrityReport is the outcome of ValidateTokenIntegrity.
type IntegrityReport struct {
	TokenExists           bool `json:"token_exists"`
	IsEncrypted           bool `json:"is_encrypted"`
	DecryptionSuccess     bool `json:"decryption_success"`
	IsValidJWT            bool `json:"is_valid_jwt"`
	ExpiryTimesConsistent bool `json:"expiry_times_consistent"`
	TokenNotExpired       bool `json:"token_not_expired"`
	OverallValid          bool `json:"overall_valid"`
}

// TokenStatus decrypts the stored access token and compares its JWT expiry
// with the stored one. A token that cannot be decrypted is reported, not
// returned as an error.
func (m *Manager) TokenStatus(ctx context.Context, accountID string) (*TokenStatus, error) {
	tok, err := m.tokens.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	st := &TokenStatus{
		AccountID:      tok.AccountID,
		TokenType:      tok.TokenType,
		Scope:          tok.Scope,
		CreatedAt:      tok.CreatedAt,
		UpdatedAt:      tok.UpdatedAt,
		DBExpiresAt:    tok.ExpiresAt,
		IsEncrypted:    tok.LooksEncrypted(),
		CanRefresh:     tok.CanRefresh(),
		DBIsExpired:    tok.IsExpiredAt(now),
		DBIsNearExpiry: tok.IsNearExpiryAt(now, nearExpiryMinutes),
	}

	raw, err := m.plainAccessToken(tok)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("failed to decrypt token for status")
		st.DecryptionError = err.Error()
		return st, nil
	}

	claims, err := domain.ParseJWTClaims(raw)
	if err != nil {
		return st, nil
	}
	st.IsJWT = true
	st.Claims = claims
	if claims.ExpiresAt != nil {
		exp := *claims.ExpiresAt
		expired := !now.Before(exp)
		diff := absDuration(exp.Sub(tok.ExpiresAt))
		matches := diff < statusTolerance
		st.JWTExpiresAt = &exp
		st.JWTIsExpired = &expired
		st.ExpiryDiff = &diff
		st.ExpiryMatches = &matches
	}
	return st, nil
}

// ValidateTokenIntegrity checks that the stored token decrypts, parses as a
// JWT whose expiry agrees with the stored expiry and has not expired. An
// opaque token is never overall valid.
func (m *Manager) ValidateTokenIntegrity(ctx context.Context, accountID string) (*IntegrityReport, error) {
	r := &IntegrityReport{}
	tok, err := m.tokens.GetByAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return r, nil
		}
		return nil, err
	}
	r.TokenExists = true
	r.IsEncrypted = tok.LooksEncrypted()

	now := m.now()
	raw, err := m.plainAccessToken(tok)
	if err != nil {
		log.Error().Err(err).Str("account_id", accountID).Msg("token integrity check failed")
		return r, nil
	}
	r.DecryptionSuccess = true

	claims, err := domain.ParseJWTClaims(raw)
	switch {
	case err != nil:
		r.ExpiryTimesConsistent = true
		r.TokenNotExpired = !tok.IsExpiredAt(now)
	case claims.ExpiresAt == nil:
		r.IsValidJWT = true
		r.TokenNotExpired = !tok.IsExpiredAt(now)
	default:
		r.IsValidJWT = true
		r.ExpiryTimesConsistent = absDuration(claims.ExpiresAt.Sub(tok.ExpiresAt)) < integrityTolerance
		r.TokenNotExpired = now.Before(*claims.ExpiresAt)
	}

	r.OverallValid = r.TokenExists && r.DecryptionSuccess && r.IsValidJWT && r.ExpiryTimesConsistent && r.TokenNotExpired
	return r, nil
}

// RawTokens holds decrypted token values for debugging.
type RawTokens struct {
	AccountID    string         `json:"account_id"`
	TokenType    string         `json:"token_type"`
	Scope        string         `json:"scope"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	Claims       *domain.Claims `json:"jwt_payload,omitempty"`
}

// RawTokenValues decrypts the account's tokens. Unless full is set the
// values are masked down to their first and last characters.
func (m *Manager) RawTokenValues(ctx context.Context, accountID string, full bool) (*RawTokens, error) {
	tok, err := m.tokens.GetByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	access, err := m.plainAccessToken(tok)
	if err != nil {
		return nil, err
	}
	var refresh string
	if tok.CanRefresh() {
		if refresh, err = m.cipher.Decrypt(tok.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}

	out := &RawTokens{
		AccountID:    tok.AccountID,
		TokenType:    tok.TokenType,
		Scope:        tok.Scope,
		CreatedAt:    tok.CreatedAt,
		ExpiresAt:    tok.ExpiresAt,
		AccessToken:  access,
		RefreshToken: refresh,
	}
	if claims, err := domain.ParseJWTClaims(access); err == nil {
		out.Claims = claims
	}
	if !full {
		out.AccessToken = maskToken(access)
		out.RefreshToken = maskToken(refresh)
	}
	log.Debug().Str("account_id", accountID).Bool("full", full).Msg("Raw token values requested")
	return out, nil
}

// plainAccessToken decrypts the access token, passing through legacy rows
// that were stored as a bare JWT.
func (m *Manager) plainAccessToken(tok *domain.Token) (string, error) {
	if !tok.LooksEncrypted() {
		return tok.AccessToken, nil
	}
	return m.cipher.Decrypt(tok.AccessToken)
}

// maskToken shows the first and last characters of a secret.
func maskToken(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 2*maskKeep {
		return "****"
	}
	return fmt.Sprintf("%s...%s [%d chars]", s[:maskKeep], s[len(s)-maskKeep:], len(s))
}

func absDuration(d time.Duration) time.Duration {
	return time.Duration(math.Abs(float64(d)))
}
