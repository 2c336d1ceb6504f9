package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims the diagnostics report on.
type Claims struct {
	Issuer    string     `json:"iss,omitempty"`
	Audience  string     `json:"aud,omitempty"`
	Subject   string     `json:"sub,omitempty"`
	AppID     string     `json:"appid,omitempty"`
	TenantID  string     `json:"tid,omitempty"`
	UPN       string     `json:"upn,omitempty"`
	Name      string     `json:"name,omitempty"`
	Scope     string     `json:"scp,omitempty"`
	ExpiresAt *time.Time `json:"exp,omitempty"`
}

// ParseJWTClaims decodes the payload of a three-segment JWT without
// verifying its signature. Opaque tokens return an error.
func ParseJWTClaims(raw string) (*Claims, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, fmt.Errorf("invalid JWT format: expected 3 segments")
	}

	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, mc); err != nil {
		return nil, fmt.Errorf("failed to decode JWT: %w", err)
	}

	c := &Claims{
		Issuer:   claimString(mc, "iss"),
		Subject:  claimString(mc, "sub"),
		AppID:    claimString(mc, "appid"),
		TenantID: claimString(mc, "tid"),
		UPN:      claimString(mc, "upn"),
		Name:     claimString(mc, "name"),
		Scope:    claimString(mc, "scp"),
	}
	if aud, err := mc.GetAudience(); err == nil {
		c.Audience = strings.Join(aud, " ")
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		t := exp.Time.UTC()
		c.ExpiresAt = &t
	}
	return c, nil
}

func claimString(mc jwt.MapClaims, key string) string {
	if v, ok := mc[key].(string); ok {
		return v
	}
	return ""
}
