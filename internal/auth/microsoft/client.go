// Package microsoft talks to the Microsoft identity platform and Graph.
//
// Client is stateless apart from its base URLs: every method is one
// independent HTTP exchange. OAuth error responses come back as
// *OAuthError so callers can switch on ErrorCode.
package microsoft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/pysugar/m365-mail-nexus/internal/util"
	"golang.org/x/oauth2"
)

const (
	DefaultAuthorityURL = "https://login.microsoftonline.com"
	DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"
	DefaultScope        = "https://graph.microsoft.com/.default offline_access"

	deviceCodeGrantType = "urn:ietf:params:oauth:grant-type:device_code"
	requestTimeout      = 30 * time.Second
)

// Client implements the OAuth grant exchanges and Graph calls.
type Client struct {
	authorityURL string
	graphBaseURL string
	httpClient   *http.Client
	limiter      *RateLimiter
}

type Option func(*Client)

// WithAuthorityURL points the OAuth endpoints at another host (tests, sovereign clouds).
func WithAuthorityURL(u string) Option {
	return func(c *Client) { c.authorityURL = strings.TrimRight(u, "/") }
}

func WithGraphBaseURL(u string) Option {
	return func(c *Client) { c.graphBaseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithRateLimiter(l *RateLimiter) Option {
	return func(c *Client) { c.limiter = l }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		authorityURL: DefaultAuthorityURL,
		graphBaseURL: DefaultGraphBaseURL,
		httpClient:   &http.Client{Timeout: requestTimeout},
		limiter:      NewRateLimiter(DefaultRateLimit),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) endpoint(tenantID, path string) string {
	return fmt.Sprintf("%s/%s/oauth2/v2.0/%s", c.authorityURL, url.PathEscape(tenantID), path)
}

func (c *Client) oauthConfig(reg domain.ClientRegistration, clientSecret, redirectURI, scope string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     reg.ClientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURI,
		Scopes:       strings.Fields(scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:       c.endpoint(reg.TenantID, "authorize"),
			TokenURL:      c.endpoint(reg.TenantID, "token"),
			DeviceAuthURL: c.endpoint(reg.TenantID, "devicecode"),
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

// AuthorizationURL builds the authorize URL the user is sent to.
func (c *Client) AuthorizationURL(cfg *domain.AuthCodeConfig, scope, state string) string {
	oc := c.oauthConfig(cfg.Registration(), cfg.ClientSecret, cfg.RedirectURI, scope)
	return oc.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "query"))
}

// ExchangeCode redeems an authorization code. The client secret and
// redirect URI of the account's registration are sent.
func (c *Client) ExchangeCode(ctx context.Context, cfg *domain.AuthCodeConfig, code, scope string) (*domain.TokenResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	oc := c.oauthConfig(cfg.Registration(), cfg.ClientSecret, cfg.RedirectURI, scope)
	tok, err := oc.Exchange(c.oauthContext(ctx), code, oauth2.SetAuthURLParam("scope", scope))
	if err != nil {
		return nil, c.convertOAuth2Error("exchange code", err)
	}
	return fromOAuth2Token(tok), nil
}

// RequestDeviceCode starts a device authorization.
func (c *Client) RequestDeviceCode(ctx context.Context, reg domain.ClientRegistration, scope string) (*domain.DeviceCodeResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	oc := c.oauthConfig(reg, "", "", scope)
	da, err := oc.DeviceAuth(c.oauthContext(ctx))
	if err != nil {
		return nil, c.convertOAuth2Error("request device code", err)
	}

	expiresIn := 0
	if !da.Expiry.IsZero() {
		expiresIn = int(math.Round(time.Until(da.Expiry).Seconds()))
	}
	return &domain.DeviceCodeResponse{
		DeviceCode:      da.DeviceCode,
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
		ExpiresIn:       expiresIn,
		Interval:        int(da.Interval),
	}, nil
}

// PollDeviceCode makes a single token request for a pending device code.
// A pending authorization returns an *OAuthError with CodeAuthorizationPending.
func (c *Client) PollDeviceCode(ctx context.Context, reg domain.ClientRegistration, deviceCode string) (*domain.TokenResponse, error) {
	form := url.Values{
		"grant_type":  {deviceCodeGrantType},
		"client_id":   {reg.ClientID},
		"device_code": {deviceCode},
	}
	return c.postToken(ctx, "poll device code", reg.TenantID, form)
}

// RefreshToken redeems a refresh token. clientSecret is sent only when non-empty,
// which is the case for authorization code registrations.
func (c *Client) RefreshToken(ctx context.Context, reg domain.ClientRegistration, clientSecret, refreshToken, scope string) (*domain.TokenResponse, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {reg.ClientID},
		"refresh_token": {refreshToken},
	}
	if scope != "" {
		form.Set("scope", scope)
	}
	if clientSecret != "" {
		form.Set("client_secret", clientSecret)
	}
	return c.postToken(ctx, "refresh token", reg.TenantID, form)
}

func (c *Client) postToken(ctx context.Context, op, tenantID string, form url.Values) (*domain.TokenResponse, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(tenantID, "token"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, transportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.noteThrottle(resp)
		return nil, responseError(resp.StatusCode, body)
	}

	var tr domain.TokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", op, err)
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%s: response has no access_token", op)
	}
	return &tr, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *Client) noteThrottle(resp *http.Response) {
	if c.limiter == nil || resp.StatusCode != http.StatusTooManyRequests {
		return
	}
	retryAfter, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
	c.limiter.RecordRateLimitError(retryAfter)
}

// responseError turns a non-2xx token endpoint response into *OAuthError
// when the body carries an "error" field, *HTTPError otherwise.
func responseError(status int, body []byte) error {
	var payload struct {
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return &OAuthError{
			Code:        parseErrorCode(payload.Error),
			RawCode:     payload.Error,
			Description: payload.ErrorDescription,
			StatusCode:  status,
		}
	}
	return &HTTPError{StatusCode: status, Body: util.TruncateBytes(body)}
}

func (c *Client) convertOAuth2Error(op string, err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return transportError(op, err)
	}
	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
		c.noteThrottle(re.Response)
	}
	if re.ErrorCode != "" {
		return &OAuthError{
			Code:        parseErrorCode(re.ErrorCode),
			RawCode:     re.ErrorCode,
			Description: re.ErrorDescription,
			StatusCode:  status,
		}
	}
	return responseError(status, re.Body)
}

func fromOAuth2Token(tok *oauth2.Token) *domain.TokenResponse {
	tr := &domain.TokenResponse{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    int(tok.ExpiresIn),
	}
	if tr.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		tr.ExpiresIn = int(math.Round(time.Until(tok.Expiry).Seconds()))
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		tr.Scope = scope
	}
	return tr
}
