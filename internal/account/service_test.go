package account

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pysugar/m365-mail-nexus/internal/db"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

type plainCipher struct{}

func (plainCipher) Encrypt(s string) (string, error) { return "enc:" + s, nil }
func (plainCipher) Decrypt(s string) (string, error) { return strings.TrimPrefix(s, "enc:"), nil }

type fixture struct {
	svc    *Service
	tokens *db.TokenRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared", logger.Silent)
	require.NoError(t, err)
	tokens := db.NewTokenRepository(gdb)
	return &fixture{
		svc:    NewService(db.NewAccountRepository(gdb), db.NewAuthConfigRepository(gdb, plainCipher{}), tokens),
		tokens: tokens,
	}
}

var authCodeReg = Registration{
	Email:        "User@Contoso.com",
	DisplayName:  "User",
	AuthType:     domain.AuthTypeAuthorizationCode,
	TenantID:     "t1",
	ClientID:     "c1",
	ClientSecret: "s3cret",
	RedirectURI:  "http://localhost:5000/auth/callback",
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	acc, err := f.svc.Register(ctx, authCodeReg)
	require.NoError(t, err)
	assert.Equal(t, "user@contoso.com", acc.Email)
	assert.Equal(t, domain.StatusInactive, acc.Status)

	cfg, err := f.svc.GetAuthConfig(ctx, acc.ID)
	require.NoError(t, err)
	ac, ok := cfg.(*domain.AuthCodeConfig)
	require.True(t, ok)
	assert.Equal(t, "s3cret", ac.ClientSecret)

	_, err = f.svc.Register(ctx, authCodeReg)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestRegisterValidatesPerAuthType(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Registration)
	}{
		{"bad email", func(r *Registration) { r.Email = "nobody" }},
		{"unknown auth type", func(r *Registration) { r.AuthType = "password" }},
		{"auth code without secret", func(r *Registration) { r.ClientSecret = "" }},
		{"auth code without redirect", func(r *Registration) { r.RedirectURI = "" }},
		{"auth code with ftp redirect", func(r *Registration) { r.RedirectURI = "ftp://host/cb" }},
		{"missing client id", func(r *Registration) { r.ClientID = "" }},
		{"device code without tenant", func(r *Registration) {
			r.AuthType = domain.AuthTypeDeviceCode
			r.TenantID = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			r := authCodeReg
			tt.mutate(&r)

			_, err := f.svc.Register(context.Background(), r)
			assert.ErrorIs(t, err, domain.ErrValidation)

			all, err := f.svc.List(context.Background(), 0, 0)
			require.NoError(t, err)
			assert.Empty(t, all)
		})
	}
}

func TestRegisterDeviceCodeIgnoresSecret(t *testing.T) {
	f := newFixture(t)
	r := Registration{Email: "dev@contoso.com", AuthType: domain.AuthTypeDeviceCode, TenantID: "t1", ClientID: "c1"}

	acc, err := f.svc.Register(context.Background(), r)
	require.NoError(t, err)

	cfg, err := f.svc.GetAuthConfig(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuthTypeDeviceCode, cfg.AuthType())

	byType, err := f.svc.ListByAuthType(context.Background(), domain.AuthTypeDeviceCode)
	require.NoError(t, err)
	assert.Len(t, byType, 1)
}

func TestStatusTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, err := f.svc.Register(ctx, authCodeReg)
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, acc.ID)
	require.NoError(t, err)
	active, err := f.svc.ListActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	got, err := f.svc.MarkError(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, got.Status)

	errored, err := f.svc.ListByStatus(ctx, domain.StatusError)
	require.NoError(t, err)
	assert.Len(t, errored, 1)

	got, err = f.svc.Deactivate(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, got.Status)

	_, err = f.svc.Activate(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestUpdateFields(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, err := f.svc.Register(ctx, authCodeReg)
	require.NoError(t, err)

	name := "Renamed"
	got, err := f.svc.Update(ctx, acc.ID, Update{DisplayName: &name})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.DisplayName)

	reloaded, err := f.svc.GetByEmail(ctx, "user@contoso.com")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", reloaded.DisplayName)
}

func TestUpdateAuthTypeResetsAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, err := f.svc.Register(ctx, authCodeReg)
	require.NoError(t, err)
	_, err = f.svc.Activate(ctx, acc.ID)
	require.NoError(t, err)
	_, err = f.tokens.Save(ctx, &domain.Token{AccountID: acc.ID, AccessToken: "at", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)

	device := domain.AuthTypeDeviceCode
	_, err = f.svc.Update(ctx, acc.ID, Update{AuthType: &device})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := f.svc.Update(ctx, acc.ID, Update{
		AuthType: &device,
		Config: &domain.DeviceCodeConfig{
			ClientRegistration: domain.ClientRegistration{AccountID: acc.ID, ClientID: "c2", TenantID: "t1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AuthTypeDeviceCode, got.AuthType)
	assert.Equal(t, domain.StatusInactive, got.Status)

	_, err = f.tokens.GetByAccountID(ctx, acc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	cfg, err := f.svc.GetAuthConfig(ctx, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, "c2", cfg.Registration().ClientID)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc, err := f.svc.Register(ctx, authCodeReg)
	require.NoError(t, err)

	deleted, err := f.svc.Delete(ctx, acc.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = f.svc.Get(ctx, acc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.GetAuthConfig(ctx, acc.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	deleted, err = f.svc.Delete(ctx, acc.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}
