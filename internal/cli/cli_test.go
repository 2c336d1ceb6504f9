package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pysugar/m365-mail-nexus/internal/db"
	"github.com/pysugar/m365-mail-nexus/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("ENCRYPTION_KEY", "cli-test-passphrase")
	t.Setenv("DATABASE_URL", "sqlite://"+filepath.Join(dir, "mailnexus.db"))
	t.Setenv("CACHE_BACKEND", "database")
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("WEB_API_KEY", "")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	require.NoError(t, err, "%v", args)
	return out
}

func registerUser(t *testing.T) {
	t.Helper()
	mustRun(t, "account", "register",
		"--email", "User@Contoso.com",
		"--name", "User",
		"--tenant-id", "t1",
		"--client-id", "c1",
		"--client-secret", "s3cret-value",
	)
}

func TestAccountLifecycle(t *testing.T) {
	setupEnv(t)
	registerUser(t)

	out := mustRun(t, "account", "list")
	assert.Contains(t, out, "user@contoso.com")
	assert.Contains(t, out, "inactive")
	assert.Contains(t, out, "1 account(s)")

	var acc domain.Account
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "account", "get", "user@contoso.com", "--json")), &acc))
	assert.Equal(t, domain.StatusInactive, acc.Status)
	assert.Equal(t, domain.AuthTypeAuthorizationCode, acc.AuthType)

	assert.Contains(t, mustRun(t, "account", "activate", acc.ID), "active")
	assert.Contains(t, mustRun(t, "account", "list", "--status", "active"), "user@contoso.com")

	cfg := mustRun(t, "auth", "get-config", "--email", "user@contoso.com")
	assert.Contains(t, cfg, "s3cr****")
	assert.NotContains(t, cfg, "s3cret-value")
	assert.Contains(t, cfg, "http://localhost:5000/auth/callback")

	mustRun(t, "account", "update", "user@contoso.com", "--name", "Renamed")
	assert.Contains(t, mustRun(t, "account", "get", "user@contoso.com"), "Renamed")

	assert.Contains(t, mustRun(t, "account", "delete", "user@contoso.com"), "Deleted")
	assert.Contains(t, mustRun(t, "account", "list"), "No accounts registered.")
}

func TestRegisterRejectsDuplicateAndInvalid(t *testing.T) {
	setupEnv(t)
	registerUser(t)

	_, err := run(t, "account", "register", "--email", "user@contoso.com", "--tenant-id", "t1", "--client-id", "c1", "--client-secret", "x")
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)

	_, err = run(t, "account", "register", "--email", "kiosk@contoso.com", "--auth-type", "device_code", "--client-id", "c1")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = run(t, "account", "register", "--email", "x@contoso.com", "--auth-type", "password")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStartAuthCodeAndUnknownState(t *testing.T) {
	setupEnv(t)
	registerUser(t)

	out := mustRun(t, "auth", "start-auth-code", "--email", "user@contoso.com")
	assert.Contains(t, out, "https://login.microsoftonline.com/t1/oauth2/v2.0/authorize")
	assert.Contains(t, out, "client_id=c1")
	assert.Contains(t, out, "complete-auth-code --state")

	_, err := run(t, "auth", "complete-auth-code", "--code", "c", "--state", "never-issued")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = run(t, "auth", "start-device-code", "--email", "user@contoso.com")
	assert.ErrorIs(t, err, domain.ErrInvalidAuthType)
}

func TestTokenCommandsWithoutToken(t *testing.T) {
	setupEnv(t)
	registerUser(t)

	_, err := run(t, "auth", "token-status", "--email", "user@contoso.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.Contains(t, mustRun(t, "auth", "refresh-token", "--email", "user@contoso.com"), "no refresh token")
	assert.Contains(t, mustRun(t, "auth", "revoke-token", "--email", "user@contoso.com"), "had no token")

	out, err := run(t, "auth", "validate-token", "--email", "user@contoso.com")
	assert.Error(t, err)
	assert.Contains(t, out, "Token exists")

	out = mustRun(t, "auth", "check-tokens")
	assert.Contains(t, out, "ATTEMPTED")

	_, err = run(t, "auth", "token-status", "--email", "ghost@contoso.com")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckTokensReportsExpired(t *testing.T) {
	setupEnv(t)
	registerUser(t)

	var acc domain.Account
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "account", "get", "user@contoso.com", "--json")), &acc))

	gdb, err := db.Open(os.Getenv("DATABASE_URL"), logger.Silent)
	require.NoError(t, err)
	_, err = db.NewTokenRepository(gdb).Save(context.Background(), &domain.Token{
		AccountID:   acc.ID,
		AccessToken: "at",
		ExpiresAt:   time.Now().Add(-time.Hour),
	})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	out := mustRun(t, "auth", "check-tokens")
	assert.Contains(t, out, "1 token(s) already expired: "+acc.ID)
}

func TestDBCommands(t *testing.T) {
	setupEnv(t)

	out := mustRun(t, "db", "init")
	assert.Contains(t, out, "Admin API key: sk-")

	rotated := mustRun(t, "db", "rotate-key")
	assert.Contains(t, rotated, "Admin API key: sk-")
	assert.NotContains(t, out, strings.TrimSpace(rotated))

	registerUser(t)
	_, err := run(t, "db", "reset")
	assert.Error(t, err)

	mustRun(t, "db", "reset", "--yes")
	assert.Contains(t, mustRun(t, "account", "list"), "No accounts registered.")
}

func TestConfigShowMasksSecrets(t *testing.T) {
	setupEnv(t)
	t.Setenv("ENCRYPTION_KEY", "super-secret-passphrase")

	out := mustRun(t, "config", "show")
	assert.NotContains(t, out, "super-secret-passphrase")
	assert.Contains(t, out, "supe****")
	assert.Contains(t, out, "window_minutes: 5")
}

func TestInvalidConfigIsReported(t *testing.T) {
	setupEnv(t)
	t.Setenv("ENCRYPTION_KEY", "")

	_, err := run(t, "account", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ENCRYPTION_KEY")
}

func TestVersion(t *testing.T) {
	setupEnv(t)
	assert.Contains(t, mustRun(t, "version"), "mailnexus dev")
}
