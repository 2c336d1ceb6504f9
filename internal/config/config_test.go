package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ENCRYPTION_KEY", "k")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite://mailnexus.db", cfg.Database.URL)
	assert.Equal(t, "http://localhost:5000/auth/callback", cfg.OAuth.RedirectURI)
	assert.Equal(t, "https://graph.microsoft.com/.default offline_access", cfg.OAuth.Scope)
	assert.Equal(t, 5000, cfg.Web.Port)
	assert.Equal(t, "@every 5m", cfg.Refresh.Schedule)
	assert.Equal(t, 5, cfg.Refresh.WindowMinutes)
	assert.Equal(t, 1, cfg.Refresh.Concurrency)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	file := filepath.Join(dir, "mailnexus.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
database:
  url: postgres://mail:pw@db:5432/mail
web:
  port: 8080
encryption:
  key: from-file
`), 0o600))
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("REDIS_URL", "redis://cache.internal:6379/0")

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, "postgres://mail:pw@db:5432/mail", cfg.Database.URL)
	assert.Equal(t, 9090, cfg.Web.Port)
	assert.Equal(t, "from-file", cfg.Encryption.Key)
	assert.Equal(t, CacheRedis, cfg.CacheBackend())
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ENCRYPTION_KEY=from-dotenv\n"), 0o600))
	t.Setenv("ENCRYPTION_KEY", "")
	os.Unsetenv("ENCRYPTION_KEY")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Encryption.Key)
}

func TestValidateListsEveryProblem(t *testing.T) {
	cfg := &Config{
		Cache: CacheConfig{Backend: CacheRedis},
		Log:   LogConfig{Level: "chatty"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"ENCRYPTION_KEY", "DATABASE_URL", "REDIS_URL", "chatty", "web port", "refresh window"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestEncryptionKeyNormalisation(t *testing.T) {
	short := &Config{Encryption: EncryptionConfig{Key: "abc"}}
	assert.Equal(t, "abc"+strings.Repeat("0", 29), short.EncryptionKey())
	assert.Len(t, short.EncryptionKey(), 32)

	long := &Config{Encryption: EncryptionConfig{Key: "0123456789abcdef0123456789abcdefEXTRA"}}
	assert.Equal(t, "0123456789abcdef0123456789abcdef", long.EncryptionKey())
}

func TestCacheBackendAuto(t *testing.T) {
	tests := []struct {
		backend, redisURL, want string
	}{
		{CacheAuto, "", CacheDatabase},
		{CacheAuto, "redis://localhost:6379/0", CacheDatabase},
		{CacheAuto, "redis://cache:6379/0", CacheRedis},
		{CacheMemory, "redis://cache:6379/0", CacheMemory},
	}
	for _, tt := range tests {
		cfg := &Config{Cache: CacheConfig{Backend: tt.backend, RedisURL: tt.redisURL}}
		assert.Equal(t, tt.want, cfg.CacheBackend(), "%s %s", tt.backend, tt.redisURL)
	}
}

func TestDumpMasksSecrets(t *testing.T) {
	cfg := &Config{
		Database:   DatabaseConfig{URL: "postgres://mail:hunter2@db:5432/mail"},
		Azure:      AzureConfig{ClientID: "c1", ClientSecret: "super-secret-value"},
		Encryption: EncryptionConfig{Key: "encryption-passphrase"},
		Web:        WebConfig{APIKey: "sk-123"},
	}

	out, err := cfg.Dump()
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "super-secret-value")
	assert.NotContains(t, out, "encryption-passphrase")
	assert.NotContains(t, out, "sk-123")

	var back Config
	require.NoError(t, yaml.Unmarshal([]byte(out), &back))
	assert.Equal(t, "c1", back.Azure.ClientID)
	assert.Equal(t, "postgres://mail:****@db:5432/mail", back.Database.URL)
}
