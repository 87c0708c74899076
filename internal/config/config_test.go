package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AGRICARE_ENV", "AGRICARE_DATA_DIR", "AGRICARE_PORT", "AGRICARE_HTTP_PORT",
		"AGRICARE_DISABLE_TLS", "AGRICARE_BACKEND", "AGRICARE_SQLITE_PATH",
		"AGRICARE_REDIS_URL", "AGRICARE_POSTGRES_DSN", "AGRICARE_STORE_ADDR",
		"AGRICARE_IMPORT_DIR", "AGRICARE_JWT_SECRET", "AGRICARE_TOKEN_TTL",
		"AGRICARE_VAULT_KEY", "AGRICARE_CORS_ORIGINS", "AGRICARE_ADMIN_EMAILS",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGRICARE_ENV", "development")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.True(t, cfg.Development())
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "7001", cfg.Port)
	assert.Equal(t, "7002", cfg.HTTPPort)
	assert.Equal(t, BackendMemory, cfg.Backend)
	assert.Equal(t, "data/agricare.db", strings.TrimPrefix(cfg.SQLitePath, "./"))
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, devJWTSecret, cfg.JWTSecret)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"admin@example.com"}, cfg.AdminEmails)
	assert.Empty(t, cfg.StoreAddr)
	assert.Nil(t, cfg.VaultKey)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGRICARE_BACKEND", "SQLite")
	t.Setenv("AGRICARE_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("AGRICARE_JWT_SECRET", "s3cret")
	t.Setenv("AGRICARE_TOKEN_TTL", "90m")
	t.Setenv("AGRICARE_DISABLE_TLS", "true")
	t.Setenv("AGRICARE_CORS_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("AGRICARE_VAULT_KEY", strings.Repeat("ab", 32))
	t.Setenv("AGRICARE_ADMIN_EMAILS", "ops@farm.test,owner@farm.test")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.False(t, cfg.Development())
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.Equal(t, 90*time.Minute, cfg.TokenTTL)
	assert.True(t, cfg.DisableTLS)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"ops@farm.test", "owner@farm.test"}, cfg.AdminEmails)
	require.Len(t, cfg.VaultKey, 32)
	assert.Equal(t, byte(0xab), cfg.VaultKey[0])
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"production needs a secret", map[string]string{}, "AGRICARE_JWT_SECRET"},
		{"unknown backend", map[string]string{"AGRICARE_BACKEND": "mongo", "AGRICARE_JWT_SECRET": "x"}, "unknown AGRICARE_BACKEND"},
		{"redis needs a url", map[string]string{"AGRICARE_BACKEND": "redis", "AGRICARE_JWT_SECRET": "x"}, "AGRICARE_REDIS_URL"},
		{"postgres needs a dsn", map[string]string{"AGRICARE_BACKEND": "postgres", "AGRICARE_JWT_SECRET": "x"}, "AGRICARE_POSTGRES_DSN"},
		{"bad ttl", map[string]string{"AGRICARE_TOKEN_TTL": "soon", "AGRICARE_JWT_SECRET": "x"}, "AGRICARE_TOKEN_TTL"},
		{"short vault key", map[string]string{"AGRICARE_VAULT_KEY": "short", "AGRICARE_JWT_SECRET": "x"}, "AGRICARE_VAULT_KEY"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStoreFromEnv(t *testing.T) {
	clearEnv(t)

	cfg, err := StoreFromEnv()
	require.NoError(t, err, "clients need no daemon secret")
	assert.Equal(t, "localhost:7001", cfg.StoreAddr)
	assert.Equal(t, BackendMemory, cfg.Backend)

	t.Setenv("AGRICARE_STORE_ADDR", "store.internal:9000")
	t.Setenv("AGRICARE_BACKEND", "redis")
	_, err = StoreFromEnv()
	require.ErrorContains(t, err, "AGRICARE_REDIS_URL")
}

func TestParseVaultKey(t *testing.T) {
	key, err := parseVaultKey("thisis32byteslongsecretkey123456")
	require.NoError(t, err)
	assert.Equal(t, []byte("thisis32byteslongsecretkey123456"), key)

	_, err = parseVaultKey(strings.Repeat("zz", 32))
	require.Error(t, err)
}
