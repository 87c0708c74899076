// Package config reads the daemon configuration from the environment.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

const devJWTSecret = "agricare-development-secret"

type Config struct {
	Env        string
	DataDir    string
	Port       string
	HTTPPort   string
	DisableTLS bool

	Backend     string
	SQLitePath  string
	RedisURL    string
	PostgresDSN string
	StoreAddr   string
	ImportDir   string

	JWTSecret   string
	TokenTTL    time.Duration
	VaultKey    []byte
	CORSOrigins []string
	AdminEmails []string
}

// Development reports whether the daemon runs in development mode.
func (c Config) Development() bool {
	return c.Env == "development"
}

// FromEnv loads .env when present and builds a Config from the environment.
func FromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := storeFromEnv()
	cfg.Port = getenv("AGRICARE_PORT", "7001")
	cfg.HTTPPort = getenv("AGRICARE_HTTP_PORT", "7002")
	cfg.ImportDir = os.Getenv("AGRICARE_IMPORT_DIR")
	cfg.JWTSecret = os.Getenv("AGRICARE_JWT_SECRET")
	cfg.CORSOrigins = splitList(getenv("AGRICARE_CORS_ORIGINS", "*"))
	cfg.AdminEmails = splitList(getenv("AGRICARE_ADMIN_EMAILS", "admin@example.com"))

	ttl, err := time.ParseDuration(getenv("AGRICARE_TOKEN_TTL", "24h"))
	if err != nil || ttl <= 0 {
		return Config{}, fmt.Errorf("invalid AGRICARE_TOKEN_TTL: %q", os.Getenv("AGRICARE_TOKEN_TTL"))
	}
	cfg.TokenTTL = ttl

	if raw := os.Getenv("AGRICARE_VAULT_KEY"); raw != "" {
		key, err := parseVaultKey(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.VaultKey = key
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StoreFromEnv reads only the settings needed to reach a document store.
// Clients use it; the daemon secrets are neither read nor required.
func StoreFromEnv() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := storeFromEnv()
	cfg.StoreAddr = getenv("AGRICARE_STORE_ADDR", "localhost:7001")
	if err := cfg.validateBackend(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func storeFromEnv() Config {
	cfg := Config{
		Env:         getenv("AGRICARE_ENV", "production"),
		DataDir:     getenv("AGRICARE_DATA_DIR", "./data"),
		DisableTLS:  os.Getenv("AGRICARE_DISABLE_TLS") == "true",
		Backend:     strings.ToLower(getenv("AGRICARE_BACKEND", BackendMemory)),
		RedisURL:    os.Getenv("AGRICARE_REDIS_URL"),
		PostgresDSN: os.Getenv("AGRICARE_POSTGRES_DSN"),
		StoreAddr:   os.Getenv("AGRICARE_STORE_ADDR"),
	}
	cfg.SQLitePath = getenv("AGRICARE_SQLITE_PATH", filepath.Join(cfg.DataDir, "agricare.db"))
	return cfg
}

func (c *Config) validateBackend() error {
	switch c.Backend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("AGRICARE_REDIS_URL is required for the redis backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("AGRICARE_POSTGRES_DSN is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown AGRICARE_BACKEND %q", c.Backend)
	}
	return nil
}

func (c *Config) validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}

	if c.JWTSecret == "" {
		if !c.Development() {
			return fmt.Errorf("AGRICARE_JWT_SECRET is required outside development")
		}
		c.JWTSecret = devJWTSecret
	}
	return nil
}

// parseVaultKey accepts either 64 hex characters or a raw 32 byte string.
func parseVaultKey(raw string) ([]byte, error) {
	if len(raw) == 64 {
		if key, err := hex.DecodeString(raw); err == nil {
			return key, nil
		}
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	return nil, fmt.Errorf("AGRICARE_VAULT_KEY must be 32 bytes or 64 hex characters")
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
