package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadFrom_MemoryDefaults(t *testing.T) {
	c, err := LoadFrom(map[string]string{
		"APP_ENV":    "local",
		"JWT_SECRET": "secret",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Store.Driver != StoreMemory || c.CallUI.Driver != CallUINop {
		t.Fatalf("unexpected drivers %q %q", c.Store.Driver, c.CallUI.Driver)
	}
	if c.App.Port != 8080 || c.HTTPAddr() != ":8080" {
		t.Fatalf("unexpected port %d", c.App.Port)
	}
	if c.Auth.AccessTokenTTL != 15*time.Minute || c.CallUI.PresentTimeout != 10*time.Second {
		t.Fatalf("unexpected durations %v %v", c.Auth.AccessTokenTTL, c.CallUI.PresentTimeout)
	}
}

func TestLoadFrom_DriverConditionalRequirements(t *testing.T) {
	_, err := LoadFrom(map[string]string{
		"APP_ENV":       "dev",
		"JWT_SECRET":    "secret",
		"STORE_DRIVER":  "postgres",
		"CALLUI_DRIVER": "stream",
	})
	if err == nil {
		t.Fatalf("expected errors for missing postgres and redis settings")
	}
	for _, want := range []string{"DB_HOST", "DB_USER", "DB_NAME", "REDIS_HOST"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %s in %v", want, err)
		}
	}
}

func TestLoadFrom_RedisStore(t *testing.T) {
	c, err := LoadFrom(map[string]string{
		"APP_ENV":        "staging",
		"JWT_SECRET":     "secret",
		"STORE_DRIVER":   "Redis",
		"REDIS_HOST":     "cache",
		"REDIS_DB":       "2",
		"JWT_ACCESS_TTL": "5m",
	})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.RedisAddr() != "cache:6379" || c.Redis.DB != 2 || !c.NeedsRedis() {
		t.Fatalf("unexpected redis config %+v", c.Redis)
	}
	if c.Auth.AccessTokenTTL != 5*time.Minute {
		t.Fatalf("unexpected ttl %v", c.Auth.AccessTokenTTL)
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := Config{
		App:    AppConfig{Env: "production", Port: 8080},
		Store:  StoreConfig{Driver: StorePostgres},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callkit"},
		Auth:   AuthConfig{JWTSecret: "secret", JWTIssuer: "i", JWTAudience: "a"},
		CallUI: CallUIConfig{Driver: CallUINop, PresentTimeout: time.Second},
	}
	c.Normalize()
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_SSLMODE") {
		t.Fatalf("expected error for production without DB_SSLMODE, got %v", err)
	}
}

func TestValidate_ProductionRejectsMemoryStore(t *testing.T) {
	c := Config{
		App:    AppConfig{Env: "production", Port: 8080},
		Store:  StoreConfig{Driver: StoreMemory},
		Auth:   AuthConfig{JWTSecret: "secret", JWTIssuer: "i", JWTAudience: "a"},
		CallUI: CallUIConfig{Driver: CallUINop, PresentTimeout: time.Second},
	}
	c.Normalize()
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "STORE_DRIVER") {
		t.Fatalf("expected memory store rejected in production, got %v", err)
	}
}

func TestNormalize_LocalDefaultsSSLMode(t *testing.T) {
	c := Config{
		App:    AppConfig{Env: "local", Port: 8080},
		Store:  StoreConfig{Driver: StorePostgres},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callkit"},
		Auth:   AuthConfig{JWTSecret: "secret"},
		CallUI: CallUIConfig{Driver: CallUINop, PresentTimeout: time.Second},
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestLoad_ReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "APP_ENV=dev\nJWT_SECRET=from-file\nCALLUI_RINGTONE=chime\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("ENV_FILE", path)
	// godotenv.Load does not override variables that are already set, so
	// make sure these start out empty and are restored afterwards.
	for _, k := range []string{"APP_ENV", "JWT_SECRET", "CALLUI_RINGTONE"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Auth.JWTSecret != "from-file" || c.CallUI.Ringtone != "chime" {
		t.Fatalf("env file not applied: %+v", c)
	}
}

func TestValidate_RejectsNegativePool(t *testing.T) {
	c := Config{
		App:    AppConfig{Env: "local", Port: 8080},
		Store:  StoreConfig{Driver: StorePostgres},
		DB:     DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "callkit", MaxConns: -1},
		Auth:   AuthConfig{JWTSecret: "secret"},
		CallUI: CallUIConfig{Driver: CallUINop, PresentTimeout: time.Second},
	}
	c.Normalize()
	if err := c.Validate(); err == nil || !strings.Contains(err.Error(), "DB_MAX_CONNS") {
		t.Fatalf("expected DB_MAX_CONNS error, got %v", err)
	}
}
