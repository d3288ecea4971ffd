package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("PollInterval = %v, want 2s", cfg.PollInterval)
	}
	if cfg.SessionRetention != 0 {
		t.Fatalf("SessionRetention = %v, want disabled", cfg.SessionRetention)
	}
	if got := cfg.ResolvedStoreBackend(); got != "memory" {
		t.Fatalf("ResolvedStoreBackend() = %q, want memory", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODESTUDIO_BIND_ADDR", ":9191")
	t.Setenv("CODESTUDIO_PUBLIC_BASE_URL", "https://studio.example.com/")
	t.Setenv("CODESTUDIO_REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CODESTUDIO_SESSION_RETENTION", "30m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9191" {
		t.Fatalf("BindAddr = %q, want :9191", cfg.BindAddr)
	}
	if cfg.PublicBaseURL != "https://studio.example.com" {
		t.Fatalf("PublicBaseURL = %q, want trailing slash trimmed", cfg.PublicBaseURL)
	}
	if cfg.SessionRetention != 30*time.Minute {
		t.Fatalf("SessionRetention = %v, want 30m", cfg.SessionRetention)
	}
	if got := cfg.ResolvedStoreBackend(); got != "redis" {
		t.Fatalf("ResolvedStoreBackend() = %q, want redis", got)
	}
}

func TestLoadRejectsBackendWithoutURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("CODESTUDIO_STORE_BACKEND", "postgres")

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for postgres backend without database url")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.StoreBackend = "cassandra"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected validation error for unknown backend")
	}
}

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"CODESTUDIO_BIND_ADDR",
		"CODESTUDIO_SHUTDOWN_TIMEOUT",
		"CODESTUDIO_METRICS_NAMESPACE",
		"CODESTUDIO_LOG_LEVEL",
		"CODESTUDIO_LOG_FORMAT",
		"CODESTUDIO_PUBLIC_BASE_URL",
		"CODESTUDIO_ALLOW_ANY_ORIGIN",
		"CODESTUDIO_JWT_SECRET",
		"CODESTUDIO_TOKEN_TTL",
		"CODESTUDIO_DEV_TOKEN_ISSUING",
		"CODESTUDIO_STORE_BACKEND",
		"CODESTUDIO_DATABASE_URL",
		"CODESTUDIO_REDIS_URL",
		"CODESTUDIO_MONGO_URI",
		"CODESTUDIO_MONGO_DATABASE",
		"CODESTUDIO_STORE_TIMEOUT",
		"CODESTUDIO_SESSION_RETENTION",
		"CODESTUDIO_REAP_INTERVAL",
		"CODESTUDIO_SIGNAL_SEND_BUFFER",
		"CODESTUDIO_SIGNAL_MAX_MESSAGE_BYTES",
		"CODESTUDIO_POLL_INTERVAL",
		"CODESTUDIO_HTTP_CLIENT_TIMEOUT",
	}
	for _, key := range keys {
		// Setenv registers the restore; Unsetenv makes the key truly absent for fig.
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
}
