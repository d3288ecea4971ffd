package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkyr/fig"
)

// EnvPrefix namespaces every environment override, e.g. CODESTUDIO_BIND_ADDR.
const EnvPrefix = "CODESTUDIO"

// Config contains all runtime settings for the collaboration service and its clients.
type Config struct {
	BindAddr         string        `fig:"bind_addr" default:":8080"`
	ShutdownTimeout  time.Duration `fig:"shutdown_timeout" default:"15s"`
	MetricsNamespace string        `fig:"metrics_namespace" default:"codestudio"`
	LogLevel         string        `fig:"log_level" default:"info"`
	LogFormat        string        `fig:"log_format" default:"json"`
	PublicBaseURL    string        `fig:"public_base_url" default:"http://localhost:8080"`

	AllowAnyOrigin bool `fig:"allow_any_origin"`

	JWTSecret       string        `fig:"jwt_secret"`
	TokenTTL        time.Duration `fig:"token_ttl" default:"24h"`
	DevTokenIssuing bool          `fig:"dev_token_issuing"`

	StoreBackend  string        `fig:"store_backend" default:"auto"`
	DatabaseURL   string        `fig:"database_url"`
	RedisURL      string        `fig:"redis_url"`
	MongoURI      string        `fig:"mongo_uri"`
	MongoDatabase string        `fig:"mongo_database" default:"codestudio"`
	StoreTimeout  time.Duration `fig:"store_timeout" default:"10s"`

	// 0 disables reaping; sessions then live until explicitly ended.
	SessionRetention time.Duration `fig:"session_retention"`
	ReapInterval     time.Duration `fig:"reap_interval" default:"1m"`

	SignalSendBuffer      int   `fig:"signal_send_buffer" default:"64"`
	SignalMaxMessageBytes int64 `fig:"signal_max_message_bytes" default:"65536"`

	PollInterval      time.Duration `fig:"poll_interval" default:"2s"`
	HTTPClientTimeout time.Duration `fig:"http_client_timeout" default:"10s"`
}

// Load reads an optional config file, then CODESTUDIO_* environment variables,
// then applies defaults.
func Load(path string) (Config, error) {
	var cfg Config
	opts := []fig.Option{fig.UseEnv(EnvPrefix)}
	if strings.TrimSpace(path) == "" {
		opts = append(opts, fig.IgnoreFile())
	} else {
		opts = append(opts, fig.File(filepath.Base(path)), fig.Dirs(filepath.Dir(path)))
	}
	if err := fig.Load(&cfg, opts...); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.MongoURI = strings.TrimSpace(c.MongoURI)
}

// Validate reports the first setting that cannot be used.
func (c Config) Validate() error {
	switch c.StoreBackend {
	case "auto", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("CODESTUDIO_DATABASE_URL is required for store_backend=postgres")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("CODESTUDIO_REDIS_URL is required for store_backend=redis")
		}
	case "mongo":
		if c.MongoURI == "" {
			return fmt.Errorf("CODESTUDIO_MONGO_URI is required for store_backend=mongo")
		}
	default:
		return fmt.Errorf("CODESTUDIO_STORE_BACKEND must be one of auto|memory|postgres|redis|mongo, got %q", c.StoreBackend)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("CODESTUDIO_LOG_FORMAT must be json or console, got %q", c.LogFormat)
	}
	if c.SessionRetention < 0 {
		return fmt.Errorf("CODESTUDIO_SESSION_RETENTION must be >= 0")
	}
	if c.SessionRetention > 0 && c.ReapInterval <= 0 {
		return fmt.Errorf("CODESTUDIO_REAP_INTERVAL must be positive when retention is enabled")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("CODESTUDIO_TOKEN_TTL must be positive")
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("CODESTUDIO_STORE_TIMEOUT must be positive")
	}
	if c.SignalSendBuffer <= 0 {
		return fmt.Errorf("CODESTUDIO_SIGNAL_SEND_BUFFER must be positive")
	}
	if c.SignalMaxMessageBytes < 1024 {
		return fmt.Errorf("CODESTUDIO_SIGNAL_MAX_MESSAGE_BYTES must be at least 1024")
	}
	if c.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("CODESTUDIO_POLL_INTERVAL must be at least 100ms")
	}
	return nil
}

// ResolvedStoreBackend maps "auto" onto the first backend with a configured URL.
func (c Config) ResolvedStoreBackend() string {
	if c.StoreBackend != "auto" && c.StoreBackend != "" {
		return c.StoreBackend
	}
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.RedisURL != "":
		return "redis"
	case c.MongoURI != "":
		return "mongo"
	default:
		return "memory"
	}
}
