package session

import (
	"context"
	"fmt"
)

// BackendConfig selects and addresses a Backend.
type BackendConfig struct {
	Mode          string
	DatabaseURL   string
	RedisURL      string
	MongoURI      string
	MongoDatabase string
}

// NewBackend opens the configured backend; "memory" or an empty mode keeps
// sessions in process.
func NewBackend(ctx context.Context, cfg BackendConfig) (Backend, error) {
	switch cfg.Mode {
	case "", "memory":
		return NewInMemoryBackend(), nil
	case "postgres":
		return NewPostgresBackend(ctx, cfg.DatabaseURL)
	case "redis":
		return NewRedisBackend(ctx, cfg.RedisURL)
	case "mongo":
		db := cfg.MongoDatabase
		if db == "" {
			db = "codestudio"
		}
		return NewMongoBackend(ctx, cfg.MongoURI, db)
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Mode)
	}
}
