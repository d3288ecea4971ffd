package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ent0n29/codestudio/internal/auth"
	"github.com/ent0n29/codestudio/internal/config"
	"github.com/ent0n29/codestudio/internal/httpapi"
	"github.com/ent0n29/codestudio/internal/logging"
	"github.com/ent0n29/codestudio/internal/observability"
	"github.com/ent0n29/codestudio/internal/session"
	"github.com/ent0n29/codestudio/internal/signaling"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Manager
	Hub      *signaling.Hub
	Tokens   *auth.Service
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to close relay connections and the store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	mode := cfg.ResolvedStoreBackend()
	backend, err := session.NewBackend(ctx, session.BackendConfig{
		Mode:          mode,
		DatabaseURL:   cfg.DatabaseURL,
		RedisURL:      cfg.RedisURL,
		MongoURI:      cfg.MongoURI,
		MongoDatabase: cfg.MongoDatabase,
	})
	if err != nil {
		return nil, fmt.Errorf("session store init failed: %w", err)
	}
	log.Info().Str("store_backend", backend.Mode()).Msg("session store ready")

	sessions := session.NewManager(backend)
	sessions.SetOpTimeout(cfg.StoreTimeout)
	sessions.SetRetention(cfg.SessionRetention)
	sessions.SetOpObserver(func(op string, d time.Duration) {
		metrics.ObserveStoreOp(op, float64(d.Microseconds())/1000)
	})
	sessions.SetReapHook(func(s *session.Session) {
		metrics.ObserveSessionEvent("reaped")
		log.Info().Str("session_id", s.ID).Str("status", string(s.Status)).Msg("session reaped")
		if n, err := sessions.ActiveCount(context.Background()); err == nil {
			metrics.SetActiveSessions(n)
		}
	})

	secret := cfg.JWTSecret
	if secret == "" {
		secret, err = auth.RandomSecret()
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("generate token secret: %w", err)
		}
		log.Warn().Msg("CODESTUDIO_JWT_SECRET not set; tokens will not survive a restart")
	}
	tokens := auth.NewService(secret, cfg.TokenTTL)

	hub := signaling.NewHub(logging.Component(log, "signaling"), metrics, signaling.Options{
		SendBuffer:      cfg.SignalSendBuffer,
		MaxMessageBytes: cfg.SignalMaxMessageBytes,
	})

	api := httpapi.New(cfg, sessions, tokens, hub, metrics, logging.Component(log, "httpapi"))

	cleanup := func() error {
		hub.Close()
		if err := backend.Close(); err != nil {
			return fmt.Errorf("close %s store: %w", mode, err)
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Hub:      hub,
		Tokens:   tokens,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
