package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/ent0n29/codestudio/internal/app"
	"github.com/ent0n29/codestudio/internal/config"
	"github.com/ent0n29/codestudio/internal/logging"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml, json or toml)")
	addr := flag.String("addr", "", "listen address, overrides bind_addr")
	envFile := flag.String("env-file", ".env", "dotenv file loaded before the environment is read")
	flag.Parse()

	boot := logging.New("info", "console")
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		boot.Warn().Err(err).Str("file", *envFile).Msg("env file not loaded")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		boot.Fatal().Err(err).Msg("config error")
	}
	if *addr != "" {
		cfg.BindAddr = *addr
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()
	built, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Error().Err(err).Msg("cleanup failed")
		}
	}()

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()
	if cfg.SessionRetention > 0 {
		built.Sessions.StartReaper(runCtx, cfg.ReapInterval)
		log.Info().Dur("retention", cfg.SessionRetention).Dur("interval", cfg.ReapInterval).Msg("session reaper started")
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.BindAddr).Str("store_backend", built.Sessions.BackendMode()).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serveErr:
		log.Error().Err(err).Msg("listen error")
	}

	runCancel()
	// Relay connections are hijacked and not tracked by Shutdown.
	built.Hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
		_ = httpServer.Close()
	}

	log.Info().Msg("shutdown complete")
}
