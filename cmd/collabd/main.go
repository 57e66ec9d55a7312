// Command collabd runs the collaborative project state coordinator: a
// per-project single-writer state machine reachable over HTTP and a
// persistent WebSocket surface, with durable snapshots and a relational
// project directory in SQLite.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/collabd/internal/config"
	"github.com/p-blackswan/collabd/internal/coord"
	"github.com/p-blackswan/collabd/internal/directory"
	"github.com/p-blackswan/collabd/internal/health"
	"github.com/p-blackswan/collabd/internal/metrics"
	"github.com/p-blackswan/collabd/internal/server"
	"github.com/p-blackswan/collabd/internal/snapshot"
	"github.com/p-blackswan/collabd/internal/store"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	log.Logger = logger

	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("db_path", cfg.DBPath).
		Msg("starting collabd")

	ds, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer ds.Close()

	mc := metrics.New()

	snaps := snapshot.NewSQLiteStore(ds, logger)
	hub := coord.NewHub(snaps, logger,
		coord.HubWithBroadcastDropped(mc.BroadcastDrops.Inc),
	)

	dir := directory.New(ds, logger)

	checker := health.NewChecker(logger)
	checker.Register("sqlite", func(ctx context.Context) health.Status {
		if err := ds.DB().PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	srv := server.New(server.Config{
		ListenAddr:  cfg.ListenAddr,
		CORSOrigins: cfg.CORSOrigins,
		TLSCert:     cfg.TLSCert,
		TLSKey:      cfg.TLSKey,
	}, hub, dir, checker, mc, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server error")
		}
	}

	if err := srv.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	hub.Stop()
	logger.Info().Msg("collabd stopped")
}
