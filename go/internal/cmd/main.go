package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mcdev12/multigolf/go/internal/config"
	"github.com/mcdev12/multigolf/go/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Console logging until the configured sink is known
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up logging")
	}
	defer logCloser.Close()

	services, err := setupServices(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up services")
	}
	server := setupServer(cfg, services)

	log.Info().
		Str("addr", server.Addr).
		Dur("session_expiry", cfg.SessionExpiry()).
		Dur("reaper_interval", cfg.ReaperInterval).
		Bool("nats_bridge", cfg.NATS.URL != "").
		Msg("starting multigolf relay")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Gateway service (connection manager and optional NATS bridge)
	g.Go(func() error {
		return services.Gateway.Start(gctx)
	})

	// Expired session reaper
	g.Go(func() error {
		services.App.RunReaper(gctx, cfg.ReaperInterval)
		return nil
	})

	// HTTP server
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown failed")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("multigolf relay stopped with error")
		logCloser.Close()
		os.Exit(1)
	}
	log.Info().Msg("multigolf relay shutdown complete")
}
