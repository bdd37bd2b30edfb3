// Package main is the entry point for the Stellar scrobbler.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/edumarques81/stellar-scrobbler/internal/config"
	"github.com/edumarques81/stellar-scrobbler/internal/domain/discovery"
	"github.com/edumarques81/stellar-scrobbler/internal/infra/cache"
	"github.com/edumarques81/stellar-scrobbler/internal/transport/socketio"
	"github.com/edumarques81/stellar-scrobbler/internal/version"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to the TOML config file")
	envFile := flag.String("env", ".env", "Optional .env file loaded before the config")
	port := flag.Int("port", 0, "HTTP server port (overrides http.port)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	config.LoadDotEnv(*envFile)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configPath).Msg("Invalid configuration")
	}
	if *port > 0 {
		cfg.HTTP.Port = *port
	}
	setupLogging(cfg.Log.Level, *debug)

	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Scrobble reconciliation service")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Int("port", cfg.HTTP.Port).
		Str("cache", cfg.Cache.Path).
		Bool("mpd", cfg.MPD.Enabled).
		Int("sources", len(cfg.Sources)).
		Int("clients", len(cfg.Clients)).
		Msg("Configuration")

	db := cache.NewDB(cfg.Cache.Path)
	if err := db.Open(); err != nil {
		log.Fatal().Err(err).Str("path", cfg.Cache.Path).Msg("Failed to open cache database")
	}
	defer db.Close()
	store := discovery.NewCacheStore(cache.NewDAO(db))

	svc := discovery.NewService()

	socketServer, err := socketio.NewServer(svc)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()

	p := newPipeline(cfg, store, socketServer)
	if err := p.wire(svc); err != nil {
		log.Fatal().Err(err).Msg("Failed to build pipeline")
	}
	defer p.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := svc.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Discovery service stopped")
		}
	}()

	addr := net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      corsMiddleware(cfg.HTTP.AllowOrigin, newMux(svc, db.GetStats, socketServer)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")
		cancel()
		svc.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}

// setupLogging sets the global level from the config, forced to debug by the flag.
func setupLogging(level string, debug bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
}
