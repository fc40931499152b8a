// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	osignal "os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/warmline/warmline/internal/api"
	"github.com/warmline/warmline/internal/bridge"
	"github.com/warmline/warmline/internal/cleanup"
	"github.com/warmline/warmline/internal/config"
	"github.com/warmline/warmline/internal/log"
	"github.com/warmline/warmline/internal/mediaroom"
	"github.com/warmline/warmline/internal/session"
	"github.com/warmline/warmline/internal/signal"
	"github.com/warmline/warmline/internal/summarize"
	"github.com/warmline/warmline/internal/telephony"
	"github.com/warmline/warmline/internal/transfer"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the full config is loaded.
	log.Configure(log.Config{
		Level:   "info",
		Service: "warmline",
		Version: version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := osignal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*configPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	// Re-configure with the loaded level.
	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: "warmline",
		Version: version,
	})

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting warmline")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "startup.redis_failed").
			Str("addr", cfg.RedisAddr).
			Msg("redis is unreachable")
	}

	rooms := mediaroom.New(cfg.MediaRoomURL, cfg.MediaRoomAPIKey)
	phones := telephony.New(cfg.TelephonyURL, cfg.TelephonyAPIKey, cfg.TelephonyCallerID, cfg.CredentialTTL)
	summarizer := summarize.New(summarize.Config{
		APIKey:  cfg.SummarizerAPIKey,
		BaseURL: cfg.SummarizerBaseURL,
		Model:   cfg.SummarizerModel,
		Timeout: cfg.SummarizerTimeout,
	})

	registry := session.NewRegistry(rdb, rooms)
	channel := signal.NewChannel(rdb)
	machine := transfer.NewMachine(transfer.Config{SignalTTL: cfg.SignalTTL},
		registry, rooms, phones, summarizer, channel)
	coordinator := cleanup.NewCoordinator(channel, cfg.SignalTTL)

	registrar := bridge.NewHTTPRegistrar(cfg.TelephonyURL, cfg.TelephonyAPIKey)
	bridges := bridge.NewController(bridge.Config{
		RetryBackoff:    cfg.RetryBackoff,
		RestartBackoff:  cfg.RestartBackoff,
		RefreshInterval: cfg.CredentialRefresh,
	}, phones, registrar, phones)

	server := api.NewServer(api.Config{
		RateLimitRequests:  cfg.RateLimitRPS,
		RateLimitWindow:    time.Minute,
		RateLimitBurst:     cfg.RateLimitBurst,
		SignalPollInterval: cfg.SignalPollInterval,
	}, registry, machine, bridges, channel, rooms, coordinator)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info().Str("event", "shutdown.draining").Msg("draining http server")
		return httpServer.Shutdown(drainCtx)
	})

	// Consultation watchdog: disabled unless a timeout is configured.
	if cfg.ConsultationTimeout > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.ConsultationTimeout / 4)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					machine.SweepStale(gctx, cfg.ConsultationTimeout)
				}
			}
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Str("event", "shutdown.error").Msg("daemon exited with error")
	}
	logger.Info().Str("event", "shutdown.complete").Msg("warmline stopped")
}
