// Package main provides the entrypoint for the Lepak Driver background worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lepakdriver/lepakdriver/internal/config"
	"github.com/lepakdriver/lepakdriver/internal/conversation"
	"github.com/lepakdriver/lepakdriver/internal/database"
	"github.com/lepakdriver/lepakdriver/internal/metrics"
	"github.com/lepakdriver/lepakdriver/internal/provider/resilience"
	"github.com/lepakdriver/lepakdriver/internal/transit"
	"github.com/lepakdriver/lepakdriver/internal/transit/lta"
	"github.com/lepakdriver/lepakdriver/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "lepakdriver-worker"

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if cfg.LTA.APIKey == "" {
		log.Fatal().Msg("missing configuration: LTA_API_KEY")
	}
	if cfg.Worker.ProjectID == "" {
		log.Fatal().Msg("missing configuration: PUBSUB_PROJECT_ID")
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().Str("build_time", BuildTime).Msg("starting Lepak Driver worker")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector()
	providers := resilience.NewRegistry()

	ltaHTTP := resilience.DefaultClientConfig(lta.ProviderName)
	ltaHTTP.Timeout = cfg.LTA.Timeout
	ltaHTTP.Limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
		RequestsPerMinute: cfg.LTA.RequestsPerMinute,
		OnWait:            collector.ObserveRateLimitWait,
	})
	ltaHTTP.Registry = providers
	ltaHTTP.CircuitBreaker.Logger = log

	ltaClient := lta.NewClient(lta.ClientConfig{
		APIKey:         cfg.LTA.APIKey,
		BaseURL:        cfg.LTA.BaseURL,
		BusArrivalPath: cfg.LTA.BusArrivalPath,
		CarparkPath:    cfg.LTA.CarparkPath,
		HTTPClient:     resilience.NewClient(ltaHTTP),
		Metrics:        collector,
		Logger:         log,
	})
	transitService := transit.NewService(transit.ServiceConfig{
		Provider:   ltaClient,
		Logger:     log,
		Metrics:    collector,
		CarparkTTL: cfg.Cache.CarparkTTL,
	})

	dbCfg := database.ConfigFromEnv()
	dbCfg.ApplicationName += "-worker"

	store, closeStore, err := conversation.Open(ctx, conversation.OpenConfig{
		Backend:       cfg.Conversations.Backend,
		Dir:           cfg.Conversations.Dir,
		RedisURL:      cfg.Conversations.RedisURL,
		Database:      dbCfg,
		RetentionDays: cfg.Conversations.RetentionDays,
		Logger:        log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open conversation store")
	}
	defer closeStore()

	conversations := conversation.NewService(conversation.ServiceConfig{
		Store:         store,
		Logger:        log,
		MaxTurns:      cfg.Conversations.MaxTurns,
		RetentionDays: cfg.Conversations.RetentionDays,
		Location:      cfg.Location(),
		PurgeInterval: -1,
	})

	runner := worker.NewRunner(worker.RunnerConfig{
		Config:        worker.DefaultJobsConfig(),
		Logger:        log,
		Conversations: conversations,
		Carparks:      transitService,
		Upstream:      ltaClient,
	})

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        cfg.Worker.ProjectID,
		SubscriptionName: cfg.Worker.SubscriptionID,
		Jobs:             runner,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub handler")
	}
	defer func() {
		if closeErr := handler.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close pubsub client")
		}
	}()

	// Worker also exposes a health endpoint for Cloud Run
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "healthy",
			"version": Version,
			"jobs":    runner.MetricsSnapshot(),
		})
	})
	mux.Handle("/metrics", collector.Handler())

	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.App.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server error")
		}
	}()

	go func() {
		if err := handler.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("pubsub receive stopped")
			cancel()
		}
	}()

	// Wait for interrupt signal or a dead subscription
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
