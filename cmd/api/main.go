// Package main provides the entrypoint for the Lepak Driver chat API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lepakdriver/lepakdriver/internal/api"
	"github.com/lepakdriver/lepakdriver/internal/api/middleware"
	"github.com/lepakdriver/lepakdriver/internal/assistant"
	"github.com/lepakdriver/lepakdriver/internal/auth"
	"github.com/lepakdriver/lepakdriver/internal/config"
	"github.com/lepakdriver/lepakdriver/internal/conversation"
	"github.com/lepakdriver/lepakdriver/internal/database"
	"github.com/lepakdriver/lepakdriver/internal/events"
	"github.com/lepakdriver/lepakdriver/internal/llm/openai"
	"github.com/lepakdriver/lepakdriver/internal/metrics"
	"github.com/lepakdriver/lepakdriver/internal/provider/resilience"
	"github.com/lepakdriver/lepakdriver/internal/stops"
	"github.com/lepakdriver/lepakdriver/internal/telemetry"
	"github.com/lepakdriver/lepakdriver/internal/tools"
	"github.com/lepakdriver/lepakdriver/internal/transit"
	"github.com/lepakdriver/lepakdriver/internal/transit/lta"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "lepakdriver-api"

	// Setup structured logging
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
	if err := cfg.RequireSecrets(); err != nil {
		log.Fatal().Err(err).Msg("missing configuration")
	}

	level, err := zerolog.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.App.Env).
		Msg("starting Lepak Driver API")

	// Initialize OpenTelemetry
	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.App.Env,
		OTLPEndpoint:   cfg.App.OTelEndpoint,
		Enabled:        cfg.App.OTelEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.App.OTelEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.App.OTelEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}

	collector := metrics.NewCollector()
	var metricsServer *http.Server
	if cfg.App.MetricsAddr != "" {
		metricsServer = collector.Serve(cfg.App.MetricsAddr, log)
	}

	providers := resilience.NewRegistry()

	// LTA gateway: one limiter shared by both endpoints, retries included
	ltaLimiter := resilience.NewRateLimiter(resilience.RateLimiterConfig{
		RequestsPerMinute: cfg.LTA.RequestsPerMinute,
		OnWait:            collector.ObserveRateLimitWait,
	})
	ltaHTTP := resilience.DefaultClientConfig(lta.ProviderName)
	ltaHTTP.Timeout = cfg.LTA.Timeout
	ltaHTTP.Limiter = ltaLimiter
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
		Provider:        ltaClient,
		Logger:          log,
		Metrics:         collector,
		ArrivalTTL:      cfg.Cache.ArrivalTTL,
		CarparkTTL:      cfg.Cache.CarparkTTL,
		StaleIfErrorTTL: cfg.Cache.StaleIfErrorTTL,
	})
	log.Info().Int("rate_limit_per_minute", cfg.LTA.RequestsPerMinute).Msg("transit service initialized")

	catalog := stops.LoadCatalog(cfg.Catalog.Path, log)
	matcher := stops.NewMatcher(catalog)

	toolRegistry := tools.NewRegistry(tools.RegistryConfig{Logger: log, Metrics: collector})
	tools.RegisterTransitTools(toolRegistry, tools.Deps{
		Transit:  transitService,
		Matcher:  matcher,
		Location: cfg.Location(),
	})

	modelHTTP := resilience.DefaultClientConfig(openai.ProviderName)
	modelHTTP.Timeout = 60 * time.Second
	modelHTTP.MaxRetries = 1
	modelHTTP.Registry = providers
	modelHTTP.CircuitBreaker.Logger = log

	model := openai.NewClient(openai.ClientConfig{
		APIKey:     cfg.Model.APIKey,
		BaseURL:    cfg.Model.BaseURL,
		Model:      cfg.Model.Name,
		HTTPClient: resilience.NewClient(modelHTTP),
		Logger:     log,
	})
	log.Info().Strs("providers", providers.Names()).Str("model", model.Name()).Msg("upstream clients ready")

	store, closeStore, err := conversation.Open(ctx, conversation.OpenConfig{
		Backend:       cfg.Conversations.Backend,
		Dir:           cfg.Conversations.Dir,
		RedisURL:      cfg.Conversations.RedisURL,
		Database:      database.ConfigFromEnv(),
		RetentionDays: cfg.Conversations.RetentionDays,
		Logger:        log,
	})
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Conversations.Backend).Msg("failed to open conversation store")
	}
	defer closeStore()
	log.Info().Str("backend", cfg.Conversations.Backend).Msg("conversation store opened")

	conversations := conversation.NewService(conversation.ServiceConfig{
		Store:         store,
		Logger:        log,
		MaxTurns:      cfg.Conversations.MaxTurns,
		RetentionDays: cfg.Conversations.RetentionDays,
		Location:      cfg.Location(),
	})

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.NATSURL != "" {
		natsPublisher, natsErr := events.NewNATSPublisher(events.NATSConfig{
			URL:           cfg.Events.NATSURL,
			SubjectPrefix: cfg.Events.SubjectPrefix,
			Logger:        log,
			Metrics:       collector,
		})
		if natsErr != nil {
			log.Warn().Err(natsErr).Msg("turn events disabled")
		} else {
			publisher = natsPublisher
		}
	}
	defer publisher.Close()

	markup, err := assistant.ParseMarkup(cfg.Reply.Markup)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid reply markup")
	}

	bot := assistant.New(assistant.Config{
		Model:         model,
		Tools:         toolRegistry,
		Conversations: conversations,
		Events:        publisher,
		Metrics:       collector,
		Logger:        log,
		SystemPrompt:  assistant.LoadSystemPrompt(cfg.Model.SystemPromptFile, log),
		Temperature:   cfg.Model.Temperature,
		MaxTokens:     cfg.Model.MaxTokens,
		Markup:        markup,
	})

	var verifier middleware.TokenVerifier
	if cfg.Auth.Enabled {
		verifier = auth.NewJWTService(auth.JWTConfig{SigningKey: cfg.Auth.SigningKey})
		log.Info().Msg("bearer auth enabled")
	} else {
		log.Warn().Msg("bearer auth disabled - clients name their own user id")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:               Version,
		BuildTime:             BuildTime,
		ServiceName:           serviceName,
		Logger:                log,
		Metrics:               httpMetrics,
		Chatter:               bot,
		Catalog:               catalog,
		Matcher:               matcher,
		Providers:             providers,
		Cache:                 transitService,
		Verifier:              verifier,
		ChatRequestsPerMinute: cfg.App.UserRequestsPerMinute,
	})

	// Chat turns wait on the model and the rate-limited gateway.
	server := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.App.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		_ = metricsServer.Shutdown(ctx)
	}
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}
