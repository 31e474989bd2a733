// Package api provides the HTTP chat API for Lepak Driver.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/lepakdriver/lepakdriver/internal/api/handler"
	"github.com/lepakdriver/lepakdriver/internal/api/middleware"
	"github.com/lepakdriver/lepakdriver/internal/api/models"
	"github.com/lepakdriver/lepakdriver/internal/api/response"
	"github.com/lepakdriver/lepakdriver/internal/provider/resilience"
	"github.com/lepakdriver/lepakdriver/internal/stops"
)

// DefaultServiceName names the API in traces.
const DefaultServiceName = "lepakdriver-api"

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	ServiceName string
	Logger      zerolog.Logger
	Metrics     *middleware.Metrics

	// Chatter answers chat messages (required).
	Chatter handler.Chatter

	Catalog *stops.Catalog
	Matcher *stops.Matcher

	Providers *resilience.Registry
	Cache     handler.CacheReporter

	// Verifier enables bearer auth on the conversation endpoints. When nil
	// the client names the user in the request.
	Verifier middleware.TokenVerifier

	// ChatRequestsPerMinute limits chat requests per user.
	ChatRequestsPerMinute int
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = DefaultServiceName
	}

	// order matters: ids and spans first so every later log line carries them
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.NotFound(w, r, "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, r, models.NewMethodNotAllowed(middleware.GetRequestID(r.Context()),
			r.Method+" is not supported on "+r.URL.Path))
	})

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:     cfg.Version,
		BuildTime:   cfg.BuildTime,
		Providers:   cfg.Providers,
		Cache:       cfg.Cache,
		CatalogSize: catalogSize(cfg.Catalog),
	})
	chatHandler := handler.NewChatHandler(cfg.Chatter)
	stopsHandler := handler.NewStopsHandler(cfg.Catalog, cfg.Matcher)

	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Group(func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/help", chatHandler.Help)
			r.Get("/stops:search", stopsHandler.Search)
		})

		r.Group(func(r chi.Router) {
			if cfg.Verifier != nil {
				r.Use(middleware.Auth(cfg.Verifier))
			}
			r.Use(middleware.RateLimitByUser(middleware.ChatRateLimit(cfg.ChatRequestsPerMinute)))

			r.With(middleware.RequireJSON).Post("/chat", chatHandler.Chat)
			r.Delete("/conversations/today", chatHandler.ClearToday)
		})
	})

	return r
}

func catalogSize(c *stops.Catalog) func() int {
	if c == nil {
		return nil
	}
	return c.Len
}
