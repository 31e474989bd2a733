// Package metrics exposes Prometheus counters and histograms for the assistant.
// All Record methods are safe to call on a nil *Collector.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Collector owns a private Prometheus registry.
type Collector struct {
	reg *prometheus.Registry

	GatewayRequests *prometheus.CounterVec // endpoint, outcome
	GatewayDuration *prometheus.HistogramVec
	RateLimitWait   prometheus.Histogram

	CacheLookups *prometheus.CounterVec // cache, result: hit|miss

	ToolCalls *prometheus.CounterVec // tool, outcome

	ModelCalls  *prometheus.CounterVec // pass, outcome
	ModelTokens prometheus.Counter

	Turns        *prometheus.CounterVec // outcome: ok|failed
	TurnDuration prometheus.Histogram

	EventsPublished *prometheus.CounterVec // outcome
}

// NewCollector creates a collector with all metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		GatewayRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lepak_gateway_requests_total",
			Help: "LTA DataMall requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		GatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lepak_gateway_request_duration_seconds",
			Help:    "LTA DataMall request duration, rate-limit wait included.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"endpoint"}),
		RateLimitWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lepak_rate_limit_wait_seconds",
			Help:    "Time spent blocked at the outbound rate-limit gate.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lepak_cache_lookups_total",
			Help: "Transit cache lookups by cache and result.",
		}, []string{"cache", "result"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lepak_tool_calls_total",
			Help: "Tool invocations by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		ModelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lepak_model_calls_total",
			Help: "Language model calls by pass (first|second) and outcome.",
		}, []string{"pass", "outcome"}),
		ModelTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lepak_model_tokens_total",
			Help: "Total tokens reported by the language model.",
		}),
		Turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lepak_turns_total",
			Help: "Handled user messages by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lepak_turn_duration_seconds",
			Help:    "End-to-end message handling duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lepak_events_published_total",
			Help: "Turn events published to NATS by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		c.GatewayRequests, c.GatewayDuration, c.RateLimitWait,
		c.CacheLookups, c.ToolCalls,
		c.ModelCalls, c.ModelTokens,
		c.Turns, c.TurnDuration,
		c.EventsPublished,
	)

	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// RecordGatewayRequest counts one gateway call.
func (c *Collector) RecordGatewayRequest(endpoint, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.GatewayRequests.WithLabelValues(endpoint, outcome).Inc()
	c.GatewayDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

// ObserveRateLimitWait records time blocked at the rate-limit gate.
func (c *Collector) ObserveRateLimitWait(d time.Duration) {
	if c == nil {
		return
	}
	c.RateLimitWait.Observe(d.Seconds())
}

// RecordCacheLookup counts a cache hit or miss.
func (c *Collector) RecordCacheLookup(cache string, hit bool) {
	if c == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.CacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordToolCall counts one tool dispatch.
func (c *Collector) RecordToolCall(tool, outcome string) {
	if c == nil {
		return
	}
	c.ToolCalls.WithLabelValues(tool, outcome).Inc()
}

// RecordModelCall counts one language model call and its token usage.
func (c *Collector) RecordModelCall(pass, outcome string, tokens int) {
	if c == nil {
		return
	}
	c.ModelCalls.WithLabelValues(pass, outcome).Inc()
	if tokens > 0 {
		c.ModelTokens.Add(float64(tokens))
	}
}

// RecordTurn counts one handled message.
func (c *Collector) RecordTurn(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Turns.WithLabelValues(outcome).Inc()
	c.TurnDuration.Observe(d.Seconds())
}

// RecordEventPublished counts one NATS publish attempt.
func (c *Collector) RecordEventPublished(outcome string) {
	if c == nil {
		return
	}
	c.EventsPublished.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, logger zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	logger.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}
