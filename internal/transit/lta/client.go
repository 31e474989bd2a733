// Package lta implements the transit.Provider interface on top of LTA DataMall.
package lta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lepakdriver/lepakdriver/internal/metrics"
	"github.com/lepakdriver/lepakdriver/internal/provider/resilience"
	"github.com/lepakdriver/lepakdriver/internal/transit"
)

const (
	// ProviderName identifies this transit provider.
	ProviderName = "lta"

	// DefaultBaseURL is the LTA DataMall base URL.
	DefaultBaseURL = "https://datamall2.mytransport.sg/ltaodataservice"

	// DefaultBusArrivalPath is the bus arrival endpoint.
	DefaultBusArrivalPath = "/v3/BusArrival"

	// DefaultCarparkPath is the carpark availability endpoint.
	DefaultCarparkPath = "/CarParkAvailabilityv2"

	// DefaultRequestsPerMinute is the outbound budget shared by both endpoints.
	DefaultRequestsPerMinute = 60

	endpointBusArrival = "bus_arrival"
	endpointCarparks   = "carpark_availability"
)

// ClientConfig holds configuration for the LTA client.
type ClientConfig struct {
	// APIKey is the DataMall AccountKey (required).
	APIKey string

	// BaseURL is the API base URL (optional, defaults to DataMall).
	BaseURL string

	// BusArrivalPath and CarparkPath override the endpoint paths (optional).
	BusArrivalPath string
	CarparkPath    string

	// HTTPClient is the HTTP client to use (optional).
	// If nil, a resilient client is built that waits on RateLimiter before every attempt.
	// A caller-supplied client must carry its own limiter.
	HTTPClient *resilience.Client

	// RateLimiter gates the default HTTP client (optional).
	// If nil, one is created with DefaultRequestsPerMinute.
	RateLimiter *resilience.RateLimiter

	// Metrics records request outcomes (optional).
	Metrics *metrics.Collector

	// Now returns the current time (optional, used to compute minutes to arrival).
	Now func() time.Time

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is an LTA DataMall client for bus arrivals and carpark availability.
type Client struct {
	apiKey         string
	baseURL        string
	busArrivalPath string
	carparkPath    string
	httpClient     *resilience.Client
	metrics        *metrics.Collector
	now            func() time.Time
	logger         zerolog.Logger
}

// NewClient creates a new LTA client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	busArrivalPath := cfg.BusArrivalPath
	if busArrivalPath == "" {
		busArrivalPath = DefaultBusArrivalPath
	}

	carparkPath := cfg.CarparkPath
	if carparkPath == "" {
		carparkPath = DefaultCarparkPath
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		limiter := cfg.RateLimiter
		if limiter == nil {
			limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
				RequestsPerMinute: DefaultRequestsPerMinute,
			})
		}
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Limiter = limiter
		httpClient = resilience.NewClient(clientCfg)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		busArrivalPath: busArrivalPath,
		carparkPath:    carparkPath,
		httpClient:     httpClient,
		metrics:        cfg.Metrics,
		now:            now,
		logger:         cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// GetArrivals fetches live bus arrivals for a stop.
func (c *Client) GetArrivals(ctx context.Context, q transit.ArrivalQuery) *transit.ArrivalResult {
	params := url.Values{}
	params.Set("BusStopCode", q.StopCode)
	if q.ServiceNo != "" {
		params.Set("ServiceNo", q.ServiceNo)
	}

	subject := "bus stop " + q.StopCode

	var body arrivalResponse
	present := func() bool { return body.Services != nil }
	if f := c.get(ctx, endpointBusArrival, c.busArrivalPath, params, subject, &body, present); f != nil {
		return &transit.ArrivalResult{StopCode: q.StopCode, Timestamp: c.now(), Failure: f}
	}

	now := c.now()
	result := &transit.ArrivalResult{
		StopCode:  q.StopCode,
		Timestamp: now,
		Services:  make([]transit.ServiceArrival, 0, len(body.Services)),
	}

	for i := range body.Services {
		result.Services = append(result.Services, toServiceArrival(&body.Services[i], now))
	}

	c.logger.Debug().
		Str("stop_code", q.StopCode).
		Int("services", len(result.Services)).
		Msg("fetched bus arrivals")

	return result
}

// GetCarparks fetches carpark availability and narrows it by f.
func (c *Client) GetCarparks(ctx context.Context, f transit.CarparkFilter) *transit.CarparkResult {
	var body carparkResponse
	present := func() bool { return body.Value != nil }
	if failure := c.get(ctx, endpointCarparks, c.carparkPath, nil, "carpark availability", &body, present); failure != nil {
		return &transit.CarparkResult{Timestamp: c.now(), Failure: failure}
	}

	carparks := make([]transit.Carpark, 0, len(body.Value))
	for i := range body.Value {
		cp := toCarpark(&body.Value[i])
		if f.Matches(&cp) {
			carparks = append(carparks, cp)
		}
	}

	return &transit.CarparkResult{
		Timestamp: c.now(),
		Carparks:  carparks,
	}
}

// get performs one GET through the resilient client and decodes the JSON body
// into out. present reports whether the expected top-level field was in the body.
// Every anticipated failure is returned as a classified Failure.
func (c *Client) get(ctx context.Context, endpoint, path string, params url.Values, subject string, out any, present func() bool) *transit.Failure {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return &transit.Failure{Kind: transit.ErrorUnknown, Message: fmt.Sprintf("Unexpected error for %s: %v", subject, err)}
	}

	c.setHeaders(req)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		failure := classifyTransportError(err, subject)
		c.metrics.RecordGatewayRequest(endpoint, string(failure.Kind), duration)
		c.logger.Warn().Err(err).
			Str("endpoint", endpoint).
			Str("error_kind", string(failure.Kind)).
			Dur("duration", duration).
			Msg("LTA request failed")
		return failure
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("status", resp.StatusCode).
		Dur("duration", duration).
		Msg("LTA response")

	if failure := classifyStatus(resp.StatusCode, subject); failure != nil {
		c.metrics.RecordGatewayRequest(endpoint, string(failure.Kind), duration)
		return failure
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		c.metrics.RecordGatewayRequest(endpoint, string(transit.ErrorMalformedResponse), duration)
		return &transit.Failure{
			Kind:    transit.ErrorMalformedResponse,
			Message: fmt.Sprintf("Invalid JSON response for %s: %v", subject, err),
		}
	}

	if !present() {
		c.metrics.RecordGatewayRequest(endpoint, string(transit.ErrorMalformedResponse), duration)
		return &transit.Failure{
			Kind:    transit.ErrorMalformedResponse,
			Message: fmt.Sprintf("Invalid API response format for %s", subject),
		}
	}

	c.metrics.RecordGatewayRequest(endpoint, "ok", duration)
	return nil
}

// setHeaders sets common request headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("AccountKey", c.apiKey)
	req.Header.Set("Accept", "application/json")
}

// classifyStatus maps a non-2xx status to a Failure. Returns nil for 2xx.
func classifyStatus(status int, subject string) *transit.Failure {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return &transit.Failure{Kind: transit.ErrorAuthFailed, Message: "API authentication failed. Please check your API key."}
	case status == http.StatusTooManyRequests:
		return &transit.Failure{Kind: transit.ErrorRateLimited, Message: "API rate limit exceeded. Please wait before retrying."}
	case status == http.StatusNotFound:
		return &transit.Failure{Kind: transit.ErrorNotFound, Message: fmt.Sprintf("%s not found in API.", capitalize(subject))}
	default:
		return &transit.Failure{Kind: transit.ErrorAPI, Message: fmt.Sprintf("API request failed with status %d", status)}
	}
}

// classifyTransportError maps an error from the HTTP client to a Failure.
func classifyTransportError(err error, subject string) *transit.Failure {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return &transit.Failure{Kind: transit.ErrorAPI, Message: "LTA DataMall is temporarily unavailable. Please try again shortly."}
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &transit.Failure{Kind: transit.ErrorTimeout, Message: fmt.Sprintf("Request timeout for %s. Please try again.", subject)}
	}

	if errors.Is(err, context.Canceled) {
		return &transit.Failure{Kind: transit.ErrorUnknown, Message: fmt.Sprintf("Request for %s was cancelled.", subject)}
	}

	return &transit.Failure{Kind: transit.ErrorConnection, Message: fmt.Sprintf("Connection error for %s. Please check your internet connection.", subject)}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// toServiceArrival converts an LTA service entry to the domain model.
func toServiceArrival(s *ltaService, now time.Time) transit.ServiceArrival {
	return transit.ServiceArrival{
		ServiceNo: s.ServiceNo,
		Operator:  s.Operator,
		NextBuses: [3]transit.NextBus{
			toNextBus(s.NextBus, now),
			toNextBus(s.NextBus2, now),
			toNextBus(s.NextBus3, now),
		},
	}
}

// toNextBus converts one NextBus slot. An absent or empty slot is unavailable.
func toNextBus(b *ltaNextBus, now time.Time) transit.NextBus {
	if b == nil || b.isEmpty() {
		return transit.NextBus{Available: false}
	}

	next := transit.NextBus{
		Available:   true,
		Crowding:    mapLoad(b.Load),
		Feature:     b.Feature,
		VehicleType: b.Type,
	}

	if arrival, ok := parseArrival(b.EstimatedArrival); ok {
		minutes := MinutesUntil(arrival, now)
		next.EstimatedArrival = arrival
		next.MinutesToArrival = &minutes
	}

	return next
}

// parseArrival parses an ISO-8601 timestamp, keeping its own offset.
func parseArrival(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// MinutesUntil returns whole minutes from now to arrival, truncated toward zero.
func MinutesUntil(arrival, now time.Time) int {
	return int(arrival.Sub(now).Minutes())
}

// mapLoad maps LTA load codes to crowding levels.
func mapLoad(load string) transit.CrowdingLevel {
	switch strings.ToUpper(load) {
	case "SEA":
		return transit.CrowdingSeatsAvailable
	case "SDA":
		return transit.CrowdingStandingAvailable
	case "LSD":
		return transit.CrowdingLimitedStanding
	default:
		return transit.CrowdingUnknown
	}
}

// toCarpark converts an LTA carpark entry to the domain model.
func toCarpark(cp *ltaCarpark) transit.Carpark {
	return transit.Carpark{
		CarparkID:     cp.CarParkID,
		Area:          cp.Area,
		Development:   cp.Development,
		Location:      cp.Location,
		AvailableLots: cp.AvailableLots,
		LotType:       cp.LotType,
		Agency:        cp.Agency,
	}
}

// LTA API response structures.

type arrivalResponse struct {
	BusStopCode string       `json:"BusStopCode"`
	Services    []ltaService `json:"Services"`
}

type ltaService struct {
	ServiceNo string      `json:"ServiceNo"`
	Operator  string      `json:"Operator"`
	NextBus   *ltaNextBus `json:"NextBus"`
	NextBus2  *ltaNextBus `json:"NextBus2"`
	NextBus3  *ltaNextBus `json:"NextBus3"`
}

type ltaNextBus struct {
	OriginCode       string `json:"OriginCode"`
	DestinationCode  string `json:"DestinationCode"`
	EstimatedArrival string `json:"EstimatedArrival"`
	Latitude         string `json:"Latitude"`
	Longitude        string `json:"Longitude"`
	VisitNumber      string `json:"VisitNumber"`
	Load             string `json:"Load"`
	Feature          string `json:"Feature"`
	Type             string `json:"Type"`
}

func (b *ltaNextBus) isEmpty() bool {
	return b.EstimatedArrival == "" && b.Load == "" && b.Feature == "" && b.Type == "" &&
		b.OriginCode == "" && b.DestinationCode == ""
}

type carparkResponse struct {
	Value []ltaCarpark `json:"value"`
}

type ltaCarpark struct {
	CarParkID     string `json:"CarParkID"`
	Area          string `json:"Area"`
	Development   string `json:"Development"`
	Location      string `json:"Location"`
	AvailableLots int    `json:"AvailableLots"`
	LotType       string `json:"LotType"`
	Agency        string `json:"Agency"`
}
