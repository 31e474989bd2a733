package transit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lepakdriver/lepakdriver/internal/metrics"
)

// Provider defines the interface for bus arrival and carpark data providers.
// Anticipated failures are reported through the result's Failure field.
type Provider interface {
	// GetArrivals fetches live arrivals for a bus stop.
	GetArrivals(ctx context.Context, q ArrivalQuery) *ArrivalResult

	// GetCarparks fetches carpark availability narrowed by f.
	GetCarparks(ctx context.Context, f CarparkFilter) *CarparkResult

	// Name returns the provider name for logging.
	Name() string
}

// ServiceConfig holds configuration for the transit service.
type ServiceConfig struct {
	// Provider is the upstream data provider.
	Provider Provider

	// Logger for service operations.
	Logger zerolog.Logger

	// Metrics records cache hits and misses (optional).
	Metrics *metrics.Collector

	// ArrivalTTL is how long to cache arrival results (default: 20 seconds).
	// Arrival estimates move every few seconds upstream.
	ArrivalTTL time.Duration

	// CarparkTTL is how long to cache the full carpark list (default: 1 minute).
	CarparkTTL time.Duration

	// StaleIfErrorTTL allows serving stale data on provider failures (default: 5 minutes).
	StaleIfErrorTTL time.Duration
}

// Service provides arrival and carpark data with caching. It implements Provider.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	metrics         *metrics.Collector
	arrivalTTL      time.Duration
	carparkTTL      time.Duration
	staleIfErrorTTL time.Duration

	mu              sync.RWMutex
	arrivalCache    map[string]*cachedArrivals
	carparkCache    *cachedCarparks
	lastCleanup     time.Time
	cleanupInterval time.Duration
}

type cachedArrivals struct {
	data      *ArrivalResult
	fetchedAt time.Time
	expiresAt time.Time
}

type cachedCarparks struct {
	data      *CarparkResult
	fetchedAt time.Time
	expiresAt time.Time
}

// NewService creates a new transit service.
func NewService(cfg ServiceConfig) *Service {
	arrivalTTL := cfg.ArrivalTTL
	if arrivalTTL == 0 {
		arrivalTTL = 20 * time.Second
	}

	carparkTTL := cfg.CarparkTTL
	if carparkTTL == 0 {
		carparkTTL = time.Minute
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 5 * time.Minute
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		arrivalTTL:      arrivalTTL,
		carparkTTL:      carparkTTL,
		staleIfErrorTTL: staleIfErrorTTL,
		arrivalCache:    make(map[string]*cachedArrivals),
		cleanupInterval: 10 * time.Minute,
	}
}

// Name returns the underlying provider name.
func (s *Service) Name() string {
	return s.provider.Name()
}

// GetArrivals returns arrivals for a stop, from cache when fresh.
func (s *Service) GetArrivals(ctx context.Context, q ArrivalQuery) *ArrivalResult {
	key := q.CacheKey()

	s.mu.RLock()
	if cached, ok := s.arrivalCache[key]; ok && time.Now().Before(cached.expiresAt) {
		s.mu.RUnlock()
		s.metrics.RecordCacheLookup("arrivals", true)
		return cached.data
	}
	s.mu.RUnlock()

	s.metrics.RecordCacheLookup("arrivals", false)
	return s.fetchArrivals(ctx, q, key)
}

// GetCarparks returns carparks narrowed by f. The full list is cached and
// filtered on every call.
func (s *Service) GetCarparks(ctx context.Context, f CarparkFilter) *CarparkResult {
	s.mu.RLock()
	if s.carparkCache != nil && time.Now().Before(s.carparkCache.expiresAt) {
		data := s.carparkCache.data
		s.mu.RUnlock()
		s.metrics.RecordCacheLookup("carparks", true)
		return data.Filtered(f)
	}
	s.mu.RUnlock()

	s.metrics.RecordCacheLookup("carparks", false)
	return s.fetchCarparks(ctx).Filtered(f)
}

// RefreshCarparks forces a carpark fetch. The previous list stays available
// as stale data if the fetch fails.
func (s *Service) RefreshCarparks(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.carparkCache != nil {
		s.carparkCache.expiresAt = time.Time{}
	}
	s.mu.Unlock()

	result := s.fetchCarparks(ctx)
	if !result.OK() {
		return 0, fmt.Errorf("%w: %w", ErrProviderUnavailable, result.Failure)
	}
	return len(result.Carparks), nil
}

// fetchArrivals fetches from provider and updates cache.
func (s *Service) fetchArrivals(ctx context.Context, q ArrivalQuery, key string) *ArrivalResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check cache
	if cached, ok := s.arrivalCache[key]; ok && time.Now().Before(cached.expiresAt) {
		return cached.data
	}

	s.logger.Debug().
		Str("stop_code", q.StopCode).
		Str("service_no", q.ServiceNo).
		Str("provider", s.provider.Name()).
		Msg("fetching arrivals from provider")

	result := s.provider.GetArrivals(ctx, q)
	if !result.OK() {
		if cached, ok := s.arrivalCache[key]; ok {
			if time.Now().Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
				s.logger.Warn().
					Str("stop_code", q.StopCode).
					Str("error_kind", string(result.Failure.Kind)).
					Time("fetched_at", cached.fetchedAt).
					Msg("serving stale arrival data due to provider failure")
				return cached.data
			}
		}
		return result
	}

	now := time.Now()
	s.arrivalCache[key] = &cachedArrivals{
		data:      result,
		fetchedAt: now,
		expiresAt: now.Add(s.arrivalTTL),
	}

	// Periodic cleanup
	s.cleanupIfNeeded()

	return result
}

// fetchCarparks fetches the unfiltered list and updates cache.
func (s *Service) fetchCarparks(ctx context.Context) *CarparkResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check cache
	if s.carparkCache != nil && time.Now().Before(s.carparkCache.expiresAt) {
		return s.carparkCache.data
	}

	s.logger.Debug().
		Str("provider", s.provider.Name()).
		Msg("fetching carparks from provider")

	result := s.provider.GetCarparks(ctx, CarparkFilter{})
	if !result.OK() {
		if s.carparkCache != nil {
			if time.Now().Before(s.carparkCache.fetchedAt.Add(s.staleIfErrorTTL)) {
				s.logger.Warn().
					Str("error_kind", string(result.Failure.Kind)).
					Time("fetched_at", s.carparkCache.fetchedAt).
					Msg("serving stale carpark data due to provider failure")
				return s.carparkCache.data
			}
		}
		return result
	}

	now := time.Now()
	s.carparkCache = &cachedCarparks{
		data:      result,
		fetchedAt: now,
		expiresAt: now.Add(s.carparkTTL),
	}

	s.logger.Info().
		Int("carparks", len(result.Carparks)).
		Msg("carpark cache refreshed")

	return result
}

// cleanupIfNeeded removes arrival entries too old to serve even as stale data.
func (s *Service) cleanupIfNeeded() {
	now := time.Now()
	if now.Sub(s.lastCleanup) < s.cleanupInterval {
		return
	}

	s.lastCleanup = now
	expired := 0

	for key, cached := range s.arrivalCache {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.arrivalCache, key)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug().
			Int("expired_entries", expired).
			Msg("cleaned up expired arrival cache entries")
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arrivalCache = make(map[string]*cachedArrivals)
	s.carparkCache = nil
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	stats := CacheStats{
		Provider:            s.provider.Name(),
		ArrivalCacheEntries: len(s.arrivalCache),
	}

	if s.carparkCache != nil {
		stats.HasCarparkCache = true
		stats.CarparkCacheFresh = now.Before(s.carparkCache.expiresAt)
		stats.CarparkCount = len(s.carparkCache.data.Carparks)
	}

	return stats
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Provider            string
	ArrivalCacheEntries int
	HasCarparkCache     bool
	CarparkCacheFresh   bool
	CarparkCount        int
}
