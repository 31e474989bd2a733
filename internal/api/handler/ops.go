package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/lepakdriver/lepakdriver/internal/api/models"
	"github.com/lepakdriver/lepakdriver/internal/api/response"
	"github.com/lepakdriver/lepakdriver/internal/provider/resilience"
	"github.com/lepakdriver/lepakdriver/internal/transit"
)

// CacheReporter exposes transit cache statistics. *transit.Service
// implements it.
type CacheReporter interface {
	CacheStats() transit.CacheStats
}

// OpsConfig holds the collaborators of OpsHandler. All are optional.
type OpsConfig struct {
	Version   string
	BuildTime string

	Providers *resilience.Registry
	Cache     CacheReporter

	// CatalogSize reports the number of stops loaded.
	CatalogSize func() int

	Now func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health, the liveness probe.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Now()),
		Details: map[string]any{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// SystemStatus handles GET /v1/ops/status. An open circuit degrades the
// service; an empty stop catalog fails it because location lookups cannot
// work. The status code is 200 unless the service failed.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.cfg.Now()),
		Subsystems: []models.SubsystemStatus{},
		Providers:  []models.ProviderStatus{},
	}

	if h.cfg.CatalogSize != nil {
		sub := models.SubsystemStatus{Name: "stop-catalog", Status: models.HealthStatusOK}
		n := h.cfg.CatalogSize()
		detail := strconv.Itoa(n) + " stops loaded"
		sub.Detail = &detail
		if n == 0 {
			sub.Status = models.HealthStatusFail
			status.Status = models.HealthStatusFail
		}
		status.Subsystems = append(status.Subsystems, sub)
	}

	if h.cfg.Providers != nil {
		for _, ph := range h.cfg.Providers.GetAllHealth() {
			ps := providerStatus(ph)
			if ps.Status != models.HealthStatusOK && status.Status == models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
			status.Providers = append(status.Providers, ps)
		}
	}

	if h.cfg.Cache != nil {
		stats := h.cfg.Cache.CacheStats()
		status.Cache = &models.CacheStatus{
			ArrivalEntries: stats.ArrivalCacheEntries,
			CarparksCached: stats.HasCarparkCache,
			CarparksFresh:  stats.CarparkCacheFresh,
			CarparkCount:   stats.CarparkCount,
		}
	}

	code := http.StatusOK
	if status.Status == models.HealthStatusFail {
		code = http.StatusServiceUnavailable
	}
	response.JSON(w, r, code, status)
}

func providerStatus(ph *resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:     ph.Name,
		Status:       models.HealthStatusOK,
		CircuitState: ph.CircuitState.String(),
		Transitions:  ph.Transitions,
	}
	switch {
	case ph.IsUnhealthy():
		ps.Status = models.HealthStatusFail
	case ph.IsDegraded():
		ps.Status = models.HealthStatusDegraded
	}
	if ph.LastSuccessAt != nil {
		ts := models.Timestamp(*ph.LastSuccessAt)
		ps.LastSuccessAt = &ts
	}
	if ph.LastFailureAt != nil {
		ts := models.Timestamp(*ph.LastFailureAt)
		ps.LastFailureAt = &ts
	}
	if ph.LastError != "" {
		msg := ph.LastError
		ps.Message = &msg
	}
	return ps
}
