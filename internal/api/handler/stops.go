package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/lepakdriver/lepakdriver/internal/api/models"
	"github.com/lepakdriver/lepakdriver/internal/api/response"
	"github.com/lepakdriver/lepakdriver/internal/stops"
)

const (
	defaultSearchLimit = 5
	maxSearchLimit     = 20
	maxQueryLength     = 200
)

// StopsHandler serves stop search over the local catalog.
type StopsHandler struct {
	catalog *stops.Catalog
	matcher *stops.Matcher
}

// NewStopsHandler creates a StopsHandler.
func NewStopsHandler(catalog *stops.Catalog, matcher *stops.Matcher) *StopsHandler {
	return &StopsHandler{catalog: catalog, matcher: matcher}
}

// Search handles GET /v1/stops:search?q=&limit=.
func (h *StopsHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		response.BadRequest(w, r, "q is required", []models.FieldError{
			{Field: "q", Message: "is required", Code: "required"},
		})
		return
	}
	if len(query) > maxQueryLength {
		response.BadRequest(w, r, "q is too long", []models.FieldError{
			{Field: "q", Message: "must be at most 200 characters", Code: "max"},
		})
		return
	}

	limit := defaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			response.BadRequest(w, r, "limit must be between 1 and 20", []models.FieldError{
				{Field: "limit", Message: "must be between 1 and 20", Code: "range"},
			})
			return
		}
		limit = n
	}

	if h.catalog == nil || h.catalog.Len() == 0 {
		response.ServiceUnavailable(w, r, "bus stop catalog is not loaded", 0)
		return
	}

	matches := h.matcher.FindMatches(query, limit)
	items := make([]models.StopCandidate, 0, len(matches))
	for _, m := range matches {
		items = append(items, models.StopCandidate{
			Code:        m.Stop.Code,
			RoadName:    m.Stop.RoadName,
			Description: m.Stop.Description,
			Score:       m.Score,
			Reason:      m.Reason,
		})
	}

	response.JSON(w, r, http.StatusOK, models.StopSearchResponse{Query: query, Items: items})
}
