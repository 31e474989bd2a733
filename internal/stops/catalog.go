// Package stops holds the bus stop catalog and the free-text stop matcher.
package stops

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// StopRecord is a canonical bus stop entry.
type StopRecord struct {
	Code        string `json:"BusStopCode"`
	RoadName    string `json:"RoadName"`
	Description string `json:"Description"`
}

// Catalog is an immutable, ordered collection of stops loaded at startup.
type Catalog struct {
	stops  []StopRecord
	byCode map[string]int
}

type catalogFile struct {
	BusStops []StopRecord `json:"bus_stops"`
}

// NewCatalog builds a catalog from records, preserving their order.
func NewCatalog(records []StopRecord) *Catalog {
	c := &Catalog{
		stops:  make([]StopRecord, len(records)),
		byCode: make(map[string]int, len(records)),
	}
	copy(c.stops, records)
	for i, s := range c.stops {
		if _, dup := c.byCode[s.Code]; !dup {
			c.byCode[s.Code] = i
		}
	}
	return c
}

// ParseCatalog decodes a {"bus_stops": [...]} document.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	var f catalogFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}
	if f.BusStops == nil {
		return nil, fmt.Errorf("decoding catalog: missing bus_stops")
	}
	return NewCatalog(f.BusStops), nil
}

// LoadCatalog reads the catalog at path. A missing or malformed file yields an
// empty catalog; the problem is logged, never returned.
func LoadCatalog(path string, logger zerolog.Logger) *Catalog {
	f, err := os.Open(path)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("bus stop catalog unavailable, matching disabled")
		return NewCatalog(nil)
	}
	defer f.Close()

	c, err := ParseCatalog(f)
	if err != nil {
		logger.Error().Err(err).Str("path", path).Msg("bus stop catalog malformed, matching disabled")
		return NewCatalog(nil)
	}

	logger.Info().Int("stops", c.Len()).Str("path", path).Msg("loaded bus stop catalog")
	return c
}

// Len returns the number of stops.
func (c *Catalog) Len() int {
	return len(c.stops)
}

// Stops returns the stops in catalog order. The slice must not be modified.
func (c *Catalog) Stops() []StopRecord {
	return c.stops
}

// Lookup finds a stop by its exact code.
func (c *Catalog) Lookup(code string) (StopRecord, bool) {
	i, ok := c.byCode[strings.TrimSpace(code)]
	if !ok {
		return StopRecord{}, false
	}
	return c.stops[i], true
}
