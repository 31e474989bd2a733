package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lepakdriver/lepakdriver/internal/stops"
	"github.com/lepakdriver/lepakdriver/internal/transit"
)

// Tool names advertised to the model.
const (
	ToolGetBusArrival            = "get_bus_arrival"
	ToolFindBusStopsByLocation   = "find_bus_stops_by_location"
	ToolGetBusArrivalsByLocation = "get_bus_arrivals_by_location"
	ToolGetCarparkAvailability   = "get_carpark_availability"
)

// Deps are the collaborators of the transit tools.
type Deps struct {
	// Transit serves arrivals and carparks, usually a cached transit.Service.
	Transit transit.Provider

	// Matcher resolves place names to stops.
	Matcher *stops.Matcher

	// Location is used for "Updated" timestamps (default: Asia/Singapore).
	Location *time.Location
}

// BusArrivalArgs are the arguments of get_bus_arrival.
type BusArrivalArgs struct {
	BusStopCode string `json:"bus_stop_code" validate:"required,max=10"`
	ServiceNo   string `json:"service_no" validate:"omitempty,max=6"`
}

// FindStopsArgs are the arguments of find_bus_stops_by_location.
type FindStopsArgs struct {
	LocationQuery string `json:"location_query" validate:"required,max=200"`
	MaxResults    int    `json:"max_results" validate:"omitempty,min=1,max=20"`
}

// ArrivalsByLocationArgs are the arguments of get_bus_arrivals_by_location.
type ArrivalsByLocationArgs struct {
	LocationQuery string `json:"location_query" validate:"required,max=200"`
	ServiceNo     string `json:"service_no" validate:"omitempty,max=6"`
	MaxStops      int    `json:"max_stops" validate:"omitempty,min=1,max=20"`
}

// CarparkArgs are the arguments of get_carpark_availability.
type CarparkArgs struct {
	CarparkID string `json:"carpark_id" validate:"omitempty,max=20"`
	Area      string `json:"area" validate:"omitempty,max=100"`
}

const defaultMaxResults = 5

var (
	busArrivalSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "bus_stop_code": {"type": "string", "description": "5-digit bus stop code, e.g. 83139"},
    "service_no": {"type": "string", "description": "Optional bus service number, e.g. 15"}
  },
  "required": ["bus_stop_code"]
}`)

	findStopsSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "location_query": {"type": "string", "description": "Place, landmark or road name, e.g. Ang Mo Kio Hub"},
    "max_results": {"type": "integer", "description": "Maximum number of stops to return (default 5)"}
  },
  "required": ["location_query"]
}`)

	arrivalsByLocationSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "location_query": {"type": "string", "description": "Place, landmark or road name"},
    "service_no": {"type": "string", "description": "Optional bus service number"},
    "max_stops": {"type": "integer", "description": "Maximum number of stops to match (default 5)"}
  },
  "required": ["location_query"]
}`)

	carparkSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "carpark_id": {"type": "string", "description": "Optional carpark ID"},
    "area": {"type": "string", "description": "Optional development or area name, e.g. Marina"}
  }
}`)
)

// RegisterTransitTools adds the four bus and carpark tools to r.
func RegisterTransitTools(r *Registry, deps Deps) {
	if deps.Location == nil {
		deps.Location = singapore()
	}
	t := &transitTools{deps: deps}

	Register(r, ToolGetBusArrival,
		"Get real-time bus arrival times for a bus stop code, optionally for one service.",
		busArrivalSchema, t.getBusArrival)
	Register(r, ToolFindBusStopsByLocation,
		"Find bus stops matching a place name. Use this first when the user gives a location instead of a stop code.",
		findStopsSchema, t.findBusStops)
	Register(r, ToolGetBusArrivalsByLocation,
		"Get bus arrivals for the best matching stops near a place name in one step.",
		arrivalsByLocationSchema, t.getArrivalsByLocation)
	Register(r, ToolGetCarparkAvailability,
		"Get live carpark lot availability, optionally by carpark ID or area.",
		carparkSchema, t.getCarparks)
}

func singapore() *time.Location {
	loc, err := time.LoadLocation("Asia/Singapore")
	if err != nil {
		return time.FixedZone("SGT", 8*60*60)
	}
	return loc
}

type transitTools struct {
	deps Deps
}

func (t *transitTools) stamp(ts time.Time) string {
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.In(t.deps.Location).Format(timestampLayout)
}

func (t *transitTools) getBusArrival(ctx context.Context, args BusArrivalArgs) (Result, error) {
	code := strings.TrimSpace(args.BusStopCode)
	service := strings.TrimSpace(args.ServiceNo)

	result := t.deps.Transit.GetArrivals(ctx, transit.ArrivalQuery{StopCode: code, ServiceNo: service})
	if !result.OK() {
		return Text(formatArrivalFailure(result.Failure)), nil
	}

	if len(result.Services) == 0 {
		return Text(fmt.Sprintf("ℹ️ **No bus services found** for bus stop %s\n\n"+
			"This stop may not be active or may not have scheduled services.", code)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🚌 **Bus arrivals for stop %s**\n⏰ *Updated: %s*\n\n", code, t.stamp(result.Timestamp))

	for i := range result.Services {
		svc := &result.Services[i]
		if service != "" && svc.ServiceNo != service {
			continue
		}
		writeService(&sb, svc)
		sb.WriteString("\n")
	}

	return Text(sb.String()), nil
}

func (t *transitTools) findBusStops(_ context.Context, args FindStopsArgs) (Result, error) {
	limit := args.MaxResults
	if limit == 0 {
		limit = defaultMaxResults
	}

	matches := t.deps.Matcher.FindMatches(args.LocationQuery, limit)
	if len(matches) == 0 {
		return Text(noStopsText(args.LocationQuery)), nil
	}
	return Text(formatCandidates(args.LocationQuery, matches)), nil
}

func (t *transitTools) getArrivalsByLocation(ctx context.Context, args ArrivalsByLocationArgs) (Result, error) {
	limit := args.MaxStops
	if limit == 0 {
		limit = defaultMaxResults
	}
	service := strings.TrimSpace(args.ServiceNo)

	matches := t.deps.Matcher.FindMatches(args.LocationQuery, limit)
	if len(matches) == 0 {
		return Text(noStopsText(args.LocationQuery)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "🔍 **Bus arrivals near '%s'**\nFound %d stops:\n\n", args.LocationQuery, len(matches))

	live := 0
	for i, m := range matches {
		if i >= maxStopsWithArrivals {
			break
		}

		fmt.Fprintf(&sb, "**%d. %s** (%s)\n📍 %s\n", i+1, m.Stop.Description, m.Stop.Code, m.Stop.RoadName)

		result := t.deps.Transit.GetArrivals(ctx, transit.ArrivalQuery{StopCode: m.Stop.Code, ServiceNo: service})
		switch {
		case !result.OK():
			switch result.Failure.Kind {
			case transit.ErrorNotFound:
				sb.WriteString("❌ Not found in API\n")
			case transit.ErrorTimeout:
				sb.WriteString("⏰ Timeout - try again\n")
			default:
				fmt.Fprintf(&sb, "❌ Error: %s\n", result.Failure.Message)
			}
		case len(result.Services) == 0:
			sb.WriteString("ℹ️ No services available\n")
		default:
			live++
			sb.WriteString("✅ **Live arrivals:**\n")
			shown := 0
			for j := range result.Services {
				svc := &result.Services[j]
				if service != "" && svc.ServiceNo != service {
					continue
				}
				if shown == maxServicesPerStop {
					break
				}
				writeService(&sb, svc)
				shown++
			}
		}
		sb.WriteString("\n")
	}

	if live == 0 {
		sb.WriteString("❌ **No live data available** for these stops.\nTry again or use specific bus stop codes.")
	}

	return Text(sb.String()), nil
}

func (t *transitTools) getCarparks(ctx context.Context, args CarparkArgs) (Result, error) {
	filter := transit.CarparkFilter{
		CarparkID: strings.TrimSpace(args.CarparkID),
		Area:      strings.TrimSpace(args.Area),
	}

	result := t.deps.Transit.GetCarparks(ctx, filter)
	if !result.OK() {
		return Text(formatCarparkFailure(result.Failure)), nil
	}

	return Text(formatCarparks(result, filter, t.stamp(result.Timestamp))), nil
}
