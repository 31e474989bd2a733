package transit

import (
	"errors"
	"strings"
	"time"
)

// Transit errors.
var (
	ErrProviderUnavailable = errors.New("transit provider unavailable")
)

// ErrorKind classifies an upstream failure. Failures are returned as data,
// never as Go errors.
type ErrorKind string

const (
	ErrorAuthFailed        ErrorKind = "auth_failed"
	ErrorRateLimited       ErrorKind = "rate_limited"
	ErrorNotFound          ErrorKind = "not_found"
	ErrorAPI               ErrorKind = "api_error"
	ErrorTimeout           ErrorKind = "timeout"
	ErrorConnection        ErrorKind = "connection_error"
	ErrorMalformedResponse ErrorKind = "malformed_response"
	ErrorUnknown           ErrorKind = "unknown"
)

// Failure describes a classified upstream failure.
type Failure struct {
	Kind    ErrorKind
	Message string
}

func (f *Failure) Error() string {
	return string(f.Kind) + ": " + f.Message
}

// CrowdingLevel is the vehicle occupancy reported for an incoming bus.
type CrowdingLevel string

const (
	CrowdingSeatsAvailable    CrowdingLevel = "seats_available"
	CrowdingStandingAvailable CrowdingLevel = "standing_available"
	CrowdingLimitedStanding   CrowdingLevel = "limited_standing"
	CrowdingUnknown           CrowdingLevel = "unknown"
)

// Label returns a human-readable occupancy label.
func (c CrowdingLevel) Label() string {
	switch c {
	case CrowdingSeatsAvailable:
		return "Seats Available"
	case CrowdingStandingAvailable:
		return "Standing Available"
	case CrowdingLimitedStanding:
		return "Limited Standing"
	default:
		return "Unknown"
	}
}

// ArrivalQuery identifies the arrivals to fetch.
type ArrivalQuery struct {
	// StopCode is the five-digit bus stop code.
	StopCode string

	// ServiceNo optionally narrows results to one service.
	ServiceNo string
}

// CacheKey returns the key used to cache results for this query.
func (q ArrivalQuery) CacheKey() string {
	return q.StopCode + ":" + q.ServiceNo
}

// NextBus is one of the upcoming buses for a service.
type NextBus struct {
	// Available is false when the upstream had no entry for this slot.
	Available bool

	// MinutesToArrival is nil when the arrival time is unknown.
	// Zero or negative means the bus is arriving now.
	MinutesToArrival *int

	// EstimatedArrival is the upstream estimate (zero if unknown).
	EstimatedArrival time.Time

	Crowding    CrowdingLevel
	Feature     string
	VehicleType string
}

// MinutesKnown reports whether the arrival time could be computed.
func (b NextBus) MinutesKnown() bool {
	return b.Available && b.MinutesToArrival != nil
}

// ServiceArrival holds the next three buses for a service at a stop.
type ServiceArrival struct {
	ServiceNo string
	Operator  string

	// NextBuses are the Next, 2nd and 3rd slots in order.
	NextBuses [3]NextBus
}

// ArrivalResult is either a successful set of services or a Failure, never both.
type ArrivalResult struct {
	StopCode  string
	Timestamp time.Time
	Services  []ServiceArrival

	// Failure is set when the lookup failed; Services is then empty.
	Failure *Failure
}

// OK reports whether the lookup succeeded.
func (r *ArrivalResult) OK() bool {
	return r != nil && r.Failure == nil
}

// FailedArrival builds a failed ArrivalResult.
func FailedArrival(stopCode string, kind ErrorKind, message string) *ArrivalResult {
	return &ArrivalResult{
		StopCode:  stopCode,
		Timestamp: time.Now(),
		Failure:   &Failure{Kind: kind, Message: message},
	}
}

// Carpark is a single carpark availability record.
type Carpark struct {
	CarparkID     string
	Area          string
	Development   string
	Location      string
	AvailableLots int
	LotType       string
	Agency        string
}

// CarparkFilter narrows a carpark list. Empty fields do not filter.
type CarparkFilter struct {
	// CarparkID matches exactly.
	CarparkID string

	// Area matches case-insensitively as a substring of the development name.
	Area string
}

// IsZero reports whether the filter matches everything.
func (f CarparkFilter) IsZero() bool {
	return f.CarparkID == "" && f.Area == ""
}

// Matches reports whether cp passes both filters.
func (f CarparkFilter) Matches(cp *Carpark) bool {
	if f.CarparkID != "" && cp.CarparkID != f.CarparkID {
		return false
	}
	if f.Area != "" && !strings.Contains(strings.ToLower(cp.Development), strings.ToLower(f.Area)) {
		return false
	}
	return true
}

// FilterCarparks returns the carparks matching f, preserving order.
func FilterCarparks(carparks []Carpark, f CarparkFilter) []Carpark {
	if f.IsZero() {
		return carparks
	}
	out := make([]Carpark, 0, len(carparks))
	for i := range carparks {
		if f.Matches(&carparks[i]) {
			out = append(out, carparks[i])
		}
	}
	return out
}

// CarparkResult is either a carpark list or a Failure.
type CarparkResult struct {
	Timestamp time.Time
	Carparks  []Carpark
	Failure   *Failure
}

// OK reports whether the lookup succeeded.
func (r *CarparkResult) OK() bool {
	return r != nil && r.Failure == nil
}

// Filtered returns a copy of r narrowed by f. Failures pass through unchanged.
func (r *CarparkResult) Filtered(f CarparkFilter) *CarparkResult {
	if !r.OK() {
		return r
	}
	return &CarparkResult{
		Timestamp: r.Timestamp,
		Carparks:  FilterCarparks(r.Carparks, f),
	}
}
