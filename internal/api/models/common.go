// Package models holds the request and response bodies of the chat API.
package models

import (
	"fmt"
	"strconv"
	"time"
)

// HealthStatus is the coarse state of the service or a dependency.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusFail     HealthStatus = "FAIL"
)

// singapore is fixed at UTC+8; Singapore has no daylight saving.
var singapore = time.FixedZone("SGT", 8*60*60)

// Timestamp is a point in time rendered as RFC3339 in Singapore time,
// matching the "Updated" stamps in chat replies.
type Timestamp time.Time

func (t Timestamp) String() string {
	return time.Time(t).In(singapore).Format(time.RFC3339)
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

// UnmarshalJSON accepts any RFC3339 offset. null leaves t untouched.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	parsed, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	*t = Timestamp(parsed)
	return nil
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}
