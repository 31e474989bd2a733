// Package worker runs background maintenance jobs for Lepak Driver.
package worker

import (
	"time"
)

// Job types accepted on the job subscription.
const (
	JobPurgeConversations = "purge_conversations"
	JobRefreshCarparks    = "refresh_carparks"
	JobHealthCheck        = "health_check"
)

// ProbeStop is a bus stop queried by the health check.
type ProbeStop struct {
	// Code is the 5-digit bus stop code.
	Code string

	// Name is a human-readable label for logs.
	Name string
}

// JobsConfig holds configuration for the job runner.
type JobsConfig struct {
	// ProbeStops are queried by the health check.
	// If empty, uses DefaultProbeStops.
	ProbeStops []ProbeStop

	// Concurrency is the number of concurrent probes.
	// Default: 3
	Concurrency int

	// Timeout bounds each job step (one probe, one purge, one refresh).
	// Default: 30 seconds
	Timeout time.Duration

	// MaxFailureRatio fails the health check when more than this share of
	// probes fail.
	// Default: 0.5
	MaxFailureRatio float64
}

// DefaultJobsConfig returns the default job configuration.
func DefaultJobsConfig() JobsConfig {
	return JobsConfig{
		ProbeStops:      DefaultProbeStops(),
		Concurrency:     3,
		Timeout:         30 * time.Second,
		MaxFailureRatio: 0.5,
	}
}

// DefaultProbeStops returns busy interchange stops that always have services
// during operating hours.
func DefaultProbeStops() []ProbeStop {
	return []ProbeStop{
		{Code: "54009", Name: "Ang Mo Kio Int"},
		{Code: "28009", Name: "Jurong East Int"},
		{Code: "75009", Name: "Tampines Int"},
		{Code: "46009", Name: "Woodlands Int"},
		{Code: "83139", Name: "Blk 39"},
	}
}

func (c JobsConfig) withDefaults() JobsConfig {
	d := DefaultJobsConfig()
	if len(c.ProbeStops) == 0 {
		c.ProbeStops = d.ProbeStops
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxFailureRatio <= 0 {
		c.MaxFailureRatio = d.MaxFailureRatio
	}
	return c
}
