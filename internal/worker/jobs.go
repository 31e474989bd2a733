package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lepakdriver/lepakdriver/internal/transit"
)

// Job errors.
var (
	ErrMalformedJob      = errors.New("malformed job message")
	ErrUnknownJob        = errors.New("unknown job type")
	ErrJobNotConfigured  = errors.New("job not configured")
	ErrHealthCheckFailed = errors.New("health check failed")
)

// JobMessage is the payload of a job message.
type JobMessage struct {
	JobType string `json:"job_type"`
}

// ConversationPurger removes conversation logs past retention.
type ConversationPurger interface {
	PurgeStale(ctx context.Context) (int, error)
}

// CarparkRefresher re-fetches the carpark list into the gateway cache.
type CarparkRefresher interface {
	RefreshCarparks(ctx context.Context) (int, error)
}

// RunnerConfig holds configuration for creating a Runner.
type RunnerConfig struct {
	Config JobsConfig
	Logger zerolog.Logger

	// Collaborators (optional, jobs whose collaborator is nil fail with
	// ErrJobNotConfigured).
	Conversations ConversationPurger
	Carparks      CarparkRefresher

	// Upstream is probed by the health check. Pass the raw gateway, not the
	// cached service, so the probe reaches the network.
	Upstream transit.Provider
}

// Runner executes maintenance jobs.
type Runner struct {
	config        JobsConfig
	logger        zerolog.Logger
	conversations ConversationPurger
	carparks      CarparkRefresher
	upstream      transit.Provider

	metrics *JobMetrics
}

// JobMetrics tracks job statistics.
type JobMetrics struct {
	mu sync.RWMutex

	Runs      map[string]int64
	Failures  map[string]int64
	LastRunAt map[string]time.Time

	ConversationsPurged int64
	CarparksRefreshed   int64
	ProbesFailed        int64
}

// NewRunner creates a new job runner.
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		config:        cfg.Config.withDefaults(),
		logger:        cfg.Logger,
		conversations: cfg.Conversations,
		carparks:      cfg.Carparks,
		upstream:      cfg.Upstream,
		metrics: &JobMetrics{
			Runs:      make(map[string]int64),
			Failures:  make(map[string]int64),
			LastRunAt: make(map[string]time.Time),
		},
	}
}

// Dispatch decodes a job message and runs the job it names.
func (r *Runner) Dispatch(ctx context.Context, data []byte) error {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	var err error
	switch msg.JobType {
	case JobPurgeConversations:
		_, err = r.PurgeConversations(ctx)
	case JobRefreshCarparks:
		_, err = r.RefreshCarparks(ctx)
	case JobHealthCheck:
		_, err = r.HealthCheck(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownJob, msg.JobType)
	}

	r.record(msg.JobType, err)
	return err
}

// PurgeConversations removes conversation logs older than the retention window.
func (r *Runner) PurgeConversations(ctx context.Context) (int, error) {
	if r.conversations == nil {
		return 0, fmt.Errorf("%w: %s", ErrJobNotConfigured, JobPurgeConversations)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	removed, err := r.conversations.PurgeStale(ctx)
	if err != nil {
		return removed, err
	}

	r.metrics.mu.Lock()
	r.metrics.ConversationsPurged += int64(removed)
	r.metrics.mu.Unlock()

	r.logger.Info().Int("removed", removed).Msg("conversation purge completed")
	return removed, nil
}

// RefreshCarparks warms the carpark cache.
func (r *Runner) RefreshCarparks(ctx context.Context) (int, error) {
	if r.carparks == nil {
		return 0, fmt.Errorf("%w: %s", ErrJobNotConfigured, JobRefreshCarparks)
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	n, err := r.carparks.RefreshCarparks(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to refresh carparks")
		return 0, err
	}

	r.metrics.mu.Lock()
	r.metrics.CarparksRefreshed++
	r.metrics.mu.Unlock()

	r.logger.Info().Int("carparks", n).Msg("carpark refresh completed")
	return n, nil
}

// HealthResult contains the result of a health check.
type HealthResult struct {
	StartTime  time.Time
	Duration   time.Duration
	Total      int
	Successful int
	Failed     int
	Errors     []ProbeError
}

// ProbeError describes one failed probe.
type ProbeError struct {
	Stop ProbeStop
	Kind transit.ErrorKind
	Err  string
}

// HealthCheck queries the probe stops concurrently. A stop the upstream
// reports as unknown still proves the upstream is answering.
func (r *Runner) HealthCheck(ctx context.Context) (*HealthResult, error) {
	if r.upstream == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotConfigured, JobHealthCheck)
	}

	start := time.Now()
	result := &HealthResult{StartTime: start, Total: len(r.config.ProbeStops)}

	probes := make(chan ProbeStop, len(r.config.ProbeStops))
	results := make(chan *ProbeError, len(r.config.ProbeStops))

	var wg sync.WaitGroup
	for range r.config.Concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.probeWorker(ctx, probes, results)
		}()
	}

	for _, p := range r.config.ProbeStops {
		probes <- p
	}
	close(probes)

	go func() {
		wg.Wait()
		close(results)
	}()

	for pe := range results {
		if pe == nil {
			result.Successful++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, *pe)
	}
	result.Duration = time.Since(start)

	r.metrics.mu.Lock()
	r.metrics.ProbesFailed += int64(result.Failed)
	r.metrics.mu.Unlock()

	event := r.logger.Info()
	if result.Failed > 0 {
		event = r.logger.Warn()
	}
	event.
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Msg("health check completed")

	done := result.Successful + result.Failed
	if done < result.Total {
		return result, fmt.Errorf("%w: interrupted after %d/%d probes", ErrHealthCheckFailed, done, result.Total)
	}
	if float64(result.Failed) > float64(result.Total)*r.config.MaxFailureRatio {
		return result, fmt.Errorf("%w: %d/%d probes failed", ErrHealthCheckFailed, result.Failed, result.Total)
	}
	return result, nil
}

func (r *Runner) probeWorker(ctx context.Context, probes <-chan ProbeStop, results chan<- *ProbeError) {
	for stop := range probes {
		select {
		case <-ctx.Done():
			return
		default:
			results <- r.probe(ctx, stop)
		}
	}
}

func (r *Runner) probe(ctx context.Context, stop ProbeStop) *ProbeError {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	res := r.upstream.GetArrivals(ctx, transit.ArrivalQuery{StopCode: stop.Code})
	if res == nil {
		res = transit.FailedArrival(stop.Code, transit.ErrorUnknown, "no result")
	}
	if res.OK() || res.Failure.Kind == transit.ErrorNotFound {
		return nil
	}

	r.logger.Debug().
		Str("stop_code", stop.Code).
		Str("error_kind", string(res.Failure.Kind)).
		Msg("probe failed")
	return &ProbeError{Stop: stop, Kind: res.Failure.Kind, Err: res.Failure.Message}
}

func (r *Runner) record(job string, err error) {
	r.metrics.mu.Lock()
	defer r.metrics.mu.Unlock()

	r.metrics.Runs[job]++
	r.metrics.LastRunAt[job] = time.Now()
	if err != nil {
		r.metrics.Failures[job]++
	}
}

// MetricsSnapshot returns a snapshot of the current metrics as a map.
func (r *Runner) MetricsSnapshot() map[string]any {
	r.metrics.mu.RLock()
	defer r.metrics.mu.RUnlock()

	runs := make(map[string]int64, len(r.metrics.Runs))
	for k, v := range r.metrics.Runs {
		runs[k] = v
	}
	failures := make(map[string]int64, len(r.metrics.Failures))
	for k, v := range r.metrics.Failures {
		failures[k] = v
	}

	return map[string]any{
		"runs":                 runs,
		"failures":             failures,
		"conversations_purged": r.metrics.ConversationsPurged,
		"carparks_refreshed":   r.metrics.CarparksRefreshed,
		"probes_failed":        r.metrics.ProbesFailed,
	}
}
