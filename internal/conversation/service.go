package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ServiceConfig holds configuration for the conversation service.
type ServiceConfig struct {
	// Store persists logs (required).
	Store Store

	// Logger for service operations.
	Logger zerolog.Logger

	// MaxTurns caps each log (default: DefaultMaxTurns).
	MaxTurns int

	// RetentionDays is how many days of logs are kept (default: DefaultRetentionDays).
	RetentionDays int

	// Location decides where calendar days roll over (default: Asia/Singapore).
	Location *time.Location

	// PurgeInterval is the minimum time between opportunistic purges
	// triggered by Append (default: 1 hour, negative disables).
	PurgeInterval time.Duration

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Service loads, appends to and purges conversation logs. Callers serialize
// access per user; the service itself does not lock individual logs.
type Service struct {
	store         Store
	logger        zerolog.Logger
	maxTurns      int
	retentionDays int
	location      *time.Location
	purgeInterval time.Duration
	now           func() time.Time

	purgeMu   sync.Mutex
	lastPurge time.Time
	purging   bool
}

// NewService creates a new conversation service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Location == nil {
		cfg.Location = Singapore()
	}
	if cfg.PurgeInterval == 0 {
		cfg.PurgeInterval = time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		store:         cfg.Store,
		logger:        cfg.Logger,
		maxTurns:      cfg.MaxTurns,
		retentionDays: cfg.RetentionDays,
		location:      cfg.Location,
		purgeInterval: cfg.PurgeInterval,
		now:           cfg.Now,
	}
}

// Singapore returns the Asia/Singapore zone, or a fixed UTC+8 zone when the
// tz database is unavailable.
func Singapore() *time.Location {
	loc, err := time.LoadLocation("Asia/Singapore")
	if err != nil {
		return time.FixedZone("SGT", 8*60*60)
	}
	return loc
}

// Today returns the key of userID's log for the current day.
func (s *Service) Today(userID string) Key {
	return KeyFor(userID, s.now(), s.location)
}

// Load returns today's turns for userID, oldest first. A missing log is empty.
func (s *Service) Load(ctx context.Context, userID string) ([]Turn, error) {
	turns, err := s.store.Get(ctx, s.Today(userID))
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	return Trim(turns, s.maxTurns), nil
}

// Append adds a turn to today's log, evicting the oldest turns beyond the cap,
// and returns the stored log.
func (s *Service) Append(ctx context.Context, userID string, turn Turn) ([]Turn, error) {
	key := s.Today(userID)
	if turn.Timestamp.IsZero() {
		turn.Timestamp = s.now()
	}

	turns, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}

	turns = Trim(append(turns, turn), s.maxTurns)
	if err := s.store.Set(ctx, key, turns); err != nil {
		return nil, fmt.Errorf("save conversation: %w", err)
	}

	s.maybePurge()
	return turns, nil
}

// Clear deletes today's log and reports whether there was one.
func (s *Service) Clear(ctx context.Context, userID string) (bool, error) {
	existed, err := s.store.Delete(ctx, s.Today(userID))
	if err != nil {
		return false, fmt.Errorf("clear conversation: %w", err)
	}

	s.logger.Info().Str("user_id", userID).Bool("existed", existed).Msg("conversation cleared")
	return existed, nil
}

// PurgeStale removes logs older than the retention window.
func (s *Service) PurgeStale(ctx context.Context) (int, error) {
	cutoff := CutoffDate(s.now(), s.retentionDays, s.location)

	removed, err := s.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return removed, fmt.Errorf("purge conversations: %w", err)
	}

	s.purgeMu.Lock()
	s.lastPurge = s.now()
	s.purgeMu.Unlock()

	s.logger.Info().Str("cutoff", cutoff).Int("removed", removed).Msg("purged old conversations")
	return removed, nil
}

// maybePurge starts a background purge when the last one is older than the
// purge interval. At most one runs at a time.
func (s *Service) maybePurge() {
	if s.purgeInterval < 0 {
		return
	}

	s.purgeMu.Lock()
	if s.purging || s.now().Sub(s.lastPurge) < s.purgeInterval {
		s.purgeMu.Unlock()
		return
	}
	s.purging = true
	s.lastPurge = s.now()
	s.purgeMu.Unlock()

	go func() {
		defer func() {
			s.purgeMu.Lock()
			s.purging = false
			s.purgeMu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if _, err := s.PurgeStale(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("opportunistic purge failed")
		}
	}()
}
