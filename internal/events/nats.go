package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/lepakdriver/lepakdriver/internal/metrics"
)

// DefaultSubjectPrefix is prepended to every subject.
const DefaultSubjectPrefix = "lepak.turns"

// NATSConfig holds configuration for the NATS publisher.
type NATSConfig struct {
	// URL of the NATS server (required).
	URL string

	// SubjectPrefix for turn events (default: DefaultSubjectPrefix).
	SubjectPrefix string

	// Logger for connection events.
	Logger zerolog.Logger

	// Metrics records publish outcomes (optional).
	Metrics *metrics.Collector
}

type msgPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher publishes events as JSON on core NATS subjects of the form
// <prefix>.<user id>.
type NATSPublisher struct {
	nc      *nats.Conn
	conn    msgPublisher
	prefix  string
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewNATSPublisher connects to NATS.
func NewNATSPublisher(cfg NATSConfig) (*NATSPublisher, error) {
	logger := cfg.Logger
	nc, err := nats.Connect(cfg.URL,
		nats.Name("lepakdriver"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	p := newPublisher(nc, cfg)
	p.nc = nc
	return p, nil
}

func newPublisher(conn msgPublisher, cfg NATSConfig) *NATSPublisher {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{
		conn:    conn,
		prefix:  strings.TrimSuffix(prefix, "."),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
}

// PublishTurn publishes event on <prefix>.<user id>. Missing event ids and
// timestamps are filled in.
func (p *NATSPublisher) PublishTurn(_ context.Context, event TurnCompleted) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.metrics.RecordEventPublished("error")
		return fmt.Errorf("encode turn event: %w", err)
	}

	subject := p.prefix + "." + subjectToken(event.UserID)
	if err := p.conn.Publish(subject, data); err != nil {
		p.metrics.RecordEventPublished("error")
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.metrics.RecordEventPublished("ok")
	p.logger.Debug().Str("subject", subject).Str("event_id", event.EventID).Msg("turn event published")
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if p.nc != nil {
		if err := p.nc.Drain(); err != nil {
			p.nc.Close()
		}
	}
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// tokens cannot contain spaces, '>', '*' or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
