// Package events publishes assistant activity to a message bus.
package events

import (
	"context"
	"time"
)

// TurnCompleted is published after a turn has been persisted.
type TurnCompleted struct {
	EventID    string    `json:"eventId"`
	UserID     string    `json:"userId"`
	Date       string    `json:"date"`
	Timestamp  time.Time `json:"timestamp"`
	Tools      []string  `json:"tools,omitempty"`
	ToolErrors int       `json:"toolErrors"`
	ModelCalls int       `json:"modelCalls"`
	DurationMS int64     `json:"durationMs"`
}

// Publisher publishes domain events. Publishing is best effort; callers log
// failures and carry on.
type Publisher interface {
	PublishTurn(ctx context.Context, event TurnCompleted) error
	Close()
}

// NopPublisher discards events.
type NopPublisher struct{}

// PublishTurn does nothing.
func (NopPublisher) PublishTurn(context.Context, TurnCompleted) error { return nil }

// Close does nothing.
func (NopPublisher) Close() {}
