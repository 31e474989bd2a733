// Package conversation keeps the per-user, per-day log of chat turns.
package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used in log keys.
const DateLayout = "2006-01-02"

const (
	// DefaultMaxTurns is the most recent number of turns a log keeps.
	DefaultMaxTurns = 20

	// DefaultRetentionDays is how long logs are kept before purging.
	DefaultRetentionDays = 7
)

// ErrInvalidKey is returned for keys that cannot address a log.
var ErrInvalidKey = errors.New("invalid conversation key")

// ToolCallLog records one tool invocation made while producing a turn.
type ToolCallLog struct {
	Function string          `json:"function"`
	Args     json.RawMessage `json:"args"`
	Error    string          `json:"error,omitempty"`
}

// NewToolCallLog builds a log entry from the raw argument text the model sent.
// Arguments that are not valid JSON are stored as a JSON string.
func NewToolCallLog(function, rawArgs string, err error) ToolCallLog {
	entry := ToolCallLog{Function: function}

	trimmed := strings.TrimSpace(rawArgs)
	switch {
	case trimmed == "":
		entry.Args = json.RawMessage(`{}`)
	case json.Valid([]byte(trimmed)):
		entry.Args = json.RawMessage(trimmed)
	default:
		quoted, _ := json.Marshal(rawArgs)
		entry.Args = quoted
	}

	if err != nil {
		entry.Error = err.Error()
	}
	return entry
}

// Turn is one user/assistant exchange.
type Turn struct {
	Timestamp time.Time     `json:"timestamp"`
	User      string        `json:"user"`
	Assistant string        `json:"assistant"`
	ToolCalls []ToolCallLog `json:"tool_calls,omitempty"`
}

// Key addresses one log: a user on one calendar day.
type Key struct {
	UserID string
	Date   string
}

// KeyFor returns the key for userID on the calendar day of t in loc.
func KeyFor(userID string, t time.Time, loc *time.Location) Key {
	if loc != nil {
		t = t.In(loc)
	}
	return Key{UserID: userID, Date: t.Format(DateLayout)}
}

// String returns "user:date".
func (k Key) String() string {
	return k.UserID + ":" + k.Date
}

// ValidateUserID checks that id is usable in a Key by every store: non-empty,
// without path separators, colons or "..".
func ValidateUserID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidKey)
	}
	if strings.ContainsAny(id, `/\:`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: user id %q", ErrInvalidKey, id)
	}
	return nil
}

// Validate checks that the key is usable by every store.
func (k Key) Validate() error {
	if err := ValidateUserID(k.UserID); err != nil {
		return err
	}
	if _, err := time.Parse(DateLayout, k.Date); err != nil {
		return fmt.Errorf("%w: date %q", ErrInvalidKey, k.Date)
	}
	return nil
}

// Trim returns the most recent max turns of turns, oldest first.
func Trim(turns []Turn, max int) []Turn {
	if max <= 0 || len(turns) <= max {
		return turns
	}
	return turns[len(turns)-max:]
}

// CutoffDate returns the oldest date string that survives a purge run at now
// with the given retention.
func CutoffDate(now time.Time, retentionDays int, loc *time.Location) string {
	if loc != nil {
		now = now.In(loc)
	}
	return now.AddDate(0, 0, -retentionDays).Format(DateLayout)
}
