package conversation

import "context"

// Store persists conversation logs. Reading an absent key returns an empty
// log and no error.
type Store interface {
	// Get returns the turns stored under key, oldest first.
	Get(ctx context.Context, key Key) ([]Turn, error)

	// Set replaces the turns stored under key.
	Set(ctx context.Context, key Key, turns []Turn) error

	// Delete removes the log under key and reports whether it existed.
	Delete(ctx context.Context, key Key) (bool, error)

	// PurgeBefore removes every log whose date is before cutoff (YYYY-MM-DD)
	// and returns how many were removed.
	PurgeBefore(ctx context.Context, cutoff string) (int, error)
}
