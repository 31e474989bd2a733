package conversation

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store for tests and single-process use.
type MemoryStore struct {
	mu   sync.RWMutex
	logs map[Key][]Turn
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[Key][]Turn)}
}

// Get returns a copy of the turns under key.
func (s *MemoryStore) Get(_ context.Context, key Key) ([]Turn, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.logs[key]
	if !ok {
		return nil, nil
	}
	return append([]Turn(nil), turns...), nil
}

// Set stores a copy of turns under key.
func (s *MemoryStore) Set(_ context.Context, key Key, turns []Turn) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs[key] = append([]Turn(nil), turns...)
	return nil
}

// Delete removes the log under key.
func (s *MemoryStore) Delete(_ context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.logs[key]
	delete(s.logs, key)
	return ok, nil
}

// PurgeBefore removes logs dated before cutoff.
func (s *MemoryStore) PurgeBefore(_ context.Context, cutoff string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.logs {
		if key.Date < cutoff {
			delete(s.logs, key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored logs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs)
}
