package resilience

import (
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// ProviderHealth is a point-in-time view of one upstream, as shown on
// /v1/ops/status.
type ProviderHealth struct {
	Name         string
	CircuitState gobreaker.State
	Counts       gobreaker.Counts

	LastSuccessAt *time.Time
	LastFailureAt *time.Time
	LastError     string

	// Transitions counts breaker state changes since startup.
	Transitions      int
	LastTransitionAt *time.Time
}

// IsHealthy reports a closed breaker.
func (h *ProviderHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// IsDegraded reports a half-open breaker that is probing the upstream.
func (h *ProviderHealth) IsDegraded() bool {
	return h.CircuitState == gobreaker.StateHalfOpen
}

// IsUnhealthy reports an open breaker.
func (h *ProviderHealth) IsUnhealthy() bool {
	return h.CircuitState == gobreaker.StateOpen
}

// Registry collects the health of every named upstream client. Clients
// register themselves when built with ClientConfig.Registry set.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*providerEntry
}

type providerEntry struct {
	client *Client

	lastSuccessAt    time.Time
	lastFailureAt    time.Time
	lastError        string
	transitions      int
	lastTransitionAt time.Time
}

// view copies the recorded fields; the caller must hold the registry lock.
func (e *providerEntry) view(name string) (*ProviderHealth, *Client) {
	return &ProviderHealth{
		Name:             name,
		LastSuccessAt:    timePtr(e.lastSuccessAt),
		LastFailureAt:    timePtr(e.lastFailureAt),
		LastError:        e.lastError,
		Transitions:      e.transitions,
		LastTransitionAt: timePtr(e.lastTransitionAt),
	}, e.client
}

// fill reads the breaker. It must run without the registry lock: breaker
// transitions call back into the registry while holding the breaker's own lock.
func fill(h *ProviderHealth, c *Client) *ProviderHealth {
	h.CircuitState = c.CircuitBreakerState()
	h.Counts = c.CircuitBreakerCounts()
	return h
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*providerEntry)}
}

// Register tracks client under name, replacing any earlier client with that name.
func (r *Registry) Register(name string, client *Client) {
	r.mu.Lock()
	r.entries[name] = &providerEntry{client: client}
	r.mu.Unlock()
}

// RecordSuccess notes a delivered response for name.
func (r *Registry) RecordSuccess(name string) {
	r.update(name, func(e *providerEntry) {
		e.lastSuccessAt = time.Now()
	})
}

// RecordFailure notes a failed call for name.
func (r *Registry) RecordFailure(name string, err error) {
	r.update(name, func(e *providerEntry) {
		e.lastFailureAt = time.Now()
		if err != nil {
			e.lastError = err.Error()
		}
	})
}

// RecordTransition notes a breaker state change for name.
func (r *Registry) RecordTransition(name string) {
	r.update(name, func(e *providerEntry) {
		e.transitions++
		e.lastTransitionAt = time.Now()
	})
}

// unknown names are ignored
func (r *Registry) update(name string, fn func(*providerEntry)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[name]; ok {
		fn(e)
	}
}

// GetHealth returns the health of name, or nil if it is not registered.
func (r *Registry) GetHealth(name string) *ProviderHealth {
	r.mu.RLock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	h, c := e.view(name)
	r.mu.RUnlock()

	return fill(h, c)
}

// GetAllHealth returns every upstream's health, ordered by name.
func (r *Registry) GetAllHealth() []*ProviderHealth {
	r.mu.RLock()
	names := r.namesLocked()
	views := make([]*ProviderHealth, len(names))
	clients := make([]*Client, len(names))
	for i, name := range names {
		views[i], clients[i] = r.entries[name].view(name)
	}
	r.mu.RUnlock()

	for i := range views {
		fill(views[i], clients[i])
	}
	return views
}

// Names returns the registered upstream names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
