// Package pins persists the per-user pin set: which correspondents a user
// has manually prioritized in the inbox. The pin set is independent of the
// message history and survives restarts, but it is not a server entity:
// it lives in an embedded keyspace owned by this process.
package pins

import (
	"context"
	"sync"
)

// Store is the pin-state collaborator boundary. Implementations must treat
// the written set as the complete pin state for that user.
type Store interface {
	Read(ctx context.Context, userID string) (map[string]bool, error)
	Write(ctx context.Context, userID string, pins map[string]bool) error
}

// Memory is an in-memory Store, the test double for the Pebble-backed
// implementation.
type Memory struct {
	mu   sync.Mutex
	sets map[string]map[string]bool
}

// NewMemory returns an empty in-memory pin store.
func NewMemory() *Memory {
	return &Memory{sets: make(map[string]map[string]bool)}
}

// Read returns the user's pin set. A user with no pins gets an empty set.
func (m *Memory) Read(ctx context.Context, userID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]bool, len(m.sets[userID]))
	for k, v := range m.sets[userID] {
		out[k] = v
	}
	return out, nil
}

// Write replaces the user's pin set.
func (m *Memory) Write(ctx context.Context, userID string, pins map[string]bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]bool, len(pins))
	for k, v := range pins {
		if v {
			set[k] = true
		}
	}
	m.sets[userID] = set
	return nil
}
