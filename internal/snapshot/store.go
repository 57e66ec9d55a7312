// Package snapshot provides durable per-project snapshot storage keyed
// by project identifier. Exactly one serialized snapshot is kept per
// project; Save overwrites the previous one.
package snapshot

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no snapshot exists for a project.
var ErrNotFound = errors.New("snapshot not found")

// Store is durable key-value persistence for serialized project state.
// Implementations must be safe for concurrent use; each coordinator
// actor performs its own read-modify-write strictly serialized.
type Store interface {
	// Load retrieves the snapshot for a project.
	// Returns ErrNotFound if none has been saved.
	Load(ctx context.Context, projectID string) ([]byte, error)

	// Save stores the snapshot, replacing any previous one.
	Save(ctx context.Context, projectID string, state []byte) error

	// Delete removes the snapshot. No error if absent.
	Delete(ctx context.Context, projectID string) error
}

// MemoryStore is an in-memory Store, used in tests and as the zero-setup
// default.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Load(_ context.Context, projectID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.data[projectID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

func (m *MemoryStore) Save(_ context.Context, projectID string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(state))
	copy(cp, state)
	m.data[projectID] = cp
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, projectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, projectID)
	return nil
}
