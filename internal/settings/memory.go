package settings

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps settings in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]Settings
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]Settings)}
}

// Load returns the stored settings or ErrNotFound.
func (m *MemoryStore) Load(ctx context.Context, visitorID string) (Settings, error) {
	if err := ctx.Err(); err != nil {
		return Settings{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.data[visitorID]
	if !ok {
		return Settings{}, fmt.Errorf("%w: visitor %q", ErrNotFound, visitorID)
	}
	return s, nil
}

// Save stores s for the visitor.
func (m *MemoryStore) Save(ctx context.Context, visitorID string, s Settings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id, s, err := Prepare(visitorID, s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[id] = s
	m.mu.Unlock()
	return nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
