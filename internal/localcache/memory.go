package localcache

import (
	"context"
	"sync"
)

// Memory is an in-process Cache backend. It is the fallback when no redis
// address is configured; growth is bounded only by the number of garages the
// process serves.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewMemory constructs an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]byte)}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.records[key]
	if !ok {
		return nil, ErrMiss
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	copied := make([]byte, len(value))
	copy(copied, value)
	m.mu.Lock()
	m.records[key] = copied
	m.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.records, key)
	m.mu.Unlock()
	return nil
}
