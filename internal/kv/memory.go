// ABOUTME: In-memory Engine for tests and ephemeral runs
// ABOUTME: Honors the same contract as the SQLite backends except durability

package kv

import (
	"context"
	"sort"
	"sync"
)

// MemoryEngine is a map-backed Engine. Data is lost on Close.
type MemoryEngine struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

// NewMemoryEngine creates an empty MemoryEngine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{data: make(map[string]string)}
}

// OpenMemory satisfies Opener. The path is ignored.
func OpenMemory(string) (Engine, error) {
	return NewMemoryEngine(), nil
}

// Get returns the value stored under key.
func (m *MemoryEngine) Get(ctx context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", false, ErrClosed
	}
	value, ok := m.data[key]
	return value, ok, nil
}

// Set stores value under key.
func (m *MemoryEngine) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.data[key] = value
	return nil
}

// Keys returns every stored key in ascending order.
func (m *MemoryEngine) Keys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close drops all data.
func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}
