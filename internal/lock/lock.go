// Package lock grants single-writer ownership of an audit run. The memory
// implementation serializes runs inside one process; the Redis implementation
// extends that across processes sharing a run store.
package lock

import (
	"context"
	"sync"
)

// Memory is an in-process Locker.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory returns an empty in-process Locker.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// TryLock acquires key without blocking.
func (m *Memory) TryLock(_ context.Context, key string) (func(context.Context) error, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.held[key]; busy {
		return nil, false, nil
	}
	m.held[key] = struct{}{}

	var once sync.Once
	unlock := func(context.Context) error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
		return nil
	}
	return unlock, true, nil
}
