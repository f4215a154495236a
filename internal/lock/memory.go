// Package lock provides the per-job collection lock.
package lock

import (
	"context"
	"sync"

	"runproxy/internal/job"
)

var _ job.Locker = (*Memory)(nil)

// Memory is a process-local lock. It only serializes collectors that share the
// process; use Redis when several instances serve the same jobs.
type Memory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemory creates an empty in-process lock.
func NewMemory() *Memory {
	return &Memory{held: make(map[string]struct{})}
}

// TryLock takes key if no one holds it.
func (m *Memory) TryLock(_ context.Context, key string) (func(), bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.held[key]; ok {
		return nil, false, nil
	}
	m.held[key] = struct{}{}

	var once sync.Once
	release := func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.held, key)
			m.mu.Unlock()
		})
	}
	return release, true, nil
}

// Ready always succeeds.
func (m *Memory) Ready(context.Context) error {
	return nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
