package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Cache with per-entry expiry. It serves tests and
// cache-less deployments; Redis is the production backend.
type Memory struct {
	mu   sync.RWMutex
	data map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	value  []byte
	expiry time.Time
}

// NewMemory creates an empty in-memory cache. A nil now falls back to
// time.Now; tests inject a controllable clock.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		data: make(map[string]memoryEntry),
		now:  now,
	}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expiry.IsZero() && !m.now().Before(entry.expiry) {
		m.mu.Lock()
		delete(m.data, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	return value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expiry time.Time
	if ttl > 0 {
		expiry = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = memoryEntry{value: stored, expiry: expiry}
	m.mu.Unlock()
	return nil
}

// Len returns the number of live entries, expired ones included until read.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
