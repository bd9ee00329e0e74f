package kv

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	items     []string
	expiresAt time.Time
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process Store used in standalone mode and tests.
// Expired entries are dropped lazily on access and by Sweep.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*memEntry

	// now is swappable for tests.
	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

func (m *Memory) get(key string) *memEntry {
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil
	}
	return e
}

func (m *Memory) SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.get(key) != nil {
		return false, nil
	}
	m.entries[key] = &memEntry{expiresAt: m.now().Add(ttl)}
	return true, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.get(key) != nil, nil
}

func (m *Memory) Del(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Memory) RPush(ctx context.Context, key, value string, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		e = &memEntry{expiresAt: m.now().Add(ttl)}
		m.entries[key] = e
	}
	e.items = append(e.items, value)
	return len(e.items), nil
}

func (m *Memory) LRange(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.get(key)
	if e == nil {
		return nil, nil
	}
	out := make([]string, len(e.items))
	copy(out, e.items)
	return out, nil
}

func (m *Memory) RenameNX(ctx context.Context, src, dst string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	se := m.get(src)
	if se == nil {
		return false, nil
	}
	if m.get(dst) != nil {
		return false, nil
	}
	delete(m.entries, src)
	m.entries[dst] = se
	return true, nil
}

func (m *Memory) Sweep(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	purged := 0
	for k, e := range m.entries {
		if e.expired(now) {
			delete(m.entries, k)
			purged++
		}
	}
	return purged, nil
}
