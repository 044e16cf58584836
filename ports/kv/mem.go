package kv

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
)

type memEntry struct {
	Entry
	expiresAt time.Time
}

// MemStore is an in-process Store. Expired entries are dropped lazily on
// access.
type MemStore struct {
	mu   sync.RWMutex
	data map[string]memEntry
	now  func() time.Time
}

type MemStoreOption func(*MemStore)

// WithMemClock replaces time.Now for TTL handling.
func WithMemClock(now func() time.Time) MemStoreOption {
	return func(m *MemStore) { m.now = now }
}

func NewMemStore(opts ...MemStoreOption) *MemStore {
	m := &MemStore{data: map[string]memEntry{}, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemStore) Put(_ context.Context, key string, entry Entry, opts PutOptions) error {
	e := memEntry{Entry: clone(entry)}
	if opts.TTL > 0 {
		e.expiresAt = m.now().Add(opts.TTL)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = e
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()

	if !ok {
		return Entry{}, ErrNotFound
	}
	if m.expired(e) {
		m.mu.Lock()
		if cur, ok := m.data[key]; ok && m.expired(cur) {
			delete(m.data, key)
		}
		m.mu.Unlock()
		return Entry{}, ErrNotFound
	}
	return clone(e.Entry), nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys returns the live keys in sorted order.
func (m *MemStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k, e := range m.data {
		if !m.expired(e) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

func (m *MemStore) expired(e memEntry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}

func clone(e Entry) Entry {
	return Entry{Data: slices.Clone(e.Data), Meta: maps.Clone(e.Meta)}
}

var _ Store = (*MemStore)(nil)
