package es

import (
	"context"
	"sync"
)

// Driver is the storage contract a Repository flushes against. Drivers are
// shared between units of work and must be safe for concurrent use.
type Driver[T Aggregate[K], K comparable] interface {
	// SelectByKey loads the aggregate stored under key. found is false when
	// there is none.
	SelectByKey(ctx context.Context, key K) (agg T, found bool, err error)
	// Insert stores a new aggregate. An existing key is reported with an error
	// matching ErrDuplicateKey.
	Insert(ctx context.Context, agg T) error
	// Update stores agg if the stored version still is originalVersion. ok is
	// false when it is not (lost update).
	Update(ctx context.Context, agg T, originalVersion Version) (ok bool, err error)
	// Delete removes the aggregate stored under key.
	Delete(ctx context.Context, key K) error
}

// Transactor is implemented by drivers that can run several writes atomically.
// fn receives a context bound to the transaction; the driver commits when fn
// returns nil and rolls back otherwise.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// MemoryDriver keeps the encoded state of each aggregate in a map. It is the
// state-based reference driver for tests and development.
type MemoryDriver[T Aggregate[K], K comparable] struct {
	newFn   func() T
	options memoryDriverOptions

	mu    sync.RWMutex
	state map[K]*Snapshot
}

func NewMemoryDriver[T Aggregate[K], K comparable](newFn func() T, opts ...MemoryDriverOption) *MemoryDriver[T, K] {
	return &MemoryDriver[T, K]{
		newFn:   newFn,
		options: newMemoryDriverOptions(opts...),
		state:   map[K]*Snapshot{},
	}
}

func (m *MemoryDriver[T, K]) SelectByKey(_ context.Context, key K) (agg T, found bool, err error) {
	m.mu.RLock()
	s, ok := m.state[key]
	m.mu.RUnlock()
	if !ok {
		return agg, false, nil
	}
	agg, err = Reconstruct[T, K](m.newFn, nil, s, nil)
	if err != nil {
		return agg, false, err
	}
	agg.SetKey(key)
	return agg, true, nil
}

func (m *MemoryDriver[T, K]) Insert(_ context.Context, agg T) error {
	s, err := m.encode(agg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.state[agg.GetKey()]; ok {
		return &DuplicateKeyError[K]{AggType: agg.GetAggType(), Key: agg.GetKey()}
	}
	m.state[agg.GetKey()] = s
	return nil
}

func (m *MemoryDriver[T, K]) Update(_ context.Context, agg T, originalVersion Version) (bool, error) {
	s, err := m.encode(agg)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.state[agg.GetKey()]
	if !ok || cur.ObjVersion != originalVersion {
		return false, nil
	}
	m.state[agg.GetKey()] = s
	return true, nil
}

func (m *MemoryDriver[T, K]) Delete(_ context.Context, key K) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.state, key)
	return nil
}

// Version returns the stored version of key, for tests.
func (m *MemoryDriver[T, K]) Version(key K) (Version, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.state[key]
	if !ok {
		return 0, false
	}
	return s.ObjVersion, true
}

func (m *MemoryDriver[T, K]) encode(agg T) (*Snapshot, error) {
	s, err := CreateSnapshot[K](agg, m.options.codec)
	if err != nil {
		return nil, err
	}
	s.CreatedAt = m.options.clock()
	return s, nil
}
