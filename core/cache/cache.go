package cache

import "time"

// Cache is safe for concurrent use. Values are stored as is; callers must not
// mutate a value after putting it.
type Cache interface {
	Get(key string) (any, bool)
	Put(key string, val any, opts ...PutOption)
	Delete(key string)
	// Len returns the number of stored entries, expired ones included.
	Len() int
}

type PutOptions struct {
	// TTL overrides the cache's default TTL for one entry. Zero keeps the default.
	TTL time.Duration
}

type PutOption func(*PutOptions)

func WithTTL(ttl time.Duration) PutOption {
	return func(o *PutOptions) { o.TTL = ttl }
}

func newPutOptions(opts ...PutOption) PutOptions {
	var o PutOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// TypedCache is a Cache holding values of one type.
type TypedCache[T any] interface {
	Get(key string) (T, bool)
	Put(key string, val T, opts ...PutOption)
	Delete(key string)
}

type typed[T any] struct{ c Cache }

// NewTyped wraps c. Values of another type found under a key read as misses.
func NewTyped[T any](c Cache) TypedCache[T] { return typed[T]{c: c} }

func (t typed[T]) Get(key string) (out T, ok bool) {
	v, ok := t.c.Get(key)
	if !ok {
		return out, false
	}
	out, ok = v.(T)
	return out, ok
}

func (t typed[T]) Put(key string, val T, opts ...PutOption) { t.c.Put(key, val, opts...) }
func (t typed[T]) Delete(key string)                        { t.c.Delete(key) }
