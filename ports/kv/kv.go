// Package kv is the key-value port used for snapshots and other small
// documents. Adapters live under adapters/ (nats, redis); MemStore serves
// tests and single-process setups.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("kv: not found")

type Entry struct {
	Data []byte
	Meta map[string]any
}

type PutOptions struct {
	// TTL expires the entry after the given duration. Zero keeps it until
	// deleted. Stores that only support a bucket-wide TTL may ignore it.
	TTL time.Duration
}

// Store is implemented by every key-value backend. Get returns ErrNotFound for
// missing or expired keys. Delete of a missing key is not an error.
type Store interface {
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	Get(ctx context.Context, key string) (entry Entry, err error)
	Delete(ctx context.Context, key string) error
}

// Put stores v as JSON under key.
func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %s: %w", key, err)
	}
	return store.Put(ctx, key, Entry{Data: data}, opts)
}

// Get loads the JSON value stored under key.
func Get[T any](ctx context.Context, store Store, key string) (out T, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err = json.Unmarshal(entry.Data, &out); err != nil {
		return out, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return out, nil
}

// Prefixed scopes all keys of store under prefix, so several components can
// share one bucket.
func Prefixed(store Store, prefix string) Store {
	return &prefixed{store: store, prefix: prefix}
}

type prefixed struct {
	store  Store
	prefix string
}

func (p *prefixed) Put(ctx context.Context, key string, entry Entry, opts PutOptions) error {
	return p.store.Put(ctx, p.prefix+key, entry, opts)
}

func (p *prefixed) Get(ctx context.Context, key string) (Entry, error) {
	return p.store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.store.Delete(ctx, p.prefix+key)
}
