package uow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// UnitOfWork is anything that can be enlisted in a unit of work and flushed
// when it completes. Implementations must be comparable (typically pointers);
// enlistment is deduplicated by identity.
type UnitOfWork interface {
	Flush(ctx context.Context) error
}

// Discarder is implemented by units of work that hold state which must be
// dropped when the unit of work is disposed.
type Discarder interface {
	Discard()
}

type ctxKey struct{}

// Context is the state shared by all scopes of one unit of work.
type Context struct {
	id      string
	log     *slog.Logger
	metrics Metrics

	mu       sync.Mutex
	items    map[any]any
	itemKeys []any
	enlisted []UnitOfWork
	scopes   []*Scope
	aborted  bool
	disposed bool
}

func newContext(o options) *Context {
	c := &Context{
		id:      o.id,
		log:     o.log.With(slog.String("uow", o.id)),
		metrics: o.metrics,
		items:   map[any]any{},
	}
	c.log.Debug("unit of work started")
	return c
}

// Current returns the live unit of work carried by ctx, or nil.
func Current(ctx context.Context) *Context {
	c, _ := ctx.Value(ctxKey{}).(*Context)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil
	}
	return c
}

func (c *Context) ID() string { return c.id }

// Enlist adds u to the flush list unless it is already enlisted.
// Flush order is first-enlisted first.
func (c *Context) Enlist(u UnitOfWork) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrContextDisposed
	}
	for _, e := range c.enlisted {
		if e == u {
			return nil
		}
	}
	c.enlisted = append(c.enlisted, u)
	c.log.Debug("enlisted", slog.String("unit", fmt.Sprintf("%T", u)), slog.Int("position", len(c.enlisted)))
	return nil
}

// Enlisted returns a copy of the enlistment list in flush order.
func (c *Context) Enlisted() []UnitOfWork {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]UnitOfWork, len(c.enlisted))
	copy(out, c.enlisted)
	return out
}

// Enlist enlists u in the unit of work carried by ctx.
// It reports false when ctx carries no live unit of work.
func Enlist(ctx context.Context, u UnitOfWork) (bool, error) {
	c := Current(ctx)
	if c == nil {
		return false, nil
	}
	if err := c.Enlist(u); err != nil {
		return false, err
	}
	return true, nil
}

// IsAborted reports whether a joined scope was closed without completing.
func (c *Context) IsAborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// === items ===

func (c *Context) Get(key any) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *Context) Set(key any, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return ErrContextDisposed
	}
	if _, ok := c.items[key]; !ok {
		c.itemKeys = append(c.itemKeys, key)
	}
	c.items[key] = v
	return nil
}

func (c *Context) Delete(key any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.items[key]; !ok {
		return
	}
	delete(c.items, key)
	for i, k := range c.itemKeys {
		if k == key {
			c.itemKeys = append(c.itemKeys[:i], c.itemKeys[i+1:]...)
			break
		}
	}
}

// GetOrCreate returns the item stored under key, creating it with create when
// missing. create runs without holding the context lock; if two callers race,
// the first stored value wins.
func (c *Context) GetOrCreate(key any, create func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, ErrContextDisposed
	}
	if existing, ok := c.items[key]; ok {
		return existing, nil
	}
	c.items[key] = v
	c.itemKeys = append(c.itemKeys, key)
	return v, nil
}

// Resolve returns the value of type T registered under key in the current
// unit of work, creating it on first use. It is the "per unit of work"
// dependency lifetime.
func Resolve[T any](ctx context.Context, key any, create func() (T, error)) (out T, err error) {
	c := Current(ctx)
	if c == nil {
		return out, ErrNoUnitOfWork
	}
	v, err := c.GetOrCreate(key, func() (any, error) { return create() })
	if err != nil {
		return out, err
	}
	out, ok := v.(T)
	if !ok {
		return out, fmt.Errorf("uow: item %v has type %T, want %T", key, v, out)
	}
	return out, nil
}

// === lifecycle ===

// pushScope registers a new scope. It fails when the context is already disposed.
func (c *Context) pushScope(owner bool) (*Scope, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return nil, false
	}
	s := &Scope{c: c, owner: owner, startedAt: time.Now()}
	c.scopes = append(c.scopes, s)
	c.metrics.ScopeStarted(owner)
	return s, true
}

func (c *Context) flush(ctx context.Context) error {
	timer := c.metrics.FlushDuration()
	defer timer.ObserveDuration()

	// units enlisted while flushing are picked up by re-reading the length
	flushed := 0
	for i := 0; ; i++ {
		c.mu.Lock()
		if i >= len(c.enlisted) {
			c.mu.Unlock()
			break
		}
		u := c.enlisted[i]
		c.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.Flush(ctx); err != nil {
			return fmt.Errorf("flush %T (position %d): %w", u, i+1, err)
		}
		flushed++
	}

	c.metrics.UnitsFlushed(flushed)
	c.log.Debug("flushed", slog.Int("units", flushed))
	return nil
}

// dispose releases items (last created first) and discards enlisted units.
func (c *Context) dispose(keys []any, items map[any]any, enlisted []UnitOfWork) error {
	var errs []error
	for i := len(keys) - 1; i >= 0; i-- {
		if closer, ok := items[keys[i]].(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close item %v: %w", keys[i], err))
			}
		}
	}
	for _, u := range enlisted {
		if d, ok := u.(Discarder); ok {
			d.Discard()
		}
	}
	c.log.Debug("unit of work disposed", slog.Int("items", len(keys)), slog.Int("units", len(enlisted)))
	return errors.Join(errs...)
}
