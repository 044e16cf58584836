package es

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/aggrepo-go/core/reflector"
	"github.com/codewandler/aggrepo-go/core/uow"
)

type entryState uint8

const (
	stateSelected entryState = iota + 1
	stateAdded
	stateRemoved
	stateRemovedThenAdded
)

func (s entryState) String() string {
	switch s {
	case stateSelected:
		return "selected"
	case stateAdded:
		return "added"
	case stateRemoved:
		return "removed"
	case stateRemovedThenAdded:
		return "removed_then_added"
	}
	return "unknown"
}

// cacheEntry tracks one key. original is only set for entries loaded from storage.
type cacheEntry[T any] struct {
	instance    T
	original    Version
	hasOriginal bool
	state       entryState
}

// Repository is the identity map and change tracker for one aggregate type
// inside one unit of work.
//
// The first call that touches an aggregate enlists the repository in the unit
// of work carried by ctx; completing the owner scope flushes it. Without a unit
// of work on ctx, call Flush yourself.
type Repository[T Aggregate[K], K comparable] struct {
	driver      Driver[T, K]
	aggType     string
	log         *slog.Logger
	metrics     ESMetrics
	concurrency int

	mu      sync.Mutex
	owner   *uow.Context
	entries map[K]*cacheEntry[T]
	order   []K
	failed  error
}

func NewRepository[T Aggregate[K], K comparable](driver Driver[T, K], opts ...RepositoryOption) *Repository[T, K] {
	options := newRepoOptions(opts...)

	aggType := options.aggType
	if aggType == "" {
		aggType = aggTypeOf[T, K](driver)
	}

	concurrency := options.concurrency
	if _, ok := driver.(Transactor); ok {
		concurrency = 1
	}

	return &Repository[T, K]{
		driver:      driver,
		aggType:     aggType,
		log:         options.log.With(slog.String("repo", aggType)),
		metrics:     options.metrics,
		concurrency: concurrency,
		entries:     map[K]*cacheEntry[T]{},
	}
}

type repositoryKey struct{ driver any }

// RepositoryFor returns the repository of driver for the unit of work on ctx,
// creating it on first use. Options only apply on creation.
func RepositoryFor[T Aggregate[K], K comparable](ctx context.Context, driver Driver[T, K], opts ...RepositoryOption) (*Repository[T, K], error) {
	return uow.Resolve(ctx, repositoryKey{driver: driver}, func() (*Repository[T, K], error) {
		return NewRepository(driver, opts...), nil
	})
}

func (r *Repository[T, K]) GetAggType() string { return r.aggType }

// aggTypeOf asks the driver, then a fresh *T, and falls back to the Go type name.
func aggTypeOf[T Aggregate[K], K comparable](driver any) string {
	if d, ok := driver.(interface{ GetAggType() string }); ok {
		return d.GetAggType()
	}
	if t := reflect.TypeFor[T](); t.Kind() == reflect.Pointer {
		if agg, ok := reflect.New(t.Elem()).Interface().(T); ok {
			return agg.GetAggType()
		}
	}
	return reflector.NameFor[T]()
}

// GetByKey returns the tracked instance for key, loading it from the driver on
// first access. Repeated calls return the same instance. A key removed in this
// unit of work is not found.
func (r *Repository[T, K]) GetByKey(ctx context.Context, key K) (agg T, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err = r.usable(ctx); err != nil {
		return agg, err
	}

	if e, ok := r.entries[key]; ok {
		if e.state == stateRemoved {
			return agg, r.notFound(key)
		}
		r.metrics.CacheHit(r.aggType)
		return e.instance, nil
	}
	r.metrics.CacheMiss(r.aggType)

	timer := r.metrics.RepoLoadDuration(r.aggType)
	agg, found, err := r.driver.SelectByKey(ctx, key)
	timer.ObserveDuration()
	if err != nil {
		return agg, fmt.Errorf("select %s %s: %w", r.aggType, KeyString(key), err)
	}
	if !found {
		var zero T
		return zero, r.notFound(key)
	}

	if err = r.enlist(ctx); err != nil {
		var zero T
		return zero, err
	}
	r.track(key, &cacheEntry[T]{
		instance:    agg,
		original:    agg.GetVersion(),
		hasOriginal: true,
		state:       stateSelected,
	})
	r.log.Debug("selected", slog.Group("agg", slog.String("key", KeyString(key)), agg.GetVersion().SlogAttr()))
	return agg, nil
}

// Add tracks a new aggregate. Adding the tracked instance again is a no-op;
// adding a different instance under a tracked key fails with a
// *DuplicateKeyError unless the key was removed in this unit of work, in
// which case the old aggregate is deleted before the new one is inserted.
func (r *Repository[T, K]) Add(ctx context.Context, agg T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.usable(ctx); err != nil {
		return err
	}

	key := agg.GetKey()
	if isZeroKey(key) {
		return fmt.Errorf("add %s: %w", r.aggType, ErrEmptyKey)
	}

	e, ok := r.entries[key]
	switch {
	case !ok:
		if err := r.enlist(ctx); err != nil {
			return err
		}
		r.track(key, &cacheEntry[T]{instance: agg, state: stateAdded})
	case any(e.instance) == any(agg) && e.state != stateRemoved:
		return nil
	case e.state == stateRemoved:
		e.instance = agg
		e.state = stateRemovedThenAdded
	default:
		return &DuplicateKeyError[K]{AggType: r.aggType, Key: key}
	}

	r.log.Debug("added", slog.Group("agg", slog.String("key", KeyString(key))), slog.String("state", r.entries[key].state.String()))
	return nil
}

// RemoveByKey marks key for deletion without loading it. An aggregate that
// was only added in this unit of work is forgotten instead.
func (r *Repository[T, K]) RemoveByKey(ctx context.Context, key K) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.usable(ctx); err != nil {
		return err
	}

	e, ok := r.entries[key]
	switch {
	case !ok:
		if err := r.enlist(ctx); err != nil {
			return err
		}
		r.track(key, &cacheEntry[T]{state: stateRemoved})
	case e.state == stateAdded:
		r.untrack(key)
	case e.state == stateSelected, e.state == stateRemovedThenAdded:
		var zero T
		e.instance = zero
		e.state = stateRemoved
	}

	r.log.Debug("removed", slog.Group("agg", slog.String("key", KeyString(key))))
	return nil
}

// RequiresFlush reports whether Flush would issue any driver write.
func (r *Repository[T, K]) RequiresFlush() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range r.order {
		if r.dirty(r.entries[key]) {
			return true
		}
	}
	return false
}

func (r *Repository[T, K]) dirty(e *cacheEntry[T]) bool {
	if e.state != stateSelected {
		return true
	}
	return e.instance.GetVersion() != e.original
}

// Flush writes the tracked changes through the driver and forgets all entries.
//
//   - added: Insert
//   - selected with an advanced version: Update against the original version
//   - removed: Delete
//   - removed then added: Delete, then Insert
//
// A failed flush leaves the repository unusable; every later call returns
// ErrUnitOfWorkFailed until the unit of work is discarded.
func (r *Repository[T, K]) Flush(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failed != nil {
		return fmt.Errorf("%w: %w", ErrUnitOfWorkFailed, r.failed)
	}

	plan := make([]K, 0, len(r.order))
	for _, key := range r.order {
		if r.dirty(r.entries[key]) {
			plan = append(plan, key)
		}
	}
	if len(plan) == 0 {
		r.reset()
		return nil
	}

	timer := r.metrics.RepoFlushDuration(r.aggType)
	defer timer.ObserveDuration()

	var (
		writes atomic.Int64
		tx, ok = r.driver.(Transactor)
	)
	switch {
	case ok:
		err = tx.WithinTransaction(ctx, func(ctx context.Context) error {
			return r.writeAll(ctx, plan, &writes, false)
		})
		if err == nil {
			for _, key := range plan {
				r.clearUncommitted(r.entries[key])
			}
		}
	case r.concurrency > 1:
		err = r.writeConcurrent(ctx, plan, &writes)
	default:
		err = r.writeAll(ctx, plan, &writes, true)
	}

	if err != nil {
		if !ok && writes.Load() > 0 {
			err = &PartialFlushError{AggType: r.aggType, Writes: int(writes.Load()), Entries: len(plan), Err: err}
		}
		r.failed = err
		r.log.Debug("flush failed", slog.Int("entries", len(plan)), slog.Any("error", err))
		return err
	}

	r.log.Debug("flushed", slog.Int("entries", len(plan)), slog.Int64("writes", writes.Load()))
	r.reset()
	return nil
}

func (r *Repository[T, K]) writeAll(ctx context.Context, plan []K, writes *atomic.Int64, clear bool) error {
	for _, key := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := r.entries[key]
		if err := r.write(ctx, key, e, writes); err != nil {
			return err
		}
		if clear {
			r.clearUncommitted(e)
		}
	}
	return nil
}

func (r *Repository[T, K]) writeConcurrent(ctx context.Context, plan []K, writes *atomic.Int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, key := range plan {
		e := r.entries[key]
		g.Go(func() error {
			if err := r.write(ctx, key, e, writes); err != nil {
				return err
			}
			r.clearUncommitted(e)
			return nil
		})
	}
	return g.Wait()
}

// write issues the driver calls of one entry. Delete precedes Insert for
// removed-then-added entries.
func (r *Repository[T, K]) write(ctx context.Context, key K, e *cacheEntry[T], writes *atomic.Int64) error {
	if e.state == stateRemoved || e.state == stateRemovedThenAdded {
		if err := r.driver.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete %s %s: %w", r.aggType, KeyString(key), err)
		}
		writes.Add(1)
		r.metrics.FlushWrite(r.aggType, WriteDelete)
	}

	switch e.state {
	case stateAdded, stateRemovedThenAdded:
		if err := r.driver.Insert(ctx, e.instance); err != nil {
			return fmt.Errorf("insert %s %s: %w", r.aggType, KeyString(key), err)
		}
		writes.Add(1)
		r.metrics.FlushWrite(r.aggType, WriteInsert)
	case stateSelected:
		ok, err := r.driver.Update(ctx, e.instance, e.original)
		if err != nil {
			return fmt.Errorf("update %s %s: %w", r.aggType, KeyString(key), err)
		}
		if !ok {
			r.metrics.ConcurrencyConflict(r.aggType)
			return &ConcurrencyConflictError[K]{AggType: r.aggType, Key: key, Expected: e.original}
		}
		writes.Add(1)
		r.metrics.FlushWrite(r.aggType, WriteUpdate)
	}
	return nil
}

func (r *Repository[T, K]) clearUncommitted(e *cacheEntry[T]) {
	if e.state != stateRemoved {
		e.instance.ClearUncommitted()
	}
}

// Discard drops every tracked entry and the failure state. The unit of work
// calls it when it is disposed.
func (r *Repository[T, K]) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	r.failed = nil
	r.owner = nil
}

// === internals ===

func (r *Repository[T, K]) usable(ctx context.Context) error {
	if r.failed != nil {
		return fmt.Errorf("%w: %w", ErrUnitOfWorkFailed, r.failed)
	}
	if c := uow.Current(ctx); c != nil && r.owner != nil && c != r.owner {
		return fmt.Errorf("%s: %w", r.aggType, ErrForeignUnitOfWork)
	}
	return nil
}

func (r *Repository[T, K]) enlist(ctx context.Context) error {
	c := uow.Current(ctx)
	if c == nil || c == r.owner {
		return nil
	}
	if err := c.Enlist(r); err != nil {
		return err
	}
	r.owner = c
	return nil
}

func (r *Repository[T, K]) track(key K, e *cacheEntry[T]) {
	r.entries[key] = e
	r.order = append(r.order, key)
}

func (r *Repository[T, K]) untrack(key K) {
	delete(r.entries, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *Repository[T, K]) reset() {
	r.entries = map[K]*cacheEntry[T]{}
	r.order = nil
}

func (r *Repository[T, K]) notFound(key K) error {
	return &NotFoundError[K]{AggType: r.aggType, Key: key}
}

var (
	_ uow.UnitOfWork = (*Repository[Aggregate[string], string])(nil)
	_ uow.Discarder  = (*Repository[Aggregate[string], string])(nil)
)
