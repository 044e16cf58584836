package es

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggrepo-go/core/uow"
)

// === Helpers ===

// StartTestUnitOfWork begins an owner scope that is closed when the test ends.
// Complete it explicitly to flush.
func StartTestUnitOfWork(t testing.TB) (context.Context, *uow.Scope) {
	ctx, scope := uow.Begin(t.Context())
	require.True(t, scope.IsOwner(), "test unit of work must be the owner")
	t.Cleanup(func() { _ = scope.Close() })
	return ctx, scope
}

// RecordingDriver wraps a Driver and records every call, in order.
type RecordingDriver[T Aggregate[K], K comparable] struct {
	Driver[T, K]

	mu    sync.Mutex
	calls []string
}

func NewRecordingDriver[T Aggregate[K], K comparable](d Driver[T, K]) *RecordingDriver[T, K] {
	return &RecordingDriver[T, K]{Driver: d}
}

func (r *RecordingDriver[T, K]) record(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf(format, args...))
}

// Calls returns the recorded calls, e.g. "insert acc-1@2" or "update acc-1@3 from 2".
func (r *RecordingDriver[T, K]) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *RecordingDriver[T, K]) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *RecordingDriver[T, K]) SelectByKey(ctx context.Context, key K) (T, bool, error) {
	r.record("select %s", KeyString(key))
	return r.Driver.SelectByKey(ctx, key)
}

func (r *RecordingDriver[T, K]) Insert(ctx context.Context, agg T) error {
	r.record("insert %s@%d", KeyString(agg.GetKey()), agg.GetVersion())
	return r.Driver.Insert(ctx, agg)
}

func (r *RecordingDriver[T, K]) Update(ctx context.Context, agg T, originalVersion Version) (bool, error) {
	r.record("update %s@%d from %d", KeyString(agg.GetKey()), agg.GetVersion(), originalVersion)
	return r.Driver.Update(ctx, agg, originalVersion)
}

func (r *RecordingDriver[T, K]) Delete(ctx context.Context, key K) error {
	r.record("delete %s", KeyString(key))
	return r.Driver.Delete(ctx, key)
}
