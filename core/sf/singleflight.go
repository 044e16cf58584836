package sf

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// Singleflight deduplicates concurrent calls per key. The zero value is ready
// to use.
type Singleflight[T any] struct {
	group singleflight.Group
}

func New[T any]() *Singleflight[T] {
	return &Singleflight[T]{}
}

// Do runs fn unless a call for key is already running, in which case it waits
// for that call and returns its result.
func (s *Singleflight[T]) Do(key string, fn func() (*T, error)) (*T, error) {
	v, err, _ := s.group.Do(key, func() (any, error) {
		return fn()
	})
	if err != nil {
		return nil, err
	}
	return v.(*T), nil
}

// DoContext is like Do but stops waiting when ctx ends. The running call is
// not cancelled and other waiters still receive its result.
func (s *Singleflight[T]) DoContext(ctx context.Context, key string, fn func() (*T, error)) (v *T, shared bool, err error) {
	ch := s.group.DoChan(key, func() (any, error) {
		return fn()
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*T), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Forget makes the next call for key run fn again instead of joining the
// running one. Use it after the underlying value changed.
func (s *Singleflight[T]) Forget(key string) {
	s.group.Forget(key)
}
