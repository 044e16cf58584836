package perkey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_sequentialPerKey(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		mu  sync.Mutex
		seq []int
		wg  sync.WaitGroup
	)
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do("key1", func() error {
				mu.Lock()
				seq = append(seq, i)
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				return nil
			})
		}()
		time.Sleep(2 * time.Millisecond)
	}
	wg.Wait()

	require.Equal(t, []int{0, 1, 2}, seq)
}

func TestScheduler_parallelAcrossKeys(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var (
		running    atomic.Int32
		maxRunning atomic.Int32
		wg         sync.WaitGroup
	)
	for i := range 5 {
		key := string(rune('a' + i))
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(key, func() error {
				cur := running.Add(1)
				for {
					m := maxRunning.Load()
					if cur <= m || maxRunning.CompareAndSwap(m, cur) {
						break
					}
				}
				time.Sleep(50 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	require.GreaterOrEqual(t, maxRunning.Load(), int32(2))
}

func TestScheduler_errorPropagation(t *testing.T) {
	s := New[string]()
	defer s.Close()

	boom := errors.New("task error")
	require.ErrorIs(t, s.Do("key", func() error { return boom }), boom)
}

func TestScheduler_contextPassedToTask(t *testing.T) {
	s := New[string]()
	defer s.Close()

	type ctxKey struct{}
	ctx := context.WithValue(t.Context(), ctxKey{}, "v")
	err := s.DoContext(ctx, "key", func(ctx context.Context) error {
		assert.Equal(t, "v", ctx.Value(ctxKey{}))
		return nil
	})
	require.NoError(t, err)
}

func TestScheduler_cancelledBeforeQueue(t *testing.T) {
	s := New[string]()
	defer s.Close()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	err := s.DoContext(ctx, "key", func(context.Context) error {
		t.Error("task should not execute")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestScheduler_timeoutWhileWaiting(t *testing.T) {
	s := New[string]()
	defer s.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Do("key", func() error {
			time.Sleep(200 * time.Millisecond)
			return nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := s.DoContext(ctx, "key", func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)

	wg.Wait()
}

func TestScheduler_abandonedWhileQueueFull(t *testing.T) {
	s := New[string](WithBufferSize(1))
	defer s.Close()

	started, release := make(chan struct{}), make(chan struct{})
	go func() {
		_ = s.Do("key", func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	// fills the buffer
	queued := make(chan error, 1)
	go func() { queued <- s.Do("key", func() error { return nil }) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	err := s.DoContext(ctx, "key", func(context.Context) error {
		t.Error("abandoned task should not execute")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-queued)
	require.Eventually(t, func() bool { return s.Active() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_idleWorkersExit(t *testing.T) {
	s := New[int]()
	defer s.Close()

	var (
		wg    sync.WaitGroup
		total atomic.Int32
	)
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Do(i%10, func() error {
				total.Add(1)
				return nil
			})
		}()
	}
	wg.Wait()

	require.EqualValues(t, 100, total.Load())
	require.Eventually(t, func() bool { return s.Active() == 0 }, time.Second, 5*time.Millisecond)

	// a key whose worker exited gets a new one
	require.NoError(t, s.Do(1, func() error { return nil }))
}

func TestScheduler_close(t *testing.T) {
	t.Run("rejects new tasks", func(t *testing.T) {
		s := New[string]()
		s.Close()
		require.ErrorIs(t, s.Do("key", func() error { return nil }), ErrSchedulerClosed)
	})

	t.Run("idempotent", func(t *testing.T) {
		s := New[string]()
		s.Close()
		s.Close()
	})

	t.Run("waits for queued tasks", func(t *testing.T) {
		s := New[string](WithBufferSize(10))
		var (
			executed atomic.Int32
			wg       sync.WaitGroup
		)
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = s.Do("key", func() error {
					time.Sleep(10 * time.Millisecond)
					executed.Add(1)
					return nil
				})
			}()
		}
		time.Sleep(20 * time.Millisecond)

		s.Close()
		wg.Wait()
		require.EqualValues(t, 5, executed.Load())
	})

	t.Run("concurrent with submissions", func(t *testing.T) {
		s := New[string]()
		var wg sync.WaitGroup
		for range 100 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.Do("key", func() error { return nil })
				if err != nil {
					assert.ErrorIs(t, err, ErrSchedulerClosed)
				}
			}()
		}
		go func() {
			time.Sleep(time.Millisecond)
			s.Close()
		}()
		wg.Wait()
	})
}

func TestScheduler_invalidBufferSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		s := New[string](WithBufferSize(size))
		require.Equal(t, 64, s.bufferSize)
		require.NoError(t, s.Do("key", func() error { return nil }))
		s.Close()
	}
}
