package sf

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSingleflight_Do(t *testing.T) {
	s := New[int]()

	var (
		calls   atomic.Int32
		release = make(chan struct{})
		wg      sync.WaitGroup
		results = make([]*int, 5)
	)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := s.Do("k", func() (*int, error) {
				calls.Add(1)
				<-release
				n := 42
				return &n, nil
			})
			require.NoError(t, err)
			results[i] = v
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, v := range results {
		require.Equal(t, 42, *v)
	}
}

func TestSingleflight_error(t *testing.T) {
	s := New[int]()
	boom := errors.New("boom")
	v, err := s.Do("k", func() (*int, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
	require.Nil(t, v)
}

func TestSingleflight_sequentialCallsRunAgain(t *testing.T) {
	s := New[int]()
	var calls int
	for range 3 {
		_, err := s.Do("k", func() (*int, error) {
			calls++
			return new(int), nil
		})
		require.NoError(t, err)
	}
	require.Equal(t, 3, calls)
}

func TestSingleflight_DoContext(t *testing.T) {
	s := New[string]()
	release := make(chan struct{})
	defer close(release)

	go func() {
		_, _ = s.Do("k", func() (*string, error) {
			<-release
			v := "late"
			return &v, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()
	_, _, err := s.DoContext(ctx, "k", func() (*string, error) {
		t.Error("joined call should not run fn")
		return nil, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSingleflight_Forget(t *testing.T) {
	s := New[int]()
	release := make(chan struct{})

	first := make(chan *int, 1)
	go func() {
		v, _ := s.Do("k", func() (*int, error) {
			<-release
			n := 1
			return &n, nil
		})
		first <- v
	}()
	time.Sleep(10 * time.Millisecond)

	s.Forget("k")
	v, shared, err := s.DoContext(t.Context(), "k", func() (*int, error) {
		n := 2
		return &n, nil
	})
	require.NoError(t, err)
	require.False(t, shared)
	require.Equal(t, 2, *v)

	close(release)
	require.Equal(t, 1, *<-first)
}
