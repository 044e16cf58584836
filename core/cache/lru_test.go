package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestLRU(t *testing.T, opts LRUOpts) *LRU {
	l := NewLRU(opts)
	t.Cleanup(l.Close)
	return l
}

func requireHit(t *testing.T, c Cache, key string, want any) {
	t.Helper()
	v, ok := c.Get(key)
	require.True(t, ok, "expected %q to be cached", key)
	require.Equal(t, want, v)
}

func requireMiss(t *testing.T, c Cache, key string) {
	t.Helper()
	_, ok := c.Get(key)
	require.False(t, ok, "expected %q to miss", key)
}

func TestLRU_eviction(t *testing.T) {
	l := newTestLRU(t, LRUOpts{Size: 2})

	l.Put("a", 1)
	l.Put("b", 2)
	requireHit(t, l, "a", 1) // promotes a

	l.Put("c", 3)
	requireMiss(t, l, "b")
	requireHit(t, l, "a", 1)
	requireHit(t, l, "c", 3)
	require.Equal(t, 2, l.Len())
}

func TestLRU_update(t *testing.T) {
	l := newTestLRU(t, LRUOpts{Size: 2})
	l.Put("a", 1)
	l.Put("a", 2)
	requireHit(t, l, "a", 2)
	require.Equal(t, 1, l.Len())
}

func TestLRU_delete(t *testing.T) {
	l := newTestLRU(t, LRUOpts{Size: 2})
	l.Put("a", 1)
	l.Put("b", 2)

	l.Delete("a")
	l.Delete("nonexistent")

	requireMiss(t, l, "a")
	requireHit(t, l, "b", 2)
}

func TestLRU_ttl(t *testing.T) {
	t.Run("per entry", func(t *testing.T) {
		l := newTestLRU(t, LRUOpts{Size: 2})
		l.Put("a", 1, WithTTL(50*time.Millisecond))
		l.Put("b", 2)

		requireHit(t, l, "a", 1)
		time.Sleep(60 * time.Millisecond)
		requireMiss(t, l, "a")
		requireHit(t, l, "b", 2)
		require.Equal(t, 1, l.Len(), "expired entry is evicted on read")
	})

	t.Run("refreshed by put", func(t *testing.T) {
		l := newTestLRU(t, LRUOpts{Size: 2})
		l.Put("a", 1, WithTTL(50*time.Millisecond))
		time.Sleep(30 * time.Millisecond)
		l.Put("a", 2, WithTTL(100*time.Millisecond))
		time.Sleep(30 * time.Millisecond)
		requireHit(t, l, "a", 2)
	})

	t.Run("default", func(t *testing.T) {
		l := newTestLRU(t, LRUOpts{Size: 2, TTL: 30 * time.Millisecond})
		l.Put("a", 1)
		l.Put("b", 2, WithTTL(time.Hour))
		time.Sleep(40 * time.Millisecond)
		requireMiss(t, l, "a")
		requireHit(t, l, "b", 2)
	})
}

func TestLRU_close(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 2})
	l.Put("a", 1)
	l.Close()
	l.Close()

	requireMiss(t, l, "a")
	l.Put("b", 2)
	l.Delete("a")
	require.Zero(t, l.Len())
}

func TestLRU_defaultSize(t *testing.T) {
	l := newTestLRU(t, LRUOpts{})
	for i := range 128 {
		l.Put(strconv.Itoa(i), i)
	}
	requireHit(t, l, "0", 0)

	l.Put("overflow", 999)
	requireHit(t, l, "overflow", 999)
	requireMiss(t, l, "1")
	require.Equal(t, 128, l.Len())
}

func TestLRU_concurrent(t *testing.T) {
	l := newTestLRU(t, LRUOpts{Size: 100})

	var wg sync.WaitGroup
	for w := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 1000 {
				key := strconv.Itoa(w)
				l.Put(key, j)
				l.Get(key)
				if j%100 == 0 {
					l.Delete(key)
				}
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, l.Len(), 10)
}
