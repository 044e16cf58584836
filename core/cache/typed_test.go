package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type snap struct{ version uint64 }

func TestTyped(t *testing.T) {
	l := NewLRU(LRUOpts{Size: 4})
	defer l.Close()

	c := NewTyped[*snap](l)
	_, ok := c.Get("a")
	require.False(t, ok)

	c.Put("a", &snap{version: 3})
	got, ok := c.Get("a")
	require.True(t, ok)
	require.EqualValues(t, 3, got.version)

	// foreign value types are reported as misses
	l.Put("b", "not a snapshot")
	_, ok = c.Get("b")
	require.False(t, ok)

	c.Delete("a")
	_, ok = c.Get("a")
	require.False(t, ok)
}
