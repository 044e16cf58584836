package sqlstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggrepo-go/core/es"
	"github.com/codewandler/aggrepo-go/ports/kv"
)

func TestKvStore(t *testing.T) {
	type fruit struct {
		Name  string
		Count int
	}

	for name, db := range getDBs(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()
			store := NewKvStore(db)

			_, err := kv.Get[fruit](ctx, store, "apple")
			require.ErrorIs(t, err, kv.ErrNotFound)

			require.NoError(t, kv.Put(ctx, store, "apple", fruit{Name: "apple", Count: 1}, kv.PutOptions{}))
			require.NoError(t, kv.Put(ctx, store, "apple", fruit{Name: "apple", Count: 2}, kv.PutOptions{}))
			v, err := kv.Get[fruit](ctx, store, "apple")
			require.NoError(t, err)
			require.Equal(t, 2, v.Count)

			require.NoError(t, store.Put(ctx, "pear", kv.Entry{Data: []byte("x"), Meta: map[string]any{"origin": "test"}}, kv.PutOptions{}))
			e, err := store.Get(ctx, "pear")
			require.NoError(t, err)
			require.Equal(t, "test", e.Meta["origin"])

			require.NoError(t, store.Delete(ctx, "pear"))
			require.NoError(t, store.Delete(ctx, "pear"))
			_, err = store.Get(ctx, "pear")
			require.ErrorIs(t, err, kv.ErrNotFound)
		})
	}
}

func TestKvStore_ttl(t *testing.T) {
	ctx := t.Context()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewKvStore(NewTestSQLite(t))
	store.now = func() time.Time { return now }

	require.NoError(t, store.Put(ctx, "short", kv.Entry{Data: []byte("1")}, kv.PutOptions{TTL: time.Minute}))
	require.NoError(t, store.Put(ctx, "forever", kv.Entry{Data: []byte("2")}, kv.PutOptions{}))

	_, err := store.Get(ctx, "short")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = store.Get(ctx, "short")
	require.ErrorIs(t, err, kv.ErrNotFound)

	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = store.Get(ctx, "forever")
	require.NoError(t, err)
}

func TestKvStore_asSnapshotter(t *testing.T) {
	ctx := t.Context()
	s := es.NewKeyValueSnapshotter(NewKvStore(NewTestSQLite(t)))

	snap := &es.Snapshot{SnapshotID: "s1", ObjType: "counter", ObjID: "c1", ObjVersion: 4, Encoding: "json", Data: []byte(`{}`)}
	require.NoError(t, s.SaveSnapshot(ctx, snap))

	loaded, err := s.LoadSnapshot(ctx, "counter", "c1")
	require.NoError(t, err)
	require.Equal(t, es.Version(4), loaded.ObjVersion)
}
