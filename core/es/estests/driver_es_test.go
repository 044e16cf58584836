package estests

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/aggrepo-go/core/es"
	"github.com/codewandler/aggrepo-go/core/es/estests/domain"
	"github.com/codewandler/aggrepo-go/core/uow"
	"github.com/codewandler/aggrepo-go/internal/codec"
)

// countingSnapshotter counts the loads that reach the wrapped snapshotter.
type countingSnapshotter struct {
	es.Snapshotter
	loads atomic.Int32
	saves atomic.Int32
}

func (c *countingSnapshotter) LoadSnapshot(ctx context.Context, objType, objID string) (*es.Snapshot, error) {
	c.loads.Add(1)
	return c.Snapshotter.LoadSnapshot(ctx, objType, objID)
}

func (c *countingSnapshotter) SaveSnapshot(ctx context.Context, s *es.Snapshot) error {
	c.saves.Add(1)
	return c.Snapshotter.SaveSnapshot(ctx, s)
}

func newESDriver(store es.EventStore, opts ...es.DriverOption) *es.EventSourcedDriver[*domain.Counter, string] {
	return es.NewEventSourcedDriver[*domain.Counter, string](store, domain.New, domain.Handlers(), opts...)
}

func TestEventSourcedDriver_roundTrip(t *testing.T) {
	for _, tc := range getStoreSUTs(t) {
		for _, c := range []codec.Codec{codec.JSONCodec{}, codec.MsgpackCodec{}} {
			t.Run(tc.name+"/"+c.Name(), func(t *testing.T) {
				var (
					ctx   = t.Context()
					key   = gonanoid.Must()
					snaps = &countingSnapshotter{Snapshotter: tc.snapshotter}
					d     = newESDriver(tc.store,
						es.WithSnapshotter(snaps),
						es.WithSnapshotEvery(3),
						es.WithSnapshotCodec(c),
					)
				)
				require.Equal(t, "counter", d.GetAggType())

				_, found, err := d.SelectByKey(ctx, key)
				require.NoError(t, err)
				require.False(t, found)

				a, err := domain.NewCounter(key)
				require.NoError(t, err)
				require.NoError(t, a.IncX(2))
				require.NoError(t, d.Insert(ctx, a))
				a.ClearUncommitted()
				require.Zero(t, snaps.saves.Load(), "v2 does not cross 3")

				require.NoError(t, a.IncY(3))
				require.NoError(t, a.IncX(1))
				ok, err := d.Update(ctx, a, 2)
				require.NoError(t, err)
				require.True(t, ok)
				a.ClearUncommitted()
				require.EqualValues(t, 1, snaps.saves.Load())

				snap, err := tc.snapshotter.LoadSnapshot(ctx, "counter", key)
				require.NoError(t, err)
				require.Equal(t, es.Version(4), snap.ObjVersion)
				require.Equal(t, c.Name(), snap.Encoding)

				require.NoError(t, a.Reset())
				ok, err = d.Update(ctx, a, 4)
				require.NoError(t, err)
				require.True(t, ok)

				b, found, err := d.SelectByKey(ctx, key)
				require.NoError(t, err)
				require.True(t, found)
				require.Equal(t, es.Version(5), b.GetVersion())
				require.Equal(t, key, b.GetKey())
				require.Equal(t, 0, b.X)
				require.Equal(t, 0, b.Y)
				require.Equal(t, 1, b.Resets)
				require.Empty(t, b.Uncommitted())
			})
		}
	}
}

func TestEventSourcedDriver_snapshotCache(t *testing.T) {
	var (
		ctx   = t.Context()
		snaps = &countingSnapshotter{Snapshotter: es.NewInMemorySnapshotter()}
		d     = newESDriver(es.NewInMemoryStore(),
			es.WithSnapshotter(snaps),
			es.WithSnapshotEvery(2),
			es.WithSnapshotCacheLRU(16),
		)
	)

	a, err := domain.NewCounter("c1")
	require.NoError(t, err)
	require.NoError(t, a.IncX(1))
	require.NoError(t, a.IncX(1))
	require.NoError(t, d.Insert(ctx, a))

	for range 3 {
		b, found, err := d.SelectByKey(ctx, "c1")
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, 2, b.X)
	}
	require.Zero(t, snaps.loads.Load(), "saved snapshot is served from cache")

	require.NoError(t, d.Delete(ctx, "c1"))
	_, found, err := d.SelectByKey(ctx, "c1")
	require.NoError(t, err)
	require.False(t, found)
	require.EqualValues(t, 1, snaps.loads.Load())
}

func TestEventSourcedDriver_insertExisting(t *testing.T) {
	ctx := t.Context()
	d := newESDriver(es.NewInMemoryStore())

	a, err := domain.NewCounter("c1")
	require.NoError(t, err)
	require.NoError(t, d.Insert(ctx, a))

	b, err := domain.NewCounter("c1")
	require.NoError(t, err)
	err = d.Insert(ctx, b)
	require.ErrorIs(t, err, es.ErrDuplicateKey)

	// without pending events the existing instance starts a new stream too
	a.ClearUncommitted()
	require.ErrorIs(t, d.Insert(ctx, a), es.ErrDuplicateKey)
	require.Equal(t, es.Version(1), a.GetVersion())

	require.ErrorIs(t, d.Insert(ctx, domain.New()), es.ErrStoreNoEvents)
}

func TestEventSourcedDriver_removedThenAdded(t *testing.T) {
	for _, tc := range getStoreSUTs(t) {
		t.Run(tc.name, func(t *testing.T) {
			var (
				key = gonanoid.Must()
				d   = newESDriver(tc.store, es.WithSnapshotter(tc.snapshotter))
			)

			seed, err := domain.NewCounter(key)
			require.NoError(t, err)
			require.NoError(t, seed.IncX(1))
			require.NoError(t, d.Insert(t.Context(), seed))

			inUnit := func(fn func(ctx context.Context, repo *es.Repository[*domain.Counter, string]) error) error {
				return uow.Do(t.Context(), func(ctx context.Context) error {
					repo, err := es.RepositoryFor(ctx, d)
					if err != nil {
						return err
					}
					return fn(ctx, repo)
				})
			}

			err = inUnit(func(ctx context.Context, repo *es.Repository[*domain.Counter, string]) error {
				c, err := repo.GetByKey(ctx, key)
				if err != nil {
					return err
				}
				if err := c.IncX(2); err != nil {
					return err
				}
				if err := repo.RemoveByKey(ctx, key); err != nil {
					return err
				}
				return repo.Add(ctx, c)
			})
			require.NoError(t, err)

			c, found, err := d.SelectByKey(t.Context(), key)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, es.Version(3), c.GetVersion())
			require.Equal(t, 3, c.X)

			envs, err := tc.store.Load(t.Context(), "counter", key)
			require.NoError(t, err)
			require.Len(t, envs, 1, "the new stream starts above the removed history")
			require.Equal(t, es.Version(3), envs[0].Version)

			// unchanged re-add
			err = inUnit(func(ctx context.Context, repo *es.Repository[*domain.Counter, string]) error {
				c, err := repo.GetByKey(ctx, key)
				if err != nil {
					return err
				}
				if err := repo.RemoveByKey(ctx, key); err != nil {
					return err
				}
				return repo.Add(ctx, c)
			})
			require.NoError(t, err)

			c, found, err = d.SelectByKey(t.Context(), key)
			require.NoError(t, err)
			require.True(t, found)
			require.Equal(t, es.Version(4), c.GetVersion())
			require.Equal(t, 3, c.X)

			require.NoError(t, c.IncY(1))
			ok, err := d.Update(t.Context(), c, 4)
			require.NoError(t, err)
			require.True(t, ok)

			c, _, err = d.SelectByKey(t.Context(), key)
			require.NoError(t, err)
			require.Equal(t, es.Version(5), c.GetVersion())
			require.Equal(t, 3, c.X)
			require.Equal(t, 1, c.Y)
		})
	}
}

func TestEventSourcedDriver_reAddFailedBaseline(t *testing.T) {
	var (
		ctx   = t.Context()
		store = es.NewInMemoryStore()
		d     = newESDriver(store, es.WithSnapshotter(failingSnapshotter{es.NewInMemorySnapshotter()}))
	)

	a, err := domain.NewCounter("c1")
	require.NoError(t, err)
	require.NoError(t, a.IncX(1))
	require.NoError(t, d.Insert(ctx, a))
	a.ClearUncommitted()

	require.NoError(t, d.Delete(ctx, "c1"))
	err = d.Insert(ctx, a)
	require.ErrorContains(t, err, "baseline snapshot")
	require.Equal(t, es.Version(2), a.GetVersion())

	envs, err := store.Load(ctx, "counter", "c1")
	require.NoError(t, err)
	require.Empty(t, envs, "a stream without its baseline is removed")
}

func TestEventSourcedDriver_missingBaseline(t *testing.T) {
	var (
		ctx   = t.Context()
		store = es.NewInMemoryStore()
	)

	_, err := store.Append(ctx, "counter", "c1", 2, envelopes(t, "c1", 3, 1), es.WithNewStream())
	require.NoError(t, err)

	_, _, err = newESDriver(store).SelectByKey(ctx, "c1")
	require.ErrorIs(t, err, es.ErrReconstruction)
	require.ErrorIs(t, err, es.ErrMissingSnapshot)
}

func TestEventSourcedDriver_deleteEvictsCache(t *testing.T) {
	var (
		ctx   = t.Context()
		store = &failingDeleteStore{EventStore: es.NewInMemoryStore()}
		d     = newESDriver(store,
			es.WithSnapshotEvery(1),
			es.WithSnapshotCacheLRU(16),
		)
	)

	a, err := domain.NewCounter("c1")
	require.NoError(t, err)
	require.NoError(t, d.Insert(ctx, a))

	store.fail = true
	require.Error(t, d.Delete(ctx, "c1"))

	b, found, err := d.SelectByKey(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found, "a failed delete keeps the aggregate")
	require.Equal(t, es.Version(1), b.GetVersion())

	store.fail = false
	require.NoError(t, d.Delete(ctx, "c1"))
	_, found, err = d.SelectByKey(ctx, "c1")
	require.NoError(t, err)
	require.False(t, found)
}

type failingDeleteStore struct {
	es.EventStore
	fail bool
}

func (s *failingDeleteStore) Delete(ctx context.Context, aggType, aggID string) error {
	if s.fail {
		return errors.New("store down")
	}
	return s.EventStore.Delete(ctx, aggType, aggID)
}

func TestEventSourcedDriver_updateConflict(t *testing.T) {
	ctx := t.Context()
	d := newESDriver(es.NewInMemoryStore())

	a, err := domain.NewCounter("c1")
	require.NoError(t, err)
	require.NoError(t, d.Insert(ctx, a))

	x, _, err := d.SelectByKey(ctx, "c1")
	require.NoError(t, err)
	y, _, err := d.SelectByKey(ctx, "c1")
	require.NoError(t, err)

	require.NoError(t, x.IncX(1))
	require.NoError(t, y.IncY(1))

	ok, err := d.Update(ctx, x, 1)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = d.Update(ctx, y, 1)
	require.NoError(t, err)
	require.False(t, ok)

	// version bookkeeping that does not add up is an error, not a conflict
	_, err = d.Update(ctx, y, 0)
	require.Error(t, err)
}

// misroutingStore returns envelopes of another aggregate.
type misroutingStore struct{ es.EventStore }

func (m misroutingStore) Load(ctx context.Context, aggType, _ string, opts ...es.StoreLoadOption) ([]es.Envelope, error) {
	return m.EventStore.Load(ctx, aggType, "other", opts...)
}

func TestEventSourcedDriver_mismatchedEnvelope(t *testing.T) {
	ctx := t.Context()
	store := es.NewInMemoryStore()

	other, err := domain.NewCounter("other")
	require.NoError(t, err)
	require.NoError(t, newESDriver(store).Insert(ctx, other))

	_, _, err = newESDriver(misroutingStore{store}).SelectByKey(ctx, "c1")
	require.ErrorIs(t, err, es.ErrReconstruction)
	require.ErrorIs(t, err, es.ErrMismatchedAggregateKey)
}

func TestEventSourcedDriver_failedSnapshotKeepsEvents(t *testing.T) {
	ctx := t.Context()
	d := newESDriver(es.NewInMemoryStore(),
		es.WithSnapshotter(failingSnapshotter{es.NewInMemorySnapshotter()}),
		es.WithSnapshotEvery(1),
	)

	a, err := domain.NewCounter("c1")
	require.NoError(t, err)
	require.NoError(t, d.Insert(ctx, a))

	b, found, err := d.SelectByKey(ctx, "c1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, es.Version(1), b.GetVersion())
}

type failingSnapshotter struct{ es.Snapshotter }

func (failingSnapshotter) SaveSnapshot(context.Context, *es.Snapshot) error {
	return errors.New("snapshot store down")
}

func TestEventSourcedDriver_withRepository(t *testing.T) {
	var (
		store = es.NewInMemoryStore()
		d     = newESDriver(store, es.WithClock(func() time.Time { return time.Unix(0, 0) }))
	)

	err := uow.Do(t.Context(), func(ctx context.Context) error {
		repo, err := es.RepositoryFor(ctx, d)
		if err != nil {
			return err
		}
		c, err := domain.NewCounter("c1")
		if err != nil {
			return err
		}
		if err := repo.Add(ctx, c); err != nil {
			return err
		}
		return c.IncX(5)
	})
	require.NoError(t, err)

	envs, err := store.Load(t.Context(), "counter", "c1")
	require.NoError(t, err)
	require.Len(t, envs, 2)

	err = uow.Do(t.Context(), func(ctx context.Context) error {
		repo, err := es.RepositoryFor(ctx, d)
		if err != nil {
			return err
		}
		c, err := repo.GetByKey(ctx, "c1")
		if err != nil {
			return err
		}
		require.Equal(t, 5, c.X)
		return repo.RemoveByKey(ctx, "c1")
	})
	require.NoError(t, err)

	envs, err = store.Load(t.Context(), "counter", "c1")
	require.NoError(t, err)
	require.Empty(t, envs)
}
