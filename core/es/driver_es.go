package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/aggrepo-go/core/cache"
	"github.com/codewandler/aggrepo-go/core/reflector"
)

// EventSourcedDriver stores aggregates as event streams in an EventStore and
// rebuilds them from the latest snapshot plus the events after it.
//
//   - Insert appends the uncommitted events to a new stream. An aggregate that
//     already has history (removed and added again) starts its stream above
//     version 1 with a snapshot of its state as the baseline.
//   - Update appends them expecting the stream to end at the original version.
//   - Delete removes the stream and its snapshot.
//
// Snapshots are written when WithSnapshotEvery is set and a write crosses a
// multiple of its interval.
type EventSourcedDriver[T Aggregate[K], K comparable] struct {
	store     EventStore
	newFn     func() T
	handlers  *EventHandlers[T]
	aggType   string
	options   driverOptions
	snapshots cache.TypedCache[*Snapshot]
	log       *slog.Logger
}

func NewEventSourcedDriver[T Aggregate[K], K comparable](
	store EventStore,
	newFn func() T,
	handlers *EventHandlers[T],
	opts ...DriverOption,
) *EventSourcedDriver[T, K] {
	options := newDriverOptions(opts...)
	aggType := newFn().GetAggType()
	return &EventSourcedDriver[T, K]{
		store:     store,
		newFn:     newFn,
		handlers:  handlers,
		aggType:   aggType,
		options:   options,
		snapshots: cache.NewTyped[*Snapshot](options.cache),
		log:       options.log.With(slog.String("driver", "es"), slog.String("agg_type", aggType)),
	}
}

func (d *EventSourcedDriver[T, K]) GetAggType() string { return d.aggType }

func (d *EventSourcedDriver[T, K]) SelectByKey(ctx context.Context, key K) (agg T, found bool, err error) {
	id := KeyString(key)

	snap, err := d.loadSnapshot(ctx, id)
	if err != nil {
		return agg, false, err
	}

	from := Version(1)
	if snap != nil {
		from = snap.ObjVersion + 1
	}
	timer := d.options.metrics.StoreLoadDuration(d.aggType)
	envs, err := d.store.Load(ctx, d.aggType, id, WithStartAtVersion(from))
	timer.ObserveDuration()
	if err != nil {
		return agg, false, fmt.Errorf("load %s %s: %w", d.aggType, id, err)
	}
	if snap == nil && len(envs) == 0 {
		return agg, false, nil
	}
	if snap == nil && envs[0].Version != 1 {
		return agg, false, reconstructionError(ErrMissingSnapshot,
			"stream %s %s starts at v%d", d.aggType, id, envs[0].Version)
	}

	events := make([]DomainEvent[K], 0, len(envs))
	for _, env := range envs {
		e, err := Open(d.handlers, key, env)
		if err != nil {
			return agg, false, err
		}
		events = append(events, e)
	}

	agg, err = Reconstruct(d.newFn, d.handlers, snap, events)
	if err != nil {
		return agg, false, err
	}

	d.log.Debug(
		"selected",
		slog.Group("agg", slog.String("id", id), agg.GetVersion().SlogAttr()),
		slog.Bool("snapshot", snap != nil),
		slog.Int("events", len(events)),
	)
	return agg, true, nil
}

func (d *EventSourcedDriver[T, K]) Insert(ctx context.Context, agg T) error {
	id := KeyString(agg.GetKey())
	events := agg.Uncommitted()
	if len(events) == 0 && agg.GetVersion() == 0 {
		return fmt.Errorf("insert %s %s: %w", d.aggType, id, ErrStoreNoEvents)
	}

	restored := len(events) == 0
	if restored {
		events = []DomainEvent[K]{{
			Key:        agg.GetKey(),
			Version:    agg.GetVersion() + 1,
			Type:       reflector.NameFor[AggregateRestored](),
			OccurredAt: d.options.clock(),
			Payload:    &AggregateRestored{RestoredAt: d.options.clock()},
		}}
	}
	base := events[0].Version - 1

	err := d.append(ctx, agg, base, events, WithNewStream())
	if errors.Is(err, ErrConcurrencyConflict) {
		return &DuplicateKeyError[K]{AggType: d.aggType, Key: agg.GetKey()}
	} else if err != nil {
		return err
	}
	if restored {
		agg.setVersion(base + 1)
	}

	if base == 0 {
		d.maybeSnapshot(ctx, agg, base)
		return nil
	}

	// events below base are gone; without the baseline the stream cannot be
	// replayed, so a failed snapshot undoes the insert
	if err := d.saveSnapshot(ctx, agg); err != nil {
		if delErr := d.store.Delete(ctx, d.aggType, id); delErr != nil {
			err = errors.Join(err, fmt.Errorf("undo insert: %w", delErr))
		}
		if restored {
			agg.setVersion(base)
		}
		return fmt.Errorf("insert %s %s: baseline snapshot: %w", d.aggType, id, err)
	}
	return nil
}

func (d *EventSourcedDriver[T, K]) Update(ctx context.Context, agg T, originalVersion Version) (bool, error) {
	uncommitted := agg.Uncommitted()
	if originalVersion+Version(len(uncommitted)) != agg.GetVersion() {
		return false, fmt.Errorf(
			"update %s %s: %d uncommitted events do not lead from version %d to %d",
			d.aggType, KeyString(agg.GetKey()), len(uncommitted), originalVersion, agg.GetVersion(),
		)
	}
	if len(uncommitted) == 0 {
		return true, nil
	}
	err := d.append(ctx, agg, originalVersion, uncommitted)
	if errors.Is(err, ErrConcurrencyConflict) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	d.maybeSnapshot(ctx, agg, originalVersion)
	return true, nil
}

// Delete removes the stream, then the snapshot. The cached snapshot is
// evicted once the stream is gone, so a concurrent load cannot keep it.
func (d *EventSourcedDriver[T, K]) Delete(ctx context.Context, key K) error {
	id := KeyString(key)
	if err := d.store.Delete(ctx, d.aggType, id); err != nil {
		return fmt.Errorf("delete %s %s: %w", d.aggType, id, err)
	}
	defer d.snapshots.Delete(snapshotKey(d.aggType, id))
	if err := d.options.snapshotter.DeleteSnapshot(ctx, d.aggType, id); err != nil {
		return fmt.Errorf("delete snapshot %s %s: %w", d.aggType, id, err)
	}
	d.log.Debug("deleted", slog.Group("agg", slog.String("id", id)))
	return nil
}

func (d *EventSourcedDriver[T, K]) append(
	ctx context.Context,
	agg T,
	expect Version,
	events []DomainEvent[K],
	opts ...StoreAppendOption,
) error {
	id := KeyString(agg.GetKey())

	envs := make([]Envelope, 0, len(events))
	for _, e := range events {
		env, err := Seal(d.options.idGenerator(), d.aggType, e)
		if err != nil {
			return err
		}
		envs = append(envs, env)
	}

	timer := d.options.metrics.StoreAppendDuration(d.aggType)
	_, err := d.store.Append(ctx, d.aggType, id, expect, envs, opts...)
	timer.ObserveDuration()
	if err != nil {
		return err
	}
	d.options.metrics.EventsAppended(d.aggType, len(envs))

	d.log.Debug(
		"appended",
		slog.Group("agg", slog.String("id", id), envs[len(envs)-1].Version.SlogAttr()),
		expect.SlogAttrWithKey("expected"),
		slog.Int("events", len(envs)),
	)
	return nil
}

// maybeSnapshot stores a snapshot when the write crossed an interval boundary.
// The events are already committed, so a failed snapshot is only logged.
func (d *EventSourcedDriver[T, K]) maybeSnapshot(ctx context.Context, agg T, from Version) {
	every := d.options.snapshotEvery
	if every == 0 || from/every == agg.GetVersion()/every {
		return
	}
	if err := d.saveSnapshot(ctx, agg); err != nil {
		d.log.Warn("snapshot failed", slog.String("id", KeyString(agg.GetKey())), slog.Any("error", err))
	}
}

func (d *EventSourcedDriver[T, K]) saveSnapshot(ctx context.Context, agg T) error {
	snap, err := CreateSnapshot[K](agg, d.options.codec)
	if err != nil {
		return err
	}
	snap.CreatedAt = d.options.clock()
	timer := d.options.metrics.SnapshotSaveDuration(d.aggType)
	err = d.options.snapshotter.SaveSnapshot(ctx, snap)
	timer.ObserveDuration()
	if err != nil {
		return err
	}
	d.snapshots.Put(snapshotKey(d.aggType, snap.ObjID), snap)
	d.log.Debug("snapshot saved", snap.logAttrs())
	return nil
}

func (d *EventSourcedDriver[T, K]) loadSnapshot(ctx context.Context, id string) (*Snapshot, error) {
	ck := snapshotKey(d.aggType, id)
	if snap, ok := d.snapshots.Get(ck); ok {
		return snap, nil
	}

	timer := d.options.metrics.SnapshotLoadDuration(d.aggType)
	snap, err := d.options.snapshotter.LoadSnapshot(ctx, d.aggType, id)
	timer.ObserveDuration()
	if errors.Is(err, ErrSnapshotNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", ck, err)
	}
	d.snapshots.Put(ck, snap)
	return snap, nil
}
