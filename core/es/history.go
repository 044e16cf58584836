package es

import (
	"cmp"
	"slices"
)

// History is the input of a reconstruction: an optional snapshot plus the
// events recorded after it, in any order.
type History[T Aggregate[K], K comparable] struct {
	Snapshot *Snapshot
	Events   []DomainEvent[K]
}

// Validate checks the history before anything is applied: one key across
// all events (matching the snapshot), unique versions and no event at or
// below the snapshot version.
func (h History[T, K]) Validate() error {
	if len(h.Events) == 0 {
		return nil
	}

	key := h.Events[0].Key
	for _, e := range h.Events[1:] {
		if e.Key != key {
			return reconstructionError(ErrMismatchedAggregateKey,
				"event v%d has key %q, want %q", e.Version, KeyString(e.Key), KeyString(key))
		}
	}
	if h.Snapshot != nil && h.Snapshot.ObjID != KeyString(key) {
		return reconstructionError(ErrMismatchedAggregateKey,
			"events have key %q, snapshot has %q", KeyString(key), h.Snapshot.ObjID)
	}

	seen := make(map[Version]struct{}, len(h.Events))
	for _, e := range h.Events {
		if _, ok := seen[e.Version]; ok {
			return reconstructionError(ErrDuplicateVersion, "version %d occurs twice", e.Version)
		}
		seen[e.Version] = struct{}{}
	}

	if h.Snapshot != nil {
		for _, e := range h.Events {
			if e.Version <= h.Snapshot.ObjVersion {
				return reconstructionError(ErrEventPrecedesSnapshot,
					"event v%d, snapshot v%d", e.Version, h.Snapshot.ObjVersion)
			}
		}
	}
	return nil
}

// Sorted returns the events ordered by ascending version. The receiver is
// left untouched.
func (h History[T, K]) Sorted() []DomainEvent[K] {
	out := slices.Clone(h.Events)
	slices.SortFunc(out, func(a, b DomainEvent[K]) int { return cmp.Compare(a.Version, b.Version) })
	return out
}

// Replay validates the history and builds the aggregate: restored from the
// snapshot (or blank from newFn), with every event applied in version order.
// The result is at the last event's version, or the snapshot's when there are
// no events. Handlers may be nil, in which case agg.Apply is used.
func (h History[T, K]) Replay(newFn func() T, handlers *EventHandlers[T]) (T, error) {
	var zero T
	if newFn == nil {
		return zero, reconstructionError(ErrNoAggregateFactory, "aggregate needs a constructor")
	}
	if err := h.Validate(); err != nil {
		return zero, err
	}
	events := h.Sorted()

	agg := newFn()
	if h.Snapshot != nil {
		if err := RestoreSnapshot(agg, h.Snapshot); err != nil {
			return zero, reconstructionError(err, "restore snapshot %s", h.Snapshot.SnapshotID)
		}
	}

	if len(events) > 0 && isZeroKey(agg.GetKey()) {
		agg.SetKey(events[0].Key)
	} else if h.Snapshot != nil && isZeroKey(agg.GetKey()) {
		if key, ok := keyFromString[K](h.Snapshot.ObjID); ok {
			agg.SetKey(key)
		}
	}

	for _, e := range events {
		var err error
		if handlers != nil {
			err = handlers.Apply(agg, e.Payload)
		} else {
			err = agg.Apply(e.Payload)
		}
		if err != nil {
			return zero, reconstructionError(err, "apply %s at v%d", e.Type, e.Version)
		}
		agg.setVersion(e.Version)
	}

	return agg, nil
}

// Reconstruct is History{snapshot, events}.Replay(newFn, handlers).
func Reconstruct[T Aggregate[K], K comparable](
	newFn func() T,
	handlers *EventHandlers[T],
	snapshot *Snapshot,
	events []DomainEvent[K],
) (T, error) {
	return History[T, K]{Snapshot: snapshot, Events: events}.Replay(newFn, handlers)
}
