package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/aggrepo-go/core/sf"
	"github.com/codewandler/aggrepo-go/ports/kv"
)

// KeyValueSnapshotter keeps snapshots in a kv.Store under "<prefix><type>/<id>".
// Concurrent loads of the same snapshot share one store read.
type KeyValueSnapshotter struct {
	store  kv.Store
	prefix string
	ttl    time.Duration
	loads  *sf.Singleflight[Snapshot]
}

func NewKeyValueSnapshotter(store kv.Store, opts ...KeyValueSnapshotterOption) *KeyValueSnapshotter {
	s := &KeyValueSnapshotter{
		store:  store,
		prefix: "snapshot.",
		loads:  sf.New[Snapshot](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type KeyValueSnapshotterOption func(*KeyValueSnapshotter)

// WithKeyPrefix sets the key prefix. Use a prefix valid for the backing store.
func WithKeyPrefix(prefix string) KeyValueSnapshotterOption {
	return func(s *KeyValueSnapshotter) { s.prefix = prefix }
}

// WithSnapshotTTL lets snapshots expire in stores that support per-entry TTLs.
// An expired snapshot only costs a longer replay.
func WithSnapshotTTL(ttl time.Duration) KeyValueSnapshotterOption {
	return func(s *KeyValueSnapshotter) { s.ttl = ttl }
}

func (s *KeyValueSnapshotter) key(objType, objID string) string {
	return s.prefix + snapshotKey(objType, objID)
}

func (s *KeyValueSnapshotter) SaveSnapshot(ctx context.Context, snapshot *Snapshot) error {
	key := s.key(snapshot.ObjType, snapshot.ObjID)
	defer s.loads.Forget(key)
	return kv.Put(ctx, s.store, key, snapshot, kv.PutOptions{TTL: s.ttl})
}

func (s *KeyValueSnapshotter) LoadSnapshot(ctx context.Context, objType, objID string) (*Snapshot, error) {
	key := s.key(objType, objID)
	snap, _, err := s.loads.DoContext(ctx, key, func() (*Snapshot, error) {
		entry, err := s.store.Get(ctx, key)
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		} else if err != nil {
			return nil, err
		}
		var snap Snapshot
		if err := json.Unmarshal(entry.Data, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot %s: %w", key, err)
		}
		return &snap, nil
	})
	return snap, err
}

func (s *KeyValueSnapshotter) DeleteSnapshot(ctx context.Context, objType, objID string) error {
	key := s.key(objType, objID)
	defer s.loads.Forget(key)
	err := s.store.Delete(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return err
}

var _ Snapshotter = (*KeyValueSnapshotter)(nil)
