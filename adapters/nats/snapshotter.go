package nats

import (
	"github.com/codewandler/aggrepo-go/core/es"
)

// NewSnapshotter creates a snapshotter on a JetStream key-value bucket.
func NewSnapshotter(cfg KvConfig, opts ...es.KeyValueSnapshotterOption) (*es.KeyValueSnapshotter, error) {
	store, err := NewKvStore(cfg)
	if err != nil {
		return nil, err
	}
	return es.NewKeyValueSnapshotter(store, opts...), nil
}
