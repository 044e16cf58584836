package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/aggrepo-go/ports/kv"
)

type KvConfig struct {
	Connect Connector
	Bucket  string
	// TTL applies to every key of the bucket. JetStream has no per-put TTL,
	// so kv.PutOptions.TTL is ignored.
	TTL      time.Duration
	MaxBytes int64
}

// KvStore is a kv.Store backed by a JetStream key-value bucket.
type KvStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}
	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 64 * 1024 * 1024
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		TTL:      cfg.TTL,
		MaxBytes: maxBytes,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
	}

	return &KvStore{kv: bucket, closeNc: closeNc}, nil
}

// entry is the stored form of kv.Entry.
type entry struct {
	Data []byte         `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

func (k *KvStore) Put(ctx context.Context, key string, e kv.Entry, _ kv.PutOptions) error {
	data, err := json.Marshal(entry{Data: e.Data, Meta: e.Meta})
	if err != nil {
		return err
	}
	if _, err = k.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.kv.Get(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return kv.Entry{}, kv.ErrNotFound
	} else if err != nil {
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	var e entry
	if err := json.Unmarshal(v.Value(), &e); err != nil {
		return kv.Entry{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return kv.Entry{Data: e.Data, Meta: e.Meta}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	err := k.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Close() error {
	k.closeNc()
	return nil
}

var _ kv.Store = (*KvStore)(nil)
