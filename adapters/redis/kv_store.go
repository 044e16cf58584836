// Package redis provides a kv.Store on Redis. Per-entry TTLs map to key
// expiry, so the store suits snapshots that should age out.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/codewandler/aggrepo-go/ports/kv"
)

type KvConfig struct {
	// Addr is host:port. Ignored when URL is set.
	Addr string
	// URL is a redis:// or rediss:// URL.
	URL      string
	Password string
	DB       int
	// KeyPrefix is prepended to every key.
	KeyPrefix   string
	DialTimeout time.Duration
	Log         *slog.Logger
}

func (c KvConfig) options() (*goredis.Options, error) {
	var opts *goredis.Options
	if c.URL != "" {
		var err error
		if opts, err = goredis.ParseURL(c.URL); err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
	} else {
		if c.Addr == "" {
			return nil, errors.New("redis addr or url is required")
		}
		opts = &goredis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}
	}
	opts.DialTimeout = c.DialTimeout
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	return opts, nil
}

type KvStore struct {
	rdb    *goredis.Client
	prefix string
	log    *slog.Logger
}

// NewKvStore connects and pings the server.
func NewKvStore(ctx context.Context, cfg KvConfig) (*KvStore, error) {
	opts, err := cfg.options()
	if err != nil {
		return nil, err
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}

	rdb := goredis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &KvStore{
		rdb:    rdb,
		prefix: cfg.KeyPrefix,
		log:    cfg.Log.With(slog.String("kv", "redis"), slog.String("addr", opts.Addr)),
	}, nil
}

// entry is the stored form of kv.Entry.
type entry struct {
	Data []byte         `json:"data"`
	Meta map[string]any `json:"meta,omitempty"`
}

func (k *KvStore) Put(ctx context.Context, key string, e kv.Entry, opts kv.PutOptions) error {
	data, err := json.Marshal(entry{Data: e.Data, Meta: e.Meta})
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := k.rdb.Set(ctx, k.prefix+key, data, opts.TTL).Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	data, err := k.rdb.Get(ctx, k.prefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return kv.Entry{}, kv.ErrNotFound
	} else if err != nil {
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return kv.Entry{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return kv.Entry{Data: e.Data, Meta: e.Meta}, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if err := k.rdb.Del(ctx, k.prefix+key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// TTL returns the remaining lifetime of key. It is negative when the key does
// not expire.
func (k *KvStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := k.rdb.TTL(ctx, k.prefix+key).Result()
	if err != nil {
		return 0, err
	}
	if d == -2 {
		return 0, kv.ErrNotFound
	}
	return d, nil
}

func (k *KvStore) Close() error {
	k.log.Debug("closing")
	return k.rdb.Close()
}

var _ kv.Store = (*KvStore)(nil)
