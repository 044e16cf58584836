package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/codewandler/aggrepo-go/ports/kv"
)

// KvStore is a kv.Store on the aggrepo_kv table. Per-entry TTLs are honoured;
// expired rows are skipped on read and removed by Sweep.
type KvStore struct {
	db  *DB
	now func() time.Time
}

func NewKvStore(db *DB) *KvStore {
	return &KvStore{db: db, now: time.Now}
}

func (k *KvStore) Put(ctx context.Context, key string, e kv.Entry, opts kv.PutOptions) error {
	var meta string
	if len(e.Meta) > 0 {
		b, err := json.Marshal(e.Meta)
		if err != nil {
			return fmt.Errorf("encode meta of %s: %w", key, err)
		}
		meta = string(b)
	}
	var expiresAt int64
	if opts.TTL > 0 {
		expiresAt = k.now().Add(opts.TTL).UnixNano()
	}
	if _, err := k.db.exec(ctx,
		`INSERT INTO aggrepo_kv (kv_key, data, meta, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (kv_key) DO UPDATE SET data = excluded.data, meta = excluded.meta, expires_at = excluded.expires_at`,
		key, e.Data, meta, expiresAt,
	); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	var (
		e         kv.Entry
		meta      string
		expiresAt int64
	)
	err := k.db.queryRow(ctx,
		`SELECT data, meta, expires_at FROM aggrepo_kv WHERE kv_key = ?`, key,
	).Scan(&e.Data, &meta, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return kv.Entry{}, kv.ErrNotFound
	} else if err != nil {
		return kv.Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	if expiresAt > 0 && k.now().UnixNano() >= expiresAt {
		return kv.Entry{}, kv.ErrNotFound
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &e.Meta); err != nil {
			return kv.Entry{}, fmt.Errorf("decode meta of %s: %w", key, err)
		}
	}
	return e, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if _, err := k.db.exec(ctx, `DELETE FROM aggrepo_kv WHERE kv_key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (k *KvStore) Sweep(ctx context.Context) (int64, error) {
	res, err := k.db.exec(ctx,
		`DELETE FROM aggrepo_kv WHERE expires_at > 0 AND expires_at <= ?`, k.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	return res.RowsAffected()
}

var _ kv.Store = (*KvStore)(nil)
