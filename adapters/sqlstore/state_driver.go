package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/codewandler/aggrepo-go/core/es"
	"github.com/codewandler/aggrepo-go/internal/codec"
)

type DriverOption func(*driverOptions)

type driverOptions struct {
	codec codec.Codec
	clock func() time.Time
}

// WithCodec sets the state encoding. Defaults to JSON.
func WithCodec(c codec.Codec) DriverOption { return func(o *driverOptions) { o.codec = c } }

func WithClock(clock func() time.Time) DriverOption {
	return func(o *driverOptions) { o.clock = clock }
}

// StateDriver stores the encoded current state of each aggregate in one row
// of aggrepo_state. Updates are guarded by the stored version. It implements
// es.Transactor, so a repository flushes all its writes in one transaction.
type StateDriver[T es.Aggregate[K], K comparable] struct {
	db      *DB
	newFn   func() T
	aggType string
	options driverOptions
	log     *slog.Logger
}

func NewStateDriver[T es.Aggregate[K], K comparable](db *DB, newFn func() T, opts ...DriverOption) *StateDriver[T, K] {
	o := driverOptions{codec: codec.JSONCodec{}, clock: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	aggType := newFn().GetAggType()
	return &StateDriver[T, K]{
		db:      db,
		newFn:   newFn,
		aggType: aggType,
		options: o,
		log:     db.log.With(slog.String("driver", "sql"), slog.String("agg_type", aggType)),
	}
}

func (d *StateDriver[T, K]) GetAggType() string { return d.aggType }

func (d *StateDriver[T, K]) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return d.db.WithinTransaction(ctx, fn)
}

func (d *StateDriver[T, K]) SelectByKey(ctx context.Context, key K) (agg T, found bool, err error) {
	snap := es.Snapshot{ObjType: d.aggType, ObjID: es.KeyString(key)}
	err = d.db.queryRow(ctx,
		`SELECT version, encoding, data FROM aggrepo_state WHERE agg_type = ? AND agg_key = ?`,
		snap.ObjType, snap.ObjID,
	).Scan(&snap.ObjVersion, &snap.Encoding, &snap.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return agg, false, nil
	} else if err != nil {
		return agg, false, fmt.Errorf("select %s %s: %w", d.aggType, snap.ObjID, err)
	}
	snap.SnapshotID = snap.ObjType + "/" + snap.ObjID

	agg, err = es.Reconstruct[T, K](d.newFn, nil, &snap, nil)
	if err != nil {
		return agg, false, err
	}
	agg.SetKey(key)
	return agg, true, nil
}

func (d *StateDriver[T, K]) Insert(ctx context.Context, agg T) error {
	snap, err := es.CreateSnapshot[K](agg, d.options.codec)
	if err != nil {
		return err
	}
	res, err := d.db.exec(ctx,
		`INSERT INTO aggrepo_state (agg_type, agg_key, version, encoding, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (agg_type, agg_key) DO NOTHING`,
		d.aggType, snap.ObjID, int64(snap.ObjVersion), snap.Encoding, snap.Data, d.options.clock().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", d.aggType, snap.ObjID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return &es.DuplicateKeyError[K]{AggType: d.aggType, Key: agg.GetKey()}
	}
	d.log.Debug("insert", slog.String("key", snap.ObjID), snap.ObjVersion.SlogAttr())
	return nil
}

func (d *StateDriver[T, K]) Update(ctx context.Context, agg T, originalVersion es.Version) (bool, error) {
	snap, err := es.CreateSnapshot[K](agg, d.options.codec)
	if err != nil {
		return false, err
	}
	res, err := d.db.exec(ctx,
		`UPDATE aggrepo_state SET version = ?, encoding = ?, data = ?, updated_at = ?
		WHERE agg_type = ? AND agg_key = ? AND version = ?`,
		int64(snap.ObjVersion), snap.Encoding, snap.Data, d.options.clock().UnixNano(),
		d.aggType, snap.ObjID, int64(originalVersion),
	)
	if err != nil {
		return false, fmt.Errorf("update %s %s: %w", d.aggType, snap.ObjID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		d.log.Debug("update lost", slog.String("key", snap.ObjID), originalVersion.SlogAttrWithKey("expected"))
		return false, nil
	}
	return true, nil
}

func (d *StateDriver[T, K]) Delete(ctx context.Context, key K) error {
	id := es.KeyString(key)
	if _, err := d.db.exec(ctx,
		`DELETE FROM aggrepo_state WHERE agg_type = ? AND agg_key = ?`, d.aggType, id,
	); err != nil {
		return fmt.Errorf("delete %s %s: %w", d.aggType, id, err)
	}
	return nil
}

