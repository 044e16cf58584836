package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/aggrepo-go/adapters/nats"
	"github.com/codewandler/aggrepo-go/adapters/redis"
	"github.com/codewandler/aggrepo-go/adapters/sqlstore"
	"github.com/codewandler/aggrepo-go/core/es"
	"github.com/codewandler/aggrepo-go/internal/codec"
	"github.com/codewandler/aggrepo-go/internal/config"
	"github.com/codewandler/aggrepo-go/ports/kv"
)

// backend is the account driver plus everything that must be closed with it.
type backend struct {
	driver  es.Driver[*Account, string]
	closers []func() error
}

func (b *backend) onClose(fn func() error) { b.closers = append(b.closers, fn) }

// Close releases resources in reverse order of acquisition.
func (b *backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func openBackend(ctx context.Context, cfg *config.Config, log *slog.Logger, metrics es.ESMetrics) (_ *backend, err error) {
	b := &backend{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	c, err := codec.ByName(cfg.Snapshots.Codec)
	if err != nil {
		return nil, err
	}

	// store and backendKV are set by event-sourced backends.
	var (
		store     es.EventStore
		backendKV kv.Store
	)

	switch cfg.Backend {
	case config.BackendMemory:
		store = es.NewInMemoryStore(es.WithLog(log))
		backendKV = kv.NewMemStore()

	case config.BackendSQLite, config.BackendPostgres:
		var dbOpts = []sqlstore.Option{sqlstore.WithLog(log)}
		if cfg.Database.MaxOpenConns > 0 {
			dbOpts = append(dbOpts, sqlstore.WithMaxOpenConns(cfg.Database.MaxOpenConns))
		}
		db, err := sqlstore.Open(ctx, cfg.Database.URL, dbOpts...)
		if err != nil {
			return nil, err
		}
		b.onClose(db.Close)
		if err := db.Migrate(ctx); err != nil {
			return nil, err
		}
		if cfg.Database.Mode == config.ModeState {
			b.driver = sqlstore.NewStateDriver[*Account, string](db, newAccount, sqlstore.WithCodec(c))
			log.Info("backend ready", slog.String("backend", cfg.Backend), slog.String("mode", cfg.Database.Mode))
			return b, nil
		}
		store = sqlstore.NewEventStore(db)
		backendKV = sqlstore.NewKvStore(db)

	case config.BackendNATS:
		connect := nats.SharedConnection(nats.ConnectURL(cfg.NATS.URL))
		natsStore, err := nats.NewEventStore(nats.EventStoreConfig{
			Connect:        connect,
			Log:            log,
			SubjectPrefix:  cfg.NATS.SubjectPrefix,
			StreamSubjects: []string{cfg.NATS.StreamSubject},
		})
		if err != nil {
			return nil, fmt.Errorf("nats event store: %w", err)
		}
		b.onClose(natsStore.Close)
		natsKV, err := nats.NewKvStore(nats.KvConfig{Connect: connect, Bucket: cfg.NATS.KvBucket})
		if err != nil {
			return nil, fmt.Errorf("nats kv store: %w", err)
		}
		b.onClose(natsKV.Close)
		store, backendKV = natsStore, natsKV

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	snapshotter, err := openSnapshotter(ctx, cfg, log, b, backendKV)
	if err != nil {
		return nil, err
	}

	driverOpts := []es.DriverOption{
		es.WithLog(log),
		es.WithMetrics(metrics),
		es.WithSnapshotter(snapshotter),
		es.WithSnapshotEvery(es.Version(cfg.Snapshots.Every)),
		es.WithSnapshotCodec(c),
	}
	if cfg.Snapshots.CacheSize > 0 {
		driverOpts = append(driverOpts, es.WithSnapshotCacheLRU(cfg.Snapshots.CacheSize))
	}
	b.driver = es.NewEventSourcedDriver[*Account, string](store, newAccount, accountHandlers, driverOpts...)

	log.Info(
		"backend ready",
		slog.String("backend", cfg.Backend),
		slog.String("snapshots", cfg.Snapshots.Store),
		slog.Uint64("snapshot_every", cfg.Snapshots.Every),
	)
	return b, nil
}

func openSnapshotter(ctx context.Context, cfg *config.Config, log *slog.Logger, b *backend, backendKV kv.Store) (es.Snapshotter, error) {
	var store kv.Store
	switch cfg.Snapshots.Store {
	case "memory":
		if cfg.Snapshots.TTL == 0 {
			return es.NewInMemorySnapshotter(), nil
		}
		store = kv.NewMemStore()
	case "backend":
		store = backendKV
	case "redis":
		rs, err := redis.NewKvStore(ctx, redis.KvConfig{
			URL:       cfg.Redis.URL,
			KeyPrefix: cfg.Redis.KeyPrefix,
			Log:       log,
		})
		if err != nil {
			return nil, fmt.Errorf("redis snapshot store: %w", err)
		}
		b.onClose(rs.Close)
		store = rs
	default:
		return nil, fmt.Errorf("unknown snapshot store %q", cfg.Snapshots.Store)
	}
	return es.NewKeyValueSnapshotter(store, es.WithSnapshotTTL(cfg.Snapshots.TTL)), nil
}
