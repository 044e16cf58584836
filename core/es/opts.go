package es

import (
	"log/slog"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/aggrepo-go/core/cache"
	"github.com/codewandler/aggrepo-go/internal/codec"
)

// IDGenerator generates envelope ids.
type IDGenerator func() string

// DefaultIDGenerator returns the nanoid based generator.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

// Clock supplies timestamps for snapshots.
type Clock func() time.Time

type (
	valueOption[T any] struct{ v T }

	LogOption              valueOption[*slog.Logger]
	ESMetricsOption        valueOption[ESMetrics]
	AggTypeOption          valueOption[string]
	FlushConcurrencyOption valueOption[int]
	SnapshotterOption      valueOption[Snapshotter]
	SnapshotEveryOption    valueOption[Version]
	SnapshotCacheOption    valueOption[cache.Cache]
	SnapshotCodecOption    valueOption[codec.Codec]
	IDGeneratorOption      valueOption[IDGenerator]
	ClockOption            valueOption[Clock]

	RepositoryOption   interface{ applyToRepository(*repoOptions) }
	DriverOption       interface{ applyToDriver(*driverOptions) }
	MemoryDriverOption interface{ applyToMemoryDriver(*memoryDriverOptions) }
	StoreOption        interface{ applyToStore(*storeOptions) }
)

func WithLog(l *slog.Logger) LogOption                { return LogOption{v: l} }
func WithMetrics(m ESMetrics) ESMetricsOption         { return ESMetricsOption{v: m} }
func WithAggType(name string) AggTypeOption           { return AggTypeOption{v: name} }
func WithSnapshotter(s Snapshotter) SnapshotterOption { return SnapshotterOption{v: s} }

// WithFlushConcurrency lets a repository issue up to n entry writes at once.
// Drivers implementing Transactor always flush sequentially.
func WithFlushConcurrency(n int) FlushConcurrencyOption { return FlushConcurrencyOption{v: n} }

// WithSnapshotEvery stores a snapshot whenever a write crosses a multiple of n versions.
func WithSnapshotEvery(n Version) SnapshotEveryOption { return SnapshotEveryOption{v: n} }

func WithSnapshotCache(c cache.Cache) SnapshotCacheOption { return SnapshotCacheOption{v: c} }
func WithSnapshotCacheLRU(size int) SnapshotCacheOption {
	return WithSnapshotCache(cache.NewLRU(cache.LRUOpts{Size: size}))
}

func WithSnapshotCodec(c codec.Codec) SnapshotCodecOption { return SnapshotCodecOption{v: c} }
func WithIDGenerator(gen IDGenerator) IDGeneratorOption   { return IDGeneratorOption{v: gen} }
func WithClock(c Clock) ClockOption                       { return ClockOption{v: c} }

// === repository ===

type repoOptions struct {
	log         *slog.Logger
	metrics     ESMetrics
	aggType     string
	concurrency int
}

func (o LogOption) applyToRepository(r *repoOptions)              { r.log = o.v }
func (o ESMetricsOption) applyToRepository(r *repoOptions)        { r.metrics = o.v }
func (o AggTypeOption) applyToRepository(r *repoOptions)          { r.aggType = o.v }
func (o FlushConcurrencyOption) applyToRepository(r *repoOptions) { r.concurrency = o.v }

func newRepoOptions(opts ...RepositoryOption) repoOptions {
	o := repoOptions{
		log:         slog.Default(),
		metrics:     NopESMetrics(),
		concurrency: 1,
	}
	for _, opt := range opts {
		opt.applyToRepository(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	return o
}

// === event sourced driver ===

type driverOptions struct {
	log           *slog.Logger
	metrics       ESMetrics
	snapshotter   Snapshotter
	snapshotEvery Version
	cache         cache.Cache
	codec         codec.Codec
	idGenerator   IDGenerator
	clock         Clock
}

func (o LogOption) applyToDriver(d *driverOptions)           { d.log = o.v }
func (o ESMetricsOption) applyToDriver(d *driverOptions)     { d.metrics = o.v }
func (o SnapshotterOption) applyToDriver(d *driverOptions)   { d.snapshotter = o.v }
func (o SnapshotEveryOption) applyToDriver(d *driverOptions) { d.snapshotEvery = o.v }
func (o SnapshotCacheOption) applyToDriver(d *driverOptions) { d.cache = o.v }
func (o SnapshotCodecOption) applyToDriver(d *driverOptions) { d.codec = o.v }
func (o IDGeneratorOption) applyToDriver(d *driverOptions)   { d.idGenerator = o.v }
func (o ClockOption) applyToDriver(d *driverOptions)         { d.clock = o.v }

func newDriverOptions(opts ...DriverOption) driverOptions {
	o := driverOptions{
		log:         slog.Default(),
		metrics:     NopESMetrics(),
		snapshotter: NewInMemorySnapshotter(),
		cache:       cache.NewNop(),
		codec:       codec.JSONCodec{},
		idGenerator: DefaultIDGenerator(),
		clock:       time.Now,
	}
	for _, opt := range opts {
		opt.applyToDriver(&o)
	}
	return o
}

// === memory driver ===

type memoryDriverOptions struct {
	codec codec.Codec
	clock Clock
}

func (o SnapshotCodecOption) applyToMemoryDriver(m *memoryDriverOptions) { m.codec = o.v }
func (o ClockOption) applyToMemoryDriver(m *memoryDriverOptions)         { m.clock = o.v }

func newMemoryDriverOptions(opts ...MemoryDriverOption) memoryDriverOptions {
	o := memoryDriverOptions{codec: codec.JSONCodec{}, clock: time.Now}
	for _, opt := range opts {
		opt.applyToMemoryDriver(&o)
	}
	return o
}

// === store ===

type storeOptions struct {
	log *slog.Logger
}

func (o LogOption) applyToStore(s *storeOptions) { s.log = o.v }

func newStoreOptions(opts ...StoreOption) storeOptions {
	o := storeOptions{log: slog.Default()}
	for _, opt := range opts {
		opt.applyToStore(&o)
	}
	return o
}
