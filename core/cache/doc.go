// Package cache provides a small key-value cache used as a read-through layer
// in front of snapshot stores.
//
// [Cache] stores values as any; [NewTyped] wraps it with a type parameter.
// [LRU] is size bounded, supports per-entry TTLs via [WithTTL] and is safe for
// concurrent use. [Nop] never stores anything and is the default when no cache
// is configured.
//
//	snapshots := cache.NewTyped[*es.Snapshot](cache.NewLRU(cache.LRUOpts{Size: 1024}))
//	snapshots.Put("account/acc-1", snap, cache.WithTTL(time.Minute))
//
// Expired entries are evicted lazily when read.
package cache
