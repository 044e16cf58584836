// Package sf wraps golang.org/x/sync/singleflight with typed results.
//
// Callers that ask for the same key while a call is running wait for that
// call and share its result. Once the call returns the key is free again, so
// sf never caches; pair it with a cache when results should outlive the call.
//
//	loads := sf.New[Snapshot]()
//	snap, err := loads.Do("counter/c1", func() (*Snapshot, error) {
//		return readSnapshot(ctx, "counter/c1")
//	})
package sf
