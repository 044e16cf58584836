package es

import "github.com/codewandler/aggrepo-go/core/metrics"

// Flush write kinds reported to ESMetrics.FlushWrite.
const (
	WriteInsert = "insert"
	WriteUpdate = "update"
	WriteDelete = "delete"
)

// ESMetrics is the metrics surface of repositories, drivers and stores.
// Implementations must be safe for concurrent use.
type ESMetrics interface {
	// Store operations
	StoreLoadDuration(aggType string) metrics.Timer
	StoreAppendDuration(aggType string) metrics.Timer
	EventsAppended(aggType string, count int)

	// Repository operations
	RepoLoadDuration(aggType string) metrics.Timer
	RepoFlushDuration(aggType string) metrics.Timer
	FlushWrite(aggType string, kind string)
	ConcurrencyConflict(aggType string)

	// Identity map
	CacheHit(aggType string)
	CacheMiss(aggType string)

	// Snapshots
	SnapshotLoadDuration(aggType string) metrics.Timer
	SnapshotSaveDuration(aggType string) metrics.Timer
}

type nopESMetrics struct{}

func (nopESMetrics) StoreLoadDuration(string) metrics.Timer   { return metrics.NopTimer() }
func (nopESMetrics) StoreAppendDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) EventsAppended(string, int)               {}

func (nopESMetrics) RepoLoadDuration(string) metrics.Timer  { return metrics.NopTimer() }
func (nopESMetrics) RepoFlushDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) FlushWrite(string, string)              {}
func (nopESMetrics) ConcurrencyConflict(string)             {}

func (nopESMetrics) CacheHit(string)  {}
func (nopESMetrics) CacheMiss(string) {}

func (nopESMetrics) SnapshotLoadDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopESMetrics) SnapshotSaveDuration(string) metrics.Timer { return metrics.NopTimer() }

// NopESMetrics returns a no-op ESMetrics implementation.
func NopESMetrics() ESMetrics { return nopESMetrics{} }
