package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/aggrepo-go/core/es"
	"github.com/codewandler/aggrepo-go/core/metrics"
)

// esMetrics implements es.ESMetrics using Prometheus.
type esMetrics struct {
	// Store metrics
	storeLoadDuration   *prometheus.HistogramVec
	storeAppendDuration *prometheus.HistogramVec
	eventsAppended      *prometheus.CounterVec

	// Repository metrics
	repoLoadDuration     *prometheus.HistogramVec
	repoFlushDuration    *prometheus.HistogramVec
	flushWrites          *prometheus.CounterVec
	concurrencyConflicts *prometheus.CounterVec

	// Identity map metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// Snapshot metrics
	snapshotLoadDuration *prometheus.HistogramVec
	snapshotSaveDuration *prometheus.HistogramVec
}

func latency(name, help string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "es",
		Name:      name,
		Help:      help,
		Buckets:   defaultBuckets,
	}, []string{"aggregate_type"})
}

func counter(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "es",
		Name:      name,
		Help:      help,
	}, append([]string{"aggregate_type"}, labels...))
}

// NewESMetrics creates a new Prometheus implementation of ESMetrics.
func NewESMetrics(reg prometheus.Registerer) es.ESMetrics {
	m := &esMetrics{
		storeLoadDuration:    latency("store_load_duration_seconds", "Event store load latency in seconds"),
		storeAppendDuration:  latency("store_append_duration_seconds", "Event store append latency in seconds"),
		eventsAppended:       counter("events_appended_total", "Total number of events appended"),
		repoLoadDuration:     latency("repo_load_duration_seconds", "Repository driver select latency in seconds"),
		repoFlushDuration:    latency("repo_flush_duration_seconds", "Repository flush latency in seconds"),
		flushWrites:          counter("flush_writes_total", "Driver writes issued by repository flushes", "kind"),
		concurrencyConflicts: counter("concurrency_conflicts_total", "Total number of optimistic lock failures"),
		cacheHits:            counter("cache_hits_total", "Identity map hits"),
		cacheMisses:          counter("cache_misses_total", "Identity map misses"),
		snapshotLoadDuration: latency("snapshot_load_duration_seconds", "Snapshot load latency in seconds"),
		snapshotSaveDuration: latency("snapshot_save_duration_seconds", "Snapshot save latency in seconds"),
	}

	reg.MustRegister(
		m.storeLoadDuration,
		m.storeAppendDuration,
		m.eventsAppended,
		m.repoLoadDuration,
		m.repoFlushDuration,
		m.flushWrites,
		m.concurrencyConflicts,
		m.cacheHits,
		m.cacheMisses,
		m.snapshotLoadDuration,
		m.snapshotSaveDuration,
	)

	return m
}

func (m *esMetrics) StoreLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.storeLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) StoreAppendDuration(aggType string) metrics.Timer {
	return newTimer(m.storeAppendDuration.WithLabelValues(aggType))
}

func (m *esMetrics) EventsAppended(aggType string, count int) {
	m.eventsAppended.WithLabelValues(aggType).Add(float64(count))
}

func (m *esMetrics) RepoLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.repoLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) RepoFlushDuration(aggType string) metrics.Timer {
	return newTimer(m.repoFlushDuration.WithLabelValues(aggType))
}

func (m *esMetrics) FlushWrite(aggType string, kind string) {
	m.flushWrites.WithLabelValues(aggType, kind).Inc()
}

func (m *esMetrics) ConcurrencyConflict(aggType string) {
	m.concurrencyConflicts.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheHit(aggType string) {
	m.cacheHits.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) CacheMiss(aggType string) {
	m.cacheMisses.WithLabelValues(aggType).Inc()
}

func (m *esMetrics) SnapshotLoadDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotLoadDuration.WithLabelValues(aggType))
}

func (m *esMetrics) SnapshotSaveDuration(aggType string) metrics.Timer {
	return newTimer(m.snapshotSaveDuration.WithLabelValues(aggType))
}

var _ es.ESMetrics = (*esMetrics)(nil)
