package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/aggrepo-go/core/metrics"
	"github.com/codewandler/aggrepo-go/core/uow"
)

// uowMetrics implements uow.Metrics using Prometheus.
type uowMetrics struct {
	scopes        *prometheus.CounterVec
	completions   *prometheus.CounterVec
	aborts        prometheus.Counter
	flushDuration prometheus.Histogram
	unitsFlushed  prometheus.Histogram
}

// NewUOWMetrics creates a new Prometheus implementation of uow.Metrics.
func NewUOWMetrics(reg prometheus.Registerer) uow.Metrics {
	m := &uowMetrics{
		scopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "scopes_total",
			Help:      "Scopes begun, by whether they own the unit of work",
		}, []string{"owner"}),

		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "completions_total",
			Help:      "Owner scope completions",
		}, []string{"success"}),

		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "aborts_total",
			Help:      "Units of work aborted by a scope closed without completing",
		}),

		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "flush_duration_seconds",
			Help:      "Unit of work flush latency in seconds",
			Buckets:   defaultBuckets,
		}),

		unitsFlushed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "units_flushed",
			Help:      "Enlisted units flushed per unit of work",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),
	}

	reg.MustRegister(m.scopes, m.completions, m.aborts, m.flushDuration, m.unitsFlushed)
	return m
}

func (m *uowMetrics) ScopeStarted(owner bool) {
	m.scopes.WithLabelValues(boolToStr(owner)).Inc()
}

func (m *uowMetrics) Completed(success bool) {
	m.completions.WithLabelValues(boolToStr(success)).Inc()
}

func (m *uowMetrics) Aborted() { m.aborts.Inc() }

func (m *uowMetrics) FlushDuration() metrics.Timer { return newTimer(m.flushDuration) }

func (m *uowMetrics) UnitsFlushed(n int) { m.unitsFlushed.Observe(float64(n)) }

var _ uow.Metrics = (*uowMetrics)(nil)
