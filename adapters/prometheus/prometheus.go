// Package prometheus provides Prometheus implementations of the es and uow
// metrics interfaces.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/aggrepo-go/core/metrics"
)

const namespace = "aggrepo"

// timer wraps a Prometheus histogram to implement the Timer interface.
type timer struct {
	h     prometheus.Observer
	start time.Time
}

func newTimer(h prometheus.Observer) metrics.Timer {
	return &timer{h: h, start: time.Now()}
}

func (t *timer) ObserveDuration() {
	t.h.Observe(time.Since(t.start).Seconds())
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// AllMetrics holds the Prometheus metrics of both layers.
type AllMetrics struct {
	ES  *esMetrics
	UOW *uowMetrics
}

// NewAllMetrics registers the repository and unit-of-work metrics on reg.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		ES:  NewESMetrics(reg).(*esMetrics),
		UOW: NewUOWMetrics(reg).(*uowMetrics),
	}
}

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
