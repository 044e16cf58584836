// Package metrics holds the small metric interfaces the core packages report
// through, so they stay independent of a concrete backend such as Prometheus.
package metrics

// Timer measures one operation. Call ObserveDuration when it completes:
//
//	defer m.RepoFlushDuration("account").ObserveDuration()
type Timer interface {
	ObserveDuration()
}
