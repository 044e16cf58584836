package uow

import "github.com/codewandler/aggrepo-go/core/metrics"

// Metrics receives unit-of-work lifecycle observations.
type Metrics interface {
	ScopeStarted(owner bool)
	// Completed is reported once per owner scope completion attempt.
	Completed(success bool)
	Aborted()
	FlushDuration() metrics.Timer
	UnitsFlushed(n int)
}

type nopMetrics struct{}

func (nopMetrics) ScopeStarted(bool)            {}
func (nopMetrics) Completed(bool)               {}
func (nopMetrics) Aborted()                     {}
func (nopMetrics) FlushDuration() metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) UnitsFlushed(int)             {}

// NopMetrics returns a Metrics implementation that discards everything.
func NopMetrics() Metrics { return nopMetrics{} }
