package perf

import (
	"time"

	"github.com/shaban/rthost/event"
)

// MetricsHook allows callers to observe engine load and queue health.
// Implementers can log, aggregate metrics, or emit traces.
type MetricsHook interface {
	// Periodic load report, one entry per measured node.
	OnTimings(timings []Timings)

	// An event channel rejected events since the previous report.
	OnEventsDropped(queue string, dropped uint64)

	// The render graph missed its block deadline.
	OnDeadlineMissed(elapsed time.Duration)

	// A structural operation was applied on the audio goroutine.
	OnStructuralOp(name string, target event.ObjectID, duration time.Duration)
}

// NopHook implements MetricsHook with no-ops. Embed it to implement a subset.
type NopHook struct{}

func (NopHook) OnTimings([]Timings)                                  {}
func (NopHook) OnEventsDropped(string, uint64)                       {}
func (NopHook) OnDeadlineMissed(time.Duration)                       {}
func (NopHook) OnStructuralOp(string, event.ObjectID, time.Duration) {}
