// Package perf measures how much of each block period the engine and its
// tracks consume. Recording is lock-free and allocation-free so it can run on
// the audio goroutines; aggregation happens on the control side.
package perf

import (
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shaban/rthost/event"
)

// EngineNode is the node id under which whole-block timings are recorded.
const EngineNode event.ObjectID = 0

// Timings summarizes the processing load of one node since the last
// collection, as fractions of the block period.
type Timings struct {
	Node  event.ObjectID `json:"node"`
	Avg   float64        `json:"avg"`
	Min   float64        `json:"min"`
	Max   float64        `json:"max"`
	Count int64          `json:"count"`
}

// Timer owns the per-node entries.
type Timer struct {
	mu      sync.Mutex
	entries map[event.ObjectID]*Entry
	period  atomic.Int64
	enabled atomic.Bool
}

// NewTimer creates a disabled timer for the given block period.
func NewTimer(period time.Duration) *Timer {
	t := &Timer{entries: make(map[event.ObjectID]*Entry)}
	t.period.Store(int64(period))
	return t
}

// SetPeriod changes the block period used to normalize timings.
func (t *Timer) SetPeriod(period time.Duration) { t.period.Store(int64(period)) }

// SetEnabled turns recording on or off.
func (t *Timer) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Enabled reports whether recording is on.
func (t *Timer) Enabled() bool { return t.enabled.Load() }

// Entry returns the recording slot for node, creating it if needed.
func (t *Timer) Entry(node event.ObjectID) *Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.entries[node]; ok {
		return e
	}
	e := &Entry{timer: t}
	e.reset()
	t.entries[node] = e
	return e
}

// Remove drops the slot of node.
func (t *Timer) Remove(node event.ObjectID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, node)
}

// Collect returns the timings of every node with records since the previous
// call, ordered by node id, and resets the counters.
func (t *Timer) Collect() []Timings {
	t.mu.Lock()
	defer t.mu.Unlock()

	period := float64(t.period.Load())
	if period <= 0 {
		return nil
	}
	var out []Timings
	for node, e := range t.entries {
		count := e.count.Swap(0)
		sum := e.sum.Swap(0)
		lo := e.min.Swap(math.MaxInt64)
		hi := e.max.Swap(0)
		if count == 0 {
			continue
		}
		out = append(out, Timings{
			Node:  node,
			Avg:   float64(sum) / float64(count) / period,
			Min:   float64(lo) / period,
			Max:   float64(hi) / period,
			Count: count,
		})
	}
	slices.SortFunc(out, func(a, b Timings) int { return int(a.Node) - int(b.Node) })
	return out
}

// Entry accumulates durations for one node. A nil Entry records nothing.
type Entry struct {
	timer *Timer
	sum   atomic.Int64
	count atomic.Int64
	min   atomic.Int64
	max   atomic.Int64
}

func (e *Entry) reset() {
	e.min.Store(math.MaxInt64)
}

// Start returns the start time of a measurement, or the zero time when
// recording is off.
func (e *Entry) Start() time.Time {
	if e == nil || !e.timer.enabled.Load() {
		return time.Time{}
	}
	return time.Now()
}

// Stop records the duration since start.
func (e *Entry) Stop(start time.Time) {
	if e == nil || start.IsZero() {
		return
	}
	e.Record(time.Since(start))
}

// Record adds one measurement.
func (e *Entry) Record(d time.Duration) {
	v := int64(d)
	e.sum.Add(v)
	e.count.Add(1)
	for {
		cur := e.min.Load()
		if v >= cur || e.min.CompareAndSwap(cur, v) {
			break
		}
	}
	for {
		cur := e.max.Load()
		if v <= cur || e.max.CompareAndSwap(cur, v) {
			break
		}
	}
}
