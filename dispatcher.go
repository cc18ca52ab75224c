package rthost

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shaban/rthost/graph"
	"github.com/shaban/rthost/notify"
)

const (
	// DefaultDispatchPeriod is how often the dispatcher drains the engine's
	// output channel.
	DefaultDispatchPeriod = 5 * time.Millisecond

	// ReportInterval is the period of CPU timing notifications and drop checks.
	ReportInterval = time.Second
)

// Dispatcher moves everything the audio goroutine produces to the control
// side: events become notifications on the engine's hub, timings are
// collected once per ReportInterval, dropped events are logged and a render
// fault is reported once through the ErrorHandler.
type Dispatcher struct {
	engine *Engine
	period time.Duration

	mu        sync.RWMutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}

	// Performance tracking
	lastPollDuration time.Duration
	maxPollDuration  time.Duration
	published        uint64

	// pollMu makes Poll the single consumer of the main output channel.
	pollMu        sync.Mutex
	lastReport    time.Time
	lastDropped   map[string]uint64
	faultReported bool
}

// NewDispatcher creates a dispatcher for e. It does not start polling.
func NewDispatcher(e *Engine) *Dispatcher {
	return &Dispatcher{
		engine:      e,
		period:      DefaultDispatchPeriod,
		lastDropped: make(map[string]uint64),
	}
}

// Start runs the dispatch loop on its own goroutine.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isRunning {
		return fmt.Errorf("dispatcher is already running")
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.isRunning = true

	go func() {
		defer close(d.done)
		if err := d.Run(ctx); err != nil {
			d.engine.log.WithError(err).Debug("dispatcher stopped")
		}
	}()
	return nil
}

// Stop halts the dispatch loop after a final poll.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.isRunning {
		d.mu.Unlock()
		return nil // Already stopped
	}
	d.isRunning = false
	cancel, done := d.cancel, d.done
	d.mu.Unlock()

	cancel()
	<-done
	return nil
}

// IsRunning returns whether the dispatch loop is active
func (d *Dispatcher) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isRunning
}

// GetPerformanceStats returns dispatcher performance statistics
func (d *Dispatcher) GetPerformanceStats() (lastDuration, maxDuration time.Duration) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lastPollDuration, d.maxPollDuration
}

// Published returns the number of notifications published so far.
func (d *Dispatcher) Published() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.published
}

// Run polls until ctx is cancelled or the engine faults. A fault is
// returned so a supervising errgroup can shut the host down.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.Poll()
			return nil
		case <-ticker.C:
			d.Poll()
			if err := d.engine.Faulted(); err != nil {
				return err
			}
		}
	}
}

// Poll drains the main output channel once and publishes the resulting
// notifications. It is safe to call from tests and offline frontends while
// no dispatch loop runs.
func (d *Dispatcher) Poll() int {
	d.pollMu.Lock()
	defer d.pollMu.Unlock()

	start := time.Now()
	e := d.engine
	n := 0
	for {
		ev, ok := e.mainOut.Pop()
		if !ok {
			break
		}
		if note, ok := notify.FromEvent(ev); ok {
			e.hub.Publish(note)
			n++
		}
	}

	if start.Sub(d.lastReport) >= ReportInterval {
		d.lastReport = start
		n += d.report()
	}
	d.checkFault()

	duration := time.Since(start)
	d.mu.Lock()
	d.lastPollDuration = duration
	d.maxPollDuration = max(d.maxPollDuration, duration)
	d.published += uint64(n)
	d.mu.Unlock()
	return n
}

func (d *Dispatcher) report() int {
	e := d.engine
	n := 0
	if e.timer.Enabled() {
		if timings := e.timer.Collect(); len(timings) > 0 {
			e.hub.Publish(notify.CpuTimingNotification{Timings: timings})
			e.cfg.Metrics.OnTimings(timings)
			n++
		}
	}
	for queue, total := range e.Dropped() {
		delta := total - d.lastDropped[queue]
		if delta == 0 {
			continue
		}
		d.lastDropped[queue] = total
		e.log.WithFields(logrus.Fields{"queue": queue, "dropped": delta}).Warn("events dropped")
		e.cfg.Metrics.OnEventsDropped(queue, delta)
	}
	return n
}

func (d *Dispatcher) checkFault() {
	if d.faultReported {
		return
	}
	err := d.engine.Faulted()
	if err == nil {
		return
	}
	d.faultReported = true
	if errors.Is(err, graph.ErrDeadlineMissed) {
		cfg := d.engine.cfg
		d.engine.cfg.Metrics.OnDeadlineMissed(time.Duration(float64(cfg.BlockPeriod()) * cfg.DeadlineFactor))
	}
	d.engine.cfg.ErrorHandler.HandleError(err)
}
