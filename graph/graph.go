// Package graph partitions tracks across a fixed pool of workers and drives
// one synchronous render pass per audio block.
package graph

import (
	"errors"
	"fmt"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/shaban/rthost/event"
	"github.com/shaban/rthost/track"
)

// ErrDeadlineMissed is returned by Render when the workers did not finish in
// time. The graph stays faulted afterwards.
var ErrDeadlineMissed = errors.New("audio graph missed its render deadline")

const defaultEventQueueSize = 1024

// Option configures a Graph.
type Option func(*Graph)

// WithDeadline bounds how long Render waits for the workers. Zero waits forever.
func WithDeadline(d time.Duration) Option {
	return func(g *Graph) { g.deadline = d }
}

// WithCPUPinning pins each worker to its own CPU where the platform allows it.
func WithCPUPinning(enabled bool) Option {
	return func(g *Graph) { g.pin = enabled }
}

// WithEventQueueSize sets the capacity of each bucket's event output.
func WithEventQueueSize(n int) Option {
	return func(g *Graph) { g.queueSize = n }
}

// Graph owns the track buckets. Structural changes (Add, AddToCore, Remove)
// must not run concurrently with Render.
type Graph struct {
	cores     int
	maxTracks int
	buckets   [][]*track.Track
	outputs   []*event.Fifo
	next      int

	deadline  time.Duration
	pin       bool
	queueSize int

	start   []chan struct{}
	done    chan struct{}
	timer   *time.Timer
	wg      sync.WaitGroup
	faulted error
	closed  bool
}

// New creates a graph with one bucket per core, each holding up to maxTracks
// tracks. With more than one core a worker goroutine is started per bucket;
// Close stops them.
func New(cores, maxTracks int, opts ...Option) *Graph {
	cores = max(cores, 1)
	g := &Graph{
		cores:     cores,
		maxTracks: maxTracks,
		buckets:   make([][]*track.Track, cores),
		outputs:   make([]*event.Fifo, cores),
		queueSize: defaultEventQueueSize,
	}
	for _, opt := range opts {
		opt(g)
	}
	for i := range g.buckets {
		g.buckets[i] = make([]*track.Track, 0, maxTracks)
		g.outputs[i] = event.NewFifo(g.queueSize)
	}
	if cores > 1 {
		g.startWorkers()
	}
	return g
}

func (g *Graph) startWorkers() {
	g.done = make(chan struct{}, g.cores)
	g.start = make([]chan struct{}, g.cores)
	g.timer = time.NewTimer(time.Hour)
	g.timer.Stop()
	for core := range g.start {
		g.start[core] = make(chan struct{}, 1)
		g.wg.Add(1)
		go g.work(core)
	}
}

func (g *Graph) work(core int) {
	defer g.wg.Done()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if g.pin {
		_ = pinToCPU(core % runtime.NumCPU())
	}
	for range g.start[core] {
		for _, t := range g.buckets[core] {
			t.Render()
		}
		g.done <- struct{}{}
	}
}

// Cores returns the number of buckets.
func (g *Graph) Cores() int { return g.cores }

// Add places t in the next bucket in round-robin order.
func (g *Graph) Add(t *track.Track) bool {
	for i := 0; i < g.cores; i++ {
		core := (g.next + i) % g.cores
		if g.AddToCore(t, core) {
			g.next = (core + 1) % g.cores
			return true
		}
	}
	return false
}

// AddToCore places t in a specific bucket. It fails if core is out of range,
// the bucket is full, or t is already in the graph.
func (g *Graph) AddToCore(t *track.Track, core int) bool {
	if core < 0 || core >= g.cores || g.Core(t) >= 0 {
		return false
	}
	if len(g.buckets[core]) >= g.maxTracks {
		return false
	}
	g.buckets[core] = append(g.buckets[core], t)
	t.SetEventOutput(g.outputs[core])
	return true
}

// Remove takes t out of its bucket.
func (g *Graph) Remove(t *track.Track) bool {
	core := g.Core(t)
	if core < 0 {
		return false
	}
	i := slices.Index(g.buckets[core], t)
	g.buckets[core] = slices.Delete(g.buckets[core], i, i+1)
	t.SetEventOutput(nil)
	return true
}

// Core returns the bucket holding t, or -1.
func (g *Graph) Core(t *track.Track) int {
	for core, bucket := range g.buckets {
		if slices.Contains(bucket, t) {
			return core
		}
	}
	return -1
}

// Tracks returns every track in bucket order.
func (g *Graph) Tracks() []*track.Track {
	var all []*track.Track
	for _, bucket := range g.buckets {
		all = append(all, bucket...)
	}
	return all
}

// EventOutputs returns the per-bucket queues of events emitted during Render.
// The caller drains them after Render returns.
func (g *Graph) EventOutputs() []*event.Fifo { return g.outputs }

// Render processes every track once. With one core the tracks render on the
// calling goroutine; otherwise all workers are released and Render blocks
// until each has finished or the deadline expires.
func (g *Graph) Render() error {
	if g.faulted != nil {
		return g.faulted
	}
	if g.cores == 1 {
		for _, t := range g.buckets[0] {
			t.Render()
		}
		return nil
	}

	begin := time.Now()
	for _, start := range g.start {
		start <- struct{}{}
	}
	var timeout <-chan time.Time
	if g.deadline > 0 {
		g.timer.Reset(g.deadline)
		timeout = g.timer.C
	}
	for pending := g.cores; pending > 0; {
		select {
		case <-g.done:
			pending--
		case <-timeout:
			g.faulted = fmt.Errorf("%w: %d of %d workers still running after %v",
				ErrDeadlineMissed, pending, g.cores, time.Since(begin))
			return g.faulted
		}
	}
	if g.deadline > 0 {
		g.timer.Stop()
	}
	return nil
}

// Faulted returns the error that latched the graph, if any.
func (g *Graph) Faulted() error { return g.faulted }

// Close stops the workers. A graph cannot render after Close.
func (g *Graph) Close() {
	if g.closed {
		return
	}
	g.closed = true
	for _, start := range g.start {
		close(start)
	}
	if g.faulted == nil {
		g.wg.Wait()
		g.faulted = errors.New("audio graph closed")
	}
}
