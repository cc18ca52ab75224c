package event

import "sync/atomic"

// Fifo is a bounded single-producer single-consumer queue of Events.
// Push and Pop never block and never allocate. Several producers may share a
// Fifo only if they serialize their calls to Push themselves.
type Fifo struct {
	buf     []Event
	head    atomic.Uint64 // next slot to read
	tail    atomic.Uint64 // next slot to write
	dropped atomic.Uint64
}

// NewFifo creates a queue holding at most capacity events.
func NewFifo(capacity int) *Fifo {
	if capacity < 1 {
		capacity = 1
	}
	return &Fifo{buf: make([]Event, capacity)}
}

// Push appends ev. It returns false and counts a drop when the queue is full.
func (f *Fifo) Push(ev Event) bool {
	tail := f.tail.Load()
	if tail-f.head.Load() >= uint64(len(f.buf)) {
		f.dropped.Add(1)
		return false
	}
	f.buf[tail%uint64(len(f.buf))] = ev
	f.tail.Store(tail + 1)
	return true
}

// Pop removes the oldest event. The second result is false when the queue is empty.
func (f *Fifo) Pop() (Event, bool) {
	head := f.head.Load()
	if head == f.tail.Load() {
		return Event{}, false
	}
	slot := &f.buf[head%uint64(len(f.buf))]
	ev := *slot
	*slot = Event{}
	f.head.Store(head + 1)
	return ev, true
}

// Len returns the number of queued events. The value is a snapshot when
// called concurrently with Push or Pop.
func (f *Fifo) Len() int {
	return int(f.tail.Load() - f.head.Load())
}

// Empty reports whether there is nothing to pop.
func (f *Fifo) Empty() bool {
	return f.Len() == 0
}

// Cap returns the fixed capacity.
func (f *Fifo) Cap() int {
	return len(f.buf)
}

// Dropped returns how many events were rejected because the queue was full.
func (f *Fifo) Dropped() uint64 {
	return f.dropped.Load()
}

// SendEvent pushes ev, dropping it when the queue is full. It lets a Fifo
// serve as the event output of a processor.
func (f *Fifo) SendEvent(ev Event) {
	f.Push(ev)
}
