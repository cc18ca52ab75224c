// Package queue serializes structural operations onto the goroutine that
// owns the processing graph.
package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrFull    = errors.New("operation queue full")
	ErrClosed  = errors.New("operation queue closed")
	ErrTimeout = errors.New("operation timed out")
)

// Op is a graph mutation operation. It runs on the owning goroutine between
// processing blocks and must be quick; any allocation should be prepared by
// the caller before enqueueing.
type Op interface {
	Apply(ctx context.Context) error
}

// Func adapts a function into an Op.
type Func func(ctx context.Context) error

func (f Func) Apply(ctx context.Context) error { return f(ctx) }

// Queue hands operations from control goroutines to a single consumer that
// calls Drain. Enqueue never blocks.
type Queue struct {
	ch     chan Op
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a queue with a fixed buffer.
func New(buffer int) *Queue {
	if buffer <= 0 {
		buffer = 32
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{ch: make(chan Op, buffer), ctx: ctx, cancel: cancel}
}

// Enqueue adds an operation to the queue.
func (q *Queue) Enqueue(op Op) error {
	if q.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case q.ch <- op:
		return nil
	default:
		return ErrFull
	}
}

// Len returns the number of waiting operations.
func (q *Queue) Len() int { return len(q.ch) }

// Drain applies every waiting operation in order and returns how many ran.
// Only the consuming goroutine may call it.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case op := <-q.ch:
			if op != nil {
				_ = op.Apply(q.ctx)
				n++
			}
		default:
			return n
		}
	}
}

// RunSync enqueues fn and waits until the consumer has applied it. When the
// consumer does not get to it within timeout the operation is abandoned and
// will not run.
func (q *Queue) RunSync(fn Func, timeout time.Duration) error {
	const (
		pending int32 = iota
		running
		abandoned
	)
	var state atomic.Int32
	done := make(chan error, 1)
	err := q.Enqueue(Func(func(ctx context.Context) error {
		if !state.CompareAndSwap(pending, running) {
			return nil
		}
		err := fn(ctx)
		done <- err
		return err
	}))
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		if state.CompareAndSwap(pending, abandoned) {
			return ErrTimeout
		}
		return <-done
	case <-q.ctx.Done():
		if state.CompareAndSwap(pending, abandoned) {
			return ErrClosed
		}
		return <-done
	}
}

// Close wakes every RunSync waiter and rejects further operations.
func (q *Queue) Close() {
	q.cancel()
}
