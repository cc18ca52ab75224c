package notify

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Broadcaster fans values out to subscribers. Publish never blocks: a
// subscriber whose buffer is full misses the value and the drop is counted.
type Broadcaster[T any] struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]chan T
	closed  bool
	dropped atomic.Uint64
}

// Subscribe registers a listener with the given channel buffer size. The
// channel is closed by Unsubscribe or Close.
func (b *Broadcaster[T]) Subscribe(buffer int) (uuid.UUID, <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New()
	ch := make(chan T, max(buffer, 1))
	if b.closed {
		close(ch)
		return id, ch
	}
	if b.subs == nil {
		b.subs = make(map[uuid.UUID]chan T)
	}
	b.subs[id] = ch
	return id, ch
}

// Unsubscribe removes a listener and closes its channel.
func (b *Broadcaster[T]) Unsubscribe(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return false
	}
	delete(b.subs, id)
	close(ch)
	return true
}

// Publish offers v to every subscriber and returns how many accepted it.
func (b *Broadcaster[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
			delivered++
		default:
			b.dropped.Add(1)
		}
	}
	return delivered
}

// Subscribers returns the number of listeners.
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a listener was full.
func (b *Broadcaster[T]) Dropped() uint64 { return b.dropped.Load() }

// Close removes every listener. Later subscriptions receive a closed channel.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
