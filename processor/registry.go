package processor

import (
	"fmt"
	"slices"
	"sync"

	"github.com/shaban/rthost/event"
)

// Registry is the arena owning every processor of an engine. Tracks hold
// non-owning references; a processor stays registered while any track uses it.
type Registry struct {
	mu     sync.RWMutex
	byID   map[event.ObjectID]Processor
	byName map[string]Processor
	limit  int
}

// NewRegistry creates an arena holding at most limit processors (0 means unbounded).
func NewRegistry(limit int) *Registry {
	return &Registry{
		byID:   make(map[event.ObjectID]Processor),
		byName: make(map[string]Processor),
		limit:  limit,
	}
}

// Add registers p. Names must be unique.
func (r *Registry) Add(p Processor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name()]; exists {
		return fmt.Errorf("%q: %w", p.Name(), ErrDuplicateName)
	}
	if r.limit > 0 && len(r.byID) >= r.limit {
		return fmt.Errorf("processor limit %d reached", r.limit)
	}
	r.byID[p.ID()] = p
	r.byName[p.Name()] = p
	return nil
}

// Remove unregisters the processor with the given id.
func (r *Registry) Remove(id event.ObjectID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	delete(r.byName, p.Name())
	return true
}

// Get looks a processor up by id.
func (r *Registry) Get(id event.ObjectID) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	return p, ok
}

// ByName looks a processor up by its unique name.
func (r *Registry) ByName(name string) (Processor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[name]
	return p, ok
}

// All returns the registered processors ordered by id.
func (r *Registry) All() []Processor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]Processor, 0, len(r.byID))
	for _, p := range r.byID {
		all = append(all, p)
	}
	slices.SortFunc(all, func(a, b Processor) int { return int(a.ID()) - int(b.ID()) })
	return all
}

// Len returns the number of registered processors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
