// Package event provides a small typed multi-subscriber notifier.
//
// Subscribers register a handler and get back a Registration usable for
// removing exactly that handler later. Notify dispatches in registration
// order and isolates handler panics from each other and from the caller.
package event

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registration is an opaque handle to one subscribed handler.
// The zero value matches no handler.
type Registration struct {
	id uint64
}

type entry[E any] struct {
	id uint64
	fn func(E)
}

// Notifier fans one event out to every subscribed handler.
type Notifier[E any] struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers []entry[E]
}

func NewNotifier[E any]() *Notifier[E] {
	return &Notifier[E]{}
}

// Subscribe appends fn to the dispatch list and returns its handle.
func (n *Notifier[E]) Subscribe(fn func(E)) Registration {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	n.handlers = append(n.handlers, entry[E]{id: n.nextID, fn: fn})
	return Registration{id: n.nextID}
}

// Unsubscribe removes the single handler identified by reg.
// Unknown or already-removed registrations are a no-op.
func (n *Notifier[E]) Unsubscribe(reg Registration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, e := range n.handlers {
		if e.id == reg.id {
			n.handlers = append(n.handlers[:i], n.handlers[i+1:]...)
			return
		}
	}
}

// Notify invokes every handler in registration order. A panicking handler
// is recovered and logged; remaining handlers still run.
func (n *Notifier[E]) Notify(ev E) {
	n.mu.RLock()
	snapshot := make([]entry[E], len(n.handlers))
	copy(snapshot, n.handlers)
	n.mu.RUnlock()

	for _, e := range snapshot {
		n.dispatch(e, ev)
	}
}

func (n *Notifier[E]) dispatch(e entry[E], ev E) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("module", "event").Interface("panic", r).Msg("handler panicked")
		}
	}()
	e.fn(ev)
}

// Len reports the number of currently subscribed handlers.
func (n *Notifier[E]) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.handlers)
}
