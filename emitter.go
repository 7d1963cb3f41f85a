package storion

import "sync"

// Emitter is a minimal publish/subscribe primitive. Listeners are notified in
// registration order.
type Emitter[T any] struct {
	mu        sync.Mutex
	listeners []*listener[T]
}

type listener[T any] struct {
	fn     func(T)
	active bool
}

// NewEmitter creates an emitter with no listeners
func NewEmitter[T any]() *Emitter[T] {
	return &Emitter[T]{}
}

// On registers a listener and returns a function that unregisters it.
// Unregistering is idempotent.
func (e *Emitter[T]) On(fn func(T)) func() {
	l := &listener[T]{fn: fn, active: true}

	e.mu.Lock()
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if !l.active {
			return
		}
		l.active = false
		e.listeners = removeElement(e.listeners, l)
	}
}

// Emit calls every listener registered before the call. A listener removed
// while the emit is in progress is skipped.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]*listener[T], len(e.listeners))
	copy(snapshot, e.listeners)
	e.mu.Unlock()

	for _, l := range snapshot {
		e.mu.Lock()
		active := l.active
		e.mu.Unlock()

		if active {
			l.fn(v)
		}
	}
}

// Len returns the number of registered listeners
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Clear unregisters every listener
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, l := range e.listeners {
		l.active = false
	}
	e.listeners = nil
}

func removeElement[T comparable](slice []T, item T) []T {
	for i, existing := range slice {
		if existing == item {
			out := make([]T, 0, len(slice)-1)
			out = append(out, slice[:i]...)
			return append(out, slice[i+1:]...)
		}
	}
	return slice
}
