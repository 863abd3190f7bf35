// Package notify implements listener registries with explicit subscription
// handles. Registries are used from a single goroutine; dispatch iterates a
// snapshot so listeners may subscribe or unsubscribe while being notified.
package notify

import "slices"

// Registry holds listeners of type T in registration order.
type Registry[T any] struct {
	entries []*entry[T]
}

type entry[T any] struct {
	value T
	live  bool
}

// Subscription detaches a listener when closed.
type Subscription struct {
	close func()
}

// Close detaches the listener. Closing twice is a no-op.
func (s *Subscription) Close() {
	if s == nil || s.close == nil {
		return
	}
	fn := s.close
	s.close = nil
	fn()
}

// Add registers a listener and returns its subscription.
func (r *Registry[T]) Add(v T) *Subscription {
	e := &entry[T]{value: v, live: true}
	r.entries = append(r.entries, e)
	return &Subscription{close: func() { r.remove(e) }}
}

func (r *Registry[T]) remove(e *entry[T]) {
	e.live = false
	r.entries = slices.DeleteFunc(slices.Clone(r.entries), func(x *entry[T]) bool {
		return x == e
	})
}

// Each calls fn for every listener registered when dispatch began and still
// registered when its turn comes.
func (r *Registry[T]) Each(fn func(T)) {
	for _, e := range r.entries {
		if e.live {
			fn(e.value)
		}
	}
}

// Len returns the number of registered listeners.
func (r *Registry[T]) Len() int {
	return len(r.entries)
}
