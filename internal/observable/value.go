// Package observable implements a small subscription-based state holder.
package observable

import "sync"

// Source is the read-only view of a Value handed to collaborators.
type Source[T comparable] interface {
	Get() T
	// Subscribe registers fn for future changes and returns a func that
	// removes it. fn is not invoked with the current value.
	Subscribe(fn func(T)) (unsubscribe func())
}

// Value holds one T and notifies subscribers when it changes. Subscribers run
// synchronously on the goroutine that called Set, in registration order.
type Value[T comparable] struct {
	mu     sync.RWMutex
	val    T
	nextID uint64
	subs   map[uint64]func(T)
	order  []uint64
}

// New creates a Value holding initial.
func New[T comparable](initial T) *Value[T] {
	return &Value[T]{val: initial, subs: make(map[uint64]func(T))}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val
}

// Set stores next and notifies subscribers if it differs from the current value.
// It reports whether a change happened.
func (v *Value[T]) Set(next T) bool {
	v.mu.Lock()
	if v.val == next {
		v.mu.Unlock()
		return false
	}
	v.val = next
	fns := make([]func(T), 0, len(v.order))
	for _, id := range v.order {
		fns = append(fns, v.subs[id])
	}
	v.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
	return true
}

// Subscribe implements Source.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	if fn == nil {
		return func() {}
	}
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.subs[id] = fn
	v.order = append(v.order, id)
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			delete(v.subs, id)
			for i, candidate := range v.order {
				if candidate == id {
					v.order = append(v.order[:i], v.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Subscribers reports how many callbacks are registered.
func (v *Value[T]) Subscribers() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.subs)
}
