// Package types contains small generic helpers shared by the module packages.
package types

import (
	"iter"
	"slices"
	"sync"
)

// CallbackManager keeps an ordered list of callbacks.
// Callbacks are called in the registration order.
// Zero value is ready to use.
type CallbackManager[T any] struct {
	mu     sync.RWMutex
	cbs    []callback[T]
	nextID int
}

type callback[T any] struct {
	id int
	cb T
}

// Len returns the number of registered callbacks.
func (m *CallbackManager[T]) Len() int {
	if m == nil {
		return 0
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cbs)
}

// Add registers a callback and returns a function that removes it.
// The remove function is safe to call multiple times.
func (m *CallbackManager[T]) Add(cb T) (remove func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.cbs = append(m.cbs, callback[T]{id, cb})
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			m.cbs = slices.DeleteFunc(m.cbs, func(c callback[T]) bool { return c.id == id })
			m.mu.Unlock()
		})
	}
}

// All iterates over a snapshot of registered callbacks,
// so callbacks may add or remove callbacks while iterating.
func (m *CallbackManager[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		if m == nil {
			return
		}

		m.mu.RLock()
		snapshot := make([]T, len(m.cbs))
		for i, c := range m.cbs {
			snapshot[i] = c.cb
		}
		m.mu.RUnlock()

		for _, cb := range snapshot {
			if !yield(cb) {
				return
			}
		}
	}
}

// Clear removes all callbacks.
func (m *CallbackManager[T]) Clear() {
	m.mu.Lock()
	m.cbs = nil
	m.mu.Unlock()
}
