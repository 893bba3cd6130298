// Package watch holds the listener registry shared by the live caches.
package watch

import "sync"

// Watchers is a set of callbacks notified with the latest value of T.
// The zero value is ready to use.
type Watchers[T any] struct {
	mu     sync.RWMutex
	nextID uint64
	fns    map[uint64]func(T)
}

// Add registers fn and returns a function that removes it. The returned
// function may be called more than once.
func (w *Watchers[T]) Add(fn func(T)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.fns == nil {
		w.fns = make(map[uint64]func(T))
	}
	w.nextID++
	id := w.nextID
	w.fns[id] = fn

	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.fns, id)
	}
}

// Notify calls every registered function with v, outside the lock.
func (w *Watchers[T]) Notify(v T) {
	w.mu.RLock()
	fns := make([]func(T), 0, len(w.fns))
	for _, fn := range w.fns {
		fns = append(fns, fn)
	}
	w.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered functions.
func (w *Watchers[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.fns)
}
