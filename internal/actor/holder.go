package actor

import (
	"sync"
	"sync/atomic"
)

// Holder lazily initializes a value exactly once. The first caller pays the load
// cost; every caller observes the same value or the same error. Failures are
// cached and never retried.
type Holder[T any] struct {
	once   sync.Once
	load   func() (T, error)
	value  T
	err    error
	loaded atomic.Bool
}

// NewHolder wraps load.
func NewHolder[T any](load func() (T, error)) *Holder[T] {
	return &Holder[T]{load: load}
}

// Get returns the loaded value, running load on first use.
func (h *Holder[T]) Get() (T, error) {
	h.once.Do(func() {
		h.value, h.err = h.load()
		h.loaded.Store(true)
	})
	return h.value, h.err
}

// Loaded reports whether load has run, regardless of outcome.
func (h *Holder[T]) Loaded() bool {
	return h.loaded.Load()
}
