// Package syncx provides lock-guarded values and keyed registries.
package syncx

import "sync"

// Value is a T guarded by an RWMutex. Load returns a copy, so T should be a
// value type such as a counters struct.
type Value[T any] struct {
	mu sync.RWMutex
	v  T
}

// NewValue creates a guarded value.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{v: initial}
}

// Load returns a copy of the value.
func (g *Value[T]) Load() T {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.v
}

// Update mutates the value under the write lock.
func (g *Value[T]) Update(fn func(*T)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.v)
}
