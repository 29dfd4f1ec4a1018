package syncx

import "sync"

// Map is a keyed registry guarded by an RWMutex.
type Map[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

// NewMap creates an empty registry.
func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{m: make(map[K]V)}
}

// Load returns the value stored for key.
func (r *Map[K, V]) Load(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[key]
	return v, ok
}

// Store sets the value for key.
func (r *Map[K, V]) Store(key K, v V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[key] = v
}

// LoadOrStore returns the existing value for key if present, otherwise stores and returns v.
func (r *Map[K, V]) LoadOrStore(key K, v V) (actual V, loaded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.m[key]; ok {
		return existing, true
	}
	r.m[key] = v
	return v, false
}

// LoadAndDelete removes key and returns the value it held.
func (r *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.m[key]
	if ok {
		delete(r.m, key)
	}
	return v, ok
}

// Delete removes key.
func (r *Map[K, V]) Delete(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, key)
}

// Len returns the number of entries.
func (r *Map[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Values returns a snapshot of all values. Callers may act on the snapshot
// without holding the registry lock.
func (r *Map[K, V]) Values() []V {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]V, 0, len(r.m))
	for _, v := range r.m {
		out = append(out, v)
	}
	return out
}
