// Package syncmap provides a small generic wrapper over sync.Map, grounded
// on the teacher's atomic.Map[T] / context.Config[T] idiom (see
// github.com/nabbar/golib/atomic and github.com/nabbar/golib/context): a
// typed key, a typed value, and a Range that never blocks a writer. It
// backs the CoT Service's connection-and-queue map (C4) and the plugin
// registry (C5). The Stream Manager's worker map (C8) does not use it; that
// map is a plain map guarded by the Manager's own mutex.
package syncmap

import "sync"

// Map is a concurrency-safe key/value store keyed by a comparable type T
// with values of type V. Zero value is not usable; use New.
type Map[T comparable, V any] struct {
	m sync.Map
}

// New returns an empty, ready-to-use Map.
func New[T comparable, V any]() *Map[T, V] {
	return &Map[T, V]{}
}

// Load returns the value stored for key, and whether it was present.
func (m *Map[T, V]) Load(key T) (V, bool) {
	v, ok := m.m.Load(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Store sets the value for key, overwriting any previous value.
func (m *Map[T, V]) Store(key T, val V) {
	m.m.Store(key, val)
}

// LoadOrStore returns the existing value for key if present; otherwise it
// stores and returns val. The loaded result reports which case occurred.
func (m *Map[T, V]) LoadOrStore(key T, val V) (V, bool) {
	actual, loaded := m.m.LoadOrStore(key, val)
	return actual.(V), loaded
}

// Delete removes key from the map, if present.
func (m *Map[T, V]) Delete(key T) {
	m.m.Delete(key)
}

// Range calls fn for each key/value pair. Iteration stops early if fn
// returns false. As with sync.Map, concurrent Store/Delete calls during
// Range may or may not be observed, but will never corrupt the map.
func (m *Map[T, V]) Range(fn func(key T, val V) bool) {
	m.m.Range(func(k, v any) bool {
		return fn(k.(T), v.(V))
	})
}

// Len returns the number of entries currently stored. O(n); intended for
// observability snapshots, not hot paths.
func (m *Map[T, V]) Len() int {
	n := 0
	m.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Keys returns a snapshot slice of all keys currently stored.
func (m *Map[T, V]) Keys() []T {
	keys := make([]T, 0)
	m.m.Range(func(k, _ any) bool {
		keys = append(keys, k.(T))
		return true
	})
	return keys
}
