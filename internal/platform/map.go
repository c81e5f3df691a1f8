// Package platform holds small concurrency helpers shared by the transports and the HTTP surface.
package platform

import (
	"sync"
)

// Map is a thread-safe generic map with change hooks.
// Hooks run after the map is updated, without the map's lock held,
// so they may call back into the map.
type Map[K comparable, V any] struct {
	mutex sync.RWMutex
	data  map[K]V

	onAdd    []func(key K, value V)
	onDelete []func(key K, value V, reason error)
}

func NewMap[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{
		data: make(map[K]V),
	}
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	val, ok := m.data[key]
	return val, ok
}

// Put stores a value. Add hooks run only for new keys.
func (m *Map[K, V]) Put(key K, val V) {
	m.mutex.Lock()
	_, exists := m.data[key]
	m.data[key] = val
	hooks := m.onAdd
	m.mutex.Unlock()

	if exists {
		return
	}
	for _, fn := range hooks {
		fn(key, val)
	}
}

// Delete removes a value, passing reason to the delete hooks.
func (m *Map[K, V]) Delete(key K, reason error) bool {
	m.mutex.Lock()
	val, exists := m.data[key]
	delete(m.data, key)
	hooks := m.onDelete
	m.mutex.Unlock()

	if !exists {
		return false
	}
	for _, fn := range hooks {
		fn(key, val, reason)
	}
	return true
}

// ForEach calls fn for every entry. fn must not modify the map.
func (m *Map[K, V]) ForEach(fn func(K, V)) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for k, v := range m.data {
		fn(k, v)
	}
}

func (m *Map[K, V]) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return len(m.data)
}

// NotifyAdd adds a hook called when a new key is added.
func (m *Map[K, V]) NotifyAdd(fn func(key K, value V)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.onAdd = append(m.onAdd, fn)
}

// NotifyDelete adds a hook called when a key is deleted.
func (m *Map[K, V]) NotifyDelete(fn func(key K, value V, reason error)) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.onDelete = append(m.onDelete, fn)
}
