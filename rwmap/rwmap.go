package rwmap

import (
	"sync"
)

// RWMap is a map guarded by a sync.RWMutex.
type RWMap[K comparable, V any] struct {
	sync.RWMutex
	m map[K]V
}

func NewRWMap[K comparable, V any](n int) *RWMap[K, V] {
	return &RWMap[K, V]{
		m: make(map[K]V, n),
	}
}

func (m *RWMap[K, V]) Get(key K) (V, bool) {
	m.RLock()
	defer m.RUnlock()
	v, existed := m.m[key]
	return v, existed
}

func (m *RWMap[K, V]) Set(key K, v V) {
	m.Lock()
	defer m.Unlock()
	m.m[key] = v
}

func (m *RWMap[K, V]) Delete(key K) {
	m.Lock()
	defer m.Unlock()
	delete(m.m, key)
}

func (m *RWMap[K, V]) Clear() {
	m.Lock()
	defer m.Unlock()
	m.m = map[K]V{}
}

func (m *RWMap[K, V]) Len() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.m)
}

// Each calls f for every entry under the read lock until f returns false.
func (m *RWMap[K, V]) Each(f func(key K, v V) bool) {
	m.RLock()
	defer m.RUnlock()

	for key, v := range m.m {
		if !f(key, v) {
			return
		}
	}
}
