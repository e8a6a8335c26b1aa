package cache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Memo 进程级备忘缓存，用于设备归属地这类重启前不过期的数据。
// 容量满时按 LRU 淘汰。
type Memo[V any] struct {
	lru *lru.Cache[string, V]
}

// NewMemo creates a fixed-size LRU memo cache
func NewMemo[V any](size int) (*Memo[V], error) {
	if size <= 0 {
		size = 2000
	}
	c, err := lru.New[string, V](size)
	if err != nil {
		return nil, err
	}
	return &Memo[V]{lru: c}, nil
}

// Get retrieves a memoized value
func (m *Memo[V]) Get(key string) (V, bool) {
	return m.lru.Get(key)
}

// Set stores a value, evicting the least recently used entry when full
func (m *Memo[V]) Set(key string, value V) {
	m.lru.Add(key, value)
}

// Len returns the number of entries
func (m *Memo[V]) Len() int {
	return m.lru.Len()
}
