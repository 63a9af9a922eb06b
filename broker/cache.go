// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package broker

import (
	"sync"

	"github.com/luxfi/geth/common/lru"
)

// Cache is a bounded LRU for immutable disclosure results. Entries are
// written once and never change, only eviction removes them.
type Cache[K comparable, V any] struct {
	cache *lru.Cache[K, V]
	lock  sync.RWMutex
}

func NewCache[K comparable, V any](size int) *Cache[K, V] {
	return &Cache[K, V]{
		cache: lru.NewCache[K, V](size),
	}
}

// Put stores the value, evicting the least recently used entry when full.
func (c *Cache[K, V]) Put(key K, value V) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.cache.Add(key, value)
}

// Get returns the cached value for key, if still retained.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.cache.Get(key)
}

// Len returns the number of retained entries.
func (c *Cache[K, V]) Len() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.cache.Len()
}
