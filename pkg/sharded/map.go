package sharded

import (
	"sort"
	"sync"
)

type mapShard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

// Map is a string-keyed map split into independently locked shards, so that
// workers touching different keys rarely contend.
type Map[V any] []*mapShard[V]

func NewMap[V any](numShards int) *Map[V] {
	if !isPowerOfTwo(numShards) {
		panic("num shards must be a power of 2")
	}
	s := make(Map[V], numShards)
	for i := range numShards {
		s[i] = &mapShard[V]{items: make(map[string]V)}
	}
	return &s
}

func (s *Map[V]) getShard(key string) *mapShard[V] {
	return (*s)[getShardIndex(key, len(*s))]
}

// Store adds a key-value pair to the map.
func (s *Map[V]) Store(key string, value V) {
	shard := s.getShard(key)
	shard.mu.Lock()
	shard.items[key] = value
	shard.mu.Unlock()
}

// Load retrieves the value associated with a key.
func (s *Map[V]) Load(key string) (value V, ok bool) {
	shard := s.getShard(key)
	shard.mu.RLock()
	value, ok = shard.items[key]
	shard.mu.RUnlock()
	return value, ok
}

// LoadOrStore returns the existing value for the key if present.
// Otherwise, it stores and returns the given value.
// The loaded result is true if the value was loaded, false if stored.
func (s *Map[V]) LoadOrStore(key string, value V) (actual V, loaded bool) {
	shard := s.getShard(key)
	shard.mu.Lock()
	actual, loaded = shard.items[key]
	if !loaded {
		actual = value
		shard.items[key] = value
	}
	shard.mu.Unlock()
	return actual, loaded
}

func (s *Map[V]) Delete(key string) {
	shard := s.getShard(key)
	shard.mu.Lock()
	delete(shard.items, key)
	shard.mu.Unlock()
}

// Count returns the total number of elements in the map.
func (s *Map[V]) Count() int {
	count := 0
	for _, shard := range *s {
		shard.mu.RLock()
		count += len(shard.items)
		shard.mu.RUnlock()
	}
	return count
}

// SortedKeys returns all keys in lexical order.
func (s *Map[V]) SortedKeys() []string {
	keys := make([]string, 0, s.Count())
	s.Range(func(k string, _ V) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

// Range calls f for each key-value pair, locking one shard at a time.
// The map must not be modified from within f.
func (s *Map[V]) Range(f func(key string, value V) bool) {
	for _, shard := range *s {
		shard.mu.RLock()
		for k, v := range shard.items {
			if !f(k, v) {
				shard.mu.RUnlock()
				return
			}
		}
		shard.mu.RUnlock()
	}
}
