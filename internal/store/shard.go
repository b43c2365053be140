package store

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// shardCount is the number of independently locked partitions per index.
const shardCount = 32

// shard is one lock-protected partition of a keyed index.
type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// shardMap spreads keys over shardCount shards so unrelated keys never
// contend on the same lock.
type shardMap[V any] struct {
	shards [shardCount]shard[V]
}

func newShardMap[V any]() *shardMap[V] {
	s := &shardMap[V]{}
	for i := range s.shards {
		s.shards[i].m = make(map[string]V)
	}
	return s
}

// of returns the shard owning key.
func (s *shardMap[V]) of(key string) *shard[V] {
	return &s.shards[xxhash.Sum64String(key)%shardCount]
}

// lookup reads key under the shard's read lock.
func (s *shardMap[V]) lookup(key string) (V, bool) {
	sh := s.of(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.m[key]
	return v, ok
}
