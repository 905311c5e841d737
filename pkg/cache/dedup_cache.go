package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// DedupCache remembers recently observed submission keys so duplicate
// webhook deliveries can be short-circuited. Sharded to keep contention
// low when many strategies submit concurrently.
type DedupCache struct {
	shards [numShards]*dedupShard
}

type dedupShard struct {
	mu    sync.Mutex
	items map[string]time.Time
}

// NewDedupCache creates an empty cache.
func NewDedupCache() *DedupCache {
	c := &DedupCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &dedupShard{items: make(map[string]time.Time)}
	}
	return c
}

// getShard returns the shard for the given key.
func (c *DedupCache) getShard(key string) *dedupShard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Observe records key and reports whether it was already seen within window.
// The check and the recording happen under one shard lock, so two concurrent
// observers of the same key cannot both get false.
func (c *DedupCache) Observe(key string, window time.Duration) bool {
	now := time.Now()
	shard := c.getShard(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if seen, ok := shard.items[key]; ok && now.Sub(seen) < window {
		return true
	}
	shard.items[key] = now
	return false
}

// Len returns total tracked keys across all shards.
func (c *DedupCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.Lock()
		total += len(shard.items)
		shard.mu.Unlock()
	}
	return total
}

// Cleanup removes entries older than maxAge and returns how many were dropped.
func (c *DedupCache) Cleanup(maxAge time.Duration) int {
	removed := 0
	cutoff := time.Now().Add(-maxAge)

	for _, shard := range c.shards {
		shard.mu.Lock()
		for key, seen := range shard.items {
			if seen.Before(cutoff) {
				delete(shard.items, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// StartJanitor launches a background cleanup loop until stop is closed.
func (c *DedupCache) StartJanitor(interval, maxAge time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.Cleanup(maxAge)
			}
		}
	}()
}
