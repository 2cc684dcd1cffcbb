// Package cache keeps decoded tile rasters in memory under a byte
// budget with strict least-recently-used eviction.
package cache

import (
	"sync"

	"github.com/golang/groupcache/lru"

	"github.com/globegl/globeview/metrics"
	"github.com/globegl/globeview/tile"
)

// Stats is a snapshot of cache activity.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Entries   int
	Bytes     int64
}

// Cache is a byte-bounded LRU map from tile key to decoded raster.
// Safe for concurrent use.
type Cache struct {
	mutex    sync.Mutex
	entries  *lru.Cache
	bytes    int64
	maxBytes int64

	hits, misses, evictions uint64
}

// New creates a cache bounded by maxBytes of pixel data.
func New(maxBytes int64) *Cache {
	c := &Cache{maxBytes: maxBytes}
	c.entries = &lru.Cache{
		OnEvicted: func(_ lru.Key, value interface{}) {
			c.bytes -= value.(*tile.Raster).SizeBytes()
			c.evictions++
			metrics.MemoryCacheEvictions.Inc()
		},
	}
	return c
}

// Get returns the raster for a key, promoting it to most recently
// used, or nil on a miss.
func (c *Cache) Get(k tile.Key) *tile.Raster {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	value, ok := c.entries.Get(k)
	if !ok {
		c.misses++
		metrics.MemoryCacheMisses.Inc()
		return nil
	}
	c.hits++
	metrics.MemoryCacheHits.Inc()
	return value.(*tile.Raster)
}

// Put inserts a raster and evicts least-recently-used entries until
// the byte budget holds again.
func (c *Cache) Put(r *tile.Raster) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if old, ok := c.entries.Get(r.Key); ok {
		c.bytes -= old.(*tile.Raster).SizeBytes()
	}
	c.entries.Add(r.Key, r)
	c.bytes += r.SizeBytes()
	for c.maxBytes > 0 && c.bytes > c.maxBytes && c.entries.Len() > 0 {
		c.entries.RemoveOldest()
	}
}

// Drop removes a single entry if present.
func (c *Cache) Drop(k tile.Key) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries.Remove(k)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.entries.Clear()
}

// SizeBytes returns the current pixel-data footprint.
func (c *Cache) SizeBytes() int64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.bytes
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   c.entries.Len(),
		Bytes:     c.bytes,
	}
}
