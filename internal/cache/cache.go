// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache holds rendered frames: a bounded in-memory LRU in front of an
// optional persistent frame store.
package cache

import (
	"errors"
	"sync/atomic"

	"github.com/ManuGH/photocast/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrCacheFull reports that installing a frame evicted the least recently used
// one. It is informational; the new frame is always installed.
var ErrCacheFull = errors.New("frame cache full")

// FrameCache stores encoded frames by render key.
type FrameCache interface {
	// Get returns the frame bytes for key.
	Get(key string) ([]byte, bool)
	// Put installs a frame. It returns ErrCacheFull when an older entry was evicted.
	Put(key string, data []byte) error
	// Remove drops a frame if present.
	Remove(key string)
	// Purge empties the cache.
	Purge()
	// Stats returns cache statistics.
	Stats() Stats
}

// Stats holds cache performance counters.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Puts      int64 `json:"puts"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	Capacity  int   `json:"capacity"`
}

// LRU is a FrameCache bounded by entry count.
type LRU struct {
	entries  *lru.Cache[string, []byte]
	capacity int

	hits      atomic.Int64
	misses    atomic.Int64
	puts      atomic.Int64
	evictions atomic.Int64
}

// NewLRU creates a cache holding at most capacity frames.
func NewLRU(capacity int) (*LRU, error) {
	if capacity <= 0 {
		return nil, errors.New("cache capacity must be positive")
	}
	entries, err := lru.New[string, []byte](capacity)
	if err != nil {
		return nil, err
	}
	return &LRU{entries: entries, capacity: capacity}, nil
}

func (c *LRU) Get(key string) ([]byte, bool) {
	data, ok := c.entries.Get(key)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return data, true
}

func (c *LRU) Put(key string, data []byte) error {
	c.puts.Add(1)
	if evicted := c.entries.Add(key, data); evicted {
		c.evictions.Add(1)
		metrics.IncCacheEviction()
		return ErrCacheFull
	}
	return nil
}

func (c *LRU) Remove(key string) { c.entries.Remove(key) }

func (c *LRU) Purge() { c.entries.Purge() }

func (c *LRU) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Puts:      c.puts.Load(),
		Evictions: c.evictions.Load(),
		Entries:   c.entries.Len(),
		Capacity:  c.capacity,
	}
}

// noOpCache caches nothing. Used when the memory cache is sized to zero.
type noOpCache struct {
	misses atomic.Int64
}

// NewNoOpCache creates a cache that doesn't cache anything.
func NewNoOpCache() FrameCache {
	return &noOpCache{}
}

func (c *noOpCache) Get(string) ([]byte, bool) {
	c.misses.Add(1)
	return nil, false
}
func (c *noOpCache) Put(string, []byte) error { return nil }
func (c *noOpCache) Remove(string)            {}
func (c *noOpCache) Purge()                   {}
func (c *noOpCache) Stats() Stats             { return Stats{Misses: c.misses.Load()} }
