// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"sync"
	"time"
)

// DefaultCacheTTL applies when a cache is created with a non-positive TTL
const DefaultCacheTTL = 30 * time.Second

// CacheEntry is a cached value with its expiry
type CacheEntry[T any] struct {
	Value      T
	ExpiresAt  time.Time
	LastUpdate time.Time
}

// IsExpired reports whether the entry has expired
func (e *CacheEntry[T]) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits         int64
	Misses       int64
	Evictions    int64
	LastEviction time.Time
}

// TTLCache is a keyed cache whose entries expire after a fixed TTL. It
// backs the secret cache and the per-tenant profile cache.
type TTLCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry[T]
	ttl     time.Duration

	statsMu sync.Mutex
	stats   CacheStats
}

// NewTTLCache creates a cache with the given TTL
func NewTTLCache[T any](ttl time.Duration) *TTLCache[T] {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &TTLCache[T]{entries: make(map[string]*CacheEntry[T]), ttl: ttl}
}

// TTL returns the entry lifetime
func (c *TTLCache[T]) TTL() time.Duration { return c.ttl }

// Get returns the live value for key
func (c *TTLCache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || entry.IsExpired() {
		c.record(func(s *CacheStats) { s.Misses++ })
		var zero T
		return zero, false
	}
	c.record(func(s *CacheStats) { s.Hits++ })
	return entry.Value, true
}

// Set stores value under key
func (c *TTLCache[T]) Set(key string, value T) {
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &CacheEntry[T]{Value: value, ExpiresAt: now.Add(c.ttl), LastUpdate: now}
	c.mu.Unlock()
}

// Invalidate drops key
func (c *TTLCache[T]) Invalidate(key string) {
	c.mu.Lock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	c.mu.Unlock()
	if ok {
		c.evicted(1)
	}
}

// InvalidateAll drops every entry
func (c *TTLCache[T]) InvalidateAll() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*CacheEntry[T])
	c.mu.Unlock()
	if n > 0 {
		c.evicted(int64(n))
	}
}

// Cleanup removes expired entries and returns how many were removed
func (c *TTLCache[T]) Cleanup() int {
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if entry.IsExpired() {
			delete(c.entries, key)
			removed++
		}
	}
	c.mu.Unlock()
	if removed > 0 {
		c.evicted(int64(removed))
	}
	return removed
}

// Len returns the number of entries, expired or not
func (c *TTLCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache statistics
func (c *TTLCache[T]) Stats() CacheStats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// HitRate returns hits / (hits + misses), or 0 before any lookup
func (c *TTLCache[T]) HitRate() float64 {
	s := c.Stats()
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (c *TTLCache[T]) record(fn func(*CacheStats)) {
	c.statsMu.Lock()
	fn(&c.stats)
	c.statsMu.Unlock()
}

func (c *TTLCache[T]) evicted(n int64) {
	c.record(func(s *CacheStats) {
		s.Evictions += n
		s.LastEviction = time.Now()
	})
}
