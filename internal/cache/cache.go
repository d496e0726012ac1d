// Package cache is an in-process key/value cache with per-entry TTL and lazy
// expiry.
package cache

import (
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"git.cscs.ch/openchami/filemaker-mcp/internal/metrics"
)

const (
	shardCount = 16

	// DefaultTTL applies when Set is called with a non-positive TTL.
	DefaultTTL = time.Hour
)

type entry struct {
	value     any
	ttl       time.Duration
	createdAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

type shard struct {
	mu      sync.Mutex
	entries map[string]entry
}

// Stats describes the cache content. Keys are sorted and may include expired
// entries that were not read since they expired.
type Stats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// Cache is safe for concurrent use. Expired entries are only evicted when
// read; there is no background sweep.
type Cache struct {
	shards [shardCount]*shard
	now    func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{now: time.Now}
	for i := range c.shards {
		c.shards[i] = &shard{entries: map[string]entry{}}
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[xxhash.Sum64String(key)%shardCount]
}

// Set stores value under key for ttl, replacing any previous entry.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = entry{value: value, ttl: ttl, createdAt: c.now()}
	s.mu.Unlock()
}

// Get returns the value stored under key. An expired entry is removed and
// reported as missing.
func (c *Cache) Get(key string) (any, bool) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if ok && e.expired(c.now()) {
		delete(s.entries, key)
		ok = false
	}
	metrics.ObserveCacheLookup(ok)
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	return ok
}

// Clear removes every entry and returns how many were dropped.
func (c *Cache) Clear() int {
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		removed += len(s.entries)
		s.entries = map[string]entry{}
		s.mu.Unlock()
	}
	return removed
}

// Stats returns the current size and keys.
func (c *Cache) Stats() Stats {
	keys := []string{}
	for _, s := range c.shards {
		s.mu.Lock()
		for k := range s.entries {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	slices.Sort(keys)
	return Stats{Size: len(keys), Keys: keys}
}
