// Package cache provides an in-memory TTL cache for query results.
//
// The cache is a constructed, injected instance rather than a package
// global, so callers control its lifetime and tests can run against
// isolated instances with a fake clock.
package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Config controls cache behavior. Zero values fall back to defaults.
type Config struct {
	DefaultTTL time.Duration // applied when Put is called with ttl <= 0
	MaxEntries int           // FIFO eviction above this count; <= 0 means 256
}

const (
	defaultTTL        = 5 * time.Minute
	defaultMaxEntries = 256
)

type entry struct {
	value     []byte
	createdAt time.Time
	ttl       time.Duration
}

// Cache is a mutex-guarded key-value store with per-entry TTLs and FIFO
// eviction. Expired entries are treated as absent and evicted lazily on
// access; Run sweeps them in the background.
type Cache struct {
	clock      Clock
	defaultTTL time.Duration
	maxEntries int

	mu      sync.Mutex
	entries map[string]*entry
	order   []string // insertion order for FIFO eviction

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a Cache with the given config and the real clock.
func New(cfg Config) *Cache {
	return NewWithClock(cfg, realClock{})
}

// NewWithClock creates a Cache with a custom clock (for testing).
func NewWithClock(cfg Config, clock Clock) *Cache {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	max := cfg.MaxEntries
	if max <= 0 {
		max = defaultMaxEntries
	}
	return &Cache{
		clock:      clock,
		defaultTTL: ttl,
		maxEntries: max,
		entries:    make(map[string]*entry),
	}
}

// Fingerprint derives a stable cache key from the given parts.
func Fingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Get returns the value stored under key, or false if the key is absent
// or its entry has expired. Expired entries are evicted on access.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.expired(e) {
		delete(c.entries, key)
		ok = false
	}
	var value []byte
	if ok {
		value = e.value
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return value, true
}

// Put stores value under key. A non-positive ttl uses the default TTL.
// Writes to the same key are last-write-wins; the key keeps its original
// position in the FIFO eviction order.
func (c *Cache) Put(key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = &entry{value: value, createdAt: c.clock.Now(), ttl: ttl}

	for len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

// Clear removes all entries whose key starts with scope. An empty scope
// clears the whole cache. Returns the number of entries removed.
func (c *Cache) Clear(scope string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if scope == "" {
		n := len(c.entries)
		c.entries = make(map[string]*entry)
		c.order = nil
		return n
	}

	removed := 0
	kept := c.order[:0]
	for _, k := range c.order {
		if strings.HasPrefix(k, scope) {
			if _, ok := c.entries[k]; ok {
				delete(c.entries, k)
				removed++
			}
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
	return removed
}

// Len returns the number of live entries, counting expired-but-unswept ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats holds cache performance counters.
type Stats struct {
	Entries int   `json:"entries"`
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}

// Run sweeps expired entries every interval until ctx is cancelled.
// If interval is <= 0, it defaults to one minute.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.sweep(); n > 0 {
				slog.Debug("cache sweep", "evicted", n)
			}
		}
	}
}

// sweep removes all expired entries and returns how many were removed.
func (c *Cache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	kept := c.order[:0]
	for _, k := range c.order {
		e, ok := c.entries[k]
		if !ok {
			continue
		}
		if c.expired(e) {
			delete(c.entries, k)
			removed++
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
	return removed
}

// expired reports whether e is past its TTL. Callers must hold c.mu.
func (c *Cache) expired(e *entry) bool {
	return !c.clock.Now().Before(e.createdAt.Add(e.ttl))
}

// evictOldestLocked removes the oldest-inserted live entry. Callers must
// hold c.mu. Stale order slots (keys already removed by Clear or sweep)
// are skipped.
func (c *Cache) evictOldestLocked() {
	for len(c.order) > 0 {
		k := c.order[0]
		c.order = c.order[1:]
		if _, ok := c.entries[k]; ok {
			delete(c.entries, k)
			return
		}
	}
}
