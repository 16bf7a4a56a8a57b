// Package cache holds small in-memory caches shared by the webhook handlers.
package cache

import (
	"container/list"
	"strconv"
	"sync"
	"time"
)

// DedupeCache remembers keys for a limited time so redelivered webhooks can
// be recognised. When full, the least recently seen key is evicted.
type DedupeCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently seen
	ttl     time.Duration
	maxSize int
}

type dedupeEntry struct {
	key  string
	seen time.Time
}

// DedupeCacheOptions configures the cache.
type DedupeCacheOptions struct {
	// TTL is how long a key counts as seen. Zero keeps keys until evicted.
	TTL time.Duration

	// MaxSize bounds the number of remembered keys.
	// Default: 4096
	MaxSize int
}

// NewDedupeCache creates a new deduplication cache.
func NewDedupeCache(opts DedupeCacheOptions) *DedupeCache {
	if opts.TTL < 0 {
		opts.TTL = 0
	}
	if opts.MaxSize <= 0 {
		opts.MaxSize = 4096
	}
	return &DedupeCache{
		entries: make(map[string]*list.Element),
		order:   list.New(),
		ttl:     opts.TTL,
		maxSize: opts.MaxSize,
	}
}

// Seen reports whether key was recorded within the TTL, and records it.
func (c *DedupeCache) Seen(key string) bool {
	return c.SeenAt(key, time.Now())
}

// SeenAt is Seen with an explicit clock.
func (c *DedupeCache) SeenAt(key string, now time.Time) bool {
	if key == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*dedupeEntry)
		fresh := c.ttl <= 0 || now.Sub(entry.seen) < c.ttl
		entry.seen = now
		c.order.MoveToFront(el)
		return fresh
	}

	c.entries[key] = c.order.PushFront(&dedupeEntry{key: key, seen: now})
	c.evict(now)
	return false
}

// evict drops expired keys from the back, then trims to maxSize.
func (c *DedupeCache) evict(now time.Time) {
	for el := c.order.Back(); el != nil; el = c.order.Back() {
		entry := el.Value.(*dedupeEntry)
		expired := c.ttl > 0 && now.Sub(entry.seen) >= c.ttl
		if !expired && c.order.Len() <= c.maxSize {
			return
		}
		c.order.Remove(el)
		delete(c.entries, entry.key)
	}
}

// Len returns the number of remembered keys.
func (c *DedupeCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// FragmentKey identifies one transcription fragment delivery.
func FragmentKey(streamSID string, sequence int) string {
	if streamSID == "" {
		return ""
	}
	return streamSID + "#" + strconv.Itoa(sequence)
}
