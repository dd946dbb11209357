package gateway

import (
	"time"
)

// -----------------------------------------------------------------------------
// Response Cache
//
// Short-TTL cache for REST responses. Hits bypass throttling and network I/O
// entirely. Eviction is least-recently-inserted once the capacity bound is
// reached; expired entries are dropped lazily on lookup.
// -----------------------------------------------------------------------------

type cacheEntry struct {
	key       string
	response  Response
	expiresAt time.Time
}

type responseCache struct {
	capacity int
	entries  map[string]*cacheEntry

	// insertion order, oldest first
	order []string
}

// -----------------------------------------------------------------------------

func newResponseCache(capacity int) *responseCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &responseCache{
		capacity: capacity,
		entries:  make(map[string]*cacheEntry),
	}
}

// -----------------------------------------------------------------------------

// get returns a still-fresh cached response.
func (c *responseCache) get(key string, now time.Time) (Response, bool) {
	entry, ok := c.entries[key]
	if !ok {
		return Response{}, false
	}
	if now.After(entry.expiresAt) {
		c.remove(key)
		return Response{}, false
	}
	return entry.response, true
}

// -----------------------------------------------------------------------------

// put stores a response, evicting the oldest insertion at capacity.
func (c *responseCache) put(key string, resp Response, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		return
	}

	if _, ok := c.entries[key]; ok {
		c.remove(key)
	}

	for len(c.entries) >= c.capacity && len(c.order) > 0 {
		c.remove(c.order[0])
	}

	c.entries[key] = &cacheEntry{
		key:       key,
		response:  resp,
		expiresAt: now.Add(ttl),
	}
	c.order = append(c.order, key)
}

// -----------------------------------------------------------------------------

func (c *responseCache) remove(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// -----------------------------------------------------------------------------

func (c *responseCache) size() int {
	return len(c.entries)
}
