package vm

import "sync"

// ---------------------------------------------------------------------------
// PageCache: size-classed free lists of page buffers
// ---------------------------------------------------------------------------

// Default page cache geometry: pages of length 1..8 are cached, up to 64
// of each length.
const (
	DefaultCacheClasses = 8
	DefaultCacheDepth   = 64
)

// PageCacheStats holds cache counters.
type PageCacheStats struct {
	Hits   uint64 // Acquire served from a free list
	Misses uint64 // Acquire had to allocate
	Drops  uint64 // Free could not cache the page
	Cached int    // pages currently sitting in free lists
}

// PageCache recycles Page buffers of the most common lengths. Most local
// scopes are small and entered/exited constantly, so reusing their
// buffers avoids allocation churn.
//
// A page returned by Acquire has stale contents: Kind, Index, StructType,
// Rank and every value must be overwritten before use. The cache never
// clears reused memory.
type PageCache struct {
	mu      sync.Mutex
	classes [][]*Page
	depth   int
	stats   PageCacheStats
}

// NewPageCache creates a cache for lengths 1..classes, each holding up to
// depth pages. Zero or negative classes or depth disables caching.
func NewPageCache(classes, depth int) *PageCache {
	if classes < 0 {
		classes = 0
	}
	if depth < 0 {
		depth = 0
	}
	c := &PageCache{
		classes: make([][]*Page, classes),
		depth:   depth,
	}
	for i := range c.classes {
		c.classes[i] = make([]*Page, 0, depth)
	}
	return c
}

// Acquire returns a page with exactly n values.
func (c *PageCache) Acquire(n int) *Page {
	class := n - 1

	c.mu.Lock()
	if class >= 0 && class < len(c.classes) {
		free := c.classes[class]
		if k := len(free); k > 0 {
			p := free[k-1]
			free[k-1] = nil
			c.classes[class] = free[:k-1]
			c.stats.Hits++
			c.mu.Unlock()
			return p
		}
	}
	c.stats.Misses++
	c.mu.Unlock()

	return &Page{Values: make([]Value, n)}
}

// Free hands p back to the cache. Pages whose length has no class, or
// whose class is full, are left to the Go garbage collector.
func (c *PageCache) Free(p *Page) {
	if p == nil {
		return
	}
	class := len(p.Values) - 1

	c.mu.Lock()
	defer c.mu.Unlock()

	if class < 0 || class >= len(c.classes) || len(c.classes[class]) >= c.depth {
		c.stats.Drops++
		return
	}
	c.classes[class] = append(c.classes[class], p)
}

// Stats returns a copy of the cache counters.
func (c *PageCache) Stats() PageCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	for _, free := range c.classes {
		s.Cached += len(free)
	}
	return s
}

// Reset empties every free list. Counters are kept.
func (c *PageCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range c.classes {
		clear(c.classes[i])
		c.classes[i] = c.classes[i][:0]
	}
}
