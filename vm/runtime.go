package vm

import (
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("pagevm.vm")

// ---------------------------------------------------------------------------
// Runtime: heap, page cache and the typed lifecycle tying them together
// ---------------------------------------------------------------------------

// Runtime owns one heap and one page cache and implements every page and
// array operation on top of them. A Runtime is meant to be driven from a
// single goroutine (see server.Worker for confining one); the heap and
// cache lock internally only to keep each operation consistent.
type Runtime struct {
	Heap    *Heap
	Pages   *PageCache
	Catalog Catalog

	host Host
}

// Option configures a Runtime.
type Option func(*runtimeConfig)

type runtimeConfig struct {
	heapSlots    int
	heapHeadroom int
	cacheClasses int
	cacheDepth   int
}

// WithHeapSize sets the initial heap size and growth headroom.
func WithHeapSize(initial, headroom int) Option {
	return func(c *runtimeConfig) {
		c.heapSlots = initial
		c.heapHeadroom = headroom
	}
}

// WithPageCache sets the number of cached page lengths and the depth of
// each free list. classes == 0 disables caching.
func WithPageCache(classes, depth int) Option {
	return func(c *runtimeConfig) {
		c.cacheClasses = classes
		c.cacheDepth = depth
	}
}

// NewRuntime creates a runtime reading types from cat and calling back
// into host for constructors and comparators. A nil host is replaced by
// a NopHost.
func NewRuntime(cat Catalog, host Host, opts ...Option) *Runtime {
	cfg := &runtimeConfig{
		heapSlots:    DefaultHeapSlots,
		heapHeadroom: DefaultHeapHeadroom,
		cacheClasses: DefaultCacheClasses,
		cacheDepth:   DefaultCacheDepth,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if host == nil {
		host = &NopHost{}
	}

	rt := &Runtime{
		Heap:    NewHeap(cfg.heapSlots, cfg.heapHeadroom),
		Pages:   NewPageCache(cfg.cacheClasses, cfg.cacheDepth),
		Catalog: cat,
		host:    host,
	}
	rt.Heap.finalize = rt.DeletePage
	return rt
}

// Host returns the interpreter the runtime calls back into.
func (rt *Runtime) Host() Host {
	return rt.host
}

// Shutdown drops every cached page buffer. Heap contents are left alone:
// they belong to whatever still references them.
func (rt *Runtime) Shutdown() {
	rt.Pages.Reset()
	log.Debugf("runtime shut down, %d heap slots still live", rt.Heap.Live())
}

// Stats is a point-in-time summary of a runtime.
type Stats struct {
	Heap  HeapStats
	Cache PageCacheStats
}

// Stats returns heap and page cache counters.
func (rt *Runtime) Stats() Stats {
	return Stats{Heap: rt.Heap.Stats(), Cache: rt.Pages.Stats()}
}
