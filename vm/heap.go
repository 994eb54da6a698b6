package vm

import (
	"fmt"
	"sync"
)

// ---------------------------------------------------------------------------
// Heap: reference-counted slot table for strings and nested pages
// ---------------------------------------------------------------------------

// HeapKind is the payload kind of a heap slot.
type HeapKind uint8

const (
	HeapFree   HeapKind = iota // slot is unused
	HeapString                 // slot holds a string
	HeapPage                   // slot holds a (possibly nil) page
)

func (k HeapKind) String() string {
	switch k {
	case HeapFree:
		return "free"
	case HeapString:
		return "string"
	case HeapPage:
		return "page"
	default:
		return fmt.Sprintf("heapkind(%d)", uint8(k))
	}
}

// Default heap geometry.
const (
	DefaultHeapSlots    = 1024
	DefaultHeapHeadroom = 256
)

type heapEntry struct {
	refs int
	kind HeapKind
	str  string
	page *Page
}

// HeapStats holds heap counters.
type HeapStats struct {
	Live     int    // slots currently allocated
	Capacity int    // slots in the table
	Allocs   uint64 // total Alloc calls
	Frees    uint64 // slots returned to the free pool
	Growths  uint64 // times the table grew
}

// Heap maps integer handles to reference-counted strings and pages.
//
// Releasing the last reference to a page slot tears the page down through
// the finalizer installed by the Runtime, which releases the page's own
// slots in turn. There is no cycle detection: a page graph that refers to
// itself never reaches zero and stays allocated until the heap is
// discarded.
type Heap struct {
	mu       sync.Mutex
	entries  []heapEntry
	free     []int // LIFO pool of unused handles
	headroom int
	live     int
	stats    HeapStats

	finalize func(*Page)
}

// NewHeap creates a heap with initial slots that grows by headroom slots
// whenever it runs out.
func NewHeap(initial, headroom int) *Heap {
	if headroom <= 0 {
		headroom = DefaultHeapHeadroom
	}
	h := &Heap{headroom: headroom}
	if initial > 0 {
		h.growLocked(initial)
		h.stats.Growths = 0
	}
	return h
}

// growLocked appends n free slots. Handles are pushed in reverse so the
// lowest new handle is handed out first.
func (h *Heap) growLocked(n int) {
	base := len(h.entries)
	h.entries = append(h.entries, make([]heapEntry, n)...)
	for id := base + n - 1; id >= base; id-- {
		h.free = append(h.free, id)
	}
	h.stats.Growths++
	log.Debugf("heap grown to %d slots", len(h.entries))
}

// liveLocked returns the entry for id or panics if id is not allocated.
func (h *Heap) liveLocked(op string, id int) *heapEntry {
	if id < 0 || id >= len(h.entries) || h.entries[id].kind == HeapFree {
		panic(contractf(op, ErrBadHandle, "handle %d", id))
	}
	return &h.entries[id]
}

// ---------------------------------------------------------------------------
// Allocation and reference counting
// ---------------------------------------------------------------------------

// Alloc reserves a slot of the given kind with a reference count of 1 and
// an empty payload ("" for strings, nil for pages).
func (h *Heap) Alloc(kind HeapKind) int {
	if kind == HeapFree {
		panic(contractf("heap alloc", ErrBadHandle, "cannot allocate a free slot"))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.free) == 0 {
		h.growLocked(h.headroom)
	}
	id := h.free[len(h.free)-1]
	h.free = h.free[:len(h.free)-1]

	h.entries[id] = heapEntry{refs: 1, kind: kind}
	h.live++
	h.stats.Allocs++
	return id
}

// Retain adds a reference to id.
func (h *Heap) Retain(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveLocked("heap retain", id).refs++
}

// Release drops a reference to id. When the count reaches zero the slot is
// freed and, if it held a page, the page is torn down. Teardown runs after
// the heap lock is released because it releases further handles.
func (h *Heap) Release(id int) {
	if page := h.drop(id); page != nil && h.finalize != nil {
		h.finalize(page)
	}
}

// drop decrements id and frees it at zero, returning the page (if any)
// that now needs tearing down.
func (h *Heap) drop(id int) *Page {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.liveLocked("heap release", id)
	e.refs--
	if e.refs > 0 {
		return nil
	}
	page := e.page
	*e = heapEntry{}
	h.free = append(h.free, id)
	h.live--
	h.stats.Frees++
	return page
}

// ---------------------------------------------------------------------------
// Payload access
// ---------------------------------------------------------------------------

// AttachString sets the string payload of a string slot.
func (h *Heap) AttachString(id int, s string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.liveLocked("heap attach string", id)
	if e.kind != HeapString {
		panic(contractf("heap attach string", ErrBadHandle, "handle %d holds a %s", id, e.kind))
	}
	e.str = s
}

// SetString replaces the text of a string slot. Strings are values: other
// slots holding copies are unaffected.
func (h *Heap) SetString(id int, s string) {
	h.AttachString(id, s)
}

// AttachPage sets the page payload of a page slot. A page that was already
// attached is not released; callers replacing a page delete it first.
func (h *Heap) AttachPage(id int, p *Page) {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.liveLocked("heap attach page", id)
	if e.kind != HeapPage {
		panic(contractf("heap attach page", ErrBadHandle, "handle %d holds a %s", id, e.kind))
	}
	e.page = p
}

// String returns the payload of a string slot.
func (h *Heap) String(id int) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.liveLocked("heap string", id)
	if e.kind != HeapString {
		panic(contractf("heap string", ErrBadHandle, "handle %d holds a %s", id, e.kind))
	}
	return e.str
}

// Page returns the payload of a page slot, which may be nil.
func (h *Heap) Page(id int) *Page {
	h.mu.Lock()
	defer h.mu.Unlock()

	e := h.liveLocked("heap page", id)
	if e.kind != HeapPage {
		panic(contractf("heap page", ErrBadHandle, "handle %d holds a %s", id, e.kind))
	}
	return e.page
}

// Kind returns the payload kind of id, or HeapFree if id is not allocated.
func (h *Heap) Kind(id int) HeapKind {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id < 0 || id >= len(h.entries) {
		return HeapFree
	}
	return h.entries[id].kind
}

// Refs returns the reference count of id; 0 if id is not allocated.
func (h *Heap) Refs(id int) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if id < 0 || id >= len(h.entries) {
		return 0
	}
	return h.entries[id].refs
}

// Live returns the number of allocated slots.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

// Stats returns a copy of the heap counters.
func (h *Heap) Stats() HeapStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.stats
	s.Live = h.live
	s.Capacity = len(h.entries)
	return s
}

// ForEachLive calls fn for every allocated handle, in handle order. fn
// must not call back into the heap.
func (h *Heap) ForEachLive(fn func(id int, kind HeapKind, refs int)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id := range h.entries {
		if e := &h.entries[id]; e.kind != HeapFree {
			fn(id, e.kind, e.refs)
		}
	}
}
