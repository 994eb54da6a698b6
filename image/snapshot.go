// Package image captures page graphs into self-contained snapshots and
// rebuilds them inside a runtime. Snapshots are encoded with canonical
// CBOR so equal graphs always produce equal bytes.
package image

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/pagevm/vm"
)

var log = commonlog.GetLogger("pagevm.image")

// Version is the snapshot format version written by Capture.
const Version = 1

var (
	// ErrCycle is returned by Capture when a page refers back to one of
	// its ancestors. Such a graph cannot be written as a tree.
	ErrCycle = errors.New("image: page graph contains a cycle")

	// ErrCorrupt is returned by Restore and Unmarshal for snapshots that
	// are malformed or do not match the runtime's catalog.
	ErrCorrupt = errors.New("image: corrupt snapshot")
)

// SlotKind says how a Slot is stored.
type SlotKind uint8

const (
	SlotScalar SlotKind = 1 // raw Value bits
	SlotString SlotKind = 2 // heap string
	SlotPage   SlotKind = 3 // heap slot holding node Node
	SlotEmpty  SlotKind = 4 // heap slot holding no page
	SlotNull   SlotKind = 5 // NoHandle
)

// Slot is one captured page slot.
type Slot struct {
	Kind SlotKind `cbor:"1,keyasint"`
	Bits int64    `cbor:"2,keyasint,omitempty"`
	Text string   `cbor:"3,keyasint,omitempty"`
	Node int      `cbor:"4,keyasint,omitempty"`
}

// Node is one captured page.
type Node struct {
	Kind       vm.PageKind `cbor:"1,keyasint"`
	Index      int         `cbor:"2,keyasint"`
	StructType int         `cbor:"3,keyasint"`
	Rank       int         `cbor:"4,keyasint,omitempty"`
	Slots      []Slot      `cbor:"5,keyasint"`
}

// Snapshot is a page graph flattened into nodes. Nodes[Root] is the
// captured page; Root is -1 for a nil page. Every node is referenced at
// most once, so pages shared in the live graph are captured (and later
// restored) as separate copies.
type Snapshot struct {
	Version int    `cbor:"1,keyasint"`
	Root    int    `cbor:"2,keyasint"`
	Nodes   []Node `cbor:"3,keyasint"`
}

// ---------------------------------------------------------------------------
// Capture
// ---------------------------------------------------------------------------

// Capture walks the page graph reachable from p. Slot types come from
// rt.VariableType, so p must belong to rt.
func Capture(rt *vm.Runtime, p *vm.Page) (*Snapshot, error) {
	s := &Snapshot{Version: Version, Root: -1}
	if p == nil {
		return s, nil
	}
	c := capturer{rt: rt, snap: s, active: make(map[*vm.Page]bool)}
	root, err := c.page(p)
	if err != nil {
		return nil, err
	}
	s.Root = root
	log.Debugf("captured %s as %d nodes", p, len(s.Nodes))
	return s, nil
}

type capturer struct {
	rt     *vm.Runtime
	snap   *Snapshot
	active map[*vm.Page]bool // pages on the current path
}

func (c *capturer) page(p *vm.Page) (int, error) {
	if c.active[p] {
		return 0, fmt.Errorf("%w: %s", ErrCycle, p)
	}
	c.active[p] = true
	defer delete(c.active, p)

	id := len(c.snap.Nodes)
	c.snap.Nodes = append(c.snap.Nodes, Node{
		Kind:       p.Kind,
		Index:      p.Index,
		StructType: p.StructType,
		Rank:       p.Rank,
	})

	slots := make([]Slot, len(p.Values))
	for i, v := range p.Values {
		t, _ := c.rt.VariableType(p, i)
		slot, err := c.slot(v, t)
		if err != nil {
			return 0, err
		}
		slots[i] = slot
	}
	c.snap.Nodes[id].Slots = slots
	return id, nil
}

func (c *capturer) slot(v vm.Value, t vm.DataType) (Slot, error) {
	switch {
	case !t.IsHeap():
		return Slot{Kind: SlotScalar, Bits: v.Int()}, nil
	case v.IsNoHandle():
		return Slot{Kind: SlotNull}, nil
	case t == vm.TypeString:
		return Slot{Kind: SlotString, Text: c.rt.Heap.String(v.Handle())}, nil
	}
	child := c.rt.Heap.Page(v.Handle())
	if child == nil {
		return Slot{Kind: SlotEmpty}, nil
	}
	id, err := c.page(child)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Kind: SlotPage, Node: id}, nil
}

// Counts returns the number of pages and strings in s.
func (s *Snapshot) Counts() (pages, strings int) {
	for _, n := range s.Nodes {
		for _, sl := range n.Slots {
			if sl.Kind == SlotString {
				strings++
			}
		}
	}
	return len(s.Nodes), strings
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// Restore rebuilds the snapshot inside rt and returns the root page, with
// every heap slot it references holding one reference. The snapshot must
// match rt's catalog: slot counts and slot types are checked against it.
// On error nothing is left allocated.
func Restore(rt *vm.Runtime, s *Snapshot) (*vm.Page, error) {
	if s.Version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrCorrupt, s.Version)
	}
	if s.Root == -1 {
		return nil, nil
	}
	r := restorer{rt: rt, snap: s, used: make([]bool, len(s.Nodes))}
	return r.page(s.Root)
}

type restorer struct {
	rt   *vm.Runtime
	snap *Snapshot
	used []bool
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
}

func (r *restorer) page(id int) (*vm.Page, error) {
	if id < 0 || id >= len(r.snap.Nodes) {
		return nil, corruptf("node %d out of range", id)
	}
	if r.used[id] {
		return nil, corruptf("node %d referenced twice", id)
	}
	r.used[id] = true

	n := &r.snap.Nodes[id]
	if err := r.checkShape(n); err != nil {
		return nil, err
	}

	p := r.rt.AllocPage(n.Kind, n.Index, len(n.Slots))
	p.StructType = n.StructType
	p.Rank = n.Rank

	// Every slot gets a releasable placeholder first so a failure part way
	// through can be undone with DeletePage.
	types := make([]vm.DataType, len(n.Slots))
	structs := make([]int, len(n.Slots))
	for i := range p.Values {
		types[i], structs[i] = r.rt.VariableType(p, i)
		if types[i].IsHeap() {
			p.Values[i] = vm.NoHandle
		} else {
			p.Values[i] = 0
		}
	}

	for i, sl := range n.Slots {
		v, err := r.slot(sl, types[i], structs[i], p)
		if err != nil {
			r.rt.DeletePage(p)
			return nil, err
		}
		p.Values[i] = v
	}
	return p, nil
}

// checkShape verifies n against the catalog before a page is built for
// it, so that VariableType and DeletePage are safe to use on the result.
func (r *restorer) checkShape(n *Node) error {
	cat := r.rt.Catalog
	switch n.Kind {
	case vm.GlobalPage:
		if len(n.Slots) != cat.NumGlobals() {
			return corruptf("%d globals, catalog has %d", len(n.Slots), cat.NumGlobals())
		}
	case vm.LocalPage:
		if len(n.Slots) != cat.NumLocals(n.Index) {
			return corruptf("%d locals for function %d, catalog has %d", len(n.Slots), n.Index, cat.NumLocals(n.Index))
		}
	case vm.StructPage:
		st := cat.Struct(n.Index)
		if st == nil {
			return corruptf("unknown struct %d", n.Index)
		}
		if len(n.Slots) != len(st.Members) {
			return corruptf("%d members for struct %s, catalog has %d", len(n.Slots), st.Name, len(st.Members))
		}
	case vm.ArrayPage:
		t := vm.DataType(n.Index)
		if !t.IsArray() || n.Rank < 1 {
			return corruptf("array node of type %s rank %d", t, n.Rank)
		}
		if t == vm.TypeArrayStruct && cat.Struct(n.StructType) == nil {
			return corruptf("array of unknown struct %d", n.StructType)
		}
	default:
		return corruptf("page kind %d", n.Kind)
	}
	return nil
}

// slot builds the value of one slot of parent declared as type t with
// struct id st.
func (r *restorer) slot(sl Slot, t vm.DataType, st int, parent *vm.Page) (vm.Value, error) {
	heap := r.rt.Heap
	switch {
	case !t.IsHeap():
		if sl.Kind != SlotScalar {
			return 0, corruptf("%s slot stored as kind %d", t, sl.Kind)
		}
		return vm.FromInt(sl.Bits), nil
	case sl.Kind == SlotNull:
		return vm.NoHandle, nil
	case t == vm.TypeString:
		if sl.Kind != SlotString {
			return 0, corruptf("string slot stored as kind %d", sl.Kind)
		}
		h := heap.Alloc(vm.HeapString)
		heap.AttachString(h, sl.Text)
		return vm.FromHandle(h), nil
	case sl.Kind == SlotEmpty:
		return vm.FromHandle(heap.Alloc(vm.HeapPage)), nil
	case sl.Kind != SlotPage:
		return 0, corruptf("%s slot stored as kind %d", t, sl.Kind)
	}

	if sl.Node >= 0 && sl.Node < len(r.snap.Nodes) {
		if err := checkChild(&r.snap.Nodes[sl.Node], t, st, parent); err != nil {
			return 0, err
		}
	}
	child, err := r.page(sl.Node)
	if err != nil {
		return 0, err
	}
	h := heap.Alloc(vm.HeapPage)
	heap.AttachPage(h, child)
	return vm.FromHandle(h), nil
}

// checkChild verifies that node n may be stored in a slot of parent
// declared as type t with struct id st.
func checkChild(n *Node, t vm.DataType, st int, parent *vm.Page) error {
	if t == vm.TypeStruct {
		if n.Kind != vm.StructPage {
			return corruptf("%s slot refers to a %s node", t, n.Kind)
		}
		if n.Index != st {
			return corruptf("struct %d slot refers to struct %d", st, n.Index)
		}
		return nil
	}

	if n.Kind != vm.ArrayPage {
		return corruptf("%s slot refers to a %s node", t, n.Kind)
	}
	if vm.DataType(n.Index) != t {
		return corruptf("%s slot refers to a %s array", t, vm.DataType(n.Index))
	}
	if t == vm.TypeArrayStruct && n.StructType != st {
		return corruptf("array of struct %d slot refers to an array of struct %d", st, n.StructType)
	}
	if parent.Kind == vm.ArrayPage && n.Rank != parent.Rank-1 {
		return corruptf("rank %d array holds a rank %d sub-array", parent.Rank, n.Rank)
	}
	return nil
}
