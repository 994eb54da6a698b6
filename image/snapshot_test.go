package image

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/pagevm/catalog"
	"github.com/chazu/pagevm/vm"
)

const testCatalog = `
[[global]]
name = "score"
type = "int"

[[global]]
name = "name"
type = "string"

[[global]]
name = "hero"
type = "struct"
struct = "Hero"

[[global]]
name = "grid"
type = "array@int"

[[global]]
name = "party"
type = "array@struct"
struct = "Hero"

[[struct]]
name = "Hero"
  [[struct.member]]
  name = "name"
  type = "string"
  [[struct.member]]
  name = "hp"
  type = "int"
  [[struct.member]]
  name = "tags"
  type = "array@string"

[[struct]]
name = "Node"
  [[struct.member]]
  name = "value"
  type = "int"
  [[struct.member]]
  name = "next"
  type = "array@struct"
  struct = "Node"
`

func newRuntime(t *testing.T) *vm.Runtime {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("catalog.Parse: %v", err)
	}
	rt := vm.NewRuntime(cat, nil, vm.WithHeapSize(32, 32))
	t.Cleanup(rt.Shutdown)
	return rt
}

// buildWorld fills a global page with one value of every shape.
func buildWorld(t *testing.T, rt *vm.Runtime) *vm.Page {
	t.Helper()
	g, err := rt.NewGlobalPage()
	if err != nil {
		t.Fatalf("NewGlobalPage: %v", err)
	}
	g.Values[0] = vm.FromInt(1200)
	rt.Heap.SetString(g.Values[1].Handle(), "world one")

	hero := rt.Heap.Page(g.Values[2].Handle())
	rt.Heap.SetString(hero.Values[0].Handle(), "Ada")
	hero.Values[1] = vm.FromInt(30)
	tags, err := rt.AllocArray(1, []int{2}, vm.TypeArrayString, -1)
	if err != nil {
		t.Fatalf("AllocArray: %v", err)
	}
	rt.Heap.SetString(tags.Values[0].Handle(), "brave")
	rt.Heap.AttachPage(hero.Values[2].Handle(), tags)

	grid, err := rt.AllocArray(2, []int{2, 3}, vm.TypeArrayInt, -1)
	if err != nil {
		t.Fatalf("AllocArray: %v", err)
	}
	row := rt.Heap.Page(grid.Values[1].Handle())
	row.Values[2] = vm.FromInt(-7)
	rt.Heap.AttachPage(g.Values[3].Handle(), grid)

	heroID, _ := rt.Catalog.(*catalog.Catalog).StructID("Hero")
	party, err := rt.PushBack(nil, g.Values[2], vm.TypeArrayStruct, heroID)
	if err != nil {
		t.Fatalf("PushBack: %v", err)
	}
	rt.Heap.AttachPage(g.Values[4].Handle(), party)
	return g
}

func mustEncode(t *testing.T, rt *vm.Runtime, p *vm.Page) []byte {
	t.Helper()
	s, err := Capture(rt, p)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	data, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

// ---------------------------------------------------------------------------
// Round trip
// ---------------------------------------------------------------------------

func TestRoundTrip(t *testing.T) {
	rt := newRuntime(t)
	world := buildWorld(t, rt)
	live := rt.Heap.Live()

	data := mustEncode(t, rt, world)
	s, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	restored, err := Restore(rt, s)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := rt.Heap.Live(); got != 2*live {
		t.Errorf("live after restore = %d, want %d", got, 2*live)
	}

	if restored.Values[0].Int() != 1200 {
		t.Errorf("score = %d, want 1200", restored.Values[0].Int())
	}
	if got := rt.Heap.String(restored.Values[1].Handle()); got != "world one" {
		t.Errorf("name = %q", got)
	}
	if restored.Values[1] == world.Values[1] {
		t.Error("restored string shares a handle with the original")
	}
	grid := rt.Heap.Page(restored.Values[3].Handle())
	if rt.ArrayLen(grid, 1) != 2 || rt.ArrayLen(grid, 2) != 3 {
		t.Errorf("grid extents = %d x %d, want 2 x 3", rt.ArrayLen(grid, 1), rt.ArrayLen(grid, 2))
	}
	if got := rt.Heap.Page(grid.Values[1].Handle()).Values[2].Int(); got != -7 {
		t.Errorf("grid[1][2] = %d, want -7", got)
	}

	// Canonical encoding: the restored graph encodes to the same bytes.
	if again := mustEncode(t, rt, restored); !bytes.Equal(again, data) {
		t.Error("restored graph encodes differently from the original")
	}

	rt.DeletePage(world)
	rt.DeletePage(restored)
	if got := rt.Heap.Live(); got != 0 {
		t.Errorf("live after delete = %d, want 0", got)
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	rt := newRuntime(t)
	world := buildWorld(t, rt)
	a := mustEncode(t, rt, world)
	b := mustEncode(t, rt, world)
	if !bytes.Equal(a, b) {
		t.Error("two encodings of the same graph differ")
	}
}

func TestCaptureNilPage(t *testing.T) {
	rt := newRuntime(t)
	s, err := Capture(rt, nil)
	if err != nil {
		t.Fatalf("Capture(nil): %v", err)
	}
	if s.Root != -1 || len(s.Nodes) != 0 {
		t.Errorf("snapshot = %+v, want empty", s)
	}
	p, err := Restore(rt, s)
	if p != nil || err != nil {
		t.Errorf("Restore = %v, %v, want nil, nil", p, err)
	}
}

func TestCaptureCounts(t *testing.T) {
	rt := newRuntime(t)
	s, err := Capture(rt, buildWorld(t, rt))
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	pages, strings := s.Counts()
	// globals, hero, tags, grid + 2 rows, party, party hero, its tags
	if pages != 9 {
		t.Errorf("pages = %d, want 9", pages)
	}
	// name, hero name, 2 tags, party hero name, its 2 tags
	if strings != 7 {
		t.Errorf("strings = %d, want 7", strings)
	}
}

// ---------------------------------------------------------------------------
// Sharing and cycles
// ---------------------------------------------------------------------------

func TestSharedReferenceIsDuplicated(t *testing.T) {
	rt := newRuntime(t)
	arr, _ := rt.AllocArray(1, []int{2}, vm.TypeArrayString, -1)
	rt.Heap.SetString(arr.Values[0].Handle(), "shared")
	rt.Heap.Release(arr.Values[1].Handle())
	rt.Heap.Retain(arr.Values[0].Handle())
	arr.Values[1] = arr.Values[0]

	s, err := Capture(rt, arr)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	restored, err := Restore(rt, s)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Values[0] == restored.Values[1] {
		t.Error("restored slots share a handle")
	}
	for i := range 2 {
		if got := rt.Heap.String(restored.Values[i].Handle()); got != "shared" {
			t.Errorf("restored[%d] = %q", i, got)
		}
	}
}

func TestCaptureCycle(t *testing.T) {
	rt := newRuntime(t)
	nodeID, _ := rt.Catalog.(*catalog.Catalog).StructID("Node")

	node, err := rt.CreateStruct(nodeID)
	if err != nil {
		t.Fatalf("CreateStruct: %v", err)
	}
	page := rt.Heap.Page(node.Handle())
	next, _ := rt.AllocArray(1, []int{1}, vm.TypeArrayStruct, nodeID)
	rt.ReleaseValue(next.Values[0], vm.TypeStruct)
	rt.Heap.Retain(node.Handle())
	next.Values[0] = node
	rt.Heap.AttachPage(page.Values[1].Handle(), next)

	if _, err := Capture(rt, page); !errors.Is(err, ErrCycle) {
		t.Errorf("Capture = %v, want ErrCycle", err)
	}
}

// ---------------------------------------------------------------------------
// Corruption
// ---------------------------------------------------------------------------

func TestRestoreFailureLeavesNothingAllocated(t *testing.T) {
	rt := newRuntime(t)
	world := buildWorld(t, rt)
	s, err := Capture(rt, world)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	rt.DeletePage(world)

	// node 1 is hero; its hp slot cannot hold a string
	s.Nodes[1].Slots[1] = Slot{Kind: SlotString, Text: "thirty"}
	if _, err := Restore(rt, s); !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Restore = %v, want ErrCorrupt", err)
	}
	if got := rt.Heap.Live(); got != 0 {
		t.Errorf("live after failed restore = %d, want 0", got)
	}
}

func TestRestoreRejectsMismatchedChild(t *testing.T) {
	find := func(s *Snapshot, match func(*Node) bool) *Node {
		for i := range s.Nodes {
			if match(&s.Nodes[i]) {
				return &s.Nodes[i]
			}
		}
		t.Fatal("no matching node")
		return nil
	}
	isRow := func(n *Node) bool {
		return n.Kind == vm.ArrayPage && n.Rank == 1 && vm.DataType(n.Index) == vm.TypeArrayInt
	}
	isParty := func(n *Node) bool {
		return n.Kind == vm.ArrayPage && vm.DataType(n.Index) == vm.TypeArrayStruct
	}

	tests := []struct {
		name   string
		mutate func(rt *vm.Runtime, s *Snapshot)
	}{
		{"sub-array rank", func(_ *vm.Runtime, s *Snapshot) {
			find(s, isRow).Rank = 5
		}},
		{"sub-array type", func(_ *vm.Runtime, s *Snapshot) {
			find(s, isRow).Index = int(vm.TypeArrayString)
		}},
		{"array element struct", func(rt *vm.Runtime, s *Snapshot) {
			nodeID, _ := rt.Catalog.(*catalog.Catalog).StructID("Node")
			find(s, isParty).StructType = nodeID
		}},
		{"struct slot of another struct", func(rt *vm.Runtime, s *Snapshot) {
			nodeID, _ := rt.Catalog.(*catalog.Catalog).StructID("Node")
			hero := find(s, func(n *Node) bool { return n.Kind == vm.StructPage })
			hero.Index = nodeID
			hero.Slots = hero.Slots[:2]
			hero.Slots[1] = Slot{Kind: SlotNull}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newRuntime(t)
			world := buildWorld(t, rt)
			s, err := Capture(rt, world)
			if err != nil {
				t.Fatalf("Capture: %v", err)
			}
			rt.DeletePage(world)

			tt.mutate(rt, s)
			if _, err := Restore(rt, s); !errors.Is(err, ErrCorrupt) {
				t.Fatalf("Restore = %v, want ErrCorrupt", err)
			}
			if got := rt.Heap.Live(); got != 0 {
				t.Errorf("live after failed restore = %d, want 0", got)
			}
		})
	}
}

func TestRestoreRejectsCatalogMismatch(t *testing.T) {
	rt := newRuntime(t)
	world := buildWorld(t, rt)
	s, _ := Capture(rt, world)

	other, err := catalog.Parse([]byte("[[global]]\nname = \"only\"\ntype = \"int\"\n"))
	if err != nil {
		t.Fatalf("catalog.Parse: %v", err)
	}
	rt2 := vm.NewRuntime(other, nil)
	defer rt2.Shutdown()
	if _, err := Restore(rt2, s); !errors.Is(err, ErrCorrupt) {
		t.Errorf("Restore into a different catalog = %v, want ErrCorrupt", err)
	}
	if got := rt2.Heap.Live(); got != 0 {
		t.Errorf("live = %d, want 0", got)
	}
}

func TestUnmarshalRejects(t *testing.T) {
	if _, err := Unmarshal([]byte{0xff, 0x00}); err == nil {
		t.Error("Unmarshal accepted garbage")
	}

	tests := []struct {
		name string
		snap Snapshot
	}{
		{"version", Snapshot{Version: 99, Root: -1}},
		{"root", Snapshot{Version: Version, Root: 3}},
		{"back reference", Snapshot{Version: Version, Root: 0, Nodes: []Node{
			{Kind: vm.ArrayPage, Index: int(vm.TypeArrayInt), Rank: 2, Slots: []Slot{{Kind: SlotPage, Node: 0}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Marshal(&tt.snap)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if _, err := Unmarshal(data); !errors.Is(err, ErrCorrupt) {
				t.Errorf("Unmarshal = %v, want ErrCorrupt", err)
			}
		})
	}
}
