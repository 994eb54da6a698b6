package vm

import (
	"errors"
	"testing"
)

// ---------------------------------------------------------------------------
// Test catalog and host
// ---------------------------------------------------------------------------

const (
	structPoint = 0 // { x int; y int }
	structNamed = 1 // { name string; tags array@string; pos Point } with constructor
	structNode  = 2 // { value int; next array@struct(Node) }

	ctorNamed = 7
	fnMain    = 0
)

type testCatalog struct {
	globals []Variable
	locals  map[int][]Variable
	structs map[int]*Struct
}

func (c *testCatalog) Global(i int) Variable { return c.globals[i] }
func (c *testCatalog) Local(fn, i int) Variable { return c.locals[fn][i] }
func (c *testCatalog) NumGlobals() int { return len(c.globals) }
func (c *testCatalog) NumLocals(fn int) int { return len(c.locals[fn]) }
func (c *testCatalog) Struct(id int) *Struct { return c.structs[id] }

func scalar(name string, t DataType) Variable {
	return Variable{Name: name, Type: t, StructType: -1}
}

func newTestCatalog() *testCatalog {
	return &testCatalog{
		globals: []Variable{
			scalar("score", TypeInt),
			scalar("title", TypeString),
			{Name: "origin", Type: TypeStruct, StructType: structPoint},
			scalar("list", TypeArrayInt),
		},
		locals: map[int][]Variable{
			fnMain: {
				scalar("i", TypeInt),
				scalar("ratio", TypeFloat),
				scalar("s", TypeString),
				{Name: "n", Type: TypeStruct, StructType: structNamed},
			},
		},
		structs: map[int]*Struct{
			structPoint: {
				Name:    "Point",
				Members: []Variable{scalar("x", TypeInt), scalar("y", TypeInt)},
			},
			structNamed: {
				Name: "Named",
				Members: []Variable{
					scalar("name", TypeString),
					scalar("tags", TypeArrayString),
					{Name: "pos", Type: TypeStruct, StructType: structPoint},
				},
				Constructor: ctorNamed,
			},
			structNode: {
				Name: "Node",
				Members: []Variable{
					scalar("value", TypeInt),
					{Name: "next", Type: TypeArrayStruct, StructType: structNode},
				},
			},
		},
	}
}

type hostCall struct {
	fn       int
	receiver int
}

// testHost records calls and runs Go stand-ins for interpreter routines.
type testHost struct {
	NopHost
	calls    []hostCall
	routines map[int]func(h *testHost, receiver int) error
}

func (h *testHost) Call(fn, receiver int) error {
	h.calls = append(h.calls, hostCall{fn, receiver})
	if r, ok := h.routines[fn]; ok {
		return r(h, receiver)
	}
	return nil
}

func newTestRuntime(t *testing.T) (*Runtime, *testHost) {
	t.Helper()
	host := &testHost{routines: map[int]func(*testHost, int) error{}}
	rt := NewRuntime(newTestCatalog(), host, WithHeapSize(16, 16))
	t.Cleanup(rt.Shutdown)
	return rt, host
}

// ---------------------------------------------------------------------------
// Assertions
// ---------------------------------------------------------------------------

// expectLive fails if the number of live heap slots is not want.
func expectLive(t *testing.T, rt *Runtime, want int) {
	t.Helper()
	if got := rt.Heap.Live(); got != want {
		t.Errorf("live heap slots = %d, want %d", got, want)
	}
}

func expectContract(t *testing.T, err error, sentinel error) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected contract violation %v, got nil", sentinel)
	}
	if !errors.Is(err, ErrContract) {
		t.Errorf("error %v does not match ErrContract", err)
	}
	if !errors.Is(err, sentinel) {
		t.Errorf("error %v does not match %v", err, sentinel)
	}
}

// expectPanicContract runs fn and fails unless it panics with a
// ContractError wrapping sentinel.
func expectPanicContract(t *testing.T, sentinel error, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("expected panic with %v", sentinel)
		}
		err, ok := r.(error)
		if !ok {
			t.Fatalf("panic value %v is not an error", r)
		}
		expectContract(t, err, sentinel)
	}()
	fn()
}

func ints(p *Page) []int64 {
	out := make([]int64, p.Len())
	for i := range out {
		out[i] = p.Values[i].Int()
	}
	return out
}

func intArray(t *testing.T, rt *Runtime, vals ...int64) *Page {
	t.Helper()
	p, err := rt.AllocArray(1, []int{len(vals)}, TypeArrayInt, -1)
	if err != nil {
		t.Fatalf("AllocArray: %v", err)
	}
	for i, v := range vals {
		p.Values[i] = FromInt(v)
	}
	return p
}
