package server

import (
	"context"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/pagevm/catalog"
	"github.com/chazu/pagevm/vm"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
// ---------------------------------------------------------------------------

const testCatalog = `
[[global]]
name = "score"
type = "int"

[[global]]
name = "title"
type = "string"

[[global]]
name = "hero"
type = "struct"
struct = "Hero"

[[global]]
name = "speeds"
type = "array@float"

[[struct]]
name = "Hero"
  [[struct.member]]
  name = "name"
  type = "string"
  [[struct.member]]
  name = "alive"
  type = "bool"
`

// testEnv bundles a runtime holding a populated global page with the
// worker and service wrapping it.
type testEnv struct {
	RT      *vm.Runtime
	Globals *vm.Page
	Worker  *Worker
	Inspect *InspectService
}

// newTestRuntime builds a runtime and a populated global page.
func newTestRuntime(t *testing.T) (*vm.Runtime, *vm.Page) {
	t.Helper()
	cat, err := catalog.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("catalog.Parse: %v", err)
	}
	rt := vm.NewRuntime(cat, nil)
	g, err := rt.NewGlobalPage()
	if err != nil {
		t.Fatalf("NewGlobalPage: %v", err)
	}
	g.Values[0] = vm.FromInt(99)
	rt.Heap.SetString(g.Values[1].Handle(), "demo")
	hero := rt.Heap.Page(g.Values[2].Handle())
	rt.Heap.SetString(hero.Values[0].Handle(), "Ada")
	hero.Values[1] = vm.FromBool(true)
	return rt, g
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	rt, g := newTestRuntime(t)
	w := NewWorker(rt)
	t.Cleanup(w.Stop)
	svc := NewInspectService(w)
	svc.SetRoot("globals", g)
	return &testEnv{RT: rt, Globals: g, Worker: w, Inspect: svc}
}

func bg() context.Context {
	return context.Background()
}

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

// field digs a nested value out of a describe result by path.
func field(t *testing.T, m map[string]any, path ...string) any {
	t.Helper()
	var cur any = m
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("%v: %q is not inside an object", path, p)
		}
		cur = obj[p]
	}
	return cur
}
