package server

import (
	"net/http/httptest"
	"slices"
	"testing"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ---------------------------------------------------------------------------
// Handlers called directly
// ---------------------------------------------------------------------------

func TestStats(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.Inspect.Stats(bg(), connectReq(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("Stats returned error: %v", err)
	}
	m := resp.Msg.AsMap()
	// title, hero, hero.name, speeds holder
	if got := field(t, m, "heap", "live"); got != float64(4) {
		t.Errorf("heap.live = %v, want 4", got)
	}
	if got := field(t, m, "heap", "capacity"); got.(float64) < 4 {
		t.Errorf("heap.capacity = %v", got)
	}
	if _, ok := field(t, m, "cache").(map[string]any)["misses"]; !ok {
		t.Error("cache.misses missing")
	}
}

func TestDescribeString(t *testing.T) {
	env := newTestEnv(t)
	h := int64(env.Globals.Values[1].Handle())

	resp, err := env.Inspect.Describe(bg(), connectReq(wrapperspb.Int64(h)))
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	m := resp.Msg.AsMap()
	if m["kind"] != "string" || m["text"] != "demo" || m["refs"] != float64(1) {
		t.Errorf("Describe = %v", m)
	}
}

func TestDescribeStruct(t *testing.T) {
	env := newTestEnv(t)
	h := int64(env.Globals.Values[2].Handle())

	resp, err := env.Inspect.Describe(bg(), connectReq(wrapperspb.Int64(h)))
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	m := resp.Msg.AsMap()
	if got := field(t, m, "page", "kind"); got != "STRUCT_PAGE" {
		t.Errorf("page.kind = %v", got)
	}
	if got := field(t, m, "page", "struct"); got != "Hero" {
		t.Errorf("page.struct = %v", got)
	}
	slots := field(t, m, "page", "slots").([]any)
	if len(slots) != 2 {
		t.Fatalf("slots = %v", slots)
	}
	name := slots[0].(map[string]any)
	if name["name"] != "name" || name["type"] != "string" || name["value"] != "Ada" {
		t.Errorf("slot 0 = %v", name)
	}
	alive := slots[1].(map[string]any)
	if alive["type"] != "bool" || alive["value"] != true {
		t.Errorf("slot 1 = %v", alive)
	}
}

func TestDescribeEmptyArrayHolder(t *testing.T) {
	env := newTestEnv(t)
	h := int64(env.Globals.Values[3].Handle())

	resp, err := env.Inspect.Describe(bg(), connectReq(wrapperspb.Int64(h)))
	if err != nil {
		t.Fatalf("Describe returned error: %v", err)
	}
	m := resp.Msg.AsMap()
	if m["kind"] != "page" {
		t.Errorf("kind = %v, want page", m["kind"])
	}
	if _, ok := m["page"]; ok {
		t.Error("holder without an array should have no page")
	}
}

func TestDescribeUnknownHandle(t *testing.T) {
	env := newTestEnv(t)
	for _, h := range []int64{-1, 999} {
		_, err := env.Inspect.Describe(bg(), connectReq(wrapperspb.Int64(h)))
		if connect.CodeOf(err) != connect.CodeNotFound {
			t.Errorf("Describe(%d) error = %v, want NotFound", h, err)
		}
	}
}

func TestDescribeRoot(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.Inspect.DescribeRoot(bg(), connectReq(wrapperspb.String("globals")))
	if err != nil {
		t.Fatalf("DescribeRoot returned error: %v", err)
	}
	m := resp.Msg.AsMap()
	if got := field(t, m, "page", "kind"); got != "GLOBAL_PAGE" {
		t.Errorf("page.kind = %v", got)
	}
	slots := field(t, m, "page", "slots").([]any)
	score := slots[0].(map[string]any)
	if score["name"] != "score" || score["value"] != float64(99) {
		t.Errorf("score slot = %v", score)
	}
	hero := slots[2].(map[string]any)
	if hero["handle"] != float64(env.Globals.Values[2].Handle()) {
		t.Errorf("hero slot = %v, want its handle", hero)
	}

	_, err = env.Inspect.DescribeRoot(bg(), connectReq(wrapperspb.String("")))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("empty root error = %v, want InvalidArgument", err)
	}
	_, err = env.Inspect.DescribeRoot(bg(), connectReq(wrapperspb.String("locals")))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("unknown root error = %v, want NotFound", err)
	}
}

func TestListRoots(t *testing.T) {
	env := newTestEnv(t)
	env.Inspect.SetRoot("alpha", env.Globals)

	resp, err := env.Inspect.ListRoots(bg(), connectReq(&emptypb.Empty{}))
	if err != nil {
		t.Fatalf("ListRoots returned error: %v", err)
	}
	var names []string
	for _, v := range resp.Msg.GetValues() {
		names = append(names, v.GetStringValue())
	}
	if !slices.Equal(names, []string{"alpha", "globals"}) {
		t.Errorf("roots = %v", names)
	}

	env.Inspect.SetRoot("alpha", nil)
	resp, _ = env.Inspect.ListRoots(bg(), connectReq(&emptypb.Empty{}))
	if len(resp.Msg.GetValues()) != 1 {
		t.Errorf("roots after removal = %v", resp.Msg.GetValues())
	}
}

func TestStoppedWorkerIsUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.Worker.Stop()
	_, err := env.Inspect.Stats(bg(), connectReq(&emptypb.Empty{}))
	if connect.CodeOf(err) != connect.CodeUnavailable {
		t.Errorf("Stats error = %v, want Unavailable", err)
	}
}

// ---------------------------------------------------------------------------
// Over HTTP
// ---------------------------------------------------------------------------

func TestConnectOverHTTP(t *testing.T) {
	rt, g := newTestRuntime(t)
	s := New(rt, WithRoot("globals", g))
	defer s.Stop()

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	client := NewConnectClient(ts.Client(), ts.URL)

	stats, err := client.Stats(bg())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if got := field(t, stats.AsMap(), "heap", "live"); got != float64(4) {
		t.Errorf("heap.live = %v, want 4", got)
	}

	d, err := client.Describe(bg(), int64(g.Values[1].Handle()))
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if d.AsMap()["text"] != "demo" {
		t.Errorf("Describe = %v", d.AsMap())
	}

	if _, err := client.Describe(bg(), 12345); connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Describe(12345) error = %v, want NotFound", err)
	}

	root, err := client.DescribeRoot(bg(), "globals")
	if err != nil {
		t.Fatalf("DescribeRoot: %v", err)
	}
	if got := field(t, root.AsMap(), "page", "len"); got != float64(4) {
		t.Errorf("page.len = %v, want 4", got)
	}

	names, err := client.ListRoots(bg())
	if err != nil || !slices.Equal(names, []string{"globals"}) {
		t.Errorf("ListRoots = %v, %v", names, err)
	}
}
