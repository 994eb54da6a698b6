package server

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/pagevm/vm"
)

// Procedure paths shared by the Connect and gRPC transports.
const (
	InspectServiceName = "pagevm.v1.InspectService"

	StatsProcedure        = "/" + InspectServiceName + "/Stats"
	DescribeProcedure     = "/" + InspectServiceName + "/Describe"
	DescribeRootProcedure = "/" + InspectServiceName + "/DescribeRoot"
	ListRootsProcedure    = "/" + InspectServiceName + "/ListRoots"
)

var (
	// ErrNoSuchHandle is returned when describing a handle that is not live.
	ErrNoSuchHandle = errors.New("no such heap handle")

	// ErrNoSuchRoot is returned when describing an unregistered root.
	ErrNoSuchRoot = errors.New("no such root page")
)

// InspectService reports on a runtime's heap and pages. Its exported
// methods are the Connect handlers; the gRPC transport wraps the same
// core methods.
type InspectService struct {
	worker *Worker

	mu    sync.RWMutex
	roots map[string]*vm.Page
}

// NewInspectService creates an InspectService.
func NewInspectService(worker *Worker) *InspectService {
	return &InspectService{
		worker: worker,
		roots:  make(map[string]*vm.Page),
	}
}

// SetRoot registers a page that is not itself held in the heap (a global
// or local scope page) so it can be described by name. A nil page
// removes the root.
func (s *InspectService) SetRoot(name string, p *vm.Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p == nil {
		delete(s.roots, name)
		return
	}
	s.roots[name] = p
}

func (s *InspectService) root(name string) (*vm.Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.roots[name]
	return p, ok
}

// ---------------------------------------------------------------------------
// Core operations
// ---------------------------------------------------------------------------

func (s *InspectService) stats() (*structpb.Struct, error) {
	st, err := doTyped(s.worker, func(rt *vm.Runtime) (vm.Stats, error) {
		return rt.Stats(), nil
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{
		"heap": map[string]any{
			"live":     st.Heap.Live,
			"capacity": st.Heap.Capacity,
			"allocs":   st.Heap.Allocs,
			"frees":    st.Heap.Frees,
			"growths":  st.Heap.Growths,
		},
		"cache": map[string]any{
			"hits":   st.Cache.Hits,
			"misses": st.Cache.Misses,
			"drops":  st.Cache.Drops,
			"cached": st.Cache.Cached,
		},
	})
}

func (s *InspectService) describe(handle int64) (*structpb.Struct, error) {
	m, err := doTyped(s.worker, func(rt *vm.Runtime) (map[string]any, error) {
		h := int(handle)
		kind := rt.Heap.Kind(h)
		if kind == vm.HeapFree {
			return nil, fmt.Errorf("%w: %d", ErrNoSuchHandle, handle)
		}
		out := map[string]any{
			"handle": handle,
			"kind":   kind.String(),
			"refs":   rt.Heap.Refs(h),
		}
		switch kind {
		case vm.HeapString:
			out["text"] = rt.Heap.String(h)
		case vm.HeapPage:
			if p := rt.Heap.Page(h); p != nil {
				out["page"] = describePage(rt, p)
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func (s *InspectService) describeRoot(name string) (*structpb.Struct, error) {
	p, ok := s.root(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchRoot, name)
	}
	m, err := doTyped(s.worker, func(rt *vm.Runtime) (map[string]any, error) {
		return map[string]any{
			"root": name,
			"page": describePage(rt, p),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func (s *InspectService) listRoots() *structpb.ListValue {
	s.mu.RLock()
	names := make([]string, 0, len(s.roots))
	for name := range s.roots {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	values := make([]*structpb.Value, len(names))
	for i, n := range names {
		values[i] = structpb.NewStringValue(n)
	}
	return &structpb.ListValue{Values: values}
}

// describePage renders the shape of p and its slots. Heap-typed slots are
// shown as handles so a client can walk the graph with Describe.
func describePage(rt *vm.Runtime, p *vm.Page) map[string]any {
	out := map[string]any{
		"kind": p.Kind.String(),
		"len":  p.Len(),
	}
	switch p.Kind {
	case vm.LocalPage:
		out["function"] = p.Index
	case vm.StructPage:
		out["struct"] = structName(rt, p.Index)
	case vm.ArrayPage:
		out["type"] = p.ArrayType().String()
		out["rank"] = p.Rank
		if p.ArrayType() == vm.TypeArrayStruct {
			out["struct"] = structName(rt, p.StructType)
		}
	}

	slots := make([]any, len(p.Values))
	for i, v := range p.Values {
		t, _ := rt.VariableType(p, i)
		slot := map[string]any{
			"name": slotName(rt, p, i),
			"type": t.String(),
		}
		switch {
		case t.IsHeap() && v.IsNoHandle():
			slot["value"] = nil
		case t.IsHeap():
			slot["handle"] = int64(v.Handle())
			if t == vm.TypeString {
				slot["value"] = rt.Heap.String(v.Handle())
			}
		case t == vm.TypeFloat:
			slot["value"] = v.Float()
		case t == vm.TypeBool:
			slot["value"] = v.Bool()
		default:
			slot["value"] = v.Int()
		}
		slots[i] = slot
	}
	out["slots"] = slots
	return out
}

func structName(rt *vm.Runtime, id int) string {
	if s := rt.Catalog.Struct(id); s != nil {
		return s.Name
	}
	return fmt.Sprintf("struct#%d", id)
}

func slotName(rt *vm.Runtime, p *vm.Page, i int) string {
	switch p.Kind {
	case vm.GlobalPage:
		return rt.Catalog.Global(i).Name
	case vm.LocalPage:
		return rt.Catalog.Local(p.Index, i).Name
	case vm.StructPage:
		if s := rt.Catalog.Struct(p.Index); s != nil {
			return s.Members[i].Name
		}
	}
	return fmt.Sprintf("[%d]", i)
}

// ---------------------------------------------------------------------------
// Connect handlers
// ---------------------------------------------------------------------------

// Stats returns heap and page cache counters.
func (s *InspectService) Stats(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	out, err := s.stats()
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(out), nil
}

// Describe returns the kind, reference count and payload of a heap handle.
func (s *InspectService) Describe(
	ctx context.Context,
	req *connect.Request[wrapperspb.Int64Value],
) (*connect.Response[structpb.Struct], error) {
	out, err := s.describe(req.Msg.GetValue())
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(out), nil
}

// DescribeRoot describes a registered root page by name.
func (s *InspectService) DescribeRoot(
	ctx context.Context,
	req *connect.Request[wrapperspb.StringValue],
) (*connect.Response[structpb.Struct], error) {
	if req.Msg.GetValue() == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("root name is required"))
	}
	out, err := s.describeRoot(req.Msg.GetValue())
	if err != nil {
		return nil, connectError(err)
	}
	return connect.NewResponse(out), nil
}

// ListRoots returns the registered root names in order.
func (s *InspectService) ListRoots(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.ListValue], error) {
	return connect.NewResponse(s.listRoots()), nil
}

func connectError(err error) error {
	switch {
	case errors.Is(err, ErrNoSuchHandle), errors.Is(err, ErrNoSuchRoot):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, ErrWorkerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
