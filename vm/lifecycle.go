package vm

// ---------------------------------------------------------------------------
// Typed lifecycle: initial values, release, type resolution, copying
// ---------------------------------------------------------------------------

// AllocPage takes a page of n slots from the cache and stamps its header.
// StructType is reset to -1 and Rank to 0. The slots are stale and must
// all be written by the caller.
func (rt *Runtime) AllocPage(kind PageKind, typeIndex, n int) *Page {
	p := rt.Pages.Acquire(n)
	p.Kind = kind
	p.Index = typeIndex
	p.StructType = -1
	p.Rank = 0
	return p
}

// InitialValue returns the value a freshly declared variable of type t
// starts with. Strings get a heap slot holding "", arrays a heap slot with
// no page yet, structs NoHandle (they are built by CreateStruct), and
// everything else zero.
func (rt *Runtime) InitialValue(t DataType) Value {
	switch {
	case t == TypeString:
		h := rt.Heap.Alloc(HeapString)
		rt.Heap.AttachString(h, "")
		return FromHandle(h)
	case t == TypeStruct:
		return NoHandle
	case t.IsArray():
		return FromHandle(rt.Heap.Alloc(HeapPage))
	default:
		return 0
	}
}

// ReleaseValue gives back the reference v holds, if its type is heap
// backed and it holds one.
func (rt *Runtime) ReleaseValue(v Value, t DataType) {
	if !t.IsHeap() || v == NoHandle {
		return
	}
	rt.Heap.Release(v.Handle())
}

// VariableType returns the declared type of slot i of p, and the struct
// id for struct-typed slots (or arrays of structs). For arrays of rank
// greater than one the slots hold sub-arrays, so the array type itself is
// reported.
func (rt *Runtime) VariableType(p *Page, i int) (DataType, int) {
	var v Variable
	switch p.Kind {
	case GlobalPage:
		v = rt.Catalog.Global(i)
	case LocalPage:
		v = rt.Catalog.Local(p.Index, i)
	case StructPage:
		s := rt.Catalog.Struct(p.Index)
		if s == nil {
			panic(contractf("variable type", ErrUnknownStruct, "struct %d", p.Index))
		}
		v = s.Members[i]
	case ArrayPage:
		if p.Rank > 1 {
			return p.ArrayType(), p.StructType
		}
		return p.ArrayType().ElementType(), p.StructType
	default:
		return TypeVoid, -1
	}
	return v.Type, v.StructType
}

// DeletePage releases every slot of p and returns its buffer to the page
// cache. p must not be used afterwards. A nil page is ignored.
func (rt *Runtime) DeletePage(p *Page) {
	if p == nil {
		return
	}
	for i, v := range p.Values {
		t, _ := rt.VariableType(p, i)
		rt.ReleaseValue(v, t)
	}
	rt.Pages.Free(p)
}

// CopyPage returns an independent deep copy of p. Strings, structs and
// arrays reached from p are copied as well; nothing is shared with the
// source. A nil page copies to nil.
//
// The copy follows references blindly, so a page graph containing a
// cycle cannot be copied.
func (rt *Runtime) CopyPage(src *Page) *Page {
	if src == nil {
		return nil
	}
	dst := rt.AllocPage(src.Kind, src.Index, len(src.Values))
	dst.StructType = src.StructType
	dst.Rank = src.Rank
	for i, v := range src.Values {
		t, _ := rt.VariableType(src, i)
		dst.Values[i] = rt.CopyValue(v, t)
	}
	return dst
}

// CopyValue returns a copy of v suitable for storing in another slot of
// type t. Heap-backed values get a new heap slot with a deep copy of the
// payload; scalars and NoHandle are returned as is.
func (rt *Runtime) CopyValue(v Value, t DataType) Value {
	if !t.IsHeap() || v == NoHandle {
		return v
	}
	switch t {
	case TypeString:
		h := rt.Heap.Alloc(HeapString)
		rt.Heap.AttachString(h, rt.Heap.String(v.Handle()))
		return FromHandle(h)
	default:
		copied := rt.CopyPage(rt.Heap.Page(v.Handle()))
		h := rt.Heap.Alloc(HeapPage)
		rt.Heap.AttachPage(h, copied)
		return FromHandle(h)
	}
}

// stubSlots writes a releasable placeholder into slots [from, len) of p:
// NoHandle for heap-typed slots and zero otherwise. Pages are stubbed
// before their real initial values are built so that a failure part way
// through can be cleaned up with DeletePage.
func (rt *Runtime) stubSlots(p *Page, from int) {
	for i := from; i < len(p.Values); i++ {
		if t, _ := rt.VariableType(p, i); t.IsHeap() {
			p.Values[i] = NoHandle
		} else {
			p.Values[i] = 0
		}
	}
}

// ---------------------------------------------------------------------------
// Scope pages
// ---------------------------------------------------------------------------

// NewGlobalPage builds the global scope page with every variable
// initialized from the catalog.
func (rt *Runtime) NewGlobalPage() (*Page, error) {
	p := rt.AllocPage(GlobalPage, 0, rt.Catalog.NumGlobals())
	if err := rt.initScope(p); err != nil {
		return nil, err
	}
	return p, nil
}

// NewLocalPage builds the locals page for one activation of function fn.
func (rt *Runtime) NewLocalPage(fn int) (*Page, error) {
	p := rt.AllocPage(LocalPage, fn, rt.Catalog.NumLocals(fn))
	if err := rt.initScope(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (rt *Runtime) initScope(p *Page) error {
	rt.stubSlots(p, 0)
	for i := range p.Values {
		t, st := rt.VariableType(p, i)
		if t != TypeStruct {
			p.Values[i] = rt.InitialValue(t)
			continue
		}
		v, err := rt.CreateStruct(st)
		if err != nil {
			rt.DeletePage(p)
			return err
		}
		p.Values[i] = v
	}
	return nil
}
