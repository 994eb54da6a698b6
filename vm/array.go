package vm

// ---------------------------------------------------------------------------
// Array allocation and resizing
// ---------------------------------------------------------------------------

// AllocArray builds an array of the given rank. dims[0] is the outer
// length; for rank > 1 every outer slot holds a handle to an array of
// rank-1 built from dims[1:]. Leaf slots of struct arrays hold constructed
// structs, other leaves their type's InitialValue.
//
// A zero outer dimension gives an empty, non-nil page: "declared with no
// elements" is distinct from "never allocated" (nil).
func (rt *Runtime) AllocArray(rank int, dims []int, t DataType, structType int) (*Page, error) {
	if err := checkDims("alloc array", rank, dims, t); err != nil {
		return nil, err
	}
	return rt.allocArray(rank, dims, t, structType)
}

func (rt *Runtime) allocArray(rank int, dims []int, t DataType, structType int) (*Page, error) {
	p := rt.AllocPage(ArrayPage, int(t), dims[0])
	p.StructType = structType
	p.Rank = rank
	rt.stubSlots(p, 0)
	if err := rt.initElements(p, 0, rank, dims, t, structType); err != nil {
		rt.DeletePage(p)
		return nil, err
	}
	return p, nil
}

// initElements fills slots [from, len) of an array page with fresh
// elements. The slots must already be stubbed.
func (rt *Runtime) initElements(p *Page, from, rank int, dims []int, t DataType, structType int) error {
	elem := t.ElementType()
	for i := from; i < len(p.Values); i++ {
		switch {
		case rank > 1:
			child, err := rt.allocArray(rank-1, dims[1:], t, structType)
			if err != nil {
				return err
			}
			h := rt.Heap.Alloc(HeapPage)
			rt.Heap.AttachPage(h, child)
			p.Values[i] = FromHandle(h)
		case elem == TypeStruct:
			v, err := rt.CreateStruct(structType)
			if err != nil {
				return err
			}
			p.Values[i] = v
		default:
			p.Values[i] = rt.InitialValue(elem)
		}
	}
	return nil
}

func checkDims(op string, rank int, dims []int, t DataType) error {
	if rank < 1 {
		return contractf(op, ErrZeroRank, "rank %d", rank)
	}
	if len(dims) < rank {
		return contractf(op, ErrMissingDims, "rank %d, %d dimensions", rank, len(dims))
	}
	if !t.IsArray() {
		return contractf(op, ErrNotArray, "element type %s", t)
	}
	for _, d := range dims[:rank] {
		if d < 0 {
			return contractf(op, ErrOutOfBounds, "negative dimension %d", d)
		}
	}
	return nil
}

// checkArray verifies that p is an array page of the given rank. rank 0
// skips the rank check.
func checkArray(op string, p *Page, rank int) error {
	if p.Kind != ArrayPage {
		return contractf(op, ErrNotArray, "%s", p.Kind)
	}
	if rank > 0 && p.Rank != rank {
		return contractf(op, ErrRankMismatch, "have rank %d, want %d", p.Rank, rank)
	}
	return nil
}

// ReallocArray resizes the outer dimension of p to dims[0].
//
// A nil p is allocated from scratch (or stays nil for a zero length).
// A zero length deletes p and returns nil. Shrinking releases the orphaned
// trailing elements before the storage is cut; growing extends storage and
// then initializes the new slots exactly as AllocArray would. The rank
// must match the rank p was allocated with.
//
// If initializing new slots fails (a struct constructor error), the page
// is returned grown, with the failed and later slots left empty, together
// with the error.
func (rt *Runtime) ReallocArray(p *Page, rank int, dims []int, t DataType, structType int) (*Page, error) {
	if err := checkDims("realloc array", rank, dims, t); err != nil {
		return p, err
	}
	n := dims[0]
	if p == nil {
		if n == 0 {
			return nil, nil
		}
		return rt.allocArray(rank, dims, t, structType)
	}
	if err := checkArray("realloc array", p, rank); err != nil {
		return p, err
	}
	if n == 0 {
		rt.DeletePage(p)
		return nil, nil
	}

	old := len(p.Values)
	switch {
	case n < old:
		for i := n; i < old; i++ {
			et, _ := rt.VariableType(p, i)
			rt.ReleaseValue(p.Values[i], et)
		}
		p.resize(n)
	case n > old:
		p.resize(n)
		rt.stubSlots(p, old)
		if err := rt.initElements(p, old, rank, dims, t, structType); err != nil {
			return p, err
		}
	}
	return p, nil
}

// ArrayLen returns the extent of p along one axis. rank 1 is p's own
// length; higher ranks follow the first sub-array at each level. Sibling
// sub-arrays are not compared, so ragged arrays report the extent of
// their first branch. A nil page or a rank outside [1, p.Rank] gives 0.
func (rt *Runtime) ArrayLen(p *Page, rank int) int {
	if p == nil || rank < 1 || rank > p.Rank {
		return 0
	}
	if rank == 1 {
		return len(p.Values)
	}
	if len(p.Values) == 0 || p.Values[0] == NoHandle {
		return 0
	}
	return rt.ArrayLen(rt.Heap.Page(p.Values[0].Handle()), rank-1)
}

// ---------------------------------------------------------------------------
// Bulk element operations
// ---------------------------------------------------------------------------

// ArrayCopy deep-copies n elements of src starting at srcIndex into dst
// starting at dstIndex, releasing the values they replace. Both arrays
// must be rank 1 with the same type, and both ranges must lie inside
// their arrays. Overlapping ranges within one array behave like memmove.
func (rt *Runtime) ArrayCopy(dst *Page, dstIndex int, src *Page, srcIndex int, n int) error {
	const op = "array copy"
	if dst == nil || src == nil {
		return contractf(op, ErrNullArray, "")
	}
	if err := checkArray(op, dst, 0); err != nil {
		return err
	}
	if err := checkArray(op, src, 0); err != nil {
		return err
	}
	if !indexOK(dst, dstIndex) || !indexOK(src, srcIndex) {
		return contractf(op, ErrOutOfBounds, "dst %d/%d, src %d/%d", dstIndex, len(dst.Values), srcIndex, len(src.Values))
	}
	if n < 0 || dstIndex+n > len(dst.Values) || srcIndex+n > len(src.Values) {
		return contractf(op, ErrOutOfBounds, "copy of %d elements", n)
	}
	if dst.Rank != 1 || src.Rank != 1 {
		return contractf(op, ErrRankMismatch, "multi-dimensional copy")
	}
	if dst.ArrayType() != src.ArrayType() {
		return contractf(op, ErrTypeMismatch, "%s <- %s", dst.ArrayType(), src.ArrayType())
	}

	elem := dst.ArrayType().ElementType()
	put := func(i int) {
		v := rt.CopyValue(src.Values[srcIndex+i], elem)
		rt.ReleaseValue(dst.Values[dstIndex+i], elem)
		dst.Values[dstIndex+i] = v
	}
	if dst == src && dstIndex > srcIndex {
		for i := n - 1; i >= 0; i-- {
			put(i)
		}
		return nil
	}
	for i := 0; i < n; i++ {
		put(i)
	}
	return nil
}

// ArrayFill stores deep copies of v into n elements of dst starting at
// dstIndex and returns how many were written. The range is clamped to the
// array instead of failing: a negative start is moved to 0 (shortening
// the run) and an overrun is cut at the end. A nil array fills nothing.
func (rt *Runtime) ArrayFill(dst *Page, dstIndex, n int, v Value) (int, error) {
	if dst == nil {
		return 0, nil
	}
	if err := checkArray("array fill", dst, 1); err != nil {
		return 0, err
	}

	if dstIndex < 0 {
		n += dstIndex
		dstIndex = 0
	}
	if dstIndex >= len(dst.Values) || n <= 0 {
		return 0, nil
	}
	if n > len(dst.Values)-dstIndex {
		n = len(dst.Values) - dstIndex
	}

	elem := dst.ArrayType().ElementType()
	// v may be one of the elements being overwritten.
	if elem.IsHeap() && v != NoHandle {
		rt.Heap.Retain(v.Handle())
		defer rt.Heap.Release(v.Handle())
	}
	for i := dstIndex; i < dstIndex+n; i++ {
		nv := rt.CopyValue(v, elem)
		rt.ReleaseValue(dst.Values[i], elem)
		dst.Values[i] = nv
	}
	return n, nil
}

func indexOK(p *Page, i int) bool {
	return i >= 0 && i < len(p.Values)
}

// ---------------------------------------------------------------------------
// Single element operations
// ---------------------------------------------------------------------------
//
// These follow the append convention: they return the page the caller
// must store back, which is nil when the array became empty.

// PushBack appends a deep copy of v to p. A nil p becomes a new one
// element array of type t.
func (rt *Runtime) PushBack(p *Page, v Value, t DataType, structType int) (*Page, error) {
	const op = "array push"
	if p == nil {
		np, err := rt.AllocArray(1, []int{1}, t, structType)
		if err != nil {
			return nil, err
		}
		rt.storeCopy(np, 0, v)
		return np, nil
	}
	if err := checkArray(op, p, 1); err != nil {
		return p, err
	}

	index := len(p.Values)
	np, err := rt.ReallocArray(p, 1, []int{index + 1}, p.ArrayType(), p.StructType)
	if err != nil {
		return np, err
	}
	rt.storeCopy(np, index, v)
	return np, nil
}

// PopBack removes the last element of p, releasing it. Removing the only
// element deletes the array and returns nil.
func (rt *Runtime) PopBack(p *Page) (*Page, error) {
	if p == nil {
		return nil, nil
	}
	if err := checkArray("array pop", p, 1); err != nil {
		return p, err
	}
	if len(p.Values) == 0 {
		return p, nil
	}
	return rt.ReallocArray(p, 1, []int{len(p.Values) - 1}, p.ArrayType(), p.StructType)
}

// Erase removes element i of p and shifts later elements down. An index
// outside the array is not an error: nothing happens and erased is false.
// Erasing the only element deletes the array and returns nil.
func (rt *Runtime) Erase(p *Page, i int) (np *Page, erased bool, err error) {
	if p == nil {
		return nil, false, nil
	}
	if err := checkArray("array erase", p, 1); err != nil {
		return p, false, err
	}
	if !indexOK(p, i) {
		return p, false, nil
	}
	if len(p.Values) == 1 {
		rt.DeletePage(p)
		return nil, true, nil
	}

	rt.ReleaseValue(p.Values[i], p.ArrayType().ElementType())
	copy(p.Values[i:], p.Values[i+1:])
	p.resize(len(p.Values) - 1)
	return p, true, nil
}

// Insert stores a deep copy of v at index i, shifting elements at and
// after i up by one. A nil p degrades to PushBack.
//
// i is clamped to [0, len-1], so this can never insert after the last
// element; callers append with PushBack instead.
func (rt *Runtime) Insert(p *Page, i int, v Value, t DataType, structType int) (*Page, error) {
	if p == nil {
		return rt.PushBack(nil, v, t, structType)
	}
	if err := checkArray("array insert", p, 1); err != nil {
		return p, err
	}

	n := len(p.Values)
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}

	p.resize(n + 1)
	copy(p.Values[i+1:], p.Values[i:n])
	p.Values[i] = rt.CopyValue(v, p.ArrayType().ElementType())
	return p, nil
}

// storeCopy replaces the freshly initialized element i of a rank 1 array
// with a copy of v, releasing the initial value.
func (rt *Runtime) storeCopy(p *Page, i int, v Value) {
	elem := p.ArrayType().ElementType()
	nv := rt.CopyValue(v, elem)
	rt.ReleaseValue(p.Values[i], elem)
	p.Values[i] = nv
}
