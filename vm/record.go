package vm

// CreateStruct builds an instance of struct type id and returns a handle
// to it with one reference.
//
// Members are initialized in declaration order: nested structs are built
// recursively, strings and arrays get their InitialValue, scalars zero.
// If the struct declares a constructor it then runs through the Host with
// the new instance as receiver. A constructor error releases the instance
// and is returned unchanged.
func (rt *Runtime) CreateStruct(id int) (Value, error) {
	s := rt.Catalog.Struct(id)
	if s == nil {
		return NoHandle, contractf("create struct", ErrUnknownStruct, "struct %d", id)
	}

	slot := rt.Heap.Alloc(HeapPage)
	page := rt.AllocPage(StructPage, id, len(s.Members))
	rt.stubSlots(page, 0)
	rt.Heap.AttachPage(slot, page)

	for i, m := range s.Members {
		switch {
		case m.Type == TypeStruct:
			v, err := rt.CreateStruct(m.StructType)
			if err != nil {
				rt.Heap.Release(slot)
				return NoHandle, err
			}
			page.Values[i] = v
		case m.Type.IsHeap():
			page.Values[i] = rt.InitialValue(m.Type)
		default:
			page.Values[i] = 0
		}
	}

	if s.Constructor > 0 {
		if err := rt.host.Call(s.Constructor, slot); err != nil {
			log.Errorf("constructor %d of struct %s failed: %s", s.Constructor, s.Name, err)
			rt.Heap.Release(slot)
			return NoHandle, err
		}
	}
	return FromHandle(slot), nil
}
