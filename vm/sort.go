package vm

import "slices"

// Comparator orders two array elements: negative if a sorts before b,
// zero if equal, positive if after.
type Comparator func(a, b Value) (int, error)

// Sort orders the elements of a rank 1 array with cmp. The sort is not
// stable. Elements are moved as raw Values, so a comparator that mutates
// the array being sorted yields an unspecified order but never corrupts
// the heap. The first comparator error stops further comparisons and is
// returned; the array is then left in some permutation of its elements.
func (rt *Runtime) Sort(p *Page, cmp Comparator) error {
	if p == nil {
		return nil
	}
	if err := checkArray("array sort", p, 1); err != nil {
		return err
	}

	var sortErr error
	slices.SortFunc(p.Values, func(a, b Value) int {
		if sortErr != nil {
			return 0
		}
		c, err := cmp(a, b)
		if err != nil {
			sortErr = err
			return 0
		}
		return c
	})
	return sortErr
}

// HostComparator returns a Comparator that runs interpreter routine fn:
// both elements are pushed onto the host stack, fn is called with no
// receiver, and the integer it leaves on the stack is the result.
func (rt *Runtime) HostComparator(fn int) Comparator {
	return func(a, b Value) (int, error) {
		rt.host.Push(a)
		rt.host.Push(b)
		if err := rt.host.Call(fn, -1); err != nil {
			return 0, err
		}
		return int(rt.host.Pop().Int()), nil
	}
}
