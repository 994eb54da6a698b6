package vm

import (
	"math"
	"strconv"
)

// Value is a single slot of a Page.
//
// A Value is either a scalar (integer, float bits, boolean) or a handle
// into the Heap. The encoding is deliberately not self-describing: the
// meaning of a Value is decided by the declared type of the slot that
// holds it, which comes from the Catalog (or from the array page itself).
type Value int64

// NoHandle marks a heap-typed slot that has no object attached.
const NoHandle Value = -1

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromInt creates a Value holding an integer.
func FromInt(n int64) Value {
	return Value(n)
}

// FromFloat creates a Value holding the bits of a float64.
func FromFloat(f float64) Value {
	return Value(math.Float64bits(f))
}

// FromBool creates a Value holding 1 for true and 0 for false.
func FromBool(b bool) Value {
	if b {
		return 1
	}
	return 0
}

// FromHandle creates a Value referring to a heap slot.
func FromHandle(h int) Value {
	return Value(h)
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Int returns v interpreted as an integer.
func (v Value) Int() int64 {
	return int64(v)
}

// Float returns v interpreted as float64 bits.
func (v Value) Float() float64 {
	return math.Float64frombits(uint64(v))
}

// Bool returns v interpreted as a boolean (non-zero is true).
func (v Value) Bool() bool {
	return v != 0
}

// Handle returns v interpreted as a heap handle.
func (v Value) Handle() int {
	return int(v)
}

// IsNoHandle reports whether v is the "no object" sentinel.
func (v Value) IsNoHandle() bool {
	return v == NoHandle
}

// String renders the raw bits of v as a decimal integer. The declared
// type is not known here, so no further interpretation is attempted.
func (v Value) String() string {
	return strconv.FormatInt(int64(v), 10)
}
