package vm

// Variable describes one declared slot: a global, a function local or a
// struct member.
type Variable struct {
	Name       string
	Type       DataType
	StructType int // struct id for struct-typed slots and arrays of structs, else -1
}

// Struct describes a record type.
type Struct struct {
	Name        string
	Members     []Variable
	Constructor int // routine invoked after construction; <= 0 means none
}

// Catalog is the read-only type metadata this package consults to decide
// how to interpret page slots.
type Catalog interface {
	// Global returns the declaration of global variable index.
	Global(index int) Variable
	// Local returns the declaration of local variable index of function fn.
	Local(fn, index int) Variable
	// NumGlobals returns the number of global variables.
	NumGlobals() int
	// NumLocals returns the number of local variables of function fn.
	NumLocals(fn int) int
	// Struct returns the record type id, or nil if id is unknown.
	Struct(id int) *Struct
}

// Host is the interpreter side of the runtime: it can run routines and
// owns the evaluation stack.
type Host interface {
	// Call runs routine fn. receiver is a struct handle, or -1 for none.
	Call(fn int, receiver int) error
	// Push pushes v onto the evaluation stack.
	Push(v Value)
	// Pop pops the top of the evaluation stack.
	Pop() Value
}

// NopHost is a Host with no routines and a plain slice stack.
type NopHost struct {
	Stack []Value
}

func (h *NopHost) Call(int, int) error { return nil }

func (h *NopHost) Push(v Value) { h.Stack = append(h.Stack, v) }

func (h *NopHost) Pop() Value {
	v := h.Stack[len(h.Stack)-1]
	h.Stack = h.Stack[:len(h.Stack)-1]
	return v
}
