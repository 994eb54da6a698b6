package vm

import "fmt"

// PageKind identifies what a Page stores.
type PageKind uint8

const (
	GlobalPage PageKind = iota // global variables
	LocalPage                  // one function activation's locals
	StructPage                 // one record instance
	ArrayPage                  // one array (or one dimension of one)
)

var pageKindNames = [...]string{
	GlobalPage: "GLOBAL_PAGE",
	LocalPage:  "LOCAL_PAGE",
	StructPage: "STRUCT_PAGE",
	ArrayPage:  "ARRAY_PAGE",
}

func (k PageKind) String() string {
	if int(k) < len(pageKindNames) {
		return pageKindNames[k]
	}
	return "INVALID PAGE TYPE"
}

// Page is an ordered run of Values tagged with how to interpret them.
//
// Index depends on Kind: unused for globals, the function id for locals,
// the struct id for records, and the array DataType for arrays.
// StructType and Rank are meaningful for arrays only.
//
// A Page owns its Values but holds exactly one reference on each heap
// handle stored in them; DeletePage gives those references back.
type Page struct {
	Kind       PageKind
	Index      int
	StructType int
	Rank       int
	Values     []Value
}

// Len returns the number of slots in p. A nil page has length 0.
func (p *Page) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Values)
}

// ArrayType returns the array DataType of an array page.
func (p *Page) ArrayType() DataType {
	return DataType(p.Index)
}

func (p *Page) String() string {
	if p == nil {
		return "<nil page>"
	}
	if p.Kind == ArrayPage {
		return fmt.Sprintf("%s[%s rank=%d len=%d]", p.Kind, p.ArrayType(), p.Rank, len(p.Values))
	}
	return fmt.Sprintf("%s[%d len=%d]", p.Kind, p.Index, len(p.Values))
}

// resize changes the length of p.Values, reusing capacity when possible.
// Slots exposed by growth are stale and must be written by the caller.
func (p *Page) resize(n int) {
	if n <= cap(p.Values) {
		p.Values = p.Values[:n]
		return
	}
	values := make([]Value, n, n+n/4)
	copy(values, p.Values)
	p.Values = values
}
