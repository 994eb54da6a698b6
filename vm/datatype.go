package vm

import "fmt"

// DataType is the declared type of a variable, record member or array.
type DataType uint8

const (
	TypeVoid DataType = iota
	TypeInt
	TypeFloat
	TypeString
	TypeStruct
	TypeBool
	TypeLongInt
	TypeFuncType
	TypeDelegate

	TypeArrayInt
	TypeArrayFloat
	TypeArrayString
	TypeArrayStruct
	TypeArrayBool
	TypeArrayLongInt
	TypeArrayFuncType
	TypeArrayDelegate
)

var dataTypeNames = [...]string{
	TypeVoid:          "void",
	TypeInt:           "int",
	TypeFloat:         "float",
	TypeString:        "string",
	TypeStruct:        "struct",
	TypeBool:          "bool",
	TypeLongInt:       "lint",
	TypeFuncType:      "functype",
	TypeDelegate:      "delegate",
	TypeArrayInt:      "array@int",
	TypeArrayFloat:    "array@float",
	TypeArrayString:   "array@string",
	TypeArrayStruct:   "array@struct",
	TypeArrayBool:     "array@bool",
	TypeArrayLongInt:  "array@lint",
	TypeArrayFuncType: "array@functype",
	TypeArrayDelegate: "array@delegate",
}

// String returns the catalog spelling of t.
func (t DataType) String() string {
	if int(t) < len(dataTypeNames) {
		return dataTypeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// ParseDataType converts a catalog spelling back into a DataType.
func ParseDataType(s string) (DataType, error) {
	for i, name := range dataTypeNames {
		if name == s {
			return DataType(i), nil
		}
	}
	return TypeVoid, fmt.Errorf("unknown data type %q", s)
}

// IsArray reports whether t is one of the array types.
func (t DataType) IsArray() bool {
	return t >= TypeArrayInt && t <= TypeArrayDelegate
}

// IsHeap reports whether slots of type t hold heap handles.
func (t DataType) IsHeap() bool {
	return t == TypeString || t == TypeStruct || t.IsArray()
}

// ElementType maps an array type to the type of its elements. Non-array
// types are returned unchanged.
func (t DataType) ElementType() DataType {
	switch t {
	case TypeArrayInt:
		return TypeInt
	case TypeArrayFloat:
		return TypeFloat
	case TypeArrayString:
		return TypeString
	case TypeArrayStruct:
		return TypeStruct
	case TypeArrayBool:
		return TypeBool
	case TypeArrayLongInt:
		return TypeLongInt
	case TypeArrayFuncType:
		return TypeFuncType
	case TypeArrayDelegate:
		return TypeDelegate
	default:
		return t
	}
}
