// Package catalog loads the read-only type metadata (globals, function
// locals and struct layouts) consulted by the vm package.
//
// A catalog is described in TOML:
//
//	[[global]]
//	name = "origin"
//	type = "struct"
//	struct = "Point"
//
//	[[function]]
//	name = "main"
//	  [[function.local]]
//	  name = "i"
//	  type = "int"
//
//	[[struct]]
//	name = "Point"
//	constructor = 12
//	  [[struct.member]]
//	  name = "x"
//	  type = "int"
//
// Functions and structs are numbered in declaration order. Struct
// references are written by name and resolved to ids when the catalog is
// loaded.
package catalog

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/tliron/commonlog"

	"github.com/chazu/pagevm/vm"
)

var log = commonlog.GetLogger("pagevm.catalog")

// file mirrors the TOML layout.
type file struct {
	Globals   []varDecl    `toml:"global"`
	Functions []funcDecl   `toml:"function"`
	Structs   []structDecl `toml:"struct"`
}

type varDecl struct {
	Name   string `toml:"name"`
	Type   string `toml:"type"`
	Struct string `toml:"struct"`
}

type funcDecl struct {
	Name   string    `toml:"name"`
	Locals []varDecl `toml:"local"`
}

type structDecl struct {
	Name        string    `toml:"name"`
	Constructor int       `toml:"constructor"`
	Members     []varDecl `toml:"member"`
}

// Function is one function's local variable layout.
type Function struct {
	Name   string
	Locals []vm.Variable
}

// Catalog is an immutable vm.Catalog built from a TOML description.
type Catalog struct {
	globals   []vm.Variable
	functions []Function
	structs   []*vm.Struct

	funcIDs   map[string]int
	structIDs map[string]int
}

var _ vm.Catalog = (*Catalog)(nil)

// Load reads and resolves a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: cannot read %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	log.Infof("loaded %s: %d globals, %d functions, %d structs",
		path, len(c.globals), len(c.functions), len(c.structs))
	return c, nil
}

// Parse decodes and resolves a catalog from TOML text.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("catalog: parse error: %w", err)
	}

	c := &Catalog{
		funcIDs:   make(map[string]int, len(f.Functions)),
		structIDs: make(map[string]int, len(f.Structs)),
	}

	// Struct names first, so members and variables may refer to any
	// struct regardless of declaration order.
	for i, s := range f.Structs {
		if s.Name == "" {
			return nil, fmt.Errorf("catalog: struct %d has no name", i)
		}
		if _, dup := c.structIDs[s.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate struct %q", s.Name)
		}
		c.structIDs[s.Name] = i
	}

	for _, s := range f.Structs {
		members, err := c.resolveAll(s.Members, "struct "+s.Name)
		if err != nil {
			return nil, err
		}
		if s.Constructor < 0 {
			return nil, fmt.Errorf("catalog: struct %s: negative constructor %d", s.Name, s.Constructor)
		}
		c.structs = append(c.structs, &vm.Struct{
			Name:        s.Name,
			Members:     members,
			Constructor: s.Constructor,
		})
	}

	if err := c.checkContainment(); err != nil {
		return nil, err
	}

	globals, err := c.resolveAll(f.Globals, "globals")
	if err != nil {
		return nil, err
	}
	c.globals = globals

	for i, fn := range f.Functions {
		if fn.Name == "" {
			return nil, fmt.Errorf("catalog: function %d has no name", i)
		}
		if _, dup := c.funcIDs[fn.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate function %q", fn.Name)
		}
		locals, err := c.resolveAll(fn.Locals, "function "+fn.Name)
		if err != nil {
			return nil, err
		}
		c.funcIDs[fn.Name] = i
		c.functions = append(c.functions, Function{Name: fn.Name, Locals: locals})
	}

	return c, nil
}

// checkContainment rejects structs that hold themselves by value, directly
// or through other struct members. Arrays of structs start empty and
// may refer back to their owner.
func (c *Catalog) checkContainment() error {
	const (
		unvisited = iota
		active
		done
	)
	state := make([]int, len(c.structs))
	var visit func(id int) error
	visit = func(id int) error {
		switch state[id] {
		case active:
			return fmt.Errorf("catalog: struct %s contains itself", c.structs[id].Name)
		case done:
			return nil
		}
		state[id] = active
		for _, m := range c.structs[id].Members {
			if m.Type != vm.TypeStruct {
				continue
			}
			if err := visit(m.StructType); err != nil {
				return err
			}
		}
		state[id] = done
		return nil
	}
	for id := range c.structs {
		if err := visit(id); err != nil {
			return err
		}
	}
	return nil
}

func (c *Catalog) resolveAll(decls []varDecl, where string) ([]vm.Variable, error) {
	vars := make([]vm.Variable, 0, len(decls))
	for _, d := range decls {
		v, err := c.resolve(d)
		if err != nil {
			return nil, fmt.Errorf("catalog: %s: %w", where, err)
		}
		vars = append(vars, v)
	}
	return vars, nil
}

func (c *Catalog) resolve(d varDecl) (vm.Variable, error) {
	t, err := vm.ParseDataType(d.Type)
	if err != nil {
		return vm.Variable{}, fmt.Errorf("variable %q: %w", d.Name, err)
	}
	v := vm.Variable{Name: d.Name, Type: t, StructType: -1}

	needsStruct := t == vm.TypeStruct || t == vm.TypeArrayStruct
	switch {
	case needsStruct && d.Struct == "":
		return v, fmt.Errorf("variable %q of type %s names no struct", d.Name, t)
	case !needsStruct && d.Struct != "":
		return v, fmt.Errorf("variable %q of type %s cannot name struct %q", d.Name, t, d.Struct)
	case needsStruct:
		id, ok := c.structIDs[d.Struct]
		if !ok {
			return v, fmt.Errorf("variable %q: unknown struct %q", d.Name, d.Struct)
		}
		v.StructType = id
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// vm.Catalog
// ---------------------------------------------------------------------------

func (c *Catalog) Global(i int) vm.Variable { return c.globals[i] }

func (c *Catalog) NumGlobals() int { return len(c.globals) }

func (c *Catalog) Local(fn, i int) vm.Variable { return c.functions[fn].Locals[i] }

// NumLocals returns 0 for an unknown function.
func (c *Catalog) NumLocals(fn int) int {
	if fn < 0 || fn >= len(c.functions) {
		return 0
	}
	return len(c.functions[fn].Locals)
}

// Struct returns nil for an unknown id.
func (c *Catalog) Struct(id int) *vm.Struct {
	if id < 0 || id >= len(c.structs) {
		return nil
	}
	return c.structs[id]
}

// ---------------------------------------------------------------------------
// Lookup by name
// ---------------------------------------------------------------------------

// StructID returns the id of the named struct.
func (c *Catalog) StructID(name string) (int, bool) {
	id, ok := c.structIDs[name]
	return id, ok
}

// FunctionID returns the id of the named function.
func (c *Catalog) FunctionID(name string) (int, bool) {
	id, ok := c.funcIDs[name]
	return id, ok
}

// NumStructs returns the number of struct types.
func (c *Catalog) NumStructs() int { return len(c.structs) }

// NumFunctions returns the number of functions.
func (c *Catalog) NumFunctions() int { return len(c.functions) }

// Function returns the layout of function fn.
func (c *Catalog) Function(fn int) Function { return c.functions[fn] }
