package types

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
)

// Reserved primitive ids, fixed for cross-reference from back ends.
const (
	None        = 0
	Void        = 1
	Bool        = 2
	U8          = 3
	I8          = 4
	U16         = 5
	I16         = 6
	Number      = 7
	String      = 8
	Fn          = 9
	Char        = 10
	Ptr         = 11
	Initializer = 12
)

type Status int

const (
	StatusUnknown Status = iota
	StatusDeclared
	StatusDefined
	StatusComplete
	StatusExternal
)

type Kind int

const (
	KindUnknown Kind = iota
	KindPrimitive
	KindPointer
	KindArray
	KindFunction
	KindRecord
	KindUnion
)

func (k Kind) String() string {
	switch k {
	case KindPrimitive:
		return "primitive"
	case KindPointer:
		return "pointer"
	case KindArray:
		return "array"
	case KindFunction:
		return "function"
	case KindRecord:
		return "record"
	case KindUnion:
		return "union"
	}
	return "unknown"
}

// Field is one component of a composite type: a record member, a function
// parameter (the last entry being the return type), or the singleton element
// type of a pointer or array.
type Field struct {
	TypeID       int
	Name         string
	ElementCount int
}

type Entry struct {
	ID       int
	Module   string
	Name     string
	Status   Status
	Kind     Kind
	Fields   []Field
	ByteSize int
}

// Table is the registry of named and structural types for one compilation
// session. Ids are stable; names resolve through a module-qualified alias
// map with insertion-order iteration preserved by the entries slice.
type Table struct {
	entries []Entry
	aliases map[string]int
}

func qualify(module, name string) string {
	if module == "" {
		return name
	}
	return module + "::" + name
}

func New() *Table {
	t := &Table{
		aliases: map[string]int{},
	}
	t.bootstrap()
	return t
}

func (t *Table) bootstrap() {
	// Index 0 is the invalid sentinel.
	t.entries = append(t.entries, Entry{ID: 0, Kind: KindUnknown})

	t.RegisterPrimitive("void", 0)
	t.RegisterPrimitive("bool", 1)
	t.RegisterPrimitive("u8", 1)
	t.RegisterPrimitive("i8", 1)
	t.RegisterPrimitive("u16", 2)
	t.RegisterPrimitive("i16", 2)
	t.RegisterPrimitive("number", 4)

	// string is an array of char; char and ptr are registered after it so
	// the reserved id order holds.
	t.entries = append(t.entries, Entry{
		ID:     String,
		Name:   "string",
		Status: StatusComplete,
		Kind:   KindArray,
		Fields: []Field{{TypeID: Char}},
	})
	t.aliases["string"] = String

	t.RegisterPrimitive("fn", 8)
	t.RegisterPrimitive("char", 1)
	t.RegisterPrimitive("ptr", 8)

	t.entries = append(t.entries, Entry{
		ID:     Initializer,
		Name:   "initializer",
		Status: StatusComplete,
		Kind:   KindPrimitive,
	})
	t.aliases["initializer"] = Initializer

	t.aliases["uint8"] = U8
	t.aliases["int8"] = I8
	t.aliases["uint16"] = U16
	t.aliases["int16"] = I16
}

// RegisterPrimitive adds a primitive with a fixed byte size, returning the
// existing id when the name is already present.
func (t *Table) RegisterPrimitive(name string, byteSize int) int {
	if id, ok := t.aliases[name]; ok {
		return id
	}
	id := len(t.entries)
	t.entries = append(t.entries, Entry{
		ID:       id,
		Name:     name,
		Status:   StatusComplete,
		Kind:     KindPrimitive,
		ByteSize: byteSize,
	})
	t.aliases[name] = id
	return id
}

// Declare reserves an id for a named type. Idempotent: redeclaring a known
// name returns its existing id. Module "" is the global primitive namespace.
func (t *Table) Declare(module, name string) int {
	key := qualify(module, name)
	if id, ok := t.aliases[key]; ok {
		return id
	}
	id := len(t.entries)
	t.entries = append(t.entries, Entry{
		ID:     id,
		Module: module,
		Name:   name,
		Status: StatusDeclared,
		Kind:   KindUnknown,
	})
	t.aliases[key] = id
	return id
}

// Define transitions a declared entry to defined. Defining an already
// defined entry is idempotent when the kind matches and an error otherwise.
func (t *Table) Define(id int, kind Kind, fields []Field) (int, error) {
	if id <= 0 || id >= len(t.entries) {
		return 0, errors.Errorf("define: no declared type with id %d", id)
	}
	entry := &t.entries[id]
	if entry.Status == StatusDefined || entry.Status == StatusComplete {
		if entry.Kind != kind {
			return 0, errors.Errorf("type '%s' is already defined as a %s", entry.Name, entry.Kind)
		}
		return id, nil
	}
	entry.Status = StatusDefined
	entry.Kind = kind
	entry.Fields = fields
	return id, nil
}

// RegisterStructural adds an anonymous structural type (pointer, array,
// function) keyed by its rendered name so repeats collapse to one id.
func (t *Table) RegisterStructural(name string, kind Kind, fields []Field) int {
	if id, ok := t.aliases[name]; ok {
		return id
	}
	id := len(t.entries)
	t.entries = append(t.entries, Entry{
		ID:     id,
		Name:   name,
		Status: StatusDefined,
		Kind:   kind,
		Fields: fields,
	})
	t.aliases[name] = id
	return id
}

// MarkExternal flags a declared type as resolved outside this compilation.
func (t *Table) MarkExternal(id int) {
	if id > 0 && id < len(t.entries) {
		t.entries[id].Status = StatusExternal
	}
}

func (t *Table) Get(id int) Entry {
	if id < 0 || id >= len(t.entries) {
		return Entry{}
	}
	return t.entries[id]
}

func (t *Table) GetByName(module, name string) (Entry, bool) {
	id := t.Lookup(module, name)
	if id == 0 {
		return Entry{}, false
	}
	return t.entries[id], true
}

// Lookup resolves a name to an id, falling back to the global namespace when
// the module-qualified name is absent. Returns 0 when unknown.
func (t *Table) Lookup(module, name string) int {
	if module != "" {
		if id, ok := t.aliases[qualify(module, name)]; ok {
			return id
		}
	}
	return t.aliases[name]
}

func (t *Table) Kind(id int) Kind {
	return t.Get(id).Kind
}

// NameOf renders an entry's module-qualified name; structural types carry
// their rendered name already.
func (t *Table) NameOf(id int) string {
	entry := t.Get(id)
	if entry.ID == 0 {
		return "<none>"
	}
	return qualify(entry.Module, entry.Name)
}

// Parent returns the element type id for pointers and arrays, 0 otherwise.
func (t *Table) Parent(id int) int {
	entry := t.Get(id)
	if (entry.Kind == KindPointer || entry.Kind == KindArray) && len(entry.Fields) > 0 {
		return entry.Fields[len(entry.Fields)-1].TypeID
	}
	return 0
}

func (t *Table) HasParent(id int) bool {
	return t.Parent(id) != 0
}

// ReturnType returns the return type id of a function type, 0 otherwise.
func (t *Table) ReturnType(id int) int {
	entry := t.Get(id)
	if entry.Kind != KindFunction || len(entry.Fields) == 0 {
		return 0
	}
	return entry.Fields[len(entry.Fields)-1].TypeID
}

// ParamTypes returns the parameter type ids of a function type.
func (t *Table) ParamTypes(id int) []int {
	entry := t.Get(id)
	if entry.Kind != KindFunction || len(entry.Fields) == 0 {
		return nil
	}
	params := make([]int, 0, len(entry.Fields)-1)
	for _, f := range entry.Fields[:len(entry.Fields)-1] {
		params = append(params, f.TypeID)
	}
	return params
}

func (t *Table) SetPrimitiveSize(name string, size int) bool {
	id := t.aliases[name]
	if id == 0 || t.entries[id].Kind != KindPrimitive {
		return false
	}
	t.entries[id].ByteSize = size
	return true
}

func (t *Table) SizeOf(id int) int {
	return t.Get(id).ByteSize
}

func (t *Table) Len() int {
	return len(t.entries)
}

// CalculateSizes computes byte sizes for every defined entry, transitioning
// them to complete. A cycle through record fields is a hard error; a cycle
// through a pointer is fine because pointers have fixed width.
func (t *Table) CalculateSizes() error {
	for i := 1; i < len(t.entries); i++ {
		visiting := map[int]bool{}
		if _, err := t.sizeOfEntry(i, visiting); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) sizeOfEntry(id int, visiting map[int]bool) (int, error) {
	entry := &t.entries[id]
	if entry.Kind == KindPrimitive || entry.Status == StatusComplete {
		return entry.ByteSize, nil
	}
	if entry.Status == StatusDeclared || entry.Status == StatusUnknown {
		return 0, errors.Errorf("type '%s' was declared but never defined", entry.Name)
	}
	if visiting[id] {
		return 0, errors.New("types cannot be recursively defined")
	}
	visiting[id] = true
	defer delete(visiting, id)

	switch entry.Kind {
	case KindPointer:
		entry.ByteSize = t.entries[Ptr].ByteSize
	case KindArray:
		count := 1
		element := 0
		if len(entry.Fields) > 0 {
			f := entry.Fields[0]
			if f.ElementCount > 0 {
				count = f.ElementCount
			}
			sub, err := t.sizeOfEntry(f.TypeID, visiting)
			if err != nil {
				return 0, err
			}
			element = sub
		}
		entry.ByteSize = element * count
	case KindFunction:
		entry.ByteSize = t.entries[Fn].ByteSize
	case KindRecord, KindUnion:
		total := 0
		for _, f := range entry.Fields {
			fieldEntry := t.Get(f.TypeID)
			// Pointer fields break the cycle; their width never depends
			// on the pointee.
			if fieldEntry.Kind == KindPointer {
				total += t.entries[Ptr].ByteSize
				continue
			}
			if visiting[f.TypeID] {
				return 0, errors.New("types cannot be recursively defined")
			}
			sub, err := t.sizeOfEntry(f.TypeID, visiting)
			if err != nil {
				return 0, err
			}
			if entry.Kind == KindUnion {
				if sub > total {
					total = sub
				}
			} else {
				total += sub
			}
		}
		entry.ByteSize = total
	}
	entry.Status = StatusComplete
	return entry.ByteSize, nil
}

// Report renders the table for --report output.
func (t *Table) Report() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("-------- TYPE TABLE (%d) -----------\n", len(t.entries)-1))
	for i := 1; i < len(t.entries); i++ {
		entry := t.entries[i]
		status := "incomplete"
		if entry.Status == StatusComplete {
			status = "complete"
		}
		name := qualify(entry.Module, entry.Name)
		sb.WriteString(fmt.Sprintf("%3d %-16s %-9s %s | %s\n",
			entry.ID, name, entry.Kind, status, humanize.Bytes(uint64(entry.ByteSize))))
	}
	sb.WriteString("-------------------------------\n")
	return sb.String()
}
