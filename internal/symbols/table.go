package symbols

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

type SymbolKind int

const (
	SymbolUnknown SymbolKind = iota
	SymbolKeyword
	SymbolFunction
	SymbolParameter
	SymbolVariable
	SymbolConstant
	SymbolShadow
)

func (k SymbolKind) String() string {
	switch k {
	case SymbolKeyword:
		return "KEYWORD"
	case SymbolFunction:
		return "FUNCTION"
	case SymbolParameter:
		return "PARAMETER"
	case SymbolVariable:
		return "VARIABLE"
	case SymbolConstant:
		return "CONSTANT"
	case SymbolShadow:
		return "SHADOW"
	}
	return "UNKNOWN"
}

type Status int

const (
	StatusUndefined Status = iota
	StatusDeclared
	StatusDefined
)

type Storage int

const (
	StorageStatic Storage = iota
	StorageAuto
	StorageParameter
	StorageExternal
)

type Entry struct {
	Name         string
	Kind         SymbolKind
	Status       Status
	TypeID       int
	ScopeIndex   int
	BankIndex    int
	Ordinal      int
	ParamOrdinal int
	ElementCount int
	ConstIndex   int
	Storage      Storage
}

func (e Entry) Defined() bool {
	return e.Status != StatusUndefined
}

type ScopeKind int

const (
	ScopeInvalid ScopeKind = iota
	ScopeModule
	ScopeBank
	ScopeFunction
	ScopeBlock
)

func (k ScopeKind) String() string {
	switch k {
	case ScopeModule:
		return "module"
	case ScopeBank:
		return "bank"
	case ScopeFunction:
		return "function"
	case ScopeBlock:
		return "block"
	}
	return "invalid"
}

type Scope struct {
	ID                   int
	Parent               int
	ModuleName           string
	Kind                 ScopeKind
	BankIndex            int
	Ordinal              int
	ParamOrdinal         int
	NestedCount          int
	TableAllocationCount int
	NestedSize           int
	TableSize            int
	TableAllocationSize  int
	Leaf                 bool

	entries map[string]Entry
	names   []string
}

// Sizer is the slice of the platform interface the allocation pass needs.
type Sizer interface {
	SizeOf(typeID int) int
	ElementType(typeID int) int
}

// Table is the forest of lexical scopes rooted at the universal scope
// (id 0). Ids increase monotonically and a scope's parent id is always
// strictly smaller.
type Table struct {
	scopes     []Scope
	stack      []int
	leafScopes []int
	nextBank   int
}

func New() *Table {
	t := &Table{nextBank: 1}
	// Scope 0 is the universal sentinel.
	t.scopes = append(t.scopes, Scope{ID: 0, Kind: ScopeInvalid, entries: map[string]Entry{}})
	t.OpenScope(ScopeInvalid)
	return t
}

// OpenScope pushes a child of the current scope and returns its id. A bank
// scope takes a fresh bank index; other scopes inherit the parent's.
func (t *Table) OpenScope(kind ScopeKind) int {
	parent := 0
	if len(t.stack) > 0 {
		parent = t.stack[len(t.stack)-1]
	}
	bank := 0
	switch {
	case kind == ScopeInvalid:
		bank = 0
	case kind == ScopeBank:
		bank = t.nextBank
		t.nextBank++
	case parent != 0:
		bank = t.scopes[parent].BankIndex
	}
	id := len(t.scopes)
	t.scopes = append(t.scopes, Scope{
		ID:        id,
		Parent:    parent,
		Kind:      kind,
		BankIndex: bank,
		Leaf:      true,
		entries:   map[string]Entry{},
	})
	t.stack = append(t.stack, id)
	return id
}

// CloseScope pops the current scope, folding its allocation count into the
// parent and recording it as a leaf when it never gained a child.
func (t *Table) CloseScope() {
	current := t.CurrentScopeIndex()
	closing := &t.scopes[current]
	parent := &t.scopes[closing.Parent]

	closing.TableAllocationCount = len(closing.entries) + closing.NestedCount
	if closing.TableAllocationCount > parent.NestedCount {
		parent.NestedCount = closing.TableAllocationCount
	}
	parent.Leaf = false

	t.stack = t.stack[:len(t.stack)-1]

	if closing.Leaf {
		t.leafScopes = append(t.leafScopes, current)
	}
}

// PushScope re-enters an existing scope (resolution pass two walks named
// scopes again).
func (t *Table) PushScope(id int) {
	t.stack = append(t.stack, id)
}

func (t *Table) PopScope() {
	t.stack = t.stack[:len(t.stack)-1]
}

func (t *Table) CurrentScopeIndex() int {
	if len(t.stack) == 0 {
		return 0
	}
	return t.stack[len(t.stack)-1]
}

func (t *Table) CurrentScope() Scope {
	return t.scopes[t.CurrentScopeIndex()]
}

func (t *Table) Scope(id int) Scope {
	if id < 0 || id >= len(t.scopes) {
		return Scope{}
	}
	return t.scopes[id]
}

func (t *Table) Len() int {
	return len(t.scopes)
}

// Declare inserts a placeholder entry in the current scope.
func (t *Table) Declare(name string, kind SymbolKind, typeID int, storage Storage) {
	index := t.CurrentScopeIndex()
	scope := &t.scopes[index]
	if _, exists := scope.entries[name]; !exists {
		scope.names = append(scope.names, name)
	}
	scope.entries[name] = Entry{
		Name:       name,
		Kind:       kind,
		Status:     StatusDeclared,
		TypeID:     typeID,
		ScopeIndex: index,
		BankIndex:  scope.BankIndex,
		Storage:    storage,
	}
}

// Define inserts or upgrades an entry, assigning its ordinal from the
// scope's counters.
func (t *Table) Define(name string, kind SymbolKind, typeID int, storage Storage) Entry {
	index := t.CurrentScopeIndex()
	scope := &t.scopes[index]
	if _, exists := scope.entries[name]; !exists {
		scope.names = append(scope.names, name)
	}
	entry := Entry{
		Name:         name,
		Kind:         kind,
		Status:       StatusDefined,
		TypeID:       typeID,
		ScopeIndex:   index,
		BankIndex:    scope.BankIndex,
		Ordinal:      scope.Ordinal,
		ParamOrdinal: scope.ParamOrdinal,
		Storage:      storage,
	}
	switch kind {
	case SymbolVariable, SymbolConstant:
		scope.Ordinal++
	case SymbolParameter:
		scope.ParamOrdinal++
	}
	scope.entries[name] = entry
	return entry
}

// HasCurrentOnly reports a binding in the current scope itself, ignoring
// parents. Redeclaration checks use this.
func (t *Table) HasCurrentOnly(name string) bool {
	scope := t.scopes[t.CurrentScopeIndex()]
	_, ok := scope.entries[name]
	return ok
}

// Get performs lexical lookup from the given scope, walking parents. Shadow
// entries do not stop the walk but retype the binding they shadow.
func (t *Table) Get(scopeIndex int, name string) Entry {
	current := scopeIndex
	shadowType := 0
	for current > 0 {
		scope := t.scopes[current]
		if entry, ok := scope.entries[name]; ok && entry.Defined() {
			if entry.Kind == SymbolShadow {
				if shadowType == 0 {
					shadowType = entry.TypeID
				}
			} else {
				if shadowType != 0 {
					entry.TypeID = shadowType
				}
				return entry
			}
		}
		current = scope.Parent
	}
	return Entry{}
}

// GetCurrent is Get from the scope on top of the stack.
func (t *Table) GetCurrent(name string) Entry {
	return t.Get(t.CurrentScopeIndex(), name)
}

func (t *Table) ScopeHas(name string) bool {
	return t.GetCurrent(name).Defined()
}

// UpdateElementCount marks the nearest binding of name as an array local.
func (t *Table) UpdateElementCount(name string, count int) {
	current := t.CurrentScopeIndex()
	for current > 0 {
		scope := &t.scopes[current]
		if entry, ok := scope.entries[name]; ok && entry.Defined() {
			entry.ElementCount = count
			scope.entries[name] = entry
			return
		}
		current = scope.Parent
	}
}

// SetConstIndex records the constant-pool index a constant folded to.
func (t *Table) SetConstIndex(name string, constIndex int) {
	current := t.CurrentScopeIndex()
	for current > 0 {
		scope := &t.scopes[current]
		if entry, ok := scope.entries[name]; ok && entry.Defined() {
			entry.ConstIndex = constIndex
			scope.entries[name] = entry
			return
		}
		current = scope.Parent
	}
}

// NameScope names the current scope as a module. Fails when the name is
// already taken by another scope.
func (t *Table) NameScope(name string) bool {
	index := t.CurrentScopeIndex()
	if t.scopes[index].ModuleName != "" {
		return true
	}
	for i := range t.scopes {
		if t.scopes[i].Kind != ScopeInvalid && t.scopes[i].ModuleName == name {
			return false
		}
	}
	t.scopes[index].ModuleName = name
	return true
}

// ModuleNameFrom walks up from a scope to the nearest named module scope.
func (t *Table) ModuleNameFrom(start int) string {
	current := start
	for current > 0 {
		scope := t.scopes[current]
		if scope.ModuleName != "" {
			return scope.ModuleName
		}
		current = scope.Parent
	}
	return ""
}

func (t *Table) ScopeIndexByName(name string) int {
	for i := range t.scopes {
		if t.scopes[i].Kind != ScopeInvalid && t.scopes[i].ModuleName == name {
			return t.scopes[i].ID
		}
	}
	return -1
}

// CheckBanks searches every bank scope for a binding of name.
func (t *Table) CheckBanks(name string) Entry {
	for i := range t.scopes {
		if t.scopes[i].Kind != ScopeBank {
			continue
		}
		if entry, ok := t.scopes[i].entries[name]; ok && entry.Defined() {
			return entry
		}
	}
	return Entry{}
}

// Entries returns the scope's entries in insertion order.
func (t *Table) Entries(scopeIndex int) []Entry {
	scope := t.Scope(scopeIndex)
	out := make([]Entry, 0, len(scope.names))
	for _, name := range scope.names {
		out = append(out, scope.entries[name])
	}
	return out
}

func (t *Table) tableSize(p Sizer, index int) int {
	scope := t.scopes[index]
	size := 0
	for _, name := range scope.names {
		entry := scope.entries[name]
		if !entry.Defined() {
			continue
		}
		if entry.Kind == SymbolShadow || entry.Kind == SymbolParameter {
			continue
		}
		if entry.ElementCount > 0 {
			size += p.SizeOf(p.ElementType(entry.TypeID)) * entry.ElementCount
		} else {
			size += p.SizeOf(entry.TypeID)
		}
	}
	return size
}

// CalculateAllocations runs after resolution: caches each scope's table
// size, then propagates allocation sizes up from every leaf until a module
// scope. A function scope's TableAllocationSize is the frame size the back
// end must reserve (before 16-byte rounding).
func (t *Table) CalculateAllocations(p Sizer) {
	for i := range t.scopes {
		t.scopes[i].TableSize = t.tableSize(p, i)
	}

	for _, leaf := range t.leafScopes {
		if !t.scopes[leaf].Leaf {
			continue
		}
		current := leaf
		for {
			scope := &t.scopes[current]
			if scope.Kind == ScopeModule || scope.Kind == ScopeInvalid {
				break
			}
			scope.TableAllocationSize = scope.TableSize + scope.NestedSize
			parent := &t.scopes[scope.Parent]
			if scope.TableAllocationSize > parent.NestedSize {
				parent.NestedSize = scope.TableAllocationSize
			}
			current = scope.Parent
		}
	}
}

// StackOrdinal flattens an entry's within-scope ordinal into the ordinal
// relative to its enclosing function frame.
func (t *Table) StackOrdinal(entry Entry) int {
	ordinal := entry.Ordinal
	current := t.Scope(entry.ScopeIndex)
	for current.Kind != ScopeFunction && current.Kind != ScopeInvalid && current.Kind != ScopeModule {
		current = t.Scope(current.Parent)
		ordinal += current.Ordinal
	}
	return ordinal + 1
}

// Report renders the forest for --report output.
func (t *Table) Report(typeName func(int) string) string {
	var sb strings.Builder
	sb.WriteString("SYMBOL TABLE - Report:\n")
	for i := 1; i < len(t.scopes); i++ {
		scope := t.scopes[i]
		sb.WriteString(fmt.Sprintf("Scope %d (parent %d, %s):\n", scope.ID, scope.Parent, scope.Kind))
		if scope.Kind == ScopeModule && scope.ModuleName != "" {
			sb.WriteString(fmt.Sprintf(" (module: %s)\n", scope.ModuleName))
		}
		sb.WriteString(fmt.Sprintf(" (table size %s)\n", humanize.Bytes(uint64(scope.TableSize))))
		if scope.Kind == ScopeFunction {
			sb.WriteString(fmt.Sprintf(" (count %d)\n", scope.TableAllocationCount))
			sb.WriteString(fmt.Sprintf(" (stack required %s)\n", humanize.Bytes(uint64(scope.TableAllocationSize))))
		}
		for _, name := range scope.names {
			entry := scope.entries[name]
			sb.WriteString(fmt.Sprintf("  %s - %s - %s", entry.Name, typeName(entry.TypeID), entry.Kind))
			if entry.ElementCount > 0 {
				sb.WriteString(fmt.Sprintf(" (%d elements)", entry.ElementCount))
			}
			sb.WriteByte('\n')
		}
		sb.WriteString(fmt.Sprintf("End Scope %d.\n---------------------------\n", scope.ID))
	}
	return sb.String()
}
