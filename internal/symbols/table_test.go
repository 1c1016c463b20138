package symbols

import (
	"testing"
)

// fixedSizer sizes types from a map (1 byte for unlisted ids) and reports
// element types from a second map (0 for unlisted ids).
type fixedSizer struct {
	sizes    map[int]int
	elements map[int]int
}

func (s fixedSizer) SizeOf(typeID int) int {
	if n, ok := s.sizes[typeID]; ok {
		return n
	}
	return 1
}

func (s fixedSizer) ElementType(typeID int) int {
	return s.elements[typeID]
}

func TestScopeIDsMonotonic(t *testing.T) {
	table := New()
	a := table.OpenScope(ScopeModule)
	b := table.OpenScope(ScopeFunction)
	c := table.OpenScope(ScopeBlock)
	if !(a < b && b < c) {
		t.Errorf("ids not monotonic: %d %d %d", a, b, c)
	}
	if table.Scope(c).Parent != b || table.Scope(b).Parent != a {
		t.Error("parent links wrong")
	}
	for _, id := range []int{a, b, c} {
		if table.Scope(id).Parent >= id {
			t.Errorf("scope %d: parent %d is not strictly smaller", id, table.Scope(id).Parent)
		}
	}
}

func TestLexicalLookup(t *testing.T) {
	table := New()
	table.OpenScope(ScopeModule)
	table.Define("x", SymbolVariable, 3, StorageStatic)
	table.OpenScope(ScopeFunction)
	table.Define("y", SymbolVariable, 3, StorageAuto)

	if !table.ScopeHas("x") {
		t.Error("outer binding not visible from inner scope")
	}
	if !table.ScopeHas("y") {
		t.Error("own binding not visible")
	}
	if table.ScopeHas("z") {
		t.Error("unknown name must not resolve")
	}

	table.CloseScope()
	if table.ScopeHas("y") {
		t.Error("inner binding must not be visible after close")
	}
}

func TestOrdinalsAndParamOrdinals(t *testing.T) {
	table := New()
	table.OpenScope(ScopeFunction)
	table.Define("p0", SymbolParameter, 3, StorageParameter)
	table.Define("p1", SymbolParameter, 3, StorageParameter)
	a := table.Define("a", SymbolVariable, 3, StorageAuto)
	b := table.Define("b", SymbolVariable, 3, StorageAuto)
	p := table.GetCurrent("p1")

	if a.Ordinal != 0 || b.Ordinal != 1 {
		t.Errorf("local ordinals = %d, %d; want 0, 1", a.Ordinal, b.Ordinal)
	}
	if p.ParamOrdinal != 1 {
		t.Errorf("p1 param ordinal = %d, want 1", p.ParamOrdinal)
	}
	if a.ParamOrdinal != 2 {
		// locals snapshot the parameter counter but do not advance it
		t.Errorf("a param ordinal = %d, want 2", a.ParamOrdinal)
	}
}

func TestShadowEntryRetypes(t *testing.T) {
	table := New()
	table.OpenScope(ScopeModule)
	table.Define("buf", SymbolVariable, 11, StorageStatic) // ptr
	table.OpenScope(ScopeBlock)
	table.Define("buf", SymbolShadow, 5, StorageAuto) // retype to u16

	entry := table.GetCurrent("buf")
	if entry.Kind != SymbolVariable {
		t.Fatalf("shadow must not mask the outer entry, got kind %v", entry.Kind)
	}
	if entry.TypeID != 5 {
		t.Errorf("shadow must retype the outer entry: type = %d, want 5", entry.TypeID)
	}
	if entry.ScopeIndex != 2 {
		t.Errorf("entry should still come from the defining scope, got %d", entry.ScopeIndex)
	}
}

func TestEmptyScopeIsCounterNoOp(t *testing.T) {
	table := New()
	table.OpenScope(ScopeFunction)
	before := table.CurrentScope()

	table.OpenScope(ScopeBlock)
	table.CloseScope()

	after := table.CurrentScope()
	if before.Ordinal != after.Ordinal || before.NestedCount != after.NestedCount {
		t.Errorf("empty open/close changed counters: %+v vs %+v", before, after)
	}
}

func TestNestedCountPropagation(t *testing.T) {
	table := New()
	fn := table.OpenScope(ScopeFunction)
	table.OpenScope(ScopeBlock)
	table.Define("a", SymbolVariable, 3, StorageAuto)
	table.Define("b", SymbolVariable, 3, StorageAuto)
	table.CloseScope()
	table.OpenScope(ScopeBlock)
	table.Define("c", SymbolVariable, 3, StorageAuto)
	table.CloseScope()
	table.CloseScope()

	// The function scope absorbs the largest child's allocation count.
	if got := table.Scope(fn).NestedCount; got != 2 {
		t.Errorf("function NestedCount = %d, want 2", got)
	}
}

func TestCalculateAllocations(t *testing.T) {
	table := New()
	table.OpenScope(ScopeModule)
	table.NameScope("main")
	fn := table.OpenScope(ScopeFunction)
	table.Define("x", SymbolVariable, 3, StorageAuto)
	blk := table.OpenScope(ScopeBlock)
	table.Define("y", SymbolVariable, 3, StorageAuto)
	table.Define("z", SymbolVariable, 3, StorageAuto)
	table.CloseScope()
	table.CloseScope()
	table.CloseScope()

	sizer := fixedSizer{sizes: map[int]int{3: 1}}
	table.CalculateAllocations(sizer)

	if got := table.Scope(blk).TableAllocationSize; got != 2 {
		t.Errorf("block allocation = %d, want 2", got)
	}
	// Frame for the function: its own local plus the deepest block.
	if got := table.Scope(fn).TableAllocationSize; got != 3 {
		t.Errorf("function allocation = %d, want 3", got)
	}
}

func TestArrayLocalAllocation(t *testing.T) {
	table := New()
	table.OpenScope(ScopeModule)
	fn := table.OpenScope(ScopeFunction)
	table.Define("a", SymbolVariable, 20, StorageAuto) // array type
	table.UpdateElementCount("a", 4)
	table.CloseScope()
	table.CloseScope()

	sizer := fixedSizer{
		sizes:    map[int]int{20: 4, 3: 1},
		elements: map[int]int{20: 3},
	}
	table.CalculateAllocations(sizer)
	if got := table.Scope(fn).TableAllocationSize; got != 4 {
		t.Errorf("function allocation = %d, want 4 (4 u8 elements)", got)
	}
}

func TestSkipShadowAndParamsInTableSize(t *testing.T) {
	table := New()
	fn := table.OpenScope(ScopeFunction)
	table.Define("p", SymbolParameter, 3, StorageParameter)
	table.Define("s", SymbolShadow, 3, StorageAuto)
	table.Define("v", SymbolVariable, 3, StorageAuto)
	table.CloseScope()

	table.CalculateAllocations(fixedSizer{sizes: map[int]int{3: 2}})
	if got := table.Scope(fn).TableSize; got != 2 {
		t.Errorf("table size = %d, want 2 (only the variable counts)", got)
	}
}

func TestBankIndexInheritance(t *testing.T) {
	table := New()
	table.OpenScope(ScopeModule)
	bank := table.OpenScope(ScopeBank)
	inner := table.OpenScope(ScopeFunction)

	if table.Scope(bank).BankIndex == 0 {
		t.Error("bank scope must take a fresh bank index")
	}
	if table.Scope(inner).BankIndex != table.Scope(bank).BankIndex {
		t.Error("nested scope must inherit its bank's index")
	}
	table.CloseScope()
	table.CloseScope()

	other := table.OpenScope(ScopeBank)
	if table.Scope(other).BankIndex == table.Scope(bank).BankIndex {
		t.Error("each bank needs a distinct index")
	}
}

func TestModuleNaming(t *testing.T) {
	table := New()
	table.OpenScope(ScopeModule)
	if !table.NameScope("main") {
		t.Fatal("naming a fresh scope failed")
	}
	id := table.CurrentScopeIndex()
	table.CloseScope()

	table.OpenScope(ScopeModule)
	if table.NameScope("main") {
		t.Error("duplicate module name must fail")
	}
	table.CloseScope()

	if got := table.ScopeIndexByName("main"); got != id {
		t.Errorf("ScopeIndexByName = %d, want %d", got, id)
	}
	if got := table.ModuleNameFrom(id); got != "main" {
		t.Errorf("ModuleNameFrom = %q, want main", got)
	}
}

func TestStackOrdinalFlattens(t *testing.T) {
	table := New()
	table.OpenScope(ScopeModule)
	table.OpenScope(ScopeFunction)
	table.Define("a", SymbolVariable, 3, StorageAuto)
	table.OpenScope(ScopeBlock)
	entry := table.Define("b", SymbolVariable, 3, StorageAuto)

	// b is the first local of its block, one slot past the function's.
	if got := table.StackOrdinal(entry); got != 2 {
		t.Errorf("StackOrdinal(b) = %d, want 2", got)
	}
}
