package tac

import (
	"bytes"
	"strings"
	"testing"

	"fang/internal/ast"
	"fang/internal/constpool"
	"fang/internal/errors"
	"fang/internal/lexer"
	"fang/internal/parser"
	"fang/internal/resolver"
	"fang/internal/symbols"
	"fang/internal/types"
)

func lower(t *testing.T, sources ...string) Program {
	t.Helper()
	var buf bytes.Buffer
	tt := types.New()
	st := symbols.New()
	pool := constpool.New()
	reporter := errors.NewReporter(&buf)

	main := &ast.Main{}
	for _, src := range sources {
		p := parser.New(lexer.NewScannerWithFile(src, "test.fg"), pool, reporter)
		module := p.Parse()
		if module == nil {
			t.Fatalf("parse failed: %s", buf.String())
		}
		main.Modules = append(main.Modules, module)
	}
	r := resolver.New(tt, st, pool, reporter)
	if !r.Resolve(main) {
		t.Fatalf("resolve failed: %s", buf.String())
	}
	g := NewGenerator(tt, st, pool, reporter)
	program, ok := g.Generate(main)
	if !ok {
		t.Fatalf("lowering failed: %s", buf.String())
	}
	return program
}

func instrsOf(fn *Function) []*Instr {
	var out []*Instr
	for _, b := range fn.Blocks() {
		out = append(out, b.Instrs()...)
	}
	return out
}

func TestSectionsFollowModules(t *testing.T) {
	program := lower(t,
		"module a; var x: u8 = 1;",
		"module b; var y: u8 = 2;",
	)
	if len(program.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(program.Sections))
	}
	if program.Sections[0].Name != "a" || program.Sections[1].Name != "b" {
		t.Errorf("section order %q, %q — must follow source order",
			program.Sections[0].Name, program.Sections[1].Name)
	}
}

func TestBankBecomesOwnSection(t *testing.T) {
	program := lower(t, `bank gfx "segment2" { var tiles: u8; }`)
	var bank *Section
	for i := range program.Sections {
		if program.Sections[i].Name == "gfx" {
			bank = &program.Sections[i]
		}
	}
	if bank == nil {
		t.Fatal("bank section missing")
	}
	if bank.Annotation != "segment2" {
		t.Errorf("annotation = %q, want segment2 (verbatim)", bank.Annotation)
	}
	if bank.Bank == 0 {
		t.Error("bank section needs a non-zero bank index")
	}
	if len(bank.Data) != 1 || bank.Data[0].Name != "tiles" {
		t.Errorf("bank data = %+v", bank.Data)
	}
}

func TestGlobalsKeepSourceOrder(t *testing.T) {
	program := lower(t, "var a: u8 = 1; const b: u8 = 2; var c: u8;")
	data := program.Sections[0].Data
	if len(data) != 3 {
		t.Fatalf("got %d data entries, want 3", len(data))
	}
	names := []string{data[0].Name, data[1].Name, data[2].Name}
	if names[0] != "a" || names[1] != "b" || names[2] != "c" {
		t.Errorf("data order %v, want [a b c]", names)
	}
	if !data[1].Constant {
		t.Error("b must be flagged constant")
	}
	if data[2].ConstIndex != -1 {
		t.Error("an uninitialized global has no constant image")
	}
}

func TestIfLowering(t *testing.T) {
	program := lower(t, "fn f(): u8 { var x: u8 = 0; if (1) { x = 1; } else { x = 2; } return x; }")
	fn := program.FunctionByName("f")
	if fn == nil {
		t.Fatal("function f missing")
	}
	var ifFalse, gotos, labels int
	for _, i := range instrsOf(fn) {
		switch i.Tag {
		case TagIfFalse:
			ifFalse++
		case TagGoto:
			gotos++
		case TagLabel:
			labels++
		}
	}
	if ifFalse != 1 {
		t.Errorf("if_false count = %d, want 1", ifFalse)
	}
	if gotos < 1 || labels < 2 {
		t.Errorf("gotos = %d, labels = %d; want at least 1 and 2", gotos, labels)
	}
}

func TestWhileLowering(t *testing.T) {
	program := lower(t, "fn f(): u8 { var i: u8 = 0; while (i < 3) { i = i + 1; } return i; }")
	fn := program.FunctionByName("f")
	instrs := instrsOf(fn)

	// Head label, conditional exit, back-edge goto, exit label.
	var sawIfFalse, sawBackGoto bool
	for _, i := range instrs {
		if i.Tag == TagIfFalse {
			sawIfFalse = true
		}
		if i.Tag == TagGoto {
			sawBackGoto = true
		}
	}
	if !sawIfFalse || !sawBackGoto {
		t.Errorf("while loop must have a conditional exit and a back edge:\n%s",
			(&Program{Sections: program.Sections}).Dump())
	}

	// The loop produces more than one basic block.
	if len(fn.Blocks()) < 3 {
		t.Errorf("got %d blocks, want >= 3", len(fn.Blocks()))
	}
}

func TestTemporariesIncrease(t *testing.T) {
	program := lower(t, "fn f(a: u8, b: u8): u8 { return a + b * 2 - 1; }")
	fn := program.FunctionByName("f")
	last := -1
	for _, i := range instrsOf(fn) {
		if i.Tag == TagCopy && i.Dst.Kind == OperandTemporary {
			if i.Dst.N <= last {
				t.Errorf("temporary t%d assigned after t%d", i.Dst.N, last)
			}
			last = i.Dst.N
		}
	}
	if last < 1 {
		t.Errorf("expression should need several temporaries, got max t%d", last)
	}
}

func TestShortCircuitAnd(t *testing.T) {
	program := lower(t, "fn f(a: u8, b: u8): bool { return a > 0 && b > 0; }")
	fn := program.FunctionByName("f")
	var sawIfFalse bool
	for _, i := range instrsOf(fn) {
		if i.Tag == TagIfFalse {
			sawIfFalse = true
		}
	}
	if !sawIfFalse {
		t.Error("&& must lower to control flow, not a plain binary op")
	}
}

func TestShortCircuitOr(t *testing.T) {
	program := lower(t, "fn f(a: u8): bool { return a == 0 || a == 9; }")
	fn := program.FunctionByName("f")
	var sawIfTrue bool
	for _, i := range instrsOf(fn) {
		if i.Tag == TagIfTrue {
			sawIfTrue = true
		}
	}
	if !sawIfTrue {
		t.Error("|| must lower through if_true")
	}
}

func TestConstantUsesFoldToLiterals(t *testing.T) {
	program := lower(t, "const k: u8 = 7; fn f(): u8 { return k; }")
	fn := program.FunctionByName("f")
	for _, i := range instrsOf(fn) {
		if i.Tag == TagReturn {
			if i.A.Kind != OperandLiteral {
				t.Errorf("return of a constant lowers to %v, want literal", i.A.Kind)
			}
			if i.A.Value.Number() != 7 {
				t.Errorf("literal = %v, want 7", i.A.Value)
			}
		}
	}
}

func TestEntryFunctionHoldsTopLevelCode(t *testing.T) {
	program := lower(t, "var x: u8 = 1; x = 2; return x;")
	var entry *Function
	for _, fn := range program.Sections[0].Functions {
		if fn.Entry {
			entry = fn
		}
	}
	if entry == nil {
		t.Fatal("entry function missing")
	}
	var sawReturn bool
	for _, i := range instrsOf(entry) {
		if i.Tag == TagReturn {
			sawReturn = true
		}
	}
	if !sawReturn {
		t.Error("top-level exit must lower to a return in the entry function")
	}
}

func TestPurity(t *testing.T) {
	program := lower(t, `
		var g: u8 = 0;
		fn pureAdd(a: u8, b: u8): u8 { return a + b; }
		fn impureStore(v: u8): void { g = v; }
		fn callsImpure(): void { impureStore(1); }
		fn callsPure(): u8 { return pureAdd(1, 2); }
		fn usesAsm(): void { asm { "NOP" }; }
	`)
	expect := map[string]Purity{
		"pureAdd":     PurityPure,
		"impureStore": PurityImpure,
		"callsImpure": PurityImpure,
		"callsPure":   PurityPure,
		"usesAsm":     PurityImpure,
	}
	for name, want := range expect {
		fn := program.FunctionByName(name)
		if fn == nil {
			t.Fatalf("function %s missing", name)
		}
		if fn.Purity != want {
			t.Errorf("%s purity = %v, want %v", name, fn.Purity, want)
		}
	}
}

func TestDeadCodeAfterReturnIsDropped(t *testing.T) {
	program := lower(t, "fn f(): u8 { return 1; var x: u8 = 2; return x; }")
	fn := program.FunctionByName("f")
	for _, b := range fn.Blocks() {
		if !b.Reachable && b.Label < 0 {
			t.Error("unreachable unlabeled blocks must not survive")
		}
	}
}

func TestSubscriptAssignment(t *testing.T) {
	program := lower(t, "fn main(): u8 { var a: [4]u8; a[2] = 9; return a[2]; }")
	fn := program.FunctionByName("main")
	var sawStore, sawIndexRead bool
	for _, i := range instrsOf(fn) {
		if i.Op == OpStore {
			sawStore = true
		}
		if i.Op == OpIndexRead {
			sawIndexRead = true
		}
	}
	if !sawStore {
		t.Error("a[2] = 9 must lower to an indirect store")
	}
	if !sawIndexRead {
		t.Error("reading a[2] must lower to an index read")
	}
}

func TestCallLowering(t *testing.T) {
	program := lower(t, "fn g(a: u8): u8 { return a; } fn f(): u8 { return g(4); }")
	fn := program.FunctionByName("f")
	var call *Instr
	for _, i := range instrsOf(fn) {
		if i.Tag == TagCall {
			call = i
		}
	}
	if call == nil {
		t.Fatal("call instruction missing")
	}
	if len(call.Args) != 1 {
		t.Errorf("call args = %d, want 1", len(call.Args))
	}
	if call.Dst.Kind != OperandTemporary {
		t.Error("call result must land in a temporary")
	}
	callee := program.FunctionByName("g")
	if !callee.Used {
		t.Error("called function must be flagged used")
	}
}

func TestDumpListsFunctions(t *testing.T) {
	program := lower(t, "fn f(): u8 { return 1; }")
	out := program.Dump()
	if !strings.Contains(out, "fn f") {
		t.Errorf("dump missing function: %s", out)
	}
}
