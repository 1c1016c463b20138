package parser

import (
	"bytes"
	"testing"

	"fang/internal/ast"
	"fang/internal/constpool"
	"fang/internal/errors"
	"fang/internal/lexer"
)

func parseString(t *testing.T, input string) (*ast.Module, *Parser, *constpool.Pool) {
	t.Helper()
	var buf bytes.Buffer
	pool := constpool.New()
	reporter := errors.NewReporter(&buf)
	p := New(lexer.NewScannerWithFile(input, "test.fg"), pool, reporter)
	return p.Parse(), p, pool
}

func assertParses(t *testing.T, input string, description string) *ast.Module {
	t.Helper()
	module, p, _ := parseString(t, input)
	if p.HadError() || module == nil {
		t.Fatalf("%s: parsing %q failed", description, input)
	}
	return module
}

func assertParseError(t *testing.T, input string, description string) {
	t.Helper()
	module, p, _ := parseString(t, input)
	if !p.HadError() {
		t.Errorf("%s: expected %q to fail", description, input)
	}
	if module != nil {
		t.Errorf("%s: root must be discarded on error", description)
	}
}

func TestDeclarations(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		shouldPass bool
	}{
		{"var decl", "var x: u8;", true},
		{"var init", "var x: u8 = 1;", true},
		{"const decl", "const x: u8 = 1;", true},
		{"const requires initializer", "const x: u8;", false},
		{"pointer type", "var p: ^u8;", true},
		{"array type", "var a: [4]u8;", true},
		{"fn pointer type", "var f: fn (u8, u8): bool;", true},
		{"nested type", "var m: ^[4]^u8;", true},
		{"grouped type", "var g: (^u8);", true},
		{"missing semicolon", "var x: u8", false},
		{"missing type", "var x = 1;", false},
		{"fn decl", "fn main(): u8 { return 1; }", true},
		{"fn params", "fn add(a: u8, b: u8): u8 { return a + b; }", true},
		{"type decl", "type Point { x: u8; y: u8; }", true},
		{"empty type decl", "type Unit { }", true},
		{"ext fn", "ext fn putc(char): void;", true},
		{"ext var", "ext var vram: ^u8;", true},
		{"asm block", `asm { "NOP" "NOP" };`, true},
		{"asm rejects non-strings", "asm { 42 };", false},
		{"import", "import display;", true},
		{"enum reserved", "enum Color { }", false},
		{"module header", "module display; var x: u8;", true},
		{"bank", `bank gfx "section2" { var x: u8; }`, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.shouldPass {
				assertParses(t, test.input, test.name)
			} else {
				assertParseError(t, test.input, test.name)
			}
		})
	}
}

func TestStatements(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		shouldPass bool
	}{
		{"if", "fn f(): void { if (1) { return; } }", true},
		{"if else", "fn f(): void { if (1) { return; } else { return; } }", true},
		{"while", "fn f(): void { while (1) { return; } }", true},
		{"for", "fn f(): void { for (var i: u8 = 0; i < 10; i = i + 1) { } }", true},
		{"for empty clauses", "fn f(): void { for (;;) { } }", true},
		{"nested blocks", "fn f(): void { { { { return; } } } }", true},
		{"missing paren", "fn f(): void { if 1 { return; } }", false},
		{"top level statement", "var x: u8 = 1; x = 2;", true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.shouldPass {
				assertParses(t, test.input, test.name)
			} else {
				assertParseError(t, test.input, test.name)
			}
		})
	}
}

func TestExpressionPrecedence(t *testing.T) {
	// 1 + 2 * 3 must parse as 1 + (2 * 3).
	module := assertParses(t, "var x: u8 = 1 + 2 * 3;", "precedence")
	init := module.Decls[0].(*ast.VarInit)
	add, ok := init.Expr.(*ast.Binary)
	if !ok || add.Op != ast.OpAdd {
		t.Fatalf("top operator = %T, want binary +", init.Expr)
	}
	mul, ok := add.Right.(*ast.Binary)
	if !ok || mul.Op != ast.OpMul {
		t.Fatalf("right operand = %T, want binary *", add.Right)
	}
}

func TestUnaryBindsTighterThanBinary(t *testing.T) {
	module := assertParses(t, "var x: i8 = -1 + 2;", "unary precedence")
	init := module.Decls[0].(*ast.VarInit)
	add, ok := init.Expr.(*ast.Binary)
	if !ok || add.Op != ast.OpAdd {
		t.Fatalf("top operator = %T, want +", init.Expr)
	}
	if _, ok := add.Left.(*ast.Unary); !ok {
		t.Fatalf("left = %T, want unary negation", add.Left)
	}
}

func TestCastPrecedence(t *testing.T) {
	// 'as' binds tighter than '+': a + b as u16 is a + (b as u16).
	module := assertParses(t, "var x: u16 = a + b as u16;", "cast precedence")
	init := module.Decls[0].(*ast.VarInit)
	add := init.Expr.(*ast.Binary)
	if _, ok := add.Right.(*ast.Cast); !ok {
		t.Fatalf("right = %T, want cast", add.Right)
	}
}

func TestRefAndDeref(t *testing.T) {
	module := assertParses(t, "var p: ^u8 = ^x; var v: u8 = @p;", "ref ops")
	first := module.Decls[0].(*ast.VarInit)
	if _, ok := first.Expr.(*ast.Ref); !ok {
		t.Errorf("^x parsed as %T, want Ref", first.Expr)
	}
	second := module.Decls[1].(*ast.VarInit)
	if _, ok := second.Expr.(*ast.Deref); !ok {
		t.Errorf("@p parsed as %T, want Deref", second.Expr)
	}
}

func TestAssignmentForms(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		shouldPass bool
	}{
		{"simple", "x = 1;", true},
		{"subscript", "a[2] = 9;", true},
		{"field", "p.x = 1;", true},
		{"deref", "@p = 1;", true},
		{"chained rhs", "x = y = 1;", true},
		{"literal target", "1 = x;", false},
		{"binary target", "a + b = 1;", false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.shouldPass {
				assertParses(t, test.input, test.name)
			} else {
				assertParseError(t, test.input, test.name)
			}
		})
	}
}

func TestTopLevelReturnBecomesExit(t *testing.T) {
	module, p, _ := parseString(t, "return 3;")
	if p.HadError() {
		t.Fatal("parse failed")
	}
	if !p.EmittedExit() {
		t.Error("top-level return must set the exit flag")
	}
	if _, ok := module.Decls[0].(*ast.Exit); !ok {
		t.Errorf("got %T, want Exit", module.Decls[0])
	}
}

func TestFunctionReturnStaysReturn(t *testing.T) {
	module := assertParses(t, "fn f(): u8 { return 3; }", "fn return")
	fn := module.Decls[0].(*ast.Fn)
	body := fn.Body.(*ast.Block)
	if _, ok := body.Stmts[0].(*ast.Return); !ok {
		t.Errorf("got %T, want Return", body.Stmts[0])
	}
}

func TestBoolLiteralsUseReservedIndices(t *testing.T) {
	module := assertParses(t, "var a: bool = true; var b: bool = false;", "bool literals")
	a := module.Decls[0].(*ast.VarInit).Expr.(*ast.Literal)
	b := module.Decls[1].(*ast.VarInit).Expr.(*ast.Literal)
	if a.ConstIndex != constpool.IndexTrue {
		t.Errorf("true index = %d, want %d", a.ConstIndex, constpool.IndexTrue)
	}
	if b.ConstIndex != constpool.IndexFalse {
		t.Errorf("false index = %d, want %d", b.ConstIndex, constpool.IndexFalse)
	}
}

func TestNumberBases(t *testing.T) {
	module := assertParses(t, "var a: u8 = 255; var b: u8 = 0xFF; var c: u8 = 0b11111111;", "bases")
	_, _, pool := parseString(t, "var a: u8 = 0x10;")
	if pool.Get(3).Number() != 16 {
		t.Errorf("hex literal value = %d, want 16", pool.Get(3).Number())
	}
	for i, decl := range module.Decls {
		lit := decl.(*ast.VarInit).Expr.(*ast.Literal)
		if lit.ConstIndex == 0 {
			t.Errorf("decl %d: literal landed on reserved index", i)
		}
	}
}

func TestErrorRecoverySynchronizes(t *testing.T) {
	var buf bytes.Buffer
	pool := constpool.New()
	reporter := errors.NewReporter(&buf)
	// Two independent broken statements: both must be reported.
	p := New(lexer.NewScanner("var 1: u8;\nvar 2: u8;"), pool, reporter)
	p.Parse()
	if !p.HadError() {
		t.Fatal("expected errors")
	}
	if reporter.Count() != 2 {
		t.Errorf("got %d diagnostics, want 2 (one per statement): %s", reporter.Count(), buf.String())
	}
}

func TestModuleQualifiedNames(t *testing.T) {
	module := assertParses(t, "var x: u8 = display::width;", "qualified name")
	init := module.Decls[0].(*ast.VarInit)
	ident := init.Expr.(*ast.Identifier)
	if ident.Module != "display" || ident.Name != "width" {
		t.Errorf("got %s::%s, want display::width", ident.Module, ident.Name)
	}
}

func TestInitializers(t *testing.T) {
	module := assertParses(t, "var a: [3]u8 = [1, 2, 3]; var p: Point = { x = 1; y = 2; };", "initializers")
	arr := module.Decls[0].(*ast.VarInit).Expr.(*ast.Initializer)
	if arr.Kind != ast.InitArray || len(arr.Assignments) != 3 {
		t.Errorf("array initializer = %v/%d", arr.Kind, len(arr.Assignments))
	}
	rec := module.Decls[1].(*ast.VarInit).Expr.(*ast.Initializer)
	if rec.Kind != ast.InitRecord || len(rec.Assignments) != 2 {
		t.Errorf("record initializer = %v/%d", rec.Kind, len(rec.Assignments))
	}
}

func TestNodesCarryTokens(t *testing.T) {
	module := assertParses(t, "var x: u8 = 1;", "tokens")
	decl := module.Decls[0].(*ast.VarInit)
	if decl.Token.Line != 1 {
		t.Errorf("token line = %d, want 1", decl.Token.Line)
	}
	if decl.ID == 0 {
		t.Error("node id must be assigned")
	}
	if decl.TypeID != 0 || decl.ScopeIndex != 0 {
		t.Error("resolution annotations must start at zero")
	}
}

func TestDeeplyNestedBlocks(t *testing.T) {
	input := "fn f(): void "
	for i := 0; i < 64; i++ {
		input += "{ "
	}
	input += "return; "
	for i := 0; i < 64; i++ {
		input += "} "
	}
	assertParses(t, input, "64 nested blocks")
}
