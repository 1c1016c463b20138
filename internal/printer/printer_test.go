package printer

import (
	"bytes"
	"testing"

	"github.com/kr/pretty"

	"fang/internal/ast"
	"fang/internal/constpool"
	"fang/internal/errors"
	"fang/internal/lexer"
	"fang/internal/parser"
)

func parse(t *testing.T, source string) (*ast.Main, *constpool.Pool) {
	t.Helper()
	var buf bytes.Buffer
	pool := constpool.New()
	reporter := errors.NewReporter(&buf)
	p := parser.New(lexer.NewScannerWithFile(source, "test.fg"), pool, reporter)
	module := p.Parse()
	if module == nil {
		t.Fatalf("parse failed: %s", buf.String())
	}
	return &ast.Main{Modules: []ast.Node{module}}, pool
}

// Printing is a fixpoint: parsing printed output and printing again yields
// the identical text, so print and parse agree structurally.
func TestPrintParsePrintFixpoint(t *testing.T) {
	sources := []string{
		"var x: u8 = 1;",
		"const limit: u16 = 300;",
		"fn add(a: u8, b: u8): u8 { return a + b; }",
		"type Point { x: u8; y: u8; }",
		"fn main(): u8 { var a: [4]u8; a[2] = 9; return a[2]; }",
		"fn f(): void { if (1 < 2) { return; } else { return; } }",
		"fn f(): void { while (true) { return; } }",
		"fn f(): u8 { var t: u8 = 0; for (var i: u8 = 0; i < 5; i = i + 1) { t = t + i; } return t; }",
		"ext fn putc(char): void;",
		"ext var vram: ^u8;",
		`asm { "NOP" "NOP" };`,
		"var p: ^u8; var v: u8 = @p;",
		"var xs: [3]u8 = [1, 2, 3];",
		"module display;\n\nvar width: u8 = 32;",
		"import display;",
		`bank gfx "tiles" { var sheet: [8]u8; }`,
		"var c: char = 'a';",
		"var s: string = \"hello\";",
		"var m: u8 = display::width;",
		"var y: u16 = 1 + 2 * 3;",
		"var z: u8 = 255 as u8;",
	}

	for _, src := range sources {
		t.Run(src, func(t *testing.T) {
			first, pool1 := parse(t, src)
			printed := Print(first, pool1)

			second, pool2 := parse(t, printed)
			reprinted := Print(second, pool2)

			if printed != reprinted {
				t.Errorf("print/parse is not a fixpoint for %q:\n%s",
					src, pretty.Diff(printed, reprinted))
			}
		})
	}
}

func TestPrintedOutputReparses(t *testing.T) {
	src := `
		type Point { x: u8; y: u8; }
		fn dist(p: Point): u8 { return p.x + p.y; }
		fn main(): u8 {
			var p: Point;
			p.x = 3;
			p.y = 4;
			return dist(p);
		}
	`
	main, pool := parse(t, src)
	printed := Print(main, pool)

	var buf bytes.Buffer
	pool2 := constpool.New()
	reporter := errors.NewReporter(&buf)
	p := parser.New(lexer.NewScannerWithFile(printed, "printed.fg"), pool2, reporter)
	if p.Parse() == nil {
		t.Fatalf("printed output does not reparse:\n%s\nerrors: %s", printed, buf.String())
	}
}

func TestLiteralRendering(t *testing.T) {
	main, pool := parse(t, `var a: bool = true; var b: bool = false; var c: char = 'x'; var s: string = "hi"; var n: u8 = 7;`)
	out := Print(main, pool)
	for _, want := range []string{"true", "false", "'x'", `"hi"`, "7"} {
		if !bytes.Contains([]byte(out), []byte(want)) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
