// Package compiler glues the pipeline together: scan, parse, resolve,
// lower to TAC, and emit assembly through a platform back end.
package compiler

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"fang/internal/ast"
	"fang/internal/codegen"
	"fang/internal/constpool"
	fangerrors "fang/internal/errors"
	"fang/internal/lexer"
	"fang/internal/parser"
	"fang/internal/platform"
	_ "fang/internal/platform/arm64"
	"fang/internal/printer"
	"fang/internal/resolver"
	"fang/internal/symbols"
	"fang/internal/tac"
	"fang/internal/types"
)

type SourceFile struct {
	Name   string
	Source string
}

type Options struct {
	Platform string
	Tokens   bool
	PrintAST bool
	Report   bool

	// Stdout and Stderr default to the process streams.
	Stdout io.Writer
	Stderr io.Writer
}

func (o *Options) fill() {
	if o.Platform == "" {
		o.Platform = "apple_arm64"
	}
	if o.Stdout == nil {
		o.Stdout = os.Stdout
	}
	if o.Stderr == nil {
		o.Stderr = os.Stderr
	}
}

// Compile runs the whole pipeline over the given sources and writes the
// assembly to outPath. Nothing is written when any stage fails.
func Compile(sources []SourceFile, outPath string, opts Options) bool {
	opts.fill()
	out, ok := compile(sources, opts)
	if !ok {
		return false
	}
	if err := os.WriteFile(outPath, out, 0644); err != nil {
		fmt.Fprintf(opts.Stderr, "%v\n", errors.Wrapf(err, "could not write %s", outPath))
		return false
	}
	return true
}

// CompileToString is Compile without the filesystem, for tests and tools.
func CompileToString(sources []SourceFile, opts Options) (string, bool) {
	opts.fill()
	out, ok := compile(sources, opts)
	return string(out), ok
}

func compile(sources []SourceFile, opts Options) ([]byte, bool) {
	pool := constpool.New()
	typeTable := types.New()
	symbolTable := symbols.New()
	reporter := fangerrors.NewReporter(opts.Stderr)

	if opts.Tokens {
		for _, src := range sources {
			dumpTokens(opts.Stdout, src)
		}
	}

	// Parse every file before giving up so all syntax errors surface.
	main := &ast.Main{}
	exitEmitted := false
	for _, src := range sources {
		scanner := lexer.NewScannerWithFile(src.Source, src.Name)
		p := parser.New(scanner, pool, reporter)
		module := p.Parse()
		exitEmitted = exitEmitted || p.EmittedExit()
		if module != nil {
			main.Modules = append(main.Modules, module)
		}
	}
	if reporter.HadError() {
		return nil, false
	}

	hasMain := hasMainFunction(main)
	if !exitEmitted && !hasMain {
		appendSyntheticExit(main)
	}

	r := resolver.New(typeTable, symbolTable, pool, reporter)
	if !r.Resolve(main) {
		return nil, false
	}

	target, err := platform.Get(opts.Platform, typeTable, symbolTable)
	if err != nil {
		fmt.Fprintf(opts.Stderr, "%v\n", err)
		return nil, false
	}
	symbolTable.CalculateAllocations(target)

	if opts.PrintAST {
		fmt.Fprintln(opts.Stdout, printer.Print(main, pool))
	}
	if opts.Report {
		fmt.Fprint(opts.Stdout, typeTable.Report())
		fmt.Fprint(opts.Stdout, symbolTable.Report(func(id int) string {
			return typeTable.NameOf(id)
		}))
	}

	tg := tac.NewGenerator(typeTable, symbolTable, pool, reporter)
	program, ok := tg.Generate(main)
	if !ok {
		return nil, false
	}
	if opts.Report {
		fmt.Fprint(opts.Stdout, program.Dump())
	}

	var buf bytes.Buffer
	target.Init(&buf)
	cg := codegen.New(target, typeTable, symbolTable, pool)
	if err := cg.Generate(&program, hasMain); err != nil {
		fmt.Fprintf(opts.Stderr, "%v\n", err)
		return nil, false
	}
	return buf.Bytes(), true
}

// hasMainFunction reports whether any module defines fn main; the startup
// code then calls it and exits with its result.
func hasMainFunction(main *ast.Main) bool {
	for _, m := range main.Modules {
		module := m.(*ast.Module)
		for _, decl := range module.Decls {
			if fn, ok := decl.(*ast.Fn); ok && fn.Name == "main" {
				return true
			}
		}
	}
	return false
}

// appendSyntheticExit terminates the program safely when neither a
// top-level return nor a main function exists.
func appendSyntheticExit(main *ast.Main) {
	if len(main.Modules) == 0 {
		main.Modules = append(main.Modules, &ast.Module{})
	}
	last := main.Modules[len(main.Modules)-1].(*ast.Module)
	exit := &ast.Exit{
		Expr: &ast.Literal{ConstIndex: constpool.IndexZeroU8},
	}
	last.Decls = append(last.Decls, exit)
}

func dumpTokens(out io.Writer, src SourceFile) {
	scanner := lexer.NewScannerWithFile(src.Source, src.Name)
	line := -1
	for {
		tok := scanner.ScanToken()
		if tok.Line != line {
			fmt.Fprintf(out, "%4d ", tok.Line)
			line = tok.Line
		} else {
			fmt.Fprintf(out, "   | ")
		}
		fmt.Fprintf(out, "%s '%s'\n", tok.Type, tok.Lexeme)
		if tok.Type == lexer.TokenEOF {
			return
		}
	}
}
