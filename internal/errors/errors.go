package errors

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"fang/internal/lexer"
)

// Kind classifies a diagnostic by the pipeline stage that produced it.
type Kind string

const (
	LexError       Kind = "LexError"
	ParseError     Kind = "ParseError"
	ResolveError   Kind = "ResolveError"
	ConstEvalError Kind = "ConstEvalError"
	CodegenError   Kind = "CodegenError"
)

// CompileError is a user-facing diagnostic anchored to a source token.
type CompileError struct {
	Kind    Kind
	Message string
	File    string
	Line    int
	Pos     int
	Lexeme  string
	AtEnd   bool
}

// Error renders the canonical diagnostic form:
//
//	[line N; pos M] Error at '<lex>': <message>
func (e *CompileError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[line %d; pos %d] Error", e.Line, e.Pos)
	if e.AtEnd {
		sb.WriteString(" at end")
	} else if e.Lexeme != "" {
		fmt.Fprintf(&sb, " at '%s'", e.Lexeme)
	}
	fmt.Fprintf(&sb, ": %s", e.Message)
	return sb.String()
}

// NewAt builds a diagnostic from the offending token. Lex errors carry their
// message in the token lexeme, so it is not echoed as context.
func NewAt(kind Kind, tok lexer.Token, message string) *CompileError {
	e := &CompileError{
		Kind:    kind,
		Message: message,
		File:    tok.File,
		Line:    tok.Line,
		Pos:     tok.Pos,
	}
	switch tok.Type {
	case lexer.TokenEOF:
		e.AtEnd = true
	case lexer.TokenError:
		// Nothing: the lexeme is the error message itself.
	default:
		e.Lexeme = tok.Lexeme
	}
	return e
}

const (
	ansiRed   = "\x1b[31m"
	ansiReset = "\x1b[0m"
)

// Reporter collects diagnostics and prints them as they arrive. Colour is
// used only when the stream is a terminal.
type Reporter struct {
	out    io.Writer
	colour bool
	errs   []*CompileError
}

func NewReporter(out io.Writer) *Reporter {
	colour := false
	if f, ok := out.(*os.File); ok {
		colour = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Reporter{out: out, colour: colour}
}

func (r *Reporter) Report(err *CompileError) {
	r.errs = append(r.errs, err)
	if r.colour {
		fmt.Fprintf(r.out, "%s%s%s\n", ansiRed, err.Error(), ansiReset)
	} else {
		fmt.Fprintf(r.out, "%s\n", err.Error())
	}
}

func (r *Reporter) HadError() bool {
	return len(r.errs) > 0
}

func (r *Reporter) Count() int {
	return len(r.errs)
}

func (r *Reporter) Errors() []*CompileError {
	return r.errs
}
