package errors

import (
	"bytes"
	"strings"
	"testing"

	"fang/internal/lexer"
)

func TestErrorFormat(t *testing.T) {
	tok := lexer.Token{Type: lexer.TokenIdentifier, Lexeme: "foo", Line: 3, Pos: 7}
	err := NewAt(ResolveError, tok, "Identifier was not found.")
	want := "[line 3; pos 7] Error at 'foo': Identifier was not found."
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestErrorAtEnd(t *testing.T) {
	tok := lexer.Token{Type: lexer.TokenEOF, Line: 9, Pos: 1}
	err := NewAt(ParseError, tok, "Expect end of expression.")
	want := "[line 9; pos 1] Error at end: Expect end of expression."
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestErrorTokenDropsLexemeContext(t *testing.T) {
	tok := lexer.Token{Type: lexer.TokenError, Lexeme: "Unterminated string.", Line: 1, Pos: 4}
	err := NewAt(LexError, tok, "Unterminated string.")
	if strings.Contains(err.Error(), "at '") {
		t.Errorf("lex errors must not echo the lexeme: %q", err.Error())
	}
}

func TestReporterCollects(t *testing.T) {
	var buf bytes.Buffer
	r := NewReporter(&buf)
	if r.HadError() {
		t.Fatal("fresh reporter reports an error")
	}
	r.Report(NewAt(ParseError, lexer.Token{Line: 1, Pos: 1, Lexeme: ";", Type: lexer.TokenSemicolon}, "Expect expression."))
	r.Report(NewAt(ParseError, lexer.Token{Line: 2, Pos: 1, Lexeme: ";", Type: lexer.TokenSemicolon}, "Expect expression."))
	if !r.HadError() || r.Count() != 2 {
		t.Errorf("count = %d, want 2", r.Count())
	}
	out := buf.String()
	if strings.Count(out, "Error") != 2 {
		t.Errorf("expected two printed diagnostics, got %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("non-terminal writer must not receive colour codes")
	}
}
