package parser

import (
	"strconv"

	"fang/internal/ast"
	"fang/internal/constpool"
	"fang/internal/errors"
	"fang/internal/lexer"
	"fang/internal/value"
)

type precedence int

const (
	precNone precedence = iota
	precAssignment // =
	precOr         // ||
	precAnd        // &&
	precEquality   // !=
	precComparison // == < > <= >=
	precBitwise    // << >> & | ~
	precTerm       // + -
	precFactor     // * / %
	precUnary      // ! -
	precRef        // @ ^
	precCall       // . ()
	precSubscript  // []
	precAs         // as
	precPrimary
)

type prefixFn func(p *Parser, canAssign bool) ast.Node
type infixFn func(p *Parser, canAssign bool, left ast.Node) ast.Node

type parseRule struct {
	prefix prefixFn
	infix  infixFn
	prec   precedence
}

var rules map[lexer.TokenType]parseRule

func init() {
	rules = map[lexer.TokenType]parseRule{
		lexer.TokenLeftParen:      {(*Parser).grouping, (*Parser).call, precCall},
		lexer.TokenLeftBrace:      {(*Parser).record, nil, precNone},
		lexer.TokenLeftBracket:    {(*Parser).array, (*Parser).subscript, precSubscript},
		lexer.TokenMinus:          {(*Parser).unary, (*Parser).binary, precTerm},
		lexer.TokenPlus:           {nil, (*Parser).binary, precTerm},
		lexer.TokenSlash:          {nil, (*Parser).binary, precFactor},
		lexer.TokenStar:           {nil, (*Parser).binary, precFactor},
		lexer.TokenPercent:        {nil, (*Parser).binary, precFactor},
		lexer.TokenBang:           {(*Parser).unary, nil, precTerm},
		lexer.TokenTilde:          {(*Parser).unary, (*Parser).binary, precBitwise},
		lexer.TokenBangEqual:      {nil, (*Parser).binary, precEquality},
		lexer.TokenEqualEqual:     {nil, (*Parser).binary, precComparison},
		lexer.TokenGreater:        {nil, (*Parser).binary, precComparison},
		lexer.TokenGreaterEqual:   {nil, (*Parser).binary, precComparison},
		lexer.TokenLess:           {nil, (*Parser).binary, precComparison},
		lexer.TokenLessEqual:      {nil, (*Parser).binary, precComparison},
		lexer.TokenGreaterGreater: {nil, (*Parser).binary, precBitwise},
		lexer.TokenLessLess:       {nil, (*Parser).binary, precBitwise},
		lexer.TokenAnd:            {nil, (*Parser).binary, precBitwise},
		lexer.TokenAndAnd:         {nil, (*Parser).binary, precAnd},
		lexer.TokenOr:             {nil, (*Parser).binary, precBitwise},
		lexer.TokenOrOr:           {nil, (*Parser).binary, precOr},
		lexer.TokenDot:            {nil, (*Parser).dot, precCall},
		lexer.TokenAs:             {nil, (*Parser).as, precAs},
		lexer.TokenAt:             {(*Parser).ref, nil, precRef},
		lexer.TokenCaret:          {(*Parser).ref, nil, precRef},
		lexer.TokenIdentifier:     {(*Parser).variable, nil, precNone},
		lexer.TokenString:         {(*Parser).stringLiteral, nil, precNone},
		lexer.TokenNumber:         {(*Parser).number, nil, precNone},
		lexer.TokenChar:           {(*Parser).character, nil, precNone},
		lexer.TokenTrue:           {(*Parser).literal, nil, precNone},
		lexer.TokenFalse:          {(*Parser).literal, nil, precNone},
	}
}

func getRule(t lexer.TokenType) parseRule {
	return rules[t]
}

// Parser is a recursive-descent parser with a Pratt expression core. It
// pulls tokens lazily from the scanner and accumulates diagnostics through
// the reporter, synchronizing after each malformed statement.
type Parser struct {
	scanner  *lexer.Scanner
	pool     *constpool.Pool
	reporter *errors.Reporter

	current   lexer.Token
	previous  lexer.Token
	hadError  bool
	panicMode bool
	exitEmit  bool

	nextID uint64
}

func New(scanner *lexer.Scanner, pool *constpool.Pool, reporter *errors.Reporter) *Parser {
	return &Parser{
		scanner:  scanner,
		pool:     pool,
		reporter: reporter,
	}
}

func (p *Parser) HadError() bool {
	return p.hadError
}

// EmittedExit reports whether a top-level return was lowered to exit.
func (p *Parser) EmittedExit() bool {
	return p.exitEmit
}

// Parse consumes the whole file and returns its module. The module is nil
// when any error was reported.
func (p *Parser) Parse() *ast.Module {
	p.advance()

	module := &ast.Module{NodeBase: p.base(p.current)}
	p.moduleHeader(module)

	for !p.check(lexer.TokenEOF) {
		decl := p.topLevel()
		if decl != nil {
			module.Decls = append(module.Decls, decl)
		}
	}
	p.consume(lexer.TokenEOF, "Expect end of expression.")
	if p.hadError {
		return nil
	}
	return module
}

// moduleHeader accepts an optional leading `module <name>;`. The word
// "module" is contextual, not a keyword.
func (p *Parser) moduleHeader(module *ast.Module) {
	if p.check(lexer.TokenIdentifier) && p.current.Lexeme == "module" {
		p.advance()
		name := p.parseVariable("Expect a module name.")
		p.consume(lexer.TokenSemicolon, "Expect ';' after module name.")
		module.Name = name
	}
}

func (p *Parser) base(tok lexer.Token) ast.NodeBase {
	p.nextID++
	return ast.NodeBase{ID: p.nextID, Token: tok}
}

func (p *Parser) errorAt(tok lexer.Token, message string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true
	kind := errors.ParseError
	if tok.Type == lexer.TokenError {
		kind = errors.LexError
	}
	p.reporter.Report(errors.NewAt(kind, tok, message))
}

func (p *Parser) error(message string) {
	p.errorAt(p.previous, message)
}

func (p *Parser) errorAtCurrent(message string) {
	p.errorAt(p.current, message)
}

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.scanner.ScanToken()
		if p.current.Type != lexer.TokenError {
			break
		}
		p.errorAtCurrent(p.current.Lexeme)
	}
}

func (p *Parser) consume(t lexer.TokenType, message string) {
	if p.current.Type == t {
		p.advance()
		return
	}
	p.errorAtCurrent(message)
}

func (p *Parser) check(t lexer.TokenType) bool {
	return p.current.Type == t
}

func (p *Parser) match(t lexer.TokenType) bool {
	if !p.check(t) {
		return false
	}
	p.advance()
	return true
}

// checkContextual matches an identifier spelling used as a soft keyword.
func (p *Parser) checkContextual(word string) bool {
	return p.check(lexer.TokenIdentifier) && p.current.Lexeme == word
}

func (p *Parser) synchronize() {
	p.panicMode = false
	for p.current.Type != lexer.TokenEOF {
		if p.previous.Type == lexer.TokenSemicolon {
			return
		}
		switch p.current.Type {
		case lexer.TokenTypeKeyword, lexer.TokenFn, lexer.TokenExt,
			lexer.TokenVar, lexer.TokenFor, lexer.TokenIf,
			lexer.TokenWhile, lexer.TokenReturn:
			return
		}
		p.advance()
	}
}

// --- Expressions ---

func (p *Parser) expression() ast.Node {
	return p.parsePrecedence(precAssignment)
}

func (p *Parser) parsePrecedence(prec precedence) ast.Node {
	p.advance()
	rule := getRule(p.previous.Type)
	if rule.prefix == nil {
		p.error("Expect expression.")
		return &ast.Error{NodeBase: p.base(p.previous)}
	}

	canAssign := prec <= precAssignment
	expr := rule.prefix(p, canAssign)
	for prec <= getRule(p.current.Type).prec {
		p.advance()
		infix := getRule(p.previous.Type).infix
		expr = infix(p, canAssign, expr)
	}
	if canAssign && p.match(lexer.TokenEqual) {
		p.error("Invalid assignment target.")
	}
	return expr
}

func (p *Parser) parseVariable(message string) string {
	p.consume(lexer.TokenIdentifier, message)
	return p.previous.Lexeme
}

func (p *Parser) variable(canAssign bool) ast.Node {
	tok := p.previous
	module := ""
	name := tok.Lexeme
	if p.match(lexer.TokenColonColon) {
		module = name
		p.consume(lexer.TokenIdentifier, "Expect a name after '::'.")
		name = p.previous.Lexeme
	}
	if canAssign && p.match(lexer.TokenEqual) {
		target := &ast.LValue{NodeBase: p.base(tok), Module: module, Name: name}
		target.IsLValue = true
		expr := p.expression()
		return &ast.Assignment{NodeBase: p.base(tok), Target: target, Expr: expr}
	}
	return &ast.Identifier{NodeBase: p.base(tok), Module: module, Name: name}
}

func (p *Parser) literal(bool) ast.Node {
	switch p.previous.Type {
	case lexer.TokenFalse:
		return &ast.Literal{NodeBase: p.base(p.previous), ConstIndex: constpool.IndexFalse}
	case lexer.TokenTrue:
		return &ast.Literal{NodeBase: p.base(p.previous), ConstIndex: constpool.IndexTrue}
	}
	return &ast.Error{NodeBase: p.base(p.previous)}
}

func (p *Parser) number(bool) ast.Node {
	tok := p.previous
	n := parseNumber(tok.Lexeme)
	index := p.pool.Store(value.LitNum(n))
	return &ast.Literal{NodeBase: p.base(tok), ConstIndex: index}
}

func parseNumber(lexeme string) int64 {
	if len(lexeme) > 2 && lexeme[0] == '0' {
		switch lexeme[1] {
		case 'x', 'X':
			n, _ := strconv.ParseInt(lexeme[2:], 16, 64)
			return n
		case 'b', 'B':
			n, _ := strconv.ParseInt(lexeme[2:], 2, 64)
			return n
		}
	}
	n, _ := strconv.ParseInt(lexeme, 10, 64)
	return n
}

func (p *Parser) stringLiteral(bool) ast.Node {
	tok := p.previous
	text := unescape(tok.Lexeme[1 : len(tok.Lexeme)-1])
	index := p.pool.Store(value.String(text))
	return &ast.Literal{NodeBase: p.base(tok), ConstIndex: index}
}

func (p *Parser) character(bool) ast.Node {
	tok := p.previous
	text := unescape(tok.Lexeme[1 : len(tok.Lexeme)-1])
	var c byte
	if len(text) > 0 {
		c = text[0]
	}
	index := p.pool.Store(value.Char(c))
	return &ast.Literal{NodeBase: p.base(tok), ConstIndex: index}
}

func unescape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case 'r':
				out = append(out, '\r')
			case '0':
				out = append(out, 0)
			default:
				out = append(out, s[i])
			}
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func (p *Parser) grouping(bool) ast.Node {
	expr := p.expression()
	p.consume(lexer.TokenRightParen, "Expect ')' after expression.")
	return expr
}

func (p *Parser) unary(bool) ast.Node {
	tok := p.previous
	operand := p.parsePrecedence(precUnary)
	var op ast.Op
	switch tok.Type {
	case lexer.TokenMinus:
		op = ast.OpNeg
	case lexer.TokenBang:
		op = ast.OpNot
	case lexer.TokenTilde:
		op = ast.OpBitwiseNot
	default:
		return &ast.Error{NodeBase: p.base(tok)}
	}
	return &ast.Unary{NodeBase: p.base(tok), Op: op, Expr: operand}
}

func (p *Parser) ref(canAssign bool) ast.Node {
	tok := p.previous
	operand := p.parsePrecedence(precRef)
	var expr ast.Node
	switch tok.Type {
	case lexer.TokenCaret:
		expr = &ast.Ref{NodeBase: p.base(tok), Expr: operand}
	case lexer.TokenAt:
		expr = &ast.Deref{NodeBase: p.base(tok), Expr: operand}
	default:
		expr = &ast.Error{NodeBase: p.base(tok)}
	}
	if canAssign && p.match(lexer.TokenEqual) {
		expr.Base().IsLValue = true
		right := p.expression()
		return &ast.Assignment{NodeBase: p.base(tok), Target: expr, Expr: right}
	}
	return expr
}

func (p *Parser) binary(_ bool, left ast.Node) ast.Node {
	tok := p.previous
	rule := getRule(tok.Type)
	right := p.parsePrecedence(rule.prec + 1)

	var op ast.Op
	switch tok.Type {
	case lexer.TokenPlus:
		op = ast.OpAdd
	case lexer.TokenMinus:
		op = ast.OpSub
	case lexer.TokenStar:
		op = ast.OpMul
	case lexer.TokenSlash:
		op = ast.OpDiv
	case lexer.TokenPercent:
		op = ast.OpMod
	case lexer.TokenAnd:
		op = ast.OpBitwiseAnd
	case lexer.TokenAndAnd:
		op = ast.OpAnd
	case lexer.TokenOr:
		op = ast.OpBitwiseOr
	case lexer.TokenOrOr:
		op = ast.OpOr
	case lexer.TokenTilde:
		op = ast.OpBitwiseXor
	case lexer.TokenGreater:
		op = ast.OpGreater
	case lexer.TokenGreaterGreater:
		op = ast.OpShiftRight
	case lexer.TokenLess:
		op = ast.OpLess
	case lexer.TokenLessLess:
		op = ast.OpShiftLeft
	case lexer.TokenEqualEqual:
		op = ast.OpEqual
	case lexer.TokenBangEqual:
		op = ast.OpNotEqual
	case lexer.TokenGreaterEqual:
		op = ast.OpGreaterEqual
	case lexer.TokenLessEqual:
		op = ast.OpLessEqual
	default:
		return &ast.Error{NodeBase: p.base(tok)}
	}
	return &ast.Binary{NodeBase: p.base(tok), Op: op, Left: left, Right: right}
}

func (p *Parser) dot(canAssign bool, left ast.Node) ast.Node {
	tok := p.previous
	field := p.parseVariable("Expect property name after '.'.")
	expr := ast.Node(&ast.Dot{NodeBase: p.base(tok), Left: left, Field: field})
	if canAssign && p.match(lexer.TokenEqual) {
		expr.Base().IsLValue = true
		right := p.expression()
		return &ast.Assignment{NodeBase: p.base(tok), Target: expr, Expr: right}
	}
	return expr
}

func (p *Parser) as(canAssign bool, left ast.Node) ast.Node {
	tok := p.previous
	target := p.typeExpr()
	expr := ast.Node(&ast.Cast{NodeBase: p.base(tok), Expr: left, Type: target})
	if canAssign && p.match(lexer.TokenEqual) {
		right := p.expression()
		return &ast.Assignment{NodeBase: p.base(tok), Target: expr, Expr: right}
	}
	return expr
}

func (p *Parser) subscript(canAssign bool, left ast.Node) ast.Node {
	tok := p.previous
	index := p.expression()
	expr := ast.Node(&ast.Subscript{NodeBase: p.base(tok), Left: left, Index: index})
	p.consume(lexer.TokenRightBracket, "Expect ']' after a subscript.")
	if canAssign && p.match(lexer.TokenEqual) {
		expr.Base().IsLValue = true
		right := p.expression()
		return &ast.Assignment{NodeBase: p.base(tok), Target: expr, Expr: right}
	}
	return expr
}

func (p *Parser) call(_ bool, left ast.Node) ast.Node {
	tok := p.previous
	args := p.argumentList()
	return &ast.Call{NodeBase: p.base(tok), Callee: left, Args: args}
}

func (p *Parser) argumentList() []ast.Node {
	var args []ast.Node
	if !p.check(lexer.TokenRightParen) {
		for {
			args = append(args, p.expression())
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightParen, "Expect ')' after arguments.")
	return args
}

// array parses an array initializer literal: [a, b, c]. Elements sit below
// assignment so '=' cannot bind inside the list.
func (p *Parser) array(bool) ast.Node {
	tok := p.previous
	var values []ast.Node
	if !p.check(lexer.TokenRightBracket) {
		for {
			values = append(values, p.parsePrecedence(precOr))
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightBracket, "Expect ']' after an array literal.")
	return &ast.Initializer{NodeBase: p.base(tok), Assignments: values, Kind: ast.InitArray}
}

// record parses a record initializer literal: { field = expr; ... }.
func (p *Parser) record(bool) ast.Node {
	tok := p.previous
	var assignments []ast.Node
	if !p.check(lexer.TokenRightBrace) {
		for !p.check(lexer.TokenRightBrace) && !p.check(lexer.TokenEOF) {
			name := p.parseVariable("Expect field value name in record literal.")
			fieldTok := p.previous
			p.consume(lexer.TokenEqual, "Expect '=' after field name in record literal.")
			val := p.expression()
			p.consume(lexer.TokenSemicolon, "Expect ';' after field in record literal.")
			assignments = append(assignments, &ast.Param{NodeBase: p.base(fieldTok), Name: name, Value: val})
		}
	}
	p.consume(lexer.TokenRightBrace, "Expect '}' after a record literal.")
	return &ast.Initializer{NodeBase: p.base(tok), Assignments: assignments, Kind: ast.InitRecord}
}

// --- Types ---

func (p *Parser) typeExpr() ast.Node {
	tok := p.current
	switch {
	case p.match(lexer.TokenCaret):
		sub := p.typeExpr()
		return &ast.TypePtr{NodeBase: p.base(tok), Sub: sub}
	case p.match(lexer.TokenLeftBracket):
		length := p.parsePrecedence(precOr)
		p.consume(lexer.TokenRightBracket, "Expect array size literal to be followed by ']'.")
		sub := p.typeExpr()
		return &ast.TypeArray{NodeBase: p.base(tok), Length: length, Sub: sub}
	case p.match(lexer.TokenLeftParen):
		inner := p.typeExpr()
		p.consume(lexer.TokenRightParen, "Expect matching ')' in type definition.")
		return inner
	case p.match(lexer.TokenFn):
		p.consume(lexer.TokenLeftParen, "Expect '(' after 'fn' in function pointer type declaration.")
		var params []ast.Node
		if !p.check(lexer.TokenRightParen) {
			for {
				params = append(params, p.typeExpr())
				if !p.match(lexer.TokenComma) {
					break
				}
			}
		}
		p.consume(lexer.TokenRightParen, "Expect ')' after a function pointer type.")
		p.consume(lexer.TokenColon, "Expect ':' after a function pointer type.")
		ret := p.typeExpr()
		return &ast.TypeFn{NodeBase: p.base(tok), Params: params, Return: ret}
	case p.match(lexer.TokenTypeName):
		return &ast.TypeName{NodeBase: p.base(p.previous), Name: p.previous.Lexeme}
	case p.match(lexer.TokenIdentifier):
		nameTok := p.previous
		module := ""
		name := nameTok.Lexeme
		if p.match(lexer.TokenColonColon) {
			module = name
			p.consume(lexer.TokenIdentifier, "Expect a type name after '::'.")
			name = p.previous.Lexeme
		}
		return &ast.TypeName{NodeBase: p.base(nameTok), Module: module, Name: name}
	}
	p.errorAtCurrent("Expecting a type declaration.")
	return &ast.Error{NodeBase: p.base(tok)}
}

// --- Declarations and statements ---

func (p *Parser) topLevel() ast.Node {
	var decl ast.Node
	switch {
	case p.match(lexer.TokenTypeKeyword):
		decl = p.typeDecl()
	case p.match(lexer.TokenEnum):
		p.error("'enum' declarations are reserved and not yet supported.")
	case p.match(lexer.TokenFn):
		decl = p.fnDecl()
	case p.match(lexer.TokenExt):
		decl = p.extDecl()
	case p.match(lexer.TokenImport):
		decl = p.importDecl()
	case p.checkContextual("bank"):
		p.advance()
		decl = p.bankDecl()
	case p.match(lexer.TokenReturn):
		decl = p.returnStatement(true)
	default:
		return p.declaration()
	}
	if p.panicMode {
		p.synchronize()
	}
	return decl
}

func (p *Parser) declaration() ast.Node {
	var decl ast.Node
	switch {
	case p.match(lexer.TokenVar):
		decl = p.varDecl()
	case p.match(lexer.TokenConst):
		decl = p.constDecl()
	case p.match(lexer.TokenAsm):
		decl = p.asmDecl()
	default:
		decl = p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
	return decl
}

func (p *Parser) statement() ast.Node {
	switch {
	case p.match(lexer.TokenLeftBrace):
		return p.block()
	case p.match(lexer.TokenIf):
		return p.ifStatement()
	case p.match(lexer.TokenFor):
		return p.forStatement()
	case p.match(lexer.TokenReturn):
		return p.returnStatement(false)
	case p.match(lexer.TokenWhile):
		return p.whileStatement()
	}
	return p.expressionStatement()
}

func (p *Parser) expressionStatement() ast.Node {
	expr := p.expression()
	p.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	return expr
}

func (p *Parser) block() ast.Node {
	tok := p.previous
	var decls []ast.Node
	for !p.check(lexer.TokenRightBrace) && !p.check(lexer.TokenEOF) {
		decls = append(decls, p.declaration())
	}
	p.consume(lexer.TokenRightBrace, "Expect '}' after block.")
	return &ast.Block{NodeBase: p.base(tok), Stmts: decls}
}

func (p *Parser) ifStatement() ast.Node {
	tok := p.previous
	p.consume(lexer.TokenLeftParen, "Expect '(' after 'if'.")
	cond := p.expression()
	p.consume(lexer.TokenRightParen, "Expect ')' after condition.")
	body := p.statement()
	var elseClause ast.Node
	if p.match(lexer.TokenElse) {
		elseClause = p.statement()
	}
	return &ast.If{NodeBase: p.base(tok), Cond: cond, Then: body, Else: elseClause}
}

func (p *Parser) whileStatement() ast.Node {
	tok := p.previous
	p.consume(lexer.TokenLeftParen, "Expect '(' after 'while'.")
	cond := p.expression()
	p.consume(lexer.TokenRightParen, "Expect ')' after condition.")
	body := p.statement()
	return &ast.While{NodeBase: p.base(tok), Cond: cond, Body: body}
}

func (p *Parser) forStatement() ast.Node {
	tok := p.previous
	p.consume(lexer.TokenLeftParen, "Expect '(' after 'for'.")

	var init, cond, inc ast.Node
	if p.match(lexer.TokenSemicolon) {
		// No initializer.
	} else if p.match(lexer.TokenVar) {
		init = p.varDecl()
	} else {
		init = p.expressionStatement()
	}

	if !p.match(lexer.TokenSemicolon) {
		cond = p.expression()
		p.consume(lexer.TokenSemicolon, "Expect ';' after loop condition.")
	}

	if !p.match(lexer.TokenRightParen) {
		inc = p.expression()
		p.consume(lexer.TokenRightParen, "Expect ')' after condition.")
	}

	body := p.statement()
	return &ast.For{NodeBase: p.base(tok), Init: init, Cond: cond, Inc: inc, Body: body}
}

// returnStatement lowers a top-level return to exit, flagging that the
// parser emitted its own exit epilogue.
func (p *Parser) returnStatement(topLevel bool) ast.Node {
	tok := p.previous
	var expr ast.Node
	if !p.match(lexer.TokenSemicolon) {
		expr = p.expression()
		p.consume(lexer.TokenSemicolon, "Expect ';' after return value.")
	}
	if topLevel {
		p.exitEmit = true
		return &ast.Exit{NodeBase: p.base(tok), Expr: expr}
	}
	return &ast.Return{NodeBase: p.base(tok), Expr: expr}
}

func (p *Parser) varDecl() ast.Node {
	tok := p.previous
	name := p.parseVariable("Expect variable name")
	p.consume(lexer.TokenColon, "Expect ':' after identifier.")
	varType := p.typeExpr()

	var decl ast.Node
	if p.match(lexer.TokenEqual) {
		expr := p.expression()
		decl = &ast.VarInit{NodeBase: p.base(tok), Name: name, Type: varType, Expr: expr}
	} else {
		decl = &ast.VarDecl{NodeBase: p.base(tok), Name: name, Type: varType}
	}
	p.consume(lexer.TokenSemicolon, "Expect ';' after variable declaration.")
	return decl
}

func (p *Parser) constDecl() ast.Node {
	tok := p.previous
	name := p.parseVariable("Expect constant name.")
	p.consume(lexer.TokenColon, "Expect ':' after identifier.")
	constType := p.typeExpr()
	p.consume(lexer.TokenEqual, "Expect '=' after constant declaration.")
	expr := p.expression()
	p.consume(lexer.TokenSemicolon, "Expect ';' after expression.")
	return &ast.ConstDecl{NodeBase: p.base(tok), Name: name, Type: constType, Expr: expr}
}

func (p *Parser) asmDecl() ast.Node {
	tok := p.previous
	p.consume(lexer.TokenLeftBrace, "Expect '{' after keyword 'asm'.")
	var output []string
	if !p.check(lexer.TokenRightBrace) {
		p.consume(lexer.TokenString, "ASM blocks can only contain strings.")
		for p.previous.Type == lexer.TokenString {
			lexeme := p.previous.Lexeme
			output = append(output, unescape(lexeme[1:len(lexeme)-1]))
			if !p.match(lexer.TokenString) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightBrace, "Expect '}' after keyword 'asm'.")
	p.consume(lexer.TokenSemicolon, "Expect ';' after asm declaration.")
	return &ast.Asm{NodeBase: p.base(tok), Strings: output}
}

func (p *Parser) fnDecl() ast.Node {
	tok := p.previous
	name := p.parseVariable("Expect function identifier")
	p.consume(lexer.TokenLeftParen, "Expect '(' after function identifier")

	var params []ast.Node
	if !p.check(lexer.TokenRightParen) {
		for {
			paramName := p.parseVariable("Expect parameter name.")
			paramTok := p.previous
			p.consume(lexer.TokenColon, "Expect ':' after parameter name.")
			paramType := p.typeExpr()
			params = append(params, &ast.Param{NodeBase: p.base(paramTok), Name: paramName, Type: paramType})
			if !p.match(lexer.TokenComma) {
				break
			}
		}
	}
	p.consume(lexer.TokenRightParen, "Expect ')' after function parameter list")
	p.consume(lexer.TokenColon, "Expect ':' after function parameter list.")
	returnType := p.typeExpr()
	p.consume(lexer.TokenLeftBrace, "Expect '{' before function body.")
	body := p.block()
	return &ast.Fn{NodeBase: p.base(tok), Name: name, Params: params, ReturnType: returnType, Body: body}
}

func (p *Parser) typeDecl() ast.Node {
	tok := p.previous
	name := p.parseVariable("Expect a data type name")
	p.consume(lexer.TokenLeftBrace, "Expect '{' before type definition.")
	fields := p.fieldList()
	return &ast.TypeDecl{NodeBase: p.base(tok), Name: name, Fields: fields}
}

func (p *Parser) fieldList() []ast.Node {
	var fields []ast.Node
	if !p.check(lexer.TokenRightBrace) {
		for !p.check(lexer.TokenRightBrace) && !p.check(lexer.TokenEOF) {
			name := p.parseVariable("Expect parameter name.")
			fieldTok := p.previous
			p.consume(lexer.TokenColon, "Expect ':' after parameter name.")
			fieldType := p.typeExpr()
			p.consume(lexer.TokenSemicolon, "Expect ';' after field declaration.")
			fields = append(fields, &ast.Param{NodeBase: p.base(fieldTok), Name: name, Type: fieldType})
		}
	}
	p.consume(lexer.TokenRightBrace, "Expect '}' after function parameter list")
	return fields
}

func (p *Parser) extDecl() ast.Node {
	tok := p.previous
	switch {
	case p.match(lexer.TokenFn):
		name := p.parseVariable("Expect an external function name.")
		p.consume(lexer.TokenLeftParen, "Expect '(' after external function name.")
		var params []ast.Node
		if !p.check(lexer.TokenRightParen) {
			for {
				params = append(params, p.typeExpr())
				if !p.match(lexer.TokenComma) {
					break
				}
			}
		}
		p.consume(lexer.TokenRightParen, "Expect ')' after external function parameters.")
		p.consume(lexer.TokenColon, "Expect ':' after external function parameters.")
		ret := p.typeExpr()
		p.consume(lexer.TokenSemicolon, "Expect ';' after external declaration.")
		fnType := &ast.TypeFn{NodeBase: p.base(tok), Params: params, Return: ret}
		return &ast.Ext{NodeBase: p.base(tok), Kind: ast.ExtFunction, Name: name, Type: fnType}
	case p.match(lexer.TokenVar):
		name := p.parseVariable("Expect an external variable name.")
		p.consume(lexer.TokenColon, "Expect ':' after identifier.")
		varType := p.typeExpr()
		p.consume(lexer.TokenSemicolon, "Expect ';' after external declaration.")
		return &ast.Ext{NodeBase: p.base(tok), Kind: ast.ExtVariable, Name: name, Type: varType}
	}
	p.errorAtCurrent("Expect 'fn' or 'var' after 'ext'.")
	return &ast.Error{NodeBase: p.base(tok)}
}

func (p *Parser) importDecl() ast.Node {
	tok := p.previous
	name := p.parseVariable("Expect module name.")
	p.consume(lexer.TokenSemicolon, "Expect ';' after import.")
	return &ast.Import{NodeBase: p.base(tok), Name: name}
}

// bankDecl parses `bank <name> ["annotation"] { decls }`. The annotation
// string is passed to the back end verbatim.
func (p *Parser) bankDecl() ast.Node {
	tok := p.previous
	name := p.parseVariable("Expect a bank name.")
	annotation := ""
	if p.match(lexer.TokenString) {
		lexeme := p.previous.Lexeme
		annotation = unescape(lexeme[1 : len(lexeme)-1])
	}
	p.consume(lexer.TokenLeftBrace, "Expect '{' before bank contents.")
	var decls []ast.Node
	for !p.check(lexer.TokenRightBrace) && !p.check(lexer.TokenEOF) {
		switch {
		case p.match(lexer.TokenFn):
			decls = append(decls, p.fnDecl())
		case p.match(lexer.TokenVar):
			decls = append(decls, p.varDecl())
		case p.match(lexer.TokenConst):
			decls = append(decls, p.constDecl())
		default:
			p.errorAtCurrent("Only declarations are allowed inside a bank.")
			p.synchronize()
		}
	}
	p.consume(lexer.TokenRightBrace, "Expect '}' after bank contents.")
	return &ast.Bank{NodeBase: p.base(tok), Name: name, Annotation: annotation, Decls: decls}
}
