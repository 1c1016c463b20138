package tac

import (
	"fmt"

	"fang/internal/ast"
	"fang/internal/constpool"
	"fang/internal/errors"
	"fang/internal/symbols"
	"fang/internal/types"
	"fang/internal/value"
)

// Generator lowers a resolved tree to a TAC program: one section per module
// and per bank, data entries for globals, and basic-block chains for every
// function plus the synthesized entry function holding module-level code.
type Generator struct {
	pool     *constpool.Pool
	types    *types.Table
	symbols  *symbols.Table
	reporter *errors.Reporter
	hadError bool

	head *Instr
	tail *Instr

	fn        *Function
	temps     int
	labels    int
	calls     map[*Function][]string
	functions map[string]*Function
}

func NewGenerator(tt *types.Table, st *symbols.Table, pool *constpool.Pool, reporter *errors.Reporter) *Generator {
	return &Generator{
		pool:      pool,
		types:     tt,
		symbols:   st,
		reporter:  reporter,
		calls:     map[*Function][]string{},
		functions: map[string]*Function{},
	}
}

func (g *Generator) errorAt(node ast.Node, message string) {
	g.hadError = true
	g.reporter.Report(errors.NewAt(errors.ResolveError, node.Base().Token, message))
}

type section struct {
	name       string
	annotation string
	bank       int
	scope      int
	module     string
	globals    []ast.Node
	functions  []*ast.Fn
	body       []ast.Node
}

// Generate lowers the whole tree. It returns ok=false when lowering hit an
// internal inconsistency (the resolver reports all user errors first).
func (g *Generator) Generate(main *ast.Main) (Program, bool) {
	program := Program{}
	sections := g.prepare(main)

	for i, s := range sections {
		out := Section{
			Index:      i,
			Name:       s.name,
			Annotation: s.annotation,
			Bank:       s.bank,
		}
		for _, global := range s.globals {
			out.Data = append(out.Data, g.global(s, global))
		}

		if len(s.body) > 0 || s.bank == 0 {
			entry := g.lowerFunction(s.module, "", s.scope, s.bank, true, s.body)
			out.Functions = append(out.Functions, entry)
		}
		for _, fn := range s.functions {
			body := fn.Body.(*ast.Block).Stmts
			lowered := g.lowerFunction(s.module, fn.Name, fn.ScopeIndex, s.bank, false, body)
			out.Functions = append(out.Functions, lowered)
			g.functions[qualified(s.module, fn.Name)] = lowered
		}
		program.Sections = append(program.Sections, out)
	}

	g.settlePurity()
	return program, !g.hadError
}

func qualified(module, name string) string {
	if module == "" {
		return name
	}
	return module + "::" + name
}

func (g *Generator) prepare(main *ast.Main) []*section {
	var sections []*section
	var banks []*section

	for _, m := range main.Modules {
		module := m.(*ast.Module)
		s := &section{
			name:   module.Name,
			module: module.Name,
			scope:  module.ScopeIndex,
		}
		for _, decl := range module.Decls {
			switch n := decl.(type) {
			case *ast.Bank:
				b := &section{
					name:       n.Name,
					annotation: n.Annotation,
					bank:       g.symbols.Scope(n.ScopeIndex).BankIndex,
					scope:      n.ScopeIndex,
					module:     module.Name,
				}
				for _, bd := range n.Decls {
					switch bn := bd.(type) {
					case *ast.Fn:
						b.functions = append(b.functions, bn)
					case *ast.VarDecl, *ast.VarInit, *ast.ConstDecl:
						b.globals = append(b.globals, bd)
					}
				}
				banks = append(banks, b)
			case *ast.Fn:
				s.functions = append(s.functions, n)
			case *ast.VarDecl, *ast.ConstDecl:
				s.globals = append(s.globals, decl)
			case *ast.VarInit:
				s.globals = append(s.globals, decl)
				// Non-constant initializers run in the entry code; the
				// data image only covers folded literals.
				if _, isLit := n.Expr.(*ast.Literal); !isLit {
					s.body = append(s.body, decl)
				}
			case *ast.TypeDecl, *ast.Ext, *ast.Import, *ast.Error:
				// No code.
			default:
				s.body = append(s.body, decl)
			}
		}
		sections = append(sections, s)
	}
	return append(sections, banks...)
}

// global builds the section's data entry for a module- or bank-level
// declaration. Initializers that folded to a constant land in the data
// image; the rest are zero-filled and assigned by the entry code.
func (g *Generator) global(s *section, node ast.Node) Data {
	data := Data{Module: s.module, ConstIndex: -1}
	var name string
	var typeID int
	switch n := node.(type) {
	case *ast.VarDecl:
		name, typeID = n.Name, n.TypeID
	case *ast.VarInit:
		name, typeID = n.Name, n.TypeID
		if lit, ok := n.Expr.(*ast.Literal); ok {
			data.ConstIndex = lit.ConstIndex
		}
	case *ast.ConstDecl:
		name, typeID = n.Name, n.TypeID
		data.Constant = true
		entry := g.symbols.Get(node.Base().ScopeIndex, n.Name)
		data.ConstIndex = entry.ConstIndex
	}
	data.Name = name
	data.Type = typeID
	data.Size = g.types.SizeOf(typeID)
	if entry := g.types.Get(typeID); entry.Kind == types.KindArray && len(entry.Fields) > 0 {
		data.Count = entry.Fields[0].ElementCount
	}
	return data
}

// --- Function lowering ---

func (g *Generator) lowerFunction(module, name string, scope, bank int, entry bool, body []ast.Node) *Function {
	fn := &Function{
		Module: module,
		Name:   name,
		Bank:   bank,
		Scope:  scope,
		Entry:  entry,
		Purity: PurityPure,
		Used:   entry || name == "main",
	}
	g.fn = fn
	g.head, g.tail = nil, nil
	g.temps, g.labels = 0, 0

	for _, stmt := range body {
		g.lowerStmt(stmt)
	}

	fn.Temps = g.temps
	fn.Labels = g.labels
	fn.Start = g.buildBlocks(g.head)
	g.markReachable(fn.Start)
	fn.Start = g.dropDeadBlocks(fn.Start)
	return fn
}

func (g *Generator) emit(i *Instr) *Instr {
	if g.tail == nil {
		g.head, g.tail = i, i
	} else {
		i.Prev = g.tail
		g.tail.Next = i
		g.tail = i
	}
	return i
}

func (g *Generator) newTemp() Operand {
	t := Temporary(g.temps)
	g.temps++
	return t
}

func (g *Generator) newLabel() int {
	n := g.labels
	g.labels++
	return n
}

func (g *Generator) markImpure() {
	g.fn.Purity = PurityImpure
}

// --- Statements ---

func (g *Generator) lowerStmt(node ast.Node) {
	if node == nil {
		return
	}
	switch n := node.(type) {
	case *ast.Error:
		g.emit(&Instr{Tag: TagError})
	case *ast.Block:
		for _, stmt := range n.Stmts {
			g.lowerStmt(stmt)
		}
	case *ast.VarDecl:
		g.lowerVarDecl(n)
	case *ast.VarInit:
		g.lowerVarInit(n)
	case *ast.ConstDecl:
		g.lowerConstDecl(n)
	case *ast.If:
		g.lowerIf(n)
	case *ast.While:
		g.lowerWhile(n)
	case *ast.For:
		g.lowerFor(n)
	case *ast.Return:
		if n.Expr != nil {
			a := g.lowerExpr(n.Expr)
			g.emit(&Instr{Tag: TagReturn, A: a})
		} else {
			g.emit(&Instr{Tag: TagReturn})
		}
	case *ast.Exit:
		if n.Expr != nil {
			a := g.lowerExpr(n.Expr)
			g.emit(&Instr{Tag: TagReturn, A: a})
		} else {
			g.emit(&Instr{Tag: TagReturn})
		}
	case *ast.Asm:
		g.emit(&Instr{Tag: TagAsm, Raw: n.Strings})
		g.markImpure()
	case *ast.TypeDecl, *ast.Ext, *ast.Import, *ast.Fn, *ast.Bank:
		// Handled structurally.
	default:
		g.lowerExpr(node)
	}
}

func (g *Generator) variableOperand(scope int, module, name string) Operand {
	entry := g.symbols.Get(scope, name)
	if entry.Kind == symbols.SymbolConstant && entry.ConstIndex > 0 {
		return Literal(g.pool.Get(entry.ConstIndex), entry.ConstIndex)
	}
	return Variable(entry.ScopeIndex, module, name, entry.TypeID)
}

func (g *Generator) lowerVarDecl(n *ast.VarDecl) {
	dst := Variable(n.ScopeIndex, g.symbols.ModuleNameFrom(n.ScopeIndex), n.Name, n.TypeID)
	if g.types.Kind(n.TypeID) == types.KindArray {
		g.emit(&Instr{Tag: TagInit, Dst: dst})
		return
	}
	def := Literal(g.pool.Get(constpool.IndexZeroU8), constpool.IndexZeroU8)
	g.emit(&Instr{Tag: TagInit, Dst: dst, A: def})
}

func (g *Generator) lowerVarInit(n *ast.VarInit) {
	dst := Variable(n.ScopeIndex, g.symbols.ModuleNameFrom(n.ScopeIndex), n.Name, n.TypeID)
	if init, ok := n.Expr.(*ast.Initializer); ok {
		g.emit(&Instr{Tag: TagInit, Dst: dst})
		g.lowerInitializer(dst, n.TypeID, init)
		return
	}
	a := g.lowerExpr(n.Expr)
	g.emit(&Instr{Tag: TagInit, Dst: dst, A: a})
}

func (g *Generator) lowerConstDecl(n *ast.ConstDecl) {
	// Constants fold to immediates at use sites; the slot is still
	// initialized so address-of stays meaningful.
	entry := g.symbols.Get(n.ScopeIndex, n.Name)
	if entry.ConstIndex <= 0 {
		return
	}
	dst := Variable(n.ScopeIndex, g.symbols.ModuleNameFrom(n.ScopeIndex), n.Name, n.TypeID)
	g.emit(&Instr{Tag: TagInit, Dst: dst, A: Literal(g.pool.Get(entry.ConstIndex), entry.ConstIndex)})
}

// lowerInitializer expands an array or record literal into element stores.
func (g *Generator) lowerInitializer(dst Operand, typeID int, init *ast.Initializer) {
	base := g.newTemp()
	g.emit(&Instr{Tag: TagCopy, Dst: base, A: dst, Op: OpAddrOf})

	if init.Kind == ast.InitArray {
		elementSize := g.types.SizeOf(g.types.Parent(typeID))
		for i, element := range init.Assignments {
			v := g.lowerExpr(element)
			addr := g.offsetAddr(base, int64(i)*int64(elementSize))
			g.emit(&Instr{Tag: TagCopy, A: addr, B: v, Op: OpStore})
		}
		return
	}

	entry := g.types.Get(typeID)
	for _, assignment := range init.Assignments {
		field := assignment.(*ast.Param)
		v := g.lowerExpr(field.Value)
		addr := g.offsetAddr(base, int64(g.fieldOffset(entry, field.Name)))
		g.emit(&Instr{Tag: TagCopy, A: addr, B: v, Op: OpStore})
	}
}

func (g *Generator) offsetAddr(base Operand, offset int64) Operand {
	if offset == 0 {
		return base
	}
	t := g.newTemp()
	g.emit(&Instr{Tag: TagCopy, Dst: t, A: base, B: Literal(value.LitNum(offset), -1), Op: OpAdd})
	return t
}

func (g *Generator) fieldOffset(entry types.Entry, name string) int {
	offset := 0
	for _, f := range entry.Fields {
		if f.Name == name {
			return offset
		}
		offset += g.types.SizeOf(f.TypeID)
	}
	return 0
}

func (g *Generator) lowerIf(n *ast.If) {
	cond := g.lowerExpr(n.Cond)
	elseLabel := g.newLabel()
	g.emit(&Instr{Tag: TagIfFalse, A: cond, B: Label(elseLabel)})
	g.lowerStmt(n.Then)
	if n.Else != nil {
		endLabel := g.newLabel()
		g.emit(&Instr{Tag: TagGoto, A: Label(endLabel)})
		g.emit(&Instr{Tag: TagLabel, A: Label(elseLabel)})
		g.lowerStmt(n.Else)
		g.emit(&Instr{Tag: TagLabel, A: Label(endLabel)})
	} else {
		g.emit(&Instr{Tag: TagLabel, A: Label(elseLabel)})
	}
}

func (g *Generator) lowerWhile(n *ast.While) {
	head := g.newLabel()
	exit := g.newLabel()
	g.emit(&Instr{Tag: TagLabel, A: Label(head)})
	cond := g.lowerExpr(n.Cond)
	g.emit(&Instr{Tag: TagIfFalse, A: cond, B: Label(exit)})
	g.lowerStmt(n.Body)
	g.emit(&Instr{Tag: TagGoto, A: Label(head)})
	g.emit(&Instr{Tag: TagLabel, A: Label(exit)})
}

func (g *Generator) lowerFor(n *ast.For) {
	head := g.newLabel()
	exit := g.newLabel()
	g.lowerStmt(n.Init)
	g.emit(&Instr{Tag: TagLabel, A: Label(head)})
	if n.Cond != nil {
		cond := g.lowerExpr(n.Cond)
		g.emit(&Instr{Tag: TagIfFalse, A: cond, B: Label(exit)})
	}
	g.lowerStmt(n.Body)
	if n.Inc != nil {
		g.lowerExpr(n.Inc)
	}
	g.emit(&Instr{Tag: TagGoto, A: Label(head)})
	g.emit(&Instr{Tag: TagLabel, A: Label(exit)})
}

// --- Expressions ---

func (g *Generator) lowerExpr(node ast.Node) Operand {
	if node == nil {
		return None()
	}
	switch n := node.(type) {
	case *ast.Error:
		return Operand{Kind: OperandError}
	case *ast.Literal:
		return Literal(g.pool.Get(n.ConstIndex), n.ConstIndex)
	case *ast.Identifier:
		return g.variableOperand(n.ScopeIndex, n.Module, n.Name)
	case *ast.LValue:
		return Variable(n.ScopeIndex, n.Module, n.Name, n.TypeID)
	case *ast.Unary:
		a := g.lowerExpr(n.Expr)
		t := g.newTemp()
		op := OpNeg
		switch n.Op {
		case ast.OpNot:
			op = OpNot
		case ast.OpBitwiseNot:
			op = OpBitwiseNot
		}
		g.emit(&Instr{Tag: TagCopy, Dst: t, A: a, Op: op})
		return t
	case *ast.Binary:
		return g.lowerBinary(n)
	case *ast.Ref:
		return g.addressOf(n.Expr)
	case *ast.Deref:
		a := g.lowerExpr(n.Expr)
		t := g.newTemp()
		g.emit(&Instr{Tag: TagCopy, Dst: t, A: a, Op: OpLoad})
		return t
	case *ast.Subscript:
		base, index := g.subscriptParts(n)
		t := g.newTemp()
		g.emit(&Instr{Tag: TagCopy, Dst: t, A: base, B: index, Op: OpIndexRead})
		return t
	case *ast.Dot:
		addr := g.dotAddr(n)
		t := g.newTemp()
		g.emit(&Instr{Tag: TagCopy, Dst: t, A: addr, Op: OpLoad})
		return t
	case *ast.Cast:
		return g.lowerExpr(n.Expr)
	case *ast.Call:
		return g.lowerCall(n)
	case *ast.Assignment:
		return g.lowerAssignment(n)
	case *ast.Initializer:
		g.errorAt(n, "Initializer literals require an array or record target.")
		return Operand{Kind: OperandError}
	case *ast.Asm:
		g.emit(&Instr{Tag: TagAsm, Raw: n.Strings})
		g.markImpure()
		return None()
	}
	g.errorAt(node, "Cannot lower expression.")
	return Operand{Kind: OperandError}
}

func astOpToTac(op ast.Op) OpType {
	switch op {
	case ast.OpAdd:
		return OpAdd
	case ast.OpSub:
		return OpSub
	case ast.OpMul:
		return OpMul
	case ast.OpDiv:
		return OpDiv
	case ast.OpMod:
		return OpMod
	case ast.OpGreater:
		return OpGreater
	case ast.OpLess:
		return OpLess
	case ast.OpGreaterEqual:
		return OpGreaterEqual
	case ast.OpLessEqual:
		return OpLessEqual
	case ast.OpEqual:
		return OpEqual
	case ast.OpNotEqual:
		return OpNotEqual
	case ast.OpShiftLeft:
		return OpShiftLeft
	case ast.OpShiftRight:
		return OpShiftRight
	case ast.OpBitwiseAnd:
		return OpBitwiseAnd
	case ast.OpBitwiseOr:
		return OpBitwiseOr
	case ast.OpBitwiseXor:
		return OpBitwiseXor
	}
	return OpError
}

func (g *Generator) lowerBinary(n *ast.Binary) Operand {
	// Short-circuit operators lower to control flow; the right operand
	// only runs when the left does not decide the result.
	if n.Op == ast.OpAnd || n.Op == ast.OpOr {
		left := g.lowerExpr(n.Left)
		result := g.newTemp()
		g.emit(&Instr{Tag: TagCopy, Dst: result, A: left})
		end := g.newLabel()
		tag := TagIfFalse
		if n.Op == ast.OpOr {
			tag = TagIfTrue
		}
		g.emit(&Instr{Tag: tag, A: result, B: Label(end)})
		right := g.lowerExpr(n.Right)
		g.emit(&Instr{Tag: TagCopy, Dst: result, A: right})
		g.emit(&Instr{Tag: TagLabel, A: Label(end)})
		return result
	}

	left := g.lowerExpr(n.Left)
	right := g.lowerExpr(n.Right)
	t := g.newTemp()
	g.emit(&Instr{Tag: TagCopy, Dst: t, A: left, B: right, Op: astOpToTac(n.Op)})
	return t
}

func (g *Generator) lowerCall(n *ast.Call) Operand {
	args := make([]Operand, 0, len(n.Args))
	for _, arg := range n.Args {
		args = append(args, g.lowerExpr(arg))
	}
	callee := g.lowerExpr(n.Callee)
	t := g.newTemp()
	g.emit(&Instr{Tag: TagCall, Dst: t, A: callee, Args: args})

	if ident, ok := n.Callee.(*ast.Identifier); ok {
		g.calls[g.fn] = append(g.calls[g.fn], qualified(ident.Module, ident.Name))
		if target, known := g.functions[qualified(ident.Module, ident.Name)]; known {
			target.Used = true
		}
	} else {
		g.markImpure()
	}
	return t
}

func (g *Generator) lowerAssignment(n *ast.Assignment) Operand {
	rhs := g.lowerExpr(n.Expr)
	g.store(n.Target, rhs)
	return rhs
}

func (g *Generator) store(target ast.Node, rhs Operand) {
	switch t := target.(type) {
	case *ast.LValue:
		dst := Variable(t.ScopeIndex, t.Module, t.Name, t.TypeID)
		g.emit(&Instr{Tag: TagCopy, Dst: dst, A: rhs})
		if g.isStatic(t.ScopeIndex) && !g.fn.Entry {
			g.markImpure()
		}
	case *ast.Identifier:
		dst := Variable(t.ScopeIndex, t.Module, t.Name, t.TypeID)
		g.emit(&Instr{Tag: TagCopy, Dst: dst, A: rhs})
		if g.isStatic(t.ScopeIndex) && !g.fn.Entry {
			g.markImpure()
		}
	case *ast.Deref:
		addr := g.lowerExpr(t.Expr)
		g.emit(&Instr{Tag: TagCopy, A: addr, B: rhs, Op: OpStore})
	case *ast.Subscript:
		base, index := g.subscriptParts(t)
		addr := g.newTemp()
		g.emit(&Instr{Tag: TagCopy, Dst: addr, A: base, B: index, Op: OpIndexAddr})
		g.emit(&Instr{Tag: TagCopy, A: addr, B: rhs, Op: OpStore})
	case *ast.Dot:
		addr := g.dotAddr(t)
		g.emit(&Instr{Tag: TagCopy, A: addr, B: rhs, Op: OpStore})
	case *ast.Cast:
		g.store(t.Expr, rhs)
	default:
		g.errorAt(target, "Invalid assignment target.")
	}
}

func (g *Generator) isStatic(scopeIndex int) bool {
	kind := g.symbols.Scope(scopeIndex).Kind
	return kind == symbols.ScopeModule || kind == symbols.ScopeBank
}

// subscriptParts produces the base address and scaled index for an array or
// pointer subscript.
func (g *Generator) subscriptParts(n *ast.Subscript) (Operand, Operand) {
	leftType := n.Left.Base().TypeID
	var base Operand
	if g.types.Kind(leftType) == types.KindArray || leftType == types.String {
		base = g.addressOf(n.Left)
	} else {
		base = g.lowerExpr(n.Left)
	}
	index := g.lowerExpr(n.Index)

	elementSize := g.types.SizeOf(n.TypeID)
	if elementSize > 1 {
		scaled := g.newTemp()
		g.emit(&Instr{Tag: TagCopy, Dst: scaled, A: index,
			B: Literal(value.LitNum(int64(elementSize)), -1), Op: OpMul})
		index = scaled
	}
	return base, index
}

func (g *Generator) dotAddr(n *ast.Dot) Operand {
	leftType := n.Left.Base().TypeID
	entry := g.types.Get(leftType)
	var base Operand
	if entry.Kind == types.KindPointer {
		base = g.lowerExpr(n.Left)
		entry = g.types.Get(g.types.Parent(leftType))
	} else {
		base = g.addressOf(n.Left)
	}
	return g.offsetAddr(base, int64(g.fieldOffset(entry, n.Field)))
}

// addressOf lowers an expression in address position.
func (g *Generator) addressOf(node ast.Node) Operand {
	switch n := node.(type) {
	case *ast.Identifier:
		v := Variable(n.ScopeIndex, n.Module, n.Name, n.TypeID)
		t := g.newTemp()
		g.emit(&Instr{Tag: TagCopy, Dst: t, A: v, Op: OpAddrOf})
		return t
	case *ast.LValue:
		v := Variable(n.ScopeIndex, n.Module, n.Name, n.TypeID)
		t := g.newTemp()
		g.emit(&Instr{Tag: TagCopy, Dst: t, A: v, Op: OpAddrOf})
		return t
	case *ast.Subscript:
		base, index := g.subscriptParts(n)
		t := g.newTemp()
		g.emit(&Instr{Tag: TagCopy, Dst: t, A: base, B: index, Op: OpIndexAddr})
		return t
	case *ast.Dot:
		return g.dotAddr(n)
	case *ast.Deref:
		return g.lowerExpr(n.Expr)
	}
	g.errorAt(node, "Cannot take the address of this expression.")
	return Operand{Kind: OperandError}
}

// --- Blocks ---

// buildBlocks splits the linear chain into basic blocks: labels start
// blocks, branches and returns end them, and branch targets are linked.
func (g *Generator) buildBlocks(head *Instr) *Block {
	first := &Block{Label: -1}
	current := first
	byLabel := map[int]*Block{}

	for i := head; i != nil; i = i.Next {
		if i.Tag == TagLabel {
			next := &Block{Label: i.A.N, Prev: current}
			current.Next = next
			current = next
			byLabel[i.A.N] = next
		}
		if current.Start == nil {
			current.Start = i
		}
		current.End = i
		if i.Tag == TagGoto || i.Tag == TagIfFalse || i.Tag == TagIfTrue || i.Tag == TagReturn {
			if i.Next != nil && i.Next.Tag != TagLabel {
				next := &Block{Label: -1, Prev: current}
				current.Next = next
				current = next
			}
		}
	}

	// Resolve branch targets.
	for b := first; b != nil; b = b.Next {
		for _, i := range b.Instrs() {
			switch i.Tag {
			case TagGoto:
				b.Branch = byLabel[i.A.N]
			case TagIfFalse, TagIfTrue:
				b.Branch = byLabel[i.B.N]
			}
		}
	}
	return first
}

func (g *Generator) markReachable(first *Block) {
	if first == nil {
		return
	}
	work := []*Block{first}
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		if b.Reachable {
			continue
		}
		b.Reachable = true
		fallsThrough := true
		for _, i := range b.Instrs() {
			if i.Tag == TagGoto || i.Tag == TagReturn {
				fallsThrough = false
			}
		}
		if fallsThrough && b.Next != nil {
			work = append(work, b.Next)
		}
		if b.Branch != nil {
			work = append(work, b.Branch)
		}
	}
}

// dropDeadBlocks removes empty and unreachable blocks from the chain.
func (g *Generator) dropDeadBlocks(first *Block) *Block {
	var head, tail *Block
	for b := first; b != nil; b = b.Next {
		dead := !b.Reachable && b.Label < 0
		empty := b.Start == nil
		if dead || empty {
			continue
		}
		nb := b
		nb.Prev = tail
		if tail == nil {
			head = nb
		} else {
			tail.Next = nb
		}
		tail = nb
	}
	if tail != nil {
		tail.Next = nil
	}
	return head
}

// settlePurity runs the call graph to a fixpoint: a function is impure when
// it contains asm, stores to statics, or calls anything not known pure.
func (g *Generator) settlePurity() {
	changed := true
	for changed {
		changed = false
		for fn, callees := range g.calls {
			for _, callee := range callees {
				target, known := g.functions[callee]
				if fn.Purity != PurityImpure && (!known || target.Purity == PurityImpure) {
					fn.Purity = PurityImpure
					changed = true
				}
				if fn.Used && known && !target.Used {
					target.Used = true
					changed = true
				}
			}
		}
	}
	for fn := range g.functions {
		if g.functions[fn].Purity == PurityUnknown {
			g.functions[fn].Purity = PurityPure
		}
	}
}

// FunctionByName finds a lowered function for tests and the back end.
func (p *Program) FunctionByName(name string) *Function {
	for _, s := range p.Sections {
		for _, fn := range s.Functions {
			if fn.Name == name {
				return fn
			}
		}
	}
	return nil
}

func (p *Program) String() string {
	return fmt.Sprintf("TAC program (%d sections)", len(p.Sections))
}
