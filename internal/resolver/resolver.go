package resolver

import (
	"fmt"
	"strings"

	"fang/internal/ast"
	"fang/internal/constpool"
	"fang/internal/consteval"
	"fang/internal/errors"
	"fang/internal/symbols"
	"fang/internal/types"
	"fang/internal/value"
)

// Resolver walks the tree in two passes: the first registers top-level type
// and function declarations, the second resolves every identifier, checks
// types, and annotates nodes with their scope index and type id.
type Resolver struct {
	types    *types.Table
	symbols  *symbols.Table
	pool     *constpool.Pool
	reporter *errors.Reporter
	eval     *consteval.Evaluator
	env      *consteval.Environment

	hadError     bool
	fnReturnType int
	inFunction   bool
}

func New(tt *types.Table, st *symbols.Table, pool *constpool.Pool, reporter *errors.Reporter) *Resolver {
	return &Resolver{
		types:    tt,
		symbols:  st,
		pool:     pool,
		reporter: reporter,
		eval:     consteval.New(pool),
		env:      consteval.NewEnvironment(),
	}
}

func (r *Resolver) errorAt(node ast.Node, message string) {
	r.hadError = true
	r.reporter.Report(errors.NewAt(errors.ResolveError, node.Base().Token, message))
}

// Resolve runs both passes and finalizes type sizes. The symbol table's
// allocation pass needs the platform and runs from the driver.
func (r *Resolver) Resolve(main *ast.Main) bool {
	mods := make([]*ast.Module, 0, len(main.Modules))
	for _, m := range main.Modules {
		mods = append(mods, m.(*ast.Module))
	}

	for _, m := range mods {
		r.registerTopLevel(m)
	}
	if r.hadError {
		return false
	}

	// Every module scope exists before any body is walked so imports and
	// qualified names can reach later siblings.
	for _, m := range mods {
		id := r.symbols.OpenScope(symbols.ScopeModule)
		m.ScopeIndex = id
		if m.Name != "" && !r.symbols.NameScope(m.Name) {
			r.errorAt(m, fmt.Sprintf("Module '%s' is already defined.", m.Name))
		}
		r.symbols.PopScope()
	}

	for _, m := range mods {
		r.resolveModule(m)
	}

	if err := r.types.CalculateSizes(); err != nil {
		r.hadError = true
		r.reporter.Report(errors.NewAt(errors.ResolveError, main.Token, err.Error()))
	}
	return !r.hadError
}

// --- Pass 1: top-level registration ---

func (r *Resolver) registerTopLevel(m *ast.Module) {
	// Declare every type name first so fields can reference types declared
	// later in the file.
	for _, decl := range m.Decls {
		if td, ok := decl.(*ast.TypeDecl); ok {
			td.Index = r.types.Declare(m.Name, td.Name)
			td.TypeID = td.Index
		}
	}

	for _, decl := range m.Decls {
		switch n := decl.(type) {
		case *ast.TypeDecl:
			r.defineTypeDecl(m, n)
		case *ast.Fn:
			n.TypeIndex = r.fnType(m, n.Params, n.ReturnType)
		case *ast.Ext:
			n.TypeID = r.resolveType(n.Type, m.Name)
		case *ast.Bank:
			for _, bd := range n.Decls {
				if fn, ok := bd.(*ast.Fn); ok {
					fn.TypeIndex = r.fnType(m, fn.Params, fn.ReturnType)
				}
			}
		}
	}
}

func (r *Resolver) defineTypeDecl(m *ast.Module, n *ast.TypeDecl) {
	fields := make([]types.Field, 0, len(n.Fields))
	for _, fieldNode := range n.Fields {
		field := fieldNode.(*ast.Param)
		id := r.resolveType(field.Type, m.Name)
		if id == 0 {
			return
		}
		count := 0
		if entry := r.types.Get(id); entry.Kind == types.KindArray && len(entry.Fields) > 0 {
			count = entry.Fields[0].ElementCount
		}
		fields = append(fields, types.Field{TypeID: id, Name: field.Name, ElementCount: count})
	}
	if _, err := r.types.Define(n.Index, types.KindRecord, fields); err != nil {
		r.errorAt(n, err.Error())
	}
}

func (r *Resolver) fnType(m *ast.Module, params []ast.Node, returnType ast.Node) int {
	fields := make([]types.Field, 0, len(params)+1)
	for _, p := range params {
		switch n := p.(type) {
		case *ast.Param:
			fields = append(fields, types.Field{TypeID: r.resolveType(n.Type, m.Name), Name: n.Name})
		default:
			fields = append(fields, types.Field{TypeID: r.resolveType(p, m.Name)})
		}
	}
	fields = append(fields, types.Field{TypeID: r.resolveType(returnType, m.Name)})
	return r.types.RegisterStructural(r.renderFnName(fields), types.KindFunction, fields)
}

func (r *Resolver) renderFnName(fields []types.Field) string {
	var sb strings.Builder
	sb.WriteString("fn (")
	for i, f := range fields[:len(fields)-1] {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(r.types.NameOf(f.TypeID))
	}
	sb.WriteString("): ")
	sb.WriteString(r.types.NameOf(fields[len(fields)-1].TypeID))
	return sb.String()
}

// --- Type expressions ---

func (r *Resolver) resolveType(node ast.Node, module string) int {
	if node == nil {
		return 0
	}
	switch n := node.(type) {
	case *ast.TypeName:
		mod := n.Module
		if mod == "" {
			mod = module
		}
		id := r.types.Lookup(mod, n.Name)
		if id == 0 {
			r.errorAt(n, fmt.Sprintf("Type '%s' could not be found.", n.Name))
			return 0
		}
		n.TypeID = id
		return id
	case *ast.TypePtr:
		sub := r.resolveType(n.Sub, module)
		if sub == 0 {
			return 0
		}
		id := r.types.RegisterStructural("^"+r.types.NameOf(sub), types.KindPointer,
			[]types.Field{{TypeID: sub}})
		n.TypeID = id
		return id
	case *ast.TypeArray:
		length := r.eval.Eval(n.Length, r.env)
		if length.IsError() || !length.IsNumeric() || length.Number() < 0 {
			r.errorAt(n, "Array length must be a non-negative constant expression.")
			return 0
		}
		sub := r.resolveType(n.Sub, module)
		if sub == 0 {
			return 0
		}
		count := int(length.Number())
		id := r.types.RegisterStructural(fmt.Sprintf("[%d]%s", count, r.types.NameOf(sub)),
			types.KindArray, []types.Field{{TypeID: sub, ElementCount: count}})
		n.TypeID = id
		return id
	case *ast.TypeFn:
		fields := make([]types.Field, 0, len(n.Params)+1)
		for _, p := range n.Params {
			fields = append(fields, types.Field{TypeID: r.resolveType(p, module)})
		}
		fields = append(fields, types.Field{TypeID: r.resolveType(n.Return, module)})
		id := r.types.RegisterStructural(r.renderFnName(fields), types.KindFunction, fields)
		n.TypeID = id
		return id
	case *ast.Error:
		return 0
	}
	r.errorAt(node, "Expecting a type declaration.")
	return 0
}

// --- Pass 2: full walk ---

func (r *Resolver) resolveModule(m *ast.Module) {
	r.symbols.PushScope(m.ScopeIndex)

	// Functions and externals first, so call sites resolve regardless of
	// declaration order.
	for _, decl := range m.Decls {
		switch n := decl.(type) {
		case *ast.Fn:
			r.declareFn(n)
		case *ast.Ext:
			r.declareExt(n)
		}
	}

	var fns []*ast.Fn
	for _, decl := range m.Decls {
		switch n := decl.(type) {
		case *ast.Fn:
			fns = append(fns, n)
		case *ast.Bank:
			r.resolveBank(m, n)
		default:
			r.resolveNode(decl)
		}
	}

	for _, fn := range fns {
		r.resolveFnBody(fn)
	}

	r.symbols.CloseScope()
}

func (r *Resolver) resolveBank(m *ast.Module, n *ast.Bank) {
	id := r.symbols.OpenScope(symbols.ScopeBank)
	n.ScopeIndex = id

	var fns []*ast.Fn
	for _, decl := range n.Decls {
		if fn, ok := decl.(*ast.Fn); ok {
			r.declareFn(fn)
			fns = append(fns, fn)
		}
	}
	for _, decl := range n.Decls {
		if _, ok := decl.(*ast.Fn); !ok {
			r.resolveNode(decl)
		}
	}
	for _, fn := range fns {
		r.resolveFnBody(fn)
	}

	r.symbols.CloseScope()
}

func (r *Resolver) declareFn(n *ast.Fn) {
	if r.symbols.HasCurrentOnly(n.Name) {
		r.errorAt(n, fmt.Sprintf("'%s' is already declared in this scope.", n.Name))
		return
	}
	r.symbols.Define(n.Name, symbols.SymbolFunction, n.TypeIndex, symbols.StorageStatic)
}

func (r *Resolver) declareExt(n *ast.Ext) {
	kind := symbols.SymbolFunction
	if n.Kind == ast.ExtVariable {
		kind = symbols.SymbolVariable
	}
	if r.symbols.HasCurrentOnly(n.Name) {
		r.errorAt(n, fmt.Sprintf("'%s' is already declared in this scope.", n.Name))
		return
	}
	r.symbols.Define(n.Name, kind, n.TypeID, symbols.StorageExternal)
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
}

func (r *Resolver) resolveFnBody(n *ast.Fn) {
	scope := r.symbols.OpenScope(symbols.ScopeFunction)
	n.ScopeIndex = scope

	returnType := r.types.ReturnType(n.TypeIndex)
	prevReturn, prevIn := r.fnReturnType, r.inFunction
	r.fnReturnType, r.inFunction = returnType, true

	for _, paramNode := range n.Params {
		param := paramNode.(*ast.Param)
		paramType := r.resolveType(param.Type, r.moduleName())
		r.symbols.Define(param.Name, symbols.SymbolParameter, paramType, symbols.StorageParameter)
		param.TypeID = paramType
		param.ScopeIndex = scope
	}

	r.resolveNode(n.Body)

	r.fnReturnType, r.inFunction = prevReturn, prevIn
	r.symbols.CloseScope()
}

func (r *Resolver) moduleName() string {
	return r.symbols.ModuleNameFrom(r.symbols.CurrentScopeIndex())
}

func (r *Resolver) storage() symbols.Storage {
	switch r.symbols.CurrentScope().Kind {
	case symbols.ScopeModule, symbols.ScopeBank:
		return symbols.StorageStatic
	}
	return symbols.StorageAuto
}

// resolveNode resolves a statement-position node.
func (r *Resolver) resolveNode(node ast.Node) {
	if node == nil {
		return
	}
	switch n := node.(type) {
	case *ast.Error:
		// Parsing already reported it.
	case *ast.VarDecl:
		r.resolveVarDecl(n)
	case *ast.VarInit:
		r.resolveVarInit(n)
	case *ast.ConstDecl:
		r.resolveConstDecl(n)
	case *ast.Block:
		id := r.symbols.OpenScope(symbols.ScopeBlock)
		n.ScopeIndex = id
		for _, stmt := range n.Stmts {
			r.resolveNode(stmt)
		}
		r.symbols.CloseScope()
	case *ast.If:
		r.condition(n.Cond)
		n.ScopeIndex = r.symbols.CurrentScopeIndex()
		r.resolveNode(n.Then)
		r.resolveNode(n.Else)
	case *ast.While:
		r.condition(n.Cond)
		n.ScopeIndex = r.symbols.CurrentScopeIndex()
		r.resolveNode(n.Body)
	case *ast.DoWhile:
		r.errorAt(n, "do/while loops are reserved and not yet supported.")
	case *ast.For:
		id := r.symbols.OpenScope(symbols.ScopeBlock)
		n.ScopeIndex = id
		r.resolveNode(n.Init)
		if n.Cond != nil {
			r.condition(n.Cond)
		}
		if n.Inc != nil {
			r.resolveExpr(n.Inc)
		}
		r.resolveNode(n.Body)
		r.symbols.CloseScope()
	case *ast.Return:
		r.resolveReturn(n)
	case *ast.Exit:
		n.ScopeIndex = r.symbols.CurrentScopeIndex()
		if n.Expr != nil {
			exprType := r.resolveExpr(n.Expr)
			if exprType != 0 && !isNumericType(exprType) {
				r.errorAt(n, "Exit codes must be numerical.")
			}
		}
	case *ast.Asm:
		n.ScopeIndex = r.symbols.CurrentScopeIndex()
		n.TypeID = types.Void
	case *ast.Import:
		if r.symbols.ScopeIndexByName(n.Name) < 0 {
			r.errorAt(n, fmt.Sprintf("Module '%s' was not found.", n.Name))
		}
	case *ast.TypeDecl:
		n.ScopeIndex = r.symbols.CurrentScopeIndex()
	case *ast.Fn:
		// Bodies are resolved by the enclosing module/bank walk.
	case *ast.Ext:
		// Registered in the declaration sweep.
	default:
		r.resolveExpr(node)
	}
}

func (r *Resolver) condition(cond ast.Node) {
	condType := r.resolveExpr(cond)
	if condType != 0 && condType != types.Bool && !isNumericType(condType) {
		r.errorAt(cond, "Condition must evaluate to a boolean.")
	}
}

func (r *Resolver) resolveReturn(n *ast.Return) {
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
	if !r.inFunction {
		return
	}
	if r.fnReturnType == types.Void {
		if n.Expr != nil {
			r.errorAt(n, "Cannot return a value from a void function.")
		}
		return
	}
	if n.Expr == nil {
		r.errorAt(n, "Expect a return value.")
		return
	}
	exprType := r.resolveExpr(n.Expr)
	if exprType != 0 && !r.assignable(r.fnReturnType, exprType, n.Expr) {
		r.errorAt(n, fmt.Sprintf("Cannot return '%s' from a function returning '%s'.",
			r.types.NameOf(exprType), r.types.NameOf(r.fnReturnType)))
	}
}

func (r *Resolver) resolveVarDecl(n *ast.VarDecl) {
	typeID := r.resolveType(n.Type, r.moduleName())
	if r.symbols.HasCurrentOnly(n.Name) {
		r.errorAt(n, fmt.Sprintf("'%s' is already declared in this scope.", n.Name))
		return
	}
	r.symbols.Define(n.Name, symbols.SymbolVariable, typeID, r.storage())
	r.markArray(n.Name, typeID)
	n.TypeID = typeID
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
}

func (r *Resolver) resolveVarInit(n *ast.VarInit) {
	typeID := r.resolveType(n.Type, r.moduleName())
	if r.symbols.HasCurrentOnly(n.Name) {
		r.errorAt(n, fmt.Sprintf("'%s' is already declared in this scope.", n.Name))
		return
	}
	exprType := r.resolveExpr(n.Expr)
	if typeID != 0 && exprType != 0 && !r.assignable(typeID, exprType, n.Expr) {
		r.errorAt(n, fmt.Sprintf("Cannot initialise '%s' with a value of type '%s'.",
			r.types.NameOf(typeID), r.types.NameOf(exprType)))
	}
	r.symbols.Define(n.Name, symbols.SymbolVariable, typeID, r.storage())
	r.markArray(n.Name, typeID)
	n.TypeID = typeID
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
}

func (r *Resolver) resolveConstDecl(n *ast.ConstDecl) {
	typeID := r.resolveType(n.Type, r.moduleName())
	if r.symbols.HasCurrentOnly(n.Name) {
		r.errorAt(n, fmt.Sprintf("'%s' is already declared in this scope.", n.Name))
		return
	}
	exprType := r.resolveExpr(n.Expr)
	if typeID != 0 && exprType != 0 && !r.assignable(typeID, exprType, n.Expr) {
		r.errorAt(n, fmt.Sprintf("Cannot initialise '%s' with a value of type '%s'.",
			r.types.NameOf(typeID), r.types.NameOf(exprType)))
	}

	folded := r.eval.Eval(n.Expr, r.env)
	if folded.IsError() {
		switch folded.ErrCode() {
		case consteval.ErrDivByZero:
			r.errorAt(n, "Division by zero in a constant expression.")
		case consteval.ErrUndefined:
			r.errorAt(n, "Constant expressions may only use previously defined constants.")
		default:
			r.errorAt(n, "Constant initialisers must be compile-time expressions.")
		}
		return
	}
	if folded.IsNumeric() && typeID != 0 {
		folded = value.TypedNumber(kindOfType(typeID), folded.Number())
	}
	constIndex := r.pool.StoreTyped(folded, typeID)

	r.symbols.Define(n.Name, symbols.SymbolConstant, typeID, r.storage())
	r.symbols.SetConstIndex(n.Name, constIndex)
	r.markArray(n.Name, typeID)
	if !r.env.Define(n.Name, folded, true) {
		r.errorAt(n, fmt.Sprintf("Constant '%s' cannot be redefined.", n.Name))
	}
	n.TypeID = typeID
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
}

func (r *Resolver) markArray(name string, typeID int) {
	entry := r.types.Get(typeID)
	if entry.Kind == types.KindArray && len(entry.Fields) > 0 && entry.Fields[0].ElementCount > 0 {
		r.symbols.UpdateElementCount(name, entry.Fields[0].ElementCount)
	}
}

// --- Expressions ---

func (r *Resolver) resolveExpr(node ast.Node) int {
	if node == nil {
		return 0
	}
	switch n := node.(type) {
	case *ast.Error:
		return 0
	case *ast.Literal:
		return r.resolveLiteral(n)
	case *ast.Identifier:
		entry := r.lookup(n.Module, n.Name)
		if !entry.Defined() {
			r.errorAt(n, "Identifier was not found.")
			return 0
		}
		n.ScopeIndex = entry.ScopeIndex
		n.TypeID = entry.TypeID
		return entry.TypeID
	case *ast.LValue:
		entry := r.lookup(n.Module, n.Name)
		if !entry.Defined() {
			r.errorAt(n, "Identifier was not found.")
			return 0
		}
		if entry.Kind == symbols.SymbolConstant {
			r.errorAt(n, "Cannot assign to a constant.")
			return 0
		}
		if entry.Kind == symbols.SymbolFunction {
			r.errorAt(n, "Cannot assign to a function.")
			return 0
		}
		n.ScopeIndex = entry.ScopeIndex
		n.TypeID = entry.TypeID
		n.IsLValue = true
		return entry.TypeID
	case *ast.Assignment:
		n.Target.Base().IsLValue = true
		targetType := r.resolveExpr(n.Target)
		exprType := r.resolveExpr(n.Expr)
		if targetType != 0 && exprType != 0 && !r.assignable(targetType, exprType, n.Expr) {
			r.errorAt(n, fmt.Sprintf("Cannot assign '%s' to '%s'.",
				r.types.NameOf(exprType), r.types.NameOf(targetType)))
		}
		n.TypeID = targetType
		n.ScopeIndex = r.symbols.CurrentScopeIndex()
		return targetType
	case *ast.Unary:
		return r.resolveUnary(n)
	case *ast.Binary:
		return r.resolveBinary(n)
	case *ast.Ref:
		sub := r.resolveExpr(n.Expr)
		if sub == 0 {
			return 0
		}
		id := r.types.RegisterStructural("^"+r.types.NameOf(sub), types.KindPointer,
			[]types.Field{{TypeID: sub}})
		n.TypeID = id
		n.ScopeIndex = r.symbols.CurrentScopeIndex()
		return id
	case *ast.Deref:
		sub := r.resolveExpr(n.Expr)
		n.ScopeIndex = r.symbols.CurrentScopeIndex()
		switch {
		case r.types.Kind(sub) == types.KindPointer:
			n.TypeID = r.types.Parent(sub)
		case sub == types.Ptr:
			n.TypeID = types.U8
		default:
			if sub != 0 {
				r.errorAt(n, "Can only dereference a pointer.")
			}
			return 0
		}
		return n.TypeID
	case *ast.Subscript:
		return r.resolveSubscript(n)
	case *ast.Dot:
		return r.resolveDot(n)
	case *ast.Cast:
		return r.resolveCast(n)
	case *ast.Call:
		return r.resolveCall(n)
	case *ast.Initializer:
		for _, assignment := range n.Assignments {
			switch field := assignment.(type) {
			case *ast.Param:
				r.resolveExpr(field.Value)
			default:
				r.resolveExpr(assignment)
			}
		}
		n.TypeID = types.Initializer
		n.ScopeIndex = r.symbols.CurrentScopeIndex()
		return types.Initializer
	case *ast.Asm:
		n.TypeID = types.Void
		return types.Void
	}
	r.errorAt(node, "Expect expression.")
	return 0
}

func (r *Resolver) lookup(module, name string) symbols.Entry {
	if module != "" {
		scope := r.symbols.ScopeIndexByName(module)
		if scope < 0 {
			return symbols.Entry{}
		}
		return r.symbols.Get(scope, name)
	}
	entry := r.symbols.GetCurrent(name)
	if !entry.Defined() {
		entry = r.symbols.CheckBanks(name)
	}
	return entry
}

func (r *Resolver) resolveLiteral(n *ast.Literal) int {
	v := r.pool.Get(n.ConstIndex)
	typeID := typeOfKind(v.Kind())
	r.pool.SetType(n.ConstIndex, typeID)
	n.TypeID = typeID
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
	return typeID
}

func (r *Resolver) resolveUnary(n *ast.Unary) int {
	operand := r.resolveExpr(n.Expr)
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
	switch n.Op {
	case ast.OpNeg:
		if !isNumericType(operand) {
			r.errorAt(n, "Operand must be numerical.")
			return 0
		}
		n.TypeID = operand
	case ast.OpNot:
		n.TypeID = types.Bool
	case ast.OpBitwiseNot:
		if !isNumericType(operand) {
			r.errorAt(n, "Operand must be numerical.")
			return 0
		}
		n.TypeID = operand
	}
	return n.TypeID
}

func (r *Resolver) resolveBinary(n *ast.Binary) int {
	left := r.resolveExpr(n.Left)
	right := r.resolveExpr(n.Right)
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
	if left == 0 || right == 0 {
		return 0
	}

	switch n.Op {
	case ast.OpAdd, ast.OpSub, ast.OpMul, ast.OpDiv, ast.OpMod,
		ast.OpShiftLeft, ast.OpShiftRight,
		ast.OpBitwiseAnd, ast.OpBitwiseOr, ast.OpBitwiseXor:
		// Pointer offsets are ordinary arithmetic.
		if r.types.Kind(left) == types.KindPointer && isNumericType(right) {
			n.TypeID = left
			return left
		}
		if !isNumericType(left) || !isNumericType(right) {
			r.errorAt(n, "Operands must be numerical.")
			return 0
		}
		n.TypeID = widerType(left, right)
		return n.TypeID
	case ast.OpGreater, ast.OpLess, ast.OpGreaterEqual, ast.OpLessEqual:
		if !isNumericType(left) || !isNumericType(right) {
			r.errorAt(n, "Operands must be numerical.")
			return 0
		}
		n.TypeID = types.Bool
		return types.Bool
	case ast.OpEqual, ast.OpNotEqual:
		n.TypeID = types.Bool
		return types.Bool
	case ast.OpAnd, ast.OpOr:
		n.TypeID = types.Bool
		return types.Bool
	}
	return 0
}

func (r *Resolver) resolveSubscript(n *ast.Subscript) int {
	left := r.resolveExpr(n.Left)
	index := r.resolveExpr(n.Index)
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
	if index != 0 && !isNumericType(index) {
		r.errorAt(n, "Subscript index must be numerical.")
		return 0
	}
	switch {
	case r.types.Kind(left) == types.KindArray:
		n.TypeID = r.types.Parent(left)
	case r.types.Kind(left) == types.KindPointer:
		n.TypeID = r.types.Parent(left)
	case left == types.String:
		n.TypeID = types.Char
	case left == types.Ptr:
		n.TypeID = types.U8
	default:
		if left != 0 {
			r.errorAt(n, "Only arrays and pointers can be subscripted.")
		}
		return 0
	}
	if n.IsLValue {
		n.Left.Base().IsLValue = true
	}
	return n.TypeID
}

func (r *Resolver) resolveDot(n *ast.Dot) int {
	left := r.resolveExpr(n.Left)
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
	entry := r.types.Get(left)
	if entry.Kind == types.KindPointer {
		entry = r.types.Get(r.types.Parent(left))
	}
	if entry.Kind != types.KindRecord && entry.Kind != types.KindUnion {
		if left != 0 {
			r.errorAt(n, "Only records have fields.")
		}
		return 0
	}
	for _, field := range entry.Fields {
		if field.Name == n.Field {
			n.TypeID = field.TypeID
			return field.TypeID
		}
	}
	r.errorAt(n, fmt.Sprintf("Field '%s' does not exist on type '%s'.", n.Field, entry.Name))
	return 0
}

func (r *Resolver) resolveCast(n *ast.Cast) int {
	exprType := r.resolveExpr(n.Expr)
	target := r.resolveType(n.Type, r.moduleName())
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
	if exprType == 0 || target == 0 {
		return 0
	}
	legal := (isNumericType(exprType) || exprType == types.Ptr || r.types.Kind(exprType) == types.KindPointer) &&
		(isNumericType(target) || target == types.Ptr || r.types.Kind(target) == types.KindPointer)
	if !legal {
		r.errorAt(n, fmt.Sprintf("Cannot cast '%s' to '%s'.",
			r.types.NameOf(exprType), r.types.NameOf(target)))
		return 0
	}
	// Literal casts are folded so range checks use the final type.
	if lit, ok := n.Expr.(*ast.Literal); ok {
		v := r.pool.Get(lit.ConstIndex)
		if v.IsNumeric() && isNumericType(target) {
			r.pool.Replace(lit.ConstIndex, value.TypedNumber(kindOfType(target), v.Number()))
			r.pool.SetType(lit.ConstIndex, target)
		}
	}
	n.TypeID = target
	return target
}

func (r *Resolver) resolveCall(n *ast.Call) int {
	calleeType := r.resolveExpr(n.Callee)
	n.ScopeIndex = r.symbols.CurrentScopeIndex()
	if calleeType == 0 {
		return 0
	}
	if r.types.Kind(calleeType) != types.KindFunction {
		r.errorAt(n, "Can only call functions.")
		return 0
	}
	params := r.types.ParamTypes(calleeType)
	if len(params) != len(n.Args) {
		r.errorAt(n, fmt.Sprintf("Expected %d arguments but got %d.", len(params), len(n.Args)))
		return 0
	}
	for i, arg := range n.Args {
		argType := r.resolveExpr(arg)
		if argType != 0 && !r.assignable(params[i], argType, arg) {
			r.errorAt(arg, fmt.Sprintf("Argument %d: cannot pass '%s' as '%s'.",
				i+1, r.types.NameOf(argType), r.types.NameOf(params[i])))
		}
	}
	n.TypeID = r.types.ReturnType(calleeType)
	return n.TypeID
}

// --- Coercion ---

func isNumericType(id int) bool {
	switch id {
	case types.Bool, types.U8, types.I8, types.U16, types.I16, types.Number, types.Char, types.Ptr:
		return true
	}
	return false
}

func numericRank(id int) int {
	switch id {
	case types.Bool:
		return 0
	case types.U8, types.I8, types.Char:
		return 1
	case types.U16, types.I16, types.Ptr:
		return 2
	case types.Number:
		return 3
	}
	return -1
}

func widerType(left, right int) int {
	if left == types.Number {
		return right
	}
	if right == types.Number {
		return left
	}
	if numericRank(left) >= numericRank(right) {
		return left
	}
	return right
}

func typeOfKind(k value.Kind) int {
	switch k {
	case value.KindBool:
		return types.Bool
	case value.KindChar:
		return types.Char
	case value.KindU8:
		return types.U8
	case value.KindI8:
		return types.I8
	case value.KindU16:
		return types.U16
	case value.KindI16:
		return types.I16
	case value.KindPtr:
		return types.Ptr
	case value.KindLitNum:
		return types.Number
	case value.KindString:
		return types.String
	}
	return 0
}

func kindOfType(id int) value.Kind {
	switch id {
	case types.Bool:
		return value.KindBool
	case types.Char:
		return value.KindChar
	case types.U8:
		return value.KindU8
	case types.I8:
		return value.KindI8
	case types.U16:
		return value.KindU16
	case types.I16:
		return value.KindI16
	case types.Ptr:
		return value.KindPtr
	}
	return value.KindLitNum
}

// assignable implements the numeric coercion ladder: bool < u8, i8 < u16,
// i16 < number. Unsized literals narrow to any numeric type their value
// fits; like-sized signed/unsigned conversions need an explicit cast.
func (r *Resolver) assignable(dst, src int, srcNode ast.Node) bool {
	if dst == src {
		return true
	}

	// Initializer literals type-check against the composite target.
	if src == types.Initializer {
		if init, ok := srcNode.(*ast.Initializer); ok {
			return r.checkInitializer(dst, init)
		}
		return false
	}

	if src == types.Number && isNumericType(dst) {
		// An unsized literal expression narrows only when its folded value
		// fits the target. Expressions the evaluator cannot fold (they
		// mention runtime variables) narrow unchecked.
		folded := r.eval.Eval(srcNode, r.env)
		if !folded.IsError() && folded.IsNumeric() {
			if !value.FitsKind(kindOfType(dst), folded.Number()) {
				r.errorAt(srcNode, fmt.Sprintf("Literal %d does not fit in type '%s'.",
					folded.Number(), r.types.NameOf(dst)))
				return false
			}
			if lit, ok := srcNode.(*ast.Literal); ok {
				r.pool.Replace(lit.ConstIndex, value.TypedNumber(kindOfType(dst), folded.Number()))
				r.pool.SetType(lit.ConstIndex, dst)
				lit.TypeID = dst
			}
		}
		return true
	}

	if isNumericType(dst) && isNumericType(src) {
		return numericRank(dst) > numericRank(src)
	}

	// The generic ptr primitive accepts any pointer.
	if dst == types.Ptr && r.types.Kind(src) == types.KindPointer {
		return true
	}
	if r.types.Kind(dst) == types.KindPointer && src == types.Ptr {
		return true
	}

	return false
}

func (r *Resolver) checkInitializer(target int, init *ast.Initializer) bool {
	entry := r.types.Get(target)
	switch entry.Kind {
	case types.KindArray:
		if init.Kind != ast.InitArray {
			r.errorAt(init, "Expected an array initializer.")
			return false
		}
		element := r.types.Parent(target)
		count := 0
		if len(entry.Fields) > 0 {
			count = entry.Fields[0].ElementCount
		}
		if count > 0 && len(init.Assignments) > count {
			r.errorAt(init, fmt.Sprintf("Too many elements: array holds %d.", count))
			return false
		}
		for _, elementNode := range init.Assignments {
			elementType := elementNode.Base().TypeID
			if elementType != 0 && !r.assignable(element, elementType, elementNode) {
				return false
			}
		}
		init.TypeID = target
		return true
	case types.KindRecord:
		if init.Kind != ast.InitRecord {
			r.errorAt(init, "Expected a record initializer.")
			return false
		}
		for _, assignment := range init.Assignments {
			field := assignment.(*ast.Param)
			found := false
			for _, tf := range entry.Fields {
				if tf.Name == field.Name {
					found = true
					fieldType := field.Value.Base().TypeID
					if fieldType != 0 && !r.assignable(tf.TypeID, fieldType, field.Value) {
						return false
					}
					break
				}
			}
			if !found {
				r.errorAt(field, fmt.Sprintf("Field '%s' does not exist on type '%s'.",
					field.Name, entry.Name))
				return false
			}
		}
		init.TypeID = target
		return true
	}
	r.errorAt(init, "Initializer literals require an array or record target.")
	return false
}
