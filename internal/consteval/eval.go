package consteval

import (
	"fang/internal/ast"
	"fang/internal/constpool"
	"fang/internal/value"
)

// Error codes carried by error values out of the evaluator.
const (
	ErrImpure       = 1
	ErrUndefined    = 2
	ErrDivByZero    = 3
	ErrRedefinition = 4
)

// Evaluator interprets the pure subset of the tree at compile time: numeric
// arithmetic, comparisons, logic, bitwise operators, constant identifiers,
// and array/record initializers. Calls, asm blocks, and anything
// side-effectful yield an error value.
type Evaluator struct {
	pool *constpool.Pool
}

func New(pool *constpool.Pool) *Evaluator {
	return &Evaluator{pool: pool}
}

func (e *Evaluator) Eval(node ast.Node, env *Environment) value.Value {
	if node == nil {
		return value.U8(0)
	}
	switch n := node.(type) {
	case *ast.Error:
		return value.Error(ErrImpure)
	case *ast.Main:
		var r value.Value
		for _, m := range n.Modules {
			scope := env.BeginScope()
			r = e.Eval(m, scope)
			if r.IsError() {
				return r
			}
		}
		return r
	case *ast.Module:
		var r value.Value
		scope := env.BeginScope()
		for _, decl := range n.Decls {
			switch decl.(type) {
			case *ast.Fn, *ast.Asm, *ast.Bank, *ast.Ext, *ast.Import:
				continue
			}
			r = e.Eval(decl, scope)
			if r.IsError() {
				return r
			}
		}
		return r
	case *ast.Block:
		var r value.Value
		scope := env.BeginScope()
		for _, decl := range n.Stmts {
			r = e.Eval(decl, scope)
			if r.IsError() {
				return r
			}
		}
		return r
	case *ast.Return:
		return e.Eval(n.Expr, env)
	case *ast.Exit:
		return e.Eval(n.Expr, env)
	case *ast.Asm:
		return value.Error(ErrImpure)
	case *ast.Call:
		return value.Error(ErrImpure)
	case *ast.Literal:
		return e.pool.Get(n.ConstIndex)
	case *ast.Identifier:
		return env.Get(n.Name)
	case *ast.LValue:
		return value.String(n.Name)
	case *ast.Unary:
		return e.unary(n, env)
	case *ast.Binary:
		return e.binary(n, env)
	case *ast.Cast:
		return e.Eval(n.Expr, env)
	case *ast.Ref, *ast.Deref:
		return value.Error(ErrImpure)
	case *ast.Subscript:
		left := e.Eval(n.Left, env)
		if left.IsError() {
			return left
		}
		index := e.Eval(n.Index, env)
		if index.IsError() {
			return index
		}
		if left.Kind() == value.KindArray && index.IsNumeric() {
			elements := left.Elements()
			i := index.Number()
			if i >= 0 && int(i) < len(elements) {
				return elements[i]
			}
		}
		return value.Error(ErrImpure)
	case *ast.Initializer:
		return e.initializer(n, env)
	case *ast.ConstDecl:
		expr := e.Eval(n.Expr, env)
		if expr.IsError() {
			return expr
		}
		if !env.Define(n.Name, expr, true) {
			return value.Error(ErrRedefinition)
		}
		return value.Undef()
	case *ast.VarDecl:
		env.Define(n.Name, value.Undef(), false)
		return value.Undef()
	case *ast.VarInit:
		expr := e.Eval(n.Expr, env)
		if expr.IsError() {
			return expr
		}
		env.Define(n.Name, expr, false)
		return expr
	case *ast.Assignment:
		target := e.Eval(n.Target, env)
		if target.Kind() != value.KindString {
			return value.Error(ErrImpure)
		}
		expr := e.Eval(n.Expr, env)
		if expr.IsError() {
			return expr
		}
		if !env.Assign(target.Str(), expr) {
			return value.Error(ErrUndefined)
		}
		return expr
	case *ast.If:
		cond := e.Eval(n.Cond, env)
		if cond.IsError() {
			return cond
		}
		scope := env.BeginScope()
		if cond.IsTruthy() {
			return e.Eval(n.Then, scope)
		}
		if n.Else != nil {
			return e.Eval(n.Else, scope)
		}
		return value.Undef()
	case *ast.While:
		var result value.Value = value.Undef()
		for {
			cond := e.Eval(n.Cond, env)
			if cond.IsError() {
				return cond
			}
			if !cond.IsTruthy() {
				break
			}
			scope := env.BeginScope()
			result = e.Eval(n.Body, scope)
			if result.IsError() {
				return result
			}
		}
		return result
	case *ast.For:
		var result value.Value = value.Undef()
		forEnv := env.BeginScope()
		if r := e.Eval(n.Init, forEnv); r.IsError() {
			return r
		}
		for {
			cond := value.Bool(true)
			if n.Cond != nil {
				cond = e.Eval(n.Cond, forEnv)
				if cond.IsError() {
					return cond
				}
			}
			if !cond.IsTruthy() {
				break
			}
			scope := forEnv.BeginScope()
			result = e.Eval(n.Body, scope)
			if result.IsError() {
				return result
			}
			if r := e.Eval(n.Inc, forEnv); r.IsError() {
				return r
			}
		}
		return result
	case *ast.TypeName, *ast.TypePtr, *ast.TypeFn:
		return value.Undef()
	case *ast.TypeArray:
		return e.Eval(n.Length, env)
	default:
		return value.Error(ErrImpure)
	}
}

func (e *Evaluator) initializer(n *ast.Initializer, env *Environment) value.Value {
	if n.Kind == ast.InitArray {
		values := make([]value.Value, 0, len(n.Assignments))
		for _, element := range n.Assignments {
			v := e.Eval(element, env)
			if v.IsError() {
				return v
			}
			values = append(values, v)
		}
		return value.Array(values)
	}
	names := make([]string, 0, len(n.Assignments))
	values := make([]value.Value, 0, len(n.Assignments))
	for _, assignment := range n.Assignments {
		field := assignment.(*ast.Param)
		v := e.Eval(field.Value, env)
		if v.IsError() {
			return v
		}
		names = append(names, field.Name)
		values = append(values, v)
	}
	return value.Record(n.TypeID, names, values)
}

func (e *Evaluator) unary(n *ast.Unary, env *Environment) value.Value {
	v := e.Eval(n.Expr, env)
	if v.IsError() {
		return v
	}
	switch n.Op {
	case ast.OpNeg:
		if v.IsNumeric() {
			return value.Numerical(-v.Number())
		}
	case ast.OpNot:
		return value.Bool(!v.IsTruthy())
	case ast.OpBitwiseNot:
		if v.IsNumeric() {
			return value.TypedNumber(v.Kind(), ^v.Number())
		}
	}
	return value.Error(ErrImpure)
}

func (e *Evaluator) binary(n *ast.Binary, env *Environment) value.Value {
	left := e.Eval(n.Left, env)
	if left.IsError() {
		return left
	}
	right := e.Eval(n.Right, env)
	if right.IsError() {
		return right
	}

	bothNumeric := left.IsNumeric() && right.IsNumeric()
	switch n.Op {
	case ast.OpAdd:
		if bothNumeric {
			return typed(left, left.Number()+right.Number())
		}
	case ast.OpSub:
		if bothNumeric {
			return typed(left, left.Number()-right.Number())
		}
	case ast.OpMul:
		if bothNumeric {
			return typed(left, left.Number()*right.Number())
		}
	case ast.OpDiv:
		if bothNumeric {
			if right.Number() == 0 {
				return value.Error(ErrDivByZero)
			}
			return typed(left, left.Number()/right.Number())
		}
	case ast.OpMod:
		if bothNumeric {
			if right.Number() == 0 {
				return value.Error(ErrDivByZero)
			}
			return typed(left, left.Number()%right.Number())
		}
	case ast.OpGreater:
		if bothNumeric {
			return value.Bool(left.Number() > right.Number())
		}
	case ast.OpLess:
		if bothNumeric {
			return value.Bool(left.Number() < right.Number())
		}
	case ast.OpGreaterEqual:
		if bothNumeric {
			return value.Bool(left.Number() >= right.Number())
		}
	case ast.OpLessEqual:
		if bothNumeric {
			return value.Bool(left.Number() <= right.Number())
		}
	case ast.OpEqual:
		return value.Bool(value.Equal(left, right))
	case ast.OpNotEqual:
		return value.Bool(!value.Equal(left, right))
	case ast.OpOr:
		return value.Bool(left.IsTruthy() || right.IsTruthy())
	case ast.OpAnd:
		return value.Bool(left.IsTruthy() && right.IsTruthy())
	case ast.OpShiftLeft:
		if bothNumeric {
			return typed(left, left.Number()<<uint(right.Number()))
		}
	case ast.OpShiftRight:
		if bothNumeric {
			return typed(left, left.Number()>>uint(right.Number()))
		}
	case ast.OpBitwiseOr:
		if bothNumeric {
			return typed(left, left.Number()|right.Number())
		}
	case ast.OpBitwiseAnd:
		if bothNumeric {
			return typed(left, left.Number()&right.Number())
		}
	case ast.OpBitwiseXor:
		if bothNumeric {
			return typed(left, left.Number()^right.Number())
		}
	}
	return value.Error(ErrImpure)
}

// typed preserves the left operand's width so folding wraps the way the
// target would.
func typed(left value.Value, n int64) value.Value {
	return value.TypedNumber(left.Kind(), n)
}
