// Package printer renders a tree back to source text. Parsing the output
// of a resolved tree yields a structurally equivalent tree.
package printer

import (
	"fmt"
	"strings"

	"fang/internal/ast"
	"fang/internal/constpool"
	"fang/internal/value"
)

type Printer struct {
	pool      *constpool.Pool
	indent    int
	indentStr string
	output    strings.Builder
}

func New(pool *constpool.Pool) *Printer {
	return &Printer{
		pool:      pool,
		indentStr: "  ",
	}
}

// Print renders the whole tree, one module per blank-line-separated chunk.
func Print(main *ast.Main, pool *constpool.Pool) string {
	p := New(pool)
	for i, m := range main.Modules {
		if i > 0 {
			p.output.WriteString("\n")
		}
		p.printNode(m)
	}
	return p.output.String()
}

// PrintNode renders a single subtree.
func PrintNode(node ast.Node, pool *constpool.Pool) string {
	p := New(pool)
	p.printNode(node)
	return p.output.String()
}

func (p *Printer) writeIndent() {
	for i := 0; i < p.indent; i++ {
		p.output.WriteString(p.indentStr)
	}
}

func (p *Printer) write(format string, args ...interface{}) {
	fmt.Fprintf(&p.output, format, args...)
}

func (p *Printer) printNode(node ast.Node) {
	if node == nil {
		return
	}
	switch n := node.(type) {
	case *ast.Module:
		if n.Name != "" {
			p.write("module %s;\n\n", n.Name)
		}
		for _, decl := range n.Decls {
			p.printDecl(decl)
		}
	case *ast.Main:
		for _, m := range n.Modules {
			p.printNode(m)
		}
	default:
		p.printDecl(node)
	}
}

func (p *Printer) printDecl(node ast.Node) {
	switch n := node.(type) {
	case *ast.Import:
		p.writeIndent()
		p.write("import %s;\n", n.Name)
	case *ast.TypeDecl:
		p.writeIndent()
		p.write("type %s {\n", n.Name)
		p.indent++
		for _, fieldNode := range n.Fields {
			field := fieldNode.(*ast.Param)
			p.writeIndent()
			p.write("%s: %s;\n", field.Name, p.typeString(field.Type))
		}
		p.indent--
		p.writeIndent()
		p.write("}\n")
	case *ast.Fn:
		p.writeIndent()
		p.write("fn %s(", n.Name)
		for i, paramNode := range n.Params {
			param := paramNode.(*ast.Param)
			if i > 0 {
				p.write(", ")
			}
			p.write("%s: %s", param.Name, p.typeString(param.Type))
		}
		p.write("): %s ", p.typeString(n.ReturnType))
		p.printBlock(n.Body)
		p.write("\n")
	case *ast.Ext:
		p.writeIndent()
		if n.Kind == ast.ExtFunction {
			fn := n.Type.(*ast.TypeFn)
			p.write("ext fn %s(", n.Name)
			for i, param := range fn.Params {
				if i > 0 {
					p.write(", ")
				}
				p.write("%s", p.typeString(param))
			}
			p.write("): %s;\n", p.typeString(fn.Return))
		} else {
			p.write("ext var %s: %s;\n", n.Name, p.typeString(n.Type))
		}
	case *ast.Bank:
		p.writeIndent()
		p.write("bank %s", n.Name)
		if n.Annotation != "" {
			p.write(" %q", n.Annotation)
		}
		p.write(" {\n")
		p.indent++
		for _, decl := range n.Decls {
			p.printDecl(decl)
		}
		p.indent--
		p.writeIndent()
		p.write("}\n")
	default:
		p.printStmt(node)
	}
}

func (p *Printer) printStmt(node ast.Node) {
	switch n := node.(type) {
	case *ast.VarDecl:
		p.writeIndent()
		p.write("var %s: %s;\n", n.Name, p.typeString(n.Type))
	case *ast.VarInit:
		p.writeIndent()
		p.write("var %s: %s = %s;\n", n.Name, p.typeString(n.Type), p.exprString(n.Expr))
	case *ast.ConstDecl:
		p.writeIndent()
		p.write("const %s: %s = %s;\n", n.Name, p.typeString(n.Type), p.exprString(n.Expr))
	case *ast.Block:
		p.writeIndent()
		p.printBlock(n)
		p.write("\n")
	case *ast.If:
		p.writeIndent()
		p.write("if (%s) ", p.exprString(n.Cond))
		p.printBody(n.Then)
		if n.Else != nil {
			p.write(" else ")
			p.printBody(n.Else)
		}
		p.write("\n")
	case *ast.While:
		p.writeIndent()
		p.write("while (%s) ", p.exprString(n.Cond))
		p.printBody(n.Body)
		p.write("\n")
	case *ast.For:
		p.writeIndent()
		p.write("for (")
		if n.Init != nil {
			p.write("%s", strings.TrimSuffix(strings.TrimSpace(PrintNode(n.Init, p.pool)), ";"))
		}
		p.write("; ")
		if n.Cond != nil {
			p.write("%s", p.exprString(n.Cond))
		}
		p.write("; ")
		if n.Inc != nil {
			p.write("%s", p.exprString(n.Inc))
		}
		p.write(") ")
		p.printBody(n.Body)
		p.write("\n")
	case *ast.Return:
		p.writeIndent()
		if n.Expr != nil {
			p.write("return %s;\n", p.exprString(n.Expr))
		} else {
			p.write("return;\n")
		}
	case *ast.Exit:
		p.writeIndent()
		if n.Expr != nil {
			p.write("return %s;\n", p.exprString(n.Expr))
		} else {
			p.write("return;\n")
		}
	case *ast.Asm:
		p.writeIndent()
		p.write("asm {\n")
		p.indent++
		for _, line := range n.Strings {
			p.writeIndent()
			p.write("%q\n", line)
		}
		p.indent--
		p.writeIndent()
		p.write("};\n")
	case *ast.Error:
		p.writeIndent()
		p.write("/* error */\n")
	default:
		p.writeIndent()
		p.write("%s;\n", p.exprString(node))
	}
}

func (p *Printer) printBlock(node ast.Node) {
	block, ok := node.(*ast.Block)
	if !ok {
		p.printBody(node)
		return
	}
	p.write("{\n")
	p.indent++
	for _, stmt := range block.Stmts {
		p.printDecl(stmt)
	}
	p.indent--
	p.writeIndent()
	p.write("}")
}

func (p *Printer) printBody(node ast.Node) {
	if block, ok := node.(*ast.Block); ok {
		p.printBlock(block)
		return
	}
	// A single-statement body renders inline as a block.
	p.write("{\n")
	p.indent++
	p.printDecl(node)
	p.indent--
	p.writeIndent()
	p.write("}")
}

func (p *Printer) typeString(node ast.Node) string {
	switch n := node.(type) {
	case *ast.TypeName:
		if n.Module != "" {
			return n.Module + "::" + n.Name
		}
		return n.Name
	case *ast.TypePtr:
		return "^" + p.typeString(n.Sub)
	case *ast.TypeArray:
		return "[" + p.exprString(n.Length) + "]" + p.typeString(n.Sub)
	case *ast.TypeFn:
		var sb strings.Builder
		sb.WriteString("fn (")
		for i, param := range n.Params {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(p.typeString(param))
		}
		sb.WriteString("): ")
		sb.WriteString(p.typeString(n.Return))
		return sb.String()
	}
	return "<type>"
}

func (p *Printer) exprString(node ast.Node) string {
	switch n := node.(type) {
	case *ast.Literal:
		return p.literalString(n)
	case *ast.Identifier:
		if n.Module != "" {
			return n.Module + "::" + n.Name
		}
		return n.Name
	case *ast.LValue:
		if n.Module != "" {
			return n.Module + "::" + n.Name
		}
		return n.Name
	case *ast.Unary:
		return n.Op.String() + p.exprString(n.Expr)
	case *ast.Binary:
		return fmt.Sprintf("(%s %s %s)", p.exprString(n.Left), n.Op, p.exprString(n.Right))
	case *ast.Ref:
		return "^" + p.exprString(n.Expr)
	case *ast.Deref:
		return "@" + p.exprString(n.Expr)
	case *ast.Dot:
		return p.exprString(n.Left) + "." + n.Field
	case *ast.Subscript:
		return p.exprString(n.Left) + "[" + p.exprString(n.Index) + "]"
	case *ast.Cast:
		return fmt.Sprintf("(%s as %s)", p.exprString(n.Expr), p.typeString(n.Type))
	case *ast.Call:
		var sb strings.Builder
		sb.WriteString(p.exprString(n.Callee))
		sb.WriteByte('(')
		for i, arg := range n.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(p.exprString(arg))
		}
		sb.WriteByte(')')
		return sb.String()
	case *ast.Assignment:
		return fmt.Sprintf("%s = %s", p.exprString(n.Target), p.exprString(n.Expr))
	case *ast.Initializer:
		if n.Kind == ast.InitArray {
			var sb strings.Builder
			sb.WriteByte('[')
			for i, element := range n.Assignments {
				if i > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(p.exprString(element))
			}
			sb.WriteByte(']')
			return sb.String()
		}
		var sb strings.Builder
		sb.WriteString("{ ")
		for _, assignment := range n.Assignments {
			field := assignment.(*ast.Param)
			sb.WriteString(field.Name)
			sb.WriteString(" = ")
			sb.WriteString(p.exprString(field.Value))
			sb.WriteString("; ")
		}
		sb.WriteByte('}')
		return sb.String()
	case *ast.Error:
		return "/* error */"
	}
	return "<expr>"
}

func (p *Printer) literalString(n *ast.Literal) string {
	v := p.pool.Get(n.ConstIndex)
	switch v.Kind() {
	case value.KindBool:
		if v.IsTruthy() {
			return "true"
		}
		return "false"
	case value.KindChar:
		return fmt.Sprintf("'%c'", byte(v.Number()))
	case value.KindString:
		return fmt.Sprintf("%q", v.Str())
	default:
		return fmt.Sprintf("%d", v.Number())
	}
}
