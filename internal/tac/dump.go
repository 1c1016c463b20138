package tac

import (
	"fmt"
	"strings"
)

func (o Operand) String() string {
	switch o.Kind {
	case OperandNone:
		return "_"
	case OperandError:
		return "<error>"
	case OperandLiteral:
		return o.Value.String()
	case OperandVariable:
		if o.Module != "" {
			return o.Module + "::" + o.Name
		}
		return o.Name
	case OperandTemporary:
		return fmt.Sprintf("t%d", o.N)
	case OperandLabel:
		return fmt.Sprintf("L%d", o.N)
	}
	return "?"
}

func (i *Instr) String() string {
	switch i.Tag {
	case TagError:
		return "error"
	case TagInit:
		if i.A.Kind == OperandNone {
			return fmt.Sprintf("init %s", i.Dst)
		}
		return fmt.Sprintf("init %s = %s", i.Dst, i.A)
	case TagCopy:
		switch {
		case i.Op == OpStore:
			return fmt.Sprintf("store [%s] = %s", i.A, i.B)
		case i.Op == OpNone && i.B.Kind == OperandNone:
			return fmt.Sprintf("%s = %s", i.Dst, i.A)
		case i.B.Kind == OperandNone:
			return fmt.Sprintf("%s = %s %s", i.Dst, i.Op, i.A)
		default:
			return fmt.Sprintf("%s = %s %s %s", i.Dst, i.A, i.Op, i.B)
		}
	case TagPhi:
		return fmt.Sprintf("%s = phi %s, %s", i.Dst, i.A, i.B)
	case TagIfFalse:
		return fmt.Sprintf("if_false %s goto %s", i.A, i.B)
	case TagIfTrue:
		return fmt.Sprintf("if_true %s goto %s", i.A, i.B)
	case TagGoto:
		return fmt.Sprintf("goto %s", i.A)
	case TagLabel:
		return fmt.Sprintf("%s:", i.A)
	case TagCall:
		args := make([]string, 0, len(i.Args))
		for _, a := range i.Args {
			args = append(args, a.String())
		}
		return fmt.Sprintf("%s = call %s(%s)", i.Dst, i.A, strings.Join(args, ", "))
	case TagReturn:
		if i.A.Kind == OperandNone {
			return "return"
		}
		return fmt.Sprintf("return %s", i.A)
	case TagAsm:
		return fmt.Sprintf("asm <%d lines>", len(i.Raw))
	}
	return "?"
}

// Dump renders the program for debugging output.
func (p *Program) Dump() string {
	var sb strings.Builder
	for _, s := range p.Sections {
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("%d", s.Index)
		}
		fmt.Fprintf(&sb, "section %s", name)
		if s.Annotation != "" {
			fmt.Fprintf(&sb, " %q", s.Annotation)
		}
		sb.WriteByte('\n')
		for _, d := range s.Data {
			class := "variable"
			if d.Constant {
				class = "constant"
			}
			name := d.Name
			if d.Module != "" {
				name = d.Module + "::" + d.Name
			}
			fmt.Fprintf(&sb, "  %s: %s (%d bytes)\n", name, class, d.Size)
		}
		for _, fn := range s.Functions {
			label := fn.Name
			if fn.Entry {
				label = "<entry>"
			}
			purity := "impure"
			if fn.Purity == PurityPure {
				purity = "pure"
			}
			fmt.Fprintf(&sb, "  fn %s [%s]\n", label, purity)
			for _, b := range fn.Blocks() {
				if b.Label >= 0 {
					fmt.Fprintf(&sb, "  L%d:\n", b.Label)
				}
				for _, i := range b.Instrs() {
					if i.Tag == TagLabel {
						continue
					}
					fmt.Fprintf(&sb, "    %s\n", i)
				}
			}
		}
	}
	return sb.String()
}
