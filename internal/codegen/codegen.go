// Package codegen walks a TAC program and drives a platform back end to
// produce assembly. Temporaries map onto the platform's scratch registers;
// a temporary's register is released when its last use is emitted.
package codegen

import (
	"github.com/pkg/errors"

	"fang/internal/constpool"
	"fang/internal/platform"
	"fang/internal/symbols"
	"fang/internal/tac"
	"fang/internal/types"
	"fang/internal/value"
)

type Generator struct {
	platform platform.Platform
	symbols  *symbols.Table
	types    *types.Table
	pool     *constpool.Pool

	labelMap map[int]int
	tempReg  map[int]int
	tempUses map[int]int
	fnName   string
	entry    bool
}

func New(p platform.Platform, tt *types.Table, st *symbols.Table, pool *constpool.Pool) *Generator {
	return &Generator{
		platform: p,
		symbols:  st,
		types:    tt,
		pool:     pool,
	}
}

// Generate emits the whole program: preamble with interned strings, the
// startup path (module-level code, then main when present), every function,
// and finally the data image.
func (g *Generator) Generate(program *tac.Program, hasMain bool) error {
	p := g.platform
	p.Preamble(g.pool)

	for _, section := range program.Sections {
		for _, fn := range section.Functions {
			if fn.Entry {
				g.function(fn)
			}
		}
	}
	if hasMain {
		p.CallFunction("main")
		p.SimpleExit()
	}

	for _, section := range program.Sections {
		if section.Annotation != "" {
			p.Comment("bank " + section.Name + " " + section.Annotation)
		}
		for _, fn := range section.Functions {
			if !fn.Entry {
				g.function(fn)
			}
		}
	}

	for _, section := range program.Sections {
		for _, data := range section.Data {
			g.global(data)
		}
	}

	if err := p.Complete(); err != nil {
		return errors.Wrap(err, "code generation failed")
	}
	return nil
}

func (g *Generator) global(data tac.Data) {
	elemSize := data.Size
	count := 1
	if data.Count > 0 {
		count = data.Count
		elemSize = g.types.SizeOf(g.types.Parent(data.Type))
	}
	if data.ConstIndex < 0 {
		g.platform.Global(data.Module, data.Name, elemSize, count, nil)
		return
	}
	v := g.pool.Get(data.ConstIndex)
	switch v.Kind() {
	case value.KindString:
		g.platform.GlobalString(data.Module, data.Name, data.ConstIndex)
	case value.KindArray:
		values := make([]int64, 0, len(v.Elements()))
		for _, e := range v.Elements() {
			values = append(values, e.Number())
		}
		g.platform.Global(data.Module, data.Name, elemSize, count, values)
	default:
		g.platform.Global(data.Module, data.Name, elemSize, count, []int64{v.Number()})
	}
}

func (g *Generator) function(fn *tac.Function) {
	p := g.platform
	g.labelMap = map[int]int{}
	g.tempReg = map[int]int{}
	g.tempUses = map[int]int{}
	g.fnName = fn.Name
	g.entry = fn.Entry
	p.FreeAllRegisters()

	// Count temporary uses so registers release at last use.
	for _, b := range fn.Blocks() {
		for _, i := range b.Instrs() {
			g.countUses(i.A)
			g.countUses(i.B)
			for _, a := range i.Args {
				g.countUses(a)
			}
		}
	}

	if !fn.Entry {
		frame := g.symbols.Scope(fn.Scope).TableAllocationSize
		p.FunctionPrologue(fn.Name, frame)
	}

	for _, b := range fn.Blocks() {
		for _, i := range b.Instrs() {
			g.instr(i)
		}
	}

	if !fn.Entry {
		// Fall off the end: a void return.
		p.Return(fn.Name, -1)
		p.FunctionEpilogue(fn.Name)
	}
}

func (g *Generator) countUses(op tac.Operand) {
	if op.Kind == tac.OperandTemporary {
		g.tempUses[op.N]++
	}
}

func (g *Generator) mapLabel(n int) int {
	if l, ok := g.labelMap[n]; ok {
		return l
	}
	l := g.platform.LabelCreate()
	g.labelMap[n] = l
	return l
}

// use materializes an operand in a register and decrements temporary use
// counts. The caller reports whether the platform op freed the register via
// release.
func (g *Generator) use(op tac.Operand) int {
	switch op.Kind {
	case tac.OperandLiteral:
		if op.Value.Kind() == value.KindString && op.ConstIndex >= 0 {
			return g.platform.LoadConstAddr(op.ConstIndex)
		}
		return g.platform.LoadImmediate(op.Value.Number())
	case tac.OperandVariable:
		entry := g.symbols.Get(op.Scope, op.Name)
		return g.platform.LoadIdentifier(entry)
	case tac.OperandTemporary:
		r := g.tempReg[op.N]
		g.tempUses[op.N]--
		if g.tempUses[op.N] <= 0 {
			delete(g.tempReg, op.N)
		}
		return r
	}
	return g.platform.LoadImmediate(0)
}

// consumed reports whether a temporary operand has no remaining uses.
func (g *Generator) consumed(op tac.Operand) bool {
	if op.Kind != tac.OperandTemporary {
		return true
	}
	return g.tempUses[op.N] <= 0
}

// release frees a register that the platform op left alive, unless a live
// temporary still owns it.
func (g *Generator) release(op tac.Operand, r int) {
	if g.consumed(op) {
		g.platform.FreeRegister(r)
	}
}

// define binds a destination temporary, freeing the result immediately when
// nothing ever reads it (expression statements).
func (g *Generator) define(dst tac.Operand, r int) {
	if dst.Kind != tac.OperandTemporary {
		return
	}
	if g.tempUses[dst.N] <= 0 {
		g.platform.FreeRegister(r)
		return
	}
	g.tempReg[dst.N] = r
}

func (g *Generator) entryOf(op tac.Operand) symbols.Entry {
	return g.symbols.Get(op.Scope, op.Name)
}

func (g *Generator) arrayBytes(entry symbols.Entry) int {
	if entry.ElementCount == 0 {
		return 0
	}
	return g.types.SizeOf(g.types.Parent(entry.TypeID)) * entry.ElementCount
}

// spilledArray reports an automatic array local too large for its 16-byte
// frame slot; those get an AllocStack block with the pointer in the slot.
func (g *Generator) spilledArray(entry symbols.Entry) bool {
	if entry.Storage != symbols.StorageAuto {
		return false
	}
	return g.arrayBytes(entry) > 16
}

// initArray reserves storage for an array local declaration.
func (g *Generator) initArray(dst tac.Operand) {
	entry := g.entryOf(dst)
	if !g.spilledArray(entry) {
		// Small arrays live inside the frame slot itself.
		return
	}
	r := g.platform.LoadImmediate(int64(g.arrayBytes(entry)))
	r = g.platform.AllocStack(r)
	g.platform.InitSymbol(entry, r)
	g.platform.FreeRegister(r)
}

func (g *Generator) instr(i *tac.Instr) {
	p := g.platform
	switch i.Tag {
	case tac.TagError, tac.TagPhi:
		// Nothing to emit.
	case tac.TagLabel:
		p.Label(g.mapLabel(i.A.N))
	case tac.TagGoto:
		p.Jump(g.mapLabel(i.A.N))
	case tac.TagIfFalse:
		r := g.use(i.A)
		p.CmpJumpIfZero(r, g.mapLabel(i.B.N))
		g.release(i.A, r)
	case tac.TagIfTrue:
		r := g.use(i.A)
		p.CmpJumpIfNotZero(r, g.mapLabel(i.B.N))
		g.release(i.A, r)
	case tac.TagInit:
		if i.A.Kind == tac.OperandNone {
			g.initArray(i.Dst)
			return
		}
		r := g.use(i.A)
		p.InitSymbol(g.entryOf(i.Dst), r)
		g.release(i.A, r)
	case tac.TagAsm:
		for _, line := range i.Raw {
			p.Raw(line)
		}
	case tac.TagReturn:
		g.ret(i)
	case tac.TagCall:
		g.call(i)
	case tac.TagCopy:
		g.copy(i)
	}
}

func (g *Generator) ret(i *tac.Instr) {
	p := g.platform
	if g.entry {
		if i.A.Kind == tac.OperandNone {
			p.SimpleExit()
			return
		}
		r := g.use(i.A)
		p.Exit(r)
		return
	}
	if i.A.Kind == tac.OperandNone {
		p.Return(g.fnName, -1)
		return
	}
	r := g.use(i.A)
	p.Return(g.fnName, r)
}

func (g *Generator) call(i *tac.Instr) {
	p := g.platform
	args := make([]int, 0, len(i.Args))
	for _, a := range i.Args {
		args = append(args, g.use(a))
	}
	callee := g.use(i.A)
	result := p.Call(callee, args)
	g.define(i.Dst, result)
}

func (g *Generator) copy(i *tac.Instr) {
	p := g.platform
	switch i.Op {
	case tac.OpNone:
		g.plainCopy(i)
	case tac.OpStore:
		addr := g.use(i.A)
		rval := g.use(i.B)
		p.AssignIndirect(addr, rval)
		g.release(i.B, rval)
	case tac.OpAddrOf:
		entry := g.entryOf(i.A)
		var r int
		if g.spilledArray(entry) {
			// Oversized array locals live in an AllocStack block; the
			// frame slot holds the block pointer.
			r = p.LoadIdentifier(entry)
		} else {
			r = p.LoadIdentifierAddr(entry)
		}
		g.define(i.Dst, r)
	case tac.OpLoad:
		r := g.use(i.A)
		g.define(i.Dst, p.Deref(r))
	case tac.OpIndexAddr:
		base := g.use(i.A)
		index := g.use(i.B)
		g.define(i.Dst, p.IndexAddr(base, index))
	case tac.OpIndexRead:
		base := g.use(i.A)
		index := g.use(i.B)
		g.define(i.Dst, p.IndexRead(base, index))
	case tac.OpNeg:
		g.define(i.Dst, p.Neg(g.use(i.A)))
	case tac.OpNot:
		g.define(i.Dst, p.LogicalNot(g.use(i.A)))
	case tac.OpBitwiseNot:
		g.define(i.Dst, p.BitwiseNot(g.use(i.A)))
	default:
		g.binary(i)
	}
}

func (g *Generator) plainCopy(i *tac.Instr) {
	p := g.platform
	if i.Dst.Kind == tac.OperandVariable {
		r := g.use(i.A)
		p.InitSymbol(g.entryOf(i.Dst), r)
		g.release(i.A, r)
		return
	}
	// Copy into a temporary. A re-copy (short-circuit joins) moves into
	// the existing register; a fresh temporary adopts the source register
	// when it can.
	if existing, ok := g.tempReg[i.Dst.N]; ok {
		src := g.use(i.A)
		if src != existing {
			p.Move(existing, src)
		}
		return
	}
	if i.A.Kind == tac.OperandTemporary {
		r := g.use(i.A)
		g.define(i.Dst, r)
		return
	}
	g.define(i.Dst, g.use(i.A))
}

func (g *Generator) binary(i *tac.Instr) {
	p := g.platform
	l := g.use(i.A)
	r := g.use(i.B)
	var result int
	switch i.Op {
	case tac.OpAdd:
		result = p.Add(l, r)
	case tac.OpSub:
		result = p.Sub(l, r)
	case tac.OpMul:
		result = p.Mul(l, r)
	case tac.OpDiv:
		result = p.Div(l, r)
	case tac.OpMod:
		result = p.Mod(l, r)
	case tac.OpShiftLeft:
		result = p.ShiftLeft(l, r)
	case tac.OpShiftRight:
		result = p.ShiftRight(l, r)
	case tac.OpBitwiseAnd:
		result = p.BitwiseAnd(l, r)
	case tac.OpBitwiseOr:
		result = p.BitwiseOr(l, r)
	case tac.OpBitwiseXor:
		result = p.BitwiseXor(l, r)
	case tac.OpLess:
		result = p.Less(l, r)
	case tac.OpGreater:
		result = p.Greater(l, r)
	case tac.OpLessEqual:
		result = p.LessEqual(l, r)
	case tac.OpGreaterEqual:
		result = p.GreaterEqual(l, r)
	case tac.OpEqual:
		result = p.Equal(l, r)
	case tac.OpNotEqual:
		result = p.NotEqual(l, r)
	default:
		result = l
		p.FreeRegister(r)
	}
	g.define(i.Dst, result)
}
