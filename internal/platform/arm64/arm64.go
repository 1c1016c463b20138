// Package arm64 is the Apple-ARM64 back end: GNU-as compatible assembly for
// the Mach-O toolchain, a four-register scratch pool, and a 16-byte-slot
// stack frame convention.
package arm64

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"fang/internal/constpool"
	"fang/internal/platform"
	"fang/internal/symbols"
	"fang/internal/types"
	"fang/internal/value"
)

var regList = [4]string{"X8", "X9", "X10", "X11"}

func init() {
	platform.Register("apple_arm64", func(tt *types.Table, st *symbols.Table) platform.Platform {
		return New(tt, st)
	})
}

type Arm64 struct {
	types   *types.Table
	symbols *symbols.Table

	out     io.Writer
	free    [4]bool
	labelID int
	err     error
}

func New(tt *types.Table, st *symbols.Table) *Arm64 {
	return &Arm64{types: tt, symbols: st}
}

func (p *Arm64) Name() string { return "apple_arm64" }

func (p *Arm64) Init(out io.Writer) {
	p.out = out
	p.FreeAllRegisters()
}

func (p *Arm64) Complete() error {
	return p.err
}

func (p *Arm64) fail(message string) {
	if p.err == nil {
		p.err = errors.New(message)
	}
}

func (p *Arm64) emitf(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// --- Registers ---

func (p *Arm64) AllocRegister() int {
	for i := range p.free {
		if p.free[i] {
			p.free[i] = false
			return i
		}
	}
	p.fail("expression too complex: out of scratch registers")
	return 0
}

func (p *Arm64) FreeRegister(r int) {
	if r < 0 || r >= len(p.free) {
		return
	}
	if p.free[r] {
		p.fail("scratch register freed twice")
		return
	}
	p.free[r] = true
}

func (p *Arm64) FreeAllRegisters() {
	for i := range p.free {
		p.free[i] = true
	}
}

// --- Labels and branches ---

func (p *Arm64) LabelCreate() int {
	id := p.labelID
	p.labelID++
	return id
}

func label(l int) string {
	return fmt.Sprintf("L%d", l)
}

func (p *Arm64) Label(l int) {
	p.emitf("%s:", label(l))
}

func (p *Arm64) Jump(l int) {
	p.emitf("  B %s", label(l))
}

// The conditional branches leave the register alive; the code generator
// owns its lifetime (short-circuit results are branched on and used again).
func (p *Arm64) CmpJumpIfZero(r int, l int) {
	p.emitf("  CMP %s, #0", regList[r])
	p.emitf("  BEQ %s", label(l))
}

func (p *Arm64) CmpJumpIfNotZero(r int, l int) {
	p.emitf("  CMP %s, #0", regList[r])
	p.emitf("  BNE %s", label(l))
}

// --- Symbol addressing ---

func globalSymbol(module, name string) string {
	if module == "" {
		return "_fang_g_" + name
	}
	return "_fang_g_" + module + "_" + name
}

func functionSymbol(entry symbols.Entry) string {
	if entry.Storage == symbols.StorageExternal {
		return "_" + entry.Name
	}
	return "_fang_" + entry.Name
}

func (p *Arm64) isStatic(entry symbols.Entry) bool {
	kind := p.symbols.Scope(entry.ScopeIndex).Kind
	return kind == symbols.ScopeModule || kind == symbols.ScopeBank
}

// loadStaticAddr materializes a static object's address.
func (p *Arm64) loadStaticAddr(r int, entry symbols.Entry) {
	sym := globalSymbol(p.symbols.ModuleNameFrom(entry.ScopeIndex), entry.Name)
	p.emitf("  ADRP %s, %s@PAGE", regList[r], sym)
	p.emitf("  ADD %s, %s, %s@PAGEOFF", regList[r], regList[r], sym)
}

// --- Value movement ---

func (p *Arm64) LoadImmediate(n int64) int {
	r := p.AllocRegister()
	if n >= -65536 && n <= 0xFFFF {
		p.emitf("  MOV %s, #%d", regList[r], n)
	} else {
		p.emitf("  LDR %s, =%d", regList[r], n)
	}
	return r
}

func (p *Arm64) Move(dst, src int) {
	p.emitf("  MOV %s, %s", regList[dst], regList[src])
	p.FreeRegister(src)
}

func (p *Arm64) LoadIdentifier(entry symbols.Entry) int {
	r := p.AllocRegister()
	switch {
	case entry.Kind == symbols.SymbolFunction:
		p.emitf("  ADR %s, %s", regList[r], functionSymbol(entry))
	case entry.Storage == symbols.StorageExternal:
		sym := "_" + entry.Name
		p.emitf("  ADRP %s, %s@PAGE", regList[r], sym)
		p.emitf("  LDR %s, [%s, %s@PAGEOFF]", regList[r], regList[r], sym)
	case p.isStatic(entry):
		p.loadStaticAddr(r, entry)
		p.emitf("  LDR %s, [%s]", regList[r], regList[r])
	case entry.Kind == symbols.SymbolParameter:
		p.emitf("  LDR %s, [FP, #%d]", regList[r], (entry.ParamOrdinal+1)*16)
	default:
		offset := p.symbols.StackOrdinal(entry)
		p.emitf("  LDR %s, [FP, #%d]", regList[r], -offset*16)
	}
	return r
}

func (p *Arm64) LoadIdentifierAddr(entry symbols.Entry) int {
	r := p.AllocRegister()
	switch {
	case entry.Kind == symbols.SymbolFunction:
		p.emitf("  ADR %s, %s", regList[r], functionSymbol(entry))
	case p.isStatic(entry) || entry.Storage == symbols.StorageExternal:
		if entry.Storage == symbols.StorageExternal {
			sym := "_" + entry.Name
			p.emitf("  ADRP %s, %s@PAGE", regList[r], sym)
			p.emitf("  ADD %s, %s, %s@PAGEOFF", regList[r], regList[r], sym)
		} else {
			p.loadStaticAddr(r, entry)
		}
	case entry.Kind == symbols.SymbolParameter:
		p.emitf("  ADD %s, FP, #%d", regList[r], (entry.ParamOrdinal+1)*16)
	default:
		offset := p.symbols.StackOrdinal(entry)
		p.emitf("  ADD %s, FP, #%d", regList[r], -offset*16)
	}
	return r
}

func (p *Arm64) InitSymbol(entry symbols.Entry, rvalue int) {
	if p.isStatic(entry) || entry.Storage == symbols.StorageExternal {
		addr := p.AllocRegister()
		if entry.Storage == symbols.StorageExternal {
			sym := "_" + entry.Name
			p.emitf("  ADRP %s, %s@PAGE", regList[addr], sym)
			p.emitf("  ADD %s, %s, %s@PAGEOFF", regList[addr], regList[addr], sym)
		} else {
			p.loadStaticAddr(addr, entry)
		}
		p.emitf("  STR %s, [%s]", regList[rvalue], regList[addr])
		p.FreeRegister(addr)
		return
	}
	if entry.Kind == symbols.SymbolParameter {
		p.emitf("  STR %s, [FP, #%d]", regList[rvalue], (entry.ParamOrdinal+1)*16)
		return
	}
	offset := p.symbols.StackOrdinal(entry)
	p.emitf("  STR %s, [FP, #%d]", regList[rvalue], -offset*16)
}

func (p *Arm64) AssignIndirect(addr, rvalue int) int {
	p.emitf("  STR %s, [%s]", regList[rvalue], regList[addr])
	p.FreeRegister(addr)
	return rvalue
}

func (p *Arm64) Raw(line string) {
	p.emitf("  %s", line)
}

// --- Arithmetic ---

func (p *Arm64) Add(l, r int) int {
	p.emitf("  ADD %s, %s, %s", regList[l], regList[l], regList[r])
	p.FreeRegister(r)
	return l
}

func (p *Arm64) Sub(l, r int) int {
	p.emitf("  SUB %s, %s, %s", regList[l], regList[l], regList[r])
	p.FreeRegister(r)
	return l
}

func (p *Arm64) Mul(l, r int) int {
	p.emitf("  MUL %s, %s, %s", regList[l], regList[l], regList[r])
	p.FreeRegister(r)
	return l
}

func (p *Arm64) Div(l, r int) int {
	p.emitf("  SDIV %s, %s, %s", regList[l], regList[l], regList[r])
	p.FreeRegister(r)
	return l
}

func (p *Arm64) Mod(l, r int) int {
	scratch := p.AllocRegister()
	p.emitf("  UDIV %s, %s, %s", regList[scratch], regList[l], regList[r])
	p.emitf("  MSUB %s, %s, %s, %s", regList[l], regList[scratch], regList[r], regList[l])
	p.FreeRegister(scratch)
	p.FreeRegister(r)
	return l
}

func (p *Arm64) Neg(r int) int {
	p.emitf("  NEG %s, %s", regList[r], regList[r])
	return r
}

func (p *Arm64) LogicalNot(r int) int {
	p.emitf("  CMP %s, #0", regList[r])
	p.emitf("  CSET %s, eq", regList[r])
	p.emitf("  AND %s, %s, #0xFF", regList[r], regList[r])
	return r
}

func (p *Arm64) BitwiseAnd(l, r int) int {
	p.emitf("  AND %s, %s, %s", regList[l], regList[l], regList[r])
	p.FreeRegister(r)
	return l
}

func (p *Arm64) BitwiseOr(l, r int) int {
	p.emitf("  ORR %s, %s, %s", regList[l], regList[l], regList[r])
	p.FreeRegister(r)
	return l
}

func (p *Arm64) BitwiseXor(l, r int) int {
	p.emitf("  EOR %s, %s, %s", regList[l], regList[l], regList[r])
	p.FreeRegister(r)
	return l
}

func (p *Arm64) BitwiseNot(r int) int {
	p.emitf("  MVN %s, %s", regList[r], regList[r])
	return r
}

func (p *Arm64) ShiftLeft(l, r int) int {
	p.emitf("  LSL %s, %s, %s", regList[l], regList[l], regList[r])
	p.FreeRegister(r)
	return l
}

func (p *Arm64) ShiftRight(l, r int) int {
	p.emitf("  LSR %s, %s, %s", regList[l], regList[l], regList[r])
	p.FreeRegister(r)
	return l
}

// --- Comparisons ---

func (p *Arm64) compare(l, r int, cond string) int {
	p.emitf("  CMP %s, %s", regList[l], regList[r])
	p.FreeRegister(r)
	p.emitf("  CSET %s, %s", regList[l], cond)
	p.emitf("  AND %s, %s, #0xFF", regList[l], regList[l])
	return l
}

func (p *Arm64) Less(l, r int) int         { return p.compare(l, r, "lt") }
func (p *Arm64) Greater(l, r int) int      { return p.compare(l, r, "gt") }
func (p *Arm64) LessEqual(l, r int) int    { return p.compare(l, r, "le") }
func (p *Arm64) GreaterEqual(l, r int) int { return p.compare(l, r, "ge") }
func (p *Arm64) Equal(l, r int) int        { return p.compare(l, r, "eq") }
func (p *Arm64) NotEqual(l, r int) int     { return p.compare(l, r, "ne") }

// --- Memory ---

func (p *Arm64) AllocStack(r int) int {
	p.emitf("  ADD %s, %s, #15", regList[r], regList[r])
	p.emitf("  LSR %s, %s, #4", regList[r], regList[r])
	p.emitf("  LSL %s, %s, #4", regList[r], regList[r])
	p.emitf("  SUB SP, SP, %s", regList[r])
	p.emitf("  MOV %s, SP", regList[r])
	return r
}

func (p *Arm64) Ref(r int) int {
	return r
}

func (p *Arm64) Deref(r int) int {
	p.emitf("  LDR %s, [%s]", regList[r], regList[r])
	return r
}

func (p *Arm64) IndexAddr(base, index int) int {
	p.emitf("  ADD %s, %s, %s", regList[base], regList[base], regList[index])
	p.FreeRegister(index)
	return base
}

func (p *Arm64) IndexRead(base, index int) int {
	p.emitf("  LDR %s, [%s, %s]", regList[base], regList[base], regList[index])
	p.FreeRegister(index)
	return base
}

// --- Functions ---

func roundUp16(n int) int {
	return (n + 15) &^ 15
}

func (p *Arm64) FunctionPrologue(name string, frameSize int) {
	size := roundUp16(frameSize)
	p.emitf("")
	p.emitf("_fang_%s:", name)
	p.emitf("  PUSH2 LR, FP")
	p.emitf("  MOV FP, SP")
	p.emitf("  SUB SP, SP, #%d", size)
}

func (p *Arm64) FunctionEpilogue(name string) {
	p.emitf("")
	p.emitf("_fang_ep_%s:", name)
	p.emitf("  MOV SP, FP")
	p.emitf("  POP2 LR, FP")
	p.emitf("  RET")
}

func (p *Arm64) Return(name string, r int) {
	if r >= 0 {
		p.emitf("  MOV X0, %s", regList[r])
		p.FreeRegister(r)
	} else {
		p.emitf("  MOV X0, XZR")
	}
	p.emitf("  B _fang_ep_%s", name)
}

// Call pushes arguments right to left in 16-byte slots; the callee reads
// them back at fixed FP offsets. Live scratch registers are saved around
// the call.
func (p *Arm64) Call(callee int, args []int) int {
	var saved []int
	for i := range p.free {
		if p.free[i] || i == callee {
			continue
		}
		busy := false
		for _, a := range args {
			if a == i {
				busy = true
				break
			}
		}
		if !busy {
			p.emitf("  PUSH1 %s", regList[i])
			saved = append(saved, i)
		}
	}

	for i := len(args) - 1; i >= 0; i-- {
		p.emitf("  PUSH1 %s", regList[args[i]])
		p.FreeRegister(args[i])
	}
	p.emitf("  BLR %s", regList[callee])
	p.emitf("  MOV %s, X0", regList[callee])
	if len(args) > 0 {
		p.emitf("  ADD SP, SP, #%d", len(args)*16)
	}
	for i := len(saved) - 1; i >= 0; i-- {
		p.emitf("  POP1 %s", regList[saved[i]])
	}
	return callee
}

func (p *Arm64) CallFunction(name string) {
	p.emitf("  BL _fang_%s", name)
}

// --- Program shape ---

func (p *Arm64) Preamble(pool *constpool.Pool) {
	p.macros()

	bytes := 0
	for i := 0; i < pool.Len(); i++ {
		v := pool.Get(i)
		if v.Kind() != value.KindString {
			continue
		}
		if bytes%4 != 0 {
			p.emitf(".align %d", 4-bytes%4)
		}
		p.emitf("const_%d:", i)
		p.emitf(".byte %d", len(v.Str())%256)
		p.emitf(".asciz %q", v.Str())
		bytes += len(v.Str()) + 1
	}

	p.emitf(".global _start")
	p.emitf(".align 2")
	p.emitf("_start:")
	p.emitf("  MOV X28, #0")
	p.emitf("  MOV X0, #0")
}

func (p *Arm64) macros() {
	p.emitf(" .macro PUSH1 register")
	p.emitf("        STR \\register, [SP, #-16]!")
	p.emitf(" .endm")
	p.emitf(" .macro POP1 register")
	p.emitf("        LDR \\register, [SP], #16")
	p.emitf(" .endm")
	p.emitf(" .macro PUSH2 register1, register2")
	p.emitf("        STP \\register1, \\register2, [SP, #-16]!")
	p.emitf(" .endm")
	p.emitf(" .macro POP2 register1, register2")
	p.emitf("        LDP \\register1, \\register2, [SP], #16")
	p.emitf(" .endm")
}

// SimpleExit terminates with whatever X0 already holds.
func (p *Arm64) SimpleExit() {
	p.emitf("  MOV X16, #1")
	p.emitf("  SVC 0")
}

func (p *Arm64) Exit(r int) {
	p.emitf("  MOV X0, %s", regList[r])
	p.FreeRegister(r)
	p.emitf("  MOV X16, #1")
	p.emitf("  SVC 0")
}

func (p *Arm64) Comment(text string) {
	p.emitf("// %s", text)
}

func (p *Arm64) Global(module, name string, elemSize, count int, values []int64) {
	sym := globalSymbol(module, name)
	p.emitf(".align 3")
	p.emitf("%s:", sym)
	if values == nil {
		size := elemSize * count
		if size < 8 {
			size = 8
		}
		p.emitf(".space %d", size)
		return
	}
	directive := ".quad"
	switch elemSize {
	case 1:
		directive = ".byte"
	case 2:
		directive = ".hword"
	case 4:
		directive = ".word"
	}
	if count <= 1 && elemSize < 8 {
		// Scalars get a full slot so plain LDR/STR stay in bounds.
		directive = ".quad"
	}
	for _, v := range values {
		p.emitf("%s %d", directive, v)
	}
}

// GlobalString emits a static slot holding the address of an interned
// string constant.
func (p *Arm64) GlobalString(module, name string, constIndex int) {
	p.emitf(".align 3")
	p.emitf("%s:", globalSymbol(module, name))
	p.emitf(".quad const_%d", constIndex)
}

// LoadConstAddr materializes the address of an interned string constant.
func (p *Arm64) LoadConstAddr(constIndex int) int {
	r := p.AllocRegister()
	p.emitf("  ADR %s, const_%d", regList[r], constIndex)
	return r
}

// --- Layout queries ---

func (p *Arm64) SizeOf(typeID int) int {
	return p.types.SizeOf(typeID)
}

func (p *Arm64) ElementType(typeID int) int {
	return p.types.Parent(typeID)
}
