package platform

import (
	"io"

	"github.com/pkg/errors"

	"fang/internal/constpool"
	"fang/internal/symbols"
	"fang/internal/types"
)

// Platform is the contract every back end implements. Register-valued
// operations take and return scratch register indices; a back end that runs
// out of scratch registers records a sticky error surfaced by Complete.
type Platform interface {
	Name() string

	// Lifecycle. Init binds the output stream and resets register state;
	// Complete reports any codegen error accumulated along the way.
	Init(out io.Writer)
	Complete() error

	// Scratch register pool.
	AllocRegister() int
	FreeRegister(r int)
	FreeAllRegisters()

	// Control flow.
	LabelCreate() int
	Label(l int)
	Jump(l int)
	CmpJumpIfZero(r int, l int)
	CmpJumpIfNotZero(r int, l int)

	// Value movement.
	LoadImmediate(n int64) int
	Move(dst, src int)
	LoadIdentifier(entry symbols.Entry) int
	LoadIdentifierAddr(entry symbols.Entry) int
	InitSymbol(entry symbols.Entry, rvalue int)
	AssignIndirect(addr, rvalue int) int
	Raw(line string)

	// Arithmetic and logic. Two-operand forms free the right register and
	// return the result register.
	Add(l, r int) int
	Sub(l, r int) int
	Mul(l, r int) int
	Div(l, r int) int
	Mod(l, r int) int
	Neg(r int) int
	LogicalNot(r int) int
	BitwiseAnd(l, r int) int
	BitwiseOr(l, r int) int
	BitwiseXor(l, r int) int
	BitwiseNot(r int) int
	ShiftLeft(l, r int) int
	ShiftRight(l, r int) int

	// Comparisons produce 0/1 in the result register.
	Less(l, r int) int
	Greater(l, r int) int
	LessEqual(l, r int) int
	GreaterEqual(l, r int) int
	Equal(l, r int) int
	NotEqual(l, r int) int

	// Memory.
	// AllocStack carves a 16-byte-aligned block off the stack; the size
	// arrives in r and the block pointer comes back in the same register.
	AllocStack(r int) int
	Ref(r int) int
	Deref(r int) int
	IndexAddr(base, index int) int
	IndexRead(base, index int) int

	// Functions.
	FunctionPrologue(name string, frameSize int)
	FunctionEpilogue(name string)
	Return(name string, r int)
	Call(callee int, args []int) int

	// Program shape.
	Preamble(pool *constpool.Pool)
	SimpleExit()
	Exit(r int)
	Comment(text string)
	// Global emits one static data object: a label plus its image, or
	// reserved space when values is nil.
	Global(module, name string, elemSize, count int, values []int64)
	// GlobalString emits a static slot pointing at an interned string.
	GlobalString(module, name string, constIndex int)
	// LoadConstAddr materializes the address of an interned string.
	LoadConstAddr(constIndex int) int
	// CallFunction emits a direct call to a compiled function by its
	// source name.
	CallFunction(name string)

	// Layout queries used by the symbol table.
	SizeOf(typeID int) int
	ElementType(typeID int) int
}

// Factory builds a platform against a session's type and symbol tables.
type Factory func(tt *types.Table, st *symbols.Table) Platform

var registry = map[string]Factory{}

// Register installs a back end under its name. Back ends register
// themselves from their package init.
func Register(name string, f Factory) {
	registry[name] = f
}

// Get instantiates a registered back end.
func Get(name string, tt *types.Table, st *symbols.Table) (Platform, error) {
	f, ok := registry[name]
	if !ok {
		return nil, errors.Errorf("unknown platform %q", name)
	}
	return f(tt, st), nil
}

// Names lists the registered back ends.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	return out
}
