package arm64

import (
	"bytes"
	"strings"
	"testing"

	"fang/internal/constpool"
	"fang/internal/symbols"
	"fang/internal/types"
	"fang/internal/value"
)

func newBackend() (*Arm64, *bytes.Buffer) {
	tt := types.New()
	st := symbols.New()
	p := New(tt, st)
	var buf bytes.Buffer
	p.Init(&buf)
	return p, &buf
}

func TestRegisterPool(t *testing.T) {
	p, _ := newBackend()
	a := p.AllocRegister()
	b := p.AllocRegister()
	if a == b {
		t.Fatal("allocator handed out the same register twice")
	}
	p.FreeRegister(a)
	c := p.AllocRegister()
	if c != a {
		t.Errorf("lowest free register expected: got %d, want %d", c, a)
	}
	if err := p.Complete(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRegisterExhaustion(t *testing.T) {
	p, _ := newBackend()
	for i := 0; i < 4; i++ {
		p.AllocRegister()
	}
	p.AllocRegister()
	if err := p.Complete(); err == nil {
		t.Error("allocating a fifth scratch register must record an error")
	}
}

func TestDoubleFreeIsError(t *testing.T) {
	p, _ := newBackend()
	r := p.AllocRegister()
	p.FreeRegister(r)
	p.FreeRegister(r)
	if err := p.Complete(); err == nil {
		t.Error("double free must record an error")
	}
}

func TestArithmeticFreesRight(t *testing.T) {
	p, buf := newBackend()
	l := p.LoadImmediate(1)
	r := p.LoadImmediate(2)
	result := p.Add(l, r)
	if result != l {
		t.Errorf("result register = %d, want left operand %d", result, l)
	}
	if got := p.AllocRegister(); got != r {
		t.Errorf("right operand register must be free again: got %d, want %d", got, r)
	}
	if !strings.Contains(buf.String(), "ADD X8, X8, X9") {
		t.Errorf("unexpected assembly:\n%s", buf.String())
	}
}

func TestComparisonShape(t *testing.T) {
	p, buf := newBackend()
	l := p.LoadImmediate(1)
	r := p.LoadImmediate(2)
	p.Less(l, r)
	out := buf.String()
	for _, want := range []string{"CMP X8, X9", "CSET X8, lt", "AND X8, X8, #0xFF"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestConditionalBranchFusion(t *testing.T) {
	p, buf := newBackend()
	r := p.LoadImmediate(0)
	l := p.LabelCreate()
	p.CmpJumpIfZero(r, l)
	out := buf.String()
	if !strings.Contains(out, "CMP X8, #0") || !strings.Contains(out, "BEQ L0") {
		t.Errorf("if-zero must fuse to CMP/BEQ:\n%s", out)
	}
}

func TestLabelsAreMonotonic(t *testing.T) {
	p, _ := newBackend()
	a := p.LabelCreate()
	b := p.LabelCreate()
	if b != a+1 {
		t.Errorf("labels must count up: %d then %d", a, b)
	}
}

func TestFramePrologueEpilogue(t *testing.T) {
	p, buf := newBackend()
	p.FunctionPrologue("main", 20)
	p.FunctionEpilogue("main")
	out := buf.String()
	for _, want := range []string{
		"_fang_main:",
		"PUSH2 LR, FP",
		"MOV FP, SP",
		"SUB SP, SP, #32", // 20 rounds up to 32
		"_fang_ep_main:",
		"MOV SP, FP",
		"POP2 LR, FP",
		"RET",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestParameterAddressing(t *testing.T) {
	p, buf := newBackend()
	entry := symbols.Entry{
		Name:         "b",
		Kind:         symbols.SymbolParameter,
		Status:       symbols.StatusDefined,
		ParamOrdinal: 1,
	}
	p.LoadIdentifier(entry)
	if !strings.Contains(buf.String(), "LDR X8, [FP, #32]") {
		t.Errorf("second parameter lives at [FP, #32]:\n%s", buf.String())
	}
}

func TestLocalAddressing(t *testing.T) {
	tt := types.New()
	st := symbols.New()
	st.OpenScope(symbols.ScopeModule)
	st.OpenScope(symbols.ScopeFunction)
	entry := st.Define("x", symbols.SymbolVariable, types.U8, symbols.StorageAuto)

	p := New(tt, st)
	var buf bytes.Buffer
	p.Init(&buf)
	p.LoadIdentifier(entry)
	if !strings.Contains(buf.String(), "LDR X8, [FP, #-16]") {
		t.Errorf("first local lives at [FP, #-16]:\n%s", buf.String())
	}
}

func TestPreambleStrings(t *testing.T) {
	p, buf := newBackend()
	pool := constpool.New()
	pool.Store(value.String("hello"))
	p.Preamble(pool)
	out := buf.String()
	for _, want := range []string{
		"const_3:",
		".byte 5",
		`.asciz "hello"`,
		".global _start",
		"_start:",
		"MOV X28, #0",
		"MOV X0, #0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}
}

func TestExitSequences(t *testing.T) {
	p, buf := newBackend()
	p.SimpleExit()
	r := p.LoadImmediate(9)
	p.Exit(r)
	out := buf.String()
	if strings.Count(out, "MOV X16, #1") != 2 || strings.Count(out, "SVC 0") != 2 {
		t.Errorf("both exits must issue the syscall:\n%s", out)
	}
	if !strings.Contains(out, "MOV X0, X8") {
		t.Errorf("Exit must move the code into X0:\n%s", out)
	}
}

func TestCallPushesRightToLeft(t *testing.T) {
	p, buf := newBackend()
	a0 := p.LoadImmediate(1) // X8
	a1 := p.LoadImmediate(2) // X9
	callee := p.LoadImmediate(0)
	p.Call(callee, []int{a0, a1})
	out := buf.String()
	firstPush := strings.Index(out, "PUSH1 X9")
	secondPush := strings.Index(out, "PUSH1 X8")
	if firstPush < 0 || secondPush < 0 || firstPush > secondPush {
		t.Errorf("arguments push right to left:\n%s", out)
	}
	if !strings.Contains(out, "BLR X10") {
		t.Errorf("call goes through the callee register:\n%s", out)
	}
	if !strings.Contains(out, "ADD SP, SP, #32") {
		t.Errorf("caller pops both 16-byte slots:\n%s", out)
	}
}

func TestGlobals(t *testing.T) {
	p, buf := newBackend()
	p.Global("display", "width", 1, 1, []int64{32})
	p.Global("", "buffer", 1, 64, nil)
	out := buf.String()
	if !strings.Contains(out, "_fang_g_display_width:") || !strings.Contains(out, ".quad 32") {
		t.Errorf("initialized scalar global wrong:\n%s", out)
	}
	if !strings.Contains(out, "_fang_g_buffer:") || !strings.Contains(out, ".space 64") {
		t.Errorf("zero-filled array global wrong:\n%s", out)
	}
}

func TestSizeQueries(t *testing.T) {
	p, _ := newBackend()
	if p.SizeOf(types.U8) != 1 || p.SizeOf(types.U16) != 2 || p.SizeOf(types.Ptr) != 8 {
		t.Error("primitive sizes diverge from the type table")
	}
}
