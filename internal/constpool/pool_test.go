package constpool

import (
	"testing"

	"fang/internal/value"
)

func TestBootstrapEntries(t *testing.T) {
	p := New()
	if p.Len() != 3 {
		t.Fatalf("fresh pool has %d entries, want 3", p.Len())
	}
	if v := p.Get(IndexFalse); v.Kind() != value.KindBool || v.IsTruthy() {
		t.Errorf("entry 0 = %v, want false", v)
	}
	if v := p.Get(IndexTrue); v.Kind() != value.KindBool || !v.IsTruthy() {
		t.Errorf("entry 1 = %v, want true", v)
	}
	if v := p.Get(IndexZeroU8); v.Kind() != value.KindU8 || v.Number() != 0 {
		t.Errorf("entry 2 = %v, want u8(0)", v)
	}
}

func TestStoreAppends(t *testing.T) {
	p := New()
	a := p.Store(value.LitNum(7))
	b := p.Store(value.LitNum(7))
	if a == b {
		t.Error("numeric values are not interned; indices must differ")
	}
	if b != a+1 {
		t.Errorf("expected consecutive indices, got %d then %d", a, b)
	}
	if p.Get(a).Number() != 7 {
		t.Errorf("Get(%d) = %v", a, p.Get(a))
	}
}

func TestStringInterning(t *testing.T) {
	p := New()
	a := p.Store(value.String("hello"))
	b := p.Store(value.String("hello"))
	c := p.Store(value.String("world"))
	if a != b {
		t.Errorf("equal strings must share an index: %d != %d", a, b)
	}
	if a == c {
		t.Error("distinct strings must not share an index")
	}
}

func TestIndicesStable(t *testing.T) {
	p := New()
	i := p.Store(value.LitNum(42))
	for j := 0; j < 10; j++ {
		p.Store(value.LitNum(int64(j)))
	}
	if p.Get(i).Number() != 42 {
		t.Error("index became unstable after later appends")
	}
}

func TestReplaceKeepsIndex(t *testing.T) {
	p := New()
	i := p.Store(value.LitNum(300))
	p.Replace(i, value.TypedNumber(value.KindU16, 300))
	if got := p.Get(i); got.Kind() != value.KindU16 || got.Number() != 300 {
		t.Errorf("after Replace, Get(%d) = %v", i, got)
	}
}
