package constpool

import (
	"fang/internal/value"
)

// Reserved indices established by Bootstrap. Codegen shortcuts rely on them.
const (
	IndexFalse  = 0
	IndexTrue   = 1
	IndexZeroU8 = 2
)

type Entry struct {
	Value  value.Value
	TypeID int
}

// Pool is the append-only table of typed literal values. Indices are stable
// once assigned. Equal strings are interned to a single index.
type Pool struct {
	entries  []Entry
	interned map[string]int
}

func New() *Pool {
	p := &Pool{
		interned: map[string]int{},
	}
	p.bootstrap()
	return p
}

func (p *Pool) bootstrap() {
	p.Store(value.Bool(false))
	p.Store(value.Bool(true))
	p.Store(value.U8(0))
}

// Store appends v and returns its index. String values go through the intern
// table so equal strings share one index.
func (p *Pool) Store(v value.Value) int {
	if v.Kind() == value.KindString {
		if i, ok := p.interned[v.Str()]; ok {
			return i
		}
		p.interned[v.Str()] = len(p.entries)
	}
	p.entries = append(p.entries, Entry{Value: v})
	return len(p.entries) - 1
}

// StoreTyped appends v with a resolved type id attached.
func (p *Pool) StoreTyped(v value.Value, typeID int) int {
	i := p.Store(v)
	p.entries[i].TypeID = typeID
	return i
}

func (p *Pool) Get(index int) value.Value {
	return p.entries[index].Value
}

func (p *Pool) GetEntry(index int) Entry {
	return p.entries[index]
}

// SetType attaches a resolved type id to an existing entry.
func (p *Pool) SetType(index, typeID int) {
	p.entries[index].TypeID = typeID
}

// Replace swaps the value at index in place, preserving the index. Used when
// constant folding narrows an unsized literal.
func (p *Pool) Replace(index int, v value.Value) {
	p.entries[index].Value = v
}

func (p *Pool) Len() int {
	return len(p.entries)
}
