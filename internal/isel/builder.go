package isel

import "forge/internal/ir"

// Builder allocates DAG nodes into the current root, which owns them.
type Builder struct {
	root *Root
}

func (b *Builder) Root() *Root { return b.root }
func (b *Builder) SetRoot(root *Root) { b.root = root }

func (b *Builder) Insert(n Node) {
	if b.root == nil {
		panic("isel: builder has no root")
	}
	n.setRoot(b.root)
	b.root.Nodes = append(b.root.Nodes, n)
}

func NewRoot(name string) *Root {
	r := &Root{Name: name}
	r.kind = KindRoot
	return r
}

func (b *Builder) NewRegister(name string, t ir.Type) *Register {
	r := &Register{Name: name}
	r.kind = KindRegister
	r.typ = t
	b.Insert(r)
	return r
}

func (b *Builder) NewConstantInt(value int64, t ir.Type) *ConstantInt {
	c := &ConstantInt{Value: value}
	c.kind = KindConstantInt
	c.typ = t
	b.Insert(c)
	return c
}

func (b *Builder) NewConstantFloat(value float64, t ir.Type) *ConstantFloat {
	c := &ConstantFloat{Value: value}
	c.kind = KindConstantFloat
	c.typ = t
	b.Insert(c)
	return c
}

func (b *Builder) NewFrameIndex(slot uint32, t ir.Type) *FrameIndex {
	f := &FrameIndex{Slot: slot}
	f.kind = KindFrameIndex
	f.typ = t
	b.Insert(f)
	return f
}

func (b *Builder) NewFunctionArgument(slot uint32, t ir.Type) *FunctionArgument {
	a := &FunctionArgument{Slot: slot}
	a.kind = KindFunctionArgument
	a.typ = t
	b.Insert(a)
	return a
}

func (b *Builder) NewGlobalValue(global ir.Value) *GlobalValue {
	g := &GlobalValue{Global: global}
	g.kind = KindGlobalValue
	g.typ = global.Type()
	b.Insert(g)
	return g
}

func (b *Builder) NewMultiValue(t ir.Type) *MultiValue {
	m := &MultiValue{}
	m.kind = KindMultiValue
	m.typ = t
	b.Insert(m)
	return m
}

// NewOperation builds a pure operation node (binary ops, comparisons,
// unary conversions that carry no extra payload).
func (b *Builder) NewOperation(kind NodeKind, result Value, operands ...Node) *Instruction {
	ins := &Instruction{Result: result, Operands: operands}
	ins.kind = kind
	b.Insert(ins)
	return ins
}

func (b *Builder) NewCast(kind NodeKind, result *Register, value Node, to ir.Type) *Instruction {
	ins := &Instruction{Result: result, Operands: []Node{value}, CastTo: to}
	ins.kind = kind
	b.Insert(ins)
	return ins
}

func (b *Builder) NewGEP(result *Register, ptr Node, indices []Node) *Instruction {
	ins := &Instruction{Result: result, Operands: append([]Node{ptr}, indices...)}
	ins.kind = KindGEP
	b.Insert(ins)
	return ins
}

// NewChain builds a side-effecting node; the caller links it in order.
func (b *Builder) NewChain(kind NodeKind, result Value) *Chain {
	c := &Chain{}
	c.kind = kind
	c.Result = result
	b.Insert(c)
	return c
}

func (b *Builder) NewCall(result Value, conv ir.CallingConvention) *Chain {
	c := &Chain{ResultUsed: true, Conv: conv}
	c.kind = KindCall
	c.Result = result
	b.Insert(c)
	return c
}
