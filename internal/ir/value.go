package ir

// ValueKind discriminates every value in the IR graph.
type ValueKind int

const (
	ConstantIntKind ValueKind = iota
	ConstantFloatKind
	ConstantStringKind
	ConstantStructKind
	ConstantArrayKind
	BlockKind
	FunctionKind
	GlobalVariableKind
	UndefValueKind
	NullValueKind
	ConstantGEPKind
	RegisterKind
	FunctionArgumentKind
)

// ValueFlag marks calling-convention relevant properties on a value.
type ValueFlag int64

const (
	FlagByVal ValueFlag = 1 << iota
	FlagSRet
)

// Value is anything an instruction can reference: constants, globals,
// blocks, arguments and instruction results. The use list is kept
// consistent with instruction operand lists by the mutation helpers.
type Value interface {
	Name() string
	SetName(string)
	Type() Type
	Kind() ValueKind
	Uses() []*Instruction
	addUse(*Instruction)
	removeUse(*Instruction)
	Flags() int64
	HasFlag(ValueFlag) bool
	AddFlag(ValueFlag)
	SetFlags(int64)
}

// valueBase carries the state shared by every value.
type valueBase struct {
	name  string
	typ   Type
	kind  ValueKind
	uses  []*Instruction
	flags int64
}

func (v *valueBase) Name() string { return v.name }
func (v *valueBase) SetName(name string) { v.name = name }
func (v *valueBase) Type() Type { return v.typ }
func (v *valueBase) Kind() ValueKind { return v.kind }
func (v *valueBase) Uses() []*Instruction {
	return v.uses
}

func (v *valueBase) addUse(ins *Instruction) { v.uses = append(v.uses, ins) }

// removeUse drops one occurrence, mirroring multi-edge operand counting.
func (v *valueBase) removeUse(ins *Instruction) {
	for i, u := range v.uses {
		if u == ins {
			v.uses = append(v.uses[:i], v.uses[i+1:]...)
			return
		}
	}
}

func (v *valueBase) Flags() int64 { return v.flags }
func (v *valueBase) HasFlag(f ValueFlag) bool { return v.flags&int64(f) != 0 }
func (v *valueBase) AddFlag(f ValueFlag) { v.flags |= int64(f) }
func (v *valueBase) SetFlags(flags int64) { v.flags = flags }

// IsConstant reports whether v is one of the constant kinds.
func IsConstant(v Value) bool {
	switch v.Kind() {
	case ConstantIntKind, ConstantFloatKind, ConstantStringKind,
		ConstantStructKind, ConstantArrayKind, UndefValueKind,
		NullValueKind, ConstantGEPKind:
		return true
	}
	return false
}

type ConstantInt struct {
	valueBase
	Value int64
}

type ConstantFloat struct {
	valueBase
	Value float64
}

type ConstantString struct {
	valueBase
	Value string
}

type ConstantStruct struct {
	valueBase
	Values []Value
}

type ConstantArray struct {
	valueBase
	Values []Value
}

type UndefValue struct {
	valueBase
}

type NullValue struct {
	valueBase
}

// ConstantGEP is a compile-time address computation over a constant base.
type ConstantGEP struct {
	valueBase
	Base    Value
	Indices []Value
}

// Offset folds the GEP's indices into a byte offset under the layout.
func (c *ConstantGEP) Offset(layout DataLayout) int64 {
	var off int64
	cur := c.Base.Type()
	if pt, ok := cur.(*PointerType); ok {
		cur = pt.Pointee
	}
	for i, idx := range c.Indices {
		n := idx.(*ConstantInt).Value
		if i == 0 {
			off += n * int64(layout.Size(cur))
			continue
		}
		switch t := cur.(type) {
		case *StructType:
			off += FieldOffset(layout, t, int(n))
			cur = t.Fields[n]
		case *ArrayType:
			off += n * int64(layout.Size(t.Elem))
			cur = t.Elem
		}
	}
	return off
}

// Linkage controls symbol visibility of globals and functions.
type Linkage int

const (
	ExternalLinkage Linkage = iota
	InternalLinkage
)

type GlobalVariable struct {
	valueBase
	Init    Value // nil for external declarations
	Linkage Linkage
}

// FunctionArgument is a formal parameter; Slot is its position.
type FunctionArgument struct {
	valueBase
	Slot uint32
}

// ZeroInitializer builds the canonical zero constant for a type.
func ZeroInitializer(t Type, layout DataLayout, ctx *Context) Value {
	switch t := t.(type) {
	case *IntType:
		return ctx.ConstantInt(t.Bits, 0)
	case *FloatType:
		return ctx.ConstantFloat(t.Bits, 0)
	case *PointerType, *FuncType:
		return ctx.Null(t)
	case *StructType:
		values := make([]Value, len(t.Fields))
		for i, f := range t.Fields {
			values[i] = ZeroInitializer(f, layout, ctx)
		}
		return ctx.ConstantStruct(t, values)
	case *ArrayType:
		values := make([]Value, t.Len)
		for i := range values {
			values[i] = ZeroInitializer(t.Elem, layout, ctx)
		}
		return ctx.ConstantArray(t, values)
	}
	return ctx.Undef(t)
}
