package mir

import "forge/internal/ir"

// OperandKind discriminates machine operand variants.
type OperandKind int

const (
	RegisterKind OperandKind = iota
	ImmediateIntKind
	FrameIndexKind
	ConstantIndexKind
	GlobalAddressKind
	BlockKind
	ExternalSymbolKind
	MemoryKind
	MultiValueKind
)

// Operand flags force a physical register operand to a specific width
// during the sub-register rewrite of target lowering.
const (
	Force64BitRegister int64 = 1 << iota
	Force32BitRegister
	Force16BitRegister
	Force8BitRegister
)

// Operand is one machine instruction operand.
type Operand interface {
	Kind() OperandKind
	Flags() int64
	HasFlag(int64) bool
	AddFlag(int64)
	SetFlags(int64)
	// Equals compares structurally, optionally ignoring flags.
	Equals(other Operand, ignoreFlags bool) bool
}

type operandBase struct {
	kind  OperandKind
	flags int64
}

func (o *operandBase) Kind() OperandKind { return o.kind }
func (o *operandBase) Flags() int64 { return o.flags }
func (o *operandBase) HasFlag(f int64) bool { return o.flags&f != 0 }
func (o *operandBase) AddFlag(f int64) { o.flags |= f }
func (o *operandBase) SetFlags(flags int64) { o.flags = flags }

func (o *operandBase) baseEquals(other Operand, ignoreFlags bool) bool {
	return other.Kind() == o.kind && (ignoreFlags || o.flags == other.Flags())
}

// VRegStart is the first virtual register id; everything below is
// physical.
const VRegStart uint32 = 1024

// Register refers to a physical (< VRegStart) or virtual register.
type Register struct {
	operandBase
	ID uint32
}

func NewRegister(id uint32, flags int64) *Register {
	r := &Register{ID: id}
	r.kind = RegisterKind
	r.flags = flags
	return r
}

func (r *Register) IsPhysical() bool { return r.ID < VRegStart }

func (r *Register) Equals(other Operand, ignoreFlags bool) bool {
	return r.baseEquals(other, ignoreFlags) && other.(*Register).ID == r.ID
}

// ImmSize is the byte width of an integer immediate.
type ImmSize int

const (
	Imm8  ImmSize = 1
	Imm16 ImmSize = 2
	Imm32 ImmSize = 4
	Imm64 ImmSize = 8
)

// ImmSizeFromValue picks the narrowest signed immediate width holding v.
func ImmSizeFromValue(v int64) ImmSize {
	switch {
	case v >= -128 && v <= 127:
		return Imm8
	case v >= -32768 && v <= 32767:
		return Imm16
	case v >= -2147483648 && v <= 2147483647:
		return Imm32
	}
	return Imm64
}

type ImmediateInt struct {
	operandBase
	Value int64
	Size  ImmSize
}

func NewImmediateInt(value int64, size ImmSize) *ImmediateInt {
	i := &ImmediateInt{Value: value, Size: size}
	i.kind = ImmediateIntKind
	return i
}

func (i *ImmediateInt) Equals(other Operand, ignoreFlags bool) bool {
	o, ok := other.(*ImmediateInt)
	return ok && i.baseEquals(other, ignoreFlags) && o.Value == i.Value && o.Size == i.Size
}

// FrameIndex refers symbolically to a stack slot; lowering resolves it to
// a frame-pointer relative address.
type FrameIndex struct {
	operandBase
	Index uint32
}

func NewFrameIndex(index uint32) *FrameIndex {
	f := &FrameIndex{Index: index}
	f.kind = FrameIndexKind
	return f
}

func (f *FrameIndex) Equals(other Operand, ignoreFlags bool) bool {
	o, ok := other.(*FrameIndex)
	return ok && f.baseEquals(other, ignoreFlags) && o.Index == f.Index
}

// ConstantIndex names an entry of the function's constant pool.
type ConstantIndex struct {
	operandBase
	Name  string
	Index int
}

func NewConstantIndex(name string, index int) *ConstantIndex {
	c := &ConstantIndex{Name: name, Index: index}
	c.kind = ConstantIndexKind
	return c
}

func (c *ConstantIndex) Equals(other Operand, ignoreFlags bool) bool {
	o, ok := other.(*ConstantIndex)
	return ok && c.baseEquals(other, ignoreFlags) && o.Name == c.Name && o.Index == c.Index
}

// GlobalAddress refers to an IR global or function symbol.
type GlobalAddress struct {
	operandBase
	Name  string
	Value ir.Value
}

func NewGlobalAddress(value ir.Value) *GlobalAddress {
	g := &GlobalAddress{Name: value.Name(), Value: value}
	g.kind = GlobalAddressKind
	return g
}

func (g *GlobalAddress) Equals(other Operand, ignoreFlags bool) bool {
	o, ok := other.(*GlobalAddress)
	return ok && g.baseEquals(other, ignoreFlags) && o.Name == g.Name
}

// ExternalSymbolType distinguishes function from data symbols.
type ExternalSymbolType int

const (
	ExternalFunction ExternalSymbolType = iota
	ExternalVariable
)

type ExternalSymbol struct {
	operandBase
	Name string
	Type ExternalSymbolType
}

func NewExternalSymbol(name string, t ExternalSymbolType) *ExternalSymbol {
	s := &ExternalSymbol{Name: name, Type: t}
	s.kind = ExternalSymbolKind
	return s
}

func (s *ExternalSymbol) Equals(other Operand, ignoreFlags bool) bool {
	o, ok := other.(*ExternalSymbol)
	return ok && s.baseEquals(other, ignoreFlags) && o.Name == s.Name
}

// Memory is a resolved addressing mode: base + index*scale + disp, or a
// symbol-relative reference.
type Memory struct {
	operandBase
	Base  *Register
	Index *Register
	Scale uint8
	Disp  int64
	Sym   Operand // GlobalAddress, ConstantIndex or ExternalSymbol
}

func NewMemory(base *Register, disp int64) *Memory {
	m := &Memory{Base: base, Disp: disp, Scale: 1}
	m.kind = MemoryKind
	return m
}

func (m *Memory) Equals(other Operand, ignoreFlags bool) bool {
	o, ok := other.(*Memory)
	if !ok || !m.baseEquals(other, ignoreFlags) {
		return false
	}
	sameReg := func(a, b *Register) bool {
		if a == nil || b == nil {
			return a == b
		}
		return a.Equals(b, true)
	}
	sameSym := m.Sym == nil && o.Sym == nil || (m.Sym != nil && o.Sym != nil && m.Sym.Equals(o.Sym, true))
	return sameReg(m.Base, o.Base) && sameReg(m.Index, o.Index) && m.Scale == o.Scale && m.Disp == o.Disp && sameSym
}

// MultiValue groups the scalar operands of a struct-typed result. Used
// only during instruction selection, never in final instructions.
type MultiValue struct {
	operandBase
	Values []Operand
}

func NewMultiValue() *MultiValue {
	m := &MultiValue{}
	m.kind = MultiValueKind
	return m
}

func (m *MultiValue) AddValue(op Operand) { m.Values = append(m.Values, op) }

func (m *MultiValue) Equals(other Operand, ignoreFlags bool) bool {
	return other == Operand(m)
}
