package target

import (
	"forge/internal/ir"
	"forge/internal/mir"
)

// RegisterDesc describes one physical register and its aliasing
// relationships.
type RegisterDesc struct {
	Name      string
	SuperRegs []uint32
	SubRegs   []uint32
	AliasRegs []uint32
	Class     uint32
}

// RegisterClass groups interchangeable registers of one width. Size and
// Alignment are in bytes.
type RegisterClass struct {
	Regs      []uint32
	Size      int
	Alignment int
}

// RegisterInfo is the per-target register file description.
type RegisterInfo interface {
	NumRegisters() int
	IsPhysical(reg uint32) bool
	IsSameRegister(a, b uint32) bool
	Name(reg uint32) string
	Desc(reg uint32) *RegisterDesc
	Class(class uint32) *RegisterClass
	NumClasses() int
	// CanonicalRegister maps any alias to its widest super register.
	CanonicalRegister(reg uint32) uint32
	// RegisterWithSize returns the alias of reg with the given byte
	// width, if one exists.
	RegisterWithSize(reg uint32, size int) (uint32, bool)
	// RegisterIDClass resolves a physical or virtual id to its class.
	RegisterIDClass(reg uint32, mirInfo *mir.RegisterInfo) uint32
	// Register returns the canonical operand for (reg, flags).
	Register(reg uint32) *mir.Register
	RegisterWithFlags(reg uint32, flags int64) *mir.Register

	ClassFromType(t ir.Type) uint32
	// ClassForSize picks the class holding a value of the given byte
	// width.
	ClassForSize(size int, flt bool) uint32
	IsFloatClass(class uint32) bool
	CallerSaved() []uint32
	CalleeSaved() []uint32
	Reserved(class uint32) []uint32
	Available(class uint32) []uint32
	ClassesOverlap(a, b uint32) bool
}

// RegisterInfoBase implements the table-driven portion of RegisterInfo;
// targets embed it and fill the tables.
type RegisterInfoBase struct {
	Descs   []RegisterDesc
	Classes []RegisterClass

	registers map[regKey]*mir.Register
}

type regKey struct {
	id    uint32
	flags int64
}

func (b *RegisterInfoBase) NumRegisters() int { return len(b.Descs) }
func (b *RegisterInfoBase) IsPhysical(reg uint32) bool {
	return reg < uint32(len(b.Descs))
}
func (b *RegisterInfoBase) Name(reg uint32) string { return b.Descs[reg].Name }
func (b *RegisterInfoBase) Desc(reg uint32) *RegisterDesc {
	return &b.Descs[reg]
}
func (b *RegisterInfoBase) Class(class uint32) *RegisterClass {
	return &b.Classes[class]
}
func (b *RegisterInfoBase) NumClasses() int { return len(b.Classes) }

// IsSameRegister reports whether two ids name the same or aliased
// physical storage.
func (b *RegisterInfoBase) IsSameRegister(a, c uint32) bool {
	if a == c {
		return true
	}
	if !b.IsPhysical(a) || !b.IsPhysical(c) {
		return false
	}
	for _, alias := range b.Descs[a].AliasRegs {
		if alias == c {
			return true
		}
	}
	for _, alias := range b.Descs[c].AliasRegs {
		if alias == a {
			return true
		}
	}
	return false
}

func (b *RegisterInfoBase) CanonicalRegister(reg uint32) uint32 {
	if !b.IsPhysical(reg) {
		return reg
	}
	supers := b.Descs[reg].SuperRegs
	if len(supers) == 0 {
		return reg
	}
	return supers[0]
}

func (b *RegisterInfoBase) RegisterWithSize(reg uint32, size int) (uint32, bool) {
	if b.sizeOf(reg) == size {
		return reg, true
	}
	for _, alias := range b.Descs[reg].AliasRegs {
		if b.sizeOf(alias) == size {
			return alias, true
		}
	}
	return 0, false
}

func (b *RegisterInfoBase) sizeOf(reg uint32) int {
	return b.Classes[b.Descs[reg].Class].Size
}

func (b *RegisterInfoBase) RegisterIDClass(reg uint32, mirInfo *mir.RegisterInfo) uint32 {
	if reg >= mir.VRegStart {
		return mirInfo.VirtualRegisterInfo(reg).Class
	}
	return b.Descs[reg].Class
}

func (b *RegisterInfoBase) Register(reg uint32) *mir.Register {
	return b.RegisterWithFlags(reg, 0)
}

func (b *RegisterInfoBase) RegisterWithFlags(reg uint32, flags int64) *mir.Register {
	if b.registers == nil {
		b.registers = make(map[regKey]*mir.Register)
	}
	key := regKey{reg, flags}
	if r, ok := b.registers[key]; ok {
		return r
	}
	r := mir.NewRegister(reg, flags)
	b.registers[key] = r
	return r
}
