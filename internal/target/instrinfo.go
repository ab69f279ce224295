package target

import (
	"forge/internal/ir"
	"forge/internal/isel"
	"forge/internal/mir"
)

// Restriction constrains the operand kinds an instruction slot accepts.
// Assigned marks two-address slots: the destination is also a source.
type Restriction struct {
	kindMask uint32
	assigned bool
}

func NewRestriction(assigned bool, kinds ...mir.OperandKind) Restriction {
	var mask uint32
	for _, k := range kinds {
		mask |= 1 << uint32(k)
	}
	return Restriction{kindMask: mask, assigned: assigned}
}

func (r Restriction) Allows(kind mir.OperandKind) bool { return r.kindMask&(1<<uint32(kind)) != 0 }
func (r Restriction) IsAssigned() bool { return r.assigned }

func RegRestrict(assigned bool) Restriction { return NewRestriction(assigned, mir.RegisterKind) }
func ImmRestrict() Restriction { return NewRestriction(false, mir.ImmediateIntKind) }
func MemRestrict() Restriction { return NewRestriction(false, mir.MemoryKind) }
func SymRestrict() Restriction {
	return NewRestriction(false, mir.BlockKind, mir.GlobalAddressKind, mir.ExternalSymbolKind, mir.ConstantIndexKind)
}

// InstructionDescriptor is the static metadata of one machine opcode.
type InstructionDescriptor struct {
	Name         string
	NumDefs      int
	NumOperands  int
	MayStore     bool
	MayLoad      bool
	IsReturn     bool
	IsJump       bool
	Restrictions []Restriction
	Clobbers     []uint32
}

func (d *InstructionDescriptor) Restriction(idx int) Restriction {
	if idx < len(d.Restrictions) {
		return d.Restrictions[idx]
	}
	return Restriction{}
}

// InstructionInfo is the per-target opcode surface: descriptors,
// mnemonics, the pattern tables and the canned memory-traffic helpers
// used by the spiller and the lowering passes. Position arguments index
// into the block; every helper returns how many instructions it
// inserted.
type InstructionInfo interface {
	Descriptor(op uint32) *InstructionDescriptor
	Mnemonic(op uint32) string
	Patterns(kind isel.NodeKind) []isel.Pattern
	RegisterInfo() RegisterInfo
	IsReturn(op uint32) bool
	IsJump(op uint32) bool
	// IsMove reports plain register-to-register move opcodes so the
	// allocator can drop identity copies.
	IsMove(op uint32) bool

	RegisterToStackSlot(b *mir.Block, pos int, reg *mir.Register, slot mir.StackSlot) int
	StackSlotToRegister(b *mir.Block, pos int, reg *mir.Register, slot mir.StackSlot) int
	ImmediateToStackSlot(b *mir.Block, pos int, imm *mir.ImmediateInt, slot mir.StackSlot) int
	Move(b *mir.Block, pos int, src, dst mir.Operand, size int, flt bool) int
}

// Terminator returns the first terminator-ish instruction of a block.
func Terminator(info InstructionInfo, b *mir.Block) *mir.Instruction {
	for _, ins := range b.Instructions() {
		if mir.IsPseudoOp(ins.Op) {
			if ins.Op == mir.ReturnLowerOp || ins.Op == mir.SwitchLowerOp {
				return ins
			}
			continue
		}
		if info.IsReturn(ins.Op) || info.IsJump(ins.Op) {
			return ins
		}
	}
	return nil
}

// HasReturn reports whether the block contains a return instruction.
func HasReturn(info InstructionInfo, b *mir.Block) bool {
	for _, ins := range b.Instructions() {
		if !mir.IsPseudoOp(ins.Op) && info.IsReturn(ins.Op) {
			return true
		}
	}
	return false
}

// SelectOpcode picks from size-indexed opcode tables: {1,2,4,8} bytes
// for the integer table, {4,8} for the float table.
func SelectOpcode(size int, flt bool, opcodes [4]uint32, opcodesFlt [2]uint32) uint32 {
	if flt {
		switch size {
		case 4:
			return opcodesFlt[0]
		case 8:
			return opcodesFlt[1]
		}
		panic("no float opcode for size")
	}
	switch size {
	case 1:
		return opcodes[0]
	case 2:
		return opcodes[1]
	case 4:
		return opcodes[2]
	case 8:
		return opcodes[3]
	}
	panic("no opcode for size")
}

// SelectOpcodeForType is SelectOpcode keyed by an IR type.
func SelectOpcodeForType(layout ir.DataLayout, t ir.Type, opcodes [4]uint32, opcodesFlt [2]uint32) uint32 {
	return SelectOpcode(layout.Size(t), ir.IsFloat(t), opcodes, opcodesFlt)
}
