package target

import "forge/internal/mir"

// Spiller rewrites every occurrence of a register with a fresh virtual of
// the same class, loading it from (or storing it to) a stack slot at each
// use and definition.
type Spiller struct {
	instrInfo InstructionInfo
	regInfo   RegisterInfo
}

func NewSpiller(instrInfo InstructionInfo, regInfo RegisterInfo) *Spiller {
	return &Spiller{instrInfo: instrInfo, regInfo: regInfo}
}

// Spill allocates a slot sized for the register's class and spills into
// it.
func (s *Spiller) Spill(replace *mir.Register, fn *mir.Function) {
	class := s.regInfo.Class(fn.RegisterInfo().VirtualRegisterInfo(replace.ID).Class)
	fn.StackFrame().AddStackSlot(uint32(class.Size), uint32(class.Alignment))
	slot := fn.StackFrame().StackSlot(fn.StackFrame().NumStackSlots() - 1)
	s.SpillTo(replace, fn, slot)
}

// spillMemory rewrites a spilled register appearing as an address
// component, reloading it just before the access.
func (s *Spiller) spillMemory(mem *mir.Memory, replace *mir.Register, fn *mir.Function, block *mir.Block, pos int, slot mir.StackSlot) bool {
	info := fn.RegisterInfo().VirtualRegisterInfo(replace.ID)
	if mem.Base != nil && mem.Base.Equals(replace, true) {
		fresh := s.regInfo.Register(fn.RegisterInfo().NextVirtualRegister(info.Class, info.TypeOverride))
		mem.Base = fresh
		s.instrInfo.StackSlotToRegister(block, pos, fresh, slot)
		return true
	}
	if mem.Index != nil && mem.Index.Equals(replace, true) {
		fresh := s.regInfo.Register(fn.RegisterInfo().NextVirtualRegister(info.Class, info.TypeOverride))
		mem.Index = fresh
		s.instrInfo.StackSlotToRegister(block, pos, fresh, slot)
		return true
	}
	return false
}

// SpillTo spills into a caller-provided slot (used for stack-passed
// formal arguments, whose slots live in the caller's frame).
func (s *Spiller) SpillTo(replace *mir.Register, fn *mir.Function, slot mir.StackSlot) {
	for _, block := range fn.Blocks() {
		for changed := true; changed; {
			changed = false
			for i := 0; i < len(block.Instructions()); i++ {
				ins := block.Instructions()[i]
				desc := s.instrInfo.Descriptor(ins.Op)
				for j, op := range ins.Operands {
					if mem, ok := op.(*mir.Memory); ok {
						if s.spillMemory(mem, replace, fn, block, i, slot) {
							changed = true
							break
						}
						continue
					}
					if op == nil || !op.Equals(replace, true) {
						continue
					}
					info := fn.RegisterInfo().VirtualRegisterInfo(replace.ID)
					fresh := s.regInfo.Register(fn.RegisterInfo().NextVirtualRegister(info.Class, info.TypeOverride))
					ins.Operands[j] = fresh

					isDef := desc != nil && j < desc.NumDefs
					switch {
					case isDef && desc.Restriction(j).IsAssigned():
						// two-address slots read and write the register
						s.instrInfo.StackSlotToRegister(block, i, fresh, slot)
						s.instrInfo.RegisterToStackSlot(block, i+2, fresh, slot)
					case isDef:
						s.instrInfo.RegisterToStackSlot(block, i+1, fresh, slot)
					default:
						s.instrInfo.StackSlotToRegister(block, i, fresh, slot)
					}
					changed = true
					break
				}
				if changed {
					break
				}
			}
		}
	}
}
