package codegen

import (
	"sort"

	"forge/internal/mir"
	"forge/internal/target"
)

// liveness computes per-register live ranges over the linearized
// instruction sequence. Physical registers are tracked by their canonical
// (widest-alias) id so aliased halves interfere correctly.
type liveness struct {
	instrInfo target.InstructionInfo
	regInfo   target.RegisterInfo

	blockStart map[*mir.Block]int
	blockEnd   map[*mir.Block]int
}

func newLiveness(instrInfo target.InstructionInfo, regInfo target.RegisterInfo) *liveness {
	return &liveness{instrInfo: instrInfo, regInfo: regInfo}
}

func (l *liveness) canonical(reg uint32) uint32 {
	if reg >= mir.VRegStart {
		return reg
	}
	return l.regInfo.CanonicalRegister(reg)
}

type occurrence struct {
	reg   uint32
	isDef bool
	isUse bool
}

// occurrences classifies every register mention of one instruction,
// including descriptor clobbers as dead definitions.
func (l *liveness) occurrences(ins *mir.Instruction) []occurrence {
	var out []occurrence
	desc := l.instrInfo.Descriptor(ins.Op)
	for idx, op := range ins.Operands {
		regs := registersOf(op)
		for _, reg := range regs {
			occ := occurrence{reg: l.canonical(reg), isUse: true}
			if desc != nil && idx < desc.NumDefs {
				occ.isDef = true
				occ.isUse = desc.Restriction(idx).IsAssigned()
			}
			out = append(out, occ)
		}
	}
	if desc != nil {
		for _, clobber := range desc.Clobbers {
			out = append(out, occurrence{reg: l.canonical(clobber), isDef: true})
		}
	}
	if ins.IsCall() {
		for _, arg := range ins.Call().ArgRegs {
			out = append(out, occurrence{reg: l.canonical(arg), isUse: true})
		}
		for _, ret := range ins.Call().ReturnRegs {
			out = append(out, occurrence{reg: l.canonical(ret), isDef: true})
		}
	}
	return out
}

// registersOf collects the register ids an operand mentions; memory
// operands contribute their base and index as uses.
func registersOf(op mir.Operand) []uint32 {
	switch op := op.(type) {
	case *mir.Register:
		return []uint32{op.ID}
	case *mir.Memory:
		var regs []uint32
		if op.Base != nil {
			regs = append(regs, op.Base.ID)
		}
		if op.Index != nil {
			regs = append(regs, op.Index.ID)
		}
		return regs
	}
	return nil
}

// compute runs backward dataflow and writes the resulting ranges into the
// function's register info.
func (l *liveness) compute(fn *mir.Function) {
	l.blockStart = make(map[*mir.Block]int)
	l.blockEnd = make(map[*mir.Block]int)

	index := 0
	for _, b := range fn.Blocks() {
		l.blockStart[b] = index
		index += len(b.Instructions())
		l.blockEnd[b] = index - 1
	}

	// block-local use/def sets
	use := make(map[*mir.Block]map[uint32]bool)
	def := make(map[*mir.Block]map[uint32]bool)
	for _, b := range fn.Blocks() {
		use[b] = make(map[uint32]bool)
		def[b] = make(map[uint32]bool)
		for _, ins := range b.Instructions() {
			for _, occ := range l.occurrences(ins) {
				if occ.isUse && !def[b][occ.reg] {
					use[b][occ.reg] = true
				}
				if occ.isDef {
					def[b][occ.reg] = true
				}
			}
		}
	}

	liveIn := make(map[*mir.Block]map[uint32]bool)
	liveOut := make(map[*mir.Block]map[uint32]bool)
	for _, b := range fn.Blocks() {
		liveIn[b] = make(map[uint32]bool)
		liveOut[b] = make(map[uint32]bool)
	}

	for changed := true; changed; {
		changed = false
		for i := len(fn.Blocks()) - 1; i >= 0; i-- {
			b := fn.Blocks()[i]
			out := liveOut[b]
			for _, succ := range b.Successors() {
				for reg := range liveIn[succ] {
					if !out[reg] {
						out[reg] = true
						changed = true
					}
				}
			}
			in := liveIn[b]
			for reg := range use[b] {
				if !in[reg] {
					in[reg] = true
					changed = true
				}
			}
			for reg := range out {
				if !def[b][reg] && !in[reg] {
					in[reg] = true
					changed = true
				}
			}
		}
	}

	ri := fn.RegisterInfo()
	ri.ClearLiveRanges()

	for _, b := range fn.Blocks() {
		live := make(map[uint32]int) // reg -> interval end
		for reg := range liveOut[b] {
			live[reg] = l.blockEnd[b]
		}
		instrs := b.Instructions()
		for i := len(instrs) - 1; i >= 0; i-- {
			pos := l.blockStart[b] + i
			occs := l.occurrences(instrs[i])
			for _, occ := range occs {
				if !occ.isDef {
					continue
				}
				end, ok := live[occ.reg]
				if !ok {
					// dead definition or clobber still blocks the slot
					ri.AddLiveRange(occ.reg, mir.LiveRange{Start: pos, End: pos})
					continue
				}
				start := pos
				if occ.isUse {
					// two-address defs read the register as well
					ri.AddLiveRange(occ.reg, mir.LiveRange{Start: start, End: end, AssignedFirst: true})
				} else {
					ri.AddLiveRange(occ.reg, mir.LiveRange{Start: start, End: end})
				}
				delete(live, occ.reg)
			}
			for _, occ := range occs {
				if occ.isUse {
					if _, ok := live[occ.reg]; !ok {
						live[occ.reg] = pos
					}
				}
			}
		}
		// still live at block entry: range covers the block prefix
		for reg, end := range live {
			ri.AddLiveRange(reg, mir.LiveRange{Start: l.blockStart[b], End: end})
		}
	}
}

// sortedRanges returns a register's ranges ordered by start.
func sortedRanges(ri *mir.RegisterInfo, reg uint32) []mir.LiveRange {
	ranges := append([]mir.LiveRange(nil), ri.LiveRanges(reg)...)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	return ranges
}
