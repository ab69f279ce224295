package codegen

import (
	"sort"

	"forge/internal/errors"
	"forge/internal/ir"
	"forge/internal/mir"
	"forge/internal/target"

	"github.com/tliron/commonlog"
)

// GraphColorRegalloc assigns physical registers to virtual ones by
// interference-graph coloring over live ranges, spilling by loop-depth
// weighted cost when a class runs out of colors.
type GraphColorRegalloc struct {
	layout    ir.DataLayout
	instrInfo target.InstructionInfo
	regInfo   target.RegisterInfo
	spiller   *target.Spiller
	log       commonlog.Logger
}

func NewGraphColorRegalloc(layout ir.DataLayout, instrInfo target.InstructionInfo, regInfo target.RegisterInfo) *GraphColorRegalloc {
	return &GraphColorRegalloc{
		layout:    layout,
		instrInfo: instrInfo,
		regInfo:   regInfo,
		spiller:   target.NewSpiller(instrInfo, regInfo),
		log:       commonlog.GetLogger("forge.regalloc"),
	}
}

func (p *GraphColorRegalloc) PassName() string { return "regalloc" }

func (p *GraphColorRegalloc) RunOnMachineFunction(fn *mir.Function) (bool, error) {
	live := newLiveness(p.instrInfo, p.regInfo)

	// spilling rewrites the code, so allocation restarts; the fresh
	// virtuals introduced by a spill have tiny ranges and never spill
	// again, which bounds the loop
	maxRounds := fn.RegisterInfo().NumVirtualRegisters() + 8
	for round := 0; round < maxRounds; round++ {
		live.compute(fn)
		assignment, spillCandidate, err := p.color(fn)
		if err != nil {
			return false, err
		}
		if spillCandidate != nil {
			p.log.Debugf("spilling v%d in %s", spillCandidate.ID, fn.Name)
			fn.RegisterInfo().AddSpill(spillCandidate.ID)
			p.spiller.Spill(spillCandidate, fn)
			continue
		}

		p.rewrite(fn, assignment)
		p.dropIdentityMoves(fn)
		// the save/restore pass wants physical liveness of the final code
		live.compute(fn)
		return true, nil
	}
	return false, errors.NewOutOfRegisters(fn.Name, "allocation did not converge")
}

type vregState struct {
	id     uint32
	class  uint32
	ranges []mir.LiveRange
	weight float64
	hint   uint32
	hasHint bool
}

// color computes an assignment, or picks a spill victim when some class
// runs out of registers.
func (p *GraphColorRegalloc) color(fn *mir.Function) (map[uint32]uint32, *mir.Register, error) {
	ri := fn.RegisterInfo()

	var vregs []*vregState
	byID := make(map[uint32]*vregState)
	for id := mir.VRegStart; id < mir.VRegStart+uint32(ri.NumVirtualRegisters()); id++ {
		ranges := sortedRanges(ri, id)
		if len(ranges) == 0 {
			continue
		}
		state := &vregState{
			id:     id,
			class:  ri.VirtualRegisterInfo(id).Class,
			ranges: ranges,
			weight: p.spillWeight(fn, id),
		}
		vregs = append(vregs, state)
		byID[id] = state
	}

	p.findHints(fn, byID)

	// physical ranges by canonical id
	physRanges := make(map[uint32][]mir.LiveRange)
	for reg := uint32(0); reg < uint32(p.regInfo.NumRegisters()); reg++ {
		if canon := p.regInfo.CanonicalRegister(reg); canon == reg {
			physRanges[reg] = ri.LiveRanges(reg)
		}
	}

	// allocate in range-start order for determinism
	sort.Slice(vregs, func(i, j int) bool {
		if vregs[i].ranges[0].Start != vregs[j].ranges[0].Start {
			return vregs[i].ranges[0].Start < vregs[j].ranges[0].Start
		}
		return vregs[i].id < vregs[j].id
	})

	overlaps := func(a, b []mir.LiveRange) bool {
		for _, ra := range a {
			for _, rb := range b {
				if ra.Overlaps(rb) {
					return true
				}
			}
		}
		return false
	}

	assignment := make(map[uint32]uint32)
	for _, v := range vregs {
		reserved := make(map[uint32]bool)
		for _, r := range p.regInfo.Reserved(v.class) {
			reserved[p.regInfo.CanonicalRegister(r)] = true
		}

		forbidden := make(map[uint32]bool)
		for canon, ranges := range physRanges {
			if overlaps(v.ranges, ranges) {
				forbidden[canon] = true
			}
		}
		for _, other := range vregs {
			if other == v {
				continue
			}
			assigned, ok := assignment[other.id]
			if !ok || !p.regInfo.ClassesOverlap(v.class, other.class) {
				continue
			}
			if overlaps(v.ranges, other.ranges) {
				forbidden[p.regInfo.CanonicalRegister(assigned)] = true
			}
		}

		pick := uint32(0)
		found := false
		candidates := p.regInfo.Available(v.class)
		if v.hasHint {
			if hinted, ok := p.regInfo.RegisterWithSize(v.hint, p.regInfo.Class(v.class).Size); ok {
				candidates = append([]uint32{hinted}, candidates...)
			}
		}
		for _, c := range candidates {
			canon := p.regInfo.CanonicalRegister(c)
			if reserved[canon] || forbidden[canon] {
				continue
			}
			if !containsReg(p.regInfo.Available(v.class), c) {
				continue
			}
			pick = c
			found = true
			break
		}

		if !found {
			victim := p.pickSpillVictim(fn, v, vregs, assignment, overlaps)
			if victim == nil {
				return nil, nil, errors.NewOutOfRegisters(fn.Name, "no colors and no spill candidate for class %d", v.class)
			}
			return nil, victim, nil
		}
		assignment[v.id] = pick
	}

	return assignment, nil, nil
}

// findHints records move-related physical registers so a virtual that is
// copied straight into (or out of) a physical prefers that color.
func (p *GraphColorRegalloc) findHints(fn *mir.Function, byID map[uint32]*vregState) {
	for _, b := range fn.Blocks() {
		for _, ins := range b.Instructions() {
			if !p.instrInfo.IsMove(ins.Op) || len(ins.Operands) < 2 {
				continue
			}
			dst, dok := ins.Operands[0].(*mir.Register)
			src, sok := ins.Operands[1].(*mir.Register)
			if !dok || !sok {
				continue
			}
			if dst.IsPhysical() && !src.IsPhysical() {
				if v, ok := byID[src.ID]; ok && !v.hasHint {
					v.hint = dst.ID
					v.hasHint = true
				}
			}
			if src.IsPhysical() && !dst.IsPhysical() {
				if v, ok := byID[dst.ID]; ok && !v.hasHint {
					v.hint = src.ID
					v.hasHint = true
				}
			}
		}
	}
}

// spillWeight scores how costly spilling a virtual is: occurrence count
// scaled by loop depth.
func (p *GraphColorRegalloc) spillWeight(fn *mir.Function, id uint32) float64 {
	weight := 0.0
	for _, b := range fn.Blocks() {
		depth := 0
		if b.IRBlock() != nil {
			depth = fn.IRFunction().LoopDepth(b.IRBlock())
		}
		factor := 1.0
		for i := 0; i < depth; i++ {
			factor *= 10
		}
		for _, ins := range b.Instructions() {
			for _, op := range ins.Operands {
				for _, reg := range registersOf(op) {
					if reg == id {
						weight += factor
					}
				}
			}
		}
	}
	return weight
}

func (p *GraphColorRegalloc) pickSpillVictim(fn *mir.Function, current *vregState, vregs []*vregState, assignment map[uint32]uint32, overlaps func(a, b []mir.LiveRange) bool) *mir.Register {
	spillable := func(v *vregState) bool {
		// fresh spill-shuttle virtuals have single-instruction ranges
		if len(v.ranges) == 1 && v.ranges[0].End-v.ranges[0].Start <= 1 {
			return false
		}
		return !fn.RegisterInfo().Spills()[v.id]
	}

	var victim *vregState
	consider := func(v *vregState) {
		if !spillable(v) {
			return
		}
		if victim == nil || v.weight < victim.weight {
			victim = v
		}
	}
	consider(current)
	for _, other := range vregs {
		if other == current {
			continue
		}
		if _, ok := assignment[other.id]; !ok {
			continue
		}
		if p.regInfo.ClassesOverlap(current.class, other.class) && overlaps(current.ranges, other.ranges) {
			consider(other)
		}
	}
	if victim == nil {
		return nil
	}
	return p.regInfo.Register(victim.id)
}

// rewrite replaces every virtual operand with its color and records the
// mapping.
func (p *GraphColorRegalloc) rewrite(fn *mir.Function, assignment map[uint32]uint32) {
	ri := fn.RegisterInfo()
	for virtual, physical := range assignment {
		ri.SetVPMapping(virtual, physical)
	}
	for _, b := range fn.Blocks() {
		for _, ins := range b.Instructions() {
			for n, op := range ins.Operands {
				switch op := op.(type) {
				case *mir.Register:
					if phys, ok := assignment[op.ID]; ok {
						ins.Operands[n] = p.physOperand(phys, op.Flags())
					}
				case *mir.Memory:
					if op.Base != nil && !op.Base.IsPhysical() {
						if phys, ok := assignment[op.Base.ID]; ok {
							op.Base = p.physOperand(phys, op.Base.Flags())
						}
					}
					if op.Index != nil && !op.Index.IsPhysical() {
						if phys, ok := assignment[op.Index.ID]; ok {
							op.Index = p.physOperand(phys, op.Index.Flags())
						}
					}
				}
			}
		}
	}
}

// physOperand resolves a colored register, honoring forced sub-register
// width flags left on the virtual operand.
func (p *GraphColorRegalloc) physOperand(phys uint32, flags int64) *mir.Register {
	size := 0
	switch {
	case flags&mir.Force64BitRegister != 0:
		size = 8
	case flags&mir.Force32BitRegister != 0:
		size = 4
	case flags&mir.Force16BitRegister != 0:
		size = 2
	case flags&mir.Force8BitRegister != 0:
		size = 1
	}
	if size != 0 {
		if alias, ok := p.regInfo.RegisterWithSize(phys, size); ok {
			return p.regInfo.Register(alias)
		}
	}
	return p.regInfo.Register(phys)
}

func (p *GraphColorRegalloc) dropIdentityMoves(fn *mir.Function) {
	for _, b := range fn.Blocks() {
		for i := 0; i < len(b.Instructions()); {
			ins := b.Instructions()[i]
			if p.instrInfo.IsMove(ins.Op) && len(ins.Operands) == 2 && ins.Operands[0].Equals(ins.Operands[1], true) {
				b.RemoveInstructionAt(i)
				continue
			}
			i++
		}
	}
}

func containsReg(list []uint32, reg uint32) bool {
	for _, r := range list {
		if r == reg {
			return true
		}
	}
	return false
}
