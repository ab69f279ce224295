package ir

// Mem2Reg promotes allocas whose only uses are scalar loads and stores
// into SSA registers, inserting phis at iterated dominance frontiers.
type Mem2Reg struct {
	ctx *Context
}

func NewMem2Reg(ctx *Context) *Mem2Reg { return &Mem2Reg{ctx: ctx} }

func (p *Mem2Reg) PassName() string { return "mem2reg" }

func (p *Mem2Reg) RunOnFunction(fn *Function) (bool, error) {
	if !fn.HasBody() {
		return false, nil
	}

	var promotable []*Instruction
	for _, alloca := range fn.Allocations() {
		if p.isPromotable(alloca) {
			promotable = append(promotable, alloca)
		}
	}
	if len(promotable) == 0 {
		return false, nil
	}

	frontiers := dominanceFrontiers(fn)
	for _, alloca := range promotable {
		p.promote(fn, alloca, frontiers)
	}
	return true, nil
}

func (p *Mem2Reg) isPromotable(alloca *Instruction) bool {
	pointee := alloca.Type().(*PointerType).Pointee
	switch pointee.Kind() {
	case IntegerTypeKind, FloatTypeKind, PointerTypeKind:
	default:
		return false
	}
	for _, use := range alloca.Uses() {
		switch use.Op() {
		case OpLoad:
		case OpStore:
			// the alloca must be the address, never the stored value
			if use.Stored() == alloca {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// dominanceFrontiers derives DF(b) from the dominator sets.
func dominanceFrontiers(fn *Function) map[*Block]map[*Block]bool {
	fn.ensureDominators()
	df := make(map[*Block]map[*Block]bool)
	for _, y := range fn.blocks {
		if len(y.predecessors) < 2 {
			continue
		}
		for pred := range y.predecessors {
			runner := pred
			for runner != nil && runner != fn.idoms[y] {
				if df[runner] == nil {
					df[runner] = make(map[*Block]bool)
				}
				df[runner][y] = true
				runner = fn.idoms[runner]
			}
		}
	}
	return df
}

func (p *Mem2Reg) promote(fn *Function, alloca *Instruction, frontiers map[*Block]map[*Block]bool) {
	pointee := alloca.Type().(*PointerType).Pointee

	defBlocks := make(map[*Block]bool)
	for _, use := range alloca.Uses() {
		if use.Op() == OpStore {
			defBlocks[use.Parent()] = true
		}
	}

	// iterated dominance frontier gives the phi sites
	phiBlocks := make(map[*Block]*Instruction)
	work := make([]*Block, 0, len(defBlocks))
	for b := range defBlocks {
		work = append(work, b)
	}
	seen := make(map[*Block]bool)
	for len(work) > 0 {
		b := work[len(work)-1]
		work = work[:len(work)-1]
		for y := range frontiers[b] {
			if phiBlocks[y] != nil {
				continue
			}
			phi := NewPhi(pointee, alloca, "")
			y.AddInstructionAtFront(phi)
			y.SetPhiForValue(alloca, phi)
			phiBlocks[y] = phi
			if !seen[y] {
				seen[y] = true
				work = append(work, y)
			}
		}
	}

	// rename along the dominator tree
	children := make(map[*Block][]*Block)
	for _, b := range fn.blocks {
		if idom := fn.idoms[b]; idom != nil {
			children[idom] = append(children[idom], b)
		}
	}

	var removed []*Instruction
	var rename func(b *Block, incoming Value)
	rename = func(b *Block, incoming Value) {
		if phi := phiBlocks[b]; phi != nil {
			incoming = phi
		}
		for _, ins := range append([]*Instruction(nil), b.instructions...) {
			switch {
			case ins.Op() == OpLoad && ins.Pointer() == alloca:
				v := incoming
				if v == nil {
					v = p.ctx.Undef(pointee)
				}
				fn.Replace(ins, v)
				removed = append(removed, ins)
			case ins.Op() == OpStore && ins.Pointer() == alloca:
				incoming = ins.Stored()
				removed = append(removed, ins)
			}
		}
		for s := range b.successors {
			if phi := phiBlocks[s]; phi != nil {
				v := incoming
				if v == nil {
					v = p.ctx.Undef(pointee)
				}
				phi.AddIncoming(v, b)
			}
		}
		for _, c := range children[b] {
			rename(c, incoming)
		}
	}
	rename(fn.EntryBlock(), nil)

	for _, ins := range removed {
		ins.Parent().RemoveInstruction(ins)
	}
	alloca.Parent().RemoveInstruction(alloca)
}
