package ir

// CFGSimplification merges straight-line blocks, drops unreachable blocks
// and threads empty forwarding blocks.
type CFGSimplification struct{}

func NewCFGSimplification() *CFGSimplification { return &CFGSimplification{} }

func (p *CFGSimplification) PassName() string { return "simplifycfg" }

func (p *CFGSimplification) RunOnFunction(fn *Function) (bool, error) {
	if !fn.HasBody() {
		return false, nil
	}
	changed := p.mergeBlocks(fn)
	changed = p.removeUnreachable(fn) || changed
	changed = p.replaceEmpty(fn) || changed
	return changed, nil
}

// mergeBlocks folds a block into its unique jump-only successor when that
// successor has no other predecessors and is not a loop header.
func (p *CFGSimplification) mergeBlocks(fn *Function) bool {
	changed := false
	for again := true; again; {
		again = false
		for _, b := range fn.Blocks() {
			term := b.Terminator()
			if term == nil || !term.IsJump() || term.NumOperands() > 1 {
				continue
			}
			to := term.Operand(0).(*Block)
			if len(to.Predecessors()) > 1 || fn.IsLoopHeader(to) || to == b {
				continue
			}
			b.RemoveInstruction(term)
			fn.Replace(to, b)
			fn.MergeBlocks(b, to)
			changed = true
			again = true
			break
		}
	}
	return changed
}

func (p *CFGSimplification) removeUnreachable(fn *Function) bool {
	changed := false
	for again := true; again; {
		again = false
		for _, b := range fn.Blocks() {
			if b == fn.EntryBlock() || len(b.Predecessors()) > 0 {
				continue
			}
			// drop phi incomings routed through the dying block
			for s := range b.Successors() {
				for _, ins := range s.Instructions() {
					if ins.Op() == OpPhi {
						ins.RemoveOperand(b)
					}
				}
			}
			fn.RemoveBlock(b)
			changed = true
			again = true
			break
		}
	}
	return changed
}

// replaceEmpty forwards jumps through blocks that contain only an
// unconditional jump, fixing up phis in the target.
func (p *CFGSimplification) replaceEmpty(fn *Function) bool {
	changed := false
	for again := true; again; {
		again = false
		for _, b := range fn.Blocks() {
			if b == fn.EntryBlock() || len(b.Instructions()) != 1 {
				continue
			}
			term := b.Terminator()
			if term == nil || !term.IsJump() || term.NumOperands() > 1 {
				continue
			}
			target := term.Operand(0).(*Block)
			if target == b {
				continue
			}

			// a phi that already has incomings from our predecessors
			// would end up with conflicting edges
			skip := false
			var phis []*Instruction
			for _, ins := range target.Instructions() {
				if ins.Op() != OpPhi {
					continue
				}
				phis = append(phis, ins)
				for _, in := range ins.Incomings() {
					if _, ok := b.Predecessors()[in.Block]; ok {
						skip = true
					}
				}
			}
			if skip {
				continue
			}

			for _, phi := range phis {
				var through Value
				for _, in := range phi.Incomings() {
					if in.Block == b {
						through = in.Value
						break
					}
				}
				if through == nil {
					continue
				}
				phi.RemoveOperand(b)
				for pred := range b.Predecessors() {
					phi.AddIncoming(through, pred)
				}
			}

			fn.Replace(b, target)
			fn.RemoveBlock(b)
			changed = true
			again = true
			break
		}
	}
	return changed
}
