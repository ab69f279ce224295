package ir

// FunctionInlining splices small single-block callees into their callers.
type FunctionInlining struct {
	// MaxInstructions bounds the size of an inlinable callee.
	MaxInstructions int
}

func NewFunctionInlining() *FunctionInlining {
	return &FunctionInlining{MaxInstructions: 12}
}

func (p *FunctionInlining) PassName() string { return "inline" }

func (p *FunctionInlining) RunOnFunction(fn *Function) (bool, error) {
	changed := false
	for again := true; again; {
		again = false
		for _, b := range fn.Blocks() {
			for _, ins := range b.Instructions() {
				if ins.Op() != OpCall {
					continue
				}
				callee, ok := ins.Callee().(*Function)
				if !ok || !p.canInline(fn, callee) {
					continue
				}
				p.inline(b, ins, callee)
				changed = true
				again = true
				break
			}
			if again {
				break
			}
		}
	}
	return changed, nil
}

func (p *FunctionInlining) canInline(caller, callee *Function) bool {
	if callee == caller || !callee.HasBody() {
		return false
	}
	if len(callee.Blocks()) != 1 || callee.FunctionType().Variadic {
		return false
	}
	if callee.InstructionCount() > p.MaxInstructions {
		return false
	}
	// a lone block always ends in ret; allocas would need frame merging
	return len(callee.Allocations()) == 0
}

func (p *FunctionInlining) inline(b *Block, call *Instruction, callee *Function) {
	remap := make(map[Value]Value)
	for i, arg := range callee.Arguments() {
		remap[arg] = call.Args()[i]
	}

	var result Value
	for _, ins := range callee.EntryBlock().Instructions() {
		if ins.Op() == OpRet {
			if ins.NumOperands() > 0 {
				result = ins.Operand(0)
				if mapped, ok := remap[result]; ok {
					result = mapped
				}
			}
			break
		}
		clone := ins.Clone()
		for n, op := range clone.Operands() {
			if mapped, ok := remap[op]; ok {
				clone.setOperand(n, mapped)
			}
		}
		clone.SetName("")
		b.AddInstructionBefore(clone, call)
		remap[ins] = clone
	}

	if result != nil {
		b.Parent().Replace(call, result)
	}
	b.RemoveInstruction(call)
}
