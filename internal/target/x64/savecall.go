package x64

import (
	"forge/internal/mir"
	"forge/internal/target"
)

// SaveCallRegisters runs after allocation: it pushes caller-saved
// physicals live across each call and brackets the function body with
// the callee-saved registers it actually uses. Pushes are padded to
// keep the stack 16-byte aligned at call sites.
type SaveCallRegisters struct {
	regInfo   *RegisterInfo
	instrInfo *InstructionInfo
	pool      *mir.Pool

	visited map[*mir.Instruction]bool
}

func NewSaveCallRegisters(regInfo *RegisterInfo, instrInfo *InstructionInfo, pool *mir.Pool) *SaveCallRegisters {
	return &SaveCallRegisters{regInfo: regInfo, instrInfo: instrInfo, pool: pool}
}

func (p *SaveCallRegisters) PassName() string { return "save-call-registers" }

func (p *SaveCallRegisters) sameReg(a, b uint32) bool {
	return p.regInfo.IsSameRegister(a, b) ||
		p.regInfo.CanonicalRegister(a) == p.regInfo.CanonicalRegister(b)
}

func (p *SaveCallRegisters) RunOnMachineFunction(fn *mir.Function) (bool, error) {
	p.visited = make(map[*mir.Instruction]bool)

	p.saveCalleeSaved(fn)

	for _, b := range fn.Blocks() {
		for {
			changed := false
			for _, ins := range b.Instructions() {
				if ins.Op != Call && ins.Op != Call64r {
					continue
				}
				if p.saveCall(b, ins) {
					changed = true
					break
				}
			}
			if !changed {
				break
			}
		}
	}
	return true, nil
}

// saveCalleeSaved pushes used callee-saved registers after the prologue
// and pops them before every epilogue.
func (p *SaveCallRegisters) saveCalleeSaved(fn *mir.Function) {
	ri := fn.RegisterInfo()
	var pushed []*mir.Register
	for _, saveReg := range p.regInfo.CalleeSaved() {
		if saveReg == RBP {
			// the frame pointer is handled by the prologue itself
			continue
		}
		if !ri.IsRegisterEverLive(saveReg, p.sameReg) {
			continue
		}
		pushed = append(pushed, p.regInfo.Register(saveReg))
	}
	if len(pushed) == 0 {
		return
	}

	pad := len(pushed)%2 == 1
	entry := fn.EntryBlock()
	idx := fn.PrologueSize()
	for _, reg := range pushed {
		entry.AddInstructionAt(mir.NewInstruction(Push64r, reg), idx)
		idx++
	}
	if pad {
		entry.AddInstructionAt(mir.NewInstruction(Sub64r32i, p.regInfo.Register(RSP), p.pool.Imm(8, mir.Imm32)), idx)
	}

	for _, b := range fn.Blocks() {
		if !target.HasReturn(p.instrInfo, b) {
			continue
		}
		pos := b.Last() - b.EpilogueSize()
		if pad {
			b.AddInstructionAt(mir.NewInstruction(Add64r32i, p.regInfo.Register(RSP), p.pool.Imm(8, mir.Imm32)), pos)
			pos++
		}
		for i := len(pushed) - 1; i >= 0; i-- {
			b.AddInstructionAt(mir.NewInstruction(Pop64r, pushed[i]), pos)
			pos++
		}
	}
}

// saveCall brackets one call with pushes and pops of the caller-saved
// registers live across it.
func (p *SaveCallRegisters) saveCall(b *mir.Block, call *mir.Instruction) bool {
	if p.visited[call] {
		return false
	}
	p.visited[call] = true

	fn := b.Parent()
	var pushed []*mir.Register
	callIdx := fn.InstructionIndex(call)

	for _, saveReg := range p.regInfo.CallerSaved() {
		isReturnReg := false
		for _, retReg := range call.Call().ReturnRegs {
			if p.sameReg(saveReg, retReg) {
				isReturnReg = true
				break
			}
		}
		if isReturnReg {
			continue
		}
		isArgReg := false
		for _, argReg := range call.Call().ArgRegs {
			if p.sameReg(saveReg, argReg) {
				isArgReg = true
				break
			}
		}
		liveAfter := fn.RegisterInfo().IsRegisterLive(callIdx+call.Call().EndOffset, saveReg, p.sameReg)
		if isArgReg && !liveAfter {
			continue
		}
		if !fn.RegisterInfo().IsRegisterLive(callIdx, saveReg, p.sameReg) || !liveAfter {
			continue
		}
		pushed = append(pushed, p.regInfo.Register(saveReg))
	}
	if len(pushed) == 0 {
		return false
	}

	pad := len(pushed)%2 == 1

	// saves go before the argument set-up, restores after the return
	// value has been captured
	inIdx := b.InstructionIndex(call) - call.Call().StartOffset
	for _, reg := range pushed {
		b.AddInstructionAt(mir.NewInstruction(Push64r, reg), inIdx)
		inIdx++
	}
	if pad {
		b.AddInstructionAt(mir.NewInstruction(Sub64r32i, p.regInfo.Register(RSP), p.pool.Imm(8, mir.Imm32)), inIdx)
		inIdx++
	}

	inIdx = b.InstructionIndex(call) + call.Call().EndOffset
	if pad {
		b.AddInstructionAt(mir.NewInstruction(Add64r32i, p.regInfo.Register(RSP), p.pool.Imm(8, mir.Imm32)), inIdx)
		inIdx++
	}
	for i := len(pushed) - 1; i >= 0; i-- {
		b.AddInstructionAt(mir.NewInstruction(Pop64r, pushed[i]), inIdx)
		inIdx++
	}
	return true
}
