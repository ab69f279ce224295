package aarch64

import (
	"forge/internal/mir"
	"forge/internal/target"
)

// SaveCallRegisters runs after allocation: caller-saved physicals live
// across each call are saved in 16-byte stp/ldp pairs (with xzr as
// filler), and used callee-saved registers bracket the function body.
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

// push stores reg (paired with xzr) at a fresh 16-byte stack chunk.
func (p *SaveCallRegisters) push(b *mir.Block, pos int, reg *mir.Register) int {
	b.AddInstructionAt(mir.NewInstruction(Stp64pre,
		reg, p.regInfo.Register(XZR), p.regInfo.Register(SP), p.pool.Imm(-16, mir.Imm16)), pos)
	return 1
}

func (p *SaveCallRegisters) pop(b *mir.Block, pos int, reg *mir.Register) int {
	b.AddInstructionAt(mir.NewInstruction(Ldp64post,
		reg, p.regInfo.Register(XZR), p.regInfo.Register(SP), p.pool.Imm(16, mir.Imm16)), pos)
	return 1
}

func (p *SaveCallRegisters) RunOnMachineFunction(fn *mir.Function) (bool, error) {
	p.visited = make(map[*mir.Instruction]bool)

	p.saveCalleeSaved(fn)

	for _, b := range fn.Blocks() {
		for {
			changed := false
			for _, ins := range b.Instructions() {
				if ins.Op != Bl && ins.Op != Blr {
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

func (p *SaveCallRegisters) saveCalleeSaved(fn *mir.Function) {
	ri := fn.RegisterInfo()
	var pushed []*mir.Register
	for _, saveReg := range p.regInfo.CalleeSaved() {
		if !ri.IsRegisterEverLive(saveReg, p.sameReg) {
			continue
		}
		pushed = append(pushed, p.regInfo.Register(saveReg))
	}
	if len(pushed) == 0 {
		return
	}

	entry := fn.EntryBlock()
	idx := fn.PrologueSize()
	for _, reg := range pushed {
		idx += p.push(entry, idx, reg)
	}

	for _, b := range fn.Blocks() {
		if !target.HasReturn(p.instrInfo, b) {
			continue
		}
		pos := b.Last() - b.EpilogueSize()
		for i := len(pushed) - 1; i >= 0; i-- {
			pos += p.pop(b, pos, pushed[i])
		}
	}
}

func (p *SaveCallRegisters) saveCall(b *mir.Block, call *mir.Instruction) bool {
	if p.visited[call] {
		return false
	}
	p.visited[call] = true

	fn := b.Parent()
	callIdx := fn.InstructionIndex(call)
	var pushed []*mir.Register

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

	inIdx := b.InstructionIndex(call) - call.Call().StartOffset
	for _, reg := range pushed {
		inIdx += p.push(b, inIdx, reg)
	}

	inIdx = b.InstructionIndex(call) + call.Call().EndOffset
	for i := len(pushed) - 1; i >= 0; i-- {
		inIdx += p.pop(b, inIdx, pushed[i])
	}
	return true
}
