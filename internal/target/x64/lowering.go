package x64

import (
	"forge/internal/errors"
	"forge/internal/ir"
	"forge/internal/mir"
	"forge/internal/target"
)

// lowering expands the pseudo opcodes into x86-64 sequences and writes
// the frame prologue and epilogues.
type lowering struct {
	regInfo   *RegisterInfo
	instrInfo *InstructionInfo
	layout    ir.DataLayout
	spiller   *target.Spiller
	os        target.OS
	pool      *mir.Pool

	returns []*mir.Instruction

	usedGp, usedFp int
	vaSlots        map[*mir.Function]int
}

// NewLowering builds the shared lowering driver with the x86-64 hooks.
func NewLowering(regInfo *RegisterInfo, instrInfo *InstructionInfo, layout ir.DataLayout, spec target.Specification, level ir.OptimizationLevel, pool *mir.Pool) *target.Lowering {
	hooks := &lowering{
		regInfo:   regInfo,
		instrInfo: instrInfo,
		layout:    layout,
		spiller:   target.NewSpiller(instrInfo, regInfo),
		os:        spec.OS,
		pool:      pool,
		vaSlots:   make(map[*mir.Function]int),
	}
	return &target.Lowering{
		RegInfo:   regInfo,
		InstrInfo: instrInfo,
		Layout:    layout,
		Spiller:   hooks.spiller,
		Spec:      spec,
		OptLevel:  level,
		Pool:      pool,
		Hooks:     hooks,
	}
}

func (l *lowering) ccFunc(conv ir.CallingConvention) target.CCFunc {
	switch conv {
	case ir.CCX64SysV:
		return CCSysV
	case ir.CCWin64:
		return CCWin64
	}
	if l.os == target.Windows {
		return CCWin64
	}
	return CCSysV
}

type argInfo struct {
	op     mir.Operand
	typ    ir.Type
	assign target.ArgAssign
}

func (l *lowering) LowerCall(b *mir.Block, ins *mir.Instruction) (*mir.Instruction, error) {
	inIdx := b.InstructionIndex(ins)
	begin := inIdx
	b.RemoveInstruction(ins)

	info := target.NewCallInfo(l.regInfo, l.layout)
	info.AnalyzeCallOperands(l.ccFunc(ins.Conv), ins)

	// arguments whose source register is still wanted by a later
	// register assignment are deferred until that register drains
	var args []argInfo
	var pendingRegs []uint32
	for i := 2; i < len(ins.Operands); i++ {
		op := ins.Operands[i]
		switch op.Kind() {
		case mir.RegisterKind, mir.ImmediateIntKind, mir.FrameIndexKind:
		default:
			return nil, errors.NewBadOperand(b.Parent().Name, "call argument operand kind %d", op.Kind())
		}
		args = append(args, argInfo{op, ins.Types[i-1], info.ArgAssigns()[i-2]})
		if reg, ok := op.(*mir.Register); ok {
			pendingRegs = append(pendingRegs, reg.ID)
		}
	}

	var argRegs []uint32
	for len(args) > 0 {
		arg := args[0]
		args = args[1:]

		switch assign := arg.assign.(type) {
		case *target.RegisterAssign:
			conflict := false
			for _, reg := range pendingRegs {
				if l.regInfo.IsSameRegister(reg, assign.Register) {
					conflict = true
					break
				}
			}
			if conflict {
				args = append(args, arg)
				continue
			}
			dest := l.regInfo.Register(assign.Register)
			if fi, ok := arg.op.(*mir.FrameIndex); ok {
				slot := b.Parent().StackFrame().StackSlot(int(fi.Index))
				inIdx += l.instrInfo.StackSlotAddress(b, inIdx, slot, dest)
			} else {
				inIdx += l.instrInfo.Move(b, inIdx, arg.op, dest, l.layout.Size(arg.typ), ir.IsFloat(arg.typ))
			}
			argRegs = append(argRegs, assign.Register)

		case *target.StackAssign:
			slot := b.Parent().StackFrame().AddStackSlot(uint32(l.layout.Size(arg.typ)), uint32(l.layout.Alignment(arg.typ)))
			switch op := arg.op.(type) {
			case *mir.Register:
				inIdx += l.instrInfo.RegisterToStackSlot(b, inIdx, op, slot)
			case *mir.FrameIndex:
				reserved := l.regInfo.Register(reservedByClass[GPR64][len(reservedByClass[GPR64])-1])
				srcSlot := b.Parent().StackFrame().StackSlot(int(op.Index))
				inIdx += l.instrInfo.StackSlotAddress(b, inIdx, srcSlot, reserved)
				inIdx += l.instrInfo.RegisterToStackSlot(b, inIdx, reserved, slot)
			case *mir.ImmediateInt:
				inIdx += l.instrInfo.ImmediateToStackSlot(b, inIdx, op, slot)
			}
		}

		if reg, ok := arg.op.(*mir.Register); ok {
			for n, pending := range pendingRegs {
				if l.regInfo.IsSameRegister(pending, reg.ID) {
					pendingRegs = append(pendingRegs[:n], pendingRegs[n+1:]...)
					break
				}
			}
		}
	}

	if l.os == target.Windows {
		b.Parent().StackFrame().AddStackSlot(ShadowSpaceBytes, 16)
	}

	callPos := inIdx
	callTarget := ins.Operands[1]
	opcode := uint32(Call64r)
	if callTarget.Kind() == mir.GlobalAddressKind || callTarget.Kind() == mir.ExternalSymbolKind {
		opcode = Call
	}
	call := mir.NewCallInstruction(opcode, callTarget)
	call.Call().StartOffset = inIdx - begin
	call.Call().ArgRegs = argRegs
	b.AddInstructionAt(call, inIdx)
	inIdx++

	if ins.Operands[0] != nil && len(info.RetAssigns()) > 0 {
		result := ins.Operands[0]
		if result.Kind() != mir.RegisterKind && result.Kind() != mir.MultiValueKind {
			return nil, errors.NewBadOperand(b.Parent().Name, "call result operand kind %d", result.Kind())
		}
		for i, ret := range info.RetAssigns() {
			operand := result
			if multi, ok := result.(*mir.MultiValue); ok {
				operand = multi.Values[i]
			}
			if ra, ok := ret.(*target.RegisterAssign); ok {
				class := l.regInfo.RegisterIDClass(ra.Register, b.Parent().RegisterInfo())
				inIdx += l.instrInfo.Move(b, inIdx, l.regInfo.Register(ra.Register), operand, ra.Size, class == FPR)
				call.Call().ReturnRegs = append(call.Call().ReturnRegs, ra.Register)
			}
		}
	}
	call.Call().EndOffset = inIdx - callPos
	return call, nil
}

func (l *lowering) LowerReturn(b *mir.Block, ins *mir.Instruction) error {
	inIdx := b.InstructionIndex(ins)
	b.RemoveInstruction(ins)

	info := target.NewCallInfo(l.regInfo, l.layout)
	info.AnalyzeFormalArgs(l.ccFunc(b.Parent().IRFunction().CallingConvention()), b.Parent())

	if len(ins.Operands) > 0 {
		value := ins.Operands[0]
		for i, ret := range info.RetAssigns() {
			ra, ok := ret.(*target.RegisterAssign)
			if !ok {
				return errors.NewBadOperand(b.Parent().Name, "stack return values are not supported")
			}
			class := l.regInfo.RegisterIDClass(ra.Register, b.Parent().RegisterInfo())
			switch v := value.(type) {
			case *mir.Register, *mir.ImmediateInt:
				inIdx += l.instrInfo.Move(b, inIdx, v, l.regInfo.Register(ra.Register), ra.Size, class == FPR)
			case *mir.MultiValue:
				inIdx += l.instrInfo.Move(b, inIdx, v.Values[i], l.regInfo.Register(ra.Register), ra.Size, class == FPR)
			default:
				return errors.NewBadOperand(b.Parent().Name, "return operand %T", value)
			}
		}
	}

	ret := mir.NewInstruction(Ret)
	l.returns = append(l.returns, ret)
	b.AddInstructionAt(ret, inIdx)
	return nil
}

func (l *lowering) LowerFunction(fn *mir.Function) error {
	if functionHasCalls(fn) {
		fn.StackFrame().AddStackSlot(16, 16)
	}

	info := target.NewCallInfo(l.regInfo, l.layout)
	ccFunc := l.ccFunc(fn.IRFunction().CallingConvention())
	info.AnalyzeFormalArgs(ccFunc, fn)

	l.usedGp, l.usedFp = 0, 0
	var stackOffset int64
	for i, arg := range fn.Arguments() {
		switch assign := info.ArgAssigns()[i].(type) {
		case *target.RegisterAssign:
			fn.AddLiveIn(assign.Register)
			if arg != nil {
				fn.Replace(arg, l.regInfo.Register(assign.Register), true)
			}
			if l.regInfo.Desc(assign.Register).Class == FPR {
				l.usedFp++
			} else {
				l.usedGp++
			}
		case *target.StackAssign:
			t := fn.IRFunction().Arguments()[i].Type()
			stackOffset -= int64(l.layout.Size(t))
			slot := mir.StackSlot{Size: uint32(l.layout.Size(t)), Offset: stackOffset, Alignment: uint32(l.layout.Alignment(t))}
			l.spiller.SpillTo(arg.(*mir.Register), fn, slot)
		}
	}

	if fn.IRFunction().FunctionType().Variadic {
		l.ensureVaArea(fn)
	}

	size := alignedFrameSize(fn)
	entry := fn.EntryBlock()
	before := len(entry.Instructions())

	entry.AddInstructionAtFront(mir.NewInstruction(Push64r, l.regInfo.Register(RBP)))
	entry.AddInstructionAt(mir.NewInstruction(Mov64rr, l.regInfo.Register(RBP), l.regInfo.Register(RSP)), 1)
	next := 2
	if size > 0 {
		entry.AddInstructionAt(mir.NewInstruction(Sub64r32i, l.regInfo.Register(RSP), l.pool.Imm(int64(size), mir.Imm32)), 2)
		next++
	}
	if fn.IRFunction().FunctionType().Variadic {
		next += l.spillVarargRegisters(entry, next, fn)
	}
	fn.SetPrologueSize(len(entry.Instructions()) - before)

	for _, ret := range l.returns {
		b := ret.Parent()
		idx := b.InstructionIndex(ret)
		beg := len(b.Instructions())
		if size > 0 {
			b.AddInstructionAt(mir.NewInstruction(Add64r32i, l.regInfo.Register(RSP), l.pool.Imm(int64(size), mir.Imm32)), idx)
			idx++
		}
		b.AddInstructionAt(mir.NewInstruction(Pop64r, l.regInfo.Register(RBP)), idx)
		b.SetEpilogueSize(len(b.Instructions()) - beg + 1) // includes the ret
	}
	l.returns = nil
	return nil
}

func functionHasCalls(fn *mir.Function) bool {
	for _, b := range fn.Blocks() {
		for _, ins := range b.Instructions() {
			if ins.Op == Call || ins.Op == Call64r || ins.Op == mir.CallLowerOp {
				return true
			}
		}
	}
	return false
}

func alignedFrameSize(fn *mir.Function) uint32 {
	size := fn.StackFrame().Size()
	if rem := size % 16; rem != 0 {
		size += 16 - rem
	}
	return size
}

// ensureVaArea reserves the SysV register save area: 6 GPR slots then 8
// 16-byte vector slots.
func (l *lowering) ensureVaArea(fn *mir.Function) mir.StackSlot {
	idx, ok := l.vaSlots[fn]
	if !ok {
		fn.StackFrame().AddStackSlot(6*8+8*16, 16)
		idx = fn.StackFrame().NumStackSlots() - 1
		l.vaSlots[fn] = idx
	}
	return fn.StackFrame().StackSlot(idx)
}

// countUsedArgRegisters classifies the formal arguments to learn how many
// register slots the prologue consumed.
func (l *lowering) countUsedArgRegisters(fn *mir.Function) (gp, fp int) {
	info := target.NewCallInfo(l.regInfo, l.layout)
	info.AnalyzeFormalArgs(l.ccFunc(fn.IRFunction().CallingConvention()), fn)
	for _, assign := range info.ArgAssigns() {
		if ra, ok := assign.(*target.RegisterAssign); ok {
			if l.regInfo.Desc(ra.Register).Class == FPR {
				fp++
			} else {
				gp++
			}
		}
	}
	return gp, fp
}

func (l *lowering) spillVarargRegisters(b *mir.Block, pos int, fn *mir.Function) int {
	area := l.ensureVaArea(fn)
	inserted := 0
	gprs := []uint32{RDI, RSI, RDX, RCX, R8, R9}
	for i, reg := range gprs {
		if i < l.usedGp {
			continue
		}
		off := -area.Offset + int64(i*8)
		b.AddInstructionAt(mir.NewInstruction(Mov64mr, mir.NewMemory(l.regInfo.Register(RBP), off), l.regInfo.Register(reg)), pos+inserted)
		inserted++
	}
	fprs := []uint32{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7}
	for i, reg := range fprs {
		if i < l.usedFp {
			continue
		}
		off := -area.Offset + 48 + int64(i*16)
		b.AddInstructionAt(mir.NewInstruction(Movsdmr, mir.NewMemory(l.regInfo.Register(RBP), off), l.regInfo.Register(reg)), pos+inserted)
		inserted++
	}
	return inserted
}

func (l *lowering) LowerSwitch(b *mir.Block, ins *mir.Instruction) error {
	inIdx := b.InstructionIndex(ins)
	b.RemoveInstruction(ins)

	cases := ins.SwitchTargets()
	if len(cases) == 0 {
		b.AddInstructionAt(mir.NewInstruction(Jmp, ins.SwitchDefault()), inIdx)
		return nil
	}

	minVal, maxVal := cases[0].Value.Value, cases[0].Value.Value
	for _, c := range cases[1:] {
		if c.Value.Value < minVal {
			minVal = c.Value.Value
		}
		if c.Value.Value > maxVal {
			maxVal = c.Value.Value
		}
	}
	span := maxVal - minVal + 1
	density := float64(len(cases)) / float64(span)

	if density < 0.5 {
		return l.lowerSwitchCascade(b, ins, inIdx)
	}
	return l.lowerSwitchTable(b, ins, inIdx, minVal, maxVal)
}

// lowerSwitchCascade compares case by case; sparse switches take this
// path.
func (l *lowering) lowerSwitchCascade(b *mir.Block, ins *mir.Instruction, inIdx int) error {
	cond := ins.SwitchCondition()
	size := 8
	condReg, ok := cond.(*mir.Register)
	if !ok {
		tmp := l.regInfo.Register(b.Parent().RegisterInfo().NextVirtualRegister(GPR64, nil))
		inIdx += l.instrInfo.Move(b, inIdx, cond, tmp, size, false)
		condReg = tmp
	} else {
		condReg = mir.CloneWithFlags(condReg, mir.Force64BitRegister).(*mir.Register)
	}

	for _, c := range ins.SwitchTargets() {
		b.AddInstructionAt(mir.NewInstruction(Cmp64r32i, condReg, l.pool.Imm(c.Value.Value, mir.Imm32)), inIdx)
		inIdx++
		b.AddInstructionAt(mir.NewInstruction(Je, c.Block), inIdx)
		inIdx++
	}
	b.AddInstructionAt(mir.NewInstruction(Jmp, ins.SwitchDefault()), inIdx)
	return nil
}

// lowerSwitchTable emits a rip-relative jump table indexed by the
// range-checked condition.
func (l *lowering) lowerSwitchTable(b *mir.Block, ins *mir.Instruction, inIdx int, minVal, maxVal int64) error {
	fn := b.Parent()
	unit := fn.IRFunction().Unit()
	ctx := unit.Context()

	blocks := make(map[int64]*ir.Block)
	for _, c := range ins.SwitchTargets() {
		blocks[c.Value.Value] = c.Block.IRBlock()
	}
	var table []ir.Value
	for v := minVal; v <= maxVal; v++ {
		if blk, ok := blocks[v]; ok {
			table = append(table, blk)
			continue
		}
		table = append(table, ins.SwitchDefault().IRBlock())
	}

	voidPtr := ctx.PointerType(ctx.Void())
	array := ctx.ConstantArray(ctx.ArrayType(voidPtr, uint32(len(table))), table)
	global := unit.GetOrInsertGlobal(array.Type(), array, ir.InternalLinkage, "")

	tableReg := l.regInfo.Register(fn.RegisterInfo().NextVirtualRegister(GPR64, nil))
	mem := mir.NewMemory(l.regInfo.Register(RIP), 0)
	mem.Sym = mir.NewGlobalAddress(global)
	b.AddInstructionAt(mir.NewInstruction(Lea64rm, tableReg, mem), inIdx)
	inIdx++

	index := ins.SwitchCondition()
	if imm, ok := index.(*mir.ImmediateInt); ok {
		tmp := l.regInfo.Register(fn.RegisterInfo().NextVirtualRegister(GPR64, nil))
		inIdx += l.instrInfo.Move(b, inIdx, imm, tmp, 8, false)
		index = tmp
	} else if reg, ok := index.(*mir.Register); ok {
		// the table math runs on the 64-bit alias; a fresh copy keeps
		// the original value intact
		tmp := l.regInfo.Register(fn.RegisterInfo().NextVirtualRegister(GPR64, nil))
		inIdx += l.instrInfo.Move(b, inIdx, mir.CloneWithFlags(reg, mir.Force64BitRegister), tmp, 8, false)
		index = tmp
	}
	indexReg := index.(*mir.Register)

	b.AddInstructionAt(mir.NewInstruction(Cmp64r32i, indexReg, l.pool.Imm(minVal, mir.Imm32)), inIdx)
	inIdx++
	b.AddInstructionAt(mir.NewInstruction(Jl, ins.SwitchDefault()), inIdx)
	inIdx++
	b.AddInstructionAt(mir.NewInstruction(Cmp64r32i, indexReg, l.pool.Imm(maxVal, mir.Imm32)), inIdx)
	inIdx++
	b.AddInstructionAt(mir.NewInstruction(Jg, ins.SwitchDefault()), inIdx)
	inIdx++

	if minVal != 0 {
		b.AddInstructionAt(mir.NewInstruction(Sub64r32i, indexReg, l.pool.Imm(minVal, mir.Imm32)), inIdx)
		inIdx++
	}

	load := mir.NewMemory(tableReg, 0)
	load.Index = indexReg
	load.Scale = 8
	b.AddInstructionAt(mir.NewInstruction(Mov64rm, tableReg, load), inIdx)
	inIdx++
	b.AddInstructionAt(mir.NewInstruction(Jmp64r, tableReg), inIdx)
	return nil
}

func (l *lowering) LowerVaStart(b *mir.Block, ins *mir.Instruction) error {
	inIdx := b.InstructionIndex(ins)
	b.RemoveInstruction(ins)
	fn := b.Parent()

	base, baseOk := ins.Operands[0].(*mir.Register)
	if !baseOk {
		fi, ok := ins.Operands[0].(*mir.FrameIndex)
		if !ok {
			return errors.NewBadOperand(fn.Name, "va_start list operand %T", ins.Operands[0])
		}
		base = l.regInfo.Register(reservedByClass[GPR64][len(reservedByClass[GPR64])-1])
		slot := fn.StackFrame().StackSlot(int(fi.Index))
		inIdx += l.instrInfo.StackSlotAddress(b, inIdx, slot, base)
	}

	area := l.ensureVaArea(fn)
	usedGp, usedFp := l.countUsedArgRegisters(fn)
	tmp := l.regInfo.Register(fn.RegisterInfo().NextVirtualRegister(GPR64, nil))

	// gp_offset, fp_offset
	b.AddInstructionAt(mir.NewInstruction(Mov32mi, mir.NewMemory(base, 0), l.pool.Imm(int64(usedGp*8), mir.Imm32)), inIdx)
	inIdx++
	b.AddInstructionAt(mir.NewInstruction(Mov32mi, mir.NewMemory(base, 4), l.pool.Imm(int64(48+usedFp*16), mir.Imm32)), inIdx)
	inIdx++

	// overflow_arg_area = rbp + 16
	b.AddInstructionAt(mir.NewInstruction(Lea64rm, tmp, mir.NewMemory(l.regInfo.Register(RBP), 16)), inIdx)
	inIdx++
	b.AddInstructionAt(mir.NewInstruction(Mov64mr, mir.NewMemory(base, 8), tmp), inIdx)
	inIdx++

	// reg_save_area
	b.AddInstructionAt(mir.NewInstruction(Lea64rm, tmp, mir.NewMemory(l.regInfo.Register(RBP), -area.Offset)), inIdx)
	inIdx++
	b.AddInstructionAt(mir.NewInstruction(Mov64mr, mir.NewMemory(base, 16), tmp), inIdx)
	return nil
}

func (l *lowering) LowerVaEnd(b *mir.Block, ins *mir.Instruction) error {
	b.RemoveInstruction(ins)
	return nil
}
