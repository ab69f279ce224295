package aarch64

import (
	"forge/internal/errors"
	"forge/internal/ir"
	"forge/internal/mir"
	"forge/internal/target"
)

// lowering expands the pseudo opcodes into AArch64 sequences and writes
// the frame prologue and epilogues.
type lowering struct {
	regInfo   *RegisterInfo
	instrInfo *InstructionInfo
	layout    ir.DataLayout
	spiller   *target.Spiller
	spec      target.Specification
	pool      *mir.Pool

	returns []*mir.Instruction
	vaSlots map[*mir.Function]int
}

// NewLowering builds the shared lowering driver with the AArch64 hooks.
func NewLowering(regInfo *RegisterInfo, instrInfo *InstructionInfo, layout ir.DataLayout, spec target.Specification, level ir.OptimizationLevel, pool *mir.Pool) *target.Lowering {
	hooks := &lowering{
		regInfo:   regInfo,
		instrInfo: instrInfo,
		layout:    layout,
		spiller:   target.NewSpiller(instrInfo, regInfo),
		spec:      spec,
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
	info.AnalyzeCallOperands(CCAAPCS64, ins)

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
				scratch := l.regInfo.Register(X16)
				srcSlot := b.Parent().StackFrame().StackSlot(int(op.Index))
				inIdx += l.instrInfo.StackSlotAddress(b, inIdx, srcSlot, scratch)
				inIdx += l.instrInfo.RegisterToStackSlot(b, inIdx, scratch, slot)
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

	callPos := inIdx
	callTarget := ins.Operands[1]
	opcode := uint32(Blr)
	if callTarget.Kind() == mir.GlobalAddressKind || callTarget.Kind() == mir.ExternalSymbolKind {
		opcode = Bl
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
				inIdx += l.instrInfo.Move(b, inIdx, l.regInfo.Register(ra.Register), operand, ra.Size, l.regInfo.IsFloatClass(class))
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
	info.AnalyzeFormalArgs(CCAAPCS64, b.Parent())

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
				inIdx += l.instrInfo.Move(b, inIdx, v, l.regInfo.Register(ra.Register), ra.Size, l.regInfo.IsFloatClass(class))
			case *mir.MultiValue:
				inIdx += l.instrInfo.Move(b, inIdx, v.Values[i], l.regInfo.Register(ra.Register), ra.Size, l.regInfo.IsFloatClass(class))
			default:
				return errors.NewBadOperand(b.Parent().Name, "return operand %T", value)
			}
		}
	}

	ret := mir.NewInstruction(RetOp)
	l.returns = append(l.returns, ret)
	b.AddInstructionAt(ret, inIdx)
	return nil
}

func (l *lowering) LowerFunction(fn *mir.Function) error {
	info := target.NewCallInfo(l.regInfo, l.layout)
	info.AnalyzeFormalArgs(CCAAPCS64, fn)

	usedGp, usedFp := 0, 0
	var stackOffset int64
	for i, arg := range fn.Arguments() {
		switch assign := info.ArgAssigns()[i].(type) {
		case *target.RegisterAssign:
			fn.AddLiveIn(assign.Register)
			if arg != nil {
				fn.Replace(arg, l.regInfo.Register(assign.Register), true)
			}
			if l.regInfo.IsFloatClass(l.regInfo.Desc(assign.Register).Class) {
				usedFp++
			} else {
				usedGp++
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

	sp := l.regInfo.Register(SP)
	entry.AddInstructionAtFront(mir.NewInstruction(Stp64pre,
		l.regInfo.Register(X29), l.regInfo.Register(X30), sp, l.pool.Imm(-16, mir.Imm16)))
	entry.AddInstructionAt(mir.NewInstruction(Mov64rr, l.regInfo.Register(X29), sp), 1)
	next := 2
	if size > 0 {
		if size < 4096 {
			entry.AddInstructionAt(mir.NewInstruction(Sub64ri, sp, sp, l.pool.Imm(int64(size), mir.Imm16)), next)
			next++
		} else {
			scratch, inserted := l.instrInfo.MaterializeImmediate(entry, next, int64(size), 8)
			next += inserted
			entry.AddInstructionAt(mir.NewInstruction(Sub64rr, sp, sp, l.instrInfo.widen(scratch)), next)
			next++
		}
	}
	if fn.IRFunction().FunctionType().Variadic {
		next += l.spillVarargRegisters(entry, next, fn, usedGp, usedFp)
	}
	fn.SetPrologueSize(len(entry.Instructions()) - before)

	for _, ret := range l.returns {
		b := ret.Parent()
		idx := b.InstructionIndex(ret)
		beg := len(b.Instructions())
		if size > 0 {
			if size < 4096 {
				b.AddInstructionAt(mir.NewInstruction(Add64ri, sp, sp, l.pool.Imm(int64(size), mir.Imm16)), idx)
				idx++
			} else {
				scratch, inserted := l.instrInfo.MaterializeImmediate(b, idx, int64(size), 8)
				idx += inserted
				b.AddInstructionAt(mir.NewInstruction(Add64rr, sp, sp, l.instrInfo.widen(scratch)), idx)
				idx++
			}
		}
		b.AddInstructionAt(mir.NewInstruction(Ldp64post,
			l.regInfo.Register(X29), l.regInfo.Register(X30), sp, l.pool.Imm(16, mir.Imm16)), idx)
		b.SetEpilogueSize(len(b.Instructions()) - beg + 1) // includes the ret
	}
	l.returns = nil
	return nil
}

func alignedFrameSize(fn *mir.Function) uint32 {
	size := fn.StackFrame().Size()
	if rem := size % 16; rem != 0 {
		size += 16 - rem
	}
	return size
}

// ensureVaArea reserves the AAPCS64 register save area: 8 GPR slots then
// 8 16-byte vector slots.
func (l *lowering) ensureVaArea(fn *mir.Function) mir.StackSlot {
	idx, ok := l.vaSlots[fn]
	if !ok {
		fn.StackFrame().AddStackSlot(8*8+8*16, 16)
		idx = fn.StackFrame().NumStackSlots() - 1
		l.vaSlots[fn] = idx
	}
	return fn.StackFrame().StackSlot(idx)
}

func (l *lowering) spillVarargRegisters(b *mir.Block, pos int, fn *mir.Function, usedGp, usedFp int) int {
	area := l.ensureVaArea(fn)
	inserted := 0
	scratch := l.regInfo.Register(X16)

	gprs := []uint32{X0, X1, X2, X3, X4, X5, X6, X7}
	for i, reg := range gprs {
		if i < usedGp {
			continue
		}
		off := -area.Offset + int64(i*8)
		inserted += l.storeAt(b, pos+inserted, l.regInfo.Register(reg), off, scratch, Str64rm)
	}
	fprs := []uint32{D0, D1, D2, D3, D4, D5, D6, D7}
	for i, reg := range fprs {
		if i < usedFp {
			continue
		}
		off := -area.Offset + 64 + int64(i*16)
		inserted += l.storeAt(b, pos+inserted, l.regInfo.Register(reg), off, scratch, StrD64rm)
	}
	return inserted
}

// storeAt stores reg at [x29 + off], routing large offsets through the
// scratch register.
func (l *lowering) storeAt(b *mir.Block, pos int, reg *mir.Register, off int64, scratch *mir.Register, op uint32) int {
	if off >= -256 && off < 4096 {
		b.AddInstructionAt(mir.NewInstruction(op, reg, mir.NewMemory(l.regInfo.Register(X29), off)), pos)
		return 1
	}
	inserted := l.instrInfo.StackSlotAddress(b, pos, mir.StackSlot{Offset: -off}, scratch)
	b.AddInstructionAt(mir.NewInstruction(op, reg, mir.NewMemory(scratch, 0)), pos+inserted)
	return inserted + 1
}

func (l *lowering) LowerSwitch(b *mir.Block, ins *mir.Instruction) error {
	inIdx := b.InstructionIndex(ins)
	b.RemoveInstruction(ins)

	cases := ins.SwitchTargets()
	if len(cases) == 0 {
		b.AddInstructionAt(mir.NewInstruction(B, ins.SwitchDefault()), inIdx)
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

func (l *lowering) lowerSwitchCascade(b *mir.Block, ins *mir.Instruction, inIdx int) error {
	fn := b.Parent()
	cond := ins.SwitchCondition()
	condReg, ok := cond.(*mir.Register)
	if !ok {
		tmp := l.regInfo.Register(fn.RegisterInfo().NextVirtualRegister(GPR64, nil))
		inIdx += l.instrInfo.Move(b, inIdx, cond, tmp, 8, false)
		condReg = tmp
	} else {
		condReg = mir.CloneWithFlags(condReg, mir.Force64BitRegister).(*mir.Register)
	}

	for _, c := range ins.SwitchTargets() {
		if c.Value.Value >= 0 && c.Value.Value < 4096 {
			b.AddInstructionAt(mir.NewInstruction(Cmp64ri, condReg, l.pool.Imm(c.Value.Value, mir.Imm16)), inIdx)
			inIdx++
		} else {
			cmpVal, inserted := l.instrInfo.MaterializeImmediate(b, inIdx, c.Value.Value, 8)
			inIdx += inserted
			b.AddInstructionAt(mir.NewInstruction(Cmp64rr, condReg, l.instrInfo.widen(cmpVal)), inIdx)
			inIdx++
		}
		b.AddInstructionAt(mir.NewInstruction(Beq, c.Block), inIdx)
		inIdx++
	}
	b.AddInstructionAt(mir.NewInstruction(B, ins.SwitchDefault()), inIdx)
	return nil
}

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
	sym := mir.NewGlobalAddress(global)
	b.AddInstructionAt(mir.NewInstruction(AdrpSym, tableReg, sym), inIdx)
	inIdx++
	b.AddInstructionAt(mir.NewInstruction(AddLo12, tableReg, tableReg, sym), inIdx)
	inIdx++

	index := ins.SwitchCondition()
	tmp := l.regInfo.Register(fn.RegisterInfo().NextVirtualRegister(GPR64, nil))
	if imm, ok := index.(*mir.ImmediateInt); ok {
		inIdx += l.instrInfo.Move(b, inIdx, imm, tmp, 8, false)
	} else {
		inIdx += l.instrInfo.Move(b, inIdx, mir.CloneWithFlags(index.(*mir.Register), mir.Force64BitRegister), tmp, 8, false)
	}
	indexReg := tmp

	rangeCheck := func(value int64, branch uint32) {
		if value >= 0 && value < 4096 {
			b.AddInstructionAt(mir.NewInstruction(Cmp64ri, indexReg, l.pool.Imm(value, mir.Imm16)), inIdx)
			inIdx++
		} else {
			cmpVal, inserted := l.instrInfo.MaterializeImmediate(b, inIdx, value, 8)
			inIdx += inserted
			b.AddInstructionAt(mir.NewInstruction(Cmp64rr, indexReg, l.instrInfo.widen(cmpVal)), inIdx)
			inIdx++
		}
		b.AddInstructionAt(mir.NewInstruction(branch, ins.SwitchDefault()), inIdx)
		inIdx++
	}
	rangeCheck(minVal, Blt)
	rangeCheck(maxVal, Bgt)

	if minVal != 0 {
		if minVal > 0 && minVal < 4096 {
			b.AddInstructionAt(mir.NewInstruction(Sub64ri, indexReg, indexReg, l.pool.Imm(minVal, mir.Imm16)), inIdx)
			inIdx++
		} else {
			minReg, inserted := l.instrInfo.MaterializeImmediate(b, inIdx, minVal, 8)
			inIdx += inserted
			b.AddInstructionAt(mir.NewInstruction(Sub64rr, indexReg, indexReg, l.instrInfo.widen(minReg)), inIdx)
			inIdx++
		}
	}

	load := mir.NewMemory(tableReg, 0)
	load.Index = indexReg
	load.Scale = 8
	b.AddInstructionAt(mir.NewInstruction(Ldr64rm, tableReg, load), inIdx)
	inIdx++
	b.AddInstructionAt(mir.NewInstruction(Br, tableReg), inIdx)
	return nil
}

func (l *lowering) LowerVaStart(b *mir.Block, ins *mir.Instruction) error {
	inIdx := b.InstructionIndex(ins)
	b.RemoveInstruction(ins)
	fn := b.Parent()

	base, ok := ins.Operands[0].(*mir.Register)
	if !ok {
		fi, isFrame := ins.Operands[0].(*mir.FrameIndex)
		if !isFrame {
			return errors.NewBadOperand(fn.Name, "va_start list operand %T", ins.Operands[0])
		}
		base = l.regInfo.Register(X16)
		slot := fn.StackFrame().StackSlot(int(fi.Index))
		inIdx += l.instrInfo.StackSlotAddress(b, inIdx, slot, base)
	}

	area := l.ensureVaArea(fn)
	usedGp, usedFp := 0, 0
	info := target.NewCallInfo(l.regInfo, l.layout)
	info.AnalyzeFormalArgs(CCAAPCS64, fn)
	for _, assign := range info.ArgAssigns() {
		if ra, isReg := assign.(*target.RegisterAssign); isReg {
			if l.regInfo.IsFloatClass(l.regInfo.Desc(ra.Register).Class) {
				usedFp++
			} else {
				usedGp++
			}
		}
	}

	tmp := l.regInfo.Register(fn.RegisterInfo().NextVirtualRegister(GPR64, nil))

	// stack argument area starts above the saved frame record
	b.AddInstructionAt(mir.NewInstruction(Add64ri, tmp, l.regInfo.Register(X29), l.pool.Imm(16, mir.Imm16)), inIdx)
	inIdx++
	b.AddInstructionAt(mir.NewInstruction(Str64rm, tmp, mir.NewMemory(base, 0)), inIdx)
	inIdx++

	// gr_top: one past the GP save area
	inIdx += l.instrInfo.StackSlotAddress(b, inIdx, mir.StackSlot{Offset: area.Offset - 64}, tmp)
	b.AddInstructionAt(mir.NewInstruction(Str64rm, tmp, mir.NewMemory(base, 8)), inIdx)
	inIdx++

	// vr_top: one past the FP save area
	inIdx += l.instrInfo.StackSlotAddress(b, inIdx, mir.StackSlot{Offset: area.Offset - (64 + 128)}, tmp)
	b.AddInstructionAt(mir.NewInstruction(Str64rm, tmp, mir.NewMemory(base, 16)), inIdx)
	inIdx++

	groff, inserted := l.instrInfo.MaterializeImmediate(b, inIdx, int64(-8*(8-usedGp)), 4)
	inIdx += inserted
	b.AddInstructionAt(mir.NewInstruction(Str32rm, groff, mir.NewMemory(base, 24)), inIdx)
	inIdx++

	vroff, inserted := l.instrInfo.MaterializeImmediate(b, inIdx, int64(-16*(8-usedFp)), 4)
	inIdx += inserted
	b.AddInstructionAt(mir.NewInstruction(Str32rm, vroff, mir.NewMemory(base, 28)), inIdx)
	return nil
}

func (l *lowering) LowerVaEnd(b *mir.Block, ins *mir.Instruction) error {
	b.RemoveInstruction(ins)
	return nil
}
