package aarch64

import (
	"forge/internal/ir"
	"forge/internal/isel"
	"forge/internal/mir"
	"forge/internal/target"
)

// InstructionInfo carries the AArch64 opcode tables, the immediate
// materializer and the canned memory-traffic helpers.
type InstructionInfo struct {
	regInfo  *RegisterInfo
	layout   ir.DataLayout
	pool     *mir.Pool
	ctx      *ir.Context
	patterns isel.PatternSet

	descriptors map[uint32]*target.InstructionDescriptor
	mnemonics   map[uint32]string
}

func NewInstructionInfo(regInfo *RegisterInfo, layout ir.DataLayout, pool *mir.Pool, ctx *ir.Context) *InstructionInfo {
	info := &InstructionInfo{
		regInfo:     regInfo,
		layout:      layout,
		pool:        pool,
		ctx:         ctx,
		descriptors: make(map[uint32]*target.InstructionDescriptor),
		mnemonics:   make(map[uint32]string),
	}
	info.buildTables()
	info.patterns = buildPatterns(info)
	return info
}

func (info *InstructionInfo) RegisterInfo() target.RegisterInfo { return info.regInfo }

func (info *InstructionInfo) Patterns(kind isel.NodeKind) []isel.Pattern {
	return info.patterns[kind]
}

var pseudoDescriptor = target.InstructionDescriptor{Name: "pseudo"}

func (info *InstructionInfo) Descriptor(op uint32) *target.InstructionDescriptor {
	if mir.IsPseudoOp(op) {
		return &pseudoDescriptor
	}
	return info.descriptors[op]
}

func (info *InstructionInfo) Mnemonic(op uint32) string { return info.mnemonics[op] }

func (info *InstructionInfo) IsReturn(op uint32) bool { return op == RetOp }

func (info *InstructionInfo) IsJump(op uint32) bool {
	switch op {
	case B, Beq, Bne, Bgt, Bge, Blt, Ble, Bhi, Bhs, Blo, Bls, Br, Cbz, Cbnz:
		return true
	}
	return false
}

func (info *InstructionInfo) IsMove(op uint32) bool {
	switch op {
	case Mov64rr, Mov32rr, Fmov32rr, Fmov64rr:
		return true
	}
	return false
}

func (info *InstructionInfo) buildTables() {
	reg := target.RegRestrict
	imm := target.ImmRestrict()
	mem := target.MemRestrict()
	sym := target.SymRestrict()

	add := func(op uint32, name string, d target.InstructionDescriptor) {
		d.Name = name
		desc := d
		info.descriptors[op] = &desc
		info.mnemonics[op] = name
	}

	rrr := target.InstructionDescriptor{NumDefs: 1, NumOperands: 3, Restrictions: []target.Restriction{reg(false), reg(false), reg(false)}}
	rri := target.InstructionDescriptor{NumDefs: 1, NumOperands: 3, Restrictions: []target.Restriction{reg(false), reg(false), imm}}
	rr := target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}}
	loadDesc := target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, MayLoad: true, Restrictions: []target.Restriction{reg(false), mem}}
	storeDesc := target.InstructionDescriptor{NumOperands: 2, MayStore: true, Restrictions: []target.Restriction{reg(false), mem}}

	add(Mov64rr, "mov", rr)
	add(Mov32rr, "mov", rr)
	add(Fmov32rr, "fmov", rr)
	add(Fmov64rr, "fmov", rr)

	movImm := target.InstructionDescriptor{NumDefs: 1, NumOperands: 3, Restrictions: []target.Restriction{reg(false), imm, imm}}
	add(Movz64ri, "movz", movImm)
	add(Movz32ri, "movz", movImm)
	add(Movn64ri, "movn", movImm)
	add(Movn32ri, "movn", movImm)
	movk := movImm
	movk.Restrictions = []target.Restriction{reg(true), imm, imm}
	add(Movk64ri, "movk", movk)
	add(Movk32ri, "movk", movk)

	add(Ldr64rm, "ldr", loadDesc)
	add(Ldr32rm, "ldr", loadDesc)
	add(Ldrb32rm, "ldrb", loadDesc)
	add(Ldrh32rm, "ldrh", loadDesc)
	add(LdrS32rm, "ldr", loadDesc)
	add(LdrD64rm, "ldr", loadDesc)
	add(Str64rm, "str", storeDesc)
	add(Str32rm, "str", storeDesc)
	add(Strb32rm, "strb", storeDesc)
	add(Strh32rm, "strh", storeDesc)
	add(StrS32rm, "str", storeDesc)
	add(StrD64rm, "str", storeDesc)

	add(Stp64pre, "stp", target.InstructionDescriptor{NumOperands: 4, MayStore: true, Restrictions: []target.Restriction{reg(false), reg(false), reg(false), imm}})
	add(Ldp64post, "ldp", target.InstructionDescriptor{NumDefs: 2, NumOperands: 4, MayLoad: true, Restrictions: []target.Restriction{reg(false), reg(false), reg(false), imm}})

	add(LdrLitS, "ldr", target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, MayLoad: true, Restrictions: []target.Restriction{reg(false), sym}})
	add(LdrLitD, "ldr", target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, MayLoad: true, Restrictions: []target.Restriction{reg(false), sym}})

	add(AdrpSym, "adrp", target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(false), sym}})
	add(AddLo12, "add", target.InstructionDescriptor{NumDefs: 1, NumOperands: 3, Restrictions: []target.Restriction{reg(false), reg(false), sym}})

	for op, name := range map[uint32]string{Add64rr: "add", Add32rr: "add", Sub64rr: "sub", Sub32rr: "sub",
		Mul64rr: "mul", Mul32rr: "mul", SDiv64rr: "sdiv", SDiv32rr: "sdiv", UDiv64rr: "udiv", UDiv32rr: "udiv",
		And64rr: "and", And32rr: "and", Orr64rr: "orr", Orr32rr: "orr", Eor64rr: "eor", Eor32rr: "eor",
		Lsl64rr: "lsl", Lsl32rr: "lsl", Lsr64rr: "lsr", Lsr32rr: "lsr", Asr64rr: "asr", Asr32rr: "asr",
		FAdd32rr: "fadd", FAdd64rr: "fadd", FSub32rr: "fsub", FSub64rr: "fsub",
		FMul32rr: "fmul", FMul64rr: "fmul", FDiv32rr: "fdiv", FDiv64rr: "fdiv"} {
		add(op, name, rrr)
	}
	for op, name := range map[uint32]string{Add64ri: "add", Add32ri: "add", Sub64ri: "sub", Sub32ri: "sub",
		Lsl64ri: "lsl", Lsl32ri: "lsl", Lsr64ri: "lsr", Lsr32ri: "lsr", Asr64ri: "asr", Asr32ri: "asr"} {
		add(op, name, rri)
	}

	add(Msub64rr, "msub", target.InstructionDescriptor{NumDefs: 1, NumOperands: 4, Restrictions: []target.Restriction{reg(false), reg(false), reg(false), reg(false)}})
	add(Msub32rr, "msub", target.InstructionDescriptor{NumDefs: 1, NumOperands: 4, Restrictions: []target.Restriction{reg(false), reg(false), reg(false), reg(false)}})

	cmpRR := target.InstructionDescriptor{NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}}
	cmpRI := target.InstructionDescriptor{NumOperands: 2, Restrictions: []target.Restriction{reg(false), imm}}
	add(Cmp64rr, "cmp", cmpRR)
	add(Cmp32rr, "cmp", cmpRR)
	add(Cmp64ri, "cmp", cmpRI)
	add(Cmp32ri, "cmp", cmpRI)
	add(FCmp32, "fcmp", cmpRR)
	add(FCmp64, "fcmp", cmpRR)

	for op, name := range map[uint32]string{Sxtb32: "sxtb", Sxth32: "sxth", Sxtw64: "sxtw", Uxtb32: "uxtb", Uxth32: "uxth",
		FCvtSD: "fcvt", FCvtDS: "fcvt", Scvtf32w: "scvtf", Scvtf64w: "scvtf", Scvtf32x: "scvtf", Scvtf64x: "scvtf",
		Fcvtzs32w: "fcvtzs", Fcvtzs64w: "fcvtzs", Fcvtzs32x: "fcvtzs", Fcvtzs64x: "fcvtzs"} {
		add(op, name, rr)
	}

	for op, name := range map[uint32]string{CsetEq: "eq", CsetNe: "ne", CsetGt: "gt", CsetGe: "ge",
		CsetLt: "lt", CsetLe: "le", CsetHi: "hi", CsetHs: "hs", CsetLo: "lo", CsetLs: "ls"} {
		desc := target.InstructionDescriptor{NumDefs: 1, NumOperands: 1, Restrictions: []target.Restriction{reg(false)}}
		desc.Name = "cset " + name
		info.descriptors[op] = &desc
		info.mnemonics[op] = name
	}

	branch := target.InstructionDescriptor{NumOperands: 1, IsJump: true, Restrictions: []target.Restriction{sym}}
	for op, name := range map[uint32]string{B: "b", Beq: "b.eq", Bne: "b.ne", Bgt: "b.gt", Bge: "b.ge",
		Blt: "b.lt", Ble: "b.le", Bhi: "b.hi", Bhs: "b.hs", Blo: "b.lo", Bls: "b.ls"} {
		add(op, name, branch)
	}
	add(Br, "br", target.InstructionDescriptor{NumOperands: 1, IsJump: true, Restrictions: []target.Restriction{reg(false)}})
	add(Cbz, "cbz", target.InstructionDescriptor{NumOperands: 2, IsJump: true, Restrictions: []target.Restriction{reg(false), sym}})
	add(Cbnz, "cbnz", target.InstructionDescriptor{NumOperands: 2, IsJump: true, Restrictions: []target.Restriction{reg(false), sym}})

	add(Bl, "bl", target.InstructionDescriptor{NumOperands: 1, Restrictions: []target.Restriction{sym}, Clobbers: callerSaved})
	add(Blr, "blr", target.InstructionDescriptor{NumOperands: 1, Restrictions: []target.Restriction{reg(false)}, Clobbers: callerSaved})
	add(RetOp, "ret", target.InstructionDescriptor{IsReturn: true})
}

func (info *InstructionInfo) newVReg(b *mir.Block, class uint32) *mir.Register {
	return info.regInfo.Register(b.Parent().RegisterInfo().NextVirtualRegister(class, nil))
}

// MaterializeImmediate builds value in a fresh register with movz/movn
// plus movk patches.
func (info *InstructionInfo) MaterializeImmediate(b *mir.Block, pos int, value int64, size int) (*mir.Register, int) {
	class := GPR32
	movz, movn, movk := uint32(Movz32ri), uint32(Movn32ri), uint32(Movk32ri)
	chunks := 2
	if size > 4 {
		class = GPR64
		movz, movn, movk = Movz64ri, Movn64ri, Movk64ri
		chunks = 4
	}
	dst := info.newVReg(b, class)
	inserted := 0

	chunk := func(v int64, i int) int64 { return (v >> (16 * i)) & 0xffff }

	if value < 0 {
		b.AddInstructionAt(mir.NewInstruction(movn, dst, info.pool.Imm(^value&0xffff, mir.Imm16), info.pool.Imm(0, mir.Imm8)), pos+inserted)
		inserted++
		for i := 1; i < chunks; i++ {
			if c := chunk(value, i); c != 0xffff {
				b.AddInstructionAt(mir.NewInstruction(movk, dst, info.pool.Imm(c, mir.Imm16), info.pool.Imm(int64(16*i), mir.Imm8)), pos+inserted)
				inserted++
			}
		}
		return dst, inserted
	}

	b.AddInstructionAt(mir.NewInstruction(movz, dst, info.pool.Imm(chunk(value, 0), mir.Imm16), info.pool.Imm(0, mir.Imm8)), pos+inserted)
	inserted++
	for i := 1; i < chunks; i++ {
		if c := chunk(value, i); c != 0 {
			b.AddInstructionAt(mir.NewInstruction(movk, dst, info.pool.Imm(c, mir.Imm16), info.pool.Imm(int64(16*i), mir.Imm8)), pos+inserted)
			inserted++
		}
	}
	return dst, inserted
}

func loadOpForSize(size int, flt bool) uint32 {
	if flt {
		if size == 4 {
			return LdrS32rm
		}
		return LdrD64rm
	}
	switch size {
	case 1:
		return Ldrb32rm
	case 2:
		return Ldrh32rm
	case 4:
		return Ldr32rm
	}
	return Ldr64rm
}

func storeOpForSize(size int, flt bool) uint32 {
	if flt {
		if size == 4 {
			return StrS32rm
		}
		return StrD64rm
	}
	switch size {
	case 1:
		return Strb32rm
	case 2:
		return Strh32rm
	case 4:
		return Str32rm
	}
	return Str64rm
}

// frameAddress resolves a stack slot to its x29-relative address.
func frameAddress(regInfo *RegisterInfo, slot mir.StackSlot) *mir.Memory {
	return mir.NewMemory(regInfo.Register(X29), -slot.Offset)
}

// StackSlotAddress computes the address of a slot into reg.
func (info *InstructionInfo) StackSlotAddress(b *mir.Block, pos int, slot mir.StackSlot, reg *mir.Register) int {
	disp := -slot.Offset
	if disp >= 0 && disp < 4096 {
		b.AddInstructionAt(mir.NewInstruction(Add64ri, reg, info.regInfo.Register(X29), info.pool.Imm(disp, mir.Imm16)), pos)
		return 1
	}
	if disp < 0 && -disp < 4096 {
		b.AddInstructionAt(mir.NewInstruction(Sub64ri, reg, info.regInfo.Register(X29), info.pool.Imm(-disp, mir.Imm16)), pos)
		return 1
	}
	tmp, inserted := info.MaterializeImmediate(b, pos, disp, 8)
	b.AddInstructionAt(mir.NewInstruction(Add64rr, reg, info.regInfo.Register(X29), tmp), pos+inserted)
	return inserted + 1
}

func (info *InstructionInfo) regSize(reg *mir.Register, b *mir.Block) int {
	class := info.regInfo.RegisterIDClass(reg.ID, b.Parent().RegisterInfo())
	return info.regInfo.Class(class).Size
}

// RegisterToStackSlot stores reg into the slot.
func (info *InstructionInfo) RegisterToStackSlot(b *mir.Block, pos int, reg *mir.Register, slot mir.StackSlot) int {
	class := info.regInfo.RegisterIDClass(reg.ID, b.Parent().RegisterInfo())
	op := storeOpForSize(info.regInfo.Class(class).Size, info.regInfo.IsFloatClass(class))
	b.AddInstructionAt(mir.NewInstruction(op, reg, frameAddress(info.regInfo, slot)), pos)
	return 1
}

// StackSlotToRegister loads the slot into reg.
func (info *InstructionInfo) StackSlotToRegister(b *mir.Block, pos int, reg *mir.Register, slot mir.StackSlot) int {
	class := info.regInfo.RegisterIDClass(reg.ID, b.Parent().RegisterInfo())
	op := loadOpForSize(info.regInfo.Class(class).Size, info.regInfo.IsFloatClass(class))
	b.AddInstructionAt(mir.NewInstruction(op, reg, frameAddress(info.regInfo, slot)), pos)
	return 1
}

// ImmediateToStackSlot stores an immediate into the slot through a
// scratch register.
func (info *InstructionInfo) ImmediateToStackSlot(b *mir.Block, pos int, imm *mir.ImmediateInt, slot mir.StackSlot) int {
	tmp, inserted := info.MaterializeImmediate(b, pos, imm.Value, int(imm.Size))
	op := storeOpForSize(int(imm.Size), false)
	b.AddInstructionAt(mir.NewInstruction(op, tmp, frameAddress(info.regInfo, slot)), pos+inserted)
	return inserted + 1
}

// Move copies src into dst.
func (info *InstructionInfo) Move(b *mir.Block, pos int, src, dst mir.Operand, size int, flt bool) int {
	dstReg, ok := dst.(*mir.Register)
	if !ok {
		panic("aarch64: move destination must be a register")
	}
	switch s := src.(type) {
	case *mir.Register:
		var op uint32
		switch {
		case flt:
			if size == 4 {
				op = Fmov32rr
			} else {
				op = Fmov64rr
			}
		case size > 4:
			op = Mov64rr
		default:
			op = Mov32rr
		}
		b.AddInstructionAt(mir.NewInstruction(op, dstReg, s), pos)
		return 1
	case *mir.ImmediateInt:
		tmp, inserted := info.MaterializeImmediate(b, pos, s.Value, size)
		op := Mov32rr
		if size > 4 {
			op = Mov64rr
			tmp = info.widen(tmp)
		}
		b.AddInstructionAt(mir.NewInstruction(op, dstReg, tmp), pos+inserted)
		return inserted + 1
	case *mir.FrameIndex:
		slot := b.Parent().StackFrame().StackSlot(int(s.Index))
		return info.StackSlotAddress(b, pos, slot, dstReg)
	}
	panic("aarch64: unsupported move operands")
}

// widen maps a W-class register operand to its X alias for 64-bit uses.
func (info *InstructionInfo) widen(reg *mir.Register) *mir.Register {
	if reg.ID >= mir.VRegStart {
		return mir.CloneWithFlags(reg, mir.Force64BitRegister).(*mir.Register)
	}
	if alias, ok := info.regInfo.RegisterWithSize(reg.ID, 8); ok {
		return info.regInfo.Register(alias)
	}
	return reg
}
