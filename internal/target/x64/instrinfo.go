package x64

import (
	"forge/internal/ir"
	"forge/internal/isel"
	"forge/internal/mir"
	"forge/internal/target"
)

// InstructionInfo carries the opcode tables and memory-traffic helpers
// of the x86-64 back-end.
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

func (info *InstructionInfo) IsReturn(op uint32) bool { return op == Ret }

func (info *InstructionInfo) IsJump(op uint32) bool {
	switch op {
	case Jmp, Je, Jne, Jl, Jle, Jg, Jge, Jb, Jbe, Ja, Jae, Jmp64r:
		return true
	}
	return false
}

func (info *InstructionInfo) IsMove(op uint32) bool {
	switch op {
	case Mov8rr, Mov16rr, Mov32rr, Mov64rr, Movssrr, Movsdrr:
		return true
	}
	return false
}

func (info *InstructionInfo) buildTables() {
	reg := target.RegRestrict
	imm := target.ImmRestrict()
	mem := target.MemRestrict()

	add := func(op uint32, name string, d target.InstructionDescriptor) {
		d.Name = name
		desc := d
		info.descriptors[op] = &desc
		info.mnemonics[op] = name
	}

	sizes := []struct {
		bits   int
		suffix string
	}{{8, "b"}, {16, "w"}, {32, "l"}, {64, "q"}}

	// integer moves
	movrr := []uint32{Mov8rr, Mov16rr, Mov32rr, Mov64rr}
	movrm := []uint32{Mov8rm, Mov16rm, Mov32rm, Mov64rm}
	movmr := []uint32{Mov8mr, Mov16mr, Mov32mr, Mov64mr}
	for n, s := range sizes {
		add(movrr[n], "mov"+s.suffix, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}})
		add(movrm[n], "mov"+s.suffix, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, MayLoad: true, Restrictions: []target.Restriction{reg(false), mem}})
		add(movmr[n], "mov"+s.suffix, target.InstructionDescriptor{NumOperands: 2, MayStore: true, Restrictions: []target.Restriction{mem, reg(false)}})
	}
	movri := []uint32{Mov8ri, Mov16ri, Mov32ri, Movr64i32}
	movmi := []uint32{Mov8mi, Mov16mi, Mov32mi, Movm64i32}
	for n, s := range sizes {
		add(movri[n], "mov"+s.suffix, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(false), imm}})
		add(movmi[n], "mov"+s.suffix, target.InstructionDescriptor{NumOperands: 2, MayStore: true, Restrictions: []target.Restriction{mem, imm}})
	}
	add(Movr64i64, "movabsq", target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(false), imm}})

	// float moves
	add(Movssrr, "movss", target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}})
	add(Movssrm, "movss", target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, MayLoad: true, Restrictions: []target.Restriction{reg(false), mem}})
	add(Movssmr, "movss", target.InstructionDescriptor{NumOperands: 2, MayStore: true, Restrictions: []target.Restriction{mem, reg(false)}})
	add(Movsdrr, "movsd", target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}})
	add(Movsdrm, "movsd", target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, MayLoad: true, Restrictions: []target.Restriction{reg(false), mem}})
	add(Movsdmr, "movsd", target.InstructionDescriptor{NumOperands: 2, MayStore: true, Restrictions: []target.Restriction{mem, reg(false)}})

	// two-address integer arithmetic
	binRR := map[string][]uint32{
		"add": {Add8rr, Add16rr, Add32rr, Add64rr},
		"sub": {Sub8rr, Sub16rr, Sub32rr, Sub64rr},
		"and": {And8rr, And16rr, And32rr, And64rr},
		"or":  {Or8rr, Or16rr, Or32rr, Or64rr},
		"xor": {Xor8rr, Xor16rr, Xor32rr, Xor64rr},
	}
	binRI := map[string][]uint32{
		"add": {Add8ri, Add16ri, Add32ri, Add64r32i},
		"sub": {Sub8ri, Sub16ri, Sub32ri, Sub64r32i},
		"and": {And8ri, And16ri, And32ri, And64r32i},
		"or":  {Or8ri, Or16ri, Or32ri, Or64r32i},
		"xor": {Xor8ri, Xor16ri, Xor32ri, Xor64r32i},
	}
	for name, ops := range binRR {
		for n, s := range sizes {
			add(ops[n], name+s.suffix, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(true), reg(false)}})
		}
	}
	for name, ops := range binRI {
		for n, s := range sizes {
			add(ops[n], name+s.suffix, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(true), imm}})
		}
	}

	imuls := []uint32{IMul16rr, IMul32rr, IMul64rr}
	for n, s := range []string{"w", "l", "q"} {
		add(imuls[n], "imul"+s, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(true), reg(false)}})
	}

	shifts := map[string][2][]uint32{
		"shl": {{Shl8ri, Shl16ri, Shl32ri, Shl64ri}, {Shl8rCL, Shl16rCL, Shl32rCL, Shl64rCL}},
		"shr": {{Shr8ri, Shr16ri, Shr32ri, Shr64ri}, {Shr8rCL, Shr16rCL, Shr32rCL, Shr64rCL}},
		"sar": {{Sar8ri, Sar16ri, Sar32ri, Sar64ri}, {Sar8rCL, Sar16rCL, Sar32rCL, Sar64rCL}},
	}
	for name, groups := range shifts {
		for n, s := range sizes {
			add(groups[0][n], name+s.suffix, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(true), imm}})
			add(groups[1][n], name+s.suffix, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(true), reg(false)}})
		}
	}

	add(Cwd, "cwtd", target.InstructionDescriptor{Clobbers: []uint32{RDX}})
	add(Cdq, "cltd", target.InstructionDescriptor{Clobbers: []uint32{RDX}})
	add(Cqo, "cqto", target.InstructionDescriptor{Clobbers: []uint32{RDX}})
	idivs := []uint32{IDiv8, IDiv16, IDiv32, IDiv64}
	divs := []uint32{Div8, Div16, Div32, Div64}
	for n, s := range sizes {
		add(idivs[n], "idiv"+s.suffix, target.InstructionDescriptor{NumOperands: 1, Restrictions: []target.Restriction{reg(false)}, Clobbers: []uint32{RAX, RDX}})
		add(divs[n], "div"+s.suffix, target.InstructionDescriptor{NumOperands: 1, Restrictions: []target.Restriction{reg(false)}, Clobbers: []uint32{RAX, RDX}})
	}

	fp := map[uint32]string{
		Addssrr: "addss", Addsdrr: "addsd", Subssrr: "subss", Subsdrr: "subsd",
		Mulssrr: "mulss", Mulsdrr: "mulsd", Divssrr: "divss", Divsdrr: "divsd",
	}
	for op, name := range fp {
		add(op, name, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(true), reg(false)}})
	}
	add(Ucomissrr, "ucomiss", target.InstructionDescriptor{NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}})
	add(Ucomisdrr, "ucomisd", target.InstructionDescriptor{NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}})

	cmprr := []uint32{Cmp8rr, Cmp16rr, Cmp32rr, Cmp64rr}
	cmpri := []uint32{Cmp8ri, Cmp16ri, Cmp32ri, Cmp64r32i}
	testrr := []uint32{Test8rr, Test16rr, Test32rr, Test64rr}
	for n, s := range sizes {
		add(cmprr[n], "cmp"+s.suffix, target.InstructionDescriptor{NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}})
		add(cmpri[n], "cmp"+s.suffix, target.InstructionDescriptor{NumOperands: 2, Restrictions: []target.Restriction{reg(false), imm}})
		add(testrr[n], "test"+s.suffix, target.InstructionDescriptor{NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}})
	}

	jumps := map[uint32]string{
		Jmp: "jmp", Je: "je", Jne: "jne", Jl: "jl", Jle: "jle", Jg: "jg",
		Jge: "jge", Jb: "jb", Jbe: "jbe", Ja: "ja", Jae: "jae",
	}
	for op, name := range jumps {
		add(op, name, target.InstructionDescriptor{NumOperands: 1, IsJump: true, Restrictions: []target.Restriction{target.SymRestrict()}})
	}
	add(Jmp64r, "jmp", target.InstructionDescriptor{NumOperands: 1, IsJump: true, Restrictions: []target.Restriction{reg(false)}})

	sets := map[uint32]string{
		Sete: "sete", Setne: "setne", Setl: "setl", Setle: "setle", Setg: "setg",
		Setge: "setge", Setb: "setb", Setbe: "setbe", Seta: "seta", Setae: "setae",
	}
	for op, name := range sets {
		add(op, name, target.InstructionDescriptor{NumDefs: 1, NumOperands: 1, Restrictions: []target.Restriction{reg(false)}})
	}

	add(Push64r, "pushq", target.InstructionDescriptor{NumOperands: 1, MayStore: true, Restrictions: []target.Restriction{reg(false)}})
	add(Pop64r, "popq", target.InstructionDescriptor{NumDefs: 1, NumOperands: 1, MayLoad: true, Restrictions: []target.Restriction{reg(false)}})
	add(Ret, "retq", target.InstructionDescriptor{IsReturn: true})
	add(Call, "callq", target.InstructionDescriptor{NumOperands: 1, Restrictions: []target.Restriction{target.SymRestrict()}, Clobbers: callerSaved})
	add(Call64r, "callq", target.InstructionDescriptor{NumOperands: 1, Restrictions: []target.Restriction{reg(false)}, Clobbers: callerSaved})

	add(Lea64rm, "leaq", target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(false), mem}})

	exts := map[uint32]string{
		Movzx32r8r: "movzbl", Movzx32r16r: "movzwl", Movzx64r8r: "movzbq", Movzx64r16r: "movzwq",
		Movsx32r8r: "movsbl", Movsx32r16r: "movswl", Movsx64r8r: "movsbq", Movsx64r16r: "movswq",
		Movsx64r32r: "movslq",
	}
	for op, name := range exts {
		add(op, name, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}})
	}

	cvts := map[uint32]string{
		Cvtss2sdrr: "cvtss2sd", Cvtsd2ssrr: "cvtsd2ss",
		Cvtsi2ss32rr: "cvtsi2ssl", Cvtsi2ss64rr: "cvtsi2ssq",
		Cvtsi2sd32rr: "cvtsi2sdl", Cvtsi2sd64rr: "cvtsi2sdq",
		Cvttss2si32rr: "cvttss2sil", Cvttss2si64rr: "cvttss2siq",
		Cvttsd2si32rr: "cvttsd2sil", Cvttsd2si64rr: "cvttsd2siq",
	}
	for op, name := range cvts {
		add(op, name, target.InstructionDescriptor{NumDefs: 1, NumOperands: 2, Restrictions: []target.Restriction{reg(false), reg(false)}})
	}
}

// frameAddress resolves a stack slot to its rbp-relative address.
func frameAddress(regInfo *RegisterInfo, slot mir.StackSlot) *mir.Memory {
	return mir.NewMemory(regInfo.Register(RBP), -slot.Offset)
}

// StackSlotAddress leas the address of a slot into reg.
func (info *InstructionInfo) StackSlotAddress(b *mir.Block, pos int, slot mir.StackSlot, reg *mir.Register) int {
	b.AddInstructionAt(mir.NewInstruction(Lea64rm, reg, frameAddress(info.regInfo, slot)), pos)
	return 1
}

func movOpForSize(size int, flt bool, toMem bool, fromMem bool) uint32 {
	if flt {
		switch {
		case toMem:
			return target.SelectOpcode(size, true, [4]uint32{}, [2]uint32{Movssmr, Movsdmr})
		case fromMem:
			return target.SelectOpcode(size, true, [4]uint32{}, [2]uint32{Movssrm, Movsdrm})
		default:
			return target.SelectOpcode(size, true, [4]uint32{}, [2]uint32{Movssrr, Movsdrr})
		}
	}
	switch {
	case toMem:
		return target.SelectOpcode(size, false, [4]uint32{Mov8mr, Mov16mr, Mov32mr, Mov64mr}, [2]uint32{})
	case fromMem:
		return target.SelectOpcode(size, false, [4]uint32{Mov8rm, Mov16rm, Mov32rm, Mov64rm}, [2]uint32{})
	default:
		return target.SelectOpcode(size, false, [4]uint32{Mov8rr, Mov16rr, Mov32rr, Mov64rr}, [2]uint32{})
	}
}

func (info *InstructionInfo) regSize(reg *mir.Register, b *mir.Block) int {
	class := info.regInfo.RegisterIDClass(reg.ID, b.Parent().RegisterInfo())
	return info.regInfo.Class(class).Size
}

func (info *InstructionInfo) regIsFloat(reg *mir.Register, b *mir.Block) bool {
	class := info.regInfo.RegisterIDClass(reg.ID, b.Parent().RegisterInfo())
	return class == FPR
}

// RegisterToStackSlot stores reg into the slot.
func (info *InstructionInfo) RegisterToStackSlot(b *mir.Block, pos int, reg *mir.Register, slot mir.StackSlot) int {
	size := info.regSize(reg, b)
	op := movOpForSize(size, info.regIsFloat(reg, b), true, false)
	b.AddInstructionAt(mir.NewInstruction(op, frameAddress(info.regInfo, slot), reg), pos)
	return 1
}

// StackSlotToRegister loads the slot into reg.
func (info *InstructionInfo) StackSlotToRegister(b *mir.Block, pos int, reg *mir.Register, slot mir.StackSlot) int {
	size := info.regSize(reg, b)
	op := movOpForSize(size, info.regIsFloat(reg, b), false, true)
	b.AddInstructionAt(mir.NewInstruction(op, reg, frameAddress(info.regInfo, slot)), pos)
	return 1
}

// ImmediateToStackSlot stores an immediate into the slot.
func (info *InstructionInfo) ImmediateToStackSlot(b *mir.Block, pos int, imm *mir.ImmediateInt, slot mir.StackSlot) int {
	op := target.SelectOpcode(int(imm.Size), false, [4]uint32{Mov8mi, Mov16mi, Mov32mi, Movm64i32}, [2]uint32{})
	b.AddInstructionAt(mir.NewInstruction(op, frameAddress(info.regInfo, slot), imm), pos)
	return 1
}

// Move copies src into dst, with src any of register, immediate or frame
// index (taken as an address).
func (info *InstructionInfo) Move(b *mir.Block, pos int, src, dst mir.Operand, size int, flt bool) int {
	switch s := src.(type) {
	case *mir.Register:
		op := movOpForSize(size, flt, false, false)
		b.AddInstructionAt(mir.NewInstruction(op, dst, s), pos)
		return 1
	case *mir.ImmediateInt:
		if flt {
			panic("x64: float immediate move")
		}
		var op uint32
		if size == 8 && mir.ImmSizeFromValue(s.Value) == mir.Imm64 {
			op = Movr64i64
		} else {
			op = target.SelectOpcode(size, false, [4]uint32{Mov8ri, Mov16ri, Mov32ri, Movr64i32}, [2]uint32{})
		}
		b.AddInstructionAt(mir.NewInstruction(op, dst, s), pos)
		return 1
	case *mir.FrameIndex:
		slot := b.Parent().StackFrame().StackSlot(int(s.Index))
		if reg, ok := dst.(*mir.Register); ok {
			return info.StackSlotAddress(b, pos, slot, reg)
		}
	case *mir.Memory:
		op := movOpForSize(size, flt, false, true)
		b.AddInstructionAt(mir.NewInstruction(op, dst, s), pos)
		return 1
	}
	panic("x64: unsupported move operands")
}
