package x64

import (
	"forge/internal/ir"
	"forge/internal/target"
)

// Register ids. 64-bit names come first so the id doubles as the
// canonical register of its alias group.
const (
	RAX uint32 = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RBP
	RSP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	EAX
	EBX
	ECX
	EDX
	ESI
	EDI
	EBP
	ESP
	R8D
	R9D
	R10D
	R11D
	R12D
	R13D
	R14D
	R15D

	AX
	BX
	CX
	DX
	SI
	DI
	BP
	SP
	R8W
	R9W
	R10W
	R11W
	R12W
	R13W
	R14W
	R15W

	AL
	BL
	CL
	DL
	SIL
	DIL
	BPL
	SPL
	R8B
	R9B
	R10B
	R11B
	R12B
	R13B
	R14B
	R15B

	XMM0
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15

	RIP

	numRegisters
)

// Register classes.
const (
	GPR64 uint32 = iota
	GPR32
	GPR16
	GPR8
	FPR
)

var gprNames = [16][4]string{
	{"rax", "eax", "ax", "al"},
	{"rbx", "ebx", "bx", "bl"},
	{"rcx", "ecx", "cx", "cl"},
	{"rdx", "edx", "dx", "dl"},
	{"rsi", "esi", "si", "sil"},
	{"rdi", "edi", "di", "dil"},
	{"rbp", "ebp", "bp", "bpl"},
	{"rsp", "esp", "sp", "spl"},
	{"r8", "r8d", "r8w", "r8b"},
	{"r9", "r9d", "r9w", "r9b"},
	{"r10", "r10d", "r10w", "r10b"},
	{"r11", "r11d", "r11w", "r11b"},
	{"r12", "r12d", "r12w", "r12b"},
	{"r13", "r13d", "r13w", "r13b"},
	{"r14", "r14d", "r14w", "r14b"},
	{"r15", "r15d", "r15w", "r15b"},
}

// RegisterInfo is the x86-64 register file.
type RegisterInfo struct {
	target.RegisterInfoBase
}

func NewRegisterInfo() *RegisterInfo {
	ri := &RegisterInfo{}
	ri.Descs = make([]target.RegisterDesc, numRegisters)

	// the four width tiers of each general-purpose register alias one
	// another; the 64-bit id is the canonical one
	tiers := [4]uint32{0, 16, 32, 48} // id offsets per width tier
	classes := [4]uint32{GPR64, GPR32, GPR16, GPR8}
	for n := uint32(0); n < 16; n++ {
		ids := [4]uint32{n + tiers[0], n + tiers[1], n + tiers[2], n + tiers[3]}
		for tier := 0; tier < 4; tier++ {
			var super, sub, alias []uint32
			for other := 0; other < 4; other++ {
				if other == tier {
					continue
				}
				alias = append(alias, ids[other])
				if other < tier {
					super = append(super, ids[other])
				} else {
					sub = append(sub, ids[other])
				}
			}
			ri.Descs[ids[tier]] = target.RegisterDesc{
				Name:      gprNames[n][tier],
				SuperRegs: super,
				SubRegs:   sub,
				AliasRegs: alias,
				Class:     classes[tier],
			}
		}
	}

	for n := uint32(0); n < 16; n++ {
		ri.Descs[XMM0+n] = target.RegisterDesc{Name: xmmName(n), Class: FPR}
	}
	ri.Descs[RIP] = target.RegisterDesc{Name: "rip", Class: GPR64}

	classRegs := func(tier uint32) []uint32 {
		regs := make([]uint32, 0, 16)
		for n := uint32(0); n < 16; n++ {
			regs = append(regs, n+tier)
		}
		return regs
	}
	ri.Classes = []target.RegisterClass{
		{Regs: append(classRegs(0), RIP), Size: 8, Alignment: 8},
		{Regs: classRegs(16), Size: 4, Alignment: 4},
		{Regs: classRegs(32), Size: 2, Alignment: 2},
		{Regs: classRegs(48), Size: 1, Alignment: 1},
		{Regs: classRegs(XMM0), Size: 8, Alignment: 8},
	}
	return ri
}

func xmmName(n uint32) string {
	names := []string{"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
		"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15"}
	return names[n]
}

func (ri *RegisterInfo) ClassFromType(t ir.Type) uint32 {
	switch t := t.(type) {
	case *ir.IntType:
		switch {
		case t.Bits <= 8:
			return GPR8
		case t.Bits <= 16:
			return GPR16
		case t.Bits <= 32:
			return GPR32
		}
		return GPR64
	case *ir.FloatType:
		return FPR
	}
	return GPR64
}

func (ri *RegisterInfo) ClassForSize(size int, flt bool) uint32 {
	if flt {
		return FPR
	}
	switch size {
	case 1:
		return GPR8
	case 2:
		return GPR16
	case 4:
		return GPR32
	}
	return GPR64
}

func (ri *RegisterInfo) IsFloatClass(class uint32) bool { return class == FPR }

var callerSaved = []uint32{RAX, RCX, RDX, RSI, RDI, R8, R9, R10, R11}
var calleeSaved = []uint32{R12, R13, R14, R15, RBX, RBP}

func (ri *RegisterInfo) CallerSaved() []uint32 { return callerSaved }
func (ri *RegisterInfo) CalleeSaved() []uint32 { return calleeSaved }

var reservedByClass = map[uint32][]uint32{
	GPR64: {R14, R15},
	GPR32: {R14D, R15D},
	GPR16: {R14W, R15W},
	GPR8:  {R14B, R15B},
	FPR:   {XMM14, XMM15},
}

var availableByClass = map[uint32][]uint32{
	GPR64: {RAX, RBX, RCX, RDX, RSI, RDI, R8, R9, R10, R11, R12, R13},
	GPR32: {EAX, EBX, ECX, EDX, ESI, EDI, R8D, R9D, R10D, R11D, R12D, R13D},
	GPR16: {AX, BX, CX, DX, SI, DI, R8W, R9W, R10W, R11W, R12W, R13W},
	GPR8:  {AL, BL, CL, DL, SIL, DIL, R8B, R9B, R10B, R11B, R12B, R13B},
	FPR:   {XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7, XMM8, XMM9, XMM10, XMM11, XMM12, XMM13},
}

func (ri *RegisterInfo) Reserved(class uint32) []uint32 { return reservedByClass[class] }
func (ri *RegisterInfo) Available(class uint32) []uint32 { return availableByClass[class] }

func (ri *RegisterInfo) ClassesOverlap(a, b uint32) bool {
	if a == b {
		return true
	}
	if a == FPR || b == FPR {
		return false
	}
	// every GPR class aliases the others
	return true
}
