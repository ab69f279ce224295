package aarch64

import (
	"fmt"

	"forge/internal/ir"
	"forge/internal/target"
)

// Register ids. X registers come first so the 64-bit id is canonical for
// its W alias; D registers are canonical for their S alias.
const (
	X0 uint32 = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	XZR

	W0
	W1
	W2
	W3
	W4
	W5
	W6
	W7
	W8
	W9
	W10
	W11
	W12
	W13
	W14
	W15
	W16
	W17
	W18
	W19
	W20
	W21
	W22
	W23
	W24
	W25
	W26
	W27
	W28
	W29
	W30
	WZR

	SP

	D0
	D1
	D2
	D3
	D4
	D5
	D6
	D7
	D8
	D9
	D10
	D11
	D12
	D13
	D14
	D15
	D16
	D17
	D18
	D19
	D20
	D21
	D22
	D23
	D24
	D25
	D26
	D27
	D28
	D29
	D30
	D31

	S0
	S1
	S2
	S3
	S4
	S5
	S6
	S7
	S8
	S9
	S10
	S11
	S12
	S13
	S14
	S15
	S16
	S17
	S18
	S19
	S20
	S21
	S22
	S23
	S24
	S25
	S26
	S27
	S28
	S29
	S30
	S31

	numRegisters
)

// Register classes.
const (
	GPR64 uint32 = iota
	GPR32
	FPR64
	FPR32
)

// RegisterInfo is the AArch64 register file.
type RegisterInfo struct {
	target.RegisterInfoBase
}

func NewRegisterInfo() *RegisterInfo {
	ri := &RegisterInfo{}
	ri.Descs = make([]target.RegisterDesc, numRegisters)

	xName := func(n uint32) string {
		switch n {
		case 29:
			return "x29"
		case 30:
			return "x30"
		case 31:
			return "xzr"
		}
		return fmt.Sprintf("x%d", n)
	}
	wName := func(n uint32) string {
		if n == 31 {
			return "wzr"
		}
		return fmt.Sprintf("w%d", n)
	}

	for n := uint32(0); n <= 31; n++ {
		ri.Descs[X0+n] = target.RegisterDesc{
			Name:      xName(n),
			SubRegs:   []uint32{W0 + n},
			AliasRegs: []uint32{W0 + n},
			Class:     GPR64,
		}
		ri.Descs[W0+n] = target.RegisterDesc{
			Name:      wName(n),
			SuperRegs: []uint32{X0 + n},
			AliasRegs: []uint32{X0 + n},
			Class:     GPR32,
		}
	}
	ri.Descs[SP] = target.RegisterDesc{Name: "sp", Class: GPR64}

	for n := uint32(0); n <= 31; n++ {
		ri.Descs[D0+n] = target.RegisterDesc{
			Name:      fmt.Sprintf("d%d", n),
			SubRegs:   []uint32{S0 + n},
			AliasRegs: []uint32{S0 + n},
			Class:     FPR64,
		}
		ri.Descs[S0+n] = target.RegisterDesc{
			Name:      fmt.Sprintf("s%d", n),
			SuperRegs: []uint32{D0 + n},
			AliasRegs: []uint32{D0 + n},
			Class:     FPR32,
		}
	}

	seq := func(base uint32, n int) []uint32 {
		regs := make([]uint32, n)
		for i := range regs {
			regs[i] = base + uint32(i)
		}
		return regs
	}
	ri.Classes = []target.RegisterClass{
		{Regs: append(seq(X0, 32), SP), Size: 8, Alignment: 8},
		{Regs: seq(W0, 32), Size: 4, Alignment: 4},
		{Regs: seq(D0, 32), Size: 8, Alignment: 8},
		{Regs: seq(S0, 32), Size: 4, Alignment: 4},
	}
	return ri
}

func (ri *RegisterInfo) ClassFromType(t ir.Type) uint32 {
	switch t := t.(type) {
	case *ir.IntType:
		if t.Bits <= 32 {
			return GPR32
		}
		return GPR64
	case *ir.FloatType:
		if t.Bits == 32 {
			return FPR32
		}
		return FPR64
	}
	return GPR64
}

func (ri *RegisterInfo) ClassForSize(size int, flt bool) uint32 {
	if flt {
		if size == 4 {
			return FPR32
		}
		return FPR64
	}
	if size <= 4 {
		return GPR32
	}
	return GPR64
}

func (ri *RegisterInfo) IsFloatClass(class uint32) bool {
	return class == FPR32 || class == FPR64
}

var callerSaved = []uint32{
	X0, X1, X2, X3, X4, X5, X6, X7, X8, X9, X10, X11, X12, X13, X14, X15,
	D0, D1, D2, D3, D4, D5, D6, D7,
}

var calleeSaved = []uint32{
	X19, X20, X21, X22, X23, X24, X25, X26, X27, X28,
	D8, D9, D10, D11, D12, D13, D14, D15,
}

func (ri *RegisterInfo) CallerSaved() []uint32 { return callerSaved }
func (ri *RegisterInfo) CalleeSaved() []uint32 { return calleeSaved }

// x16/x17 stay reserved as lowering scratch, x18 is the platform
// register.
var reservedByClass = map[uint32][]uint32{
	GPR64: {X16, X17, X18},
	GPR32: {W16, W17, W18},
	FPR64: {D30, D31},
	FPR32: {S30, S31},
}

var availableByClass = map[uint32][]uint32{
	GPR64: {X0, X1, X2, X3, X4, X5, X6, X7, X8, X9, X10, X11, X12, X13, X14, X15,
		X19, X20, X21, X22, X23, X24, X25, X26, X27, X28},
	GPR32: {W0, W1, W2, W3, W4, W5, W6, W7, W8, W9, W10, W11, W12, W13, W14, W15,
		W19, W20, W21, W22, W23, W24, W25, W26, W27, W28},
	FPR64: {D0, D1, D2, D3, D4, D5, D6, D7, D8, D9, D10, D11, D12, D13, D14, D15,
		D16, D17, D18, D19, D20, D21, D22, D23, D24, D25, D26, D27, D28, D29},
	FPR32: {S0, S1, S2, S3, S4, S5, S6, S7, S8, S9, S10, S11, S12, S13, S14, S15,
		S16, S17, S18, S19, S20, S21, S22, S23, S24, S25, S26, S27, S28, S29},
}

func (ri *RegisterInfo) Reserved(class uint32) []uint32 { return reservedByClass[class] }
func (ri *RegisterInfo) Available(class uint32) []uint32 { return availableByClass[class] }

func (ri *RegisterInfo) ClassesOverlap(a, b uint32) bool {
	if a == b {
		return true
	}
	gpr := func(c uint32) bool { return c == GPR64 || c == GPR32 }
	if gpr(a) && gpr(b) {
		return true
	}
	return !gpr(a) && !gpr(b)
}
