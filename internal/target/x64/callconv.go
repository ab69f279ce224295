package x64

import (
	"forge/internal/ir"
	"forge/internal/target"
)

type argState struct {
	usedGPR int
	usedFPR int
	gprs    []uint32
	fprs    []uint32
}

func (s *argState) hasGPR() bool { return s.usedGPR < len(s.gprs) }
func (s *argState) hasFPR() bool { return s.usedFPR < len(s.fprs) }
func (s *argState) nextGPR() uint32 {
	r := s.gprs[s.usedGPR]
	s.usedGPR++
	return r
}
func (s *argState) nextFPR() uint32 {
	r := s.fprs[s.usedFPR]
	s.usedFPR++
	return r
}

func assignRegOrStack(info *target.CallInfo, state *argState, index int, t ir.Type) {
	isFloat := ir.IsFloat(t)
	size := info.DataLayout().Size(t)
	if (isFloat && state.hasFPR()) || (!isFloat && state.hasGPR()) {
		base := state.nextGPR
		if isFloat {
			base = state.nextFPR
		}
		reg := base()
		if !isFloat {
			if sized, ok := info.RegisterInfo().RegisterWithSize(reg, size); ok {
				reg = sized
			}
		}
		info.SetArgAssign(index, &target.RegisterAssign{Register: reg, Size: size})
		return
	}
	info.SetArgAssign(index, &target.StackAssign{})
}

// CCSysV implements the System V AMD64 calling convention: six integer
// registers, eight vector registers, the rest on the stack right to
// left. Small struct returns ride in rax:rdx / xmm0:xmm1.
func CCSysV(info *target.CallInfo, types []ir.Type, isVarArg bool) {
	state := &argState{
		gprs: []uint32{RDI, RSI, RDX, RCX, R8, R9},
		fprs: []uint32{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7},
	}
	retState := &argState{
		gprs: []uint32{RAX, RDX},
		fprs: []uint32{XMM0, XMM1},
	}

	for i, t := range types[1:] {
		assignRegOrStack(info, state, i, t)
	}

	retType := types[0]
	switch {
	case ir.IsVoid(retType):
	case ir.IsFloat(retType):
		info.AddRetAssign(&target.RegisterAssign{Register: XMM0, Size: info.DataLayout().Size(retType)})
	case ir.IsStruct(retType):
		for _, field := range retType.(*ir.StructType).Fields {
			size := info.DataLayout().Size(field)
			if ir.IsFloat(field) && retState.hasFPR() {
				info.AddRetAssign(&target.RegisterAssign{Register: retState.nextFPR(), Size: size})
				continue
			}
			reg := retState.nextGPR()
			if sized, ok := info.RegisterInfo().RegisterWithSize(reg, size); ok {
				reg = sized
			}
			info.AddRetAssign(&target.RegisterAssign{Register: reg, Size: size})
		}
	default:
		size := info.DataLayout().Size(retType)
		reg := uint32(RAX)
		if sized, ok := info.RegisterInfo().RegisterWithSize(RAX, size); ok {
			reg = sized
		}
		info.AddRetAssign(&target.RegisterAssign{Register: reg, Size: size})
	}
}

// CCWin64 implements the Microsoft x64 convention: four parameter slots
// shared between rcx/rdx/r8/r9 and xmm0..3 by position, 32 bytes of
// shadow space, small aggregates returned in rax or rax:rdx.
func CCWin64(info *target.CallInfo, types []ir.Type, isVarArg bool) {
	state := &argState{
		gprs: []uint32{RCX, RDX, R8, R9},
		fprs: []uint32{XMM0, XMM1, XMM2, XMM3},
	}

	retType := types[0]
	switch {
	case ir.IsVoid(retType):
	case ir.IsFloat(retType):
		info.AddRetAssign(&target.RegisterAssign{Register: XMM0, Size: info.DataLayout().Size(retType)})
	case ir.IsStruct(retType):
		size := info.DataLayout().Size(retType)
		switch size {
		case 1, 2, 4, 8:
			info.AddRetAssign(&target.RegisterAssign{Register: RAX, Size: size})
		case 16:
			info.AddRetAssign(&target.RegisterAssign{Register: RAX, Size: 8})
			info.AddRetAssign(&target.RegisterAssign{Register: RDX, Size: 8})
		}
	default:
		size := info.DataLayout().Size(retType)
		reg := uint32(RAX)
		if sized, ok := info.RegisterInfo().RegisterWithSize(RAX, size); ok {
			reg = sized
		}
		info.AddRetAssign(&target.RegisterAssign{Register: reg, Size: size})
	}

	// a float argument consumes its positional slot, never an earlier one
	for i, t := range types[1:] {
		isFloat := ir.IsFloat(t)
		if isFloat {
			state.usedFPR = max(state.usedFPR, state.usedGPR)
		} else {
			state.usedGPR = max(state.usedGPR, state.usedFPR)
		}
		assignRegOrStack(info, state, i, t)
		if isFloat {
			state.usedGPR = state.usedFPR
		} else {
			state.usedFPR = state.usedGPR
		}
	}
}

// ShadowSpaceBytes is the Win64 register home area the caller reserves.
const ShadowSpaceBytes = 32
