package aarch64

import (
	"forge/internal/ir"
	"forge/internal/target"
)

// CCAAPCS64 implements the AArch64 procedure call standard: eight
// integer registers, eight floating-point registers, the rest on the
// stack. Structs up to 16 bytes return in x0/x1.
func CCAAPCS64(info *target.CallInfo, types []ir.Type, isVarArg bool) {
	gprs := []uint32{X0, X1, X2, X3, X4, X5, X6, X7}
	fprs := []uint32{D0, D1, D2, D3, D4, D5, D6, D7}
	usedGPR, usedFPR := 0, 0

	for i, t := range types[1:] {
		isFloat := ir.IsFloat(t)
		size := info.DataLayout().Size(t)
		switch {
		case isFloat && usedFPR < len(fprs):
			reg := fprs[usedFPR]
			usedFPR++
			if sized, ok := info.RegisterInfo().RegisterWithSize(reg, size); ok {
				reg = sized
			}
			info.SetArgAssign(i, &target.RegisterAssign{Register: reg, Size: size})
		case !isFloat && usedGPR < len(gprs):
			reg := gprs[usedGPR]
			usedGPR++
			if sized, ok := info.RegisterInfo().RegisterWithSize(reg, size); ok {
				reg = sized
			}
			info.SetArgAssign(i, &target.RegisterAssign{Register: reg, Size: size})
		default:
			info.SetArgAssign(i, &target.StackAssign{})
		}
	}

	retType := types[0]
	switch {
	case ir.IsVoid(retType):
	case ir.IsStruct(retType):
		size := info.DataLayout().Size(retType)
		if size <= 16 {
			info.AddRetAssign(&target.RegisterAssign{Register: X0, Size: 8})
			if size > 8 {
				info.AddRetAssign(&target.RegisterAssign{Register: X1, Size: 8})
			}
		}
	default:
		size := info.DataLayout().Size(retType)
		reg := uint32(X0)
		if ir.IsFloat(retType) {
			reg = D0
		}
		if sized, ok := info.RegisterInfo().RegisterWithSize(reg, size); ok && size != 8 {
			reg = sized
		}
		info.AddRetAssign(&target.RegisterAssign{Register: reg, Size: size})
	}
}
