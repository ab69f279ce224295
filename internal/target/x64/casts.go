package x64

import (
	"forge/internal/ir"
	"forge/internal/isel"
	"forge/internal/mir"
	"forge/internal/target"
)

func (info *InstructionInfo) addCastPatterns(ps isel.PatternSet) {
	layout := info.layout

	emitWithSrc := func(n isel.Node, b *mir.Block, e isel.Emitter) (*mir.Register, *mir.Register, int, int, error) {
		in := isel.AsInstruction(n)
		srcOp, err := e.EmitOrGet(in.Operands[0], b)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		srcType := nodeValueType(in.Operands[0])
		srcSize := layoutSizeClamped(layout, srcType)
		src := info.materializeRegister(b, srcOp, srcSize, ir.IsFloat(srcType))
		dstOp, err := e.EmitOrGet(in.Result, b)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		dstSize := layoutSizeClamped(layout, in.CastTo)
		return src, dstOp.(*mir.Register), srcSize, dstSize, nil
	}

	ps.Add(isel.Pattern{
		Name:  "zext",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			src, dst, srcSize, dstSize, err := emitWithSrc(n, b, e)
			if err != nil {
				return nil, err
			}
			switch {
			case srcSize == 4 && dstSize == 8:
				// a 32-bit move zero-extends implicitly
				b.AddInstruction(mir.NewInstruction(Mov32rr,
					mir.CloneWithFlags(dst, mir.Force32BitRegister), src))
			case dstSize <= 2:
				// widen through the 32-bit form, the destination alias
				// keeps the low bits
				op := target.SelectOpcode(srcSize, false, [4]uint32{Movzx32r8r, Movzx32r16r, 0, 0}, [2]uint32{})
				b.AddInstruction(mir.NewInstruction(op,
					mir.CloneWithFlags(dst, mir.Force32BitRegister), src))
			case dstSize == 4:
				op := target.SelectOpcode(srcSize, false, [4]uint32{Movzx32r8r, Movzx32r16r, 0, 0}, [2]uint32{})
				b.AddInstruction(mir.NewInstruction(op, dst, src))
			default:
				op := target.SelectOpcode(srcSize, false, [4]uint32{Movzx64r8r, Movzx64r16r, 0, 0}, [2]uint32{})
				b.AddInstruction(mir.NewInstruction(op, dst, src))
			}
			return dst, nil
		},
	}, isel.KindZext)

	ps.Add(isel.Pattern{
		Name:  "sext",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			src, dst, srcSize, dstSize, err := emitWithSrc(n, b, e)
			if err != nil {
				return nil, err
			}
			var op uint32
			switch {
			case srcSize == 4 && dstSize == 8:
				op = Movsx64r32r
			case dstSize == 8:
				op = target.SelectOpcode(srcSize, false, [4]uint32{Movsx64r8r, Movsx64r16r, 0, 0}, [2]uint32{})
			default:
				op = target.SelectOpcode(srcSize, false, [4]uint32{Movsx32r8r, Movsx32r16r, 0, 0}, [2]uint32{})
				if dstSize <= 2 {
					dst = mir.CloneWithFlags(dst, mir.Force32BitRegister).(*mir.Register)
				}
			}
			b.AddInstruction(mir.NewInstruction(op, dst, src))
			return info.plainRegister(dst), nil
		},
	}, isel.KindSext)

	ps.Add(isel.Pattern{
		Name:  "trunc",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			src, dst, _, dstSize, err := emitWithSrc(n, b, e)
			if err != nil {
				return nil, err
			}
			op := movOpForSize(dstSize, false, false, false)
			forced := forceFlagForSize(dstSize)
			b.AddInstruction(mir.NewInstruction(op, dst, mir.CloneWithFlags(src, forced)))
			return dst, nil
		},
	}, isel.KindTrunc)

	ps.Add(isel.Pattern{
		Name:  "bitcast",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			src, dst, srcSize, dstSize, err := emitWithSrc(n, b, e)
			if err != nil {
				return nil, err
			}
			size := dstSize
			srcOp := mir.Operand(src)
			if srcSize > dstSize {
				srcOp = mir.CloneWithFlags(src, forceFlagForSize(dstSize))
			} else if srcSize < dstSize {
				srcOp = mir.CloneWithFlags(src, forceFlagForSize(dstSize))
			}
			info.Move(b, b.Last(), srcOp, dst, size, false)
			return dst, nil
		},
	}, isel.KindGenericCast)

	ps.Add(isel.Pattern{
		Name:  "fpext",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			src, dst, _, _, err := emitWithSrc(n, b, e)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(Cvtss2sdrr, dst, src))
			return dst, nil
		},
	}, isel.KindFpext)

	ps.Add(isel.Pattern{
		Name:  "fptrunc",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			src, dst, _, _, err := emitWithSrc(n, b, e)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(Cvtsd2ssrr, dst, src))
			return dst, nil
		},
	}, isel.KindFptrunc)

	fptosi := func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
		src, dst, srcSize, dstSize, err := emitWithSrc(n, b, e)
		if err != nil {
			return nil, err
		}
		cvtSize := dstSize
		if cvtSize < 4 {
			cvtSize = 4
		}
		var op uint32
		if srcSize == 4 {
			op = target.SelectOpcode(cvtSize, false, [4]uint32{0, 0, Cvttss2si32rr, Cvttss2si64rr}, [2]uint32{})
		} else {
			op = target.SelectOpcode(cvtSize, false, [4]uint32{0, 0, Cvttsd2si32rr, Cvttsd2si64rr}, [2]uint32{})
		}
		out := dst
		if dstSize < 4 {
			out = mir.CloneWithFlags(dst, mir.Force32BitRegister).(*mir.Register)
		}
		b.AddInstruction(mir.NewInstruction(op, out, src))
		return dst, nil
	}
	ps.Add(isel.Pattern{Name: "fptosi", Match: anyNode, Emit: fptosi}, isel.KindFptosi)
	// unsigned results reuse the truncating convert through the wider
	// register
	ps.Add(isel.Pattern{Name: "fptoui", Match: anyNode, Emit: fptosi}, isel.KindFptoui)

	sitofp := func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
		src, dst, srcSize, dstSize, err := emitWithSrc(n, b, e)
		if err != nil {
			return nil, err
		}
		cvtSrc := src
		cvtSize := srcSize
		if srcSize < 4 {
			wide := info.newVReg(b, GPR32)
			var ext uint32
			if n.Kind() == isel.KindSitofp {
				ext = target.SelectOpcode(srcSize, false, [4]uint32{Movsx32r8r, Movsx32r16r, 0, 0}, [2]uint32{})
			} else {
				ext = target.SelectOpcode(srcSize, false, [4]uint32{Movzx32r8r, Movzx32r16r, 0, 0}, [2]uint32{})
			}
			b.AddInstruction(mir.NewInstruction(ext, wide, cvtSrc))
			cvtSrc = wide
			cvtSize = 4
		}
		var op uint32
		if dstSize == 4 {
			op = target.SelectOpcode(cvtSize, false, [4]uint32{0, 0, Cvtsi2ss32rr, Cvtsi2ss64rr}, [2]uint32{})
		} else {
			op = target.SelectOpcode(cvtSize, false, [4]uint32{0, 0, Cvtsi2sd32rr, Cvtsi2sd64rr}, [2]uint32{})
		}
		b.AddInstruction(mir.NewInstruction(op, dst, cvtSrc))
		return dst, nil
	}
	ps.Add(isel.Pattern{Name: "sitofp", Match: anyNode, Emit: sitofp}, isel.KindSitofp)
	ps.Add(isel.Pattern{Name: "uitofp", Match: anyNode, Emit: sitofp}, isel.KindUitofp)
}

func forceFlagForSize(size int) int64 {
	switch size {
	case 1:
		return mir.Force8BitRegister
	case 2:
		return mir.Force16BitRegister
	case 4:
		return mir.Force32BitRegister
	}
	return mir.Force64BitRegister
}

// plainRegister strips any force flags from a register operand.
func (info *InstructionInfo) plainRegister(reg *mir.Register) *mir.Register {
	if reg.Flags() == 0 {
		return reg
	}
	return info.regInfo.Register(reg.ID)
}
