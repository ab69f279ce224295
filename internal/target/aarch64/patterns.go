package aarch64

import (
	"forge/internal/errors"
	"forge/internal/ir"
	"forge/internal/isel"
	"forge/internal/mir"
)

func anyNode(isel.Node) bool { return true }

func operandsOf(n isel.Node) []isel.Node { return isel.AsInstruction(n).Operands }

func resultOf(n isel.Node) isel.Value { return isel.AsInstruction(n).Result }

func nodeValueType(n isel.Node) ir.Type {
	return isel.ExtractOperand(n, true).(isel.Value).Type()
}

func isImmNode(n isel.Node) bool {
	return isel.ExtractOperand(n, true).Kind() == isel.KindConstantInt
}

func isRegNode(n isel.Node) bool {
	return isel.IsRegisterNode(isel.ExtractOperand(n, true))
}

func isFrameNode(n isel.Node) bool {
	return isel.ExtractOperand(n, true).Kind() == isel.KindFrameIndex
}

func isFloatNode(n isel.Node) bool { return ir.IsFloat(nodeValueType(n)) }

func sizeClamped(layout ir.DataLayout, t ir.Type) int {
	size := layout.Size(t)
	if size < 1 {
		size = 1
	}
	return size
}

func pointeeOf(t ir.Type) ir.Type {
	if pt, ok := t.(*ir.PointerType); ok {
		return pt.Pointee
	}
	return t
}

// materializeRegister forces op into a register.
func (info *InstructionInfo) materializeRegister(b *mir.Block, op mir.Operand, size int, flt bool) *mir.Register {
	if reg, ok := op.(*mir.Register); ok {
		return reg
	}
	if imm, ok := op.(*mir.ImmediateInt); ok {
		reg, _ := info.MaterializeImmediate(b, b.Last(), imm.Value, size)
		return reg
	}
	class := info.regInfo.ClassForSize(size, flt)
	tmp := info.newVReg(b, class)
	info.Move(b, b.Last(), op, tmp, size, flt)
	return tmp
}

func intOp(size int, op32, op64 uint32) uint32 {
	if size > 4 {
		return op64
	}
	return op32
}

func fltOp(size int, op32, op64 uint32) uint32 {
	if size == 4 {
		return op32
	}
	return op64
}

func buildPatterns(info *InstructionInfo) isel.PatternSet {
	ps := make(isel.PatternSet)
	ri := info.regInfo
	layout := info.layout
	pool := info.pool

	ps.Add(isel.Pattern{
		Name:  "root",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			return e.MIRBlock(n.(*isel.Root)), nil
		},
	}, isel.KindRoot)

	ps.Add(isel.Pattern{
		Name:  "register",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			reg := n.(*isel.Register)
			return info.newVReg(b, ri.ClassFromType(reg.Type())), nil
		},
	}, isel.KindRegister)

	ps.Add(isel.Pattern{
		Name:  "frame-index",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			return b.Parent().StackFrame().FrameIndexOperand(int(n.(*isel.FrameIndex).Slot)), nil
		},
	}, isel.KindFrameIndex)

	ps.Add(isel.Pattern{
		Name:  "function-argument",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			return b.Parent().Arguments()[n.(*isel.FunctionArgument).Slot], nil
		},
	}, isel.KindFunctionArgument)

	ps.Add(isel.Pattern{
		Name:  "constant-int",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			c := n.(*isel.ConstantInt)
			return pool.Imm(c.Value, mir.ImmSize(sizeClamped(layout, c.Type()))), nil
		},
	}, isel.KindConstantInt)

	ps.Add(isel.Pattern{
		Name:  "multi-value",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			mv := n.(*isel.MultiValue)
			out := mir.NewMultiValue()
			b.Parent().AddMultiValue(out)
			for _, v := range mv.Values {
				op, err := e.EmitOrGet(v, b)
				if err != nil {
					return nil, err
				}
				out.AddValue(op)
			}
			return out, nil
		},
	}, isel.KindMultiValue)

	ps.Add(isel.Pattern{
		Name:  "ret-void",
		Match: func(n isel.Node) bool { return len(operandsOf(n)) == 0 },
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			b.AddInstruction(mir.NewInstruction(mir.ReturnLowerOp))
			return nil, nil
		},
	}, isel.KindRet)

	ps.Add(isel.Pattern{
		Name:  "ret-value",
		Match: func(n isel.Node) bool { return len(operandsOf(n)) == 1 },
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			value, err := e.EmitOrGet(operandsOf(n)[0], b)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(mir.ReturnLowerOp, value))
			return nil, nil
		},
	}, isel.KindRet)

	info.addMemoryPatterns(ps)
	info.addArithmeticPatterns(ps)
	info.addComparePatterns(ps)
	info.addJumpPatterns(ps)
	info.addControlPatterns(ps)
	info.addCastPatterns(ps)
	info.addGlobalPatterns(ps)
	return ps
}

func (info *InstructionInfo) addMemoryPatterns(ps isel.PatternSet) {
	ri := info.regInfo

	storeValue := func(b *mir.Block, e isel.Emitter, valueNode isel.Node) (*mir.Register, int, bool, error) {
		t := nodeValueType(valueNode)
		size := sizeClamped(info.layout, t)
		flt := ir.IsFloat(t)
		from, err := e.EmitOrGet(valueNode, b)
		if err != nil {
			return nil, 0, false, err
		}
		if fi, ok := from.(*mir.FrameIndex); ok {
			// store of an address
			addr := info.newVReg(b, GPR64)
			slot := b.Parent().StackFrame().StackSlot(int(fi.Index))
			info.StackSlotAddress(b, b.Last(), slot, addr)
			return addr, 8, false, nil
		}
		return info.materializeRegister(b, from, size, flt), size, flt, nil
	}

	ps.Add(isel.Pattern{
		Name:  "store-frame",
		Match: func(n isel.Node) bool { return isFrameNode(operandsOf(n)[0]) },
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			ops := operandsOf(n)
			src, size, flt, err := storeValue(b, e, ops[1])
			if err != nil {
				return nil, err
			}
			frame := isel.ExtractOperand(ops[0], true).(*isel.FrameIndex)
			slot := b.Parent().StackFrame().StackSlot(int(frame.Slot))
			b.AddInstruction(mir.NewInstruction(storeOpForSize(size, flt), src, frameAddress(ri, slot)))
			return nil, nil
		},
	}, isel.KindStore)

	ps.Add(isel.Pattern{
		Name:  "store-pointer",
		Match: func(n isel.Node) bool { return isRegNode(operandsOf(n)[0]) },
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			ops := operandsOf(n)
			src, size, flt, err := storeValue(b, e, ops[1])
			if err != nil {
				return nil, err
			}
			ptrOp, err := e.EmitOrGet(ops[0], b)
			if err != nil {
				return nil, err
			}
			ptr, ok := ptrOp.(*mir.Register)
			if !ok {
				return nil, errors.NewBadOperand(b.Parent().Name, "store through %T", ptrOp)
			}
			b.AddInstruction(mir.NewInstruction(storeOpForSize(size, flt), src, mir.NewMemory(ptr, 0)))
			return nil, nil
		},
	}, isel.KindStore)

	loadInto := func(b *mir.Block, result mir.Operand, addr func(off int64) *mir.Memory, t ir.Type) error {
		switch dst := result.(type) {
		case *mir.Register:
			size := sizeClamped(info.layout, t)
			b.AddInstruction(mir.NewInstruction(loadOpForSize(size, ir.IsFloat(t)), dst, addr(0)))
			return nil
		case *mir.MultiValue:
			var off int64
			for _, v := range dst.Values {
				reg := v.(*mir.Register)
				class := ri.RegisterIDClass(reg.ID, b.Parent().RegisterInfo())
				size := ri.Class(class).Size
				b.AddInstruction(mir.NewInstruction(loadOpForSize(size, ri.IsFloatClass(class)), reg, addr(off)))
				off += int64(size)
			}
			return nil
		}
		return errors.NewBadOperand(b.Parent().Name, "load result %T", result)
	}

	ps.Add(isel.Pattern{
		Name:  "load-frame",
		Match: func(n isel.Node) bool { return isFrameNode(operandsOf(n)[0]) },
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			ops := operandsOf(n)
			frame := isel.ExtractOperand(ops[0], true).(*isel.FrameIndex)
			slot := b.Parent().StackFrame().StackSlot(int(frame.Slot))
			result, err := e.EmitOrGet(resultOf(n), b)
			if err != nil {
				return nil, err
			}
			err = loadInto(b, result, func(off int64) *mir.Memory {
				return mir.NewMemory(ri.Register(X29), -slot.Offset+off)
			}, pointeeOf(frame.Type()))
			return result, err
		},
	}, isel.KindLoad)

	ps.Add(isel.Pattern{
		Name:  "load-pointer",
		Match: func(n isel.Node) bool { return isRegNode(operandsOf(n)[0]) },
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			ops := operandsOf(n)
			ptrOp, err := e.EmitOrGet(ops[0], b)
			if err != nil {
				return nil, err
			}
			ptr, ok := ptrOp.(*mir.Register)
			if !ok {
				return nil, errors.NewBadOperand(b.Parent().Name, "load through %T", ptrOp)
			}
			result, err := e.EmitOrGet(resultOf(n), b)
			if err != nil {
				return nil, err
			}
			err = loadInto(b, result, func(off int64) *mir.Memory {
				return mir.NewMemory(ptr, off)
			}, pointeeOf(nodeValueType(ops[0])))
			return result, err
		},
	}, isel.KindLoad)
}

type a64BinOps struct {
	rr32, rr64   uint32
	ri32, ri64   uint32 // zero when no immediate form exists
	frr32, frr64 uint32
}

var binaryOpcodeTable = map[isel.NodeKind]a64BinOps{
	isel.KindAdd: {rr32: Add32rr, rr64: Add64rr, ri32: Add32ri, ri64: Add64ri, frr32: FAdd32rr, frr64: FAdd64rr},
	isel.KindSub: {rr32: Sub32rr, rr64: Sub64rr, ri32: Sub32ri, ri64: Sub64ri, frr32: FSub32rr, frr64: FSub64rr},
	isel.KindAnd: {rr32: And32rr, rr64: And64rr},
	isel.KindOr:  {rr32: Orr32rr, rr64: Orr64rr},
	isel.KindXor: {rr32: Eor32rr, rr64: Eor64rr},

	isel.KindShiftLeft:   {rr32: Lsl32rr, rr64: Lsl64rr, ri32: Lsl32ri, ri64: Lsl64ri},
	isel.KindLShiftRight: {rr32: Lsr32rr, rr64: Lsr64rr, ri32: Lsr32ri, ri64: Lsr64ri},
	isel.KindAShiftRight: {rr32: Asr32rr, rr64: Asr64rr, ri32: Asr32ri, ri64: Asr64ri},

	isel.KindIMul: {rr32: Mul32rr, rr64: Mul64rr, frr32: FMul32rr, frr64: FMul64rr},
	isel.KindUMul: {rr32: Mul32rr, rr64: Mul64rr},
	isel.KindFMul: {frr32: FMul32rr, frr64: FMul64rr},
	isel.KindIDiv: {rr32: SDiv32rr, rr64: SDiv64rr},
	isel.KindUDiv: {rr32: UDiv32rr, rr64: UDiv64rr},
	isel.KindFDiv: {frr32: FDiv32rr, frr64: FDiv64rr},
}

func (info *InstructionInfo) addArithmeticPatterns(ps isel.PatternSet) {
	layout := info.layout

	for kind, ops := range binaryOpcodeTable {
		kind, ops := kind, ops
		ps.Add(isel.Pattern{
			Name:  "bin",
			Match: anyNode,
			Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
				o := operandsOf(n)
				t := resultOf(n).Type()
				size := sizeClamped(layout, t)
				flt := ir.IsFloat(t)

				lhsOp, err := e.EmitOrGet(o[0], b)
				if err != nil {
					return nil, err
				}
				lhs := info.materializeRegister(b, lhsOp, size, flt)
				dstOp, err := e.EmitOrGet(resultOf(n), b)
				if err != nil {
					return nil, err
				}
				dst := dstOp.(*mir.Register)

				if flt {
					if ops.frr32 == 0 {
						return nil, errors.NewBadOperand(b.Parent().Name, "float operand on integer operator")
					}
					rhsOp, err := e.EmitOrGet(o[1], b)
					if err != nil {
						return nil, err
					}
					rhs := info.materializeRegister(b, rhsOp, size, true)
					b.AddInstruction(mir.NewInstruction(fltOp(size, ops.frr32, ops.frr64), dst, lhs, rhs))
					return dst, nil
				}

				rhsOp, err := e.EmitOrGet(o[1], b)
				if err != nil {
					return nil, err
				}
				if imm, ok := rhsOp.(*mir.ImmediateInt); ok && ops.ri32 != 0 && imm.Value >= 0 && imm.Value < 4096 {
					b.AddInstruction(mir.NewInstruction(intOp(size, ops.ri32, ops.ri64), dst, lhs, info.pool.Imm(imm.Value, mir.Imm16)))
					return dst, nil
				}
				rhs := info.materializeRegister(b, rhsOp, size, false)
				b.AddInstruction(mir.NewInstruction(intOp(size, ops.rr32, ops.rr64), dst, lhs, rhs))
				return dst, nil
			},
		}, kind)
	}

	// remainder: divide then multiply-subtract
	for _, dk := range []struct {
		kind isel.NodeKind
		div  [2]uint32
	}{
		{isel.KindIRem, [2]uint32{SDiv32rr, SDiv64rr}},
		{isel.KindURem, [2]uint32{UDiv32rr, UDiv64rr}},
	} {
		dk := dk
		ps.Add(isel.Pattern{
			Name:  "rem",
			Match: anyNode,
			Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
				o := operandsOf(n)
				t := resultOf(n).Type()
				size := sizeClamped(layout, t)
				lhsOp, err := e.EmitOrGet(o[0], b)
				if err != nil {
					return nil, err
				}
				rhsOp, err := e.EmitOrGet(o[1], b)
				if err != nil {
					return nil, err
				}
				lhs := info.materializeRegister(b, lhsOp, size, false)
				rhs := info.materializeRegister(b, rhsOp, size, false)
				class := GPR32
				if size > 4 {
					class = GPR64
				}
				quot := info.newVReg(b, class)
				b.AddInstruction(mir.NewInstruction(intOp(size, dk.div[0], dk.div[1]), quot, lhs, rhs))
				dst, err := e.EmitOrGet(resultOf(n), b)
				if err != nil {
					return nil, err
				}
				b.AddInstruction(mir.NewInstruction(intOp(size, Msub32rr, Msub64rr), dst, quot, rhs, lhs))
				return dst, nil
			},
		}, dk.kind)
	}
}

var intCset = map[isel.NodeKind]uint32{
	isel.KindICmpEq: CsetEq, isel.KindICmpNe: CsetNe,
	isel.KindICmpGt: CsetGt, isel.KindICmpGe: CsetGe,
	isel.KindICmpLt: CsetLt, isel.KindICmpLe: CsetLe,
	isel.KindUCmpGt: CsetHi, isel.KindUCmpGe: CsetHs,
	isel.KindUCmpLt: CsetLo, isel.KindUCmpLe: CsetLs,
}

var fltCset = map[isel.NodeKind]uint32{
	isel.KindFCmpEq: CsetEq, isel.KindFCmpNe: CsetNe,
	isel.KindFCmpGt: CsetGt, isel.KindFCmpGe: CsetGe,
	isel.KindFCmpLt: CsetLt, isel.KindFCmpLe: CsetLe,
}

var intBcc = map[isel.NodeKind]uint32{
	isel.KindICmpEq: Beq, isel.KindICmpNe: Bne,
	isel.KindICmpGt: Bgt, isel.KindICmpGe: Bge,
	isel.KindICmpLt: Blt, isel.KindICmpLe: Ble,
	isel.KindUCmpGt: Bhi, isel.KindUCmpGe: Bhs,
	isel.KindUCmpLt: Blo, isel.KindUCmpLe: Bls,
}

var fltBcc = map[isel.NodeKind]uint32{
	isel.KindFCmpEq: Beq, isel.KindFCmpNe: Bne,
	isel.KindFCmpGt: Bgt, isel.KindFCmpGe: Bge,
	isel.KindFCmpLt: Blt, isel.KindFCmpLe: Ble,
}

// emitCompare sets the condition flags for a comparison node.
func (info *InstructionInfo) emitCompare(cmp *isel.Instruction, b *mir.Block, e isel.Emitter) error {
	lhsType := nodeValueType(cmp.Operands[0])
	size := sizeClamped(info.layout, lhsType)

	lhsOp, err := e.EmitOrGet(cmp.Operands[0], b)
	if err != nil {
		return err
	}
	rhsOp, err := e.EmitOrGet(cmp.Operands[1], b)
	if err != nil {
		return err
	}

	if ir.IsFloat(lhsType) {
		lhs := info.materializeRegister(b, lhsOp, size, true)
		rhs := info.materializeRegister(b, rhsOp, size, true)
		b.AddInstruction(mir.NewInstruction(fltOp(size, FCmp32, FCmp64), lhs, rhs))
		return nil
	}

	lhs := info.materializeRegister(b, lhsOp, size, false)
	if imm, ok := rhsOp.(*mir.ImmediateInt); ok && imm.Value >= 0 && imm.Value < 4096 {
		b.AddInstruction(mir.NewInstruction(intOp(size, Cmp32ri, Cmp64ri), lhs, info.pool.Imm(imm.Value, mir.Imm16)))
		return nil
	}
	rhs := info.materializeRegister(b, rhsOp, size, false)
	b.AddInstruction(mir.NewInstruction(intOp(size, Cmp32rr, Cmp64rr), lhs, rhs))
	return nil
}

func (info *InstructionInfo) addComparePatterns(ps isel.PatternSet) {
	emit := func(cset uint32) isel.EmitterFunc {
		return func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			if err := info.emitCompare(isel.AsInstruction(n), b, e); err != nil {
				return nil, err
			}
			dst, err := e.EmitOrGet(resultOf(n), b)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(cset, dst))
			return dst, nil
		}
	}
	for kind, cset := range intCset {
		ps.Add(isel.Pattern{Name: "cmp-cset", Match: anyNode, Emit: emit(cset)}, kind)
	}
	for kind, cset := range fltCset {
		ps.Add(isel.Pattern{Name: "fcmp-cset", Match: anyNode, Emit: emit(cset)}, kind)
	}
}

func (info *InstructionInfo) addJumpPatterns(ps isel.PatternSet) {
	ps.Add(isel.Pattern{
		Name:  "b",
		Match: func(n isel.Node) bool { return len(operandsOf(n)) == 1 },
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			targetOp, err := e.EmitOrGet(operandsOf(n)[0], b)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(B, targetOp))
			return nil, nil
		},
	}, isel.KindJump)

	ps.Add(isel.Pattern{
		Name: "b-cmp",
		Match: func(n isel.Node) bool {
			o := operandsOf(n)
			return len(o) > 2 && isel.IsCmpKind(o[2].Kind())
		},
		Cost:            8,
		CoveredOperands: []int{2},
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			o := operandsOf(n)
			if err := info.emitCompare(isel.AsInstruction(o[2]), b, e); err != nil {
				return nil, err
			}
			bcc, ok := intBcc[o[2].Kind()]
			if !ok {
				bcc = fltBcc[o[2].Kind()]
			}
			then, err := e.EmitOrGet(o[0], b)
			if err != nil {
				return nil, err
			}
			els, err := e.EmitOrGet(o[1], b)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(bcc, then))
			b.AddInstruction(mir.NewInstruction(B, els))
			return nil, nil
		},
	}, isel.KindJump)

	ps.Add(isel.Pattern{
		Name: "b-imm",
		Match: func(n isel.Node) bool {
			o := operandsOf(n)
			return len(o) > 2 && isImmNode(o[2])
		},
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			o := operandsOf(n)
			c := isel.ExtractOperand(o[2], true).(*isel.ConstantInt)
			pick := 1
			if c.Value != 0 {
				pick = 0
			}
			targetOp, err := e.EmitOrGet(o[pick], b)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(B, targetOp))
			return nil, nil
		},
	}, isel.KindJump)

	ps.Add(isel.Pattern{
		Name: "b-reg",
		Match: func(n isel.Node) bool {
			o := operandsOf(n)
			return len(o) > 2 && isRegNode(isel.ExtractOperand(o[2], true))
		},
		Cost: 12,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			o := operandsOf(n)
			condOp, err := e.EmitOrGet(o[2], b)
			if err != nil {
				return nil, err
			}
			cond := condOp.(*mir.Register)
			then, err := e.EmitOrGet(o[0], b)
			if err != nil {
				return nil, err
			}
			els, err := e.EmitOrGet(o[1], b)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(Cbnz, cond, then))
			b.AddInstruction(mir.NewInstruction(B, els))
			return nil, nil
		},
	}, isel.KindJump)
}

func (info *InstructionInfo) addControlPatterns(ps isel.PatternSet) {
	ps.Add(isel.Pattern{
		Name:  "phi",
		Match: func(n isel.Node) bool { return len(operandsOf(n)) > 0 },
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			phi := isel.AsInstruction(n)
			destOp, err := e.EmitOrGet(isel.ExtractOperand(phi.Result, true), b)
			if err != nil {
				return nil, err
			}
			dest := destOp.(*mir.Register)
			for idx := 0; idx+1 < len(phi.Operands); idx += 2 {
				valueNode := phi.Operands[idx]
				predOp, err := e.EmitOrGet(phi.Operands[idx+1], b)
				if err != nil {
					return nil, err
				}
				valueBlockOp, err := e.EmitOrGet(valueNode.Root(), b)
				if err != nil {
					return nil, err
				}
				src, err := e.EmitOrGet(valueNode, valueBlockOp.(*mir.Block))
				if err != nil {
					return nil, err
				}
				predOp.(*mir.Block).AddPhiCopy(dest, src)
			}
			return dest, nil
		},
	}, isel.KindPhi)

	ps.Add(isel.Pattern{
		Name:  "switch",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			in := isel.AsInstruction(n)
			lowering := mir.NewInstruction(mir.SwitchLowerOp)
			for _, op := range in.Operands {
				emitted, err := e.EmitOrGet(op, b)
				if err != nil {
					return nil, err
				}
				lowering.AddOperand(emitted)
			}
			b.AddInstruction(lowering)
			return nil, nil
		},
	}, isel.KindSwitch)

	ps.Add(isel.Pattern{
		Name: "va-intrinsic",
		Match: func(n isel.Node) bool {
			name, ok := calleeName(n)
			return ok && (name == "va_start" || name == "va_end")
		},
		Cost: 5,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			in := isel.AsInstruction(n)
			name, _ := calleeName(n)
			list, err := e.EmitOrGet(in.Operands[1], b)
			if err != nil {
				return nil, err
			}
			op := mir.VaStartLowerOp
			if name == "va_end" {
				op = mir.VaEndLowerOp
			}
			b.AddInstruction(mir.NewInstruction(op, list))
			return nil, nil
		},
	}, isel.KindCall)

	ps.Add(isel.Pattern{
		Name:  "call",
		Match: anyNode,
		Emit:  info.emitCallLowering,
	}, isel.KindCall)
}

func calleeName(n isel.Node) (string, bool) {
	ops := operandsOf(n)
	if len(ops) == 0 {
		return "", false
	}
	callee := ops[0]
	if callee.Kind() == isel.KindLoadGlobal {
		callee = isel.AsInstruction(callee).Operands[0]
	}
	if gv, ok := callee.(*isel.GlobalValue); ok {
		return gv.Global.Name(), true
	}
	return "", false
}

func calleeFunction(callee isel.Node) (*ir.Function, bool) {
	if callee.Kind() == isel.KindLoadGlobal {
		callee = isel.AsInstruction(callee).Operands[0]
	}
	if gv, ok := callee.(*isel.GlobalValue); ok {
		if fn, ok := gv.Global.(*ir.Function); ok {
			return fn, true
		}
	}
	return nil, false
}

func (info *InstructionInfo) emitCallLowering(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
	chain := isel.AsChain(n)
	in := isel.AsInstruction(n)
	callee := in.Operands[0]

	var ret mir.Operand
	if chain.ResultUsed && in.Result != nil && !ir.IsVoid(in.Result.Type()) {
		var err error
		ret, err = e.EmitOrGet(in.Result, b)
		if err != nil {
			return nil, err
		}
	}

	lowering := mir.NewInstruction(mir.CallLowerOp)
	lowering.Conv = chain.Conv
	lowering.AddOperand(ret)
	if in.Result != nil {
		lowering.AddType(in.Result.Type())
	} else {
		lowering.AddType(b.Parent().IRFunction().Unit().Context().Void())
	}

	if fn, ok := calleeFunction(callee); ok {
		if !fn.HasBody() {
			lowering.AddOperand(mir.NewExternalSymbol(fn.Name(), mir.ExternalFunction))
		} else {
			lowering.AddOperand(mir.NewGlobalAddress(fn))
		}
		lowering.IsVarArg = fn.FunctionType().Variadic
	} else {
		calleeOp, err := e.EmitOrGet(callee, b)
		if err != nil {
			return nil, err
		}
		lowering.AddOperand(calleeOp)
	}

	for _, arg := range in.Operands[1:] {
		value, err := e.EmitOrGet(arg, b)
		if err != nil {
			return nil, err
		}
		lowering.AddOperand(value)
		lowering.AddType(nodeValueType(arg))
	}
	b.AddInstruction(lowering)
	return ret, nil
}

func (info *InstructionInfo) addGlobalPatterns(ps isel.PatternSet) {
	ps.Add(isel.Pattern{
		Name:  "load-constant",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			in := isel.AsInstruction(n)
			cf := in.Operands[0].(*isel.ConstantFloat)
			size := info.layout.Size(cf.Type())
			constant := info.ctx.ConstantFloat(uint8(size*8), cf.Value)
			idx := b.Parent().ConstantPool().Add(constant, size, size)
			dst, err := e.EmitOrGet(in.Result, b)
			if err != nil {
				return nil, err
			}
			op := uint32(LdrLitD)
			if size == 4 {
				op = LdrLitS
			}
			b.AddInstruction(mir.NewInstruction(op, dst, mir.NewConstantIndex(b.Parent().Name, idx)))
			return dst, nil
		},
	}, isel.KindLoadConstant)

	ps.Add(isel.Pattern{
		Name:  "load-global",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			in := isel.AsInstruction(n)
			gv := in.Operands[0].(*isel.GlobalValue)
			dst, err := e.EmitOrGet(in.Result, b)
			if err != nil {
				return nil, err
			}
			var sym mir.Operand
			if fn, ok := gv.Global.(*ir.Function); ok && !fn.HasBody() {
				sym = mir.NewExternalSymbol(fn.Name(), mir.ExternalFunction)
			} else {
				sym = mir.NewGlobalAddress(gv.Global)
			}
			dstReg := dst.(*mir.Register)
			wide := info.widen(dstReg)
			b.AddInstruction(mir.NewInstruction(AdrpSym, wide, sym))
			b.AddInstruction(mir.NewInstruction(AddLo12, wide, wide, sym))
			return dst, nil
		},
	}, isel.KindLoadGlobal)

	ps.Add(isel.Pattern{
		Name:  "gep",
		Match: anyNode,
		Emit:  info.emitGEP,
	}, isel.KindGEP)
}

func (info *InstructionInfo) emitGEP(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
	in := isel.AsInstruction(n)

	dstOp, err := e.EmitOrGet(in.Result, b)
	if err != nil {
		return nil, err
	}
	dst := dstOp.(*mir.Register)

	baseNode := in.Operands[0]
	base, err := e.EmitOrGet(baseNode, b)
	if err != nil {
		return nil, err
	}
	switch base := base.(type) {
	case *mir.FrameIndex:
		slot := b.Parent().StackFrame().StackSlot(int(base.Index))
		info.StackSlotAddress(b, b.Last(), slot, dst)
	case *mir.Register:
		info.Move(b, b.Last(), base, dst, 8, false)
	default:
		return nil, errors.NewBadOperand(b.Parent().Name, "gep base %T", base)
	}

	cur := pointeeOf(nodeValueType(baseNode))
	var constOffset int64

	addScaled := func(idxNode isel.Node, scale int64) error {
		if isImmNode(idxNode) {
			c := isel.ExtractOperand(idxNode, true).(*isel.ConstantInt)
			constOffset += c.Value * scale
			return nil
		}
		idxOp, err := e.EmitOrGet(idxNode, b)
		if err != nil {
			return err
		}
		idx := info.widen(info.materializeRegister(b, idxOp, 8, false))
		scaleReg, _ := info.MaterializeImmediate(b, b.Last(), scale, 8)
		tmp := info.newVReg(b, GPR64)
		b.AddInstruction(mir.NewInstruction(Mul64rr, tmp, idx, scaleReg))
		b.AddInstruction(mir.NewInstruction(Add64rr, dst, dst, tmp))
		return nil
	}

	for i, idxNode := range in.Operands[1:] {
		if i == 0 {
			if err := addScaled(idxNode, int64(info.layout.Size(cur))); err != nil {
				return nil, err
			}
			continue
		}
		switch t := cur.(type) {
		case *ir.StructType:
			c := isel.ExtractOperand(idxNode, true).(*isel.ConstantInt)
			constOffset += ir.FieldOffset(info.layout, t, int(c.Value))
			cur = t.Fields[c.Value]
		case *ir.ArrayType:
			if err := addScaled(idxNode, int64(info.layout.Size(t.Elem))); err != nil {
				return nil, err
			}
			cur = t.Elem
		default:
			return nil, errors.NewBadOperand(b.Parent().Name, "gep through %s", cur)
		}
	}

	if constOffset != 0 {
		if constOffset > 0 && constOffset < 4096 {
			b.AddInstruction(mir.NewInstruction(Add64ri, dst, dst, info.pool.Imm(constOffset, mir.Imm16)))
		} else {
			tmp, _ := info.MaterializeImmediate(b, b.Last(), constOffset, 8)
			b.AddInstruction(mir.NewInstruction(Add64rr, dst, dst, tmp))
		}
	}
	return dst, nil
}

func (info *InstructionInfo) addCastPatterns(ps isel.PatternSet) {
	layout := info.layout

	emitWithSrc := func(n isel.Node, b *mir.Block, e isel.Emitter) (*mir.Register, *mir.Register, int, int, error) {
		in := isel.AsInstruction(n)
		srcOp, err := e.EmitOrGet(in.Operands[0], b)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		srcType := nodeValueType(in.Operands[0])
		srcSize := sizeClamped(layout, srcType)
		src := info.materializeRegister(b, srcOp, srcSize, ir.IsFloat(srcType))
		dstOp, err := e.EmitOrGet(in.Result, b)
		if err != nil {
			return nil, nil, 0, 0, err
		}
		return src, dstOp.(*mir.Register), srcSize, sizeClamped(layout, in.CastTo), nil
	}

	ps.Add(isel.Pattern{
		Name:  "zext",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			src, dst, srcSize, _, err := emitWithSrc(n, b, e)
			if err != nil {
				return nil, err
			}
			narrow := mir.CloneWithFlags(dst, mir.Force32BitRegister).(*mir.Register)
			switch srcSize {
			case 1:
				b.AddInstruction(mir.NewInstruction(Uxtb32, narrow, src))
			case 2:
				b.AddInstruction(mir.NewInstruction(Uxth32, narrow, src))
			default:
				// a w-register move clears the upper half
				b.AddInstruction(mir.NewInstruction(Mov32rr, narrow, mir.CloneWithFlags(src, mir.Force32BitRegister)))
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
			switch {
			case srcSize == 4 && dstSize == 8:
				b.AddInstruction(mir.NewInstruction(Sxtw64, info.widen(dst), mir.CloneWithFlags(src, mir.Force32BitRegister)))
			case srcSize == 1:
				b.AddInstruction(mir.NewInstruction(Sxtb32, mir.CloneWithFlags(dst, mir.Force32BitRegister), src))
				if dstSize == 8 {
					b.AddInstruction(mir.NewInstruction(Sxtw64, info.widen(dst), mir.CloneWithFlags(dst, mir.Force32BitRegister)))
				}
			case srcSize == 2:
				b.AddInstruction(mir.NewInstruction(Sxth32, mir.CloneWithFlags(dst, mir.Force32BitRegister), src))
				if dstSize == 8 {
					b.AddInstruction(mir.NewInstruction(Sxtw64, info.widen(dst), mir.CloneWithFlags(dst, mir.Force32BitRegister)))
				}
			default:
				info.Move(b, b.Last(), src, dst, dstSize, false)
			}
			return dst, nil
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
			size := dstSize
			if size > 4 {
				size = 8
			} else {
				size = 4
			}
			info.Move(b, b.Last(), mir.CloneWithFlags(src, forceFlagForSize(size)), dst, size, false)
			return dst, nil
		},
	}, isel.KindTrunc)

	ps.Add(isel.Pattern{
		Name:  "bitcast",
		Match: anyNode,
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			src, dst, _, dstSize, err := emitWithSrc(n, b, e)
			if err != nil {
				return nil, err
			}
			size := 4
			if dstSize > 4 {
				size = 8
			}
			info.Move(b, b.Last(), mir.CloneWithFlags(src, forceFlagForSize(size)), dst, size, false)
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
			b.AddInstruction(mir.NewInstruction(FCvtSD, dst, src))
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
			b.AddInstruction(mir.NewInstruction(FCvtDS, dst, src))
			return dst, nil
		},
	}, isel.KindFptrunc)

	fptosi := func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
		src, dst, srcSize, dstSize, err := emitWithSrc(n, b, e)
		if err != nil {
			return nil, err
		}
		var op uint32
		if dstSize > 4 {
			op = fltOp(srcSize, Fcvtzs32x, Fcvtzs64x)
		} else {
			op = fltOp(srcSize, Fcvtzs32w, Fcvtzs64w)
		}
		b.AddInstruction(mir.NewInstruction(op, dst, src))
		return dst, nil
	}
	ps.Add(isel.Pattern{Name: "fptosi", Match: anyNode, Emit: fptosi}, isel.KindFptosi)
	ps.Add(isel.Pattern{Name: "fptoui", Match: anyNode, Emit: fptosi}, isel.KindFptoui)

	sitofp := func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
		src, dst, srcSize, dstSize, err := emitWithSrc(n, b, e)
		if err != nil {
			return nil, err
		}
		var op uint32
		if srcSize > 4 {
			op = fltOp(dstSize, Scvtf32x, Scvtf64x)
		} else {
			op = fltOp(dstSize, Scvtf32w, Scvtf64w)
		}
		b.AddInstruction(mir.NewInstruction(op, dst, src))
		return dst, nil
	}
	ps.Add(isel.Pattern{Name: "sitofp", Match: anyNode, Emit: sitofp}, isel.KindSitofp)
	ps.Add(isel.Pattern{Name: "uitofp", Match: anyNode, Emit: sitofp}, isel.KindUitofp)
}

func forceFlagForSize(size int) int64 {
	if size > 4 {
		return mir.Force64BitRegister
	}
	return mir.Force32BitRegister
}
