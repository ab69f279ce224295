package x64

import (
	"forge/internal/errors"
	"forge/internal/ir"
	"forge/internal/isel"
	"forge/internal/mir"
	"forge/internal/target"
)

func anyNode(isel.Node) bool { return true }

func operandsOf(n isel.Node) []isel.Node { return isel.AsInstruction(n).Operands }

func resultOf(n isel.Node) isel.Value { return isel.AsInstruction(n).Result }

// nodeValueType is the IR type of the value an operand node produces.
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

func (info *InstructionInfo) newVReg(b *mir.Block, class uint32) *mir.Register {
	return info.regInfo.Register(b.Parent().RegisterInfo().NextVirtualRegister(class, nil))
}

// materializeRegister forces op into a register of the right width.
func (info *InstructionInfo) materializeRegister(b *mir.Block, op mir.Operand, size int, flt bool) *mir.Register {
	if reg, ok := op.(*mir.Register); ok {
		return reg
	}
	tmp := info.newVReg(b, info.regInfo.ClassForSize(size, flt))
	info.Move(b, b.Last(), op, tmp, size, flt)
	return tmp
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
			class := ri.ClassFromType(reg.Type())
			return info.newVReg(b, class), nil
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
			size := layout.Size(c.Type())
			if size < 1 {
				size = 1
			}
			return pool.Imm(c.Value, mir.ImmSize(size)), nil
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
		Name: "ret-void",
		Match: func(n isel.Node) bool {
			return len(operandsOf(n)) == 0
		},
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			b.AddInstruction(mir.NewInstruction(mir.ReturnLowerOp))
			return nil, nil
		},
	}, isel.KindRet)

	ps.Add(isel.Pattern{
		Name: "ret-value",
		Match: func(n isel.Node) bool {
			return len(operandsOf(n)) == 1
		},
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

// storeSource normalizes the value operand of a store and picks the
// matching store opcode.
func (info *InstructionInfo) storeSource(b *mir.Block, e isel.Emitter, valueNode isel.Node) (mir.Operand, uint32, error) {
	from, err := e.EmitOrGet(valueNode, b)
	if err != nil {
		return nil, 0, err
	}
	switch src := from.(type) {
	case *mir.Register:
		t := nodeValueType(valueNode)
		return src, movOpForSize(layoutSizeClamped(info.layout, t), ir.IsFloat(t), true, false), nil
	case *mir.FrameIndex:
		// storing an address: lea it through a reserved scratch
		tmp := info.regInfo.Register(reservedByClass[GPR64][len(reservedByClass[GPR64])-1])
		slot := b.Parent().StackFrame().StackSlot(int(src.Index))
		info.StackSlotAddress(b, b.Last(), slot, tmp)
		return tmp, Mov64mr, nil
	case *mir.ImmediateInt:
		op := target.SelectOpcode(int(src.Size), false, [4]uint32{Mov8mi, Mov16mi, Mov32mi, Movm64i32}, [2]uint32{})
		return src, op, nil
	}
	return nil, 0, errors.NewBadOperand(b.Parent().Name, "store source %T", from)
}

func layoutSizeClamped(layout ir.DataLayout, t ir.Type) int {
	size := layout.Size(t)
	if size < 1 {
		size = 1
	}
	return size
}

func (info *InstructionInfo) addMemoryPatterns(ps isel.PatternSet) {
	ri := info.regInfo

	ps.Add(isel.Pattern{
		Name: "store-frame",
		Match: func(n isel.Node) bool {
			return isFrameNode(operandsOf(n)[0])
		},
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			ops := operandsOf(n)
			from, op, err := info.storeSource(b, e, ops[1])
			if err != nil {
				return nil, err
			}
			frame := isel.ExtractOperand(ops[0], true).(*isel.FrameIndex)
			slot := b.Parent().StackFrame().StackSlot(int(frame.Slot))
			b.AddInstruction(mir.NewInstruction(op, frameAddress(ri, slot), from))
			return nil, nil
		},
	}, isel.KindStore)

	ps.Add(isel.Pattern{
		Name: "store-pointer",
		Match: func(n isel.Node) bool {
			return isRegNode(operandsOf(n)[0])
		},
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			ops := operandsOf(n)
			from, op, err := info.storeSource(b, e, ops[1])
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
			b.AddInstruction(mir.NewInstruction(op, mir.NewMemory(ptr, 0), from))
			return nil, nil
		},
	}, isel.KindStore)

	loadInto := func(b *mir.Block, result mir.Operand, addr func(off int64) *mir.Memory, t ir.Type) error {
		switch dst := result.(type) {
		case *mir.Register:
			op := movOpForSize(layoutSizeClamped(info.layout, t), ir.IsFloat(t), false, true)
			b.AddInstruction(mir.NewInstruction(op, dst, addr(0)))
			return nil
		case *mir.MultiValue:
			var off int64
			for _, v := range dst.Values {
				reg := v.(*mir.Register)
				class := ri.RegisterIDClass(reg.ID, b.Parent().RegisterInfo())
				size := ri.Class(class).Size
				op := movOpForSize(size, class == FPR, false, true)
				b.AddInstruction(mir.NewInstruction(op, reg, addr(off)))
				off += int64(size)
			}
			return nil
		}
		return errors.NewBadOperand(b.Parent().Name, "load result %T", result)
	}

	ps.Add(isel.Pattern{
		Name: "load-frame",
		Match: func(n isel.Node) bool {
			return isFrameNode(operandsOf(n)[0])
		},
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			ops := operandsOf(n)
			frame := isel.ExtractOperand(ops[0], true).(*isel.FrameIndex)
			slot := b.Parent().StackFrame().StackSlot(int(frame.Slot))
			result, err := e.EmitOrGet(resultOf(n), b)
			if err != nil {
				return nil, err
			}
			pointee := pointeeOf(frame.Type())
			err = loadInto(b, result, func(off int64) *mir.Memory {
				return mir.NewMemory(ri.Register(RBP), -slot.Offset+off)
			}, pointee)
			return result, err
		},
	}, isel.KindLoad)

	ps.Add(isel.Pattern{
		Name: "load-pointer",
		Match: func(n isel.Node) bool {
			return isRegNode(operandsOf(n)[0])
		},
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
			pointee := pointeeOf(nodeValueType(ops[0]))
			err = loadInto(b, result, func(off int64) *mir.Memory {
				return mir.NewMemory(ptr, off)
			}, pointee)
			return result, err
		},
	}, isel.KindLoad)
}

func pointeeOf(t ir.Type) ir.Type {
	if pt, ok := t.(*ir.PointerType); ok {
		return pt.Pointee
	}
	return t
}

type binOpcodes struct {
	rr [4]uint32
	ri [4]uint32
	// frr is zero for integer-only operators
	frr [2]uint32
}

var binaryOpcodeTable = map[isel.NodeKind]binOpcodes{
	isel.KindAdd: {
		rr:  [4]uint32{Add8rr, Add16rr, Add32rr, Add64rr},
		ri:  [4]uint32{Add8ri, Add16ri, Add32ri, Add64r32i},
		frr: [2]uint32{Addssrr, Addsdrr},
	},
	isel.KindSub: {
		rr:  [4]uint32{Sub8rr, Sub16rr, Sub32rr, Sub64rr},
		ri:  [4]uint32{Sub8ri, Sub16ri, Sub32ri, Sub64r32i},
		frr: [2]uint32{Subssrr, Subsdrr},
	},
	isel.KindAnd: {
		rr: [4]uint32{And8rr, And16rr, And32rr, And64rr},
		ri: [4]uint32{And8ri, And16ri, And32ri, And64r32i},
	},
	isel.KindOr: {
		rr: [4]uint32{Or8rr, Or16rr, Or32rr, Or64rr},
		ri: [4]uint32{Or8ri, Or16ri, Or32ri, Or64r32i},
	},
	isel.KindXor: {
		rr: [4]uint32{Xor8rr, Xor16rr, Xor32rr, Xor64rr},
		ri: [4]uint32{Xor8ri, Xor16ri, Xor32ri, Xor64r32i},
	},
}

func (info *InstructionInfo) addArithmeticPatterns(ps isel.PatternSet) {
	layout := info.layout

	for kind, ops := range binaryOpcodeTable {
		kind, ops := kind, ops
		flt := ops.frr[0] != 0

		// register + register, destination copies the left operand; an
		// immediate right operand is first moved into a scratch register
		ps.Add(isel.Pattern{
			Name: "bin-rr",
			Match: func(n isel.Node) bool {
				o := operandsOf(n)
				return len(o) == 2 && isRegNode(isel.ExtractOperand(o[0], true)) &&
					(isRegNode(isel.ExtractOperand(o[1], true)) || isImmNode(o[1]))
			},
			Cost: 10,
			Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
				o := operandsOf(n)
				t := resultOf(n).Type()
				size := layoutSizeClamped(layout, t)
				left, err := e.EmitOrGet(o[0], b)
				if err != nil {
					return nil, err
				}
				dst, err := e.EmitOrGet(resultOf(n), b)
				if err != nil {
					return nil, err
				}
				info.Move(b, b.Last(), left, dst, size, ir.IsFloat(t))
				right, err := e.EmitOrGet(o[1], b)
				if err != nil {
					return nil, err
				}
				var op uint32
				if ir.IsFloat(t) {
					if !flt {
						return nil, errors.NewBadOperand(b.Parent().Name, "float operand on integer operator")
					}
					op = target.SelectOpcode(size, true, [4]uint32{}, ops.frr)
				} else {
					right = info.materializeRegister(b, right, size, false)
					op = target.SelectOpcode(size, false, ops.rr, [2]uint32{})
				}
				b.AddInstruction(mir.NewInstruction(op, dst, right))
				return dst, nil
			},
		}, kind)

		// register + immediate folds the constant into the instruction
		ps.Add(isel.Pattern{
			Name: "bin-ri",
			Match: func(n isel.Node) bool {
				o := operandsOf(n)
				if len(o) != 2 || isFloatNode(o[0]) || !isImmNode(o[1]) {
					return false
				}
				c := isel.ExtractOperand(o[1], true).(*isel.ConstantInt)
				return mir.ImmSizeFromValue(c.Value) <= mir.Imm32
			},
			Cost:            8,
			CoveredOperands: []int{1},
			Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
				o := operandsOf(n)
				t := resultOf(n).Type()
				size := layoutSizeClamped(layout, t)
				left, err := e.EmitOrGet(o[0], b)
				if err != nil {
					return nil, err
				}
				dst, err := e.EmitOrGet(resultOf(n), b)
				if err != nil {
					return nil, err
				}
				info.Move(b, b.Last(), left, dst, size, false)
				c := isel.ExtractOperand(o[1], true).(*isel.ConstantInt)
				immSize := mir.ImmSize(size)
				if size == 8 {
					immSize = mir.Imm32
				}
				op := target.SelectOpcode(size, false, ops.ri, [2]uint32{})
				b.AddInstruction(mir.NewInstruction(op, dst, info.pool.Imm(c.Value, immSize)))
				return dst, nil
			},
		}, kind)
	}

	// multiplication: imul has no 8-bit two-operand form, so byte
	// multiplies run on the 32-bit aliases
	mulEmit := func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
		o := operandsOf(n)
		t := resultOf(n).Type()
		size := layoutSizeClamped(info.layout, t)
		if ir.IsFloat(t) {
			left, err := e.EmitOrGet(o[0], b)
			if err != nil {
				return nil, err
			}
			dst, err := e.EmitOrGet(resultOf(n), b)
			if err != nil {
				return nil, err
			}
			info.Move(b, b.Last(), left, dst, size, true)
			right, err := e.EmitOrGet(o[1], b)
			if err != nil {
				return nil, err
			}
			op := target.SelectOpcode(size, true, [4]uint32{}, [2]uint32{Mulssrr, Mulsdrr})
			b.AddInstruction(mir.NewInstruction(op, dst, right))
			return dst, nil
		}

		left, err := e.EmitOrGet(o[0], b)
		if err != nil {
			return nil, err
		}
		right, err := e.EmitOrGet(o[1], b)
		if err != nil {
			return nil, err
		}
		dst, err := e.EmitOrGet(resultOf(n), b)
		if err != nil {
			return nil, err
		}
		dstReg := dst.(*mir.Register)
		info.Move(b, b.Last(), left, dstReg, size, false)
		rightReg := info.materializeRegister(b, right, size, false)
		if size == 1 {
			b.AddInstruction(mir.NewInstruction(IMul32rr,
				mir.CloneWithFlags(dstReg, mir.Force32BitRegister),
				mir.CloneWithFlags(rightReg, mir.Force32BitRegister)))
			return dst, nil
		}
		op := target.SelectOpcode(size, false, [4]uint32{0, IMul16rr, IMul32rr, IMul64rr}, [2]uint32{})
		b.AddInstruction(mir.NewInstruction(op, dstReg, rightReg))
		return dst, nil
	}
	ps.Add(isel.Pattern{Name: "mul", Match: anyNode, Emit: mulEmit}, isel.KindIMul, isel.KindUMul, isel.KindFMul)

	// shifts: the count rides in cl unless it is a small constant
	shiftTable := map[isel.NodeKind][2][4]uint32{
		isel.KindShiftLeft:   {{Shl8ri, Shl16ri, Shl32ri, Shl64ri}, {Shl8rCL, Shl16rCL, Shl32rCL, Shl64rCL}},
		isel.KindLShiftRight: {{Shr8ri, Shr16ri, Shr32ri, Shr64ri}, {Shr8rCL, Shr16rCL, Shr32rCL, Shr64rCL}},
		isel.KindAShiftRight: {{Sar8ri, Sar16ri, Sar32ri, Sar64ri}, {Sar8rCL, Sar16rCL, Sar32rCL, Sar64rCL}},
	}
	for kind, ops := range shiftTable {
		kind, ops := kind, ops
		ps.Add(isel.Pattern{
			Name:  "shift",
			Match: anyNode,
			Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
				o := operandsOf(n)
				t := resultOf(n).Type()
				size := layoutSizeClamped(info.layout, t)
				left, err := e.EmitOrGet(o[0], b)
				if err != nil {
					return nil, err
				}
				dst, err := e.EmitOrGet(resultOf(n), b)
				if err != nil {
					return nil, err
				}
				info.Move(b, b.Last(), left, dst, size, false)
				count, err := e.EmitOrGet(o[1], b)
				if err != nil {
					return nil, err
				}
				if imm, ok := count.(*mir.ImmediateInt); ok {
					op := target.SelectOpcode(size, false, ops[0], [2]uint32{})
					b.AddInstruction(mir.NewInstruction(op, dst, info.pool.Imm(imm.Value, mir.Imm8)))
					return dst, nil
				}
				countReg := count.(*mir.Register)
				info.Move(b, b.Last(), mir.CloneWithFlags(countReg, mir.Force8BitRegister), info.regInfo.Register(CL), 1, false)
				op := target.SelectOpcode(size, false, ops[1], [2]uint32{})
				b.AddInstruction(mir.NewInstruction(op, dst, info.regInfo.Register(CL)))
				return dst, nil
			},
		}, kind)
	}

	info.addDivisionPatterns(ps)
}

// addDivisionPatterns lowers the div/rem family through rax/rdx.
func (info *InstructionInfo) addDivisionPatterns(ps isel.PatternSet) {
	ri := info.regInfo

	type divKind struct {
		kind      isel.NodeKind
		signed    bool
		remainder bool
	}
	kinds := []divKind{
		{isel.KindIDiv, true, false},
		{isel.KindUDiv, false, false},
		{isel.KindIRem, true, true},
		{isel.KindURem, false, true},
	}

	for _, dk := range kinds {
		dk := dk
		ps.Add(isel.Pattern{
			Name: "div",
			Match: func(n isel.Node) bool {
				return !isFloatNode(operandsOf(n)[0])
			},
			Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
				o := operandsOf(n)
				t := resultOf(n).Type()
				size := layoutSizeClamped(info.layout, t)

				left, err := e.EmitOrGet(o[0], b)
				if err != nil {
					return nil, err
				}
				right, err := e.EmitOrGet(o[1], b)
				if err != nil {
					return nil, err
				}

				opSize := size
				if opSize < 4 {
					// widen byte and word division to 32 bits
					leftReg := info.materializeRegister(b, left, size, false)
					rightReg := info.materializeRegister(b, right, size, false)
					wideLeft := info.newVReg(b, GPR32)
					wideRight := info.newVReg(b, GPR32)
					extOp := func(signed bool) uint32 {
						if signed {
							return target.SelectOpcode(size, false, [4]uint32{Movsx32r8r, Movsx32r16r, 0, 0}, [2]uint32{})
						}
						return target.SelectOpcode(size, false, [4]uint32{Movzx32r8r, Movzx32r16r, 0, 0}, [2]uint32{})
					}
					b.AddInstruction(mir.NewInstruction(extOp(dk.signed), wideLeft, leftReg))
					b.AddInstruction(mir.NewInstruction(extOp(dk.signed), wideRight, rightReg))
					left, right = wideLeft, wideRight
					opSize = 4
				}

				axAlias, _ := ri.RegisterWithSize(RAX, opSize)
				dxAlias, _ := ri.RegisterWithSize(RDX, opSize)
				ax := ri.Register(axAlias)
				dx := ri.Register(dxAlias)

				info.Move(b, b.Last(), left, ax, opSize, false)
				rightReg := info.materializeRegister(b, right, opSize, false)

				if dk.signed {
					if opSize == 8 {
						b.AddInstruction(mir.NewInstruction(Cqo))
					} else {
						b.AddInstruction(mir.NewInstruction(Cdq))
					}
					op := target.SelectOpcode(opSize, false, [4]uint32{IDiv8, IDiv16, IDiv32, IDiv64}, [2]uint32{})
					b.AddInstruction(mir.NewInstruction(op, rightReg))
				} else {
					zero := ri.Register(EDX)
					b.AddInstruction(mir.NewInstruction(Xor32rr, zero, zero))
					op := target.SelectOpcode(opSize, false, [4]uint32{Div8, Div16, Div32, Div64}, [2]uint32{})
					b.AddInstruction(mir.NewInstruction(op, rightReg))
				}

				src := ax
				if dk.remainder {
					src = dx
				}
				dst, err := e.EmitOrGet(resultOf(n), b)
				if err != nil {
					return nil, err
				}
				if size < 4 {
					narrow, _ := ri.RegisterWithSize(src.ID, size)
					src = ri.Register(narrow)
				}
				info.Move(b, b.Last(), src, dst, size, false)
				return dst, nil
			},
		}, dk.kind)
	}

	// float division shares the two-address emit shape
	ps.Add(isel.Pattern{
		Name: "fdiv",
		Match: func(n isel.Node) bool {
			return isFloatNode(operandsOf(n)[0])
		},
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			o := operandsOf(n)
			t := resultOf(n).Type()
			size := layoutSizeClamped(info.layout, t)
			left, err := e.EmitOrGet(o[0], b)
			if err != nil {
				return nil, err
			}
			dst, err := e.EmitOrGet(resultOf(n), b)
			if err != nil {
				return nil, err
			}
			info.Move(b, b.Last(), left, dst, size, true)
			right, err := e.EmitOrGet(o[1], b)
			if err != nil {
				return nil, err
			}
			op := target.SelectOpcode(size, true, [4]uint32{}, [2]uint32{Divssrr, Divsdrr})
			b.AddInstruction(mir.NewInstruction(op, dst, right))
			return dst, nil
		},
	}, isel.KindFDiv)
}

var intSetcc = map[isel.NodeKind]uint32{
	isel.KindICmpEq: Sete, isel.KindICmpNe: Setne,
	isel.KindICmpGt: Setg, isel.KindICmpGe: Setge,
	isel.KindICmpLt: Setl, isel.KindICmpLe: Setle,
	isel.KindUCmpGt: Seta, isel.KindUCmpGe: Setae,
	isel.KindUCmpLt: Setb, isel.KindUCmpLe: Setbe,
}

var fltSetcc = map[isel.NodeKind]uint32{
	isel.KindFCmpEq: Sete, isel.KindFCmpNe: Setne,
	isel.KindFCmpGt: Seta, isel.KindFCmpGe: Setae,
	isel.KindFCmpLt: Setb, isel.KindFCmpLe: Setbe,
}

var intJcc = map[isel.NodeKind]uint32{
	isel.KindICmpEq: Je, isel.KindICmpNe: Jne,
	isel.KindICmpGt: Jg, isel.KindICmpGe: Jge,
	isel.KindICmpLt: Jl, isel.KindICmpLe: Jle,
	isel.KindUCmpGt: Ja, isel.KindUCmpGe: Jae,
	isel.KindUCmpLt: Jb, isel.KindUCmpLe: Jbe,
}

var fltJcc = map[isel.NodeKind]uint32{
	isel.KindFCmpEq: Je, isel.KindFCmpNe: Jne,
	isel.KindFCmpGt: Ja, isel.KindFCmpGe: Jae,
	isel.KindFCmpLt: Jb, isel.KindFCmpLe: Jbe,
}

// emitCompare emits the flag-setting instruction of a comparison node.
func (info *InstructionInfo) emitCompare(cmp *isel.Instruction, b *mir.Block, e isel.Emitter) error {
	lhsType := nodeValueType(cmp.Operands[0])
	size := layoutSizeClamped(info.layout, lhsType)

	lhs, err := e.EmitOrGet(cmp.Operands[0], b)
	if err != nil {
		return err
	}
	rhs, err := e.EmitOrGet(cmp.Operands[1], b)
	if err != nil {
		return err
	}

	if ir.IsFloat(lhsType) {
		lreg := info.materializeRegister(b, lhs, size, true)
		rreg := info.materializeRegister(b, rhs, size, true)
		op := target.SelectOpcode(size, true, [4]uint32{}, [2]uint32{Ucomissrr, Ucomisdrr})
		b.AddInstruction(mir.NewInstruction(op, lreg, rreg))
		return nil
	}

	lreg := info.materializeRegister(b, lhs, size, false)
	if imm, ok := rhs.(*mir.ImmediateInt); ok && mir.ImmSizeFromValue(imm.Value) <= mir.Imm32 {
		immSize := mir.ImmSize(size)
		if size == 8 {
			immSize = mir.Imm32
		}
		op := target.SelectOpcode(size, false, [4]uint32{Cmp8ri, Cmp16ri, Cmp32ri, Cmp64r32i}, [2]uint32{})
		b.AddInstruction(mir.NewInstruction(op, lreg, info.pool.Imm(imm.Value, immSize)))
		return nil
	}
	rreg := info.materializeRegister(b, rhs, size, false)
	op := target.SelectOpcode(size, false, [4]uint32{Cmp8rr, Cmp16rr, Cmp32rr, Cmp64rr}, [2]uint32{})
	b.AddInstruction(mir.NewInstruction(op, lreg, rreg))
	return nil
}

func (info *InstructionInfo) addComparePatterns(ps isel.PatternSet) {
	for kind, setcc := range intSetcc {
		kind, setcc := kind, setcc
		ps.Add(isel.Pattern{
			Name:  "cmp-set",
			Match: anyNode,
			Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
				if err := info.emitCompare(isel.AsInstruction(n), b, e); err != nil {
					return nil, err
				}
				dst, err := e.EmitOrGet(resultOf(n), b)
				if err != nil {
					return nil, err
				}
				b.AddInstruction(mir.NewInstruction(setcc, dst))
				return dst, nil
			},
		}, kind)
	}
	for kind, setcc := range fltSetcc {
		kind, setcc := kind, setcc
		ps.Add(isel.Pattern{
			Name:  "fcmp-set",
			Match: anyNode,
			Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
				if err := info.emitCompare(isel.AsInstruction(n), b, e); err != nil {
					return nil, err
				}
				dst, err := e.EmitOrGet(resultOf(n), b)
				if err != nil {
					return nil, err
				}
				b.AddInstruction(mir.NewInstruction(setcc, dst))
				return dst, nil
			},
		}, kind)
	}
}

func (info *InstructionInfo) addJumpPatterns(ps isel.PatternSet) {
	ps.Add(isel.Pattern{
		Name: "jmp",
		Match: func(n isel.Node) bool {
			return len(operandsOf(n)) == 1
		},
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			targetOp, err := e.EmitOrGet(isel.ExtractOperand(operandsOf(n)[0], true), b)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(Jmp, targetOp))
			return nil, nil
		},
	}, isel.KindJump)

	// conditional jump fused with the comparison feeding it
	ps.Add(isel.Pattern{
		Name: "br-cmp",
		Match: func(n isel.Node) bool {
			o := operandsOf(n)
			return len(o) > 2 && isel.IsCmpKind(o[2].Kind())
		},
		Cost:            8,
		CoveredOperands: []int{2},
		Emit: func(n isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
			o := operandsOf(n)
			cmp := isel.AsInstruction(o[2])
			if err := info.emitCompare(cmp, b, e); err != nil {
				return nil, err
			}
			var jcc uint32
			if j, ok := intJcc[o[2].Kind()]; ok {
				jcc = j
			} else {
				jcc = fltJcc[o[2].Kind()]
			}
			then, err := e.EmitOrGet(o[0], b)
			if err != nil {
				return nil, err
			}
			els, err := e.EmitOrGet(o[1], b)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(jcc, then))
			b.AddInstruction(mir.NewInstruction(Jmp, els))
			return nil, nil
		},
	}, isel.KindJump)

	ps.Add(isel.Pattern{
		Name: "br-imm",
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
			b.AddInstruction(mir.NewInstruction(Jmp, targetOp))
			return nil, nil
		},
	}, isel.KindJump)

	ps.Add(isel.Pattern{
		Name: "br-reg",
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
			size := info.regSize(cond, b)
			op := target.SelectOpcode(size, false, [4]uint32{Test8rr, Test16rr, Test32rr, Test64rr}, [2]uint32{})
			b.AddInstruction(mir.NewInstruction(op, cond, cond))
			then, err := e.EmitOrGet(o[0], b)
			if err != nil {
				return nil, err
			}
			els, err := e.EmitOrGet(o[1], b)
			if err != nil {
				return nil, err
			}
			b.AddInstruction(mir.NewInstruction(Jne, then))
			b.AddInstruction(mir.NewInstruction(Jmp, els))
			return nil, nil
		},
	}, isel.KindJump)
}

func (info *InstructionInfo) addControlPatterns(ps isel.PatternSet) {
	ps.Add(isel.Pattern{
		Name: "phi",
		Match: func(n isel.Node) bool {
			return len(operandsOf(n)) > 0
		},
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
				pred := predOp.(*mir.Block)
				valueBlockOp, err := e.EmitOrGet(valueNode.Root(), b)
				if err != nil {
					return nil, err
				}
				valueBlock := valueBlockOp.(*mir.Block)
				src, err := e.EmitOrGet(valueNode, valueBlock)
				if err != nil {
					return nil, err
				}
				pred.AddPhiCopy(dest, src)
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

// calleeName resolves the direct-call symbol name of a call node.
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
		lowering.AddType(voidTypeOf(b))
	}

	calleeOp, err := info.callTarget(callee, b, e)
	if err != nil {
		return nil, err
	}
	lowering.AddOperand(calleeOp)

	for _, arg := range in.Operands[1:] {
		value, err := e.EmitOrGet(arg, b)
		if err != nil {
			return nil, err
		}
		lowering.AddOperand(value)
		lowering.AddType(nodeValueType(arg))
	}
	if fn, ok := calleeFunction(callee); ok {
		lowering.IsVarArg = fn.FunctionType().Variadic
	}
	b.AddInstruction(lowering)
	return ret, nil
}

func voidTypeOf(b *mir.Block) ir.Type {
	return b.Parent().IRFunction().Unit().Context().Void()
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

// callTarget picks the symbol or register a call goes through.
func (info *InstructionInfo) callTarget(callee isel.Node, b *mir.Block, e isel.Emitter) (mir.Operand, error) {
	if fn, ok := calleeFunction(callee); ok {
		if !fn.HasBody() {
			return mir.NewExternalSymbol(fn.Name(), mir.ExternalFunction), nil
		}
		return mir.NewGlobalAddress(fn), nil
	}
	return e.EmitOrGet(callee, b)
}

func (info *InstructionInfo) addGlobalPatterns(ps isel.PatternSet) {
	ri := info.regInfo

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
			mem := mir.NewMemory(ri.Register(RIP), 0)
			mem.Sym = mir.NewConstantIndex(b.Parent().Name, idx)
			op := target.SelectOpcode(size, true, [4]uint32{}, [2]uint32{Movssrm, Movsdrm})
			b.AddInstruction(mir.NewInstruction(op, dst, mem))
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
			mem := mir.NewMemory(ri.Register(RIP), 0)
			if fn, ok := gv.Global.(*ir.Function); ok && !fn.HasBody() {
				mem.Sym = mir.NewExternalSymbol(fn.Name(), mir.ExternalFunction)
			} else {
				mem.Sym = mir.NewGlobalAddress(gv.Global)
			}
			b.AddInstruction(mir.NewInstruction(Lea64rm, dst, mem))
			return dst, nil
		},
	}, isel.KindLoadGlobal)

	ps.Add(isel.Pattern{
		Name:  "gep",
		Match: anyNode,
		Emit:  info.emitGEP,
	}, isel.KindGEP)

}

// emitGEP computes base + folded constant offsets + scaled dynamic
// indices into the result register.
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
		idx := info.materializeRegister(b, idxOp, 8, false)
		tmp := info.newVReg(b, GPR64)
		mem := mir.NewMemory(nil, 0)
		mem.Index = mir.CloneWithFlags(idx, mir.Force64BitRegister).(*mir.Register)
		mem.Scale = uint8(scale)
		if scale != 1 && scale != 2 && scale != 4 && scale != 8 {
			// scale by explicit multiply when lea cannot encode it
			info.Move(b, b.Last(), mir.CloneWithFlags(idx, mir.Force64BitRegister), tmp, 8, false)
			shift := info.newVReg(b, GPR64)
			info.Move(b, b.Last(), info.pool.Imm(scale, mir.Imm32), shift, 8, false)
			b.AddInstruction(mir.NewInstruction(IMul64rr, tmp, shift))
		} else {
			mem.Base = nil
			b.AddInstruction(mir.NewInstruction(Lea64rm, tmp, mem))
		}
		b.AddInstruction(mir.NewInstruction(Add64rr, dst, tmp))
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
		b.AddInstruction(mir.NewInstruction(Add64r32i, dst, info.pool.Imm(constOffset, mir.Imm32)))
	}
	return dst, nil
}

