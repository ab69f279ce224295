package ir

// ConstantFolder evaluates instructions whose operands are constants and
// rewrites constant-condition branches to plain jumps.
type ConstantFolder struct {
	ctx *Context
}

func NewConstantFolder(ctx *Context) *ConstantFolder { return &ConstantFolder{ctx: ctx} }

func (p *ConstantFolder) PassName() string { return "constfold" }

func (p *ConstantFolder) RunOnFunction(fn *Function) (bool, error) {
	changed := false
	for again := true; again; {
		again = false
		for _, b := range fn.Blocks() {
			for _, ins := range b.Instructions() {
				if p.foldInstruction(fn, b, ins) {
					changed = true
					again = true
					break
				}
			}
			if again {
				break
			}
		}
	}
	return changed, nil
}

func (p *ConstantFolder) foldInstruction(fn *Function, b *Block, ins *Instruction) bool {
	switch {
	case ins.Op() == OpJump && ins.NumOperands() > 1:
		cond, ok := ins.Cond().(*ConstantInt)
		if !ok {
			return false
		}
		target := ins.Operand(0).(*Block)
		if cond.Value == 0 {
			target = ins.Operand(1).(*Block)
		}
		b.RemoveInstruction(ins)
		b.AddInstruction(NewJump(target))
		return true

	case ins.Op() == OpPhi:
		in := ins.Incomings()
		if len(in) == 0 {
			return false
		}
		first := in[0].Value
		for _, inc := range in[1:] {
			if inc.Value != first {
				return false
			}
		}
		if first == ins {
			return false
		}
		fn.Replace(ins, first)
		b.RemoveInstruction(ins)
		return true

	case ins.IsCmp():
		lhs, lok := ins.LHS().(*ConstantInt)
		rhs, rok := ins.RHS().(*ConstantInt)
		if !lok || !rok {
			return false
		}
		result := evalIntCompare(ins.Op(), lhs.Value, rhs.Value)
		if result < 0 {
			return false
		}
		fn.Replace(ins, p.ctx.ConstantInt(1, int64(result)))
		b.RemoveInstruction(ins)
		return true

	case ins.IsCast():
		c, ok := ins.Operand(0).(*ConstantInt)
		if !ok {
			return false
		}
		to, ok := ins.CastTo().(*IntType)
		if !ok {
			return false
		}
		var folded int64
		switch ins.Op() {
		case OpZext:
			folded = int64(uint64(c.Value) & mask(c.Type().(*IntType).Bits))
		case OpSext:
			folded = c.Value
		case OpTrunc:
			folded = int64(uint64(c.Value) & mask(to.Bits))
		default:
			return false
		}
		fn.Replace(ins, p.ctx.ConstantInt(to.Bits, folded))
		b.RemoveInstruction(ins)
		return true

	default:
		lhs, lok := safeOperand(ins, 0).(*ConstantInt)
		rhs, rok := safeOperand(ins, 1).(*ConstantInt)
		if !lok || !rok {
			return false
		}
		value, ok := evalIntBinary(ins.Op(), lhs.Value, rhs.Value)
		if !ok {
			return false
		}
		bits := ins.Type().(*IntType).Bits
		fn.Replace(ins, p.ctx.ConstantInt(bits, value))
		b.RemoveInstruction(ins)
		return true
	}
}

func safeOperand(ins *Instruction, n int) Value {
	if n >= ins.NumOperands() {
		return nil
	}
	return ins.Operand(n)
}

func mask(bits uint8) uint64 {
	if bits >= 64 {
		return ^uint64(0)
	}
	return (1 << bits) - 1
}

// evalIntCompare returns 0/1, or -1 when the opcode is not an integer
// comparison.
func evalIntCompare(op Opcode, lhs, rhs int64) int {
	toInt := func(b bool) int {
		if b {
			return 1
		}
		return 0
	}
	switch op {
	case OpICmpEq:
		return toInt(lhs == rhs)
	case OpICmpNe:
		return toInt(lhs != rhs)
	case OpICmpGt:
		return toInt(lhs > rhs)
	case OpICmpGe:
		return toInt(lhs >= rhs)
	case OpICmpLt:
		return toInt(lhs < rhs)
	case OpICmpLe:
		return toInt(lhs <= rhs)
	case OpUCmpGt:
		return toInt(uint64(lhs) > uint64(rhs))
	case OpUCmpGe:
		return toInt(uint64(lhs) >= uint64(rhs))
	case OpUCmpLt:
		return toInt(uint64(lhs) < uint64(rhs))
	case OpUCmpLe:
		return toInt(uint64(lhs) <= uint64(rhs))
	}
	return -1
}

func evalIntBinary(op Opcode, lhs, rhs int64) (int64, bool) {
	switch op {
	case OpAdd:
		return lhs + rhs, true
	case OpSub:
		return lhs - rhs, true
	case OpIMul, OpUMul:
		return lhs * rhs, true
	case OpIDiv:
		if rhs == 0 {
			return 0, false
		}
		return lhs / rhs, true
	case OpUDiv:
		if rhs == 0 {
			return 0, false
		}
		return int64(uint64(lhs) / uint64(rhs)), true
	case OpIRem:
		if rhs == 0 {
			return 0, false
		}
		return lhs % rhs, true
	case OpURem:
		if rhs == 0 {
			return 0, false
		}
		return int64(uint64(lhs) % uint64(rhs)), true
	case OpAnd:
		return lhs & rhs, true
	case OpOr:
		return lhs | rhs, true
	case OpXor:
		return lhs ^ rhs, true
	case OpShl:
		return lhs << uint64(rhs), true
	case OpLShr:
		return int64(uint64(lhs) >> uint64(rhs)), true
	case OpAShr:
		return lhs >> uint64(rhs), true
	}
	return 0, false
}
