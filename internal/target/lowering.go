package target

import (
	"forge/internal/ir"
	"forge/internal/mir"
)

// LoweringHooks is the per-target half of the lowering pass.
type LoweringHooks interface {
	LowerCall(b *mir.Block, ins *mir.Instruction) (*mir.Instruction, error)
	LowerSwitch(b *mir.Block, ins *mir.Instruction) error
	LowerReturn(b *mir.Block, ins *mir.Instruction) error
	LowerVaStart(b *mir.Block, ins *mir.Instruction) error
	LowerVaEnd(b *mir.Block, ins *mir.Instruction) error
	// LowerFunction places formal arguments and writes the frame
	// prologue and epilogues.
	LowerFunction(fn *mir.Function) error
}

// Lowering drives pseudo-op expansion: φ parallel copies, calls,
// switches, returns, va intrinsics, the frame set-up and finally the
// forced sub-register rewrites.
type Lowering struct {
	RegInfo   RegisterInfo
	InstrInfo InstructionInfo
	Layout    ir.DataLayout
	Spiller   *Spiller
	Spec      Specification
	OptLevel  ir.OptimizationLevel
	Pool      *mir.Pool
	Hooks     LoweringHooks
}

func (l *Lowering) PassName() string { return "lowering" }

func (l *Lowering) RunOnMachineFunction(fn *mir.Function) (bool, error) {
	l.lowerPhis(fn)

	for _, b := range fn.Blocks() {
		for {
			lowered := false
			for _, ins := range b.Instructions() {
				var err error
				switch ins.Op {
				case mir.CallLowerOp:
					_, err = l.Hooks.LowerCall(b, ins)
				case mir.SwitchLowerOp:
					err = l.Hooks.LowerSwitch(b, ins)
				case mir.ReturnLowerOp:
					err = l.Hooks.LowerReturn(b, ins)
				case mir.VaStartLowerOp:
					err = l.Hooks.LowerVaStart(b, ins)
				case mir.VaEndLowerOp:
					err = l.Hooks.LowerVaEnd(b, ins)
				default:
					continue
				}
				if err != nil {
					return false, err
				}
				lowered = true
				break
			}
			if !lowered {
				break
			}
		}
	}

	if err := l.Hooks.LowerFunction(fn); err != nil {
		return false, err
	}

	l.rewriteForcedSubRegisters(fn)
	return true, nil
}

func (l *Lowering) lowerPhis(fn *mir.Function) {
	for _, b := range fn.Blocks() {
		copies := b.PhiCopies()
		if len(copies) == 0 {
			continue
		}
		l.parallelCopy(b, copies)
		b.ClearPhiCopies()
	}
}

// parallelCopy materializes the queued φ copies before the terminator as
// if they executed simultaneously, breaking cycles through a scratch
// virtual register.
func (l *Lowering) parallelCopy(b *mir.Block, copies []*mir.Instruction) {
	type pair struct {
		dst *mir.Register
		src mir.Operand
	}
	var pending []pair
	for _, c := range copies {
		dst := c.Operands[0].(*mir.Register)
		src := c.Operands[1]
		if src.Equals(dst, true) {
			continue
		}
		pending = append(pending, pair{dst, src})
	}

	term := Terminator(l.InstrInfo, b)
	emit := func(src mir.Operand, dst *mir.Register) {
		class := l.operandClass(b.Parent(), dst)
		size := l.RegInfo.Class(class).Size
		pos := b.Last()
		if term != nil {
			pos = b.InstructionIndex(term)
		}
		l.InstrInfo.Move(b, pos, src, dst, size, l.RegInfo.IsFloatClass(class))
	}

	for len(pending) > 0 {
		progressed := false
		for i, p := range pending {
			destIsSource := false
			for j, other := range pending {
				if i == j {
					continue
				}
				if other.src.Equals(p.dst, true) {
					destIsSource = true
					break
				}
			}
			if destIsSource {
				continue
			}
			emit(p.src, p.dst)
			pending = append(pending[:i], pending[i+1:]...)
			progressed = true
			break
		}
		if progressed {
			continue
		}
		// every destination feeds another copy: break the cycle
		p := pending[0]
		class := l.operandClass(b.Parent(), p.dst)
		tmp := l.RegInfo.Register(b.Parent().RegisterInfo().NextVirtualRegister(class, nil))
		emit(p.dst, tmp)
		for i := range pending {
			if pending[i].src.Equals(p.dst, true) {
				pending[i].src = tmp
			}
		}
		emit(p.src, p.dst)
		pending = pending[1:]
	}
}

func (l *Lowering) operandClass(fn *mir.Function, op mir.Operand) uint32 {
	switch op := op.(type) {
	case *mir.Register:
		return l.RegInfo.RegisterIDClass(op.ID, fn.RegisterInfo())
	case *mir.ImmediateInt:
		return l.RegInfo.ClassForSize(int(op.Size), false)
	}
	return l.RegInfo.ClassForSize(l.Layout.PointerSize(), false)
}

// rewriteForcedSubRegisters resolves ForceN-bit flags on physical
// registers into the correctly sized alias.
func (l *Lowering) rewriteForcedSubRegisters(fn *mir.Function) {
	for _, b := range fn.Blocks() {
		for _, ins := range b.Instructions() {
			for n, op := range ins.Operands {
				reg, ok := op.(*mir.Register)
				if !ok || !l.RegInfo.IsPhysical(reg.ID) {
					continue
				}
				var size int
				switch {
				case reg.HasFlag(mir.Force64BitRegister):
					size = 8
				case reg.HasFlag(mir.Force32BitRegister):
					size = 4
				case reg.HasFlag(mir.Force16BitRegister):
					size = 2
				case reg.HasFlag(mir.Force8BitRegister):
					size = 1
				default:
					continue
				}
				if alias, ok := l.RegInfo.RegisterWithSize(reg.ID, size); ok {
					ins.Operands[n] = l.RegInfo.Register(alias)
				}
			}
		}
	}
}
