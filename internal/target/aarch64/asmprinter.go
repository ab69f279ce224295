package aarch64

import (
	"fmt"
	"io"
	"math"
	"strings"

	"forge/internal/ir"
	"forge/internal/mir"
	"forge/internal/target"
)

// AsmPrinter renders machine functions as GNU-syntax AArch64 assembly.
type AsmPrinter struct {
	out       io.Writer
	instrInfo *InstructionInfo
	regInfo   *RegisterInfo
	layout    ir.DataLayout
	spec      target.Specification

	headerDone bool
}

func NewAsmPrinter(out io.Writer, instrInfo *InstructionInfo, regInfo *RegisterInfo, layout ir.DataLayout, spec target.Specification) *AsmPrinter {
	return &AsmPrinter{out: out, instrInfo: instrInfo, regInfo: regInfo, layout: layout, spec: spec}
}

func (p *AsmPrinter) PassName() string { return "asm-printer" }

func (p *AsmPrinter) symbolName(name string) string {
	if p.spec.OS == target.Darwin {
		return "_" + name
	}
	return name
}

func (p *AsmPrinter) RunOnMachineFunction(fn *mir.Function) (bool, error) {
	if !p.headerDone {
		fmt.Fprintf(p.out, "\t.text\n")
		p.headerDone = true
	}

	name := p.symbolName(fn.Name)
	if fn.IRFunction().Linkage() == ir.ExternalLinkage {
		fmt.Fprintf(p.out, "\t.globl %s\n", name)
	}
	if p.spec.OS != target.Darwin {
		fmt.Fprintf(p.out, "\t.type %s,@function\n", name)
	}
	fmt.Fprintf(p.out, "\t.p2align 2\n")
	fmt.Fprintf(p.out, "%s:\n", name)

	for _, b := range fn.Blocks() {
		fmt.Fprintf(p.out, "%s:\n", blockLabel(fn, b))
		for _, ins := range b.Instructions() {
			fmt.Fprintf(p.out, "\t%s\n", p.formatInstruction(fn, ins))
		}
	}

	if !fn.ConstantPool().Empty() {
		fmt.Fprintf(p.out, "\t.section .rodata\n")
		for idx, entry := range fn.ConstantPool().Entries() {
			fmt.Fprintf(p.out, "\t.p2align %d\n", log2(entry.Alignment))
			fmt.Fprintf(p.out, "%s:\n", constantLabel(fn.Name, idx))
			p.printConstantData(entry.Constant)
		}
		fmt.Fprintf(p.out, "\t.text\n")
	}
	fmt.Fprintln(p.out)
	return false, nil
}

// FinishUnit emits global variables after every function body.
func (p *AsmPrinter) FinishUnit(unit *ir.Unit) error {
	for _, g := range unit.Globals() {
		if g.Init == nil {
			continue
		}
		fmt.Fprintf(p.out, "\t.section .data\n")
		if g.Linkage == ir.ExternalLinkage {
			fmt.Fprintf(p.out, "\t.globl %s\n", p.symbolName(g.Name()))
		}
		fmt.Fprintf(p.out, "\t.p2align 3\n")
		fmt.Fprintf(p.out, "%s:\n", p.symbolName(g.Name()))
		p.printConstantData(g.Init)
	}
	return nil
}

func (p *AsmPrinter) printConstantData(v ir.Value) {
	switch v := v.(type) {
	case *ir.ConstantInt:
		switch v.Type().(*ir.IntType).Bits {
		case 1, 8:
			fmt.Fprintf(p.out, "\t.byte %d\n", v.Value)
		case 16:
			fmt.Fprintf(p.out, "\t.short %d\n", v.Value)
		case 32:
			fmt.Fprintf(p.out, "\t.word %d\n", v.Value)
		default:
			fmt.Fprintf(p.out, "\t.quad %d\n", v.Value)
		}
	case *ir.ConstantFloat:
		if v.Type().(*ir.FloatType).Bits == 32 {
			fmt.Fprintf(p.out, "\t.word %d\n", math.Float32bits(float32(v.Value)))
		} else {
			fmt.Fprintf(p.out, "\t.quad %d\n", math.Float64bits(v.Value))
		}
	case *ir.ConstantString:
		fmt.Fprintf(p.out, "\t.asciz %q\n", v.Value)
	case *ir.ConstantStruct:
		for _, e := range v.Values {
			p.printConstantData(e)
		}
	case *ir.ConstantArray:
		for _, e := range v.Values {
			p.printConstantData(e)
		}
	case *ir.Block:
		fmt.Fprintf(p.out, "\t.quad %s\n", irBlockLabel(v))
	case *ir.NullValue:
		fmt.Fprintf(p.out, "\t.quad 0\n")
	case *ir.UndefValue:
		fmt.Fprintf(p.out, "\t.zero %d\n", p.layout.Size(v.Type()))
	case *ir.GlobalVariable, *ir.Function:
		fmt.Fprintf(p.out, "\t.quad %s\n", p.symbolName(v.Name()))
	}
}

func blockLabel(fn *mir.Function, b *mir.Block) string {
	return fmt.Sprintf(".L%s_%s", fn.Name, b.Name)
}

func irBlockLabel(b *ir.Block) string {
	return fmt.Sprintf(".L%s_%s", b.Parent().Name(), b.Name())
}

func constantLabel(fnName string, idx int) string {
	return fmt.Sprintf(".LCPI_%s_%d", fnName, idx)
}

func log2(n int) int {
	p := 0
	for n > 1 {
		n >>= 1
		p++
	}
	return p
}

func (p *AsmPrinter) formatInstruction(fn *mir.Function, ins *mir.Instruction) string {
	mnemonic := p.instrInfo.Mnemonic(ins.Op)

	switch ins.Op {
	case Stp64pre:
		return fmt.Sprintf("stp %s, %s, [%s, #%d]!",
			p.reg(ins.Operands[0]), p.reg(ins.Operands[1]), p.reg(ins.Operands[2]),
			ins.Operands[3].(*mir.ImmediateInt).Value)
	case Ldp64post:
		return fmt.Sprintf("ldp %s, %s, [%s], #%d",
			p.reg(ins.Operands[0]), p.reg(ins.Operands[1]), p.reg(ins.Operands[2]),
			ins.Operands[3].(*mir.ImmediateInt).Value)
	case CsetEq, CsetNe, CsetGt, CsetGe, CsetLt, CsetLe, CsetHi, CsetHs, CsetLo, CsetLs:
		return fmt.Sprintf("cset %s, %s", p.reg(ins.Operands[0]), mnemonic)
	case Movz64ri, Movz32ri, Movn64ri, Movn32ri, Movk64ri, Movk32ri:
		value := ins.Operands[1].(*mir.ImmediateInt).Value
		shift := ins.Operands[2].(*mir.ImmediateInt).Value
		if shift == 0 {
			return fmt.Sprintf("%s %s, #%d", mnemonic, p.reg(ins.Operands[0]), value)
		}
		return fmt.Sprintf("%s %s, #%d, lsl #%d", mnemonic, p.reg(ins.Operands[0]), value, shift)
	case AdrpSym:
		return fmt.Sprintf("adrp %s, %s", p.reg(ins.Operands[0]), p.symName(ins.Operands[1]))
	case AddLo12:
		return fmt.Sprintf("add %s, %s, :lo12:%s", p.reg(ins.Operands[0]), p.reg(ins.Operands[1]), p.symName(ins.Operands[2]))
	}

	var parts []string
	for _, op := range ins.Operands {
		parts = append(parts, p.formatOperand(fn, op))
	}
	if len(parts) == 0 {
		return mnemonic
	}
	return mnemonic + " " + strings.Join(parts, ", ")
}

func (p *AsmPrinter) reg(op mir.Operand) string {
	return p.formatOperand(nil, op)
}

func (p *AsmPrinter) symName(op mir.Operand) string {
	switch op := op.(type) {
	case *mir.GlobalAddress:
		return p.symbolName(op.Name)
	case *mir.ExternalSymbol:
		return p.symbolName(op.Name)
	case *mir.ConstantIndex:
		return constantLabel(op.Name, op.Index)
	}
	return "?"
}

func (p *AsmPrinter) formatOperand(fn *mir.Function, op mir.Operand) string {
	switch op := op.(type) {
	case *mir.Register:
		if op.IsPhysical() {
			return p.regInfo.Name(op.ID)
		}
		return fmt.Sprintf("v%d", op.ID)
	case *mir.ImmediateInt:
		return fmt.Sprintf("#%d", op.Value)
	case *mir.Block:
		return blockLabel(op.Parent(), op)
	case *mir.GlobalAddress:
		return p.symbolName(op.Name)
	case *mir.ExternalSymbol:
		return p.symbolName(op.Name)
	case *mir.ConstantIndex:
		return constantLabel(op.Name, op.Index)
	case *mir.Memory:
		return p.formatMemory(op)
	case *mir.FrameIndex:
		return fmt.Sprintf("fi#%d", op.Index)
	}
	return "?"
}

func (p *AsmPrinter) formatMemory(m *mir.Memory) string {
	if m.Index != nil {
		shift := log2(int(m.Scale))
		if shift == 0 {
			return fmt.Sprintf("[%s, %s]", p.reg(m.Base), p.reg(m.Index))
		}
		return fmt.Sprintf("[%s, %s, lsl #%d]", p.reg(m.Base), p.reg(m.Index), shift)
	}
	if m.Disp == 0 {
		return fmt.Sprintf("[%s]", p.reg(m.Base))
	}
	return fmt.Sprintf("[%s, #%d]", p.reg(m.Base), m.Disp)
}
