package x64

import (
	"fmt"
	"io"
	"math"
	"strings"

	"forge/internal/ir"
	"forge/internal/mir"
	"forge/internal/target"
)

// AsmPrinter renders machine functions as AT&T-syntax assembly suitable
// for the GNU assembler.
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

func (p *AsmPrinter) RunOnMachineFunction(fn *mir.Function) (bool, error) {
	if !p.headerDone {
		fmt.Fprintf(p.out, "\t.text\n")
		p.headerDone = true
	}

	if fn.IRFunction().Linkage() == ir.ExternalLinkage {
		fmt.Fprintf(p.out, "\t.globl %s\n", fn.Name)
	}
	fmt.Fprintf(p.out, "\t.type %s,@function\n", fn.Name)
	fmt.Fprintf(p.out, "%s:\n", fn.Name)

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
			fmt.Fprintf(p.out, "\t.globl %s\n", g.Name())
		}
		fmt.Fprintf(p.out, "\t.p2align 3\n")
		fmt.Fprintf(p.out, "%s:\n", g.Name())
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
			fmt.Fprintf(p.out, "\t.long %d\n", v.Value)
		default:
			fmt.Fprintf(p.out, "\t.quad %d\n", v.Value)
		}
	case *ir.ConstantFloat:
		if v.Type().(*ir.FloatType).Bits == 32 {
			fmt.Fprintf(p.out, "\t.long %d\n", math.Float32bits(float32(v.Value)))
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
		fmt.Fprintf(p.out, "\t.quad %s\n", v.Name())
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

	// indirect jumps and calls go through a register operand
	indirect := ins.Op == Jmp64r || ins.Op == Call64r

	var parts []string
	for i := len(ins.Operands) - 1; i >= 0; i-- {
		op := ins.Operands[i]
		text := p.formatOperand(fn, op)
		if indirect {
			text = "*" + text
		}
		parts = append(parts, text)
	}
	if len(parts) == 0 {
		return mnemonic
	}
	return mnemonic + " " + strings.Join(parts, ", ")
}

func (p *AsmPrinter) formatOperand(fn *mir.Function, op mir.Operand) string {
	switch op := op.(type) {
	case *mir.Register:
		if op.IsPhysical() {
			return "%" + p.regInfo.Name(op.ID)
		}
		return fmt.Sprintf("%%v%d", op.ID)
	case *mir.ImmediateInt:
		return fmt.Sprintf("$%d", op.Value)
	case *mir.Block:
		return blockLabel(fn, op)
	case *mir.GlobalAddress:
		return op.Name
	case *mir.ExternalSymbol:
		return op.Name
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
	if m.Sym != nil {
		name := ""
		switch sym := m.Sym.(type) {
		case *mir.GlobalAddress:
			name = sym.Name
		case *mir.ExternalSymbol:
			name = sym.Name
		case *mir.ConstantIndex:
			name = constantLabel(sym.Name, sym.Index)
		}
		return fmt.Sprintf("%s(%%rip)", name)
	}

	var sb strings.Builder
	if m.Disp != 0 {
		fmt.Fprintf(&sb, "%d", m.Disp)
	}
	sb.WriteString("(")
	if m.Base != nil {
		sb.WriteString("%" + p.regInfo.Name(m.Base.ID))
	}
	if m.Index != nil {
		fmt.Fprintf(&sb, ",%%%s,%d", p.regInfo.Name(m.Index.ID), m.Scale)
	}
	sb.WriteString(")")
	return sb.String()
}
