package ir

import (
	"fmt"
	"io"
	"strings"
)

// Print renders a unit in the textual IR form accepted by the irtext
// parser.
func Print(w io.Writer, u *Unit) {
	p := &printer{w: w}
	for _, g := range u.globals {
		p.printGlobal(g)
	}
	if len(u.globals) > 0 {
		fmt.Fprintln(w)
	}
	for i, fn := range u.functions {
		if i > 0 {
			fmt.Fprintln(w)
		}
		p.printFunction(fn)
	}
}

// PrintToString is Print into a string, mainly for tests and debugging.
func PrintToString(u *Unit) string {
	var sb strings.Builder
	Print(&sb, u)
	return sb.String()
}

type printer struct {
	w io.Writer
}

func (p *printer) printGlobal(g *GlobalVariable) {
	pointee := g.Type().(*PointerType).Pointee
	if g.Init == nil {
		fmt.Fprintf(p.w, "global @%s : %s external\n", g.Name(), pointee)
		return
	}
	fmt.Fprintf(p.w, "global @%s : %s = %s\n", g.Name(), pointee, formatValue(g.Init))
}

func (p *printer) printFunction(fn *Function) {
	ft := fn.fnType
	var params []string
	for _, arg := range fn.args {
		params = append(params, fmt.Sprintf("%%%s : %s", arg.Name(), arg.Type()))
	}
	if ft.Variadic {
		params = append(params, "...")
	}
	if !fn.HasBody() {
		fmt.Fprintf(p.w, "declare @%s(%s) : %s\n", fn.Name(), strings.Join(params, ", "), ft.Return)
		return
	}
	fmt.Fprintf(p.w, "fn @%s(%s) : %s {\n", fn.Name(), strings.Join(params, ", "), ft.Return)
	for _, b := range fn.blocks {
		fmt.Fprintf(p.w, "%s:\n", b.Name())
		for _, ins := range b.instructions {
			fmt.Fprintf(p.w, "    %s\n", formatInstruction(ins))
		}
	}
	fmt.Fprintln(p.w, "}")
}

func formatValue(v Value) string {
	switch v := v.(type) {
	case *ConstantInt:
		return fmt.Sprintf("%d : %s", v.Value, v.Type())
	case *ConstantFloat:
		return fmt.Sprintf("%g : %s", v.Value, v.Type())
	case *ConstantString:
		return fmt.Sprintf("%q", v.Value)
	case *ConstantStruct:
		var parts []string
		for _, e := range v.Values {
			parts = append(parts, formatValue(e))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *ConstantArray:
		var parts []string
		for _, e := range v.Values {
			parts = append(parts, formatValue(e))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case *UndefValue:
		return "undef"
	case *NullValue:
		return "null"
	case *GlobalVariable, *Function:
		return "@" + v.Name()
	case *Block:
		return v.Name()
	default:
		return "%" + v.Name()
	}
}

func formatOperand(v Value) string {
	switch v := v.(type) {
	case *ConstantInt:
		return fmt.Sprintf("%d", v.Value)
	case *ConstantFloat:
		return fmt.Sprintf("%g", v.Value)
	default:
		return formatValue(v)
	}
}

func formatInstruction(ins *Instruction) string {
	switch ins.op {
	case OpRet:
		if ins.NumOperands() == 0 {
			return "ret"
		}
		return fmt.Sprintf("ret %s", formatOperand(ins.Operand(0)))
	case OpJump:
		if ins.NumOperands() == 1 {
			return fmt.Sprintf("br %s", formatOperand(ins.Operand(0)))
		}
		return fmt.Sprintf("br %s, %s, %s", formatOperand(ins.Cond()), formatOperand(ins.Operand(0)), formatOperand(ins.Operand(1)))
	case OpSwitch:
		var cases []string
		for _, c := range ins.Cases() {
			cases = append(cases, fmt.Sprintf("%d -> %s", c.Value.Value, c.Block.Name()))
		}
		return fmt.Sprintf("switch %s, %s [%s]", formatOperand(ins.Cond()), ins.DefaultCase().Name(), strings.Join(cases, ", "))
	case OpStore:
		return fmt.Sprintf("store %s, %s", formatOperand(ins.Pointer()), formatOperand(ins.Stored()))
	case OpAllocate:
		return fmt.Sprintf("%%%s = alloca %s", ins.Name(), ins.Type().(*PointerType).Pointee)
	case OpLoad:
		return fmt.Sprintf("%%%s = load %s", ins.Name(), formatOperand(ins.Pointer()))
	case OpPhi:
		var in []string
		for _, inc := range ins.Incomings() {
			in = append(in, fmt.Sprintf("[%s, %s]", formatOperand(inc.Value), inc.Block.Name()))
		}
		return fmt.Sprintf("%%%s = phi %s %s", ins.Name(), ins.Type(), strings.Join(in, ", "))
	case OpCall:
		var args []string
		for _, a := range ins.Args() {
			args = append(args, formatOperand(a))
		}
		return fmt.Sprintf("%%%s = call @%s(%s)", ins.Name(), ins.Callee().Name(), strings.Join(args, ", "))
	case OpGetElementPtr:
		var idx []string
		for _, i := range ins.Indices() {
			idx = append(idx, formatOperand(i))
		}
		return fmt.Sprintf("%%%s = getelementptr %s, %s", ins.Name(), formatOperand(ins.Pointer()), strings.Join(idx, ", "))
	case OpExtractValue:
		return fmt.Sprintf("%%%s = extractvalue %s, %d", ins.Name(), formatOperand(ins.Operand(0)), ins.ExtractIndex().Value)
	default:
		if ins.IsCast() {
			return fmt.Sprintf("%%%s = %s %s to %s", ins.Name(), ins.op, formatOperand(ins.Operand(0)), ins.typ)
		}
		// binary operators and comparisons
		return fmt.Sprintf("%%%s = %s %s, %s", ins.Name(), ins.op, formatOperand(ins.LHS()), formatOperand(ins.RHS()))
	}
}
