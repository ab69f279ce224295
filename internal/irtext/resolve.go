package irtext

import (
	"fmt"
	"strconv"

	"forge/internal/ir"
)

// Parse reads a textual IR unit. Errors surface as participle errors
// (with positions) for syntax and plain errors for resolution issues.
func Parse(ctx *ir.Context, filename, source string) (*ir.Unit, error) {
	file, err := parser.ParseString(filename, source)
	if err != nil {
		return nil, err
	}
	r := &resolver{ctx: ctx, unit: ir.NewUnit(filename, ctx), builder: ir.NewBuilder(ctx)}
	if err := r.resolve(file); err != nil {
		return nil, err
	}
	return r.unit, nil
}

type resolver struct {
	ctx     *ir.Context
	unit    *ir.Unit
	builder *ir.Builder
}

func (r *resolver) resolve(file *File) error {
	// declarations first so calls can resolve in any order
	for _, decl := range file.Decls {
		switch {
		case decl.Global != nil:
			if err := r.resolveGlobal(decl.Global); err != nil {
				return err
			}
		case decl.Declare != nil:
			fnType, err := r.funcType(decl.Declare.Params, decl.Declare.Return, decl.Declare.VarArg)
			if err != nil {
				return err
			}
			r.unit.GetOrInsertFunction(decl.Declare.Name, fnType, ir.ExternalLinkage)
		case decl.Func != nil:
			fnType, err := r.funcType(decl.Func.Params, decl.Func.Return, decl.Func.VarArg)
			if err != nil {
				return err
			}
			r.unit.GetOrInsertFunction(decl.Func.Name, fnType, ir.ExternalLinkage)
		}
	}
	for _, decl := range file.Decls {
		if decl.Func != nil {
			if err := r.resolveFunction(decl.Func); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *resolver) funcType(params []*Param, ret *TypeRef, varArg bool) (*ir.FuncType, error) {
	var paramTypes []ir.Type
	for _, p := range params {
		t, err := r.typeOf(p.Type)
		if err != nil {
			return nil, err
		}
		paramTypes = append(paramTypes, t)
	}
	retType, err := r.typeOf(ret)
	if err != nil {
		return nil, err
	}
	return r.ctx.FunctionType(retType, paramTypes, varArg), nil
}

func (r *resolver) typeOf(t *TypeRef) (ir.Type, error) {
	switch {
	case t.Void:
		return r.ctx.Void(), nil
	case t.Ptr != nil:
		pointee, err := r.typeOf(t.Ptr)
		if err != nil {
			return nil, err
		}
		return r.ctx.PointerType(pointee), nil
	case t.Array != nil:
		elem, err := r.typeOf(t.Array.Elem)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseUint(t.Array.Len, 10, 32)
		if err != nil {
			return nil, err
		}
		return r.ctx.ArrayType(elem, uint32(n)), nil
	case t.Struct != nil:
		var fields []ir.Type
		for _, f := range t.Struct {
			ft, err := r.typeOf(f)
			if err != nil {
				return nil, err
			}
			fields = append(fields, ft)
		}
		return r.ctx.StructType("", fields), nil
	}
	switch t.Named {
	case "i1", "i8", "i16", "i32", "i64":
		bits, _ := strconv.Atoi(t.Named[1:])
		return r.ctx.IntType(uint8(bits)), nil
	case "f32":
		return r.ctx.F32Type(), nil
	case "f64":
		return r.ctx.F64Type(), nil
	}
	return nil, fmt.Errorf("unknown type %q", t.Named)
}

func (r *resolver) resolveGlobal(g *GlobalDecl) error {
	t, err := r.typeOf(g.Type)
	if err != nil {
		return err
	}
	if g.External {
		r.unit.GetOrInsertGlobal(t, nil, ir.ExternalLinkage, g.Name)
		return nil
	}
	init, err := r.constValue(g.Init, t)
	if err != nil {
		return err
	}
	r.unit.GetOrInsertGlobal(t, init, ir.ExternalLinkage, g.Name)
	return nil
}

func (r *resolver) constValue(c *ConstInit, hint ir.Type) (ir.Value, error) {
	switch {
	case c.Struct != nil:
		st, ok := hint.(*ir.StructType)
		if !ok {
			return nil, fmt.Errorf("struct initializer for non-struct type %s", hint)
		}
		var values []ir.Value
		for i, e := range c.Struct {
			v, err := r.constValue(e, st.Fields[i])
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return r.ctx.ConstantStruct(st, values), nil
	case c.Array != nil:
		at, ok := hint.(*ir.ArrayType)
		if !ok {
			return nil, fmt.Errorf("array initializer for non-array type %s", hint)
		}
		var values []ir.Value
		for _, e := range c.Array {
			v, err := r.constValue(e, at.Elem)
			if err != nil {
				return nil, err
			}
			values = append(values, v)
		}
		return r.ctx.ConstantArray(at, values), nil
	case c.Str != nil:
		unquoted, err := strconv.Unquote(*c.Str)
		if err != nil {
			return nil, err
		}
		return r.ctx.ConstantString(unquoted), nil
	case c.Undef:
		return r.ctx.Undef(hint), nil
	case c.Null:
		return r.ctx.Null(hint), nil
	case c.Num != nil:
		t := hint
		if c.Num.Type != nil {
			resolved, err := r.typeOf(c.Num.Type)
			if err != nil {
				return nil, err
			}
			t = resolved
		}
		if c.Num.Float != nil {
			f, err := strconv.ParseFloat(*c.Num.Float, 64)
			if err != nil {
				return nil, err
			}
			return r.ctx.ConstantFloat(t.(*ir.FloatType).Bits, f), nil
		}
		n, err := strconv.ParseInt(*c.Num.Int, 10, 64)
		if err != nil {
			return nil, err
		}
		return r.ctx.ConstantInt(t.(*ir.IntType).Bits, n), nil
	}
	return nil, fmt.Errorf("empty constant initializer")
}

// fnScope tracks per-function name bindings while instructions build.
type fnScope struct {
	fn     *ir.Function
	values map[string]ir.Value
	blocks map[string]*ir.Block

	// phi incomings referencing later definitions patch afterwards
	pending []pendingPhi
}

type pendingPhi struct {
	phi   *ir.Instruction
	value string
	block *ir.Block
	typ   ir.Type
}

func (r *resolver) resolveFunction(f *FuncDecl) error {
	fn := r.unit.Function(f.Name)
	scope := &fnScope{
		fn:     fn,
		values: make(map[string]ir.Value),
		blocks: make(map[string]*ir.Block),
	}
	for i, p := range f.Params {
		scope.values[p.Name] = fn.Arguments()[i]
		fn.Arguments()[i].SetName(p.Name)
	}
	for _, b := range f.Blocks {
		scope.blocks[b.Name] = r.builder.CreateBlock(fn, b.Name)
	}

	for _, b := range f.Blocks {
		r.builder.SetInsertBlock(scope.blocks[b.Name])
		for _, line := range b.Instrs {
			if err := r.resolveLine(scope, line); err != nil {
				return fmt.Errorf("%s: %w", f.Name, err)
			}
		}
	}

	for _, pending := range scope.pending {
		value, err := r.operandValue(scope, &Operand{Reg: &pending.value}, pending.typ)
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name, err)
		}
		pending.phi.AddIncoming(value, pending.block)
	}
	return ir.Verify(fn)
}

func (r *resolver) operandValue(scope *fnScope, op *Operand, hint ir.Type) (ir.Value, error) {
	switch {
	case op.Reg != nil:
		v, ok := scope.values[*op.Reg]
		if !ok {
			return nil, fmt.Errorf("unknown value %%%s", *op.Reg)
		}
		return v, nil
	case op.Global != nil:
		if fn := r.unit.Function(*op.Global); fn != nil {
			return fn, nil
		}
		for _, g := range r.unit.Globals() {
			if g.Name() == *op.Global {
				return g, nil
			}
		}
		return nil, fmt.Errorf("unknown global @%s", *op.Global)
	case op.Undef:
		return r.ctx.Undef(hint), nil
	case op.Null:
		return r.ctx.Null(hint), nil
	case op.Float != nil:
		f, err := strconv.ParseFloat(*op.Float, 64)
		if err != nil {
			return nil, err
		}
		bits := uint8(64)
		if ft, ok := hint.(*ir.FloatType); ok {
			bits = ft.Bits
		}
		return r.ctx.ConstantFloat(bits, f), nil
	case op.Int != nil:
		n, err := strconv.ParseInt(*op.Int, 10, 64)
		if err != nil {
			return nil, err
		}
		bits := uint8(32)
		if it, ok := hint.(*ir.IntType); ok {
			bits = it.Bits
		}
		return r.ctx.ConstantInt(bits, n), nil
	}
	return nil, fmt.Errorf("empty operand")
}

// inferHint guesses the type of a literal from its sibling operand.
func (r *resolver) inferHint(scope *fnScope, other *Operand) ir.Type {
	if other.Reg != nil {
		if v, ok := scope.values[*other.Reg]; ok {
			return v.Type()
		}
	}
	return nil
}

var binaryOps = map[string]ir.Opcode{
	"add": ir.OpAdd, "sub": ir.OpSub, "imul": ir.OpIMul, "umul": ir.OpUMul,
	"fmul": ir.OpFMul, "idiv": ir.OpIDiv, "udiv": ir.OpUDiv, "fdiv": ir.OpFDiv,
	"irem": ir.OpIRem, "urem": ir.OpURem, "and": ir.OpAnd, "or": ir.OpOr,
	"xor": ir.OpXor, "shl": ir.OpShl, "lshr": ir.OpLShr, "ashr": ir.OpAShr,
	"icmp.eq": ir.OpICmpEq, "icmp.ne": ir.OpICmpNe, "icmp.gt": ir.OpICmpGt,
	"icmp.ge": ir.OpICmpGe, "icmp.lt": ir.OpICmpLt, "icmp.le": ir.OpICmpLe,
	"ucmp.gt": ir.OpUCmpGt, "ucmp.ge": ir.OpUCmpGe, "ucmp.lt": ir.OpUCmpLt,
	"ucmp.le": ir.OpUCmpLe, "fcmp.eq": ir.OpFCmpEq, "fcmp.ne": ir.OpFCmpNe,
	"fcmp.gt": ir.OpFCmpGt, "fcmp.ge": ir.OpFCmpGe, "fcmp.lt": ir.OpFCmpLt,
	"fcmp.le": ir.OpFCmpLe,
}

var castOps = map[string]ir.Opcode{
	"zext": ir.OpZext, "sext": ir.OpSext, "trunc": ir.OpTrunc,
	"fpext": ir.OpFpext, "fptrunc": ir.OpFptrunc, "fptosi": ir.OpFptosi,
	"fptoui": ir.OpFptoui, "sitofp": ir.OpSitofp, "uitofp": ir.OpUitofp,
	"bitcast": ir.OpBitcast, "ptrtoint": ir.OpPtrtoint, "inttoptr": ir.OpInttoptr,
}

func (r *resolver) resolveLine(scope *fnScope, line *Line) error {
	switch {
	case line.Ret != nil:
		if line.Ret.Value == nil {
			r.builder.CreateRet(nil)
			return nil
		}
		value, err := r.operandValue(scope, line.Ret.Value, scope.fn.FunctionType().Return)
		if err != nil {
			return err
		}
		r.builder.CreateRet(value)
		return nil

	case line.Br != nil:
		if line.Br.Target != nil {
			targetBlock, ok := scope.blocks[*line.Br.Target]
			if !ok {
				return fmt.Errorf("unknown block %s", *line.Br.Target)
			}
			r.builder.CreateBr(targetBlock)
			return nil
		}
		cond := line.Br.Cond
		condValue, err := r.operandValue(scope, &cond.Cond, r.ctx.I1Type())
		if err != nil {
			return err
		}
		then, ok := scope.blocks[cond.Then]
		if !ok {
			return fmt.Errorf("unknown block %s", cond.Then)
		}
		els, ok := scope.blocks[cond.Else]
		if !ok {
			return fmt.Errorf("unknown block %s", cond.Else)
		}
		r.builder.CreateCondBr(then, els, condValue)
		return nil

	case line.Store != nil:
		ptr, err := r.operandValue(scope, &line.Store.Ptr, nil)
		if err != nil {
			return err
		}
		pt, ok := ptr.Type().(*ir.PointerType)
		if !ok {
			return fmt.Errorf("store through non-pointer %s", ptr.Type())
		}
		value, err := r.operandValue(scope, &line.Store.Value, pt.Pointee)
		if err != nil {
			return err
		}
		r.builder.CreateStore(ptr, value)
		return nil

	case line.Switch != nil:
		cond, err := r.operandValue(scope, &line.Switch.Cond, r.ctx.I32Type())
		if err != nil {
			return err
		}
		defaultBlock, ok := scope.blocks[line.Switch.Default]
		if !ok {
			return fmt.Errorf("unknown block %s", line.Switch.Default)
		}
		condType, _ := cond.Type().(*ir.IntType)
		var cases []ir.SwitchCase
		for _, arm := range line.Switch.Cases {
			n, err := strconv.ParseInt(arm.Value, 10, 64)
			if err != nil {
				return err
			}
			armBlock, ok := scope.blocks[arm.Block]
			if !ok {
				return fmt.Errorf("unknown block %s", arm.Block)
			}
			bits := uint8(32)
			if condType != nil {
				bits = condType.Bits
			}
			cases = append(cases, ir.SwitchCase{Value: r.ctx.ConstantInt(bits, n), Block: armBlock})
		}
		r.builder.CreateSwitch(cond, defaultBlock, cases)
		return nil

	case line.Assign != nil:
		return r.resolveAssign(scope, line.Assign)
	}
	return fmt.Errorf("empty instruction line")
}

func (r *resolver) resolveAssign(scope *fnScope, assign *AssignLine) error {
	rhs := assign.Rhs
	var result *ir.Instruction

	switch {
	case rhs.Alloca != nil:
		t, err := r.typeOf(rhs.Alloca)
		if err != nil {
			return err
		}
		result = r.builder.CreateAlloca(t, assign.Name)

	case rhs.Load != nil:
		ptr, err := r.operandValue(scope, rhs.Load, nil)
		if err != nil {
			return err
		}
		result = r.builder.CreateLoad(ptr, assign.Name)

	case rhs.Phi != nil:
		t, err := r.typeOf(rhs.Phi.Type)
		if err != nil {
			return err
		}
		phi := ir.NewPhi(t, nil, assign.Name)
		r.builder.InsertBlock().AddInstruction(phi)
		for _, arm := range rhs.Phi.Ins {
			armBlock, ok := scope.blocks[arm.Block]
			if !ok {
				return fmt.Errorf("unknown block %s", arm.Block)
			}
			if arm.Value.Reg != nil {
				if _, defined := scope.values[*arm.Value.Reg]; !defined {
					scope.pending = append(scope.pending, pendingPhi{phi, *arm.Value.Reg, armBlock, t})
					continue
				}
			}
			value, err := r.operandValue(scope, &arm.Value, t)
			if err != nil {
				return err
			}
			phi.AddIncoming(value, armBlock)
		}
		result = phi

	case rhs.Call != nil:
		callee := r.unit.Function(rhs.Call.Callee)
		if callee == nil {
			return fmt.Errorf("unknown function @%s", rhs.Call.Callee)
		}
		params := callee.FunctionType().Params
		var args []ir.Value
		for i, argOp := range rhs.Call.Args {
			var hint ir.Type
			if i < len(params) {
				hint = params[i]
			}
			arg, err := r.operandValue(scope, argOp, hint)
			if err != nil {
				return err
			}
			args = append(args, arg)
		}
		result = r.builder.CreateCall(callee, args, assign.Name)

	case rhs.GEP != nil:
		ptr, err := r.operandValue(scope, &rhs.GEP.Ptr, nil)
		if err != nil {
			return err
		}
		var indices []ir.Value
		for _, idxOp := range rhs.GEP.Indices {
			idx, err := r.operandValue(scope, idxOp, r.ctx.I32Type())
			if err != nil {
				return err
			}
			indices = append(indices, idx)
		}
		result = r.builder.CreateGEP(ptr, indices, assign.Name)

	case rhs.Extract != nil:
		agg, err := r.operandValue(scope, &rhs.Extract.Agg, nil)
		if err != nil {
			return err
		}
		n, err := strconv.ParseInt(rhs.Extract.Index, 10, 64)
		if err != nil {
			return err
		}
		result = r.builder.CreateExtractValue(agg, n, assign.Name)

	case rhs.Cast != nil:
		op, ok := castOps[rhs.Cast.Op]
		if !ok {
			return fmt.Errorf("unknown cast %q", rhs.Cast.Op)
		}
		to, err := r.typeOf(rhs.Cast.To)
		if err != nil {
			return err
		}
		value, err := r.operandValue(scope, &rhs.Cast.Value, nil)
		if err != nil {
			return err
		}
		ins := ir.NewCast(op, value, to, assign.Name)
		r.builder.InsertBlock().AddInstruction(ins)
		result = ins

	case rhs.Bin != nil:
		op, ok := binaryOps[rhs.Bin.Op]
		if !ok {
			return fmt.Errorf("unknown operator %q", rhs.Bin.Op)
		}
		hint := r.inferHint(scope, &rhs.Bin.LHS)
		if hint == nil {
			hint = r.inferHint(scope, &rhs.Bin.RHS)
		}
		lhs, err := r.operandValue(scope, &rhs.Bin.LHS, hint)
		if err != nil {
			return err
		}
		rhsValue, err := r.operandValue(scope, &rhs.Bin.RHS, lhs.Type())
		if err != nil {
			return err
		}
		var ins *ir.Instruction
		if op >= ir.OpICmpEq && op <= ir.OpFCmpLe {
			ins = ir.NewCompare(op, r.ctx, lhs, rhsValue, assign.Name)
		} else {
			ins = ir.NewBinary(op, lhs, rhsValue, assign.Name)
		}
		r.builder.InsertBlock().AddInstruction(ins)
		result = ins

	default:
		return fmt.Errorf("empty assignment")
	}

	scope.values[assign.Name] = result
	return nil
}
