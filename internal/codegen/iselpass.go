package codegen

import (
	"fmt"

	"forge/internal/errors"
	"forge/internal/ir"
	"forge/internal/isel"
	"forge/internal/mir"
	"forge/internal/target"
)

// matchResult memoizes the winning pattern and accumulated cost for one
// DAG node.
type matchResult struct {
	pattern *isel.Pattern
	cost    uint32
	node    isel.Node
}

// ISelPass converts each IR function into machine IR: it builds per-block
// DAGs, selects minimum-cost pattern covers and runs their emitters.
type ISelPass struct {
	pm        target.PassManager
	instrInfo target.InstructionInfo
	regInfo   target.RegisterInfo
	layout    ir.DataLayout
	ctx       *ir.Context
	level     ir.OptimizationLevel

	builder isel.Builder
	output  *mir.Function
	fnName  string

	roots         []*isel.Root
	valuesToNodes map[ir.Value]isel.Node
	registers     map[ir.Value]*isel.Register
	constantInts  map[constIntKey]*isel.ConstantInt
	constantFlts  map[constFltKey]*isel.ConstantFloat
	frameIndices  map[frameKey]*isel.FrameIndex
	rootToMIR     map[*isel.Root]*mir.Block
	bestMatch     map[isel.Node]*matchResult
	emitted       map[isel.Node]mir.Operand
	hasEmitted    map[isel.Node]bool
}

type constIntKey struct {
	value int64
	typ   ir.Type
}

type constFltKey struct {
	value float64
	typ   ir.Type
}

type frameKey struct {
	slot uint32
	typ  ir.Type
}

func NewISelPass(pm target.PassManager, instrInfo target.InstructionInfo, regInfo target.RegisterInfo, layout ir.DataLayout, ctx *ir.Context, level ir.OptimizationLevel) *ISelPass {
	return &ISelPass{
		pm:        pm,
		instrInfo: instrInfo,
		regInfo:   regInfo,
		layout:    layout,
		ctx:       ctx,
		level:     level,
	}
}

func (p *ISelPass) PassName() string { return "isel" }

// InitUnit creates the machine shell of every function, with one virtual
// register operand per formal argument.
func (p *ISelPass) InitUnit(unit *ir.Unit) error {
	for _, fn := range unit.Functions() {
		if !fn.HasBody() {
			continue
		}
		machine := mir.NewFunction(fn.Name(), fn)
		args := make([]mir.Operand, len(fn.Arguments()))
		for i, arg := range fn.Arguments() {
			class := p.regInfo.ClassFromType(arg.Type())
			args[i] = p.regInfo.Register(machine.RegisterInfo().NextVirtualRegister(class, arg.Type()))
		}
		machine.SetArguments(args)
		p.pm.RegisterMachineFunction(fn, machine)
	}
	return nil
}

func (p *ISelPass) RunOnFunction(fn *ir.Function) (bool, error) {
	if !fn.HasBody() {
		return false, nil
	}

	p.builder.SetRoot(nil)
	p.fnName = fn.Name()
	p.roots = nil
	p.valuesToNodes = make(map[ir.Value]isel.Node)
	p.registers = make(map[ir.Value]*isel.Register)
	p.constantInts = make(map[constIntKey]*isel.ConstantInt)
	p.constantFlts = make(map[constFltKey]*isel.ConstantFloat)
	p.frameIndices = make(map[frameKey]*isel.FrameIndex)
	p.rootToMIR = make(map[*isel.Root]*mir.Block)
	p.bestMatch = make(map[isel.Node]*matchResult)
	p.emitted = make(map[isel.Node]mir.Operand)
	p.hasEmitted = make(map[isel.Node]bool)

	p.output = p.pm.MachineFunction(fn)

	if err := p.buildDAG(fn); err != nil {
		return false, err
	}
	p.createMIRBlocks(fn)

	for _, block := range fn.Blocks() {
		root := p.valuesToNodes[block].(*isel.Root)
		p.rootToMIR[root] = p.mirBlockOf(block)
	}

	for _, block := range fn.Blocks() {
		mirBlock := p.mirBlockOf(block)
		root := p.valuesToNodes[block].(*isel.Root)
		for next := root.Next; next != nil; next = next.Next {
			if err := p.selectPattern(next); err != nil {
				return false, err
			}
			if _, err := p.EmitOrGet(next, mirBlock); err != nil {
				return false, err
			}
		}
	}
	return true, nil
}

// mirBlocks are keyed per IR block through the machine function.
func (p *ISelPass) mirBlockOf(block *ir.Block) *mir.Block {
	for _, b := range p.output.Blocks() {
		if b.IRBlock() == block {
			return b
		}
	}
	return nil
}

func (p *ISelPass) createMIRBlocks(fn *ir.Function) {
	for _, block := range fn.Blocks() {
		p.output.AddBlock(mir.NewBlock(block.Name(), block))
	}
	for _, block := range fn.Blocks() {
		mirBlock := p.mirBlockOf(block)
		for succ, count := range block.Successors() {
			for i := uint32(0); i < count; i++ {
				mirBlock.AddSuccessor(p.mirBlockOf(succ))
			}
		}
		for pred, count := range block.Predecessors() {
			for i := uint32(0); i < count; i++ {
				mirBlock.AddPredecessor(p.mirBlockOf(pred))
			}
		}
	}
}

// MIRBlock implements isel.Emitter.
func (p *ISelPass) MIRBlock(root *isel.Root) *mir.Block { return p.rootToMIR[root] }

func (p *ISelPass) buildDAG(fn *ir.Function) error {
	for _, block := range fn.Blocks() {
		root := isel.NewRoot(block.Name())
		p.valuesToNodes[block] = root
		p.roots = append(p.roots, root)
	}
	for _, block := range fn.Blocks() {
		if _, err := p.buildBlock(block); err != nil {
			return err
		}
	}
	return nil
}

// buildBlock makes the early chain pass, then patches operand edges.
func (p *ISelPass) buildBlock(block *ir.Block) (*isel.Root, error) {
	prevRoot := p.builder.Root()
	defer p.builder.SetRoot(prevRoot)

	root := p.valuesToNodes[block].(*isel.Root)
	p.builder.SetRoot(root)

	type pendingChain struct {
		ins   *ir.Instruction
		chain *isel.Chain
	}
	var chains []pendingChain

	current := &root.Chain
	index := 0
	for _, ins := range block.Instructions() {
		if !isChain(ins) {
			continue
		}
		chain, err := p.earlyBuildChain(ins)
		if err != nil {
			return nil, err
		}
		index++
		chain.ChainIndex = index
		current.Next = chain
		current = chain
		chains = append(chains, pendingChain{ins, chain})
	}

	for _, pending := range chains {
		if err := p.patchChain(pending.ins, pending.chain); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// structResult explodes a struct-typed result into one register per
// scalar field, depth first.
func (p *ISelPass) structResult(ins *ir.Instruction) isel.Value {
	st, ok := ins.Type().(*ir.StructType)
	if !ok {
		return p.makeOrGetRegister(ins, ins.Type())
	}
	multi := p.builder.NewMultiValue(st)
	var explode func(cur *ir.StructType)
	explode = func(cur *ir.StructType) {
		for i, field := range cur.Fields {
			if nested, ok := field.(*ir.StructType); ok {
				explode(nested)
				continue
			}
			reg := p.builder.NewRegister(fmt.Sprintf("%s_%d", ins.Name(), i), field)
			multi.Values = append(multi.Values, reg)
		}
	}
	explode(st)
	return multi
}

func (p *ISelPass) earlyBuildChain(ins *ir.Instruction) (*isel.Chain, error) {
	switch ins.Op() {
	case ir.OpRet:
		return p.builder.NewChain(isel.KindRet, nil), nil
	case ir.OpJump:
		return p.builder.NewChain(isel.KindJump, nil), nil
	case ir.OpSwitch:
		return p.builder.NewChain(isel.KindSwitch, nil), nil
	case ir.OpStore:
		return p.builder.NewChain(isel.KindStore, nil), nil
	case ir.OpLoad:
		result := p.structResult(ins)
		chain := p.builder.NewChain(isel.KindLoad, result)
		p.valuesToNodes[ins] = result
		return chain, nil
	case ir.OpCall:
		var result isel.Value
		if !ir.IsVoid(ins.Type()) {
			result = p.structResult(ins)
		}
		call := p.builder.NewCall(result, ins.Parent().Parent().CallingConvention())
		if result != nil {
			p.valuesToNodes[ins] = result
		}
		return call, nil
	case ir.OpPhi:
		reg := p.makeOrGetRegister(ins, ins.Type())
		chain := p.builder.NewChain(isel.KindPhi, reg)
		p.valuesToNodes[ins] = reg
		return chain, nil
	}
	return nil, errors.NewUnsupportedOp(p.fnName, "chain build for opcode %s", ins.Op())
}

func (p *ISelPass) patchChain(ins *ir.Instruction, chain *isel.Chain) error {
	switch chain.Kind() {
	case isel.KindRet:
		if ins.NumOperands() > 0 {
			value, err := p.buildNonChain(ins.Operand(0))
			if err != nil {
				return err
			}
			chain.AddOperand(value)
		}
		return nil

	case isel.KindJump:
		first, err := p.buildNonChain(ins.Operand(0))
		if err != nil {
			return err
		}
		chain.AddOperand(first)
		if ins.NumOperands() > 1 {
			second, err := p.buildNonChain(ins.Operand(1))
			if err != nil {
				return err
			}
			cond, err := p.buildNonChain(ins.Operand(2))
			if err != nil {
				return err
			}
			chain.AddOperand(second)
			chain.AddOperand(cond)
		}
		return nil

	case isel.KindLoad:
		ptr, err := p.buildNonChain(ins.Pointer())
		if err != nil {
			return err
		}
		chain.AddOperand(ptr)
		return nil

	case isel.KindStore:
		ptr, err := p.buildNonChain(ins.Pointer())
		if err != nil {
			return err
		}
		value, err := p.buildNonChain(ins.Stored())
		if err != nil {
			return err
		}
		chain.AddOperand(ptr)
		chain.AddOperand(value)
		return nil

	case isel.KindCall:
		callee, err := p.buildNonChain(ins.Callee())
		if err != nil {
			return err
		}
		chain.AddOperand(callee)
		for _, arg := range ins.Args() {
			value, err := p.buildNonChain(arg)
			if err != nil {
				return err
			}
			chain.AddOperand(value)
		}
		chain.ResultUsed = len(ins.Uses()) > 0
		return nil

	case isel.KindSwitch:
		cond, err := p.buildNonChain(ins.Cond())
		if err != nil {
			return err
		}
		defaultCase, err := p.buildNonChain(ins.DefaultCase())
		if err != nil {
			return err
		}
		chain.AddOperand(cond)
		chain.AddOperand(defaultCase)
		for _, c := range ins.Cases() {
			value, err := p.buildNonChain(c.Value)
			if err != nil {
				return err
			}
			block, err := p.buildNonChain(c.Block)
			if err != nil {
				return err
			}
			chain.AddOperand(value)
			chain.AddOperand(block)
		}
		return nil

	case isel.KindPhi:
		for _, in := range ins.Incomings() {
			value, err := p.buildNonChain(in.Value)
			if err != nil {
				return err
			}
			block, err := p.buildNonChain(in.Block)
			if err != nil {
				return err
			}
			chain.AddOperand(value)
			chain.AddOperand(block)
		}
		return nil
	}
	return errors.NewUnsupportedOp(p.fnName, "patch for node kind %s", chain.Kind())
}

func (p *ISelPass) buildNonChain(value ir.Value) (isel.Node, error) {
	if node, ok := p.valuesToNodes[value]; ok {
		return node, nil
	}

	switch value.Kind() {
	case ir.ConstantIntKind:
		node := p.makeOrGetConstInt(value.(*ir.ConstantInt).Value, value.Type())
		p.valuesToNodes[value] = node
		return node, nil

	case ir.ConstantFloatKind:
		constant := p.makeOrGetConstFloat(value.(*ir.ConstantFloat).Value, value.Type())
		node := p.builder.NewOperation(isel.KindLoadConstant, p.makeOrGetRegister(value, value.Type()), constant)
		p.valuesToNodes[value] = node
		return node, nil

	case ir.FunctionArgumentKind:
		arg := value.(*ir.FunctionArgument)
		if arg.HasFlag(ir.FlagByVal) {
			sizeType := value.Type()
			if pt, ok := sizeType.(*ir.PointerType); ok {
				sizeType = pt.Pointee
			}
			size := p.layout.Size(sizeType)
			offset := int64(-16)
			irArgs := p.output.IRFunction().Arguments()
			for i := uint32(0); i < arg.Slot; i++ {
				prev := irArgs[i]
				if !prev.HasFlag(ir.FlagByVal) {
					continue
				}
				prevType := prev.Type().(*ir.PointerType).Pointee
				offset -= int64(p.layout.Size(prevType))
			}
			p.output.StackFrame().AddStackSlotAt(uint32(size), offset, uint32(p.layout.Alignment(sizeType)))
			node := p.makeOrGetFrameIndex(uint32(p.output.StackFrame().NumStackSlots()-1), value.Type())
			p.valuesToNodes[value] = node
			return node, nil
		}
		node := p.builder.NewFunctionArgument(arg.Slot, arg.Type())
		p.valuesToNodes[value] = node
		return node, nil

	case ir.GlobalVariableKind, ir.FunctionKind:
		global := p.builder.NewGlobalValue(value)
		node := p.builder.NewOperation(isel.KindLoadGlobal, p.makeOrGetRegister(value, value.Type()), global)
		p.valuesToNodes[value] = node
		return node, nil

	case ir.RegisterKind:
		node, err := p.buildInstruction(value.(*ir.Instruction))
		if err != nil {
			return nil, err
		}
		p.valuesToNodes[value] = node
		return node, nil

	case ir.BlockKind:
		return p.buildBlock(value.(*ir.Block))

	case ir.UndefValueKind:
		zero := ir.ZeroInitializer(value.Type(), p.layout, p.ctx)
		node, err := p.buildNonChain(zero)
		if err != nil {
			return nil, err
		}
		p.valuesToNodes[value] = node
		return node, nil

	case ir.NullValueKind:
		node := p.makeOrGetConstInt(0, p.ctx.I64Type())
		p.valuesToNodes[value] = node
		return node, nil

	case ir.ConstantStructKind:
		// aggregates travel as their scalar pieces
		multi := p.builder.NewMultiValue(value.Type())
		for _, elem := range value.(*ir.ConstantStruct).Values {
			node, err := p.buildNonChain(elem)
			if err != nil {
				return nil, err
			}
			multi.Values = append(multi.Values, node.(isel.Value))
		}
		p.valuesToNodes[value] = multi
		return multi, nil
	}

	return nil, errors.NewUnsupportedOp(p.fnName, "value %q of kind %d", value.Name(), value.Kind())
}

var binaryNodeKinds = map[ir.Opcode]isel.NodeKind{
	ir.OpAdd: isel.KindAdd, ir.OpSub: isel.KindSub,
	ir.OpIDiv: isel.KindIDiv, ir.OpUDiv: isel.KindUDiv, ir.OpFDiv: isel.KindFDiv,
	ir.OpIMul: isel.KindIMul, ir.OpUMul: isel.KindUMul, ir.OpFMul: isel.KindFMul,
	ir.OpIRem: isel.KindIRem, ir.OpURem: isel.KindURem,
	ir.OpICmpEq: isel.KindICmpEq, ir.OpICmpNe: isel.KindICmpNe,
	ir.OpICmpGt: isel.KindICmpGt, ir.OpICmpGe: isel.KindICmpGe,
	ir.OpICmpLt: isel.KindICmpLt, ir.OpICmpLe: isel.KindICmpLe,
	ir.OpUCmpGt: isel.KindUCmpGt, ir.OpUCmpGe: isel.KindUCmpGe,
	ir.OpUCmpLt: isel.KindUCmpLt, ir.OpUCmpLe: isel.KindUCmpLe,
	ir.OpFCmpEq: isel.KindFCmpEq, ir.OpFCmpNe: isel.KindFCmpNe,
	ir.OpFCmpGt: isel.KindFCmpGt, ir.OpFCmpGe: isel.KindFCmpGe,
	ir.OpFCmpLt: isel.KindFCmpLt, ir.OpFCmpLe: isel.KindFCmpLe,
	ir.OpShl: isel.KindShiftLeft, ir.OpLShr: isel.KindLShiftRight,
	ir.OpAShr: isel.KindAShiftRight,
	ir.OpAnd: isel.KindAnd, ir.OpOr: isel.KindOr, ir.OpXor: isel.KindXor,
}

var castNodeKinds = map[ir.Opcode]isel.NodeKind{
	ir.OpZext: isel.KindZext, ir.OpSext: isel.KindSext, ir.OpTrunc: isel.KindTrunc,
	ir.OpFptrunc: isel.KindFptrunc, ir.OpFpext: isel.KindFpext,
	ir.OpFptosi: isel.KindFptosi, ir.OpFptoui: isel.KindFptoui,
	ir.OpSitofp: isel.KindSitofp, ir.OpUitofp: isel.KindUitofp,
	ir.OpBitcast: isel.KindGenericCast, ir.OpPtrtoint: isel.KindGenericCast,
	ir.OpInttoptr: isel.KindGenericCast,
}

func (p *ISelPass) buildInstruction(ins *ir.Instruction) (isel.Node, error) {
	if node, ok := p.valuesToNodes[ins]; ok {
		return node, nil
	}

	// count the side effects preceding this instruction so the emitter
	// can force them out first
	chainIndex := 0
	for _, prev := range ins.Parent().Instructions() {
		if prev == ins {
			break
		}
		if isChain(prev) {
			chainIndex++
		}
	}

	switch {
	case ins.Op() == ir.OpAllocate:
		sizeType := ins.Type()
		if pt, ok := sizeType.(*ir.PointerType); ok {
			sizeType = pt.Pointee
		}
		p.output.StackFrame().AddStackSlot(uint32(p.layout.Size(sizeType)), uint32(p.layout.Alignment(sizeType)))
		node := p.makeOrGetFrameIndex(uint32(p.output.StackFrame().NumStackSlots()-1), ins.Type())
		p.valuesToNodes[ins] = node
		return node, nil

	case ins.Op() == ir.OpCall || ins.Op() == ir.OpPhi || ins.Op() == ir.OpLoad:
		// chain results referenced before their block was patched
		node := p.makeOrGetRegister(ins, ins.Type())
		p.valuesToNodes[ins] = node
		return node, nil

	case ins.Op() == ir.OpGetElementPtr:
		reg := p.makeOrGetRegister(ins, ins.Type())
		ptr, err := p.buildNonChain(ins.Pointer())
		if err != nil {
			return nil, err
		}
		indices := make([]isel.Node, 0, len(ins.Indices()))
		for _, idx := range ins.Indices() {
			node, err := p.buildNonChain(idx)
			if err != nil {
				return nil, err
			}
			indices = append(indices, node)
		}
		gep := p.builder.NewGEP(reg, ptr, indices)
		gep.ChainIndex = chainIndex
		p.valuesToNodes[ins] = gep
		return gep, nil

	case ins.Op() == ir.OpExtractValue:
		agg, err := p.buildNonChain(ins.Operand(0))
		if err != nil {
			return nil, err
		}
		multi, ok := agg.(*isel.MultiValue)
		if !ok {
			return nil, errors.NewBadOperand(p.fnName, "extractvalue over non-aggregate result")
		}
		node := multi.Values[ins.ExtractIndex().Value]
		p.valuesToNodes[ins] = node
		return node, nil
	}

	if kind, ok := binaryNodeKinds[ins.Op()]; ok {
		lhs, err := p.buildNonChain(ins.LHS())
		if err != nil {
			return nil, err
		}
		rhs, err := p.buildNonChain(ins.RHS())
		if err != nil {
			return nil, err
		}
		node := p.builder.NewOperation(kind, p.makeOrGetRegister(ins, ins.Type()), lhs, rhs)
		node.ChainIndex = chainIndex
		p.valuesToNodes[ins] = node
		return node, nil
	}

	if kind, ok := castNodeKinds[ins.Op()]; ok {
		operand, err := p.buildNonChain(ins.Operand(0))
		if err != nil {
			return nil, err
		}
		result := p.makeOrGetRegister(ins, ins.Type())
		node := p.builder.NewCast(kind, result, operand, ins.CastTo())
		node.ChainIndex = chainIndex
		p.valuesToNodes[ins] = node
		return node, nil
	}

	return nil, errors.NewUnsupportedOp(p.fnName, "instruction %s", ins.Op())
}

// selectPattern recursively memoizes the minimum-cost pattern for node.
// A sentinel entry breaks cycles through chain results.
func (p *ISelPass) selectPattern(node isel.Node) error {
	if _, ok := p.bestMatch[node]; ok {
		return nil
	}

	switch node.Kind() {
	case isel.KindConstantFloat, isel.KindGlobalValue:
		// consumed inline by loadconst/loadglobal emitters
		return nil
	case isel.KindMultiValue:
		for _, v := range node.(*isel.MultiValue).Values {
			if err := p.selectPattern(v); err != nil {
				return err
			}
		}
	}

	p.bestMatch[node] = &matchResult{node: node}

	if ins := isel.AsInstruction(node); ins != nil {
		for _, op := range ins.Operands {
			if err := p.selectPattern(op); err != nil {
				return err
			}
		}
		if ins.Result != nil {
			if err := p.selectPattern(ins.Result); err != nil {
				return err
			}
		}
	}

	patterns := p.instrInfo.Patterns(node.Kind())
	if len(patterns) == 0 {
		delete(p.bestMatch, node)
		return nil
	}

	var best *matchResult
	for i := range patterns {
		pattern := &patterns[i]
		if pattern.MinOptLevel > p.level || !pattern.Match(node) {
			continue
		}
		cost := pattern.Cost
		if ins := isel.AsInstruction(node); ins != nil {
			for idx, op := range ins.Operands {
				if containsIndex(pattern.CoveredOperands, idx) {
					continue
				}
				if match, ok := p.bestMatch[op]; ok && match.pattern != nil {
					cost += match.cost
				}
			}
		}
		if best == nil || cost < best.cost || (cost == best.cost && pattern.Cost < best.pattern.Cost) {
			best = &matchResult{pattern: pattern, cost: cost, node: node}
		}
	}

	if best == nil {
		return errors.NewUnsupportedOp(p.fnName, "no pattern matches node %s", node.Kind())
	}
	p.bestMatch[node] = best
	return nil
}

func containsIndex(list []int, idx int) bool {
	for _, n := range list {
		if n == idx {
			return true
		}
	}
	return false
}

// EmitOrGet implements isel.Emitter. It memoizes per node, forces
// not-yet-emitted chain predecessors out first and then runs the node's
// selected emitter.
func (p *ISelPass) EmitOrGet(node isel.Node, block *mir.Block) (mir.Operand, error) {
	if p.hasEmitted[node] {
		return p.emitted[node], nil
	}

	if ins := isel.AsInstruction(node); ins != nil {
		if ins.Result != nil {
			// store the result early to stop emit recursion
			op, err := p.EmitOrGet(ins.Result, block)
			if err != nil {
				return nil, err
			}
			p.emitted[node] = op
			p.hasEmitted[node] = true
		}
		if ins.ChainIndex > 0 {
			// a chain node's own position is not part of its prefix
			prefix := ins.ChainIndex
			if isel.AsChain(node) != nil {
				prefix--
			}
			if root, ok := p.valuesToNodes[block.IRBlock()].(*isel.Root); ok {
				if err := p.emitChainPrefix(root, prefix); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := p.selectPattern(node); err != nil {
		return nil, err
	}
	match, ok := p.bestMatch[node]
	if !ok || match.pattern == nil {
		return nil, errors.NewUnsupportedOp(p.fnName, "no pattern selected for node %s", node.Kind())
	}

	res, err := match.pattern.Emit(node, block, p)
	if err != nil {
		return nil, err
	}
	p.emitted[node] = res
	p.hasEmitted[node] = true
	return res, nil
}

// emitChainPrefix emits the first index chain nodes of root (1-based
// positions 1..index) so program-order side effects precede the value
// being materialized.
func (p *ISelPass) emitChainPrefix(root *isel.Root, index int) error {
	mirBlock := p.rootToMIR[root]
	position := 0
	for chain := root.Next; chain != nil && position < index; chain = chain.Next {
		position++
		if p.hasEmitted[chain] {
			continue
		}
		if err := p.selectPattern(chain); err != nil {
			return err
		}
		if _, err := p.EmitOrGet(chain, mirBlock); err != nil {
			return err
		}
	}
	return nil
}

func isChain(ins *ir.Instruction) bool {
	switch ins.Op() {
	case ir.OpRet, ir.OpJump, ir.OpLoad, ir.OpStore, ir.OpSwitch, ir.OpPhi, ir.OpCall:
		return true
	}
	return false
}

func (p *ISelPass) makeOrGetRegister(ref ir.Value, t ir.Type) *isel.Register {
	if reg, ok := p.registers[ref]; ok {
		return reg
	}
	reg := p.builder.NewRegister(ref.Name(), t)
	p.registers[ref] = reg
	return reg
}

func (p *ISelPass) makeOrGetConstInt(value int64, t ir.Type) *isel.ConstantInt {
	key := constIntKey{value, t}
	if c, ok := p.constantInts[key]; ok {
		return c
	}
	c := p.builder.NewConstantInt(value, t)
	p.constantInts[key] = c
	return c
}

func (p *ISelPass) makeOrGetConstFloat(value float64, t ir.Type) *isel.ConstantFloat {
	key := constFltKey{value, t}
	if c, ok := p.constantFlts[key]; ok {
		return c
	}
	c := p.builder.NewConstantFloat(value, t)
	p.constantFlts[key] = c
	return c
}

func (p *ISelPass) makeOrGetFrameIndex(slot uint32, t ir.Type) *isel.FrameIndex {
	key := frameKey{slot, t}
	if f, ok := p.frameIndices[key]; ok {
		return f
	}
	f := p.builder.NewFrameIndex(slot, t)
	p.frameIndices[key] = f
	return f
}
