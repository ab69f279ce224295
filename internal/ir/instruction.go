package ir

// Opcode enumerates every IR instruction.
type Opcode int

const (
	OpRet Opcode = iota
	OpAllocate
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpICmpEq
	OpICmpNe
	OpICmpGt
	OpICmpGe
	OpICmpLt
	OpICmpLe
	OpUCmpGt
	OpUCmpGe
	OpUCmpLt
	OpUCmpLe
	OpFCmpEq
	OpFCmpNe
	OpFCmpGt
	OpFCmpGe
	OpFCmpLt
	OpFCmpLe
	OpJump
	OpPhi
	OpGetElementPtr
	OpCall
	OpZext
	OpSext
	OpTrunc
	OpFptrunc
	OpFpext
	OpFptosi
	OpFptoui
	OpSitofp
	OpUitofp
	OpBitcast
	OpPtrtoint
	OpInttoptr
	OpShl
	OpLShr
	OpAShr
	OpAnd
	OpOr
	OpXor
	OpIDiv
	OpUDiv
	OpFDiv
	OpIRem
	OpURem
	OpIMul
	OpUMul
	OpFMul
	OpSwitch
	OpExtractValue
)

var opcodeNames = map[Opcode]string{
	OpRet: "ret", OpAllocate: "alloca", OpLoad: "load", OpStore: "store",
	OpAdd: "add", OpSub: "sub", OpICmpEq: "icmp.eq", OpICmpNe: "icmp.ne",
	OpICmpGt: "icmp.gt", OpICmpGe: "icmp.ge", OpICmpLt: "icmp.lt", OpICmpLe: "icmp.le",
	OpUCmpGt: "ucmp.gt", OpUCmpGe: "ucmp.ge", OpUCmpLt: "ucmp.lt", OpUCmpLe: "ucmp.le",
	OpFCmpEq: "fcmp.eq", OpFCmpNe: "fcmp.ne", OpFCmpGt: "fcmp.gt", OpFCmpGe: "fcmp.ge",
	OpFCmpLt: "fcmp.lt", OpFCmpLe: "fcmp.le", OpJump: "br", OpPhi: "phi",
	OpGetElementPtr: "getelementptr", OpCall: "call", OpZext: "zext", OpSext: "sext",
	OpTrunc: "trunc", OpFptrunc: "fptrunc", OpFpext: "fpext", OpFptosi: "fptosi",
	OpFptoui: "fptoui", OpSitofp: "sitofp", OpUitofp: "uitofp", OpBitcast: "bitcast",
	OpPtrtoint: "ptrtoint", OpInttoptr: "inttoptr", OpShl: "shl", OpLShr: "lshr",
	OpAShr: "ashr", OpAnd: "and", OpOr: "or", OpXor: "xor", OpIDiv: "idiv",
	OpUDiv: "udiv", OpFDiv: "fdiv", OpIRem: "irem", OpURem: "urem", OpIMul: "imul",
	OpUMul: "umul", OpFMul: "fmul", OpSwitch: "switch", OpExtractValue: "extractvalue",
}

func (op Opcode) String() string { return opcodeNames[op] }

// Instruction is a single SSA instruction. Its result, when it produces
// one, is the instruction value itself (kind Register). Operand and use
// lists are kept mutually consistent by every mutation helper.
type Instruction struct {
	valueBase
	op       Opcode
	operands []Value
	parent   *Block

	// phi bookkeeping for alloca promotion
	allocaRef Value
}

func newInstruction(op Opcode, typ Type, name string) *Instruction {
	return &Instruction{valueBase: valueBase{name: name, typ: typ, kind: RegisterKind}, op: op}
}

func (i *Instruction) Op() Opcode { return i.op }
func (i *Instruction) Operands() []Value { return i.operands }
func (i *Instruction) NumOperands() int { return len(i.operands) }
func (i *Instruction) Operand(n int) Value { return i.operands[n] }
func (i *Instruction) Parent() *Block { return i.parent }

func (i *Instruction) AddOperand(v Value) {
	i.operands = append(i.operands, v)
	v.addUse(i)
}

// RemoveOperand removes one occurrence of v. Phis drop the incoming value
// paired with a removed block.
func (i *Instruction) RemoveOperand(v Value) {
	if i.op == OpPhi && v.Kind() == BlockKind {
		for n := 1; n < len(i.operands); n += 2 {
			if i.operands[n] != v {
				continue
			}
			paired := i.operands[n-1]
			i.operands = append(i.operands[:n-1], i.operands[n:]...)
			paired.removeUse(i)
			break
		}
	}
	for n, op := range i.operands {
		if op == v {
			i.operands = append(i.operands[:n], i.operands[n+1:]...)
			break
		}
	}
	v.removeUse(i)
}

// setOperand rewires operand n, keeping use lists consistent.
func (i *Instruction) setOperand(n int, v Value) {
	i.operands[n].removeUse(i)
	i.operands[n] = v
	v.addUse(i)
}

func (i *Instruction) IsCmp() bool { return i.op >= OpICmpEq && i.op <= OpFCmpLe }
func (i *Instruction) IsCast() bool { return i.op >= OpZext && i.op <= OpInttoptr }
func (i *Instruction) IsJump() bool { return i.op == OpJump }
func (i *Instruction) IsTerminator() bool {
	return i.op == OpRet || i.op == OpSwitch || i.op == OpJump
}

func (i *Instruction) HasSideEffect() bool {
	switch i.op {
	case OpRet, OpSwitch, OpStore, OpJump, OpCall:
		return true
	}
	return false
}

// Accessors over the positional operand layout of the structured opcodes.

func (i *Instruction) Pointer() Value { return i.operands[0] } // load, store, gep
func (i *Instruction) Stored() Value { return i.operands[1] } // store
func (i *Instruction) LHS() Value { return i.operands[0] }
func (i *Instruction) RHS() Value { return i.operands[1] }

func (i *Instruction) Callee() Value { return i.operands[0] }
func (i *Instruction) Args() []Value { return i.operands[1:] }

func (i *Instruction) Indices() []Value { return i.operands[1:] } // gep

// Cond returns the branch condition of a conditional jump or switch.
func (i *Instruction) Cond() Value {
	if i.op == OpSwitch {
		return i.operands[0]
	}
	return i.operands[2]
}

func (i *Instruction) DefaultCase() *Block { return i.operands[1].(*Block) }

// SwitchCase pairs a case constant with its destination.
type SwitchCase struct {
	Value *ConstantInt
	Block *Block
}

func (i *Instruction) Cases() []SwitchCase {
	var cases []SwitchCase
	for n := 2; n+1 < len(i.operands); n += 2 {
		cases = append(cases, SwitchCase{i.operands[n].(*ConstantInt), i.operands[n+1].(*Block)})
	}
	return cases
}

// PhiIncoming pairs an incoming value with its predecessor block.
type PhiIncoming struct {
	Value Value
	Block *Block
}

func (i *Instruction) Incomings() []PhiIncoming {
	var in []PhiIncoming
	for n := 0; n+1 < len(i.operands); n += 2 {
		in = append(in, PhiIncoming{i.operands[n], i.operands[n+1].(*Block)})
	}
	return in
}

// AddIncoming appends a (value, predecessor) pair to a phi.
func (i *Instruction) AddIncoming(v Value, pred *Block) {
	i.AddOperand(v)
	i.AddOperand(pred)
}

// Alloca returns the promoted slot a phi was created for, if any.
func (i *Instruction) Alloca() Value { return i.allocaRef }

// ExtractIndex is the field index of an extractvalue.
func (i *Instruction) ExtractIndex() *ConstantInt { return i.operands[1].(*ConstantInt) }

// CastTo is the destination type of a cast.
func (i *Instruction) CastTo() Type { return i.typ }

// JumpTargets returns the successor blocks referenced by a terminator,
// counted with multiplicity.
func (i *Instruction) JumpTargets() []*Block {
	switch i.op {
	case OpJump:
		targets := []*Block{i.operands[0].(*Block)}
		if len(i.operands) > 1 {
			targets = append(targets, i.operands[1].(*Block))
		}
		return targets
	case OpSwitch:
		targets := []*Block{i.DefaultCase()}
		for _, c := range i.Cases() {
			targets = append(targets, c.Block)
		}
		return targets
	}
	return nil
}

// onAdd wires CFG edges and function bookkeeping when the instruction
// enters a block.
func (i *Instruction) onAdd() {
	switch i.op {
	case OpJump, OpSwitch:
		for _, t := range i.JumpTargets() {
			i.parent.addSuccessor(t)
			t.addPredecessor(i.parent)
		}
		i.parent.parent.setCFGDirty()
	case OpAllocate:
		fn := i.parent.parent
		fn.allocations = append(fn.allocations, i)
	}
}

// beforeRemove undoes onAdd and detaches every use-def edge.
func (i *Instruction) beforeRemove(from *Block) {
	switch i.op {
	case OpJump, OpSwitch:
		for _, t := range i.JumpTargets() {
			from.removeSuccessor(t)
			t.removePredecessor(from)
		}
		from.parent.setCFGDirty()
	case OpAllocate:
		fn := from.parent
		for n, a := range fn.allocations {
			if a == i {
				fn.allocations = append(fn.allocations[:n], fn.allocations[n+1:]...)
				break
			}
		}
	}
	for _, op := range i.operands {
		op.removeUse(i)
	}
	for _, user := range append([]*Instruction(nil), i.uses...) {
		user.RemoveOperand(i)
	}
}

// Constructors. Result-producing instructions carry their result type.

func NewBinary(op Opcode, lhs, rhs Value, name string) *Instruction {
	ins := newInstruction(op, lhs.Type(), name)
	ins.AddOperand(lhs)
	ins.AddOperand(rhs)
	return ins
}

func NewCompare(op Opcode, ctx *Context, lhs, rhs Value, name string) *Instruction {
	ins := newInstruction(op, ctx.I1Type(), name)
	ins.AddOperand(lhs)
	ins.AddOperand(rhs)
	return ins
}

func NewLoad(ptr Value, name string) *Instruction {
	ins := newInstruction(OpLoad, ptr.Type().(*PointerType).Pointee, name)
	ins.AddOperand(ptr)
	return ins
}

func NewStore(ptr, value Value) *Instruction {
	ins := newInstruction(OpStore, ptr.Type(), "")
	ins.AddOperand(ptr)
	ins.AddOperand(value)
	return ins
}

func NewAlloca(ctx *Context, t Type, name string) *Instruction {
	return newInstruction(OpAllocate, ctx.PointerType(t), name)
}

func NewRet(value Value) *Instruction {
	ins := newInstruction(OpRet, nil, "")
	if value != nil {
		ins.AddOperand(value)
	}
	return ins
}

func NewJump(target *Block) *Instruction {
	ins := newInstruction(OpJump, nil, "")
	ins.AddOperand(target)
	return ins
}

func NewCondJump(then, els *Block, cond Value) *Instruction {
	ins := newInstruction(OpJump, nil, "")
	ins.AddOperand(then)
	ins.AddOperand(els)
	ins.AddOperand(cond)
	return ins
}

func NewPhi(t Type, alloca Value, name string) *Instruction {
	ins := newInstruction(OpPhi, t, name)
	ins.allocaRef = alloca
	return ins
}

func NewGEP(resultType Type, ptr Value, indices []Value, name string) *Instruction {
	ins := newInstruction(OpGetElementPtr, resultType, name)
	ins.AddOperand(ptr)
	for _, idx := range indices {
		ins.AddOperand(idx)
	}
	return ins
}

func NewCall(t Type, callee Value, args []Value, name string) *Instruction {
	ins := newInstruction(OpCall, t, name)
	ins.AddOperand(callee)
	for _, a := range args {
		ins.AddOperand(a)
	}
	return ins
}

func NewCast(op Opcode, value Value, to Type, name string) *Instruction {
	ins := newInstruction(op, to, name)
	ins.AddOperand(value)
	return ins
}

func NewSwitch(cond Value, defaultCase *Block, cases []SwitchCase) *Instruction {
	ins := newInstruction(OpSwitch, nil, "")
	ins.AddOperand(cond)
	ins.AddOperand(defaultCase)
	for _, c := range cases {
		ins.AddOperand(c.Value)
		ins.AddOperand(c.Block)
	}
	return ins
}

func NewExtractValue(agg Value, index *ConstantInt, name string) *Instruction {
	st := agg.Type().(*StructType)
	ins := newInstruction(OpExtractValue, st.Fields[index.Value], name)
	ins.AddOperand(agg)
	ins.AddOperand(index)
	return ins
}

// Clone produces a detached copy referencing the same operands.
func (i *Instruction) Clone() *Instruction {
	clone := newInstruction(i.op, i.typ, i.name)
	clone.flags = i.flags
	clone.allocaRef = i.allocaRef
	for _, op := range i.operands {
		clone.AddOperand(op)
	}
	return clone
}
