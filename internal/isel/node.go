package isel

import "forge/internal/ir"

// NodeKind enumerates the target-neutral DAG operations.
type NodeKind int

const (
	KindRoot NodeKind = iota
	KindConstantInt
	KindConstantFloat
	KindRegister
	KindFrameIndex
	KindFunctionArgument
	KindGlobalValue
	KindRet
	KindLoad
	KindStore
	KindAdd
	KindSub
	KindICmpEq
	KindICmpNe
	KindICmpGt
	KindICmpGe
	KindICmpLt
	KindICmpLe
	KindUCmpGt
	KindUCmpGe
	KindUCmpLt
	KindUCmpLe
	KindFCmpEq
	KindFCmpNe
	KindFCmpGt
	KindFCmpGe
	KindFCmpLt
	KindFCmpLe
	KindJump
	KindPhi
	KindLoadConstant
	KindLoadGlobal
	KindGEP
	KindCall
	KindZext
	KindSext
	KindTrunc
	KindFptrunc
	KindFpext
	KindFptosi
	KindFptoui
	KindSitofp
	KindUitofp
	KindPtrtoint
	KindInttoptr
	KindShiftLeft
	KindLShiftRight
	KindAShiftRight
	KindAnd
	KindOr
	KindXor
	KindIDiv
	KindUDiv
	KindFDiv
	KindIRem
	KindURem
	KindIMul
	KindUMul
	KindFMul
	KindSwitch
	KindMultiValue
	KindGenericCast
)

var kindNames = map[NodeKind]string{
	KindRoot: "root", KindConstantInt: "constint", KindConstantFloat: "constfloat",
	KindRegister: "register", KindFrameIndex: "frameindex", KindFunctionArgument: "arg",
	KindGlobalValue: "globalvalue", KindRet: "ret", KindLoad: "load", KindStore: "store",
	KindAdd: "add", KindSub: "sub", KindICmpEq: "icmp.eq", KindICmpNe: "icmp.ne",
	KindICmpGt: "icmp.gt", KindICmpGe: "icmp.ge", KindICmpLt: "icmp.lt", KindICmpLe: "icmp.le",
	KindUCmpGt: "ucmp.gt", KindUCmpGe: "ucmp.ge", KindUCmpLt: "ucmp.lt", KindUCmpLe: "ucmp.le",
	KindFCmpEq: "fcmp.eq", KindFCmpNe: "fcmp.ne", KindFCmpGt: "fcmp.gt", KindFCmpGe: "fcmp.ge",
	KindFCmpLt: "fcmp.lt", KindFCmpLe: "fcmp.le", KindJump: "jump", KindPhi: "phi",
	KindLoadConstant: "loadconst", KindLoadGlobal: "loadglobal", KindGEP: "gep",
	KindCall: "call", KindZext: "zext", KindSext: "sext", KindTrunc: "trunc",
	KindFptrunc: "fptrunc", KindFpext: "fpext", KindFptosi: "fptosi", KindFptoui: "fptoui",
	KindSitofp: "sitofp", KindUitofp: "uitofp", KindPtrtoint: "ptrtoint",
	KindInttoptr: "inttoptr", KindShiftLeft: "shl", KindLShiftRight: "lshr",
	KindAShiftRight: "ashr", KindAnd: "and", KindOr: "or", KindXor: "xor",
	KindIDiv: "idiv", KindUDiv: "udiv", KindFDiv: "fdiv", KindIRem: "irem",
	KindURem: "urem", KindIMul: "imul", KindUMul: "umul", KindFMul: "fmul",
	KindSwitch: "switch", KindMultiValue: "multivalue", KindGenericCast: "cast",
}

func (k NodeKind) String() string { return kindNames[k] }

// IsCmpKind reports whether k is one of the comparison node kinds.
func IsCmpKind(k NodeKind) bool { return k >= KindICmpEq && k <= KindFCmpLe }

// Node is a vertex of a block DAG. Every node belongs to a Root, which
// owns it.
type Node interface {
	Kind() NodeKind
	Root() *Root
	setRoot(*Root)
}

type nodeBase struct {
	kind NodeKind
	root *Root
}

func (n *nodeBase) Kind() NodeKind { return n.kind }
func (n *nodeBase) Root() *Root { return n.root }
func (n *nodeBase) setRoot(r *Root) { n.root = r }

// Value is a pure node producing a typed value.
type Value interface {
	Node
	Type() ir.Type
}

type valueBase struct {
	nodeBase
	typ ir.Type
}

func (v *valueBase) Type() ir.Type { return v.typ }

type ConstantInt struct {
	valueBase
	Value int64
}

type ConstantFloat struct {
	valueBase
	Value float64
}

// Register is an unbounded virtual value produced by an instruction node.
type Register struct {
	valueBase
	Name string
}

// FrameIndex is a symbolic stack slot reference.
type FrameIndex struct {
	valueBase
	Slot uint32
}

type FunctionArgument struct {
	valueBase
	Slot uint32
}

// GlobalValue wraps an IR global variable or function.
type GlobalValue struct {
	valueBase
	Global ir.Value
}

// MultiValue carries the scalar pieces of a struct-typed result.
type MultiValue struct {
	valueBase
	Values []Value
}

// Instruction is an operation node: pure unless it is also a Chain.
type Instruction struct {
	nodeBase
	Operands   []Node
	Result     Value
	ChainIndex int
	// CastTo is the destination type of cast nodes.
	CastTo ir.Type
}

func (i *Instruction) AddOperand(n Node) { i.Operands = append(i.Operands, n) }

// Chain is a side-effecting node threaded in program order off the Root.
// Call chains additionally carry their result-use flag and calling
// convention.
type Chain struct {
	Instruction
	Next *Chain

	ResultUsed bool
	Conv       ir.CallingConvention
}

// Root anchors one block's DAG and owns every node built for it.
type Root struct {
	Chain
	Name  string
	Nodes []Node
}

// AsInstruction returns the instruction payload of operation nodes, nil
// for pure value nodes.
func AsInstruction(n Node) *Instruction {
	switch n := n.(type) {
	case *Instruction:
		return n
	case *Chain:
		return &n.Instruction
	case *Root:
		return &n.Instruction
	}
	return nil
}

// AsChain returns the chain payload, nil for non-chain nodes.
func AsChain(n Node) *Chain {
	switch n := n.(type) {
	case *Chain:
		return n
	case *Root:
		return &n.Chain
	}
	return nil
}

// ExtractOperand resolves an operation node to the value it produces:
// leaf value nodes pass through, no-op casts peel down to their source,
// every other instruction yields its result register.
func ExtractOperand(n Node, extractCast bool) Node {
	switch n.Kind() {
	case KindConstantInt, KindConstantFloat, KindRegister, KindFrameIndex,
		KindFunctionArgument, KindGlobalValue, KindMultiValue, KindRoot:
		return n
	case KindGenericCast:
		ins := AsInstruction(n)
		if !extractCast {
			return ins.Result
		}
		return ExtractOperand(ins.Operands[0], true)
	default:
		return AsInstruction(n).Result
	}
}

// IsRegisterNode reports whether the resolved operand is register-like.
func IsRegisterNode(n Node) bool {
	return n.Kind() == KindRegister || n.Kind() == KindFunctionArgument
}
