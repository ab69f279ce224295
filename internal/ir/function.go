package ir

import "fmt"

// CallingConvention selects argument and return placement rules.
type CallingConvention int

const (
	CCDefault CallingConvention = iota
	CCX64SysV
	CCWin64
	CCAAPCS64
)

// Function owns blocks (the first is the entry), formal arguments and the
// lazily recomputed dominator tree and loop forest.
type Function struct {
	valueBase
	unit        *Unit
	fnType      *FuncType
	linkage     Linkage
	callingConv CallingConvention

	blocks      []*Block
	args        []*FunctionArgument
	allocations []*Instruction

	valueNameCounter int
	blockNameCounter int

	cfgDirty  bool
	doms      map[*Block]map[*Block]bool
	idoms     map[*Block]*Block
	loopDepth map[*Block]int
	loopHdrs  map[*Block]bool
}

func newFunction(name string, fnType *FuncType, linkage Linkage) *Function {
	fn := &Function{
		valueBase: valueBase{name: name, typ: fnType, kind: FunctionKind},
		fnType:    fnType,
		linkage:   linkage,
		cfgDirty:  true,
	}
	for i, p := range fnType.Params {
		arg := &FunctionArgument{
			valueBase: valueBase{name: fmt.Sprintf("arg%d", i), typ: p, kind: FunctionArgumentKind},
			Slot:      uint32(i),
		}
		fn.args = append(fn.args, arg)
	}
	return fn
}

func (f *Function) Unit() *Unit { return f.unit }
func (f *Function) FunctionType() *FuncType { return f.fnType }
func (f *Function) Linkage() Linkage { return f.linkage }
func (f *Function) SetLinkage(l Linkage) { f.linkage = l }
func (f *Function) CallingConvention() CallingConvention {
	return f.callingConv
}
func (f *Function) SetCallingConvention(cc CallingConvention) { f.callingConv = cc }

func (f *Function) Blocks() []*Block { return f.blocks }
func (f *Function) Arguments() []*FunctionArgument { return f.args }
func (f *Function) Allocations() []*Instruction { return f.allocations }

// HasBody distinguishes definitions from external declarations.
func (f *Function) HasBody() bool { return len(f.blocks) > 0 }

func (f *Function) EntryBlock() *Block {
	if len(f.blocks) == 0 {
		return nil
	}
	return f.blocks[0]
}

func (f *Function) nextValueName() int {
	n := f.valueNameCounter
	f.valueNameCounter++
	return n
}

// AddBlock creates and appends a block; the first becomes the entry.
func (f *Function) AddBlock(name string) *Block {
	if name == "" {
		name = fmt.Sprintf("bb%d", f.blockNameCounter)
	}
	f.blockNameCounter++
	b := newBlock(f.unit.ctx, name)
	b.parent = f
	f.blocks = append(f.blocks, b)
	f.setCFGDirty()
	return b
}

// AppendBlock adopts an already built block (e.g. from Split).
func (f *Function) AppendBlock(b *Block) {
	if b.Name() == "" {
		b.SetName(fmt.Sprintf("bb%d", f.blockNameCounter))
	}
	f.blockNameCounter++
	b.parent = f
	f.blocks = append(f.blocks, b)
	f.setCFGDirty()
}

func (f *Function) RemoveBlock(b *Block) {
	b.ClearInstructions()
	for n, cur := range f.blocks {
		if cur == b {
			f.blocks = append(f.blocks[:n], f.blocks[n+1:]...)
			break
		}
	}
	f.setCFGDirty()
}

// MergeBlocks appends every instruction of src into dst and drops src.
// The caller removes dst's terminator first.
func (f *Function) MergeBlocks(dst, src *Block) {
	moved := append([]*Instruction(nil), src.instructions...)
	src.instructions = nil
	for _, ins := range moved {
		ins.parent = dst
		dst.instructions = append(dst.instructions, ins)
		if ins.IsTerminator() {
			// edges moved with the terminator
			for _, t := range ins.JumpTargets() {
				src.removeSuccessor(t)
				t.removePredecessor(src)
				dst.addSuccessor(t)
				t.addPredecessor(dst)
			}
		}
	}
	f.RemoveBlock(src)
}

// Replace rewrites every operand occurrence of old with new across the
// whole function.
func (f *Function) Replace(old, new Value) {
	for _, b := range f.blocks {
		b.Replace(old, new)
	}
}

func (f *Function) setCFGDirty() { f.cfgDirty = true }

// InstructionCount is the number of instructions over all blocks.
func (f *Function) InstructionCount() int {
	n := 0
	for _, b := range f.blocks {
		n += len(b.instructions)
	}
	return n
}
