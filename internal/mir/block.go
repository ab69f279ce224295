package mir

import "forge/internal/ir"

// Block is a machine basic block. It doubles as a symbol operand so
// branch instructions can reference it directly.
type Block struct {
	operandBase
	Name string

	instructions []*Instruction
	successors   []*Block
	predecessors []*Block
	parent       *Function
	irBlock      *ir.Block

	// phi-resolution copies (dest, src) queued during DAG emission
	phiCopies []*Instruction

	epilogueSize int
}

func NewBlock(name string, irBlock *ir.Block) *Block {
	b := &Block{Name: name, irBlock: irBlock}
	b.kind = BlockKind
	return b
}

func (b *Block) Equals(other Operand, ignoreFlags bool) bool {
	o, ok := other.(*Block)
	return ok && o == b
}

func (b *Block) Instructions() []*Instruction { return b.instructions }
func (b *Block) Successors() []*Block { return b.successors }
func (b *Block) Predecessors() []*Block { return b.predecessors }
func (b *Block) Parent() *Function { return b.parent }
func (b *Block) IRBlock() *ir.Block { return b.irBlock }

func (b *Block) AddSuccessor(s *Block) { b.successors = append(b.successors, s) }
func (b *Block) AddPredecessor(p *Block) { b.predecessors = append(b.predecessors, p) }

func (b *Block) SetEpilogueSize(n int) { b.epilogueSize = n }
func (b *Block) EpilogueSize() int { return b.epilogueSize }

// Last returns the append position, one past the final instruction.
func (b *Block) Last() int { return len(b.instructions) }

func (b *Block) AddInstruction(ins *Instruction) {
	ins.parent = b
	b.instructions = append(b.instructions, ins)
}

func (b *Block) AddInstructionAtFront(ins *Instruction) {
	b.AddInstructionAt(ins, 0)
}

func (b *Block) AddInstructionAt(ins *Instruction, index int) {
	ins.parent = b
	if index >= len(b.instructions) {
		b.instructions = append(b.instructions, ins)
		return
	}
	b.instructions = append(b.instructions[:index], append([]*Instruction{ins}, b.instructions[index:]...)...)
}

func (b *Block) RemoveInstruction(ins *Instruction) *Instruction {
	for n, cur := range b.instructions {
		if cur == ins {
			b.instructions = append(b.instructions[:n], b.instructions[n+1:]...)
			return ins
		}
	}
	return nil
}

func (b *Block) RemoveInstructionAt(index int) *Instruction {
	ins := b.instructions[index]
	b.instructions = append(b.instructions[:index], b.instructions[index+1:]...)
	return ins
}

func (b *Block) InstructionIndex(ins *Instruction) int {
	for n, cur := range b.instructions {
		if cur == ins {
			return n
		}
	}
	return -1
}

// AddPhiCopy queues a parallel-copy pair resolved before the terminator
// by target lowering.
func (b *Block) AddPhiCopy(dest *Register, src Operand) {
	ins := NewInstruction(PhiLowerOp, dest, src)
	ins.parent = b
	b.phiCopies = append(b.phiCopies, ins)
}

func (b *Block) PhiCopies() []*Instruction { return b.phiCopies }
func (b *Block) ClearPhiCopies() { b.phiCopies = nil }
