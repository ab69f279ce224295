package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildCondFunction makes fn(n i32) -> i32 with a conditional and two returns.
func buildCondFunction(t *testing.T) (*Unit, *Function) {
	t.Helper()
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)

	fnType := ctx.FunctionType(ctx.I32Type(), []Type{ctx.I32Type()}, false)
	fn := unit.GetOrInsertFunction("cond", fnType, ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	then := b.CreateBlock(fn, "then")
	els := b.CreateBlock(fn, "else")

	b.SetInsertBlock(entry)
	cmp := b.CreateICmpLt(fn.Arguments()[0], ctx.ConstantInt(32, 2), "")
	b.CreateCondBr(then, els, cmp)

	b.SetInsertBlock(then)
	b.CreateRet(fn.Arguments()[0])

	b.SetInsertBlock(els)
	sum := b.CreateAdd(fn.Arguments()[0], ctx.ConstantInt(32, 1), "")
	b.CreateRet(sum)

	return unit, fn
}

func TestUseDefConsistency(t *testing.T) {
	_, fn := buildCondFunction(t)
	require.NoError(t, Verify(fn))

	for _, block := range fn.Blocks() {
		for _, ins := range block.Instructions() {
			for _, op := range ins.Operands() {
				found := 0
				for _, use := range op.Uses() {
					if use == ins {
						found++
					}
				}
				assert.Greater(t, found, 0, "operand missing a use edge")
			}
		}
	}
}

func TestCFGEdgesMatchTerminators(t *testing.T) {
	_, fn := buildCondFunction(t)

	entry := fn.EntryBlock()
	assert.Len(t, entry.Successors(), 2)
	for succ := range entry.Successors() {
		assert.Equal(t, uint32(1), succ.Predecessors()[entry])
	}
}

func TestDoubleEdgeCountsTwice(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.Void(), nil, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	tgt := b.CreateBlock(fn, "tgt")
	b.SetInsertBlock(entry)
	cond := ctx.ConstantInt(1, 1)
	b.CreateCondBr(tgt, tgt, cond)
	b.SetInsertBlock(tgt)
	b.CreateRet(nil)

	assert.Equal(t, uint32(2), entry.Successors()[tgt])
	assert.Equal(t, uint32(2), tgt.Predecessors()[entry])
}

func TestRemoveInstructionDetachesEdges(t *testing.T) {
	_, fn := buildCondFunction(t)
	entry := fn.EntryBlock()
	term := entry.Terminator()

	entry.RemoveInstruction(term)
	assert.Len(t, entry.Successors(), 0)
	for _, block := range fn.Blocks() {
		assert.Len(t, block.Predecessors(), 0)
	}
}

func TestReplaceAllUses(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.I32Type(), []Type{ctx.I32Type()}, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	b.SetInsertBlock(entry)
	x := b.CreateAdd(fn.Arguments()[0], ctx.ConstantInt(32, 1), "x")
	y := b.CreateAdd(fn.Arguments()[0], ctx.ConstantInt(32, 2), "y")
	z := b.CreateAdd(fn.Arguments()[0], ctx.ConstantInt(32, 3), "z")
	use := b.CreateAdd(x, x, "use")
	b.CreateRet(use)

	// replacing a value with itself changes nothing
	before := len(x.Uses())
	fn.Replace(x, x)
	assert.Len(t, x.Uses(), before)

	// replace x -> y -> z equals replacing x -> z
	fn.Replace(x, y)
	assert.Empty(t, x.Uses())
	fn.Replace(y, z)
	assert.Empty(t, y.Uses())
	assert.Equal(t, z, use.Operand(0))
	assert.Equal(t, z, use.Operand(1))
}

func TestAllocationList(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.Void(), nil, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	b.SetInsertBlock(entry)
	a := b.CreateAlloca(ctx.I64Type(), "a")
	assert.Len(t, fn.Allocations(), 1)

	entry.RemoveInstruction(a)
	assert.Empty(t, fn.Allocations())
}

func TestSplitReroutesUses(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.I32Type(), []Type{ctx.I32Type()}, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	b.SetInsertBlock(entry)
	x := b.CreateAdd(fn.Arguments()[0], ctx.ConstantInt(32, 1), "x")
	y := b.CreateAdd(x, ctx.ConstantInt(32, 2), "y")
	b.CreateRet(y)

	tail := entry.Split(x)
	require.NotNil(t, tail)
	fn.AppendBlock(tail)

	// the head keeps x and lost its tail
	assert.Len(t, entry.Instructions(), 1)
	assert.Nil(t, entry.Terminator())
	// the tail computes y from x and returns it
	assert.Len(t, tail.Instructions(), 2)
	assert.Equal(t, Value(x), tail.Instructions()[0].Operand(0))
}

func TestVerifyCatchesMissingTerminator(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.Void(), nil, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	b.SetInsertBlock(entry)
	b.CreateAlloca(ctx.I32Type(), "")

	err := Verify(fn)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminator")
}
