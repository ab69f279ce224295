package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDiamond wires entry -> (left | right) -> exit.
func buildDiamond(t *testing.T) (*Function, *Block, *Block, *Block, *Block) {
	t.Helper()
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.Void(), []Type{ctx.IntType(1)}, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	left := b.CreateBlock(fn, "left")
	right := b.CreateBlock(fn, "right")
	exit := b.CreateBlock(fn, "exit")

	b.SetInsertBlock(entry)
	b.CreateCondBr(left, right, fn.Arguments()[0])
	b.SetInsertBlock(left)
	b.CreateBr(exit)
	b.SetInsertBlock(right)
	b.CreateBr(exit)
	b.SetInsertBlock(exit)
	b.CreateRet(nil)

	return fn, entry, left, right, exit
}

func TestDominatorsDiamond(t *testing.T) {
	fn, entry, left, right, exit := buildDiamond(t)

	assert.True(t, fn.Dominates(entry, exit))
	assert.True(t, fn.Dominates(entry, left))
	assert.False(t, fn.Dominates(left, exit))
	assert.False(t, fn.Dominates(right, exit))
	assert.True(t, fn.Dominates(exit, exit))

	assert.Equal(t, entry, fn.ImmediateDominator(exit))
	assert.Equal(t, entry, fn.ImmediateDominator(left))
	assert.Nil(t, fn.ImmediateDominator(entry))
}

func TestLoopDetection(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.Void(), []Type{ctx.IntType(1)}, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	header := b.CreateBlock(fn, "header")
	body := b.CreateBlock(fn, "body")
	exit := b.CreateBlock(fn, "exit")

	b.SetInsertBlock(entry)
	b.CreateBr(header)
	b.SetInsertBlock(header)
	b.CreateCondBr(body, exit, fn.Arguments()[0])
	b.SetInsertBlock(body)
	b.CreateBr(header)
	b.SetInsertBlock(exit)
	b.CreateRet(nil)

	require.True(t, fn.IsLoopHeader(header))
	assert.Equal(t, 1, fn.LoopDepth(header))
	assert.Equal(t, 1, fn.LoopDepth(body))
	assert.Equal(t, 0, fn.LoopDepth(entry))
	assert.Equal(t, 0, fn.LoopDepth(exit))
}

func TestReversePostorderStartsAtEntry(t *testing.T) {
	fn, entry, _, _, exit := buildDiamond(t)

	order := fn.ReversePostorder()
	require.Len(t, order, 4)
	assert.Equal(t, entry, order[0])
	assert.Equal(t, exit, order[len(order)-1])
}
