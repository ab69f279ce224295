package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSumLoop encodes: a = 0; for i = 1..10 { a += i }; return a.
func buildSumLoop(t *testing.T) (*Context, *Function) {
	t.Helper()
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("sum", ctx.FunctionType(ctx.I32Type(), nil, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	header := b.CreateBlock(fn, "header")
	body := b.CreateBlock(fn, "body")
	exit := b.CreateBlock(fn, "exit")

	b.SetInsertBlock(entry)
	acc := b.CreateAlloca(ctx.I32Type(), "acc")
	idx := b.CreateAlloca(ctx.I32Type(), "idx")
	b.CreateStore(acc, ctx.ConstantInt(32, 0))
	b.CreateStore(idx, ctx.ConstantInt(32, 1))
	b.CreateBr(header)

	b.SetInsertBlock(header)
	i := b.CreateLoad(idx, "")
	cmp := b.CreateICmpLe(i, ctx.ConstantInt(32, 10), "")
	b.CreateCondBr(body, exit, cmp)

	b.SetInsertBlock(body)
	cur := b.CreateLoad(acc, "")
	iv := b.CreateLoad(idx, "")
	next := b.CreateAdd(cur, iv, "")
	b.CreateStore(acc, next)
	inc := b.CreateAdd(iv, ctx.ConstantInt(32, 1), "")
	b.CreateStore(idx, inc)
	b.CreateBr(header)

	b.SetInsertBlock(exit)
	out := b.CreateLoad(acc, "")
	b.CreateRet(out)

	require.NoError(t, Verify(fn))
	return ctx, fn
}

func TestMem2RegPromotesAllocas(t *testing.T) {
	ctx, fn := buildSumLoop(t)

	changed, err := NewMem2Reg(ctx).RunOnFunction(fn)
	require.NoError(t, err)
	require.True(t, changed)

	assert.Empty(t, fn.Allocations())
	phis := 0
	for _, b := range fn.Blocks() {
		for _, ins := range b.Instructions() {
			assert.NotEqual(t, OpLoad, ins.Op())
			assert.NotEqual(t, OpStore, ins.Op())
			if ins.Op() == OpPhi {
				phis++
			}
		}
	}
	assert.Greater(t, phis, 0, "loop-carried values need phis")
	require.NoError(t, Verify(fn))
}

func TestConstantFolding(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.I32Type(), nil, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	b.SetInsertBlock(entry)
	sum := b.CreateAdd(ctx.ConstantInt(32, 40), ctx.ConstantInt(32, 2), "")
	b.CreateRet(sum)

	changed, err := NewConstantFolder(ctx).RunOnFunction(fn)
	require.NoError(t, err)
	require.True(t, changed)

	ret := fn.EntryBlock().Terminator()
	folded, ok := ret.Operand(0).(*ConstantInt)
	require.True(t, ok)
	assert.Equal(t, int64(42), folded.Value)
}

func TestConstantFoldingRewritesBranch(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.I32Type(), nil, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	then := b.CreateBlock(fn, "then")
	els := b.CreateBlock(fn, "else")
	b.SetInsertBlock(entry)
	b.CreateCondBr(then, els, ctx.ConstantInt(1, 1))
	b.SetInsertBlock(then)
	b.CreateRet(ctx.ConstantInt(32, 1))
	b.SetInsertBlock(els)
	b.CreateRet(ctx.ConstantInt(32, 0))

	changed, err := NewConstantFolder(ctx).RunOnFunction(fn)
	require.NoError(t, err)
	require.True(t, changed)

	term := fn.EntryBlock().Terminator()
	require.Equal(t, OpJump, term.Op())
	assert.Equal(t, 1, term.NumOperands())
	assert.Equal(t, "then", term.Operand(0).(*Block).Name())
}

func TestDeadCodeElimination(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.I32Type(), []Type{ctx.I32Type()}, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	b.SetInsertBlock(entry)
	b.CreateAdd(fn.Arguments()[0], ctx.ConstantInt(32, 1), "dead")
	live := b.CreateAdd(fn.Arguments()[0], ctx.ConstantInt(32, 2), "live")
	b.CreateRet(live)

	changed, err := NewDeadCodeElimination().RunOnFunction(fn)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Len(t, fn.EntryBlock().Instructions(), 2)
}

func TestSimplifyCFGMergesStraightLine(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.I32Type(), nil, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	mid := b.CreateBlock(fn, "mid")
	b.SetInsertBlock(entry)
	b.CreateBr(mid)
	b.SetInsertBlock(mid)
	b.CreateRet(ctx.ConstantInt(32, 3))

	changed, err := NewCFGSimplification().RunOnFunction(fn)
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, fn.Blocks(), 1)
	assert.Equal(t, OpRet, fn.EntryBlock().Terminator().Op())
}

func TestSimplifyCFGDropsUnreachable(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.I32Type(), nil, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	dead := b.CreateBlock(fn, "dead")
	b.SetInsertBlock(entry)
	b.CreateRet(ctx.ConstantInt(32, 0))
	b.SetInsertBlock(dead)
	b.CreateRet(ctx.ConstantInt(32, 1))

	changed, err := NewCFGSimplification().RunOnFunction(fn)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Len(t, fn.Blocks(), 1)
}

func TestInlineSmallCallee(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)

	callee := unit.GetOrInsertFunction("double", ctx.FunctionType(ctx.I32Type(), []Type{ctx.I32Type()}, false), ExternalLinkage)
	cEntry := b.CreateBlock(callee, "entry")
	b.SetInsertBlock(cEntry)
	doubled := b.CreateAdd(callee.Arguments()[0], callee.Arguments()[0], "")
	b.CreateRet(doubled)

	caller := unit.GetOrInsertFunction("main", ctx.FunctionType(ctx.I32Type(), nil, false), ExternalLinkage)
	mEntry := b.CreateBlock(caller, "entry")
	b.SetInsertBlock(mEntry)
	call := b.CreateCall(callee, []Value{ctx.ConstantInt(32, 21)}, "")
	b.CreateRet(call)

	changed, err := NewFunctionInlining().RunOnFunction(caller)
	require.NoError(t, err)
	require.True(t, changed)

	for _, ins := range caller.EntryBlock().Instructions() {
		assert.NotEqual(t, OpCall, ins.Op())
	}
	require.NoError(t, Verify(caller))
}
