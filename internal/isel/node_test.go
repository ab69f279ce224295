package isel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/ir"
)

func TestBuilderOwnsNodes(t *testing.T) {
	ctx := ir.NewContext()
	var b Builder
	root := NewRoot("entry")
	b.SetRoot(root)

	reg := b.NewRegister("x", ctx.I32Type())
	c := b.NewConstantInt(2, ctx.I32Type())
	add := b.NewOperation(KindAdd, reg, reg, c)

	require.Len(t, root.Nodes, 3)
	assert.Same(t, root, add.Root())
	assert.Equal(t, KindAdd, add.Kind())
	assert.Equal(t, Value(reg), add.Result)
}

func TestChainLinking(t *testing.T) {
	ctx := ir.NewContext()
	var b Builder
	root := NewRoot("entry")
	b.SetRoot(root)

	load := b.NewChain(KindLoad, b.NewRegister("v", ctx.I64Type()))
	load.ChainIndex = 1
	store := b.NewChain(KindStore, nil)
	store.ChainIndex = 2

	root.Next = load
	load.Next = store

	count := 0
	for c := root.Next; c != nil; c = c.Next {
		count++
		assert.Equal(t, count, c.ChainIndex)
	}
	assert.Equal(t, 2, count)
}

func TestExtractOperand(t *testing.T) {
	ctx := ir.NewContext()
	var b Builder
	b.SetRoot(NewRoot("entry"))

	reg := b.NewRegister("x", ctx.I64Type())
	c := b.NewConstantInt(1, ctx.I64Type())

	// leaves pass through
	assert.Equal(t, Node(reg), ExtractOperand(reg, true))
	assert.Equal(t, Node(c), ExtractOperand(c, true))

	// operations resolve to their result
	add := b.NewOperation(KindAdd, reg, reg, c)
	assert.Equal(t, Node(reg), ExtractOperand(add, true))

	// generic casts peel to their source
	castReg := b.NewRegister("y", ctx.I64Type())
	cast := b.NewCast(KindGenericCast, castReg, add, ctx.I64Type())
	assert.Equal(t, Node(reg), ExtractOperand(cast, true))
	assert.Equal(t, Node(castReg), ExtractOperand(cast, false))
}

func TestIsRegisterNode(t *testing.T) {
	ctx := ir.NewContext()
	var b Builder
	b.SetRoot(NewRoot("entry"))

	assert.True(t, IsRegisterNode(b.NewRegister("x", ctx.I32Type())))
	assert.True(t, IsRegisterNode(b.NewFunctionArgument(0, ctx.I32Type())))
	assert.False(t, IsRegisterNode(b.NewConstantInt(1, ctx.I32Type())))
	assert.False(t, IsRegisterNode(b.NewFrameIndex(0, ctx.I32Type())))
}

func TestPatternSetOrder(t *testing.T) {
	ps := make(PatternSet)
	ps.Add(Pattern{Name: "first"}, KindAdd, KindSub)
	ps.Add(Pattern{Name: "second"}, KindAdd)

	require.Len(t, ps[KindAdd], 2)
	assert.Equal(t, "first", ps[KindAdd][0].Name)
	assert.Equal(t, "second", ps[KindAdd][1].Name)
	require.Len(t, ps[KindSub], 1)
}
