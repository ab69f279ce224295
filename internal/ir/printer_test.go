package ir

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintFunction(t *testing.T) {
	_, fn := buildCondFunction(t)
	text := PrintToString(fn.Unit())

	require.Contains(t, text, "fn @cond(")
	assert.Contains(t, text, "entry:")
	assert.Contains(t, text, "icmp.lt")
	assert.Contains(t, text, "br ")
	assert.Contains(t, text, "ret ")
}

func TestPrintGlobalsAndDeclarations(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)

	unit.GetOrInsertGlobal(ctx.I64Type(), ctx.ConstantInt(64, 9), ExternalLinkage, "answer")
	unit.GetOrInsertFunction("puts", ctx.FunctionType(ctx.I32Type(), []Type{ctx.PointerType(ctx.I8Type())}, false), ExternalLinkage)

	text := PrintToString(unit)
	assert.Contains(t, text, "global @answer : i64 = 9 : i64")
	assert.Contains(t, text, "declare @puts(")
}

func TestPrintSwitch(t *testing.T) {
	ctx := NewContext()
	unit := NewUnit("test", ctx)
	b := NewBuilder(ctx)
	fn := unit.GetOrInsertFunction("classify", ctx.FunctionType(ctx.I32Type(), []Type{ctx.I32Type()}, false), ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	def := b.CreateBlock(fn, "default")
	one := b.CreateBlock(fn, "one")
	b.SetInsertBlock(entry)
	b.CreateSwitch(fn.Arguments()[0], def, []SwitchCase{{ctx.ConstantInt(32, 1), one}})
	b.SetInsertBlock(def)
	b.CreateRet(ctx.ConstantInt(32, 0))
	b.SetInsertBlock(one)
	b.CreateRet(ctx.ConstantInt(32, 1))

	text := PrintToString(unit)
	assert.Contains(t, text, "switch ")
	assert.Contains(t, text, "1 -> one")
	assert.True(t, strings.Contains(text, "default"))
}
