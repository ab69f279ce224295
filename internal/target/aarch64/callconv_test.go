package aarch64

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/ir"
	"forge/internal/mir"
	"forge/internal/target"
)

func analyze(t *testing.T, ret ir.Type, params ...ir.Type) *target.CallInfo {
	t.Helper()
	info := target.NewCallInfo(NewRegisterInfo(), DataLayout{})
	call := mir.NewInstruction(mir.CallLowerOp)
	call.Types = append([]ir.Type{ret}, params...)
	info.AnalyzeCallOperands(CCAAPCS64, call)
	return info
}

func TestAAPCS64IntegerArguments(t *testing.T) {
	ctx := ir.NewContext()
	info := analyze(t, ctx.Void(), ctx.I64Type(), ctx.I32Type(), ctx.I64Type())

	assigns := info.ArgAssigns()
	require.Len(t, assigns, 3)
	assert.Equal(t, uint32(X0), assigns[0].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(W1), assigns[1].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(X2), assigns[2].(*target.RegisterAssign).Register)
}

func TestAAPCS64FloatArguments(t *testing.T) {
	ctx := ir.NewContext()
	info := analyze(t, ctx.Void(), ctx.F64Type(), ctx.I64Type(), ctx.F32Type())

	assigns := info.ArgAssigns()
	require.Len(t, assigns, 3)
	assert.Equal(t, uint32(D0), assigns[0].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(X0), assigns[1].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(S1), assigns[2].(*target.RegisterAssign).Register)
}

func TestAAPCS64StackAfterEightRegisters(t *testing.T) {
	ctx := ir.NewContext()
	var params []ir.Type
	for i := 0; i < 9; i++ {
		params = append(params, ctx.I64Type())
	}
	info := analyze(t, ctx.Void(), params...)

	assigns := info.ArgAssigns()
	require.Len(t, assigns, 9)
	_, isReg := assigns[7].(*target.RegisterAssign)
	assert.True(t, isReg)
	_, isStack := assigns[8].(*target.StackAssign)
	assert.True(t, isStack)
}

func TestAAPCS64SmallStructReturn(t *testing.T) {
	ctx := ir.NewContext()
	pair := ctx.StructType("pair", []ir.Type{ctx.I64Type(), ctx.I64Type()})
	info := analyze(t, pair)

	rets := info.RetAssigns()
	require.Len(t, rets, 2)
	assert.Equal(t, uint32(X0), rets[0].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(X1), rets[1].(*target.RegisterAssign).Register)

	single := ctx.StructType("one", []ir.Type{ctx.I64Type()})
	info = analyze(t, single)
	require.Len(t, info.RetAssigns(), 1)
}

func TestAArch64RegisterAliases(t *testing.T) {
	ri := NewRegisterInfo()

	assert.True(t, ri.IsSameRegister(X0, W0))
	assert.False(t, ri.IsSameRegister(X0, X1))
	assert.True(t, ri.IsSameRegister(D4, S4))
	assert.Equal(t, uint32(X7), ri.CanonicalRegister(W7))

	w5, ok := ri.RegisterWithSize(X5, 4)
	assert.True(t, ok)
	assert.Equal(t, uint32(W5), w5)
}

func TestImmediateMaterialization(t *testing.T) {
	ctx := ir.NewContext()
	pool := mir.NewPool()
	regInfo := NewRegisterInfo()
	info := NewInstructionInfo(regInfo, DataLayout{}, pool, ctx)

	irFn := ir.NewUnit("u", ctx).GetOrInsertFunction("f", ctx.FunctionType(ctx.Void(), nil, false), ir.ExternalLinkage)
	fn := mir.NewFunction("f", irFn)
	block := mir.NewBlock("entry", nil)
	fn.AddBlock(block)

	_, count := info.MaterializeImmediate(block, 0, 7, 4)
	assert.Equal(t, 1, count) // a single movz

	_, count = info.MaterializeImmediate(block, block.Last(), 0x12345678, 4)
	assert.Equal(t, 2, count) // movz + movk

	_, count = info.MaterializeImmediate(block, block.Last(), -8, 8)
	assert.Equal(t, 1, count) // movn covers small negatives
}
