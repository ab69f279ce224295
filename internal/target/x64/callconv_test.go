package x64

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/ir"
	"forge/internal/mir"
	"forge/internal/target"
)

// analyze classifies a synthetic call with the given return and
// parameter types.
func analyze(t *testing.T, cc target.CCFunc, ret ir.Type, params ...ir.Type) *target.CallInfo {
	t.Helper()
	info := target.NewCallInfo(NewRegisterInfo(), DataLayout{})
	call := mir.NewInstruction(mir.CallLowerOp)
	call.Types = append([]ir.Type{ret}, params...)
	info.AnalyzeCallOperands(cc, call)
	return info
}

func TestSysVIntegerArguments(t *testing.T) {
	ctx := ir.NewContext()
	info := analyze(t, CCSysV, ctx.Void(), ctx.I64Type(), ctx.I64Type(), ctx.I32Type())

	assigns := info.ArgAssigns()
	require.Len(t, assigns, 3)
	assert.Equal(t, uint32(RDI), assigns[0].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(RSI), assigns[1].(*target.RegisterAssign).Register)
	// a 32-bit value rides in the sub-register alias
	assert.Equal(t, uint32(EDX), assigns[2].(*target.RegisterAssign).Register)
}

func TestSysVFloatsUseVectorRegisters(t *testing.T) {
	ctx := ir.NewContext()
	info := analyze(t, CCSysV, ctx.Void(), ctx.F64Type(), ctx.I64Type(), ctx.F64Type())

	assigns := info.ArgAssigns()
	require.Len(t, assigns, 3)
	assert.Equal(t, uint32(XMM0), assigns[0].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(RDI), assigns[1].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(XMM1), assigns[2].(*target.RegisterAssign).Register)
}

func TestSysVSpillsToStackAfterSixIntegers(t *testing.T) {
	ctx := ir.NewContext()
	params := []ir.Type{}
	for i := 0; i < 7; i++ {
		params = append(params, ctx.I64Type())
	}
	info := analyze(t, CCSysV, ctx.Void(), params...)

	assigns := info.ArgAssigns()
	require.Len(t, assigns, 7)
	_, isReg := assigns[5].(*target.RegisterAssign)
	assert.True(t, isReg)
	_, isStack := assigns[6].(*target.StackAssign)
	assert.True(t, isStack)
}

func TestSysVPairStructReturn(t *testing.T) {
	ctx := ir.NewContext()
	pair := ctx.StructType("pair", []ir.Type{ctx.I64Type(), ctx.I64Type()})
	info := analyze(t, CCSysV, pair)

	rets := info.RetAssigns()
	require.Len(t, rets, 2)
	assert.Equal(t, uint32(RAX), rets[0].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(RDX), rets[1].(*target.RegisterAssign).Register)
}

func TestWin64MirrorPositions(t *testing.T) {
	ctx := ir.NewContext()
	// float at position 2 consumes xmm2, not xmm0
	info := analyze(t, CCWin64, ctx.Void(), ctx.I64Type(), ctx.I64Type(), ctx.F64Type(), ctx.I64Type())

	assigns := info.ArgAssigns()
	require.Len(t, assigns, 4)
	assert.Equal(t, uint32(RCX), assigns[0].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(RDX), assigns[1].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(XMM2), assigns[2].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(R9), assigns[3].(*target.RegisterAssign).Register)
}

func TestWin64SmallAggregateReturn(t *testing.T) {
	ctx := ir.NewContext()
	pair := ctx.StructType("pair", []ir.Type{ctx.I64Type(), ctx.I64Type()})
	info := analyze(t, CCWin64, pair)

	rets := info.RetAssigns()
	require.Len(t, rets, 2)
	assert.Equal(t, uint32(RAX), rets[0].(*target.RegisterAssign).Register)
	assert.Equal(t, uint32(RDX), rets[1].(*target.RegisterAssign).Register)
}
