package mir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackFrameOffsets(t *testing.T) {
	var frame StackFrame

	first := frame.AddStackSlot(4, 4)
	assert.Equal(t, int64(4), first.Offset)

	second := frame.AddStackSlot(8, 8)
	assert.Greater(t, second.Offset, first.Offset)

	// caller-frame slots keep their negative offset and do not count
	// towards the local size
	arg := frame.AddStackSlotAt(8, -16, 8)
	assert.Equal(t, int64(-16), arg.Offset)
	sizeBefore := frame.Size()
	assert.Equal(t, sizeBefore, frame.Size())

	assert.Equal(t, 3, frame.NumStackSlots())
	fi := frame.FrameIndexOperand(1)
	assert.Same(t, fi, frame.FrameIndexOperand(1))
}

func TestRegisterOperandEquality(t *testing.T) {
	a := NewRegister(VRegStart, 0)
	b := NewRegister(VRegStart, Force64BitRegister)

	assert.True(t, a.Equals(b, true))
	assert.False(t, a.Equals(b, false))
	assert.False(t, a.Equals(NewRegister(VRegStart+1, 0), true))

	imm1 := NewImmediateInt(5, Imm32)
	imm2 := NewImmediateInt(5, Imm32)
	assert.True(t, imm1.Equals(imm2, true))
	assert.False(t, imm1.Equals(NewImmediateInt(5, Imm8), true))
	assert.False(t, imm1.Equals(a, true))
}

func TestImmSizeFromValue(t *testing.T) {
	assert.Equal(t, Imm8, ImmSizeFromValue(100))
	assert.Equal(t, Imm8, ImmSizeFromValue(-128))
	assert.Equal(t, Imm16, ImmSizeFromValue(1000))
	assert.Equal(t, Imm32, ImmSizeFromValue(1<<20))
	assert.Equal(t, Imm64, ImmSizeFromValue(1<<40))
}

func TestVirtualRegisterInfo(t *testing.T) {
	ri := newRegisterInfo()

	first := ri.NextVirtualRegister(2, nil)
	second := ri.NextVirtualRegister(3, nil)
	require.Equal(t, VRegStart, first)
	require.Equal(t, VRegStart+1, second)

	assert.Equal(t, uint32(2), ri.VirtualRegisterInfo(first).Class)
	assert.Equal(t, uint32(3), ri.VirtualRegisterInfo(second).Class)
	assert.Equal(t, 2, ri.NumVirtualRegisters())
}

func TestLiveRangeOverlap(t *testing.T) {
	a := LiveRange{Start: 0, End: 4}
	b := LiveRange{Start: 4, End: 8}
	c := LiveRange{Start: 5, End: 9}

	assert.True(t, a.Overlaps(b))
	assert.False(t, a.Overlaps(c))
	assert.True(t, b.Overlaps(c))
}

func TestRegisterLiveness(t *testing.T) {
	ri := newRegisterInfo()
	ri.AddLiveRange(7, LiveRange{Start: 2, End: 6})

	same := func(a, b uint32) bool { return a == b }
	assert.True(t, ri.IsRegisterLive(4, 7, same))
	assert.False(t, ri.IsRegisterLive(8, 7, same))
	assert.True(t, ri.IsRegisterEverLive(7, same))
	assert.False(t, ri.IsRegisterEverLive(9, same))
}

func TestImmediatePool(t *testing.T) {
	pool := NewPool()
	assert.Same(t, pool.Imm(1, Imm32), pool.Imm(1, Imm32))
	assert.NotSame(t, pool.Imm(1, Imm32), pool.Imm(1, Imm8))
	assert.NotSame(t, pool.Imm(1, Imm32), pool.ImmWithFlags(1, Imm32, Force64BitRegister))
}

func TestPseudoOpcodes(t *testing.T) {
	assert.True(t, IsPseudoOp(CallLowerOp))
	assert.True(t, IsPseudoOp(PhiLowerOp))
	assert.False(t, IsPseudoOp(0))

	ins := NewInstruction(SwitchLowerOp, NewImmediateInt(0, Imm32), NewBlock("d", nil))
	ins.AddOperand(NewImmediateInt(1, Imm32))
	ins.AddOperand(NewBlock("one", nil))
	require.Len(t, ins.SwitchTargets(), 1)
	assert.Equal(t, int64(1), ins.SwitchTargets()[0].Value.Value)
}
