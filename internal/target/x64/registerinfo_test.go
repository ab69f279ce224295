package x64

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"forge/internal/ir"
)

func TestRegisterAliases(t *testing.T) {
	ri := NewRegisterInfo()

	assert.True(t, ri.IsSameRegister(RAX, EAX))
	assert.True(t, ri.IsSameRegister(AL, RAX))
	assert.False(t, ri.IsSameRegister(RAX, RBX))
	assert.False(t, ri.IsSameRegister(RAX, XMM0))

	assert.Equal(t, uint32(RAX), ri.CanonicalRegister(AL))
	assert.Equal(t, uint32(RAX), ri.CanonicalRegister(RAX))
	assert.Equal(t, uint32(XMM3), ri.CanonicalRegister(XMM3))
}

func TestRegisterWithSize(t *testing.T) {
	ri := NewRegisterInfo()

	eax, ok := ri.RegisterWithSize(RAX, 4)
	assert.True(t, ok)
	assert.Equal(t, uint32(EAX), eax)

	al, ok := ri.RegisterWithSize(RAX, 1)
	assert.True(t, ok)
	assert.Equal(t, uint32(AL), al)

	same, ok := ri.RegisterWithSize(RDI, 8)
	assert.True(t, ok)
	assert.Equal(t, uint32(RDI), same)
}

func TestClassFromType(t *testing.T) {
	ri := NewRegisterInfo()
	ctx := ir.NewContext()

	assert.Equal(t, GPR8, ri.ClassFromType(ctx.I1Type()))
	assert.Equal(t, GPR8, ri.ClassFromType(ctx.I8Type()))
	assert.Equal(t, GPR32, ri.ClassFromType(ctx.I32Type()))
	assert.Equal(t, GPR64, ri.ClassFromType(ctx.I64Type()))
	assert.Equal(t, GPR64, ri.ClassFromType(ctx.PointerType(ctx.I8Type())))
	assert.Equal(t, FPR, ri.ClassFromType(ctx.F32Type()))
	assert.Equal(t, FPR, ri.ClassFromType(ctx.F64Type()))
}

func TestReservedNotAvailable(t *testing.T) {
	ri := NewRegisterInfo()
	for _, class := range []uint32{GPR64, GPR32, GPR16, GPR8, FPR} {
		for _, reserved := range ri.Reserved(class) {
			for _, avail := range ri.Available(class) {
				assert.NotEqual(t, reserved, avail)
			}
		}
	}
}

func TestClassOverlap(t *testing.T) {
	ri := NewRegisterInfo()
	assert.True(t, ri.ClassesOverlap(GPR64, GPR32))
	assert.True(t, ri.ClassesOverlap(GPR8, GPR64))
	assert.False(t, ri.ClassesOverlap(GPR64, FPR))
	assert.True(t, ri.ClassesOverlap(FPR, FPR))
}
