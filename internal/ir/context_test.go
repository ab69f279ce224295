package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeInterning(t *testing.T) {
	ctx := NewContext()

	assert.Same(t, ctx.I32Type(), ctx.IntType(32))
	assert.Same(t, ctx.F64Type(), ctx.FloatType(64))
	assert.Same(t, ctx.Void(), ctx.Void())

	p1 := ctx.PointerType(ctx.I32Type())
	p2 := ctx.PointerType(ctx.I32Type())
	assert.Same(t, p1, p2)
	assert.NotSame(t, p1, ctx.PointerType(ctx.I64Type()))

	a1 := ctx.ArrayType(ctx.I8Type(), 16)
	a2 := ctx.ArrayType(ctx.I8Type(), 16)
	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, ctx.ArrayType(ctx.I8Type(), 17))

	s1 := ctx.StructType("pair", []Type{ctx.I64Type(), ctx.I64Type()})
	s2 := ctx.StructType("pair", []Type{ctx.I64Type(), ctx.I64Type()})
	assert.Same(t, s1, s2)

	f1 := ctx.FunctionType(ctx.I32Type(), []Type{ctx.I32Type()}, false)
	f2 := ctx.FunctionType(ctx.I32Type(), []Type{ctx.I32Type()}, false)
	assert.Same(t, f1, f2)
	assert.NotSame(t, f1, ctx.FunctionType(ctx.I32Type(), []Type{ctx.I32Type()}, true))
}

func TestConstantInterning(t *testing.T) {
	ctx := NewContext()

	assert.Same(t, ctx.ConstantInt(32, 7), ctx.ConstantInt(32, 7))
	assert.NotSame(t, ctx.ConstantInt(32, 7), ctx.ConstantInt(64, 7))
	assert.Same(t, ctx.ConstantFloat(64, 3.14), ctx.ConstantFloat(64, 3.14))
	assert.Same(t, ctx.ConstantString("hi"), ctx.ConstantString("hi"))
	assert.Same(t, ctx.Undef(ctx.I32Type()), ctx.Undef(ctx.I32Type()))
	assert.Same(t, ctx.Null(ctx.PointerType(ctx.I8Type())), ctx.Null(ctx.PointerType(ctx.I8Type())))
}

func TestStructTypeUpdateRehashes(t *testing.T) {
	ctx := NewContext()

	forward := ctx.StructType("node", nil)
	ctx.UpdateStructType(forward, []Type{ctx.I64Type(), ctx.PointerType(ctx.I8Type())})

	again := ctx.StructType("node", []Type{ctx.I64Type(), ctx.PointerType(ctx.I8Type())})
	require.Same(t, forward, again)
	assert.Len(t, forward.Fields, 2)
}

func TestZeroInitializer(t *testing.T) {
	ctx := NewContext()
	layout := testLayout{}

	zero := ZeroInitializer(ctx.I32Type(), layout, ctx)
	require.IsType(t, &ConstantInt{}, zero)
	assert.Equal(t, int64(0), zero.(*ConstantInt).Value)

	st := ctx.StructType("p", []Type{ctx.I64Type(), ctx.F64Type()})
	zs := ZeroInitializer(st, layout, ctx)
	require.IsType(t, &ConstantStruct{}, zs)
	assert.Len(t, zs.(*ConstantStruct).Values, 2)
}

// testLayout is a minimal layout for tests that only need sizes.
type testLayout struct{}

func (testLayout) PointerSize() int { return 8 }

func (l testLayout) Size(t Type) int {
	switch t := t.(type) {
	case *IntType:
		if t.Bits < 8 {
			return 1
		}
		return int(t.Bits) / 8
	case *FloatType:
		return int(t.Bits) / 8
	case *PointerType, *FuncType:
		return 8
	case *StructType:
		size := 0
		for _, f := range t.Fields {
			size += l.Size(f)
		}
		return size
	case *ArrayType:
		return int(t.Len) * l.Size(t.Elem)
	}
	return 0
}

func (l testLayout) Alignment(t Type) int {
	if IsStruct(t) || IsArray(t) {
		return 8
	}
	return l.Size(t)
}
