package irtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/ir"
)

const fibSource = `
fn @fib(%n : i32) : i32 {
entry:
    %c = icmp.lt %n, 2
    br %c, base, rec
base:
    ret %n
rec:
    %a = sub %n, 1
    %r1 = call @fib(%a)
    %b = sub %n, 2
    %r2 = call @fib(%b)
    %s = add %r1, %r2
    ret %s
}
`

func TestParseFib(t *testing.T) {
	ctx := ir.NewContext()
	unit, err := Parse(ctx, "fib.fir", fibSource)
	require.NoError(t, err)

	fn := unit.Function("fib")
	require.NotNil(t, fn)
	assert.Len(t, fn.Blocks(), 3)
	assert.Len(t, fn.Arguments(), 1)
	assert.Equal(t, "i32", fn.FunctionType().Return.String())
	require.NoError(t, ir.Verify(fn))
}

func TestParseMemoryAndTypes(t *testing.T) {
	source := `
global @seed : i64 = 7 : i64

fn @inc() : i64 {
entry:
    %p = alloca i64
    store %p, 1
    %v = load %p
    %w = add %v, 41
    ret %w
}
`
	ctx := ir.NewContext()
	unit, err := Parse(ctx, "inc.fir", source)
	require.NoError(t, err)

	require.Len(t, unit.Globals(), 1)
	assert.Equal(t, "seed", unit.Globals()[0].Name())

	fn := unit.Function("inc")
	require.NotNil(t, fn)
	require.Len(t, fn.Allocations(), 1)
	require.NoError(t, ir.Verify(fn))
}

func TestParsePhiAndSwitch(t *testing.T) {
	source := `
fn @pick(%x : i32) : i32 {
entry:
    switch %x, fallback [0 -> a, 1 -> b]
a:
    br join
b:
    br join
fallback:
    br join
join:
    %r = phi i32 [10, a], [20, b], [0, fallback]
    ret %r
}
`
	ctx := ir.NewContext()
	unit, err := Parse(ctx, "pick.fir", source)
	require.NoError(t, err)

	fn := unit.Function("pick")
	require.NotNil(t, fn)
	require.NoError(t, ir.Verify(fn))

	join := fn.Blocks()[len(fn.Blocks())-1]
	phi := join.Instructions()[0]
	require.Equal(t, ir.OpPhi, phi.Op())
	assert.Len(t, phi.Incomings(), 3)
}

func TestParseDeclareAndFloat(t *testing.T) {
	source := `
declare @sink(%x : f64) : void

fn @feed(%x : f32) : f64 {
entry:
    %c = fpext %x to f64
    ret %c
}
`
	ctx := ir.NewContext()
	unit, err := Parse(ctx, "feed.fir", source)
	require.NoError(t, err)
	require.NotNil(t, unit.Function("feed"))

	sink := unit.Function("sink")
	require.NotNil(t, sink)
	assert.False(t, sink.HasBody())
}

func TestParseRoundTrip(t *testing.T) {
	ctx := ir.NewContext()
	unit, err := Parse(ctx, "fib.fir", fibSource)
	require.NoError(t, err)

	printed := ir.PrintToString(unit)
	reparsed, err := Parse(ir.NewContext(), "fib2.fir", printed)
	require.NoError(t, err)
	assert.Equal(t, printed, ir.PrintToString(reparsed))
}

func TestParseSyntaxError(t *testing.T) {
	ctx := ir.NewContext()
	_, err := Parse(ctx, "bad.fir", "fn @broken( : i32 {")
	require.Error(t, err)
}
