package codegen_test

import (
	"bytes"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"forge/internal/codegen"
	"forge/internal/ir"
	"forge/internal/mir"
	"forge/internal/target"
	"forge/internal/targets"
)

var vregPattern = regexp.MustCompile(`v1[0-9]{3}`)

// compile lowers the unit for spec at the given level and returns the
// assembly text plus the final machine functions.
func compile(t *testing.T, ctx *ir.Context, unit *ir.Unit, spec target.Specification, level ir.OptimizationLevel) (string, []*mir.Function) {
	t.Helper()

	machine, err := targets.NewRegistry().Machine(spec, ctx)
	require.NoError(t, err)
	unit.SetDataLayout(machine.DataLayout())

	var out bytes.Buffer
	pm := codegen.NewPassManager()
	require.NoError(t, machine.AddPassesForCodeGeneration(pm, &out, target.AssemblyFile, level))
	require.NoError(t, pm.Run(unit))
	return out.String(), pm.MachineFunctions()
}

func linuxX64() target.Specification {
	return target.Specification{Arch: target.X8664, OS: target.Linux}
}

func linuxA64() target.Specification {
	return target.Specification{Arch: target.AArch64, OS: target.Linux}
}

// checkMachineInvariants asserts what must hold after allocation: no
// pseudo ops left and no virtual registers, including memory base and
// index registers. Block terminators are not checked.
func checkMachineInvariants(t *testing.T, fns []*mir.Function) {
	t.Helper()
	for _, fn := range fns {
		for _, b := range fn.Blocks() {
			for _, ins := range b.Instructions() {
				assert.False(t, mir.IsPseudoOp(ins.Op), "pseudo op survived lowering in %s", fn.Name)
				for _, op := range ins.Operands {
					if reg, ok := op.(*mir.Register); ok {
						assert.True(t, reg.IsPhysical(), "virtual register %d survived allocation in %s", reg.ID, fn.Name)
					}
					if mem, ok := op.(*mir.Memory); ok {
						if mem.Base != nil {
							assert.True(t, mem.Base.IsPhysical())
						}
						if mem.Index != nil {
							assert.True(t, mem.Index.IsPhysical())
						}
					}
				}
			}
		}
	}
}

func buildFib(t *testing.T, ctx *ir.Context) *ir.Unit {
	t.Helper()
	unit := ir.NewUnit("fib", ctx)
	b := ir.NewBuilder(ctx)

	fnType := ctx.FunctionType(ctx.I32Type(), []ir.Type{ctx.I32Type()}, false)
	fn := unit.GetOrInsertFunction("fib", fnType, ir.ExternalLinkage)
	n := fn.Arguments()[0]

	entry := b.CreateBlock(fn, "entry")
	base := b.CreateBlock(fn, "base")
	rec := b.CreateBlock(fn, "rec")

	b.SetInsertBlock(entry)
	slot := b.CreateAlloca(ctx.I32Type(), "slot")
	b.CreateStore(slot, n)
	loaded := b.CreateLoad(slot, "")
	cmp := b.CreateICmpLt(loaded, ctx.ConstantInt(32, 2), "")
	b.CreateCondBr(base, rec, cmp)

	b.SetInsertBlock(base)
	v := b.CreateLoad(slot, "")
	b.CreateRet(v)

	b.SetInsertBlock(rec)
	v1 := b.CreateLoad(slot, "")
	a1 := b.CreateSub(v1, ctx.ConstantInt(32, 1), "")
	r1 := b.CreateCall(fn, []ir.Value{a1}, "")
	v2 := b.CreateLoad(slot, "")
	a2 := b.CreateSub(v2, ctx.ConstantInt(32, 2), "")
	r2 := b.CreateCall(fn, []ir.Value{a2}, "")
	sum := b.CreateAdd(r1, r2, "")
	b.CreateRet(sum)

	require.NoError(t, ir.VerifyUnit(unit))
	return unit
}

func TestCompileFibX64(t *testing.T) {
	ctx := ir.NewContext()
	unit := buildFib(t, ctx)

	out, fns := compile(t, ctx, unit, linuxX64(), ir.O0)
	checkMachineInvariants(t, fns)

	assert.Contains(t, out, "fib:")
	assert.Contains(t, out, "callq fib")
	assert.Contains(t, out, "pushq %rbp")
	assert.Contains(t, out, "retq")
	assert.False(t, vregPattern.MatchString(out), "virtual register leaked into assembly:\n%s", out)
}

func TestCompileFibAArch64(t *testing.T) {
	ctx := ir.NewContext()
	unit := buildFib(t, ctx)

	out, fns := compile(t, ctx, unit, linuxA64(), ir.O0)
	checkMachineInvariants(t, fns)

	assert.Contains(t, out, "fib:")
	assert.Contains(t, out, "bl fib")
	assert.Contains(t, out, "stp x29, x30")
	assert.Contains(t, out, "ret")
	assert.False(t, vregPattern.MatchString(out), "virtual register leaked into assembly:\n%s", out)
}

func buildClassify(t *testing.T, ctx *ir.Context) *ir.Unit {
	t.Helper()
	unit := ir.NewUnit("classify", ctx)
	b := ir.NewBuilder(ctx)

	fn := unit.GetOrInsertFunction("classify", ctx.FunctionType(ctx.I32Type(), []ir.Type{ctx.I32Type()}, false), ir.ExternalLinkage)

	entry := b.CreateBlock(fn, "entry")
	def := b.CreateBlock(fn, "default")
	var cases []ir.SwitchCase
	var caseBlocks []*ir.Block
	for i := 0; i < 5; i++ {
		cb := b.CreateBlock(fn, "")
		caseBlocks = append(caseBlocks, cb)
		cases = append(cases, ir.SwitchCase{Value: ctx.ConstantInt(32, int64(i)), Block: cb})
	}

	b.SetInsertBlock(entry)
	b.CreateSwitch(fn.Arguments()[0], def, cases)
	for i, cb := range caseBlocks {
		b.SetInsertBlock(cb)
		b.CreateRet(ctx.ConstantInt(32, int64(i+1)))
	}
	b.SetInsertBlock(def)
	b.CreateRet(ctx.ConstantInt(32, 0))

	require.NoError(t, ir.VerifyUnit(unit))
	return unit
}

func TestCompileSwitchJumpTableAArch64(t *testing.T) {
	ctx := ir.NewContext()
	unit := buildClassify(t, ctx)

	out, fns := compile(t, ctx, unit, linuxA64(), ir.O1)
	checkMachineInvariants(t, fns)

	// dense cases go through an address table and an indirect branch
	assert.Contains(t, out, ".quad .Lclassify_")
	assert.Contains(t, out, "br x")
	assert.False(t, vregPattern.MatchString(out))
}

func TestCompileSwitchJumpTableX64(t *testing.T) {
	ctx := ir.NewContext()
	unit := buildClassify(t, ctx)

	out, fns := compile(t, ctx, unit, linuxX64(), ir.O0)
	checkMachineInvariants(t, fns)

	assert.Contains(t, out, ".quad .Lclassify_")
	assert.Contains(t, out, "jmp *")
}

func TestCompileSparseSwitchUsesCascade(t *testing.T) {
	ctx := ir.NewContext()
	unit := ir.NewUnit("sparse", ctx)
	b := ir.NewBuilder(ctx)

	fn := unit.GetOrInsertFunction("sparse", ctx.FunctionType(ctx.I32Type(), []ir.Type{ctx.I32Type()}, false), ir.ExternalLinkage)
	entry := b.CreateBlock(fn, "entry")
	def := b.CreateBlock(fn, "default")
	one := b.CreateBlock(fn, "one")
	far := b.CreateBlock(fn, "far")

	b.SetInsertBlock(entry)
	b.CreateSwitch(fn.Arguments()[0], def, []ir.SwitchCase{
		{Value: ctx.ConstantInt(32, 1), Block: one},
		{Value: ctx.ConstantInt(32, 1000), Block: far},
	})
	b.SetInsertBlock(one)
	b.CreateRet(ctx.ConstantInt(32, 1))
	b.SetInsertBlock(far)
	b.CreateRet(ctx.ConstantInt(32, 2))
	b.SetInsertBlock(def)
	b.CreateRet(ctx.ConstantInt(32, 0))

	out, fns := compile(t, ctx, unit, linuxX64(), ir.O0)
	checkMachineInvariants(t, fns)

	// density 2/1000 never builds a table
	assert.NotContains(t, out, ".quad .Lsparse_")
	assert.Contains(t, out, "je ")
}

func buildPairReturn(t *testing.T, ctx *ir.Context) *ir.Unit {
	t.Helper()
	unit := ir.NewUnit("pair", ctx)
	b := ir.NewBuilder(ctx)

	pair := ctx.StructType("pair", []ir.Type{ctx.I64Type(), ctx.I64Type()})
	makePair := unit.GetOrInsertFunction("make_pair", ctx.FunctionType(pair, nil, false), ir.ExternalLinkage)
	entry := b.CreateBlock(makePair, "entry")
	b.SetInsertBlock(entry)
	value := ctx.ConstantStruct(pair, []ir.Value{ctx.ConstantInt(64, 7), ctx.ConstantInt(64, 35)})
	b.CreateRet(value)

	main := unit.GetOrInsertFunction("main", ctx.FunctionType(ctx.I64Type(), nil, false), ir.ExternalLinkage)
	mEntry := b.CreateBlock(main, "entry")
	b.SetInsertBlock(mEntry)
	p := b.CreateCall(makePair, nil, "p")
	first := b.CreateExtractValue(p, 0, "")
	second := b.CreateExtractValue(p, 1, "")
	sum := b.CreateAdd(first, second, "")
	b.CreateRet(sum)

	require.NoError(t, ir.VerifyUnit(unit))
	return unit
}

func TestCompileStructReturnTwoRegisters(t *testing.T) {
	ctx := ir.NewContext()
	unit := buildPairReturn(t, ctx)

	out, fns := compile(t, ctx, unit, linuxX64(), ir.O0)
	checkMachineInvariants(t, fns)

	assert.Contains(t, out, "make_pair:")
	assert.Contains(t, out, "%rax")
	assert.Contains(t, out, "%rdx")
	assert.False(t, vregPattern.MatchString(out))
}

func TestCompileFloatCompareBranch(t *testing.T) {
	ctx := ir.NewContext()
	unit := ir.NewUnit("fcmp", ctx)
	b := ir.NewBuilder(ctx)

	fn := unit.GetOrInsertFunction("f", ctx.FunctionType(ctx.I32Type(), []ir.Type{ctx.F64Type()}, false), ir.ExternalLinkage)
	entry := b.CreateBlock(fn, "entry")
	yes := b.CreateBlock(fn, "yes")
	no := b.CreateBlock(fn, "no")

	b.SetInsertBlock(entry)
	cmp := b.CreateFCmpGt(fn.Arguments()[0], ctx.ConstantFloat(64, 3.14), "")
	b.CreateCondBr(yes, no, cmp)
	b.SetInsertBlock(yes)
	b.CreateRet(ctx.ConstantInt(32, 1))
	b.SetInsertBlock(no)
	b.CreateRet(ctx.ConstantInt(32, 0))

	out, fns := compile(t, ctx, unit, linuxX64(), ir.O0)
	checkMachineInvariants(t, fns)

	assert.Contains(t, out, "ucomisd")
	assert.Contains(t, out, ".LCPI_f_0")
	assert.Contains(t, out, "ja ")
}

func TestCompileSumLoopAtO1(t *testing.T) {
	ctx := ir.NewContext()
	unit := ir.NewUnit("sum", ctx)
	b := ir.NewBuilder(ctx)

	fn := unit.GetOrInsertFunction("sum", ctx.FunctionType(ctx.I32Type(), nil, false), ir.ExternalLinkage)
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
	b.CreateStore(acc, b.CreateAdd(cur, iv, ""))
	b.CreateStore(idx, b.CreateAdd(iv, ctx.ConstantInt(32, 1), ""))
	b.CreateBr(header)

	b.SetInsertBlock(exit)
	b.CreateRet(b.CreateLoad(acc, ""))

	require.NoError(t, ir.VerifyUnit(unit))

	out, fns := compile(t, ctx, unit, linuxX64(), ir.O1)
	checkMachineInvariants(t, fns)

	// promotion removes every stack slot access for the accumulators
	assert.Contains(t, out, "sum:")
	assert.False(t, vregPattern.MatchString(out))
	for _, mfn := range fns {
		assert.Empty(t, mfn.IRFunction().Allocations(), "allocas survived mem2reg")
	}
}

func TestCompileUnknownTargetFails(t *testing.T) {
	ctx := ir.NewContext()
	_, err := targets.NewRegistry().Machine(target.Specification{Arch: target.AArch64, OS: target.Windows}, ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target missing")
}

func TestCalleeSavedAreSavedAroundBody(t *testing.T) {
	ctx := ir.NewContext()
	unit := buildFib(t, ctx)

	out, _ := compile(t, ctx, unit, linuxX64(), ir.O1)
	// at O1 the argument lives in a register across the recursive
	// calls, forcing a callee-saved register save
	if strings.Contains(out, "pushq %rbx") || strings.Contains(out, "pushq %r12") ||
		strings.Contains(out, "pushq %r13") {
		return
	}
	t.Fatalf("expected a callee-saved push in:\n%s", out)
}
