package aarch64

import (
	"io"

	"forge/internal/codegen"
	"forge/internal/errors"
	"forge/internal/ir"
	"forge/internal/mir"
	"forge/internal/target"
)

// DataLayout is the AArch64 sizing model: 8-byte pointers, aggregates
// laid out back to back.
type DataLayout struct{}

func (DataLayout) PointerSize() int { return 8 }

func (l DataLayout) Size(t ir.Type) int {
	switch t := t.(type) {
	case *ir.IntType:
		if t.Bits < 8 {
			return 1
		}
		return int(t.Bits) / 8
	case *ir.FloatType:
		return int(t.Bits) / 8
	case *ir.PointerType, *ir.FuncType:
		return l.PointerSize()
	case *ir.VoidType:
		return 0
	case *ir.StructType:
		size := 0
		for _, f := range t.Fields {
			size += l.Size(f)
		}
		return size
	case *ir.ArrayType:
		return int(t.Len) * l.Size(t.Elem)
	}
	return 0
}

func (l DataLayout) Alignment(t ir.Type) int {
	switch t := t.(type) {
	case *ir.IntType:
		if t.Bits < 8 {
			return 1
		}
		return int(t.Bits) / 8
	case *ir.FloatType:
		return int(t.Bits) / 8
	case *ir.PointerType, *ir.FuncType:
		return l.PointerSize()
	case *ir.StructType, *ir.ArrayType:
		return 8
	}
	return 0
}

// Machine is the AArch64 back-end for one (arch, os) pair.
type Machine struct {
	spec      target.Specification
	ctx       *ir.Context
	layout    DataLayout
	regInfo   *RegisterInfo
	instrInfo *InstructionInfo
	pool      *mir.Pool
}

func NewMachine(spec target.Specification, ctx *ir.Context) *Machine {
	m := &Machine{spec: spec, ctx: ctx, pool: mir.NewPool()}
	m.regInfo = NewRegisterInfo()
	m.instrInfo = NewInstructionInfo(m.regInfo, m.layout, m.pool, ctx)
	return m
}

func (m *Machine) Specification() target.Specification { return m.spec }
func (m *Machine) DataLayout() ir.DataLayout { return m.layout }
func (m *Machine) RegisterInfo() target.RegisterInfo { return m.regInfo }
func (m *Machine) InstructionInfo() target.InstructionInfo {
	return m.instrInfo
}

func (m *Machine) AddPassesForCodeGeneration(pm target.PassManager, output io.Writer, fileType target.FileType, level ir.OptimizationLevel) error {
	if fileType == target.ObjectFile {
		return errors.NewUnsupportedOp("", "object file emission; assemble the textual output instead")
	}

	if level >= ir.O1 {
		pm.AddFunctionPasses(true,
			ir.NewFunctionInlining(),
			ir.NewMem2Reg(m.ctx),
			ir.NewDeadCodeElimination(),
			ir.NewCFGSimplification(),
			ir.NewConstantFolder(m.ctx),
		)
	}

	pm.AddFunctionPasses(false,
		codegen.NewISelPass(pm, m.instrInfo, m.regInfo, m.layout, m.ctx, level),
	)
	pm.AddMachinePasses(
		NewLowering(m.regInfo, m.instrInfo, m.layout, m.spec, level, m.pool),
		codegen.NewGraphColorRegalloc(m.layout, m.instrInfo, m.regInfo),
		NewSaveCallRegisters(m.regInfo, m.instrInfo, m.pool),
		NewAsmPrinter(output, m.instrInfo, m.regInfo, m.layout, m.spec),
	)
	return nil
}
