package target

import (
	"io"

	"forge/internal/ir"
	"forge/internal/mir"
)

// PassManager is the slice of the pass-manager surface targets use to
// schedule their code generation pipelines.
type PassManager interface {
	AddFunctionPasses(repeat bool, passes ...FunctionPass)
	AddMachinePasses(passes ...MachineFunctionPass)
	// RegisterMachineFunction records the machine function lowered from
	// fn; machine passes iterate the registered set in order.
	RegisterMachineFunction(fn *ir.Function, machine *mir.Function)
	MachineFunction(fn *ir.Function) *mir.Function
}

// FunctionPass transforms IR functions.
type FunctionPass interface {
	PassName() string
	RunOnFunction(fn *ir.Function) (bool, error)
}

// MachineFunctionPass transforms machine functions.
type MachineFunctionPass interface {
	PassName() string
	RunOnMachineFunction(fn *mir.Function) (bool, error)
}

// TargetMachine is a configured back-end for one (arch, os) pair.
type TargetMachine interface {
	Specification() Specification
	DataLayout() ir.DataLayout
	RegisterInfo() RegisterInfo
	InstructionInfo() InstructionInfo
	// AddPassesForCodeGeneration schedules the full lowering pipeline,
	// ending in a pass writing the requested file type to output.
	AddPassesForCodeGeneration(pm PassManager, output io.Writer, fileType FileType, level ir.OptimizationLevel) error
}
