package target

import (
	"forge/internal/ir"
	"forge/internal/mir"
)

// ArgAssign places one argument either in a register (possibly a narrow
// sub-register alias) or on the stack.
type ArgAssign interface {
	isArgAssign()
}

type RegisterAssign struct {
	Register uint32
	Size     int
}

func (*RegisterAssign) isArgAssign() {}

type StackAssign struct{}

func (*StackAssign) isArgAssign() {}

// CCFunc classifies a parameter list under one calling convention. The
// type at index 0 is the return type.
type CCFunc func(info *CallInfo, types []ir.Type, isVarArg bool)

// CallInfo is the result of calling-convention analysis: one assignment
// per parameter plus the return placements (several registers for small
// aggregates).
type CallInfo struct {
	args []ArgAssign
	rets []ArgAssign

	regInfo RegisterInfo
	layout  ir.DataLayout
}

func NewCallInfo(regInfo RegisterInfo, layout ir.DataLayout) *CallInfo {
	return &CallInfo{regInfo: regInfo, layout: layout}
}

func (c *CallInfo) RegisterInfo() RegisterInfo { return c.regInfo }
func (c *CallInfo) DataLayout() ir.DataLayout { return c.layout }

func (c *CallInfo) SetArgAssign(index int, assign ArgAssign) { c.args[index] = assign }
func (c *CallInfo) AddRetAssign(assign ArgAssign) { c.rets = append(c.rets, assign) }

func (c *CallInfo) ArgAssigns() []ArgAssign { return c.args }
func (c *CallInfo) RetAssigns() []ArgAssign { return c.rets }

// AnalyzeCallOperands classifies an outgoing call's operand types.
func (c *CallInfo) AnalyzeCallOperands(fn CCFunc, call *mir.Instruction) {
	c.args = make([]ArgAssign, len(call.Types)-1)
	c.rets = nil
	fn(c, call.Types, call.IsVarArg)
}

// AnalyzeFormalArgs classifies a function's own parameters.
func (c *CallInfo) AnalyzeFormalArgs(fn CCFunc, f *mir.Function) {
	ft := f.IRFunction().FunctionType()
	types := append([]ir.Type{ft.Return}, ft.Params...)
	c.args = make([]ArgAssign, len(types)-1)
	c.rets = nil
	fn(c, types, ft.Variadic)
}
