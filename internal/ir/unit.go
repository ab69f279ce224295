package ir

import "fmt"

// OptimizationLevel gates the optional IR pass set and pattern selection.
type OptimizationLevel int

const (
	O0 OptimizationLevel = iota
	O1
	O2
)

// Unit is a translation unit: it owns functions and global variables and
// shares one Context with every value it holds.
type Unit struct {
	name        string
	ctx         *Context
	functions   []*Function
	globals     []*GlobalVariable
	symbolTable map[string]Value
	layout      DataLayout
}

func NewUnit(name string, ctx *Context) *Unit {
	return &Unit{
		name:        name,
		ctx:         ctx,
		symbolTable: make(map[string]Value),
	}
}

func (u *Unit) Name() string { return u.name }
func (u *Unit) Context() *Context { return u.ctx }
func (u *Unit) Functions() []*Function { return u.functions }
func (u *Unit) Globals() []*GlobalVariable { return u.globals }
func (u *Unit) DataLayout() DataLayout { return u.layout }
func (u *Unit) SetDataLayout(l DataLayout) { u.layout = l }

// GetOrInsertFunction returns the function with the given name, creating
// it (without a body) when missing.
func (u *Unit) GetOrInsertFunction(name string, fnType *FuncType, linkage Linkage) *Function {
	if name == "" {
		return nil
	}
	if v, ok := u.symbolTable[name]; ok {
		return v.(*Function)
	}
	fn := newFunction(name, fnType, linkage)
	fn.unit = u
	u.functions = append(u.functions, fn)
	u.symbolTable[name] = fn
	return fn
}

func (u *Unit) Function(name string) *Function {
	if v, ok := u.symbolTable[name]; ok {
		if fn, ok := v.(*Function); ok {
			return fn
		}
	}
	return nil
}

// GetOrInsertGlobal creates a global variable holding init, which may be
// nil for external declarations.
func (u *Unit) GetOrInsertGlobal(t Type, init Value, linkage Linkage, name string) *GlobalVariable {
	if name == "" {
		name = fmt.Sprintf("global%d", len(u.globals))
	}
	if v, ok := u.symbolTable[name]; ok {
		return v.(*GlobalVariable)
	}
	g := &GlobalVariable{
		valueBase: valueBase{name: name, typ: u.ctx.PointerType(t), kind: GlobalVariableKind},
		Init:      init,
		Linkage:   linkage,
	}
	u.globals = append(u.globals, g)
	u.symbolTable[name] = g
	return g
}

// CreateGlobalString adds a new internal global holding value as a
// NUL-terminated string. The string constant is interned; the global is
// not, so every call adds another global.
func (u *Unit) CreateGlobalString(value string) *GlobalVariable {
	c := u.ctx.ConstantString(value)
	return u.GetOrInsertGlobal(c.Type(), c, InternalLinkage, "")
}

// InstructionCount sums instructions over every function.
func (u *Unit) InstructionCount() int {
	n := 0
	for _, fn := range u.functions {
		n += fn.InstructionCount()
	}
	return n
}
