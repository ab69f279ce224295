package codegen

import (
	"forge/internal/ir"
	"forge/internal/mir"
	"forge/internal/target"

	"github.com/tliron/commonlog"
)

// unitInit is implemented by passes that need unit-wide set-up before
// their per-function runs.
type unitInit interface {
	InitUnit(unit *ir.Unit) error
}

// unitFinish is implemented by passes with unit-wide work after their
// per-function runs (e.g. emitting globals).
type unitFinish interface {
	FinishUnit(unit *ir.Unit) error
}

type run struct {
	fnPasses      []target.FunctionPass
	machinePasses []target.MachineFunctionPass
	repeat        bool
}

// PassManager schedules IR and machine passes serially over one unit.
// One function is fully processed by a run group before the next group
// starts; there is no internal concurrency.
type PassManager struct {
	runs    []run
	machine map[*ir.Function]*mir.Function
	order   []*mir.Function
	log     commonlog.Logger
}

func NewPassManager() *PassManager {
	return &PassManager{
		machine: make(map[*ir.Function]*mir.Function),
		log:     commonlog.GetLogger("forge.passes"),
	}
}

func (pm *PassManager) AddFunctionPasses(repeat bool, passes ...target.FunctionPass) {
	pm.runs = append(pm.runs, run{fnPasses: passes, repeat: repeat})
}

func (pm *PassManager) AddMachinePasses(passes ...target.MachineFunctionPass) {
	pm.runs = append(pm.runs, run{machinePasses: passes})
}

// RegisterMachineFunction records the machine function lowered from fn so
// later machine passes can iterate it.
func (pm *PassManager) RegisterMachineFunction(fn *ir.Function, machine *mir.Function) {
	if _, ok := pm.machine[fn]; !ok {
		pm.order = append(pm.order, machine)
	}
	pm.machine[fn] = machine
}

func (pm *PassManager) MachineFunction(fn *ir.Function) *mir.Function { return pm.machine[fn] }
func (pm *PassManager) MachineFunctions() []*mir.Function { return pm.order }

// Run executes every scheduled run group in order. Function-pass groups
// marked repeat iterate until a full sweep changes nothing.
func (pm *PassManager) Run(unit *ir.Unit) error {
	for _, r := range pm.runs {
		if len(r.fnPasses) > 0 {
			if err := pm.runFunctionPasses(unit, r); err != nil {
				return err
			}
		}
		for _, pass := range r.machinePasses {
			if init, ok := pass.(unitInit); ok {
				if err := init.InitUnit(unit); err != nil {
					return err
				}
			}
			for _, fn := range pm.order {
				pm.log.Debugf("running %s on %s", pass.PassName(), fn.Name)
				if _, err := pass.RunOnMachineFunction(fn); err != nil {
					return err
				}
			}
			if finish, ok := pass.(unitFinish); ok {
				if err := finish.FinishUnit(unit); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (pm *PassManager) runFunctionPasses(unit *ir.Unit, r run) error {
	for {
		changed := false
		for _, pass := range r.fnPasses {
			if init, ok := pass.(unitInit); ok {
				if err := init.InitUnit(unit); err != nil {
					return err
				}
			}
			for _, fn := range unit.Functions() {
				if !fn.HasBody() {
					continue
				}
				pm.log.Debugf("running %s on %s", pass.PassName(), fn.Name())
				passChanged, err := pass.RunOnFunction(fn)
				if err != nil {
					return err
				}
				changed = changed || passChanged
			}
		}
		if !r.repeat || !changed {
			return nil
		}
	}
}
