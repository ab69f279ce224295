package target

import (
	"forge/internal/errors"
	"forge/internal/ir"
)

// MachineFactory builds a target machine bound to a context.
type MachineFactory func(spec Specification, ctx *ir.Context) TargetMachine

// Registry maps (arch, os) pairs to back-end factories.
type Registry struct {
	factories map[Specification]MachineFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[Specification]MachineFactory)}
}

func (r *Registry) Register(spec Specification, factory MachineFactory) {
	r.factories[spec] = factory
}

// Machine instantiates the back-end for spec, or reports TargetMissing.
func (r *Registry) Machine(spec Specification, ctx *ir.Context) (TargetMachine, error) {
	factory, ok := r.factories[spec]
	if !ok {
		return nil, errors.NewTargetMissing("no target registered for %s", spec)
	}
	return factory(spec, ctx), nil
}

// Specifications lists every registered pair.
func (r *Registry) Specifications() []Specification {
	var specs []Specification
	for s := range r.factories {
		specs = append(specs, s)
	}
	return specs
}
