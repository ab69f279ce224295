// Package targets wires every built-in back-end into a registry.
package targets

import (
	"forge/internal/ir"
	"forge/internal/target"
	"forge/internal/target/aarch64"
	"forge/internal/target/x64"
)

// NewRegistry returns a registry with all supported (arch, os) pairs.
func NewRegistry() *target.Registry {
	r := target.NewRegistry()

	x64Factory := func(spec target.Specification, ctx *ir.Context) target.TargetMachine {
		return x64.NewMachine(spec, ctx)
	}
	a64Factory := func(spec target.Specification, ctx *ir.Context) target.TargetMachine {
		return aarch64.NewMachine(spec, ctx)
	}

	r.Register(target.Specification{Arch: target.X8664, OS: target.Linux}, x64Factory)
	r.Register(target.Specification{Arch: target.X8664, OS: target.Windows}, x64Factory)
	r.Register(target.Specification{Arch: target.AArch64, OS: target.Linux}, a64Factory)
	r.Register(target.Specification{Arch: target.AArch64, OS: target.Darwin}, a64Factory)
	return r
}
