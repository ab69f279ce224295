package isel

import (
	"forge/internal/ir"
	"forge/internal/mir"
)

// Emitter is the selection engine's surface exposed to pattern emitters:
// it resolves DAG nodes to MIR operands, forcing earlier chain nodes to
// emit first so program-order side effects are preserved.
type Emitter interface {
	EmitOrGet(n Node, block *mir.Block) (mir.Operand, error)
	// MIRBlock maps a block DAG root to its machine block.
	MIRBlock(root *Root) *mir.Block
}

// MatcherFunc accepts or rejects a node for one pattern.
type MatcherFunc func(n Node) bool

// EmitterFunc appends machine instructions for a matched node and returns
// the operand carrying its result (nil for void sinks).
type EmitterFunc func(n Node, block *mir.Block, e Emitter) (mir.Operand, error)

// Pattern couples a matcher with its emitter. CoveredOperands lists the
// operand indices the pattern consumes inline, so their subtree cost is
// not added during selection.
type Pattern struct {
	Name            string
	Match           MatcherFunc
	Emit            EmitterFunc
	Cost            uint32
	CoveredOperands []int
	MinOptLevel     ir.OptimizationLevel
}

// PatternSet maps node kinds to their candidate patterns in insertion
// order; earlier entries win cost ties.
type PatternSet map[NodeKind][]Pattern

// Add appends a pattern for every listed kind.
func (ps PatternSet) Add(p Pattern, kinds ...NodeKind) {
	for _, k := range kinds {
		ps[k] = append(ps[k], p)
	}
}
