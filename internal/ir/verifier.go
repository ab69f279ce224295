package ir

import (
	"fmt"

	"forge/internal/errors"
)

// Verify checks the structural invariants the back-end relies on and
// returns a BadIR error for the first violation found.
func Verify(fn *Function) error {
	if !fn.HasBody() {
		return nil
	}

	badIR := func(format string, args ...any) error {
		return errors.NewBadIR(fn.Name(), format, args...)
	}

	for _, b := range fn.blocks {
		term := b.Terminator()
		if term == nil {
			return badIR("block %s has no terminator", b.Name())
		}
		if term != b.instructions[len(b.instructions)-1] {
			return badIR("block %s has a terminator before its end", b.Name())
		}
		for _, ins := range b.instructions[:len(b.instructions)-1] {
			if ins.IsTerminator() {
				return badIR("block %s has more than one terminator", b.Name())
			}
		}

		// successor multiset must agree with the terminator's targets
		counted := make(map[*Block]uint32)
		for _, t := range term.JumpTargets() {
			counted[t]++
		}
		if len(counted) != len(b.successors) {
			return badIR("block %s successor set disagrees with its terminator", b.Name())
		}
		for s, n := range counted {
			if b.successors[s] != n {
				return badIR("block %s successor %s has edge count %d, terminator has %d", b.Name(), s.Name(), b.successors[s], n)
			}
			if s.predecessors[b] != n {
				return badIR("block %s is missing predecessor edges from %s", s.Name(), b.Name())
			}
		}
	}

	// use lists must mirror operand lists, counted per edge
	for _, b := range fn.blocks {
		for _, ins := range b.instructions {
			for _, op := range ins.operands {
				if countUses(op, ins) != countOperands(ins, op) {
					return badIR("use list of %s disagrees with operands of %s", describe(op), ins.Name())
				}
			}
		}
	}

	// SSA dominance: every use is dominated by its definition
	for _, b := range fn.blocks {
		for _, ins := range b.instructions {
			if ins.op == OpPhi {
				for _, in := range ins.Incomings() {
					def, ok := in.Value.(*Instruction)
					if !ok {
						continue
					}
					if def.parent != in.Block && !fn.Dominates(def.parent, in.Block) {
						return badIR("phi %s incoming %s does not dominate edge block %s", ins.Name(), def.Name(), in.Block.Name())
					}
				}
				continue
			}
			for _, op := range ins.operands {
				def, ok := op.(*Instruction)
				if !ok {
					continue
				}
				if def.parent == b {
					if b.InstructionIndex(def) > b.InstructionIndex(ins) {
						return badIR("%s used before its definition in block %s", def.Name(), b.Name())
					}
					continue
				}
				if !fn.Dominates(def.parent, b) {
					return badIR("definition of %s does not dominate its use in %s", def.Name(), b.Name())
				}
			}
		}
	}

	return nil
}

// VerifyUnit verifies every function with a body.
func VerifyUnit(u *Unit) error {
	for _, fn := range u.functions {
		if err := Verify(fn); err != nil {
			return err
		}
	}
	return nil
}

func countUses(v Value, ins *Instruction) int {
	n := 0
	for _, u := range v.Uses() {
		if u == ins {
			n++
		}
	}
	return n
}

func countOperands(ins *Instruction, v Value) int {
	n := 0
	for _, op := range ins.operands {
		if op == v {
			n++
		}
	}
	return n
}

func describe(v Value) string {
	if v.Name() != "" {
		return v.Name()
	}
	return fmt.Sprintf("%T", v)
}
