package mir

import "forge/internal/ir"

// ConstantPoolEntry is one rodata literal owned by a function, typically
// a floating-point constant materialized through a load.
type ConstantPoolEntry struct {
	Constant  ir.Value
	Size      int
	Alignment int
}

// ConstantPool collects the rodata entries of one machine function.
type ConstantPool struct {
	entries []ConstantPoolEntry
}

// Add appends an entry and returns its index.
func (p *ConstantPool) Add(constant ir.Value, size, alignment int) int {
	p.entries = append(p.entries, ConstantPoolEntry{Constant: constant, Size: size, Alignment: alignment})
	return len(p.entries) - 1
}

func (p *ConstantPool) Entries() []ConstantPoolEntry { return p.entries }
func (p *ConstantPool) Empty() bool { return len(p.entries) == 0 }
