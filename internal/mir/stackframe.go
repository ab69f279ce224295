package mir

// StackSlot is one typed slot of a frame. Offset is the distance of the
// slot's end from the frame base; negative offsets address the caller's
// frame (stack arguments, ByVal areas).
type StackSlot struct {
	Size      uint32
	Offset    int64
	Alignment uint32
}

// StackFrame accumulates the slots of one function.
type StackFrame struct {
	slots        []StackSlot
	frameIndices map[int]*FrameIndex
}

// AddStackSlot appends a slot below every positive slot so far.
func (f *StackFrame) AddStackSlot(size, alignment uint32) StackSlot {
	f.slots = append(f.slots, StackSlot{Size: size, Alignment: alignment})
	f.slots[len(f.slots)-1].Offset = int64(f.Size())
	return f.slots[len(f.slots)-1]
}

// AddStackSlotAt appends a slot with a caller-assigned offset.
func (f *StackFrame) AddStackSlotAt(size uint32, offset int64, alignment uint32) StackSlot {
	slot := StackSlot{Size: size, Offset: offset, Alignment: alignment}
	f.slots = append(f.slots, slot)
	return slot
}

func (f *StackFrame) StackSlot(index int) StackSlot { return f.slots[index] }
func (f *StackFrame) NumStackSlots() int { return len(f.slots) }

// Size sums the locally owned slots, honoring their alignment.
func (f *StackFrame) Size() uint32 {
	var size uint32
	for _, slot := range f.slots {
		if slot.Offset < 0 {
			continue
		}
		if slot.Alignment > 0 {
			if rem := size % slot.Alignment; rem != 0 {
				size += slot.Alignment - rem
			}
		}
		size += slot.Size
	}
	return size
}

// FrameIndexOperand returns the canonical operand for slot index.
func (f *StackFrame) FrameIndexOperand(index int) *FrameIndex {
	if f.frameIndices == nil {
		f.frameIndices = make(map[int]*FrameIndex)
	}
	if fi, ok := f.frameIndices[index]; ok {
		return fi
	}
	fi := NewFrameIndex(uint32(index))
	f.frameIndices[index] = fi
	return fi
}
