package ir

// DataLayout describes target sizing rules for types. Each back-end
// provides its own implementation.
type DataLayout interface {
	PointerSize() int
	Size(t Type) int
	Alignment(t Type) int
}

// FieldOffset returns the byte offset of field idx within a struct under
// the given layout. Fields are laid out back to back.
func FieldOffset(layout DataLayout, st *StructType, idx int) int64 {
	var off int64
	for i := 0; i < idx; i++ {
		off += int64(layout.Size(st.Fields[i]))
	}
	return off
}
