package aarch64

// Machine opcodes. Operands are destination first; rr/ri suffixes name
// the source shapes.
const (
	Mov64rr uint32 = iota
	Mov32rr
	Fmov32rr
	Fmov64rr

	Movz64ri
	Movz32ri
	Movn64ri
	Movn32ri
	Movk64ri
	Movk32ri

	Ldr64rm
	Ldr32rm
	Ldrb32rm
	Ldrh32rm
	LdrS32rm
	LdrD64rm
	Str64rm
	Str32rm
	Strb32rm
	Strh32rm
	StrS32rm
	StrD64rm

	// pair ops with pre/post indexed [sp] addressing
	Stp64pre
	Ldp64post

	LdrLitS
	LdrLitD

	AdrpSym
	AddLo12

	Add64rr
	Add32rr
	Add64ri
	Add32ri
	Sub64rr
	Sub32rr
	Sub64ri
	Sub32ri

	Cmp64rr
	Cmp32rr
	Cmp64ri
	Cmp32ri

	Mul64rr
	Mul32rr
	SDiv64rr
	SDiv32rr
	UDiv64rr
	UDiv32rr
	Msub64rr
	Msub32rr

	And64rr
	And32rr
	Orr64rr
	Orr32rr
	Eor64rr
	Eor32rr

	Lsl64rr
	Lsl32rr
	Lsr64rr
	Lsr32rr
	Asr64rr
	Asr32rr
	Lsl64ri
	Lsl32ri
	Lsr64ri
	Lsr32ri
	Asr64ri
	Asr32ri

	Sxtb32
	Sxth32
	Sxtw64
	Uxtb32
	Uxth32

	FAdd32rr
	FAdd64rr
	FSub32rr
	FSub64rr
	FMul32rr
	FMul64rr
	FDiv32rr
	FDiv64rr
	FCmp32
	FCmp64
	FCvtSD
	FCvtDS
	Scvtf32w
	Scvtf64w
	Scvtf32x
	Scvtf64x
	Fcvtzs32w
	Fcvtzs64w
	Fcvtzs32x
	Fcvtzs64x

	CsetEq
	CsetNe
	CsetGt
	CsetGe
	CsetLt
	CsetLe
	CsetHi
	CsetHs
	CsetLo
	CsetLs

	B
	Beq
	Bne
	Bgt
	Bge
	Blt
	Ble
	Bhi
	Bhs
	Blo
	Bls
	Br
	Cbz
	Cbnz

	Bl
	Blr
	RetOp

	numOpcodes
)
