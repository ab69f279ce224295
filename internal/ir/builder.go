package ir

// Builder is the front-end facing construction API. It appends
// instructions to a current insertion block and keeps use-def and CFG
// edges consistent through the block hooks.
type Builder struct {
	ctx   *Context
	block *Block
}

func NewBuilder(ctx *Context) *Builder {
	return &Builder{ctx: ctx}
}

func (b *Builder) Context() *Context { return b.ctx }
func (b *Builder) InsertBlock() *Block { return b.block }
func (b *Builder) SetInsertBlock(bb *Block) { b.block = bb }

func (b *Builder) insert(ins *Instruction) *Instruction {
	b.block.AddInstruction(ins)
	return ins
}

func (b *Builder) CreateBlock(fn *Function, name string) *Block {
	return fn.AddBlock(name)
}

func (b *Builder) CreateAlloca(t Type, name string) *Instruction {
	return b.insert(NewAlloca(b.ctx, t, name))
}

func (b *Builder) CreateLoad(ptr Value, name string) *Instruction {
	return b.insert(NewLoad(ptr, name))
}

func (b *Builder) CreateStore(ptr, value Value) *Instruction {
	return b.insert(NewStore(ptr, value))
}

func (b *Builder) binary(op Opcode, lhs, rhs Value, name string) *Instruction {
	return b.insert(NewBinary(op, lhs, rhs, name))
}

func (b *Builder) CreateAdd(lhs, rhs Value, name string) *Instruction { return b.binary(OpAdd, lhs, rhs, name) }
func (b *Builder) CreateSub(lhs, rhs Value, name string) *Instruction { return b.binary(OpSub, lhs, rhs, name) }
func (b *Builder) CreateIMul(lhs, rhs Value, name string) *Instruction { return b.binary(OpIMul, lhs, rhs, name) }
func (b *Builder) CreateUMul(lhs, rhs Value, name string) *Instruction { return b.binary(OpUMul, lhs, rhs, name) }
func (b *Builder) CreateFMul(lhs, rhs Value, name string) *Instruction { return b.binary(OpFMul, lhs, rhs, name) }
func (b *Builder) CreateIDiv(lhs, rhs Value, name string) *Instruction { return b.binary(OpIDiv, lhs, rhs, name) }
func (b *Builder) CreateUDiv(lhs, rhs Value, name string) *Instruction { return b.binary(OpUDiv, lhs, rhs, name) }
func (b *Builder) CreateFDiv(lhs, rhs Value, name string) *Instruction { return b.binary(OpFDiv, lhs, rhs, name) }
func (b *Builder) CreateIRem(lhs, rhs Value, name string) *Instruction { return b.binary(OpIRem, lhs, rhs, name) }
func (b *Builder) CreateURem(lhs, rhs Value, name string) *Instruction { return b.binary(OpURem, lhs, rhs, name) }
func (b *Builder) CreateAnd(lhs, rhs Value, name string) *Instruction { return b.binary(OpAnd, lhs, rhs, name) }
func (b *Builder) CreateOr(lhs, rhs Value, name string) *Instruction { return b.binary(OpOr, lhs, rhs, name) }
func (b *Builder) CreateXor(lhs, rhs Value, name string) *Instruction { return b.binary(OpXor, lhs, rhs, name) }
func (b *Builder) CreateShl(lhs, rhs Value, name string) *Instruction { return b.binary(OpShl, lhs, rhs, name) }
func (b *Builder) CreateLShr(lhs, rhs Value, name string) *Instruction { return b.binary(OpLShr, lhs, rhs, name) }
func (b *Builder) CreateAShr(lhs, rhs Value, name string) *Instruction { return b.binary(OpAShr, lhs, rhs, name) }

func (b *Builder) compare(op Opcode, lhs, rhs Value, name string) *Instruction {
	return b.insert(NewCompare(op, b.ctx, lhs, rhs, name))
}

func (b *Builder) CreateICmpEq(lhs, rhs Value, name string) *Instruction { return b.compare(OpICmpEq, lhs, rhs, name) }
func (b *Builder) CreateICmpNe(lhs, rhs Value, name string) *Instruction { return b.compare(OpICmpNe, lhs, rhs, name) }
func (b *Builder) CreateICmpGt(lhs, rhs Value, name string) *Instruction { return b.compare(OpICmpGt, lhs, rhs, name) }
func (b *Builder) CreateICmpGe(lhs, rhs Value, name string) *Instruction { return b.compare(OpICmpGe, lhs, rhs, name) }
func (b *Builder) CreateICmpLt(lhs, rhs Value, name string) *Instruction { return b.compare(OpICmpLt, lhs, rhs, name) }
func (b *Builder) CreateICmpLe(lhs, rhs Value, name string) *Instruction { return b.compare(OpICmpLe, lhs, rhs, name) }
func (b *Builder) CreateUCmpGt(lhs, rhs Value, name string) *Instruction { return b.compare(OpUCmpGt, lhs, rhs, name) }
func (b *Builder) CreateUCmpGe(lhs, rhs Value, name string) *Instruction { return b.compare(OpUCmpGe, lhs, rhs, name) }
func (b *Builder) CreateUCmpLt(lhs, rhs Value, name string) *Instruction { return b.compare(OpUCmpLt, lhs, rhs, name) }
func (b *Builder) CreateUCmpLe(lhs, rhs Value, name string) *Instruction { return b.compare(OpUCmpLe, lhs, rhs, name) }
func (b *Builder) CreateFCmpEq(lhs, rhs Value, name string) *Instruction { return b.compare(OpFCmpEq, lhs, rhs, name) }
func (b *Builder) CreateFCmpNe(lhs, rhs Value, name string) *Instruction { return b.compare(OpFCmpNe, lhs, rhs, name) }
func (b *Builder) CreateFCmpGt(lhs, rhs Value, name string) *Instruction { return b.compare(OpFCmpGt, lhs, rhs, name) }
func (b *Builder) CreateFCmpGe(lhs, rhs Value, name string) *Instruction { return b.compare(OpFCmpGe, lhs, rhs, name) }
func (b *Builder) CreateFCmpLt(lhs, rhs Value, name string) *Instruction { return b.compare(OpFCmpLt, lhs, rhs, name) }
func (b *Builder) CreateFCmpLe(lhs, rhs Value, name string) *Instruction { return b.compare(OpFCmpLe, lhs, rhs, name) }

func (b *Builder) cast(op Opcode, value Value, to Type, name string) *Instruction {
	return b.insert(NewCast(op, value, to, name))
}

func (b *Builder) CreateZext(value Value, to Type, name string) *Instruction { return b.cast(OpZext, value, to, name) }
func (b *Builder) CreateSext(value Value, to Type, name string) *Instruction { return b.cast(OpSext, value, to, name) }
func (b *Builder) CreateTrunc(value Value, to Type, name string) *Instruction { return b.cast(OpTrunc, value, to, name) }
func (b *Builder) CreateFpext(value Value, to Type, name string) *Instruction { return b.cast(OpFpext, value, to, name) }
func (b *Builder) CreateFptrunc(value Value, to Type, name string) *Instruction { return b.cast(OpFptrunc, value, to, name) }
func (b *Builder) CreateFptosi(value Value, to Type, name string) *Instruction { return b.cast(OpFptosi, value, to, name) }
func (b *Builder) CreateFptoui(value Value, to Type, name string) *Instruction { return b.cast(OpFptoui, value, to, name) }
func (b *Builder) CreateSitofp(value Value, to Type, name string) *Instruction { return b.cast(OpSitofp, value, to, name) }
func (b *Builder) CreateUitofp(value Value, to Type, name string) *Instruction { return b.cast(OpUitofp, value, to, name) }
func (b *Builder) CreateBitcast(value Value, to Type, name string) *Instruction { return b.cast(OpBitcast, value, to, name) }
func (b *Builder) CreatePtrtoint(value Value, to Type, name string) *Instruction { return b.cast(OpPtrtoint, value, to, name) }
func (b *Builder) CreateInttoptr(value Value, to Type, name string) *Instruction { return b.cast(OpInttoptr, value, to, name) }

// CreateGEP computes an address from a base pointer and indices. The
// result type is the pointer to the final indexed element.
func (b *Builder) CreateGEP(ptr Value, indices []Value, name string) *Instruction {
	cur := ptr.Type().(*PointerType).Pointee
	for i, idx := range indices {
		if i == 0 {
			continue
		}
		switch t := cur.(type) {
		case *StructType:
			cur = t.Fields[idx.(*ConstantInt).Value]
		case *ArrayType:
			cur = t.Elem
		}
	}
	return b.insert(NewGEP(b.ctx.PointerType(cur), ptr, indices, name))
}

func (b *Builder) CreateCall(callee *Function, args []Value, name string) *Instruction {
	return b.insert(NewCall(callee.FunctionType().Return, callee, args, name))
}

func (b *Builder) CreateIndirectCall(fnType *FuncType, callee Value, args []Value, name string) *Instruction {
	return b.insert(NewCall(fnType.Return, callee, args, name))
}

func (b *Builder) CreateBr(target *Block) *Instruction {
	return b.insert(NewJump(target))
}

func (b *Builder) CreateCondBr(then, els *Block, cond Value) *Instruction {
	return b.insert(NewCondJump(then, els, cond))
}

func (b *Builder) CreateSwitch(cond Value, defaultCase *Block, cases []SwitchCase) *Instruction {
	return b.insert(NewSwitch(cond, defaultCase, cases))
}

func (b *Builder) CreateRet(value Value) *Instruction {
	return b.insert(NewRet(value))
}

func (b *Builder) CreatePhi(t Type, incomings []PhiIncoming, name string) *Instruction {
	phi := NewPhi(t, nil, name)
	for _, in := range incomings {
		phi.AddIncoming(in.Value, in.Block)
	}
	return b.insert(phi)
}

func (b *Builder) CreateExtractValue(agg Value, index int64, name string) *Instruction {
	return b.insert(NewExtractValue(agg, b.ctx.ConstantInt(32, index), name))
}
