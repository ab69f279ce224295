// Package irtext parses the textual IR form produced by ir.Print and
// feeds it through the builder API.
package irtext

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var irLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `//[^\n]*`},
	{Name: "Float", Pattern: `-?[0-9]+\.[0-9]+([eE]-?[0-9]+)?`},
	{Name: "Integer", Pattern: `-?[0-9]+`},
	{Name: "String", Pattern: `"(\\.|[^"\\])*"`},
	{Name: "Arrow", Pattern: `->`},
	{Name: "Ellipsis", Pattern: `\.\.\.`},
	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_.]*`},
	{Name: "Punct", Pattern: `[%@:,(){}\[\]=]`},
	{Name: "Whitespace", Pattern: `[ \t\r\n]+`},
})

var parser = participle.MustBuild[File](
	participle.Lexer(irLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(4),
)

type File struct {
	Decls []*Decl `@@*`
}

type Decl struct {
	Global  *GlobalDecl  `  @@`
	Declare *DeclareDecl `| @@`
	Func    *FuncDecl    `| @@`
}

type GlobalDecl struct {
	Name     string     `"global" "@" @Ident`
	Type     *TypeRef   `":" @@`
	External bool       `( @"external"`
	Init     *ConstInit `| "=" @@ )`
}

type ConstInit struct {
	Struct []*ConstInit `  "{" ( @@ ( "," @@ )* )? "}"`
	Array  []*ConstInit `| "[" ( @@ ( "," @@ )* )? "]"`
	Str    *string      `| @String`
	Undef  bool         `| @"undef"`
	Null   bool         `| @"null"`
	Num    *TypedNum    `| @@`
}

type TypedNum struct {
	Float *string  `( @Float`
	Int   *string  `| @Integer )`
	Type  *TypeRef `( ":" @@ )?`
}

type DeclareDecl struct {
	Name   string   `"declare" "@" @Ident "("`
	Params []*Param `( @@ ( "," @@ )* )?`
	VarArg bool     `( ","? @Ellipsis )? ")"`
	Return *TypeRef `":" @@`
}

type FuncDecl struct {
	Name   string      `"fn" "@" @Ident "("`
	Params []*Param    `( @@ ( "," @@ )* )?`
	VarArg bool        `( ","? @Ellipsis )? ")"`
	Return *TypeRef    `":" @@`
	Blocks []*BlockDef `"{" @@* "}"`
}

type Param struct {
	Name string   `"%" @Ident`
	Type *TypeRef `":" @@`
}

type TypeRef struct {
	Void   bool       `  @"void"`
	Ptr    *TypeRef   `| "ptr" @@`
	Array  *ArrayRef  `| @@`
	Struct []*TypeRef `| "{" ( @@ ( "," @@ )* )? "}"`
	Named  string     `| @Ident`
}

type ArrayRef struct {
	Len  string   `"[" @Integer "x"`
	Elem *TypeRef `@@ "]"`
}

type BlockDef struct {
	Name   string  `@Ident ":"`
	Instrs []*Line `@@*`
}

type Line struct {
	Ret    *RetLine    `  @@`
	Br     *BrLine     `| @@`
	Store  *StoreLine  `| @@`
	Switch *SwitchLine `| @@`
	Assign *AssignLine `| @@`
}

type RetLine struct {
	Tok   bool     `@"ret"`
	Value *Operand `@@?`
}

type BrLine struct {
	Tok    bool    `@"br"`
	Cond   *CondBr `( @@`
	Target *string `| @Ident )`
}

type CondBr struct {
	Cond Operand `@@ ","`
	Then string  `@Ident ","`
	Else string  `@Ident`
}

type StoreLine struct {
	Tok   bool    `@"store"`
	Ptr   Operand `@@ ","`
	Value Operand `@@`
}

type SwitchLine struct {
	Tok     bool          `@"switch"`
	Cond    Operand       `@@ ","`
	Default string        `@Ident`
	Cases   []*SwitchArm  `"[" ( @@ ( "," @@ )* )? "]"`
}

type SwitchArm struct {
	Value string `@Integer "->"`
	Block string `@Ident`
}

type AssignLine struct {
	Name string `"%" @Ident "="`
	Rhs  RHS    `@@`
}

type RHS struct {
	Alloca  *TypeRef    `  "alloca" @@`
	Load    *Operand    `| "load" @@`
	Phi     *PhiRHS     `| @@`
	Call    *CallRHS    `| @@`
	GEP     *GEPRHS     `| @@`
	Extract *ExtractRHS `| @@`
	Cast    *CastRHS    `| @@`
	Bin     *BinRHS     `| @@`
}

type PhiRHS struct {
	Tok  bool      `@"phi"`
	Type *TypeRef  `@@`
	Ins  []*PhiArm `@@ ( "," @@ )*`
}

type PhiArm struct {
	Value Operand `"[" @@ ","`
	Block string  `@Ident "]"`
}

type CallRHS struct {
	Callee string     `"call" "@" @Ident "("`
	Args   []*Operand `( @@ ( "," @@ )* )? ")"`
}

type GEPRHS struct {
	Ptr     Operand    `"getelementptr" @@`
	Indices []*Operand `( "," @@ )+`
}

type ExtractRHS struct {
	Agg   Operand `"extractvalue" @@ ","`
	Index string  `@Integer`
}

type CastRHS struct {
	Op    string   `@("zext" | "sext" | "trunc" | "fpext" | "fptrunc" | "fptosi" | "fptoui" | "sitofp" | "uitofp" | "bitcast" | "ptrtoint" | "inttoptr")`
	Value Operand  `@@`
	To    *TypeRef `"to" @@`
}

type BinRHS struct {
	Op  string  `@Ident`
	LHS Operand `@@ ","`
	RHS Operand `@@`
}

type Operand struct {
	Reg    *string `  "%" @Ident`
	Global *string `| "@" @Ident`
	Undef  bool    `| @"undef"`
	Null   bool    `| @"null"`
	Float  *string `| @Float`
	Int    *string `| @Integer`
}
