package errors

import "fmt"

// Kind classifies a back-end failure. Everything except TargetMissing
// indicates a bug in the caller's IR or in a target implementation; no
// partial output is emitted for the function being compiled.
type Kind string

const (
	BadIR          Kind = "bad IR"
	UnsupportedOp  Kind = "unsupported operation"
	OutOfRegisters Kind = "out of registers"
	BadOperand     Kind = "bad operand"
	TargetMissing  Kind = "target missing"
)

// codes gives each kind a stable code for diagnostics and tests.
var codes = map[Kind]string{
	BadIR:          "E0001",
	UnsupportedOp:  "E0002",
	OutOfRegisters: "E0003",
	BadOperand:     "E0004",
	TargetMissing:  "E0005",
}

// CompileError is the typed failure bubbled out of every pass.
type CompileError struct {
	Kind     Kind
	Function string // function being compiled, empty for unit-level failures
	Message  string
}

func (e *CompileError) Error() string {
	if e.Function != "" {
		return fmt.Sprintf("%s [%s] in %s: %s", e.Kind, codes[e.Kind], e.Function, e.Message)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Kind, codes[e.Kind], e.Message)
}

// Code returns the stable error code for the error's kind.
func (e *CompileError) Code() string { return codes[e.Kind] }

func newError(kind Kind, fn, format string, args ...any) *CompileError {
	return &CompileError{Kind: kind, Function: fn, Message: fmt.Sprintf(format, args...)}
}

func NewBadIR(fn, format string, args ...any) *CompileError {
	return newError(BadIR, fn, format, args...)
}

func NewUnsupportedOp(fn, format string, args ...any) *CompileError {
	return newError(UnsupportedOp, fn, format, args...)
}

func NewOutOfRegisters(fn, format string, args ...any) *CompileError {
	return newError(OutOfRegisters, fn, format, args...)
}

func NewBadOperand(fn, format string, args ...any) *CompileError {
	return newError(BadOperand, fn, format, args...)
}

func NewTargetMissing(format string, args ...any) *CompileError {
	return newError(TargetMissing, "", format, args...)
}

// IsKind reports whether err is a CompileError of the given kind.
func IsKind(err error, kind Kind) bool {
	ce, ok := err.(*CompileError)
	return ok && ce.Kind == kind
}
