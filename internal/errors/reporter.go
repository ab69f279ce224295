package errors

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Reporter renders compile errors for terminal output.
type Reporter struct {
	out io.Writer
}

func NewReporter(out io.Writer) *Reporter {
	return &Reporter{out: out}
}

// Report prints a single error with its code, colorized when the
// destination supports it.
func (r *Reporter) Report(err error) {
	ce, ok := err.(*CompileError)
	if !ok {
		fmt.Fprintln(r.out, color.RedString("error: %s", err))
		return
	}

	header := color.RedString("error[%s]", ce.Code())
	if ce.Function != "" {
		fmt.Fprintf(r.out, "%s: %s (while compiling %s)\n", header, ce.Message, color.CyanString(ce.Function))
	} else {
		fmt.Fprintf(r.out, "%s: %s\n", header, ce.Message)
	}

	if note, ok := kindNotes[ce.Kind]; ok {
		fmt.Fprintf(r.out, "  %s %s\n", color.HiBlackString("note:"), note)
	}
}

var kindNotes = map[Kind]string{
	BadIR:          "the input IR violates a structural invariant; run the verifier on the builder output",
	UnsupportedOp:  "no pattern covers this node for the selected target and optimization level",
	OutOfRegisters: "allocation failed after exhausting spill candidates; this indicates a register class misconfiguration",
	BadOperand:     "lowering hit an operand shape it cannot reduce",
	TargetMissing:  "no back-end is registered for the requested architecture and OS pair",
}
