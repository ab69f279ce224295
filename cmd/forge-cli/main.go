package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/fatih/color"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"forge/internal/codegen"
	"forge/internal/errors"
	"forge/internal/ir"
	"forge/internal/irtext"
	"forge/internal/target"
	"forge/internal/targets"
)

func main() {
	targetFlag := flag.String("target", "x86_64-linux", "target as arch-os (x86_64-linux, x86_64-windows, aarch64-linux, aarch64-macos)")
	optFlag := flag.Int("O", 0, "optimization level (0-2)")
	outFlag := flag.String("o", "", "output file (defaults to <input>.s)")
	emitIR := flag.Bool("emit-ir", false, "print the parsed IR and exit")
	verbose := flag.Bool("v", false, "verbose pass logging")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: forge-cli [flags] <file.fir>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *verbose {
		commonlog.Configure(2, nil)
	} else {
		commonlog.Configure(0, nil)
	}

	path := flag.Arg(0)
	source, err := os.ReadFile(path)
	if err != nil {
		color.Red("failed to read %s: %s", path, err)
		os.Exit(1)
	}

	ctx := ir.NewContext()
	unit, err := irtext.Parse(ctx, path, string(source))
	if err != nil {
		reportParseError(string(source), err)
		os.Exit(1)
	}

	if *emitIR {
		ir.Print(os.Stdout, unit)
		return
	}

	spec, err := parseTargetFlag(*targetFlag)
	if err != nil {
		color.Red("%s", err)
		os.Exit(1)
	}

	machine, err := targets.NewRegistry().Machine(spec, ctx)
	if err != nil {
		errors.NewReporter(os.Stderr).Report(err)
		os.Exit(1)
	}
	unit.SetDataLayout(machine.DataLayout())

	outPath := *outFlag
	if outPath == "" {
		outPath = strings.TrimSuffix(path, ".fir") + ".s"
	}
	out, err := os.Create(outPath)
	if err != nil {
		color.Red("failed to create %s: %s", outPath, err)
		os.Exit(1)
	}
	defer out.Close()

	pm := codegen.NewPassManager()
	level := ir.OptimizationLevel(*optFlag)
	if err := machine.AddPassesForCodeGeneration(pm, out, target.AssemblyFile, level); err != nil {
		errors.NewReporter(os.Stderr).Report(err)
		os.Exit(1)
	}
	if err := pm.Run(unit); err != nil {
		errors.NewReporter(os.Stderr).Report(err)
		os.Exit(1)
	}

	color.Green("wrote %s for %s", outPath, spec)
}

func parseTargetFlag(s string) (target.Specification, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return target.Specification{}, fmt.Errorf("bad target %q, expected arch-os", s)
	}
	var spec target.Specification
	switch parts[0] {
	case "x86_64", "amd64":
		spec.Arch = target.X8664
	case "aarch64", "arm64":
		spec.Arch = target.AArch64
	default:
		return spec, fmt.Errorf("unknown architecture %q", parts[0])
	}
	switch parts[1] {
	case "linux":
		spec.OS = target.Linux
	case "windows":
		spec.OS = target.Windows
	case "macos", "darwin":
		spec.OS = target.Darwin
	default:
		return spec, fmt.Errorf("unknown OS %q", parts[1])
	}
	return spec, nil
}

// reportParseError prints a friendly caret-style parse error message.
func reportParseError(src string, err error) {
	pe, ok := err.(participle.Error)
	if !ok {
		color.Red("error: %s", err)
		return
	}

	pos := pe.Position()
	lines := strings.Split(src, "\n")
	if pos.Line <= 0 || pos.Line > len(lines) {
		color.Red("syntax error at unknown location: %s", err)
		return
	}

	line := lines[pos.Line-1]
	caret := strings.Repeat(" ", pos.Column-1) + "^"

	color.Red("syntax error in %s at line %d, column %d:", pos.Filename, pos.Line, pos.Column)
	fmt.Println(line)
	color.HiRed(caret)
	fmt.Printf("-> %s\n", pe.Message())
}
