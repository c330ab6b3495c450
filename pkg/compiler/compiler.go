// Package compiler runs the back end pipeline over one IR program:
// class layout, CFG, register allocation, uninitialized-use analysis,
// storage classes, MIPS generation and validation.
package compiler

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GriffinCanCode/lback/pkg/cfg"
	"github.com/GriffinCanCode/lback/pkg/codegen/mips"
	"github.com/GriffinCanCode/lback/pkg/codegen/regalloc"
	"github.com/GriffinCanCode/lback/pkg/config"
	"github.com/GriffinCanCode/lback/pkg/dfa"
	"github.com/GriffinCanCode/lback/pkg/frame"
	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/layout"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

// AllocationFailedText is written in place of assembly when the program
// needs more registers than the target has
const AllocationFailedText = "Register Allocation Failed"

// Options control one compilation
type Options struct {
	Allocator           *regalloc.Config // nil for the full MIPS bank
	MaxIterations       int              // uninitialized-use fixpoint cap
	StrictUninitialized bool
	Validate            bool
	IntMin, IntMax      int
}

// DefaultOptions mirrors config.Default
func DefaultOptions() Options {
	return OptionsFromConfig(config.Default())
}

// OptionsFromConfig extracts compile options from a configuration
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Allocator:           c.Allocator(),
		MaxIterations:       c.Analysis.MaxIterations,
		StrictUninitialized: c.Analysis.StrictUninitialized,
		Validate:            c.Output.Validate,
		IntMin:              c.Target.IntMin,
		IntMax:              c.Target.IntMax,
	}
}

// Result holds the artifacts of every phase
type Result struct {
	Classes       *layout.Table
	Graph         *cfg.Graph
	Allocation    regalloc.Allocation
	Uninitialized *dfa.Report
	Frames        *frame.Layout
	Assembly      string
}

// UninitializedError is returned under StrictUninitialized when some
// variable may be read before it is written
type UninitializedError struct {
	Report *dfa.Report
}

func (e *UninitializedError) Error() string {
	return "possibly uninitialized: " + strings.Join(e.Report.Names, ", ")
}

// Compiler compiles programs with fixed options. Each Compile call builds
// its own state, so one Compiler may be used for many programs.
type Compiler struct {
	opts Options
}

// New creates a compiler
func New(opts Options) *Compiler {
	return &Compiler{opts: opts}
}

// Compile runs the pipeline with the given options
func Compile(prog *ir.Program, classes []layout.Class, opts Options) (*Result, error) {
	return New(opts).Compile(prog, classes)
}

// Compile runs every phase in order. Allocation failure stops the
// pipeline before any code is emitted.
func (c *Compiler) Compile(prog *ir.Program, classes []layout.Class) (*Result, error) {
	start := time.Now()
	res := &Result{}

	logger.LogPhase("layout")
	tab, err := layout.Build(classes)
	if err != nil {
		return nil, err
	}
	res.Classes = tab
	logger.LogPhaseComplete("layout")

	logger.LogPhase("cfg")
	g, err := cfg.Build(prog.Commands)
	if err != nil {
		return nil, err
	}
	res.Graph = g
	logger.LogPhaseComplete("cfg")

	logger.LogPhase("regalloc")
	alloc, err := regalloc.NewAllocator(c.opts.Allocator).Allocate(g)
	if err != nil {
		return nil, err
	}
	res.Allocation = alloc
	logger.LogPhaseComplete("regalloc")

	logger.LogPhase("uninitialized")
	report, err := dfa.Analyze(g, prog.Symbols, c.opts.MaxIterations)
	if err != nil {
		return nil, err
	}
	res.Uninitialized = report
	for _, name := range report.Names {
		logger.LogHazard(name)
	}
	if c.opts.StrictUninitialized && !report.Empty() {
		return res, &UninitializedError{Report: report}
	}
	logger.LogPhaseComplete("uninitialized")

	logger.LogPhase("frames")
	res.Frames = frame.Analyze(prog.Commands, frame.Options{WordSize: mips.WordSize, Classes: tab})
	logger.LogPhaseComplete("frames")

	logger.LogPhase("codegen")
	var sb strings.Builder
	gen := mips.NewGenerator(&sb, mips.Config{
		Allocation: alloc,
		Frames:     res.Frames,
		Classes:    tab,
		IntMin:     c.opts.IntMin,
		IntMax:     c.opts.IntMax,
	})
	if c.opts.Validate {
		err = gen.GenerateWithValidation(prog)
	} else {
		err = gen.Generate(prog)
	}
	if err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}
	res.Assembly = sb.String()
	logger.LogPhaseComplete("codegen")

	logger.Debug("Compilation finished", "duration", time.Since(start).String())
	return res, nil
}

// IsAllocationFailure reports whether err means the program did not fit
// the register bank
func IsAllocationFailure(err error) bool {
	return errors.Is(err, regalloc.ErrAllocationFailed)
}
