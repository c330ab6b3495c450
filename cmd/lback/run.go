package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/GriffinCanCode/lback/pkg/compiler"
	"github.com/GriffinCanCode/lback/pkg/config"
	"github.com/GriffinCanCode/lback/pkg/irfile"
	"github.com/GriffinCanCode/lback/pkg/spim"
)

func runCmd(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	external := fs.Bool("external", false, "run with an installed simulator")
	binary := fs.String("spim", "spim", "simulator binary for -external")
	maxSteps := fs.Int("steps", spim.DefaultMaxSteps, "step limit for the built-in simulator")
	fs.Parse(args)

	if fs.NArg() != 1 {
		return errors.New("run needs exactly one input file")
	}
	cfg, err := common.setup()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var sim runner = simulator{maxSteps: *maxSteps}
	if *external {
		sim = spim.NewExternal(*binary)
	}
	return run(ctx, cfg, fs.Arg(0), sim, os.Stdout)
}

// runner executes assembly, writing program output to out
type runner interface {
	Run(ctx context.Context, asm string, out io.Writer) error
}

// simulator is the built-in spim interpreter
type simulator struct {
	maxSteps int
}

func (s simulator) Run(ctx context.Context, asm string, out io.Writer) error {
	_, err := spim.Run(ctx, asm, out, spim.Options{MaxSteps: s.maxSteps})
	return err
}

// run compiles one module and executes it. A module that does not fit the
// register bank prints the fixed failure text instead.
func run(ctx context.Context, cfg *config.Config, path string, sim runner, out io.Writer) error {
	m, err := irfile.LoadFile(path)
	if err != nil {
		return err
	}
	res, err := compiler.Compile(m.Program, m.Classes, compiler.OptionsFromConfig(cfg))
	if compiler.IsAllocationFailure(err) {
		fmt.Fprintln(out, compiler.AllocationFailedText)
		return errReported
	}
	if err != nil {
		return err
	}
	return sim.Run(ctx, res.Assembly, out)
}
