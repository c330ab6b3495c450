package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/lback/pkg/compiler"
	"github.com/GriffinCanCode/lback/pkg/config"
	"github.com/GriffinCanCode/lback/pkg/irfile"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

func compileCmd(args []string) error {
	fs := flag.NewFlagSet("compile", flag.ExitOnError)
	var common commonFlags
	common.register(fs)
	output := fs.String("o", "", "output file (single module only)")
	fs.Parse(args)

	inputs := fs.Args()
	if len(inputs) == 0 {
		return errors.New("no input file")
	}
	if *output != "" && len(inputs) > 1 {
		return errors.New("-o needs exactly one input file")
	}

	cfg, err := common.setup()
	if err != nil {
		return err
	}

	start := time.Now()
	logger.LogCompilerStart(inputs)
	err = compileAll(context.Background(), cfg, inputs, *output)
	logger.LogCompilerComplete(err == nil, time.Since(start).String())
	return err
}

// outputPath derives module.s from module.toml
func outputPath(input string) string {
	return strings.TrimSuffix(input, filepath.Ext(input)) + ".s"
}

// compileAll compiles every input concurrently. Each module has its own
// pipeline; one failing module does not stop the others, but a cancelled
// ctx skips modules that have not started.
func compileAll(ctx context.Context, cfg *config.Config, inputs []string, output string) error {
	c := compiler.New(compiler.OptionsFromConfig(cfg))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, in := range inputs {
		in := in
		out := output
		if out == "" {
			out = outputPath(in)
		}
		g.Go(func() error {
			if err := compileFile(ctx, c, in, out); err != nil {
				logger.LogError("compile", in, err.Error())
				fmt.Fprintf(os.Stderr, "%s: %v\n", in, err)
				return errReported
			}
			logger.With("file", in).Info("Module compiled", "output", out)
			fmt.Printf("%s -> %s\n", in, out)
			return nil
		})
	}
	return g.Wait()
}

// compileFile compiles one module. A program that does not fit the
// register bank gets the fixed failure text instead of assembly, with no
// trailing newline.
func compileFile(ctx context.Context, c *compiler.Compiler, in, out string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := irfile.LoadFile(in)
	if err != nil {
		return err
	}

	res, err := c.Compile(m.Program, m.Classes)
	if compiler.IsAllocationFailure(err) {
		if werr := os.WriteFile(out, []byte(compiler.AllocationFailedText), 0644); werr != nil {
			return werr
		}
		return err
	}
	if err != nil {
		return err
	}
	for _, name := range res.Uninitialized.Names {
		fmt.Fprintf(os.Stderr, "%s: warning: %s may be used uninitialized\n", in, name)
	}
	return os.WriteFile(out, []byte(res.Assembly), 0644)
}
