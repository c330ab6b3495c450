package spim

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/GriffinCanCode/lback/pkg/logger"
)

// External runs assembly with an installed simulator such as spim or
// QtSpim's command line front end
type External struct {
	binary string
	args   []string
}

// NewExternal returns a runner for binary; an empty name means "spim"
func NewExternal(binary string, args ...string) *External {
	if binary == "" {
		binary = "spim"
	}
	return &External{binary: binary, args: args}
}

// Available reports whether the simulator binary is on PATH
func (x *External) Available() bool {
	_, err := exec.LookPath(x.binary)
	return err == nil
}

// RunFile runs an assembly file and copies the program output to out
func (x *External) RunFile(ctx context.Context, path string, out io.Writer) error {
	args := append([]string{"-quiet"}, x.args...)
	args = append(args, "-file", path)

	logger.Debug("Running external simulator", "binary", x.binary, "file", path)
	cmd := exec.CommandContext(ctx, x.binary, args...)
	var stderr bytes.Buffer
	cmd.Stdout = out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w: %s", x.binary, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Run writes asm to a temporary file and runs it
func (x *External) Run(ctx context.Context, asm string, out io.Writer) error {
	f, err := os.CreateTemp("", "lback-*.s")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	if _, err := f.WriteString(asm); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return x.RunFile(ctx, f.Name(), out)
}
