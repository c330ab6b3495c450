// Package main implements the lback binary: IR modules in, MIPS assembly out.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"

	"github.com/GriffinCanCode/lback/pkg/config"
	"github.com/GriffinCanCode/lback/pkg/irfile"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

const version = "0.3.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	cmd := os.Args[1]
	switch cmd {
	case "compile":
		err = compileCmd(os.Args[2:])
	case "run":
		err = runCmd(os.Args[2:])
	case "watch":
		err = watchCmd(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	logger.Close()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// errReported means the failure was already printed per file
var errReported = errors.New("failures reported")

func usage() {
	fmt.Println(`lback - register allocation and MIPS code generation for IR modules

Usage:
    lback compile [options] <module.toml>...  Compile modules to .s files
    lback run [options] <module.toml>         Compile and execute
    lback watch [options] <module.toml>...    Recompile when modules change
    lback version                             Show version information
    lback help                                Show this help message

Options:
    -o <file>      Output file (compile, single module only)
    -config <file> Configuration file (default: ./lback.toml if present)
    -external      Run with an installed spim instead of the built-in simulator
    -spim <path>   Simulator binary for -external (default: spim)
    -steps <n>     Step limit for the built-in simulator (run)
    -v             Verbose output

Environment:
    LBACK_REGISTERS, LBACK_MAX_ITERATIONS, LBACK_STRICT_UNINITIALIZED,
    LBACK_VALIDATE, LBACK_LOG_LEVEL, LBACK_LOG_FORMAT, LBACK_LOG_FILE`)
}

func printVersion() {
	v := semver.MustParse(version)
	fmt.Printf("lback version %s\n", v)
	fmt.Printf("reads IR module format %s (%s)\n", irfile.FormatVersion, irfile.FormatConstraint)
}

// commonFlags are shared by every subcommand
type commonFlags struct {
	configPath string
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "configuration file")
	fs.BoolVar(&c.verbose, "v", false, "verbose output")
}

// setup loads configuration and initializes logging
func (c *commonFlags) setup() (*config.Config, error) {
	cfg := config.Default()
	path := c.configPath
	if path == "" {
		if _, err := os.Stat(config.FileName); err == nil {
			path = config.FileName
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if c.verbose {
		logger.InitDev()
		return cfg, nil
	}
	logCfg := logger.DefaultConfig()
	logCfg.Level = logger.ParseLevel(cfg.Log.Level)
	logCfg.Format = cfg.Log.Format
	logCfg.LogFile = cfg.Log.File
	if err := logger.Init(logger.FromEnv(logCfg)); err != nil {
		return nil, err
	}
	return cfg, nil
}
