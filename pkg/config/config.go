// Package config loads compiler settings from TOML with LBACK_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/xyproto/env/v2"

	"github.com/GriffinCanCode/lback/pkg/codegen/regalloc"
)

// FileName is the default configuration file name
const FileName = "lback.toml"

// Environment overrides
const (
	EnvRegisters     = "LBACK_REGISTERS" // K: use the first K bank registers
	EnvMaxIterations = "LBACK_MAX_ITERATIONS"
	EnvStrict        = "LBACK_STRICT_UNINITIALIZED"
	EnvValidate      = "LBACK_VALIDATE"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the full compiler configuration
type Config struct {
	Target   Target   `toml:"target"`
	Analysis Analysis `toml:"analysis"`
	Output   Output   `toml:"output"`
	Log      Log      `toml:"log"`
}

// Target describes the machine
type Target struct {
	Registers []string `toml:"registers"`
	WordSize  int      `toml:"word_size"`
	IntMin    int      `toml:"int_min"`
	IntMax    int      `toml:"int_max"`
}

type Analysis struct {
	// MaxIterations caps both fixpoint solvers; 0 derives a cap from
	// program size
	MaxIterations       int  `toml:"max_iterations"`
	StrictUninitialized bool `toml:"strict_uninitialized"`
}

type Output struct {
	Validate bool `toml:"validate"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Default returns the stock configuration: all ten $t registers, 16-bit
// integers, validation on
func Default() *Config {
	return &Config{
		Target: Target{
			Registers: regalloc.MIPSConfig().Available,
			WordSize:  4,
			IntMin:    -32768,
			IntMax:    32767,
		},
		Output: Output{Validate: true},
		Log:    Log{Level: "warn", Format: "text"},
	}
}

// Load reads a TOML file on top of Default
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes TOML on top of Default and validates the result
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := toml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Save writes c as TOML
func (c *Config) Save(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from LBACK_* variables that are set. Logging
// variables are read by logger.FromEnv. The environment is re-read on
// every call.
func (c *Config) ApplyEnv() error {
	env.Load()
	if k := env.Int(EnvRegisters, 0); k > 0 {
		bank := regalloc.MIPSConfig().Available
		if k > len(bank) {
			return fmt.Errorf("%w: %s=%d exceeds the %d-register bank", ErrInvalid, EnvRegisters, k, len(bank))
		}
		c.Target.Registers = bank[:k]
	}
	c.Analysis.MaxIterations = env.Int(EnvMaxIterations, c.Analysis.MaxIterations)
	if env.Str(EnvStrict) != "" {
		c.Analysis.StrictUninitialized = env.Bool(EnvStrict)
	}
	if env.Str(EnvValidate) != "" {
		c.Output.Validate = env.Bool(EnvValidate)
	}
	return nil
}

// Validate checks the register bank and the integer model
func (c *Config) Validate() error {
	var problems []string
	bank := make(map[string]bool)
	for _, r := range regalloc.MIPSConfig().Available {
		bank[r] = true
	}

	regs := c.Target.Registers
	if len(regs) < 1 || len(regs) > len(bank) {
		problems = append(problems, fmt.Sprintf("register count %d outside 1..%d", len(regs), len(bank)))
	}
	seen := make(map[string]bool)
	for _, r := range regs {
		if !bank[r] {
			problems = append(problems, fmt.Sprintf("register %s is not an allocatable register", r))
		}
		if seen[r] {
			problems = append(problems, fmt.Sprintf("register %s listed twice", r))
		}
		seen[r] = true
	}
	if c.Target.WordSize != 4 {
		problems = append(problems, fmt.Sprintf("word size %d unsupported", c.Target.WordSize))
	}
	if c.Target.IntMin >= c.Target.IntMax {
		problems = append(problems, fmt.Sprintf("int_min %d not below int_max %d", c.Target.IntMin, c.Target.IntMax))
	}
	if c.Analysis.MaxIterations < 0 {
		problems = append(problems, "max_iterations must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log format %q unknown", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Allocator returns the register allocator configuration: the configured
// bank, the MIPS reserved registers and the liveness cap
func (c *Config) Allocator() *regalloc.Config {
	rc := regalloc.MIPSConfig()
	rc.Available = append([]string(nil), c.Target.Registers...)
	rc.MaxIterations = c.Analysis.MaxIterations
	return rc
}
