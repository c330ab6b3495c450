// Package irfile reads IR modules stored as TOML.
//
//	format = "1.0"
//
//	[[class]]
//	name = "Shape"
//	methods = ["area"]
//
//	[[var]]
//	id = 1
//	name = "x"
//	kind = "local"
//
//	[[cmd]]
//	op = "label"
//	label = "main"
//
// Temps are plain integers. Variables are referenced by the id of their
// [[var]] declaration; ids need not be dense.
package irfile

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Masterminds/semver/v3"
	"github.com/pelletier/go-toml/v2"

	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/layout"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

// FormatConstraint is the range of module format versions this reader accepts
const FormatConstraint = "^1.0"

// FormatVersion is the version written by tools producing modules for this
// reader
const FormatVersion = "1.0"

var (
	ErrVersion       = errors.New("incompatible module format")
	ErrUnknownOp     = errors.New("unknown op")
	ErrUndeclaredVar = errors.New("undeclared variable")
	ErrDuplicateVar  = errors.New("duplicate variable id")
	ErrOperand       = errors.New("bad operand")
)

// LoadError locates a problem in the [[var]] or [[cmd]] list
type LoadError struct {
	Section string
	Index   int
	Op      string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %d (%s): %v", e.Section, e.Index, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %d: %v", e.Section, e.Index, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Module is a loaded IR module
type Module struct {
	Program *ir.Program
	Classes []layout.Class
}

type file struct {
	Format  string      `toml:"format"`
	Classes []classDecl `toml:"class"`
	Vars    []varDecl   `toml:"var"`
	Cmds    []cmdDecl   `toml:"cmd"`
}

type classDecl struct {
	Name    string   `toml:"name"`
	Father  string   `toml:"father"`
	Fields  []string `toml:"fields"`
	Methods []string `toml:"methods"`
}

type varDecl struct {
	ID   int    `toml:"id"`
	Name string `toml:"name"`
	Kind string `toml:"kind"`
}

// cmdDecl is the union of every command's operands
type cmdDecl struct {
	Op         string `toml:"op"`
	Dst        int    `toml:"dst"`
	Src        int    `toml:"src"`
	Left       int    `toml:"left"`
	Right      int    `toml:"right"`
	Base       int    `toml:"base"`
	Index      int    `toml:"index"`
	Cond       int    `toml:"cond"`
	Length     int    `toml:"length"`
	Value      int    `toml:"value"`
	Offset     int    `toml:"offset"`
	Size       int    `toml:"size"`
	Slot       int    `toml:"slot"`
	Var        int    `toml:"var"`
	Receiver   int    `toml:"receiver"`
	ReceiverS2 bool   `toml:"receiver_s2"`
	Virtual    bool   `toml:"virtual"`
	Args       []int  `toml:"args"`
	Label      string `toml:"label"`
	Target     string `toml:"target"`
	Func       string `toml:"func"`
	Vtable     string `toml:"vtable"`
	Text       string `toml:"text"`
}

// LoadFile reads a module from path
func LoadFile(path string) (*Module, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	logger.LogFileProcessing(path)
	m, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Load decodes a module
func Load(r io.Reader) (*Module, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse IR module: %w", err)
	}
	if err := checkFormat(f.Format); err != nil {
		return nil, err
	}

	m := &Module{Program: ir.NewProgram()}
	for _, c := range f.Classes {
		m.Classes = append(m.Classes, layout.Class{
			Name: c.Name, Father: c.Father, Fields: c.Fields, Methods: c.Methods,
		})
	}

	vars := make(map[int]ir.VarID, len(f.Vars))
	for i, v := range f.Vars {
		if _, dup := vars[v.ID]; dup {
			return nil, &LoadError{Section: "var", Index: i, Err: fmt.Errorf("%w: %d", ErrDuplicateVar, v.ID)}
		}
		kind, ok := ir.ParseVarKind(v.Kind)
		if !ok {
			return nil, &LoadError{Section: "var", Index: i, Err: fmt.Errorf("%w: kind %q", ErrOperand, v.Kind)}
		}
		vars[v.ID] = m.Program.Declare(v.Name, kind)
	}

	d := decoder{vars: vars}
	for i, c := range f.Cmds {
		cmd, err := d.command(c)
		if err != nil {
			return nil, &LoadError{Section: "cmd", Index: i, Op: c.Op, Err: err}
		}
		m.Program.Emit(cmd)
	}
	m.Program.Reserve(d.maxTemp)

	logger.Debug("IR module loaded", "commands", len(m.Program.Commands), "vars", len(vars), "classes", len(m.Classes))
	return m, nil
}

func checkFormat(format string) error {
	if format == "" {
		return fmt.Errorf("%w: missing format version", ErrVersion)
	}
	v, err := semver.NewVersion(format)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrVersion, format, err)
	}
	c, err := semver.NewConstraint(FormatConstraint)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrVersion, v, FormatConstraint)
	}
	return nil
}
