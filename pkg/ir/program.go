package ir

import (
	"fmt"
	"strings"
)

// GeneratedLabelPrefix marks compiler-internal labels. Any other label
// opens a function.
const GeneratedLabelPrefix = "Label_"

// IsGeneratedLabel reports whether name was produced by NewLabel
func IsGeneratedLabel(name string) bool {
	return strings.HasPrefix(name, GeneratedLabelPrefix)
}

// MethodLabel returns the entry label of a class method
func MethodLabel(class, method string) string {
	return class + "_" + method
}

// Program is the per-compilation IR context: the command buffer, the temp
// and label counters, and the declaration table. Nothing is shared between
// Programs.
type Program struct {
	Commands []Command
	Symbols  *Symbols

	tempID  int
	labelID int
}

// NewProgram returns an empty program
func NewProgram() *Program {
	return &Program{Symbols: &Symbols{}}
}

// NewTemp mints a fresh temp
func (p *Program) NewTemp() Temp {
	p.tempID++
	return Temp(p.tempID)
}

// Reserve makes sure temps up to t are never minted again
func (p *Program) Reserve(t Temp) {
	if int(t) > p.tempID {
		p.tempID = int(t)
	}
}

// MaxTemp returns the highest temp minted or reserved so far
func (p *Program) MaxTemp() Temp { return Temp(p.tempID) }

// NewLabel mints a unique compiler-internal label
func (p *Program) NewLabel(hint string) string {
	p.labelID++
	return fmt.Sprintf("%s%d_%s", GeneratedLabelPrefix, p.labelID, hint)
}

// Declare adds a variable to the declaration table
func (p *Program) Declare(name string, kind VarKind) VarID {
	return p.Symbols.Declare(name, kind)
}

// Emit appends commands
func (p *Program) Emit(cmds ...Command) {
	p.Commands = append(p.Commands, cmds...)
}

// Builder helpers. Each appends one command and returns the temp it
// defines, if any.

func (p *Program) Const(v int) Temp {
	t := p.NewTemp()
	p.Emit(ConstInt{Dst: t, Value: v})
	return t
}

func (p *Program) LoadVar(v VarID) Temp {
	t := p.NewTemp()
	p.Emit(Load{Dst: t, Var: v})
	return t
}

func (p *Program) StoreVar(v VarID, src Temp) {
	p.Emit(Store{Var: v, Src: src})
}

func (p *Program) Bin(op Op, l, r Temp) Temp {
	t := p.NewTemp()
	p.Emit(BinOp{Dst: t, Op: op, Left: l, Right: r})
	return t
}

func (p *Program) Mark(name string) {
	p.Emit(Label{Name: name})
}

func (p *Program) CallFunc(name string, args ...Temp) Temp {
	t := p.NewTemp()
	p.Emit(Call{Dst: t, Func: name, Args: args})
	return t
}

// Function opens a function: its entry label plus one StoreParam per
// parameter. It returns the parameter IDs in order.
func (p *Program) Function(name string, params ...string) []VarID {
	p.Mark(name)
	ids := make([]VarID, len(params))
	for i, n := range params {
		ids[i] = p.Declare(n, Param)
		p.Emit(StoreParam{Var: ids[i], Index: i})
	}
	return ids
}

// Local declares and allocates a local variable
func (p *Program) Local(name string) VarID {
	v := p.Declare(name, Local)
	p.Emit(Allocate{Var: v})
	return v
}
