// Package ir implements the linear intermediate representation consumed by
// the back end.
//
// Design: one command per target-level operation, untyped one-word temps,
// user variables addressed by opaque slot identifiers. Control flow is
// expressed with labels and jumps; function bodies are label-delimited
// ranges of a single command list.
package ir

import "fmt"

// Temp is a virtual register. Serials start at 1; the zero Temp means
// "no temp" wherever an operand is optional.
type Temp int

// Valid reports whether t names a real temp
func (t Temp) Valid() bool { return t > 0 }

func (t Temp) String() string { return fmt.Sprintf("t%d", int(t)) }

// Command is one IR instruction. The set of variants is closed.
type Command interface {
	command()
}

// Op is a binary operator
type Op int

const (
	Add Op = iota
	Sub
	Mul
	Div
	Lt
	Gt
	Eq
)

var opNames = [...]string{"add", "sub", "mul", "div", "lt", "gt", "eq"}

func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Arithmetic reports whether results of o are clamped to the integer range
func (o Op) Arithmetic() bool { return o <= Div }

// ParseOp maps an operator name back to its Op
func ParseOp(s string) (Op, bool) {
	for i, n := range opNames {
		if n == s {
			return Op(i), true
		}
	}
	return 0, false
}

// Values

type ConstInt struct {
	Dst   Temp
	Value int
}

// LoadAddress loads the address of a data label (string literals)
type LoadAddress struct {
	Dst   Temp
	Label string
}

// AllocateString reserves a NUL-terminated string in the data segment
type AllocateString struct {
	Label string
	Value string
}

// Variables

// Allocate declares storage for a variable; it does not initialize it
type Allocate struct {
	Var VarID
}

type Load struct {
	Dst Temp
	Var VarID
}

type Store struct {
	Var VarID
	Src Temp
}

// StoreParam copies incoming argument register Index into Var at function entry
type StoreParam struct {
	Var   VarID
	Index int
}

// Memory

type LoadField struct {
	Dst    Temp
	Base   Temp
	Offset int
}

type StoreField struct {
	Base   Temp
	Offset int
	Src    Temp
}

type LoadArray struct {
	Dst   Temp
	Base  Temp
	Index Temp
}

type StoreArray struct {
	Base  Temp
	Index Temp
	Src   Temp
}

// StoreFieldBaseS1 stores Src at Offset of the object staged in $s1
type StoreFieldBaseS1 struct {
	Offset int
	Src    Temp
}

// StoreArrayBaseS2 stores Src at Index of the array staged in $s2
type StoreArrayBaseS2 struct {
	Index Temp
	Src   Temp
}

// Arithmetic

type BinOp struct {
	Dst   Temp
	Op    Op
	Left  Temp
	Right Temp
}

type Concat struct {
	Dst   Temp
	Left  Temp
	Right Temp
}

// Control

type Label struct {
	Name string
}

type Jump struct {
	Target string
}

type JumpIfZero struct {
	Cond   Temp
	Target string
}

// Call invokes Func (direct) or the vtable entry at Slot (Virtual).
// Receiver names a variable to pass as the implicit first argument;
// ReceiverInS2 passes the object already staged in $s2 instead. Either way
// Args then fill the remaining argument registers.
type Call struct {
	Dst          Temp
	Func         string
	Args         []Temp
	Receiver     VarID
	ReceiverInS2 bool
	Virtual      bool
	Slot         int
}

// CallStoreField calls and stores the result at Offset of the object staged
// in $s2. The receiver of a method call is Args[0].
type CallStoreField struct {
	Func    string
	Args    []Temp
	Offset  int
	Virtual bool
	Slot    int
}

// Return moves Value into the result register and jumps to the function's
// end label
type Return struct {
	Value    Temp
	EndLabel string
}

// FuncExit tears down the frame and returns to the caller
type FuncExit struct{}

// Allocation

type AllocateClass struct {
	Dst    Temp
	Size   int
	Vtable string
}

type AllocateArray struct {
	Dst    Temp
	Length Temp
}

// Builtins

type PrintInt struct {
	Src Temp
}

type PrintString struct {
	Src Temp
}

// GlobalInitEnd separates global initialization from function bodies
type GlobalInitEnd struct{}

// StageOp selects a register staging pseudo-op
type StageOp int

const (
	CopyA0ToS2 StageOp = iota
	MoveBaseToS2
	LoadVarToS2
	StoreS2ToVar
	MoveToS1
	PushS1
	PopS1
	PushS2
	PopS2
	PopToS1
	LoadThis
	Push
	Pop
)

var stageNames = [...]string{
	"copy_a0_s2", "move_base_s2", "load_var_s2", "store_s2_var", "move_s1",
	"push_s1", "pop_s1", "push_s2", "pop_s2", "pop_to_s1", "load_this",
	"push", "pop",
}

func (s StageOp) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStageOp maps a staging op name back to its StageOp
func ParseStageOp(s string) (StageOp, bool) {
	for i, n := range stageNames {
		if n == s {
			return StageOp(i), true
		}
	}
	return 0, false
}

// Stage keeps a receiver, base or index alive in a reserved register (or
// on the stack) across an evaluation that may call. Temp and Var are read
// or written depending on Op.
type Stage struct {
	Op   StageOp
	Temp Temp
	Var  VarID
}

func (ConstInt) command()         {}
func (LoadAddress) command()      {}
func (AllocateString) command()   {}
func (Allocate) command()         {}
func (Load) command()             {}
func (Store) command()            {}
func (StoreParam) command()       {}
func (LoadField) command()        {}
func (StoreField) command()       {}
func (LoadArray) command()        {}
func (StoreArray) command()       {}
func (StoreFieldBaseS1) command() {}
func (StoreArrayBaseS2) command() {}
func (BinOp) command()            {}
func (Concat) command()           {}
func (Label) command()            {}
func (Jump) command()             {}
func (JumpIfZero) command()       {}
func (Call) command()             {}
func (CallStoreField) command()   {}
func (Return) command()           {}
func (FuncExit) command()         {}
func (AllocateClass) command()    {}
func (AllocateArray) command()    {}
func (PrintInt) command()         {}
func (PrintString) command()      {}
func (GlobalInitEnd) command()    {}
func (Stage) command()            {}
