// Package mips lowers IR to MIPS32 assembly for SPIM-style simulators.
//
// Register usage:
//
//	$t0-$t9   allocator bank (caller-saved around every call)
//	$s0       clamp, array address and runtime scratch
//	$s1       staged field base / array index
//	$s2       staged receiver or array base
//	$a0-$a3   arguments, $v0 result and syscall service
//
// Variables live either in a static data word (var_<id>) or, inside
// recursive functions, at a fixed offset from $sp at function entry.
package mips

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/GriffinCanCode/lback/pkg/codegen/regalloc"
	"github.com/GriffinCanCode/lback/pkg/frame"
	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/layout"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

// Register names
const (
	Zero = "$zero"
	V0   = "$v0"
	A0   = "$a0"
	A1   = "$a1"
	A2   = "$a2"
	A3   = "$a3"
	S0   = "$s0"
	S1   = "$s1"
	S2   = "$s2"
	SP   = "$sp"
	RA   = "$ra"
)

// SPIM syscall services
const (
	SysPrintInt    = 1
	SysPrintString = 4
	SysSbrk        = 9
	SysExit        = 10
	SysPrintChar   = 11
)

const (
	WordSize = 4
	// MaxArgs is the number of argument registers
	MaxArgs = 4
	// EntryLabel is the program entry; the user's main is renamed
	EntryLabel = "main"
	MainLabel  = "main_actual"
)

// Runtime labels
const (
	PtrError      = "ptr_error"
	BoundsError   = "bounds_error"
	DivError      = "div_error"
	RtAlloc       = "rt_alloc"
	RtAllocArray  = "rt_alloc_array"
	RtAllocObject = "rt_alloc_object"
	RtConcat      = "rt_concat"
)

// Diagnostics printed by the runtime error handlers
const (
	MsgPtrError    = "Invalid Pointer Dereference"
	MsgBoundsError = "Access Violation"
	MsgDivError    = "Illegal Division By Zero"
)

var (
	ErrTooManyArgs = errors.New("too many call arguments")
	ErrNoRegister  = errors.New("temp has no register")
	ErrNoEntry     = errors.New("program has no main function")
)

// savedRegs is the caller-save area of a call sequence, in slot order
var savedRegs = []string{
	"$t0", "$t1", "$t2", "$t3", "$t4", "$t5", "$t6", "$t7", "$t8", "$t9",
	RA, S1, S2,
}

// CallFrame is the size of the caller-save area
var CallFrame = len(savedRegs) * WordSize

// Config supplies everything the generator needs besides the commands
type Config struct {
	Allocation regalloc.Allocation
	Frames     *frame.Layout
	Classes    *layout.Table // may be nil
	IntMin     int
	IntMax     int
}

// Generator generates MIPS assembly
type Generator struct {
	w   io.Writer
	cfg Config
	e   *Emitter

	fn   string // current function, "" for global code
	bias int    // bytes pushed since function entry
}

// NewGenerator creates a generator writing to w
func NewGenerator(w io.Writer, cfg Config) *Generator {
	if cfg.IntMin == 0 && cfg.IntMax == 0 {
		cfg.IntMin, cfg.IntMax = -32768, 32767
	}
	return &Generator{w: w, cfg: cfg}
}

// Generate emits the whole program
func (g *Generator) Generate(prog *ir.Program) error {
	logger.Debug("Starting MIPS code generation", "commands", len(prog.Commands))

	g.e = NewEmitter()
	g.fn, g.bias = "", 0
	if g.cfg.Frames == nil {
		g.cfg.Frames = frame.Analyze(prog.Commands, frame.Options{WordSize: WordSize, Classes: g.cfg.Classes})
	}
	if _, ok := g.cfg.Frames.Function(EntryLabel); !ok {
		return ErrNoEntry
	}

	split := globalInitEnd(prog.Commands)

	g.emitData()

	g.e.Label(EntryLabel)
	for i := 0; i < split; i++ {
		if err := g.lower(i, prog.Commands[i]); err != nil {
			return err
		}
	}
	g.e.Jump(MainLabel)

	g.emitRuntime()

	for i := split; i < len(prog.Commands); i++ {
		if err := g.lower(i, prog.Commands[i]); err != nil {
			return err
		}
	}

	logger.LogCodeGen("mips", "<program>", g.e.Instructions())
	return g.e.Finalize(g.w)
}

// GenerateWithValidation generates code and validates it before writing
func (g *Generator) GenerateWithValidation(prog *ir.Program) error {
	var buf strings.Builder
	orig := g.w
	g.w = &buf
	err := g.Generate(prog)
	g.w = orig
	if err != nil {
		return err
	}

	asm := buf.String()
	if err := ValidateProgram(asm); err != nil {
		logger.Error("Generated MIPS code failed validation", "error", err)
		return fmt.Errorf("code generation produced invalid assembly: %w", err)
	}

	_, err = io.WriteString(orig, asm)
	return err
}

// globalInitEnd returns the index of the GlobalInitEnd marker, or 0
func globalInitEnd(cmds []ir.Command) int {
	for i, c := range cmds {
		if _, ok := c.(ir.GlobalInitEnd); ok {
			return i
		}
	}
	return 0
}

func (g *Generator) emitData() {
	g.e.Asciiz("msg_ptr_error", MsgPtrError+"\n")
	g.e.Asciiz("msg_bounds_error", MsgBoundsError+"\n")
	g.e.Asciiz("msg_div_error", MsgDivError+"\n")

	if g.cfg.Classes == nil {
		return
	}
	for _, class := range g.cfg.Classes.Classes() {
		entries := g.cfg.Classes.Entries(class)
		for i, ent := range entries {
			if _, ok := g.cfg.Frames.Function(ent); !ok {
				entries[i] = ""
			}
		}
		g.e.WordTable(layout.VtableLabel(class), entries)
	}
}

// reg returns the register assigned to t
func (g *Generator) reg(t ir.Temp) (string, error) {
	if r, ok := g.cfg.Allocation.Register(t); ok {
		return r, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoRegister, t)
}

// regs resolves several temps at once
func (g *Generator) regs(ts ...ir.Temp) ([]string, error) {
	out := make([]string, len(ts))
	for i, t := range ts {
		r, err := g.reg(t)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// varAddr returns the operand addressing v from the current function,
// adjusted by extra bytes pushed on top of the tracked bias
func (g *Generator) varAddr(v ir.VarID, extra int) string {
	st := g.cfg.Frames.Lookup(g.fn, v)
	if st.Class == frame.Frame {
		return Offset(st.Offset+g.bias+extra, SP)
	}
	label := fmt.Sprintf("var_%d", int(v))
	g.e.Word(label, 0)
	return label
}

func (g *Generator) push(r string) {
	g.e.Push(r)
	g.bias += WordSize
}

func (g *Generator) pop(r string) {
	g.e.Pop(r)
	g.bias -= WordSize
}

// lower emits the target sequence of one command
func (g *Generator) lower(i int, c ir.Command) error {
	switch c := c.(type) {
	case ir.Label:
		return g.lowerLabel(c)
	case ir.GlobalInitEnd:
		return nil
	case ir.ConstInt:
		rd, err := g.reg(c.Dst)
		if err != nil {
			return err
		}
		g.e.LoadImm(rd, c.Value)
	case ir.LoadAddress:
		rd, err := g.reg(c.Dst)
		if err != nil {
			return err
		}
		g.e.LoadAddr(rd, c.Label)
	case ir.AllocateString:
		g.e.Asciiz(c.Label, c.Value)
	case ir.Allocate:
		// Static words are reserved on first reference
		g.varAddr(c.Var, 0)
	case ir.Load:
		rd, err := g.reg(c.Dst)
		if err != nil {
			return err
		}
		g.e.Load(rd, g.varAddr(c.Var, 0))
	case ir.Store:
		rs, err := g.reg(c.Src)
		if err != nil {
			return err
		}
		g.e.Store(rs, g.varAddr(c.Var, 0))
	case ir.StoreParam:
		if c.Index < 0 || c.Index >= MaxArgs {
			return fmt.Errorf("%w: parameter %d", ErrTooManyArgs, c.Index)
		}
		g.e.Store(fmt.Sprintf("$a%d", c.Index), g.varAddr(c.Var, 0))
	case ir.LoadField:
		r, err := g.regs(c.Dst, c.Base)
		if err != nil {
			return err
		}
		g.nullCheck(r[1])
		g.e.Load(r[0], Offset(c.Offset, r[1]))
	case ir.StoreField:
		r, err := g.regs(c.Base, c.Src)
		if err != nil {
			return err
		}
		g.nullCheck(r[0])
		g.e.Store(r[1], Offset(c.Offset, r[0]))
	case ir.StoreFieldBaseS1:
		rs, err := g.reg(c.Src)
		if err != nil {
			return err
		}
		g.nullCheck(S1)
		g.e.Store(rs, Offset(c.Offset, S1))
	case ir.LoadArray:
		r, err := g.regs(c.Dst, c.Base, c.Index)
		if err != nil {
			return err
		}
		g.elementAddr(r[1], r[2])
		g.e.Load(r[0], Offset(WordSize, S0))
	case ir.StoreArray:
		r, err := g.regs(c.Base, c.Index, c.Src)
		if err != nil {
			return err
		}
		g.elementAddr(r[0], r[1])
		g.e.Store(r[2], Offset(WordSize, S0))
	case ir.StoreArrayBaseS2:
		r, err := g.regs(c.Index, c.Src)
		if err != nil {
			return err
		}
		g.elementAddr(S2, r[0])
		g.e.Store(r[1], Offset(WordSize, S0))
	case ir.BinOp:
		return g.lowerBinOp(c)
	case ir.Concat:
		r, err := g.regs(c.Dst, c.Left, c.Right)
		if err != nil {
			return err
		}
		g.e.Move(A0, r[1])
		g.e.Move(A1, r[2])
		g.callRuntime(RtConcat)
		g.e.Move(r[0], V0)
	case ir.Jump:
		g.e.Jump(c.Target)
	case ir.JumpIfZero:
		rs, err := g.reg(c.Cond)
		if err != nil {
			return err
		}
		g.e.Branch("beq", rs, Zero, c.Target)
	case ir.Call:
		return g.lowerCall(c)
	case ir.CallStoreField:
		return g.lowerCallStoreField(c)
	case ir.Return:
		if c.Value.Valid() {
			rs, err := g.reg(c.Value)
			if err != nil {
				return err
			}
			g.e.Move(V0, rs)
		}
		g.e.Jump(c.EndLabel)
	case ir.FuncExit:
		if g.fn == EntryLabel {
			g.e.Syscall(SysExit)
			return nil
		}
		g.e.AdjustSP(g.cfg.Frames.FrameSize(g.fn))
		g.e.Return()
	case ir.AllocateClass:
		rd, err := g.reg(c.Dst)
		if err != nil {
			return err
		}
		g.e.LoadImm(A0, c.Size)
		if c.Vtable != "" {
			g.e.LoadAddr(A1, c.Vtable)
		} else {
			g.e.Move(A1, Zero)
		}
		g.callRuntime(RtAllocObject)
		g.e.Move(rd, V0)
	case ir.AllocateArray:
		r, err := g.regs(c.Dst, c.Length)
		if err != nil {
			return err
		}
		g.e.Move(A0, r[1])
		g.callRuntime(RtAllocArray)
		g.e.Move(r[0], V0)
	case ir.PrintInt:
		rs, err := g.reg(c.Src)
		if err != nil {
			return err
		}
		g.e.Move(A0, rs)
		g.e.Syscall(SysPrintInt)
		g.e.LoadImm(A0, ' ')
		g.e.Syscall(SysPrintChar)
	case ir.PrintString:
		rs, err := g.reg(c.Src)
		if err != nil {
			return err
		}
		g.nullCheck(rs)
		g.e.Move(A0, rs)
		g.e.Syscall(SysPrintString)
	case ir.Stage:
		return g.lowerStage(c)
	default:
		return fmt.Errorf("unsupported command %T at %d", c, i)
	}
	return nil
}

func (g *Generator) lowerLabel(c ir.Label) error {
	if ir.IsGeneratedLabel(c.Name) {
		g.e.Label(c.Name)
		return nil
	}

	g.fn = c.Name
	g.bias = 0
	name := c.Name
	if name == EntryLabel {
		name = MainLabel
	}
	size := g.cfg.Frames.FrameSize(c.Name)
	if g.cfg.Frames.Recursive(c.Name) {
		g.e.Comment("function %s, recursive, frame %d bytes", c.Name, size)
	} else {
		g.e.Comment("function %s", c.Name)
	}
	g.e.Label(name)
	g.e.AdjustSP(-size)
	logger.LogCodeGen("mips", c.Name, g.e.Instructions())
	return nil
}

func (g *Generator) nullCheck(r string) {
	g.e.Branch("beq", r, Zero, PtrError)
}

// elementAddr null- and bounds-checks an access and leaves the address of
// the element header word in $s0; the element itself is at 4($s0)
func (g *Generator) elementAddr(base, index string) {
	g.nullCheck(base)
	g.e.Branch("blt", index, Zero, BoundsError)
	g.e.Load(S0, Offset(0, base))
	g.e.Branch("bge", index, S0, BoundsError)
	g.e.ShiftLeft(S0, index, 2)
	g.e.Arith("add", S0, S0, base)
}

func (g *Generator) lowerBinOp(c ir.BinOp) error {
	r, err := g.regs(c.Dst, c.Left, c.Right)
	if err != nil {
		return err
	}
	rd, rs, rt := r[0], r[1], r[2]

	switch c.Op {
	case ir.Add, ir.Sub, ir.Mul:
		g.e.Arith(c.Op.String(), rd, rs, rt)
	case ir.Div:
		g.e.Branch("beq", rt, Zero, DivError)
		g.e.Div(rd, rs, rt)
	case ir.Lt, ir.Gt, ir.Eq:
		branch := map[ir.Op]string{ir.Lt: "blt", ir.Gt: "bgt", ir.Eq: "beq"}[c.Op]
		yes := g.e.LocalLabel("true")
		done := g.e.LocalLabel("done")
		g.e.Branch(branch, rs, rt, yes)
		g.e.LoadImm(rd, 0)
		g.e.Jump(done)
		g.e.Label(yes)
		g.e.LoadImm(rd, 1)
		g.e.Label(done)
		return nil
	default:
		return fmt.Errorf("unsupported operator %s", c.Op)
	}

	g.clamp(rd)
	return nil
}

// clamp saturates r to [IntMin, IntMax]
func (g *Generator) clamp(r string) {
	low := g.e.LocalLabel("clamp_low")
	done := g.e.LocalLabel("clamp_done")
	g.e.LoadImm(S0, g.cfg.IntMax)
	g.e.Branch("ble", r, S0, low)
	g.e.Move(r, S0)
	g.e.Jump(done)
	g.e.Label(low)
	g.e.LoadImm(S0, g.cfg.IntMin)
	g.e.Branch("bge", r, S0, done)
	g.e.Move(r, S0)
	g.e.Label(done)
}

// callRuntime calls a runtime helper, keeping $ra intact
func (g *Generator) callRuntime(label string) {
	g.push(RA)
	g.e.Call(label)
	g.pop(RA)
}

// saveCaller pushes the caller-save area
func (g *Generator) saveCaller() {
	g.e.AdjustSP(-CallFrame)
	for i, r := range savedRegs {
		g.e.Store(r, Offset(i*WordSize, SP))
	}
	g.bias += CallFrame
}

func (g *Generator) restoreCaller() {
	for i, r := range savedRegs {
		g.e.Load(r, Offset(i*WordSize, SP))
	}
	g.e.AdjustSP(CallFrame)
	g.bias -= CallFrame
}

// stageArgs moves args into $a<first>.. after the caller-save area is pushed
func (g *Generator) stageArgs(args []ir.Temp, first int) error {
	if first+len(args) > MaxArgs {
		return fmt.Errorf("%w: %d", ErrTooManyArgs, first+len(args))
	}
	for i, a := range args {
		rs, err := g.reg(a)
		if err != nil {
			return err
		}
		g.e.Move(fmt.Sprintf("$a%d", first+i), rs)
	}
	return nil
}

// dispatch transfers control to the callee. Virtual calls read the vtable
// of the receiver in $a0.
func (g *Generator) dispatch(fn string, virtual bool, slot int) {
	if !virtual {
		g.e.Call(fn)
		return
	}
	g.nullCheck(A0)
	g.e.Load("$t0", Offset(0, A0))
	g.nullCheck("$t0")
	g.e.Load("$t0", Offset(slot*WordSize, "$t0"))
	g.nullCheck("$t0")
	g.e.CallReg("$t0")
}

func (g *Generator) lowerCall(c ir.Call) error {
	var rd string
	if c.Dst.Valid() {
		r, err := g.reg(c.Dst)
		if err != nil {
			return err
		}
		rd = r
	}

	g.saveCaller()
	first := 0
	switch {
	case c.ReceiverInS2:
		g.e.Move(A0, S2)
		first = 1
	case c.Receiver != 0:
		g.e.Load(A0, g.varAddr(c.Receiver, 0))
		first = 1
	}
	if err := g.stageArgs(c.Args, first); err != nil {
		return err
	}
	g.dispatch(c.Func, c.Virtual, c.Slot)
	g.restoreCaller()

	if rd != "" {
		g.e.Move(rd, V0)
	}
	return nil
}

func (g *Generator) lowerCallStoreField(c ir.CallStoreField) error {
	g.saveCaller()
	if err := g.stageArgs(c.Args, 0); err != nil {
		return err
	}
	g.dispatch(c.Func, c.Virtual, c.Slot)
	g.restoreCaller()

	g.nullCheck(S2)
	g.e.Store(V0, Offset(c.Offset, S2))
	return nil
}

func (g *Generator) lowerStage(c ir.Stage) error {
	var r string
	if c.Temp.Valid() {
		var err error
		if r, err = g.reg(c.Temp); err != nil {
			return err
		}
	}

	switch c.Op {
	case ir.CopyA0ToS2:
		g.e.Move(S2, A0)
	case ir.MoveBaseToS2:
		g.e.Move(S2, r)
	case ir.LoadVarToS2:
		g.e.Load(S2, g.varAddr(c.Var, 0))
	case ir.StoreS2ToVar:
		g.e.Store(S2, g.varAddr(c.Var, 0))
	case ir.MoveToS1:
		g.e.Move(S1, r)
	case ir.PushS1:
		g.push(S1)
	case ir.PopS1, ir.PopToS1:
		g.pop(S1)
	case ir.PushS2:
		g.push(S2)
	case ir.PopS2:
		g.pop(S2)
	case ir.LoadThis:
		g.e.Move(r, S2)
	case ir.Push:
		g.push(r)
	case ir.Pop:
		g.pop(r)
	default:
		return fmt.Errorf("unsupported staging op %s", c.Op)
	}
	return nil
}

// Generate is a convenience wrapper returning the assembly as a string
func Generate(prog *ir.Program, cfg Config) (string, error) {
	var buf strings.Builder
	if err := NewGenerator(&buf, cfg).Generate(prog); err != nil {
		return "", err
	}
	return buf.String(), nil
}
