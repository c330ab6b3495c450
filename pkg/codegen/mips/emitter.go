package mips

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Emitter collects target instructions. Data directives and code go to
// separate buffers; Finalize appends the exit sequence and writes .data
// followed by .text.
type Emitter struct {
	data  bytes.Buffer
	text  bytes.Buffer
	insts int
	words map[string]bool
	local int
}

// NewEmitter returns an empty emitter
func NewEmitter() *Emitter {
	return &Emitter{words: make(map[string]bool)}
}

func (e *Emitter) inst(format string, args ...any) {
	e.text.WriteByte('\t')
	fmt.Fprintf(&e.text, format, args...)
	e.text.WriteByte('\n')
	e.insts++
}

// Instructions returns the number of instructions emitted so far
func (e *Emitter) Instructions() int { return e.insts }

// LocalLabel mints a code label unique within this emitter
func (e *Emitter) LocalLabel(hint string) string {
	e.local++
	return fmt.Sprintf("cg_%d_%s", e.local, hint)
}

// Label defines a code label
func (e *Emitter) Label(name string) {
	fmt.Fprintf(&e.text, "%s:\n", name)
}

// Comment writes an assembler comment line
func (e *Emitter) Comment(format string, args ...any) {
	fmt.Fprintf(&e.text, "\t# %s\n", fmt.Sprintf(format, args...))
}

// Memory

// Load emits lw rt,addr where addr is "off(base)" or a data label
func (e *Emitter) Load(rt, addr string) { e.inst("lw %s,%s", rt, addr) }

// Store emits sw rt,addr
func (e *Emitter) Store(rt, addr string) { e.inst("sw %s,%s", rt, addr) }

// LoadByte emits lb rt,addr
func (e *Emitter) LoadByte(rt, addr string) { e.inst("lb %s,%s", rt, addr) }

// StoreByte emits sb rt,addr
func (e *Emitter) StoreByte(rt, addr string) { e.inst("sb %s,%s", rt, addr) }

// Offset formats an off(base) operand
func Offset(off int, base string) string { return fmt.Sprintf("%d(%s)", off, base) }

// Moves and constants

func (e *Emitter) Move(rd, rs string) {
	if rd != rs {
		e.inst("move %s,%s", rd, rs)
	}
}

func (e *Emitter) LoadImm(rd string, v int) { e.inst("li %s,%d", rd, v) }

func (e *Emitter) LoadAddr(rd, label string) { e.inst("la %s,%s", rd, label) }

// Arithmetic

// Arith emits a three-register operation (add, sub, mul)
func (e *Emitter) Arith(op, rd, rs, rt string) { e.inst("%s %s,%s,%s", op, rd, rs, rt) }

func (e *Emitter) AddImm(rd, rs string, imm int) { e.inst("addi %s,%s,%d", rd, rs, imm) }

func (e *Emitter) ShiftLeft(rd, rs string, n int) { e.inst("sll %s,%s,%d", rd, rs, n) }

// Div emits div rs,rt followed by mflo rd
func (e *Emitter) Div(rd, rs, rt string) {
	e.inst("div %s,%s", rs, rt)
	e.inst("mflo %s", rd)
}

// Control

// Branch emits a two-register conditional branch (beq, bne, blt, bgt, bge, ble)
func (e *Emitter) Branch(op, rs, rt, label string) { e.inst("%s %s,%s,%s", op, rs, rt, label) }

func (e *Emitter) Jump(label string) { e.inst("j %s", label) }

// Call emits jal label
func (e *Emitter) Call(label string) { e.inst("jal %s", label) }

// CallReg emits jalr rs
func (e *Emitter) CallReg(rs string) { e.inst("jalr %s", rs) }

// Return emits jr $ra
func (e *Emitter) Return() { e.inst("jr %s", RA) }

// Syscall loads the service number into $v0 and traps
func (e *Emitter) Syscall(code int) {
	e.LoadImm(V0, code)
	e.inst("syscall")
}

// Stack

// AdjustSP moves the stack pointer by delta bytes
func (e *Emitter) AdjustSP(delta int) {
	if delta != 0 {
		e.AddImm(SP, SP, delta)
	}
}

func (e *Emitter) Push(r string) {
	e.AdjustSP(-WordSize)
	e.Store(r, Offset(0, SP))
}

func (e *Emitter) Pop(r string) {
	e.Load(r, Offset(0, SP))
	e.AdjustSP(WordSize)
}

// Data

// Word reserves one initialized word, once per label
func (e *Emitter) Word(label string, v int) {
	if e.words[label] {
		return
	}
	e.words[label] = true
	fmt.Fprintf(&e.data, "%s: .word %d\n", label, v)
}

// WordTable emits a labelled run of words; empty entries become 0
func (e *Emitter) WordTable(label string, entries []string) {
	fmt.Fprintf(&e.data, "%s:\n", label)
	for _, ent := range entries {
		if ent == "" {
			ent = "0"
		}
		fmt.Fprintf(&e.data, "\t.word %s\n", ent)
	}
}

// Asciiz emits a NUL-terminated string
func (e *Emitter) Asciiz(label, s string) {
	fmt.Fprintf(&e.data, "%s: .asciiz \"%s\"\n", label, EscapeString(s))
}

// EscapeString renders s for an .asciiz directive
func EscapeString(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			b.WriteString(`\\`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// Finalize appends the program exit and writes the whole unit to w
func (e *Emitter) Finalize(w io.Writer) error {
	e.Syscall(SysExit)
	if _, err := io.WriteString(w, ".data\n"); err != nil {
		return err
	}
	if _, err := w.Write(e.data.Bytes()); err != nil {
		return err
	}
	if _, err := io.WriteString(w, ".text\n"); err != nil {
		return err
	}
	_, err := w.Write(e.text.Bytes())
	return err
}
