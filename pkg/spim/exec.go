package spim

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/lback/pkg/logger"
)

// DefaultMaxSteps bounds a run when Options leave it unset
const DefaultMaxSteps = 10_000_000

// Options tune a simulated run
type Options struct {
	MaxSteps int
}

// Result summarizes a finished run
type Result struct {
	Steps  int
	Exited bool // program reached the exit syscall
}

// Run loads and executes asm, writing program output to out
func Run(ctx context.Context, asm string, out io.Writer, opts Options) (*Result, error) {
	m, err := Load(asm)
	if err != nil {
		return nil, err
	}
	return m.Run(ctx, out, opts)
}

// RunString is Run collecting the output into a string
func RunString(ctx context.Context, asm string, opts Options) (string, error) {
	var sb strings.Builder
	_, err := Run(ctx, asm, &sb, opts)
	return sb.String(), err
}

// Run executes from main until the exit syscall, the end of the text, or
// the step limit
func (m *Machine) Run(ctx context.Context, out io.Writer, opts Options) (*Result, error) {
	limit := opts.MaxSteps
	if limit <= 0 {
		limit = DefaultMaxSteps
	}

	m.pc = int((m.labels["main"] - textBase) / 4)
	m.regs[regIndex["$sp"]] = stackTop
	res := &Result{}

	for m.pc < len(m.text) {
		if res.Steps >= limit {
			return res, fmt.Errorf("%w: %d", ErrStepLimit, limit)
		}
		if res.Steps%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return res, err
			}
		}
		res.Steps++

		in := m.text[m.pc]
		m.pc++
		exit, err := m.step(in, out)
		if err != nil {
			return res, fmt.Errorf("line %d: %s: %w", in.line, in.op, err)
		}
		if exit {
			res.Exited = true
			break
		}
		m.regs[0] = 0
	}

	logger.Debug("Simulation finished", "steps", res.Steps, "exited", res.Exited)
	return res, nil
}

func (m *Machine) reg(name string) (int, error) {
	if i, ok := regIndex[name]; ok {
		return i, nil
	}
	return 0, fmt.Errorf("unknown register %s", name)
}

// operands resolves register operands
func (m *Machine) operands(in inst, n int) ([]int, error) {
	if len(in.args) < n {
		return nil, fmt.Errorf("want %d operands, got %d", n, len(in.args))
	}
	out := make([]int, n)
	for i := 0; i < n; i++ {
		r, err := m.reg(in.args[i])
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// address resolves "off($reg)" or a label
func (m *Machine) address(arg string) (uint32, error) {
	if open := strings.IndexByte(arg, '('); open >= 0 && strings.HasSuffix(arg, ")") {
		off := 0
		if open > 0 {
			v, err := strconv.Atoi(arg[:open])
			if err != nil {
				return 0, err
			}
			off = v
		}
		r, err := m.reg(arg[open+1 : len(arg)-1])
		if err != nil {
			return 0, err
		}
		return uint32(m.regs[r] + int32(off)), nil
	}
	if addr, ok := m.labels[arg]; ok {
		return addr, nil
	}
	return 0, fmt.Errorf("undefined label %s", arg)
}

func (m *Machine) jumpTo(label string) error {
	addr, ok := m.labels[label]
	if !ok {
		return fmt.Errorf("undefined label %s", label)
	}
	return m.jumpAddr(addr)
}

func (m *Machine) jumpAddr(addr uint32) error {
	if addr < textBase || (addr-textBase)%4 != 0 || int((addr-textBase)/4) > len(m.text) {
		return fmt.Errorf("%w: jump to 0x%08x", ErrBadAddress, addr)
	}
	m.pc = int((addr - textBase) / 4)
	return nil
}

func (m *Machine) link() {
	m.regs[31] = int32(textBase + 4*m.pc)
}

func immediate(s string) (int32, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	return int32(v), err
}

// step executes one instruction and reports whether the program exited
func (m *Machine) step(in inst, out io.Writer) (bool, error) {
	switch in.op {
	case "add", "addu", "sub", "subu", "mul":
		r, err := m.operands(in, 3)
		if err != nil {
			return false, err
		}
		a, b := m.regs[r[1]], m.regs[r[2]]
		switch in.op {
		case "add", "addu":
			m.regs[r[0]] = a + b
		case "sub", "subu":
			m.regs[r[0]] = a - b
		default:
			m.regs[r[0]] = a * b
		}
	case "addi", "addiu", "sll":
		r, err := m.operands(in, 2)
		if err != nil {
			return false, err
		}
		if len(in.args) != 3 {
			return false, fmt.Errorf("want 3 operands")
		}
		imm, err := immediate(in.args[2])
		if err != nil {
			return false, err
		}
		if in.op == "sll" {
			m.regs[r[0]] = m.regs[r[1]] << uint(imm)
		} else {
			m.regs[r[0]] = m.regs[r[1]] + imm
		}
	case "div":
		r, err := m.operands(in, 2)
		if err != nil {
			return false, err
		}
		if m.regs[r[1]] == 0 {
			return false, fmt.Errorf("division by zero")
		}
		m.lo = m.regs[r[0]] / m.regs[r[1]]
		m.hi = m.regs[r[0]] % m.regs[r[1]]
	case "mflo", "mfhi":
		r, err := m.operands(in, 1)
		if err != nil {
			return false, err
		}
		if in.op == "mflo" {
			m.regs[r[0]] = m.lo
		} else {
			m.regs[r[0]] = m.hi
		}
	case "move":
		r, err := m.operands(in, 2)
		if err != nil {
			return false, err
		}
		m.regs[r[0]] = m.regs[r[1]]
	case "li":
		r, err := m.operands(in, 1)
		if err != nil {
			return false, err
		}
		if len(in.args) != 2 {
			return false, fmt.Errorf("want 2 operands")
		}
		v, err := immediate(in.args[1])
		if err != nil {
			return false, err
		}
		m.regs[r[0]] = v
	case "la":
		r, err := m.operands(in, 1)
		if err != nil {
			return false, err
		}
		if len(in.args) != 2 {
			return false, fmt.Errorf("want 2 operands")
		}
		addr, err := m.address(in.args[1])
		if err != nil {
			return false, err
		}
		m.regs[r[0]] = int32(addr)
	case "lw", "sw", "lb", "sb":
		r, err := m.operands(in, 1)
		if err != nil {
			return false, err
		}
		if len(in.args) != 2 {
			return false, fmt.Errorf("want 2 operands")
		}
		addr, err := m.address(in.args[1])
		if err != nil {
			return false, err
		}
		switch in.op {
		case "lw":
			m.regs[r[0]], err = m.loadWord(addr)
		case "lb":
			m.regs[r[0]], err = m.loadByte(addr)
		case "sw":
			err = m.storeWord(addr, m.regs[r[0]])
		default:
			err = m.storeByte(addr, m.regs[r[0]])
		}
		return false, err
	case "beq", "bne", "blt", "bgt", "ble", "bge":
		r, err := m.operands(in, 2)
		if err != nil {
			return false, err
		}
		if len(in.args) != 3 {
			return false, fmt.Errorf("want 3 operands")
		}
		a, b := m.regs[r[0]], m.regs[r[1]]
		var taken bool
		switch in.op {
		case "beq":
			taken = a == b
		case "bne":
			taken = a != b
		case "blt":
			taken = a < b
		case "bgt":
			taken = a > b
		case "ble":
			taken = a <= b
		default:
			taken = a >= b
		}
		if taken {
			return false, m.jumpTo(in.args[2])
		}
	case "j":
		return false, m.jumpTo(in.args[0])
	case "jal":
		m.link()
		return false, m.jumpTo(in.args[0])
	case "jr", "jalr":
		r, err := m.operands(in, 1)
		if err != nil {
			return false, err
		}
		target := uint32(m.regs[r[0]])
		if in.op == "jalr" {
			m.link()
		}
		return false, m.jumpAddr(target)
	case "nop":
	case "syscall":
		return m.syscall(out)
	default:
		return false, fmt.Errorf("unsupported instruction")
	}
	return false, nil
}

func (m *Machine) syscall(out io.Writer) (bool, error) {
	a0 := m.regs[regIndex["$a0"]]
	switch code := m.regs[regIndex["$v0"]]; code {
	case 1:
		_, err := fmt.Fprint(out, a0)
		return false, err
	case 4:
		s, err := m.cString(uint32(a0))
		if err != nil {
			return false, err
		}
		_, err = io.WriteString(out, s)
		return false, err
	case 9:
		brk, err := m.sbrk(a0)
		if err != nil {
			return false, err
		}
		m.regs[regIndex["$v0"]] = brk
	case 10:
		return true, nil
	case 11:
		_, err := out.Write([]byte{byte(a0)})
		return false, err
	default:
		return false, fmt.Errorf("unsupported syscall %d", code)
	}
	return false, nil
}
