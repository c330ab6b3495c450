// Package spim runs the MIPS subset emitted by the code generator.
//
// Design: a two-pass loader builds the data image and an instruction list,
// then a register machine interprets instructions with SPIM's syscall
// services. Code addresses are textBase + 4*index so jal/jalr and vtable
// words work unchanged. External runs the real simulator instead.
package spim

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	textBase  = 0x00400000
	dataBase  = 0x10010000
	stackTop  = 0x7ffffffc
	stackSize = 1 << 20
)

var (
	ErrParse      = errors.New("parse error")
	ErrNoMain     = errors.New("no main label")
	ErrStepLimit  = errors.New("step limit exceeded")
	ErrBadAddress = errors.New("bad address")
)

var regIndex = map[string]int{
	"$zero": 0, "$at": 1, "$v0": 2, "$v1": 3,
	"$a0": 4, "$a1": 5, "$a2": 6, "$a3": 7,
	"$t0": 8, "$t1": 9, "$t2": 10, "$t3": 11, "$t4": 12, "$t5": 13, "$t6": 14, "$t7": 15,
	"$s0": 16, "$s1": 17, "$s2": 18, "$s3": 19, "$s4": 20, "$s5": 21, "$s6": 22, "$s7": 23,
	"$t8": 24, "$t9": 25, "$k0": 26, "$k1": 27,
	"$gp": 28, "$sp": 29, "$fp": 30, "$ra": 31,
}

type inst struct {
	line int
	op   string
	args []string
}

// wordFixup is a data word holding a label address resolved after loading
type wordFixup struct {
	addr  uint32
	label string
	line  int
}

// Machine is a loaded program plus its register file and memory
type Machine struct {
	text   []inst
	labels map[string]uint32

	regs [32]int32
	hi   int32
	lo   int32
	pc   int

	data  []byte // data segment followed by the heap
	stack []byte
}

// Load assembles asm into a fresh machine
func Load(asm string) (*Machine, error) {
	m := &Machine{
		labels: make(map[string]uint32),
		stack:  make([]byte, stackSize),
	}
	var fixups []wordFixup
	inData := false

	for n, raw := range strings.Split(asm, "\n") {
		lineNo := n + 1
		text := strings.TrimSpace(stripComment(raw))
		if text == "" {
			continue
		}
		if name, rest, ok := strings.Cut(text, ":"); ok && !strings.Contains(name, "\"") {
			name = strings.TrimSpace(name)
			if _, dup := m.labels[name]; dup {
				return nil, fmt.Errorf("%w: line %d: duplicate label %s", ErrParse, lineNo, name)
			}
			if inData {
				m.align()
				m.labels[name] = dataBase + uint32(len(m.data))
			} else {
				m.labels[name] = textBase + uint32(4*len(m.text))
			}
			text = strings.TrimSpace(rest)
			if text == "" {
				continue
			}
		}

		op, rest, _ := strings.Cut(text, " ")
		rest = strings.TrimSpace(rest)
		switch op {
		case ".data":
			inData = true
		case ".text":
			inData = false
		case ".globl", ".align":
		case ".word":
			m.align()
			for _, a := range splitArgs(rest) {
				addr := dataBase + uint32(len(m.data))
				if v, err := strconv.ParseInt(a, 0, 32); err == nil {
					m.data = appendWord(m.data, int32(v))
					continue
				}
				fixups = append(fixups, wordFixup{addr: addr, label: a, line: lineNo})
				m.data = appendWord(m.data, 0)
			}
		case ".asciiz":
			s, err := unquote(rest)
			if err != nil {
				return nil, fmt.Errorf("%w: line %d: %v", ErrParse, lineNo, err)
			}
			m.data = append(m.data, s...)
			m.data = append(m.data, 0)
		default:
			if strings.HasPrefix(op, ".") {
				return nil, fmt.Errorf("%w: line %d: unsupported directive %s", ErrParse, lineNo, op)
			}
			m.text = append(m.text, inst{line: lineNo, op: op, args: splitArgs(rest)})
		}
	}

	for _, f := range fixups {
		addr, ok := m.labels[f.label]
		if !ok {
			return nil, fmt.Errorf("%w: line %d: undefined label %s", ErrParse, f.line, f.label)
		}
		if err := m.storeWord(f.addr, int32(addr)); err != nil {
			return nil, err
		}
	}
	if _, ok := m.labels["main"]; !ok {
		return nil, ErrNoMain
	}
	return m, nil
}

func (m *Machine) align() {
	for len(m.data)%4 != 0 {
		m.data = append(m.data, 0)
	}
}

func appendWord(b []byte, v int32) []byte {
	u := uint32(v)
	return append(b, byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
}

func splitArgs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func stripComment(s string) string {
	quoted := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if quoted {
				i++
			}
		case '"':
			quoted = !quoted
		case '#':
			if !quoted {
				return s[:i]
			}
		}
	}
	return s
}

// unquote decodes an .asciiz operand
func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("malformed string %s", s)
	}
	s = s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i == len(s) {
			return "", errors.New("dangling escape")
		}
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case '0':
			b.WriteByte(0)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

// Memory

// segment returns the backing slice and offset for addr
func (m *Machine) segment(addr uint32, size int) ([]byte, int, error) {
	if addr >= dataBase && int(addr-dataBase)+size <= len(m.data) {
		return m.data, int(addr - dataBase), nil
	}
	low := uint32(stackTop + 4 - stackSize)
	if addr >= low && int(addr-low)+size <= len(m.stack) {
		return m.stack, int(addr - low), nil
	}
	return nil, 0, fmt.Errorf("%w: 0x%08x", ErrBadAddress, addr)
}

func (m *Machine) loadWord(addr uint32) (int32, error) {
	if addr%4 != 0 {
		return 0, fmt.Errorf("%w: unaligned word at 0x%08x", ErrBadAddress, addr)
	}
	seg, off, err := m.segment(addr, 4)
	if err != nil {
		return 0, err
	}
	u := uint32(seg[off]) | uint32(seg[off+1])<<8 | uint32(seg[off+2])<<16 | uint32(seg[off+3])<<24
	return int32(u), nil
}

func (m *Machine) storeWord(addr uint32, v int32) error {
	if addr%4 != 0 {
		return fmt.Errorf("%w: unaligned word at 0x%08x", ErrBadAddress, addr)
	}
	seg, off, err := m.segment(addr, 4)
	if err != nil {
		return err
	}
	u := uint32(v)
	seg[off], seg[off+1], seg[off+2], seg[off+3] = byte(u), byte(u>>8), byte(u>>16), byte(u>>24)
	return nil
}

func (m *Machine) loadByte(addr uint32) (int32, error) {
	seg, off, err := m.segment(addr, 1)
	if err != nil {
		return 0, err
	}
	return int32(int8(seg[off])), nil
}

func (m *Machine) storeByte(addr uint32, v int32) error {
	seg, off, err := m.segment(addr, 1)
	if err != nil {
		return err
	}
	seg[off] = byte(v)
	return nil
}

// sbrk grows the heap by n bytes and returns the old break, word aligned
func (m *Machine) sbrk(n int32) (int32, error) {
	if n < 0 {
		return 0, fmt.Errorf("%w: negative sbrk %d", ErrBadAddress, n)
	}
	m.align()
	brk := dataBase + uint32(len(m.data))
	m.data = append(m.data, make([]byte, n)...)
	return int32(brk), nil
}

// cString reads a NUL-terminated string at addr
func (m *Machine) cString(addr uint32) (string, error) {
	var b strings.Builder
	for {
		c, err := m.loadByte(addr)
		if err != nil {
			return "", err
		}
		if c == 0 {
			return b.String(), nil
		}
		b.WriteByte(byte(c))
		addr++
	}
}

// Reg returns the value of a named register
func (m *Machine) Reg(name string) int32 {
	if i, ok := regIndex[name]; ok {
		return m.regs[i]
	}
	return 0
}

// Word returns the word stored at a data label
func (m *Machine) Word(label string) (int32, error) {
	addr, ok := m.labels[label]
	if !ok {
		return 0, fmt.Errorf("undefined label %s", label)
	}
	return m.loadWord(addr)
}
