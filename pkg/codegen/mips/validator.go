package mips

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/GriffinCanCode/lback/pkg/logger"
)

// ValidationError represents an assembly validation error
type ValidationError struct {
	Line    int
	Message string
	Code    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: %s\n  %s", e.Line, e.Message, e.Code)
}

// Validator validates generated MIPS assembly
type Validator struct {
	errors []ValidationError
	warns  []ValidationError
}

// NewValidator creates a new assembly validator
func NewValidator() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
		warns:  make([]ValidationError, 0),
	}
}

// line is one parsed assembly line
type line struct {
	num   int
	text  string
	label string   // set for "name:" lines
	op    string   // instruction mnemonic or directive
	args  []string // comma separated operands
}

var (
	labelPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	regPattern   = regexp.MustCompile(`\$[a-z0-9]+`)
	memPattern   = regexp.MustCompile(`^-?[0-9]+\(\$[a-z0-9]+\)$`)
)

var validRegs = func() map[string]bool {
	m := map[string]bool{
		"$zero": true, "$at": true, "$v0": true, "$v1": true,
		"$gp": true, "$sp": true, "$fp": true, "$ra": true,
		"$k0": true, "$k1": true,
	}
	for i := 0; i < 4; i++ {
		m[fmt.Sprintf("$a%d", i)] = true
	}
	for i := 0; i < 10; i++ {
		m[fmt.Sprintf("$t%d", i)] = true
	}
	for i := 0; i < 8; i++ {
		m[fmt.Sprintf("$s%d", i)] = true
	}
	for i := 0; i < 32; i++ {
		m[fmt.Sprintf("$%d", i)] = true
	}
	return m
}()

// operand count per mnemonic
var validInsts = map[string]int{
	// Arithmetic
	"add": 3, "addu": 3, "addi": 3, "addiu": 3, "sub": 3, "subu": 3,
	"mul": 3, "div": 2, "mflo": 1, "mfhi": 1, "sll": 3, "srl": 3, "sra": 3,
	// Loads and stores
	"lw": 2, "sw": 2, "lb": 2, "sb": 2,
	// Moves and constants
	"move": 2, "li": 2, "la": 2,
	// Branches
	"beq": 3, "bne": 3, "blt": 3, "bgt": 3, "ble": 3, "bge": 3,
	// Jumps
	"j": 1, "jal": 1, "jr": 1, "jalr": 1,
	"syscall": 0, "nop": 0,
}

// instructions whose last operand is a code label
var labelTargets = map[string]bool{
	"beq": true, "bne": true, "blt": true, "bgt": true, "ble": true, "bge": true,
	"j": true, "jal": true,
}

func parse(assembly string) []line {
	var out []line
	for i, raw := range strings.Split(assembly, "\n") {
		text := raw
		if idx := commentIndex(text); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		l := line{num: i + 1, text: strings.TrimSpace(raw)}
		if name, rest, ok := strings.Cut(text, ":"); ok && !strings.Contains(name, "\"") {
			l.label = strings.TrimSpace(name)
			text = strings.TrimSpace(rest)
			if text != "" {
				// label and directive on one line, e.g. "var_1: .word 0"
				out = append(out, l)
				l = line{num: i + 1, text: strings.TrimSpace(raw)}
			}
		}
		if text != "" {
			op, rest, _ := strings.Cut(text, " ")
			l.op = op
			if op == ".asciiz" {
				l.args = []string{strings.TrimSpace(rest)}
			} else if rest = strings.TrimSpace(rest); rest != "" {
				for _, a := range strings.Split(rest, ",") {
					l.args = append(l.args, strings.TrimSpace(a))
				}
			}
		}
		out = append(out, l)
	}
	return out
}

// commentIndex finds a '#' outside string literals
func commentIndex(s string) int {
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
				return i
			}
		}
	}
	return -1
}

// Validate performs structural validation on assembly code
func (v *Validator) Validate(assembly string) error {
	lines := parse(assembly)

	v.validateSyntax(lines)
	v.validateRegisters(lines)
	v.validateLabels(lines)
	v.validateStackBalance(lines)
	v.validateMemoryAddressing(lines)
	v.validateImmediates(lines)
	v.detectRedundantMoves(lines)

	if len(v.errors) > 0 {
		return v.formatErrors()
	}

	if len(v.warns) > 0 {
		v.logWarnings()
	}

	return nil
}

// validateSyntax checks mnemonics, operand counts and label names
func (v *Validator) validateSyntax(lines []line) {
	for _, l := range lines {
		if l.label != "" && !labelPattern.MatchString(l.label) {
			v.addError(l.num, "invalid label name", l.text)
		}
		if l.op == "" || strings.HasPrefix(l.op, ".") {
			continue
		}
		n, ok := validInsts[l.op]
		if !ok {
			v.addError(l.num, fmt.Sprintf("unknown instruction: %s", l.op), l.text)
			continue
		}
		if len(l.args) != n {
			v.addError(l.num, fmt.Sprintf("%s takes %d operands, got %d", l.op, n, len(l.args)), l.text)
		}
	}
}

// validateRegisters checks register names
func (v *Validator) validateRegisters(lines []line) {
	for _, l := range lines {
		if l.op == "" || strings.HasPrefix(l.op, ".") {
			continue
		}
		for _, a := range l.args {
			for _, reg := range regPattern.FindAllString(a, -1) {
				if !validRegs[reg] {
					v.addError(l.num, fmt.Sprintf("invalid register: %s", reg), l.text)
				}
			}
		}
	}
}

// validateLabels checks that labels are unique and every referenced label
// is defined
func (v *Validator) validateLabels(lines []line) {
	defined := make(map[string]int)
	for _, l := range lines {
		if l.label == "" {
			continue
		}
		if first, ok := defined[l.label]; ok {
			v.addError(l.num, fmt.Sprintf("label %s already defined at line %d", l.label, first), l.text)
			continue
		}
		defined[l.label] = l.num
	}

	ref := func(l line, name string) {
		if _, ok := defined[name]; !ok {
			v.addError(l.num, fmt.Sprintf("undefined label: %s", name), l.text)
		}
	}
	for _, l := range lines {
		switch {
		case len(l.args) == 0:
		case labelTargets[l.op], l.op == "la":
			ref(l, l.args[len(l.args)-1])
		case l.op == ".word":
			for _, a := range l.args {
				if labelPattern.MatchString(a) {
					ref(l, a)
				}
			}
		case l.op == "lw" || l.op == "sw":
			if a := l.args[1]; labelPattern.MatchString(a) {
				ref(l, a)
			}
		}
	}
}

// validateStackBalance walks code in order and checks that every jr $ra
// sees $sp back where the routine started. Program exits end a routine.
func (v *Validator) validateStackBalance(lines []line) {
	depth := 0
	exiting := false
	for _, l := range lines {
		switch l.op {
		case "addi", "addiu":
			if len(l.args) == 3 && l.args[0] == SP && l.args[1] == SP {
				n, err := strconv.Atoi(l.args[2])
				if err != nil {
					v.addError(l.num, "non-constant stack adjustment", l.text)
					continue
				}
				depth -= n
				if depth < 0 {
					v.addError(l.num, "stack released below routine entry", l.text)
					depth = 0
				}
			}
		case "jr":
			if len(l.args) == 1 && l.args[0] == RA {
				if depth != 0 {
					v.addError(l.num, fmt.Sprintf("unbalanced stack at return: %d bytes still allocated", depth), l.text)
				}
				depth = 0
			}
		case "li":
			exiting = len(l.args) == 2 && l.args[0] == V0 && l.args[1] == strconv.Itoa(SysExit)
			continue
		case "syscall":
			if exiting {
				depth = 0
			}
		}
		exiting = false
	}
}

// validateMemoryAddressing checks load/store operands
func (v *Validator) validateMemoryAddressing(lines []line) {
	for _, l := range lines {
		switch l.op {
		case "lw", "sw", "lb", "sb":
		default:
			continue
		}
		if len(l.args) != 2 {
			continue
		}
		addr := l.args[1]
		if !memPattern.MatchString(addr) && !labelPattern.MatchString(addr) {
			v.addError(l.num, fmt.Sprintf("invalid memory addressing mode: %s", addr), l.text)
		}
	}
}

// validateImmediates checks 16-bit immediate fields
func (v *Validator) validateImmediates(lines []line) {
	for _, l := range lines {
		if (l.op != "addi" && l.op != "addiu") || len(l.args) != 3 {
			continue
		}
		n, err := strconv.Atoi(l.args[2])
		if err != nil {
			v.addError(l.num, "immediate is not an integer", l.text)
			continue
		}
		if n < -32768 || n > 32767 {
			v.addWarn(l.num, fmt.Sprintf("immediate %d out of range for I-type instruction", n), l.text)
		}
	}
}

// detectRedundantMoves warns about moves that have no effect
func (v *Validator) detectRedundantMoves(lines []line) {
	for i, l := range lines {
		if l.op != "move" || len(l.args) != 2 {
			continue
		}
		if l.args[0] == l.args[1] {
			v.addWarn(l.num, fmt.Sprintf("redundant move: source and destination are identical (%s)", l.args[0]), l.text)
			continue
		}
		if l.args[0] == Zero {
			v.addWarn(l.num, "writing to zero register has no effect", l.text)
		}
		if i+1 < len(lines) && lines[i+1].text == l.text {
			v.addWarn(lines[i+1].num, "duplicate move instruction", lines[i+1].text)
		}
	}
}

// Helper functions

func (v *Validator) addError(line int, msg, code string) {
	v.errors = append(v.errors, ValidationError{Line: line, Message: msg, Code: code})
}

func (v *Validator) addWarn(line int, msg, code string) {
	v.warns = append(v.warns, ValidationError{Line: line, Message: msg, Code: code})
}

func (v *Validator) formatErrors() error {
	var sb strings.Builder
	sb.WriteString("Assembly validation failed:\n")
	for _, err := range v.errors {
		sb.WriteString("  " + err.Error() + "\n")
	}
	return fmt.Errorf("%s", sb.String())
}

func (v *Validator) logWarnings() {
	for _, warn := range v.warns {
		logger.Warn("Assembly validation warning", "line", warn.Line, "msg", warn.Message)
	}
}

// Warnings returns the warnings collected by the last Validate
func (v *Validator) Warnings() []ValidationError {
	return append([]ValidationError(nil), v.warns...)
}

// ValidateProgram validates an entire assembly program
func ValidateProgram(assembly string) error {
	return NewValidator().Validate(assembly)
}

// QuickValidate performs fast validation without detailed error reporting
func QuickValidate(assembly string) bool {
	return ValidateProgram(assembly) == nil
}

// ValidateAndReport validates and returns a detailed report
func ValidateAndReport(assembly string) (bool, string) {
	v := NewValidator()
	if err := v.Validate(assembly); err != nil {
		return false, err.Error()
	}
	if len(v.warns) > 0 {
		return true, fmt.Sprintf("valid with %d warnings", len(v.warns))
	}
	return true, "valid"
}

// Validate checks generated assembly; see Validator
func Validate(asm string) error { return ValidateProgram(asm) }
