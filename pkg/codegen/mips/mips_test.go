package mips

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/GriffinCanCode/lback/pkg/cfg"
	"github.com/GriffinCanCode/lback/pkg/codegen/regalloc"
	"github.com/GriffinCanCode/lback/pkg/frame"
	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/layout"
)

func lowerProgram(p *ir.Program, classes *layout.Table) (string, error) {
	g, err := cfg.Build(p.Commands)
	if err != nil {
		return "", err
	}
	alloc, err := regalloc.Allocate(g)
	if err != nil {
		return "", err
	}
	frames := frame.Analyze(p.Commands, frame.Options{WordSize: WordSize, Classes: classes})
	return Generate(p, Config{Allocation: alloc, Frames: frames, Classes: classes})
}

// generate lowers p and validates the result
func generate(t *testing.T, p *ir.Program, classes *layout.Table) string {
	t.Helper()
	asm, err := lowerProgram(p, classes)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if err := ValidateProgram(asm); err != nil {
		t.Fatalf("generated assembly failed validation: %v\n%s", err, asm)
	}
	return asm
}

func mustMatch(t *testing.T, asm, pattern string) {
	t.Helper()
	if !regexp.MustCompile(pattern).MatchString(asm) {
		t.Errorf("assembly does not match %q:\n%s", pattern, asm)
	}
}

func straightLine() *ir.Program {
	p := ir.NewProgram()
	p.Function("main")
	x := p.Local("x")
	p.StoreVar(x, p.Const(3))
	sum := p.Bin(ir.Add, p.LoadVar(x), p.Const(4))
	p.Emit(ir.PrintInt{Src: sum}, ir.FuncExit{})
	return p
}

func TestGenerateStraightLine(t *testing.T) {
	asm := generate(t, straightLine(), nil)

	for _, want := range []string{
		".data\n",
		".text\n",
		"main:\n",
		"\tj main_actual\n",
		"main_actual:\n",
		"var_1: .word 0\n",
		"\tli $s0,32767\n",
		"\tli $s0,-32768\n",
		"\tli $v0,1\n",
		"\tli $a0,32\n",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("missing %q in:\n%s", want, asm)
		}
	}
	mustMatch(t, asm, `sw \$t\d,var_1`)
	mustMatch(t, asm, `add \$t\d,\$t\d,\$t\d`)
	if strings.Index(asm, "main:") > strings.Index(asm, "main_actual:") {
		t.Error("program entry must precede main_actual")
	}
}

func TestGlobalInitRunsBeforeMain(t *testing.T) {
	p := ir.NewProgram()
	g := p.Declare("g", ir.Global)
	p.Emit(ir.Allocate{Var: g})
	p.StoreVar(g, p.Const(5))
	p.Emit(ir.GlobalInitEnd{})
	p.Function("main")
	p.Emit(ir.PrintInt{Src: p.LoadVar(g)}, ir.FuncExit{})

	asm := generate(t, p, nil)
	store := strings.Index(asm, "li $t")
	jump := strings.Index(asm, "j main_actual")
	if store < 0 || store > jump {
		t.Errorf("global init should come before the jump to main:\n%s", asm)
	}
}

func TestRecursiveFrame(t *testing.T) {
	p := ir.NewProgram()
	end := p.NewLabel("end")
	params := p.Function("fact", "n")
	acc := p.Local("acc")
	p.StoreVar(acc, p.LoadVar(params[0]))
	r := p.CallFunc("fact", p.LoadVar(acc))
	p.Emit(ir.Return{Value: r, EndLabel: end}, ir.Label{Name: end}, ir.FuncExit{})
	p.Function("main")
	p.Emit(ir.PrintInt{Src: p.CallFunc("fact", p.Const(3))}, ir.FuncExit{})

	asm := generate(t, p, nil)
	for _, want := range []string{
		"\t# function fact, recursive, frame 8 bytes\nfact:\n\taddi $sp,$sp,-8\n\tsw $a0,0($sp)\n",
		"\taddi $sp,$sp,8\n\tjr $ra\n",
		"\t# function main\nmain_actual:\n",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("missing %q in:\n%s", want, asm)
		}
	}
	// acc sits at 4 and is read back inside the call sequence
	mustMatch(t, asm, `sw \$t\d,4\(\$sp\)`)
}

func TestFrameOffsetsFollowPushes(t *testing.T) {
	p := ir.NewProgram()
	end := p.NewLabel("end")
	params := p.Function("walk", "self")
	p.Emit(ir.Call{Func: "walk", Receiver: params[0]})
	p.Emit(ir.Return{EndLabel: end}, ir.Label{Name: end}, ir.FuncExit{})
	p.Function("main")
	p.Emit(ir.FuncExit{})

	asm := generate(t, p, nil)
	// self is at 0 from entry; the caller-save area adds 52
	if !strings.Contains(asm, "\tlw $a0,52($sp)\n") {
		t.Errorf("receiver not addressed past the caller-save area:\n%s", asm)
	}
}

func TestCallerSaveArea(t *testing.T) {
	p := ir.NewProgram()
	p.Function("id", "x")
	p.Emit(ir.FuncExit{})
	p.Function("main")
	p.Emit(ir.PrintInt{Src: p.CallFunc("id", p.Const(1))}, ir.FuncExit{})

	asm := generate(t, p, nil)
	for _, want := range []string{
		"\taddi $sp,$sp,-52\n",
		"\tsw $t0,0($sp)\n",
		"\tsw $t9,36($sp)\n",
		"\tsw $ra,40($sp)\n",
		"\tsw $s1,44($sp)\n",
		"\tsw $s2,48($sp)\n",
		"\tjal id\n",
		"\tlw $s2,48($sp)\n",
		"\taddi $sp,$sp,52\n",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("missing %q", want)
		}
	}
	mustMatch(t, asm, `move \$a0,\$t\d`)
	mustMatch(t, asm, `move \$t\d,\$v0`)
}

func TestRuntimeChecks(t *testing.T) {
	p := ir.NewProgram()
	p.Function("main")
	arr := p.NewTemp()
	p.Emit(ir.AllocateArray{Dst: arr, Length: p.Const(3)})
	elem := p.NewTemp()
	p.Emit(ir.LoadArray{Dst: elem, Base: arr, Index: p.Const(1)})
	obj := p.NewTemp()
	p.Emit(ir.AllocateClass{Dst: obj, Size: 8})
	field := p.NewTemp()
	p.Emit(ir.LoadField{Dst: field, Base: obj, Offset: 4})
	q := p.Bin(ir.Div, elem, field)
	p.Emit(ir.PrintInt{Src: q}, ir.FuncExit{})

	asm := generate(t, p, nil)
	mustMatch(t, asm, `beq \$t\d,\$zero,ptr_error`)
	mustMatch(t, asm, `blt \$t\d,\$zero,bounds_error`)
	mustMatch(t, asm, `bge \$t\d,\$s0,bounds_error`)
	mustMatch(t, asm, `beq \$t\d,\$zero,div_error`)
	mustMatch(t, asm, `lw \$t\d,4\(\$s0\)`)
	for _, want := range []string{
		"ptr_error:\n", "bounds_error:\n", "div_error:\n",
		MsgPtrError, MsgBoundsError, MsgDivError,
		"jal rt_alloc_array\n", "jal rt_alloc_object\n",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestComparisonProducesBoolean(t *testing.T) {
	p := ir.NewProgram()
	p.Function("main")
	p.Emit(ir.PrintInt{Src: p.Bin(ir.Lt, p.Const(1), p.Const(2))}, ir.FuncExit{})

	asm := generate(t, p, nil)
	mustMatch(t, asm, `blt \$t\d,\$t\d,cg_\d+_true`)
	mustMatch(t, asm, `li \$t\d,0\n\tj cg_\d+_done`)
	if strings.Contains(asm, "li $s0,32767") {
		t.Error("comparisons must not be clamped")
	}
}

func classes(t *testing.T) *layout.Table {
	t.Helper()
	tab, err := layout.Build([]layout.Class{
		{Name: "Shape", Fields: []string{"id"}, Methods: []string{"area"}},
		{Name: "Circle", Father: "Shape", Methods: []string{"grow"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return tab
}

func method(p *ir.Program, name string) {
	end := p.NewLabel("end")
	p.Function(name, "this")
	p.Emit(ir.Return{Value: p.Const(1), EndLabel: end}, ir.Label{Name: end}, ir.FuncExit{})
}

func virtualProgram(tab *layout.Table) *ir.Program {
	p := ir.NewProgram()
	p.Function("main")
	obj := p.NewTemp()
	p.Emit(ir.AllocateClass{Dst: obj, Size: tab.Size("Circle"), Vtable: layout.VtableLabel("Circle")})
	r := p.NewTemp()
	p.Emit(ir.Call{Dst: r, Args: []ir.Temp{obj}, Virtual: true, Slot: tab.Slot("grow")})
	p.Emit(ir.PrintInt{Src: r}, ir.FuncExit{})
	method(p, "Shape_area")
	method(p, "Circle_grow")
	return p
}

func TestVtablesKeepEmptySlots(t *testing.T) {
	tab := classes(t)
	asm := generate(t, virtualProgram(tab), tab)

	for _, want := range []string{
		"vtable_Shape:\n\t.word Shape_area\n\t.word 0\n",
		"vtable_Circle:\n\t.word Shape_area\n\t.word Circle_grow\n",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("missing %q in:\n%s", want, asm)
		}
	}
}

func TestVirtualCall(t *testing.T) {
	tab := classes(t)
	asm := generate(t, virtualProgram(tab), tab)

	want := "\tbeq $a0,$zero,ptr_error\n" +
		"\tlw $t0,0($a0)\n" +
		"\tbeq $t0,$zero,ptr_error\n" +
		"\tlw $t0,4($t0)\n" +
		"\tbeq $t0,$zero,ptr_error\n" +
		"\tjalr $t0\n"
	if !strings.Contains(asm, want) {
		t.Errorf("virtual dispatch sequence missing:\n%s", asm)
	}
	if !strings.Contains(asm, "\tla $a1,vtable_Circle\n") {
		t.Error("object allocation should install the vtable")
	}
}

func TestCallStoreField(t *testing.T) {
	p := ir.NewProgram()
	p.Function("seven")
	p.Emit(ir.FuncExit{})
	p.Function("main")
	obj := p.NewTemp()
	p.Emit(ir.AllocateClass{Dst: obj, Size: 8})
	p.Emit(ir.Stage{Op: ir.MoveBaseToS2, Temp: obj})
	p.Emit(ir.CallStoreField{Func: "seven", Offset: 4})
	p.Emit(ir.FuncExit{})

	asm := generate(t, p, nil)
	if !strings.Contains(asm, "\tbeq $s2,$zero,ptr_error\n\tsw $v0,4($s2)\n") {
		t.Errorf("result not stored through $s2:\n%s", asm)
	}
}

func TestStagingTracksStack(t *testing.T) {
	p := ir.NewProgram()
	end := p.NewLabel("end")
	params := p.Function("f", "a")
	v := p.LoadVar(params[0])
	p.Emit(ir.Stage{Op: ir.Push, Temp: v})
	p.Emit(ir.Stage{Op: ir.LoadVarToS2, Var: params[0]})
	back := p.NewTemp()
	p.Emit(ir.Stage{Op: ir.Pop, Temp: back})
	p.Emit(ir.Call{Func: "f", Args: []ir.Temp{back}})
	p.Emit(ir.Return{EndLabel: end}, ir.Label{Name: end}, ir.FuncExit{})
	p.Function("main")
	p.Emit(ir.FuncExit{})

	asm := generate(t, p, nil)
	if !strings.Contains(asm, "\tlw $s2,4($sp)\n") {
		t.Errorf("frame slot not shifted by the push:\n%s", asm)
	}
}

func TestGenerateErrors(t *testing.T) {
	t.Run("too many args", func(t *testing.T) {
		p := ir.NewProgram()
		p.Function("main")
		args := []ir.Temp{p.Const(1), p.Const(2), p.Const(3), p.Const(4), p.Const(5)}
		p.Emit(ir.Call{Func: "main", Args: args}, ir.FuncExit{})
		if _, err := lowerProgram(p, nil); !errors.Is(err, ErrTooManyArgs) {
			t.Errorf("err = %v, want ErrTooManyArgs", err)
		}
	})
	t.Run("receiver leaves three", func(t *testing.T) {
		p := ir.NewProgram()
		p.Function("main")
		self := p.Local("self")
		args := []ir.Temp{p.Const(1), p.Const(2), p.Const(3), p.Const(4)}
		p.Emit(ir.Call{Func: "main", Receiver: self, Args: args}, ir.FuncExit{})
		if _, err := lowerProgram(p, nil); !errors.Is(err, ErrTooManyArgs) {
			t.Errorf("err = %v, want ErrTooManyArgs", err)
		}
	})
	t.Run("no main", func(t *testing.T) {
		p := ir.NewProgram()
		p.Function("f")
		p.Emit(ir.FuncExit{})
		if _, err := lowerProgram(p, nil); !errors.Is(err, ErrNoEntry) {
			t.Errorf("err = %v, want ErrNoEntry", err)
		}
	})
	t.Run("unallocated temp", func(t *testing.T) {
		p := ir.NewProgram()
		p.Function("main")
		p.Emit(ir.PrintInt{Src: 1}, ir.FuncExit{})
		_, err := Generate(p, Config{Frames: frame.Analyze(p.Commands, frame.Options{})})
		if !errors.Is(err, ErrNoRegister) {
			t.Errorf("err = %v, want ErrNoRegister", err)
		}
	})
}

func TestStringsAndConcat(t *testing.T) {
	p := ir.NewProgram()
	p.Emit(ir.AllocateString{Label: "str_1", Value: "say \"hi\"\n"})
	p.Function("main")
	a := p.NewTemp()
	p.Emit(ir.LoadAddress{Dst: a, Label: "str_1"})
	s := p.NewTemp()
	p.Emit(ir.Concat{Dst: s, Left: a, Right: a})
	p.Emit(ir.PrintString{Src: s}, ir.FuncExit{})

	asm := generate(t, p, nil)
	for _, want := range []string{
		`str_1: .asciiz "say \"hi\"\n"`,
		"\tla $t",
		"\tjal rt_concat\n",
		"rt_concat:\n",
		"\tli $v0,4\n",
	} {
		if !strings.Contains(asm, want) {
			t.Errorf("missing %q", want)
		}
	}
}

func TestEscapeString(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a\nb", `a\nb`},
		{`q"`, `q\"`},
		{`back\`, `back\\`},
		{"tab\t", `tab\t`},
	}
	for _, tt := range tests {
		if got := EscapeString(tt.in); got != tt.want {
			t.Errorf("EscapeString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmitterFinalize(t *testing.T) {
	e := NewEmitter()
	e.Word("var_1", 0)
	e.Word("var_1", 0)
	e.Label("main")
	e.Move(A0, A0)
	e.LoadImm(A0, 7)

	var sb strings.Builder
	if err := e.Finalize(&sb); err != nil {
		t.Fatal(err)
	}
	want := ".data\nvar_1: .word 0\n.text\nmain:\n\tli $a0,7\n\tli $v0,10\n\tsyscall\n"
	if sb.String() != want {
		t.Errorf("Finalize() =\n%s\nwant\n%s", sb.String(), want)
	}
	if e.Instructions() != 3 {
		t.Errorf("Instructions() = %d, want 3", e.Instructions())
	}
}
