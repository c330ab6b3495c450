package compiler

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/GriffinCanCode/lback/pkg/codegen/regalloc"
	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/layout"
	"github.com/GriffinCanCode/lback/pkg/spim"
)

func mustCompile(t *testing.T, p *ir.Program, classes []layout.Class) *Result {
	t.Helper()
	res, err := Compile(p, classes, DefaultOptions())
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}
	return res
}

func execute(t *testing.T, asm string) string {
	t.Helper()
	out, err := spim.RunString(context.Background(), asm, spim.Options{MaxSteps: 1_000_000})
	if err != nil {
		t.Fatalf("simulation failed: %v\n%s", err, asm)
	}
	return out
}

// ifProgram is x := 3; y := x + 4; if (y) { PrintInt(y); }
func ifProgram() *ir.Program {
	p := ir.NewProgram()
	skip := p.NewLabel("endif")
	p.Function("main")
	x := p.Local("x")
	y := p.Local("y")
	p.StoreVar(x, p.Const(3))
	p.StoreVar(y, p.Bin(ir.Add, p.LoadVar(x), p.Const(4)))
	p.Emit(ir.JumpIfZero{Cond: p.LoadVar(y), Target: skip})
	p.Emit(ir.PrintInt{Src: p.LoadVar(y)})
	p.Mark(skip)
	p.Emit(ir.FuncExit{})
	return p
}

func TestEndToEndIf(t *testing.T) {
	res := mustCompile(t, ifProgram(), nil)

	if got := execute(t, res.Assembly); got != "7 " {
		t.Errorf("output = %q, want %q", got, "7 ")
	}

	// The sum's destination interferes with both operands, which are
	// live into its defining command
	if got := res.Allocation.ColorsUsed(); got != 3 {
		t.Errorf("ColorsUsed() = %d, want 3", got)
	}
	branches := 0
	for _, n := range res.Graph.Nodes {
		if len(n.Succs) == 2 {
			branches++
		}
	}
	if branches != 1 {
		t.Errorf("found %d conditional nodes, want 1", branches)
	}
	if !res.Uninitialized.Empty() {
		t.Errorf("unexpected hazards: %v", res.Uninitialized.Names)
	}
}

// sumProgram defines f(n) = n + f(n-1), f(0) = 0 and prints f(4)
func sumProgram() *ir.Program {
	p := ir.NewProgram()
	base := p.NewLabel("base")
	end := p.NewLabel("end")

	n := p.Function("f", "n")[0]
	r := p.Local("r")
	p.Emit(ir.JumpIfZero{Cond: p.LoadVar(n), Target: base})
	p.StoreVar(r, p.CallFunc("f", p.Bin(ir.Sub, p.LoadVar(n), p.Const(1))))
	p.Emit(ir.Return{Value: p.Bin(ir.Add, p.LoadVar(n), p.LoadVar(r)), EndLabel: end})
	p.Mark(base)
	p.Emit(ir.Return{Value: p.Const(0), EndLabel: end})
	p.Mark(end)
	p.Emit(ir.FuncExit{})

	p.Function("main")
	p.Emit(ir.PrintInt{Src: p.CallFunc("f", p.Const(4))}, ir.FuncExit{})
	return p
}

func TestEndToEndRecursion(t *testing.T) {
	res := mustCompile(t, sumProgram(), nil)

	if !res.Frames.Recursive("f") || res.Frames.Recursive("main") {
		t.Fatal("only f should be recursive")
	}
	size := res.Frames.FrameSize("f")
	if size != 8 {
		t.Fatalf("FrameSize(f) = %d, want 8", size)
	}
	for _, want := range []string{
		"f:\n\taddi $sp,$sp,-8\n",
		"\taddi $sp,$sp,8\n\tjr $ra\n",
	} {
		if !strings.Contains(res.Assembly, want) {
			t.Errorf("missing %q", want)
		}
	}
	if got := execute(t, res.Assembly); got != "10 " {
		t.Errorf("output = %q, want %q", got, "10 ")
	}
}

func TestAllocationFailureEmitsNothing(t *testing.T) {
	p := ir.NewProgram()
	p.Function("main")
	var ts []ir.Temp
	for i := 0; i < 11; i++ {
		ts = append(ts, p.Const(i))
	}
	for _, tmp := range ts {
		p.Emit(ir.PrintInt{Src: tmp})
	}
	p.Emit(ir.FuncExit{})

	res, err := Compile(p, nil, DefaultOptions())
	if !IsAllocationFailure(err) {
		t.Fatalf("err = %v, want allocation failure", err)
	}
	if res != nil {
		t.Error("no result may be returned when allocation fails")
	}
}

func TestSmallBankFromOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Allocator.Available = []string{"$t0", "$t1"}
	_, err := Compile(ifProgram(), nil, opts)
	if !errors.Is(err, regalloc.ErrAllocationFailed) {
		t.Errorf("err = %v, want ErrAllocationFailed with two registers", err)
	}
}

func TestReservedRegisterRejected(t *testing.T) {
	opts := DefaultOptions()
	opts.Allocator.Available = []string{"$t0", "$t1", "$s0"}
	_, err := Compile(ifProgram(), nil, opts)
	if !errors.Is(err, regalloc.ErrBadBank) {
		t.Errorf("err = %v, want ErrBadBank", err)
	}
	if IsAllocationFailure(err) {
		t.Error("a bad bank is not an allocation failure")
	}
}

func TestRuntimeDiagnostics(t *testing.T) {
	tests := []struct {
		name  string
		build func(p *ir.Program)
		want  string
	}{
		{
			name: "division by zero",
			build: func(p *ir.Program) {
				p.Emit(ir.PrintInt{Src: p.Bin(ir.Div, p.Const(1), p.Const(0))})
			},
			want: "Illegal Division By Zero",
		},
		{
			name: "null field",
			build: func(p *ir.Program) {
				f := p.NewTemp()
				p.Emit(ir.LoadField{Dst: f, Base: p.Const(0), Offset: 4}, ir.PrintInt{Src: f})
			},
			want: "Invalid Pointer Dereference",
		},
		{
			name: "index past end",
			build: func(p *ir.Program) {
				arr := p.NewTemp()
				p.Emit(ir.AllocateArray{Dst: arr, Length: p.Const(2)})
				p.Emit(ir.StoreArray{Base: arr, Index: p.Const(5), Src: p.Const(1)})
			},
			want: "Access Violation",
		},
		{
			name: "negative index",
			build: func(p *ir.Program) {
				arr := p.NewTemp()
				p.Emit(ir.AllocateArray{Dst: arr, Length: p.Const(2)})
				v := p.NewTemp()
				p.Emit(ir.LoadArray{Dst: v, Base: arr, Index: p.Const(-1)}, ir.PrintInt{Src: v})
			},
			want: "Access Violation",
		},
		{
			name: "null string",
			build: func(p *ir.Program) {
				p.Emit(ir.PrintString{Src: p.Const(0)})
			},
			want: "Invalid Pointer Dereference",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ir.NewProgram()
			p.Function("main")
			tt.build(p)
			p.Emit(ir.PrintInt{Src: p.Const(99)}, ir.FuncExit{})

			out := execute(t, mustCompile(t, p, nil).Assembly)
			if !strings.Contains(out, tt.want) {
				t.Errorf("output = %q, want %q", out, tt.want)
			}
			if strings.Contains(out, "99") {
				t.Error("execution must stop at the runtime error")
			}
		})
	}
}

func TestArraysRoundTrip(t *testing.T) {
	p := ir.NewProgram()
	p.Function("main")
	arr := p.NewTemp()
	p.Emit(ir.AllocateArray{Dst: arr, Length: p.Const(3)})
	p.Emit(ir.StoreArray{Base: arr, Index: p.Const(2), Src: p.Const(42)})
	v := p.NewTemp()
	p.Emit(ir.LoadArray{Dst: v, Base: arr, Index: p.Const(2)})
	zero := p.NewTemp()
	p.Emit(ir.LoadArray{Dst: zero, Base: arr, Index: p.Const(0)})
	p.Emit(ir.PrintInt{Src: v}, ir.PrintInt{Src: zero}, ir.FuncExit{})

	if got := execute(t, mustCompile(t, p, nil).Assembly); got != "42 0 " {
		t.Errorf("output = %q", got)
	}
}

func TestClamp(t *testing.T) {
	p := ir.NewProgram()
	p.Function("main")
	big := p.Const(300)
	p.Emit(ir.PrintInt{Src: p.Bin(ir.Mul, big, big)})
	p.Emit(ir.PrintInt{Src: p.Bin(ir.Sub, p.Const(-30000), p.Const(30000))})
	p.Emit(ir.PrintInt{Src: p.Bin(ir.Add, p.Const(20), p.Const(22))})
	p.Emit(ir.FuncExit{})

	if got := execute(t, mustCompile(t, p, nil).Assembly); got != "32767 -32768 42 " {
		t.Errorf("output = %q", got)
	}
}

func TestComparisons(t *testing.T) {
	p := ir.NewProgram()
	p.Function("main")
	one, two := p.Const(1), p.Const(2)
	p.Emit(ir.PrintInt{Src: p.Bin(ir.Lt, one, two)})
	p.Emit(ir.PrintInt{Src: p.Bin(ir.Gt, one, two)})
	p.Emit(ir.PrintInt{Src: p.Bin(ir.Eq, two, two)})
	p.Emit(ir.FuncExit{})

	if got := execute(t, mustCompile(t, p, nil).Assembly); got != "1 0 1 " {
		t.Errorf("output = %q", got)
	}
}

func shapes() []layout.Class {
	return []layout.Class{
		{Name: "Shape", Fields: []string{"size"}, Methods: []string{"area", "name"}},
		{Name: "Circle", Father: "Shape", Methods: []string{"area"}},
	}
}

// method emits Class_name(this) returning the value built by body
func method(p *ir.Program, class, name string, body func(this ir.VarID) ir.Temp) {
	end := p.NewLabel("end")
	this := p.Function(ir.MethodLabel(class, name), "this")[0]
	p.Emit(ir.Return{Value: body(this), EndLabel: end})
	p.Mark(end)
	p.Emit(ir.FuncExit{})
}

func TestVirtualDispatch(t *testing.T) {
	classes := shapes()
	tab, err := layout.Build(classes)
	if err != nil {
		t.Fatal(err)
	}
	size, _ := tab.FieldOffset("Circle", "size")

	p := ir.NewProgram()
	p.Function("main")
	c := p.Local("c")
	obj := p.NewTemp()
	p.Emit(ir.AllocateClass{Dst: obj, Size: tab.Size("Circle"), Vtable: layout.VtableLabel("Circle")})
	p.Emit(ir.StoreField{Base: obj, Offset: size, Src: p.Const(5)})
	p.StoreVar(c, obj)
	for _, m := range []string{"area", "name"} {
		r := p.NewTemp()
		p.Emit(ir.Call{Dst: r, Receiver: c, Virtual: true, Slot: tab.Slot(m)})
		p.Emit(ir.PrintInt{Src: r})
	}
	p.Emit(ir.FuncExit{})

	method(p, "Shape", "area", func(ir.VarID) ir.Temp { return p.Const(1) })
	method(p, "Shape", "name", func(ir.VarID) ir.Temp { return p.Const(7) })
	method(p, "Circle", "area", func(this ir.VarID) ir.Temp {
		f := p.NewTemp()
		p.Emit(ir.LoadField{Dst: f, Base: p.LoadVar(this), Offset: size})
		return p.Bin(ir.Mul, f, f)
	})

	res := mustCompile(t, p, classes)
	if got := execute(t, res.Assembly); got != "25 7 " {
		t.Errorf("output = %q, want %q", got, "25 7 ")
	}
	// a virtual call may reach every implementation at its slot
	want := []string{"Shape_area", "Circle_area", "Shape_name"}
	if !reflect.DeepEqual(res.Frames.Calls("main"), want) {
		t.Errorf("Calls(main) = %v", res.Frames.Calls("main"))
	}
}

func TestStagedStores(t *testing.T) {
	classes := shapes()
	tab, err := layout.Build(classes)
	if err != nil {
		t.Fatal(err)
	}
	size, _ := tab.FieldOffset("Shape", "size")

	p := ir.NewProgram()
	p.Function("main")
	obj := p.NewTemp()
	p.Emit(ir.AllocateClass{Dst: obj, Size: tab.Size("Shape"), Vtable: layout.VtableLabel("Shape")})

	// obj.size := obj.name()
	p.Emit(ir.Stage{Op: ir.MoveBaseToS2, Temp: obj})
	p.Emit(ir.CallStoreField{Args: []ir.Temp{obj}, Offset: size, Virtual: true, Slot: tab.Slot("name")})
	first := p.NewTemp()
	p.Emit(ir.LoadField{Dst: first, Base: obj, Offset: size}, ir.PrintInt{Src: first})

	// obj.size := 3 through $s1
	p.Emit(ir.Stage{Op: ir.MoveToS1, Temp: obj})
	p.Emit(ir.Stage{Op: ir.PushS1})
	p.Emit(ir.Stage{Op: ir.PopS1})
	p.Emit(ir.StoreFieldBaseS1{Offset: size, Src: p.Const(3)})
	second := p.NewTemp()
	p.Emit(ir.LoadField{Dst: second, Base: obj, Offset: size}, ir.PrintInt{Src: second})

	// arr[1] := 8 through $s2
	arr := p.NewTemp()
	p.Emit(ir.AllocateArray{Dst: arr, Length: p.Const(2)})
	p.Emit(ir.Stage{Op: ir.MoveBaseToS2, Temp: arr})
	p.Emit(ir.StoreArrayBaseS2{Index: p.Const(1), Src: p.Const(8)})
	third := p.NewTemp()
	p.Emit(ir.LoadArray{Dst: third, Base: arr, Index: p.Const(1)}, ir.PrintInt{Src: third})
	p.Emit(ir.FuncExit{})

	method(p, "Shape", "area", func(ir.VarID) ir.Temp { return p.Const(1) })
	method(p, "Shape", "name", func(ir.VarID) ir.Temp { return p.Const(7) })

	if got := execute(t, mustCompile(t, p, classes).Assembly); got != "7 3 8 " {
		t.Errorf("output = %q, want %q", got, "7 3 8 ")
	}
}

func TestMethodSeesReceiverInS2(t *testing.T) {
	classes := []layout.Class{{Name: "Box", Fields: []string{"v"}, Methods: []string{"get"}}}
	tab, err := layout.Build(classes)
	if err != nil {
		t.Fatal(err)
	}
	off, _ := tab.FieldOffset("Box", "v")

	p := ir.NewProgram()
	p.Function("main")
	box := p.NewTemp()
	p.Emit(ir.AllocateClass{Dst: box, Size: tab.Size("Box"), Vtable: layout.VtableLabel("Box")})
	p.Emit(ir.StoreField{Base: box, Offset: off, Src: p.Const(11)})
	p.Emit(ir.Stage{Op: ir.MoveBaseToS2, Temp: box})
	r := p.NewTemp()
	p.Emit(ir.Call{Dst: r, Func: "Box_get", ReceiverInS2: true})
	p.Emit(ir.PrintInt{Src: r}, ir.FuncExit{})

	end := p.NewLabel("end")
	p.Function("Box_get", "this")
	p.Emit(ir.Stage{Op: ir.CopyA0ToS2})
	this := p.NewTemp()
	p.Emit(ir.Stage{Op: ir.LoadThis, Temp: this})
	v := p.NewTemp()
	p.Emit(ir.LoadField{Dst: v, Base: this, Offset: off})
	p.Emit(ir.Return{Value: v, EndLabel: end})
	p.Mark(end)
	p.Emit(ir.FuncExit{})

	if got := execute(t, mustCompile(t, p, classes).Assembly); got != "11 " {
		t.Errorf("output = %q, want %q", got, "11 ")
	}
}

func TestStrings(t *testing.T) {
	p := ir.NewProgram()
	p.Emit(ir.AllocateString{Label: "str_1", Value: "ab"})
	p.Emit(ir.AllocateString{Label: "str_2", Value: "cd\n"})
	p.Emit(ir.GlobalInitEnd{})
	p.Function("main")
	a, b := p.NewTemp(), p.NewTemp()
	p.Emit(ir.LoadAddress{Dst: a, Label: "str_1"}, ir.LoadAddress{Dst: b, Label: "str_2"})
	s := p.NewTemp()
	p.Emit(ir.Concat{Dst: s, Left: a, Right: b})
	p.Emit(ir.PrintString{Src: s}, ir.PrintString{Src: a}, ir.FuncExit{})

	if got := execute(t, mustCompile(t, p, nil).Assembly); got != "abcd\nab" {
		t.Errorf("output = %q", got)
	}
}

func TestGlobals(t *testing.T) {
	p := ir.NewProgram()
	g := p.Declare("g", ir.Global)
	p.Emit(ir.Allocate{Var: g})
	p.StoreVar(g, p.Const(5))
	p.Emit(ir.GlobalInitEnd{})
	p.Function("bump")
	p.StoreVar(g, p.Bin(ir.Add, p.LoadVar(g), p.Const(1)))
	p.Emit(ir.FuncExit{})
	p.Function("main")
	p.Emit(ir.Call{Func: "bump"})
	p.Emit(ir.PrintInt{Src: p.LoadVar(g)}, ir.FuncExit{})

	if got := execute(t, mustCompile(t, p, nil).Assembly); got != "6 " {
		t.Errorf("output = %q", got)
	}
}

func oneBranchProgram() *ir.Program {
	p := ir.NewProgram()
	join := p.NewLabel("join")
	p.Function("main")
	x := p.Local("x")
	p.Emit(ir.JumpIfZero{Cond: p.Const(1), Target: join})
	p.StoreVar(x, p.Const(2))
	p.Mark(join)
	p.Emit(ir.PrintInt{Src: p.LoadVar(x)}, ir.FuncExit{})
	return p
}

func TestUninitializedAdvisory(t *testing.T) {
	res := mustCompile(t, oneBranchProgram(), nil)
	if !reflect.DeepEqual(res.Uninitialized.Names, []string{"x"}) {
		t.Errorf("hazards = %v, want [x]", res.Uninitialized.Names)
	}
	if res.Assembly == "" {
		t.Error("advisory hazards must not block code generation")
	}
}

func TestUninitializedStrict(t *testing.T) {
	opts := DefaultOptions()
	opts.StrictUninitialized = true
	res, err := Compile(oneBranchProgram(), nil, opts)

	var ue *UninitializedError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %v, want *UninitializedError", err)
	}
	if !strings.Contains(ue.Error(), "x") {
		t.Errorf("Error() = %q", ue.Error())
	}
	if res == nil || res.Assembly != "" {
		t.Error("strict failure keeps the analysis result but emits no code")
	}
}

func TestCompilerReuse(t *testing.T) {
	c := New(DefaultOptions())
	first, err := c.Compile(sumProgram(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Compile(ifProgram(), nil); err != nil {
		t.Fatal(err)
	}
	again, err := c.Compile(sumProgram(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if first.Assembly != again.Assembly {
		t.Error("compiling the same program twice must give the same assembly")
	}
}

func TestCompileErrors(t *testing.T) {
	t.Run("bad hierarchy", func(t *testing.T) {
		_, err := Compile(ifProgram(), []layout.Class{{Name: "A", Father: "Missing"}}, DefaultOptions())
		if !errors.Is(err, layout.ErrHierarchy) {
			t.Errorf("err = %v", err)
		}
	})
	t.Run("unresolved jump", func(t *testing.T) {
		p := ir.NewProgram()
		p.Function("main")
		p.Emit(ir.Jump{Target: "Label_9_nowhere"})
		if _, err := Compile(p, nil, DefaultOptions()); err == nil {
			t.Error("expected a CFG error")
		}
	})
}
