package dfa

import (
	"errors"
	"reflect"
	"testing"

	"github.com/GriffinCanCode/lback/pkg/cfg"
	"github.com/GriffinCanCode/lback/pkg/ir"
)

func analyze(t *testing.T, p *ir.Program) *Report {
	t.Helper()
	g, err := cfg.Build(p.Commands)
	if err != nil {
		t.Fatalf("cfg.Build() error = %v", err)
	}
	r, err := Analyze(g, p.Symbols, 0)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	return r
}

// branchy builds: x declared; if (c) { x := 1 } [else { x := 2 }]; print x
func branchy(bothBranches bool) *ir.Program {
	p := ir.NewProgram()
	p.Mark("main")
	x := p.Local("x")
	c := p.Const(0)
	elseL, endL := p.NewLabel("else"), p.NewLabel("end")
	p.Emit(ir.JumpIfZero{Cond: c, Target: elseL})
	p.StoreVar(x, p.Const(1))
	p.Emit(ir.Jump{Target: endL})
	p.Mark(elseL)
	if bothBranches {
		p.StoreVar(x, p.Const(2))
	}
	p.Mark(endL)
	p.Emit(ir.PrintInt{Src: p.LoadVar(x)})
	return p
}

func TestJoinRequiresEveryPath(t *testing.T) {
	tests := []struct {
		name string
		prog *ir.Program
		want []string
	}{
		{"written on one branch", branchy(false), []string{"x"}},
		{"written on both branches", branchy(true), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := analyze(t, tt.prog)
			if !reflect.DeepEqual(r.Names, tt.want) {
				t.Errorf("Names = %v, want %v", r.Names, tt.want)
			}
		})
	}
}

func TestStoreOfUninitializedValue(t *testing.T) {
	p := ir.NewProgram()
	p.Mark("main")
	x := p.Local("x")
	y := p.Local("y")
	p.StoreVar(y, p.LoadVar(x)) // y := x, x never written
	p.Emit(ir.PrintInt{Src: p.LoadVar(y)})

	r := analyze(t, p)
	if want := []string{"x", "y"}; !reflect.DeepEqual(r.Names, want) {
		t.Errorf("Names = %v, want %v", r.Names, want)
	}
	if len(r.Hazards) != 2 {
		t.Errorf("Hazards = %+v", r.Hazards)
	}
}

func TestBinopNeedsBothOperands(t *testing.T) {
	p := ir.NewProgram()
	p.Mark("main")
	x := p.Local("x")
	y := p.Local("y")
	sum := p.Bin(ir.Add, p.LoadVar(x), p.Const(1))
	p.StoreVar(y, sum)
	p.Emit(ir.PrintInt{Src: p.LoadVar(y)})

	r := analyze(t, p)
	if want := []string{"x", "y"}; !reflect.DeepEqual(r.Names, want) {
		t.Errorf("Names = %v, want %v", r.Names, want)
	}
}

func TestAllocateResetsVariable(t *testing.T) {
	p := ir.NewProgram()
	p.Mark("main")
	x := p.Local("x")
	p.StoreVar(x, p.Const(1))
	p.Emit(ir.Allocate{Var: x})
	p.Emit(ir.PrintInt{Src: p.LoadVar(x)})

	if r := analyze(t, p); !reflect.DeepEqual(r.Names, []string{"x"}) {
		t.Errorf("Names = %v, want [x]", r.Names)
	}
}

func TestParamsAndCallResultsAreInitialized(t *testing.T) {
	p := ir.NewProgram()
	params := p.Function("f", "n")
	r := p.Local("r")
	res := p.CallFunc("g", p.LoadVar(params[0]))
	p.StoreVar(r, res)
	p.Emit(ir.PrintInt{Src: p.LoadVar(r)})
	p.Mark("g")
	p.Emit(ir.FuncExit{})

	if rep := analyze(t, p); !rep.Empty() {
		t.Errorf("unexpected hazards %+v", rep.Hazards)
	}
}

func TestShadowedNamesReportOriginalSpelling(t *testing.T) {
	p := ir.NewProgram()
	p.Mark("main")
	outer := p.Local("x")
	p.StoreVar(outer, p.Const(1))
	inner := p.Local("x")
	p.Emit(ir.PrintInt{Src: p.LoadVar(inner)})
	p.Emit(ir.PrintInt{Src: p.LoadVar(outer)})

	r := analyze(t, p)
	if !reflect.DeepEqual(r.Names, []string{"x"}) {
		t.Errorf("Names = %v", r.Names)
	}
	if !reflect.DeepEqual(r.Vars, []ir.VarID{inner}) {
		t.Errorf("Vars = %v, want only the inner slot %v", r.Vars, inner)
	}
}

func TestLoopCarriedInitialization(t *testing.T) {
	p := ir.NewProgram()
	p.Mark("main")
	i := p.Local("i")
	p.StoreVar(i, p.Const(3))
	loop, done := p.NewLabel("loop"), p.NewLabel("done")
	p.Mark(loop)
	cur := p.LoadVar(i)
	p.Emit(ir.JumpIfZero{Cond: cur, Target: done})
	p.StoreVar(i, p.Bin(ir.Sub, p.LoadVar(i), p.Const(1)))
	p.Emit(ir.Jump{Target: loop})
	p.Mark(done)

	if r := analyze(t, p); !r.Empty() {
		t.Errorf("unexpected hazards %v", r.Names)
	}
}

func TestIterationCap(t *testing.T) {
	p := branchy(true)
	g, err := cfg.Build(p.Commands)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Analyze(g, p.Symbols, 1); !errors.Is(err, ErrNoFixpoint) {
		t.Errorf("error = %v, want ErrNoFixpoint", err)
	}
}
