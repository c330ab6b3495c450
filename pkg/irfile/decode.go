package irfile

import (
	"fmt"

	"github.com/GriffinCanCode/lback/pkg/ir"
)

type decoder struct {
	vars    map[int]ir.VarID
	maxTemp ir.Temp
}

// temp reads a required temp operand
func (d *decoder) temp(n int, field string) (ir.Temp, error) {
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s must be a temp >= 1", ErrOperand, field)
	}
	return d.optTemp(n), nil
}

// optTemp reads an operand where 0 means absent
func (d *decoder) optTemp(n int) ir.Temp {
	t := ir.Temp(n)
	if t > d.maxTemp {
		d.maxTemp = t
	}
	return t
}

func (d *decoder) temps(ns []int, field string) ([]ir.Temp, error) {
	out := make([]ir.Temp, len(ns))
	for i, n := range ns {
		t, err := d.temp(n, field)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func (d *decoder) variable(id int) (ir.VarID, error) {
	v, ok := d.vars[id]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUndeclaredVar, id)
	}
	return v, nil
}

func required(s, field string) error {
	if s == "" {
		return fmt.Errorf("%w: %s is required", ErrOperand, field)
	}
	return nil
}

// command builds one IR command. Errors from operand reads are collected
// through the closures so each case reads as a constructor.
func (d *decoder) command(c cmdDecl) (ir.Command, error) {
	var err error
	t := func(n int, field string) ir.Temp {
		if err != nil {
			return 0
		}
		var v ir.Temp
		v, err = d.temp(n, field)
		return v
	}
	ts := func(ns []int) []ir.Temp {
		if err != nil {
			return nil
		}
		var v []ir.Temp
		v, err = d.temps(ns, "args")
		return v
	}
	vr := func(id int) ir.VarID {
		if err != nil {
			return 0
		}
		var v ir.VarID
		v, err = d.variable(id)
		return v
	}
	req := func(s, field string) string {
		if err == nil {
			err = required(s, field)
		}
		return s
	}
	optVar := func(id int) ir.VarID {
		if id == 0 {
			return 0
		}
		return vr(id)
	}

	var cmd ir.Command
	switch c.Op {
	case "const":
		cmd = ir.ConstInt{Dst: t(c.Dst, "dst"), Value: c.Value}
	case "load_address":
		cmd = ir.LoadAddress{Dst: t(c.Dst, "dst"), Label: req(c.Label, "label")}
	case "string":
		cmd = ir.AllocateString{Label: req(c.Label, "label"), Value: c.Text}
	case "allocate":
		cmd = ir.Allocate{Var: vr(c.Var)}
	case "load":
		cmd = ir.Load{Dst: t(c.Dst, "dst"), Var: vr(c.Var)}
	case "store":
		cmd = ir.Store{Var: vr(c.Var), Src: t(c.Src, "src")}
	case "store_param":
		cmd = ir.StoreParam{Var: vr(c.Var), Index: c.Index}
	case "load_field":
		cmd = ir.LoadField{Dst: t(c.Dst, "dst"), Base: t(c.Base, "base"), Offset: c.Offset}
	case "store_field":
		cmd = ir.StoreField{Base: t(c.Base, "base"), Offset: c.Offset, Src: t(c.Src, "src")}
	case "store_field_s1":
		cmd = ir.StoreFieldBaseS1{Offset: c.Offset, Src: t(c.Src, "src")}
	case "load_array":
		cmd = ir.LoadArray{Dst: t(c.Dst, "dst"), Base: t(c.Base, "base"), Index: t(c.Index, "index")}
	case "store_array":
		cmd = ir.StoreArray{Base: t(c.Base, "base"), Index: t(c.Index, "index"), Src: t(c.Src, "src")}
	case "store_array_s2":
		cmd = ir.StoreArrayBaseS2{Index: t(c.Index, "index"), Src: t(c.Src, "src")}
	case "concat":
		cmd = ir.Concat{Dst: t(c.Dst, "dst"), Left: t(c.Left, "left"), Right: t(c.Right, "right")}
	case "label":
		cmd = ir.Label{Name: req(c.Label, "label")}
	case "jump":
		cmd = ir.Jump{Target: req(c.Target, "target")}
	case "jump_if_zero":
		cmd = ir.JumpIfZero{Cond: t(c.Cond, "cond"), Target: req(c.Target, "target")}
	case "call":
		cmd = ir.Call{
			Dst:          d.optTemp(c.Dst),
			Func:         c.Func,
			Args:         ts(c.Args),
			Receiver:     optVar(c.Receiver),
			ReceiverInS2: c.ReceiverS2,
			Virtual:      c.Virtual,
			Slot:         c.Slot,
		}
		if !c.Virtual {
			req(c.Func, "func")
		}
	case "call_store_field":
		cmd = ir.CallStoreField{Func: c.Func, Args: ts(c.Args), Offset: c.Offset, Virtual: c.Virtual, Slot: c.Slot}
		if !c.Virtual {
			req(c.Func, "func")
		}
	case "return":
		cmd = ir.Return{Value: d.optTemp(c.Src), EndLabel: req(c.Target, "target")}
	case "func_exit":
		cmd = ir.FuncExit{}
	case "new":
		cmd = ir.AllocateClass{Dst: t(c.Dst, "dst"), Size: c.Size, Vtable: c.Vtable}
	case "new_array":
		cmd = ir.AllocateArray{Dst: t(c.Dst, "dst"), Length: t(c.Length, "length")}
	case "print_int":
		cmd = ir.PrintInt{Src: t(c.Src, "src")}
	case "print_string":
		cmd = ir.PrintString{Src: t(c.Src, "src")}
	case "global_init_end":
		cmd = ir.GlobalInitEnd{}
	default:
		if op, ok := ir.ParseOp(c.Op); ok {
			cmd = ir.BinOp{Dst: t(c.Dst, "dst"), Op: op, Left: t(c.Left, "left"), Right: t(c.Right, "right")}
			break
		}
		if op, ok := ir.ParseStageOp(c.Op); ok {
			cmd, err = d.stage(op, c)
			break
		}
		return nil, fmt.Errorf("%w %q", ErrUnknownOp, c.Op)
	}

	if err != nil {
		return nil, err
	}
	return cmd, nil
}

// stage decodes a staging pseudo-op; each op reads either a temp or a var
func (d *decoder) stage(op ir.StageOp, c cmdDecl) (ir.Command, error) {
	s := ir.Stage{Op: op}
	switch op {
	case ir.MoveBaseToS2, ir.MoveToS1, ir.Push:
		t, err := d.temp(c.Src, "src")
		if err != nil {
			return nil, err
		}
		s.Temp = t
	case ir.LoadThis, ir.Pop:
		t, err := d.temp(c.Dst, "dst")
		if err != nil {
			return nil, err
		}
		s.Temp = t
	case ir.LoadVarToS2, ir.StoreS2ToVar:
		v, err := d.variable(c.Var)
		if err != nil {
			return nil, err
		}
		s.Var = v
	}
	return s, nil
}
