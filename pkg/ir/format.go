package ir

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Format renders c on one line. syms may be nil.
func Format(c Command, syms *Symbols) string {
	name := func(v VarID) string {
		if syms == nil {
			return v.String()
		}
		return syms.Name(v) + "#" + strconv.Itoa(int(v))
	}

	switch c := c.(type) {
	case ConstInt:
		return fmt.Sprintf("%s = %d", c.Dst, c.Value)
	case LoadAddress:
		return fmt.Sprintf("%s = &%s", c.Dst, c.Label)
	case AllocateString:
		return fmt.Sprintf("string %s %q", c.Label, c.Value)
	case Allocate:
		return "allocate " + name(c.Var)
	case Load:
		return fmt.Sprintf("%s = %s", c.Dst, name(c.Var))
	case Store:
		return fmt.Sprintf("%s = %s", name(c.Var), c.Src)
	case StoreParam:
		return fmt.Sprintf("%s = arg%d", name(c.Var), c.Index)
	case LoadField:
		return fmt.Sprintf("%s = %s[+%d]", c.Dst, c.Base, c.Offset)
	case StoreField:
		return fmt.Sprintf("%s[+%d] = %s", c.Base, c.Offset, c.Src)
	case LoadArray:
		return fmt.Sprintf("%s = %s[%s]", c.Dst, c.Base, c.Index)
	case StoreArray:
		return fmt.Sprintf("%s[%s] = %s", c.Base, c.Index, c.Src)
	case StoreFieldBaseS1:
		return fmt.Sprintf("$s1[+%d] = %s", c.Offset, c.Src)
	case StoreArrayBaseS2:
		return fmt.Sprintf("$s2[%s] = %s", c.Index, c.Src)
	case BinOp:
		return fmt.Sprintf("%s = %s %s %s", c.Dst, c.Op, c.Left, c.Right)
	case Concat:
		return fmt.Sprintf("%s = concat %s %s", c.Dst, c.Left, c.Right)
	case Label:
		return c.Name + ":"
	case Jump:
		return "jump " + c.Target
	case JumpIfZero:
		return fmt.Sprintf("jump_if_zero %s %s", c.Cond, c.Target)
	case Call:
		var b strings.Builder
		if c.Dst.Valid() {
			fmt.Fprintf(&b, "%s = ", c.Dst)
		}
		if c.Virtual {
			fmt.Fprintf(&b, "call_virtual #%d", c.Slot)
		} else {
			b.WriteString("call " + c.Func)
		}
		if c.Receiver != 0 {
			b.WriteString(" this=" + name(c.Receiver))
		}
		if c.ReceiverInS2 {
			b.WriteString(" this=$s2")
		}
		b.WriteString(formatArgs(c.Args))
		return b.String()
	case CallStoreField:
		target := "call " + c.Func
		if c.Virtual {
			target = fmt.Sprintf("call_virtual #%d", c.Slot)
		}
		return fmt.Sprintf("$s2[+%d] = %s%s", c.Offset, target, formatArgs(c.Args))
	case Return:
		if c.Value.Valid() {
			return fmt.Sprintf("return %s -> %s", c.Value, c.EndLabel)
		}
		return "return -> " + c.EndLabel
	case FuncExit:
		return "exit_function"
	case AllocateClass:
		return fmt.Sprintf("%s = new %d bytes %s", c.Dst, c.Size, c.Vtable)
	case AllocateArray:
		return fmt.Sprintf("%s = new_array %s", c.Dst, c.Length)
	case PrintInt:
		return fmt.Sprintf("print_int %s", c.Src)
	case PrintString:
		return fmt.Sprintf("print_string %s", c.Src)
	case GlobalInitEnd:
		return "global_init_end"
	case Stage:
		switch c.Op {
		case LoadVarToS2, StoreS2ToVar:
			return fmt.Sprintf("%s %s", c.Op, name(c.Var))
		case MoveBaseToS2, MoveToS1, LoadThis, Push, Pop:
			return fmt.Sprintf("%s %s", c.Op, c.Temp)
		}
		return c.Op.String()
	}
	return fmt.Sprintf("%T", c)
}

func formatArgs(args []Temp) string {
	if len(args) == 0 {
		return "()"
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// Dump writes the program listing to w
func (p *Program) Dump(w io.Writer) error {
	for i, c := range p.Commands {
		indent := "\t"
		if _, ok := c.(Label); ok {
			indent = ""
		}
		if _, err := fmt.Fprintf(w, "%4d %s%s\n", i, indent, Format(c, p.Symbols)); err != nil {
			return err
		}
	}
	return nil
}
