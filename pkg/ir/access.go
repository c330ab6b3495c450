package ir

import "sort"

// Uses returns the temps c reads, ascending and without duplicates
func Uses(c Command) []Temp {
	switch c := c.(type) {
	case Store:
		return temps(c.Src)
	case LoadField:
		return temps(c.Base)
	case StoreField:
		return temps(c.Base, c.Src)
	case LoadArray:
		return temps(c.Base, c.Index)
	case StoreArray:
		return temps(c.Base, c.Index, c.Src)
	case StoreFieldBaseS1:
		return temps(c.Src)
	case StoreArrayBaseS2:
		return temps(c.Index, c.Src)
	case BinOp:
		return temps(c.Left, c.Right)
	case Concat:
		return temps(c.Left, c.Right)
	case JumpIfZero:
		return temps(c.Cond)
	case Call:
		return temps(c.Args...)
	case CallStoreField:
		return temps(c.Args...)
	case Return:
		return temps(c.Value)
	case AllocateArray:
		return temps(c.Length)
	case PrintInt:
		return temps(c.Src)
	case PrintString:
		return temps(c.Src)
	case Stage:
		switch c.Op {
		case MoveBaseToS2, MoveToS1, Push:
			return temps(c.Temp)
		}
	}
	return nil
}

// Defs returns the temps c writes
func Defs(c Command) []Temp {
	switch c := c.(type) {
	case ConstInt:
		return temps(c.Dst)
	case LoadAddress:
		return temps(c.Dst)
	case Load:
		return temps(c.Dst)
	case LoadField:
		return temps(c.Dst)
	case LoadArray:
		return temps(c.Dst)
	case BinOp:
		return temps(c.Dst)
	case Concat:
		return temps(c.Dst)
	case Call:
		return temps(c.Dst)
	case AllocateClass:
		return temps(c.Dst)
	case AllocateArray:
		return temps(c.Dst)
	case Stage:
		switch c.Op {
		case LoadThis, Pop:
			return temps(c.Temp)
		}
	}
	return nil
}

// LabelName returns the label c defines, or ""
func LabelName(c Command) string {
	if l, ok := c.(Label); ok {
		return l.Name
	}
	return ""
}

// JumpLabel returns the statically known control target of c, or ""
func JumpLabel(c Command) string {
	switch c := c.(type) {
	case Jump:
		return c.Target
	case JumpIfZero:
		return c.Target
	case Return:
		return c.EndLabel
	}
	return ""
}

// IsUnconditionalJump reports whether control never falls through c
func IsUnconditionalJump(c Command) bool {
	_, ok := c.(Jump)
	return ok
}

// IsConditionalJump reports whether c may branch or fall through
func IsConditionalJump(c Command) bool {
	_, ok := c.(JumpIfZero)
	return ok
}

// VarUse returns the variable whose value c reads, or 0
func VarUse(c Command) VarID {
	switch c := c.(type) {
	case Load:
		return c.Var
	case Stage:
		if c.Op == LoadVarToS2 {
			return c.Var
		}
	case Call:
		return c.Receiver
	}
	return 0
}

// VarDef returns the variable c writes or declares, or 0
func VarDef(c Command) VarID {
	switch c := c.(type) {
	case Allocate:
		return c.Var
	case Store:
		return c.Var
	case StoreParam:
		return c.Var
	case Stage:
		if c.Op == StoreS2ToVar {
			return c.Var
		}
	}
	return 0
}

// Callee returns the direct call target of c, or ""
func Callee(c Command) string {
	switch c := c.(type) {
	case Call:
		if !c.Virtual {
			return c.Func
		}
	case CallStoreField:
		if !c.Virtual {
			return c.Func
		}
	}
	return ""
}

// VirtualSlot returns the vtable slot dispatched by c, or -1
func VirtualSlot(c Command) int {
	switch c := c.(type) {
	case Call:
		if c.Virtual {
			return c.Slot
		}
	case CallStoreField:
		if c.Virtual {
			return c.Slot
		}
	}
	return -1
}

func temps(ts ...Temp) []Temp {
	var out []Temp
	for _, t := range ts {
		if !t.Valid() {
			continue
		}
		dup := false
		for _, o := range out {
			if o == t {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
