package mips

// emitRuntime writes the error handlers and allocation helpers shared by
// all generated code. Helpers take arguments in $a0/$a1, return in $v0 and
// use only $a0-$a3, $v0 and $s0 besides their own stack.
func (g *Generator) emitRuntime() {
	e := g.e

	for _, h := range []struct{ label, msg string }{
		{PtrError, "msg_ptr_error"},
		{BoundsError, "msg_bounds_error"},
		{DivError, "msg_div_error"},
	} {
		e.Label(h.label)
		e.LoadAddr(A0, h.msg)
		e.Syscall(SysPrintString)
		e.Syscall(SysExit)
	}

	// rt_alloc: $a0 = bytes
	e.Label(RtAlloc)
	e.Syscall(SysSbrk)
	e.Return()

	// rt_alloc_object: $a0 = size, $a1 = vtable
	e.Label(RtAllocObject)
	e.Syscall(SysSbrk)
	e.Store(A1, Offset(0, V0))
	e.Return()

	// rt_alloc_array: $a0 = length; the length word precedes the elements
	e.Label(RtAllocArray)
	e.Branch("blt", A0, Zero, BoundsError)
	e.Move(A1, A0)
	e.ShiftLeft(A0, A0, 2)
	e.AddImm(A0, A0, WordSize)
	e.Syscall(SysSbrk)
	e.Store(A1, Offset(0, V0))
	e.Return()

	g.emitConcat()
}

// emitConcat writes rt_concat: $a0, $a1 = strings, $v0 = fresh copy of
// both. Frame: $ra at 0, left at 4, right at 8.
func (g *Generator) emitConcat() {
	e := g.e
	strlen := func(src, loop, done string) {
		e.Move(A3, src)
		e.Label(loop)
		e.LoadByte(S0, Offset(0, A3))
		e.Branch("beq", S0, Zero, done)
		e.AddImm(A2, A2, 1)
		e.AddImm(A3, A3, 1)
		e.Jump(loop)
		e.Label(done)
	}
	copyStr := func(slot int, loop, done string) {
		e.Load(A3, Offset(slot, SP))
		e.Label(loop)
		e.LoadByte(S0, Offset(0, A3))
		e.Branch("beq", S0, Zero, done)
		e.StoreByte(S0, Offset(0, A0))
		e.AddImm(A3, A3, 1)
		e.AddImm(A0, A0, 1)
		e.Jump(loop)
		e.Label(done)
	}

	e.Label(RtConcat)
	e.Branch("beq", A0, Zero, PtrError)
	e.Branch("beq", A1, Zero, PtrError)
	e.AdjustSP(-3 * WordSize)
	e.Store(RA, Offset(0, SP))
	e.Store(A0, Offset(4, SP))
	e.Store(A1, Offset(8, SP))

	e.LoadImm(A2, 0)
	strlen(A0, "rt_concat_len1", "rt_concat_len1_done")
	strlen(A1, "rt_concat_len2", "rt_concat_len2_done")

	e.AddImm(A0, A2, 1)
	e.Call(RtAlloc)
	e.Move(A0, V0)
	copyStr(4, "rt_concat_copy1", "rt_concat_copy1_done")
	copyStr(8, "rt_concat_copy2", "rt_concat_copy2_done")
	e.StoreByte(Zero, Offset(0, A0))

	e.Load(RA, Offset(0, SP))
	e.AdjustSP(3 * WordSize)
	e.Return()
}
