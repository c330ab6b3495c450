// Package frame decides where every parameter and local lives.
//
// Functions are the command ranges opened by non-generated labels. A call
// graph over those ranges marks functions that can reach themselves as
// recursive; only they get a stack frame, everything else is static
// storage shared by all activations.
package frame

import (
	"sort"

	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/layout"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

// Class is a storage class
type Class int

const (
	Static Class = iota
	Frame
)

func (c Class) String() string {
	if c == Frame {
		return "frame"
	}
	return "static"
}

// Storage says where one variable lives. Offset is from $sp at function
// entry and only meaningful for Frame.
type Storage struct {
	Class  Class
	Offset int
}

// Function is the storage record of one function
type Function struct {
	Name      string
	Start     int // index of the entry label
	End       int // one past the last command
	Recursive bool
	Params    []ir.VarID // declaration order
	Locals    []ir.VarID // first-allocation order
	Offsets   map[ir.VarID]int
	FrameSize int
}

// Options tune the analysis
type Options struct {
	WordSize int
	// Classes resolves virtual call sites to every implementation at the
	// dispatched slot. Without it virtual calls add no edges.
	Classes *layout.Table
}

// Layout is the result of Analyze. It is never modified afterwards.
type Layout struct {
	funcs  map[string]*Function
	order  []string
	calls  map[string][]string
	owners []string // function name per command index, "" for global code
}

// Analyze builds the call graph of cmds and assigns storage
func Analyze(cmds []ir.Command, opts Options) *Layout {
	word := opts.WordSize
	if word <= 0 {
		word = layout.WordSize
	}

	l := &Layout{
		funcs:  make(map[string]*Function),
		calls:  make(map[string][]string),
		owners: make([]string, len(cmds)),
	}

	var entries []int
	for i, c := range cmds {
		if name := ir.LabelName(c); name != "" && !ir.IsGeneratedLabel(name) {
			entries = append(entries, i)
		}
	}
	for k, start := range entries {
		end := len(cmds)
		if k+1 < len(entries) {
			end = entries[k+1]
		}
		name := ir.LabelName(cmds[start])
		l.funcs[name] = &Function{Name: name, Start: start, End: end}
		l.order = append(l.order, name)
		for i := start; i < end; i++ {
			l.owners[i] = name
		}
	}

	l.buildCallGraph(cmds, opts.Classes)

	for _, name := range l.order {
		fn := l.funcs[name]
		fn.Recursive = l.reaches(name, name)
		collectVars(fn, cmds)
		fn.Offsets = make(map[ir.VarID]int)
		if fn.Recursive {
			for i, v := range append(append([]ir.VarID(nil), fn.Params...), fn.Locals...) {
				fn.Offsets[v] = i * word
			}
			fn.FrameSize = word * (len(fn.Params) + len(fn.Locals))
		}
		logger.LogFrame(name, fn.Recursive, fn.FrameSize)
	}
	return l
}

func (l *Layout) buildCallGraph(cmds []ir.Command, classes *layout.Table) {
	for _, name := range l.order {
		fn := l.funcs[name]
		seen := make(map[string]bool)
		add := func(callee string) {
			if _, known := l.funcs[callee]; known && !seen[callee] {
				seen[callee] = true
				l.calls[name] = append(l.calls[name], callee)
			}
		}
		for i := fn.Start; i < fn.End; i++ {
			if callee := ir.Callee(cmds[i]); callee != "" {
				add(callee)
			}
			if slot := ir.VirtualSlot(cmds[i]); slot >= 0 && classes != nil {
				for _, impl := range classes.Targets(slot) {
					add(impl)
				}
			}
		}
	}
}

// reaches reports whether target is reachable from start by one or more
// calls. The visited set is per query so mutual recursion terminates.
func (l *Layout) reaches(start, target string) bool {
	visited := make(map[string]bool)
	stack := append([]string(nil), l.calls[start]...)
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f == target {
			return true
		}
		if visited[f] {
			continue
		}
		visited[f] = true
		stack = append(stack, l.calls[f]...)
	}
	return false
}

func collectVars(fn *Function, cmds []ir.Command) {
	type param struct {
		v     ir.VarID
		index int
	}
	var params []param
	isParam := make(map[ir.VarID]bool)
	for i := fn.Start; i < fn.End; i++ {
		if sp, ok := cmds[i].(ir.StoreParam); ok && !isParam[sp.Var] {
			isParam[sp.Var] = true
			params = append(params, param{sp.Var, sp.Index})
		}
	}
	sort.SliceStable(params, func(i, j int) bool { return params[i].index < params[j].index })
	fn.Params = fn.Params[:0]
	for _, p := range params {
		fn.Params = append(fn.Params, p.v)
	}

	seen := make(map[ir.VarID]bool)
	fn.Locals = fn.Locals[:0]
	for i := fn.Start; i < fn.End; i++ {
		if a, ok := cmds[i].(ir.Allocate); ok && !isParam[a.Var] && !seen[a.Var] {
			seen[a.Var] = true
			fn.Locals = append(fn.Locals, a.Var)
		}
	}
}

// Function returns the record for name
func (l *Layout) Function(name string) (*Function, bool) {
	fn, ok := l.funcs[name]
	return fn, ok
}

// Functions returns function names in program order
func (l *Layout) Functions() []string { return append([]string(nil), l.order...) }

// Owner returns the function containing command index i, or "" for code
// before the first function
func (l *Layout) Owner(i int) string {
	if i < 0 || i >= len(l.owners) {
		return ""
	}
	return l.owners[i]
}

// Calls returns the direct callees of fn in first-call order
func (l *Layout) Calls(fn string) []string { return append([]string(nil), l.calls[fn]...) }

// Recursive reports whether fn can reach itself
func (l *Layout) Recursive(fn string) bool {
	f, ok := l.funcs[fn]
	return ok && f.Recursive
}

// Lookup returns the storage of v inside fn. Globals and variables of
// non-recursive functions are Static.
func (l *Layout) Lookup(fn string, v ir.VarID) Storage {
	if f, ok := l.funcs[fn]; ok && f.Recursive {
		if off, ok := f.Offsets[v]; ok {
			return Storage{Class: Frame, Offset: off}
		}
	}
	return Storage{Class: Static}
}

// FrameSize returns the frame size of fn, zero when it has none
func (l *Layout) FrameSize(fn string) int {
	if f, ok := l.funcs[fn]; ok {
		return f.FrameSize
	}
	return 0
}
