// Package dfa implements the uninitialized-use analysis.
//
// It is a forward must-analysis over the CFG: a name (declared variable or
// temp) is initialized at a point only if every path reaching that point
// wrote it with an initialized value. Merge is intersection, the entry node
// starts empty and every other node starts at the full universe.
package dfa

import (
	"errors"
	"fmt"
	"sort"

	"github.com/GriffinCanCode/lback/pkg/cfg"
	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

// ErrNoFixpoint means the analysis did not converge within the cap
var ErrNoFixpoint = errors.New("uninitialized-use analysis did not reach a fixpoint")

// Hazard is one read of a possibly uninitialized variable
type Hazard struct {
	Node int
	Var  ir.VarID
	Name string
}

// Report lists the hazards found. Names holds each original spelling once,
// sorted.
type Report struct {
	Names   []string
	Vars    []ir.VarID
	Hazards []Hazard
}

// Empty reports whether nothing was flagged
func (r *Report) Empty() bool { return len(r.Hazards) == 0 }

// Analyzer runs the analysis over one graph
type Analyzer struct {
	g       *cfg.Graph
	syms    *ir.Symbols
	maxIter int

	tracked  map[ir.VarID]bool
	universe cfg.NameSet
}

// NewAnalyzer prepares an analysis of g. maxIter caps the number of
// sweeps; zero picks a bound derived from the lattice height.
func NewAnalyzer(g *cfg.Graph, syms *ir.Symbols, maxIter int) *Analyzer {
	return &Analyzer{g: g, syms: syms, maxIter: maxIter}
}

// Analyze is a convenience wrapper around NewAnalyzer and Run
func Analyze(g *cfg.Graph, syms *ir.Symbols, maxIter int) (*Report, error) {
	return NewAnalyzer(g, syms, maxIter).Run()
}

// Run computes InitIn/InitOut on every node and collects hazards. Only
// variables that have an Allocate command are tracked and reported; loads
// of untracked variables (parameters, globals without storage commands)
// count as initialized. Temps only carry initialization through
// expressions.
func (a *Analyzer) Run() (*Report, error) {
	a.collect()

	for _, n := range a.g.Nodes {
		if n == a.g.Entry {
			n.InitIn, n.InitOut = make(cfg.NameSet), make(cfg.NameSet)
		} else {
			n.InitIn, n.InitOut = a.universe.Clone(), a.universe.Clone()
		}
	}

	maxIter := a.maxIter
	if maxIter <= 0 {
		maxIter = 2*len(a.g.Nodes)*(len(a.universe)+1) + 2
	}

	converged := false
	for iter := 1; iter <= maxIter; iter++ {
		changed := false
		for _, n := range a.g.Nodes {
			in := a.merge(n)
			out := a.transfer(n.Cmd, in)
			if !in.Equal(n.InitIn) || !out.Equal(n.InitOut) {
				changed = true
				n.InitIn, n.InitOut = in, out
			}
		}
		if !changed {
			logger.Debug("Uninitialized-use analysis converged", "nodes", len(a.g.Nodes), "sweeps", iter)
			converged = true
			break
		}
	}
	if !converged {
		return nil, fmt.Errorf("%w after %d sweeps", ErrNoFixpoint, maxIter)
	}

	return a.report(), nil
}

func (a *Analyzer) collect() {
	a.tracked = make(map[ir.VarID]bool)
	a.universe = make(cfg.NameSet)
	for _, n := range a.g.Nodes {
		if alloc, ok := n.Cmd.(ir.Allocate); ok {
			a.tracked[alloc.Var] = true
			a.universe.Add(cfg.VarName(alloc.Var))
		}
		for _, t := range ir.Uses(n.Cmd) {
			a.universe.Add(cfg.TempName(t))
		}
		for _, t := range ir.Defs(n.Cmd) {
			a.universe.Add(cfg.TempName(t))
		}
	}
}

// merge intersects the predecessors' out sets. A node nobody reaches
// starts with nothing initialized.
func (a *Analyzer) merge(n *cfg.Node) cfg.NameSet {
	if n == a.g.Entry || len(n.Preds) == 0 {
		return make(cfg.NameSet)
	}
	in := n.Preds[0].InitOut.Clone()
	for _, p := range n.Preds[1:] {
		in.Intersect(p.InitOut)
	}
	return in
}

func (a *Analyzer) transfer(c ir.Command, in cfg.NameSet) cfg.NameSet {
	out := in.Clone()
	has := func(t ir.Temp) bool { return in.Has(cfg.TempName(t)) }

	switch c := c.(type) {
	case ir.Allocate:
		out.Remove(cfg.VarName(c.Var))
	case ir.Store:
		out.Set(cfg.VarName(c.Var), has(c.Src))
	case ir.StoreParam:
		out.Add(cfg.VarName(c.Var))
	case ir.Load:
		out.Set(cfg.TempName(c.Dst), !a.tracked[c.Var] || in.Has(cfg.VarName(c.Var)))
	case ir.ConstInt:
		out.Add(cfg.TempName(c.Dst))
	case ir.BinOp:
		out.Set(cfg.TempName(c.Dst), has(c.Left) && has(c.Right))
	case ir.Concat:
		out.Set(cfg.TempName(c.Dst), has(c.Left) && has(c.Right))
	case ir.Stage:
		if c.Op == ir.StoreS2ToVar {
			out.Add(cfg.VarName(c.Var))
		}
		for _, t := range ir.Defs(c) {
			out.Add(cfg.TempName(t))
		}
	default:
		// Calls, heap loads and allocations yield fresh values
		for _, t := range ir.Defs(c) {
			out.Add(cfg.TempName(t))
		}
	}
	return out
}

func (a *Analyzer) report() *Report {
	r := &Report{}
	seenVar := make(map[ir.VarID]bool)
	seenName := make(map[string]bool)

	for _, n := range a.g.Nodes {
		v := ir.VarUse(n.Cmd)
		if v == 0 || !a.tracked[v] || n.InitIn.Has(cfg.VarName(v)) {
			continue
		}
		name := v.String()
		if a.syms != nil {
			name = a.syms.Name(v)
		}
		r.Hazards = append(r.Hazards, Hazard{Node: n.Index, Var: v, Name: name})
		if !seenVar[v] {
			seenVar[v] = true
			r.Vars = append(r.Vars, v)
		}
		if !seenName[name] {
			seenName[name] = true
			r.Names = append(r.Names, name)
		}
	}

	sort.Strings(r.Names)
	sort.Slice(r.Vars, func(i, j int) bool { return r.Vars[i] < r.Vars[j] })
	return r
}
