// Package cfg builds the control-flow graph of a linear IR command list.
//
// Every command becomes one node. Edges are deduplicated and indexed in
// both directions so the backward liveness pass and the forward
// uninitialized-use pass can share the same graph.
package cfg

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

var (
	// ErrUnresolvedLabel means a jump names a label no command defines
	ErrUnresolvedLabel = errors.New("unresolved jump target")
	// ErrDuplicateLabel means two commands define the same label
	ErrDuplicateLabel = errors.New("duplicate label")
)

// Node wraps a single command plus the per-analysis state attached to it
type Node struct {
	Index int
	Cmd   ir.Command
	Succs []*Node
	Preds []*Node

	// Liveness
	LiveIn  TempSet
	LiveOut TempSet

	// Uninitialized-use
	InitIn  NameSet
	InitOut NameSet
}

func (n *Node) String() string {
	return fmt.Sprintf("n%d[%s]", n.Index, ir.Format(n.Cmd, nil))
}

// Graph is the control-flow graph. Entry is the first node, Exit the last;
// both are nil for an empty program.
type Graph struct {
	Nodes []*Node
	Entry *Node
	Exit  *Node
}

// Build turns cmds into a graph.
//
// Edge rule per node i: an unconditional jump's only successor is its
// target; a conditional jump has successors {target, i+1}; anything else
// has {i+1} plus its jump label's node if it carries one.
func Build(cmds []ir.Command) (*Graph, error) {
	g := &Graph{Nodes: make([]*Node, len(cmds))}
	if len(cmds) == 0 {
		return g, nil
	}

	labels := make(map[string]*Node)
	for i, c := range cmds {
		n := &Node{Index: i, Cmd: c}
		g.Nodes[i] = n
		if name := ir.LabelName(c); name != "" {
			if prev, dup := labels[name]; dup {
				return nil, fmt.Errorf("%w %q at nodes %d and %d", ErrDuplicateLabel, name, prev.Index, i)
			}
			labels[name] = n
		}
	}
	g.Entry = g.Nodes[0]
	g.Exit = g.Nodes[len(g.Nodes)-1]

	resolve := func(n *Node) (*Node, error) {
		name := ir.JumpLabel(n.Cmd)
		target, ok := labels[name]
		if !ok {
			return nil, fmt.Errorf("%w %q from node %d (%s)", ErrUnresolvedLabel, name, n.Index, ir.Format(n.Cmd, nil))
		}
		return target, nil
	}

	for i, n := range g.Nodes {
		var next *Node
		if i+1 < len(g.Nodes) {
			next = g.Nodes[i+1]
		}

		switch {
		case ir.IsUnconditionalJump(n.Cmd):
			target, err := resolve(n)
			if err != nil {
				return nil, err
			}
			link(n, target)
		case ir.IsConditionalJump(n.Cmd):
			target, err := resolve(n)
			if err != nil {
				return nil, err
			}
			link(n, target)
			link(n, next)
		default:
			link(n, next)
			if ir.JumpLabel(n.Cmd) != "" {
				target, err := resolve(n)
				if err != nil {
					return nil, err
				}
				link(n, target)
			}
		}
	}

	logger.LogCFG(len(g.Nodes), g.EdgeCount())
	return g, nil
}

func link(from, to *Node) {
	if to == nil {
		return
	}
	for _, s := range from.Succs {
		if s == to {
			return
		}
	}
	from.Succs = append(from.Succs, to)
	to.Preds = append(to.Preds, from)
}

// EdgeCount returns the number of directed edges
func (g *Graph) EdgeCount() int {
	n := 0
	for _, node := range g.Nodes {
		n += len(node.Succs)
	}
	return n
}

// Temps returns every temp used or defined anywhere in the graph, ascending
func (g *Graph) Temps() []ir.Temp {
	seen := make(TempSet)
	for _, n := range g.Nodes {
		seen.Add(ir.Uses(n.Cmd)...)
		seen.Add(ir.Defs(n.Cmd)...)
	}
	return seen.Sorted()
}
