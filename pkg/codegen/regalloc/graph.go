// Package regalloc - Graph coloring register allocation
// Design: Kempe simplify/select over a fixed register bank, no spilling
package regalloc

import (
	"sort"

	"github.com/GriffinCanCode/lback/pkg/cfg"
	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

// InterferenceGraph is an undirected graph over temps. An edge means the
// two temps must not share a register.
type InterferenceGraph struct {
	nodes map[ir.Temp]*IGNode
}

// IGNode is one temp in the interference graph
type IGNode struct {
	temp      ir.Temp
	neighbors map[ir.Temp]bool
	degree    int // current degree during simplify
	color     int // -1 if uncolored
}

// BuildInterference derives the interference graph from liveness already
// stored on g. For every node n, each temp defined at n interferes with
// every other temp in LiveIn(n). Temps that appear anywhere in g get a
// node even if they interfere with nothing.
func BuildInterference(g *cfg.Graph) *InterferenceGraph {
	ig := newInterferenceGraph()
	for _, t := range g.Temps() {
		ig.addNode(t)
	}

	for _, n := range g.Nodes {
		for _, d := range ir.Defs(n.Cmd) {
			for t := range n.LiveIn {
				if t != d {
					ig.addEdge(d, t)
				}
			}
		}
	}

	logger.Debug("Built interference graph",
		"nodes", len(ig.nodes),
		"edges", ig.EdgeCount())

	return ig
}

// Interferes reports whether a and b share an edge
func (ig *InterferenceGraph) Interferes(a, b ir.Temp) bool {
	n := ig.nodes[a]
	return n != nil && n.neighbors[b]
}

// Neighbors returns the temps adjacent to t, ascending
func (ig *InterferenceGraph) Neighbors(t ir.Temp) []ir.Temp {
	n := ig.nodes[t]
	if n == nil {
		return nil
	}
	return sortedTemps(n.neighbors)
}

// Temps returns every node, ascending
func (ig *InterferenceGraph) Temps() []ir.Temp {
	set := make(map[ir.Temp]bool, len(ig.nodes))
	for t := range ig.nodes {
		set[t] = true
	}
	return sortedTemps(set)
}

// simplify removes nodes of degree < k until the graph is empty. The
// lowest-numbered eligible temp goes first so results are reproducible.
// ok is false when every remaining node has degree >= k.
func (ig *InterferenceGraph) simplify(k int) (stack []ir.Temp, ok bool) {
	remaining := make(map[ir.Temp]bool, len(ig.nodes))
	for t, n := range ig.nodes {
		remaining[t] = true
		n.degree = len(n.neighbors)
		n.color = -1
	}

	order := ig.Temps()
	for len(remaining) > 0 {
		var pick ir.Temp
		for _, t := range order {
			if remaining[t] && ig.nodes[t].degree < k {
				pick = t
				break
			}
		}
		if !pick.Valid() {
			logger.Debug("Simplify blocked", "remaining", len(remaining), "k", k)
			return stack, false
		}

		stack = append(stack, pick)
		delete(remaining, pick)
		for nb := range ig.nodes[pick].neighbors {
			if remaining[nb] {
				ig.nodes[nb].degree--
			}
		}
	}
	return stack, true
}

// selectColors pops the stack, giving each temp the lowest color not held
// by an already colored neighbor in the original graph.
func (ig *InterferenceGraph) selectColors(stack []ir.Temp, k int) bool {
	for i := len(stack) - 1; i >= 0; i-- {
		node := ig.nodes[stack[i]]

		used := make(map[int]bool)
		for nb := range node.neighbors {
			if c := ig.nodes[nb].color; c >= 0 {
				used[c] = true
			}
		}

		color := 0
		for used[color] {
			color++
		}
		if color >= k {
			logger.Debug("No color left", "temp", node.temp.String())
			return false
		}
		node.color = color
	}
	return true
}

// InterferenceGraph methods

func newInterferenceGraph() *InterferenceGraph {
	return &InterferenceGraph{nodes: make(map[ir.Temp]*IGNode)}
}

func (ig *InterferenceGraph) addNode(t ir.Temp) {
	if _, exists := ig.nodes[t]; !exists {
		ig.nodes[t] = &IGNode{
			temp:      t,
			neighbors: make(map[ir.Temp]bool),
			color:     -1,
		}
	}
}

func (ig *InterferenceGraph) addEdge(a, b ir.Temp) {
	ig.addNode(a)
	ig.addNode(b)

	if !ig.nodes[a].neighbors[b] {
		ig.nodes[a].neighbors[b] = true
		ig.nodes[b].neighbors[a] = true
	}
}

// EdgeCount returns the number of undirected edges
func (ig *InterferenceGraph) EdgeCount() int {
	count := 0
	for _, n := range ig.nodes {
		count += len(n.neighbors)
	}
	return count / 2 // Each edge counted twice
}

func sortedTemps(set map[ir.Temp]bool) []ir.Temp {
	out := make([]ir.Temp, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
