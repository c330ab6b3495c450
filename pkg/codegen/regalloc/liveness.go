package regalloc

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/lback/pkg/cfg"
	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

// ErrNoFixpoint means liveness did not converge within the iteration cap
var ErrNoFixpoint = errors.New("liveness did not reach a fixpoint")

// Liveness computes LiveIn/LiveOut for every node of g:
//
//	out[n] = ∪ in[s] for s in succ(n)
//	in[n]  = use[n] ∪ (out[n] − def[n])
//
// Nodes are swept in reverse order until a full sweep changes nothing.
// maxIter bounds the number of sweeps; zero picks a bound derived from the
// lattice height, which a correct sweep can never exceed.
func Liveness(g *cfg.Graph, maxIter int) (int, error) {
	for _, n := range g.Nodes {
		n.LiveIn = make(cfg.TempSet)
		n.LiveOut = make(cfg.TempSet)
	}
	if maxIter <= 0 {
		maxIter = 2*len(g.Nodes)*(len(g.Temps())+1) + 2
	}

	for iter := 1; iter <= maxIter; iter++ {
		changed := false
		for i := len(g.Nodes) - 1; i >= 0; i-- {
			n := g.Nodes[i]

			out := make(cfg.TempSet)
			for _, s := range n.Succs {
				for t := range s.LiveIn {
					out[t] = struct{}{}
				}
			}

			in := make(cfg.TempSet)
			in.Add(ir.Uses(n.Cmd)...)
			defs := ir.Defs(n.Cmd)
			for t := range out {
				if !contains(defs, t) {
					in[t] = struct{}{}
				}
			}

			if !in.Equal(n.LiveIn) || !out.Equal(n.LiveOut) {
				changed = true
			}
			n.LiveIn, n.LiveOut = in, out
		}
		if !changed {
			logger.Debug("Liveness converged", "nodes", len(g.Nodes), "sweeps", iter)
			return iter, nil
		}
	}
	return maxIter, fmt.Errorf("%w after %d sweeps over %d nodes", ErrNoFixpoint, maxIter, len(g.Nodes))
}

func contains(ts []ir.Temp, t ir.Temp) bool {
	for _, x := range ts {
		if x == t {
			return true
		}
	}
	return false
}
