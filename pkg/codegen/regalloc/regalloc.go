// Package regalloc assigns every temp of a program to one of K physical
// registers.
//
// Design: backward liveness over the single-instruction CFG, an
// interference graph built from live-in sets at each definition, and
// Kempe simplify/select. There is no spilling: when the graph cannot be
// K-colored the whole allocation fails and the caller must reject the
// program.
package regalloc

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/lback/pkg/cfg"
	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

var (
	// ErrAllocationFailed means the program needs more than K registers at
	// some point
	ErrAllocationFailed = errors.New("register allocation failed")
	// ErrBadBank means the allocatable registers are empty, repeated or
	// overlap the reserved ones
	ErrBadBank = errors.New("invalid register bank")
)

// Config holds register allocation configuration for a target
type Config struct {
	Available     []string // Allocatable registers, color i maps to Available[i]
	Reserved      []string // Scratch and convention registers never handed out
	MaxIterations int      // Liveness sweep cap, 0 for the derived bound
}

// MIPSConfig is the default bank: $t0-$t9, with $s0-$s2 kept for clamping
// and staging
func MIPSConfig() *Config {
	return &Config{
		Available: []string{"$t0", "$t1", "$t2", "$t3", "$t4", "$t5", "$t6", "$t7", "$t8", "$t9"},
		Reserved:  []string{"$s0", "$s1", "$s2", "$a0", "$a1", "$a2", "$a3", "$v0", "$ra", "$sp"},
	}
}

// Check verifies that the bank is non-empty, has no duplicates and hands
// out no reserved register
func (c *Config) Check() error {
	if len(c.Available) == 0 {
		return fmt.Errorf("%w: no allocatable registers", ErrBadBank)
	}
	reserved := make(map[string]bool, len(c.Reserved))
	for _, r := range c.Reserved {
		reserved[r] = true
	}
	seen := make(map[string]bool, len(c.Available))
	for _, r := range c.Available {
		switch {
		case reserved[r]:
			return fmt.Errorf("%w: %s is reserved", ErrBadBank, r)
		case seen[r]:
			return fmt.Errorf("%w: %s listed twice", ErrBadBank, r)
		}
		seen[r] = true
	}
	return nil
}

// Allocation maps temps to register names
type Allocation map[ir.Temp]string

// Register returns the register assigned to t
func (a Allocation) Register(t ir.Temp) (string, bool) {
	r, ok := a[t]
	return r, ok
}

// ColorsUsed returns how many distinct registers the allocation touches
func (a Allocation) ColorsUsed() int {
	seen := make(map[string]bool)
	for _, r := range a {
		seen[r] = true
	}
	return len(seen)
}

// Allocator performs graph coloring register allocation
type Allocator struct {
	cfg   *Config
	graph *InterferenceGraph
}

// NewAllocator creates a graph coloring allocator
func NewAllocator(cfg *Config) *Allocator {
	if cfg == nil {
		cfg = MIPSConfig()
	}
	return &Allocator{cfg: cfg}
}

// K returns the number of allocatable registers
func (a *Allocator) K() int { return len(a.cfg.Available) }

// Graph returns the interference graph of the last Allocate call
func (a *Allocator) Graph() *InterferenceGraph { return a.graph }

// Allocate runs liveness, builds the interference graph and colors it.
// On failure it returns ErrAllocationFailed and no partial map.
func (a *Allocator) Allocate(g *cfg.Graph) (Allocation, error) {
	if err := a.cfg.Check(); err != nil {
		return nil, err
	}
	k := a.K()
	logger.Debug("Starting register allocation", "nodes", len(g.Nodes), "k", k)

	if _, err := Liveness(g, a.cfg.MaxIterations); err != nil {
		return nil, err
	}

	a.graph = BuildInterference(g)
	temps := len(a.graph.nodes)

	stack, ok := a.graph.simplify(k)
	if !ok {
		logger.LogAllocation(temps, 0, false)
		return nil, fmt.Errorf("%w: no temp with fewer than %d neighbors", ErrAllocationFailed, k)
	}
	if !a.graph.selectColors(stack, k) {
		logger.LogAllocation(temps, 0, false)
		return nil, fmt.Errorf("%w: more than %d colors needed", ErrAllocationFailed, k)
	}

	alloc := make(Allocation, temps)
	for t, n := range a.graph.nodes {
		alloc[t] = a.cfg.Available[n.color]
	}

	logger.LogAllocation(temps, alloc.ColorsUsed(), true)
	return alloc, nil
}

// Allocate is a convenience wrapper using the MIPS bank
func Allocate(g *cfg.Graph) (Allocation, error) {
	return NewAllocator(nil).Allocate(g)
}
