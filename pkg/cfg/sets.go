package cfg

import (
	"sort"

	"github.com/GriffinCanCode/lback/pkg/ir"
)

// TempSet is a set of temps
type TempSet map[ir.Temp]struct{}

func (s TempSet) Add(ts ...ir.Temp) {
	for _, t := range ts {
		s[t] = struct{}{}
	}
}

func (s TempSet) Has(t ir.Temp) bool {
	_, ok := s[t]
	return ok
}

// Equal reports whether s and o hold the same temps
func (s TempSet) Equal(o TempSet) bool {
	if len(s) != len(o) {
		return false
	}
	for t := range s {
		if !o.Has(t) {
			return false
		}
	}
	return true
}

// Sorted returns the members ascending
func (s TempSet) Sorted() []ir.Temp {
	out := make([]ir.Temp, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Name is either a temp or a user variable. Exactly one field is set.
type Name struct {
	Temp ir.Temp
	Var  ir.VarID
}

func TempName(t ir.Temp) Name { return Name{Temp: t} }
func VarName(v ir.VarID) Name { return Name{Var: v} }
func (n Name) IsTemp() bool { return n.Temp.Valid() }

// NameSet is a set of names
type NameSet map[Name]struct{}

func (s NameSet) Add(n Name) { s[n] = struct{}{} }

func (s NameSet) Remove(n Name) { delete(s, n) }

func (s NameSet) Has(n Name) bool {
	_, ok := s[n]
	return ok
}

// Set adds n when on is true and removes it otherwise
func (s NameSet) Set(n Name, on bool) {
	if on {
		s.Add(n)
	} else {
		s.Remove(n)
	}
}

func (s NameSet) Clone() NameSet {
	out := make(NameSet, len(s))
	for n := range s {
		out[n] = struct{}{}
	}
	return out
}

func (s NameSet) Equal(o NameSet) bool {
	if len(s) != len(o) {
		return false
	}
	for n := range s {
		if !o.Has(n) {
			return false
		}
	}
	return true
}

// Intersect keeps only the names also in o
func (s NameSet) Intersect(o NameSet) {
	for n := range s {
		if !o.Has(n) {
			delete(s, n)
		}
	}
}
