package ir

import "fmt"

// VarID is an opaque slot identifier minted when a variable is declared.
// Shadowed declarations with the same spelling get distinct IDs. Zero means
// "no variable".
type VarID int

func (v VarID) String() string { return fmt.Sprintf("v%d", int(v)) }

// VarKind says where a variable was declared
type VarKind int

const (
	Global VarKind = iota
	Param
	Local
)

func (k VarKind) String() string {
	switch k {
	case Global:
		return "global"
	case Param:
		return "param"
	case Local:
		return "local"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseVarKind maps a kind name back to its VarKind
func ParseVarKind(s string) (VarKind, bool) {
	switch s {
	case "global":
		return Global, true
	case "param":
		return Param, true
	case "local":
		return Local, true
	}
	return 0, false
}

// Symbol is one declared variable
type Symbol struct {
	ID   VarID
	Name string
	Kind VarKind
}

// Symbols is the per-compilation declaration table
type Symbols struct {
	entries []Symbol
}

// Declare mints a fresh VarID for name
func (s *Symbols) Declare(name string, kind VarKind) VarID {
	id := VarID(len(s.entries) + 1)
	s.entries = append(s.entries, Symbol{ID: id, Name: name, Kind: kind})
	return id
}

// Lookup returns the symbol for id
func (s *Symbols) Lookup(id VarID) (Symbol, bool) {
	if id <= 0 || int(id) > len(s.entries) {
		return Symbol{}, false
	}
	return s.entries[id-1], true
}

// Name returns the source spelling of id, or its slot form if unknown
func (s *Symbols) Name(id VarID) string {
	if sym, ok := s.Lookup(id); ok {
		return sym.Name
	}
	return id.String()
}

// Len returns the number of declared variables
func (s *Symbols) Len() int { return len(s.entries) }

// All returns the declarations in ID order
func (s *Symbols) All() []Symbol {
	out := make([]Symbol, len(s.entries))
	copy(out, s.entries)
	return out
}
