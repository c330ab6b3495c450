// Package layout resolves class instance layouts and vtables.
//
// Instance layout:
//
//	offset 0:  vtable pointer
//	offset 4:  inherited fields, base class first
//	...        own fields
//
// Every slot is one word. Method slots are numbered globally by first
// appearance, walking each class's ancestor chain from the root, with
// classes visited parent before child. A Table never changes after Build.
package layout

import (
	"errors"
	"fmt"

	"github.com/GriffinCanCode/lback/pkg/ir"
	"github.com/GriffinCanCode/lback/pkg/logger"
)

const (
	WordSize    = 4
	MinInstance = 8
)

// ErrHierarchy means the class list has a missing parent, a cycle or a
// duplicate name
var ErrHierarchy = errors.New("invalid class hierarchy")

// Class is one class as declared, before resolution
type Class struct {
	Name    string
	Father  string // empty for a root class
	Fields  []string
	Methods []string
}

type resolved struct {
	Class
	chain   []*resolved // root first, self last
	offsets map[string]int
	size    int
	vtable  []string
}

// Table is the resolved layout of every class
type Table struct {
	classes map[string]*resolved
	order   []string
	slots   map[string]int
	methods []string
}

// Build resolves classes. Input order is kept among classes whose parents
// are already placed.
func Build(classes []Class) (*Table, error) {
	byName := make(map[string]Class, len(classes))
	for _, c := range classes {
		if _, dup := byName[c.Name]; dup {
			return nil, fmt.Errorf("%w: class %q declared twice", ErrHierarchy, c.Name)
		}
		byName[c.Name] = c
	}
	for _, c := range classes {
		if c.Father != "" {
			if _, ok := byName[c.Father]; !ok {
				return nil, fmt.Errorf("%w: class %q extends unknown %q", ErrHierarchy, c.Name, c.Father)
			}
		}
	}

	t := &Table{
		classes: make(map[string]*resolved, len(classes)),
		slots:   make(map[string]int),
	}

	// Parents before children
	remaining := append([]Class(nil), classes...)
	for len(remaining) > 0 {
		picked := -1
		for i, c := range remaining {
			if c.Father == "" || t.classes[c.Father] != nil {
				picked = i
				break
			}
		}
		if picked < 0 {
			return nil, fmt.Errorf("%w: inheritance cycle through %q", ErrHierarchy, remaining[0].Name)
		}
		c := remaining[picked]
		remaining = append(remaining[:picked], remaining[picked+1:]...)
		t.place(c)
	}

	for _, name := range t.order {
		t.classes[name].vtable = t.resolveVtable(t.classes[name])
	}

	logger.Debug("Class layouts resolved", "classes", len(t.order), "slots", len(t.methods))
	return t, nil
}

func (t *Table) place(c Class) {
	r := &resolved{Class: c, offsets: make(map[string]int)}
	if c.Father != "" {
		r.chain = append(r.chain, t.classes[c.Father].chain...)
	}
	r.chain = append(r.chain, r)

	off := WordSize
	for _, anc := range r.chain {
		for _, f := range anc.Fields {
			r.offsets[f] = off
			off += WordSize
		}
		for _, m := range anc.Methods {
			if _, ok := t.slots[m]; !ok {
				t.slots[m] = len(t.methods)
				t.methods = append(t.methods, m)
			}
		}
	}
	r.size = off
	if r.size < MinInstance {
		r.size = MinInstance
	}

	t.classes[c.Name] = r
	t.order = append(t.order, c.Name)
}

func (t *Table) resolveVtable(r *resolved) []string {
	entries := make([]string, len(t.methods))
	for slot, m := range t.methods {
		for i := len(r.chain) - 1; i >= 0; i-- {
			if defines(r.chain[i].Methods, m) {
				entries[slot] = ir.MethodLabel(r.chain[i].Name, m)
				break
			}
		}
	}
	return entries
}

func defines(methods []string, m string) bool {
	for _, x := range methods {
		if x == m {
			return true
		}
	}
	return false
}

// Slot returns the vtable slot of method, or -1
func (t *Table) Slot(method string) int {
	if s, ok := t.slots[method]; ok {
		return s
	}
	return -1
}

// NumSlots returns the vtable length shared by every class
func (t *Table) NumSlots() int { return len(t.methods) }

// Entries returns class's vtable. Empty strings mark slots the class
// cannot answer.
func (t *Table) Entries(class string) []string {
	r := t.classes[class]
	if r == nil {
		return nil
	}
	return append([]string(nil), r.vtable...)
}

// FieldOffset returns the byte offset of field in class
func (t *Table) FieldOffset(class, field string) (int, bool) {
	r := t.classes[class]
	if r == nil {
		return 0, false
	}
	off, ok := r.offsets[field]
	return off, ok
}

// Size returns the instance size of class in bytes
func (t *Table) Size(class string) int {
	if r := t.classes[class]; r != nil {
		return r.size
	}
	return 0
}

// Classes returns class names, parents before children
func (t *Table) Classes() []string { return append([]string(nil), t.order...) }

// VtableLabel returns the data label holding class's vtable
func VtableLabel(class string) string { return "vtable_" + class }

// Targets returns every distinct implementation reachable through slot
func (t *Table) Targets(slot int) []string {
	if slot < 0 || slot >= len(t.methods) {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, name := range t.order {
		if e := t.classes[name].vtable[slot]; e != "" && !seen[e] {
			seen[e] = true
			out = append(out, e)
		}
	}
	return out
}
