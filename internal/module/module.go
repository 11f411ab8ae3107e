// Package module holds the flat, name-keyed model of scanned source modules.
package module

import "sort"

// Module is one source file known by a unique name.
type Module struct {
	// Name is the exposed name, or ID when the file never publishes one.
	Name string
	// ID is the path-derived identifier (base-relative, slash separated, no extension).
	ID string
	// Requires lists resolved dependency names in declaration order; duplicates are kept.
	Requires []string
	// Source is emitted verbatim into the bundle.
	Source []byte
	// Path is the file the module was read from.
	Path string
	// Published reports whether Name came from an explicit define('name', ...).
	Published bool
}

// Deps returns Requires with duplicates removed, keeping first occurrences.
func (m *Module) Deps() []string {
	seen := make(map[string]struct{}, len(m.Requires))
	out := make([]string, 0, len(m.Requires))
	for _, r := range m.Requires {
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Set is the flat global namespace of modules.
type Set struct {
	byName map[string]*Module
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{byName: make(map[string]*Module)}
}

// Add registers m. It returns the existing module and false when the name is taken.
func (s *Set) Add(m *Module) (*Module, bool) {
	if prev, ok := s.byName[m.Name]; ok {
		return prev, false
	}
	s.byName[m.Name] = m
	return m, true
}

// Get looks up a module by name.
func (s *Set) Get(name string) (*Module, bool) {
	m, ok := s.byName[name]
	return m, ok
}

// Len returns the number of modules.
func (s *Set) Len() int { return len(s.byName) }

// Names returns all module names sorted lexically.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.byName))
	for n := range s.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Names extracts module names from a slice, preserving order.
func Names(mods []*Module) []string {
	out := make([]string, len(mods))
	for i, m := range mods {
		out[i] = m.Name
	}
	return out
}
