// Package depgraph assembles the dependency graph reachable from an entry module.
package depgraph

import (
	"git.home.luguber.info/inful/minderbuild/internal/module"
)

// Edge points from a module to one of its dependencies.
type Edge struct {
	From string
	To   string
}

// Graph is the subgraph reachable from Entry. Nodes are kept in discovery
// order (breadth-first, dependencies in declaration order).
type Graph struct {
	Entry string
	Nodes []*module.Module
	Edges []Edge

	byName map[string]*module.Module
	deps   map[string][]string
}

// Build walks requires edges from entry. Every reachable name must exist in set.
// Unreachable modules are left out.
func Build(set *module.Set, entry string) (*Graph, error) {
	root, ok := set.Get(entry)
	if !ok {
		return nil, &EntryNotFoundError{Entry: entry}
	}

	g := &Graph{
		Entry:  entry,
		byName: map[string]*module.Module{entry: root},
		deps:   make(map[string][]string),
	}
	queue := []*module.Module{root}
	for len(queue) > 0 {
		m := queue[0]
		queue = queue[1:]
		g.Nodes = append(g.Nodes, m)

		deps := m.Deps()
		g.deps[m.Name] = deps
		for _, name := range deps {
			dep, ok := set.Get(name)
			if !ok {
				return nil, &MissingDependencyError{Module: m.Name, Path: m.Path, Missing: name}
			}
			g.Edges = append(g.Edges, Edge{From: m.Name, To: name})
			if _, seen := g.byName[name]; !seen {
				g.byName[name] = dep
				queue = append(queue, dep)
			}
		}
	}
	return g, nil
}

// Lookup returns a reachable module by name.
func (g *Graph) Lookup(name string) (*module.Module, bool) {
	m, ok := g.byName[name]
	return m, ok
}

// Deps returns the deduplicated dependencies of name in declaration order.
func (g *Graph) Deps(name string) []string {
	return g.deps[name]
}

// Len returns the number of reachable modules.
func (g *Graph) Len() int { return len(g.Nodes) }

// Unreachable lists scanned modules outside the graph, sorted by name.
func (g *Graph) Unreachable(set *module.Set) []string {
	var out []string
	for _, n := range set.Names() {
		if _, ok := g.byName[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
