// Package resolver orders a dependency graph so dependencies precede dependents.
package resolver

import (
	"errors"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/minderbuild/internal/depgraph"
	"git.home.luguber.info/inful/minderbuild/internal/module"
)

// ErrCircularDependency indicates a cycle among reachable modules.
var ErrCircularDependency = errors.New("circular dependency")

// CircularDependencyError carries the loop, starting and ending at the first
// module found to be revisited while still in progress. Files holds the
// source file of each module in the loop, without the closing repeat.
type CircularDependencyError struct {
	Path  []string
	Files []string
}

func (e *CircularDependencyError) Error() string {
	msg := fmt.Sprintf("circular dependency: %s", strings.Join(e.Path, " -> "))
	if len(e.Files) > 0 {
		msg += " (" + strings.Join(e.Files, ", ") + ")"
	}
	return msg
}

func (e *CircularDependencyError) Is(target error) bool { return target == ErrCircularDependency }

// Order is a dependency-respecting sequence of modules.
type Order []*module.Module

// Names returns the module names in order.
func (o Order) Names() []string { return module.Names(o) }

type mark uint8

const (
	unvisited mark = iota
	inProgress
	done
)

// Resolve performs a depth-first post-order walk from the entry. Dependencies
// are visited in declaration order, so the result is stable for unchanged input.
// A module reachable along several paths is placed at its first completed resolution.
func Resolve(g *depgraph.Graph) (Order, error) {
	entry, ok := g.Lookup(g.Entry)
	if !ok {
		return nil, &depgraph.EntryNotFoundError{Entry: g.Entry}
	}

	marks := make(map[string]mark, g.Len())
	stack := make([]string, 0, g.Len())
	order := make(Order, 0, g.Len())

	var visit func(m *module.Module) error
	visit = func(m *module.Module) error {
		marks[m.Name] = inProgress
		stack = append(stack, m.Name)
		for _, name := range g.Deps(m.Name) {
			switch marks[name] {
			case done:
				continue
			case inProgress:
				path := cyclePath(stack, name)
				return &CircularDependencyError{Path: path, Files: cycleFiles(g, path)}
			}
			dep, ok := g.Lookup(name)
			if !ok {
				return &depgraph.MissingDependencyError{Module: m.Name, Path: m.Path, Missing: name}
			}
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		marks[m.Name] = done
		order = append(order, m)
		return nil
	}

	if err := visit(entry); err != nil {
		return nil, err
	}
	return order, nil
}

// cyclePath slices the in-progress stack from the revisited module and closes the loop.
func cyclePath(stack []string, revisited string) []string {
	start := 0
	for i, n := range stack {
		if n == revisited {
			start = i
			break
		}
	}
	path := make([]string, 0, len(stack)-start+1)
	path = append(path, stack[start:]...)
	return append(path, revisited)
}

func cycleFiles(g *depgraph.Graph, path []string) []string {
	files := make([]string, 0, len(path))
	for _, name := range path[:len(path)-1] {
		if m, ok := g.Lookup(name); ok && m.Path != "" {
			files = append(files, m.Path)
		}
	}
	return files
}
