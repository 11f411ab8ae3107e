// Package graphview renders a resolved dependency graph for inspection.
package graphview

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ddddddO/gtree"

	"git.home.luguber.info/inful/minderbuild/internal/depgraph"
	"git.home.luguber.info/inful/minderbuild/internal/resolver"
)

// Format selects the output representation.
type Format string

const (
	FormatOrder   Format = "order"
	FormatTree    Format = "tree"
	FormatDOT     Format = "dot"
	FormatMermaid Format = "mermaid"
	FormatJSON    Format = "json"
)

// SupportedFormats lists every format Render accepts.
func SupportedFormats() []Format {
	return []Format{FormatOrder, FormatTree, FormatDOT, FormatMermaid, FormatJSON}
}

// Description returns a one-line description of a format.
func Description(f Format) string {
	switch f {
	case FormatOrder:
		return "Resolved bundle order, one module per line"
	case FormatTree:
		return "Dependency tree from the entry module"
	case FormatDOT:
		return "Graphviz DOT digraph"
	case FormatMermaid:
		return "Mermaid flowchart"
	case FormatJSON:
		return "Machine-readable graph and order"
	default:
		return ""
	}
}

// Render writes g in the requested format. order is the resolved bundle order.
func Render(w io.Writer, f Format, g *depgraph.Graph, order resolver.Order) error {
	switch f {
	case FormatOrder:
		return renderOrder(w, order)
	case FormatTree:
		return renderTree(w, g)
	case FormatDOT:
		return renderDOT(w, g)
	case FormatMermaid:
		return renderMermaid(w, g)
	case FormatJSON:
		return renderJSON(w, g, order)
	default:
		return fmt.Errorf("unsupported format: %s", f)
	}
}

func renderOrder(w io.Writer, order resolver.Order) error {
	var sb strings.Builder
	for _, name := range order.Names() {
		sb.WriteString(name)
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// elided marks a module whose dependencies were already shown above.
const elided = " (*)"

// renderTree prints the dependency tree depth first. A module is expanded
// the first time it appears; later occurrences are marked and not repeated.
func renderTree(w io.Writer, g *depgraph.Graph) error {
	root := gtree.NewRoot(g.Entry)
	expanded := map[string]bool{g.Entry: true}
	var walk func(parent *gtree.Node, name string)
	walk = func(parent *gtree.Node, name string) {
		for _, dep := range g.Deps(name) {
			if expanded[dep] {
				label := dep
				if len(g.Deps(dep)) > 0 {
					label += elided
				}
				parent.Add(label)
				continue
			}
			expanded[dep] = true
			walk(parent.Add(dep), dep)
		}
	}
	walk(root, g.Entry)
	if err := gtree.OutputFromRoot(w, root); err != nil {
		return fmt.Errorf("render tree: %w", err)
	}
	return nil
}

func renderDOT(w io.Writer, g *depgraph.Graph) error {
	var sb strings.Builder
	sb.WriteString("digraph modules {\n")
	sb.WriteString("    rankdir=LR;\n")
	sb.WriteString("    node [shape=box, style=rounded];\n\n")
	for _, m := range g.Nodes {
		attrs := ""
		if m.Name == g.Entry {
			attrs = " [style=\"rounded,bold\"]"
		}
		fmt.Fprintf(&sb, "    %s%s;\n", dotQuote(m.Name), attrs)
	}
	sb.WriteString("\n")
	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "    %s -> %s;\n", dotQuote(e.From), dotQuote(e.To))
	}
	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

func dotQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

// renderMermaid uses positional node ids since module names may contain
// characters mermaid does not accept in identifiers.
func renderMermaid(w io.Writer, g *depgraph.Graph) error {
	ids := make(map[string]string, len(g.Nodes))
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for i, m := range g.Nodes {
		id := fmt.Sprintf("m%d", i)
		ids[m.Name] = id
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", id, strings.ReplaceAll(m.Name, `"`, "#quot;"))
	}
	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "    %s --> %s\n", ids[e.From], ids[e.To])
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

type jsonModule struct {
	Name     string   `json:"name"`
	ID       string   `json:"id"`
	Path     string   `json:"path"`
	Requires []string `json:"requires"`
}

type jsonGraph struct {
	Entry   string       `json:"entry"`
	Order   []string     `json:"order"`
	Modules []jsonModule `json:"modules"`
}

func renderJSON(w io.Writer, g *depgraph.Graph, order resolver.Order) error {
	out := jsonGraph{Entry: g.Entry, Order: order.Names(), Modules: make([]jsonModule, 0, len(g.Nodes))}
	if out.Order == nil {
		out.Order = []string{}
	}
	for _, m := range g.Nodes {
		deps := g.Deps(m.Name)
		if deps == nil {
			deps = []string{}
		}
		out.Modules = append(out.Modules, jsonModule{Name: m.Name, ID: m.ID, Path: m.Path, Requires: deps})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
