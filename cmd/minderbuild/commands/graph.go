package commands

import (
	"bytes"
	"fmt"
	"io"

	"git.home.luguber.info/inful/minderbuild/internal/bundler"
	"git.home.luguber.info/inful/minderbuild/internal/graphview"
	"git.home.luguber.info/inful/minderbuild/internal/logfields"
	"git.home.luguber.info/inful/minderbuild/internal/pipeline"
)

// GraphCmd implements the 'graph' command.
type GraphCmd struct {
	Format string `short:"f" help:"Output format: order, tree, dot, mermaid, json" default:"order" enum:"order,tree,dot,mermaid,json"`
	Output string `short:"o" help:"Output file path (prints to stdout if not specified)"`
	Entry  string `help:"Entry module name (overrides source.entry)"`
	List   bool   `short:"l" help:"List available formats and exit"`
}

func (c *GraphCmd) Run(g *Global, root *CLI) error {
	out := g.out()
	if c.List {
		_, _ = fmt.Fprintln(out, "Available graph formats:")
		for _, f := range graphview.SupportedFormats() {
			_, _ = fmt.Fprintf(out, "  %-8s %s\n", f, graphview.Description(f))
		}
		return nil
	}

	cfg, err := g.loadConfig(root)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	res, err := pipeline.Plan(ctx, pipeline.Options{Config: cfg, Entry: c.Entry, Logger: g.logger()})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := graphview.Render(&buf, graphview.Format(c.Format), res.Graph, res.Order); err != nil {
		return fmt.Errorf("failed to render graph: %w", err)
	}
	if c.Output == "" {
		_, err := out.Write(buf.Bytes())
		return err
	}
	if err := bundler.WriteFileAtomic(c.Output, 0o644, func(w io.Writer) error {
		_, werr := w.Write(buf.Bytes())
		return werr
	}); err != nil {
		return err
	}
	g.logger().Info("Dependency graph written", logfields.File(c.Output), logfields.Name(c.Format))
	return nil
}
