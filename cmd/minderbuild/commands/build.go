package commands

import (
	"fmt"

	"git.home.luguber.info/inful/minderbuild/internal/pipeline"
)

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Output       string `short:"o" help:"Artifact path (overrides bundle.output)"`
	Entry        string `help:"Entry module name (overrides source.entry)"`
	Base         string `help:"Source base directory (overrides source.base)"`
	NoDownstream bool   `name:"no-downstream" help:"Skip the configured downstream steps"`
}

func (b *BuildCmd) Run(g *Global, root *CLI) error {
	cfg, err := g.loadConfig(root)
	if err != nil {
		return err
	}
	log := g.logger()
	hist, closeHist := openHistory(cfg, log)
	defer closeHist()
	pub := openNotifier(cfg, log)
	if pub != nil {
		defer func() { _ = pub.Close() }()
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := pipeline.Build(ctx, pipeline.Options{
		Config:         cfg,
		Entry:          b.Entry,
		Base:           b.Base,
		Output:         b.Output,
		Logger:         log,
		History:        hist,
		Notifier:       pub,
		SkipDownstream: b.NoDownstream,
	})
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(g.out(), buildSummary(res))
	return nil
}

func buildSummary(res *pipeline.Result) string {
	s := fmt.Sprintf("Bundled %d modules into %s (%d bytes, sha256 %s)",
		len(res.Report.Modules), res.Output, res.Report.ArtifactBytes, res.Report.Digest)
	if short := res.Source.ShortCommit(); short != "" {
		s += " from commit " + short
		if res.Source.Branch != "" {
			s += " (" + res.Source.Branch + ")"
		}
	}
	return s
}
