package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	ferrors "git.home.luguber.info/inful/minderbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/minderbuild/internal/history"
)

// HistoryCmd implements the 'history' command.
type HistoryCmd struct {
	Limit int `short:"n" help:"Number of builds to show" default:"20"`
}

func (h *HistoryCmd) Run(g *Global, root *CLI) error {
	cfg, err := g.loadConfig(root)
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return ferrors.ConfigError("build history is disabled; set history.path in the configuration").Build()
	}
	store, err := history.Open(cfg.Resolve(cfg.History.Path))
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHistory, "failed to open build history").Build()
	}
	defer func() { _ = store.Close() }()

	recs, err := store.Recent(context.Background(), h.Limit)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryHistory, "failed to read build history").Build()
	}

	tw := tabwriter.NewWriter(g.out(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "STARTED\tOUTCOME\tENTRY\tMODULES\tDURATION\tDIGEST\tERROR")
	for _, r := range recs {
		detail := r.ErrorKind
		if r.Message != "" {
			detail += ": " + r.Message
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			r.Start.Local().Format(time.DateTime), r.Outcome, r.Entry, r.Modules,
			r.Duration.Truncate(time.Millisecond), shortHash(r.Digest), detail)
	}
	return tw.Flush()
}

func shortHash(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
