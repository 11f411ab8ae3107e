package commands

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"git.home.luguber.info/inful/minderbuild/internal/config"
	ferrors "git.home.luguber.info/inful/minderbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/minderbuild/internal/logfields"
	"git.home.luguber.info/inful/minderbuild/internal/metrics"
	"git.home.luguber.info/inful/minderbuild/internal/pipeline"
	"git.home.luguber.info/inful/minderbuild/internal/watch"
)

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Every       time.Duration `help:"Also rebuild periodically (e.g. 10m); overrides watch.every"`
	Debounce    time.Duration `help:"Quiet window after the last change (overrides watch.debounce)"`
	MetricsAddr string        `name:"metrics-addr" help:"Serve Prometheus metrics on this address (e.g. :9464)"`
}

func (c *WatchCmd) Run(g *Global, root *CLI) error {
	cfg, err := g.loadConfig(root)
	if err != nil {
		return err
	}
	log := g.logger()

	every, debounce, err := c.durations(cfg)
	if err != nil {
		return err
	}

	var recorder metrics.Recorder = metrics.NoopRecorder{}
	var server *watch.MetricsServer
	if c.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		recorder = metrics.NewPrometheusRecorder(reg)
		server, err = watch.ListenMetrics(c.MetricsAddr, metrics.HTTPHandler(reg))
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to start metrics endpoint").
				WithContext("addr", c.MetricsAddr).
				Build()
		}
	}

	hist, closeHist := openHistory(cfg, log)
	defer closeHist()
	pub := openNotifier(cfg, log)
	if pub != nil {
		defer func() { _ = pub.Close() }()
	}

	// The configuration is reloaded for every rebuild so edits take effect
	// without restarting; a broken file keeps the previous configuration.
	current := cfg
	build := func(ctx context.Context, _ string) error {
		if next, err := g.loadConfig(root); err != nil {
			log.Warn("Keeping previous configuration", logfields.Error(err))
		} else {
			current = next
		}
		_, err := pipeline.Build(ctx, pipeline.Options{
			Config:   current,
			Logger:   log,
			Recorder: recorder,
			History:  hist,
			Notifier: pub,
		})
		return err
	}

	w, err := watch.New(watch.Options{
		Roots:    watchRoots(cfg),
		Files:    watchFiles(cfg, root.Config),
		Ignore:   watchIgnores(cfg),
		Debounce: debounce,
		Every:    every,
		Build:    build,
		Logger:   log,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error { return w.Run(gctx) })
	if server != nil {
		grp.Go(func() error { return server.Serve(gctx) })
	}
	err = grp.Wait()
	log.Info("Watch stopped", logfields.Count(w.Builds()))
	return err
}

func (c *WatchCmd) durations(cfg *config.Config) (every, debounce time.Duration, err error) {
	every, debounce = c.Every, c.Debounce
	if every == 0 && cfg.Watch.Every != "" {
		if every, err = time.ParseDuration(cfg.Watch.Every); err != nil {
			return 0, 0, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid watch.every").Build()
		}
	}
	if debounce == 0 && cfg.Watch.Debounce != "" {
		if debounce, err = time.ParseDuration(cfg.Watch.Debounce); err != nil {
			return 0, 0, ferrors.WrapError(err, ferrors.CategoryValidation, "invalid watch.debounce").Build()
		}
	}
	return every, debounce, nil
}

// watchRoots is the source base plus any extra configured paths.
func watchRoots(cfg *config.Config) []string {
	roots := []string{cfg.Resolve(cfg.Source.Base)}
	for _, p := range cfg.Watch.Paths {
		roots = append(roots, cfg.Resolve(p))
	}
	return roots
}

// watchFiles are the inputs outside the source roots: the configuration,
// its .env files and the project metadata.
func watchFiles(cfg *config.Config, configPath string) []string {
	files := []string{
		configPath,
		filepath.Join(cfg.Dir(), ".env"),
		filepath.Join(cfg.Dir(), ".env.local"),
	}
	if cfg.Project != "" {
		files = append(files, cfg.Resolve(cfg.Project))
	}
	return files
}

// watchIgnores lists everything a build writes, so builds never retrigger themselves.
func watchIgnores(cfg *config.Config) []string {
	ignores := []string{cfg.Resolve(cfg.Bundle.Output), cfg.Resolve(cfg.Report.Dir)}
	base := cfg.Resolve(cfg.Source.Base)
	if outDir := filepath.Dir(cfg.Resolve(cfg.Bundle.Output)); outDir != cfg.Dir() && !strings.HasPrefix(base, outDir) {
		ignores = append(ignores, outDir)
	}
	if cfg.History.Path != "" {
		db := cfg.Resolve(cfg.History.Path)
		ignores = append(ignores, db, db+"-journal", db+"-wal", db+"-shm")
	}
	for _, s := range cfg.Downstream {
		if s.Dest != "" {
			ignores = append(ignores, cfg.Resolve(s.Dest))
		}
	}
	return ignores
}
