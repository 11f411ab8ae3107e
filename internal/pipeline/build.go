// Package pipeline runs a build through its stages: scanning, graph
// building, resolving, bundling and the optional downstream and notify stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/minderbuild/internal/bundler"
	"git.home.luguber.info/inful/minderbuild/internal/config"
	"git.home.luguber.info/inful/minderbuild/internal/depgraph"
	"git.home.luguber.info/inful/minderbuild/internal/downstream"
	ferrors "git.home.luguber.info/inful/minderbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/minderbuild/internal/history"
	"git.home.luguber.info/inful/minderbuild/internal/logfields"
	"git.home.luguber.info/inful/minderbuild/internal/metrics"
	"git.home.luguber.info/inful/minderbuild/internal/notify"
	"git.home.luguber.info/inful/minderbuild/internal/resolver"
	"git.home.luguber.info/inful/minderbuild/internal/scanner"
	"git.home.luguber.info/inful/minderbuild/internal/sourceinfo"
	"git.home.luguber.info/inful/minderbuild/internal/version"
)

// Options configures a single build. Entry, Base and Output override the
// configuration when set.
type Options struct {
	Config *config.Config
	Entry  string
	Base   string
	Output string

	Logger   *slog.Logger
	Recorder metrics.Recorder
	History  history.Recorder
	Notifier notify.Publisher
	// Source looks up provenance; the zero value reads SOURCE_DATE_EPOCH from
	// the process environment and falls back to Now.
	Source sourceinfo.Resolver
	Now    func() time.Time

	// SkipDownstream bundles without running the post-bundle steps. Pre-bundle
	// steps still run because they produce bundle inputs.
	SkipDownstream bool
}

// Result is what a build produced.
type Result struct {
	Report   *BuildReport
	Artifact *bundler.Artifact
	Order    resolver.Order
	Graph    *depgraph.Graph
	Output   string
	Source   sourceinfo.Info
}

func (o *Options) defaults() error {
	if o.Config == nil {
		return ferrors.ConfigError("no configuration provided").Build()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Recorder == nil {
		o.Recorder = metrics.NoopRecorder{}
	}
	if o.History == nil {
		o.History = history.Noop{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Source.Now == nil {
		o.Source.Now = o.Now
	}
	return nil
}

func (o *Options) newState(report *BuildReport, logger *slog.Logger) *BuildState {
	cfg := o.Config
	entry := firstNonEmpty(o.Entry, cfg.Source.Entry)
	return &BuildState{
		Config:   cfg,
		Entry:    entry,
		Base:     cfg.Resolve(firstNonEmpty(o.Base, cfg.Source.Base)),
		Output:   cfg.Resolve(firstNonEmpty(o.Output, cfg.Bundle.Output)),
		Logger:   logger,
		Recorder: o.Recorder,
		Report:   report,
	}
}

// Build runs one complete build. Each call starts from a fresh scan; nothing
// is carried over from previous builds. On failure the artifact is not written
// and the returned error is a ClassifiedError.
func Build(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	start := opts.Now()
	buildID := uuid.NewString()
	log := opts.Logger.With(logfields.BuildID(buildID))

	report := NewBuildReport(buildID, firstNonEmpty(opts.Entry, opts.Config.Source.Entry), start)
	bs := opts.newState(report, log)

	log.Info("Build started", logfields.Entry(bs.Entry), logfields.Path(bs.Base))

	cfg := opts.Config
	pre, post := cfg.Steps(config.PhasePre), cfg.Steps(config.PhasePost)
	defs := NewPipeline().
		AddIf(len(pre) > 0, StagePrepare, stageSteps(pre)).
		Add(StageScanning, stageScan).
		Add(StageGraphBuilding, stageGraph).
		Add(StageResolving, stageResolve).
		Add(StageBundling, stageBundle(opts.Source)).
		AddIf(len(post) > 0 && !opts.SkipDownstream, StageDownstream, stageSteps(post)).
		AddIf(opts.Notifier != nil, StageNotify, stageNotify(opts.Notifier)).
		Build()

	runErr := RunStages(ctx, bs, defs)

	report.Finish(opts.Now())
	report.DeriveOutcome()
	opts.Recorder.ObserveBuildDuration(report.Duration())
	opts.Recorder.IncBuildOutcome(outcomeLabel(report.Outcome))

	if dir := cfg.Resolve(cfg.Report.Dir); dir != "" {
		if err := report.Persist(dir); err != nil {
			log.Warn("Failed to persist build report", logfields.Path(dir), logfields.Error(err))
		}
	}
	// History is recorded even for canceled builds, so it must not use ctx.
	if err := opts.History.Add(context.WithoutCancel(ctx), historyRecord(report)); err != nil {
		log.Warn("Failed to record build history", logfields.Error(err))
	}

	res := &Result{Report: report, Artifact: bs.Artifact, Order: bs.Order, Graph: bs.Graph, Output: bs.Output, Source: bs.Source}
	if runErr != nil {
		log.Error("Build failed",
			logfields.Outcome(string(report.Outcome)),
			logfields.Elapsed(report.Duration()),
			logfields.Error(runErr))
		return res, classify(runErr, report)
	}
	log.Info("Build completed",
		logfields.Outcome(string(report.Outcome)),
		logfields.Count(len(report.Modules)),
		logfields.File(bs.Output),
		logfields.Digest(report.Digest),
		logfields.Elapsed(report.Duration()))
	return res, nil
}

// Plan scans, builds the graph and resolves the order without writing anything.
// Pre-bundle steps do not run, so generated sources are used as they are on disk.
func Plan(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	start := opts.Now()
	buildID := uuid.NewString()
	log := opts.Logger.With(logfields.BuildID(buildID))
	report := NewBuildReport(buildID, firstNonEmpty(opts.Entry, opts.Config.Source.Entry), start)
	bs := opts.newState(report, log)

	defs := NewPipeline().
		Add(StageScanning, stageScan).
		Add(StageGraphBuilding, stageGraph).
		Add(StageResolving, stageResolve).
		Build()
	err := RunStages(ctx, bs, defs)
	report.Finish(opts.Now())
	report.DeriveOutcome()

	res := &Result{Report: report, Order: bs.Order, Graph: bs.Graph, Output: bs.Output}
	if err != nil {
		return res, classify(err, report)
	}
	return res, nil
}

func stageScan(ctx context.Context, bs *BuildState) error {
	if bs.Entry == "" {
		return fmt.Errorf("%w: no entry module configured", depgraph.ErrEntryNotFound)
	}
	src := bs.Config.Source
	set, err := scanner.New(bs.Base, src.Include,
		scanner.WithExclude(src.Exclude...),
		scanner.WithLogger(bs.Logger)).Scan(ctx)
	if err != nil {
		return err
	}
	bs.Modules = set
	bs.Report.ScannedModules = set.Len()
	return nil
}

func stageGraph(_ context.Context, bs *BuildState) error {
	g, err := depgraph.Build(bs.Modules, bs.Entry)
	if err != nil {
		return err
	}
	bs.Graph = g
	unreachable := g.Unreachable(bs.Modules)
	bs.Report.UnreachableModules = len(unreachable)
	for _, name := range unreachable {
		bs.Logger.Debug("Module not reachable from entry", logfields.Module(name))
	}
	return nil
}

func stageResolve(_ context.Context, bs *BuildState) error {
	order, err := resolver.Resolve(bs.Graph)
	if err != nil {
		return err
	}
	bs.Order = order
	bs.Report.Modules = order.Names()
	return nil
}

func stageBundle(src sourceinfo.Resolver) Stage {
	return func(ctx context.Context, bs *BuildState) error {
		cfg := bs.Config
		project, err := loadProject(cfg, bs.Logger)
		if err != nil {
			return err
		}
		info := src.Lookup(cfg.Dir())
		bs.Source = info
		bs.Report.SourceCommit = info.Commit
		bs.Report.SourceBranch = info.Branch
		bs.Report.SourceDirty = info.Dirty
		bs.Report.BannerDate = info.Date
		bs.Report.BannerDateSource = string(info.DateSource)

		prelude, err := bundler.LoadFragments(cfg.Dir(), cfg.Bundle.Prelude)
		if err != nil {
			return fmt.Errorf("load prelude: %w", err)
		}
		appendix, err := bundler.LoadFragments(cfg.Dir(), cfg.Bundle.Append)
		if err != nil {
			return fmt.Errorf("load append: %w", err)
		}

		b := bundler.New(bundler.Options{
			Banner:  cfg.Bundle.BannerEnabled(),
			Project: project,
			Date:    info.Date,
			Global:  cfg.Bundle.Global,
			Prelude: prelude,
			Append:  appendix,
		})
		art, err := b.Assemble(bs.Order, bs.Entry)
		if err != nil {
			return err
		}
		// Last chance to abandon the build before the output is replaced.
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := art.Write(bs.Output); err != nil {
			return err
		}
		bs.Artifact = art
		bs.Report.Artifact = bs.Output
		bs.Report.ArtifactBytes = len(art.Bytes)
		bs.Report.Digest = art.Digest
		bs.Recorder.SetBundledModules(len(art.Modules))
		bs.Recorder.ObserveArtifactBytes(len(art.Bytes))
		return nil
	}
}

// loadProject reads banner metadata; a missing package.json yields an empty project.
func loadProject(cfg *config.Config, log *slog.Logger) (*bundler.Project, error) {
	if cfg.Project == "" {
		return &bundler.Project{}, nil
	}
	path := cfg.Resolve(cfg.Project)
	p, err := bundler.LoadProject(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn("Project metadata not found, banner will be sparse", logfields.Path(path))
		return &bundler.Project{}, nil
	}
	return p, err
}

// stageSteps runs one phase of the configured steps. Pre-bundle steps run
// before scanning so generated modules and fragments are current.
func stageSteps(steps []config.StepConfig) Stage {
	return func(ctx context.Context, bs *BuildState) error {
		runner, err := downstream.NewRunner(bs.Config.Dir(), steps)
		if err != nil {
			return err
		}
		results, err := runner.Run(ctx)
		bs.Report.Downstream = append(bs.Report.Downstream, results...)
		return err
	}
}

// stageNotify publishes the build event. Delivery failures are reported but
// do not fail a build whose artifact is already in place.
func stageNotify(pub notify.Publisher) Stage {
	return func(ctx context.Context, bs *BuildState) error {
		ev := notify.BuildEvent{
			BuildID:   bs.Report.BuildID,
			Entry:     bs.Entry,
			Artifact:  bs.Output,
			Digest:    bs.Report.Digest,
			Modules:   len(bs.Report.Modules),
			Bytes:     bs.Report.ArtifactBytes,
			Commit:    bs.Source.Commit,
			Version:   version.Version,
			Timestamp: time.Now().UTC(),
		}
		if err := pub.Publish(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			bs.Logger.Warn("Build notification failed", logfields.Error(err))
			bs.Report.AddIssue(IssueNotifyFailure, StageNotify, err.Error(), nil)
		}
		return nil
	}
}

// classify wraps a stage failure into a ClassifiedError whose category
// drives the CLI exit code.
func classify(err error, report *BuildReport) error {
	var b *ferrors.ErrorBuilder
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		b = ferrors.NewError(ferrors.CategoryCanceled, "build canceled")
	case errors.Is(err, scanner.ErrParse), errors.Is(err, scanner.ErrDuplicateModule):
		b = ferrors.ParseError("build failed")
	case errors.Is(err, scanner.ErrNoSources), errors.Is(err, bundler.ErrMissingFragment):
		b = ferrors.NewError(ferrors.CategoryNotFound, "build failed").UserAction()
	case errors.Is(err, depgraph.ErrEntryNotFound),
		errors.Is(err, depgraph.ErrMissingDependency),
		errors.Is(err, resolver.ErrCircularDependency):
		b = ferrors.GraphError("build failed")
	case errors.Is(err, bundler.ErrWrite):
		b = ferrors.FileSystemError("build failed")
	case errors.Is(err, downstream.ErrStep):
		b = ferrors.BuildError("build failed")
	default:
		b = ferrors.InternalError("build failed")
	}
	ctx := ferrors.ErrorContext{"build_id": report.BuildID, "entry": report.Entry}
	if kind := report.ErrorKind(); kind != "" {
		ctx["issue"] = kind
	}
	return b.WithCause(err).WithContextMap(ctx).Build()
}

func outcomeLabel(o BuildOutcome) metrics.BuildOutcomeLabel {
	switch o {
	case OutcomeSuccess:
		return metrics.OutcomeSuccess
	case OutcomeCanceled:
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeFailed
	}
}

func historyRecord(r *BuildReport) history.Record {
	return history.Record{
		BuildID:   r.BuildID,
		Start:     r.Start,
		Duration:  r.Duration(),
		Outcome:   string(r.Outcome),
		Entry:     r.Entry,
		Modules:   len(r.Modules),
		Digest:    r.Digest,
		ErrorKind: r.ErrorKind(),
		Message:   r.ErrorMessage(),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
