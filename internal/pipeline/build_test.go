package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/minderbuild/internal/config"
	ferrors "git.home.luguber.info/inful/minderbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/minderbuild/internal/history"
	"git.home.luguber.info/inful/minderbuild/internal/notify"
	"git.home.luguber.info/inful/minderbuild/internal/resolver"
	"git.home.luguber.info/inful/minderbuild/internal/sourceinfo"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
}

var appTree = map[string]string{
	"src/app.js":  "define('App', function (require) {\n  var util = require('Util');\n  var ui = require('Ui');\n});\n",
	"src/ui.js":   "define('Ui', function (require) {\n  require('Util');\n});\n",
	"src/util.js": "define('Util', function () {});\n",
	"package.json": `{"name":"app","title":"App","version":"1.0.0","author":{"name":"Team"},"license":"MIT",` +
		`"repository":{"url":"https://example.com/app.git"}}`,
}

func fixedSource() sourceinfo.Resolver {
	return sourceinfo.Resolver{
		Getenv: func(k string) string {
			if k == sourceinfo.EnvSourceDateEpoch {
				return "1700000000"
			}
			return ""
		},
	}
}

func newOpts(t *testing.T, files map[string]string) (Options, string) {
	t.Helper()
	dir := t.TempDir()
	writeTree(t, dir, files)
	cfg := config.Default(dir)
	cfg.Source.Entry = "App"
	return Options{Config: cfg, Source: fixedSource()}, dir
}

func TestBuild_OrdersDependenciesFirst(t *testing.T) {
	opts, dir := newOpts(t, appTree)

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"Util", "Ui", "App"}, res.Order.Names())
	assert.Equal(t, OutcomeSuccess, res.Report.Outcome)
	assert.Equal(t, 3, res.Report.ScannedModules)

	data, err := os.ReadFile(filepath.Join(dir, config.DefaultOutput))
	require.NoError(t, err)
	assert.Equal(t, res.Artifact.Bytes, data)
	assert.Contains(t, string(data), "App - v1.0.0 - 2023-11-14")
	assert.Contains(t, string(data), "\nuse('App');\n})();")

	for _, st := range []StageName{StageScanning, StageGraphBuilding, StageResolving, StageBundling} {
		assert.Equal(t, StageResultSuccess, res.Report.StageResults[st], st)
	}
	_, ranDownstream := res.Report.StageResults[StageDownstream]
	assert.False(t, ranDownstream)
}

func TestBuild_ByteIdenticalAcrossRuns(t *testing.T) {
	opts, dir := newOpts(t, appTree)
	out := filepath.Join(dir, config.DefaultOutput)

	first, err := Build(context.Background(), opts)
	require.NoError(t, err)
	a, err := os.ReadFile(out)
	require.NoError(t, err)

	second, err := Build(context.Background(), opts)
	require.NoError(t, err)
	b, err := os.ReadFile(out)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, first.Report.Digest, second.Report.Digest)
	assert.NotEqual(t, first.Report.BuildID, second.Report.BuildID)
}

func TestBuild_CycleFailsWithoutArtifact(t *testing.T) {
	opts, dir := newOpts(t, map[string]string{
		"src/a.js": "define('A', function (require) { require('B'); });",
		"src/b.js": "define('B', function (require) { require('C'); });",
		"src/c.js": "define('C', function (require) { require('A'); });",
	})
	opts.Config.Source.Entry = "A"

	res, err := Build(context.Background(), opts)
	require.Error(t, err)

	var cyc *resolver.CircularDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"A", "B", "C", "A"}, cyc.Path)
	assert.Equal(t, []string{
		filepath.Join(dir, "src", "a.js"),
		filepath.Join(dir, "src", "b.js"),
		filepath.Join(dir, "src", "c.js"),
	}, cyc.Files)
	assert.Contains(t, err.Error(), filepath.Join("src", "c.js"))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryGraph))
	assert.Equal(t, IssueCircularDependency, res.Report.Issues[0].Code)
	assert.Equal(t, OutcomeFailed, res.Report.Outcome)
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultOutput))
}

func TestBuild_MissingDependencyNamesBoth(t *testing.T) {
	opts, dir := newOpts(t, map[string]string{
		"src/app.js": "define('App', function (require) { require('X'); });",
	})

	res, err := Build(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "App")
	assert.Contains(t, err.Error(), "X")
	assert.Equal(t, IssueMissingDependency, res.Report.Issues[0].Code)
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultOutput))
}

func TestBuild_DuplicateNameIsParseCategory(t *testing.T) {
	opts, dir := newOpts(t, map[string]string{
		"src/app.js": "define('App', function (require) { require('Shared'); });",
		"src/one.js": "define('Shared', function () {});",
		"src/two.js": "define('Shared', function () {});",
	})

	res, err := Build(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryParse))
	assert.Equal(t, IssueDuplicateModule, res.Report.Issues[0].Code)
	assert.Equal(t, StageResultFatal, res.Report.StageResults[StageScanning])
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultOutput))
}

func TestBuild_FailureKeepsPreviousArtifact(t *testing.T) {
	opts, dir := newOpts(t, appTree)
	out := filepath.Join(dir, config.DefaultOutput)

	_, err := Build(context.Background(), opts)
	require.NoError(t, err)
	before, err := os.ReadFile(out)
	require.NoError(t, err)

	writeTree(t, dir, map[string]string{"src/util.js": "define('Util', function (require) { require('App'); });"})
	_, err = Build(context.Background(), opts)
	require.Error(t, err)

	after, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestBuild_WriteFailureIsFileSystemCategory(t *testing.T) {
	opts, dir := newOpts(t, appTree)
	writeTree(t, dir, map[string]string{"blocker": "not a directory"})
	opts.Output = "blocker/bundle.js"

	res, err := Build(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryFileSystem))
	assert.Equal(t, IssueWriteFailure, res.Report.Issues[0].Code)
	assert.Nil(t, res.Artifact)
}

func TestBuild_CanceledBeforeStart(t *testing.T) {
	opts, dir := newOpts(t, appTree)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Build(ctx, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryCanceled))
	assert.Equal(t, OutcomeCanceled, res.Report.Outcome)
	assert.Equal(t, StageResultCanceled, res.Report.StageResults[StageScanning])
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultOutput))
}

func TestBuild_PersistsReports(t *testing.T) {
	opts, dir := newOpts(t, appTree)

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)

	reportDir := filepath.Join(dir, config.DefaultReportDir)
	data, err := os.ReadFile(filepath.Join(reportDir, ReportJSON))
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, res.Report.BuildID, decoded["build_id"])
	assert.Equal(t, "success", decoded["outcome"])
	assert.Equal(t, "source_date_epoch", decoded["banner_date_source"])

	html, err := os.ReadFile(filepath.Join(reportDir, ReportHTML))
	require.NoError(t, err)
	assert.Contains(t, string(html), "<table>")
	assert.FileExists(t, filepath.Join(reportDir, ReportText))
}

func TestBuild_RecordsHistory(t *testing.T) {
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	opts, _ := newOpts(t, appTree)
	opts.History = store
	_, err = Build(context.Background(), opts)
	require.NoError(t, err)

	opts.Config.Source.Entry = "Nope"
	_, err = Build(context.Background(), opts)
	require.Error(t, err)

	recs, err := store.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "failed", recs[0].Outcome)
	assert.Equal(t, string(IssueEntryNotFound), recs[0].ErrorKind)
	assert.Equal(t, "success", recs[1].Outcome)
	assert.Equal(t, 3, recs[1].Modules)
}

type capturePublisher struct {
	events []notify.BuildEvent
	err    error
}

func (c *capturePublisher) Publish(_ context.Context, ev notify.BuildEvent) error {
	c.events = append(c.events, ev)
	return c.err
}

func (c *capturePublisher) Close() error { return nil }

func TestBuild_PublishesEvent(t *testing.T) {
	pub := &capturePublisher{}
	opts, _ := newOpts(t, appTree)
	opts.Notifier = pub

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, pub.events, 1)
	assert.Equal(t, res.Report.BuildID, pub.events[0].BuildID)
	assert.Equal(t, res.Report.Digest, pub.events[0].Digest)
	assert.Equal(t, 3, pub.events[0].Modules)
}

func TestBuild_NotifyFailureDoesNotFailBuild(t *testing.T) {
	pub := &capturePublisher{err: errors.New("no servers available")}
	opts, _ := newOpts(t, appTree)
	opts.Notifier = pub

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, res.Report.Outcome)
	require.Len(t, res.Report.Issues, 1)
	assert.Equal(t, IssueNotifyFailure, res.Report.Issues[0].Code)
}

func TestBuild_RunsDownstreamSteps(t *testing.T) {
	opts, dir := newOpts(t, appTree)
	opts.Config.Downstream = []config.StepConfig{
		{Type: config.StepCopy, Cwd: "dist", Src: []string{"*.js"}, Dest: "public"},
	}

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "public", "bundle.js"))
	require.Len(t, res.Report.Downstream, 1)
	assert.Equal(t, "copy", res.Report.Downstream[0].Name)

	opts.SkipDownstream = true
	res, err = Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, res.Report.Downstream)
}

func TestBuild_DownstreamFailureIsBuildCategory(t *testing.T) {
	opts, _ := newOpts(t, appTree)
	opts.Config.Downstream = []config.StepConfig{
		{Name: "minify", Type: config.StepCommand, Command: "minderbuild-no-such-tool", Timeout: "5s"},
	}

	res, err := Build(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryBuild))
	assert.Equal(t, IssueDownstreamFailure, res.Report.Issues[0].Code)
}

func TestPlan_DoesNotWrite(t *testing.T) {
	opts, dir := newOpts(t, appTree)

	res, err := Plan(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"Util", "Ui", "App"}, res.Order.Names())
	assert.NotNil(t, res.Graph)
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultOutput))
	assert.NoDirExists(t, filepath.Join(dir, config.DefaultReportDir))
}

func TestBuild_EntryOverride(t *testing.T) {
	opts, _ := newOpts(t, appTree)
	opts.Entry = "Ui"

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"Util", "Ui"}, res.Order.Names())
	assert.Equal(t, 1, res.Report.UnreachableModules)
	assert.WithinDuration(t, time.Now(), res.Report.End, time.Minute)
}

func TestBuild_ZeroSourceReadsSourceDateEpoch(t *testing.T) {
	t.Setenv(sourceinfo.EnvSourceDateEpoch, "1700000000")
	opts, _ := newOpts(t, appTree)
	opts.Source = sourceinfo.Resolver{}
	opts.Now = func() time.Time { return time.Date(2030, 1, 2, 0, 0, 0, 0, time.UTC) }

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Contains(t, string(res.Artifact.Bytes), "App - v1.0.0 - 2023-11-14")
	assert.Equal(t, sourceinfo.DateFromEnv, res.Source.DateSource)
	assert.Equal(t, string(sourceinfo.DateFromEnv), res.Report.BannerDateSource)
}

func TestBuild_PreStepOutputLandsInsideClosure(t *testing.T) {
	files := map[string]string{"ui/dialog/hello.html": "<p>hello</p>"}
	for k, v := range appTree {
		files[k] = v
	}
	opts, dir := newOpts(t, files)
	opts.Config.Bundle.Append = []string{".tmp/templates.js"}
	opts.Config.Downstream = []config.StepConfig{
		{Type: config.StepTemplates, Phase: config.PhasePre, Cwd: "ui", Src: []string{"dialog/*.html"}, Dest: ".tmp/templates.js", Module: "app"},
		{Type: config.StepClean, Phase: config.PhasePost, Src: []string{".tmp"}},
	}

	res, err := Build(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, StageResultSuccess, res.Report.StageResults[StagePrepare])
	require.Len(t, res.Report.Downstream, 2)
	assert.Equal(t, "templates", res.Report.Downstream[0].Name)
	assert.Equal(t, "clean", res.Report.Downstream[1].Name)
	assert.NoDirExists(t, filepath.Join(dir, ".tmp"))

	out := string(res.Artifact.Bytes)
	cache := strings.Index(out, "$templateCache.put(")
	trailer := strings.Index(out, "\nuse('App');\n})();")
	require.Positive(t, cache)
	assert.Greater(t, trailer, cache)
	assert.Less(t, strings.Index(out, "(function () {"), cache)

	opts.SkipDownstream = true
	res, err = Build(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, res.Report.Downstream, 1)
	assert.Equal(t, "templates", res.Report.Downstream[0].Name)
	assert.FileExists(t, filepath.Join(dir, ".tmp", "templates.js"))
	_, ranPost := res.Report.StageResults[StageDownstream]
	assert.False(t, ranPost)
}

func TestBuild_MissingAppendFragmentFails(t *testing.T) {
	opts, dir := newOpts(t, appTree)
	opts.Config.Bundle.Append = []string{".tmp/templates.js"}

	res, err := Build(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryNotFound))
	assert.Equal(t, IssueMissingFragment, res.Report.Issues[0].Code)
	assert.NoFileExists(t, filepath.Join(dir, config.DefaultOutput))
}

func TestPlan_SkipsPreSteps(t *testing.T) {
	opts, dir := newOpts(t, appTree)
	opts.Config.Downstream = []config.StepConfig{
		{Type: config.StepCopy, Phase: config.PhasePre, Cwd: "src", Src: []string{"*.js"}, Dest: "copied"},
	}

	_, err := Plan(context.Background(), opts)
	require.NoError(t, err)
	assert.NoDirExists(t, filepath.Join(dir, "copied"))
}
