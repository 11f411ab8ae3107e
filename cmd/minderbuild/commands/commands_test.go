package commands

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/minderbuild/internal/config"
	ferrors "git.home.luguber.info/inful/minderbuild/internal/foundation/errors"
	"git.home.luguber.info/inful/minderbuild/internal/pipeline"
	"git.home.luguber.info/inful/minderbuild/internal/sourceinfo"
)

// run parses args and executes the selected command, returning stdout.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var cli CLI
	var out bytes.Buffer
	g := &Global{Level: new(slog.LevelVar), Out: &out}
	parser, err := kong.New(&cli,
		kong.Name("minderbuild"),
		kong.Vars{"version": "test"},
		kong.Bind(g, &cli),
		kong.Exit(func(int) { t.Fatal("unexpected exit") }),
	)
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	if err != nil {
		return "", err
	}
	err = kctx.Run()
	return out.String(), err
}

func project(t *testing.T, extraConfig string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"src/app.js":  "define('App', function (require) { require('Ui'); require('Util'); });\n",
		"src/ui.js":   "define('Ui', function (require) { require('Util'); });\n",
		"src/util.js": "define('Util', function () {});\n",
		"package.json": `{"name":"demo","version":"0.1.0","license":"MIT"}`,
		"minderbuild.yaml": "source:\n  entry: App\nbundle:\n  output: dist/demo.js\n" + extraConfig,
	}
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
	t.Setenv("SOURCE_DATE_EPOCH", "1700000000")
	return filepath.Join(dir, "minderbuild.yaml")
}

func TestBuildCommand(t *testing.T) {
	cfgPath := project(t, "history:\n  path: .minderbuild/history.db\n")

	out, err := run(t, "-c", cfgPath, "build")
	require.NoError(t, err)
	assert.Contains(t, out, "Bundled 3 modules")

	artifact := filepath.Join(filepath.Dir(cfgPath), "dist", "demo.js")
	data, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Contains(t, string(data), "demo - v0.1.0 - 2023-11-14")

	out, err = run(t, "-c", cfgPath, "history", "-n", "5")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "success")
	assert.Contains(t, lines[1], "App")
}

func TestBuildCommand_OverridesAndExitCodes(t *testing.T) {
	cfgPath := project(t, "")
	adapter := ferrors.NewCLIErrorAdapter(false, nil)

	_, err := run(t, "-c", cfgPath, "build", "--entry", "Missing")
	require.Error(t, err)
	assert.Equal(t, ferrors.ExitGraph, adapter.ExitCodeFor(err))

	out, err := run(t, "-c", cfgPath, "build", "--entry", "Ui", "-o", "dist/ui.js")
	require.NoError(t, err)
	assert.Contains(t, out, "Bundled 2 modules")
	assert.FileExists(t, filepath.Join(filepath.Dir(cfgPath), "dist", "ui.js"))

	_, err = run(t, "-c", filepath.Join(t.TempDir(), "absent.yaml"), "build")
	require.Error(t, err)
	assert.Equal(t, ferrors.ExitConfig, adapter.ExitCodeFor(err))
}

func TestGraphCommand(t *testing.T) {
	cfgPath := project(t, "")

	out, err := run(t, "-c", cfgPath, "graph")
	require.NoError(t, err)
	assert.Equal(t, "Util\nUi\nApp\n", out)

	out, err = run(t, "-c", cfgPath, "graph", "-f", "json")
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "App", decoded["entry"])

	dot := filepath.Join(t.TempDir(), "graph.dot")
	_, err = run(t, "-c", cfgPath, "graph", "-f", "dot", "-o", dot)
	require.NoError(t, err)
	data, err := os.ReadFile(dot)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"App" -> "Ui";`)
	assert.NoFileExists(t, filepath.Join(filepath.Dir(cfgPath), "dist", "demo.js"))

	out, err = run(t, "graph", "--list")
	require.NoError(t, err)
	assert.Contains(t, out, "mermaid")
}

func TestInitCommand(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "minderbuild.yaml")

	out, err := run(t, "-c", cfgPath, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "initialized successfully")
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "expose-editor", cfg.Source.Entry)

	_, err = run(t, "-c", cfgPath, "init")
	require.Error(t, err)
	_, err = run(t, "-c", cfgPath, "init", "--force")
	require.NoError(t, err)
}

func TestHistoryCommand_Disabled(t *testing.T) {
	cfgPath := project(t, "")
	_, err := run(t, "-c", cfgPath, "history")
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryConfig))
}

func TestResolveLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, resolveLevel(true, "error", config.LogLevelWarn))
	assert.Equal(t, slog.LevelError, resolveLevel(false, "error", config.LogLevelWarn))
	assert.Equal(t, slog.LevelWarn, resolveLevel(false, "", config.LogLevelWarn))
	assert.Equal(t, slog.LevelWarn, resolveLevel(false, "warning", ""))
	assert.Equal(t, slog.LevelInfo, resolveLevel(false, "bogus", ""))
}

func TestWatchIgnores(t *testing.T) {
	cfg := config.Default("/work")
	cfg.History.Path = "state/history.db"
	cfg.Downstream = []config.StepConfig{{Type: config.StepCopy, Dest: "public"}}

	ignores := watchIgnores(cfg)
	assert.Contains(t, ignores, filepath.Join("/work", config.DefaultOutput))
	assert.Contains(t, ignores, filepath.Join("/work", "dist"))
	assert.Contains(t, ignores, filepath.Join("/work", "state", "history.db-journal"))
	assert.Contains(t, ignores, filepath.Join("/work", "public"))
	assert.Equal(t, []string{filepath.Join("/work", config.DefaultBase)}, watchRoots(cfg))

	files := watchFiles(cfg, "/work/minderbuild.yaml")
	assert.Contains(t, files, "/work/minderbuild.yaml")
	assert.Contains(t, files, filepath.Join("/work", ".env.local"))
	assert.Contains(t, files, filepath.Join("/work", config.DefaultProject))
	assert.NotContains(t, files, filepath.Join("/work", "dist"))
}

func TestBuildSummary_NamesSourceCommit(t *testing.T) {
	res := &pipeline.Result{
		Report: &pipeline.BuildReport{Modules: []string{"A", "B"}, ArtifactBytes: 10, Digest: "abc"},
		Output: "dist/out.js",
	}
	assert.Equal(t, "Bundled 2 modules into dist/out.js (10 bytes, sha256 abc)", buildSummary(res))

	res.Source = sourceinfo.Info{Commit: "0123456789abcdef", Branch: "main"}
	assert.Equal(t, "Bundled 2 modules into dist/out.js (10 bytes, sha256 abc) from commit 01234567 (main)", buildSummary(res))

	res.Source.Branch = ""
	assert.True(t, strings.HasSuffix(buildSummary(res), "from commit 01234567"))
}
