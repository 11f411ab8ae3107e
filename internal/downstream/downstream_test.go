package downstream

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/minderbuild/internal/config"
)

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
}

func TestMinifyHTML(t *testing.T) {
	cases := []struct{ name, in, want string }{
		{"comments", "<div><!-- note --><span>x</span></div>", "<div><span>x</span></div>"},
		{"whitespace", "<div>\n   <span>a   b</span>\n</div>\n", "<div> <span>a b</span> </div>"},
		{"boolean", `<input type="checkbox" checked="checked" ng-model="x">`, `<input type="checkbox" checked ng-model="x">`},
		{"tag spacing", "<div   class=\"a  b\"\n   ng-if=\"ok\"  >", `<div class="a  b" ng-if="ok">`},
		{"pre kept", "<pre>  a\n  b </pre>", "<pre>  a\n  b </pre>"},
		{"entities kept", "<p>a &amp; b</p>", "<p>a &amp; b</p>"},
		{"svg case kept", `<svg viewBox="0 0 1 1"></svg>`, `<svg viewBox="0 0 1 1"></svg>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := MinifyHTML([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(got))
		})
	}
}

func TestTemplatesStep(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ui/directive/topTab/topTab.html", "<div class=\"top-tab\">\n  <!-- tabs -->\n  <span>it's</span>\n</div>\n")
	writeFile(t, root, "ui/dialog/hyperlink/hyperlink.html", "<form novalidate=\"\"><input required=\"required\"></form>")
	writeFile(t, root, "ui/directive/readme.txt", "ignored")

	r, err := NewRunner(root, []config.StepConfig{{
		Type:   config.StepTemplates,
		Cwd:    "ui",
		Src:    []string{"directive/**/*.html", "dialog/**/*.html"},
		Dest:   "dist/templates.js",
		Module: "kityminderEditor",
	}})
	require.NoError(t, err)
	results, err := r.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "templates", results[0].Name)

	out, err := os.ReadFile(filepath.Join(root, "dist", "templates.js"))
	require.NoError(t, err)
	want := "angular.module('kityminderEditor').run(['$templateCache', function($templateCache) {\n  'use strict';\n\n" +
		"  $templateCache.put('ui/dialog/hyperlink/hyperlink.html',\n    \"<form novalidate><input required></form>\"\n  );\n\n" +
		"  $templateCache.put('ui/directive/topTab/topTab.html',\n    \"<div class=\\\"top-tab\\\"> <span>it's</span> </div>\"\n  );\n\n" +
		"}]);\n"
	assert.Equal(t, want, string(out))
}

func TestCopyAndCleanSteps(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "ui/images/logo.png", "png")
	writeFile(t, root, "ui/images/icons/a.svg", "svg")
	writeFile(t, root, ".tmp/scripts/x.js", "x")
	require.NoError(t, os.Chmod(filepath.Join(root, "ui/images/logo.png"), 0o640))

	r, err := NewRunner(root, []config.StepConfig{
		{Type: config.StepCopy, Cwd: "ui", Src: []string{"images/**"}, Dest: "dist"},
		{Type: config.StepClean, Src: []string{".tmp"}},
	})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "dist", "images", "icons", "a.svg"))
	require.NoError(t, err)
	assert.Equal(t, "svg", string(data))
	info, err := os.Stat(filepath.Join(root, "dist", "images", "logo.png"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	_, err = os.Stat(filepath.Join(root, ".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestCommandStep(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	root := t.TempDir()

	r, err := NewRunner(root, []config.StepConfig{
		{Name: "touch", Type: config.StepCommand, Command: sh, Args: []string{"-c", "echo built > out.txt"}, Timeout: "10s"},
	})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(root, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(data))

	r, err = NewRunner(root, []config.StepConfig{
		{Name: "fail", Type: config.StepCommand, Command: sh, Args: []string{"-c", "echo nope >&2; exit 3"}, Timeout: "10s"},
		{Name: "never", Type: config.StepCommand, Command: sh, Args: []string{"-c", "touch never.txt"}, Timeout: "10s"},
	})
	require.NoError(t, err)
	results, err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrStep)
	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "fail", se.Step)
	assert.Empty(t, results)
	_, statErr := os.Stat(filepath.Join(root, "never.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestCommandStep_Timeout(t *testing.T) {
	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	r, err := NewRunner(t.TempDir(), []config.StepConfig{
		{Type: config.StepCommand, Command: sh, Args: []string{"-c", "sleep 5"}, Timeout: "50ms"},
	})
	require.NoError(t, err)
	_, err = r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestRunner_Canceled(t *testing.T) {
	r, err := NewRunner(t.TempDir(), []config.StepConfig{{Type: config.StepClean, Src: []string{"x"}}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
