package sourceinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

var fixedNow = time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)

func commitRepo(t *testing.T, when time.Time) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "a.js"), []byte("define('a')"), 0o600))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("src/a.js")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &git.CommitOptions{Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: when}})
	require.NoError(t, err)
	return dir
}

func TestLookup_CommitTimeFromSubdirectory(t *testing.T) {
	when := time.Date(2016, 8, 10, 12, 0, 0, 0, time.UTC)
	dir := commitRepo(t, when)

	info := Resolver{Getenv: env(nil), Now: func() time.Time { return fixedNow }}.Lookup(filepath.Join(dir, "src"))
	assert.Equal(t, DateFromCommit, info.DateSource)
	assert.True(t, when.Equal(info.Date))
	assert.Len(t, info.Commit, 40)
	assert.Len(t, info.ShortCommit(), 8)
	assert.Equal(t, info.Commit[:8], info.ShortCommit())
	assert.NotEmpty(t, info.Branch)
	assert.False(t, info.Dirty)
}

func TestLookup_EpochWins(t *testing.T) {
	dir := commitRepo(t, time.Date(2016, 8, 10, 12, 0, 0, 0, time.UTC))

	info := Resolver{Getenv: env(map[string]string{EnvSourceDateEpoch: "86400"}), Now: func() time.Time { return fixedNow }}.Lookup(dir)
	assert.Equal(t, DateFromEnv, info.DateSource)
	assert.Equal(t, time.Unix(86400, 0).UTC(), info.Date)
	assert.NotEmpty(t, info.Commit)
}

func TestLookup_ClockWithoutRepository(t *testing.T) {
	info := Resolver{Getenv: env(map[string]string{EnvSourceDateEpoch: "not-a-number"}), Now: func() time.Time { return fixedNow }}.Lookup(t.TempDir())
	assert.Equal(t, DateFromClock, info.DateSource)
	assert.Equal(t, fixedNow, info.Date)
	assert.Empty(t, info.Commit)
}

func TestLookup_ZeroResolverReadsProcessEnvironment(t *testing.T) {
	t.Setenv(EnvSourceDateEpoch, "1700000000")

	info := Resolver{}.Lookup(t.TempDir())
	assert.Equal(t, DateFromEnv, info.DateSource)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), info.Date)
	assert.Equal(t, DateFromEnv, Lookup(t.TempDir()).DateSource)
}

func TestParseEpoch(t *testing.T) {
	_, ok, err := parseEpoch("")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseEpoch("-5")
	require.Error(t, err)

	ts, ok, err := parseEpoch(" 1470830400 ")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2016, ts.Year())
}
