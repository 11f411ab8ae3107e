package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestBuildReport_DeriveOutcome(t *testing.T) {
	r := NewBuildReport("id", "App", testTime)
	r.DeriveOutcome()
	assert.Equal(t, OutcomeSuccess, r.Outcome)

	r.AddIssue(IssueNotifyFailure, StageNotify, "no servers", nil)
	r.DeriveOutcome()
	assert.Equal(t, OutcomeSuccess, r.Outcome, "issues without errors do not fail a build")

	r.AddIssue(IssueWriteFailure, StageBundling, "disk full", errors.New("disk full"))
	r.DeriveOutcome()
	assert.Equal(t, OutcomeFailed, r.Outcome)
	assert.Equal(t, "disk full", r.ErrorMessage())
}

func TestBuildReport_SummaryAndMarkdown(t *testing.T) {
	r := NewBuildReport("b-1", "App", testTime)
	r.Modules = []string{"Util", "Ui", "App"}
	r.ScannedModules = 4
	r.Artifact = "dist/bundle.js"
	r.ArtifactBytes = 120
	r.Digest = strings.Repeat("ab", 32)
	r.SourceCommit = "0123456789"
	r.SourceBranch = "main"
	r.StageResults[StageScanning] = StageResultSuccess
	r.StageDurations[string(StageScanning)] = 3 * time.Millisecond
	r.AddIssue(IssueNotifyFailure, StageNotify, "a|b", nil)
	r.Finish(testTime.Add(1500 * time.Millisecond))
	r.DeriveOutcome()

	assert.Equal(t,
		"build=b-1 entry=App modules=3 scanned=4 bytes=120 digest=abababababab duration=1.5s errors=0 outcome=success",
		r.Summary())

	md := string(r.Markdown())
	assert.Contains(t, md, "| Modules bundled | 3 of 4 scanned |")
	assert.Contains(t, md, "1. `Util`\n2. `Ui`\n3. `App`\n")
	assert.Contains(t, md, `a\|b`)
	assert.Contains(t, md, "| Source branch | main |")
}

func TestBuildReport_Persist(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	r := NewBuildReport("b-2", "App", testTime)
	r.Finish(testTime)
	r.DeriveOutcome()
	require.NoError(t, r.Persist(dir))

	for _, name := range []string{ReportJSON, ReportText, ReportHTML} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size())
	}
	data, err := os.ReadFile(filepath.Join(dir, ReportJSON))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"issues": []`)
	assert.Contains(t, string(data), `"modules": []`)
}
