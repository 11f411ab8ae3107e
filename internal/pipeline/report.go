package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"git.home.luguber.info/inful/minderbuild/internal/bundler"
	"git.home.luguber.info/inful/minderbuild/internal/downstream"
	"git.home.luguber.info/inful/minderbuild/internal/metrics"
	"git.home.luguber.info/inful/minderbuild/internal/version"
)

// Report file names written into the report directory.
const (
	ReportJSON = "build-report.json"
	ReportText = "build-report.txt"
	ReportHTML = "build-report.html"
)

// BuildOutcome is the typed enumeration of final build result states.
type BuildOutcome string

const (
	OutcomeSuccess  BuildOutcome = "success"
	OutcomeFailed   BuildOutcome = "failed"
	OutcomeCanceled BuildOutcome = "canceled"
)

// ReportIssueCode enumerates machine-parseable issue identifiers.
// These codes are a stable contract and should only be appended.
type ReportIssueCode string

const (
	IssueParse              ReportIssueCode = "PARSE_ERROR"
	IssueDuplicateModule    ReportIssueCode = "DUPLICATE_MODULE"
	IssueNoSources          ReportIssueCode = "NO_SOURCES"
	IssueMissingFragment    ReportIssueCode = "MISSING_FRAGMENT"
	IssueEntryNotFound      ReportIssueCode = "ENTRY_NOT_FOUND"
	IssueMissingDependency  ReportIssueCode = "MISSING_DEPENDENCY"
	IssueCircularDependency ReportIssueCode = "CIRCULAR_DEPENDENCY"
	IssueWriteFailure       ReportIssueCode = "WRITE_FAILURE"
	IssueDownstreamFailure  ReportIssueCode = "DOWNSTREAM_FAILURE"
	IssueNotifyFailure      ReportIssueCode = "NOTIFY_FAILURE"
	IssueCanceled           ReportIssueCode = "BUILD_CANCELED"
	IssueGenericStageError  ReportIssueCode = "GENERIC_STAGE_ERROR"
)

// ReportIssue is a structured taxonomy entry describing a discrete problem encountered.
type ReportIssue struct {
	Code    ReportIssueCode `json:"code"`
	Stage   StageName       `json:"stage"`
	Message string          `json:"message"`
}

// BuildReport captures what one build did.
type BuildReport struct {
	SchemaVersion   int
	BuildID         string
	Entry           string
	Start           time.Time
	End             time.Time
	Errors          []error
	StageDurations  map[string]time.Duration
	StageErrorKinds map[StageName]StageErrorKind
	StageResults    map[StageName]StageResult
	Issues          []ReportIssue
	Outcome         BuildOutcome
	// ScannedModules counts every module found; Modules is the bundled order.
	ScannedModules     int
	UnreachableModules int
	Modules            []string
	Artifact           string
	ArtifactBytes      int
	Digest             string
	Downstream         []downstream.StepResult
	SourceCommit       string
	SourceBranch       string
	SourceDirty        bool
	BannerDate         time.Time
	BannerDateSource   string
	ToolVersion        string
}

// NewBuildReport constructs a new BuildReport.
func NewBuildReport(buildID, entry string, start time.Time) *BuildReport {
	return &BuildReport{
		SchemaVersion:   1,
		BuildID:         buildID,
		Entry:           entry,
		Start:           start,
		StageDurations:  make(map[string]time.Duration),
		StageErrorKinds: make(map[StageName]StageErrorKind),
		StageResults:    make(map[StageName]StageResult),
		ToolVersion:     version.Version,
	}
}

// AddIssue appends a structured issue and records err as a build error.
func (r *BuildReport) AddIssue(code ReportIssueCode, stage StageName, msg string, err error) {
	r.Issues = append(r.Issues, ReportIssue{Code: code, Stage: stage, Message: msg})
	if err != nil {
		r.Errors = append(r.Errors, err)
	}
}

// RecordStageResult stores the stage result and emits a metric.
func (r *BuildReport) RecordStageResult(stage StageName, res StageResult, recorder metrics.Recorder) {
	r.StageResults[stage] = res
	if recorder == nil {
		return
	}
	switch res {
	case StageResultSuccess:
		recorder.IncStageResult(string(stage), metrics.ResultSuccess)
	case StageResultFatal:
		recorder.IncStageResult(string(stage), metrics.ResultFatal)
	case StageResultCanceled:
		recorder.IncStageResult(string(stage), metrics.ResultCanceled)
	case StageResultSkipped:
		recorder.IncStageResult(string(stage), metrics.ResultSkipped)
	}
}

// Finish sets the end time of the report.
func (r *BuildReport) Finish(now time.Time) { r.End = now }

// Duration is End minus Start.
func (r *BuildReport) Duration() time.Duration { return r.End.Sub(r.Start) }

// DeriveOutcome sets the Outcome field based on recorded errors.
func (r *BuildReport) DeriveOutcome() {
	for _, e := range r.Errors {
		var se *StageError
		if errors.As(e, &se) && se.Kind == StageErrorCanceled {
			r.Outcome = OutcomeCanceled
			return
		}
	}
	if len(r.Errors) > 0 {
		r.Outcome = OutcomeFailed
		return
	}
	r.Outcome = OutcomeSuccess
}

// Summary returns a human-readable single-line summary.
func (r *BuildReport) Summary() string {
	return fmt.Sprintf("build=%s entry=%s modules=%d scanned=%d bytes=%d digest=%s duration=%s errors=%d outcome=%s",
		r.BuildID, r.Entry, len(r.Modules), r.ScannedModules, r.ArtifactBytes, shortDigest(r.Digest),
		r.Duration().Truncate(time.Millisecond), len(r.Errors), r.Outcome)
}

// ErrorKind returns the first issue code, or empty when the build succeeded.
func (r *BuildReport) ErrorKind() string {
	if len(r.Issues) == 0 {
		return ""
	}
	return string(r.Issues[0].Code)
}

// ErrorMessage returns the first recorded error message.
func (r *BuildReport) ErrorMessage() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Error()
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

// Persist writes build-report.json, build-report.txt and build-report.html
// atomically into dir.
func (r *BuildReport) Persist(dir string) error {
	jb, err := json.MarshalIndent(r.serializable(), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report json: %w", err)
	}
	html, err := r.HTML()
	if err != nil {
		return err
	}
	files := []struct {
		name string
		data []byte
	}{
		{ReportJSON, append(jb, '\n')},
		{ReportText, []byte(r.Summary() + "\n")},
		{ReportHTML, html},
	}
	for _, f := range files {
		if err := writeFile(filepath.Join(dir, f.name), f.data); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
	}
	return nil
}

// Markdown renders the report as a markdown document.
func (r *BuildReport) Markdown() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "# Build %s\n\n", r.BuildID)
	b.WriteString("| Field | Value |\n|---|---|\n")
	row := func(k, v string) { fmt.Fprintf(&b, "| %s | %s |\n", k, mdEscape(v)) }
	row("Outcome", string(r.Outcome))
	row("Entry", r.Entry)
	row("Started", r.Start.UTC().Format(time.RFC3339))
	row("Duration", r.Duration().Truncate(time.Millisecond).String())
	row("Modules bundled", fmt.Sprintf("%d of %d scanned", len(r.Modules), r.ScannedModules))
	if r.Artifact != "" {
		row("Artifact", r.Artifact)
		row("Size", fmt.Sprintf("%d bytes", r.ArtifactBytes))
		row("SHA-256", "`"+r.Digest+"`")
	}
	if r.SourceCommit != "" {
		commit := r.SourceCommit
		if r.SourceDirty {
			commit += " (dirty)"
		}
		row("Source commit", commit)
		if r.SourceBranch != "" {
			row("Source branch", r.SourceBranch)
		}
	}
	row("Tool version", r.ToolVersion)

	b.WriteString("\n## Stages\n\n| Stage | Result | Duration |\n|---|---|---|\n")
	for _, st := range []StageName{StagePrepare, StageScanning, StageGraphBuilding, StageResolving, StageBundling, StageDownstream, StageNotify} {
		res, ok := r.StageResults[st]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", st, res, r.StageDurations[string(st)].Truncate(time.Microsecond))
	}

	if len(r.Issues) > 0 {
		b.WriteString("\n## Issues\n\n")
		for _, is := range r.Issues {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", is.Code, is.Stage, mdEscape(is.Message))
		}
	}
	if len(r.Downstream) > 0 {
		b.WriteString("\n## Downstream\n\n")
		for _, s := range r.Downstream {
			fmt.Fprintf(&b, "- %s: %s\n", mdEscape(s.Name), s.Duration.Truncate(time.Millisecond))
		}
	}
	if len(r.Modules) > 0 {
		b.WriteString("\n## Module order\n\n")
		for i, m := range r.Modules {
			fmt.Fprintf(&b, "%d. `%s`\n", i+1, m)
		}
	}
	return b.Bytes()
}

// HTML renders Markdown through goldmark into a standalone page.
func (r *BuildReport) HTML() ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.Table))
	var body bytes.Buffer
	if err := md.Convert(r.Markdown(), &body); err != nil {
		return nil, fmt.Errorf("render report html: %w", err)
	}
	var page bytes.Buffer
	fmt.Fprintf(&page, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>minderbuild %s</title></head>\n<body>\n", r.BuildID)
	page.Write(body.Bytes())
	page.WriteString("</body></html>\n")
	return page.Bytes(), nil
}

var mdReplacer = strings.NewReplacer("|", `\|`, "\n", " ", "<", "&lt;", ">", "&gt;")

func mdEscape(s string) string { return mdReplacer.Replace(s) }

// buildReportSerializable mirrors BuildReport with string errors for JSON output.
type buildReportSerializable struct {
	SchemaVersion      int                      `json:"schema_version"`
	BuildID            string                   `json:"build_id"`
	Entry              string                   `json:"entry"`
	Start              time.Time                `json:"start"`
	End                time.Time                `json:"end"`
	Outcome            BuildOutcome             `json:"outcome"`
	Errors             []string                 `json:"errors"`
	Issues             []ReportIssue            `json:"issues"`
	StageDurations     map[string]time.Duration `json:"stage_durations"`
	StageResults       map[string]StageResult   `json:"stage_results"`
	StageErrorKinds    map[string]string        `json:"stage_error_kinds"`
	ScannedModules     int                      `json:"scanned_modules"`
	UnreachableModules int                      `json:"unreachable_modules"`
	Modules            []string                 `json:"modules"`
	Artifact           string                   `json:"artifact,omitempty"`
	ArtifactBytes      int                      `json:"artifact_bytes"`
	Digest             string                   `json:"digest,omitempty"`
	Downstream         []downstream.StepResult  `json:"downstream,omitempty"`
	SourceCommit       string                   `json:"source_commit,omitempty"`
	SourceBranch       string                   `json:"source_branch,omitempty"`
	SourceDirty        bool                     `json:"source_dirty,omitempty"`
	BannerDate         time.Time                `json:"banner_date,omitempty"`
	BannerDateSource   string                   `json:"banner_date_source,omitempty"`
	ToolVersion        string                   `json:"tool_version"`
}

func (r *BuildReport) serializable() *buildReportSerializable {
	results := make(map[string]StageResult, len(r.StageResults))
	for k, v := range r.StageResults {
		results[string(k)] = v
	}
	kinds := make(map[string]string, len(r.StageErrorKinds))
	for k, v := range r.StageErrorKinds {
		kinds[string(k)] = string(v)
	}
	s := &buildReportSerializable{
		SchemaVersion:      r.SchemaVersion,
		BuildID:            r.BuildID,
		Entry:              r.Entry,
		Start:              r.Start,
		End:                r.End,
		Outcome:            r.Outcome,
		Errors:             make([]string, len(r.Errors)),
		Issues:             r.Issues,
		StageDurations:     r.StageDurations,
		StageResults:       results,
		StageErrorKinds:    kinds,
		ScannedModules:     r.ScannedModules,
		UnreachableModules: r.UnreachableModules,
		Modules:            r.Modules,
		Artifact:           r.Artifact,
		ArtifactBytes:      r.ArtifactBytes,
		Digest:             r.Digest,
		Downstream:         r.Downstream,
		SourceCommit:       r.SourceCommit,
		SourceBranch:       r.SourceBranch,
		SourceDirty:        r.SourceDirty,
		BannerDate:         r.BannerDate,
		BannerDateSource:   r.BannerDateSource,
		ToolVersion:        r.ToolVersion,
	}
	for i, e := range r.Errors {
		s.Errors[i] = e.Error()
	}
	if s.Issues == nil {
		s.Issues = []ReportIssue{}
	}
	if s.Modules == nil {
		s.Modules = []string{}
	}
	return s
}

func writeFile(path string, data []byte) error {
	return bundler.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}
