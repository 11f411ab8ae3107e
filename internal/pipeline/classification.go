package pipeline

import (
	"context"
	"errors"

	"git.home.luguber.info/inful/minderbuild/internal/bundler"
	"git.home.luguber.info/inful/minderbuild/internal/depgraph"
	"git.home.luguber.info/inful/minderbuild/internal/downstream"
	"git.home.luguber.info/inful/minderbuild/internal/resolver"
	"git.home.luguber.info/inful/minderbuild/internal/scanner"
)

// StageOutcome normalized result of stage execution.
type StageOutcome struct {
	Stage     StageName
	Error     *StageError
	Result    StageResult
	IssueCode ReportIssueCode
	Abort     bool
}

// ClassifyStageResult converts a raw error from a stage into a StageOutcome.
func ClassifyStageResult(stage StageName, err error) StageOutcome {
	if err == nil {
		return StageOutcome{Stage: stage, Result: StageResultSuccess}
	}

	var se *StageError
	if !errors.As(err, &se) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			se = NewCanceledStageError(stage, err)
		} else {
			se = NewFatalStageError(stage, err)
		}
	}

	if se.Kind == StageErrorCanceled {
		return StageOutcome{Stage: stage, Error: se, Result: StageResultCanceled, IssueCode: IssueCanceled, Abort: true}
	}
	return StageOutcome{
		Stage:     stage,
		Error:     se,
		Result:    StageResultFatal,
		IssueCode: classifyIssueCode(se.Err),
		Abort:     true,
	}
}

// classifyIssueCode maps domain sentinel errors to report issue codes.
func classifyIssueCode(err error) ReportIssueCode {
	switch {
	case errors.Is(err, scanner.ErrParse):
		return IssueParse
	case errors.Is(err, scanner.ErrDuplicateModule):
		return IssueDuplicateModule
	case errors.Is(err, scanner.ErrNoSources):
		return IssueNoSources
	case errors.Is(err, bundler.ErrMissingFragment):
		return IssueMissingFragment
	case errors.Is(err, depgraph.ErrEntryNotFound):
		return IssueEntryNotFound
	case errors.Is(err, depgraph.ErrMissingDependency):
		return IssueMissingDependency
	case errors.Is(err, resolver.ErrCircularDependency):
		return IssueCircularDependency
	case errors.Is(err, bundler.ErrWrite):
		return IssueWriteFailure
	case errors.Is(err, downstream.ErrStep):
		return IssueDownstreamFailure
	default:
		return IssueGenericStageError
	}
}
