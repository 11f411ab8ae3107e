package pipeline

import (
	"context"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/minderbuild/internal/logfields"
)

// RunStages executes stages in order, recording timing and stopping on first fatal error.
func RunStages(ctx context.Context, bs *BuildState, stages []StageDef) error {
	for _, st := range stages {
		select {
		case <-ctx.Done():
			se := NewCanceledStageError(st.Name, ctx.Err())
			bs.Report.StageErrorKinds[st.Name] = se.Kind
			bs.Report.AddIssue(IssueCanceled, st.Name, se.Error(), se)
			bs.Report.RecordStageResult(st.Name, StageResultCanceled, bs.Recorder)
			return se
		default:
		}

		log := bs.Logger.With(logfields.Stage(string(st.Name)))
		log.Debug("Stage starting")

		t0 := time.Now()
		err := st.Fn(ctx, bs)
		dur := time.Since(t0)

		bs.Report.StageDurations[string(st.Name)] = dur
		bs.Recorder.ObserveStageDuration(string(st.Name), dur)

		out := ClassifyStageResult(st.Name, err)
		if out.Error != nil {
			bs.Report.StageErrorKinds[st.Name] = out.Error.Kind
			bs.Report.AddIssue(out.IssueCode, out.Stage, out.Error.Err.Error(), out.Error)
		}
		bs.Report.RecordStageResult(st.Name, out.Result, bs.Recorder)

		if out.Abort {
			log.Error("Stage failed",
				logfields.Elapsed(dur),
				slog.String("issue", string(out.IssueCode)),
				logfields.Error(out.Error.Err))
			return out.Error
		}
		log.Info("Stage completed", logfields.Elapsed(dur))
	}
	return nil
}
