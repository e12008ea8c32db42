package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

// PartialResultsMessage is the job message when synthesis could not
// produce a snapshot.
const PartialResultsMessage = "Analysis completed with partial results"

// tracker applies state transitions to one job record. It is used from the
// controller's sequential steps only.
type tracker struct {
	store store.Store
	job   *model.AnalysisJob
	now   func() time.Time
	log   *zap.Logger
}

func (c *Controller) track(job *model.AnalysisJob) *tracker {
	return &tracker{
		store: c.store,
		job:   job,
		now:   c.now,
		log: zap.L().With(
			zap.String("company_id", job.CompanyID),
			zap.String("job_id", job.ID),
		),
	}
}

// advance moves the job to status with the given progress. Progress is
// clamped so it never decreases. Illegal transitions are rejected and
// nothing is written.
func (t *tracker) advance(ctx context.Context, status model.JobStatus, progress int, msg string) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrapf(err, "pipeline: %s", msg)
	}
	return t.write(ctx, status, progress, msg, "")
}

func (t *tracker) write(ctx context.Context, status model.JobStatus, progress int, msg, errMsg string) error {
	if !model.CanTransition(t.job.Status, status) {
		return eris.Errorf("pipeline: illegal transition %s -> %s", t.job.Status, status)
	}

	next := *t.job
	next.Status = status
	next.Progress = max(t.job.Progress, progress)
	next.Message = msg
	next.Error = errMsg
	next.UpdatedAt = t.now()
	if status.IsTerminal() {
		completed := next.UpdatedAt
		next.CompletedAt = &completed
	}

	if err := t.store.UpdateJob(ctx, &next); err != nil {
		return eris.Wrapf(err, "pipeline: update job to %s", status)
	}
	*t.job = next
	t.log.Debug("pipeline: job updated",
		zap.String("status", string(status)),
		zap.Int("progress", next.Progress),
		zap.String("message", msg),
	)
	return nil
}

// complete marks the job completed at 100%.
func (t *tracker) complete(ctx context.Context, msg string) {
	if err := t.write(ctx, model.JobStatusCompleted, model.ProgressDone, msg, ""); err != nil {
		t.log.Error("pipeline: failed to record completion", zap.Error(err))
	}
}

// partial completes the job without a snapshot.
func (t *tracker) partial(ctx context.Context, cause error) {
	t.log.Warn("pipeline: synthesis failed, completing with partial results", zap.Error(cause))
	if err := t.write(ctx, model.JobStatusCompleted, model.ProgressDone, PartialResultsMessage, cause.Error()); err != nil {
		t.log.Error("pipeline: failed to record partial completion", zap.Error(err))
	}
}

// fail marks the job failed. A job that is already terminal is left alone.
func (t *tracker) fail(ctx context.Context, cause error) {
	t.log.Error("pipeline: job failed", zap.Error(cause))
	if t.job.Status.IsTerminal() {
		return
	}
	if err := t.write(ctx, model.JobStatusFailed, model.ProgressDone, "Analysis failed", cause.Error()); err != nil {
		t.log.Error("pipeline: failed to record failure", zap.Error(err))
	}
}
