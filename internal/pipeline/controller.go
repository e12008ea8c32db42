// Package pipeline owns the analysis job lifecycle: it schedules a run,
// builds the company baseline, fans out to the domain workers, and hands
// their results to synthesis.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/activity"
	"github.com/sells-group/diligence-cli/internal/brief"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/scheduler"
	"github.com/sells-group/diligence-cli/internal/store"
)

// ErrCompanyNotFound is returned by StartRun for an unknown company.
var ErrCompanyNotFound = eris.New("pipeline: company not found")

// DefaultJobTimeout bounds a single run when no timeout is configured.
const DefaultJobTimeout = 30 * time.Minute

// DomainWorker analyzes one domain for one company. Analyze never fails;
// errors surface as a fallback record.
type DomainWorker interface {
	Analyze(ctx context.Context, jobID, baseline string) model.DomainAnalysis
}

// WorkerFactory builds the worker for (domain, company).
type WorkerFactory func(domain model.AgentID, companyID string) (DomainWorker, error)

// Synthesizer fuses the five domain analyses into a snapshot.
type Synthesizer interface {
	Synthesize(ctx context.Context, company model.Company, jobID, baseline string, analyses []model.DomainAnalysis) (*model.Snapshot, error)
}

// KnowledgeIngester pushes the company baseline into the search index.
type KnowledgeIngester interface {
	IngestBaseline(ctx context.Context, c model.Company, baseline string) error
	DeleteCompany(ctx context.Context, companyID string) error
}

// Scheduler accepts background tasks.
type Scheduler interface {
	Submit(t scheduler.Task) error
}

// Config tunes the controller.
type Config struct {
	JobTimeout time.Duration
}

// Controller is the single writer of analysis job records.
type Controller struct {
	store     store.Store
	workers   WorkerFactory
	synth     Synthesizer
	knowledge KnowledgeIngester
	sched     Scheduler
	activity  *activity.Logger
	cfg       Config
	now       func() time.Time
}

// New creates a Controller with all dependencies.
func New(
	cfg Config,
	st store.Store,
	workers WorkerFactory,
	synth Synthesizer,
	knowledge KnowledgeIngester,
	sched Scheduler,
) *Controller {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	return &Controller{
		store:     st,
		workers:   workers,
		synth:     synth,
		knowledge: knowledge,
		sched:     sched,
		activity:  activity.NewLogger(st),
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StartRun creates a queued job for the company and schedules the pipeline.
// It returns as soon as the task is queued.
func (c *Controller) StartRun(ctx context.Context, companyID string) (string, error) {
	if _, err := c.store.GetCompany(ctx, companyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", eris.Wrapf(ErrCompanyNotFound, "pipeline: start run %s", companyID)
		}
		return "", eris.Wrap(err, "pipeline: load company")
	}

	job, err := c.store.CreateJob(ctx, companyID)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: create job")
	}

	task := scheduler.Task{
		Name: "analysis:" + job.ID,
		Run: func(taskCtx context.Context) error {
			return c.Execute(taskCtx, job)
		},
	}
	if err := c.sched.Submit(task); err != nil {
		tr := c.track(job)
		tr.fail(context.WithoutCancel(ctx), eris.Wrap(err, "pipeline: schedule job"))
		return "", eris.Wrap(err, "pipeline: schedule job")
	}

	zap.L().Info("pipeline: job queued",
		zap.String("company_id", companyID),
		zap.String("job_id", job.ID),
	)
	return job.ID, nil
}

// Execute runs the pipeline for a queued job. A returned error means the
// job ended failed; synthesis problems complete the job with partial
// results and return nil.
func (c *Controller) Execute(ctx context.Context, job *model.AnalysisJob) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.JobTimeout)
	defer cancel()

	tr := c.track(job)
	start := time.Now()
	tr.log.Info("pipeline: starting analysis")

	if err := c.run(ctx, tr); err != nil {
		tr.fail(context.WithoutCancel(ctx), err)
		return err
	}

	tr.log.Info("pipeline: analysis finished",
		zap.String("status", string(tr.job.Status)),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

func (c *Controller) run(ctx context.Context, tr *tracker) error {
	job := tr.job

	if err := tr.advance(ctx, model.JobStatusRunning, model.ProgressStarted, "Loading company profile"); err != nil {
		return err
	}
	company, err := c.store.GetCompany(ctx, job.CompanyID)
	if err != nil {
		return eris.Wrap(err, "pipeline: load company")
	}

	baseline := brief.Build(*company)
	if err := tr.advance(ctx, model.JobStatusRunning, model.ProgressBaseline, "Baseline built"); err != nil {
		return err
	}

	if err := tr.advance(ctx, model.JobStatusIngesting, model.ProgressIngesting, "Indexing company profile"); err != nil {
		return err
	}
	if err := c.knowledge.IngestBaseline(ctx, *company, baseline); err != nil {
		tr.log.Warn("pipeline: knowledge ingest failed, continuing", zap.Error(err))
	}

	if err := tr.advance(ctx, model.JobStatusAnalyzing, model.ProgressAnalyzing, "Running domain analyses"); err != nil {
		return err
	}
	analyses := c.fanOut(ctx, job, baseline)
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "pipeline: domain analyses")
	}
	logFallbacks(tr.log, analyses)

	if err := tr.advance(ctx, model.JobStatusAnalyzing, model.ProgressSynthesizing, "Synthesizing results"); err != nil {
		return err
	}

	// Past this point nothing fails the job.
	snap, err := c.synth.Synthesize(ctx, *company, job.ID, baseline, analyses)
	if err != nil {
		tr.partial(context.WithoutCancel(ctx), eris.Wrap(err, "pipeline: synthesis"))
		return nil
	}

	if err := tr.advance(ctx, model.JobStatusAnalyzing, model.ProgressPersisting, "Saving snapshot"); err != nil {
		tr.log.Warn("pipeline: progress update failed", zap.Error(err))
	}
	if err := c.store.SaveSnapshot(context.WithoutCancel(ctx), snap); err != nil {
		tr.partial(context.WithoutCancel(ctx), eris.Wrap(err, "pipeline: save snapshot"))
		return nil
	}

	tr.complete(context.WithoutCancel(ctx), "Analysis complete")
	tr.log.Info("pipeline: snapshot saved",
		zap.String("snapshot_id", snap.ID),
		zap.String("recommendation", string(snap.InvestmentRecommendation)),
	)
	return nil
}

func logFallbacks(log *zap.Logger, analyses []model.DomainAnalysis) {
	var failed []string
	for _, a := range analyses {
		if a.IsFallback() {
			failed = append(failed, string(a.AgentID))
		}
	}
	if len(failed) > 0 {
		log.Warn("pipeline: domain analyses fell back", zap.Strings("agents", failed))
	}
}

// GetJobStatus returns the most recent job for the company, or nil.
func (c *Controller) GetJobStatus(ctx context.Context, companyID string) (*model.AnalysisJob, error) {
	job, err := c.store.LatestJob(ctx, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: job status")
	}
	return job, nil
}

// GetLatestSnapshot returns the newest snapshot for the company, or nil.
func (c *Controller) GetLatestSnapshot(ctx context.Context, companyID string) (*model.Snapshot, error) {
	snap, err := c.store.LatestSnapshot(ctx, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: latest snapshot")
	}
	return snap, nil
}

// DeleteCompany removes the company record with its jobs, snapshots and
// activity, then purges its knowledge namespace.
func (c *Controller) DeleteCompany(ctx context.Context, companyID string) error {
	if err := c.store.DeleteCompany(ctx, companyID); err != nil {
		return eris.Wrap(err, "pipeline: delete company")
	}
	if err := c.knowledge.DeleteCompany(ctx, companyID); err != nil {
		return eris.Wrap(err, "pipeline: delete knowledge")
	}
	zap.L().Info("pipeline: company deleted", zap.String("company_id", companyID))
	return nil
}
