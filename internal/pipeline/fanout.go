package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/model"
)

// fanOut runs the five domain workers concurrently and returns their
// results in canonical order. Every slot is filled: a worker that cannot be
// built or that panics yields its fallback record.
func (c *Controller) fanOut(ctx context.Context, job *model.AnalysisJob, baseline string) []model.DomainAnalysis {
	results := make([]model.DomainAnalysis, len(model.AgentIDs))

	g := new(errgroup.Group)
	for i, domain := range model.AgentIDs {
		g.Go(func() error {
			results[i] = c.analyzeDomain(ctx, domain, job, baseline)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	return results
}

func (c *Controller) analyzeDomain(ctx context.Context, domain model.AgentID, job *model.AnalysisJob, baseline string) (result model.DomainAnalysis) {
	log := zap.L().With(
		zap.String("company_id", job.CompanyID),
		zap.String("job_id", job.ID),
		zap.String("agent", string(domain)),
	)
	defer func() {
		if rec := recover(); rec != nil {
			err := eris.New(fmt.Sprintf("pipeline: %s worker panicked: %v", domain, rec))
			log.Error("pipeline: worker panic recovered", zap.Error(err))
			result = c.fallback(ctx, domain, job, err)
		}
	}()

	w, err := c.workers(domain, job.CompanyID)
	if err != nil {
		log.Error("pipeline: build worker", zap.Error(err))
		return c.fallback(ctx, domain, job, eris.Wrap(err, "pipeline: build worker"))
	}
	return w.Analyze(ctx, job.ID, baseline)
}

// fallback records agent_error for a worker that never reached its own
// error handling and returns the domain's fallback record.
func (c *Controller) fallback(ctx context.Context, domain model.AgentID, job *model.AnalysisJob, cause error) model.DomainAnalysis {
	c.activity.Session(job.CompanyID, job.ID, domain).Error(ctx, cause)
	return model.FallbackAnalysis(domain, cause, c.now())
}

// AgentWorkers adapts agent.NewWorker to a WorkerFactory sharing deps.
func AgentWorkers(deps agent.Deps) WorkerFactory {
	return func(domain model.AgentID, companyID string) (DomainWorker, error) {
		w, err := agent.NewWorker(domain, companyID, deps)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}
