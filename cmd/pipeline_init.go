package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/activity"
	"github.com/sells-group/diligence-cli/internal/agent"
	"github.com/sells-group/diligence-cli/internal/knowledge"
	"github.com/sells-group/diligence-cli/internal/pipeline"
	"github.com/sells-group/diligence-cli/internal/resilience"
	"github.com/sells-group/diligence-cli/internal/scheduler"
	"github.com/sells-group/diligence-cli/internal/store"
	anthropicpkg "github.com/sells-group/diligence-cli/pkg/anthropic"
)

// pipelineEnv holds the store, index, and controller needed by the
// run/serve commands.
type pipelineEnv struct {
	Store      store.Store
	Index      knowledge.Index
	Controller *pipeline.Controller
	Feed       *activity.Feed
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline opens the store, builds the model client and the workers,
// and wires them into a controller that submits to sched. Callers should
// defer env.Close().
func initPipeline(ctx context.Context, sched pipeline.Scheduler) (*pipelineEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	st, idx, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	prompts, err := agent.LoadCatalog(cfg.Agent.PromptsPath)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "load prompt catalog")
	}

	// Retries happen in the agent call loop, not inside the SDK.
	clientOpts := []anthropicpkg.ClientOption{anthropicpkg.WithMaxRetries(0)}
	if cfg.Anthropic.RateLimitRPS > 0 {
		clientOpts = append(clientOpts, anthropicpkg.WithRateLimit(cfg.Anthropic.RateLimitRPS))
	}

	deps := agent.Deps{
		Client:   anthropicpkg.NewClient(cfg.Anthropic.Key, clientOpts...),
		Search:   idx,
		Activity: activity.NewLogger(st),
		Prompts:  prompts,
		Config: agent.Config{
			ReasoningModel:   cfg.Anthropic.ReasoningModel,
			StructuringModel: cfg.Anthropic.StructuringModel,
			SynthesisModel:   cfg.Anthropic.SynthesisModel,
			MaxTokens:        cfg.Anthropic.MaxTokens,
			MaxToolTurns:     cfg.Agent.MaxToolTurns,
			SearchTopK:       cfg.Agent.SearchTopK,
			CallTimeout:      cfg.Agent.CallTimeout(),
			Retry:            resilience.RetryConfig{MaxAttempts: cfg.Anthropic.MaxAttempts},
		},
	}

	synth, err := agent.NewSynthesizer(deps)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	ctrl := pipeline.New(
		pipeline.Config{JobTimeout: cfg.Pipeline.JobTimeout()},
		st,
		pipeline.AgentWorkers(deps),
		synth,
		knowledge.NewIndexer(idx),
		sched,
	)

	zap.L().Info("pipeline initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("reasoning_model", deps.Config.ReasoningModel),
		zap.Duration("job_timeout", cfg.Pipeline.JobTimeout()),
	)

	return &pipelineEnv{
		Store:      st,
		Index:      idx,
		Controller: ctrl,
		Feed:       activity.NewFeed(st),
	}, nil
}

// syncScheduler runs each task on the caller's goroutine. The run command
// uses it so the process exits only after the job reaches a terminal state.
type syncScheduler struct {
	ctx context.Context
}

func (s syncScheduler) Submit(t scheduler.Task) error {
	if err := t.Run(s.ctx); err != nil {
		zap.L().Error("task failed", zap.String("task", t.Name), zap.Error(err))
	}
	return nil
}
