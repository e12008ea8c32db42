package agent

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/activity"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/pkg/anthropic"
)

// Worker runs one domain analysis for one company.
type Worker struct {
	domain    model.AgentID
	companyID string
	deps      Deps
	log       *zap.Logger
}

// NewWorker builds a worker for (domain, companyID).
func NewWorker(domain model.AgentID, companyID string, deps Deps) (*Worker, error) {
	if !domain.Valid() {
		return nil, eris.Errorf("agent: unknown domain %q", domain)
	}
	if companyID == "" {
		return nil, eris.New("agent: company id is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps = deps.withDefaults()
	return &Worker{
		domain:    domain,
		companyID: companyID,
		deps:      deps,
		log: zap.L().With(
			zap.String("company_id", companyID),
			zap.String("agent", string(domain)),
		),
	}, nil
}

// Domain returns the worker's domain.
func (w *Worker) Domain() model.AgentID {
	return w.domain
}

// Analyze runs the reasoning and structuring passes. It never fails: any
// error is recorded as agent_error and turned into the fallback record.
func (w *Worker) Analyze(ctx context.Context, jobID, baseline string) model.DomainAnalysis {
	sess := w.deps.Activity.Session(w.companyID, jobID, w.domain)
	log := w.log.With(zap.String("job_id", jobID), zap.String("thread_id", sess.ThreadID()))
	sess.Start(ctx)

	result, stats, err := w.run(ctx, sess, jobID, baseline)
	if err != nil {
		log.Warn("agent: analysis failed, using fallback", zap.Error(err))
		sess.Error(ctx, err)
		return model.FallbackAnalysis(w.domain, err, w.deps.Now())
	}

	sess.Complete(ctx, map[string]any{
		"tool_calls":    stats.toolCalls,
		"tool_turns":    stats.turns,
		"confidence":    result.Confidence,
		"input_tokens":  stats.usage.InputTokens,
		"output_tokens": stats.usage.OutputTokens,
	})
	log.Info("agent: analysis complete",
		zap.Float64("confidence", result.Confidence),
		zap.Int("tool_calls", stats.toolCalls),
	)
	return result
}

type runStats struct {
	turns     int
	toolCalls int
	usage     anthropic.TokenUsage
}

func (w *Worker) run(ctx context.Context, sess *activity.Session, jobID, baseline string) (model.DomainAnalysis, runStats, error) {
	var stats runStats
	fields := []zap.Field{
		zap.String("company_id", w.companyID),
		zap.String("job_id", jobID),
		zap.String("agent", string(w.domain)),
	}

	prose, err := w.reason(ctx, sess, baseline, &stats, fields)
	if err != nil {
		return model.DomainAnalysis{}, stats, err
	}

	analysis, err := w.structure(ctx, prose, &stats, fields)
	if err != nil {
		return model.DomainAnalysis{}, stats, err
	}
	return analysis, stats, nil
}

// reason runs the tool loop and returns the model's prose analysis.
func (w *Worker) reason(ctx context.Context, sess *activity.Session, baseline string, stats *runStats, fields []zap.Field) (string, error) {
	prompt := w.deps.Prompts.Domains[w.domain]
	cfg := w.deps.Config

	system := prompt.Role + "\n\n" + w.deps.Prompts.Reason
	user := fmt.Sprintf("%s\n\nCompany baseline:\n\n%s", prompt.Task, baseline)

	req := anthropic.MessageRequest{
		Model:     cfg.ReasoningModel,
		MaxTokens: cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(system, ""),
		Messages:  []anthropic.Message{{Role: "user", Content: user}},
		Tools:     []anthropic.Tool{searchTool},
	}

	for stats.turns < cfg.MaxToolTurns {
		resp, err := call(ctx, w.deps.Client, cfg, req, "reason", fields...)
		if err != nil {
			return "", err
		}
		stats.usage.Add(resp.Usage)

		uses := resp.ToolUses()
		if len(uses) == 0 {
			return nonEmpty(resp.Text(), "reason")
		}
		stats.turns++

		results := make([]anthropic.ContentBlock, 0, len(uses))
		for _, use := range uses {
			stats.toolCalls++
			results = append(results, w.runTool(ctx, sess, use))
		}
		req.Messages = append(req.Messages,
			anthropic.Message{Role: "assistant", Blocks: resp.Content},
			anthropic.Message{Role: "user", Blocks: results},
		)
	}

	// Budget spent: one last call with tools disabled forces prose.
	last := len(req.Messages) - 1
	if req.Messages[last].Role == "user" && len(req.Messages[last].Blocks) > 0 {
		req.Messages[last].Blocks = append(req.Messages[last].Blocks,
			anthropic.ContentBlock{Type: anthropic.BlockText, Text: w.deps.Prompts.Final})
	}
	req.NoToolUse = true
	resp, err := call(ctx, w.deps.Client, cfg, req, "reason_final", fields...)
	if err != nil {
		return "", err
	}
	stats.usage.Add(resp.Usage)
	return nonEmpty(resp.Text(), "reason")
}

// structure converts prose into a validated DomainAnalysis.
func (w *Worker) structure(ctx context.Context, prose string, stats *runStats, fields []zap.Field) (model.DomainAnalysis, error) {
	cfg := w.deps.Config
	req := anthropic.MessageRequest{
		Model:     cfg.StructuringModel,
		MaxTokens: cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(w.deps.Prompts.Structure, ""),
		Messages:  []anthropic.Message{{Role: "user", Content: prose}},
	}
	resp, err := call(ctx, w.deps.Client, cfg, req, "structure", fields...)
	if err != nil {
		return model.DomainAnalysis{}, err
	}
	stats.usage.Add(resp.Usage)

	analysis, err := parseDomainAnalysis(resp.Text())
	if err != nil {
		return model.DomainAnalysis{}, err
	}
	analysis.AgentID = w.domain
	analysis.AgentName = w.domain.DisplayName()
	analysis.LastUpdated = w.deps.Now()
	return analysis, nil
}

func nonEmpty(text, phase string) (string, error) {
	if text == "" {
		return "", eris.Errorf("agent: %s pass returned no text", phase)
	}
	return text, nil
}
