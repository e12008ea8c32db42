// Package agent implements the domain analysis workers and the synthesis
// worker on top of the Anthropic client.
package agent

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/activity"
	"github.com/sells-group/diligence-cli/internal/knowledge"
	"github.com/sells-group/diligence-cli/internal/resilience"
	"github.com/sells-group/diligence-cli/pkg/anthropic"
)

// Config tunes model selection and budgets.
type Config struct {
	ReasoningModel   string
	StructuringModel string
	SynthesisModel   string
	MaxTokens        int64
	MaxToolTurns     int // 0 = default, negative = no tool rounds
	SearchTopK       int
	CallTimeout      time.Duration
	// Retry governs re-sending a model call after a retryable API error.
	// Each attempt gets its own CallTimeout. MaxAttempts 0 means one attempt.
	Retry resilience.RetryConfig
}

// Defaults.
const (
	DefaultReasoningModel   = "claude-sonnet-4-5-20250929"
	DefaultStructuringModel = "claude-haiku-4-5-20251001"
	DefaultMaxTokens        = 4096
	DefaultMaxToolTurns     = 4
	DefaultCallTimeout      = 120 * time.Second
)

func (c Config) withDefaults() Config {
	if c.ReasoningModel == "" {
		c.ReasoningModel = DefaultReasoningModel
	}
	if c.StructuringModel == "" {
		c.StructuringModel = DefaultStructuringModel
	}
	if c.SynthesisModel == "" {
		c.SynthesisModel = c.ReasoningModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxToolTurns < 0 {
		c.MaxToolTurns = 0
	} else if c.MaxToolTurns == 0 {
		c.MaxToolTurns = DefaultMaxToolTurns
	}
	if c.SearchTopK <= 0 {
		c.SearchTopK = knowledge.DefaultTopK
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 1
	}
	if c.Retry.Retryable == nil {
		c.Retry.Retryable = resilience.AnyOf(anthropic.IsRetryable, resilience.IsTransient)
	}
	return c
}

// Searcher is the retrieval side of the knowledge index.
type Searcher interface {
	Search(ctx context.Context, namespace, query string, filters []string, topK int) ([]knowledge.Hit, error)
}

// Deps are the collaborators every worker is built from. Each worker gets
// its own copy; nothing here is process-global.
type Deps struct {
	Client   anthropic.Client
	Search   Searcher
	Activity *activity.Logger
	Prompts  *Catalog
	Config   Config
	Now      func() time.Time
}

func (d Deps) validate() error {
	if d.Client == nil {
		return eris.New("agent: anthropic client is required")
	}
	if d.Search == nil {
		return eris.New("agent: searcher is required")
	}
	if d.Activity == nil {
		return eris.New("agent: activity logger is required")
	}
	return nil
}

func (d Deps) withDefaults() Deps {
	if d.Prompts == nil {
		d.Prompts = DefaultCatalog()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	d.Config = d.Config.withDefaults()
	return d
}

// call runs one model request under the per-call deadline and logs its cost.
func call(ctx context.Context, client anthropic.Client, cfg Config, req anthropic.MessageRequest, phase string, fields ...zap.Field) (*anthropic.MessageResponse, error) {
	retry := cfg.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.LogRetry("model call "+phase, fields...)
	}

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		callCtx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		defer cancel()
		return client.CreateMessage(callCtx, req)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "agent: %s call", phase)
	}
	resp.Usage.LogCost(req.Model, phase, fields...)
	return resp, nil
}
