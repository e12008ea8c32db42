package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/pkg/anthropic"
)

// Synthesizer consolidates the five domain analyses into a snapshot.
type Synthesizer struct {
	deps Deps
}

// NewSynthesizer builds a synthesizer. Only the client is required.
func NewSynthesizer(deps Deps) (*Synthesizer, error) {
	if deps.Client == nil {
		return nil, eris.New("agent: anthropic client is required")
	}
	return &Synthesizer{deps: deps.withDefaults()}, nil
}

type rawSynthesis struct {
	OverallSummary           string      `json:"overall_summary"`
	OverallConfidence        *float64    `json:"overall_confidence"`
	InvestmentRecommendation string      `json:"investment_recommendation"`
	RecommendationReasoning  string      `json:"recommendation_reasoning"`
	ConsolidatedMetrics      []rawMetric `json:"consolidated_metrics"`
	ConsolidatedRisks        []rawRisk   `json:"consolidated_risks"`
}

// Synthesize runs the reason and structure passes and returns a validated,
// unsaved snapshot. Any failure is returned; nothing is retried.
func (s *Synthesizer) Synthesize(ctx context.Context, company model.Company, jobID, baseline string, analyses []model.DomainAnalysis) (*model.Snapshot, error) {
	fields := []zap.Field{zap.String("company_id", company.ID), zap.String("job_id", jobID), zap.String("agent", "synthesis")}
	cfg := s.deps.Config
	prompts := s.deps.Prompts

	ordered := orderAnalyses(analyses)

	reasonReq := anthropic.MessageRequest{
		Model:     cfg.SynthesisModel,
		MaxTokens: cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(prompts.Synthesis.Role+"\n\n"+prompts.Synthesis.Reason, ""),
		Messages:  []anthropic.Message{{Role: "user", Content: synthesisInput(ordered, baseline)}},
	}
	resp, err := call(ctx, s.deps.Client, cfg, reasonReq, "synthesis_reason", fields...)
	if err != nil {
		return nil, err
	}
	memo, err := nonEmpty(resp.Text(), "synthesis reason")
	if err != nil {
		return nil, err
	}

	structReq := anthropic.MessageRequest{
		Model:     cfg.StructuringModel,
		MaxTokens: cfg.MaxTokens,
		System:    anthropic.BuildCachedSystemBlocks(prompts.Synthesis.Structure, ""),
		Messages:  []anthropic.Message{{Role: "user", Content: memo}},
	}
	resp, err = call(ctx, s.deps.Client, cfg, structReq, "synthesis_structure", fields...)
	if err != nil {
		return nil, err
	}

	var raw rawSynthesis
	if err := json.Unmarshal([]byte(cleanJSON(resp.Text())), &raw); err != nil {
		return nil, eris.Wrap(err, "agent: decode synthesis")
	}
	if raw.OverallConfidence == nil {
		return nil, eris.New("agent: synthesis has no overall confidence")
	}
	rec, err := model.ParseRecommendation(raw.InvestmentRecommendation)
	if err != nil {
		return nil, eris.Wrap(err, "agent: synthesis recommendation")
	}

	var domainMetrics [][]model.Metric
	var domainRisks [][]model.Risk
	for _, a := range ordered {
		domainMetrics = append(domainMetrics, a.Metrics)
		domainRisks = append(domainRisks, a.Risks)
	}

	snap := &model.Snapshot{
		ID:                       uuid.New().String(),
		CompanyID:                company.ID,
		JobID:                    jobID,
		Name:                     company.Name,
		Sector:                   company.Sector,
		Stage:                    company.Stage,
		Ask:                      company.Ask,
		OverallSummary:           strings.TrimSpace(raw.OverallSummary),
		OverallConfidence:        model.ClampConfidence(*raw.OverallConfidence),
		LastUpdated:              s.deps.Now(),
		AgentAnalyses:            ordered,
		ConsolidatedMetrics:      ConsolidateMetrics(append([][]model.Metric{normalizeMetrics(raw.ConsolidatedMetrics)}, domainMetrics...)...),
		ConsolidatedRisks:        ConsolidateRisks(append([][]model.Risk{normalizeRisks(raw.ConsolidatedRisks)}, domainRisks...)...),
		InvestmentRecommendation: rec,
		RecommendationReasoning:  strings.TrimSpace(raw.RecommendationReasoning),
	}
	if err := snap.Validate(); err != nil {
		return nil, eris.Wrap(err, "agent: synthesis validation")
	}

	zap.L().Info("agent: synthesis complete", append(fields,
		zap.String("recommendation", string(rec)),
		zap.Float64("confidence", snap.OverallConfidence),
	)...)
	return snap, nil
}

// orderAnalyses returns a copy sorted into canonical domain order; unknown
// ids sort last.
func orderAnalyses(in []model.DomainAnalysis) []model.DomainAnalysis {
	rank := make(map[model.AgentID]int, len(model.AgentIDs))
	for i, id := range model.AgentIDs {
		rank[id] = i
	}
	pos := func(id model.AgentID) int {
		if r, ok := rank[id]; ok {
			return r
		}
		return len(model.AgentIDs)
	}
	out := append([]model.DomainAnalysis(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return pos(out[i].AgentID) < pos(out[j].AgentID) })
	return out
}

func synthesisInput(analyses []model.DomainAnalysis, baseline string) string {
	var b strings.Builder
	b.WriteString("Specialist analyses:\n\n")
	for _, a := range analyses {
		fmt.Fprintf(&b, "### %s (confidence %.2f)\n", a.AgentName, a.Confidence)
		if a.IsFallback() {
			b.WriteString("This analysis failed and carries no findings.\n")
		}
		b.WriteString(a.Summary + "\n")
		if len(a.KeyFindings) > 0 {
			b.WriteString("Key findings:\n")
			for _, f := range a.KeyFindings {
				b.WriteString("- " + f + "\n")
			}
		}
		b.WriteString("\n")
	}
	b.WriteString("Company baseline:\n\n")
	b.WriteString(baseline)
	return b.String()
}
