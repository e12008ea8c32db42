package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/pkg/anthropic"
	anthropicmocks "github.com/sells-group/diligence-cli/pkg/anthropic/mocks"
)

func synthesisCompany() model.Company {
	return model.Company{ID: "acme", Name: "Acme Robotics", Sector: "Robotics", Stage: "Seed", Ask: "$2M"}
}

func fiveAnalyses() []model.DomainAnalysis {
	var out []model.DomainAnalysis
	// Reverse order to exercise canonical sorting.
	for i := len(model.AgentIDs) - 1; i >= 0; i-- {
		id := model.AgentIDs[i]
		out = append(out, model.DomainAnalysis{
			AgentID: id, AgentName: id.DisplayName(), Summary: string(id) + " summary", Confidence: 0.7,
			Metrics: []model.Metric{{Key: "arr", Label: "ARR", Value: 400000, Sources: []model.Source{{Title: string(id)}}}},
			Risks:   []model.Risk{{Severity: model.SeverityLow, Label: "Runway"}},
		})
	}
	out[0] = model.FallbackAnalysis(out[0].AgentID, errModelDown, fixedNow)
	return out
}

func synthesisDeps(client anthropic.Client) Deps {
	return Deps{
		Client: client,
		Config: Config{ReasoningModel: "claude-sonnet-4-5-20250929", StructuringModel: "claude-haiku-4-5-20251001", CallTimeout: time.Second},
		Now:    func() time.Time { return fixedNow },
	}
}

const synthesisJSON = `{
  "overall_summary": "Promising seed-stage robotics company.",
  "overall_confidence": 0.72,
  "investment_recommendation": "Buy",
  "recommendation_reasoning": "Strong team, early traction.",
  "consolidated_metrics": [{"key": "burn_multiple", "label": "Burn multiple", "value": 2.5}],
  "consolidated_risks": [{"severity": "high", "label": "runway", "evidence": "6 months of cash"}]
}`

func TestSynthesizer_Synthesize(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		in := req.Messages[0].Content
		return req.Model == "claude-sonnet-4-5-20250929" &&
			containsAll(in, "Financial Analyst", "This analysis failed", "Company baseline:", "BASELINE")
	})).Return(textResponse("Memo: buy."), nil).Once()
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" && req.Messages[0].Content == "Memo: buy."
	})).Return(textResponse("```json\n"+synthesisJSON+"\n```"), nil).Once()

	s, err := NewSynthesizer(synthesisDeps(client))
	require.NoError(t, err)

	snap, err := s.Synthesize(context.Background(), synthesisCompany(), "job-1", "BASELINE", fiveAnalyses())
	require.NoError(t, err)

	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, "acme", snap.CompanyID)
	assert.Equal(t, "job-1", snap.JobID)
	assert.Equal(t, "Acme Robotics", snap.Name)
	assert.Equal(t, "Robotics", snap.Sector)
	assert.Equal(t, "Seed", snap.Stage)
	assert.Equal(t, "$2M", snap.Ask)
	assert.Equal(t, model.RecommendationBuy, snap.InvestmentRecommendation)
	assert.Equal(t, 0.72, snap.OverallConfidence)
	assert.Equal(t, fixedNow, snap.LastUpdated)

	require.Len(t, snap.AgentAnalyses, 5)
	for i, id := range model.AgentIDs {
		assert.Equal(t, id, snap.AgentAnalyses[i].AgentID)
	}

	require.Len(t, snap.ConsolidatedMetrics, 2)
	assert.Equal(t, "burn_multiple", snap.ConsolidatedMetrics[0].Key)
	assert.Equal(t, "arr", snap.ConsolidatedMetrics[1].Key)
	assert.Len(t, snap.ConsolidatedMetrics[1].Sources, 4)

	labels := map[string]model.Severity{}
	for _, r := range snap.ConsolidatedRisks {
		labels[r.Label] = r.Severity
	}
	assert.Equal(t, model.SeverityHigh, labels["runway"])
	assert.Equal(t, model.SeverityHigh, labels[model.FallbackRiskLabel])
	assert.Len(t, snap.ConsolidatedRisks, 2)
}

func TestSynthesizer_Errors(t *testing.T) {
	tests := []struct {
		name      string
		structure string
		wantErr   string
	}{
		{"bad json", "no json here", "decode synthesis"},
		{"bad recommendation", `{"overall_summary":"s","overall_confidence":0.5,"investment_recommendation":"maybe"}`, "synthesis recommendation"},
		{"no confidence", `{"overall_summary":"s","investment_recommendation":"hold"}`, "no overall confidence"},
		{"empty summary", `{"overall_summary":"","overall_confidence":0.5,"investment_recommendation":"hold"}`, "synthesis validation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := anthropicmocks.NewMockClient(t)
			client.On("CreateMessage", mock.Anything, reasonReq("claude-sonnet-4-5-20250929")).Return(textResponse("memo"), nil).Once()
			client.On("CreateMessage", mock.Anything, reasonReq("claude-haiku-4-5-20251001")).Return(textResponse(tt.structure), nil).Once()

			s, err := NewSynthesizer(synthesisDeps(client))
			require.NoError(t, err)
			_, err = s.Synthesize(context.Background(), synthesisCompany(), "job-1", "b", fiveAnalyses())
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestSynthesizer_WrongAnalysisCount(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, reasonReq("claude-sonnet-4-5-20250929")).Return(textResponse("memo"), nil).Once()
	client.On("CreateMessage", mock.Anything, reasonReq("claude-haiku-4-5-20251001")).Return(textResponse(synthesisJSON), nil).Once()

	s, err := NewSynthesizer(synthesisDeps(client))
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), synthesisCompany(), "job-1", "b", fiveAnalyses()[:4])
	assert.ErrorContains(t, err, "expected 5 agent analyses")
}

func TestSynthesizer_ReasonError(t *testing.T) {
	client := anthropicmocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errModelDown).Once()

	s, err := NewSynthesizer(synthesisDeps(client))
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), synthesisCompany(), "job-1", "b", fiveAnalyses())
	assert.ErrorContains(t, err, "agent: synthesis_reason call")
}

func TestNewSynthesizer_RequiresClient(t *testing.T) {
	_, err := NewSynthesizer(Deps{})
	assert.ErrorContains(t, err, "anthropic client is required")
}
