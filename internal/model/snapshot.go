package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Recommendation is the final investment call.
type Recommendation string

const (
	RecommendationStrongBuy  Recommendation = "strong_buy"
	RecommendationBuy        Recommendation = "buy"
	RecommendationHold       Recommendation = "hold"
	RecommendationSell       Recommendation = "sell"
	RecommendationStrongSell Recommendation = "strong_sell"
)

// Valid reports whether r is one of the five recommendation values.
func (r Recommendation) Valid() bool {
	switch r {
	case RecommendationStrongBuy, RecommendationBuy, RecommendationHold,
		RecommendationSell, RecommendationStrongSell:
		return true
	}
	return false
}

// ParseRecommendation accepts "Strong Buy", "strong-buy" and similar spellings.
func ParseRecommendation(s string) (Recommendation, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	r := Recommendation(norm)
	if !r.Valid() {
		return "", eris.Errorf("unknown recommendation %q", s)
	}
	return r, nil
}

// Snapshot is the consolidated output of one successful analysis job.
// Snapshots are append-only; the latest by CreatedAt is current.
type Snapshot struct {
	ID                       string           `json:"id"`
	CompanyID                string           `json:"company_id"`
	JobID                    string           `json:"job_id"`
	Name                     string           `json:"name"`
	Sector                   string           `json:"sector"`
	Stage                    string           `json:"stage"`
	Ask                      string           `json:"ask"`
	OverallSummary           string           `json:"overall_summary"`
	OverallConfidence        float64          `json:"overall_confidence"`
	LastUpdated              time.Time        `json:"last_updated"`
	AgentAnalyses            []DomainAnalysis `json:"agent_analyses"`
	ConsolidatedMetrics      []Metric         `json:"consolidated_metrics"`
	ConsolidatedRisks        []Risk           `json:"consolidated_risks"`
	InvestmentRecommendation Recommendation   `json:"investment_recommendation"`
	RecommendationReasoning  string           `json:"recommendation_reasoning"`
	CreatedAt                time.Time        `json:"created_at"`
}

// Validate checks the structural guarantees every persisted snapshot carries.
func (s *Snapshot) Validate() error {
	if s.CompanyID == "" {
		return eris.New("snapshot: company id is required")
	}
	if strings.TrimSpace(s.OverallSummary) == "" {
		return eris.New("snapshot: overall summary is empty")
	}
	if s.OverallConfidence < 0 || s.OverallConfidence > 1 {
		return eris.Errorf("snapshot: overall confidence %.2f out of range", s.OverallConfidence)
	}
	if !s.InvestmentRecommendation.Valid() {
		return eris.Errorf("snapshot: invalid recommendation %q", s.InvestmentRecommendation)
	}
	if len(s.AgentAnalyses) != len(AgentIDs) {
		return eris.Errorf("snapshot: expected %d agent analyses, got %d", len(AgentIDs), len(s.AgentAnalyses))
	}
	seen := make(map[AgentID]bool, len(AgentIDs))
	for _, a := range s.AgentAnalyses {
		if !a.AgentID.Valid() {
			return eris.Errorf("snapshot: unknown agent %q", a.AgentID)
		}
		if seen[a.AgentID] {
			return eris.Errorf("snapshot: duplicate analysis for %s", a.AgentID)
		}
		seen[a.AgentID] = true
	}
	return nil
}
