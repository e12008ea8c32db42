package model

import (
	"strings"
	"time"
)

// AgentID identifies one of the domain analysis workers.
type AgentID string

const (
	AgentFinance    AgentID = "finance"
	AgentEvaluation AgentID = "evaluation"
	AgentCompetitor AgentID = "competitor"
	AgentMarket     AgentID = "market"
	AgentTechnical  AgentID = "technical"
)

// AgentIDs lists every domain worker in canonical order.
var AgentIDs = []AgentID{
	AgentFinance,
	AgentEvaluation,
	AgentCompetitor,
	AgentMarket,
	AgentTechnical,
}

var agentNames = map[AgentID]string{
	AgentFinance:    "Financial Analyst",
	AgentEvaluation: "Investment Evaluator",
	AgentCompetitor: "Competitive Analyst",
	AgentMarket:     "Market Analyst",
	AgentTechnical:  "Technical Analyst",
}

// Valid reports whether a is one of the five domain workers.
func (a AgentID) Valid() bool {
	_, ok := agentNames[a]
	return ok
}

// DisplayName returns the human-readable worker name.
func (a AgentID) DisplayName() string {
	if name, ok := agentNames[a]; ok {
		return name
	}
	return string(a)
}

// Severity grades a risk.
type Severity string

const (
	SeverityLow  Severity = "low"
	SeverityMed  Severity = "med"
	SeverityHigh Severity = "high"
)

// Rank orders severities so the highest can be kept when merging.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMed:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// ParseSeverity normalizes free-form severity labels produced by the model.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "minor":
		return SeverityLow, true
	case "med", "medium", "moderate":
		return SeverityMed, true
	case "high", "critical", "severe":
		return SeverityHigh, true
	}
	return "", false
}

// CheckStatus is the outcome of a sanity check on a metric.
type CheckStatus string

const (
	CheckPass CheckStatus = "pass"
	CheckWarn CheckStatus = "warn"
)

// Source is a piece of evidence backing a metric or an analysis.
type Source struct {
	Title          string   `json:"title"`
	URL            string   `json:"url,omitempty"`
	Date           string   `json:"date,omitempty"`
	Confidence     float64  `json:"confidence"`
	ExtractedFacts []string `json:"extracted_facts,omitempty"`
}

// Check is a pass/warn sanity check on a metric.
type Check struct {
	Label  string      `json:"label"`
	Status CheckStatus `json:"status"`
	Note   string      `json:"note,omitempty"`
}

// Metric is a quantitative finding.
type Metric struct {
	Key        string   `json:"key"`
	Label      string   `json:"label"`
	Value      float64  `json:"value"`
	Unit       string   `json:"unit,omitempty"`
	PeerMedian *float64 `json:"peer_median,omitempty"`
	Sources    []Source `json:"sources"`
	Checks     []Check  `json:"checks"`
}

// Risk is a graded concern with supporting evidence.
type Risk struct {
	Severity Severity `json:"severity"`
	Label    string   `json:"label"`
	Evidence string   `json:"evidence"`
}

// DomainAnalysis is the output of one domain worker.
type DomainAnalysis struct {
	AgentID         AgentID   `json:"agent_id"`
	AgentName       string    `json:"agent_name"`
	Summary         string    `json:"summary"`
	Confidence      float64   `json:"confidence"`
	KeyFindings     []string  `json:"key_findings"`
	Metrics         []Metric  `json:"metrics"`
	Risks           []Risk    `json:"risks"`
	Sources         []Source  `json:"sources"`
	Recommendations []string  `json:"recommendations"`
	LastUpdated     time.Time `json:"last_updated"`
}

// Fallback record values.
const (
	FallbackConfidence     = 0.1
	FallbackFinding        = "Analysis failed - insufficient data"
	FallbackRiskLabel      = "Analysis Error"
	FallbackRecommendation = "Retry analysis with more complete data"
)

// FallbackAnalysis builds the record returned when a domain worker fails.
func FallbackAnalysis(id AgentID, cause error, now time.Time) DomainAnalysis {
	evidence := id.DisplayName() + ": unknown error"
	if cause != nil {
		evidence = id.DisplayName() + ": " + cause.Error()
	}
	return DomainAnalysis{
		AgentID:     id,
		AgentName:   id.DisplayName(),
		Summary:     id.DisplayName() + " could not complete its analysis.",
		Confidence:  FallbackConfidence,
		KeyFindings: []string{FallbackFinding},
		Metrics:     []Metric{},
		Risks: []Risk{{
			Severity: SeverityHigh,
			Label:    FallbackRiskLabel,
			Evidence: evidence,
		}},
		Sources:         []Source{},
		Recommendations: []string{FallbackRecommendation},
		LastUpdated:     now,
	}
}

// IsFallback reports whether d was produced by FallbackAnalysis.
func (d DomainAnalysis) IsFallback() bool {
	return d.Confidence == FallbackConfidence &&
		len(d.Risks) == 1 &&
		d.Risks[0].Label == FallbackRiskLabel
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
