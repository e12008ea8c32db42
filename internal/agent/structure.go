package agent

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
)

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

// Loose shapes decoded from model output before normalization.

type rawCheck struct {
	Label  string `json:"label"`
	Status string `json:"status"`
	Note   string `json:"note"`
}

type rawMetric struct {
	Key        string         `json:"key"`
	Label      string         `json:"label"`
	Value      *float64       `json:"value"`
	Unit       string         `json:"unit"`
	PeerMedian *float64       `json:"peer_median"`
	Sources    []model.Source `json:"sources"`
	Checks     []rawCheck     `json:"checks"`
}

type rawRisk struct {
	Severity string `json:"severity"`
	Label    string `json:"label"`
	Evidence string `json:"evidence"`
}

type rawAnalysis struct {
	Summary         string         `json:"summary"`
	Confidence      *float64       `json:"confidence"`
	KeyFindings     []string       `json:"key_findings"`
	Metrics         []rawMetric    `json:"metrics"`
	Risks           []rawRisk      `json:"risks"`
	Sources         []model.Source `json:"sources"`
	Recommendations []string       `json:"recommendations"`
}

// parseDomainAnalysis decodes and normalizes a structuring-pass response.
// The caller sets identity and timestamps.
func parseDomainAnalysis(text string) (model.DomainAnalysis, error) {
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(cleanJSON(text)), &raw); err != nil {
		return model.DomainAnalysis{}, eris.Wrap(err, "agent: decode structured analysis")
	}
	if strings.TrimSpace(raw.Summary) == "" {
		return model.DomainAnalysis{}, eris.New("agent: structured analysis has no summary")
	}
	if raw.Confidence == nil {
		return model.DomainAnalysis{}, eris.New("agent: structured analysis has no confidence")
	}

	return model.DomainAnalysis{
		Summary:         strings.TrimSpace(raw.Summary),
		Confidence:      model.ClampConfidence(*raw.Confidence),
		KeyFindings:     compactStrings(raw.KeyFindings),
		Metrics:         normalizeMetrics(raw.Metrics),
		Risks:           normalizeRisks(raw.Risks),
		Sources:         normalizeSources(raw.Sources),
		Recommendations: compactStrings(raw.Recommendations),
	}, nil
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeSources(in []model.Source) []model.Source {
	out := make([]model.Source, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s.Title) == "" && s.URL == "" {
			continue
		}
		s.Confidence = model.ClampConfidence(s.Confidence)
		s.ExtractedFacts = compactStrings(s.ExtractedFacts)
		out = append(out, s)
	}
	return out
}

// normalizeMetrics drops metrics with no numeric value, derives a key from
// the label when missing, and coerces check statuses to pass/warn.
func normalizeMetrics(in []rawMetric) []model.Metric {
	out := make([]model.Metric, 0, len(in))
	for _, m := range in {
		if m.Value == nil {
			continue
		}
		key := metricKey(m.Key)
		if key == "" {
			key = metricKey(m.Label)
		}
		if key == "" {
			continue
		}
		label := strings.TrimSpace(m.Label)
		if label == "" {
			label = key
		}
		checks := make([]model.Check, 0, len(m.Checks))
		for _, c := range m.Checks {
			if strings.TrimSpace(c.Label) == "" {
				continue
			}
			status := model.CheckWarn
			if strings.EqualFold(strings.TrimSpace(c.Status), string(model.CheckPass)) {
				status = model.CheckPass
			}
			checks = append(checks, model.Check{Label: c.Label, Status: status, Note: c.Note})
		}
		out = append(out, model.Metric{
			Key:        key,
			Label:      label,
			Value:      *m.Value,
			Unit:       strings.TrimSpace(m.Unit),
			PeerMedian: m.PeerMedian,
			Sources:    normalizeSources(m.Sources),
			Checks:     checks,
		})
	}
	return out
}

// normalizeRisks drops unlabeled risks and maps unknown severities to med.
func normalizeRisks(in []rawRisk) []model.Risk {
	out := make([]model.Risk, 0, len(in))
	for _, r := range in {
		label := strings.TrimSpace(r.Label)
		if label == "" {
			continue
		}
		sev, ok := model.ParseSeverity(r.Severity)
		if !ok {
			sev = model.SeverityMed
		}
		out = append(out, model.Risk{Severity: sev, Label: label, Evidence: strings.TrimSpace(r.Evidence)})
	}
	return out
}

// metricKey lowercases s and collapses non-alphanumerics to underscores.
func metricKey(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
