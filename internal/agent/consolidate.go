package agent

import (
	"strings"

	"github.com/sells-group/diligence-cli/internal/model"
)

// ConsolidateMetrics merges metrics by key in first-seen order. The first
// occurrence supplies the value; later duplicates contribute their sources
// (deduplicated by title and url), their checks, and a peer median when the
// first had none.
func ConsolidateMetrics(groups ...[]model.Metric) []model.Metric {
	out := []model.Metric{}
	index := make(map[string]int)
	for _, metrics := range groups {
		for _, m := range metrics {
			if m.Key == "" {
				continue
			}
			i, ok := index[m.Key]
			if !ok {
				m.Sources = mergeSources(nil, m.Sources)
				m.Checks = append([]model.Check{}, m.Checks...)
				index[m.Key] = len(out)
				out = append(out, m)
				continue
			}
			cur := &out[i]
			cur.Sources = mergeSources(cur.Sources, m.Sources)
			cur.Checks = append(cur.Checks, m.Checks...)
			if cur.PeerMedian == nil && m.PeerMedian != nil {
				cur.PeerMedian = m.PeerMedian
			}
			if cur.Unit == "" {
				cur.Unit = m.Unit
			}
		}
	}
	return out
}

func mergeSources(dst, src []model.Source) []model.Source {
	if dst == nil {
		dst = []model.Source{}
	}
	seen := make(map[string]bool, len(dst)+len(src))
	for _, s := range dst {
		seen[sourceKey(s)] = true
	}
	for _, s := range src {
		k := sourceKey(s)
		if seen[k] {
			continue
		}
		seen[k] = true
		dst = append(dst, s)
	}
	return dst
}

func sourceKey(s model.Source) string {
	return strings.ToLower(strings.TrimSpace(s.Title)) + "|" + strings.TrimSpace(s.URL)
}

// ConsolidateRisks merges risks by case-insensitive label in first-seen
// order, keeping the highest severity and the evidence that came with it.
// Fallback risks share one label, so their evidence is joined instead and
// every failed domain stays listed.
func ConsolidateRisks(groups ...[]model.Risk) []model.Risk {
	out := []model.Risk{}
	index := make(map[string]int)
	fallbackKey := strings.ToLower(model.FallbackRiskLabel)
	for _, risks := range groups {
		for _, r := range risks {
			key := strings.ToLower(strings.TrimSpace(r.Label))
			if key == "" {
				continue
			}
			i, ok := index[key]
			if !ok {
				index[key] = len(out)
				out = append(out, r)
				continue
			}
			if key == fallbackKey {
				out[i].Evidence = joinEvidence(out[i].Evidence, r.Evidence)
				continue
			}
			if r.Severity.Rank() > out[i].Severity.Rank() {
				out[i].Severity = r.Severity
				out[i].Evidence = r.Evidence
			}
		}
	}
	return out
}

func joinEvidence(have, add string) string {
	add = strings.TrimSpace(add)
	switch {
	case add == "":
		return have
	case have == "":
		return add
	}
	for _, part := range strings.Split(have, "; ") {
		if part == add {
			return have
		}
	}
	return have + "; " + add
}
