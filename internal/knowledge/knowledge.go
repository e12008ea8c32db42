// Package knowledge maintains the per-company search index the domain
// workers retrieve context from.
package knowledge

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/multierr"

	"github.com/sells-group/diligence-cli/internal/brief"
	"github.com/sells-group/diligence-cli/internal/model"
)

// Filter tags attached to indexed profile slices.
const (
	FilterCompanyProfile = "company_profile"
	FilterBaseline       = "baseline"
)

// BaselineKey is the index key of the catch-all profile slice.
const BaselineKey = "baseline"

// DefaultTopK is used when a search does not ask for a specific count.
const DefaultTopK = 5

// Hit is one search result.
type Hit struct {
	Key     string   `json:"key"`
	Text    string   `json:"text"`
	Filters []string `json:"filters"`
	Score   float64  `json:"score"`
}

// Index is a namespaced, filterable text index. Add is idempotent by
// (namespace, key). Search returns only entries carrying every filter.
type Index interface {
	Add(ctx context.Context, namespace, key, text string, filters []string) error
	Search(ctx context.Context, namespace, query string, filters []string, topK int) ([]Hit, error)
	DeleteNamespace(ctx context.Context, namespace string) error
	Migrate(ctx context.Context) error
}

// DomainSections is the profile slice each domain worker is seeded with.
var DomainSections = map[model.AgentID][]brief.Section{
	model.AgentFinance:    {brief.SectionCompany, brief.SectionTraction, brief.SectionMarket},
	model.AgentEvaluation: brief.AllSections,
	model.AgentCompetitor: {brief.SectionCompany, brief.SectionProduct, brief.SectionMarket},
	model.AgentMarket:     {brief.SectionCompany, brief.SectionMarket, brief.SectionTraction},
	model.AgentTechnical:  {brief.SectionCompany, brief.SectionProduct, brief.SectionTeam},
}

// DomainKey is the index key of a domain's profile slice.
func DomainKey(id model.AgentID) string {
	return string(id) + "_profile"
}

// DomainFilters scopes a search to one domain's slices.
func DomainFilters(id model.AgentID) []string {
	return []string{string(id), FilterCompanyProfile}
}

// Indexer pushes company profiles into an Index.
type Indexer struct {
	index Index
}

// NewIndexer wraps idx.
func NewIndexer(idx Index) *Indexer {
	return &Indexer{index: idx}
}

// IngestBaseline indexes one slice per domain plus the baseline text under
// the company's namespace. Every Add is attempted; failures are combined.
func (ix *Indexer) IngestBaseline(ctx context.Context, c model.Company, baseline string) error {
	var errs error
	for _, id := range model.AgentIDs {
		text := brief.Build(c, DomainSections[id]...)
		if err := ix.index.Add(ctx, c.ID, DomainKey(id), text, DomainFilters(id)); err != nil {
			errs = multierr.Append(errs, eris.Wrapf(err, "knowledge: ingest %s slice", id))
		}
	}
	if err := ix.index.Add(ctx, c.ID, BaselineKey, baseline, []string{FilterBaseline, FilterCompanyProfile}); err != nil {
		errs = multierr.Append(errs, eris.Wrap(err, "knowledge: ingest baseline"))
	}
	return errs
}

// DeleteCompany drops every entry indexed for the company.
func (ix *Indexer) DeleteCompany(ctx context.Context, companyID string) error {
	return ix.index.DeleteNamespace(ctx, companyID)
}

// hasAll reports whether tags contains every filter.
func hasAll(tags, filters []string) bool {
	set := make(map[string]bool, len(tags))
	for _, t := range tags {
		set[t] = true
	}
	for _, f := range filters {
		if !set[f] {
			return false
		}
	}
	return true
}

// terms lowercases and splits s on anything that is not a letter or digit.
func terms(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termScore counts occurrences of the query terms in text, normalized by
// the number of distinct query terms.
func termScore(query, text string) float64 {
	q := terms(query)
	if len(q) == 0 {
		return 0
	}
	counts := make(map[string]int)
	for _, t := range terms(text) {
		counts[t]++
	}
	seen := make(map[string]bool, len(q))
	var total int
	for _, t := range q {
		if seen[t] {
			continue
		}
		seen[t] = true
		total += counts[t]
	}
	return float64(total) / float64(len(seen))
}

// rank sorts hits by descending score, then key, and truncates to topK.
func rank(hits []Hit, topK int) []Hit {
	if topK <= 0 {
		topK = DefaultTopK
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Key < hits[j].Key
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

// FormatHits renders hits as plain text for a tool result.
func FormatHits(hits []Hit) string {
	if len(hits) == 0 {
		return "No matching knowledge found."
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		b.WriteString("[" + h.Key + "]\n")
		b.WriteString(h.Text)
	}
	return b.String()
}
