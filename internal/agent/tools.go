package agent

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/activity"
	"github.com/sells-group/diligence-cli/internal/knowledge"
	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/pkg/anthropic"
)

// SearchToolName is the retrieval tool offered to domain workers.
const SearchToolName = "search_knowledge"

// Search scopes.
const (
	ScopeDomain = "domain"
	ScopeAll    = "all"
)

var searchTool = anthropic.Tool{
	Name:        SearchToolName,
	Description: "Search the indexed company profile. Scope \"domain\" searches your domain's slice; \"all\" searches every slice.",
	Properties: map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "Short search query.",
		},
		"scope": map[string]any{
			"type": "string",
			"enum": []string{ScopeDomain, ScopeAll},
		},
	},
	Required: []string{"query"},
}

type searchInput struct {
	Query string `json:"query"`
	Scope string `json:"scope"`
}

// runTool executes one tool_use block, logging the call and its result
// under the tool-use id, and returns the tool_result block for the model.
func (w *Worker) runTool(ctx context.Context, sess *activity.Session, use anthropic.ContentBlock) anthropic.ContentBlock {
	callID := model.CallID(use.ID)
	sess.ToolCall(ctx, callID, use.Name, string(use.Input))

	start := time.Now()
	out, err := w.execTool(ctx, use)
	sess.ToolResult(ctx, callID, use.Name, out, err, time.Since(start))

	if err != nil {
		return anthropic.ToolResult(use.ID, err.Error(), true)
	}
	return anthropic.ToolResult(use.ID, out, false)
}

func (w *Worker) execTool(ctx context.Context, use anthropic.ContentBlock) (string, error) {
	if use.Name != SearchToolName {
		return "", eris.Errorf("agent: unknown tool %q", use.Name)
	}

	var in searchInput
	if len(use.Input) > 0 {
		if err := json.Unmarshal(use.Input, &in); err != nil {
			return "", eris.Wrap(err, "agent: decode search input")
		}
	}
	if strings.TrimSpace(in.Query) == "" {
		return "", eris.New("agent: search query is empty")
	}

	filters := knowledge.DomainFilters(w.domain)
	if in.Scope == ScopeAll {
		filters = []string{knowledge.FilterCompanyProfile}
	}

	searchCtx, cancel := context.WithTimeout(ctx, w.deps.Config.CallTimeout)
	defer cancel()

	hits, err := w.deps.Search.Search(searchCtx, w.companyID, domainQuery(w.domain, in.Query), filters, w.deps.Config.SearchTopK)
	if err != nil {
		return "", eris.Wrap(err, "agent: search knowledge")
	}
	return knowledge.FormatHits(hits), nil
}

// domainQuery tags the model's query with the worker's domain so ranking
// favours that domain's slice even when the scope is widened to all.
func domainQuery(domain model.AgentID, query string) string {
	return string(domain) + ": " + strings.TrimSpace(query)
}
