package agent

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/activity"
	"github.com/sells-group/diligence-cli/internal/knowledge"
	"github.com/sells-group/diligence-cli/internal/store"
	"github.com/sells-group/diligence-cli/pkg/anthropic"
)

var fixedNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

// fakeSearcher records queries and returns canned hits.
type fakeSearcher struct {
	mu      sync.Mutex
	queries []searchCall
	hits    []knowledge.Hit
	err     error
}

type searchCall struct {
	namespace, query string
	filters          []string
	topK             int
}

func (f *fakeSearcher) Search(_ context.Context, namespace, query string, filters []string, topK int) ([]knowledge.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, searchCall{namespace, query, filters, topK})
	return f.hits, f.err
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testDeps(client anthropic.Client, search Searcher, st *store.SQLiteStore) Deps {
	return Deps{
		Client:   client,
		Search:   search,
		Activity: activity.NewLogger(st),
		Config: Config{
			ReasoningModel:   "claude-sonnet-4-5-20250929",
			StructuringModel: "claude-haiku-4-5-20251001",
			MaxToolTurns:     2,
			CallTimeout:      5 * time.Second,
		},
		Now: func() time.Time { return fixedNow },
	}
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		StopReason: "end_turn",
		Content:    []anthropic.ContentBlock{{Type: anthropic.BlockText, Text: text}},
		Usage:      anthropic.TokenUsage{InputTokens: 100, OutputTokens: 20},
	}
}

func toolResponse(id, input string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		StopReason: anthropic.StopReasonToolUse,
		Content: []anthropic.ContentBlock{
			{Type: anthropic.BlockText, Text: "Searching."},
			{Type: anthropic.BlockToolUse, ID: id, Name: SearchToolName, Input: []byte(input)},
		},
	}
}

var errModelDown = errors.New("model unavailable")

func containsAll(s string, subs ...string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}
