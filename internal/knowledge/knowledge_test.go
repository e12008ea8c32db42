package knowledge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"github.com/sells-group/diligence-cli/internal/brief"
	"github.com/sells-group/diligence-cli/internal/model"
)

type addCall struct {
	namespace, key, text string
	filters              []string
}

// recordingIndex captures Add calls and fails the keys listed in failKeys.
type recordingIndex struct {
	mu       sync.Mutex
	calls    []addCall
	failKeys map[string]bool
}

func (r *recordingIndex) Add(_ context.Context, namespace, key, text string, filters []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, addCall{namespace, key, text, filters})
	if r.failKeys[key] {
		return errors.New("index unavailable")
	}
	return nil
}

func (r *recordingIndex) Search(context.Context, string, string, []string, int) ([]Hit, error) {
	return nil, nil
}

func (r *recordingIndex) DeleteNamespace(context.Context, string) error { return nil }
func (r *recordingIndex) Migrate(context.Context) error                 { return nil }

func testCompany() model.Company {
	return model.Company{
		ID:      "acme",
		Name:    "Acme Robotics",
		Sector:  "Robotics",
		Product: model.Product{Name: "Picker", TechStack: []string{"ROS"}},
		Team:    model.Team{Size: 4},
		Market:  model.Market{TAM: "$10B"},
		Traction: model.Traction{
			Revenue: "$400k ARR",
		},
	}
}

func TestIngestBaseline_SixAdds(t *testing.T) {
	idx := &recordingIndex{}
	c := testCompany()
	baseline := brief.Build(c)

	require.NoError(t, NewIndexer(idx).IngestBaseline(context.Background(), c, baseline))
	require.Len(t, idx.calls, 6)

	byKey := make(map[string]addCall)
	for _, call := range idx.calls {
		assert.Equal(t, "acme", call.namespace)
		byKey[call.key] = call
	}

	for _, id := range model.AgentIDs {
		call, ok := byKey[DomainKey(id)]
		require.True(t, ok, "missing slice for %s", id)
		assert.Equal(t, []string{string(id), FilterCompanyProfile}, call.filters)
		assert.Equal(t, brief.Build(c, DomainSections[id]...), call.text)
	}

	base := byKey[BaselineKey]
	assert.Equal(t, []string{FilterBaseline, FilterCompanyProfile}, base.filters)
	assert.Equal(t, baseline, base.text)
}

func TestIngestBaseline_DomainSlices(t *testing.T) {
	idx := &recordingIndex{}
	require.NoError(t, NewIndexer(idx).IngestBaseline(context.Background(), testCompany(), "b"))

	texts := make(map[string]string)
	for _, call := range idx.calls {
		texts[call.key] = call.text
	}
	assert.Contains(t, texts["technical_profile"], "## Team")
	assert.NotContains(t, texts["technical_profile"], "## Traction")
	assert.Contains(t, texts["finance_profile"], "## Traction")
	assert.NotContains(t, texts["finance_profile"], "## Product")
	assert.Contains(t, texts["competitor_profile"], "## Product")
	assert.Contains(t, texts["evaluation_profile"], "## Team")
	assert.Contains(t, texts["evaluation_profile"], "## Traction")
}

func TestIngestBaseline_AttemptsAllAndCombinesErrors(t *testing.T) {
	idx := &recordingIndex{failKeys: map[string]bool{"finance_profile": true, BaselineKey: true}}

	err := NewIndexer(idx).IngestBaseline(context.Background(), testCompany(), "b")
	require.Error(t, err)
	assert.Len(t, idx.calls, 6)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Contains(t, err.Error(), "finance slice")
	assert.Contains(t, err.Error(), "ingest baseline")
}

func TestTermScore(t *testing.T) {
	assert.Equal(t, 0.0, termScore("", "anything"))
	assert.Equal(t, 0.0, termScore("revenue", "no match here"))
	assert.Equal(t, 2.0, termScore("Revenue", "revenue: $1M, revenue growth"))
	// Repeated query terms count once.
	assert.Equal(t, 1.0, termScore("arr arr", "ARR"))
}

func TestRank(t *testing.T) {
	hits := []Hit{{Key: "b", Score: 1}, {Key: "a", Score: 1}, {Key: "c", Score: 3}}
	out := rank(hits, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "c", out[0].Key)
	assert.Equal(t, "a", out[1].Key)
}

func TestFormatHits(t *testing.T) {
	assert.Equal(t, "No matching knowledge found.", FormatHits(nil))
	out := FormatHits([]Hit{{Key: "k1", Text: "one"}, {Key: "k2", Text: "two"}})
	assert.Equal(t, "[k1]\none\n---\n[k2]\ntwo", out)
}
