package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time { return t0.Add(offset) }

func ev(seq int64, agent model.AgentID, typ model.ActivityType, ts time.Time) model.ActivityEvent {
	return model.ActivityEvent{Seq: seq, AgentID: agent, AgentName: agent.DisplayName(), Type: typ, Timestamp: ts}
}

func statusOf(t *testing.T, statuses []model.AgentStatus, id model.AgentID) model.AgentStatus {
	t.Helper()
	for _, s := range statuses {
		if s.AgentID == id {
			return s
		}
	}
	t.Fatalf("agent %s not reported", id)
	return model.AgentStatus{}
}

func TestReduce_Empty(t *testing.T) {
	statuses := Reduce(nil)
	require.Len(t, statuses, 5)
	for i, id := range model.AgentIDs {
		assert.Equal(t, id, statuses[i].AgentID)
		assert.Equal(t, model.ActivityPending, statuses[i].Status)
		assert.Equal(t, id.DisplayName(), statuses[i].AgentName)
		assert.Nil(t, statuses[i].LastActivity)
	}
}

func TestReduce_Lifecycle(t *testing.T) {
	events := []model.ActivityEvent{
		ev(1, model.AgentFinance, model.ActivityAgentStart, at(0)),
		ev(2, model.AgentFinance, model.ActivityToolCall, at(time.Second)),
		ev(3, model.AgentFinance, model.ActivityToolResult, at(2*time.Second)),
		ev(4, model.AgentFinance, model.ActivityToolCall, at(3*time.Second)),
		ev(5, model.AgentFinance, model.ActivityAgentComplete, at(4*time.Second)),
		ev(6, model.AgentMarket, model.ActivityAgentStart, at(time.Second)),
		ev(7, model.AgentMarket, model.ActivityAgentError, at(5*time.Second)),
		ev(8, model.AgentTechnical, model.ActivityAgentStart, at(2*time.Second)),
	}

	statuses := Reduce(events)
	require.Len(t, statuses, 5)

	fin := statusOf(t, statuses, model.AgentFinance)
	assert.Equal(t, model.ActivityCompleted, fin.Status)
	assert.Equal(t, at(0), *fin.StartTime)
	assert.Equal(t, at(4*time.Second), *fin.EndTime)
	assert.Equal(t, at(4*time.Second), *fin.LastActivity)
	assert.Equal(t, 2, fin.ToolCalls)
	assert.Equal(t, 1, fin.ToolResults)
	assert.Equal(t, 0, fin.Errors)

	mkt := statusOf(t, statuses, model.AgentMarket)
	assert.Equal(t, model.ActivityError, mkt.Status)
	assert.Equal(t, 1, mkt.Errors)
	assert.Equal(t, at(5*time.Second), *mkt.EndTime)

	tech := statusOf(t, statuses, model.AgentTechnical)
	assert.Equal(t, model.ActivityRunning, tech.Status)
	assert.Nil(t, tech.EndTime)

	assert.Equal(t, model.ActivityPending, statusOf(t, statuses, model.AgentEvaluation).Status)
	assert.Equal(t, model.ActivityPending, statusOf(t, statuses, model.AgentCompetitor).Status)
}

func TestReduce_OrdersInputBeforeFolding(t *testing.T) {
	events := []model.ActivityEvent{
		ev(2, model.AgentFinance, model.ActivityAgentComplete, at(time.Second)),
		ev(1, model.AgentFinance, model.ActivityAgentStart, at(0)),
	}
	fin := statusOf(t, Reduce(events), model.AgentFinance)
	assert.Equal(t, model.ActivityCompleted, fin.Status)
}

func TestReduce_SeqBreaksTimestampTies(t *testing.T) {
	events := []model.ActivityEvent{
		ev(9, model.AgentFinance, model.ActivityAgentComplete, at(0)),
		ev(3, model.AgentFinance, model.ActivityAgentStart, at(0)),
	}
	fin := statusOf(t, Reduce(events), model.AgentFinance)
	assert.Equal(t, model.ActivityCompleted, fin.Status)
}

func TestReduce_UnknownAgentsAppended(t *testing.T) {
	events := []model.ActivityEvent{
		{Seq: 1, AgentID: "legal", AgentName: "Legal Reviewer", Type: model.ActivityAgentStart, Timestamp: at(0)},
		{Seq: 2, AgentID: "esg", Type: model.ActivityToolCall, Timestamp: at(time.Second)},
	}
	statuses := Reduce(events)
	require.Len(t, statuses, 7)
	assert.Equal(t, model.AgentID("legal"), statuses[5].AgentID)
	assert.Equal(t, "Legal Reviewer", statuses[5].AgentName)
	assert.Equal(t, model.ActivityRunning, statuses[5].Status)
	assert.Equal(t, model.AgentID("esg"), statuses[6].AgentID)
	assert.Equal(t, "esg", statuses[6].AgentName)
	assert.Equal(t, model.ActivityPending, statuses[6].Status)
	assert.Equal(t, 1, statuses[6].ToolCalls)
}

func TestReduce_ReplayIsIdempotent(t *testing.T) {
	events := []model.ActivityEvent{
		ev(1, model.AgentFinance, model.ActivityAgentStart, at(0)),
		ev(2, model.AgentFinance, model.ActivityToolCall, at(time.Second)),
		ev(3, model.AgentCompetitor, model.ActivityAgentError, at(2*time.Second)),
	}
	first := Reduce(events)
	second := Reduce(events)
	assert.Equal(t, first, second)

	// The input slice is not reordered.
	assert.Equal(t, int64(1), events[0].Seq)
}

func TestJoinToolCalls_Timing(t *testing.T) {
	call := model.ActivityEvent{
		Seq: 1, AgentID: model.AgentFinance, Type: model.ActivityToolCall, CallID: "c1",
		ToolName: "search_knowledge", ToolInput: `{"query":"revenue"}`, Status: model.ActivityRunning, Timestamp: at(0),
	}
	result := model.ActivityEvent{
		Seq: 2, AgentID: model.AgentFinance, Type: model.ActivityToolResult, CallID: "c1",
		ToolOutput: "found", Status: model.ActivityCompleted, Timestamp: at(1500 * time.Millisecond),
	}

	joined := JoinToolCalls([]model.ActivityEvent{result, call})
	require.Len(t, joined, 1)
	tc := joined[0]
	assert.Equal(t, model.CallID("c1"), tc.CallID)
	assert.Equal(t, "search_knowledge", tc.ToolName)
	assert.Equal(t, "found", tc.ToolOutput)
	assert.Equal(t, model.ActivityCompleted, tc.Status)
	require.NotNil(t, tc.ExecutionTimeMs)
	assert.Equal(t, int64(1500), *tc.ExecutionTimeMs)
	assert.Equal(t, at(1500*time.Millisecond), *tc.CompletedAt)
}

func TestJoinToolCalls_UnmatchedAndOrphans(t *testing.T) {
	events := []model.ActivityEvent{
		{Seq: 1, Type: model.ActivityToolCall, CallID: "c1", ToolName: "search_knowledge", Status: model.ActivityRunning, Timestamp: at(0)},
		{Seq: 2, Type: model.ActivityToolResult, CallID: "orphan", ToolOutput: "x", Status: model.ActivityCompleted, Timestamp: at(time.Second)},
		{Seq: 3, Type: model.ActivityToolCall, CallID: "c2", Status: model.ActivityRunning, Timestamp: at(2 * time.Second)},
		{Seq: 4, Type: model.ActivityToolResult, CallID: "c2", ErrorMessage: "index down", Status: model.ActivityError, Timestamp: at(3 * time.Second)},
	}

	joined := JoinToolCalls(events)
	require.Len(t, joined, 2)

	assert.Equal(t, model.CallID("c1"), joined[0].CallID)
	assert.Equal(t, model.ActivityRunning, joined[0].Status)
	assert.Nil(t, joined[0].ExecutionTimeMs)
	assert.Nil(t, joined[0].CompletedAt)

	assert.Equal(t, model.CallID("c2"), joined[1].CallID)
	assert.Equal(t, model.ActivityError, joined[1].Status)
	assert.Equal(t, "index down", joined[1].ErrorMessage)
	assert.Equal(t, int64(1000), *joined[1].ExecutionTimeMs)
}

func TestJoinToolCalls_EmptyCallIDNeverJoins(t *testing.T) {
	events := []model.ActivityEvent{
		{Seq: 1, Type: model.ActivityToolCall, Status: model.ActivityRunning, Timestamp: at(0)},
		{Seq: 2, Type: model.ActivityToolResult, Status: model.ActivityCompleted, Timestamp: at(time.Second)},
	}
	joined := JoinToolCalls(events)
	require.Len(t, joined, 1)
	assert.Nil(t, joined[0].CompletedAt)
}

func TestJoinToolCalls_MetadataIgnored(t *testing.T) {
	events := []model.ActivityEvent{
		{Seq: 1, Type: model.ActivityToolCall, CallID: "a", Timestamp: at(0), Metadata: map[string]any{"toolCallId": "b"}},
		{Seq: 2, Type: model.ActivityToolResult, CallID: "b", Timestamp: at(time.Second), Metadata: map[string]any{"toolCallId": "a"}},
	}
	joined := JoinToolCalls(events)
	require.Len(t, joined, 1)
	assert.Nil(t, joined[0].CompletedAt)
}
