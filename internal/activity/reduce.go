package activity

import (
	"sort"
	"time"

	"github.com/sells-group/diligence-cli/internal/model"
)

// sortAscending returns a copy of events ordered by (timestamp, seq).
func sortAscending(events []model.ActivityEvent) []model.ActivityEvent {
	out := make([]model.ActivityEvent, len(events))
	copy(out, events)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

func timePtr(t time.Time) *time.Time {
	return &t
}

// Reduce folds an event stream into one status per agent. The five domain
// agents are always reported, pending until their first event; unknown
// agent ids follow in order of first appearance. Reduce is pure, so
// replaying the same events yields the same result.
func Reduce(events []model.ActivityEvent) []model.AgentStatus {
	statuses := make(map[model.AgentID]*model.AgentStatus, len(model.AgentIDs))
	order := make([]model.AgentID, 0, len(model.AgentIDs))
	for _, id := range model.AgentIDs {
		statuses[id] = &model.AgentStatus{AgentID: id, AgentName: id.DisplayName(), Status: model.ActivityPending}
		order = append(order, id)
	}

	for _, ev := range sortAscending(events) {
		st, ok := statuses[ev.AgentID]
		if !ok {
			name := ev.AgentName
			if name == "" {
				name = string(ev.AgentID)
			}
			st = &model.AgentStatus{AgentID: ev.AgentID, AgentName: name, Status: model.ActivityPending}
			statuses[ev.AgentID] = st
			order = append(order, ev.AgentID)
		}

		switch ev.Type {
		case model.ActivityAgentStart:
			st.Status = model.ActivityRunning
			st.StartTime = timePtr(ev.Timestamp)
		case model.ActivityAgentComplete:
			st.Status = model.ActivityCompleted
			st.EndTime = timePtr(ev.Timestamp)
		case model.ActivityAgentError:
			st.Status = model.ActivityError
			st.EndTime = timePtr(ev.Timestamp)
			st.Errors++
		case model.ActivityToolCall:
			st.ToolCalls++
		case model.ActivityToolResult:
			st.ToolResults++
		}

		if st.LastActivity == nil || ev.Timestamp.After(*st.LastActivity) {
			st.LastActivity = timePtr(ev.Timestamp)
		}
	}

	out := make([]model.AgentStatus, len(order))
	for i, id := range order {
		out[i] = *statuses[id]
	}
	return out
}

// JoinToolCalls pairs tool_call events with the tool_result carrying the
// same CallID, in call order. Calls with no result are returned with their
// own status and no timing. Results with no call are dropped.
func JoinToolCalls(events []model.ActivityEvent) []model.ToolCallWithResult {
	sorted := sortAscending(events)

	results := make(map[model.CallID]model.ActivityEvent)
	for _, ev := range sorted {
		if ev.Type != model.ActivityToolResult || ev.CallID == "" {
			continue
		}
		if _, dup := results[ev.CallID]; !dup {
			results[ev.CallID] = ev
		}
	}

	var out []model.ToolCallWithResult
	for _, ev := range sorted {
		if ev.Type != model.ActivityToolCall {
			continue
		}
		tc := model.ToolCallWithResult{
			CallID:    ev.CallID,
			AgentID:   ev.AgentID,
			ToolName:  ev.ToolName,
			ToolInput: ev.ToolInput,
			Status:    ev.Status,
			CalledAt:  ev.Timestamp,
		}
		if res, ok := results[ev.CallID]; ok && ev.CallID != "" {
			tc.ToolOutput = res.ToolOutput
			tc.ErrorMessage = res.ErrorMessage
			tc.Status = res.Status
			tc.CompletedAt = timePtr(res.Timestamp)
			if !ev.Timestamp.IsZero() && !res.Timestamp.IsZero() {
				ms := res.Timestamp.Sub(ev.Timestamp).Milliseconds()
				tc.ExecutionTimeMs = &ms
			}
		}
		out = append(out, tc)
	}
	return out
}
