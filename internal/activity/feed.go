package activity

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

// Recent activity limits.
const (
	DefaultRecentLimit = 50
	MaxRecentLimit     = 500
)

// Feed serves read models over the activity log.
type Feed struct {
	source Source
}

// NewFeed creates a Feed reading from source.
func NewFeed(source Source) *Feed {
	return &Feed{source: source}
}

// GetAgentsStatus reduces the job's full event stream into per-agent status.
func (f *Feed) GetAgentsStatus(ctx context.Context, companyID, jobID string) ([]model.AgentStatus, error) {
	events, err := f.source.ListActivity(ctx, store.ActivityFilter{CompanyID: companyID, JobID: jobID})
	if err != nil {
		return nil, eris.Wrapf(err, "activity: agents status for job %s", jobID)
	}
	return Reduce(events), nil
}

// GetRecentActivity returns the newest events first.
func (f *Feed) GetRecentActivity(ctx context.Context, companyID, jobID string, limit int) ([]model.ActivityEvent, error) {
	events, err := f.source.ListActivity(ctx, store.ActivityFilter{
		CompanyID:  companyID,
		JobID:      jobID,
		Descending: true,
		Limit:      RecentLimit(limit),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "activity: recent for job %s", jobID)
	}
	return events, nil
}

// GetAgentToolCalls returns one agent's tool calls joined to their results.
func (f *Feed) GetAgentToolCalls(ctx context.Context, companyID, jobID string, agent model.AgentID) ([]model.ToolCallWithResult, error) {
	events, err := f.source.ListActivity(ctx, store.ActivityFilter{
		CompanyID: companyID,
		JobID:     jobID,
		AgentID:   agent,
		Types:     []model.ActivityType{model.ActivityToolCall, model.ActivityToolResult},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "activity: tool calls for %s", agent)
	}
	return JoinToolCalls(events), nil
}

// RecentLimit applies the default and the cap to a requested limit.
func RecentLimit(n int) int {
	if n <= 0 {
		return DefaultRecentLimit
	}
	if n > MaxRecentLimit {
		return MaxRecentLimit
	}
	return n
}
