package model

import "time"

// ActivityType tags each event in the activity log.
type ActivityType string

const (
	ActivityToolCall      ActivityType = "tool_call"
	ActivityToolResult    ActivityType = "tool_result"
	ActivityAgentStart    ActivityType = "agent_start"
	ActivityAgentComplete ActivityType = "agent_complete"
	ActivityAgentError    ActivityType = "agent_error"
)

// ActivityStatus is the status carried by an event and reported per agent.
type ActivityStatus string

const (
	ActivityPending   ActivityStatus = "pending"
	ActivityRunning   ActivityStatus = "running"
	ActivityCompleted ActivityStatus = "completed"
	ActivityError     ActivityStatus = "error"
)

// CallID correlates a tool_call event with its tool_result.
type CallID string

// ActivityEvent is one append-only audit record written by a domain worker.
type ActivityEvent struct {
	ID              string         `json:"id"`
	Seq             int64          `json:"seq"`
	CompanyID       string         `json:"company_id"`
	JobID           string         `json:"job_id"`
	AgentID         AgentID        `json:"agent_id"`
	AgentName       string         `json:"agent_name"`
	ThreadID        string         `json:"thread_id"`
	Type            ActivityType   `json:"activity_type"`
	CallID          CallID         `json:"call_id,omitempty"`
	ToolName        string         `json:"tool_name,omitempty"`
	ToolInput       string         `json:"tool_input,omitempty"`
	ToolOutput      string         `json:"tool_output,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	ExecutionTimeMs *int64         `json:"execution_time_ms,omitempty"`
	Status          ActivityStatus `json:"status"`
	Timestamp       time.Time      `json:"timestamp"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// AgentStatus is the per-agent view folded from the activity log.
type AgentStatus struct {
	AgentID      AgentID        `json:"agent_id"`
	AgentName    string         `json:"agent_name"`
	Status       ActivityStatus `json:"status"`
	StartTime    *time.Time     `json:"start_time,omitempty"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	LastActivity *time.Time     `json:"last_activity,omitempty"`
	ToolCalls    int            `json:"tool_calls"`
	ToolResults  int            `json:"tool_results"`
	Errors       int            `json:"errors"`
}

// ToolCallWithResult joins a tool_call event to its tool_result.
type ToolCallWithResult struct {
	CallID          CallID         `json:"call_id"`
	AgentID         AgentID        `json:"agent_id"`
	ToolName        string         `json:"tool_name"`
	ToolInput       string         `json:"tool_input,omitempty"`
	ToolOutput      string         `json:"tool_output,omitempty"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Status          ActivityStatus `json:"status"`
	CalledAt        time.Time      `json:"called_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	ExecutionTimeMs *int64         `json:"execution_time_ms,omitempty"`
}
