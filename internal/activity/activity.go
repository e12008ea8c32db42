// Package activity records the per-worker audit log and folds it back into
// agent status and tool-call views.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

// Sink is the append side of the activity log.
type Sink interface {
	AppendActivity(ctx context.Context, ev *model.ActivityEvent) error
}

// Source is the read side of the activity log.
type Source interface {
	ListActivity(ctx context.Context, filter store.ActivityFilter) ([]model.ActivityEvent, error)
}

// Logger writes activity events.
type Logger struct {
	sink Sink
	now  func() time.Time
}

// NewLogger creates a Logger writing to sink.
func NewLogger(sink Sink) *Logger {
	return &Logger{sink: sink, now: func() time.Time { return time.Now().UTC() }}
}

// LogActivity inserts ev, assigning its id and timestamp when missing.
func (l *Logger) LogActivity(ctx context.Context, ev *model.ActivityEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	if err := l.sink.AppendActivity(ctx, ev); err != nil {
		return eris.Wrapf(err, "activity: log %s for %s", ev.Type, ev.AgentID)
	}
	return nil
}

// Session is one worker's view of the log. It owns a thread id and stamps
// every event with the worker's identity. Write failures are logged at warn
// and never returned.
type Session struct {
	logger    *Logger
	companyID string
	jobID     string
	agentID   model.AgentID
	agentName string
	threadID  string
	log       *zap.Logger
}

// Session opens a session for one worker run with a fresh thread id.
func (l *Logger) Session(companyID, jobID string, agent model.AgentID) *Session {
	threadID := uuid.New().String()
	return &Session{
		logger:    l,
		companyID: companyID,
		jobID:     jobID,
		agentID:   agent,
		agentName: agent.DisplayName(),
		threadID:  threadID,
		log: zap.L().With(
			zap.String("company_id", companyID),
			zap.String("job_id", jobID),
			zap.String("agent", string(agent)),
			zap.String("thread_id", threadID),
		),
	}
}

// ThreadID returns the session's thread id.
func (s *Session) ThreadID() string {
	return s.threadID
}

func (s *Session) write(ctx context.Context, ev model.ActivityEvent) {
	ev.CompanyID = s.companyID
	ev.JobID = s.jobID
	ev.AgentID = s.agentID
	ev.AgentName = s.agentName
	ev.ThreadID = s.threadID
	if err := s.logger.LogActivity(ctx, &ev); err != nil {
		s.log.Warn("activity: write failed", zap.String("activity_type", string(ev.Type)), zap.Error(err))
	}
}

// Start records agent_start.
func (s *Session) Start(ctx context.Context) {
	s.write(ctx, model.ActivityEvent{Type: model.ActivityAgentStart, Status: model.ActivityRunning})
}

// ToolCall records a tool invocation.
func (s *Session) ToolCall(ctx context.Context, callID model.CallID, tool, input string) {
	s.write(ctx, model.ActivityEvent{
		Type:      model.ActivityToolCall,
		CallID:    callID,
		ToolName:  tool,
		ToolInput: input,
		Status:    model.ActivityRunning,
	})
}

// ToolResult records the outcome of the tool call with the same callID.
func (s *Session) ToolResult(ctx context.Context, callID model.CallID, tool, output string, toolErr error, elapsed time.Duration) {
	ms := elapsed.Milliseconds()
	ev := model.ActivityEvent{
		Type:            model.ActivityToolResult,
		CallID:          callID,
		ToolName:        tool,
		ToolOutput:      output,
		ExecutionTimeMs: &ms,
		Status:          model.ActivityCompleted,
	}
	if toolErr != nil {
		ev.Status = model.ActivityError
		ev.ErrorMessage = toolErr.Error()
	}
	s.write(ctx, ev)
}

// Complete records agent_complete. Terminal events are written even when
// ctx is already done, so a cancelled job still closes out its agents.
func (s *Session) Complete(ctx context.Context, metadata map[string]any) {
	s.write(context.WithoutCancel(ctx), model.ActivityEvent{
		Type:     model.ActivityAgentComplete,
		Status:   model.ActivityCompleted,
		Metadata: metadata,
	})
}

// Error records agent_error, like Complete, regardless of ctx.
func (s *Session) Error(ctx context.Context, cause error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	s.write(context.WithoutCancel(ctx), model.ActivityEvent{
		Type:         model.ActivityAgentError,
		ErrorMessage: msg,
		Status:       model.ActivityError,
	})
}
