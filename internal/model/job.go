package model

import "time"

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusIngesting JobStatus = "ingesting"
	JobStatusAnalyzing JobStatus = "analyzing"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Progress checkpoints written by the job controller.
const (
	ProgressQueued       = 0
	ProgressStarted      = 5
	ProgressBaseline     = 10
	ProgressIngesting    = 20
	ProgressAnalyzing    = 40
	ProgressSynthesizing = 80
	ProgressPersisting   = 95
	ProgressDone         = 100
)

var jobStatusRank = map[JobStatus]int{
	JobStatusQueued:    0,
	JobStatusRunning:   1,
	JobStatusIngesting: 2,
	JobStatusAnalyzing: 3,
	JobStatusCompleted: 4,
	JobStatusFailed:    4,
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	_, ok := jobStatusRank[s]
	return ok
}

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a job may move from one status to another.
// Terminal states are final, failed is reachable from every other state, and
// all other moves go forward (or stay put).
func CanTransition(from, to JobStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if to == JobStatusFailed {
		return true
	}
	return jobStatusRank[to] >= jobStatusRank[from]
}

// AnalysisJob tracks one execution of the analysis pipeline for a company.
type AnalysisJob struct {
	ID          string     `json:"id"`
	CompanyID   string     `json:"company_id"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Message     string     `json:"message"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
