package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal     int     `json:"jobs_total"`
	JobsCompleted int     `json:"jobs_completed"`
	JobsPartial   int     `json:"jobs_partial"`
	JobsFailed    int     `json:"jobs_failed"`
	JobsActive    int     `json:"jobs_active"`
	JobFailRate   float64 `json:"job_fail_rate"`

	// Domain worker fallbacks (agent_error events within the window).
	AgentErrors  int     `json:"agent_errors"`
	FallbackRate float64 `json:"fallback_rate"`

	// Non-terminal jobs with no update for longer than the stuck threshold.
	StuckJobs []string `json:"stuck_jobs,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobSource abstracts the store methods needed by the collector.
type JobSource interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.AnalysisJob, error)
	CountActivity(ctx context.Context, typ model.ActivityType, since time.Time) (int, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store      JobSource
	stuckAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. Jobs idle for longer than
// stuckAfter are reported as stuck; zero disables the check.
func NewCollector(st JobSource, stuckAfter time.Duration) *Collector {
	return &Collector{
		store:      st,
		stuckAfter: stuckAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.store.ListJobs(ctx, store.JobFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	for _, j := range jobs {
		switch {
		case j.Status == model.JobStatusFailed:
			snap.JobsFailed++
		case j.Status == model.JobStatusCompleted:
			snap.JobsCompleted++
			if j.Error != "" {
				snap.JobsPartial++
			}
		default:
			snap.JobsActive++
			if c.stuckAfter > 0 && now.Sub(j.UpdatedAt) > c.stuckAfter {
				snap.StuckJobs = append(snap.StuckJobs, j.ID)
			}
		}
	}

	finished := snap.JobsCompleted + snap.JobsFailed
	if finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
	}

	agentErrors, err := c.store.CountActivity(ctx, model.ActivityAgentError, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count agent errors")
	}
	snap.AgentErrors = agentErrors
	if analyzed := snap.JobsCompleted * len(model.AgentIDs); analyzed > 0 {
		snap.FallbackRate = min(float64(agentErrors)/float64(analyzed), 1)
	}

	return snap, nil
}
