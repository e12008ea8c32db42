package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/model"
)

// ErrNotFound is returned (wrapped) when a required record does not exist.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing analysis jobs.
type JobFilter struct {
	CompanyID    string          `json:"company_id,omitempty"`
	Status       model.JobStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
}

// ActivityFilter specifies criteria for reading the activity log. Events are
// returned ascending by (timestamp, seq) unless Descending is set.
type ActivityFilter struct {
	CompanyID  string
	JobID      string
	AgentID    model.AgentID
	Types      []model.ActivityType
	Descending bool
	Limit      int
}

// Store defines the persistence interface for the analysis pipeline.
type Store interface {
	// Companies
	UpsertCompany(ctx context.Context, company *model.Company) error
	GetCompany(ctx context.Context, companyID string) (*model.Company, error)
	DeleteCompany(ctx context.Context, companyID string) error

	// Jobs
	CreateJob(ctx context.Context, companyID string) (*model.AnalysisJob, error)
	UpdateJob(ctx context.Context, job *model.AnalysisJob) error
	GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error)
	LatestJob(ctx context.Context, companyID string) (*model.AnalysisJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.AnalysisJob, error)

	// Snapshots
	SaveSnapshot(ctx context.Context, snap *model.Snapshot) error
	LatestSnapshot(ctx context.Context, companyID string) (*model.Snapshot, error)

	// Activity
	AppendActivity(ctx context.Context, ev *model.ActivityEvent) error
	ListActivity(ctx context.Context, filter ActivityFilter) ([]model.ActivityEvent, error)
	CountActivity(ctx context.Context, typ model.ActivityType, since time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

const (
	defaultJobLimit = 100
	maxJobLimit     = 10000
)

func jobLimit(n int) int {
	if n <= 0 {
		return defaultJobLimit
	}
	if n > maxJobLimit {
		return maxJobLimit
	}
	return n
}

// newJob builds a queued job record.
func newJob(id, companyID string, now time.Time) *model.AnalysisJob {
	return &model.AnalysisJob{
		ID:        id,
		CompanyID: companyID,
		Status:    model.JobStatusQueued,
		Progress:  model.ProgressQueued,
		Message:   "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// prepareSnapshot assigns the id and creation time on first save.
func prepareSnapshot(snap *model.Snapshot) {
	if snap.ID == "" {
		snap.ID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
}

// prepareActivity assigns the id and timestamp when the caller left them empty.
func prepareActivity(ev *model.ActivityEvent) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
}
