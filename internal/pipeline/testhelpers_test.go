package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/model"
	"github.com/sells-group/diligence-cli/internal/scheduler"
	"github.com/sells-group/diligence-cli/internal/store"
)

// recordingStore wraps a real store and records job writes. Hooks can
// inject failures.
type recordingStore struct {
	store.Store

	mu          sync.Mutex
	updates     []model.AnalysisJob
	saveErr     error
	updateErrAt model.JobStatus
}

func (r *recordingStore) UpdateJob(ctx context.Context, job *model.AnalysisJob) error {
	if r.updateErrAt != "" && job.Status == r.updateErrAt {
		return errors.New("disk full")
	}
	if err := r.Store.UpdateJob(ctx, job); err != nil {
		return err
	}
	r.mu.Lock()
	r.updates = append(r.updates, *job)
	r.mu.Unlock()
	return nil
}

func (r *recordingStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	return r.Store.SaveSnapshot(ctx, snap)
}

func (r *recordingStore) jobUpdates() []model.AnalysisJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.AnalysisJob(nil), r.updates...)
}

func newTestStore(t *testing.T) *recordingStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return &recordingStore{Store: st}
}

func seedCompany(t *testing.T, st store.Store) model.Company {
	t.Helper()
	c := model.Company{
		ID:     "acme",
		Name:   "Acme Robotics",
		Sector: "Robotics",
		Stage:  "Seed",
		Ask:    "$2M",
		Traction: model.Traction{
			Revenue: "$400k ARR",
		},
	}
	require.NoError(t, st.UpsertCompany(context.Background(), &c))
	return c
}

// stubWorker returns a canned analysis or panics.
type stubWorker struct {
	domain model.AgentID
	panic  bool
	fail   bool
}

func (w stubWorker) Analyze(_ context.Context, _, _ string) model.DomainAnalysis {
	if w.panic {
		panic("nil map write")
	}
	if w.fail {
		return model.FallbackAnalysis(w.domain, errors.New("model unavailable"), time.Now())
	}
	return model.DomainAnalysis{
		AgentID:     w.domain,
		AgentName:   w.domain.DisplayName(),
		Summary:     string(w.domain) + " looks fine",
		Confidence:  0.8,
		KeyFindings: []string{"finding"},
	}
}

func stubWorkers(panics, fails map[model.AgentID]bool) WorkerFactory {
	return func(domain model.AgentID, _ string) (DomainWorker, error) {
		return stubWorker{domain: domain, panic: panics[domain], fail: fails[domain]}, nil
	}
}

// fakeSynth builds a valid snapshot from the analyses it receives.
type fakeSynth struct {
	mu       sync.Mutex
	err      error
	received [][]model.DomainAnalysis
	baseline string
}

func (f *fakeSynth) Synthesize(_ context.Context, c model.Company, jobID, baseline string, analyses []model.DomainAnalysis) (*model.Snapshot, error) {
	f.mu.Lock()
	f.received = append(f.received, analyses)
	f.baseline = baseline
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &model.Snapshot{
		CompanyID:                c.ID,
		JobID:                    jobID,
		Name:                     c.Name,
		OverallSummary:           "Solid company.",
		OverallConfidence:        0.7,
		AgentAnalyses:            analyses,
		InvestmentRecommendation: model.RecommendationBuy,
	}, nil
}

type fakeIngester struct {
	err     error
	calls   int
	deleted []string
}

func (f *fakeIngester) IngestBaseline(context.Context, model.Company, string) error {
	f.calls++
	return f.err
}

func (f *fakeIngester) DeleteCompany(_ context.Context, companyID string) error {
	f.deleted = append(f.deleted, companyID)
	return nil
}

// inlineScheduler runs submitted tasks synchronously.
type inlineScheduler struct {
	err error
}

func (s inlineScheduler) Submit(t scheduler.Task) error {
	if s.err != nil {
		return s.err
	}
	return t.Run(context.Background())
}

type harness struct {
	ctrl  *Controller
	store *recordingStore
	synth *fakeSynth
	ing   *fakeIngester
}

func newHarness(t *testing.T, workers WorkerFactory) *harness {
	t.Helper()
	st := newTestStore(t)
	h := &harness{store: st, synth: &fakeSynth{}, ing: &fakeIngester{}}
	if workers == nil {
		workers = stubWorkers(nil, nil)
	}
	h.ctrl = New(Config{JobTimeout: time.Minute}, st, workers, h.synth, h.ing, inlineScheduler{})
	return h
}
