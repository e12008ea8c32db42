package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/diligence-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Timestamps are
// stored as unix nanoseconds so ordering is exact.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// OpenSQLite opens a SQLite handle with the pragmas every writer here relies on.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return db, nil
}

// DB returns the underlying handle for subsystems that share the database
// file (the knowledge index).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_jobs (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	progress     INTEGER NOT NULL DEFAULT 0,
	message      TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_analysis_jobs_company_created ON analysis_jobs(company_id, created_at);
CREATE INDEX IF NOT EXISTS idx_analysis_jobs_status ON analysis_jobs(status);

CREATE TABLE IF NOT EXISTS snapshots (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	company_id TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_company_created ON snapshots(company_id, created_at);

CREATE TABLE IF NOT EXISTS activity_events (
	seq               INTEGER PRIMARY KEY AUTOINCREMENT,
	id                TEXT NOT NULL UNIQUE,
	company_id        TEXT NOT NULL,
	job_id            TEXT NOT NULL,
	agent_id          TEXT NOT NULL,
	agent_name        TEXT NOT NULL DEFAULT '',
	thread_id         TEXT NOT NULL DEFAULT '',
	activity_type     TEXT NOT NULL,
	call_id           TEXT NOT NULL DEFAULT '',
	tool_name         TEXT NOT NULL DEFAULT '',
	tool_input        TEXT NOT NULL DEFAULT '',
	tool_output       TEXT NOT NULL DEFAULT '',
	error_message     TEXT NOT NULL DEFAULT '',
	execution_time_ms INTEGER,
	status            TEXT NOT NULL,
	ts                INTEGER NOT NULL,
	metadata          TEXT
);

CREATE INDEX IF NOT EXISTS idx_activity_company_job_ts ON activity_events(company_id, job_id, ts);
CREATE INDEX IF NOT EXISTS idx_activity_agent_type ON activity_events(agent_id, activity_type);
CREATE INDEX IF NOT EXISTS idx_activity_type_ts ON activity_events(activity_type, ts);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Companies ---

func (s *SQLiteStore) UpsertCompany(ctx context.Context, company *model.Company) error {
	if err := company.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if company.CreatedAt.IsZero() {
		company.CreatedAt = now
	}
	company.UpdatedAt = now

	data, err := json.Marshal(company)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal company")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO companies (id, data, created_at, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		company.ID, string(data), toNanos(company.CreatedAt), toNanos(company.UpdatedAt),
	)
	return eris.Wrapf(err, "sqlite: upsert company %s", company.ID)
}

func (s *SQLiteStore) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	var data string
	var createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT data, created_at, updated_at FROM companies WHERE id = ?`, companyID,
	).Scan(&data, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "company %s", companyID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get company %s", companyID)
	}

	var c model.Company
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal company")
	}
	c.ID = companyID
	c.CreatedAt = fromNanos(createdAt)
	c.UpdatedAt = fromNanos(updatedAt)
	return &c, nil
}

func (s *SQLiteStore) DeleteCompany(ctx context.Context, companyID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: delete company: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range []string{
		`DELETE FROM activity_events WHERE company_id = ?`,
		`DELETE FROM snapshots WHERE company_id = ?`,
		`DELETE FROM analysis_jobs WHERE company_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, companyID); err != nil {
			return eris.Wrapf(err, "sqlite: delete company %s", companyID)
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM companies WHERE id = ?`, companyID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete company %s", companyID)
	}
	if err := checkRowsAffected(res, "company", companyID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: delete company: commit tx")
}

// --- Jobs ---

const sqliteJobCols = `id, company_id, status, progress, message, error, created_at, updated_at, completed_at`

func (s *SQLiteStore) CreateJob(ctx context.Context, companyID string) (*model.AnalysisJob, error) {
	job := newJob(uuid.New().String(), companyID, time.Now().UTC())
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_jobs (id, company_id, status, progress, message, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.CompanyID, string(job.Status), job.Progress, job.Message, toNanos(job.CreatedAt), toNanos(job.UpdatedAt),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert job for company %s", companyID)
	}
	return job, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.AnalysisJob) error {
	job.UpdatedAt = time.Now().UTC()
	var completedAt sql.NullInt64
	if job.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: toNanos(*job.CompletedAt), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE analysis_jobs SET status = ?, progress = ?, message = ?, error = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		string(job.Status), job.Progress, job.Message, job.Error, toNanos(job.UpdatedAt), completedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	return checkRowsAffected(res, "job", job.ID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobCols+` FROM analysis_jobs WHERE id = ?`, jobID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", jobID)
	}
	return job, nil
}

func (s *SQLiteStore) LatestJob(ctx context.Context, companyID string) (*model.AnalysisJob, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteJobCols+` FROM analysis_jobs WHERE company_id = ? ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		companyID,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest job for company %s", companyID)
	}
	return job, nil
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.AnalysisJob, error) {
	var conds []string
	var args []any
	if filter.CompanyID != "" {
		conds = append(conds, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, toNanos(filter.CreatedAfter))
	}

	query := `SELECT ` + sqliteJobCols + ` FROM analysis_jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	args = append(args, jobLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

// --- Snapshots ---

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	prepareSnapshot(snap)
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, company_id, job_id, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.CompanyID, snap.JobID, string(data), toNanos(snap.CreatedAt),
	)
	return eris.Wrapf(err, "sqlite: insert snapshot for company %s", snap.CompanyID)
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context, companyID string) (*model.Snapshot, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM snapshots WHERE company_id = ? ORDER BY created_at DESC, seq DESC LIMIT 1`,
		companyID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: latest snapshot for company %s", companyID)
	}
	var snap model.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot")
	}
	return &snap, nil
}

// --- Activity ---

const sqliteActivityCols = `seq, id, company_id, job_id, agent_id, agent_name, thread_id, activity_type, call_id, tool_name, tool_input, tool_output, error_message, execution_time_ms, status, ts, metadata`

func (s *SQLiteStore) AppendActivity(ctx context.Context, ev *model.ActivityEvent) error {
	prepareActivity(ev)
	var meta sql.NullString
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal activity metadata")
		}
		meta = sql.NullString{String: string(b), Valid: true}
	}
	var execMs sql.NullInt64
	if ev.ExecutionTimeMs != nil {
		execMs = sql.NullInt64{Int64: *ev.ExecutionTimeMs, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_events (id, company_id, job_id, agent_id, agent_name, thread_id, activity_type, call_id, tool_name, tool_input, tool_output, error_message, execution_time_ms, status, ts, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.CompanyID, ev.JobID, string(ev.AgentID), ev.AgentName, ev.ThreadID,
		string(ev.Type), string(ev.CallID), ev.ToolName, ev.ToolInput, ev.ToolOutput,
		ev.ErrorMessage, execMs, string(ev.Status), toNanos(ev.Timestamp), meta,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert activity %s for agent %s", ev.Type, ev.AgentID)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return eris.Wrap(err, "sqlite: activity seq")
	}
	ev.Seq = seq
	return nil
}

func (s *SQLiteStore) ListActivity(ctx context.Context, filter ActivityFilter) ([]model.ActivityEvent, error) {
	query := `SELECT ` + sqliteActivityCols + ` FROM activity_events WHERE company_id = ? AND job_id = ?`
	args := []any{filter.CompanyID, filter.JobID}

	if filter.AgentID != "" {
		query += ` AND agent_id = ?`
		args = append(args, string(filter.AgentID))
	}
	if len(filter.Types) > 0 {
		placeholders := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND activity_type IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if filter.Descending {
		query += ` ORDER BY ts DESC, seq DESC`
	} else {
		query += ` ORDER BY ts ASC, seq ASC`
	}
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list activity")
	}
	defer rows.Close() //nolint:errcheck

	var events []model.ActivityEvent
	for rows.Next() {
		ev, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list activity iterate")
}

func (s *SQLiteStore) CountActivity(ctx context.Context, typ model.ActivityType, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM activity_events WHERE activity_type = ? AND ts >= ?`,
		string(typ), toNanos(since),
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: count activity %s", typ)
	}
	return n, nil
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func scanJob(row scannable) (*model.AnalysisJob, error) {
	var j model.AnalysisJob
	var status string
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64

	if err := row.Scan(&j.ID, &j.CompanyID, &status, &j.Progress, &j.Message, &j.Error,
		&createdAt, &updatedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Status = model.JobStatus(status)
	j.CreatedAt = fromNanos(createdAt)
	j.UpdatedAt = fromNanos(updatedAt)
	if completedAt.Valid {
		t := fromNanos(completedAt.Int64)
		j.CompletedAt = &t
	}
	return &j, nil
}

func scanActivity(row scannable) (*model.ActivityEvent, error) {
	var ev model.ActivityEvent
	var agentID, typ, callID, status string
	var execMs sql.NullInt64
	var ts int64
	var meta sql.NullString

	if err := row.Scan(&ev.Seq, &ev.ID, &ev.CompanyID, &ev.JobID, &agentID, &ev.AgentName,
		&ev.ThreadID, &typ, &callID, &ev.ToolName, &ev.ToolInput, &ev.ToolOutput,
		&ev.ErrorMessage, &execMs, &status, &ts, &meta); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan activity")
	}
	ev.AgentID = model.AgentID(agentID)
	ev.Type = model.ActivityType(typ)
	ev.CallID = model.CallID(callID)
	ev.Status = model.ActivityStatus(status)
	ev.Timestamp = fromNanos(ts)
	if execMs.Valid {
		v := execMs.Int64
		ev.ExecutionTimeMs = &v
	}
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &ev.Metadata); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal activity metadata")
		}
	}
	return &ev, nil
}
