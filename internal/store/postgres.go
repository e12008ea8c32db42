package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/db"
	"github.com/sells-group/diligence-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgInsertJob = `INSERT INTO analysis_jobs (id, company_id, status, progress, message, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	pgUpdateJob = `UPDATE analysis_jobs SET status = $1, progress = $2, message = $3, error = $4, updated_at = $5, completed_at = $6 WHERE id = $7`
	pgJobCols   = `id, company_id, status, progress, message, error, created_at, updated_at, completed_at`
	pgLatestJob = `SELECT ` + pgJobCols + ` FROM analysis_jobs WHERE company_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`

	pgInsertActivity = `INSERT INTO activity_events (id, company_id, job_id, agent_id, agent_name, thread_id, activity_type, call_id, tool_name, tool_input, tool_output, error_message, execution_time_ms, status, ts, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16) RETURNING seq`
	pgActivityCols = `seq, id, company_id, job_id, agent_id, agent_name, thread_id, activity_type, call_id, tool_name, tool_input, tool_output, error_message, execution_time_ms, status, ts, metadata`

	pgInsertSnapshot = `INSERT INTO snapshots (id, company_id, job_id, data, created_at) VALUES ($1, $2, $3, $4, $5)`
	pgLatestSnapshot = `SELECT data FROM snapshots WHERE company_id = $1 ORDER BY created_at DESC, seq DESC LIMIT 1`
)

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"insert_job":      pgInsertJob,
	"update_job":      pgUpdateJob,
	"latest_job":      pgLatestJob,
	"insert_activity": pgInsertActivity,
	"insert_snapshot": pgInsertSnapshot,
	"latest_snapshot": pgLatestSnapshot,
}

var companyUpsert = db.UpsertConfig{
	Table:        "companies",
	Columns:      []string{"id", "data", "created_at", "updated_at"},
	ConflictKeys: []string{"id"},
	UpdateCols:   []string{"data", "updated_at"},
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that share the
// connection (the knowledge index).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS analysis_jobs (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'queued',
	progress     INTEGER NOT NULL DEFAULT 0,
	message      TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_analysis_jobs_company_created ON analysis_jobs(company_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analysis_jobs_status ON analysis_jobs(status);

CREATE TABLE IF NOT EXISTS snapshots (
	seq        BIGSERIAL PRIMARY KEY,
	id         TEXT NOT NULL UNIQUE,
	company_id TEXT NOT NULL,
	job_id     TEXT NOT NULL,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_snapshots_company_created ON snapshots(company_id, created_at DESC);

CREATE TABLE IF NOT EXISTS activity_events (
	seq               BIGSERIAL PRIMARY KEY,
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
	execution_time_ms BIGINT,
	status            TEXT NOT NULL,
	ts                TIMESTAMPTZ NOT NULL DEFAULT now(),
	metadata          JSONB
);

CREATE INDEX IF NOT EXISTS idx_activity_company_job_ts ON activity_events(company_id, job_id, ts);
CREATE INDEX IF NOT EXISTS idx_activity_agent_type ON activity_events(agent_id, activity_type);
CREATE INDEX IF NOT EXISTS idx_activity_type_ts ON activity_events(activity_type, ts);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Companies ---

func (s *PostgresStore) UpsertCompany(ctx context.Context, company *model.Company) error {
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
		return eris.Wrap(err, "postgres: marshal company")
	}
	if err := db.Upsert(ctx, s.pool, companyUpsert, company.ID, data, company.CreatedAt, company.UpdatedAt); err != nil {
		return eris.Wrapf(err, "postgres: upsert company %s", company.ID)
	}
	return nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	var data []byte
	var createdAt, updatedAt time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT data, created_at, updated_at FROM companies WHERE id = $1`,
		companyID,
	).Scan(&data, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "company %s", companyID)
		}
		return nil, eris.Wrapf(err, "postgres: get company %s", companyID)
	}

	var c model.Company
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal company")
	}
	c.ID = companyID
	c.CreatedAt = createdAt
	c.UpdatedAt = updatedAt
	return &c, nil
}

// DeleteCompany removes a company together with its jobs, snapshots, and
// activity in one transaction.
func (s *PostgresStore) DeleteCompany(ctx context.Context, companyID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: delete company: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, table := range []string{"activity_events", "snapshots", "analysis_jobs"} {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE company_id = $1`, table), companyID); err != nil {
			return eris.Wrapf(err, "postgres: delete %s for company %s", table, companyID)
		}
	}
	tag, err := tx.Exec(ctx, `DELETE FROM companies WHERE id = $1`, companyID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete company %s", companyID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "company %s", companyID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: delete company: commit tx")
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, companyID string) (*model.AnalysisJob, error) {
	job := newJob(uuid.New().String(), companyID, time.Now().UTC())
	_, err := s.pool.Exec(ctx, pgInsertJob,
		job.ID, job.CompanyID, string(job.Status), job.Progress, job.Message, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert job for company %s", companyID)
	}
	return job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.AnalysisJob) error {
	job.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, pgUpdateJob,
		string(job.Status), job.Progress, job.Message, job.Error, job.UpdatedAt, job.CompletedAt, job.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", job.ID)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.AnalysisJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx,
		`SELECT `+pgJobCols+` FROM analysis_jobs WHERE id = $1`, jobID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "job %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}
	return job, nil
}

func (s *PostgresStore) LatestJob(ctx context.Context, companyID string) (*model.AnalysisJob, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, pgLatestJob, companyID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest job for company %s", companyID)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.AnalysisJob, error) {
	query := `SELECT ` + pgJobCols + ` FROM analysis_jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyID != "" {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, filter.CompanyID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, jobLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.AnalysisJob
	for rows.Next() {
		job, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *job)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func scanPgJob(row scannable) (*model.AnalysisJob, error) {
	var j model.AnalysisJob
	if err := row.Scan(&j.ID, &j.CompanyID, &j.Status, &j.Progress, &j.Message, &j.Error,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Snapshots ---

func (s *PostgresStore) SaveSnapshot(ctx context.Context, snap *model.Snapshot) error {
	prepareSnapshot(snap)
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}
	if _, err := s.pool.Exec(ctx, pgInsertSnapshot, snap.ID, snap.CompanyID, snap.JobID, data, snap.CreatedAt); err != nil {
		return eris.Wrapf(err, "postgres: insert snapshot for company %s", snap.CompanyID)
	}
	return nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, companyID string) (*model.Snapshot, error) {
	var data []byte
	if err := s.pool.QueryRow(ctx, pgLatestSnapshot, companyID).Scan(&data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: latest snapshot for company %s", companyID)
	}
	var snap model.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
	}
	return &snap, nil
}

// --- Activity ---

func (s *PostgresStore) AppendActivity(ctx context.Context, ev *model.ActivityEvent) error {
	prepareActivity(ev)
	var meta []byte
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal activity metadata")
		}
		meta = b
	}

	err := s.pool.QueryRow(ctx, pgInsertActivity,
		ev.ID, ev.CompanyID, ev.JobID, string(ev.AgentID), ev.AgentName, ev.ThreadID,
		string(ev.Type), string(ev.CallID), ev.ToolName, ev.ToolInput, ev.ToolOutput,
		ev.ErrorMessage, ev.ExecutionTimeMs, string(ev.Status), ev.Timestamp, meta,
	).Scan(&ev.Seq)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert activity %s for agent %s", ev.Type, ev.AgentID)
	}
	return nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, filter ActivityFilter) ([]model.ActivityEvent, error) {
	query := `SELECT ` + pgActivityCols + ` FROM activity_events WHERE company_id = $1 AND job_id = $2`
	args := []any{filter.CompanyID, filter.JobID}
	argIdx := 3

	if filter.AgentID != "" {
		query += fmt.Sprintf(` AND agent_id = $%d`, argIdx)
		args = append(args, string(filter.AgentID))
		argIdx++
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		query += fmt.Sprintf(` AND activity_type = ANY($%d)`, argIdx)
		args = append(args, types)
		argIdx++
	}
	if filter.Descending {
		query += ` ORDER BY ts DESC, seq DESC`
	} else {
		query += ` ORDER BY ts ASC, seq ASC`
	}
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list activity")
	}
	defer rows.Close()

	var events []model.ActivityEvent
	for rows.Next() {
		var ev model.ActivityEvent
		var meta []byte
		if err := rows.Scan(&ev.Seq, &ev.ID, &ev.CompanyID, &ev.JobID, &ev.AgentID, &ev.AgentName,
			&ev.ThreadID, &ev.Type, &ev.CallID, &ev.ToolName, &ev.ToolInput, &ev.ToolOutput,
			&ev.ErrorMessage, &ev.ExecutionTimeMs, &ev.Status, &ev.Timestamp, &meta); err != nil {
			return nil, eris.Wrap(err, "postgres: scan activity")
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &ev.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal activity metadata")
			}
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list activity iterate")
}

func (s *PostgresStore) CountActivity(ctx context.Context, typ model.ActivityType, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM activity_events WHERE activity_type = $1 AND ts >= $2`,
		string(typ), since,
	).Scan(&n)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: count activity %s", typ)
	}
	return n, nil
}
