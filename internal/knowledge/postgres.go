package knowledge

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/db"
)

// PostgresIndex implements Index with a generated tsvector column for
// ranking and a text[] column for filter containment.
type PostgresIndex struct {
	pool db.Pool
}

// NewPostgresIndex shares the store's pool.
func NewPostgresIndex(pool db.Pool) *PostgresIndex {
	return &PostgresIndex{pool: pool}
}

const postgresIndexMigration = `
CREATE TABLE IF NOT EXISTS knowledge_chunks (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	body       TEXT NOT NULL,
	filters    TEXT[] NOT NULL DEFAULT '{}',
	tsv        TSVECTOR GENERATED ALWAYS AS (to_tsvector('english', body)) STORED,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (namespace, key)
);

CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_tsv ON knowledge_chunks USING GIN (tsv);
CREATE INDEX IF NOT EXISTS idx_knowledge_chunks_filters ON knowledge_chunks USING GIN (filters);
`

var chunkUpsert = db.UpsertConfig{
	Table:        "knowledge_chunks",
	Columns:      []string{"namespace", "key", "body", "filters", "updated_at"},
	ConflictKeys: []string{"namespace", "key"},
}

// Chunks without any query term still come back, ranked last, so a vague
// query against a small namespace returns the profile slices.
const pgSearch = `SELECT key, body, filters, ts_rank(tsv, plainto_tsquery('english', $2)) AS score
	FROM knowledge_chunks
	WHERE namespace = $1 AND filters @> $3
	ORDER BY score DESC, key
	LIMIT $4`

func (p *PostgresIndex) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresIndexMigration)
	return eris.Wrap(err, "knowledge: postgres migrate")
}

func (p *PostgresIndex) Add(ctx context.Context, namespace, key, text string, filters []string) error {
	if filters == nil {
		filters = []string{}
	}
	err := db.Upsert(ctx, p.pool, chunkUpsert, namespace, key, text, filters, time.Now().UTC())
	return eris.Wrapf(err, "knowledge: add %s/%s", namespace, key)
}

func (p *PostgresIndex) Search(ctx context.Context, namespace, query string, filters []string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if filters == nil {
		filters = []string{}
	}
	rows, err := p.pool.Query(ctx, pgSearch, namespace, query, filters, topK)
	if err != nil {
		return nil, eris.Wrapf(err, "knowledge: search %s", namespace)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var score float32
		if err := rows.Scan(&h.Key, &h.Text, &h.Filters, &score); err != nil {
			return nil, eris.Wrap(err, "knowledge: scan chunk")
		}
		h.Score = float64(score)
		hits = append(hits, h)
	}
	return hits, eris.Wrap(rows.Err(), "knowledge: iterate chunks")
}

func (p *PostgresIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM knowledge_chunks WHERE namespace = $1`, namespace)
	return eris.Wrapf(err, "knowledge: delete namespace %s", namespace)
}
