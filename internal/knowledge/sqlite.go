package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// SQLiteIndex implements Index on a SQLite table. Ranking is term-frequency
// scoring computed in Go over the namespace's rows.
type SQLiteIndex struct {
	db *sql.DB
}

// NewSQLiteIndex uses an already-open handle, typically the store's.
func NewSQLiteIndex(db *sql.DB) *SQLiteIndex {
	return &SQLiteIndex{db: db}
}

const sqliteIndexMigration = `
CREATE TABLE IF NOT EXISTS knowledge_chunks (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	body       TEXT NOT NULL,
	filters    TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (namespace, key)
);
`

func (s *SQLiteIndex) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteIndexMigration)
	return eris.Wrap(err, "knowledge: sqlite migrate")
}

func (s *SQLiteIndex) Add(ctx context.Context, namespace, key, text string, filters []string) error {
	if filters == nil {
		filters = []string{}
	}
	tags, err := json.Marshal(filters)
	if err != nil {
		return eris.Wrap(err, "knowledge: marshal filters")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_chunks (namespace, key, body, filters, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE SET body = excluded.body, filters = excluded.filters, updated_at = excluded.updated_at`,
		namespace, key, text, string(tags), time.Now().UTC().UnixNano(),
	)
	return eris.Wrapf(err, "knowledge: add %s/%s", namespace, key)
}

func (s *SQLiteIndex) Search(ctx context.Context, namespace, query string, filters []string, topK int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, body, filters FROM knowledge_chunks WHERE namespace = ?`, namespace)
	if err != nil {
		return nil, eris.Wrapf(err, "knowledge: search %s", namespace)
	}
	defer rows.Close() //nolint:errcheck

	var hits []Hit
	for rows.Next() {
		var h Hit
		var tags string
		if err := rows.Scan(&h.Key, &h.Text, &tags); err != nil {
			return nil, eris.Wrap(err, "knowledge: scan chunk")
		}
		if err := json.Unmarshal([]byte(tags), &h.Filters); err != nil {
			return nil, eris.Wrapf(err, "knowledge: unmarshal filters for %s", h.Key)
		}
		if !hasAll(h.Filters, filters) {
			continue
		}
		h.Score = termScore(query, h.Text)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "knowledge: iterate chunks")
	}
	return rank(hits, topK), nil
}

func (s *SQLiteIndex) DeleteNamespace(ctx context.Context, namespace string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM knowledge_chunks WHERE namespace = ?`, namespace)
	return eris.Wrapf(err, "knowledge: delete namespace %s", namespace)
}
