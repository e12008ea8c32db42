package knowledge

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/diligence-cli/internal/store"
)

func newTestSQLiteIndex(t *testing.T) *SQLiteIndex {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "knowledge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	idx := NewSQLiteIndex(db)
	require.NoError(t, idx.Migrate(context.Background()))
	return idx
}

func TestSQLiteIndex_AddIsIdempotent(t *testing.T) {
	idx := newTestSQLiteIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "k", "old text", []string{"finance"}))
	require.NoError(t, idx.Add(ctx, "acme", "k", "new text", []string{"market"}))

	hits, err := idx.Search(ctx, "acme", "text", nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new text", hits[0].Text)
	assert.Equal(t, []string{"market"}, hits[0].Filters)
}

func TestSQLiteIndex_SearchRequiresAllFilters(t *testing.T) {
	idx := newTestSQLiteIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "finance_profile", "revenue $400k", []string{"finance", "company_profile"}))
	require.NoError(t, idx.Add(ctx, "acme", "market_profile", "tam $10B revenue", []string{"market", "company_profile"}))
	require.NoError(t, idx.Add(ctx, "acme", "baseline", "everything revenue", []string{"baseline", "company_profile"}))

	hits, err := idx.Search(ctx, "acme", "revenue", []string{"finance", "company_profile"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "finance_profile", hits[0].Key)

	hits, err = idx.Search(ctx, "acme", "revenue", []string{"company_profile"}, 5)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func TestSQLiteIndex_SearchRanksAndLimits(t *testing.T) {
	idx := newTestSQLiteIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "a", "team hiring", nil))
	require.NoError(t, idx.Add(ctx, "acme", "b", "burn rate burn multiple", nil))
	require.NoError(t, idx.Add(ctx, "acme", "c", "burn", nil))

	hits, err := idx.Search(ctx, "acme", "burn", nil, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].Key)
	assert.Equal(t, "c", hits[1].Key)
}

func TestSQLiteIndex_NamespacesAreIsolated(t *testing.T) {
	idx := newTestSQLiteIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Add(ctx, "acme", "k", "acme text", nil))
	require.NoError(t, idx.Add(ctx, "globex", "k", "globex text", nil))

	require.NoError(t, idx.DeleteNamespace(ctx, "acme"))

	hits, err := idx.Search(ctx, "acme", "text", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = idx.Search(ctx, "globex", "text", nil, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "globex text", hits[0].Text)
}
