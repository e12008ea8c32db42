package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/diligence-cli/internal/knowledge"
	"github.com/sells-group/diligence-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "diligence.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initKnowledge returns the search index sharing the store's database.
func initKnowledge(st store.Store) (knowledge.Index, error) {
	switch s := st.(type) {
	case *store.SQLiteStore:
		return knowledge.NewSQLiteIndex(s.DB()), nil
	case *store.PostgresStore:
		return knowledge.NewPostgresIndex(s.Pool()), nil
	default:
		return nil, eris.Errorf("no knowledge index for store %T", st)
	}
}

// openStore opens and migrates the store and the knowledge index.
func openStore(ctx context.Context) (store.Store, knowledge.Index, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate store")
	}
	idx, err := initKnowledge(st)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	if err := idx.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, nil, eris.Wrap(err, "migrate knowledge index")
	}
	return st, idx, nil
}
