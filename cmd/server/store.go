package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-oauth-engine/internal/config"
	"github.com/jrsteele09/go-oauth-engine/store"
	"github.com/jrsteele09/go-oauth-engine/store/boltstore"
	"github.com/jrsteele09/go-oauth-engine/store/memory"
	"github.com/jrsteele09/go-oauth-engine/store/sqlstore"
)

// openStore opens the credential store backend named by cfg.
func openStore(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (store.Store, error) {
	logger = logger.With().Str("store", string(cfg.GetStoreType())).Logger()
	switch cfg.GetStoreType() {
	case config.StoreMemory:
		return memory.New(memory.WithLogger(logger)), nil
	case config.StoreBolt:
		st, err := boltstore.Open(cfg.GetStorePath(), boltstore.WithLogger(logger))
		if err != nil {
			return nil, errors.Wrap(err, "[openStore] bolt")
		}
		return st, nil
	case config.StoreSQLite:
		return openSQL(ctx, sqlstore.SQLite, cfg.GetStoreDSN(), logger)
	case config.StorePostgres:
		return openSQL(ctx, sqlstore.Postgres, cfg.GetStoreDSN(), logger)
	case config.StoreMySQL:
		return openSQL(ctx, sqlstore.MySQL, cfg.GetStoreDSN(), logger)
	default:
		return nil, errors.Errorf("[openStore] unknown store type %q", cfg.GetStoreType())
	}
}

func openSQL(ctx context.Context, dialect sqlstore.Dialect, dsn string, logger zerolog.Logger) (store.Store, error) {
	st, err := sqlstore.Open(ctx, dialect, dsn, sqlstore.WithLogger(logger))
	if err != nil {
		return nil, errors.Wrapf(err, "[openStore] %s", dialect)
	}
	return st, nil
}
