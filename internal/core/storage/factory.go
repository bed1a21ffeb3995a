// Package storage builds the configured storage engine.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"

	"github.com/syntrixbase/docstore/internal/core/storage/config"
	"github.com/syntrixbase/docstore/internal/core/storage/memory"
	"github.com/syntrixbase/docstore/internal/core/storage/mongo"
	"github.com/syntrixbase/docstore/internal/core/storage/pebble"
	"github.com/syntrixbase/docstore/internal/core/storage/postgres"
	"github.com/syntrixbase/docstore/internal/core/storage/types"
)

// Dependency injection for testing
var newMongoProvider = mongo.NewProvider

// Dependency injection for postgres
var newPostgresDB = func(cfg postgres.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	return db, nil
}

// NewEngine opens the engine selected by cfg.Backend.
func NewEngine(ctx context.Context, cfg config.Config, logger *slog.Logger) (types.Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Backend {
	case config.BackendMemory:
		logger.Warn("Using in-memory storage engine; data is lost on shutdown")
		return memory.NewEngine(), nil
	case config.BackendPebble:
		return pebble.NewEngine(cfg.Pebble, logger)
	case config.BackendMongo:
		provider, err := newMongoProvider(ctx, cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		engine, err := mongo.NewEngine(ctx, provider, cfg.Mongo)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, err
		}
		logger.Info("Connected to mongo", "database", cfg.Mongo.DatabaseName)
		return engine, nil
	case config.BackendPostgres:
		db, err := newPostgresDB(cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ping postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to ensure postgres schema: %w", err)
		}
		logger.Info("Connected to postgres")
		return postgres.NewEngine(db), nil
	default:
		return nil, fmt.Errorf("unknown storage backend '%s'", cfg.Backend)
	}
}
