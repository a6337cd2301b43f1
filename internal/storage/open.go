// Package storage selects and opens the configured relational backend.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/harmony-crawler/internal/config"
	"github.com/JakeFAU/harmony-crawler/internal/storage/postgres"
	"github.com/JakeFAU/harmony-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/harmony-crawler/internal/store"
)

// Open connects the backend named by cfg.Driver and ensures its schema exists.
func Open(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Driver {
	case config.DriverSQLite:
		s, err = sqlite.Open(cfg.SQLitePath, logger)
	case config.DriverPostgres:
		s, err = postgres.New(ctx, postgresConfig(cfg), logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s store: %w", cfg.Driver, err)
	}
	return s, nil
}

func postgresConfig(cfg config.StoreConfig) postgres.Config {
	return postgres.Config{
		DSN:             cfg.DSN,
		MaxConns:        cfg.MaxConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
	}
}
