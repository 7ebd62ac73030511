package db

import (
	"context"
	"fmt"

	"github.com/quatton/apsflow/pkg/db/migrations"
	"github.com/quatton/apsflow/pkg/qlog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

// Migrate applies pending ledger migrations.
func Migrate(ctx context.Context, db *bun.DB, logger *qlog.Logger) error {
	logger = qlog.OrDefault(logger)
	migrator := migrate.NewMigrator(db, migrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}

	if group.IsZero() {
		logger.Info("database is up to date")
		return nil
	}

	logger.Info("migrated", "group", group.String())
	return nil
}

// Rollback reverts the last migration group.
func Rollback(ctx context.Context, db *bun.DB, logger *qlog.Logger) error {
	logger = qlog.OrDefault(logger)
	migrator := migrate.NewMigrator(db, migrations.Migrations)

	group, err := migrator.Rollback(ctx)
	if err != nil {
		return fmt.Errorf("failed to roll back: %w", err)
	}
	if group.IsZero() {
		logger.Info("nothing to roll back")
		return nil
	}
	logger.Info("rolled back", "group", group.String())
	return nil
}
