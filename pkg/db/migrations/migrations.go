package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is populated by the init functions of this package.
var Migrations = migrate.NewMigrations()
