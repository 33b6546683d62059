package migrations

import "github.com/uptrace/bun/migrate"

// Migrations is discovered from the files in this package; each file name is its version.
var Migrations = migrate.NewMigrations()
