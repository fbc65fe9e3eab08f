package migration

import "embed"

const migrationsDir = "migrations/postgres"

//go:embed migrations/postgres/*.sql
var embeddedMigrations embed.FS

//go:embed migrations/sqlite/schema.sql
var sqliteSchema string
