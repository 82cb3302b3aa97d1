package entree

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"

	"github.com/goliatone/go-errors"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
)

//go:embed data/sql/migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "data/sql/migrations"

// MigrationsTable records which authority migrations ran
const MigrationsTable = "goose_db_version"

// GetMigrationsFS returns the migration files for this package
func GetMigrationsFS() embed.FS {
	return migrationsFS
}

// Migrate applies every pending migration to db. It keeps no global goose
// state, so it is safe to call next to other goose users.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := MigrateWithResults(ctx, db)
	return err
}

// MigrateWithResults is Migrate, also returning the migrations it applied
func MigrateWithResults(ctx context.Context, db *sql.DB) ([]*goose.MigrationResult, error) {
	fsys, err := fs.Sub(migrationsFS, migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to open migrations")
	}

	store, err := database.NewStore(database.DialectSQLite3, MigrationsTable)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create migration store")
	}

	provider, err := goose.NewProvider("", db, fsys, goose.WithStore(store))
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create migration provider")
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to run migrations")
	}
	return results, nil
}
