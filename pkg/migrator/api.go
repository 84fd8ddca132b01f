package migrator

import (
	"context"
	"database/sql"
	"fmt"
	"os"
)

// Migrate reads a schema file and applies it to the database in one
// operation. This is the recommended high-level API for most applications.
//
// The function is idempotent - safe to call on every application startup.
// An unchanged schema file is skipped without introspecting the database.
//
//	if err := migrator.Migrate(ctx, db, "schema.loam"); err != nil {
//	    log.Fatalf("migration failed: %v", err)
//	}
//
// For embedded schemas, use MigrateFromString. For dry-run or forced runs,
// use MigrateWithOptions.
func Migrate(ctx context.Context, db *sql.DB, schemaPath string) error {
	_, err := MigrateWithOptions(ctx, db, schemaPath, MigrateOptions{})
	return err
}

// MigrateFromString applies schema source to the database.
//
//	//go:embed schema.loam
//	var embeddedSchema string
//
//	err := migrator.MigrateFromString(ctx, db, embeddedSchema)
func MigrateFromString(ctx context.Context, db *sql.DB, source string) error {
	_, err := NewMigrator(db, nil).Migrate(ctx, source, MigrateOptions{})
	return err
}

// MigrateWithOptions reads a schema file and migrates with control over
// dry-run and skip behavior. It returns skipped=true when the file matches
// the last successful migration and neither Force nor DryRun is set.
//
// Example: write the migration script without applying it
//
//	var buf bytes.Buffer
//	_, err := migrator.MigrateWithOptions(ctx, db, "schema.loam", migrator.MigrateOptions{
//	    DryRun: &buf,
//	})
func MigrateWithOptions(ctx context.Context, db *sql.DB, schemaPath string, opts MigrateOptions) (skipped bool, err error) {
	content, err := os.ReadFile(schemaPath) //nolint:gosec // path is from trusted source
	if err != nil {
		return false, fmt.Errorf("reading schema file: %w", err)
	}
	if opts.Name == "" {
		opts.Name = schemaPath
	}
	res, err := NewMigrator(db, nil).Migrate(ctx, string(content), opts)
	if err != nil {
		return false, err
	}
	return res.Skipped, nil
}
